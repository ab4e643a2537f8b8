// Package config loads engine settings from an optional YAML file with
// environment overrides and validates them.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         string `yaml:"port"`
		OwnerAPIKey  string `yaml:"owner_api_key"`
		WatcherToken string `yaml:"watcher_token"`
		LogLevel     string `yaml:"log_level"`
	} `yaml:"server"`
	DB struct {
		URL string `yaml:"url"`
	} `yaml:"db"`
	Redis struct {
		URL             string `yaml:"url"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`
	NATS struct {
		URL     string `yaml:"url"`
		Stream  string `yaml:"stream"`
		Subject string `yaml:"subject"`
		Durable string `yaml:"durable"`
	} `yaml:"nats"`
	Chain struct {
		RPCTimeoutSeconds    int              `yaml:"rpc_timeout_seconds"`
		RPCFailoverThreshold int              `yaml:"rpc_failover_threshold"`
		Assets               map[string]Asset `yaml:"assets"`
	} `yaml:"chain"`
	Settlement struct {
		MaxVerifyAttempts    int   `yaml:"max_verify_attempts"`
		RetryDelaySeconds    int   `yaml:"retry_delay_seconds"`
		PreCheckDelaySeconds int   `yaml:"pre_check_delay_seconds"`
		DefaultFeeBps        int64 `yaml:"default_fee_bps"`
	} `yaml:"settlement"`
	Rates struct {
		DefaultNGNRate  float64 `yaml:"default_ngn_rate"`
		MarginPercent   float64 `yaml:"margin_percent"`
		CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
		BinanceURL      string  `yaml:"binance_url"`
		CoinGeckoURL    string  `yaml:"coingecko_url"`
	} `yaml:"rates"`
	Orders struct {
		ExpiryMinutes        int `yaml:"expiry_minutes"`
		SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	} `yaml:"orders"`
	Paystack struct {
		Mode           string `yaml:"mode"`
		BaseURL        string `yaml:"base_url"`
		SecretKey      string `yaml:"secret_key"`
		WebhookSecret  string `yaml:"webhook_secret"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"paystack"`
}

// Asset is the per-token chain configuration.
type Asset struct {
	TokenContract    string   `yaml:"token_contract"`
	Decimals         int32    `yaml:"decimals"`
	RPCEndpoints     []string `yaml:"rpc_endpoints"`
	DepositAddress   string   `yaml:"deposit_address"`
	MinConfirmations int64    `yaml:"min_confirmations"`
}

// envPrefix maps asset ids to the prefix of their environment overrides.
var envPrefix = map[string]string{
	"cUSD_CELO":    "CELO",
	"USDC_BASE":    "BASE",
	"USDCX_STACKS": "STACKS",
}

// Default returns a configuration with every knob set to its default.
func Default() *Config {
	var cfg Config
	cfg.Server.Port = "8787"
	cfg.Server.LogLevel = "info"
	cfg.Redis.CacheTTLSeconds = 30
	cfg.NATS.Stream = "OFFRAMP_DEPOSITS"
	cfg.NATS.Subject = "offramp.deposits.>"
	cfg.NATS.Durable = "settlement-engine"
	cfg.Chain.RPCTimeoutSeconds = 10
	cfg.Chain.RPCFailoverThreshold = 3
	cfg.Chain.Assets = map[string]Asset{
		"cUSD_CELO": {
			TokenContract:    "0x765DE816845861e75A25fCA122bb6898B8B1282a",
			Decimals:         18,
			RPCEndpoints:     []string{"https://forno.celo.org"},
			MinConfirmations: 3,
		},
		"USDC_BASE": {
			TokenContract:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Decimals:         6,
			RPCEndpoints:     []string{"https://mainnet.base.org"},
			MinConfirmations: 3,
		},
		"USDCX_STACKS": {
			Decimals:         6,
			MinConfirmations: 1,
		},
	}
	cfg.Settlement.MaxVerifyAttempts = 3
	cfg.Settlement.RetryDelaySeconds = 5
	cfg.Settlement.PreCheckDelaySeconds = 3
	cfg.Settlement.DefaultFeeBps = 150
	cfg.Rates.DefaultNGNRate = 1500
	cfg.Rates.MarginPercent = 3
	cfg.Rates.CacheTTLSeconds = 60
	cfg.Rates.BinanceURL = "https://api.binance.com/api/v3/ticker/price?symbol=USDTNGN"
	cfg.Rates.CoinGeckoURL = "https://api.coingecko.com/api/v3/simple/price?ids=tether&vs_currencies=ngn"
	cfg.Orders.ExpiryMinutes = 30
	cfg.Orders.SweepIntervalSeconds = 60
	cfg.Paystack.Mode = "mock"
	cfg.Paystack.BaseURL = "https://api.paystack.co"
	cfg.Paystack.TimeoutSeconds = 15
	return &cfg
}

// Load reads the YAML file at path (or CONFIG_PATH, or configs/config.yaml)
// over the defaults. A missing file is not an error; environment variables
// are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		defaults := cfg.Chain.Assets
		cfg.Chain.Assets = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.Chain.Assets = mergeAssets(defaults, cfg.Chain.Assets)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and required combinations.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Settlement.DefaultFeeBps < 0 || c.Settlement.DefaultFeeBps > 10000 {
		return errors.New("settlement.default_fee_bps must be within 0..10000")
	}
	if c.Settlement.MaxVerifyAttempts < 1 {
		return errors.New("settlement.max_verify_attempts must be at least 1")
	}
	if c.Settlement.RetryDelaySeconds < 0 || c.Settlement.PreCheckDelaySeconds < 0 {
		return errors.New("settlement delays must not be negative")
	}
	if c.Rates.DefaultNGNRate <= 0 {
		return errors.New("rates.default_ngn_rate must be positive")
	}
	if c.Rates.MarginPercent < 0 || c.Rates.MarginPercent >= 100 {
		return errors.New("rates.margin_percent must be within 0..100")
	}
	if c.Chain.RPCTimeoutSeconds <= 0 {
		return errors.New("chain.rpc_timeout_seconds must be positive")
	}
	for name, a := range c.Chain.Assets {
		if _, ok := envPrefix[name]; !ok {
			return fmt.Errorf("chain.assets: unknown asset %q", name)
		}
		if a.MinConfirmations < 0 {
			return fmt.Errorf("chain.assets.%s.min_confirmations must not be negative", name)
		}
	}
	switch c.Paystack.Mode {
	case "mock":
	case "live":
		if c.Paystack.SecretKey == "" {
			return errors.New("paystack.secret_key is required in live mode")
		}
	default:
		return fmt.Errorf("paystack.mode must be mock or live, got %q", c.Paystack.Mode)
	}
	return nil
}

func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.Chain.RPCTimeoutSeconds) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Settlement.RetryDelaySeconds) * time.Second
}

func (c *Config) PreCheckDelay() time.Duration {
	return time.Duration(c.Settlement.PreCheckDelaySeconds) * time.Second
}

func (c *Config) OrderExpiry() time.Duration {
	return time.Duration(c.Orders.ExpiryMinutes) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Orders.SweepIntervalSeconds) * time.Second
}

func (c *Config) RateCacheTTL() time.Duration {
	return time.Duration(c.Rates.CacheTTLSeconds) * time.Second
}

func (c *Config) StoreCacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) PaystackTimeout() time.Duration {
	return time.Duration(c.Paystack.TimeoutSeconds) * time.Second
}

// VerifyBudget is the longest one deposit check can take: the pre-check
// delay, two RPC calls per attempt and a retry delay between attempts.
func (c *Config) VerifyBudget() time.Duration {
	attempts := c.Settlement.MaxVerifyAttempts
	if attempts < 1 {
		attempts = 1
	}
	return c.PreCheckDelay() +
		time.Duration(attempts)*2*c.RPCTimeout() +
		time.Duration(attempts-1)*c.RetryDelay()
}

// PayoutBudget bounds the work after a settlement is recorded: two
// Paystack calls plus the store writes around them.
func (c *Config) PayoutBudget() time.Duration {
	return 2*c.PaystackTimeout() + 30*time.Second
}

// SettlementDeadline is how long one credited deposit may take end to end.
// HTTP write timeouts and the JetStream ack wait must not be shorter.
func (c *Config) SettlementDeadline() time.Duration {
	return c.VerifyBudget() + c.PayoutBudget()
}

// mergeAssets fills fields the file left empty from the defaults.
func mergeAssets(defaults, file map[string]Asset) map[string]Asset {
	out := make(map[string]Asset, len(defaults))
	for name, a := range defaults {
		out[name] = a
	}
	for name, a := range file {
		base := out[name]
		if a.TokenContract != "" {
			base.TokenContract = a.TokenContract
		}
		if a.Decimals != 0 {
			base.Decimals = a.Decimals
		}
		if len(a.RPCEndpoints) > 0 {
			base.RPCEndpoints = a.RPCEndpoints
		}
		if a.DepositAddress != "" {
			base.DepositAddress = a.DepositAddress
		}
		if a.MinConfirmations != 0 {
			base.MinConfirmations = a.MinConfirmations
		}
		out[name] = base
	}
	return out
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("OWNER_API_KEY"); v != "" {
		cfg.Server.OwnerAPIKey = v
	}
	if v := os.Getenv("WATCHER_AUTH_TOKEN"); v != "" {
		cfg.Server.WatcherToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DB.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("RPC_TIMEOUT_SECONDS"); v != "" {
		cfg.Chain.RPCTimeoutSeconds = atoiOr(cfg.Chain.RPCTimeoutSeconds, v)
	}
	for name, prefix := range envPrefix {
		a := cfg.Chain.Assets[name]
		if v := os.Getenv(prefix + "_RPC_URLS"); v != "" {
			a.RPCEndpoints = splitCommaList(v)
		}
		if v := os.Getenv(prefix + "_DEPOSIT_ADDRESS"); v != "" {
			a.DepositAddress = v
		}
		if v := os.Getenv(prefix + "_MIN_CONFIRMATIONS"); v != "" {
			a.MinConfirmations = atoi64Or(a.MinConfirmations, v)
		}
		cfg.Chain.Assets[name] = a
	}
	if v := os.Getenv("MAX_VERIFY_ATTEMPTS"); v != "" {
		cfg.Settlement.MaxVerifyAttempts = atoiOr(cfg.Settlement.MaxVerifyAttempts, v)
	}
	if v := os.Getenv("VERIFY_RETRY_DELAY_SECONDS"); v != "" {
		cfg.Settlement.RetryDelaySeconds = atoiOr(cfg.Settlement.RetryDelaySeconds, v)
	}
	if v := os.Getenv("VERIFY_PRECHECK_DELAY_SECONDS"); v != "" {
		cfg.Settlement.PreCheckDelaySeconds = atoiOr(cfg.Settlement.PreCheckDelaySeconds, v)
	}
	if v := os.Getenv("DEFAULT_FEE_BPS"); v != "" {
		cfg.Settlement.DefaultFeeBps = atoi64Or(cfg.Settlement.DefaultFeeBps, v)
	}
	if v := os.Getenv("DEFAULT_NGN_RATE"); v != "" {
		cfg.Rates.DefaultNGNRate = atofOr(cfg.Rates.DefaultNGNRate, v)
	}
	if v := os.Getenv("RATE_MARGIN_PCT"); v != "" {
		cfg.Rates.MarginPercent = atofOr(cfg.Rates.MarginPercent, v)
	}
	if v := os.Getenv("ORDER_EXPIRY_MINUTES"); v != "" {
		cfg.Orders.ExpiryMinutes = atoiOr(cfg.Orders.ExpiryMinutes, v)
	}
	if v := os.Getenv("PAYSTACK_MODE"); v != "" {
		cfg.Paystack.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("PAYSTACK_BASE_URL"); v != "" {
		cfg.Paystack.BaseURL = v
	}
	if v := os.Getenv("PAYSTACK_SECRET_KEY"); v != "" {
		cfg.Paystack.SecretKey = v
	}
	if v := os.Getenv("PAYSTACK_WEBHOOK_SECRET"); v != "" {
		cfg.Paystack.WebhookSecret = v
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func atofOr(fallback float64, v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
