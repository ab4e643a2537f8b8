package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/clovapay/offramp-engine/internal/api"
	"github.com/clovapay/offramp-engine/internal/chain"
	"github.com/clovapay/offramp-engine/internal/config"
	"github.com/clovapay/offramp-engine/internal/model"
	"github.com/clovapay/offramp-engine/internal/payout"
	"github.com/clovapay/offramp-engine/internal/quote"
	"github.com/clovapay/offramp-engine/internal/rates"
	"github.com/clovapay/offramp-engine/internal/settlement"
	"github.com/clovapay/offramp-engine/internal/store"
	"github.com/clovapay/offramp-engine/internal/watcher"
	"github.com/clovapay/offramp-engine/internal/worker"
)

const quoteTTL = 5 * time.Minute

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (rate cache, store cache) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.DB.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.DB.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.StoreCacheTTL())
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Chain verification ---
	registry, readers, err := buildChain(ctx, cfg)
	if err != nil {
		slog.Error("chain setup failed", "err", err)
		os.Exit(1)
	}
	verifier := chain.NewVerifier(registry, readers, cfg.RPCTimeout())

	// --- Rates and quoting ---
	var rateCache rates.Cache = rates.NewMemoryCache()
	if rdb != nil {
		rateCache = rates.NewRedisCache(rdb)
	}
	httpClient := &http.Client{Timeout: 10 * time.Second}
	rateSvc := rates.NewService(
		rateCache,
		cfg.RateCacheTTL(),
		decimal.NewFromFloat(cfg.Rates.DefaultNGNRate),
		decimal.NewFromFloat(cfg.Rates.MarginPercent),
		&rates.BinanceSource{URL: cfg.Rates.BinanceURL, Client: httpClient},
		&rates.CoinGeckoSource{URL: cfg.Rates.CoinGeckoURL, Client: httpClient},
	)
	quoter := quote.NewQuoter(rateSvc, cfg.Settlement.DefaultFeeBps, quoteTTL)

	// --- Payout gateway ---
	var gateway payout.Gateway
	mockPayouts := cfg.Paystack.Mode != "live"
	if mockPayouts {
		slog.Warn("PAYSTACK_MODE is mock, payouts will not move money")
		gateway = payout.NewMockGateway()
	} else {
		gateway = payout.NewPaystackClient(cfg.Paystack.SecretKey, cfg.PaystackTimeout(),
			payout.WithBaseURL(cfg.Paystack.BaseURL))
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	// --- Settlement engine ---
	settleDeadline := cfg.SettlementDeadline() + 15*time.Second
	engine := settlement.New(settlement.Deps{
		Store:    st,
		Verifier: verifier,
		Gateway:  gateway,
		Assets:   registry,
		Notifier: wsHub,
		Config: settlement.Config{
			MaxVerifyAttempts: cfg.Settlement.MaxVerifyAttempts,
			RetryDelay:        cfg.RetryDelay(),
			PreCheckDelay:     cfg.PreCheckDelay(),
			DefaultFeeBps:     cfg.Settlement.DefaultFeeBps,
			PayoutTimeout:     cfg.PayoutBudget(),
		},
	})

	// --- NATS deposit feed ---
	if cfg.NATS.URL != "" {
		nc, js, err := watcher.Connect(cfg.NATS.URL)
		if err != nil {
			slog.Error("nats connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, nc.Close)
		if err := watcher.EnsureStream(ctx, js, cfg.NATS.Stream, cfg.NATS.Subject); err != nil {
			slog.Error("ensure deposit stream failed", "err", err)
			os.Exit(1)
		}
		sub := watcher.NewSubscriber(js, engine, registry, watcher.Config{
			Stream:         cfg.NATS.Stream,
			Subject:        cfg.NATS.Subject,
			Durable:        cfg.NATS.Durable,
			RedeliverDelay: cfg.RetryDelay(),
			AckWait:        settleDeadline,
		})
		if err := sub.Start(ctx); err != nil {
			slog.Error("deposit feed subscribe failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, sub.Stop)
	}

	// --- Order expiry ---
	sweeper := &worker.Sweeper{Store: st, Interval: cfg.SweepInterval()}
	go sweeper.Run(ctx)

	// --- HTTP ---
	svc := api.NewService(api.Deps{
		Store:   st,
		Engine:  engine,
		Quoter:  quoter,
		Rates:   rateSvc,
		Assets:  registry,
		Gateway: gateway,
		Hub:     wsHub,
		Config: api.Config{
			ServiceName:          "offramp-engine",
			OwnerAPIKey:          cfg.Server.OwnerAPIKey,
			WatcherToken:         cfg.Server.WatcherToken,
			WebhookSecret:        cfg.Paystack.WebhookSecret,
			SkipWebhookSignature: mockPayouts && cfg.Paystack.WebhookSecret == "",
			OrderExpiry:          cfg.OrderExpiry(),
			SettlementTimeout:    settleDeadline,
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(svc),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: settleDeadline + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("offramp-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	// In-flight deposits may be mid-payout; let them finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settleDeadline)
	defer cancel()

	slog.Info("shutting down offramp-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("offramp-engine stopped")
}

// buildChain turns the asset config into a registry and dials a failover
// RPC client for every EVM asset with endpoints.
func buildChain(ctx context.Context, cfg *config.Config) (*chain.Registry, map[model.Asset]chain.ReceiptReader, error) {
	var assets []chain.AssetConfig
	readers := make(map[model.Asset]chain.ReceiptReader)

	for id, a := range cfg.Chain.Assets {
		ac := chain.AssetConfig{
			Asset:            model.Asset(id),
			Decimals:         a.Decimals,
			RPCEndpoints:     a.RPCEndpoints,
			DepositAddress:   a.DepositAddress,
			MinConfirmations: a.MinConfirmations,
		}
		if a.TokenContract != "" {
			addr, ok := chain.ParseAddress(a.TokenContract)
			if !ok {
				return nil, nil, fmt.Errorf("asset %s: invalid token contract %q", id, a.TokenContract)
			}
			ac.TokenContract = addr
		}
		assets = append(assets, ac)

		if !ac.EVM() || len(a.RPCEndpoints) == 0 {
			continue
		}
		client, err := chain.DialFailover(ctx, a.RPCEndpoints, cfg.Chain.RPCFailoverThreshold)
		if err != nil {
			return nil, nil, fmt.Errorf("asset %s: %w", id, err)
		}
		readers[ac.Asset] = client
		slog.Info("rpc client ready", "asset", id, "endpoint", client.Active(), "deposit_address", ac.DepositAddress)
	}

	return chain.NewRegistry(assets...), readers, nil
}
