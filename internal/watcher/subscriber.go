// Package watcher consumes deposit notifications published by chain
// watchers on NATS JetStream and feeds them to the settlement engine.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/shopspring/decimal"

	"github.com/clovapay/offramp-engine/internal/model"
	"github.com/clovapay/offramp-engine/internal/settlement"
)

// Processor handles one credited deposit. *settlement.Engine implements it.
type Processor interface {
	ProcessCredited(ctx context.Context, ev settlement.Event) (*settlement.Outcome, error)
}

// Confirmations supplies the per-asset confirmation minimum.
type Confirmations interface {
	MinConfirmations(asset model.Asset) int64
}

// Message is the part of jetstream.Msg the handler uses.
type Message interface {
	Subject() string
	Data() []byte
	Ack() error
	Nak() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// Deposit is the JSON payload published by watchers.
type Deposit struct {
	OrderID       string          `json:"orderId"`
	QuoteID       string          `json:"quoteId"`
	Asset         model.Asset     `json:"asset"`
	AmountCrypto  decimal.Decimal `json:"amountCrypto"`
	TxHash        string          `json:"txHash"`
	Confirmations int64           `json:"confirmations"`
	ProviderID    string          `json:"providerId"`
}

// Config names the stream and durable consumer.
type Config struct {
	Stream      string
	Subject     string
	Durable     string
	MaxInFlight int
	// RedeliverDelay spaces redeliveries of deposits still short of
	// their confirmation minimum.
	RedeliverDelay time.Duration
	// AckWait must cover one full settlement or the deposit is redelivered
	// while still in flight.
	AckWait time.Duration
}

// Subscriber is a durable JetStream consumer of deposit notifications.
type Subscriber struct {
	js        jetstream.JetStream
	processor Processor
	confirms  Confirmations
	cfg       Config

	consumer jetstream.ConsumeContext
	sem      chan struct{}
	wg       sync.WaitGroup
}

func NewSubscriber(js jetstream.JetStream, p Processor, confirms Confirmations, cfg Config) *Subscriber {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 16
	}
	if cfg.RedeliverDelay <= 0 {
		cfg.RedeliverDelay = 10 * time.Second
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 3 * time.Minute
	}
	return &Subscriber{
		js:        js,
		processor: p,
		confirms:  confirms,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxInFlight),
	}
}

// Start creates the durable consumer and begins consuming. Messages are
// processed concurrently, at most MaxInFlight at a time.
func (s *Subscriber) Start(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, s.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       s.cfg.Durable,
		FilterSubject: s.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       s.cfg.AckWait,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", s.cfg.Durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			msg.Nak()
			return
		}
		s.wg.Add(1)
		go func() {
			defer func() {
				<-s.sem
				s.wg.Done()
			}()
			s.Handle(ctx, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.cfg.Durable, err)
	}
	s.consumer = cc

	slog.Info("subscribed to deposit feed", "subject", s.cfg.Subject, "consumer", s.cfg.Durable)
	return nil
}

// Stop stops consuming and waits for in-flight messages.
func (s *Subscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.wg.Wait()
	slog.Info("deposit feed subscriber stopped")
}

// Handle processes one message and settles its delivery: malformed and
// unresolvable deposits are terminated, transient failures are nak'ed for
// redelivery, and every engine outcome is acked.
func (s *Subscriber) Handle(ctx context.Context, msg Message) {
	var dep Deposit
	if err := json.Unmarshal(msg.Data(), &dep); err != nil {
		slog.Warn("malformed deposit message", "subject", msg.Subject(), "err", err)
		msg.Term()
		return
	}
	if (dep.OrderID == "" && dep.QuoteID == "") || !dep.Asset.Valid() || model.NormalizeTxHash(dep.TxHash) == "" {
		slog.Warn("incomplete deposit message", "subject", msg.Subject(), "tx_hash", dep.TxHash)
		msg.Term()
		return
	}

	if min := s.confirms.MinConfirmations(dep.Asset); dep.Confirmations < min {
		slog.Info("deposit below confirmation minimum, redelivering later",
			"tx_hash", dep.TxHash,
			"confirmations", dep.Confirmations,
			"required", min,
		)
		msg.NakWithDelay(s.cfg.RedeliverDelay)
		return
	}

	out, err := s.processor.ProcessCredited(ctx, settlement.Event{
		OrderID:       dep.OrderID,
		QuoteID:       dep.QuoteID,
		Asset:         dep.Asset,
		AmountCrypto:  dep.AmountCrypto,
		TxHash:        dep.TxHash,
		Confirmations: dep.Confirmations,
		Source:        model.SourceWatcher,
		ProviderID:    dep.ProviderID,
	})
	switch {
	case errors.Is(err, settlement.ErrReferenceRequired),
		errors.Is(err, settlement.ErrTxHashRequired),
		errors.Is(err, settlement.ErrOrderNotFound):
		slog.Warn("unprocessable deposit", "tx_hash", dep.TxHash, "err", err)
		msg.Term()
		return
	case err != nil:
		slog.Error("process deposit, will redeliver", "tx_hash", dep.TxHash, "err", err)
		msg.Nak()
		return
	}

	slog.Info("deposit processed",
		"tx_hash", dep.TxHash,
		"status", out.Status,
		"idempotent", out.Idempotent,
		"error", out.Error,
	)
	msg.Ack()
}

// EnsureStream creates the deposit stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, subject string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}

// Connect establishes a NATS connection and returns a JetStream context.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("offramp-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
