package watcher_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/clovapay/offramp-engine/internal/model"
	"github.com/clovapay/offramp-engine/internal/settlement"
	"github.com/clovapay/offramp-engine/internal/watcher"
)

type fakeMsg struct {
	data  string
	acked string
	delay time.Duration
}

func (m *fakeMsg) Subject() string { return "offramp.deposits.base" }

func (m *fakeMsg) Data() []byte { return []byte(m.data) }

func (m *fakeMsg) Ack() error {
	m.acked = "ack"
	return nil
}

func (m *fakeMsg) Nak() error {
	m.acked = "nak"
	return nil
}

func (m *fakeMsg) Term() error {
	m.acked = "term"
	return nil
}

func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.acked = "nak_delay"
	m.delay = d
	return nil
}

type fakeProcessor struct {
	events []settlement.Event
	out    *settlement.Outcome
	err    error
}

func (p *fakeProcessor) ProcessCredited(_ context.Context, ev settlement.Event) (*settlement.Outcome, error) {
	p.events = append(p.events, ev)
	return p.out, p.err
}

type minConfirms int64

func (m minConfirms) MinConfirmations(model.Asset) int64 { return int64(m) }

const tx = "0xabababababababababababababababababababababababababababababababab"

func deposit(confirmations int) string {
	return fmt.Sprintf(`{"orderId":"ord_1","asset":"USDC_BASE","amountCrypto":"100","txHash":%q,"confirmations":%d}`, tx, confirmations)
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		err       error
		out       *settlement.Outcome
		want      string
		processed bool
	}{
		{"malformed json", `{"orderId":`, nil, nil, "term", false},
		{"missing reference", `{"asset":"USDC_BASE","txHash":"0x1","confirmations":5}`, nil, nil, "term", false},
		{"below minimum", deposit(1), nil, nil, "nak_delay", false},
		{"credited", deposit(5), nil, &settlement.Outcome{Status: settlement.StatusPaidOut}, "ack", true},
		{"rejected is final", deposit(5), nil, &settlement.Outcome{Status: settlement.StatusRejected}, "ack", true},
		{"duplicate", deposit(5), nil, &settlement.Outcome{Idempotent: true, Status: settlement.StatusCredited}, "ack", true},
		{"unknown order", deposit(5), fmt.Errorf("%w: ord_1", settlement.ErrOrderNotFound), nil, "term", true},
		{"store down", deposit(5), errors.New("connection refused"), nil, "nak", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProcessor{out: tt.out, err: tt.err}
			s := watcher.NewSubscriber(nil, p, minConfirms(3), watcher.Config{RedeliverDelay: 7 * time.Second})
			msg := &fakeMsg{data: tt.data}

			s.Handle(context.Background(), msg)

			if msg.acked != tt.want {
				t.Errorf("delivery = %q, want %q", msg.acked, tt.want)
			}
			if got := len(p.events) == 1; got != tt.processed {
				t.Errorf("processed = %v, want %v", got, tt.processed)
			}
			if tt.want == "nak_delay" && msg.delay != 7*time.Second {
				t.Errorf("redeliver delay = %s", msg.delay)
			}
		})
	}
}

func TestHandle_TagsWatcherSource(t *testing.T) {
	p := &fakeProcessor{out: &settlement.Outcome{Status: settlement.StatusCredited}}
	s := watcher.NewSubscriber(nil, p, minConfirms(3), watcher.Config{})

	s.Handle(context.Background(), &fakeMsg{data: deposit(4)})

	if len(p.events) != 1 {
		t.Fatalf("events = %d", len(p.events))
	}
	ev := p.events[0]
	if ev.Source != model.SourceWatcher || ev.OrderID != "ord_1" || ev.Confirmations != 4 || ev.TxHash != tx {
		t.Errorf("event = %+v", ev)
	}
}
