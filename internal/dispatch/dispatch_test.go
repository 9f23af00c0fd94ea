package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// fakeAdapter records sends and can fail the first N attempts.
type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	targets  []kit.ChatTarget
	failLeft int
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Message) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                          { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLeft > 0 {
		f.failLeft--
		return kit.MessageRef{}, errors.New("telegram unavailable")
	}
	f.sent = append(f.sent, text)
	f.targets = append(f.targets, to)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func waitForSends(t *testing.T, f *fakeAdapter, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := f.sentTexts(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sends, have %d", n, len(f.sentTexts()))
	return nil
}

func waitForEvent(t *testing.T, sub <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func fastConfig() Config {
	return Config{
		Workers:       2,
		QueueSize:     8,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
}

func TestEnqueueDelivers(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	bus := eventbus.New()
	sub, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(fastConfig(), ad, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Enqueue(Envelope{JobID: 1, Target: kit.ChatTarget{ChatID: 42}, Text: "reminder: ship it"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got := waitForSends(t, ad, 1)
	if got[0] != "reminder: ship it" {
		t.Fatalf("sent %q", got[0])
	}

	ev := waitForEvent(t, sub, eventbus.TypeDeliverySent)
	de, ok := ev.Data.(DeliveryEvent)
	if !ok || de.JobID != 1 || de.ChatID != 42 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failLeft: 2}
	s := New(fastConfig(), ad, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Enqueue(Envelope{JobID: 2, Target: kit.ChatTarget{ChatID: 1}, Text: "x"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForSends(t, ad, 1) // two failures consumed by retries, third attempt lands
}

func TestGiveUpPublishesFailure(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failLeft: 10}
	bus := eventbus.New()
	sub, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(fastConfig(), ad, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Enqueue(Envelope{JobID: 3, Target: kit.ChatTarget{ChatID: 9}, Text: "x"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ev := waitForEvent(t, sub, eventbus.TypeDeliveryFailed)
	de := ev.Data.(DeliveryEvent)
	if de.JobID != 3 || de.Error == "" {
		t.Fatalf("event = %+v", de)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()
	s := New(fastConfig(), &fakeAdapter{}, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())

	if err := s.Enqueue(Envelope{JobID: 1, Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after stop = %v, want ErrStopped", err)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	cfg := fastConfig()
	cfg.Workers = 1
	s := New(cfg, ad, logx.Nop(), nil)
	s.Start(context.Background())

	for i := 0; i < 5; i++ {
		if err := s.Enqueue(Envelope{JobID: int64(i), Target: kit.ChatTarget{ChatID: 1}, Text: "x"}); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)

	if got := len(ad.sentTexts()); got != 5 {
		t.Fatalf("drained %d sends, want 5", got)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 20; i++ {
			d := retryDelay(cfg, attempt)
			if d < 0 || d > cfg.RetryMaxDelay {
				t.Fatalf("retryDelay(attempt=%d) = %v, out of [0, %v]", attempt, d, cfg.RetryMaxDelay)
			}
		}
	}
	// First-attempt delay stays near the base (jitter 0.7..1.3).
	d := retryDelay(cfg, 1)
	if d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %v outside jitter band", d)
	}
}
