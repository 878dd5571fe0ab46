package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"reposter/internal/eventbus"
	"reposter/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSender) SendNotice(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func waitForNotices(t *testing.T, f *fakeSender, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.count() >= want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("got %d notices, want %d", f.count(), want)
}

func TestHighSignalEventsForwarded(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sender := &fakeSender{}
	s := New(Config{}, sender, bus, logx.Nop())
	s.Start(context.Background())
	defer s.Stop()

	bus.Publish(eventbus.Event{Type: eventbus.RuleDisabled, TenantID: 7, RuleID: 3, Count: 5, Text: "boom"})
	waitForNotices(t, sender, 1)

	sender.mu.Lock()
	got := sender.texts[0]
	sender.mu.Unlock()
	if !strings.Contains(got, "boom") || !strings.Contains(got, "/toggle 3") {
		t.Fatalf("disable notice missing detail: %q", got)
	}
}

func TestRoutineEventsStayInternal(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sender := &fakeSender{}
	s := New(Config{}, sender, bus, logx.Nop())
	s.Start(context.Background())
	defer s.Stop()

	bus.Publish(eventbus.Event{Type: eventbus.Delivered, TenantID: 7, RuleID: 3, Count: 1})
	bus.Publish(eventbus.Event{Type: eventbus.DuplicateSkipped, TenantID: 7, RuleID: 3})
	bus.Publish(eventbus.Event{Type: eventbus.BackfillDone, TenantID: 7, RuleID: 3})
	waitForNotices(t, sender, 1)

	time.Sleep(20 * time.Millisecond)
	if n := sender.count(); n != 1 {
		t.Fatalf("routine events leaked to the tenant: %d notices", n)
	}
}

func TestPerTenantThrottle(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sender := &fakeSender{}
	// One notice per minute with burst 1: the second event must be dropped.
	s := New(Config{RatePerMinute: 1}, sender, bus, logx.Nop())
	s.Start(context.Background())
	defer s.Stop()

	bus.Publish(eventbus.Event{Type: eventbus.BackfillDone, TenantID: 7, RuleID: 1})
	bus.Publish(eventbus.Event{Type: eventbus.BackfillDone, TenantID: 7, RuleID: 2})
	// A different tenant has its own bucket.
	bus.Publish(eventbus.Event{Type: eventbus.BackfillDone, TenantID: 8, RuleID: 9})

	waitForNotices(t, sender, 2)
	time.Sleep(20 * time.Millisecond)
	if n := sender.count(); n != 2 {
		t.Fatalf("throttle let %d notices through, want 2", n)
	}
}

func TestStopDrainsCleanly(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sender := &fakeSender{}
	s := New(Config{}, sender, bus, logx.Nop())
	s.Start(context.Background())
	s.Stop()
	s.Stop() // idempotent

	bus.Publish(eventbus.Event{Type: eventbus.RuleDisabled, TenantID: 7, RuleID: 3, Count: 5})
	time.Sleep(20 * time.Millisecond)
	if n := sender.count(); n != 0 {
		t.Fatalf("stopped service sent %d notices", n)
	}
}
