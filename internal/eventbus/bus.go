package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type enumerates the engine events the rest of the process can observe.
type Type string

const (
	// Delivered fires after a bundle reaches its destination.
	Delivered Type = "delivered"
	// DuplicateSkipped fires when dedup silently drops a message.
	DuplicateSkipped Type = "duplicate_skipped"
	// RateLimitDropped fires when a provider wait exceeded the cap and the
	// bundle was discarded instead of stalling the pipeline.
	RateLimitDropped Type = "ratelimit_dropped"
	// HealthWarning fires at the consecutive-failure warning threshold.
	HealthWarning Type = "health_warning"
	// RuleDisabled fires when the breaker moves a rule to the error status.
	RuleDisabled Type = "rule_disabled"
	// BackfillDone fires when a walker catches up with the source.
	BackfillDone Type = "backfill_done"
)

// Event is a lightweight, in-memory signal used to decouple the engine from
// notification and maintenance consumers.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type     Type
	Time     time.Time
	TenantID int64
	RuleID   int64

	// Text is a human-readable detail for tenant-facing notices
	// (last delivery error, wait duration, message counts).
	Text string

	// Count carries the error counter for health events and the message
	// count for delivery events.
	Count int
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If a subscriber unsubscribes concurrently
		// and the channel closes, recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
