// Package engine is the repost orchestration core: it matches inbound
// messages to configured rules, filters and deduplicates them, batches or
// backfills them, delivers with bounded retry, and auto-disables rules that
// keep failing.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"reposter/internal/eventbus"
	"reposter/internal/repost"
	"reposter/internal/store"
	"reposter/internal/transport"
	logx "reposter/pkg/logx"
)

var (
	// ErrUnresolvable reports channel input the resolver could not parse.
	// Callers re-prompt; no state changes.
	ErrUnresolvable = errors.New("engine: unresolvable channel reference")
	// ErrRuleLimit reports that the tenant reached its rule cap.
	ErrRuleLimit = errors.New("engine: rule limit reached")
	// ErrNoCredential reports a tenant without a linked transport credential.
	ErrNoCredential = errors.New("engine: tenant has no linked credential")
	// ErrNotRunning reports use of the engine before Start.
	ErrNotRunning = errors.New("engine: not started")
)

// Config controls the pipeline. Zero fields get defaults from withDefaults.
type Config struct {
	// AlbumWindow is the fixed aggregation delay for multi-part bursts.
	AlbumWindow time.Duration
	// BackfillSettle delays a fresh walker before its first fetch.
	BackfillSettle time.Duration

	DedupCapacity int

	// RetryMax bounds ADDITIONAL delivery attempts after a rate limit.
	RetryMax int
	// FloodWaitCap aborts instead of honoring provider waits beyond it.
	FloodWaitCap time.Duration

	WarnThreshold    int
	DisableThreshold int

	MaxRulesPerTenant int

	// BundleMaxAge discards queued bundles older than this at flush time,
	// so a long-armed timer never replays stale media references.
	BundleMaxAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.AlbumWindow <= 0 {
		c.AlbumWindow = time.Second
	}
	if c.BackfillSettle <= 0 {
		c.BackfillSettle = 5 * time.Second
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = 500
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.FloodWaitCap <= 0 {
		c.FloodWaitCap = 5 * time.Minute
	}
	if c.WarnThreshold <= 0 {
		c.WarnThreshold = 3
	}
	if c.DisableThreshold <= 0 {
		c.DisableThreshold = 5
	}
	if c.MaxRulesPerTenant <= 0 {
		c.MaxRulesPerTenant = 10
	}
	if c.BundleMaxAge <= 0 {
		c.BundleMaxAge = 24 * time.Hour
	}
	return c
}

// Engine owns all pipeline state: dedup tables, album buffers, flush queues
// and backfill walkers, each partitioned by rule/group/tenant id. Mutations
// are short critical sections under mu; only delivery, fetch and scheduled
// sleeps suspend.
type Engine struct {
	cfg      Config
	store    store.Store
	provider transport.Provider
	bus      eventbus.Bus
	log      logx.Logger

	mu      sync.Mutex
	dedup   map[int64]*dedupTable    // rule id -> recency set
	albums  map[albumKey]*albumGroup // (tenant, group) -> buffered parts
	queues  map[int64]*flushQueue    // rule id -> armed queue
	walkers map[int64]*walkerHandle  // rule id -> running backfill

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config, st store.Store, p transport.Provider, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Engine{
		cfg:      cfg.withDefaults(),
		store:    st,
		provider: p,
		bus:      bus,
		log:      log,
		dedup:    map[int64]*dedupTable{},
		albums:   map[albumKey]*albumGroup{},
		queues:   map[int64]*flushQueue{},
		walkers:  map[int64]*walkerHandle{},
	}
}

// Start establishes subscriptions for every tenant with at least one active
// rule and resumes eligible backfill walkers. One tenant's recovery failure
// is logged and does not affect the others.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.runCtx != nil {
		e.mu.Unlock()
		return nil
	}
	e.runCtx, e.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Unlock()

	tenants, err := e.store.TenantsWithActiveRules(ctx)
	if err != nil {
		return err
	}
	for _, tid := range tenants {
		if err := e.EnsureListener(ctx, tid); err != nil {
			e.log.Error("listener recovery failed",
				logx.Int64("tenant", tid), logx.Err(err))
			continue
		}
		rules, err := e.store.ListRules(ctx, tid)
		if err != nil {
			e.log.Error("rule listing failed during recovery",
				logx.Int64("tenant", tid), logx.Err(err))
			continue
		}
		for _, r := range rules {
			if r.Status == repost.StatusActive && r.Backfills() {
				e.startBackfill(r)
			}
		}
	}
	return nil
}

// Stop cancels every timer and walker and waits for them to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.runCancel
	e.runCancel = nil
	e.runCtx = nil
	for key, g := range e.albums {
		g.timer.Stop()
		delete(e.albums, key)
	}
	for rid, q := range e.queues {
		if q.timer != nil {
			q.timer.Stop()
		}
		delete(e.queues, rid)
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runContext returns the engine's background context for timer-driven work.
func (e *Engine) runContext() (context.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx == nil {
		return nil, false
	}
	return e.runCtx, true
}

// publish emits an engine event. Non-blocking by bus contract.
func (e *Engine) publish(ev eventbus.Event) { e.bus.Publish(ev) }

// sleep waits d or until ctx is done; reports false when interrupted.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
