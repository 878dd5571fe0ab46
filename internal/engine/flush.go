package engine

import (
	"errors"
	"time"

	"reposter/internal/repost"
	"reposter/internal/store"
	logx "reposter/pkg/logx"
)

// flushQueue holds a rule's bundles while exactly one flush timer is armed.
type flushQueue struct {
	bundles []repost.Bundle
	timer   *time.Timer
}

// enqueueBundle appends the bundle to the rule's queue and arms one flush
// timer for the rule's interval if none is armed yet. Matches arriving
// before expiry join the same timer's queue; no duplicate timers.
func (e *Engine) enqueueBundle(rule repost.Rule, bundle repost.Bundle) {
	e.mu.Lock()
	q := e.queues[rule.ID]
	if q == nil {
		q = &flushQueue{}
		e.queues[rule.ID] = q
	}
	q.bundles = append(q.bundles, bundle)
	if q.timer == nil {
		ruleID := rule.ID
		q.timer = time.AfterFunc(rule.Interval(), func() { e.flushRule(ruleID) })
	}
	e.mu.Unlock()
}

// flushRule drains all queued bundles in enqueue order, delivers each, and
// releases the timer so the next match can re-arm.
func (e *Engine) flushRule(ruleID int64) {
	e.mu.Lock()
	if e.runCtx == nil {
		e.mu.Unlock()
		return
	}
	ctx := e.runCtx
	q := e.queues[ruleID]
	delete(e.queues, ruleID)
	// Join the run group before releasing mu: Stop clears runCtx under the
	// same lock, so its Wait always covers an in-flight flush.
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	if q == nil || len(q.bundles) == 0 {
		return
	}

	cutoff := time.Now().Add(-e.cfg.BundleMaxAge)
	for _, b := range q.bundles {
		// Re-read the rule per bundle: a pause/disable racing the timer
		// must not deliver the rest of the queue.
		rule, err := e.store.GetRule(ctx, ruleID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				e.log.Error("flush rule lookup failed", logx.Int64("rule", ruleID), logx.Err(err))
			}
			return
		}
		if rule.Status != repost.StatusActive {
			return
		}
		if b.EnqueuedAt.Before(cutoff) {
			e.log.Warn("discarding stale bundle",
				logx.Int64("rule", ruleID), logx.Time("enqueued_at", b.EnqueuedAt))
			continue
		}
		// deliver records its own failures; a breaker trip shows up in the
		// next iteration's status read. Only shutdown ends the loop early.
		if err := e.deliver(ctx, rule, b); err != nil && ctx.Err() != nil {
			return
		}
	}
}

// purgeRule removes every trace of scheduling state for a rule: the armed
// flush timer, the queued bundles and the dedup table. Callers hold no lock.
func (e *Engine) purgeRule(ruleID int64) {
	e.mu.Lock()
	if q := e.queues[ruleID]; q != nil {
		if q.timer != nil {
			q.timer.Stop()
		}
		delete(e.queues, ruleID)
	}
	delete(e.dedup, ruleID)
	e.mu.Unlock()
}

// Gauges is a point-in-time view of the engine's partitioned state, used by
// the janitor's stats log.
type Gauges struct {
	AlbumGroups   int
	ArmedQueues   int
	QueuedBundles int
	DedupTables   int
	Walkers       int
}

func (e *Engine) Snapshot() Gauges {
	e.mu.Lock()
	defer e.mu.Unlock()
	g := Gauges{
		AlbumGroups: len(e.albums),
		ArmedQueues: len(e.queues),
		DedupTables: len(e.dedup),
		Walkers:     len(e.walkers),
	}
	for _, q := range e.queues {
		g.QueuedBundles += len(q.bundles)
	}
	return g
}

// SweepAlbums is the janitor hook; see sweepAlbums.
func (e *Engine) SweepAlbums() int {
	return e.sweepAlbums(5 * e.cfg.AlbumWindow)
}
