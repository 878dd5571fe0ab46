package engine

import (
	"context"
	"time"

	"reposter/internal/eventbus"
	"reposter/internal/repost"
	logx "reposter/pkg/logx"
)

// walkerHandle tracks one running backfill walker. done is closed when the
// walker goroutine has fully exited, so cancellation can be deterministic.
type walkerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startBackfill launches the sequential historic replay for a rule created
// with a starting message id and a nonzero interval. At most one walker runs
// per rule.
func (e *Engine) startBackfill(rule repost.Rule) {
	if !rule.Backfills() {
		return
	}

	e.mu.Lock()
	if e.runCtx == nil {
		e.mu.Unlock()
		return
	}
	if _, running := e.walkers[rule.ID]; running {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(e.runCtx)
	h := &walkerHandle{cancel: cancel, done: make(chan struct{})}
	e.walkers[rule.ID] = h
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(h.done)
		defer func() {
			e.mu.Lock()
			if e.walkers[rule.ID] == h {
				delete(e.walkers, rule.ID)
			}
			e.mu.Unlock()
		}()
		e.walk(ctx, rule.ID)
	}()
}

// stopWalker cancels a rule's walker. With wait set, it blocks until the
// goroutine has exited, so callers never observe success while a stale
// walker could still fire.
func (e *Engine) stopWalker(ruleID int64, wait bool) {
	e.mu.Lock()
	h := e.walkers[ruleID]
	e.mu.Unlock()
	if h == nil {
		return
	}
	h.cancel()
	if wait {
		<-h.done
	}
}

// walk replays historic messages one at a time, moving strictly forward.
// The cursor is persisted only after a confirmed send; on the first
// delivery failure the walker stops without advancing, so reactivation
// resumes from the same point. An empty fetch means the walker caught up;
// live listening covers everything newer.
func (e *Engine) walk(ctx context.Context, ruleID int64) {
	log := e.log.With(logx.Int64("rule", ruleID))

	if !sleep(ctx, e.cfg.BackfillSettle) {
		return
	}

	for {
		rule, err := e.store.GetRule(ctx, ruleID)
		if err != nil {
			log.Warn("backfill stopped: rule gone", logx.Err(err))
			return
		}
		if rule.Status != repost.StatusActive || rule.Cursor <= 0 {
			return
		}

		msgs, err := e.provider.FetchFrom(ctx, rule.TenantID, rule.Source, rule.Cursor, 1)
		if err != nil {
			log.Warn("backfill fetch failed", logx.Err(err))
			return
		}
		if len(msgs) == 0 {
			e.publish(eventbus.Event{
				Type:     eventbus.BackfillDone,
				TenantID: rule.TenantID,
				RuleID:   ruleID,
			})
			log.Info("backfill caught up", logx.Int64("cursor", rule.Cursor))
			return
		}

		msg := msgs[0]
		bundle := repost.Bundle{
			RuleID:     ruleID,
			Messages:   []repost.InboundMessage{msg},
			EnqueuedAt: time.Now(),
		}
		repost.CleanBundle(bundle.Messages, rule.Filter, rule.Replacement)

		if err := e.deliver(ctx, rule, bundle); err != nil {
			log.Warn("backfill halted on delivery failure",
				logx.Int64("cursor", rule.Cursor), logx.Err(err))
			return
		}

		next := msg.MessageID + 1
		if err := e.store.SetCursor(ctx, ruleID, next); err != nil {
			log.Error("cursor update failed", logx.Err(err))
			return
		}

		if !sleep(ctx, rule.Interval()) {
			return
		}
	}
}
