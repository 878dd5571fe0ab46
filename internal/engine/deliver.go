package engine

import (
	"context"
	"fmt"

	"reposter/internal/eventbus"
	"reposter/internal/repost"
	"reposter/internal/transport"
	logx "reposter/pkg/logx"
)

// deliver sends one bundle with bounded retry on rate limiting.
//
// A provider wait beyond the cap aborts immediately and drops the bundle
// rather than stalling the whole pipeline. Any non-rate-limit transport
// error is terminal for this attempt. Success resets the rule's
// consecutive-error counter; every failure feeds the breaker.
func (e *Engine) deliver(ctx context.Context, rule repost.Rule, bundle repost.Bundle) error {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.RetryMax; attempt++ {
		err := e.provider.Send(ctx, rule.TenantID, rule.Destination, bundle)
		if err == nil {
			if rerr := e.store.ResetErrorCount(ctx, rule.ID); rerr != nil {
				e.log.Error("error counter reset failed",
					logx.Int64("rule", rule.ID), logx.Err(rerr))
			}
			e.publish(eventbus.Event{
				Type:     eventbus.Delivered,
				TenantID: rule.TenantID,
				RuleID:   rule.ID,
				Count:    len(bundle.Messages),
			})
			return nil
		}
		lastErr = err

		rl, ok := transport.AsRateLimit(err)
		if !ok {
			break // terminal for this attempt, not retried here
		}
		if rl.RetryAfter > e.cfg.FloodWaitCap {
			e.publish(eventbus.Event{
				Type:     eventbus.RateLimitDropped,
				TenantID: rule.TenantID,
				RuleID:   rule.ID,
				Text:     fmt.Sprintf("requested wait %s exceeds cap %s", rl.RetryAfter, e.cfg.FloodWaitCap),
			})
			break
		}
		if attempt == e.cfg.RetryMax {
			break
		}
		e.log.Warn("rate limited, backing off",
			logx.Int64("rule", rule.ID),
			logx.Duration("wait", rl.RetryAfter),
			logx.Int("attempt", attempt+1))
		if !sleep(ctx, rl.RetryAfter) {
			return ctx.Err()
		}
	}

	e.recordFailure(ctx, rule, lastErr)
	return lastErr
}

// recordFailure advances the rule's consecutive-error counter and applies
// the breaker thresholds: a warning notice at the warn threshold, and a
// transition to the error status (with purged timers and queues) at the
// disable threshold. Reactivation is manual.
func (e *Engine) recordFailure(ctx context.Context, rule repost.Rule, cause error) {
	n, err := e.store.IncrementErrorCount(ctx, rule.ID)
	if err != nil {
		e.log.Error("error counter increment failed",
			logx.Int64("rule", rule.ID), logx.Err(err))
		return
	}

	text := ""
	if cause != nil {
		text = cause.Error()
	}

	switch {
	case n >= e.cfg.DisableThreshold:
		if err := e.store.SetRuleStatus(ctx, rule.ID, repost.StatusError); err != nil {
			e.log.Error("rule disable failed", logx.Int64("rule", rule.ID), logx.Err(err))
			return
		}
		e.purgeRule(rule.ID)
		// Cancel only: the walker itself may be the failing caller, and it
		// exits on its own once delivery fails.
		e.stopWalker(rule.ID, false)
		e.publish(eventbus.Event{
			Type:     eventbus.RuleDisabled,
			TenantID: rule.TenantID,
			RuleID:   rule.ID,
			Text:     text,
			Count:    n,
		})
		e.log.Warn("rule disabled after consecutive failures",
			logx.Int64("rule", rule.ID), logx.Int("failures", n))
	case n == e.cfg.WarnThreshold:
		e.publish(eventbus.Event{
			Type:     eventbus.HealthWarning,
			TenantID: rule.TenantID,
			RuleID:   rule.ID,
			Text:     text,
			Count:    n,
		})
	}
}
