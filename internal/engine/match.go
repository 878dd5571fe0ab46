package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reposter/internal/repost"
)

// route dispatches a logical post to the FIRST matching, non-duplicate rule
// of the tenant, then stops. Bounding fan-out to one rule prevents loops
// across chained source/destination configurations.
func (e *Engine) route(ctx context.Context, tenantID int64, msgs []repost.InboundMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	rules, err := e.store.ListRules(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}

	first := msgs[0]
	chatID := repost.CanonicalChatIDInt(first.ChatID)
	username := strings.ToLower(strings.TrimPrefix(first.ChatUsername, "@"))

	for _, rule := range rules {
		if rule.Status != repost.StatusActive {
			continue
		}
		if !sourceMatches(rule, chatID, username) {
			continue
		}
		if e.seenBefore(rule, first) {
			continue
		}

		bundle := repost.Bundle{
			RuleID:     rule.ID,
			Messages:   append([]repost.InboundMessage(nil), msgs...),
			EnqueuedAt: time.Now(),
		}
		repost.CleanBundle(bundle.Messages, rule.Filter, rule.Replacement)

		if rule.Interval() > 0 {
			e.enqueueBundle(rule, bundle)
		} else {
			// Instant rules deliver on the routing goroutine; retries may
			// sleep, which is fine here and never blocks the listener.
			_ = e.deliver(ctx, rule, bundle)
		}
		return nil
	}
	return nil
}

// sourceMatches compares the rule's normalized source identifier against the
// message's canonical chat id or its username (case-insensitive, leading @
// stripped).
func sourceMatches(rule repost.Rule, chatID, username string) bool {
	src := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(rule.Source), "@"))
	if src == "" {
		return false
	}
	if repost.CanonicalChatID(src) == chatID {
		return true
	}
	return username != "" && src == username
}
