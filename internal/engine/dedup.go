package engine

import (
	"fmt"
	"hash/fnv"

	"reposter/internal/eventbus"
	"reposter/internal/repost"
)

// dedupTable is a bounded per-rule recency set. Keys are kept in insertion
// order; on overflow the oldest quarter is evicted.
type dedupTable struct {
	cap   int
	seen  map[string]struct{}
	order []string
}

func newDedupTable(capacity int) *dedupTable {
	return &dedupTable{cap: capacity, seen: map[string]struct{}{}}
}

// checkAndRecord reports whether key was already seen and records it
// otherwise.
func (t *dedupTable) checkAndRecord(key string) (duplicate bool) {
	if _, ok := t.seen[key]; ok {
		return true
	}
	if len(t.order) >= t.cap {
		drop := t.cap / 4
		if drop < 1 {
			drop = 1
		}
		for _, k := range t.order[:drop] {
			delete(t.seen, k)
		}
		t.order = append(t.order[:0], t.order[drop:]...)
	}
	t.seen[key] = struct{}{}
	t.order = append(t.order, key)
	return false
}

// dedupKey derives a rule-scoped identity for a logical post: preferentially
// (chat id, message id), else media identity, else a text hash.
func dedupKey(m repost.InboundMessage) string {
	if m.ChatID != 0 && m.MessageID != 0 {
		return fmt.Sprintf("m:%d:%d", m.ChatID, m.MessageID)
	}
	if m.MediaKey != "" {
		return "media:" + m.MediaKey
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(m.Text))
	return fmt.Sprintf("t:%x", h.Sum64())
}

// seenBefore checks and records the bundle's key against the rule's table.
// A duplicate is silently skipped (an event, not an error).
func (e *Engine) seenBefore(rule repost.Rule, first repost.InboundMessage) bool {
	key := dedupKey(first)

	e.mu.Lock()
	t := e.dedup[rule.ID]
	if t == nil {
		t = newDedupTable(e.cfg.DedupCapacity)
		e.dedup[rule.ID] = t
	}
	dup := t.checkAndRecord(key)
	e.mu.Unlock()

	if dup {
		e.publish(eventbus.Event{
			Type:     eventbus.DuplicateSkipped,
			TenantID: rule.TenantID,
			RuleID:   rule.ID,
		})
	}
	return dup
}

// ResetDedup clears a rule's recency set.
func (e *Engine) ResetDedup(ruleID int64) {
	e.mu.Lock()
	delete(e.dedup, ruleID)
	e.mu.Unlock()
}
