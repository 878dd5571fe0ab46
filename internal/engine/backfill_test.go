package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"reposter/internal/eventbus"
	"reposter/internal/repost"
)

func backfillMsg(id int64) repost.InboundMessage {
	return repost.InboundMessage{
		ChatID:    123456789,
		MessageID: id,
		Text:      "history",
		SentAt:    time.Now().Add(-time.Hour),
	}
}

func TestBackfillAdvancesCursorAfterSend(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{})
	rig.addTenant(t, 7)
	rig.provider.fetch[19] = []repost.InboundMessage{backfillMsg(19)}

	rule := rig.addRule(t, AddRuleParams{
		TenantID:    7,
		Source:      "@source_chan",
		Destination: "@dest_chan",
		IntervalMin: 60,
		StartFrom:   19,
	})

	waitFor(t, "backfill delivery", func() bool { return rig.provider.sendCount() == 1 })
	waitFor(t, "cursor advance", func() bool {
		got, err := rig.store.GetRule(context.Background(), rule.ID)
		return err == nil && got.Cursor == 20
	})
}

func TestBackfillHaltsWithoutAdvancingOnFailure(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{})
	rig.addTenant(t, 7)
	rig.provider.fetch[19] = []repost.InboundMessage{backfillMsg(19)}
	rig.provider.queueSendErrs(errors.New("boom"))

	rule := rig.addRule(t, AddRuleParams{
		TenantID:    7,
		Source:      "@source_chan",
		Destination: "@dest_chan",
		IntervalMin: 60,
		StartFrom:   19,
	})

	// The walker removes itself once the failed delivery stops it.
	waitFor(t, "walker exit", func() bool { return rig.eng.Snapshot().Walkers == 0 })

	got, err := rig.store.GetRule(context.Background(), rule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Cursor != 19 {
		t.Fatalf("cursor advanced past a failed delivery: %d", got.Cursor)
	}
	if got.ErrorCount != 1 {
		t.Fatalf("error count = %d, want 1", got.ErrorCount)
	}
	if n := rig.provider.sendCount(); n != 0 {
		t.Fatalf("failed delivery recorded %d sends", n)
	}
}

func TestBackfillSignalsCompletion(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{})
	rig.addTenant(t, 7)
	// No scripted history: the first fetch comes back empty.

	rule := rig.addRule(t, AddRuleParams{
		TenantID:    7,
		Source:      "@source_chan",
		Destination: "@dest_chan",
		IntervalMin: 60,
		StartFrom:   19,
	})

	ev := waitEvent(t, rig.events, eventbus.BackfillDone)
	if ev.RuleID != rule.ID {
		t.Fatalf("completion for rule %d, want %d", ev.RuleID, rule.ID)
	}
	waitFor(t, "walker exit", func() bool { return rig.eng.Snapshot().Walkers == 0 })
}

func TestPauseStopsWalker(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{BackfillSettle: 50 * time.Millisecond})
	rig.addTenant(t, 7)
	rig.provider.fetch[19] = []repost.InboundMessage{backfillMsg(19)}

	rule := rig.addRule(t, AddRuleParams{
		TenantID:    7,
		Source:      "@source_chan",
		Destination: "@dest_chan",
		IntervalMin: 60,
		StartFrom:   19,
	})
	waitFor(t, "walker start", func() bool { return rig.eng.Snapshot().Walkers == 1 })

	// ToggleRule waits for the walker to exit before returning.
	if _, err := rig.eng.ToggleRule(context.Background(), 7, rule.ID); err != nil {
		t.Fatal(err)
	}
	if g := rig.eng.Snapshot(); g.Walkers != 0 {
		t.Fatalf("walker survived pause: %+v", g)
	}
	if n := rig.provider.sendCount(); n != 0 {
		t.Fatalf("paused walker delivered %d bundles", n)
	}
}

func TestBackfillResumesOnReactivation(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{})
	rig.addTenant(t, 7)
	rig.provider.fetch[19] = []repost.InboundMessage{backfillMsg(19)}
	rig.provider.fetch[20] = []repost.InboundMessage{backfillMsg(20)}
	rig.provider.queueSendErrs(errors.New("boom"))

	rule := rig.addRule(t, AddRuleParams{
		TenantID:    7,
		Source:      "@source_chan",
		Destination: "@dest_chan",
		IntervalMin: 60,
		StartFrom:   19,
	})
	waitFor(t, "halted walker", func() bool { return rig.eng.Snapshot().Walkers == 0 })

	// Pause then resume; the walker restarts from the unchanged cursor.
	if _, err := rig.eng.ToggleRule(context.Background(), 7, rule.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.eng.ToggleRule(context.Background(), 7, rule.ID); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "resumed delivery", func() bool { return rig.provider.sendCount() == 1 })
	waitFor(t, "cursor advance", func() bool {
		got, err := rig.store.GetRule(context.Background(), rule.ID)
		return err == nil && got.Cursor == 20
	})
}
