package engine

import (
	"fmt"
	"strings"
	"testing"

	"reposter/internal/repost"
)

func TestDedupKeyPreference(t *testing.T) {
	t.Parallel()
	full := repost.InboundMessage{ChatID: 1, MessageID: 2, MediaKey: "photo:x", Text: "hi"}
	if got := dedupKey(full); got != "m:1:2" {
		t.Fatalf("ids must win: %q", got)
	}
	media := repost.InboundMessage{MediaKey: "photo:x", Text: "hi"}
	if got := dedupKey(media); got != "media:photo:x" {
		t.Fatalf("media identity second: %q", got)
	}
	text := repost.InboundMessage{Text: "hi"}
	if got := dedupKey(text); !strings.HasPrefix(got, "t:") {
		t.Fatalf("text hash last: %q", got)
	}
	if dedupKey(text) != dedupKey(repost.InboundMessage{Text: "hi"}) {
		t.Fatal("text hash not stable")
	}
}

func TestDedupTableEvictsOldestQuarter(t *testing.T) {
	t.Parallel()
	tab := newDedupTable(8)
	for i := 0; i < 8; i++ {
		if tab.checkAndRecord(fmt.Sprintf("k%d", i)) {
			t.Fatalf("fresh key k%d reported duplicate", i)
		}
	}
	if !tab.checkAndRecord("k7") {
		t.Fatal("recorded key not recognized")
	}

	// Overflow drops the oldest quarter (k0, k1).
	if tab.checkAndRecord("k8") {
		t.Fatal("overflow key reported duplicate")
	}
	if tab.checkAndRecord("k0") {
		t.Fatal("k0 should have been evicted")
	}
	if !tab.checkAndRecord("k5") {
		t.Fatal("recent key k5 must survive eviction")
	}
}
