package telegram

import (
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"reposter/internal/repost"
	"reposter/internal/transport"
)

func TestParseAddArgs(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name        string
		payload     string
		wantErr     bool
		source      string
		dest        string
		interval    int
		filter      repost.FilterMode
		replacement string
	}{
		{name: "minimal", payload: "@src @dst", source: "@src", dest: "@dst"},
		{name: "interval", payload: "@src @dst 30", source: "@src", dest: "@dst", interval: 30},
		{name: "strip", payload: "@src @dst strip", source: "@src", dest: "@dst", filter: repost.FilterStrip},
		{name: "replace", payload: "t.me/c/123/5 @dst 10 replace=@mine", source: "t.me/c/123/5", dest: "@dst", interval: 10, filter: repost.FilterReplace, replacement: "@mine"},
		{name: "missing dest", payload: "@src", wantErr: true},
		{name: "bad option", payload: "@src @dst soon", wantErr: true},
		{name: "negative interval", payload: "@src @dst -5", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := parseAddArgs(7, tc.payload)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseAddArgs(%q) succeeded, want error", tc.payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAddArgs(%q): %v", tc.payload, err)
			}
			if p.TenantID != 7 || p.Source != tc.source || p.Destination != tc.dest {
				t.Fatalf("parsed %+v", p)
			}
			if p.IntervalMin != tc.interval || p.Filter != tc.filter || p.Replacement != tc.replacement {
				t.Fatalf("parsed options %+v", p)
			}
		})
	}
}

func TestDescribeRule(t *testing.T) {
	t.Parallel()
	r := repost.Rule{
		ID:          3,
		Source:      "src_chan",
		Destination: "-1001234",
		IntervalMin: 15,
		Filter:      repost.FilterStrip,
		Cursor:      19,
	}
	got := describeRule(r)
	want := "@src_chan → -1001234, every 15m, links stripped, replaying from 19"
	if got != want {
		t.Fatalf("describeRule = %q, want %q", got, want)
	}
}

func TestAlbumGroupID(t *testing.T) {
	t.Parallel()
	if albumGroupID("") != 0 {
		t.Fatal("empty album id must map to zero")
	}
	a, b := albumGroupID("13287342934"), albumGroupID("13287342935")
	if a == b {
		t.Fatal("distinct album ids collided")
	}
	if a <= 0 || b <= 0 {
		t.Fatalf("group ids must be positive: %d %d", a, b)
	}
	if a != albumGroupID("13287342934") {
		t.Fatal("group id not stable")
	}
}

func TestRecipientFor(t *testing.T) {
	t.Parallel()
	if got := recipientFor("-1001234").Recipient(); got != "-1001234" {
		t.Fatalf("numeric destination = %q", got)
	}
	if got := recipientFor("dest_chan").Recipient(); got != "@dest_chan" {
		t.Fatalf("username destination = %q", got)
	}
}

func TestOutboundMediaCarriesFilteredCaption(t *testing.T) {
	t.Parallel()

	m := repost.InboundMessage{
		ChatID:    -1001234,
		MessageID: 10,
		Text:      "filtered caption",
		MediaKey:  "photo:unique",
		MediaRef:  "photo:resend-id",
	}
	photo, ok := outbound(m).(*tele.Photo)
	if !ok {
		t.Fatalf("media message must re-send as a photo, got %T", outbound(m))
	}
	if photo.FileID != "resend-id" {
		t.Fatalf("photo file id = %q", photo.FileID)
	}
	// The caption must be our text, not whatever the source message carried.
	if photo.Caption != "filtered caption" {
		t.Fatalf("photo caption = %q", photo.Caption)
	}

	m.MediaRef = "video:v1"
	video, ok := outbound(m).(*tele.Video)
	if !ok || video.FileID != "v1" || video.Caption != "filtered caption" {
		t.Fatalf("video message mis-built: %#v", outbound(m))
	}

	text := repost.InboundMessage{Text: "plain"}
	if got, ok := outbound(text).(string); !ok || got != "plain" {
		t.Fatalf("text message = %#v", outbound(text))
	}

	if outbound(repost.InboundMessage{}) != nil {
		t.Fatal("empty message must produce nothing")
	}

	unknown := repost.InboundMessage{Text: "fallback", MediaRef: "sticker:s1"}
	if got, ok := outbound(unknown).(string); !ok || got != "fallback" {
		t.Fatalf("unknown media kind must degrade to text, got %#v", outbound(unknown))
	}
}

func TestMapSendError(t *testing.T) {
	t.Parallel()
	if mapSendError(nil) != nil {
		t.Fatal("nil must stay nil")
	}
	err := mapSendError(&tele.FloodError{RetryAfter: 30})
	rl, ok := transport.AsRateLimit(err)
	if !ok || rl.RetryAfter != 30*time.Second {
		t.Fatalf("flood error not mapped: %v", err)
	}
}
