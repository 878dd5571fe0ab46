package repost

import "testing"

func TestResolveVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		raw        string
		kind       Kind
		identifier string
		secret     string
		messageID  int64
	}{
		{name: "modern invite", raw: "https://t.me/+AbC123", kind: KindInvite, identifier: "https://t.me/+AbC123", secret: "AbC123"},
		{name: "legacy invite", raw: "t.me/joinchat/xYz_9-q", kind: KindInvite, identifier: "t.me/joinchat/xYz_9-q", secret: "xYz_9-q"},
		{name: "private post", raw: "t.me/c/123456789/42", kind: KindPrivateID, identifier: "-100123456789", messageID: 42},
		{name: "private channel", raw: "https://t.me/c/987654321", kind: KindPrivateID, identifier: "-100987654321"},
		{name: "public post", raw: "https://t.me/some_channel/77", kind: KindUsername, identifier: "some_channel", messageID: 77},
		{name: "public link", raw: "t.me/some_channel", kind: KindUsername, identifier: "some_channel"},
		{name: "at username", raw: "@foo_bar", kind: KindUsername, identifier: "foo_bar"},
		{name: "bare username", raw: "foo_bar", kind: KindUsername, identifier: "foo_bar"},
		{name: "numeric", raw: "-100123456789", kind: KindNumeric, identifier: "-100123456789"},
		{name: "positive numeric", raw: "123456789", kind: KindNumeric, identifier: "123456789"},
		{name: "padded", raw: "  @foo_bar  ", kind: KindUsername, identifier: "foo_bar"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.raw)
			if got.Kind != tt.kind {
				t.Fatalf("Resolve(%q) kind = %q, want %q", tt.raw, got.Kind, tt.kind)
			}
			if got.Identifier != tt.identifier {
				t.Fatalf("Resolve(%q) identifier = %q, want %q", tt.raw, got.Identifier, tt.identifier)
			}
			if got.InviteSecret != tt.secret {
				t.Fatalf("Resolve(%q) secret = %q, want %q", tt.raw, got.InviteSecret, tt.secret)
			}
			if got.MessageID != tt.messageID {
				t.Fatalf("Resolve(%q) messageID = %d, want %d", tt.raw, got.MessageID, tt.messageID)
			}
		})
	}
}

func TestResolveUnparseable(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not a channel", "https://example.com/foo", "t.me/", "ab"} {
		got := Resolve(raw)
		if !got.IsZero() {
			t.Fatalf("Resolve(%q) = %+v, want zero", raw, got)
		}
	}
}

func TestResolveForward(t *testing.T) {
	t.Parallel()
	got := ResolveForward(-100555000111)
	if got.Kind != KindForwarded || got.Identifier != "-100555000111" {
		t.Fatalf("unexpected forward resolution: %+v", got)
	}
	if !ResolveForward(0).IsZero() {
		t.Fatal("zero chat id should not resolve")
	}
}

func TestCanonicalChatID(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"123456789", "-100123456789"},
		{"-100123456789", "-100123456789"},
		{"-123456789", "-100123456789"},
		{"some_channel", "some_channel"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CanonicalChatID(tt.in); got != tt.want {
			t.Fatalf("CanonicalChatID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
