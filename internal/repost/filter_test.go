package repost

import "testing"

func TestCleanModes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		text        string
		mode        FilterMode
		replacement string
		want        string
	}{
		{name: "keep is no-op", text: "join https://t.me/foo now", mode: FilterKeep, want: "join https://t.me/foo now"},
		{name: "strip link", text: "join https://t.me/foo now", mode: FilterStrip, want: "join now"},
		{name: "strip mention", text: "follow @some_channel!", mode: FilterStrip, want: "follow !"},
		{name: "strip invite", text: "t.me/joinchat/AbC here", mode: FilterStrip, want: "here"},
		{name: "strip modern invite", text: "t.me/+AbC here", mode: FilterStrip, want: "here"},
		{name: "strip post link", text: "see t.me/foo/123, ok", mode: FilterStrip, want: "see , ok"},
		{name: "replace", text: "ad: @them", mode: FilterReplace, replacement: "t.me/us", want: "ad: t.me/us"},
		{name: "replace empty", text: "ad: @them", mode: FilterReplace, want: "ad:"},
		{name: "newline collapse", text: "a\n\n\n\nb", mode: FilterStrip, want: "a\n\nb"},
		{name: "empty text", text: "", mode: FilterStrip, want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Clean(tt.text, tt.mode, tt.replacement)
			if got != tt.want {
				t.Fatalf("Clean(%q, %d, %q) = %q, want %q", tt.text, tt.mode, tt.replacement, got, tt.want)
			}
		})
	}
}

// Cleaning an already-clean text must change nothing, no matter the mode.
func TestCleanIdempotent(t *testing.T) {
	t.Parallel()
	texts := []string{
		"plain text",
		"join https://t.me/foo and @bar\n\n\n\nbye",
		"t.me/+secret  spaced   out",
		"@a @b @c t.me/joinchat/x",
		"",
	}
	for _, mode := range []FilterMode{FilterKeep, FilterStrip, FilterReplace} {
		for _, text := range texts {
			once := Clean(text, mode, "t.me/mine")
			twice := Clean(once, mode, "t.me/mine")
			if once != twice {
				t.Fatalf("mode %d not idempotent for %q: %q != %q", mode, text, once, twice)
			}
		}
	}
}

func TestCleanBundle(t *testing.T) {
	t.Parallel()
	msgs := []InboundMessage{
		{Text: "see @promo"},
		{Text: ""},
		{Text: "two  spaces"},
	}
	CleanBundle(msgs, FilterStrip, "")
	if msgs[0].Text != "see" || msgs[1].Text != "" || msgs[2].Text != "two spaces" {
		t.Fatalf("unexpected bundle texts: %+v", msgs)
	}
}
