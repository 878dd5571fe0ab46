package repost

import (
	"regexp"
	"strings"
)

// linkPattern targets channel deep links (scheme optional, invite forms
// included) and bare @mentions without swallowing adjacent punctuation.
var linkPattern = regexp.MustCompile(`(?i)(?:https?://)?t\.me/(?:joinchat/|\+)?[\w-]+/?\d*|@\w+`)

var (
	multiSpace   = regexp.MustCompile(` {2,}`)
	multiNewline = regexp.MustCompile(`\n{3,}`)
)

// Clean applies a rule's filter mode to message text.
//
// FilterKeep returns the text unchanged. FilterStrip deletes every link or
// mention match. FilterReplace swaps each match for replacement (empty
// string when none was configured). Strip and Replace finish with a
// whitespace pass: runs of spaces collapse to one, 3+ newlines collapse to
// two, and the result is trimmed. Clean is idempotent for every mode.
func Clean(text string, mode FilterMode, replacement string) string {
	if text == "" || mode == FilterKeep {
		return text
	}

	out := text
	switch mode {
	case FilterStrip:
		out = linkPattern.ReplaceAllString(out, "")
	case FilterReplace:
		out = linkPattern.ReplaceAllString(out, replacement)
	}

	out = multiSpace.ReplaceAllString(out, " ")
	out = multiNewline.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// CleanBundle filters every message of a bundle in place, per the rule's
// settings.
func CleanBundle(msgs []InboundMessage, mode FilterMode, replacement string) {
	for i := range msgs {
		if msgs[i].Text != "" {
			msgs[i].Text = Clean(msgs[i].Text, mode, replacement)
		}
	}
}
