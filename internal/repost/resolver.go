package repost

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies how a channel reference was written by the tenant.
type Kind string

const (
	KindNone      Kind = ""
	KindUsername  Kind = "username"
	KindInvite    Kind = "invite"
	KindPrivateID Kind = "private_id"
	KindNumeric   Kind = "numeric"
	KindForwarded Kind = "forwarded"
)

// Resolved is the normalized form of a free-form channel reference.
// Identifier is empty when the input could not be parsed; callers must
// re-prompt, never default.
type Resolved struct {
	Identifier   string
	Kind         Kind
	InviteSecret string
	MessageID    int64
}

func (r Resolved) IsZero() bool { return r.Identifier == "" }

var (
	inviteRe       = regexp.MustCompile(`^(?:https?://)?t\.me/\+([A-Za-z0-9_-]+)$`)
	legacyInviteRe = regexp.MustCompile(`^(?:https?://)?t\.me/joinchat/([A-Za-z0-9_-]+)$`)
	privatePostRe  = regexp.MustCompile(`^(?:https?://)?t\.me/c/(\d+)(?:/(\d+))?$`)
	publicLinkRe   = regexp.MustCompile(`^(?:https?://)?t\.me/([A-Za-z]\w{3,})(?:/(\d+))?$`)
	usernameRe     = regexp.MustCompile(`^@?([A-Za-z]\w{3,})$`)
)

// ResolveForward resolves a forwarded-message origin. A forwarded origin
// always wins over any text the tenant typed, so callers check it first.
func ResolveForward(chatID int64) Resolved {
	if chatID == 0 {
		return Resolved{}
	}
	return Resolved{Identifier: strconv.FormatInt(chatID, 10), Kind: KindForwarded}
}

// Resolve parses a free-form channel reference: invite links (modern and
// legacy), private channel post links, public channel links, bare usernames
// and raw numeric ids, in that priority order.
func Resolve(raw string) Resolved {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resolved{}
	}

	for _, re := range []*regexp.Regexp{inviteRe, legacyInviteRe} {
		if m := re.FindStringSubmatch(raw); m != nil {
			return Resolved{Identifier: raw, Kind: KindInvite, InviteSecret: m[1]}
		}
	}

	if m := privatePostRe.FindStringSubmatch(raw); m != nil {
		r := Resolved{Identifier: CanonicalChatID(m[1]), Kind: KindPrivateID}
		if m[2] != "" {
			r.MessageID, _ = strconv.ParseInt(m[2], 10, 64)
		}
		return r
	}

	if m := publicLinkRe.FindStringSubmatch(raw); m != nil {
		r := Resolved{Identifier: m[1], Kind: KindUsername}
		if m[2] != "" {
			r.MessageID, _ = strconv.ParseInt(m[2], 10, 64)
		}
		return r
	}

	// Raw signed numeric id (optionally wrapped in @ or trailing slash noise).
	clean := strings.Trim(strings.TrimPrefix(raw, "@"), "/")
	if isDigits(strings.TrimPrefix(clean, "-")) {
		return Resolved{Identifier: clean, Kind: KindNumeric}
	}

	if m := usernameRe.FindStringSubmatch(raw); m != nil {
		return Resolved{Identifier: m[1], Kind: KindUsername}
	}

	return Resolved{}
}
