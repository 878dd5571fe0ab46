package repost

import (
	"strconv"
	"strings"
	"time"
)

// FilterMode selects what happens to channel links and mentions in a
// reposted message.
type FilterMode int

const (
	FilterKeep    FilterMode = 0 // leave text as-is
	FilterStrip   FilterMode = 1 // delete every link/mention match
	FilterReplace FilterMode = 2 // replace every match with Rule.Replacement
)

func (m FilterMode) Valid() bool {
	return m == FilterKeep || m == FilterStrip || m == FilterReplace
}

// RuleStatus is a closed enumeration. Transitions:
//
//	active  -> paused  (tenant toggle)
//	paused  -> active  (tenant toggle; resets the error counter)
//	active  -> error   (circuit breaker at the disable threshold)
//	error   -> active  (manual reactivation only; resets the error counter)
type RuleStatus string

const (
	StatusActive RuleStatus = "active"
	StatusPaused RuleStatus = "paused"
	StatusError  RuleStatus = "error"
)

func (s RuleStatus) Valid() bool {
	return s == StatusActive || s == StatusPaused || s == StatusError
}

// Tenant is an end-user owning rules and at most one transport credential.
type Tenant struct {
	ID            int64
	Username      string
	CredentialRef string // opaque handle the transport provider understands
	HasCredential bool
	CreatedAt     time.Time
}

// Rule is one source->destination repost configuration.
//
// Cursor is the next historic message id for backfill; 0 means no backfill
// was requested. IntervalMin of 0 means instant delivery.
type Rule struct {
	ID       int64
	TenantID int64

	Source       string
	SourceKind   Kind
	InviteSecret string
	Destination  string

	Filter      FilterMode
	Replacement string

	IntervalMin int
	Cursor      int64

	Status     RuleStatus
	ErrorCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Interval returns the flush interval as a duration (0 for instant rules).
func (r *Rule) Interval() time.Duration {
	if r.IntervalMin <= 0 {
		return 0
	}
	return time.Duration(r.IntervalMin) * time.Minute
}

// Backfills reports whether the rule was created with a historic starting
// point. Backfill requires both a cursor and a nonzero pacing interval.
func (r *Rule) Backfills() bool { return r.Cursor > 0 && r.IntervalMin > 0 }

// InboundMessage is an ephemeral message observed on a source channel.
type InboundMessage struct {
	ChatID       int64
	ChatUsername string
	MessageID    int64
	GroupID      int64 // album group id, 0 for standalone messages
	Text         string
	MediaKey     string // provider media identity ("photo:<id>", "doc:<id>"), "" if none
	MediaRef     string // provider re-send handle for the media, same "<kind>:<id>" shape, "" if none
	SentAt       time.Time
}

// Bundle is one or more inbound messages forming a single logical post.
type Bundle struct {
	RuleID     int64
	Messages   []InboundMessage
	EnqueuedAt time.Time
}

// CanonicalChatID normalizes a chat identifier to the long channel form
// used for matching ("-100" + raw id). Already-canonical and non-numeric
// identifiers pass through unchanged.
func CanonicalChatID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "-100") {
		return s
	}
	digits := strings.TrimPrefix(s, "-")
	if digits == "" || !isDigits(digits) {
		return s
	}
	return "-100" + digits
}

// CanonicalChatIDInt is CanonicalChatID for numeric ids as delivered by the
// transport provider.
func CanonicalChatIDInt(id int64) string {
	return CanonicalChatID(strconv.FormatInt(id, 10))
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
