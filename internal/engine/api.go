package engine

import (
	"context"
	"fmt"
	"strconv"

	"reposter/internal/repost"
	"reposter/internal/store"
	logx "reposter/pkg/logx"
)

// RegisterTenant creates the tenant on first contact or refreshes its
// username.
func (e *Engine) RegisterTenant(ctx context.Context, id int64, username string) (repost.Tenant, error) {
	return e.store.UpsertTenant(ctx, repost.Tenant{ID: id, Username: username})
}

// LinkCredential stores the tenant's transport credential handle and brings
// its subscription up if it owns active rules.
func (e *Engine) LinkCredential(ctx context.Context, tenantID int64, ref string) error {
	if err := e.store.SetCredential(ctx, tenantID, ref); err != nil {
		return err
	}
	rules, err := e.store.ListRules(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if r.Status == repost.StatusActive {
			return e.EnsureListener(ctx, tenantID)
		}
	}
	return nil
}

// AddRuleParams carries the collected rule parameters. Source and
// Destination are free-form channel references; a nonzero forward id wins
// over the corresponding text, as a forwarded origin is authoritative.
type AddRuleParams struct {
	TenantID int64

	Source        string
	SourceForward int64
	Destination   string
	DestForward   int64

	Filter      repost.FilterMode
	Replacement string

	IntervalMin int
	StartFrom   int64
}

// AddRule resolves the channel references, enforces the per-tenant cap,
// joins invite-only sources, persists the rule (idempotently: re-creating
// an existing (source, destination) pair returns the stored rule), brings
// the tenant's listener up and starts backfill when eligible.
func (e *Engine) AddRule(ctx context.Context, p AddRuleParams) (repost.Rule, error) {
	src := resolveParam(p.Source, p.SourceForward)
	dst := resolveParam(p.Destination, p.DestForward)
	if src.IsZero() || dst.IsZero() {
		return repost.Rule{}, ErrUnresolvable
	}
	if !p.Filter.Valid() {
		return repost.Rule{}, fmt.Errorf("engine: invalid filter mode %d", p.Filter)
	}

	existing, err := e.store.ListRules(ctx, p.TenantID)
	if err != nil {
		return repost.Rule{}, err
	}
	if len(existing) >= e.cfg.MaxRulesPerTenant {
		return repost.Rule{}, ErrRuleLimit
	}

	rule := repost.Rule{
		TenantID:     p.TenantID,
		Source:       normalizeIdentifier(src),
		SourceKind:   src.Kind,
		InviteSecret: src.InviteSecret,
		Destination:  normalizeIdentifier(dst),
		Filter:       p.Filter,
		Replacement:  p.Replacement,
		IntervalMin:  p.IntervalMin,
		Cursor:       p.StartFrom,
		Status:       repost.StatusActive,
	}

	// Invite-only sources must be joined before anything can be matched or
	// fetched; store the resolved numeric id as the canonical source.
	if src.Kind == repost.KindInvite {
		ent, err := e.provider.JoinByInvite(ctx, p.TenantID, src.InviteSecret)
		if err != nil {
			return repost.Rule{}, fmt.Errorf("join by invite: %w", err)
		}
		rule.Source = repost.CanonicalChatIDInt(ent.ID)
	}

	saved, created, err := e.store.AddRule(ctx, rule)
	if err != nil {
		return repost.Rule{}, err
	}

	if err := e.EnsureListener(ctx, p.TenantID); err != nil {
		// The rule exists either way; listening starts once a credential
		// is linked (or the next recovery pass).
		e.log.Warn("listener not started",
			logx.Int64("tenant", p.TenantID), logx.Err(err))
	}

	if created && saved.Backfills() {
		e.startBackfill(saved)
	}
	return saved, nil
}

// ListRules returns the tenant's rules in listing (creation) order.
func (e *Engine) ListRules(ctx context.Context, tenantID int64) ([]repost.Rule, error) {
	return e.store.ListRules(ctx, tenantID)
}

// ToggleRule flips a rule between active and paused. Reactivating an
// errored rule resets its counter and resumes backfill from the stored
// cursor. Pausing deterministically cancels the flush timer and walker and
// discards queued bundles before returning.
func (e *Engine) ToggleRule(ctx context.Context, tenantID, ruleID int64) (repost.Rule, error) {
	rule, err := e.ownedRule(ctx, tenantID, ruleID)
	if err != nil {
		return repost.Rule{}, err
	}

	if rule.Status == repost.StatusActive {
		if err := e.store.SetRuleStatus(ctx, ruleID, repost.StatusPaused); err != nil {
			return repost.Rule{}, err
		}
		e.purgeRule(ruleID)
		e.stopWalker(ruleID, true)
		return e.store.GetRule(ctx, ruleID)
	}

	// paused or error -> active; manual reactivation wipes the counter.
	if err := e.store.SetRuleStatus(ctx, ruleID, repost.StatusActive); err != nil {
		return repost.Rule{}, err
	}
	if err := e.store.ResetErrorCount(ctx, ruleID); err != nil {
		return repost.Rule{}, err
	}
	if err := e.EnsureListener(ctx, tenantID); err != nil {
		e.log.Warn("listener not started",
			logx.Int64("tenant", tenantID), logx.Err(err))
	}
	fresh, err := e.store.GetRule(ctx, ruleID)
	if err != nil {
		return repost.Rule{}, err
	}
	if fresh.Backfills() {
		e.startBackfill(fresh)
	}
	return fresh, nil
}

// DeleteRule cancels the rule's timer and walker, purges its caches and
// removes it. No pending task can fire after DeleteRule returns.
func (e *Engine) DeleteRule(ctx context.Context, tenantID, ruleID int64) error {
	if _, err := e.ownedRule(ctx, tenantID, ruleID); err != nil {
		return err
	}
	e.purgeRule(ruleID)
	e.stopWalker(ruleID, true)
	return e.store.DeleteRule(ctx, tenantID, ruleID)
}

// DeleteAll wipes every rule of the tenant and releases its subscription.
func (e *Engine) DeleteAll(ctx context.Context, tenantID int64) (int, error) {
	rules, err := e.store.ListRules(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	for _, r := range rules {
		e.purgeRule(r.ID)
		e.stopWalker(r.ID, true)
	}
	n, err := e.store.DeleteAllRules(ctx, tenantID)
	if err != nil {
		return n, err
	}
	if serr := e.StopListener(ctx, tenantID); serr != nil {
		e.log.Warn("listener stop failed",
			logx.Int64("tenant", tenantID), logx.Err(serr))
	}
	return n, nil
}

func (e *Engine) ownedRule(ctx context.Context, tenantID, ruleID int64) (repost.Rule, error) {
	rule, err := e.store.GetRule(ctx, ruleID)
	if err != nil {
		return repost.Rule{}, err
	}
	if rule.TenantID != tenantID {
		return repost.Rule{}, store.ErrNotFound
	}
	return rule, nil
}

func resolveParam(text string, forward int64) repost.Resolved {
	if forward != 0 {
		return repost.ResolveForward(forward)
	}
	return repost.Resolve(text)
}

// normalizeIdentifier stores numeric identifiers in the canonical long form
// so matching is a plain comparison.
func normalizeIdentifier(r repost.Resolved) string {
	switch r.Kind {
	case repost.KindNumeric, repost.KindForwarded, repost.KindPrivateID:
		return repost.CanonicalChatID(r.Identifier)
	default:
		return r.Identifier
	}
}

// ParseRuleRef parses a "rule id" argument from the flat command surface.
func ParseRuleRef(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("engine: invalid rule id %q", s)
	}
	return id, nil
}
