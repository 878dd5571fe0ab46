package store

import (
	"context"
	"errors"
	"time"

	"reposter/internal/repost"
)

var (
	ErrNotFound = errors.New("store: not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": process-local store, used in tests and throwaway runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence collaborator consumed by the engine.
//
// Error-counter mutations are atomic: IncrementErrorCount returns the new
// value so the caller can apply thresholds without a read-modify-write race.
type Store interface {
	UpsertTenant(ctx context.Context, t repost.Tenant) (repost.Tenant, error)
	GetTenant(ctx context.Context, id int64) (repost.Tenant, error)
	SetCredential(ctx context.Context, tenantID int64, ref string) error

	// AddRule is idempotent on (tenant, source, destination): re-creation
	// returns the existing rule with created=false.
	AddRule(ctx context.Context, r repost.Rule) (out repost.Rule, created bool, err error)
	GetRule(ctx context.Context, id int64) (repost.Rule, error)
	ListRules(ctx context.Context, tenantID int64) ([]repost.Rule, error)
	TenantsWithActiveRules(ctx context.Context) ([]int64, error)

	SetRuleStatus(ctx context.Context, ruleID int64, st repost.RuleStatus) error
	IncrementErrorCount(ctx context.Context, ruleID int64) (int, error)
	ResetErrorCount(ctx context.Context, ruleID int64) error
	SetCursor(ctx context.Context, ruleID int64, cursor int64) error

	DeleteRule(ctx context.Context, tenantID, ruleID int64) error
	DeleteAllRules(ctx context.Context, tenantID int64) (int, error)

	Close() error
}
