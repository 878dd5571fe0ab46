package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"reposter/internal/repost"
	logx "reposter/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- tenants ----

func (s *sqliteStore) UpsertTenant(ctx context.Context, t repost.Tenant) (repost.Tenant, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants(id, username, credential_ref, has_credential, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET username=excluded.username`,
		t.ID, nullStr(t.Username), nullStr(t.CredentialRef), boolInt(t.HasCredential), fmtTime(t.CreatedAt),
	)
	if err != nil {
		return repost.Tenant{}, err
	}
	return s.GetTenant(ctx, t.ID)
}

func (s *sqliteStore) GetTenant(ctx context.Context, id int64) (repost.Tenant, error) {
	var (
		t        repost.Tenant
		username sql.NullString
		cred     sql.NullString
		hasCred  int
		created  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, credential_ref, has_credential, created_at FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &username, &cred, &hasCred, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return repost.Tenant{}, ErrNotFound
	}
	if err != nil {
		return repost.Tenant{}, err
	}
	t.Username = username.String
	t.CredentialRef = cred.String
	t.HasCredential = hasCred != 0
	t.CreatedAt = parseTime(created)
	return t, nil
}

func (s *sqliteStore) SetCredential(ctx context.Context, tenantID int64, ref string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET credential_ref = ?, has_credential = 1 WHERE id = ?`, ref, tenantID)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// ---- rules ----

const ruleCols = `id, tenant_id, source, source_kind, invite_secret, destination,
	filter_mode, replacement, interval_min, cursor, status, error_count, created_at, updated_at`

func (s *sqliteStore) AddRule(ctx context.Context, r repost.Rule) (repost.Rule, bool, error) {
	// Re-creation returns the existing rule, never a duplicate.
	existing, err := s.findRule(ctx, r.TenantID, r.Source, r.Destination)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return repost.Rule{}, false, err
	}

	now := time.Now()
	if r.Status == "" {
		r.Status = repost.StatusActive
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rules(tenant_id, source, source_kind, invite_secret, destination,
		   filter_mode, replacement, interval_min, cursor, status, error_count, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.TenantID, r.Source, string(r.SourceKind), nullStr(r.InviteSecret), r.Destination,
		int(r.Filter), nullStr(r.Replacement), r.IntervalMin, r.Cursor, string(r.Status),
		r.ErrorCount, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		// Concurrent creation can race past the lookup; the unique index wins.
		if isUniqueViolation(err) {
			existing, ferr := s.findRule(ctx, r.TenantID, r.Source, r.Destination)
			if ferr == nil {
				return existing, false, nil
			}
		}
		return repost.Rule{}, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return repost.Rule{}, false, err
	}
	out, err := s.GetRule(ctx, id)
	return out, true, err
}

func (s *sqliteStore) findRule(ctx context.Context, tenantID int64, source, destination string) (repost.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleCols+` FROM rules WHERE tenant_id = ? AND source = ? AND destination = ?`,
		tenantID, source, destination)
	return scanRule(row)
}

func (s *sqliteStore) GetRule(ctx context.Context, id int64) (repost.Rule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleCols+` FROM rules WHERE id = ?`, id)
	return scanRule(row)
}

func (s *sqliteStore) ListRules(ctx context.Context, tenantID int64) ([]repost.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleCols+` FROM rules WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repost.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) TenantsWithActiveRules(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM rules WHERE status = ? ORDER BY tenant_id`,
		string(repost.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetRuleStatus(ctx context.Context, ruleID int64, st repost.RuleStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET status = ?, updated_at = ? WHERE id = ?`,
		string(st), fmtTime(time.Now()), ruleID)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) IncrementErrorCount(ctx context.Context, ruleID int64) (int, error) {
	// Single write connection (MaxOpenConns=1) keeps update+read atomic.
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET error_count = error_count + 1, updated_at = ? WHERE id = ?`,
		fmtTime(time.Now()), ruleID)
	if err != nil {
		return 0, err
	}
	if err := mustAffect(res); err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, `SELECT error_count FROM rules WHERE id = ?`, ruleID).Scan(&n)
	return n, err
}

func (s *sqliteStore) ResetErrorCount(ctx context.Context, ruleID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET error_count = 0, updated_at = ? WHERE id = ?`,
		fmtTime(time.Now()), ruleID)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) SetCursor(ctx context.Context, ruleID int64, cursor int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET cursor = ?, updated_at = ? WHERE id = ?`,
		cursor, fmtTime(time.Now()), ruleID)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) DeleteRule(ctx context.Context, tenantID, ruleID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rules WHERE id = ? AND tenant_id = ?`, ruleID, tenantID)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) DeleteAllRules(ctx context.Context, tenantID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (repost.Rule, error) {
	var (
		r        repost.Rule
		kind     string
		secret   sql.NullString
		repl     sql.NullString
		filter   int
		status   string
		created  string
		updated  string
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.Source, &kind, &secret, &r.Destination,
		&filter, &repl, &r.IntervalMin, &r.Cursor, &status, &r.ErrorCount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return repost.Rule{}, ErrNotFound
	}
	if err != nil {
		return repost.Rule{}, err
	}
	r.SourceKind = repost.Kind(kind)
	r.InviteSecret = secret.String
	r.Replacement = repl.String
	r.Filter = repost.FilterMode(filter)
	r.Status = repost.RuleStatus(status)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
