package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"reposter/internal/repost"
)

// memoryStore keeps everything in process memory. It backs tests and
// throwaway runs; semantics mirror the sqlite driver.
type memoryStore struct {
	mu      sync.Mutex
	tenants map[int64]repost.Tenant
	rules   map[int64]repost.Rule
	nextID  int64
}

func NewMemory() Store {
	return &memoryStore{
		tenants: map[int64]repost.Tenant{},
		rules:   map[int64]repost.Rule{},
		nextID:  1,
	}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) UpsertTenant(_ context.Context, t repost.Tenant) (repost.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tenants[t.ID]; ok {
		cur.Username = t.Username
		s.tenants[t.ID] = cur
		return cur, nil
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.tenants[t.ID] = t
	return t, nil
}

func (s *memoryStore) GetTenant(_ context.Context, id int64) (repost.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return repost.Tenant{}, ErrNotFound
	}
	return t, nil
}

func (s *memoryStore) SetCredential(_ context.Context, tenantID int64, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	t.CredentialRef = ref
	t.HasCredential = true
	s.tenants[tenantID] = t
	return nil
}

func (s *memoryStore) AddRule(_ context.Context, r repost.Rule) (repost.Rule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rules {
		if existing.TenantID == r.TenantID && existing.Source == r.Source && existing.Destination == r.Destination {
			return existing, false, nil
		}
	}
	now := time.Now()
	r.ID = s.nextID
	s.nextID++
	if r.Status == "" {
		r.Status = repost.StatusActive
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rules[r.ID] = r
	return r, true, nil
}

func (s *memoryStore) GetRule(_ context.Context, id int64) (repost.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return repost.Rule{}, ErrNotFound
	}
	return r, nil
}

func (s *memoryStore) ListRules(_ context.Context, tenantID int64) ([]repost.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repost.Rule
	for _, r := range s.rules {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) TenantsWithActiveRules(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]bool{}
	for _, r := range s.rules {
		if r.Status == repost.StatusActive {
			seen[r.TenantID] = true
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *memoryStore) SetRuleStatus(_ context.Context, ruleID int64, st repost.RuleStatus) error {
	return s.mutateRule(ruleID, func(r *repost.Rule) { r.Status = st })
}

func (s *memoryStore) IncrementErrorCount(_ context.Context, ruleID int64) (int, error) {
	var n int
	err := s.mutateRule(ruleID, func(r *repost.Rule) {
		r.ErrorCount++
		n = r.ErrorCount
	})
	return n, err
}

func (s *memoryStore) ResetErrorCount(_ context.Context, ruleID int64) error {
	return s.mutateRule(ruleID, func(r *repost.Rule) { r.ErrorCount = 0 })
}

func (s *memoryStore) SetCursor(_ context.Context, ruleID int64, cursor int64) error {
	return s.mutateRule(ruleID, func(r *repost.Rule) { r.Cursor = cursor })
}

func (s *memoryStore) DeleteRule(_ context.Context, tenantID, ruleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok || r.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.rules, ruleID)
	return nil
}

func (s *memoryStore) DeleteAllRules(_ context.Context, tenantID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.rules {
		if r.TenantID == tenantID {
			delete(s.rules, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) mutateRule(ruleID int64, fn func(*repost.Rule)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return ErrNotFound
	}
	fn(&r)
	r.UpdatedAt = time.Now()
	s.rules[ruleID] = r
	return nil
}
