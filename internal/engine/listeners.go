package engine

import (
	"context"
	"fmt"
)

// EnsureListener establishes the tenant's inbound subscription. The
// provider contract makes this idempotent: at most one live subscription
// exists per tenant, and a dead one is reconnected.
func (e *Engine) EnsureListener(ctx context.Context, tenantID int64) error {
	t, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("tenant lookup: %w", err)
	}
	if !t.HasCredential {
		return ErrNoCredential
	}
	if err := e.provider.StartListening(ctx, t, e.HandleInbound); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}
	return nil
}

// StopListener releases the tenant's subscription.
func (e *Engine) StopListener(ctx context.Context, tenantID int64) error {
	return e.provider.StopListening(ctx, tenantID)
}
