package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reposter/internal/repost"
)

// Entity is a resolved remote chat.
type Entity struct {
	ID    int64
	Title string
}

// MessageHandler receives live inbound messages for a tenant's subscription.
// Implementations must not block; heavy work belongs to the consumer.
type MessageHandler func(tenantID int64, msg repost.InboundMessage)

// Provider is the narrow capability the engine consumes from the remote
// messaging service. The engine never assumes a concrete implementation;
// authentication and protocol details live behind this interface.
//
// Contract:
//   - StartListening is idempotent per tenant: re-starting a connected
//     tenant is a no-op, starting a dead one reconnects it.
//   - Send returns RateLimitError when the service asks for a pause; any
//     other error is terminal for that attempt.
//   - FetchFrom returns messages ordered by ascending id, starting at
//     fromID inclusive, possibly empty when caught up.
type Provider interface {
	StartListening(ctx context.Context, tenant repost.Tenant, onMessage MessageHandler) error
	StopListening(ctx context.Context, tenantID int64) error

	Send(ctx context.Context, tenantID int64, destination string, bundle repost.Bundle) error
	ResolveEntity(ctx context.Context, tenantID int64, identifier string) (Entity, error)
	JoinByInvite(ctx context.Context, tenantID int64, secret string) (Entity, error)
	FetchFrom(ctx context.Context, tenantID int64, source string, fromID int64, limit int) ([]repost.InboundMessage, error)
}

// ErrNotConnected reports that a tenant has no live session for the
// requested operation.
var ErrNotConnected = errors.New("transport: tenant not connected")

// ErrUnauthorized reports that the tenant's stored credential no longer
// authenticates.
var ErrUnauthorized = errors.New("transport: credential unauthorized")

// ErrUnsupported reports a capability the concrete provider does not offer
// (for example history fetch over the Bot API).
var ErrUnsupported = errors.New("transport: operation not supported by this provider")

// RateLimitError is the transient throttling outcome. RetryAfter carries
// the provider-specified wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("transport: rate limited, retry after %s", e.RetryAfter)
}

// AsRateLimit unwraps err as a RateLimitError, if it is one.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
