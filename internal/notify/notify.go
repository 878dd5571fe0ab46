package notify

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"reposter/internal/eventbus"
	"reposter/pkg/logx"
)

// Sender delivers a formatted notice to a tenant's own chat.
// The Telegram adapter implements it.
type Sender interface {
	SendNotice(ctx context.Context, tenantID int64, text string) error
}

type Config struct {
	// RatePerMinute caps notices per tenant. <=0 means the default of 20.
	RatePerMinute int
}

// Service is safe for concurrent use. Apply may be called while running.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	bus    eventbus.Bus
	sender Sender

	cfg      Config
	limiters map[int64]*rate.Limiter

	unsub func()
	done  chan struct{}
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		bus:      bus,
		sender:   sender,
		limiters: map[int64]*rate.Limiter{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 20
	}
	s.cfg = cfg
	// Changing the rate replaces all buckets; a brief burst allowance after
	// a config reload is acceptable.
	s.limiters = map[int64]*rate.Limiter{}
}

// Start is idempotent. Notices stop flowing when ctx is canceled or Stop is
// called, whichever comes first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	ch, unsub := s.bus.Subscribe(256)
	s.unsub = unsub
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.handle(ctx, ev)
			}
		}
	}()
}

func (s *Service) Stop() {
	s.mu.Lock()
	unsub := s.unsub
	done := s.done
	s.unsub = nil
	s.done = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub() // closes the subscription channel, the loop drains and exits
	}
	if done != nil {
		<-done
	}
}

func (s *Service) handle(ctx context.Context, ev eventbus.Event) {
	text := format(ev)
	if text == "" || ev.TenantID == 0 {
		return
	}
	if !s.limiter(ev.TenantID).Allow() {
		s.log.Debug("notice throttled",
			logx.Int64("tenant", ev.TenantID), logx.String("type", string(ev.Type)))
		return
	}
	if err := s.sender.SendNotice(ctx, ev.TenantID, text); err != nil {
		s.log.Warn("notice send failed",
			logx.Int64("tenant", ev.TenantID), logx.Err(err))
	}
}

func (s *Service) limiter(tenantID int64) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[tenantID]
	if !ok {
		perMin := s.cfg.RatePerMinute
		l = rate.NewLimiter(rate.Limit(perMin)/60, perMin)
		s.limiters[tenantID] = l
	}
	return l
}

// format renders the tenant-facing text for an event, or "" for events that
// should stay internal.
func format(ev eventbus.Event) string {
	switch ev.Type {
	case eventbus.HealthWarning:
		return fmt.Sprintf("⚠️ Rule %d has failed %d times in a row (last error: %s). It will be disabled if failures continue.",
			ev.RuleID, ev.Count, ev.Text)
	case eventbus.RuleDisabled:
		return fmt.Sprintf("🚫 Rule %d was disabled after %d consecutive failures. Last error: %s\nUse /toggle %d to re-enable it.",
			ev.RuleID, ev.Count, ev.Text, ev.RuleID)
	case eventbus.RateLimitDropped:
		return fmt.Sprintf("⏳ A batch for rule %d was dropped: %s.", ev.RuleID, ev.Text)
	case eventbus.BackfillDone:
		return fmt.Sprintf("✅ Rule %d finished replaying history; live messages continue as usual.", ev.RuleID)
	default:
		return ""
	}
}
