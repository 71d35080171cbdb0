package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"login-gate/internal/ban"
	"login-gate/internal/observability"
)

type Config struct {
	Recipients   []int64
	LockDuration time.Duration

	// RequireDelivery makes Notify fail when no recipient received the alert.
	RequireDelivery bool
}

type Service struct {
	store           ban.Store
	sender          Sender
	logger          *observability.Logger
	recipients      []int64
	lockDuration    time.Duration
	requireDelivery bool
	now             ban.Clock
}

func NewService(store ban.Store, sender Sender, logger *observability.Logger, cfg Config) *Service {
	lockDuration := cfg.LockDuration
	if lockDuration <= 0 {
		lockDuration = ban.DefaultLockDuration
	}

	return &Service{
		store:           store,
		sender:          sender,
		logger:          logger,
		recipients:      append([]int64(nil), cfg.Recipients...),
		lockDuration:    lockDuration,
		requireDelivery: cfg.RequireDelivery,
		now:             ban.SystemClock,
	}
}

func (s *Service) WithClock(clock ban.Clock) {
	if clock != nil {
		s.now = clock
	}
}

func (s *Service) CheckBan(ctx context.Context, address string) error {
	banned, err := s.store.Active(ctx, strings.TrimSpace(address))
	if err != nil {
		return fmt.Errorf("check ban: %w", err)
	}
	if banned {
		return ErrBanned
	}
	return nil
}

func (s *Service) Notify(ctx context.Context, n Notification) error {
	if err := s.CheckBan(ctx, n.Address); err != nil {
		return err
	}

	s.logger.Info("notification_received", map[string]any{
		"username": n.Username,
		"address":  n.Address,
		"service":  n.Service,
	})

	text := FormatMessage(n)

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, recipient := range s.recipients {
		wg.Add(1)
		go func(recipient int64) {
			defer wg.Done()
			if err := s.sender.Send(ctx, recipient, text); err != nil {
				s.logger.Warn("notification_delivery_failed", map[string]any{
					"recipient": recipient,
					"error":     err.Error(),
				})
				return
			}
			delivered.Add(1)
		}(recipient)
	}
	wg.Wait()

	if s.requireDelivery && delivered.Load() == 0 {
		return ErrDeliveryFailed
	}
	return nil
}

func (s *Service) ReportFail(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	expiresAt := s.now().Add(s.lockDuration)
	if err := s.store.Upsert(ctx, address, expiresAt); err != nil {
		return fmt.Errorf("report fail: %w", err)
	}

	s.logger.Info("address_banned", map[string]any{
		"address":    address,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	return nil
}
