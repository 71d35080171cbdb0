// Package gate decides whether a login may proceed once the host's own
// authentication has run. A failed code locks the client address out through
// the notification service; an unreachable service lets the login through.
package gate

import (
	"context"
	"crypto/subtle"
	"errors"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"

	"login-gate/internal/challenge"
	"login-gate/internal/notify"
	"login-gate/internal/observability"
)

// Backend is the notification/ban service as the gate sees it.
type Backend interface {
	CheckBan(ctx context.Context, address string) error
	Notify(ctx context.Context, n notify.Notification) error
	ReportFail(ctx context.Context, address string) error
}

type Gate struct {
	backend  Backend
	generate challenge.Generator
	logger   *observability.Logger
	reports  sync.WaitGroup
}

var _ Module = (*Gate)(nil)

func New(backend Backend, generate challenge.Generator, logger *observability.Logger) *Gate {
	if generate == nil {
		generate = challenge.New()
	}
	return &Gate{backend: backend, generate: generate, logger: logger}
}

// Authenticate never panics; an internal fault becomes ServiceError.
func (g *Gate) Authenticate(ctx context.Context, session Session) (outcome Outcome) {
	attemptID := newAttemptID()

	defer func() {
		if rec := recover(); rec != nil {
			observability.CapturePanic("panic in gate", rec, debug.Stack())
			g.logger.Error("gate_panic", map[string]any{
				"attempt_id": attemptID,
				"panic":      rec,
			})
			outcome = ServiceError
		}
	}()

	outcome = g.decide(ctx, session, attemptID)
	g.logger.Info("gate_outcome", map[string]any{
		"attempt_id": attemptID,
		"outcome":    outcome.String(),
	})
	return outcome
}

// SetCredentials is a no-op; the gate keeps no credentials.
func (g *Gate) SetCredentials(Session) Outcome {
	return Allow
}

// Wait blocks until in-flight failure reports finish.
func (g *Gate) Wait() {
	g.reports.Wait()
}

func (g *Gate) decide(ctx context.Context, session Session, attemptID string) Outcome {
	attempt := newLoginAttempt(session)
	fields := map[string]any{
		"attempt_id": attemptID,
		"username":   attempt.Username,
		"address":    attempt.Address,
		"service":    attempt.Service,
	}

	if err := g.backend.CheckBan(ctx, attempt.Address); err != nil {
		if errors.Is(err, notify.ErrBanned) {
			g.logger.Info("gate_address_banned", fields)
			return Deny
		}
		if !isUnexpectedStatus(err) {
			g.failOpen("check_ban", err, fields)
			return Allow
		}
		g.logger.Warn("gate_check_ban_status", withError(fields, err))
	} else {
		g.logger.Debug("gate_ban_clear", fields)
	}

	code := g.generate()
	err := g.backend.Notify(ctx, notify.Notification{
		Username: attempt.Username,
		Address:  attempt.Address,
		Code:     code,
		Service:  attempt.Service,
		Command:  attempt.Command,
	})
	switch {
	case err == nil:
		g.logger.Debug("gate_code_sent", fields)
	case errors.Is(err, notify.ErrBanned):
		g.logger.Info("gate_address_banned", fields)
		return Deny
	case isUnexpectedStatus(err):
		g.logger.Warn("gate_notify_status", withError(fields, err))
	default:
		g.failOpen("notify", err, fields)
		return Allow
	}

	input, err := session.PromptSecret(codePrompt)
	if err != nil {
		input = ""
	}
	if codeMatches(input, code) {
		return Allow
	}

	g.logger.Info("gate_code_mismatch", fields)
	g.reportFailure(attempt.Address, attemptID)
	return Deny
}

func (g *Gate) failOpen(step string, err error, fields map[string]any) {
	fields = withError(fields, err)
	fields["step"] = step
	g.logger.Warn("gate_fail_open", fields)
}

func (g *Gate) reportFailure(address, attemptID string) {
	g.reports.Add(1)
	go func() {
		defer g.reports.Done()
		if err := g.backend.ReportFail(context.Background(), address); err != nil {
			g.logger.Warn("gate_report_fail_failed", map[string]any{
				"attempt_id": attemptID,
				"error":      err.Error(),
			})
		}
	}()
}

func codeMatches(input, code string) bool {
	input = strings.TrimSpace(input)
	if input == "" || code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(input), []byte(code)) == 1
}

func isUnexpectedStatus(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr)
}

func withError(fields map[string]any, err error) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}

func newAttemptID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
