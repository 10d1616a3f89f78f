package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/store"
)

// Scope names an independently configured quota. Windows never interact:
// hitting one scope consumes nothing from another.
type Scope string

const (
	// ScopeChallengeInit caps challenge initiations per client IP.
	ScopeChallengeInit Scope = "challenge-initiation"
	// ScopeVerification caps second-factor verification attempts per user.
	ScopeVerification Scope = "verification-attempts"
	// ScopeResend caps SMS code resends per user.
	ScopeResend Scope = "resend-code"
	// ScopeLockout is the rolling cumulative-failure count per subject that
	// drives the CAPTCHA gate and the lockout threshold.
	ScopeLockout Scope = "lockout-threshold"
)

// Quota is a limit over a rolling window anchored at the first hit.
type Quota struct {
	Limit  int
	Window time.Duration
}

// Result is the answer to a quota question: whether the action may
// proceed, how many attempts remain, and when the window resets.
type Result struct {
	Allowed   bool
	Count     int64
	Remaining int
	ResetAt   time.Time
}

// Limiter evaluates named quotas on top of the counter store. Increments
// happen only when the underlying action is actually attempted (Hit);
// Check never consumes quota.
type Limiter struct {
	store  store.CounterStore
	quotas map[Scope]Quota
	logger *slog.Logger
}

func New(counterStore store.CounterStore, quotas map[Scope]Quota, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:  counterStore,
		quotas: quotas,
		logger: logger,
	}
}

func (l *Limiter) quota(scope Scope) (Quota, error) {
	q, ok := l.quotas[scope]
	if !ok {
		return Quota{}, fmt.Errorf("unknown rate limit scope %q", scope)
	}
	return q, nil
}

func (l *Limiter) key(scope Scope, subject string) string {
	return string(scope) + ":" + subject
}

// Check answers whether the next action would be allowed without
// consuming quota. Errors propagate so that security-critical callers
// can fail closed.
func (l *Limiter) Check(ctx context.Context, scope Scope, subject string) (*Result, error) {
	q, err := l.quota(scope)
	if err != nil {
		return nil, err
	}

	count, err := l.store.Get(ctx, l.key(scope, subject))
	if err != nil {
		return nil, err
	}
	return l.result(ctx, scope, subject, q, count, count < int64(q.Limit)), nil
}

// Hit consumes one unit of quota and reports the outcome. The action that
// tipped the counter over the limit is itself denied.
func (l *Limiter) Hit(ctx context.Context, scope Scope, subject string) (*Result, error) {
	q, err := l.quota(scope)
	if err != nil {
		return nil, err
	}

	count, err := l.store.Increment(ctx, l.key(scope, subject), q.Window)
	if err != nil {
		return nil, err
	}

	res := l.result(ctx, scope, subject, q, count, count <= int64(q.Limit))
	if !res.Allowed {
		l.logger.Warn("rate limit exceeded",
			slog.String("scope", string(scope)),
			slog.Int64("count", count),
			slog.Int("limit", q.Limit))
	}
	return res, nil
}

// Count returns the current counter value without consuming quota.
func (l *Limiter) Count(ctx context.Context, scope Scope, subject string) (int64, error) {
	return l.store.Get(ctx, l.key(scope, subject))
}

// Reset clears a subject's counter, e.g. after a successful terminal
// authentication outcome.
func (l *Limiter) Reset(ctx context.Context, scope Scope, subject string) error {
	return l.store.Reset(ctx, l.key(scope, subject))
}

func (l *Limiter) result(ctx context.Context, scope Scope, subject string, q Quota, count int64, allowed bool) *Result {
	remaining := q.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	resetAt := time.Now().Add(q.Window)
	if ttl, err := l.store.TTL(ctx, l.key(scope, subject)); err == nil && ttl > 0 {
		resetAt = time.Now().Add(ttl)
	}

	return &Result{
		Allowed:   allowed,
		Count:     count,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
