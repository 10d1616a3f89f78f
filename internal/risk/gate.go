package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/notify"
	"github.com/BradenHooton/bastion/internal/ratelimit"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// SecurityStateRepo is the durable per-subject state only the gate may
// touch.
type SecurityStateRepo interface {
	Get(ctx context.Context, subject string) (*models.AccountSecurityState, error)
	IncrementFailures(ctx context.Context, subject string) (int, error)
	ResetFailures(ctx context.Context, subject string) error
	Lock(ctx context.Context, subject string, until time.Time, tier int) error
	ClearLockout(ctx context.Context, subject string) error
}

// AttemptRepo is the append-only login history.
type AttemptRepo interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
	RecentSuccesses(ctx context.Context, subject string, since time.Time) ([]models.LoginAttempt, error)
}

// CaptchaVerifier validates a CAPTCHA token with the external provider.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, ip string) (bool, error)
}

// Notifier is the fire-and-forget notification collaborator.
type Notifier interface {
	Notify(userID string, event notify.Event, meta map[string]string)
}

// Config holds the gate's escalation thresholds and windows.
type Config struct {
	DelayBase        time.Duration
	DelayCap         time.Duration
	CaptchaThreshold int
	LockoutThreshold int
	LockoutTiers     []time.Duration
	AttemptRetention time.Duration
	HistoryWindow    time.Duration
}

// FailureResult describes what a recorded failure escalated to.
type FailureResult struct {
	ConsecutiveFailures int
	CumulativeFailures  int64
	Locked              bool
	LockedUntil         time.Time
	CaptchaRequiredNext bool
}

// Gate evaluates every completed credential check against the subject's
// failure history and decides delay, CAPTCHA and lockout. All state is
// keyed by the normalized login identifier so the gate behaves the same
// whether or not the identifier matches a user.
type Gate struct {
	states   SecurityStateRepo
	attempts AttemptRepo
	limiter  *ratelimit.Limiter
	captcha  CaptchaVerifier
	scorer   *Scorer
	notifier Notifier
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
	cfg      Config
}

func NewGate(
	states SecurityStateRepo,
	attempts AttemptRepo,
	limiter *ratelimit.Limiter,
	captcha CaptchaVerifier,
	scorer *Scorer,
	notifier Notifier,
	audit *pkglogger.AuditLogger,
	logger *slog.Logger,
	cfg Config,
) *Gate {
	return &Gate{
		states:   states,
		attempts: attempts,
		limiter:  limiter,
		captcha:  captcha,
		scorer:   scorer,
		notifier: notifier,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
	}
}

// PreCheck runs before the credential check: lockout first, then the
// CAPTCHA gate. Both guard security-critical actions, so an unavailable
// store denies rather than letting the attempt through.
func (g *Gate) PreCheck(ctx context.Context, subject, captchaToken, ip string) error {
	state, err := g.states.Get(ctx, subject)
	if err != nil {
		g.logger.Error("security state unavailable", slog.Any("error", err))
		return models.ErrDownstreamUnavailable
	}
	if state.Locked(time.Now()) {
		g.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_blocked",
			IPAddress:     ip,
			FailureReason: "account_locked",
			Success:       false,
		})
		return models.ErrAccountLocked
	}

	failures, err := g.limiter.Count(ctx, ratelimit.ScopeLockout, subject)
	if err != nil {
		g.logger.Error("failure counter unavailable", slog.Any("error", err))
		return models.ErrDownstreamUnavailable
	}

	if failures >= int64(g.cfg.CaptchaThreshold) {
		if captchaToken == "" {
			return models.ErrCaptchaRequired
		}
		ok, err := g.captcha.Verify(ctx, captchaToken, ip)
		if err != nil {
			g.logger.Error("captcha verification unavailable", slog.Any("error", err))
			return models.ErrDownstreamUnavailable
		}
		if !ok {
			return models.ErrCaptchaFailed
		}
	}

	return nil
}

// RegisterFailure records a failed password check: bump both failure
// counters, append history, escalate to lockout at the threshold, and
// hold this one request for the progressive delay. The delay is server
// side only and is never disclosed to the client.
func (g *Gate) RegisterFailure(ctx context.Context, subject string, userID *string, client ClientContext, reason string) (*FailureResult, error) {
	consecutive, err := g.states.IncrementFailures(ctx, subject)
	if err != nil {
		g.logger.Error("failed to increment failure count", slog.Any("error", err))
		consecutive = 1
	}

	result, err := g.registerCumulativeFailure(ctx, subject, userID, client, reason)
	if err != nil {
		return nil, err
	}
	result.ConsecutiveFailures = consecutive

	if !result.Locked {
		if err := g.applyDelay(ctx, delayForFailure(consecutive, g.cfg.DelayBase, g.cfg.DelayCap)); err != nil {
			return result, err
		}
	}
	return result, nil
}

// RegisterSecondFactorFailure records a failed challenge verification.
// It counts toward the same cumulative lockout threshold as password
// failures but does not consume delay state.
func (g *Gate) RegisterSecondFactorFailure(ctx context.Context, subject string, userID *string, client ClientContext, reason string) (*FailureResult, error) {
	return g.registerCumulativeFailure(ctx, subject, userID, client, reason)
}

func (g *Gate) registerCumulativeFailure(ctx context.Context, subject string, userID *string, client ClientContext, reason string) (*FailureResult, error) {
	hit, err := g.limiter.Hit(ctx, ratelimit.ScopeLockout, subject)
	if err != nil {
		// Fail closed: without the counter the lockout threshold cannot
		// be enforced.
		g.logger.Error("failure counter unavailable", slog.Any("error", err))
		return nil, models.ErrDownstreamUnavailable
	}

	result := &FailureResult{
		CumulativeFailures:  hit.Count,
		CaptchaRequiredNext: hit.Count >= int64(g.cfg.CaptchaThreshold),
	}

	if hit.Count >= int64(g.cfg.LockoutThreshold) {
		until, tier := g.lock(ctx, subject, userID)
		result.Locked = true
		result.LockedUntil = until
		g.logger.Warn("account locked",
			slog.String("subject", pkglogger.SanitizedEmail(subject)),
			slog.Int64("cumulative_failures", hit.Count),
			slog.Int("tier", tier))
	}

	g.appendAttempt(ctx, subject, userID, client, false, &reason, nil)

	g.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		IPAddress:     client.IPAddress,
		UserAgent:     client.UserAgent,
		FailureReason: reason,
		Success:       false,
	})

	return result, nil
}

// lock escalates the lockout tier and persists the new lock. Duration
// escalates per tier and resets to the base only after an intervening
// success clears the tier.
func (g *Gate) lock(ctx context.Context, subject string, userID *string) (time.Time, int) {
	tier := 1
	if state, err := g.states.Get(ctx, subject); err == nil {
		tier = state.LockoutTier + 1
	}
	if tier > len(g.cfg.LockoutTiers) {
		tier = len(g.cfg.LockoutTiers)
	}

	until := time.Now().Add(g.cfg.LockoutTiers[tier-1])
	if err := g.states.Lock(ctx, subject, until, tier); err != nil {
		g.logger.Error("failed to persist lockout", slog.Any("error", err))
	}

	if userID != nil {
		g.notifier.Notify(*userID, notify.EventAccountLocked, map[string]string{
			"locked_until": until.UTC().Format(time.RFC3339),
		})
	}
	return until, tier
}

// RegisterSuccess handles a successful password check: reset the
// consecutive-failure state, score the attempt against history, append
// it (extending the known set), and notify asynchronously when it is
// anomalous. Anomalies never block.
func (g *Gate) RegisterSuccess(ctx context.Context, user *models.User, subject string, client ClientContext) (*Assessment, error) {
	if err := g.states.ResetFailures(ctx, subject); err != nil {
		g.logger.Error("failed to reset failure count", slog.Any("error", err))
	}

	history, err := g.attempts.RecentSuccesses(ctx, subject, time.Now().Add(-g.cfg.HistoryWindow))
	if err != nil {
		// UX-only signal: score against an empty baseline rather than
		// failing the login.
		g.logger.Error("failed to load login history", slog.Any("error", err))
		history = nil
	}

	assessment := g.scorer.Assess(ctx, history, client, time.Now())

	g.appendAttempt(ctx, subject, &user.ID, client, true, nil, &assessment)

	g.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Success:   true,
	})

	if assessment.Anomalous {
		g.logger.Warn("anomalous login",
			slog.String("user_id", user.ID),
			slog.Float64("score", assessment.Score),
			slog.Any("reasons", assessment.Reasons))
		g.notifier.Notify(user.ID, notify.EventAnomalousLogin, map[string]string{
			"ip":       client.IPAddress,
			"location": assessment.Location.Country,
		})
	}

	return &assessment, nil
}

// RegisterTerminalSuccess clears everything a completed authentication
// resets: lockout, tier, cumulative failure count and the per-user
// verification-attempt quota.
func (g *Gate) RegisterTerminalSuccess(ctx context.Context, subject, userID string) {
	if err := g.states.ClearLockout(ctx, subject); err != nil {
		g.logger.Error("failed to clear lockout state", slog.Any("error", err))
	}
	if err := g.limiter.Reset(ctx, ratelimit.ScopeLockout, subject); err != nil {
		g.logger.Error("failed to reset lockout counter", slog.Any("error", err))
	}
	if err := g.limiter.Reset(ctx, ratelimit.ScopeVerification, userID); err != nil {
		g.logger.Error("failed to reset verification counter", slog.Any("error", err))
	}
}

func (g *Gate) appendAttempt(ctx context.Context, subject string, userID *string, client ClientContext, success bool, reason *string, assessment *Assessment) {
	attempt := &models.LoginAttempt{
		Subject:           subject,
		UserID:            userID,
		IPAddress:         client.IPAddress,
		UserAgent:         client.UserAgent,
		DeviceFingerprint: client.DeviceFingerprint,
		Success:           success,
		FailureReason:     reason,
		ExpiresAt:         time.Now().Add(g.cfg.AttemptRetention),
	}
	if assessment != nil {
		attempt.Anomalous = assessment.Anomalous
		attempt.AnomalyReasons = assessment.Reasons
		attempt.Country = assessment.Location.Country
		attempt.Region = assessment.Location.Region
		attempt.City = assessment.Location.City
	}

	if err := g.attempts.Record(ctx, attempt); err != nil {
		g.logger.Error("failed to record login attempt", slog.Any("error", err))
	}
}

// applyDelay blocks only the calling request, holding no locks while it
// waits, and returns early if the caller goes away.
func (g *Gate) applyDelay(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// delayForFailure computes the progressive delay for the nth consecutive
// failure: base doubling per failure, capped.
func delayForFailure(n int, base, cap time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
