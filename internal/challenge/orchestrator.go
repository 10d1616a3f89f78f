package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/codes"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/ratelimit"
	"github.com/BradenHooton/bastion/internal/risk"
	"github.com/BradenHooton/bastion/internal/sms"
	"github.com/BradenHooton/bastion/internal/store"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/google/uuid"
)

// UserFetcher resolves the owning user of a challenge.
type UserFetcher interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// RiskRecorder is the slice of the risk gate the orchestrator feeds:
// second-factor failures count toward the same lockout threshold as
// password failures, and a terminal success clears it.
type RiskRecorder interface {
	RegisterSecondFactorFailure(ctx context.Context, subject string, userID *string, client risk.ClientContext, reason string) (*risk.FailureResult, error)
	RegisterTerminalSuccess(ctx context.Context, subject, userID string)
}

// Config holds the challenge lifecycle budgets.
type Config struct {
	TTL         time.Duration
	MaxAttempts int
	MaxSwitches int
}

// VerifyResult reports a successful verification to the caller, which
// finalizes the session (an external collaborator's job).
type VerifyResult struct {
	UserID               string
	Method               models.SecondFactorMethod
	UsedBackupCode       bool
	BackupCodesRemaining int
}

// Orchestrator issues, tracks and resolves second-factor challenges.
// At most one non-terminal challenge exists per login session: issuing
// happens once per password success, and switching supersedes atomically.
type Orchestrator struct {
	challenges *store.ChallengeStore
	totp       *codes.TOTPVerifier
	sms        *codes.SMSVerifier
	backup     *codes.BackupVerifier
	users      UserFetcher
	limiter    *ratelimit.Limiter
	gate       RiskRecorder
	smsSender  sms.Sender
	audit      *pkglogger.AuditLogger
	logger     *slog.Logger
	cfg        Config
}

func NewOrchestrator(
	challenges *store.ChallengeStore,
	totp *codes.TOTPVerifier,
	smsVerifier *codes.SMSVerifier,
	backup *codes.BackupVerifier,
	users UserFetcher,
	limiter *ratelimit.Limiter,
	gate RiskRecorder,
	smsSender sms.Sender,
	audit *pkglogger.AuditLogger,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		challenges: challenges,
		totp:       totp,
		sms:        smsVerifier,
		backup:     backup,
		users:      users,
		limiter:    limiter,
		gate:       gate,
		smsSender:  smsSender,
		audit:      audit,
		logger:     logger,
		cfg:        cfg,
	}
}

// Issue creates a challenge bound to the user's preferred method after a
// successful password check. SMS issuance also dispatches a fresh code.
func (o *Orchestrator) Issue(ctx context.Context, user *models.User) (*models.Challenge, error) {
	methods := user.EnabledMethods()
	if len(methods) == 0 {
		return nil, models.ErrNoSecondFactor
	}

	ch := &models.Challenge{
		Token:     newToken(),
		UserID:    user.ID,
		Method:    methods[0],
		Status:    models.ChallengePending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(o.cfg.TTL),
		LineageID: uuid.New().String(),
	}

	if err := o.challenges.Create(ctx, ch); err != nil {
		o.logger.Error("failed to create challenge", slog.Any("error", err))
		return nil, models.ErrDownstreamUnavailable
	}

	if ch.Method == models.MethodSMS {
		if err := o.dispatchSMS(ctx, ch.Token, user); err != nil {
			_ = o.challenges.SetStatus(ctx, ch.Token, models.ChallengeExpired)
			return nil, err
		}
	}

	o.audit.LogChallengeEvent(pkglogger.AuditEvent{
		EventType: "challenge_issued",
		UserID:    user.ID,
		Success:   true,
		Metadata:  map[string]string{"method": string(ch.Method)},
	})
	return ch, nil
}

// Verify resolves a code submission against a challenge. Quota and state
// checks run before any cryptographic work; counters only move when a
// verification is actually attempted.
func (o *Orchestrator) Verify(ctx context.Context, token, code string, useBackup bool, client risk.ClientContext) (*VerifyResult, error) {
	ch, err := o.load(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := o.users.GetByID(ctx, ch.UserID)
	if err != nil {
		o.logger.Error("failed to load challenge owner", slog.Any("error", err))
		return nil, models.ErrChallengeInvalid
	}
	subject := strings.ToLower(user.Email)

	// Per-challenge budget first: once spent, the challenge is dead.
	if ch.AttemptsUsed >= o.cfg.MaxAttempts {
		_ = o.challenges.SetStatus(ctx, token, models.ChallengeExhausted)
		return nil, models.ErrChallengeExhausted
	}

	// Per-user quota fails closed: an unavailable counter denies.
	userQuota, err := o.limiter.Hit(ctx, ratelimit.ScopeVerification, user.ID)
	if err != nil {
		o.logger.Error("verification quota unavailable", slog.Any("error", err))
		return nil, models.ErrDownstreamUnavailable
	}
	if !userQuota.Allowed {
		return nil, models.ErrRateLimited
	}

	attempts, err := o.challenges.IncrementAttempts(ctx, token)
	if err != nil {
		o.logger.Error("attempt counter unavailable", slog.Any("error", err))
		return nil, models.ErrDownstreamUnavailable
	}

	outcome, result, err := o.checkCode(ctx, ch, user, code, useBackup)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case codes.OutcomeOK:
		won, err := o.challenges.MarkVerified(ctx, token)
		if err != nil {
			return nil, models.ErrDownstreamUnavailable
		}
		if !won {
			// A concurrent submission of the same code got there first.
			return nil, models.ErrCodeAlreadyUsed
		}

		o.gate.RegisterTerminalSuccess(ctx, subject, user.ID)
		o.audit.LogChallengeEvent(pkglogger.AuditEvent{
			EventType: "challenge_verified",
			UserID:    user.ID,
			IPAddress: client.IPAddress,
			Success:   true,
			Metadata:  map[string]string{"method": string(ch.Method), "backup": fmt.Sprintf("%t", useBackup)},
		})
		return result, nil

	case codes.OutcomeExpired, codes.OutcomeAlreadyUsed:
		// The code is gone; the client needs a fresh one, not a retry.
		o.recordVerifyFailure(ctx, subject, user.ID, client, outcome)
		return nil, models.ErrCodeAlreadyUsed

	case codes.OutcomeExhausted:
		// Backup code set depleted.
		o.recordVerifyFailure(ctx, subject, user.ID, client, outcome)
		return nil, models.ErrChallengeExhausted

	default: // mismatch
		failure, ferr := o.recordVerifyFailure(ctx, subject, user.ID, client, outcome)
		if ferr == nil && failure != nil && failure.Locked {
			verr := &models.VerificationError{Err: models.ErrAccountLocked}
			if !failure.LockedUntil.IsZero() {
				verr.LockedUntil = &failure.LockedUntil
			}
			return nil, verr
		}
		if attempts >= o.cfg.MaxAttempts {
			_ = o.challenges.SetStatus(ctx, token, models.ChallengeExhausted)
		}
		rem := o.remaining(attempts)
		return nil, &models.VerificationError{Err: models.ErrCodeMismatch, AttemptsRemaining: &rem}
	}
}

func (o *Orchestrator) checkCode(ctx context.Context, ch *models.Challenge, user *models.User, code string, useBackup bool) (codes.Outcome, *VerifyResult, error) {
	result := &VerifyResult{UserID: user.ID, Method: ch.Method}

	if useBackup {
		outcome, remaining, err := o.backup.Verify(ctx, user.ID, code)
		if err != nil {
			o.logger.Error("backup code verification failed", slog.Any("error", err))
			return outcome, nil, models.ErrDownstreamUnavailable
		}
		result.UsedBackupCode = true
		result.BackupCodesRemaining = remaining
		return outcome, result, nil
	}

	switch ch.Method {
	case models.MethodTOTP:
		outcome, err := o.totp.Verify(ctx, user.ID, user.TOTPSecret, code, time.Now())
		if err != nil {
			o.logger.Error("totp verification failed", slog.Any("error", err))
			return outcome, nil, models.ErrDownstreamUnavailable
		}
		return outcome, result, nil
	case models.MethodSMS:
		outcome, err := o.sms.Verify(ctx, ch.Token, code)
		if err != nil {
			o.logger.Error("sms code verification failed", slog.Any("error", err))
			return outcome, nil, models.ErrDownstreamUnavailable
		}
		return outcome, result, nil
	default:
		return codes.OutcomeMismatch, nil, models.ErrChallengeInvalid
	}
}

// Switch supersedes the current challenge with a fresh one bound to a
// different method. The switch budget spans the whole lineage.
func (o *Orchestrator) Switch(ctx context.Context, token string, target models.SecondFactorMethod) (*models.Challenge, error) {
	ch, err := o.load(ctx, token)
	if err != nil {
		return nil, err
	}

	if !target.ValidSwitchTarget() || target == ch.Method {
		return nil, models.ErrBadRequest
	}

	user, err := o.users.GetByID(ctx, ch.UserID)
	if err != nil {
		return nil, models.ErrChallengeInvalid
	}
	if len(user.EnabledMethods()) < 2 || !user.HasMethod(target) {
		return nil, models.ErrNoSecondFactor
	}

	if ch.SwitchesUsed >= o.cfg.MaxSwitches {
		return nil, models.ErrChallengeExhausted
	}

	successor := &models.Challenge{
		Token:        newToken(),
		UserID:       ch.UserID,
		Method:       target,
		Status:       models.ChallengePending,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(o.cfg.TTL),
		SwitchesUsed: ch.SwitchesUsed + 1,
		LineageID:    ch.LineageID,
	}

	// Supersede first: the old token dies before the new one works, so
	// no lineage ever has two live challenges.
	won, err := o.challenges.Supersede(ctx, token, successor.Token)
	if err != nil {
		return nil, models.ErrDownstreamUnavailable
	}
	if !won {
		return nil, models.ErrChallengeInvalid
	}

	if ch.Method == models.MethodSMS {
		if err := o.sms.Invalidate(ctx, token); err != nil {
			o.logger.Error("failed to invalidate superseded sms code", slog.Any("error", err))
		}
	}

	if err := o.challenges.Create(ctx, successor); err != nil {
		o.logger.Error("failed to create successor challenge", slog.Any("error", err))
		return nil, models.ErrDownstreamUnavailable
	}

	if target == models.MethodSMS {
		if err := o.dispatchSMS(ctx, successor.Token, user); err != nil {
			_ = o.challenges.SetStatus(ctx, successor.Token, models.ChallengeExpired)
			return nil, err
		}
	}

	o.audit.LogChallengeEvent(pkglogger.AuditEvent{
		EventType: "challenge_method_switched",
		UserID:    user.ID,
		Success:   true,
		Metadata: map[string]string{
			"from": string(ch.Method),
			"to":   string(target),
		},
	})
	return successor, nil
}

// Resend issues a fresh SMS code for a pending challenge. The prior code
// dies immediately; the challenge's own expiry and attempt budget do not
// move.
func (o *Orchestrator) Resend(ctx context.Context, token string) (int, error) {
	ch, err := o.load(ctx, token)
	if err != nil {
		return 0, err
	}
	if ch.Method != models.MethodSMS {
		return 0, models.ErrBadRequest
	}

	user, err := o.users.GetByID(ctx, ch.UserID)
	if err != nil {
		return 0, models.ErrChallengeInvalid
	}

	quota, err := o.limiter.Hit(ctx, ratelimit.ScopeResend, user.ID)
	if err != nil {
		o.logger.Error("resend quota unavailable", slog.Any("error", err))
		return 0, models.ErrDownstreamUnavailable
	}
	if !quota.Allowed {
		return 0, models.ErrRateLimited
	}

	if err := o.dispatchSMS(ctx, token, user); err != nil {
		return quota.Remaining, err
	}

	o.audit.LogChallengeEvent(pkglogger.AuditEvent{
		EventType: "challenge_code_resent",
		UserID:    user.ID,
		Success:   true,
	})
	return quota.Remaining, nil
}

// Status reports the challenge's method, expiry and remaining attempts.
func (o *Orchestrator) Status(ctx context.Context, token string) (*models.Challenge, int, error) {
	ch, err := o.load(ctx, token)
	if err != nil {
		return nil, 0, err
	}
	return ch, o.remaining(ch.AttemptsUsed), nil
}

// load fetches a challenge and enforces its lifecycle: unknown tokens,
// terminal statuses and lazy expiry all stop the caller here.
func (o *Orchestrator) load(ctx context.Context, token string) (*models.Challenge, error) {
	if token == "" {
		return nil, models.ErrChallengeInvalid
	}

	ch, err := o.challenges.Get(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrChallengeInvalid
		}
		o.logger.Error("challenge load failed", slog.Any("error", err))
		return nil, models.ErrDownstreamUnavailable
	}

	switch ch.Status {
	case models.ChallengePending:
	case models.ChallengeExpired:
		return nil, models.ErrChallengeExpired
	case models.ChallengeExhausted:
		return nil, models.ErrChallengeExhausted
	default:
		return nil, models.ErrChallengeInvalid
	}

	// Expiry is recomputed from the stored timestamp at every check.
	if ch.ExpiredAt(time.Now()) {
		_ = o.challenges.SetStatus(ctx, token, models.ChallengeExpired)
		return nil, models.ErrChallengeExpired
	}
	return ch, nil
}

func (o *Orchestrator) dispatchSMS(ctx context.Context, token string, user *models.User) error {
	code, err := o.sms.Issue(ctx, token)
	if err != nil {
		o.logger.Error("failed to issue sms code", slog.Any("error", err))
		return models.ErrDownstreamUnavailable
	}
	if err := o.smsSender.Send(ctx, user.PhoneNumber, code); err != nil {
		o.logger.Error("sms dispatch failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrDownstreamUnavailable
	}
	return nil
}

func (o *Orchestrator) recordVerifyFailure(ctx context.Context, subject, userID string, client risk.ClientContext, outcome codes.Outcome) (*risk.FailureResult, error) {
	reason := "code_" + outcome.String()
	failure, err := o.gate.RegisterSecondFactorFailure(ctx, subject, &userID, client, reason)
	if err != nil {
		o.logger.Error("failed to record verification failure", slog.Any("error", err))
		return nil, err
	}
	return failure, nil
}

func (o *Orchestrator) remaining(attemptsUsed int) int {
	remaining := o.cfg.MaxAttempts - attemptsUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// newToken returns an opaque, unguessable challenge token.
func newToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
