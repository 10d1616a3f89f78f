package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/challenge"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/ratelimit"
	"github.com/BradenHooton/bastion/internal/risk"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
)

// UserRepository defines the user lookups the login flow needs.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// RiskGate is the escalation state machine wrapped around every
// credential check.
type RiskGate interface {
	PreCheck(ctx context.Context, subject, captchaToken, ip string) error
	RegisterFailure(ctx context.Context, subject string, userID *string, client risk.ClientContext, reason string) (*risk.FailureResult, error)
	RegisterSuccess(ctx context.Context, user *models.User, subject string, client risk.ClientContext) (*risk.Assessment, error)
	RegisterTerminalSuccess(ctx context.Context, subject, userID string)
}

// ChallengeOrchestrator drives the second-factor challenge lifecycle.
type ChallengeOrchestrator interface {
	Issue(ctx context.Context, user *models.User) (*models.Challenge, error)
	Verify(ctx context.Context, token, code string, useBackup bool, client risk.ClientContext) (*challenge.VerifyResult, error)
}

// dummyHash absorbs a bcrypt comparison when the identifier matches no
// user, so both branches cost the same.
const dummyHash = "$2a$14$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// LoginResponse is the outcome of a password check: either a finished
// authentication carrying a grant, or a pending second-factor challenge.
type LoginResponse struct {
	Status               string                      `json:"status"`
	Grant                string                      `json:"grant,omitempty"`
	ChallengeToken       string                      `json:"challenge_token,omitempty"`
	Method               models.SecondFactorMethod   `json:"method,omitempty"`
	AvailableMethods     []models.SecondFactorMethod `json:"available_methods,omitempty"`
	PhoneMasked          string                      `json:"phone_masked,omitempty"`
	ChallengeExpiresAt   *time.Time                  `json:"challenge_expires_at,omitempty"`
	BackupCodesRemaining int                         `json:"backup_codes_remaining,omitempty"`
}

const (
	StatusAuthenticated     = "authenticated"
	StatusChallengeRequired = "challenge_required"
)

// LoginService runs the password leg of authentication and hands
// completed checks to the orchestrator or the grant manager.
type LoginService struct {
	users        UserRepository
	gate         RiskGate
	orchestrator ChallengeOrchestrator
	grants       *auth.GrantManager
	timing       *auth.TimingDelay
	limiter      *ratelimit.Limiter
	logger       *slog.Logger
}

func NewLoginService(
	users UserRepository,
	gate RiskGate,
	orchestrator ChallengeOrchestrator,
	grants *auth.GrantManager,
	timing *auth.TimingDelay,
	limiter *ratelimit.Limiter,
	logger *slog.Logger,
) *LoginService {
	return &LoginService{
		users:        users,
		gate:         gate,
		orchestrator: orchestrator,
		grants:       grants,
		timing:       timing,
		limiter:      limiter,
		logger:       logger,
	}
}

// Login checks the password and decides what comes next: a grant when no
// second factor is enrolled, or a challenge when one is. Every failure
// path reports the same invalid-credentials error and is timing
// equalized against the success path.
func (s *LoginService) Login(ctx context.Context, email, password, captchaToken string, client risk.ClientContext) (*LoginResponse, error) {
	start := time.Now()
	subject := normalizeIdentifier(email)
	if subject == "" {
		return nil, models.ErrInvalidCredentials
	}

	throttle, err := s.limiter.Hit(ctx, ratelimit.ScopeChallengeInit, client.IPAddress)
	if err != nil {
		s.logger.Error("initiation throttle unavailable", slog.Any("error", err))
		return nil, models.ErrDownstreamUnavailable
	}
	if !throttle.Allowed {
		return nil, models.ErrRateLimited
	}

	if err := s.gate.PreCheck(ctx, subject, captchaToken, client.IPAddress); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Burn a bcrypt comparison so unknown identifiers cost the
			// same as wrong passwords.
			_ = pkgauth.ComparePassword(dummyHash, password)
			return nil, s.failLogin(ctx, start, subject, nil, client, "unknown_identifier")
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrDownstreamUnavailable
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, s.failLogin(ctx, start, subject, &user.ID, client, "invalid_credentials")
	}

	// Suspended and disabled accounts get the same generic answer as a
	// wrong password, but a correct password never feeds the counters.
	if user.Status != "" && user.Status != "active" {
		s.logger.Info("login blocked due to account state", slog.String("user_id", user.ID))
		s.timing.WaitFrom(start, false)
		return nil, models.ErrInvalidCredentials
	}

	if _, err := s.gate.RegisterSuccess(ctx, user, subject, client); err != nil {
		s.logger.Error("failed to register login success", slog.Any("error", err))
	}

	if !user.SecondFactorEnabled() {
		grant, err := s.grants.Generate(user.ID, user.Email)
		if err != nil {
			s.logger.Error("failed to generate grant", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		s.gate.RegisterTerminalSuccess(ctx, subject, user.ID)
		s.timing.WaitFrom(start, true)
		return &LoginResponse{Status: StatusAuthenticated, Grant: grant}, nil
	}

	ch, err := s.orchestrator.Issue(ctx, user)
	if err != nil {
		return nil, err
	}

	s.timing.WaitFrom(start, true)
	expiresAt := ch.ExpiresAt
	return &LoginResponse{
		Status:             StatusChallengeRequired,
		ChallengeToken:     ch.Token,
		Method:             ch.Method,
		AvailableMethods:   user.EnabledMethods(),
		PhoneMasked:        user.PhoneMasked,
		ChallengeExpiresAt: &expiresAt,
	}, nil
}

// failLogin records the failure with the gate (which applies the
// progressive delay or reports a fresh lockout), then equalizes timing.
func (s *LoginService) failLogin(ctx context.Context, start time.Time, subject string, userID *string, client risk.ClientContext, reason string) error {
	result, err := s.gate.RegisterFailure(ctx, subject, userID, client, reason)
	if err != nil {
		return err
	}
	s.timing.WaitFrom(start, false)
	if result.Locked {
		return models.ErrAccountLocked
	}
	return models.ErrInvalidCredentials
}

// CompleteChallenge verifies a second-factor code and mints the grant
// when the challenge resolves.
func (s *LoginService) CompleteChallenge(ctx context.Context, token, code string, useBackup bool, client risk.ClientContext) (*LoginResponse, error) {
	result, err := s.orchestrator.Verify(ctx, token, code, useBackup, client)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, result.UserID)
	if err != nil {
		s.logger.Error("failed to load verified user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	grant, err := s.grants.Generate(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate grant", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	resp := &LoginResponse{Status: StatusAuthenticated, Grant: grant}
	if result.UsedBackupCode {
		resp.BackupCodesRemaining = result.BackupCodesRemaining
	}
	return resp, nil
}

// normalizeIdentifier canonicalizes the login identifier so throttles,
// counters and lockouts key consistently.
func normalizeIdentifier(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
