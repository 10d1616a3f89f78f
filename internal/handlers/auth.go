package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/risk"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// LoginServiceInterface defines the interface for the login flow
type LoginServiceInterface interface {
	Login(ctx context.Context, email, password, captchaToken string, client risk.ClientContext) (*services.LoginResponse, error)
	CompleteChallenge(ctx context.Context, token, code string, useBackup bool, client risk.ClientContext) (*services.LoginResponse, error)
}

// ChallengeFlowInterface defines the challenge operations that do not
// resolve the login: switching method, resending a code, and status.
type ChallengeFlowInterface interface {
	Switch(ctx context.Context, token string, target models.SecondFactorMethod) (*models.Challenge, error)
	Resend(ctx context.Context, token string) (int, error)
	Status(ctx context.Context, token string) (*models.Challenge, int, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service    LoginServiceInterface
	challenges ChallengeFlowInterface
	grants     *auth.GrantManager
	ipConfig   *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service LoginServiceInterface, challenges ChallengeFlowInterface, grants *auth.GrantManager, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:    service,
		challenges: challenges,
		grants:     grants,
		ipConfig:   ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required"`
	CaptchaToken string `json:"captcha_token,omitempty"`
}

// VerifyChallengeRequest represents the request body for code verification
type VerifyChallengeRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Code           string `json:"code" validate:"required,min=6,max=10"`
	UseBackupCode  bool   `json:"use_backup_code,omitempty"`
}

// SwitchMethodRequest represents the request body for a method switch
type SwitchMethodRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Method         string `json:"method" validate:"required,oneof=totp sms TOTP SMS"`
}

// ResendCodeRequest represents the request body for an SMS code resend
type ResendCodeRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
}

// IntrospectGrantRequest represents the request body for grant introspection
type IntrospectGrantRequest struct {
	Grant string `json:"grant" validate:"required"`
}

// Response DTOs

// ChallengeResponse describes a pending challenge back to the client
type ChallengeResponse struct {
	ChallengeToken string    `json:"challenge_token"`
	Method         string    `json:"method"`
	Status         string    `json:"status"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ChallengeStatusResponse adds the remaining attempt budget
type ChallengeStatusResponse struct {
	ChallengeResponse
	AttemptsRemaining int `json:"attempts_remaining"`
}

// ResendResponse reports the remaining resend budget
type ResendResponse struct {
	ResendsRemaining int `json:"resends_remaining"`
}

// GrantIntrospection is the introspection result for a valid grant
type GrantIntrospection struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// clientContext assembles the per-request risk signals. The device
// fingerprint comes from the client when provided, otherwise it is
// derived server side.
func (h *AuthHandler) clientContext(r *http.Request) risk.ClientContext {
	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	ua := r.Header.Get("User-Agent")

	fingerprint := r.Header.Get("X-Device-Fingerprint")
	if fingerprint == "" {
		fingerprint = risk.Fingerprint(ip, ua)
	}

	return risk.ClientContext{
		IPAddress:         ip,
		UserAgent:         ua,
		DeviceFingerprint: fingerprint,
	}
}

// Login handles the password leg of authentication
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.service.Login(r.Context(), req.Email, req.Password, req.CaptchaToken, h.clientContext(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// VerifyChallenge handles a second-factor code submission
func (h *AuthHandler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req VerifyChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.service.CompleteChallenge(r.Context(), req.ChallengeToken, req.Code, req.UseBackupCode, h.clientContext(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// SwitchMethod handles a second-factor method switch
func (h *AuthHandler) SwitchMethod(w http.ResponseWriter, r *http.Request) {
	var req SwitchMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	target := models.SecondFactorMethod(strings.ToUpper(req.Method))
	ch, err := h.challenges.Switch(r.Context(), req.ChallengeToken, target)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ChallengeResponse{
		ChallengeToken: ch.Token,
		Method:         string(ch.Method),
		Status:         string(ch.Status),
		ExpiresAt:      ch.ExpiresAt,
	})
}

// ResendCode handles an SMS code resend
func (h *AuthHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	var req ResendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	remaining, err := h.challenges.Resend(r.Context(), req.ChallengeToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ResendResponse{ResendsRemaining: remaining})
}

// ChallengeStatus reports the state of a pending challenge
func (h *AuthHandler) ChallengeStatus(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		pkghttp.WriteBadRequest(w, "Missing challenge token")
		return
	}

	ch, remaining, err := h.challenges.Status(r.Context(), token)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ChallengeStatusResponse{
		ChallengeResponse: ChallengeResponse{
			ChallengeToken: ch.Token,
			Method:         string(ch.Method),
			Status:         string(ch.Status),
			ExpiresAt:      ch.ExpiresAt,
		},
		AttemptsRemaining: remaining,
	})
}

// IntrospectGrant validates a completed-authentication grant for the
// session layer
func (h *AuthHandler) IntrospectGrant(w http.ResponseWriter, r *http.Request) {
	var req IntrospectGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	claims, err := h.grants.Validate(req.Grant)
	if err != nil {
		pkghttp.WriteUnauthorized(w, "Grant is not valid")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, GrantIntrospection{
		UserID:    claims.UserID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}
