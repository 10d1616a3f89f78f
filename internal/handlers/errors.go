package handlers

import (
	"errors"
	"net/http"

	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// writeDomainError maps a taxonomy error to an HTTP status and wire
// code. Messages stay generic so nothing leaks which branch failed;
// verification failures additionally carry attempts_remaining or
// locked_until when the flow computed them.
func writeDomainError(w http.ResponseWriter, err error) {
	code := models.ErrorCode(err)

	var verr *models.VerificationError
	errors.As(err, &verr)

	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteError(w, http.StatusUnauthorized, code, "Authentication failed")
	case errors.Is(err, models.ErrCaptchaRequired):
		pkghttp.WriteError(w, http.StatusForbidden, code, "Complete the CAPTCHA to continue")
	case errors.Is(err, models.ErrCaptchaFailed):
		pkghttp.WriteError(w, http.StatusForbidden, code, "CAPTCHA verification failed")
	case errors.Is(err, models.ErrAccountLocked):
		resp := pkghttp.ErrorResponse{Error: code, Message: "Too many failed attempts. Please try again later."}
		if verr != nil {
			resp.LockedUntil = verr.LockedUntil
		}
		pkghttp.WriteErrorResponse(w, http.StatusTooManyRequests, resp)
	case errors.Is(err, models.ErrRateLimited):
		pkghttp.WriteError(w, http.StatusTooManyRequests, code, "Too many requests. Please try again later.")
	case errors.Is(err, models.ErrChallengeExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, code, "Challenge expired. Please sign in again.")
	case errors.Is(err, models.ErrChallengeInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, code, "Challenge is no longer valid")
	case errors.Is(err, models.ErrChallengeExhausted):
		pkghttp.WriteError(w, http.StatusUnauthorized, code, "Challenge budget exhausted. Please sign in again.")
	case errors.Is(err, models.ErrCodeMismatch):
		resp := pkghttp.ErrorResponse{Error: code, Message: "Verification failed"}
		if verr != nil {
			resp.AttemptsRemaining = verr.AttemptsRemaining
		}
		pkghttp.WriteErrorResponse(w, http.StatusUnauthorized, resp)
	case errors.Is(err, models.ErrCodeAlreadyUsed):
		pkghttp.WriteError(w, http.StatusUnauthorized, code, "Code is no longer valid. Request a new one.")
	case errors.Is(err, models.ErrNoSecondFactor):
		pkghttp.WriteError(w, http.StatusBadRequest, code, "Requested method is not available")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrDownstreamUnavailable):
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
