package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/bastion/internal/models"
)

// GrantClaims are the claims of a completed-authentication grant. The
// grant is single-purpose: it attests that password and second factor
// both passed, and a session layer exchanges it for real credentials.
type GrantClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// GrantManager mints and validates short-lived authentication grants.
type GrantManager struct {
	secret []byte
	expiry time.Duration
}

func NewGrantManager(secret string, expiry time.Duration) *GrantManager {
	return &GrantManager{
		secret: []byte(secret),
		expiry: expiry,
	}
}

// Generate creates a grant for a user whose authentication just
// completed end to end.
func (gm *GrantManager) Generate(userID, email string) (string, error) {
	now := time.Now()
	claims := &GrantClaims{
		Type:   "grant",
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(gm.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(gm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign grant: %w", err)
	}
	return tokenString, nil
}

// Validate verifies a grant and returns its claims.
func (gm *GrantManager) Validate(tokenString string) (*GrantClaims, error) {
	claims := &GrantClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return gm.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse grant: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrBadRequest
	}
	if claims.Type != "grant" {
		return nil, fmt.Errorf("invalid token: wrong type")
	}
	return claims, nil
}
