package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const grantTestSecret = "test-secret-at-least-32-chars-long!"

func TestGrantManager_RoundTrip(t *testing.T) {
	gm := NewGrantManager(grantTestSecret, 5*time.Minute)

	grant, err := gm.Generate("user123", "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, grant)

	claims, err := gm.Validate(grant)
	require.NoError(t, err)
	assert.Equal(t, "grant", claims.Type)
	assert.Equal(t, "user123", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID, "every grant carries a unique jti")
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestGrantManager_UniquePerIssue(t *testing.T) {
	gm := NewGrantManager(grantTestSecret, 5*time.Minute)

	a, err := gm.Generate("user123", "user@example.com")
	require.NoError(t, err)
	b, err := gm.Generate("user123", "user@example.com")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestGrantManager_ExpiredGrant(t *testing.T) {
	gm := NewGrantManager(grantTestSecret, -time.Minute)

	grant, err := gm.Generate("user123", "user@example.com")
	require.NoError(t, err)

	_, err = gm.Validate(grant)
	assert.Error(t, err)
}

func TestGrantManager_WrongSecret(t *testing.T) {
	gm := NewGrantManager(grantTestSecret, 5*time.Minute)
	other := NewGrantManager("a-completely-different-signing-key!!", 5*time.Minute)

	grant, err := gm.Generate("user123", "user@example.com")
	require.NoError(t, err)

	_, err = other.Validate(grant)
	assert.Error(t, err)
}

func TestGrantManager_TamperedGrant(t *testing.T) {
	gm := NewGrantManager(grantTestSecret, 5*time.Minute)

	grant, err := gm.Generate("user123", "user@example.com")
	require.NoError(t, err)

	_, err = gm.Validate(grant[:len(grant)-2] + "xx")
	assert.Error(t, err)
}

func TestGrantManager_RejectsWrongTokenType(t *testing.T) {
	gm := NewGrantManager(grantTestSecret, 5*time.Minute)

	// A structurally valid HS256 token that is not a grant.
	claims := &GrantClaims{
		Type:   "refresh",
		UserID: "user123",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(grantTestSecret))
	require.NoError(t, err)

	_, err = gm.Validate(token)
	assert.ErrorContains(t, err, "wrong type")
}

func TestGrantManager_RejectsUnsignedToken(t *testing.T) {
	gm := NewGrantManager(grantTestSecret, 5*time.Minute)

	claims := &GrantClaims{Type: "grant", UserID: "user123"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = gm.Validate(token)
	assert.Error(t, err)
}
