package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  string
	}{
		{"typical address", "user@example.com", "u***@*******.com"},
		{"single char username", "a@example.com", "a@*******.com"},
		{"subdomain", "user@mail.example.com", "u***@****.*******.com"},
		{"no at sign", "not-an-email", "[invalid-email]"},
		{"multiple at signs", "a@b@c.com", "[invalid-email]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizedEmail(tt.email))
		})
	}
}

func TestRedactedAttr(t *testing.T) {
	attr := RedactedAttr("email", "user@example.com", "production")
	assert.Equal(t, "[REDACTED]", attr.Value.String())

	attr = RedactedAttr("email", "user@example.com", "development")
	assert.Equal(t, "user@example.com", attr.Value.String())
}

func TestSanitizeQueryString(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"password=hunter22", true},
		{"challenge_token=abc", true},
		{"code=123456", true},
		{"captcha_response=xyz", true},
		{"email=user%40example.com", true},
		{"page=2&limit=50", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeQueryString(tt.query), tt.query)
	}
}
