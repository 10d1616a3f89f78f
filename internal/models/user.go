package models

import (
	"time"
)

// SecondFactorMethod identifies how a user proves possession of a second factor.
type SecondFactorMethod string

const (
	MethodTOTP   SecondFactorMethod = "TOTP"
	MethodSMS    SecondFactorMethod = "SMS"
	MethodBackup SecondFactorMethod = "BACKUP"
)

// ValidSwitchTarget reports whether m can be the bound method of a challenge.
// Backup codes are an alternate submission path, never a bound method.
func (m SecondFactorMethod) ValidSwitchTarget() bool {
	return m == MethodTOTP || m == MethodSMS
}

// User is the slice of the external user record this core consumes:
// identity, credential hash, account status and second-factor material.
// Registration, password reset and profile management live elsewhere.
type User struct {
	ID              string
	Email           string
	Name            string
	PasswordHash    string
	Status          string // "active", "suspended", "disabled"
	TOTPEnabled     bool
	TOTPSecret      string // opaque; passed through to the code verifier
	SMSEnabled      bool
	PhoneNumber     string // E.164, only dispatched to, never rendered
	PhoneMasked     string // e.g. "+1••••••1234", safe for responses
	PreferredMethod SecondFactorMethod
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SecondFactorEnabled reports whether the user must pass a challenge after
// the password check.
func (u *User) SecondFactorEnabled() bool {
	return u.TOTPEnabled || u.SMSEnabled
}

// EnabledMethods lists the challenge methods the user can be bound to,
// preferred method first.
func (u *User) EnabledMethods() []SecondFactorMethod {
	var methods []SecondFactorMethod
	if u.PreferredMethod == MethodSMS {
		if u.SMSEnabled {
			methods = append(methods, MethodSMS)
		}
		if u.TOTPEnabled {
			methods = append(methods, MethodTOTP)
		}
		return methods
	}
	if u.TOTPEnabled {
		methods = append(methods, MethodTOTP)
	}
	if u.SMSEnabled {
		methods = append(methods, MethodSMS)
	}
	return methods
}

// HasMethod reports whether the given method is enabled for the user.
func (u *User) HasMethod(m SecondFactorMethod) bool {
	switch m {
	case MethodTOTP:
		return u.TOTPEnabled
	case MethodSMS:
		return u.SMSEnabled
	}
	return false
}
