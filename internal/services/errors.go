package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/AnshRaj112/techphono-security/internal/database"
	"github.com/AnshRaj112/techphono-security/pkg/utils"
)

var (
	// ErrStoreUnavailable is re-exported so callers need not import the
	// database package to test for it.
	ErrStoreUnavailable = database.ErrStoreUnavailable

	ErrCipherFailure      = errors.New("cipher failure")
	ErrInvalidIdentifier  = errors.New("invalid identifier")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotSignedIn        = errors.New("not signed in")
	ErrIdentityProvider   = errors.New("identity provider unavailable")
	ErrAccountExists      = errors.New("account already exists")
)

const genericMessage = "Something went wrong. Please try again."

// LockedOutError is returned when an identifier is locked out.
type LockedOutError struct {
	Identifier string
	Remaining  time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("Too many failed attempts. Please try again in %d minutes.", minutesCeil(e.Remaining))
}

// RateLimitedError is returned when a sliding window denies a request.
type RateLimitedError struct {
	Remaining time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("Too many requests. Please try again in %d minutes.", minutesCeil(e.Remaining))
}

func minutesCeil(d time.Duration) int {
	m := int(math.Ceil(d.Minutes()))
	if m < 1 {
		return 1
	}
	return m
}

// UserMessage maps an error to text safe to show in the UI. Lockouts and
// limits name the wait; validation errors carry their own message; anything
// else is generic.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var locked *LockedOutError
	if errors.As(err, &locked) {
		return locked.Error()
	}
	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return limited.Error()
	}
	var validation *utils.ValidationError
	if errors.As(err, &validation) {
		return validation.Message
	}
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrAccountExists):
		return "An account with this email already exists."
	case errors.Is(err, ErrNotSignedIn):
		return "Please sign in to continue."
	}
	return genericMessage
}
