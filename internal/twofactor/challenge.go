// Package twofactor implements the short-lived OTP challenge that sits
// between a login response flagged requiresTwoFactor and a finalized
// session. The server embeds the OTP and its expiry inside the temp token
// itself, so verification is entirely local; there is no resend, a failed
// or abandoned challenge requires a fresh login.
package twofactor

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/netvilleplus/sessionkit/internal/token"
)

// State tracks where a challenge is in its lifecycle. Every state other
// than AwaitingCode is terminal.
type State int

const (
	StateAwaitingCode State = iota
	StateVerified
	StateFailed
	StateCancelled
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateAwaitingCode:
		return "awaiting_code"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

var (
	// ErrOTPMismatch is deliberately generic. The expected code must never
	// leak through an error message.
	ErrOTPMismatch = errors.New("invalid OTP code")

	ErrOTPExpired = errors.New("OTP has expired")

	// ErrChallengeSettled is returned when submit or cancel is called on a
	// challenge that already reached a terminal state.
	ErrChallengeSettled = errors.New("challenge already settled")
)

// Challenge holds the decoded temp token and the pending verification
// state for one login attempt. It is never persisted.
type Challenge struct {
	mu    sync.Mutex
	email string
	parts token.TwoFactorToken
	state State
	now   func() time.Time
}

// New decodes tempToken and returns a challenge awaiting the user's code.
// The token must be in composite form; a missing delimiter is rejected up
// front so the caller can fall back to the plain login error path.
func New(email, tempToken, delimiter string) (*Challenge, error) {
	if !token.IsComposite(tempToken, delimiter) {
		return nil, token.ErrInvalid2FAFormat
	}
	parts, err := token.DecodeTwoFactor(tempToken, delimiter)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("email", email).Msg("two-factor challenge created")
	return &Challenge{
		email: email,
		parts: parts,
		state: StateAwaitingCode,
		now:   time.Now,
	}, nil
}

// Email returns the address the challenge was issued for.
func (c *Challenge) Email() string {
	return c.email
}

// State returns the current lifecycle state.
func (c *Challenge) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit checks code against the embedded OTP. On success it returns the
// original access token recovered from the temp token and the challenge
// becomes Verified. Expiry is checked first; a mismatch settles the
// challenge as Failed, so a retry needs a fresh challenge from the same
// temp token.
func (c *Challenge) Submit(code string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAwaitingCode {
		return "", ErrChallengeSettled
	}

	if exp, ok := parseExpiry(c.parts.OTPExpiry); ok && !c.now().Before(exp) {
		c.state = StateExpired
		log.Info().Str("email", c.email).Msg("two-factor code expired")
		return "", ErrOTPExpired
	}

	if code != c.parts.OTP {
		c.state = StateFailed
		log.Info().Str("email", c.email).Msg("two-factor code mismatch")
		return "", ErrOTPMismatch
	}

	c.state = StateVerified
	log.Info().Str("email", c.email).Msg("two-factor challenge verified")
	return c.parts.Token, nil
}

// Cancel abandons the challenge. The caller is expected to send the user
// back through login for a fresh temp token.
func (c *Challenge) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAwaitingCode {
		return ErrChallengeSettled
	}
	c.state = StateCancelled
	log.Info().Str("email", c.email).Msg("two-factor challenge cancelled")
	return nil
}

// parseExpiry accepts the two timestamp shapes the backend emits, a full
// RFC 3339 instant or a bare date. Anything else disables the expiry
// check rather than failing the challenge.
func parseExpiry(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	log.Warn().Str("expiry", s).Msg("unparseable OTP expiry, skipping expiry check")
	return time.Time{}, false
}

// ValidCodeFormat reports whether code looks like a server-issued OTP,
// five ASCII digits. This is a form-level hint only; Submit compares the
// raw string so tokens carrying non-numeric codes still verify.
func ValidCodeFormat(code string) bool {
	if len(code) != 5 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
