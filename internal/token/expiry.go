package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Reason explains how an expiry evaluation was decided.
type Reason string

const (
	ReasonValid      Reason = "valid"
	ReasonExpired    Reason = "expired"
	ReasonNoExpClaim Reason = "no_exp_claim"
	ReasonParseError Reason = "parse_error"
)

// ExpirationStatus is the result of evaluating a JWT's exp claim.
type ExpirationStatus struct {
	Expired         bool
	SecondsToExpiry int64
	MinutesToExpiry int64
	ExpiresAt       time.Time
	Reason          Reason
}

// Evaluate inspects the exp claim of a JWT without verifying its signature.
// Malformed input never produces an error: anything unparseable is reported
// as expired (fail closed), while a well-formed token with no exp claim is
// treated as non-expiring.
func Evaluate(jwtToken string) ExpirationStatus {
	return EvaluateAt(jwtToken, time.Now())
}

// EvaluateAt is Evaluate against an explicit clock. A token whose exp equals
// now is expired: ambiguity at the boundary resolves to the logged-out side.
func EvaluateAt(jwtToken string, now time.Time) ExpirationStatus {
	if jwtToken == "" || !strings.Contains(jwtToken, ".") {
		return ExpirationStatus{Expired: true, Reason: ReasonParseError}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(jwtToken, claims); err != nil {
		return ExpirationStatus{Expired: true, Reason: ReasonParseError}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return ExpirationStatus{Expired: true, Reason: ReasonParseError}
	}
	if exp == nil {
		return ExpirationStatus{Reason: ReasonNoExpClaim}
	}

	secs := exp.Unix() - now.Unix()
	status := ExpirationStatus{
		Expired:         secs <= 0,
		SecondsToExpiry: secs,
		MinutesToExpiry: secs / 60,
		ExpiresAt:       exp.Time,
		Reason:          ReasonValid,
	}
	if status.Expired {
		status.Reason = ReasonExpired
	}
	return status
}

// Claims returns the unverified claim set of a JWT, for callers that need
// the subject claims alongside the raw token.
func Claims(jwtToken string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(jwtToken, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
