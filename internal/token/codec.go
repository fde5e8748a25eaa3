// Package token implements decoding and expiry inspection for the token
// formats the Ticketer backend issues: plain JWTs, JWTs re-wrapped in one or
// more layers of base64, and the delimiter-joined composite tokens used
// during two-factor login.
package token

import (
	"encoding/base64"
	"errors"
	"strings"
)

var (
	// ErrInvalidTokenFormat means the input was empty or otherwise not a
	// token at all.
	ErrInvalidTokenFormat = errors.New("invalid token: token must be a non-empty string")

	// ErrInvalid2FAFormat means a composite two-factor token did not split
	// into exactly three non-empty parts on the configured delimiter.
	ErrInvalid2FAFormat = errors.New("invalid 2FA token format: expected 3 parts separated by delimiter")
)

// TwoFactorToken holds the three values recovered from a composite
// two-factor token: the real JWT, the embedded one-time password, and the
// OTP expiry timestamp as issued (usually an ISO 8601 string).
type TwoFactorToken struct {
	Token     string
	OTP       string
	OTPExpiry string
}

// decodeBase64 decodes the way a browser's atob does: standard alphabet,
// with or without padding.
func decodeBase64(s string) (string, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return string(b), nil
	}
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeDepth applies base64 decoding depth times, failing if any layer is
// not valid base64.
func decodeDepth(s string, depth int) (string, error) {
	out := s
	for i := 0; i < depth; i++ {
		d, err := decodeBase64(out)
		if err != nil {
			return "", err
		}
		out = d
	}
	return out, nil
}

// firstDecoded tries each decode depth in order and returns the first result
// that decodes cleanly. Out of options, the raw value is returned verbatim.
// The orderings encode the encoding depths the issuer actually uses; a token
// encoded at an unlisted depth decodes to a different value without an
// error, so the orderings must not be "fixed" to look symmetric.
func firstDecoded(s string, depths []int) string {
	for _, depth := range depths {
		if out, err := decodeDepth(s, depth); err == nil {
			return out
		}
	}
	return s
}

// Decode unwraps a standard-mode access token. Strategies are tried in
// order, first match wins:
//
//  1. three dot-separated segments: already a JWT, returned as-is
//  2. double base64 decode
//  3. single base64 decode
//  4. the original string verbatim
func Decode(raw string) (string, error) {
	if raw == "" {
		return "", ErrInvalidTokenFormat
	}
	if parts := strings.Split(raw, "."); len(parts) == 3 {
		return raw, nil
	}
	return firstDecoded(raw, []int{2, 1}), nil
}

// DecodeTwoFactor splits a composite two-factor token on delimiter and
// decodes each part with its own fallback chain: the token part tries
// triple, double then single base64; the OTP part single then double; the
// expiry part double then single. Any part that defeats its whole chain is
// kept raw.
func DecodeTwoFactor(raw, delimiter string) (TwoFactorToken, error) {
	if raw == "" {
		return TwoFactorToken{}, ErrInvalidTokenFormat
	}
	if delimiter == "" || !strings.Contains(raw, delimiter) {
		return TwoFactorToken{}, ErrInvalid2FAFormat
	}
	parts := strings.Split(raw, delimiter)
	if len(parts) != 3 {
		return TwoFactorToken{}, ErrInvalid2FAFormat
	}
	for _, p := range parts {
		if p == "" {
			return TwoFactorToken{}, ErrInvalid2FAFormat
		}
	}
	return TwoFactorToken{
		Token:     firstDecoded(parts[0], []int{3, 2, 1}),
		OTP:       firstDecoded(parts[1], []int{1, 2}),
		OTPExpiry: firstDecoded(parts[2], []int{2, 1}),
	}, nil
}

// IsComposite reports whether raw looks like a composite two-factor token
// for the given delimiter.
func IsComposite(raw, delimiter string) bool {
	return delimiter != "" && strings.Contains(raw, delimiter)
}
