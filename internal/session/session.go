// Package session defines the authenticated session model and its persisted
// store. The store is the single source of truth for "is there a logged-in
// user": login, logout, the expiration monitor and the HTTP interceptors all
// read and write it, and every write replaces the whole session.
package session

import "time"

// User is the profile carried inside an authentication response.
type User struct {
	ID          string `json:"id,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Department  string `json:"department,omitempty"`
}

// Session mirrors the auth payload the backend returns on login and the
// shape persisted by the store. A session that still requires two-factor
// verification must never carry a usable access token; Store implementations
// enforce that on write.
type Session struct {
	AccessToken       string   `json:"accessToken,omitempty"`
	Name              string   `json:"name,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	IsLoginSuccessful bool     `json:"isLoginSuccessful"`
	User              *User    `json:"user,omitempty"`
	RequiresTwoFactor bool     `json:"requiresTwoFactor,omitempty"`
	TempToken         string   `json:"tempToken,omitempty"`
	TwoFactorMessage  string   `json:"twoFactorMessage,omitempty"`
}

// IsAuthenticated reports whether the session represents a fully logged-in
// user as opposed to an empty or 2FA-pending one.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.AccessToken != "" && s.IsLoginSuccessful && !s.RequiresTwoFactor
}

// HasRole reports whether the session carries the given role.
func (s *Session) HasRole(role string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Store is the persisted session record. Get returns nil with no error when
// there is no usable session: a missing, expired or corrupt record means
// "logged out", never a failure. Set overwrites the whole record with a
// fixed storage TTL; Clear removes the current record and any legacy-named
// records left behind by earlier schema versions.
type Store interface {
	Get() (*Session, error)
	Set(*Session) error
	Clear() error
	Close() error
}

// DefaultTTL bounds how long a session record may sit in the store. It is
// deliberately decoupled from the access token's own exp claim: the record
// TTL bounds storage lifetime, the token bounds validity.
const DefaultTTL = 12 * time.Hour
