package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestEvaluateValidToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok := mintJWT(t, jwt.MapClaims{"sub": "u1", "exp": now.Unix() + 600})

	got := EvaluateAt(tok, now)
	assert.False(t, got.Expired)
	assert.Equal(t, ReasonValid, got.Reason)
	assert.Equal(t, int64(600), got.SecondsToExpiry)
	assert.Equal(t, int64(10), got.MinutesToExpiry)
}

func TestEvaluateExpiredToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok := mintJWT(t, jwt.MapClaims{"exp": now.Unix() - 90})

	got := EvaluateAt(tok, now)
	assert.True(t, got.Expired)
	assert.Equal(t, ReasonExpired, got.Reason)
	assert.Equal(t, int64(-90), got.SecondsToExpiry)
}

func TestEvaluateBoundaryCountsAsExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok := mintJWT(t, jwt.MapClaims{"exp": now.Unix()})

	got := EvaluateAt(tok, now)
	assert.True(t, got.Expired)
	assert.Equal(t, int64(0), got.SecondsToExpiry)
}

func TestEvaluateNoExpClaim(t *testing.T) {
	tok := mintJWT(t, jwt.MapClaims{"sub": "u1"})

	got := Evaluate(tok)
	assert.False(t, got.Expired)
	assert.Equal(t, ReasonNoExpClaim, got.Reason)
}

func TestEvaluateFailsClosed(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"not a jwt", "not-a-jwt"},
		{"empty", ""},
		{"garbage segments", "a.b.c"},
		{"wrong segment count", "onlyone.two"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.in)
			assert.True(t, got.Expired)
			assert.Equal(t, ReasonParseError, got.Reason)
		})
	}
}

func TestClaims(t *testing.T) {
	tok := mintJWT(t, jwt.MapClaims{"sub": "u1", "role": "admin"})

	claims, err := Claims(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims["sub"])
	assert.Equal(t, "admin", claims["role"])

	_, err = Claims("not-a-jwt")
	assert.Error(t, err)
}
