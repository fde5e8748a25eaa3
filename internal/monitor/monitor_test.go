package monitor

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/netvilleplus/sessionkit/internal/session"
)

type fakeStore struct {
	mu   sync.Mutex
	sess *session.Session
	err  error
}

func (f *fakeStore) Get() (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.sess == nil {
		return nil, nil
	}
	copied := *f.sess
	return &copied, nil
}

func (f *fakeStore) setToken(tok string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sess = &session.Session{AccessToken: tok, IsLoginSuccessful: true}
}

func mintJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user@example.com",
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func testConfig() Config {
	return Config{
		Interval:         5 * time.Millisecond,
		WarningThreshold: 5 * time.Minute,
	}
}

func collectEvents(m *Monitor, window time.Duration) []Event {
	deadline := time.After(window)
	var out []Event
	for {
		select {
		case ev := <-m.Events():
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
}

func TestMonitorExpiredTokenEmitsAndGoesIdle(t *testing.T) {
	store := &fakeStore{}
	store.setToken(mintJWT(t, time.Now().Add(-time.Hour)))

	m := New(store, testConfig())
	m.Start()
	defer m.Stop()

	select {
	case ev := <-m.Events():
		require.Equal(t, EventExpired, ev.Type)
		require.LessOrEqual(t, ev.SecondsRemaining, int64(0))
	case <-time.After(time.Second):
		t.Fatal("expected an expiration event")
	}

	require.Eventually(t, func() bool { return !m.Active() }, time.Second, time.Millisecond)
}

func TestMonitorWarningFiresOnceAndRearms(t *testing.T) {
	store := &fakeStore{}
	store.setToken(mintJWT(t, time.Now().Add(3*time.Minute)))

	m := New(store, testConfig())
	m.Start()
	defer m.Stop()

	events := collectEvents(m, 60*time.Millisecond)
	require.Len(t, events, 1)
	require.Equal(t, EventWarning, events[0].Type)
	require.Greater(t, events[0].SecondsRemaining, int64(0))

	// A fresh token above the threshold re-arms the latch, so the next
	// approach toward expiry warns again.
	store.setToken(mintJWT(t, time.Now().Add(time.Hour)))
	require.Empty(t, collectEvents(m, 30*time.Millisecond))

	store.setToken(mintJWT(t, time.Now().Add(2*time.Minute)))
	events = collectEvents(m, 60*time.Millisecond)
	require.Len(t, events, 1)
	require.Equal(t, EventWarning, events[0].Type)
}

func TestMonitorIdleWhenNoSession(t *testing.T) {
	m := New(&fakeStore{}, testConfig())
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool { return !m.Active() }, time.Second, time.Millisecond)
	require.Empty(t, collectEvents(m, 20*time.Millisecond))
}

func TestMonitorSkipsOpaqueToken(t *testing.T) {
	store := &fakeStore{}
	store.setToken("opaque-session-handle")

	m := New(store, testConfig())
	m.Start()
	defer m.Stop()

	require.Empty(t, collectEvents(m, 40*time.Millisecond))
	require.True(t, m.Active())
}

func TestMonitorUnwrapsEncodedToken(t *testing.T) {
	store := &fakeStore{}
	wrapped := base64.StdEncoding.EncodeToString([]byte(mintJWT(t, time.Now().Add(-time.Minute))))
	store.setToken(wrapped)

	m := New(store, testConfig())
	m.Start()
	defer m.Stop()

	select {
	case ev := <-m.Events():
		require.Equal(t, EventExpired, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected the wrapped token to expire")
	}
}

func TestMonitorRestartKeepsSingleTimer(t *testing.T) {
	store := &fakeStore{}
	store.setToken(mintJWT(t, time.Now().Add(time.Hour)))

	m := New(store, testConfig())
	m.Start()
	m.Start()
	require.True(t, m.Active())

	m.Stop()
	require.False(t, m.Active())

	// Stop on an idle monitor is a no-op.
	m.Stop()
}
