// Package monitor implements the background expiration watcher. It owns the
// only recurring timer in the subsystem: a single goroutine re-reads the
// session store on a fixed interval, evaluates the access token's expiry,
// and reports what it finds as events. It never performs navigation or
// writes to the store itself; the composition root subscribes to its events
// and acts on them, so the watcher stays free of any UI concern and keeps
// running no matter what the presentation layer is doing.
package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/netvilleplus/sessionkit/internal/session"
	"github.com/netvilleplus/sessionkit/internal/token"
)

const (
	// DefaultInterval is the time between expiry checks.
	DefaultInterval = time.Minute

	// DefaultWarningThreshold is how close to expiry a token must be
	// before a warning event fires.
	DefaultWarningThreshold = 5 * time.Minute
)

// EventType discriminates monitor events.
type EventType int

const (
	// EventWarning fires once when the token enters the warning window.
	EventWarning EventType = iota
	// EventExpired fires when the token is expired; the subscriber is
	// expected to run the logout path.
	EventExpired
)

func (t EventType) String() string {
	switch t {
	case EventWarning:
		return "warning"
	case EventExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event is what the monitor reports to its subscriber.
type Event struct {
	Type             EventType
	SecondsRemaining int64
	MinutesRemaining int64
	Reason           token.Reason
}

// SessionSource is the read side of the session store. The monitor never
// writes through it.
type SessionSource interface {
	Get() (*session.Session, error)
}

// Config tunes a Monitor. Zero values pick the defaults.
type Config struct {
	Interval         time.Duration
	WarningThreshold time.Duration
}

// Monitor is the interval-driven expiration watcher. Exactly one instance
// should exist per process; Start on a running monitor tears the previous
// timer down first so duplicate timers can never race each other into a
// double logout.
type Monitor struct {
	store  SessionSource
	cfg    Config
	events chan Event
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped Monitor reading sessions from store.
func New(store SessionSource, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = DefaultWarningThreshold
	}
	return &Monitor{
		store:  store,
		cfg:    cfg,
		events: make(chan Event, 8),
		now:    time.Now,
	}
}

// Events is the monitor's output. The channel is never closed; it is
// buffered and late events are dropped rather than blocking a tick.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Active reports whether the monitor is currently watching.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}

// Start begins monitoring. A running monitor is stopped first so there is
// always at most one timer. The first check runs immediately.
func (m *Monitor) Start() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel != nil {
		log.Debug().Msg("token monitor already running, restarting")
		cancel()
		<-done
	}

	ctx, cancel := context.WithCancel(context.Background())
	done = make(chan struct{})

	m.mu.Lock()
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	log.Info().Dur("interval", m.cfg.Interval).Msg("starting token monitoring")
	go m.run(ctx, done)
}

// Stop cancels the timer. It is effective for the next scheduled tick and
// waits for any in-flight tick to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	log.Info().Msg("stopping token monitoring")
	cancel()
	<-done
}

// selfStop marks the monitor idle from inside its own run loop, unless a
// restart has already replaced the loop.
func (m *Monitor) selfStop(done chan struct{}) {
	m.mu.Lock()
	if m.done == done {
		m.cancel, m.done = nil, nil
	}
	m.mu.Unlock()
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// The warning latch lives with the loop: a restart or stop always
	// re-arms it.
	warned := false

	if stop := m.check(&warned); stop {
		m.selfStop(done)
		return
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stop := m.check(&warned); stop {
				m.selfStop(done)
				return
			}
		}
	}
}

// check runs one read→decode→evaluate→report cycle. It returns true when
// the monitor should go idle.
func (m *Monitor) check(warned *bool) bool {
	sess, err := m.store.Get()
	if err != nil {
		log.Error().Err(err).Msg("token check could not read session store")
		return false
	}
	if sess == nil || sess.AccessToken == "" {
		log.Info().Msg("no session to monitor, going idle")
		return true
	}

	jwtToken := sess.AccessToken
	if !strings.Contains(jwtToken, ".") {
		// Wrapped token: unwrap once and see whether a JWT comes out.
		decoded, err := token.Decode(jwtToken)
		if err != nil || !strings.Contains(decoded, ".") {
			log.Debug().Msg("token does not unwrap to a JWT, skipping check")
			return false
		}
		jwtToken = decoded
	}

	status := token.EvaluateAt(jwtToken, m.now())

	if status.Expired {
		log.Warn().Str("reason", string(status.Reason)).Msg("token expired")
		m.emit(Event{
			Type:             EventExpired,
			SecondsRemaining: status.SecondsToExpiry,
			MinutesRemaining: status.MinutesToExpiry,
			Reason:           status.Reason,
		})
		return true
	}

	if status.Reason != token.ReasonValid {
		// No exp claim: nothing to warn about.
		return false
	}

	warnSecs := int64(m.cfg.WarningThreshold / time.Second)
	switch {
	case status.SecondsToExpiry <= warnSecs && !*warned:
		log.Warn().
			Int64("secondsRemaining", status.SecondsToExpiry).
			Msg("token expires soon")
		m.emit(Event{
			Type:             EventWarning,
			SecondsRemaining: status.SecondsToExpiry,
			MinutesRemaining: status.MinutesToExpiry,
			Reason:           status.Reason,
		})
		*warned = true
	case status.SecondsToExpiry > warnSecs:
		// Back above the threshold (clock skew, replaced token): re-arm
		// so the next approach warns again.
		*warned = false
	}

	return false
}

func (m *Monitor) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		log.Warn().Str("type", ev.Type.String()).Msg("dropping monitor event, subscriber not keeping up")
	}
}
