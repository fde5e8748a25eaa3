// Package controller glues the auth subsystem together: it drives login
// and two-factor completion, owns the in-memory session state, installs
// the HTTP interceptors on the API client, reacts to monitor events, and
// performs the one-and-only-once session expiration teardown.
package controller

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/netvilleplus/sessionkit/internal/api"
	"github.com/netvilleplus/sessionkit/internal/monitor"
	"github.com/netvilleplus/sessionkit/internal/session"
	"github.com/netvilleplus/sessionkit/internal/token"
	"github.com/netvilleplus/sessionkit/internal/twofactor"
)

// Navigator is how the controller forces the user somewhere else, usually
// back to login. The reason string tells the destination why ("expired",
// "unauthorized", "logout", "access-denied").
type Navigator func(reason string)

// Expiration reasons passed to the Navigator.
const (
	ReasonExpired      = "expired"
	ReasonUnauthorized = "unauthorized"
	ReasonForbidden    = "forbidden"
	ReasonLogout       = "logout"
	ReasonAccessDenied = "access-denied"
)

const decodedTokenTTL = 5 * time.Minute

// defaultExceptionPatterns lists URL fragments whose endpoints handle
// their own auth errors; a 401 from them must not tear the session down.
var defaultExceptionPatterns = []string{"/api/task/"}

type Config struct {
	// TwoFactorDelimiter splits composite temp tokens. Login responses
	// flagged requiresTwoFactor are rejected when it is unset.
	TwoFactorDelimiter string

	// ExceptionPatterns overrides the default auth-error exception list.
	ExceptionPatterns []string
}

// LoginResult is what HandleLogin reports back to the caller.
type LoginResult struct {
	TwoFactorRequired bool
	Message           string
	Session           *session.Session
}

// Controller owns the session lifecycle for one process.
type Controller struct {
	api   *api.Client
	store session.Store
	mon   *monitor.Monitor
	nav   Navigator
	cfg   Config
	cache *TokenCache

	mu          sync.Mutex
	current     *session.Session
	challenge   *twofactor.Challenge
	pendingAuth *api.AuthResponse

	// armed guards the expiration action: set when a session is
	// established, consumed by the first expiration trigger so that
	// concurrent 401s, monitor events, and failed refreshes collapse
	// into a single teardown and navigation.
	armed atomic.Bool
}

// New wires a controller to its collaborators and installs the HTTP
// interceptors on client's transport.
func New(client *api.Client, store session.Store, mon *monitor.Monitor, nav Navigator, cfg Config) *Controller {
	if nav == nil {
		nav = func(string) {}
	}
	if len(cfg.ExceptionPatterns) == 0 {
		cfg.ExceptionPatterns = defaultExceptionPatterns
	}
	c := &Controller{
		api:   client,
		store: store,
		mon:   mon,
		nav:   nav,
		cfg:   cfg,
		cache: NewTokenCache(decodedTokenTTL),
	}
	c.installInterceptors(client.Resty())
	return c
}

// Session returns a copy of the current in-memory session, or nil.
func (c *Controller) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	copied := *c.current
	return &copied
}

// HandleLogin authenticates against the backend. A response flagged
// requiresTwoFactor parks the controller in a pending state and the
// caller must follow up with Complete2FA or Cancel2FA.
func (c *Controller) HandleLogin(ctx context.Context, username, password string) (*LoginResult, error) {
	res, err := c.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	if res.RequiresTwoFactor {
		return c.beginTwoFactor(username, res)
	}

	if !res.IsLoginSuccessful || res.AccessToken == "" {
		return nil, token.ErrInvalidTokenFormat
	}

	decoded, err := token.Decode(res.AccessToken)
	if err != nil {
		return nil, err
	}

	sess := sessionFromAuth(res, decoded)
	if err := c.establish(sess); err != nil {
		return nil, err
	}
	return &LoginResult{Session: sess}, nil
}

// beginTwoFactor stores the pending challenge and persists a placeholder
// session that marks two-factor as outstanding. The temp token may arrive
// in either tempToken or accessToken depending on backend version.
func (c *Controller) beginTwoFactor(username string, res *api.AuthResponse) (*LoginResult, error) {
	temp := res.TempToken
	if temp == "" {
		temp = res.AccessToken
	}

	ch, err := twofactor.New(username, temp, c.cfg.TwoFactorDelimiter)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.challenge = ch
	c.pendingAuth = res
	c.current = &session.Session{
		Name:              res.Name,
		Roles:             res.Roles,
		User:              res.User,
		RequiresTwoFactor: true,
		TempToken:         temp,
	}
	pending := *c.current
	c.mu.Unlock()

	if err := c.store.Set(&pending); err != nil {
		log.Warn().Err(err).Msg("could not persist pending two-factor session")
	}

	log.Info().Str("username", username).Msg("login requires two-factor verification")
	return &LoginResult{TwoFactorRequired: true, Message: res.TwoFactorMessage}, nil
}

// Complete2FA submits the user's code against the pending challenge and,
// on success, finalizes the session with the token recovered from the
// temp token. A mismatch leaves the flow retryable: a fresh challenge is
// cut from the same temp token.
func (c *Controller) Complete2FA(ctx context.Context, code string) (*session.Session, error) {
	c.mu.Lock()
	ch := c.challenge
	res := c.pendingAuth
	c.mu.Unlock()

	if ch == nil || res == nil {
		return nil, twofactor.ErrChallengeSettled
	}

	accessToken, err := ch.Submit(code)
	if err != nil {
		if err == twofactor.ErrOTPMismatch {
			c.rearmChallenge(ch)
		}
		return nil, err
	}

	sess := sessionFromAuth(res, accessToken)

	c.mu.Lock()
	c.challenge = nil
	c.pendingAuth = nil
	c.mu.Unlock()

	if err := c.establish(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// rearmChallenge replaces a failed challenge with a fresh one so the user
// can try another code without a full re-login.
func (c *Controller) rearmChallenge(old *twofactor.Challenge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.challenge != old || c.current == nil || c.current.TempToken == "" {
		return
	}
	fresh, err := twofactor.New(old.Email(), c.current.TempToken, c.cfg.TwoFactorDelimiter)
	if err != nil {
		log.Error().Err(err).Msg("could not rebuild two-factor challenge")
		return
	}
	c.challenge = fresh
}

// Cancel2FA abandons the pending challenge and clears the placeholder
// session. The user goes back through login for a new temp token.
func (c *Controller) Cancel2FA() error {
	c.mu.Lock()
	ch := c.challenge
	c.challenge = nil
	c.pendingAuth = nil
	c.current = nil
	c.mu.Unlock()

	if ch == nil {
		return twofactor.ErrChallengeSettled
	}
	if err := ch.Cancel(); err != nil {
		return err
	}
	if err := c.store.Clear(); err != nil {
		log.Warn().Err(err).Msg("could not clear pending session")
	}
	return nil
}

// HandleLogout tears the session down deliberately. The backend call is
// best-effort; local state is cleared regardless.
func (c *Controller) HandleLogout(ctx context.Context) {
	c.api.Logout(ctx)
	c.armed.Store(false)
	c.teardown()
	c.nav(ReasonLogout)
}

// Restore rebuilds the in-memory session on startup. The persisted record
// wins; when it is missing the backend is asked whether a server-side
// session still exists.
func (c *Controller) Restore(ctx context.Context) (*session.Session, error) {
	sess, err := c.store.Get()
	if err != nil {
		return nil, err
	}
	if sess != nil && sess.IsAuthenticated() {
		unwrapped, decErr := token.Decode(sess.AccessToken)
		if decErr != nil || token.Evaluate(unwrapped).Expired {
			log.Info().Msg("stored session token already expired, dropping it")
			if err := c.store.Clear(); err != nil {
				log.Warn().Err(err).Msg("could not clear expired session")
			}
			return nil, nil
		}
		if err := c.establish(sess); err != nil {
			return nil, err
		}
		return sess, nil
	}

	res, err := c.api.GetCurrentUser(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("no server-side session to restore")
		return nil, nil
	}
	if !res.IsLoginSuccessful || res.AccessToken == "" || res.RequiresTwoFactor {
		return nil, nil
	}
	decoded, err := token.Decode(res.AccessToken)
	if err != nil {
		return nil, err
	}
	if token.Evaluate(decoded).Expired {
		log.Info().Msg("server-side session token already expired, dropping it")
		return nil, nil
	}
	restored := sessionFromAuth(res, decoded)
	if err := c.establish(restored); err != nil {
		return nil, err
	}
	return restored, nil
}

// establish installs sess as the active session, persists it, re-arms the
// expiration action, and (re)starts the monitor.
func (c *Controller) establish(sess *session.Session) error {
	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()

	c.cache.Clear()
	if err := c.store.Set(sess); err != nil {
		return err
	}

	c.armed.Store(true)
	if c.mon != nil {
		c.mon.Start()
	}
	log.Info().Str("name", sess.Name).Msg("session established")
	return nil
}

// ExpireSession runs the expiration action at most once per established
// session: stop the monitor, wipe all local state, and force navigation.
func (c *Controller) ExpireSession(reason string) {
	if !c.armed.CompareAndSwap(true, false) {
		return
	}
	log.Warn().Str("reason", reason).Msg("expiring session")
	c.teardown()
	c.nav(reason)
}

func (c *Controller) teardown() {
	if c.mon != nil {
		c.mon.Stop()
	}

	c.mu.Lock()
	c.current = nil
	c.challenge = nil
	c.pendingAuth = nil
	c.mu.Unlock()

	c.cache.Clear()
	if err := c.store.Clear(); err != nil {
		log.Warn().Err(err).Msg("could not clear session store")
	}
}

// Run consumes monitor events until ctx is cancelled. It is the only
// subscriber of the monitor's channel.
func (c *Controller) Run(ctx context.Context) error {
	if c.mon == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.mon.Events():
			switch ev.Type {
			case monitor.EventWarning:
				log.Warn().
					Int64("minutesRemaining", ev.MinutesRemaining).
					Msg("session expires soon")
			case monitor.EventExpired:
				c.ExpireSession(ReasonExpired)
			}
		}
	}
}

// bearerToken returns the decoded access token for outbound requests, or
// "" when no authenticated session exists.
func (c *Controller) bearerToken() string {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()

	if sess == nil || sess.AccessToken == "" || sess.RequiresTwoFactor {
		return ""
	}
	if decoded, ok := c.cache.Get(sess.AccessToken); ok {
		return decoded
	}
	decoded, err := token.Decode(sess.AccessToken)
	if err != nil {
		return ""
	}
	c.cache.Set(sess.AccessToken, decoded)
	return decoded
}

func (c *Controller) isException(url string) bool {
	for _, p := range c.cfg.ExceptionPatterns {
		if strings.Contains(url, p) {
			return true
		}
	}
	return false
}

// serverMessage pulls the "message" field out of an error response body.
func serverMessage(res *resty.Response) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		return ""
	}
	return body.Message
}

// installInterceptors wires the auth concerns into the shared transport:
// bearer attachment on the way out, expiration handling on the way back,
// and a single silent refresh attempt for refreshable 403s.
func (c *Controller) installInterceptors(rc *resty.Client) {
	rc.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if tok := c.bearerToken(); tok != "" {
			req.SetHeader("Authorization", "Bearer "+tok)
		}
		return nil
	})

	// The retry pass is the silent refresh: when a 403 says the token went
	// stale, re-read the persisted session, and if it still holds time on
	// the clock, let resty replay the request, which picks the refreshed
	// token up via the before-request hook.
	rc.SetRetryCount(1)
	rc.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil || res == nil {
			return false
		}
		if res.StatusCode() != 403 || res.Request.Attempt > 1 {
			return false
		}
		if serverMessage(res) != "Unauthorized" || c.isException(res.Request.URL) {
			return false
		}
		return c.silentRefresh()
	})

	rc.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		switch res.StatusCode() {
		case 401:
			if !c.isException(res.Request.URL) {
				c.ExpireSession(ReasonUnauthorized)
			}
		case 403:
			if serverMessage(res) == "Unauthorized" {
				if res.Request.Attempt > 1 {
					// The refresh pass already ran and the server still
					// refuses the token.
					c.ExpireSession(ReasonForbidden)
				}
			} else if !c.isException(res.Request.URL) {
				c.nav(ReasonAccessDenied)
			}
		}
		return nil
	})
}

// silentRefresh reloads the persisted session and keeps it only if its
// token has not expired. Reports whether a replay is worth attempting.
func (c *Controller) silentRefresh() bool {
	sess, err := c.store.Get()
	if err != nil || sess == nil || !sess.IsAuthenticated() {
		c.ExpireSession(ReasonForbidden)
		return false
	}

	decoded, err := token.Decode(sess.AccessToken)
	if err != nil {
		c.ExpireSession(ReasonForbidden)
		return false
	}
	if status := token.Evaluate(decoded); status.Expired {
		c.ExpireSession(ReasonForbidden)
		return false
	}

	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()
	c.cache.Clear()

	log.Info().Msg("silent session refresh, replaying request")
	return true
}

func sessionFromAuth(res *api.AuthResponse, decodedToken string) *session.Session {
	return &session.Session{
		AccessToken:       decodedToken,
		Name:              res.Name,
		Roles:             res.Roles,
		IsLoginSuccessful: true,
		User:              res.User,
	}
}
