// session-watch is the long-running half of the subsystem: it restores a
// persisted session, keeps the expiration monitor running, and reacts to
// expiry the way the dashboard would, by clearing local state and
// reporting where the user should be sent.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lithammer/dedent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/netvilleplus/sessionkit/internal/api"
	"github.com/netvilleplus/sessionkit/internal/config"
	"github.com/netvilleplus/sessionkit/internal/controller"
	"github.com/netvilleplus/sessionkit/internal/monitor"
	"github.com/netvilleplus/sessionkit/internal/session"
)

var usage = dedent.Dedent(`
	session-watch keeps an eye on the persisted session and tears it down
	when the access token expires.

	Configuration is read from the environment, optionally seeded from
	config.env in the user config directory:

	  SESSION_KEY          encryption passphrase for the session store (required)
	  API_BASE_URL         authentication backend base URL
	  SESSION_DB_PATH      session database path (default sessions.db)
	  MONITOR_INTERVAL     time between expiry checks (default 60s)
	  WARNING_THRESHOLD    warn when this close to expiry (default 5m)
	  TOKEN_2FA_DELIMITER  delimiter for composite two-factor tokens
`)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(usage)
		return
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("bad configuration")
	}

	key, err := session.DeriveKey(cfg.SessionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("bad session key")
	}

	store, err := session.NewSQLiteStore(cfg.SessionDBPath, key, session.Options{
		CookieName:        cfg.CookieName,
		LegacyCookieNames: cfg.LegacyCookieNameList(),
		TTL:               cfg.SessionTTL,
		Secure:            cfg.CookieSecure,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("could not open session store")
	}
	defer store.Close()

	client := api.NewClient(api.ClientOpts{BaseURL: cfg.APIBaseURL})
	mon := monitor.New(store, monitor.Config{
		Interval:         cfg.MonitorInterval,
		WarningThreshold: cfg.WarningThreshold,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	navigate := func(reason string) {
		log.Warn().
			Str("reason", reason).
			Str("target", cfg.LoginPath).
			Msg("session ended, user must log in again")
	}

	ctrl := controller.New(client, store, mon, navigate, controller.Config{
		TwoFactorDelimiter: cfg.TwoFactorDelimiter,
	})

	sess, err := ctrl.Restore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("could not restore session")
	}
	if sess == nil {
		log.Info().Msg("no session to watch")
		return
	}
	log.Info().Str("name", sess.Name).Msg("watching restored session")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(ctx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("session watcher failed")
	}
	log.Info().Msg("shutting down")
	mon.Stop()
}
