// login-test is an interactive walkthrough of the full login flow against
// a real backend: credentials, optional two-factor code entry, and a dump
// of the decoded token claims and the persisted session record.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/netvilleplus/sessionkit/internal/api"
	"github.com/netvilleplus/sessionkit/internal/config"
	"github.com/netvilleplus/sessionkit/internal/controller"
	"github.com/netvilleplus/sessionkit/internal/monitor"
	"github.com/netvilleplus/sessionkit/internal/session"
	"github.com/netvilleplus/sessionkit/internal/token"
	"github.com/netvilleplus/sessionkit/internal/twofactor"
)

func main() {
	// Keep library logging out of the interactive output.
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Bad configuration: %v\n", err)
		os.Exit(1)
	}

	key, err := session.DeriveKey(cfg.SessionKey)
	if err != nil {
		fmt.Printf("Bad session key: %v\n", err)
		os.Exit(1)
	}

	store, err := session.NewSQLiteStore(cfg.SessionDBPath, key, session.Options{
		CookieName:        cfg.CookieName,
		LegacyCookieNames: cfg.LegacyCookieNameList(),
		TTL:               cfg.SessionTTL,
		Secure:            cfg.CookieSecure,
	})
	if err != nil {
		fmt.Printf("Could not open session store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	client := api.NewClient(api.ClientOpts{BaseURL: cfg.APIBaseURL})
	ctrl := controller.New(client, store, monitor.New(store, monitor.Config{
		Interval:         cfg.MonitorInterval,
		WarningThreshold: cfg.WarningThreshold,
	}), nil, controller.Config{TwoFactorDelimiter: cfg.TwoFactorDelimiter})

	fmt.Println("=== Login Test ===")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	username := prompt(reader, "Username: ")
	password := prompt(reader, "Password: ")

	ctx := context.Background()
	res, err := ctrl.HandleLogin(ctx, username, password)
	if err != nil {
		fmt.Printf("Login failed: %v\n", err)
		os.Exit(1)
	}

	if res.TwoFactorRequired {
		if res.Message != "" {
			fmt.Println(res.Message)
		}
		if !runTwoFactor(ctx, ctrl, reader) {
			os.Exit(1)
		}
	}

	sess := ctrl.Session()
	if sess == nil {
		fmt.Println("No session after login")
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("Logged in as: %s\n", sess.Name)
	fmt.Printf("Roles: %s\n", strings.Join(sess.Roles, ", "))

	fmt.Println("\n--- Token claims ---")
	printClaims(sess.AccessToken)

	status := token.Evaluate(sess.AccessToken)
	fmt.Printf("\nToken expires in %d minute(s) (%s)\n", status.MinutesToExpiry, status.Reason)

	persisted, err := store.Get()
	if err != nil || persisted == nil {
		fmt.Println("WARNING: session was not persisted")
		os.Exit(1)
	}
	fmt.Println("Session persisted OK")
}

func runTwoFactor(ctx context.Context, ctrl *controller.Controller, reader *bufio.Reader) bool {
	for {
		code := prompt(reader, "Enter verification code (empty to cancel): ")
		if code == "" {
			if err := ctrl.Cancel2FA(); err != nil {
				fmt.Printf("Cancel failed: %v\n", err)
			}
			fmt.Println("Cancelled")
			return false
		}
		if !twofactor.ValidCodeFormat(code) {
			fmt.Println("Codes are usually 5 digits, trying anyway...")
		}
		_, err := ctrl.Complete2FA(ctx, code)
		switch {
		case err == nil:
			return true
		case errors.Is(err, twofactor.ErrOTPMismatch):
			fmt.Println("Invalid code, try again")
		case errors.Is(err, twofactor.ErrOTPExpired):
			fmt.Println("Code expired, log in again to get a new one")
			return false
		default:
			fmt.Printf("Verification failed: %v\n", err)
			return false
		}
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func printClaims(jwtToken string) {
	claims, err := token.Claims(jwtToken)
	if err != nil {
		fmt.Printf("Could not parse claims: %v\n", err)
		return
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}
}
