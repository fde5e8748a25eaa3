// Package config loads runtime settings from the environment, optionally
// seeded from a config.env file in the user's config directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

const (
	AppName     = "sessionkit"
	EnvFileName = "config.env"
)

// Config carries every tunable in the subsystem. SESSION_KEY is the only
// required setting; everything else has a workable default.
type Config struct {
	APIBaseURL string `env:"API_BASE_URL"`

	CookieName        string `env:"AUTH_COOKIE_NAME,default=auth_session_ticketer"`
	LegacyCookieNames string `env:"AUTH_LEGACY_COOKIE_NAMES"`
	CookieSecure      bool   `env:"COOKIE_SECURE,default=true"`

	SessionTTL    time.Duration `env:"SESSION_TTL,default=12h"`
	SessionDBPath string        `env:"SESSION_DB_PATH,default=sessions.db"`
	SessionKey    string        `env:"SESSION_KEY,required"`

	TwoFactorDelimiter string `env:"TOKEN_2FA_DELIMITER"`

	MonitorInterval  time.Duration `env:"MONITOR_INTERVAL,default=60s"`
	WarningThreshold time.Duration `env:"WARNING_THRESHOLD,default=5m"`

	LoginPath string `env:"LOGIN_PATH,default=/login"`
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// Load decodes the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

// LegacyCookieNameList splits the comma-separated legacy name setting.
// When unset, the names earlier deployments wrote under are assumed.
func (c Config) LegacyCookieNameList() []string {
	if strings.TrimSpace(c.LegacyCookieNames) == "" {
		return []string{"auth_session", "session_ticketer"}
	}
	var names []string
	for _, n := range strings.Split(c.LegacyCookieNames, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
