package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Options configures a SQLiteStore.
type Options struct {
	// CookieName keys the session record. Defaults to
	// "auth_session_ticketer".
	CookieName string
	// LegacyCookieNames are record names used by prior schema versions;
	// Clear removes them too.
	LegacyCookieNames []string
	// TTL bounds the record's storage lifetime. Defaults to DefaultTTL.
	TTL time.Duration
	// Secure and SameSite are recorded alongside the payload so the
	// serving layer can reconstruct the cookie attributes.
	Secure bool
}

// SQLiteStore implements Store using SQLite with the session payload
// encrypted at rest.
type SQLiteStore struct {
	db   *sql.DB
	key  []byte
	opts Options
	mu   sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the session database at dbPath.
// The encryptionKey encrypts the serialized session payload.
func NewSQLiteStore(dbPath string, encryptionKey []byte, opts Options) (*SQLiteStore, error) {
	if opts.CookieName == "" {
		opts.CookieName = "auth_session_ticketer"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	// WAL mode and a busy timeout keep concurrent readers (monitor ticks,
	// interceptors) from tripping over writers.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set file permissions (only works on creation)
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Msg("could not restrict session db permissions")
	}

	store := &SQLiteStore{
		db:   db,
		key:  encryptionKey,
		opts: opts,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	store.purgeLegacy()

	return store, nil
}

// purgeLegacy drops records written under names from earlier schema
// versions. Runs once on open; failures only cost disk space.
func (s *SQLiteStore) purgeLegacy() {
	for _, name := range s.opts.LegacyCookieNames {
		res, err := s.db.Exec("DELETE FROM cookies WHERE name = ?", name)
		if err != nil {
			log.Warn().Err(err).Str("cookie", name).Msg("could not remove legacy session record")
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			log.Info().Str("cookie", name).Msg("removed legacy session record")
		}
	}
}

func (s *SQLiteStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS cookies (
		name TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		encrypted_session TEXT NOT NULL,
		secure INTEGER NOT NULL,
		same_site TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create cookies table: %w", err)
	}
	return nil
}

// Get retrieves the current session. A missing, expired or undecryptable
// record yields nil, nil: readers must see "logged out", never an error,
// when the record is unusable.
func (s *SQLiteStore) Get() (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var encrypted string
	var expiresAt time.Time

	err := s.db.QueryRow(
		"SELECT encrypted_session, expires_at FROM cookies WHERE name = ?",
		s.opts.CookieName,
	).Scan(&encrypted, &expiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if time.Now().After(expiresAt) {
		log.Debug().Str("cookie", s.opts.CookieName).Msg("session record past its TTL")
		return nil, nil
	}

	payload, err := Decrypt(encrypted, s.key)
	if err != nil {
		log.Warn().Err(err).Msg("could not decrypt session record, treating as logged out")
		return nil, nil
	}

	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		log.Warn().Err(err).Msg("could not parse session record, treating as logged out")
		return nil, nil
	}

	return &sess, nil
}

// Set overwrites the session record in full. A session still waiting on
// two-factor verification is persisted without its access token.
func (s *SQLiteStore) Set(sess *Session) error {
	if sess == nil {
		return fmt.Errorf("session must not be nil")
	}

	stored := *sess
	if stored.RequiresTwoFactor && stored.AccessToken != "" {
		log.Warn().Msg("refusing to persist access token on a 2FA-pending session")
		stored.AccessToken = ""
	}

	payload, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	encrypted, err := Encrypt(payload, s.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	_, err = s.db.Exec(`
		INSERT INTO cookies (name, id, encrypted_session, secure, same_site, expires_at, updated_at)
		VALUES (?, ?, ?, ?, 'Strict', ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			id = excluded.id,
			encrypted_session = excluded.encrypted_session,
			secure = excluded.secure,
			same_site = excluded.same_site,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, s.opts.CookieName, uuid.NewString(), encrypted, boolToInt(s.opts.Secure), now.Add(s.opts.TTL), now)

	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// Clear removes the session record along with any legacy-named records.
func (s *SQLiteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := append([]string{s.opts.CookieName}, s.opts.LegacyCookieNames...)
	for _, name := range names {
		if _, err := s.db.Exec("DELETE FROM cookies WHERE name = ?", name); err != nil {
			return fmt.Errorf("failed to clear session %q: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
