// ABOUTME: Credential storage for the upstream session token and cookie
// ABOUTME: Persists a TOML file with restrictive permissions and peeks JWT expiry

package creds

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredentials is returned when the credentials file does not exist
// yet.
var ErrNoCredentials = errors.New("creds: no credentials stored, run login first")

// Credentials is the on-disk record. The token is the upstream session
// bearer token; the cookie string is passed through verbatim.
type Credentials struct {
	AccessToken string `toml:"access_token"`
	Cookie      string `toml:"cookie"`
}

// Store loads and saves credentials at a fixed path. It satisfies the
// transport layer's CredentialSource.
type Store struct {
	mu     sync.RWMutex
	path   string
	cached Credentials
	loaded bool
	logger *slog.Logger
}

// NewStore creates a store for the given file path. Nothing is read until
// Load or Credentials is called.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With("component", "creds"),
	}
}

// Load reads the credentials file. A token that has already expired is
// logged as a warning but still returned; the upstream is the authority on
// whether it works.
func (s *Store) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Credentials
	if _, err := toml.DecodeFile(s.path, &c); err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, ErrNoCredentials
		}
		return Credentials{}, fmt.Errorf("read credentials %s: %w", s.path, err)
	}

	if exp, ok := tokenExpiry(c.AccessToken); ok && time.Now().After(exp) {
		s.logger.Warn("stored access token is expired",
			"expired_at", exp.Format(time.RFC3339))
	}

	s.cached = c
	s.loaded = true
	return c, nil
}

// Save writes the credentials file, creating parent directories as needed.
// The file is owner-readable only.
func (s *Store) Save(c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open credentials %s: %w", s.path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("write credentials %s: %w", s.path, err)
	}

	s.cached = c
	s.loaded = true
	s.logger.Info("credentials saved", "path", s.path)
	return nil
}

// Credentials returns the cached token and cookie, loading from disk on
// first use. Missing or unreadable credentials yield empty values; the
// resulting 401 surfaces through the transport layer where it is
// actionable.
func (s *Store) Credentials() (token, cookie string) {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		return s.cached.AccessToken, s.cached.Cookie
	}
	s.mu.RUnlock()

	c, err := s.Load()
	if err != nil {
		if !errors.Is(err, ErrNoCredentials) {
			s.logger.Warn("credentials unavailable", "error", err)
		}
		return "", ""
	}
	return c.AccessToken, c.Cookie
}

// TokenExpiry reports when the stored access token expires. ok is false
// when no token is stored or the token carries no readable expiry.
func (s *Store) TokenExpiry() (time.Time, bool) {
	s.mu.RLock()
	c := s.cached
	loaded := s.loaded
	s.mu.RUnlock()

	if !loaded {
		var err error
		if c, err = s.Load(); err != nil {
			return time.Time{}, false
		}
	}
	return tokenExpiry(c.AccessToken)
}

// tokenExpiry decodes the token without verifying its signature. We do not
// hold the signing key; the expiry claim is advisory only.
func tokenExpiry(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
