// Package auth persists the console's session token and staff identity and
// decides whether the current credentials may open the console.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	tokenFile    = "token"
	identityFile = "identity.json"
	tokenEnv     = "SUPPORTDESK_TOKEN"
)

// Credentials is a token plus the identity it belongs to.
type Credentials struct {
	Token    string
	Identity Identity
}

// Store keeps credentials under a config directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) TokenPath() string    { return filepath.Join(s.dir, tokenFile) }
func (s *Store) IdentityPath() string { return filepath.Join(s.dir, identityFile) }

// Hydrate loads credentials using precedence env var > file. The identity is
// read from the identity file, or from the token claims when the file is
// missing or the token came from the environment. Missing credentials are not
// an error; Authorize reports them.
func (s *Store) Hydrate() (Credentials, error) {
	var c Credentials
	fromEnv := false
	if tok := strings.TrimSpace(os.Getenv(tokenEnv)); tok != "" {
		c.Token = tok
		fromEnv = true
	} else {
		data, err := os.ReadFile(s.TokenPath())
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Credentials{}, fmt.Errorf("auth.Hydrate: read token: %w", err)
		}
		c.Token = strings.TrimSpace(string(data))
	}
	if c.Token == "" {
		return c, nil
	}

	if !fromEnv {
		data, err := os.ReadFile(s.IdentityPath())
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &c.Identity); err != nil {
				return Credentials{}, fmt.Errorf("auth.Hydrate: decode identity: %w", err)
			}
			return c, nil
		case !errors.Is(err, os.ErrNotExist):
			return Credentials{}, fmt.Errorf("auth.Hydrate: read identity: %w", err)
		}
	}

	id, err := IdentityFromToken(c.Token)
	if err != nil {
		// An opaque token without a stored identity cannot pass Authorize.
		return c, nil
	}
	c.Identity = id
	return c, nil
}

// Save writes the token and identity files with owner-only permissions.
func (s *Store) Save(c Credentials) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("auth.Save: create %s: %w", s.dir, err)
	}
	if err := os.WriteFile(s.TokenPath(), []byte(c.Token), 0600); err != nil {
		return fmt.Errorf("auth.Save: write token: %w", err)
	}
	data, err := json.MarshalIndent(c.Identity, "", "  ")
	if err != nil {
		return fmt.Errorf("auth.Save: encode identity: %w", err)
	}
	if err := os.WriteFile(s.IdentityPath(), data, 0600); err != nil {
		return fmt.Errorf("auth.Save: write identity: %w", err)
	}
	return nil
}

// Clear removes both files. It reports whether anything was removed.
func (s *Store) Clear() (bool, error) {
	removed := false
	for _, p := range []string{s.TokenPath(), s.IdentityPath()} {
		err := os.Remove(p)
		switch {
		case err == nil:
			removed = true
		case !errors.Is(err, os.ErrNotExist):
			return removed, fmt.Errorf("auth.Clear: %w", err)
		}
	}
	return removed, nil
}
