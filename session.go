package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cookie is one browser cookie in storage-state form
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// LocalStorageEntry is one key of an origin's localStorage
type LocalStorageEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OriginState is the localStorage snapshot of one origin
type OriginState struct {
	Origin       string              `json:"origin"`
	LocalStorage []LocalStorageEntry `json:"localStorage"`
}

// SessionState is the serialized authentication state of the browser. The
// JSON layout matches the storage-state files written by the login script.
type SessionState struct {
	Cookies   []Cookie      `json:"cookies"`
	Origins   []OriginState `json:"origins"`
	CreatedAt time.Time     `json:"createdAt,omitzero"`
}

// SessionStore loads and persists the session blob. It never touches the
// network.
type SessionStore struct {
	path    string
	encoded string
}

// NewSessionStore creates a store backed by path. A non-empty encoded blob
// (base64 of the JSON) takes precedence over the file on Load.
func NewSessionStore(path, encoded string) *SessionStore {
	return &SessionStore{path: path, encoded: encoded}
}

// Load returns the stored session or an error wrapping ErrSessionNotFound.
// Corrupt and partially written blobs are reported as not found.
func (s *SessionStore) Load() (*SessionState, error) {
	if strings.TrimSpace(s.encoded) != "" {
		data, err := decodeBlob(s.encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding NOTE_STATE_B64: %v", ErrSessionNotFound, err)
		}
		debugLog("Loaded session from encoded blob (%d bytes)", len(data))
		return parseSession(data, time.Time{})
	}

	if s.path == "" {
		return nil, fmt.Errorf("%w: no session file configured", ErrSessionNotFound)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrSessionNotFound, s.path)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrSessionNotFound, s.path, err)
	}

	var modTime time.Time
	if info, err := os.Stat(s.path); err == nil {
		modTime = info.ModTime()
	}
	debugLog("Loaded session from %s (%d bytes)", s.path, len(data))
	return parseSession(data, modTime)
}

// Save writes the state atomically: temp file in the same directory, fsync,
// rename. The previous file is left untouched on any failure.
func (s *SessionStore) Save(state *SessionState) error {
	if s.path == "" {
		return fmt.Errorf("no session file configured")
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp session file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp session file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("setting session file mode: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	committed = true
	return nil
}

func parseSession(data []byte, fallbackCreated time.Time) (*SessionState, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: session blob is empty", ErrSessionNotFound)
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: parsing session: %v", ErrSessionNotFound, err)
	}
	if len(state.Cookies) == 0 {
		return nil, fmt.Errorf("%w: session has no cookies", ErrSessionNotFound)
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = fallbackCreated
	}
	return &state, nil
}

// decodeBlob accepts standard or URL-safe base64, padded or not, with
// arbitrary whitespace (environment values are often wrapped).
func decodeBlob(encoded string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, encoded)

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(cleaned)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
