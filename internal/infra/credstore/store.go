// Package credstore persists the reusable authentication blob.
//
// The blob is opaque to the rest of the program: only this package knows its
// layout, and the layout is versioned so older files keep loading after
// format changes. Saves replace the file atomically so a crash can never
// leave a partially written blob behind.
package credstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
)

const currentVersion = 1

var (
	// ErrNoBlob indicates no credential blob has been persisted yet.
	ErrNoBlob = errors.New("no credential blob")
	// ErrCorrupt indicates the persisted blob could not be decoded. Callers
	// should fall back to a full authentication rather than retry the read.
	ErrCorrupt = errors.New("credential blob corrupt")
)

// Blob is the persisted authenticated-session material.
type Blob struct {
	Version      int       `json:"version" mapstructure:"version"`
	RefreshToken string    `json:"refresh_token" mapstructure:"refresh_token"`
	Scopes       []string  `json:"scopes" mapstructure:"scopes"`
	UpdatedAt    time.Time `json:"updated_at" mapstructure:"-"`
}

// Store loads and saves the credential blob at a fixed path.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a store for the given file path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the blob file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and decodes the blob. Returns ErrNoBlob when the file does not
// exist and ErrCorrupt when it cannot be decoded (including a torn write by
// a concurrent saver on filesystems without atomic rename).
func (s *Store) Load() (*Blob, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoBlob
		}
		return nil, errors.Wrap(err, "failed to read credential blob")
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to parse credential blob"), ErrCorrupt)
	}

	version, _ := raw["version"].(float64)
	switch int(version) {
	case currentVersion:
		var b Blob
		if err := mapstructure.Decode(raw, &b); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to decode credential blob"), ErrCorrupt)
		}
		if b.RefreshToken == "" {
			return nil, errors.Mark(errors.New("credential blob has no refresh token"), ErrCorrupt)
		}
		if ts, ok := raw["updated_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				b.UpdatedAt = t
			}
		}
		return &b, nil
	default:
		return nil, errors.Mark(errors.Newf("unsupported credential blob version %d", int(version)), ErrCorrupt)
	}
}

// Save encodes the blob and replaces the file atomically
// (write-to-temp-then-rename in the same directory).
func (s *Store) Save(b *Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := *b
	out.Version = currentVersion
	out.UpdatedAt = time.Now().UTC()

	payload := map[string]any{
		"version":       out.Version,
		"refresh_token": out.RefreshToken,
		"scopes":        out.Scopes,
		"updated_at":    out.UpdatedAt.Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode credential blob")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "failed to create credential directory")
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp credential file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to restrict credential file mode")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write credential blob")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync credential blob")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close credential blob")
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Wrap(err, "failed to replace credential blob")
	}
	return nil
}

// Clear removes the persisted blob, if any.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove credential blob")
	}
	return nil
}
