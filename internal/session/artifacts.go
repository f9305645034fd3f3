package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
	"github.com/zalando/go-keyring"
)

const serviceName = "stockdesk"

// Artifacts are the session remnants the client is permitted to persist
// between processes: the anti-forgery token and the signed-in identity.
// The access token is deliberately absent (in-memory only), and the refresh
// token lives in a server-owned HTTP-only cookie the client never sees.
type Artifacts struct {
	CSRFToken string `json:"csrf_token"`
	Email     string `json:"email,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	LastLogin string `json:"last_login,omitempty"`
}

// ArtifactStore persists session artifacts, preferring the system keychain
// with a locked plaintext file as fallback.
type ArtifactStore struct {
	useKeyring  bool
	fallbackDir string
}

// NewArtifactStore creates an artifact store rooted at fallbackDir.
func NewArtifactStore(fallbackDir string) *ArtifactStore {
	// Skip keyring for tests or when explicitly disabled
	if os.Getenv("STOCKDESK_NO_KEYRING") != "" {
		return &ArtifactStore{useKeyring: false, fallbackDir: fallbackDir}
	}

	// Test if keyring is available
	testKey := "stockdesk::test"
	err := keyring.Set(serviceName, testKey, "test")
	if err == nil {
		_ = keyring.Delete(serviceName, testKey) // Best-effort cleanup
		return &ArtifactStore{useKeyring: true, fallbackDir: fallbackDir}
	}
	fmt.Fprintf(os.Stderr, "warning: system keyring unavailable, session artifacts stored in plaintext at %s\n",
		filepath.Join(fallbackDir, "session.json"))
	return &ArtifactStore{useKeyring: false, fallbackDir: fallbackDir}
}

// key returns the keyring key for an origin.
func key(origin string) string {
	return fmt.Sprintf("stockdesk::%s", origin)
}

// Load retrieves artifacts for the given origin.
func (s *ArtifactStore) Load(origin string) (*Artifacts, error) {
	if s.useKeyring {
		return s.loadFromKeyring(origin)
	}
	return s.loadFromFile(origin)
}

// Save stores artifacts for the given origin.
func (s *ArtifactStore) Save(origin string, art *Artifacts) error {
	if s.useKeyring {
		return s.saveToKeyring(origin, art)
	}
	return s.saveToFile(origin, art)
}

// Delete removes artifacts for the given origin. Deleting artifacts that do
// not exist is not an error; session termination must stay idempotent.
func (s *ArtifactStore) Delete(origin string) error {
	if s.useKeyring {
		err := keyring.Delete(serviceName, key(origin))
		if err == keyring.ErrNotFound {
			return nil
		}
		return err
	}
	return s.deleteFile(origin)
}

// Keyring methods

func (s *ArtifactStore) loadFromKeyring(origin string) (*Artifacts, error) {
	data, err := keyring.Get(serviceName, key(origin))
	if err != nil {
		return nil, fmt.Errorf("session artifacts not found: %w", err)
	}

	var art Artifacts
	if err := json.Unmarshal([]byte(data), &art); err != nil {
		return nil, fmt.Errorf("invalid session artifacts: %w", err)
	}
	return &art, nil
}

func (s *ArtifactStore) saveToKeyring(origin string, art *Artifacts) error {
	data, err := json.Marshal(art)
	if err != nil {
		return err
	}
	return keyring.Set(serviceName, key(origin), string(data))
}

// File fallback methods. The file holds artifacts for every origin and is
// guarded by a flock so concurrent stockdesk processes do not clobber it.

func (s *ArtifactStore) artifactsPath() string {
	return filepath.Join(s.fallbackDir, "session.json")
}

func (s *ArtifactStore) lockPath() string {
	return filepath.Join(s.fallbackDir, "session.lock")
}

func (s *ArtifactStore) withLock(fn func() error) error {
	if err := os.MkdirAll(s.fallbackDir, 0700); err != nil {
		return err
	}
	lock := flock.New(s.lockPath())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock session file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

func (s *ArtifactStore) loadAllFromFile() (map[string]*Artifacts, error) {
	data, err := os.ReadFile(s.artifactsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Artifacts), nil
		}
		return nil, err
	}

	var all map[string]*Artifacts
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (s *ArtifactStore) saveAllToFile(all map[string]*Artifacts) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write with randomized temp file name
	tmpFile, err := os.CreateTemp(s.fallbackDir, "session-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	// Unix: rename atomically replaces the destination.
	// Windows: rename fails when destination exists; remove then retry.
	destPath := s.artifactsPath()
	if err := os.Rename(tmpPath, destPath); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(destPath)
			return os.Rename(tmpPath, destPath)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *ArtifactStore) loadFromFile(origin string) (*Artifacts, error) {
	var art *Artifacts
	err := s.withLock(func() error {
		all, err := s.loadAllFromFile()
		if err != nil {
			return err
		}
		found, ok := all[origin]
		if !ok {
			return fmt.Errorf("session artifacts not found for %s", origin)
		}
		art = found
		return nil
	})
	return art, err
}

func (s *ArtifactStore) saveToFile(origin string, art *Artifacts) error {
	return s.withLock(func() error {
		all, err := s.loadAllFromFile()
		if err != nil {
			return err
		}
		all[origin] = art
		return s.saveAllToFile(all)
	})
}

func (s *ArtifactStore) deleteFile(origin string) error {
	return s.withLock(func() error {
		all, err := s.loadAllFromFile()
		if err != nil {
			return err
		}
		delete(all, origin)
		return s.saveAllToFile(all)
	})
}

// UsingKeyring returns true if the store is using the system keyring.
func (s *ArtifactStore) UsingKeyring() bool {
	return s.useKeyring
}

// FormatLastLogin renders a stored last-login timestamp for display.
func FormatLastLogin(raw string) string {
	if raw == "" {
		return ""
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.Local().Format("2006-01-02 15:04")
	}
	return raw
}
