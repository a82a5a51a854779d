package license

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNoRecord is returned by Load when no license file exists.
var ErrNoRecord = errors.New("license: no stored record")

// Store persists a single license record as a JSON file on local disk.
// Writes go through a temp file and an atomic rename so a crash mid-write
// never leaves a half-written record. Concurrent writers from separate
// processes are not coordinated; a single end-user machine is assumed.
type Store struct {
	path string
}

// NewStore creates a Store for the given file path.
// If path is empty, DefaultPath is used.
func NewStore(path string) (*Store, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return &Store{path: path}, nil
}

// DefaultPath returns the per-user license file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine config directory: %w", err)
	}
	return filepath.Join(dir, "fetchguard", "license.json"), nil
}

// Path returns the file location backing this store.
func (s *Store) Path() string {
	return s.path
}

// Save writes the record atomically, creating parent directories as
// needed. The file is written 0600; it proves an entitlement and should
// not be world-readable.
func (s *Store) Save(rec *Record) error {
	if rec == nil {
		return errors.New("license: cannot save nil record")
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode license record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create license directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".license-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()           //nolint:errcheck
		_ = os.Remove(tmpName)    //nolint:errcheck
		return fmt.Errorf("failed to write license record: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()        //nolint:errcheck
		_ = os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("failed to set license file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("failed to replace license file: %w", err)
	}
	return nil
}

// Load reads the stored record. Returns ErrNoRecord if the file does not
// exist and a wrapped error for unreadable or corrupt files; corruption is
// not silently mapped to absence so callers can log it distinctly.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("failed to read license file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode license file: %w", err)
	}
	return &rec, nil
}

// Remove deletes the stored record. Missing files are not an error.
func (s *Store) Remove() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove license file: %w", err)
	}
	return nil
}
