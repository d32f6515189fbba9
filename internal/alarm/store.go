package alarm

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/sweeney/radio-alarm/internal/config"
)

// FileStore persists alarm configs as a JSON document.
type FileStore struct {
	path string
}

type document struct {
	Alarms []Config `json:"alarms"`
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads every alarm. A missing file means no alarms; an unreadable or
// invalid file is a *config.ConfigError.
func (s *FileStore) Load() ([]Config, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &config.ConfigError{Path: s.path, Err: fmt.Errorf("read alarms: %w", err)}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &config.ConfigError{Path: s.path, Err: fmt.Errorf("parse alarms: %w", err)}
	}

	seen := map[string]bool{}
	out := make([]Config, 0, len(doc.Alarms))
	for i, c := range doc.Alarms {
		c = c.Normalize()
		if err := c.Validate(); err != nil {
			return nil, &config.ConfigError{Path: s.path, Err: fmt.Errorf("alarm %d: %w", i, err)}
		}
		if seen[c.ID] {
			return nil, &config.ConfigError{Path: s.path, Err: fmt.Errorf("alarm %d: duplicate id %q", i, c.ID)}
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out, nil
}

// Save replaces the file with cfgs. The write is atomic and synced before
// the rename, so a power cut leaves either the old or the new file.
func (s *FileStore) Save(cfgs []Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create alarms dir: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending alarms file: %w", err)
	}
	defer pendingFile.Cleanup()

	if cfgs == nil {
		cfgs = []Config{}
	}
	enc := json.NewEncoder(pendingFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(document{Alarms: cfgs}); err != nil {
		return fmt.Errorf("encode alarms: %w", err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace alarms file: %w", err)
	}
	return nil
}
