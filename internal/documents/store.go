// Package documents is the file-backed document store: YAML task, meeting
// and work-log files, markdown meeting notes, brainstorm reports and the
// SQLite version history. All mutation goes through atomic replace writes.
package documents

import (
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"sage/internal/apperrors"
	"sage/internal/config"
	"sage/internal/logging"
)

// Store reads and writes the planner's documents. One mutex guards all
// files; contention is negligible at this scale and the simple discipline
// rules out torn multi-file updates.
type Store struct {
	mu      sync.RWMutex
	cfg     config.DocumentsConfig
	logger  logging.Logger
	history *History
}

// New creates a store over the configured paths, opening the version
// history database and creating missing directories.
func New(cfg config.DocumentsConfig, logger logging.Logger) (*Store, error) {
	for _, dir := range []string{
		filepath.Dir(cfg.TasksPath),
		cfg.MeetingNotesDir,
		cfg.BrainstormsDir,
	} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "create data directory %s", dir)
		}
	}

	history, err := OpenHistory(cfg.HistoryDBPath)
	if err != nil {
		return nil, err
	}

	return &Store{
		cfg:     cfg,
		logger:  logger.WithComponent("documents"),
		history: history,
	}, nil
}

// History exposes the brainstorm version history.
func (s *Store) History() *History { return s.history }

// Close releases the history database.
func (s *Store) Close() error {
	return s.history.Close()
}

// readYAML decodes a YAML file into out. A missing file is not an error;
// out keeps its zero value.
func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "read %s", path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return apperrors.Wrap(apperrors.KindSchema, err, "parse %s", path)
	}
	return nil
}

// writeYAML atomically replaces path with the YAML encoding of in.
func writeYAML(path string, in any) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "encode %s", path)
	}
	return atomicWrite(path, data)
}

// atomicWrite stages data in a temp file and renames it over path, so a
// concurrent reader sees the old file or the new one, never a partial one.
func atomicWrite(path string, data []byte) error {
	tmpName, err := stageFile(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "replace %s", path)
	}
	return nil
}

// stageFile writes data to a temp file beside path and returns its name.
// The caller renames it into place or removes it.
func stageFile(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindStoreUnavailable, err, "stage %s", path)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", apperrors.Wrap(apperrors.KindStoreUnavailable, err, "stage %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", apperrors.Wrap(apperrors.KindStoreUnavailable, err, "stage %s", path)
	}
	return tmpName, nil
}
