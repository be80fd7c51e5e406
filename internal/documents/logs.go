package documents

import (
	"context"

	"github.com/google/uuid"

	"sage/internal/apperrors"
	"sage/pkg/types"
)

// logFile is the on-disk shape of the work log YAML file.
type logFile struct {
	Logs []types.WorkLog `yaml:"work_logs"`
}

// WorkLogs returns every log entry, oldest first.
func (s *Store) WorkLogs(_ context.Context) ([]types.WorkLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var f logFile
	if err := readYAML(s.cfg.LogsPath, &f); err != nil {
		return nil, err
	}
	return f.Logs, nil
}

// WorkLogsOn returns the entries for a single YYYY-MM-DD date.
func (s *Store) WorkLogsOn(ctx context.Context, date string) ([]types.WorkLog, error) {
	logs, err := s.WorkLogs(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.WorkLog
	for _, l := range logs {
		if l.Date == date {
			out = append(out, l)
		}
	}
	return out, nil
}

// AppendWorkLog adds an entry. Entries are never edited in place; mistakes
// are retracted with RemoveWorkLog.
func (s *Store) AppendWorkLog(_ context.Context, entry types.WorkLog) (*types.WorkLog, error) {
	if entry.Date == "" {
		return nil, apperrors.New(apperrors.KindInput, "work log requires a date")
	}
	if entry.Description == "" {
		return nil, apperrors.New(apperrors.KindInput, "work log requires a description")
	}
	if entry.LogID == "" {
		entry.LogID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var f logFile
	if err := readYAML(s.cfg.LogsPath, &f); err != nil {
		return nil, err
	}
	f.Logs = append(f.Logs, entry)
	if err := writeYAML(s.cfg.LogsPath, &f); err != nil {
		return nil, err
	}
	return &entry, nil
}

// RemoveWorkLog deletes the entry with the given log ID.
func (s *Store) RemoveWorkLog(_ context.Context, logID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f logFile
	if err := readYAML(s.cfg.LogsPath, &f); err != nil {
		return err
	}
	kept := f.Logs[:0]
	found := false
	for _, l := range f.Logs {
		if l.LogID == logID {
			found = true
			continue
		}
		kept = append(kept, l)
	}
	if !found {
		return apperrors.NotFound("work log", logID)
	}
	f.Logs = kept
	return writeYAML(s.cfg.LogsPath, &f)
}
