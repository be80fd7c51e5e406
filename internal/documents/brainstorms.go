package documents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sage/internal/apperrors"
)

const collectiveBrainstormFile = "task_brainstorms.md"

// brainstormHeader renders the section header used in the collective file.
func brainstormHeader(title, taskID string) string {
	return fmt.Sprintf("## Brainstorm: %s (%s)", title, taskID)
}

// BrainstormPath returns the per-task report path.
func (s *Store) BrainstormPath(taskID string) string {
	return filepath.Join(s.cfg.BrainstormsDir, taskID+"_brainstorm.md")
}

// ReadBrainstorm returns the persisted report for a task, if one exists.
func (s *Store) ReadBrainstorm(_ context.Context, taskID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.BrainstormPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "read brainstorm for %s", taskID)
	}
	return string(data), true, nil
}

// WriteBrainstorm persists the report twice: the per-task file and the
// matching section of the collective file. Both replacements are staged as
// temp files before either rename, so a failure while preparing leaves both
// files unchanged and a reader never observes a half-written report. The
// per-task file is the source of truth, so it renames first.
func (s *Store) WriteBrainstorm(_ context.Context, taskID, title, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	collective := filepath.Join(s.cfg.BrainstormsDir, collectiveBrainstormFile)
	existing, err := os.ReadFile(collective)
	if err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "read collective brainstorm file")
	}

	section := brainstormHeader(title, taskID) + "\n\n" + strings.TrimSpace(content) + "\n"
	updated := replaceSection(string(existing), taskID, section)

	perTask := s.BrainstormPath(taskID)
	perTmp, err := stageFile(perTask, []byte(content))
	if err != nil {
		return err
	}
	colTmp, err := stageFile(collective, []byte(updated))
	if err != nil {
		os.Remove(perTmp)
		return err
	}

	if err := os.Rename(perTmp, perTask); err != nil {
		os.Remove(perTmp)
		os.Remove(colTmp)
		return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "replace %s", perTask)
	}
	if err := os.Rename(colTmp, collective); err != nil {
		os.Remove(colTmp)
		return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "replace %s", collective)
	}
	return nil
}

// replaceSection swaps the task's section in the collective document, or
// appends it when absent. Sections are delimited by "## Brainstorm:"
// headers; matching is on the trailing "(task_id)".
func replaceSection(doc, taskID, section string) string {
	marker := "(" + taskID + ")"
	lines := strings.Split(doc, "\n")

	var out []string
	skipping := false
	for _, line := range lines {
		if strings.HasPrefix(line, "## Brainstorm:") {
			// Drop the stale section; the fresh one is appended below.
			skipping = strings.Contains(line, marker)
		}
		if skipping {
			continue
		}
		out = append(out, line)
	}

	result := strings.TrimSpace(strings.Join(out, "\n"))
	if result != "" {
		result += "\n\n"
	}
	result += section
	return result
}
