package documents

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"sage/pkg/types"
)

var noteDatePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)

// MeetingNotesBetween returns the markdown notes dated within [from, to]
// inclusive, oldest first. The date comes from the filename when it contains
// one, otherwise from the first date-like string in the body; undatable
// notes are skipped with a warning.
func (s *Store) MeetingNotesBetween(ctx context.Context, from, to time.Time) ([]types.MeetingNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.cfg.MeetingNotesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	fromDay := truncateToDay(from)
	toDay := truncateToDay(to)

	var notes []types.MeetingNote
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(s.cfg.MeetingNotesDir, entry.Name())
		body, err := os.ReadFile(path)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable note", "path", path, "error", err)
			continue
		}

		date, ok := noteDate(entry.Name(), string(body))
		if !ok {
			s.logger.WarnContext(ctx, "skipping undatable note", "path", path)
			continue
		}
		if date.Before(fromDay) || date.After(toDay) {
			continue
		}
		notes = append(notes, types.MeetingNote{Path: path, Date: date, Body: string(body)})
	}

	sort.Slice(notes, func(i, j int) bool {
		if !notes[i].Date.Equal(notes[j].Date) {
			return notes[i].Date.Before(notes[j].Date)
		}
		return notes[i].Path < notes[j].Path
	})
	return notes, nil
}

// noteDate extracts the note date, filename first, then body.
func noteDate(filename, body string) (time.Time, bool) {
	for _, source := range []string{filename, body} {
		if m := noteDatePattern.FindString(source); m != "" {
			if t, err := time.Parse("2006-01-02", m); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
