package documents

import (
	"context"
	"time"

	"sage/internal/apperrors"
	"sage/pkg/types"
)

// meetingFile is the on-disk shape of the meetings YAML file.
type meetingFile struct {
	Meetings []types.Meeting `yaml:"meetings"`
}

// Meetings returns every calendar entry.
func (s *Store) Meetings(_ context.Context) ([]types.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var f meetingFile
	if err := readYAML(s.cfg.MeetingsPath, &f); err != nil {
		return nil, err
	}
	return f.Meetings, nil
}

// MeetingsOn returns the meetings touching the given local day, sorted by
// start time.
func (s *Store) MeetingsOn(ctx context.Context, day time.Time) ([]types.Meeting, error) {
	meetings, err := s.Meetings(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.Meeting
	for _, m := range meetings {
		if m.OnDate(day) {
			out = append(out, m)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Start.Before(out[j-1].Start); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// AddMeeting appends a calendar entry after validation.
func (s *Store) AddMeeting(_ context.Context, meeting types.Meeting) error {
	if err := meeting.Validate(); err != nil {
		return apperrors.Wrap(apperrors.KindInput, err, "invalid meeting")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var f meetingFile
	if err := readYAML(s.cfg.MeetingsPath, &f); err != nil {
		return err
	}
	f.Meetings = append(f.Meetings, meeting)
	return writeYAML(s.cfg.MeetingsPath, &f)
}

// RemoveMeeting deletes the calendar entry with the given ID.
func (s *Store) RemoveMeeting(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f meetingFile
	if err := readYAML(s.cfg.MeetingsPath, &f); err != nil {
		return err
	}
	kept := f.Meetings[:0]
	found := false
	for _, m := range f.Meetings {
		if m.ID == id {
			found = true
			continue
		}
		kept = append(kept, m)
	}
	if !found {
		return apperrors.NotFound("meeting", id)
	}
	f.Meetings = kept
	return writeYAML(s.cfg.MeetingsPath, &f)
}
