package documents

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"sage/internal/apperrors"
	"sage/pkg/types"
)

// taskFile is the on-disk shape of the tasks YAML file.
type taskFile struct {
	Tasks []types.Task `yaml:"tasks"`
}

// detailFile is the on-disk shape of the task details YAML file.
type detailFile struct {
	Details []types.TaskDetail `yaml:"task_details"`
}

// Tasks returns all tasks.
func (s *Store) Tasks(_ context.Context) ([]types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var f taskFile
	if err := readYAML(s.cfg.TasksPath, &f); err != nil {
		return nil, err
	}
	return f.Tasks, nil
}

// TaskByID finds one task.
func (s *Store) TaskByID(ctx context.Context, id string) (*types.Task, error) {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i], nil
		}
	}
	return nil, apperrors.NotFound("task", id)
}

// TaskByTitle finds a task by exact case-insensitive title, falling back to
// a unique substring match.
func (s *Store) TaskByTitle(ctx context.Context, title string) (*types.Task, error) {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(title))
	var partial *types.Task
	partials := 0
	for i := range tasks {
		candidate := strings.ToLower(tasks[i].Title)
		if candidate == needle {
			return &tasks[i], nil
		}
		if strings.Contains(candidate, needle) {
			partial = &tasks[i]
			partials++
		}
	}
	if partials == 1 {
		return partial, nil
	}
	if partials > 1 {
		return nil, apperrors.New(apperrors.KindInput, "title %q matches %d tasks, be more specific", title, partials)
	}
	return nil, apperrors.NotFound("task", title)
}

// AddTask appends a new task. User-supplied IDs are honored; duplicates are
// rejected.
func (s *Store) AddTask(_ context.Context, task types.Task) (*types.Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = types.TaskStatusPending
	}
	if task.Priority == "" {
		task.Priority = types.PriorityMedium
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if err := task.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInput, err, "invalid task")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var f taskFile
	if err := readYAML(s.cfg.TasksPath, &f); err != nil {
		return nil, err
	}
	for i := range f.Tasks {
		if f.Tasks[i].ID == task.ID {
			return nil, apperrors.Conflict("task ID already exists", task.ID)
		}
	}
	f.Tasks = append(f.Tasks, task)
	if err := writeYAML(s.cfg.TasksPath, &f); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask replaces the stored task with the same ID.
func (s *Store) UpdateTask(_ context.Context, task types.Task) error {
	if err := task.Validate(); err != nil {
		return apperrors.Wrap(apperrors.KindInput, err, "invalid task")
	}
	task.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var f taskFile
	if err := readYAML(s.cfg.TasksPath, &f); err != nil {
		return err
	}
	for i := range f.Tasks {
		if f.Tasks[i].ID == task.ID {
			task.CreatedAt = f.Tasks[i].CreatedAt
			f.Tasks[i] = task
			return writeYAML(s.cfg.TasksPath, &f)
		}
	}
	return apperrors.NotFound("task", task.ID)
}

// UpdateTaskStatus is the common partial update.
func (s *Store) UpdateTaskStatus(_ context.Context, id string, status types.TaskStatus) error {
	if !status.Valid() {
		return apperrors.New(apperrors.KindInput, "unknown task status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var f taskFile
	if err := readYAML(s.cfg.TasksPath, &f); err != nil {
		return err
	}
	for i := range f.Tasks {
		if f.Tasks[i].ID == id {
			f.Tasks[i].Status = status
			f.Tasks[i].UpdatedAt = time.Now().UTC()
			return writeYAML(s.cfg.TasksPath, &f)
		}
	}
	return apperrors.NotFound("task", id)
}

// RemoveTask deletes the task and its detail record, if any.
func (s *Store) RemoveTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f taskFile
	if err := readYAML(s.cfg.TasksPath, &f); err != nil {
		return err
	}
	kept := f.Tasks[:0]
	found := false
	for _, t := range f.Tasks {
		if t.ID == id {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		return apperrors.NotFound("task", id)
	}
	f.Tasks = kept
	if err := writeYAML(s.cfg.TasksPath, &f); err != nil {
		return err
	}

	var d detailFile
	if err := readYAML(s.cfg.TaskDetailsPath, &d); err != nil {
		return err
	}
	keptDetails := d.Details[:0]
	for _, det := range d.Details {
		if det.TaskID != id {
			keptDetails = append(keptDetails, det)
		}
	}
	if len(keptDetails) != len(d.Details) {
		d.Details = keptDetails
		return writeYAML(s.cfg.TaskDetailsPath, &d)
	}
	return nil
}

// TaskDetail returns the optional elaboration of a task.
func (s *Store) TaskDetail(_ context.Context, taskID string) (*types.TaskDetail, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d detailFile
	if err := readYAML(s.cfg.TaskDetailsPath, &d); err != nil {
		return nil, false, err
	}
	for i := range d.Details {
		if d.Details[i].TaskID == taskID {
			return &d.Details[i], true, nil
		}
	}
	return nil, false, nil
}

// SaveTaskDetail upserts the detail record for a task.
func (s *Store) SaveTaskDetail(_ context.Context, detail types.TaskDetail) error {
	if detail.TaskID == "" {
		return apperrors.New(apperrors.KindInput, "task detail requires a task_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var d detailFile
	if err := readYAML(s.cfg.TaskDetailsPath, &d); err != nil {
		return err
	}
	for i := range d.Details {
		if d.Details[i].TaskID == detail.TaskID {
			d.Details[i] = detail
			return writeYAML(s.cfg.TaskDetailsPath, &d)
		}
	}
	d.Details = append(d.Details, detail)
	return writeYAML(s.cfg.TaskDetailsPath, &d)
}

// CreateTaskFromSuggestion promotes an analyzer suggestion to a real task.
func (s *Store) CreateTaskFromSuggestion(ctx context.Context, sug types.TaskSuggestion) (*types.Task, error) {
	if strings.TrimSpace(sug.Title) == "" {
		return nil, apperrors.New(apperrors.KindInput, "suggestion has no title")
	}
	priority := sug.Priority
	if priority == "" {
		priority = types.PriorityMedium
	}
	task := types.Task{
		Title:       sug.Title,
		Description: sug.Description,
		Status:      types.TaskStatusPending,
		Priority:    priority,
		DueDate:     sug.Deadline,
	}
	if sug.Category != "" {
		task.Tags = []string{sug.Category}
	}
	return s.AddTask(ctx, task)
}
