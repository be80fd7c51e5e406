package types

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Valid reports whether the status is recognized.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusDone, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskPriority ranks a task's importance.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Score maps a priority onto the planner's numeric scale.
func (p TaskPriority) Score() float64 {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Task is a unit of work tracked by the planner. IDs may be user supplied;
// duplicates are rejected at the store.
type Task struct {
	ID            string       `json:"id" yaml:"id"`
	Title         string       `json:"title" yaml:"title"`
	Description   string       `json:"description,omitempty" yaml:"description,omitempty"`
	Status        TaskStatus   `json:"status" yaml:"status"`
	Priority      TaskPriority `json:"priority" yaml:"priority"`
	DueDate       *time.Time   `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	Tags          []string     `json:"tags,omitempty" yaml:"tags,omitempty"`
	EstimateHours float64      `json:"estimate_hours,omitempty" yaml:"estimate_hours,omitempty"`
	Todo          string       `json:"todo,omitempty" yaml:"todo,omitempty"`
	CreatedAt     time.Time    `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" yaml:"updated_at"`
}

// Validate checks required task fields.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if t.Title == "" {
		return fmt.Errorf("task title is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("unknown task status %q", t.Status)
	}
	return nil
}

// Open reports whether the task still needs work.
func (t *Task) Open() bool {
	return t.Status != TaskStatusDone && t.Status != TaskStatusCancelled
}

// TaskDetail is the optional one-to-one elaboration of a task.
type TaskDetail struct {
	TaskID             string   `json:"task_id" yaml:"task_id"`
	Objective          string   `json:"objective,omitempty" yaml:"objective,omitempty"`
	IssueDescription   string   `json:"issue_description,omitempty" yaml:"issue_description,omitempty"`
	Tasks              []string `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria,omitempty"`
}

// WorkLog records time spent on a date. Entries are appended or removed,
// never edited in place.
type WorkLog struct {
	LogID       string  `json:"log_id" yaml:"log_id"`
	Date        string  `json:"date" yaml:"date"` // YYYY-MM-DD
	Description string  `json:"description" yaml:"description"`
	ActualHours float64 `json:"actual_hours" yaml:"actual_hours"`
	TaskID      string  `json:"task_id,omitempty" yaml:"task_id,omitempty"`
}

// Meeting is a calendar entry. Start and End carry timezone offsets and
// Start < End always holds for a valid meeting.
type Meeting struct {
	ID           string    `json:"id" yaml:"id"`
	Title        string    `json:"title" yaml:"title"`
	Start        time.Time `json:"start" yaml:"start"`
	End          time.Time `json:"end" yaml:"end"`
	Participants []string  `json:"participants,omitempty" yaml:"participants,omitempty"`
}

// Validate checks meeting invariants.
func (m *Meeting) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("meeting ID is required")
	}
	if !m.Start.Before(m.End) {
		return fmt.Errorf("meeting %s: start must precede end", m.ID)
	}
	return nil
}

// OnDate reports whether any part of the meeting falls on the given local day.
func (m *Meeting) OnDate(day time.Time) bool {
	y1, mo1, d1 := m.Start.Date()
	y2, mo2, d2 := day.Date()
	return y1 == y2 && mo1 == mo2 && d1 == d2
}

// MeetingNote is a dated free-form note, usually read from a markdown file.
type MeetingNote struct {
	Path string    `json:"path"`
	Date time.Time `json:"date"`
	Body string    `json:"body"`
}

// TaskSuggestion is a candidate task extracted from meeting text. The caller
// decides whether to promote it to a real Task.
type TaskSuggestion struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Priority    TaskPriority `json:"priority"`
	Deadline    *time.Time   `json:"deadline,omitempty"`
	Assignee    string       `json:"assignee,omitempty"`
	Category    string       `json:"category,omitempty"`
	Confidence  float64      `json:"confidence"`
	Context     string       `json:"context,omitempty"`
}

// MeetingAnalysis is the structured output of the meeting analyzer.
type MeetingAnalysis struct {
	Summary         string           `json:"summary"`
	KeyDecisions    []string         `json:"key_decisions"`
	ActionItems     []string         `json:"action_items"`
	NextSteps       []string         `json:"next_steps"`
	Participants    []string         `json:"participants"`
	SuggestedTasks  []TaskSuggestion `json:"suggested_tasks"`
	ConfidenceScore float64          `json:"confidence_score"`
}
