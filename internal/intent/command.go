// Package intent classifies natural-language queries into typed commands,
// using a schema-constrained LLM call with a deterministic regex fallback.
package intent

import "sage/pkg/types"

// Kind enumerates the recognized commands.
type Kind string

const (
	KindAddTask       Kind = "add_task"
	KindUpdateTask    Kind = "update_task"
	KindRemoveTask    Kind = "remove_task"
	KindSearchTasks   Kind = "search_tasks"
	KindAddMeeting    Kind = "add_meeting"
	KindRemoveMeeting Kind = "remove_meeting"
	KindAddLog        Kind = "add_log"
	KindRemoveLog     Kind = "remove_log"
	KindPlanDay       Kind = "plan_day"
	KindBrainstorm    Kind = "brainstorm"
	KindRAGSearch     Kind = "rag_search"
	KindSmallTalk     Kind = "small_talk"
	KindUnknown       Kind = "unknown"
)

// knownKinds maps the LLM's action strings onto kinds. Anything else is
// Unknown.
var knownKinds = map[string]Kind{
	"add_task":       KindAddTask,
	"update_task":    KindUpdateTask,
	"remove_task":    KindRemoveTask,
	"search_tasks":   KindSearchTasks,
	"add_meeting":    KindAddMeeting,
	"remove_meeting": KindRemoveMeeting,
	"add_log":        KindAddLog,
	"remove_log":     KindRemoveLog,
	"plan_day":       KindPlanDay,
	"brainstorm":     KindBrainstorm,
	"rag_search":     KindRAGSearch,
	"small_talk":     KindSmallTalk,
}

// Command is one parsed query. Kind says which of the payload fields are
// meaningful.
type Command struct {
	Kind Kind `json:"kind"`

	// Task payloads.
	Task   *types.Task `json:"task,omitempty"`
	TaskID string      `json:"task_id,omitempty"`

	// Meeting payloads.
	Meeting   *types.Meeting `json:"meeting,omitempty"`
	MeetingID string         `json:"meeting_id,omitempty"`

	// Work log payloads.
	Log   *types.WorkLog `json:"log,omitempty"`
	LogID string         `json:"log_id,omitempty"`

	// Query carries the free text for searches, brainstorms and small talk.
	Query string `json:"query,omitempty"`

	// TargetDate is the resolved ISO date for plan_day.
	TargetDate string `json:"target_date,omitempty"`
}
