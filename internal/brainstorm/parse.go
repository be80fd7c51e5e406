package brainstorm

import (
	"regexp"
	"strings"

	"sage/internal/apperrors"
	"sage/pkg/types"
)

// Action is what the caller wants done with a task's brainstorm.
type Action string

const (
	ActionNew     Action = "new"
	ActionReplace Action = "replace"
	ActionImprove Action = "improve"
	ActionUpdate  Action = "update"
)

// Type maps the action onto the report type recorded in the output.
func (a Action) Type() types.BrainstormType {
	switch a {
	case ActionImprove:
		return types.BrainstormImproved
	case ActionUpdate:
		return types.BrainstormUpdated
	default:
		return types.BrainstormInitial
	}
}

// Request is a parsed brainstorm request. Exactly one of TaskID and Title is
// set.
type Request struct {
	Action Action
	TaskID string
	Title  string
}

var (
	actionPattern = regexp.MustCompile(`(?i)\b(replace|redo|regenerate|improve|refine|update)\b`)
	// Leading command words stripped before the selector is read.
	selectorPrefix = regexp.MustCompile(`(?i)^(?:please\s+)?(?:replace|redo|regenerate|improve|refine|update|brainstorm|create|make|start)?\s*(?:a\s+|the\s+|new\s+)*(?:brainstorm\s*)?(?:session\s*)?(?:for|about|on)?\s*(?:a\s+|the\s+)*(?:task\s*)?`)
	quotedTitle    = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	idLike         = regexp.MustCompile(`(?i)^#?([a-z0-9][a-z0-9_-]*)$`)
)

// ParseRequest reads a natural-language brainstorm request into an action and
// a task selector. Parsing is rule-based and deterministic.
func ParseRequest(query string) (Request, error) {
	req := Request{Action: ActionNew}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return req, apperrors.New(apperrors.KindInput, "empty brainstorm request")
	}

	switch strings.ToLower(actionPattern.FindString(trimmed)) {
	case "replace", "redo", "regenerate":
		req.Action = ActionReplace
	case "improve", "refine":
		req.Action = ActionImprove
	case "update":
		req.Action = ActionUpdate
	}

	if m := quotedTitle.FindStringSubmatch(trimmed); m != nil {
		req.Title = m[1] + m[2] // exactly one group matched
		return req, nil
	}

	selector := strings.TrimSpace(selectorPrefix.ReplaceAllString(trimmed, ""))
	selector = strings.Trim(selector, ".!?")
	if selector == "" {
		return req, apperrors.New(apperrors.KindInput, "brainstorm request names no task")
	}

	// A single token with at least one digit reads as an ID; anything else
	// is a title.
	if m := idLike.FindStringSubmatch(selector); m != nil && strings.ContainsAny(selector, "0123456789") {
		req.TaskID = m[1]
		return req, nil
	}
	req.Title = selector
	return req, nil
}
