package intent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"sage/internal/ai"
	"sage/internal/apperrors"
	"sage/internal/logging"
	"sage/internal/planner"
	"sage/pkg/types"
)

const parseSystemPrompt = `You classify a user query for a task and retrieval assistant.
Reply with one JSON object, no prose:
{"action": "<one of: add_task, update_task, remove_task, search_tasks, add_meeting, remove_meeting, add_log, remove_log, plan_day, brainstorm, rag_search, small_talk>", "data": {...}}
Data fields by action:
  add_task/update_task: {"id"?, "title", "description"?, "priority"? (low|medium|high), "due_date"?, "estimate_hours"?, "tags"?: []}
  remove_task: {"id"}
  search_tasks/rag_search/brainstorm/small_talk: {"query"}
  add_meeting: {"id"?, "title", "start", "end"}
  remove_meeting: {"id"}
  add_log: {"date"?, "description", "actual_hours"?}
  remove_log: {"id"}
  plan_day: {"date"?}
Dates may stay natural language ("tomorrow", "next friday"); they are normalized downstream.`

// envelope is the constrained LLM reply.
type envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Parser turns free text into Commands.
type Parser struct {
	llm    ai.Client
	logger logging.Logger
	now    func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock overrides the date-normalization clock. Used by tests.
func WithClock(now func() time.Time) Option { return func(p *Parser) { p.now = now } }

// NewParser creates a parser. llm may be nil, leaving only the regex table.
func NewParser(llm ai.Client, logger logging.Logger, opts ...Option) *Parser {
	p := &Parser{llm: llm, logger: logger.WithComponent("intent"), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse classifies text. LLM first; on provider failure or an unparsable
// reply the deterministic fallback table runs. Parsing never fails hard: the
// worst outcome is a KindUnknown command.
func (p *Parser) Parse(ctx context.Context, text string) (Command, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Command{Kind: KindUnknown}, nil
	}

	if p.llm != nil {
		response, err := p.llm.Complete(ctx, parseSystemPrompt, trimmed)
		if err == nil {
			if cmd, ok := p.decode(response, trimmed); ok {
				return cmd, nil
			}
			p.logger.WarnContext(ctx, "unparsable intent reply, using fallback")
		} else {
			if ctx.Err() != nil {
				return Command{}, apperrors.Wrap(apperrors.KindTimeout, err, "intent parse cancelled")
			}
			p.logger.WarnContext(ctx, "intent model unavailable, using fallback", "error", err)
		}
	}

	return p.fallback(trimmed), nil
}

// decode maps the LLM envelope onto a Command.
func (p *Parser) decode(response, original string) (Command, bool) {
	raw := stripCodeFence(response)
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Command{}, false
	}

	kind, ok := knownKinds[strings.ToLower(strings.TrimSpace(env.Action))]
	if !ok {
		return Command{Kind: KindUnknown}, true
	}

	cmd := Command{Kind: kind}
	switch kind {
	case KindAddTask, KindUpdateTask:
		var d struct {
			ID            string   `json:"id"`
			Title         string   `json:"title"`
			Description   string   `json:"description"`
			Priority      string   `json:"priority"`
			DueDate       string   `json:"due_date"`
			EstimateHours float64  `json:"estimate_hours"`
			Tags          []string `json:"tags"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil || d.Title == "" {
			return Command{Kind: KindUnknown}, true
		}
		task := &types.Task{
			ID:            d.ID,
			Title:         d.Title,
			Description:   d.Description,
			Priority:      types.TaskPriority(strings.ToLower(d.Priority)),
			EstimateHours: d.EstimateHours,
			Tags:          d.Tags,
		}
		if d.DueDate != "" {
			if due, err := planner.ResolveDate(d.DueDate, p.now()); err == nil {
				task.DueDate = &due
			}
		}
		cmd.Task = task

	case KindRemoveTask, KindRemoveMeeting, KindRemoveLog:
		var d struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil || d.ID == "" {
			return Command{Kind: KindUnknown}, true
		}
		switch kind {
		case KindRemoveTask:
			cmd.TaskID = d.ID
		case KindRemoveMeeting:
			cmd.MeetingID = d.ID
		default:
			cmd.LogID = d.ID
		}

	case KindSearchTasks, KindRAGSearch, KindBrainstorm, KindSmallTalk:
		var d struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil || d.Query == "" {
			// Small talk can safely fall back to the raw text.
			if kind == KindSmallTalk {
				cmd.Query = original
				return cmd, true
			}
			return Command{Kind: KindUnknown}, true
		}
		cmd.Query = d.Query

	case KindAddMeeting:
		var d struct {
			ID    string `json:"id"`
			Title string `json:"title"`
			Start string `json:"start"`
			End   string `json:"end"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil || d.Title == "" {
			return Command{Kind: KindUnknown}, true
		}
		start, err1 := parseTimestamp(d.Start, p.now())
		end, err2 := parseTimestamp(d.End, p.now())
		if err1 != nil || err2 != nil || !start.Before(end) {
			return Command{Kind: KindUnknown}, true
		}
		cmd.Meeting = &types.Meeting{ID: d.ID, Title: d.Title, Start: start, End: end}

	case KindAddLog:
		var d struct {
			Date        string  `json:"date"`
			Description string  `json:"description"`
			ActualHours float64 `json:"actual_hours"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil || d.Description == "" {
			return Command{Kind: KindUnknown}, true
		}
		date := d.Date
		if resolved, err := planner.ResolveDate(date, p.now()); err == nil {
			date = resolved.Format("2006-01-02")
		}
		cmd.Log = &types.WorkLog{Date: date, Description: d.Description, ActualHours: d.ActualHours}

	case KindPlanDay:
		var d struct {
			Date string `json:"date"`
		}
		_ = json.Unmarshal(env.Data, &d)
		resolved, err := planner.ResolveDate(d.Date, p.now())
		if err != nil {
			return Command{Kind: KindUnknown}, true
		}
		cmd.TargetDate = resolved.Format("2006-01-02")
	}
	return cmd, true
}

// parseTimestamp accepts RFC3339 or a bare "2006-01-02 15:04".
func parseTimestamp(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04", s, now.Location())
}

// stripCodeFence unwraps a fenced reply. Models fence JSON even when told
// not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
