// Package planner builds day plans: it scores open tasks, subtracts meetings
// from working hours, fits tasks into the free windows and renders the
// yesterday/tomorrow markdown pair. The planner holds no state between calls
// and never writes to disk.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sage/internal/ai"
	"sage/internal/apperrors"
	"sage/internal/config"
	"sage/internal/documents"
	"sage/internal/logging"
	"sage/internal/meetings"
	"sage/pkg/types"
)

// Request shapes one planning call.
type Request struct {
	// TargetDate is a natural-language date reference; empty means today.
	TargetDate string
	// UseLLMFocus additionally asks the model for focus statements.
	UseLLMFocus bool
	// Feedback is free-form caller guidance echoed into the plan.
	Feedback string
}

// Result is the rendered plan. The planner emits markdown only; persisting
// it is the caller's business.
type Result struct {
	Date              time.Time `json:"date"`
	YesterdayMarkdown string    `json:"yesterday_markdown"`
	TomorrowMarkdown  string    `json:"tomorrow_markdown"`
}

// Planner computes day plans from the document store.
type Planner struct {
	docs   *documents.Store
	llm    ai.Client // nil disables LLM focus regardless of the request
	logger logging.Logger
	cfg    config.PlannerConfig
	now    func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock overrides the planning clock. Used by tests.
func WithClock(now func() time.Time) Option { return func(p *Planner) { p.now = now } }

// New creates a planner. llm may be nil.
func New(docs *documents.Store, llm ai.Client, cfg config.PlannerConfig, logger logging.Logger, opts ...Option) *Planner {
	p := &Planner{
		docs:   docs,
		llm:    llm,
		logger: logger.WithComponent("planner"),
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan builds the plan for the requested day. Any source failing to load or
// parse fails the whole call; there is no partial plan.
func (p *Planner) Plan(ctx context.Context, req Request) (*Result, error) {
	day, err := ResolveDate(req.TargetDate, p.now())
	if err != nil {
		return nil, err
	}

	tasks, err := p.docs.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	yesterdayLogs, err := p.docs.WorkLogsOn(ctx, day.AddDate(0, 0, -1).Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	meetings, err := p.docs.MeetingsOn(ctx, day)
	if err != nil {
		return nil, err
	}
	notes, err := p.docs.MeetingNotesBetween(ctx, day.AddDate(0, 0, -focusLookback), day)
	if err != nil {
		return nil, err
	}

	dayStart, dayEnd, err := p.workHours(day)
	if err != nil {
		return nil, err
	}

	details := make(map[string]*types.TaskDetail)
	for _, t := range tasks {
		d, ok, err := p.docs.TaskDetail(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			details[t.ID] = d
		}
	}

	windows := FreeWindows(dayStart, dayEnd, meetings)
	slots := Fit(day, tasks, details, windows)

	focus := ExtractFocus(notes)
	focus = mergeFocus(focus, analyzeNotes(notes))
	if req.UseLLMFocus && p.llm != nil {
		focus = mergeFocus(focus, LLMFocus(ctx, p.llm, p.logger, notes, tasks))
	}

	p.logger.InfoContext(ctx, "plan built",
		"date", day.Format("2006-01-02"),
		"windows", len(windows),
		"slots", len(slots),
		"focus_items", len(focus),
	)

	return &Result{
		Date:              day,
		YesterdayMarkdown: renderYesterday(day, yesterdayLogs),
		TomorrowMarkdown:  renderDay(day, slots, meetings, windows, focus, req.Feedback),
	}, nil
}

// analyzeNotes runs the meeting analyzer over each recent note and collects
// its action items and next steps. Undatable or unparsable notes contribute
// nothing.
func analyzeNotes(notes []types.MeetingNote) []string {
	var items []string
	for _, note := range notes {
		analysis, err := meetings.Analyze(note.Body, note.Date, "")
		if err != nil {
			continue
		}
		items = append(items, analysis.ActionItems...)
		items = append(items, analysis.NextSteps...)
	}
	return items
}

// mergeFocus appends extra items, case-insensitively deduped, keeping the cap.
func mergeFocus(focus, extra []string) []string {
	seen := make(map[string]struct{}, len(focus))
	for _, f := range focus {
		seen[strings.ToLower(f)] = struct{}{}
	}
	for _, e := range extra {
		if len(focus) >= maxFocusItems {
			break
		}
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(e)]; dup {
			continue
		}
		seen[strings.ToLower(e)] = struct{}{}
		focus = append(focus, e)
	}
	return focus
}

// workHours anchors the configured HH:MM working hours on the target day.
func (p *Planner) workHours(day time.Time) (time.Time, time.Time, error) {
	start, err := config.ParseClock(p.cfg.WorkHoursStart)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.Wrap(apperrors.KindInput, err, "work hours start")
	}
	end, err := config.ParseClock(p.cfg.WorkHoursEnd)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.Wrap(apperrors.KindInput, err, "work hours end")
	}
	return day.Add(start), day.Add(end), nil
}

// renderYesterday produces 3 to 5 short bullets from the previous day's log.
func renderYesterday(day time.Time, logs []types.WorkLog) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Yesterday (%s)\n\n", day.AddDate(0, 0, -1).Format("2006-01-02"))
	if len(logs) == 0 {
		sb.WriteString("_No work logged._\n")
		return sb.String()
	}

	const maxBullets = 5
	for i, l := range logs {
		if i >= maxBullets {
			break
		}
		fmt.Fprintf(&sb, "- %s", truncateWords(l.Description, 20))
		if l.ActualHours > 0 {
			fmt.Fprintf(&sb, " (%.1fh)", l.ActualHours)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderDay(day time.Time, slots []Slot, meetings []types.Meeting, windows []Window, focus []string, feedback string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Plan for %s\n", day.Format("Monday, 2006-01-02"))

	if len(meetings) > 0 {
		sb.WriteString("\n## Meetings\n\n")
		for _, m := range meetings {
			fmt.Fprintf(&sb, "- %s to %s: %s\n", m.Start.Format("15:04"), m.End.Format("15:04"), m.Title)
		}
	}

	sb.WriteString("\n## Schedule\n\n")
	if len(slots) == 0 {
		if len(windows) == 0 {
			sb.WriteString("_No free time within working hours._\n")
		} else {
			sb.WriteString("_No open tasks to schedule._\n")
		}
	}
	for _, s := range slots {
		fmt.Fprintf(&sb, "- %s to %s: %s", s.Start.Format("15:04"), s.End.Format("15:04"), s.Task.Title)
		if s.Partial {
			sb.WriteString(" (partial)")
		}
		sb.WriteString("\n")
	}

	if len(focus) > 0 {
		sb.WriteString("\n## Focus Areas\n\n")
		for _, f := range focus {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}

	if strings.TrimSpace(feedback) != "" {
		sb.WriteString("\n## Notes\n\n")
		fmt.Fprintf(&sb, "%s\n", strings.TrimSpace(feedback))
	}
	return sb.String()
}

// truncateWords keeps the first n words of s.
func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "…"
}
