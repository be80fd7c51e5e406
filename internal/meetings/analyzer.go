// Package meetings extracts structure from raw meeting text: decisions,
// action items, participants and candidate tasks. The analyzer is a pure
// function over its inputs; turning suggestions into real tasks is the
// caller's call.
package meetings

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"sage/internal/apperrors"
	"sage/pkg/types"
)

var (
	participantsLine = regexp.MustCompile(`(?i)^\s*(?:attendees|participants|present)\s*:\s*(.+)$`)
	decisionLine     = regexp.MustCompile(`(?i)^\s*(?:[-*+]\s*)?(?:decision|decided|agreed|resolution)\b[:\s]*(.*)$`)
	actionItemLine   = regexp.MustCompile(`(?i)^\s*(?:[-*+]\s*)?(?:\[[ x]\]\s*)?(?:action(?:\s+item)?|todo|follow[- ]?up)\b[:\s]*(.*)$`)
	nextStepHeading  = regexp.MustCompile(`(?i)^#{1,6}\s+.*\bnext\s+steps?\b`)
	bulletItem       = regexp.MustCompile(`^\s*[-*+]\s+(.+)$`)
	assigneePattern  = regexp.MustCompile(`^@?([A-Z][a-z]+)\s+(?:to|will|should)\s+(.+)$`)
	deadlinePattern  = regexp.MustCompile(`(?i)\bby\s+(\d{4}-\d{2}-\d{2}|monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|end of (?:the )?week|eo[wd])\b`)
	urgentPattern    = regexp.MustCompile(`(?i)\b(urgent|asap|immediately|critical|blocker|blocking)\b`)
	minorPattern     = regexp.MustCompile(`(?i)\b(eventually|someday|nice to have|low priority|when time permits)\b`)
)

// Analyze extracts a MeetingAnalysis from raw meeting text. Rule-based and
// deterministic; date anchors relative deadlines like "by friday".
func Analyze(meetingText string, date time.Time, title string) (*types.MeetingAnalysis, error) {
	text := strings.TrimSpace(meetingText)
	if text == "" {
		return nil, apperrors.New(apperrors.KindInput, "meeting text is empty")
	}

	analysis := &types.MeetingAnalysis{}
	lines := strings.Split(text, "\n")

	inNextSteps := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			inNextSteps = nextStepHeading.MatchString(trimmed)
			continue
		}

		if m := participantsLine.FindStringSubmatch(trimmed); m != nil {
			analysis.Participants = append(analysis.Participants, splitNames(m[1])...)
			continue
		}
		if m := decisionLine.FindStringSubmatch(trimmed); m != nil && strings.TrimSpace(m[1]) != "" {
			analysis.KeyDecisions = append(analysis.KeyDecisions, strings.TrimSpace(m[1]))
			continue
		}
		if m := actionItemLine.FindStringSubmatch(trimmed); m != nil && strings.TrimSpace(m[1]) != "" {
			analysis.ActionItems = append(analysis.ActionItems, strings.TrimSpace(m[1]))
			continue
		}
		if inNextSteps {
			if m := bulletItem.FindStringSubmatch(line); m != nil {
				analysis.NextSteps = append(analysis.NextSteps, strings.TrimSpace(m[1]))
			}
		}
	}

	analysis.Participants = dedupeStrings(analysis.Participants)
	analysis.Summary = summarize(title, lines, analysis)

	for _, item := range analysis.ActionItems {
		analysis.SuggestedTasks = append(analysis.SuggestedTasks, suggestTask(item, date, title))
	}

	analysis.ConfidenceScore = confidence(analysis)
	return analysis, nil
}

// suggestTask turns one action item into a task candidate.
func suggestTask(item string, date time.Time, meetingTitle string) types.TaskSuggestion {
	sug := types.TaskSuggestion{
		Title:      item,
		Priority:   types.PriorityMedium,
		Category:   "meeting-followup",
		Confidence: 0.6,
		Context:    meetingTitle,
	}

	if m := assigneePattern.FindStringSubmatch(item); m != nil {
		sug.Assignee = m[1]
		sug.Title = strings.TrimSpace(m[2])
		sug.Confidence += 0.15
	}
	if m := deadlinePattern.FindStringSubmatch(sug.Title); m != nil {
		if d, ok := resolveDeadline(m[1], date); ok {
			sug.Deadline = &d
			sug.Confidence += 0.15
		}
	}
	switch {
	case urgentPattern.MatchString(item):
		sug.Priority = types.PriorityHigh
	case minorPattern.MatchString(item):
		sug.Priority = types.PriorityLow
	}

	if sug.Confidence > 1 {
		sug.Confidence = 1
	}
	return sug
}

// resolveDeadline anchors a textual deadline on the meeting date.
func resolveDeadline(ref string, date time.Time) (time.Time, bool) {
	day := func(t time.Time) time.Time {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	}
	base := day(date)

	lower := strings.ToLower(ref)
	switch lower {
	case "tomorrow":
		return base.AddDate(0, 0, 1), true
	case "end of week", "end of the week", "eow":
		diff := (int(time.Friday) - int(base.Weekday()) + 7) % 7
		return base.AddDate(0, 0, diff), true
	case "eod":
		return base, true
	}

	if t, err := time.ParseInLocation("2006-01-02", lower, date.Location()); err == nil {
		return t, true
	}

	weekdays := map[string]time.Weekday{
		"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
		"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
		"sunday": time.Sunday,
	}
	if wd, ok := weekdays[lower]; ok {
		diff := (int(wd) - int(base.Weekday()) + 7) % 7
		if diff == 0 {
			diff = 7
		}
		return base.AddDate(0, 0, diff), true
	}
	return time.Time{}, false
}

// summarize builds a one-line summary: the title plus the first substantive
// line of the notes.
func summarize(title string, lines []string, analysis *types.MeetingAnalysis) string {
	var opening string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if participantsLine.MatchString(trimmed) || bulletItem.MatchString(line) {
			continue
		}
		opening = trimmed
		break
	}

	var parts []string
	if title != "" {
		parts = append(parts, title)
	}
	if opening != "" {
		parts = append(parts, opening)
	}
	summary := strings.Join(parts, ": ")
	if summary == "" {
		summary = "Meeting notes"
	}
	if n := len(analysis.KeyDecisions); n == 1 {
		summary += " (1 decision)"
	} else if n > 1 {
		summary += " (" + strconv.Itoa(n) + " decisions)"
	}
	return summary
}

// confidence grows with the amount of structure recognized.
func confidence(a *types.MeetingAnalysis) float64 {
	score := 0.2
	if len(a.KeyDecisions) > 0 {
		score += 0.2
	}
	if len(a.ActionItems) > 0 {
		score += 0.3
	}
	if len(a.Participants) > 0 {
		score += 0.2
	}
	if len(a.NextSteps) > 0 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

func splitNames(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		name := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "@"))
		name = strings.TrimSuffix(name, ".")
		if name != "" && !strings.EqualFold(name, "and") {
			out = append(out, name)
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
