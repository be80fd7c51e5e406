package planner

import (
	"context"
	"regexp"
	"strings"

	"sage/internal/ai"
	"sage/internal/logging"
	"sage/pkg/types"
)

// focusLookback is how many days of meeting notes feed the focus section.
const focusLookback = 3

// maxFocusItems caps the rendered focus list.
const maxFocusItems = 8

var (
	actionLine = regexp.MustCompile(`(?i)^\s*(?:[-*+]\s*)?(?:\[[ x]\]\s*)?(?:action(?:\s+item)?|todo|follow[- ]?up)\b[:\s]*(.*)$`)
	headingRef = regexp.MustCompile(`(?i)^#{1,6}\s+.*\b(action|todo|follow[- ]?up|next steps?)\b`)
	bulletLine = regexp.MustCompile(`^\s*[-*+]\s+(.+)$`)
)

// ExtractFocus pulls action-oriented bullets from recent meeting notes.
// Rule-based and deterministic: lines matching action/todo/follow-up
// patterns count directly, and every bullet under an action-flavored heading
// counts until the next heading.
func ExtractFocus(notes []types.MeetingNote) []string {
	var focus []string
	seen := make(map[string]struct{})
	add := func(item string) {
		item = strings.TrimSpace(item)
		if item == "" || len(focus) >= maxFocusItems {
			return
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		focus = append(focus, item)
	}

	for _, note := range notes {
		inActionSection := false
		for _, line := range strings.Split(note.Body, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "#") {
				inActionSection = headingRef.MatchString(line)
				continue
			}
			if m := actionLine.FindStringSubmatch(line); m != nil && strings.TrimSpace(m[1]) != "" {
				add(m[1])
				continue
			}
			if inActionSection {
				if m := bulletLine.FindStringSubmatch(line); m != nil {
					add(m[1])
				}
			}
		}
	}
	return focus
}

const focusSystemPrompt = `You connect recent meeting discussions to open work.
Given meeting notes and open tasks, reply with 2 to 4 focus statements, one
per line, each starting with "- ". No other text.`

// LLMFocus asks the model for focus statements linking recent meetings to
// open tasks. Failures degrade to the rule-based list alone.
func LLMFocus(ctx context.Context, llm ai.Client, logger logging.Logger, notes []types.MeetingNote, tasks []types.Task) []string {
	if llm == nil || len(notes) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("Open tasks:\n")
	for _, t := range tasks {
		if t.Open() {
			sb.WriteString("- " + t.Title + "\n")
		}
	}
	sb.WriteString("\nMeeting notes:\n")
	for _, n := range notes {
		sb.WriteString(n.Body + "\n---\n")
	}

	response, err := llm.Complete(ctx, focusSystemPrompt, sb.String())
	if err != nil {
		logger.WarnContext(ctx, "focus generation failed", "error", err)
		return nil
	}

	var out []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) > 4 {
		out = out[:4]
	}
	return out
}
