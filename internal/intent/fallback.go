package intent

import (
	"regexp"
	"strings"

	"sage/internal/planner"
	"sage/pkg/types"
)

// The fallback table covers the most common commands when the model is
// unavailable. Order matters: first match wins.
var (
	addTaskExpr    = regexp.MustCompile(`(?i)^(?:add|create|new)\s+(?:a\s+)?task[:\s]+(.+)$`)
	removeTaskExpr = regexp.MustCompile(`(?i)^(?:remove|delete|drop)\s+task[:\s]+(\S+)\s*$`)
	planExpr       = regexp.MustCompile(`(?i)^plan(?:\s+my)?(?:\s+day)?(?:\s+for)?\s*(.*)$`)
	searchExpr     = regexp.MustCompile(`(?i)^(?:search|find)(?:\s+tasks?)?(?:\s+(?:for|about))?[:\s]+(.+)$`)
	brainstormExpr = regexp.MustCompile(`(?i)\bbrainstorm\b`)
)

// fallback classifies text without a model. Covers add/remove task, plan,
// search and brainstorm; everything else is Unknown.
func (p *Parser) fallback(text string) Command {
	if m := addTaskExpr.FindStringSubmatch(text); m != nil {
		title := strings.TrimSpace(m[1])
		if title != "" {
			return Command{Kind: KindAddTask, Task: &types.Task{Title: title}}
		}
	}

	if m := removeTaskExpr.FindStringSubmatch(text); m != nil {
		return Command{Kind: KindRemoveTask, TaskID: strings.TrimSpace(m[1])}
	}

	if m := planExpr.FindStringSubmatch(text); m != nil {
		ref := strings.TrimSpace(m[1])
		resolved, err := planner.ResolveDate(ref, p.now())
		if err != nil {
			return Command{Kind: KindUnknown}
		}
		return Command{Kind: KindPlanDay, TargetDate: resolved.Format("2006-01-02")}
	}

	if brainstormExpr.MatchString(text) {
		return Command{Kind: KindBrainstorm, Query: text}
	}

	if m := searchExpr.FindStringSubmatch(text); m != nil {
		query := strings.TrimSpace(m[1])
		if query != "" {
			return Command{Kind: KindSearchTasks, Query: query}
		}
	}

	return Command{Kind: KindUnknown}
}
