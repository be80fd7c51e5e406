package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sage/internal/ai"
	"sage/internal/config"
	"sage/internal/documents"
	"sage/internal/logging"
	"sage/pkg/types"
)

// A Tuesday.
var testNow = time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC)

func TestResolveDate(t *testing.T) {
	cases := []struct {
		input string
		want  time.Time
	}{
		{"", time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)},
		{"today", time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)},
		{"tomorrow", time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)},
		{"yesterday", time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)},
		{"2025-07-04", time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC)},
		{"7/4/2025", time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC)},
		{"12/31/2025", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)},
		{"in 3 days", time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC)},
		{"next week", time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)}, // coming Monday
		{"this friday", time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC)},
		{"this tuesday", time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)}, // today counts
		{"next tuesday", time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC)},
		{"next friday", time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ResolveDate(tc.input, testNow)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
		})
	}

	for _, bad := range []string{"someday", "13/45/2025", "2025-13-01x"} {
		_, err := ResolveDate(bad, testNow)
		assert.Error(t, err, bad)
	}
}

func TestFreeWindowsSubtractsMeetings(t *testing.T) {
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	start := day.Add(9 * time.Hour)
	end := day.Add(17 * time.Hour)

	meetings := []types.Meeting{
		{ID: "m1", Start: day.Add(11 * time.Hour), End: day.Add(12 * time.Hour)},
		{ID: "m2", Start: day.Add(14 * time.Hour), End: day.Add(14*time.Hour + 50*time.Minute)},
		// Leaves a 10-minute sliver before the next meeting; it must be dropped.
		{ID: "m3", Start: day.Add(15 * time.Hour), End: day.Add(16 * time.Hour)},
	}

	windows := FreeWindows(start, end, meetings)
	require.Len(t, windows, 3)
	assert.Equal(t, day.Add(9*time.Hour), windows[0].Start)
	assert.Equal(t, day.Add(11*time.Hour), windows[0].End)
	assert.Equal(t, day.Add(12*time.Hour), windows[1].Start)
	assert.Equal(t, day.Add(14*time.Hour), windows[1].End)
	assert.Equal(t, day.Add(16*time.Hour), windows[2].Start)
	assert.Equal(t, day.Add(17*time.Hour), windows[2].End)
}

func TestFreeWindowsEmptyDay(t *testing.T) {
	day := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	assert.Empty(t, FreeWindows(day, day, nil), "equal start and end")

	fullDay := []types.Meeting{{ID: "m", Start: day, End: day.Add(8 * time.Hour)}}
	assert.Empty(t, FreeWindows(day, day.Add(8*time.Hour), fullDay))
}

func TestFitPrefersEarliestWindowForTopTask(t *testing.T) {
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	windows := []Window{
		{Start: day.Add(9 * time.Hour), End: day.Add(11 * time.Hour)},
		{Start: day.Add(13 * time.Hour), End: day.Add(17 * time.Hour)},
	}
	due := day.AddDate(0, 0, 1)
	tasks := []types.Task{
		{ID: "t2", Title: "Medium task", Status: types.TaskStatusPending, Priority: types.PriorityMedium, EstimateHours: 2},
		{ID: "t1", Title: "Urgent task", Status: types.TaskStatusPending, Priority: types.PriorityHigh, DueDate: &due, EstimateHours: 2},
	}

	slots := Fit(day, tasks, nil, windows)
	require.NotEmpty(t, slots)
	assert.Equal(t, "t1", slots[0].Task.ID, "highest score goes first")
	assert.Equal(t, day.Add(9*time.Hour), slots[0].Start)
	assert.Equal(t, day.Add(11*time.Hour), slots[0].End)
}

func TestFitSlotsAreDisjointAndWithinWindows(t *testing.T) {
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	windows := []Window{
		{Start: day.Add(9 * time.Hour), End: day.Add(12 * time.Hour)},
		{Start: day.Add(13 * time.Hour), End: day.Add(17 * time.Hour)},
	}
	tasks := []types.Task{
		{ID: "a", Title: "A", Status: types.TaskStatusPending, Priority: types.PriorityHigh, EstimateHours: 2},
		{ID: "b", Title: "B", Status: types.TaskStatusPending, Priority: types.PriorityHigh, EstimateHours: 3},
		{ID: "c", Title: "C", Status: types.TaskStatusPending, Priority: types.PriorityMedium, EstimateHours: 1.5},
		{ID: "d", Title: "Done already", Status: types.TaskStatusDone, Priority: types.PriorityHigh, EstimateHours: 1},
	}

	slots := Fit(day, tasks, nil, windows)
	require.NotEmpty(t, slots)
	for i, s := range slots {
		assert.True(t, s.Start.Before(s.End))
		inWindow := false
		for _, w := range windows {
			if !s.Start.Before(w.Start) && !s.End.After(w.End) {
				inWindow = true
			}
		}
		assert.True(t, inWindow, "slot %d outside every window", i)
		if i > 0 {
			assert.False(t, s.Start.Before(slots[i-1].End), "slots overlap")
		}
		assert.NotEqual(t, "d", s.Task.ID, "done tasks are not scheduled")
	}
}

func TestFitSplitsOnlyTasksWithSubItems(t *testing.T) {
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	windows := []Window{
		{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)},
		{Start: day.Add(11 * time.Hour), End: day.Add(13 * time.Hour)},
	}
	tasks := []types.Task{
		{ID: "big", Title: "Big one", Status: types.TaskStatusPending, Priority: types.PriorityHigh, EstimateHours: 3},
	}

	// Without sub-items the 3h task fits nowhere and nothing is scheduled
	// in the 1h window.
	slots := Fit(day, tasks, nil, windows)
	assert.Empty(t, slots)

	details := map[string]*types.TaskDetail{
		"big": {TaskID: "big", Tasks: []string{"part one", "part two"}},
	}
	slots = Fit(day, tasks, details, windows)
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Partial)
	assert.Equal(t, time.Hour, slots[0].Used)
	assert.Equal(t, 2*time.Hour, slots[1].Used)
}

func TestExtractFocus(t *testing.T) {
	notes := []types.MeetingNote{
		{Body: "# Sync\n\n- TODO: ship the migration runbook\n- regular discussion line\nAction: follow up with data team\n"},
		{Body: "## Next Steps\n\n- review rollout checklist\n- schedule the cutover\n\n## Other\n\n- ignored bullet\n"},
		{Body: "- TODO: ship the migration runbook\n"}, // duplicate
	}

	focus := ExtractFocus(notes)
	assert.Equal(t, []string{
		"ship the migration runbook",
		"follow up with data team",
		"review rollout checklist",
		"schedule the cutover",
	}, focus)
}

func TestMergeFocusDedupsAndCaps(t *testing.T) {
	base := []string{"ship the runbook", "review checklist"}
	extra := []string{"Ship The Runbook", "", "page the oncall", "align with data team"}

	merged := mergeFocus(base, extra)
	assert.Equal(t, []string{
		"ship the runbook",
		"review checklist",
		"page the oncall",
		"align with data team",
	}, merged)

	many := make([]string, maxFocusItems+3)
	for i := range many {
		many[i] = string(rune('a'+i)) + " item"
	}
	assert.Len(t, mergeFocus(nil, many), maxFocusItems)
}

func TestAnalyzeNotesCollectsActionsAndNextSteps(t *testing.T) {
	notes := []types.MeetingNote{
		{Date: testNow, Body: "# Sync\n\nAction: rotate the deploy keys\n\n## Next Steps\n\n- audit service accounts\n"},
	}
	items := analyzeNotes(notes)
	assert.Contains(t, items, "rotate the deploy keys")
	assert.Contains(t, items, "audit service accounts")
}

func newPlannerFixture(t *testing.T) (*Planner, *documents.Store, config.DocumentsConfig) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DocumentsConfig{
		TasksPath:       filepath.Join(dir, "tasks.yaml"),
		LogsPath:        filepath.Join(dir, "daily_logs.yaml"),
		MeetingsPath:    filepath.Join(dir, "meetings.yaml"),
		MeetingNotesDir: filepath.Join(dir, "meeting_notes"),
		BrainstormsDir:  filepath.Join(dir, "brainstorms"),
		HistoryDBPath:   filepath.Join(dir, "history.db"),
		TaskDetailsPath: filepath.Join(dir, "task_details.yaml"),
	}
	docs, err := documents.New(cfg, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	p := New(docs, ai.NewMockClient(), config.PlannerConfig{
		WorkHoursStart: "09:00",
		WorkHoursEnd:   "17:00",
	}, logging.Nop(), WithClock(func() time.Time { return testNow }))
	return p, docs, cfg
}

func TestPlanEndToEnd(t *testing.T) {
	p, docs, docCfg := newPlannerFixture(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	due := day.AddDate(0, 0, 2)
	_, err := docs.AddTask(ctx, types.Task{ID: "t1", Title: "Finish migration plan", Priority: types.PriorityHigh, DueDate: &due, EstimateHours: 2})
	require.NoError(t, err)
	_, err = docs.AddTask(ctx, types.Task{ID: "t2", Title: "Write release notes", Priority: types.PriorityLow, EstimateHours: 1})
	require.NoError(t, err)

	require.NoError(t, docs.AddMeeting(ctx, types.Meeting{
		ID: "m1", Title: "Standup",
		Start: day.Add(11 * time.Hour), End: day.Add(11*time.Hour + 30*time.Minute),
	}))
	_, err = docs.AppendWorkLog(ctx, types.WorkLog{Date: "2025-06-09", Description: "debugged the ingest pipeline", ActualHours: 4})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		filepath.Join(docCfg.MeetingNotesDir, "2025-06-09_sync.md"),
		[]byte("# Sync\n\n- TODO: confirm maintenance window\n"), 0o644))

	result, err := p.Plan(ctx, Request{TargetDate: "today"})
	require.NoError(t, err)

	assert.Contains(t, result.YesterdayMarkdown, "2025-06-09")
	assert.Contains(t, result.YesterdayMarkdown, "debugged the ingest pipeline")

	assert.Contains(t, result.TomorrowMarkdown, "Standup")
	assert.Contains(t, result.TomorrowMarkdown, "09:00 to 11:00: Finish migration plan")
	assert.Contains(t, result.TomorrowMarkdown, "Write release notes")
	assert.Contains(t, result.TomorrowMarkdown, "Focus Areas")
	assert.Contains(t, result.TomorrowMarkdown, "confirm maintenance window")
}

func TestPlanWithEqualWorkHoursDoesNotFail(t *testing.T) {
	p, docs, _ := newPlannerFixture(t)
	p.cfg = config.PlannerConfig{WorkHoursStart: "09:00", WorkHoursEnd: "09:00"}
	ctx := context.Background()

	_, err := docs.AddTask(ctx, types.Task{ID: "t1", Title: "Anything", Priority: types.PriorityHigh, EstimateHours: 1})
	require.NoError(t, err)

	result, err := p.Plan(ctx, Request{})
	require.NoError(t, err)
	assert.Contains(t, result.TomorrowMarkdown, "No free time within working hours")
}

func TestPlanRejectsUnparsableDate(t *testing.T) {
	p, _, _ := newPlannerFixture(t)
	_, err := p.Plan(context.Background(), Request{TargetDate: "someday soon"})
	require.Error(t, err)
}

func TestPlanFailsWhenTaskDetailsUnreadable(t *testing.T) {
	p, docs, docCfg := newPlannerFixture(t)
	ctx := context.Background()

	_, err := docs.AddTask(ctx, types.Task{ID: "t1", Title: "Anything", Priority: types.PriorityHigh, EstimateHours: 1})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(docCfg.TaskDetailsPath, []byte("task_details: [not: valid"), 0o644))

	_, err = p.Plan(ctx, Request{TargetDate: "today"})
	require.Error(t, err, "a corrupt source fails the whole plan")
}
