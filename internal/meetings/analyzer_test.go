package meetings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sage/internal/apperrors"
	"sage/pkg/types"
)

// A Tuesday.
var meetingDate = time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

const sampleNotes = `# Migration sync

Attendees: Alice, Bob, @carol

Reviewed the cutover timeline for the billing migration.

- Decided: cutover happens during the June maintenance window
- TODO: Alice to draft the rollback runbook by friday
- Action: update the urgent on-call rota asap
- general remark that is not an action

## Next Steps

- confirm capacity with the infra team
- book the maintenance window
`

func TestAnalyzeExtractsStructure(t *testing.T) {
	analysis, err := Analyze(sampleNotes, meetingDate, "Migration sync")
	require.NoError(t, err)

	assert.Equal(t, []string{"Alice", "Bob", "carol"}, analysis.Participants)
	require.Len(t, analysis.KeyDecisions, 1)
	assert.Contains(t, analysis.KeyDecisions[0], "June maintenance window")
	assert.Equal(t, []string{
		"confirm capacity with the infra team",
		"book the maintenance window",
	}, analysis.NextSteps)
	require.Len(t, analysis.ActionItems, 2)
	assert.Contains(t, analysis.Summary, "Migration sync")
	assert.InDelta(t, 1.0, analysis.ConfidenceScore, 0.001, "all signal classes present")
}

func TestAnalyzeSuggestsTasksWithAssigneeAndDeadline(t *testing.T) {
	analysis, err := Analyze(sampleNotes, meetingDate, "Migration sync")
	require.NoError(t, err)
	require.Len(t, analysis.SuggestedTasks, 2)

	runbook := analysis.SuggestedTasks[0]
	assert.Equal(t, "Alice", runbook.Assignee)
	assert.Equal(t, "draft the rollback runbook by friday", runbook.Title)
	require.NotNil(t, runbook.Deadline)
	assert.Equal(t, time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC), *runbook.Deadline, "friday after a tuesday meeting")
	assert.Equal(t, "meeting-followup", runbook.Category)
	assert.Equal(t, "Migration sync", runbook.Context)

	rota := analysis.SuggestedTasks[1]
	assert.Equal(t, types.PriorityHigh, rota.Priority, "asap reads as urgent")
	assert.Empty(t, rota.Assignee)

	for _, s := range analysis.SuggestedTasks {
		assert.GreaterOrEqual(t, s.Confidence, 0.0)
		assert.LessOrEqual(t, s.Confidence, 1.0)
	}
}

func TestAnalyzeIsPure(t *testing.T) {
	first, err := Analyze(sampleNotes, meetingDate, "Migration sync")
	require.NoError(t, err)
	second, err := Analyze(sampleNotes, meetingDate, "Migration sync")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAnalyzeRejectsEmptyText(t *testing.T) {
	_, err := Analyze("   \n  ", meetingDate, "")
	assert.True(t, apperrors.Is(err, apperrors.KindInput))
}

func TestResolveDeadlineForms(t *testing.T) {
	base := meetingDate // Tuesday 2025-06-10

	d, ok := resolveDeadline("2025-07-01", base)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), d)

	d, ok = resolveDeadline("tomorrow", base)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC), d)

	d, ok = resolveDeadline("end of week", base)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC), d)

	d, ok = resolveDeadline("tuesday", base)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC), d, "same weekday rolls a week forward")

	_, ok = resolveDeadline("whenever", base)
	assert.False(t, ok)
}
