package brainstorm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sage/internal/ai"
	"sage/internal/apperrors"
	"sage/internal/config"
	"sage/internal/documents"
	"sage/internal/logging"
	"sage/internal/retrieval"
	"sage/internal/retry"
	"sage/pkg/types"
)

const scriptedReport = `## Overview
A focused migration plan.

## Key Considerations
Data volume and cutover timing.

## Potential Approaches
Dual writes with a backfill.

## Risks
Replication lag during cutover.

## Recommendations
Start with a read-only shadow period.`

// stubRetriever returns a fixed result set and counts calls.
type stubRetriever struct {
	mu      sync.Mutex
	calls   int
	results []types.SearchResult
	err     error
}

func (s *stubRetriever) Search(_ context.Context, _ string, _ retrieval.Options) (*types.SearchResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &types.SearchResults{Results: s.results}, nil
}

func (s *stubRetriever) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// blockingClient parks Complete until released, so tests can observe an
// in-flight build.
type blockingClient struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingClient() *blockingClient {
	return &blockingClient{started: make(chan struct{}), release: make(chan struct{})}
}

func (c *blockingClient) Complete(ctx context.Context, _, _ string) (string, error) {
	c.once.Do(func() { close(c.started) })
	select {
	case <-c.release:
		return scriptedReport, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *blockingClient) Model() string { return "blocking" }

func (c *blockingClient) HealthCheck(context.Context) error { return nil }

func newTestDocs(t *testing.T) *documents.Store {
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

	_, err = docs.AddTask(context.Background(), types.Task{ID: "t100", Title: "Migrate billing service"})
	require.NoError(t, err)
	return docs
}

func fastRetry() *retry.Config {
	return &retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newTestEngine(t *testing.T, docs *documents.Store, llm ai.Client) (*Engine, *stubRetriever) {
	t.Helper()
	ret := &stubRetriever{results: []types.SearchResult{
		{ID: "c1", Score: 0.9, Body: "billing runs on mysql 5.7", Metadata: types.ChunkMetadata{URL: "https://wiki/billing"}},
		{ID: "c2", Score: 0.8, Body: "pgloader handles the schema conversion", Metadata: types.ChunkMetadata{FilePath: "notes/migration.md"}},
	}}
	return NewEngine(docs, ret, llm, logging.Nop(), WithRetryConfig(fastRetry())), ret
}

func TestBuildGeneratesPersistsAndVersions(t *testing.T) {
	docs := newTestDocs(t)
	llm := ai.NewMockClient(scriptedReport)
	engine, ret := newTestEngine(t, docs, llm)
	ctx := context.Background()

	result, err := engine.Process(ctx, "brainstorm for task t100")
	require.NoError(t, err)
	assert.True(t, result.NewlyGenerated)
	assert.Equal(t, types.BrainstormGenerated, result.Source)
	assert.Equal(t, types.BrainstormInitial, result.Type)
	assert.Equal(t, 1, result.Version)
	assert.Equal(t, 1, ret.Calls())
	assert.Contains(t, result.Content, "## Potential Approaches")
	assert.Contains(t, result.Content, "Dual writes with a backfill.")
	assert.Contains(t, result.Content, "https://wiki/billing")

	onDisk, ok, err := docs.ReadBrainstorm(ctx, "t100")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result.Content, onDisk)

	collective, err := os.ReadFile(filepath.Join(filepath.Dir(docs.BrainstormPath("t100")), "task_brainstorms.md"))
	require.NoError(t, err)
	assert.Contains(t, string(collective), "(t100)")

	// A replace builds fresh and bumps the version.
	replaced, err := engine.Process(ctx, "replace the brainstorm for task t100")
	require.NoError(t, err)
	assert.Equal(t, 2, replaced.Version)
	assert.True(t, replaced.NewlyGenerated)
}

func TestNewActionReusesExistingWithoutModelCall(t *testing.T) {
	docs := newTestDocs(t)
	llm := ai.NewMockClient(scriptedReport)
	engine, ret := newTestEngine(t, docs, llm)
	ctx := context.Background()

	first, err := engine.Process(ctx, "brainstorm for task t100")
	require.NoError(t, err)
	llmCalls := llm.Calls()
	retrievals := ret.Calls()

	second, err := engine.Process(ctx, "brainstorm for task t100")
	require.NoError(t, err)
	assert.Equal(t, types.BrainstormExisting, second.Source)
	assert.False(t, second.NewlyGenerated)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, llmCalls, llm.Calls(), "existing report served without the model")
	assert.Equal(t, retrievals, ret.Calls(), "existing report served without retrieval")
}

func TestUnknownTaskFails(t *testing.T) {
	docs := newTestDocs(t)
	engine, _ := newTestEngine(t, docs, ai.NewMockClient(scriptedReport))

	_, err := engine.Process(context.Background(), "brainstorm for task nope99")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestModelFailureEmitsFallbackReport(t *testing.T) {
	docs := newTestDocs(t)
	llm := ai.NewMockClient()
	llm.FailWith(apperrors.New(apperrors.KindProviderUnavailable, "model down"))
	engine, _ := newTestEngine(t, docs, llm)

	result, err := engine.Process(context.Background(), "brainstorm for task t100")
	require.NoError(t, err)
	assert.True(t, result.NewlyGenerated)
	assert.Contains(t, result.Content, "LLM unavailable")
	assert.Contains(t, result.Content, "billing runs on mysql 5.7", "retrieved context still rendered")
	assert.Equal(t, 2, llm.Calls(), "bounded retry")
}

func TestModelAndRetrievalFailureIsTerminal(t *testing.T) {
	docs := newTestDocs(t)
	llm := ai.NewMockClient()
	llm.FailWith(apperrors.New(apperrors.KindProviderUnavailable, "model down"))
	engine, ret := newTestEngine(t, docs, llm)
	ret.err = apperrors.New(apperrors.KindStoreUnavailable, "vector store down")

	_, err := engine.Process(context.Background(), "brainstorm for task t100")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindProviderUnavailable))
}

func TestConcurrentBuilds(t *testing.T) {
	docs := newTestDocs(t)
	llm := newBlockingClient()
	engine, _ := newTestEngine(t, docs, llm)
	ctx := context.Background()

	type outcome struct {
		result *types.BrainstormResult
		err    error
	}
	leader := make(chan outcome, 1)
	go func() {
		r, err := engine.Run(ctx, Request{Action: ActionReplace, TaskID: "t100"})
		leader <- outcome{r, err}
	}()
	<-llm.started

	// A different action on the same task is rejected while the build runs.
	_, err := engine.Run(ctx, Request{Action: ActionImprove, TaskID: "t100"})
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))

	// The same action joins the running build.
	follower := make(chan outcome, 1)
	go func() {
		r, err := engine.Run(ctx, Request{Action: ActionReplace, TaskID: "t100"})
		follower <- outcome{r, err}
	}()
	time.Sleep(20 * time.Millisecond) // let the follower attach to the flight

	close(llm.release)
	lead := <-leader
	foll := <-follower
	require.NoError(t, lead.err)
	require.NoError(t, foll.err)
	assert.Equal(t, lead.result, foll.result)

	// The flight is gone afterwards; new actions proceed.
	_, err = engine.Run(ctx, Request{Action: ActionImprove, TaskID: "t100"})
	require.NoError(t, err)
}

func TestParseRequest(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  Request
	}{
		{"plain id", "brainstorm for task t100", Request{Action: ActionNew, TaskID: "t100"}},
		{"replace", "replace the brainstorm for task t100", Request{Action: ActionReplace, TaskID: "t100"}},
		{"improve", "improve the brainstorm for task abc-42", Request{Action: ActionImprove, TaskID: "abc-42"}},
		{"update", "update brainstorm for task t100", Request{Action: ActionUpdate, TaskID: "t100"}},
		{"quoted title", `brainstorm for "Migrate billing service"`, Request{Action: ActionNew, Title: "Migrate billing service"}},
		{"bare title", "brainstorm about the database migration", Request{Action: ActionNew, Title: "database migration"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRequest(tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseRequest("   ")
	assert.True(t, apperrors.Is(err, apperrors.KindInput))

	_, err = ParseRequest("brainstorm")
	assert.True(t, apperrors.Is(err, apperrors.KindInput))
}

func TestParseSectionsRoundTrip(t *testing.T) {
	sections := ParseSections(scriptedReport)
	require.Len(t, sections, 5)
	assert.Equal(t, "A focused migration plan.", sections["Overview"])
	assert.Equal(t, "Start with a read-only shadow period.", sections["Recommendations"])
	assert.True(t, strings.Contains(sections["Risks"], "Replication lag"))
}
