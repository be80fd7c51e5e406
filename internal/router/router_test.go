package router

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sage/internal/ai"
	"sage/internal/apperrors"
	"sage/internal/brainstorm"
	"sage/internal/cache"
	"sage/internal/config"
	"sage/internal/documents"
	"sage/internal/embeddings"
	"sage/internal/intent"
	"sage/internal/logging"
	"sage/internal/planner"
	"sage/internal/rerank"
	"sage/internal/retrieval"
	"sage/internal/storage"
	"sage/pkg/types"
)

// A Tuesday morning.
var routerNow = time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC)

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
	return docs
}

func newTestRetriever(t *testing.T) *retrieval.HybridRetriever {
	t.Helper()
	embedder := embeddings.NewMockProvider()
	store := storage.NewMemoryStore(embedder)
	ctx := context.Background()
	require.NoError(t, store.Initialize(ctx, types.DefaultCollections()))

	indexed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.Upsert(ctx, types.CollectionKnowledge, []types.Chunk{{
		ID:         "k1",
		DocumentID: "doc-k1",
		Total:      1,
		Body:       "postgres connection pooling with pgx",
		Metadata: types.ChunkMetadata{
			SourceKind: types.SourceKnowledge,
			DocumentID: "doc-k1",
			Total:      1,
			IndexedAt:  indexed,
		},
	}})
	require.NoError(t, err)

	return retrieval.New(
		config.Default().Retrieval,
		store,
		embedder,
		cache.NewLocalTier(cache.NewQueryCache(50, time.Minute)),
		rerank.New(rerank.DefaultWeights()),
		logging.Nop(),
	)
}

// newTestRouter builds a router over real sub-agents: an in-memory vector
// store, a tempdir document store and the given model for intent parsing. An
// unscripted mock replies with nothing, which lands in the regex fallback.
func newTestRouter(t *testing.T, llm ai.Client) (*Router, *documents.Store) {
	t.Helper()
	docs := newTestDocs(t)
	ret := newTestRetriever(t)

	clock := func() time.Time { return routerNow }
	parser := intent.NewParser(llm, logging.Nop(), intent.WithClock(clock))
	engine := brainstorm.NewEngine(docs, ret, llm, logging.Nop())
	dayPlanner := planner.New(docs, llm,
		config.PlannerConfig{WorkHoursStart: "09:00", WorkHoursEnd: "17:00"},
		logging.Nop(), planner.WithClock(clock))

	return New(parser, ret, engine, dayPlanner, docs, llm, logging.Nop()), docs
}

func TestHandleAddTaskCreatesRecord(t *testing.T) {
	r, docs := newTestRouter(t, ai.NewMockClient())
	frags := r.Handle(context.Background(), "add task: buy standing desk")

	require.Len(t, frags, 1)
	assert.Equal(t, FragmentAssistant, frags[0].Type)
	assert.Contains(t, frags[0].Text, "buy standing desk")

	got, err := docs.TaskByTitle(context.Background(), "buy standing desk")
	require.NoError(t, err)
	assert.Equal(t, "buy standing desk", got.Title)
}

func TestHandlePlanDayEmitsPlanFragments(t *testing.T) {
	r, _ := newTestRouter(t, ai.NewMockClient())
	frags := r.Handle(context.Background(), "plan tomorrow")

	require.Len(t, frags, 3)
	assert.Equal(t, FragmentTool, frags[0].Type)
	assert.Equal(t, "plan", frags[0].Marker)
	assert.Equal(t, FragmentTool, frags[1].Type)
	assert.Equal(t, "plan", frags[1].Marker)
	assert.Equal(t, FragmentAssistant, frags[2].Type)
	assert.Contains(t, frags[2].Text, "2025-06-11")
}

func TestHandleSearchReturnsToolThenSummary(t *testing.T) {
	r, _ := newTestRouter(t, ai.NewMockClient())
	frags := r.Handle(context.Background(), "search tasks about postgres")

	require.Len(t, frags, 2)
	assert.Equal(t, FragmentTool, frags[0].Type)
	assert.Equal(t, "retrieval", frags[0].Marker)
	assert.Contains(t, frags[0].Text, "postgres connection pooling")
	assert.Equal(t, FragmentAssistant, frags[1].Type)
}

func TestHandleRemoveMeetingDeletesCalendarEntry(t *testing.T) {
	llm := ai.NewMockClient(`{"action": "remove_meeting", "data": {"id": "M1"}}`)
	r, docs := newTestRouter(t, llm)
	ctx := context.Background()

	require.NoError(t, docs.AddMeeting(ctx, types.Meeting{
		ID: "M1", Title: "Design review",
		Start: routerNow.Add(2 * time.Hour),
		End:   routerNow.Add(3 * time.Hour),
	}))

	frags := r.Handle(ctx, "cancel the design review")
	require.Len(t, frags, 1)
	assert.Equal(t, FragmentAssistant, frags[0].Type)
	assert.Contains(t, frags[0].Text, "M1")

	meetings, err := docs.MeetingsOn(ctx, routerNow)
	require.NoError(t, err)
	assert.Empty(t, meetings)
}

func TestHandleRemoveLogDeletesEntry(t *testing.T) {
	r, docs := newTestRouter(t, ai.NewMockClient(`{"action": "remove_log", "data": {"id": "L1"}}`))
	ctx := context.Background()

	_, err := docs.AppendWorkLog(ctx, types.WorkLog{
		LogID: "L1", Date: "2025-06-10", Description: "triage duty", ActualHours: 2,
	})
	require.NoError(t, err)

	frags := r.Handle(ctx, "remove the triage duty log entry")
	require.Len(t, frags, 1)
	assert.Equal(t, FragmentAssistant, frags[0].Type)

	logs, err := docs.WorkLogsOn(ctx, "2025-06-10")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestHandleRemoveLogUnknownIDReportsNotFound(t *testing.T) {
	r, _ := newTestRouter(t, ai.NewMockClient(`{"action": "remove_log", "data": {"id": "L9"}}`))

	frags := r.Handle(context.Background(), "remove log L9")
	require.Len(t, frags, 1)
	require.Equal(t, FragmentError, frags[0].Type)
	assert.Equal(t, string(apperrors.KindNotFound), frags[0].Error.Kind)
}

func TestHandleUnknownAsksForClarification(t *testing.T) {
	r, _ := newTestRouter(t, ai.NewMockClient())
	frags := r.Handle(context.Background(), "what's the meaning of life?")

	require.Len(t, frags, 1)
	assert.Equal(t, FragmentAssistant, frags[0].Type)
	assert.Contains(t, frags[0].Text, "didn't understand")
}

type failingRetriever struct{}

func (failingRetriever) Search(context.Context, string, retrieval.Options) (*types.SearchResults, error) {
	return nil, apperrors.New(apperrors.KindStoreUnavailable, "vector store down")
}

func TestHandleAgentFailureKeepsRouterUsable(t *testing.T) {
	r, docs := newTestRouter(t, ai.NewMockClient())
	r.retriever = failingRetriever{}
	ctx := context.Background()

	frags := r.Handle(ctx, "search tasks about postgres")
	require.Len(t, frags, 1)
	require.Equal(t, FragmentError, frags[0].Type)
	require.NotNil(t, frags[0].Error)
	assert.Equal(t, string(apperrors.KindStoreUnavailable), frags[0].Error.Kind)
	assert.NotEmpty(t, frags[0].Error.CorrelationID)

	// The failure is scoped to that query; the next one proceeds.
	frags = r.Handle(ctx, "add task: recover after outage")
	require.Len(t, frags, 1)
	assert.Equal(t, FragmentAssistant, frags[0].Type)

	_, err := docs.TaskByTitle(ctx, "recover after outage")
	assert.NoError(t, err)
}

func collect(ch <-chan Fragment) []Fragment {
	var out []Fragment
	for frag := range ch {
		out = append(out, frag)
	}
	return out
}

func TestSessionStreamsAndSurvivesErrors(t *testing.T) {
	r, _ := newTestRouter(t, ai.NewMockClient())
	r.retriever = failingRetriever{}
	sess := r.NewSession("s1")
	ctx := context.Background()

	frags := collect(sess.Query(ctx, "search tasks about postgres"))
	require.Len(t, frags, 1)
	assert.Equal(t, FragmentError, frags[0].Type)

	frags = collect(sess.Query(ctx, "add task: write incident report"))
	require.Len(t, frags, 1)
	assert.Equal(t, FragmentAssistant, frags[0].Type)
}

func TestSessionClosedRejectsQueries(t *testing.T) {
	r, _ := newTestRouter(t, ai.NewMockClient())
	sess := r.NewSession("s2")
	sess.Close()

	frags := collect(sess.Query(context.Background(), "plan today"))
	require.Len(t, frags, 1)
	require.Equal(t, FragmentError, frags[0].Type)
	assert.Equal(t, string(apperrors.KindInput), frags[0].Error.Kind)
}

func TestSessionCancelAbortsInFlightQuery(t *testing.T) {
	r, _ := newTestRouter(t, ai.NewMockClient())

	started := make(chan struct{})
	r.retriever = blockingRetriever{started: started}
	sess := r.NewSession("s3")

	ch := sess.Query(context.Background(), "search tasks about postgres")
	<-started
	sess.Cancel()

	frags := collect(ch)
	if len(frags) > 0 {
		// Cancellation surfaces as an error fragment when the agent had
		// already started.
		assert.Equal(t, FragmentError, frags[len(frags)-1].Type)
	}

	// The session stays open for the next query.
	frags = collect(sess.Query(context.Background(), "add task: follow up"))
	require.Len(t, frags, 1)
	assert.Equal(t, FragmentAssistant, frags[0].Type)
}

type blockingRetriever struct {
	started chan struct{}
}

func (b blockingRetriever) Search(ctx context.Context, _ string, _ retrieval.Options) (*types.SearchResults, error) {
	close(b.started)
	<-ctx.Done()
	return nil, apperrors.Wrap(apperrors.KindTimeout, ctx.Err(), "search cancelled")
}
