package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sage/internal/config"
	"sage/internal/di"
	"sage/internal/router"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Vector.Provider = "memory"
	cfg.Graph.Enabled = false
	cfg.LLM.Provider = "mock"
	cfg.Documents = config.DocumentsConfig{
		TasksPath:       filepath.Join(dir, "tasks.yaml"),
		LogsPath:        filepath.Join(dir, "daily_logs.yaml"),
		MeetingsPath:    filepath.Join(dir, "meetings.yaml"),
		MeetingNotesDir: filepath.Join(dir, "meeting_notes"),
		BrainstormsDir:  filepath.Join(dir, "brainstorms"),
		HistoryDBPath:   filepath.Join(dir, "history.db"),
		TaskDetailsPath: filepath.Join(dir, "task_details.yaml"),
	}

	ctx := context.Background()
	svc, err := di.NewServices(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(ctx) })

	ts := httptest.NewServer(New(svc).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialSession(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readQuery drains one query's stream up to its done fragment.
func readQuery(t *testing.T, conn *websocket.Conn) []router.Fragment {
	t.Helper()
	var frags []router.Fragment
	for {
		var frag router.Fragment
		require.NoError(t, conn.ReadJSON(&frag))
		if frag.Type == router.FragmentDone {
			return frags
		}
		frags = append(frags, frag)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionQueryStreamsFragments(t *testing.T) {
	ts := newTestServer(t)
	conn := dialSession(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{"text": "add task: review oncall handoff"}))
	frags := readQuery(t, conn)

	require.Len(t, frags, 1)
	assert.Equal(t, router.FragmentAssistant, frags[0].Type)
	assert.Contains(t, frags[0].Text, "review oncall handoff")
}

func TestSessionSurvivesUnknownInput(t *testing.T) {
	ts := newTestServer(t)
	conn := dialSession(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{"text": "??!"}))
	frags := readQuery(t, conn)
	require.Len(t, frags, 1)
	assert.Equal(t, router.FragmentAssistant, frags[0].Type)

	// The connection is still usable after the clarification.
	require.NoError(t, conn.WriteJSON(map[string]string{"text": "plan today"}))
	frags = readQuery(t, conn)
	require.NotEmpty(t, frags)
	assert.Equal(t, router.FragmentTool, frags[0].Type)
	assert.Equal(t, "plan", frags[0].Marker)
}

func TestIngestThenSearchRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	payload := `{"id":"doc-1","source_kind":"knowledge","uri":"notes/pooling.md","title":"Pooling","body":"Connection pooling with pgx keeps postgres latency stable under load."}`
	resp, err := http.Post(ts.URL+"/v1/documents", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn := dialSession(t, ts)
	require.NoError(t, conn.WriteJSON(map[string]string{"text": "search for connection pooling"}))
	frags := readQuery(t, conn)
	require.Len(t, frags, 2)
	assert.Equal(t, "retrieval", frags[0].Marker)
	assert.Contains(t, frags[0].Text, "pooling")
}

func TestIngestRejectsBadSourceKind(t *testing.T) {
	ts := newTestServer(t)
	payload := `{"id":"doc-2","source_kind":"email","body":"text"}`
	resp, err := http.Post(ts.URL+"/v1/documents", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionToleratesBareTextMessages(t *testing.T) {
	ts := newTestServer(t)
	conn := dialSession(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("add task: water the plants")))
	frags := readQuery(t, conn)
	require.Len(t, frags, 1)
	assert.Equal(t, router.FragmentAssistant, frags[0].Type)
}
