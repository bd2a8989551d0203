package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arlo/internal/bus"
	"arlo/internal/improve"
	"arlo/internal/memory"
	"arlo/internal/scheduler"
)

type fakeRunner struct {
	response string
	tokens   int
	inputs   []string
}

func (f *fakeRunner) Run(_ context.Context, input, _ string) (string, error) {
	f.inputs = append(f.inputs, input)
	return f.response, nil
}

func (f *fakeRunner) LastRunTokens() int { return f.tokens }

func newTestServer(t *testing.T) (*Server, *fakeRunner, *memory.Store, *bus.Bus) {
	t.Helper()
	store, err := memory.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	events := bus.New(0, nil)
	t.Cleanup(events.Close)

	runner := &fakeRunner{response: "hello", tokens: 42}
	status := func() improve.Status { return improve.Status{Enabled: true, Cycle: 7} }
	s := New(Config{Host: "127.0.0.1", Port: 0}, runner, store, events, status, nil)
	return s, runner, store, events
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestHealthz(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	w, body := doJSON(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestPrompt(t *testing.T) {
	s, runner, _, _ := newTestServer(t)
	w, body := doJSON(t, s, http.MethodPost, "/prompt", `{"prompt": "do the thing"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", body["response"])
	assert.EqualValues(t, 42, body["tokens"])
	require.Len(t, runner.inputs, 1)
	assert.Equal(t, "do the thing", runner.inputs[0])
}

func TestPromptRejectsMissingBody(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	w, _ := doJSON(t, s, http.MethodPost, "/prompt", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecentTasks(t *testing.T) {
	s, _, store, _ := newTestServer(t)
	require.NoError(t, store.UpsertTask(memory.TaskRecord{ID: "t1", Name: "one", Status: "done"}))

	w, body := doJSON(t, s, http.MethodGet, "/tasks/recent", "")
	assert.Equal(t, http.StatusOK, w.Code)
	tasks := body["tasks"].([]any)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].(map[string]any)["id"])
}

func TestRecentTasksEmptyIsList(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	w, _ := doJSON(t, s, http.MethodGet, "/tasks/recent", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tasks":[]`)
}

func TestUpcomingAndCancel(t *testing.T) {
	s, _, store, _ := newTestServer(t)
	item, err := store.CreateScheduledItem(memory.ItemReminder, "stand up", "",
		scheduler.Spec{Type: scheduler.TypeInterval, Minutes: 30})
	require.NoError(t, err)

	w, body := doJSON(t, s, http.MethodGet, "/tasks/upcoming", "")
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["items"].([]any), 1)

	w, _ = doJSON(t, s, http.MethodPost, "/tasks/"+itoa(item.ID)+"/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)

	after, err := store.ScheduledItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusCancelled, after.Status)

	w, _ = doJSON(t, s, http.MethodPost, "/tasks/9999/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProjects(t *testing.T) {
	s, _, store, _ := newTestServer(t)
	_, err := store.CreateProject("Site", "site", "", t.TempDir())
	require.NoError(t, err)

	w, body := doJSON(t, s, http.MethodGet, "/projects", "")
	assert.Equal(t, http.StatusOK, w.Code)
	projects := body["projects"].([]any)
	require.Len(t, projects, 1)
	assert.Equal(t, "site", projects[0].(map[string]any)["slug"])
}

func TestImprovementStatus(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	w, body := doJSON(t, s, http.MethodGet, "/improvement/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["enabled"])
	assert.EqualValues(t, 7, body["cycle"])
}

func TestChatHistory(t *testing.T) {
	s, _, store, _ := newTestServer(t)
	require.NoError(t, store.SaveConversation("hi", "hello there", nil))

	w, body := doJSON(t, s, http.MethodGet, "/chat/history?limit=5", "")
	assert.Equal(t, http.StatusOK, w.Code)
	convs := body["conversations"].([]any)
	require.Len(t, convs, 1)
	assert.Equal(t, "hello there", convs[0].(map[string]any)["agent_msg"])
}

func TestEventsStream(t *testing.T) {
	s, _, _, events := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	// Publish until the subscription registered by the handler delivers.
	stopPublishing := make(chan struct{})
	defer close(stopPublishing)
	go func() {
		for {
			select {
			case <-stopPublishing:
				return
			case <-time.After(10 * time.Millisecond):
				events.Publish("task.started", map[string]any{"task_id": "t1"})
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	found := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") && strings.Contains(line, "task.started") {
			found = true
			break
		}
	}
	assert.True(t, found, "no task.started event seen on the stream")
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
