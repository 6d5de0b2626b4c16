package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mowd/claude-dashboard/internal/adapters/state"
	"github.com/Mowd/claude-dashboard/internal/core"
	"github.com/Mowd/claude-dashboard/internal/events"
	"github.com/Mowd/claude-dashboard/internal/workflow"
)

// fakeOrchestrator records lifecycle calls without running agents.
type fakeOrchestrator struct {
	store *state.Store

	startErr  error
	startedID string
	paused    []string
	resumed   []string
	cancelled []string
}

func (f *fakeOrchestrator) StartWorkflow(ctx context.Context, req workflow.StartRequest) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		return "", core.ErrValidation(core.CodeEmptyPrompt, "task must not be empty")
	}
	id := uuid.NewString()
	wf := core.NewWorkflow(id, task, req.ProjectPath)
	if err := f.store.CreateWorkflow(ctx, wf, core.NormalizePlan(req.Plan)); err != nil {
		return "", err
	}
	f.startedID = id
	return id, nil
}

func (f *fakeOrchestrator) Pause(_ context.Context, id string) error {
	f.paused = append(f.paused, id)
	return nil
}

func (f *fakeOrchestrator) Resume(_ context.Context, id string) error {
	f.resumed = append(f.resumed, id)
	return nil
}

func (f *fakeOrchestrator) Cancel(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type testServer struct {
	*Server
	store  *state.Store
	engine *fakeOrchestrator
	bus    *events.Bus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := state.New(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.New(64)
	t.Cleanup(bus.Close)

	engine := &fakeOrchestrator{store: store}
	return &testServer{
		Server: NewServer(store, engine, bus),
		store:  store,
		engine: engine,
		bus:    bus,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestStartWorkflow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/workflows", map[string]interface{}{
		"task":          "build a login page",
		"executionPlan": []string{"pm", "rd"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, ts.engine.startedID, body["id"])
	assert.NotEmpty(t, body["id"])
}

func TestStartWorkflowValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/workflows", map[string]string{"task": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", strings.NewReader("{not json"))
	rec2 := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestListWorkflows(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	for _, task := range []string{"add OAuth login", "fix pagination", "login rate limiting"} {
		wf := core.NewWorkflow(uuid.NewString(), task, ".")
		require.NoError(t, ts.store.CreateWorkflow(ctx, wf, core.AllRoles))
	}

	rec := ts.request(t, http.MethodGet, "/api/v1/workflows?q=login&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Workflows []*core.Workflow `json:"workflows"`
		Total     int              `json:"total"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, 2, body.Total)
	assert.Len(t, body.Workflows, 2)

	rec = ts.request(t, http.MethodGet, "/api/v1/workflows?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListWorkflowsEmpty(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/v1/workflows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	// Empty list encodes as [], not null.
	assert.Contains(t, rec.Body.String(), `"workflows":[]`)
}

func TestGetWorkflowWithSteps(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	wf := core.NewWorkflow(uuid.NewString(), "a task", ".")
	require.NoError(t, ts.store.CreateWorkflow(ctx, wf, []core.Role{core.RolePM}))

	rec := ts.request(t, http.MethodGet, "/api/v1/workflows/"+wf.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Workflow *core.Workflow `json:"workflow"`
		Steps    []*core.Step   `json:"steps"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, wf.ID, body.Workflow.ID)
	require.Len(t, body.Steps, len(core.AllRoles))
	assert.Equal(t, core.RolePM, body.Steps[0].Role)
	assert.Equal(t, core.StepPending, body.Steps[0].Status)
	assert.Equal(t, core.StepSkipped, body.Steps[1].Status)
}

func TestGetWorkflowNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/v1/workflows/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, action := range []string{"pause", "resume", "cancel"} {
		rec := ts.request(t, http.MethodPost, "/api/v1/workflows/wf-1/"+action, nil)
		assert.Equal(t, http.StatusAccepted, rec.Code, action)
	}
	assert.Equal(t, []string{"wf-1"}, ts.engine.paused)
	assert.Equal(t, []string{"wf-1"}, ts.engine.resumed)
	assert.Equal(t, []string{"wf-1"}, ts.engine.cancelled)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	wf := core.NewWorkflow(uuid.NewString(), "task", ".")
	require.NoError(t, ts.store.CreateWorkflow(ctx, wf, core.AllRoles))
	require.NoError(t, ts.store.UpdateWorkflowStatus(ctx, wf.ID, core.WorkflowCompleted, nil))

	rec := ts.request(t, http.MethodGet, "/api/v1/workflows/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var m core.Metrics
	decodeBody(t, rec, &m)
	assert.Equal(t, 1, m.Total)
	assert.Equal(t, 1, m.ByStatus["completed"])
}

func TestCleanupEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	wf := core.NewWorkflow(uuid.NewString(), "old", ".")
	require.NoError(t, ts.store.CreateWorkflow(ctx, wf, core.AllRoles))
	require.NoError(t, ts.store.UpdateWorkflowStatus(ctx, wf.ID, core.WorkflowCancelled, nil))

	// A tiny retention window makes the just-cancelled workflow stale.
	time.Sleep(5 * time.Millisecond)
	rec := ts.request(t, http.MethodPost, "/api/v1/workflows/cleanup",
		map[string]string{"olderThan": "1ms"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int
	decodeBody(t, rec, &body)
	assert.Equal(t, 1, body["removed"])

	rec = ts.request(t, http.MethodPost, "/api/v1/workflows/cleanup",
		map[string]string{"olderThan": "not-a-duration"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSSEStream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				return name, data
			}
		}
		t.Fatalf("stream ended early: %v", scanner.Err())
		return "", ""
	}

	name, _ := readEvent()
	require.Equal(t, "connected", name)

	ts.bus.Publish(events.NewStepStreamEvent("wf-1", "step-1", core.RoleRD, "chunk text"))

	name, data := readEvent()
	assert.Equal(t, "step:stream", name)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	assert.Equal(t, "wf-1", payload["workflowId"])
	assert.Equal(t, "chunk text", payload["chunk"])
	assert.NotContains(t, payload, "type")
}

func TestSSEWorkflowFilter(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/events?workflow=wf-yes")
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	// Skip the connected handshake.
	for scanner.Scan() && scanner.Text() != "" {
	}

	ts.bus.Publish(events.NewWorkflowCompletedEvent("wf-no"))
	ts.bus.Publish(events.NewWorkflowCompletedEvent("wf-yes"))

	var name string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			assert.Contains(t, line, "wf-yes")
			assert.NotContains(t, line, "wf-no")
		}
		if strings.HasPrefix(line, "event: ") {
			name = strings.TrimPrefix(line, "event: ")
		}
		if line == "" {
			break
		}
	}
	assert.Equal(t, "workflow:completed", name)
}
