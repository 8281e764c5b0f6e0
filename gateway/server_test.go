package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripstream/tripstream/config"
	"github.com/tripstream/tripstream/conversation"
	"github.com/tripstream/tripstream/engine"
	"github.com/tripstream/tripstream/itinerary"
	"github.com/tripstream/tripstream/progress"
	"github.com/tripstream/tripstream/storage/storagetest"
	"github.com/tripstream/tripstream/task"
)

type stubOrchestrator struct {
	turnResult engine.TurnResult
	task       task.Task
	err        error

	lastConversation string
	lastModification string
	lastCancelled    string
}

func (s *stubOrchestrator) HandleTurn(ctx context.Context, conversationID, turnID, text string) (engine.TurnResult, error) {
	s.lastConversation = conversationID
	return s.turnResult, s.err
}

func (s *stubOrchestrator) StartGeneration(ctx context.Context, conversationID string) (task.Task, error) {
	s.lastConversation = conversationID
	return s.task, s.err
}

func (s *stubOrchestrator) Replan(ctx context.Context, versionID, modification string) (task.Task, error) {
	s.lastModification = modification
	return s.task, s.err
}

func (s *stubOrchestrator) Cancel(ctx context.Context, taskID string) (task.Task, error) {
	s.lastCancelled = taskID
	return s.task, s.err
}

type gatewayFixture struct {
	server       *httptest.Server
	orchestrator *stubOrchestrator
	tasks        *task.Manager
	itins        *itinerary.Store
	publisher    *progress.Publisher
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	taskStore := task.NewStore(storagetest.NewMemKV())
	pub := progress.NewPublisher(taskStore, progress.WithLogger(logger))
	mgr := task.NewManager(taskStore, task.WithPublisher(pub), task.WithManagerLogger(logger))
	itins := itinerary.NewStore(storagetest.NewMemKV())
	orch := &stubOrchestrator{}

	gw := New(config.GatewayConfig{Addr: ":0"}, orch, pub, itins, logger)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	return &gatewayFixture{
		server:       srv,
		orchestrator: orch,
		tasks:        mgr,
		itins:        itins,
		publisher:    pub,
	}
}

func (f *gatewayFixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeInto[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestTurnEndpointLaunchesTask(t *testing.T) {
	f := newGatewayFixture(t)
	launched := task.Task{ID: "task-1", Status: task.StatusPending, Kind: task.KindGenerate}
	f.orchestrator.turnResult = engine.TurnResult{
		Context: conversation.NewContext("conv-1"),
		Intent:  "plan_trip",
		Task:    &launched,
	}

	resp := f.post(t, "/v1/conversations/conv-1/turns", turnRequest{TurnID: "turn-1", Text: "Plan Lisbon"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeInto[turnResponse](t, resp)
	require.NotNil(t, body.Task)
	assert.Equal(t, "task-1", body.Task.ID)
	assert.Equal(t, "plan_trip", body.Intent)
	assert.Equal(t, "conv-1", f.orchestrator.lastConversation)
}

func TestTurnEndpointClarification(t *testing.T) {
	f := newGatewayFixture(t)
	f.orchestrator.turnResult = engine.TurnResult{
		Context:       conversation.NewContext("conv-1"),
		Intent:        "plan_trip",
		Clarification: "no travel dates yet; when is the trip?",
	}

	resp := f.post(t, "/v1/conversations/conv-1/turns", turnRequest{Text: "plan something"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeInto[turnResponse](t, resp)
	assert.Nil(t, body.Task)
	assert.NotEmpty(t, body.Clarification)
}

func TestTurnEndpointRequiresText(t *testing.T) {
	f := newGatewayFixture(t)

	resp := f.post(t, "/v1/conversations/conv-1/turns", turnRequest{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeInto[errorBody](t, resp)
	assert.Equal(t, "invalid_request", body.Code)
}

func TestTurnEndpointRejectsUnknownFields(t *testing.T) {
	f := newGatewayFixture(t)

	resp := f.post(t, "/v1/conversations/conv-1/turns", map[string]string{"text": "hi", "bogus": "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTaskPolling(t *testing.T) {
	f := newGatewayFixture(t)
	created, err := f.tasks.Create(context.Background(), "conv-1", task.KindGenerate)
	require.NoError(t, err)
	_, err = f.tasks.Start(context.Background(), created.ID)
	require.NoError(t, err)

	resp, err := http.Get(f.server.URL + "/v1/tasks/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeInto[taskSummary](t, resp)
	assert.Equal(t, task.StatusRunning, body.Status)
	assert.Equal(t, task.StepIntentExtraction, body.Step)

	resp, err = http.Get(f.server.URL + "/v1/tasks/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelEndpoint(t *testing.T) {
	f := newGatewayFixture(t)
	f.orchestrator.task = task.Task{ID: "task-9", Status: task.StatusCancelled}

	resp := f.post(t, "/v1/tasks/task-9/cancel", struct{}{})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, "task-9", f.orchestrator.lastCancelled)
}

func TestReplanErrorMapping(t *testing.T) {
	f := newGatewayFixture(t)
	f.orchestrator.err = task.NewFailure(task.CodeAmbiguousModification,
		"could not map the request to specific days")

	resp := f.post(t, "/v1/itineraries/ver-1/replan", replanRequest{Modification: "make it better"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeInto[errorBody](t, resp)
	assert.Equal(t, "ambiguous_modification", body.Code)
	assert.False(t, body.Retryable)
}

func TestReplanRetryAfterHeader(t *testing.T) {
	f := newGatewayFixture(t)
	f.orchestrator.err = task.NewFailure(task.CodeStorageUnavailable, "kv down")

	resp := f.post(t, "/v1/itineraries/ver-1/replan", replanRequest{Modification: "change day 1"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "15", resp.Header.Get("Retry-After"))

	body := decodeInto[errorBody](t, resp)
	assert.True(t, body.Retryable)
}

func TestItineraryEndpoints(t *testing.T) {
	f := newGatewayFixture(t)
	v := itinerary.NewVersion("conv-1", nil)
	v.Destination = "Lisbon"
	v.StartDate = "2026-05-01"
	v.EndDate = "2026-05-03"
	require.NoError(t, f.itins.Save(context.Background(), v))

	resp, err := http.Get(f.server.URL + "/v1/itineraries/" + v.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeInto[itinerary.Version](t, resp)
	assert.Equal(t, "Lisbon", got.Destination)

	resp, err = http.Get(f.server.URL + "/v1/conversations/conv-1/itinerary")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decodeInto[itinerary.Version](t, resp)
	assert.Equal(t, v.ID, got.ID)

	resp, err = http.Get(f.server.URL + "/v1/conversations/conv-other/itinerary")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamDeliversSnapshotsUntilTerminal(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	created, err := f.tasks.Create(ctx, "conv-1", task.KindGenerate)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/tasks/" + created.ID + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Drive the task to completion while the stream is attached.
	go func() {
		_, _ = f.tasks.Start(ctx, created.ID)
		_, _ = f.tasks.Advance(ctx, created.ID, task.StepDataGathering, 0.5, "Gathering")
		_, _ = f.tasks.Advance(ctx, created.ID, task.StepPlanComposition, 0.5, "Composing")
		_, _ = f.tasks.Complete(ctx, created.ID, "ver-1")
	}()

	var snapshots []taskSummary
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var snap taskSummary
		if err := conn.ReadJSON(&snap); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected stream end: %v", err)
			break
		}
		snapshots = append(snapshots, snap)
	}

	require.NotEmpty(t, snapshots)
	for i := 1; i < len(snapshots); i++ {
		assert.GreaterOrEqual(t, snapshots[i].Progress, snapshots[i-1].Progress)
	}
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, task.StatusCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, "ver-1", last.ResultVersionID)
}

func TestStreamUnknownTask(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := http.Get(f.server.URL + "/v1/tasks/nope/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
