package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripstream/tripstream/config"
	"github.com/tripstream/tripstream/conversation"
	"github.com/tripstream/tripstream/gather"
	"github.com/tripstream/tripstream/itinerary"
	"github.com/tripstream/tripstream/llm"
	"github.com/tripstream/tripstream/provider"
	"github.com/tripstream/tripstream/storage"
	"github.com/tripstream/tripstream/storage/storagetest"
	"github.com/tripstream/tripstream/task"
)

type stubExtractor struct {
	result llm.IntentResult
	err    error
}

func (s *stubExtractor) Extract(ctx context.Context, text string, known map[string]string) (llm.IntentResult, error) {
	return s.result, s.err
}

type stubComposer struct {
	mu           sync.Mutex
	plan         *llm.Plan
	revised      *llm.Plan
	err          error
	composeCalls int
	reviseDays   []int
}

func (s *stubComposer) Compose(ctx context.Context, slots map[string]string, days int, gathered gather.Result) (*llm.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composeCalls++
	if s.err != nil {
		return nil, s.err
	}
	return clonePlan(s.plan), nil
}

func (s *stubComposer) Revise(ctx context.Context, parentJSON []byte, modification string, days []int, gathered gather.Result) (*llm.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviseDays = append([]int(nil), days...)
	if s.err != nil {
		return nil, s.err
	}
	return clonePlan(s.revised), nil
}

func clonePlan(p *llm.Plan) *llm.Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Days = append([]llm.PlanDay(nil), p.Days...)
	return &out
}

type stubFetcher struct {
	mu         sync.Mutex
	configured []provider.Source
	errs       map[provider.Source]error
	delay      time.Duration
	calls      map[provider.Source]int
}

func newStubFetcher(configured ...provider.Source) *stubFetcher {
	return &stubFetcher{
		configured: configured,
		errs:       make(map[provider.Source]error),
		calls:      make(map[provider.Source]int),
	}
}

func (f *stubFetcher) Fetch(ctx context.Context, source provider.Source, req provider.Request) (provider.Payload, error) {
	f.mu.Lock()
	f.calls[source]++
	err := f.errs[source]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, provider.NewError(source, provider.ReasonTimeout, "cancelled", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	switch source {
	case provider.SourceWeather:
		return provider.WeatherForecast{
			Location: req.Destination,
			Days: []provider.WeatherDay{
				{Date: "2026-05-01", Condition: "sunny"},
				{Date: "2026-05-02", Condition: "cloudy"},
				{Date: "2026-05-03", Condition: "sunny"},
			},
		}, nil
	case provider.SourceImages:
		return provider.ImageResults{Images: []provider.ImageResult{{URL: "https://img.example/lisbon-1.jpg"}}}, nil
	case provider.SourceTransit:
		return provider.TransitRoutes{Legs: []provider.TransitLeg{{From: "Airport", To: "Baixa", Mode: "metro", DurationMinutes: 25}}}, nil
	default:
		return provider.TransitRoutes{}, nil
	}
}

func (f *stubFetcher) callCount(source provider.Source) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[source]
}

func (f *stubFetcher) Configured() []provider.Source { return f.configured }

func (f *stubFetcher) Missing() []provider.Source {
	have := make(map[provider.Source]bool)
	for _, s := range f.configured {
		have[s] = true
	}
	var out []provider.Source
	for _, s := range provider.AllSources() {
		if !have[s] {
			out = append(out, s)
		}
	}
	return out
}

type fixture struct {
	engine    *Engine
	tasks     *task.Manager
	convs     *conversation.Store
	itins     *itinerary.Store
	fetcher   *stubFetcher
	extractor *stubExtractor
	composer  *stubComposer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		tasks:     task.NewManager(task.NewStore(storagetest.NewMemKV()), task.WithManagerLogger(logger)),
		convs:     conversation.NewStore(storagetest.NewMemKV(), logger),
		itins:     itinerary.NewStore(storagetest.NewMemKV()),
		fetcher:   newStubFetcher(provider.AllSources()...),
		extractor: &stubExtractor{},
		composer:  &stubComposer{plan: lisbonPlan(), revised: lisbonPlan()},
	}
	f.engine = New(config.EngineConfig{Workers: 2, TaskTimeout: 5 * time.Second}, Deps{
		Conversations: f.convs,
		Tasks:         f.tasks,
		Itineraries:   f.itins,
		Gatherer:      gather.New(f.fetcher, gather.WithLogger(logger)),
		Extractor:     f.extractor,
		Composer:      f.composer,
		Logger:        logger,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, f.engine.Shutdown(ctx))
	})
	return f
}

func lisbonPlan() *llm.Plan {
	return &llm.Plan{
		Summary:            "Three relaxed days in Lisbon",
		Currency:           "EUR",
		TotalEstimatedCost: 1250,
		Days: []llm.PlanDay{
			{Day: 1, Date: "2026-05-01", Summary: "Alfama", Activities: []llm.PlanActivity{{Name: "Alfama walking tour"}, {Name: "Fado dinner"}}},
			{Day: 2, Date: "2026-05-02", Summary: "Belem", Activities: []llm.PlanActivity{{Name: "Belem tower"}, {Name: "Pasteis tasting"}}},
			{Day: 3, Date: "2026-05-03", Summary: "Sintra", Activities: []llm.PlanActivity{{Name: "Sintra day trip"}, {Name: "Cabo da Roca"}}},
		},
	}
}

func planTripResult() llm.IntentResult {
	return llm.IntentResult{
		Intent: llm.IntentPlanTrip,
		Extractions: []conversation.Extraction{
			{Name: conversation.SlotDestination, Value: "Lisbon", Confidence: 0.95, Explicit: true},
			{Name: conversation.SlotStartDate, Value: "2026-05-01", Confidence: 0.9, Explicit: true},
			{Name: conversation.SlotEndDate, Value: "2026-05-03", Confidence: 0.9, Explicit: true},
		},
	}
}

func waitTerminal(t *testing.T, mgr *task.Manager, id string) task.Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := mgr.Get(context.Background(), id)
		require.NoError(t, err)
		if got.Status.Terminal() {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %s stuck at %s/%d", id, got.Status, got.Progress)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitRunning(t *testing.T, mgr *task.Manager, id string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := mgr.Get(context.Background(), id)
		require.NoError(t, err)
		if got.Status == task.StatusRunning {
			return
		}
		if got.Status.Terminal() {
			t.Fatalf("task %s finished before it was observed running", id)
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %s never started", id)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestHandleTurnPlansTrip(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = planTripResult()

	out, err := f.engine.HandleTurn(context.Background(), "conv-1", "turn-1", "Plan me three days in Lisbon in early May")
	require.NoError(t, err)
	require.NotNil(t, out.Task)
	assert.Equal(t, llm.IntentPlanTrip, out.Intent)
	assert.Equal(t, "Lisbon", out.Context.SlotValue(conversation.SlotDestination))

	done := waitTerminal(t, f.tasks, out.Task.ID)
	assert.Equal(t, task.StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotEmpty(t, done.ResultVersionID)

	version, err := f.itins.Load(context.Background(), done.ResultVersionID)
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", version.Destination)
	assert.Equal(t, 1, version.Number)
	require.Len(t, version.Days, 3)
	assert.Equal(t, "EUR", version.Currency)
	assert.False(t, version.Degraded())

	// Live weather is attached per day, unflagged.
	day1 := version.Days[0]
	require.NotNil(t, day1.Weather)
	assert.Equal(t, "sunny", day1.Weather.Condition)
	assert.False(t, day1.WeatherSynthesized)
	assert.NotEmpty(t, day1.TransitNotes)
}

func TestHandleTurnMissingDatesAsksClarification(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = llm.IntentResult{
		Intent: llm.IntentPlanTrip,
		Extractions: []conversation.Extraction{
			{Name: conversation.SlotDestination, Value: "Lisbon", Confidence: 0.95, Explicit: true},
		},
	}

	out, err := f.engine.HandleTurn(context.Background(), "conv-1", "turn-1", "I want to go to Lisbon")
	require.NoError(t, err)
	assert.Nil(t, out.Task)
	assert.NotEmpty(t, out.Clarification)
	// The slot itself is kept for the next turn.
	assert.Equal(t, "Lisbon", out.Context.SlotValue(conversation.SlotDestination))
}

func TestHandleTurnDuplicateTurnIDLaunchesNothing(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = planTripResult()

	first, err := f.engine.HandleTurn(context.Background(), "conv-1", "turn-1", "Plan Lisbon")
	require.NoError(t, err)
	require.NotNil(t, first.Task)
	waitTerminal(t, f.tasks, first.Task.ID)

	second, err := f.engine.HandleTurn(context.Background(), "conv-1", "turn-1", "Plan Lisbon")
	require.NoError(t, err)
	assert.Nil(t, second.Task)
	assert.Len(t, second.Context.Turns, 1)
}

func TestHandleTurnExtractorOutageFallsBackToHeuristics(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = errors.New("model unavailable")

	out, err := f.engine.HandleTurn(context.Background(), "conv-1", "turn-1",
		"Plan a 3 day trip to Lisbon starting 2026-05-01 with a budget of $2000")
	require.NoError(t, err)
	require.NotNil(t, out.Task)
	assert.Equal(t, "Lisbon", out.Context.SlotValue(conversation.SlotDestination))
	assert.Equal(t, "2000", out.Context.SlotValue(conversation.SlotBudget))

	done := waitTerminal(t, f.tasks, out.Task.ID)
	assert.Equal(t, task.StatusCompleted, done.Status)
}

func TestGenerateDegradedSourceStillCompletes(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = planTripResult()
	f.fetcher.errs[provider.SourceFlights] = provider.NewError(provider.SourceFlights, provider.ReasonRateLimit, "429", nil)

	out, err := f.engine.HandleTurn(context.Background(), "conv-1", "turn-1", "Plan Lisbon")
	require.NoError(t, err)
	done := waitTerminal(t, f.tasks, out.Task.ID)

	require.Equal(t, task.StatusCompleted, done.Status)
	var flights *task.SourceStatus
	for i := range done.Sources {
		if done.Sources[i].Source == provider.SourceFlights {
			flights = &done.Sources[i]
		}
	}
	require.NotNil(t, flights)
	assert.Equal(t, task.SourceDegraded, flights.State)
	assert.Equal(t, provider.ReasonRateLimit, flights.Reason)

	version, err := f.itins.Load(context.Background(), done.ResultVersionID)
	require.NoError(t, err)
	assert.True(t, version.Degraded())
}

func TestComposerFailureFailsTask(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = planTripResult()
	f.composer.err = errors.New("model returned garbage")

	out, err := f.engine.HandleTurn(context.Background(), "conv-1", "turn-1", "Plan Lisbon")
	require.NoError(t, err)
	done := waitTerminal(t, f.tasks, out.Task.ID)

	require.Equal(t, task.StatusFailed, done.Status)
	require.NotNil(t, done.Failure)
	assert.Equal(t, task.CodeCompositionFailure, done.Failure.Code)
	assert.True(t, done.Failure.Retryable)
}

func TestCancelDuringGatherDiscardsResult(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = planTripResult()
	f.fetcher.delay = 150 * time.Millisecond

	out, err := f.engine.HandleTurn(context.Background(), "conv-1", "turn-1", "Plan Lisbon")
	require.NoError(t, err)
	waitRunning(t, f.tasks, out.Task.ID)

	_, err = f.engine.Cancel(context.Background(), out.Task.ID)
	require.NoError(t, err)

	done := waitTerminal(t, f.tasks, out.Task.ID)
	assert.Equal(t, task.StatusCancelled, done.Status)
	assert.Empty(t, done.ResultVersionID)

	// No version was persisted for the discarded batch.
	_, err = f.itins.LatestForConversation(context.Background(), "conv-1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	// Nothing composes after a cancelled gather.
	f.composer.mu.Lock()
	defer f.composer.mu.Unlock()
	assert.Zero(t, f.composer.composeCalls)
}

func TestStorageFaultBlocksTurn(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := storagetest.NewMemKV()
	f := newFixture(t)
	f.engine.conversations = conversation.NewStore(kv, logger)

	kv.FailGets = errors.New("nats connection lost")
	_, err := f.engine.HandleTurn(context.Background(), "conv-1", "turn-1", "Plan Lisbon")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
}
