// Package engine orchestrates the itinerary pipeline: it applies
// conversation turns, launches generation and replan tasks into a bounded
// worker pool, and drives each task through intent extraction, data
// gathering, plan composition, and finalization.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tripstream/tripstream/config"
	"github.com/tripstream/tripstream/conversation"
	"github.com/tripstream/tripstream/gather"
	"github.com/tripstream/tripstream/itinerary"
	"github.com/tripstream/tripstream/llm"
	"github.com/tripstream/tripstream/metrics"
	"github.com/tripstream/tripstream/replan"
	"github.com/tripstream/tripstream/storage"
	"github.com/tripstream/tripstream/task"
)

// Extractor analyzes one user turn. *llm.IntentExtractor implements it.
type Extractor interface {
	Extract(ctx context.Context, text string, known map[string]string) (llm.IntentResult, error)
}

// Composer produces and revises plans. *llm.Composer implements it.
type Composer interface {
	Compose(ctx context.Context, slots map[string]string, days int, gathered gather.Result) (*llm.Plan, error)
	Revise(ctx context.Context, parentJSON []byte, modification string, days []int, gathered gather.Result) (*llm.Plan, error)
}

// Deps are the collaborators an Engine is built from.
type Deps struct {
	Conversations *conversation.Store
	Tasks         *task.Manager
	Itineraries   *itinerary.Store
	Gatherer      *gather.Coordinator
	Extractor     Extractor
	Composer      Composer
	Logger        *slog.Logger
}

// Engine runs the orchestration pipeline over a bounded worker pool.
type Engine struct {
	cfg           config.EngineConfig
	conversations *conversation.Store
	tasks         *task.Manager
	itineraries   *itinerary.Store
	gatherer      *gather.Coordinator
	extractor     Extractor
	composer      Composer
	logger        *slog.Logger
	now           func() time.Time

	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates an Engine. Zero config fields fall back to defaults.
func New(cfg config.EngineConfig, deps Deps) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 8
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 9 * time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:           cfg,
		conversations: deps.Conversations,
		tasks:         deps.Tasks,
		itineraries:   deps.Itineraries,
		gatherer:      deps.Gatherer,
		extractor:     deps.Extractor,
		composer:      deps.Composer,
		logger:        logger,
		now:           time.Now,
		sem:           make(chan struct{}, cfg.Workers),
	}
}

// TurnResult is the synchronous outcome of one conversation turn.
type TurnResult struct {
	Context *conversation.Context
	Intent  string
	// Task is set when the turn launched a generation or replan task.
	Task *task.Task
	// Clarification is a user-facing question set when the request cannot
	// proceed as-is: required slots are missing or the modification is
	// ambiguous. No task runs in that case.
	Clarification string
}

// HandleTurn applies one user turn: extract intent and slots, merge them into
// the conversation, and launch whatever the intent asks for. A storage fault
// blocks the turn; extraction faults degrade to heuristic parsing so the turn
// is never lost to an LLM outage. Redelivering a turn ID that was already
// applied returns the current context without launching anything.
func (e *Engine) HandleTurn(ctx context.Context, conversationID, turnID, text string) (TurnResult, error) {
	existing, err := e.conversations.GetOrCreate(ctx, conversationID)
	if err != nil {
		return TurnResult{}, err
	}
	if existing.Applied(turnID) {
		return TurnResult{Context: existing}, nil
	}
	knownValues := existing.SlotMap()

	extracted, err := e.extractor.Extract(ctx, text, knownValues)
	if err != nil {
		e.logger.Warn("Intent extraction failed, using heuristics",
			"conversation_id", conversationID,
			"error", err)
		extracted = heuristicExtract(text)
	}

	conv, err := e.conversations.ApplyTurn(ctx, conversationID, conversation.Turn{
		TurnID:    turnID,
		Role:      conversation.RoleUser,
		Text:      text,
		Intent:    extracted.Intent,
		Timestamp: e.now().UTC(),
	}, extracted.Extractions)
	if err != nil {
		return TurnResult{}, err
	}

	out := TurnResult{Context: conv, Intent: extracted.Intent}

	switch extracted.Intent {
	case llm.IntentPlanTrip:
		t, err := e.StartGeneration(ctx, conversationID)
		if err != nil {
			return e.turnOutcome(out, err)
		}
		out.Task = &t
	case llm.IntentRefinePlan:
		t, err := e.ReplanConversation(ctx, conversationID, text)
		if err != nil {
			return e.turnOutcome(out, err)
		}
		out.Task = &t
	}
	return out, nil
}

// turnOutcome converts request-shaped failures into clarifications; anything
// else surfaces as an error.
func (e *Engine) turnOutcome(out TurnResult, err error) (TurnResult, error) {
	var failure *task.Failure
	if errors.As(err, &failure) {
		switch failure.Code {
		case task.CodeInvalidRequest, task.CodeAmbiguousModification:
			out.Clarification = failure.Message
			return out, nil
		}
	}
	return out, err
}

// StartGeneration validates the conversation's slots and launches a
// generation task. Missing or unresolvable trip parameters fail synchronously
// with an invalid_request failure; no task is created for them.
func (e *Engine) StartGeneration(ctx context.Context, conversationID string) (task.Task, error) {
	slots, err := e.conversations.Slots(ctx, conversationID)
	if err != nil {
		return task.Task{}, err
	}

	req, days, err := buildRequest(slots, e.now().UTC())
	if err != nil {
		return task.Task{}, err
	}

	t, err := e.tasks.Create(ctx, conversationID, task.KindGenerate)
	if err != nil {
		return task.Task{}, err
	}

	slotValues := make(map[string]string, len(slots))
	for name, slot := range slots {
		slotValues[name] = slot.Value
	}
	e.dispatch(t.ID, func(runCtx context.Context) {
		e.runGenerate(runCtx, t.ID, conversationID, req, days, slotValues)
	})

	e.logger.Info("Generation task launched",
		"task_id", t.ID,
		"conversation_id", conversationID,
		"destination", req.Destination,
		"days", days)
	return t, nil
}

// Replan launches a replan task against a specific itinerary version. Scope
// resolution is synchronous: an unmappable modification fails immediately
// with ambiguous_modification and no task is created.
func (e *Engine) Replan(ctx context.Context, versionID, modification string) (task.Task, error) {
	parent, err := e.itineraries.Load(ctx, versionID)
	if errors.Is(err, storage.ErrNotFound) {
		return task.Task{}, task.NewFailure(task.CodeInvalidRequest,
			fmt.Sprintf("unknown itinerary version %s", versionID))
	}
	if err != nil {
		return task.Task{}, err
	}
	return e.replanFrom(ctx, parent, modification)
}

// ReplanConversation replans against the newest version the conversation has
// produced.
func (e *Engine) ReplanConversation(ctx context.Context, conversationID, modification string) (task.Task, error) {
	parent, err := e.itineraries.LatestForConversation(ctx, conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return task.Task{}, task.NewFailure(task.CodeInvalidRequest,
			"no itinerary to refine yet; plan a trip first")
	}
	if err != nil {
		return task.Task{}, err
	}
	return e.replanFrom(ctx, parent, modification)
}

func (e *Engine) replanFrom(ctx context.Context, parent itinerary.Version, modification string) (task.Task, error) {
	scope, err := replan.ComputeScope(parent, modification)
	if err != nil {
		return task.Task{}, err
	}

	t, err := e.tasks.Create(ctx, parent.ConversationID, task.KindReplan)
	if err != nil {
		return task.Task{}, err
	}

	e.dispatch(t.ID, func(runCtx context.Context) {
		e.runReplan(runCtx, t.ID, parent, scope, modification)
	})

	e.logger.Info("Replan task launched",
		"task_id", t.ID,
		"parent_version", parent.ID,
		"days", scope.Days,
		"sources", scope.Sources,
		"reason", scope.Reason)
	return t, nil
}

// Cancel requests cancellation of a task. Pending tasks cancel immediately;
// running tasks wind down at the next step boundary.
func (e *Engine) Cancel(ctx context.Context, taskID string) (task.Task, error) {
	return e.tasks.RequestCancel(ctx, taskID)
}

// Shutdown waits for in-flight tasks to finish, up to ctx's deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// dispatch hands a task body to the worker pool. The body runs detached from
// the caller's context under the engine's task timeout; the pool slot is
// acquired inside the goroutine so launch never blocks the request path.
func (e *Engine) dispatch(taskID string, run func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Task panicked", "task_id", taskID, "panic", r)
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_, _ = e.tasks.Fail(ctx, taskID,
					task.NewFailure(task.CodeCompositionFailure, "internal error while building the itinerary"))
			}
		}()

		e.sem <- struct{}{}
		defer func() { <-e.sem }()

		metrics.TasksActive.Inc()
		defer metrics.TasksActive.Dec()

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.TaskTimeout)
		defer cancel()
		run(ctx)
	}()
}
