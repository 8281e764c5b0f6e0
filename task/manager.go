package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Publisher receives every committed snapshot mutation, in commit order per
// task id. The progress layer implements it.
type Publisher interface {
	Publish(t Task)
}

// Manager is the task state machine. It enforces single-writer semantics per
// task id, monotonic progress, and terminal-state immutability; every
// committed mutation is persisted and then published.
type Manager struct {
	store     *Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPublisher wires the progress publisher.
func WithPublisher(p Publisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager over store.
func NewManager(store *Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		locks:  map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) idLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// Create registers a new pending task and returns its snapshot.
func (m *Manager) Create(ctx context.Context, conversationID string, kind Kind) (Task, error) {
	now := m.now().UTC()
	t := Task{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Kind:           kind,
		Status:         StatusPending,
		Message:        "Request accepted",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.Save(ctx, t); err != nil {
		return Task{}, err
	}
	m.publish(t)
	m.logger.Info("Task created", "task_id", t.ID, "conversation_id", conversationID, "kind", kind)
	return t, nil
}

// Get returns the current snapshot for id.
func (m *Manager) Get(ctx context.Context, id string) (Task, error) {
	return m.store.Load(ctx, id)
}

// Start moves a pending task to running at the first step.
func (m *Manager) Start(ctx context.Context, id string) (Task, error) {
	return m.mutate(ctx, id, func(t *Task) bool {
		if t.Status != StatusPending {
			return false
		}
		lo, _ := StepIntentExtraction.Band()
		t.Status = StatusRunning
		t.Step = StepIntentExtraction
		t.Progress = lo
		t.Message = "Understanding your request"
		return true
	})
}

// Advance moves a running task forward within the step sequence. fraction is
// the completion within the step's progress band, clamped to [0,1]. Progress
// never decreases: a late or duplicate report from a slower step is absorbed
// without moving the task backwards. Terminal tasks ignore advances entirely.
func (m *Manager) Advance(ctx context.Context, id string, step Step, fraction float64, message string) (Task, error) {
	return m.mutate(ctx, id, func(t *Task) bool {
		if t.Status != StatusRunning {
			return false
		}
		// Reject regressions from out-of-order step reporters.
		if step.order() < t.Step.order() {
			return false
		}

		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		lo, hi := step.Band()
		progress := lo + int(fraction*float64(hi-lo))
		if progress > t.Progress {
			t.Progress = progress
		}
		t.Step = step
		if message != "" {
			t.Message = message
		}
		return true
	})
}

// SetSources records the per-source gather outcome on the task.
func (m *Manager) SetSources(ctx context.Context, id string, sources []SourceStatus) (Task, error) {
	return m.mutate(ctx, id, func(t *Task) bool {
		if t.Status != StatusRunning {
			return false
		}
		t.Sources = append([]SourceStatus(nil), sources...)
		return true
	})
}

// Complete moves a running task to completed with its result reference.
func (m *Manager) Complete(ctx context.Context, id, versionID string) (Task, error) {
	return m.mutate(ctx, id, func(t *Task) bool {
		if t.Status != StatusRunning {
			return false
		}
		t.Status = StatusCompleted
		t.Step = StepFinalization
		t.Progress = 100
		t.Message = "Itinerary ready"
		t.ResultVersionID = versionID
		t.Failure = nil
		return true
	})
}

// Fail moves a pending or running task to failed with a taxonomy failure.
func (m *Manager) Fail(ctx context.Context, id string, failure *Failure) (Task, error) {
	return m.mutate(ctx, id, func(t *Task) bool {
		if t.Status.Terminal() {
			return false
		}
		t.Status = StatusFailed
		t.Failure = failure
		if failure != nil {
			t.Message = failure.Message
		}
		return true
	})
}

// RequestCancel asks a task to stop. A pending task cancels immediately; a
// running task is flagged and winds down cooperatively at the next step
// boundary. Terminal tasks are untouched.
func (m *Manager) RequestCancel(ctx context.Context, id string) (Task, error) {
	return m.mutate(ctx, id, func(t *Task) bool {
		switch t.Status {
		case StatusPending:
			t.Status = StatusCancelled
			t.Message = "Cancelled before start"
			return true
		case StatusRunning:
			if t.CancelRequested {
				return false
			}
			t.CancelRequested = true
			t.Message = "Cancellation requested"
			return true
		default:
			return false
		}
	})
}

// Cancel finalizes a cooperative cancellation at a step boundary.
func (m *Manager) Cancel(ctx context.Context, id string) (Task, error) {
	return m.mutate(ctx, id, func(t *Task) bool {
		if t.Status.Terminal() {
			return false
		}
		t.Status = StatusCancelled
		t.CancelRequested = false
		t.Message = "Cancelled"
		return true
	})
}

// mutate runs fn on the current snapshot under the per-id lock. If fn reports
// no change (terminal state, stale report), the stored snapshot is returned
// unchanged and nothing is persisted or published.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*Task) bool) (Task, error) {
	lock := m.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	t, err := m.store.Load(ctx, id)
	if err != nil {
		return Task{}, err
	}

	if !fn(&t) {
		return t, nil
	}

	t.UpdatedAt = m.now().UTC()
	if err := m.store.Save(ctx, t); err != nil {
		return Task{}, err
	}
	m.publish(t)

	m.logger.Debug("Task transition",
		"task_id", t.ID,
		"status", t.Status,
		"step", t.Step,
		"progress", t.Progress)
	return t, nil
}

func (m *Manager) publish(t Task) {
	if m.publisher != nil {
		m.publisher.Publish(t.Clone())
	}
}
