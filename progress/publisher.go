// Package progress fans task snapshots out to live subscribers and mirrors
// them onto a NATS subject, while the durable task store remains the source
// of truth for polling. Each subscriber's stream is ordered and starts with
// the current snapshot, so attaching late never yields a truncated history.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/tripstream/tripstream/task"
)

// subjectPrefix is the NATS subject namespace for progress mirroring. The
// full subject is subjectPrefix + task id.
const subjectPrefix = "task.progress."

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind is dropped and must fall back to Poll.
const subscriberBuffer = 32

// Subject returns the NATS subject carrying progress events for a task.
func Subject(taskID string) string {
	return subjectPrefix + taskID
}

// Mirror publishes progress events onto a messaging subject. *nats.Conn
// satisfies it; nil disables mirroring.
type Mirror interface {
	Publish(subject string, data []byte) error
}

// Publisher implements task.Publisher: it receives committed snapshots in
// commit order per task and fans them out.
type Publisher struct {
	store  *task.Store
	mirror Mirror
	logger *slog.Logger

	mu    sync.Mutex
	feeds map[string]*feed
}

type feed struct {
	mu     sync.Mutex
	last   task.Task
	hasLast bool
	subs   map[int]chan task.Task
	nextID int
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMirror mirrors every snapshot as JSON onto the task's progress subject.
func WithMirror(m Mirror) Option {
	return func(p *Publisher) { p.mirror = m }
}

// WithLogger sets the publisher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a Publisher over the durable task store.
func NewPublisher(store *task.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		feeds:  map[string]*feed{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers one committed snapshot to every subscriber of the task
// and mirrors it. The caller (the task manager) serializes calls per task
// id, which is what makes each subscriber's stream ordered. On a terminal
// snapshot the feed emits, closes every subscriber channel, and is dropped;
// later subscribers are served the terminal state from the store.
func (p *Publisher) Publish(t task.Task) {
	p.mirrorSnapshot(t)

	p.mu.Lock()
	f, ok := p.feeds[t.ID]
	if !ok {
		f = newFeed()
		p.feeds[t.ID] = f
	}
	if t.Status.Terminal() {
		delete(p.feeds, t.ID)
	}
	p.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = t
	f.hasLast = true

	for id, ch := range f.subs {
		select {
		case ch <- t.Clone():
		default:
			// Slow subscriber: drop it rather than stall or reorder the
			// feed. It recovers via Poll.
			p.logger.Warn("Dropping slow progress subscriber", "task_id", t.ID)
			close(ch)
			delete(f.subs, id)
		}
	}

	if t.Status.Terminal() {
		for id, ch := range f.subs {
			close(ch)
			delete(f.subs, id)
		}
	}
}

// Poll returns the current durable snapshot for a task. It works with zero
// subscribers and after the live feed is gone.
func (p *Publisher) Poll(ctx context.Context, taskID string) (task.Task, error) {
	return p.store.Load(ctx, taskID)
}

// Subscribe attaches a live stream for a task. The stream delivers the
// current snapshot first, then every subsequent transition in order, and is
// closed after a terminal snapshot. The returned cancel func detaches early;
// it is safe to call after closure.
func (p *Publisher) Subscribe(ctx context.Context, taskID string) (<-chan task.Task, func(), error) {
	// Durable snapshot first: it also validates the task id.
	snapshot, err := p.store.Load(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan task.Task, subscriberBuffer)

	if snapshot.Status.Terminal() {
		ch <- snapshot
		close(ch)
		return ch, func() {}, nil
	}

	p.mu.Lock()
	f, ok := p.feeds[taskID]
	if !ok {
		f = newFeed()
		p.feeds[taskID] = f
	}
	p.mu.Unlock()

	f.mu.Lock()
	// The feed may have advanced past the durable read, or reached terminal
	// before we registered.
	if f.hasLast {
		snapshot = f.last.Clone()
	}
	ch <- snapshot
	if snapshot.Status.Terminal() {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	// Close the race where the task reached terminal between the durable
	// read and registration: that terminal publish may have gone to a feed
	// this subscriber never joined. If the feed already delivered it, the
	// subscriber is gone from subs and nothing is duplicated.
	if cur, err := p.store.Load(ctx, taskID); err == nil && cur.Status.Terminal() {
		f.mu.Lock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			sub <- cur
			close(sub)
		}
		f.mu.Unlock()
	}

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			close(sub)
			delete(f.subs, id)
		}
	}
	return ch, cancel, nil
}

// Subscribers reports the live subscriber count for a task, for tests and
// introspection.
func (p *Publisher) Subscribers(taskID string) int {
	p.mu.Lock()
	f, ok := p.feeds[taskID]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func newFeed() *feed {
	return &feed{subs: map[int]chan task.Task{}}
}

func (p *Publisher) mirrorSnapshot(t task.Task) {
	if p.mirror == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		p.logger.Warn("Failed to marshal progress event", "task_id", t.ID, "error", err)
		return
	}
	if err := p.mirror.Publish(Subject(t.ID), data); err != nil {
		p.logger.Warn("Failed to mirror progress event", "task_id", t.ID, "error", err)
	}
}
