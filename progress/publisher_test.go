package progress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripstream/tripstream/storage/storagetest"
	"github.com/tripstream/tripstream/task"
)

// memMirror records mirrored subject publishes.
type memMirror struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (m *memMirror) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	m.payloads = append(m.payloads, append([]byte(nil), data...))
	return nil
}

func newTestPipeline(t *testing.T, opts ...Option) (*task.Manager, *Publisher) {
	t.Helper()
	store := task.NewStore(storagetest.NewMemKV())
	pub := NewPublisher(store, opts...)
	mgr := task.NewManager(store, task.WithPublisher(pub))
	return mgr, pub
}

func drain(t *testing.T, ch <-chan task.Task, timeout time.Duration) []task.Task {
	t.Helper()
	var out []task.Task
	deadline := time.After(timeout)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, snap)
		case <-deadline:
			t.Fatal("timed out waiting for channel close")
		}
	}
}

func TestSubscribeDeliversSnapshotThenDeltas(t *testing.T) {
	mgr, pub := newTestPipeline(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, "conv-1", task.KindGenerate)
	require.NoError(t, err)

	ch, cancel, err := pub.Subscribe(ctx, created.ID)
	require.NoError(t, err)
	defer cancel()

	_, err = mgr.Start(ctx, created.ID)
	require.NoError(t, err)
	_, err = mgr.Advance(ctx, created.ID, task.StepDataGathering, 0.5, "gathering")
	require.NoError(t, err)
	_, err = mgr.Complete(ctx, created.ID, "ver-1")
	require.NoError(t, err)

	events := drain(t, ch, time.Second)
	require.Len(t, events, 4)

	// Current snapshot first, then each transition, ordered.
	assert.Equal(t, task.StatusPending, events[0].Status)
	assert.Equal(t, task.StatusRunning, events[1].Status)
	assert.Equal(t, 37, events[2].Progress)
	assert.Equal(t, task.StatusCompleted, events[3].Status)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Progress, events[i-1].Progress)
	}
}

func TestLateSubscriberGetsCurrentStateNotHistory(t *testing.T) {
	mgr, pub := newTestPipeline(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, "conv-1", task.KindGenerate)
	require.NoError(t, err)
	_, err = mgr.Start(ctx, created.ID)
	require.NoError(t, err)
	_, err = mgr.Advance(ctx, created.ID, task.StepPlanComposition, 0.5, "composing")
	require.NoError(t, err)

	ch, cancel, err := pub.Subscribe(ctx, created.ID)
	require.NoError(t, err)
	defer cancel()

	first := <-ch
	assert.Equal(t, 75, first.Progress)
	assert.Equal(t, task.StepPlanComposition, first.Step)

	_, err = mgr.Complete(ctx, created.ID, "ver-9")
	require.NoError(t, err)

	events := drain(t, ch, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, task.StatusCompleted, events[0].Status)
}

func TestSubscribeAfterTerminal(t *testing.T) {
	mgr, pub := newTestPipeline(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, "conv-1", task.KindGenerate)
	require.NoError(t, err)
	_, err = mgr.Start(ctx, created.ID)
	require.NoError(t, err)
	_, err = mgr.Fail(ctx, created.ID, task.NewFailure(task.CodeCompositionFailure, "llm down"))
	require.NoError(t, err)

	ch, cancel, err := pub.Subscribe(ctx, created.ID)
	require.NoError(t, err)
	defer cancel()

	events := drain(t, ch, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, task.StatusFailed, events[0].Status)
	require.NotNil(t, events[0].Failure)
	assert.True(t, events[0].Failure.Retryable)
}

func TestMultipleSubscribersSeeIdenticalEvents(t *testing.T) {
	mgr, pub := newTestPipeline(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, "conv-1", task.KindGenerate)
	require.NoError(t, err)

	ch1, cancel1, err := pub.Subscribe(ctx, created.ID)
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := pub.Subscribe(ctx, created.ID)
	require.NoError(t, err)
	defer cancel2()

	_, err = mgr.Start(ctx, created.ID)
	require.NoError(t, err)
	_, err = mgr.Complete(ctx, created.ID, "ver-2")
	require.NoError(t, err)

	a := drain(t, ch1, time.Second)
	b := drain(t, ch2, time.Second)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Status, b[i].Status)
		assert.Equal(t, a[i].Progress, b[i].Progress)
	}
}

func TestPollWorksWithZeroSubscribers(t *testing.T) {
	mgr, pub := newTestPipeline(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, "conv-1", task.KindGenerate)
	require.NoError(t, err)
	_, err = mgr.Start(ctx, created.ID)
	require.NoError(t, err)

	snap, err := pub.Poll(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, snap.Status)

	_, err = pub.Poll(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, task.ErrUnknownTask))
}

func TestSubscribeUnknownTask(t *testing.T) {
	_, pub := newTestPipeline(t)

	_, _, err := pub.Subscribe(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, task.ErrUnknownTask))
}

func TestCancelDetachesSubscriber(t *testing.T) {
	mgr, pub := newTestPipeline(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, "conv-1", task.KindGenerate)
	require.NoError(t, err)

	ch, cancel, err := pub.Subscribe(ctx, created.ID)
	require.NoError(t, err)
	<-ch // initial snapshot

	assert.Equal(t, 1, pub.Subscribers(created.ID))
	cancel()
	assert.Equal(t, 0, pub.Subscribers(created.ID))

	// Channel is closed on detach.
	_, ok := <-ch
	assert.False(t, ok)

	// Double-cancel is safe.
	cancel()
}

func TestMirrorReceivesSubjectEvents(t *testing.T) {
	mirror := &memMirror{}
	mgr, _ := newTestPipeline(t, WithMirror(mirror))
	ctx := context.Background()

	created, err := mgr.Create(ctx, "conv-1", task.KindGenerate)
	require.NoError(t, err)
	_, err = mgr.Start(ctx, created.ID)
	require.NoError(t, err)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	require.Len(t, mirror.subjects, 2)
	assert.Equal(t, Subject(created.ID), mirror.subjects[0])

	var snap task.Task
	require.NoError(t, json.Unmarshal(mirror.payloads[1], &snap))
	assert.Equal(t, task.StatusRunning, snap.Status)
	assert.Equal(t, created.ID, snap.ID)
}
