package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tripstream/tripstream/storage"
)

// BucketTasks is the KV bucket holding task snapshots.
const BucketTasks = "TRIPSTREAM_TASKS"

// Store persists task snapshots. It is the durable side of the progress
// contract: poll reads the latest snapshot from here even with zero
// subscribers attached.
type Store struct {
	kv storage.Bucket
}

// NewStore creates a task store over the given bucket.
func NewStore(kv storage.Bucket) *Store {
	return &Store{kv: kv}
}

// NewBucket creates (or binds to) the tasks KV bucket.
func NewBucket(ctx context.Context, js jetstream.JetStream) (jetstream.KeyValue, error) {
	return storage.GetOrCreateBucket(ctx, js, BucketTasks, "tripstream generation task snapshots", 1)
}

// Save persists one snapshot.
func (s *Store) Save(ctx context.Context, t Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if _, err := s.kv.Put(ctx, t.ID, data); err != nil {
		return fmt.Errorf("%w: put task: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// Load returns the snapshot for id, or ErrUnknownTask.
func (s *Store) Load(ctx context.Context, id string) (Task, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return Task{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
		}
		return Task{}, fmt.Errorf("%w: get task: %v", storage.ErrUnavailable, err)
	}

	var t Task
	if err := json.Unmarshal(entry.Value(), &t); err != nil {
		return Task{}, fmt.Errorf("unmarshal task: %w", err)
	}
	return t, nil
}

// List returns every stored snapshot. Used by the stale sweeper.
func (s *Store) List(ctx context.Context) ([]Task, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list tasks: %v", storage.ErrUnavailable, err)
	}

	out := make([]Task, 0, len(keys))
	for _, key := range keys {
		t, err := s.Load(ctx, key)
		if err != nil {
			// A snapshot deleted between Keys and Load is not a fault.
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
