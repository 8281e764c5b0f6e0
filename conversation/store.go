package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tripstream/tripstream/storage"
)

// BucketConversations is the KV bucket holding conversation contexts.
const BucketConversations = "TRIPSTREAM_CONVERSATIONS"

// Store persists conversation contexts in a KV bucket. ApplyTurn is
// serialized per conversation key; unrelated conversations proceed in
// parallel.
type Store struct {
	kv     storage.Bucket
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a conversation store over the given bucket.
func NewStore(kv storage.Bucket, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:     kv,
		logger: logger,
		locks:  map[string]*sync.Mutex{},
	}
}

// NewBucket creates (or binds to) the conversations KV bucket.
func NewBucket(ctx context.Context, js jetstream.JetStream) (jetstream.KeyValue, error) {
	return storage.GetOrCreateBucket(ctx, js, BucketConversations, "tripstream conversation contexts", 5)
}

// keyLock returns the mutex guarding one conversation key.
func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// GetOrCreate loads the context for a key, creating an empty one if none
// exists. The new context is persisted immediately so the key is stable.
func (s *Store) GetOrCreate(ctx context.Context, key string) (*Context, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.load(ctx, key)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	conv = NewContext(key)
	if err := s.save(ctx, conv); err != nil {
		return nil, err
	}
	s.logger.Debug("Created conversation", "key", key)
	return conv, nil
}

// Get loads the context for a key. Returns storage.ErrNotFound if it does
// not exist.
func (s *Store) Get(ctx context.Context, key string) (*Context, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	return s.load(ctx, key)
}

// ApplyTurn merges a turn and its extracted slots into the context under the
// per-key lock, persisting the result before returning. Re-applying a turn ID
// that was already merged returns the unchanged context. A persistence fault
// blocks the turn: the error surfaces and no slot data is dropped silently.
func (s *Store) ApplyTurn(ctx context.Context, key string, turn Turn, extracted []Extraction) (*Context, error) {
	if turn.TurnID == "" {
		return nil, fmt.Errorf("turn_id is required")
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.load(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		conv = NewContext(key)
	} else if err != nil {
		return nil, err
	}

	if !conv.Apply(turn, extracted) {
		s.logger.Debug("Duplicate turn ignored", "key", key, "turn_id", turn.TurnID)
		return conv, nil
	}

	if err := s.save(ctx, conv); err != nil {
		return nil, err
	}

	s.logger.Debug("Applied turn",
		"key", key,
		"turn_id", turn.TurnID,
		"slots", len(conv.Slots))

	return conv, nil
}

// Slots returns the current slot mapping for a key. A missing conversation
// yields an empty map, not an error: the first turn has no prior slots.
func (s *Store) Slots(ctx context.Context, key string) (map[string]Slot, error) {
	conv, err := s.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]Slot{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]Slot, len(conv.Slots))
	for name, slot := range conv.Slots {
		out[name] = slot
	}
	return out, nil
}

func (s *Store) load(ctx context.Context, key string) (*Context, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get conversation: %v", storage.ErrUnavailable, err)
	}

	var conv Context
	if err := json.Unmarshal(entry.Value(), &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	if conv.Slots == nil {
		conv.Slots = map[string]Slot{}
	}
	if conv.AppliedTurns == nil {
		conv.AppliedTurns = map[string]bool{}
	}
	return &conv, nil
}

func (s *Store) save(ctx context.Context, conv *Context) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if _, err := s.kv.Put(ctx, conv.Key, data); err != nil {
		return fmt.Errorf("%w: put conversation: %v", storage.ErrUnavailable, err)
	}
	return nil
}
