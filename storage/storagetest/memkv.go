// Package storagetest provides in-memory implementations of the storage
// seams for unit tests.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// MemKV is a thread-safe in-memory storage.Bucket. When FailPuts or
// FailGets is set, operations return that error, for exercising
// storage-unavailable paths.
type MemKV struct {
	mu       sync.Mutex
	data     map[string][]byte
	revision uint64

	FailPuts error
	FailGets error
}

// NewMemKV creates an empty in-memory bucket.
func NewMemKV() *MemKV {
	return &MemKV{data: map[string][]byte{}}
}

// Get implements storage.Bucket.
func (m *MemKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGets != nil {
		return nil, m.FailGets
	}
	value, ok := m.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return &memEntry{key: key, value: cp, revision: m.revision}, nil
}

// Put implements storage.Bucket.
func (m *MemKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPuts != nil {
		return 0, m.FailPuts
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	m.revision++
	return m.revision, nil
}

// Keys implements storage.Bucket.
func (m *MemKV) Keys(_ context.Context, _ ...jetstream.WatchOpt) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGets != nil {
		return nil, m.FailGets
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// Len returns the number of stored keys.
func (m *MemKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// memEntry implements jetstream.KeyValueEntry over a stored value.
type memEntry struct {
	key      string
	value    []byte
	revision uint64
}

func (e *memEntry) Bucket() string                    { return "mem" }
func (e *memEntry) Key() string                       { return e.key }
func (e *memEntry) Value() []byte                     { return e.value }
func (e *memEntry) Revision() uint64                  { return e.revision }
func (e *memEntry) Created() time.Time                { return time.Time{} }
func (e *memEntry) Delta() uint64                     { return 0 }
func (e *memEntry) Operation() jetstream.KeyValueOp   { return jetstream.KeyValuePut }
