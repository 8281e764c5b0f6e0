// Package storage provides the NATS KV persistence seam shared by the
// tripstream stores (conversations, task snapshots, itinerary versions).
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Common storage errors.
var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")
	// ErrUnavailable wraps persistence faults. Always retryable.
	ErrUnavailable = errors.New("storage unavailable")
)

// Bucket is the subset of jetstream.KeyValue the stores depend on. Unit
// tests use storagetest.MemKV; production binds jetstream.KeyValue directly.
type Bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// GetOrCreateBucket binds to a KV bucket, creating it if it doesn't exist.
func GetOrCreateBucket(ctx context.Context, js jetstream.JetStream, name, description string, history uint8) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: description,
		History:     history,
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	return kv, nil
}

// IsNotFound checks if an error indicates a key was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		(err != nil && strings.Contains(err.Error(), "key not found"))
}
