package itinerary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tripstream/tripstream/storage"
)

// BucketItineraries is the KV bucket holding itinerary versions.
const BucketItineraries = "TRIPSTREAM_ITINERARIES"

// ErrVersionExists is returned when a save would overwrite an existing
// version. Versions are immutable; refinement creates a new one.
var ErrVersionExists = errors.New("itinerary version already exists")

// ErrStaleParent is returned when a save's version number is not an advance
// over the itinerary's current latest, which means the caller refined a
// superseded version.
var ErrStaleParent = errors.New("itinerary version is stale")

// latestKey is the per-itinerary pointer to the newest version id.
func latestKey(itineraryID string) string {
	return "latest." + itineraryID
}

// versionKey is the storage key for one version.
func versionKey(versionID string) string {
	return "version." + versionID
}

// conversationKey links a conversation to the itinerary it is refining.
func conversationKey(conversationID string) string {
	return "conversation." + conversationID
}

// Store persists immutable itinerary versions.
type Store struct {
	kv storage.Bucket
}

// NewStore creates an itinerary store over the given bucket.
func NewStore(kv storage.Bucket) *Store {
	return &Store{kv: kv}
}

// NewBucket creates (or binds to) the itineraries KV bucket.
func NewBucket(ctx context.Context, js jetstream.JetStream) (jetstream.KeyValue, error) {
	return storage.GetOrCreateBucket(ctx, js, BucketItineraries, "tripstream itinerary versions", 1)
}

// Save persists a new version and moves the itinerary's latest pointer. It
// refuses to overwrite an existing version id and refuses version numbers
// that do not strictly advance the itinerary.
func (s *Store) Save(ctx context.Context, v Version) error {
	if _, err := s.kv.Get(ctx, versionKey(v.ID)); err == nil {
		return fmt.Errorf("%w: %s", ErrVersionExists, v.ID)
	} else if !storage.IsNotFound(err) {
		return fmt.Errorf("%w: check version: %v", storage.ErrUnavailable, err)
	}

	latest, err := s.Latest(ctx, v.ItineraryID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err == nil && v.Number <= latest.Number {
		return fmt.Errorf("%w: version %d does not advance latest %d", ErrStaleParent, v.Number, latest.Number)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal version: %w", err)
	}
	if _, err := s.kv.Put(ctx, versionKey(v.ID), data); err != nil {
		return fmt.Errorf("%w: put version: %v", storage.ErrUnavailable, err)
	}
	if _, err := s.kv.Put(ctx, latestKey(v.ItineraryID), []byte(v.ID)); err != nil {
		return fmt.Errorf("%w: put latest pointer: %v", storage.ErrUnavailable, err)
	}
	if v.ConversationID != "" {
		if _, err := s.kv.Put(ctx, conversationKey(v.ConversationID), []byte(v.ItineraryID)); err != nil {
			return fmt.Errorf("%w: put conversation link: %v", storage.ErrUnavailable, err)
		}
	}
	return nil
}

// LatestForConversation returns the newest version of the itinerary a
// conversation has been building, or storage.ErrNotFound when the
// conversation has not produced one yet.
func (s *Store) LatestForConversation(ctx context.Context, conversationID string) (Version, error) {
	entry, err := s.kv.Get(ctx, conversationKey(conversationID))
	if err != nil {
		if storage.IsNotFound(err) {
			return Version{}, fmt.Errorf("%w: conversation %s", storage.ErrNotFound, conversationID)
		}
		return Version{}, fmt.Errorf("%w: get conversation link: %v", storage.ErrUnavailable, err)
	}
	return s.Latest(ctx, string(entry.Value()))
}

// Load returns one version by id, or storage.ErrNotFound.
func (s *Store) Load(ctx context.Context, versionID string) (Version, error) {
	entry, err := s.kv.Get(ctx, versionKey(versionID))
	if err != nil {
		if storage.IsNotFound(err) {
			return Version{}, fmt.Errorf("%w: version %s", storage.ErrNotFound, versionID)
		}
		return Version{}, fmt.Errorf("%w: get version: %v", storage.ErrUnavailable, err)
	}

	var v Version
	if err := json.Unmarshal(entry.Value(), &v); err != nil {
		return Version{}, fmt.Errorf("unmarshal version: %w", err)
	}
	return v, nil
}

// Latest returns the newest version of an itinerary, or storage.ErrNotFound.
func (s *Store) Latest(ctx context.Context, itineraryID string) (Version, error) {
	entry, err := s.kv.Get(ctx, latestKey(itineraryID))
	if err != nil {
		if storage.IsNotFound(err) {
			return Version{}, fmt.Errorf("%w: itinerary %s", storage.ErrNotFound, itineraryID)
		}
		return Version{}, fmt.Errorf("%w: get latest pointer: %v", storage.ErrUnavailable, err)
	}
	return s.Load(ctx, string(entry.Value()))
}
