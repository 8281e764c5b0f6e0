package itinerary

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripstream/tripstream/provider"
	"github.com/tripstream/tripstream/storage"
	"github.com/tripstream/tripstream/storage/storagetest"
	"github.com/tripstream/tripstream/task"
)

func sampleVersion() Version {
	v := NewVersion("conv-1", nil)
	v.Destination = "Lisbon"
	v.StartDate = "2026-05-01"
	v.EndDate = "2026-05-04"
	v.Days = []Day{
		{ID: "day-1", Index: 1, Date: "2026-05-01", Activities: []Activity{{ID: "act-1", Name: "Alfama walk"}}},
		{ID: "day-2", Index: 2, Date: "2026-05-02", Activities: []Activity{{ID: "act-2", Name: "Belem tower"}}},
	}
	v.Sources = []task.SourceStatus{
		{Source: provider.SourceWeather, State: task.SourceActive},
		{Source: provider.SourceFlights, State: task.SourceDegraded, Reason: provider.ReasonTimeout},
	}
	return v
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := NewStore(storagetest.NewMemKV())
	ctx := context.Background()
	v := sampleVersion()

	require.NoError(t, store.Save(ctx, v))

	got, err := store.Load(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, 1, got.Number)
	assert.Len(t, got.Days, 2)
	assert.True(t, got.Degraded())
}

func TestVersionsAreImmutable(t *testing.T) {
	store := NewStore(storagetest.NewMemKV())
	ctx := context.Background()
	v := sampleVersion()

	require.NoError(t, store.Save(ctx, v))

	v.Summary = "rewritten"
	err := store.Save(ctx, v)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionExists))
}

func TestVersionNumbersStrictlyIncrease(t *testing.T) {
	store := NewStore(storagetest.NewMemKV())
	ctx := context.Background()

	v1 := sampleVersion()
	require.NoError(t, store.Save(ctx, v1))

	v2 := NewVersion("conv-1", &v1)
	assert.Equal(t, 2, v2.Number)
	assert.Equal(t, v1.ID, v2.ParentID)
	assert.Equal(t, v1.ItineraryID, v2.ItineraryID)
	require.NoError(t, store.Save(ctx, v2))

	// A second refinement of v1 races v2 and loses.
	stale := NewVersion("conv-1", &v1)
	err := store.Save(ctx, stale)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleParent))

	latest, err := store.Latest(ctx, v1.ItineraryID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, latest.ID)
}

func TestLatestForConversation(t *testing.T) {
	store := NewStore(storagetest.NewMemKV())
	ctx := context.Background()

	v1 := sampleVersion()
	require.NoError(t, store.Save(ctx, v1))

	v2 := NewVersion("conv-1", &v1)
	require.NoError(t, store.Save(ctx, v2))

	latest, err := store.LatestForConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, latest.ID)

	_, err = store.LatestForConversation(ctx, "conv-other")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestLatestUnknownItinerary(t *testing.T) {
	store := NewStore(storagetest.NewMemKV())

	_, err := store.Latest(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestNewVersionInheritsTripShape(t *testing.T) {
	v1 := sampleVersion()
	v2 := NewVersion("conv-1", &v1)

	assert.Equal(t, "Lisbon", v2.Destination)
	assert.Equal(t, "2026-05-01", v2.StartDate)
	assert.Equal(t, "2026-05-04", v2.EndDate)
	assert.Empty(t, v2.Days)
}

func TestDayLookups(t *testing.T) {
	v := sampleVersion()

	day, ok := v.DayByID("day-2")
	require.True(t, ok)
	assert.Equal(t, 2, day.Index)

	day, ok = v.DayByIndex(1)
	require.True(t, ok)
	assert.Equal(t, "day-1", day.ID)

	_, ok = v.DayByIndex(9)
	assert.False(t, ok)
}
