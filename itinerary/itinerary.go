// Package itinerary defines immutable itinerary versions and their durable
// store. Refinement never mutates a version: it produces a new one with a
// strictly increasing number that references its parent.
package itinerary

import (
	"time"

	"github.com/google/uuid"

	"github.com/tripstream/tripstream/provider"
	"github.com/tripstream/tripstream/task"
)

// Activity is one planned item within a day.
type Activity struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Category        string  `json:"category,omitempty"`
	StartTime       string  `json:"start_time,omitempty"`
	DurationMinutes int     `json:"duration_minutes,omitempty"`
	Location        string  `json:"location,omitempty"`
	EstimatedCost   float64 `json:"estimated_cost,omitempty"`
	Currency        string  `json:"currency,omitempty"`
	ImageURL        string  `json:"image_url,omitempty"`
}

// Day is one itinerary day. Its ID is stable across versions so replanning
// can address "day 3" and diff against the parent.
type Day struct {
	ID      string `json:"id"`
	Index   int    `json:"index"` // 1-based
	Date    string `json:"date"`
	Summary string `json:"summary,omitempty"`

	Activities []Activity `json:"activities"`

	Weather *provider.WeatherDay `json:"weather,omitempty"`
	// WeatherSynthesized marks estimated weather so the caller can badge it.
	WeatherSynthesized bool `json:"weather_synthesized,omitempty"`

	// TransitNotes annotate getting between the day's activities.
	TransitNotes []string `json:"transit_notes,omitempty"`
}

// Version is one immutable itinerary snapshot.
type Version struct {
	ID          string `json:"id"`
	ItineraryID string `json:"itinerary_id"`
	// Number is strictly increasing per itinerary.
	Number int `json:"number"`
	// ParentID references the version this one refined; empty for the first.
	ParentID       string `json:"parent_id,omitempty"`
	ConversationID string `json:"conversation_id"`

	Destination string `json:"destination"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`

	Summary            string  `json:"summary,omitempty"`
	TotalEstimatedCost float64 `json:"total_estimated_cost,omitempty"`
	Currency           string  `json:"currency,omitempty"`

	Days []Day `json:"days"`

	// Sources carries the synthesis flags inherited from the gather batch
	// that fed this version.
	Sources []task.SourceStatus `json:"sources,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewVersion allocates a version following parent. A nil parent starts a new
// itinerary at number 1.
func NewVersion(conversationID string, parent *Version) Version {
	v := Version{
		ID:             uuid.NewString(),
		Number:         1,
		ConversationID: conversationID,
		CreatedAt:      time.Now().UTC(),
	}
	if parent != nil {
		v.ItineraryID = parent.ItineraryID
		v.Number = parent.Number + 1
		v.ParentID = parent.ID
		v.Destination = parent.Destination
		v.StartDate = parent.StartDate
		v.EndDate = parent.EndDate
		v.Currency = parent.Currency
	} else {
		v.ItineraryID = uuid.NewString()
	}
	return v
}

// Degraded reports whether any source feeding this version was synthesized.
func (v Version) Degraded() bool {
	for _, s := range v.Sources {
		if s.State != task.SourceActive {
			return true
		}
	}
	return false
}

// DayByID returns the day with the given stable id.
func (v Version) DayByID(id string) (Day, bool) {
	for _, d := range v.Days {
		if d.ID == id {
			return d, true
		}
	}
	return Day{}, false
}

// DayByIndex returns the 1-based day.
func (v Version) DayByIndex(index int) (Day, bool) {
	for _, d := range v.Days {
		if d.Index == index {
			return d, true
		}
	}
	return Day{}, false
}
