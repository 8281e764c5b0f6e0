// Package conversation provides the per-conversation context store: the turn
// history and the slot set that carries facts (destination, dates, budget)
// across turns so refinement requests never re-ask for known information.
package conversation

import (
	"time"
)

// Slot names known to the engine. Extractors may only write these names;
// unknown names are dropped on merge.
const (
	SlotDestination  = "destination"
	SlotStartDate    = "start_date"
	SlotEndDate      = "end_date"
	SlotBudget       = "budget"
	SlotTravelerType = "traveler_type"
	SlotInterests    = "interests"
	SlotDurationDays = "duration_days"
)

// ConfidenceThreshold is the confidence above which a slot is considered
// settled: a later turn may only overwrite it with an extraction that
// explicitly targets the slot.
const ConfidenceThreshold = 0.7

// knownSlots is the closed set of slot names.
var knownSlots = map[string]bool{
	SlotDestination:  true,
	SlotStartDate:    true,
	SlotEndDate:      true,
	SlotBudget:       true,
	SlotTravelerType: true,
	SlotInterests:    true,
	SlotDurationDays: true,
}

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. TurnID is assigned by the client
// and used for deduplication: re-applying a known TurnID is a no-op.
type Turn struct {
	TurnID    string    `json:"turn_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Intent    string    `json:"intent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Slot is a named fact with provenance: which turn set it and how confident
// the extractor was.
type Slot struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	TurnIndex  int     `json:"turn_index"`
}

// Extraction is a slot value produced by intent extraction for one turn.
// Explicit marks extractions where the user directly addressed the slot
// ("change the budget to 30000") as opposed to values inferred in passing.
type Extraction struct {
	Name       string  `json:"name"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Explicit   bool    `json:"explicit"`
}

// Context is the full state of one conversation.
type Context struct {
	Key       string          `json:"key"`
	Turns     []Turn          `json:"turns"`
	Slots     map[string]Slot `json:"slots"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	// appliedTurns tracks turn IDs already merged, for idempotence under
	// duplicate delivery. Serialized so dedup survives restart.
	AppliedTurns map[string]bool `json:"applied_turns"`
}

// NewContext creates an empty context for the given key.
func NewContext(key string) *Context {
	now := time.Now().UTC()
	return &Context{
		Key:          key,
		Slots:        make(map[string]Slot),
		AppliedTurns: make(map[string]bool),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Applied reports whether a turn ID has already been merged.
func (c *Context) Applied(turnID string) bool {
	return c.AppliedTurns[turnID]
}

// Apply merges a turn and its extractions into the context. It returns false
// without modifying anything if the turn ID was already applied.
//
// Merge rule: a slot already set with confidence above ConfidenceThreshold is
// only overwritten by an extraction that explicitly targets it. Below the
// threshold, a higher-confidence extraction wins. Within one turn, the last
// extraction for a name wins (the extractor reports them in utterance order).
func (c *Context) Apply(turn Turn, extracted []Extraction) bool {
	if c.Applied(turn.TurnID) {
		return false
	}

	turnIndex := len(c.Turns)
	c.Turns = append(c.Turns, turn)
	c.AppliedTurns[turn.TurnID] = true

	for _, ext := range extracted {
		if !knownSlots[ext.Name] || ext.Value == "" {
			continue
		}

		existing, ok := c.Slots[ext.Name]
		if ok && existing.Confidence > ConfidenceThreshold && !ext.Explicit {
			// Settled slot; a vague follow-up must not silently lose it.
			continue
		}
		if ok && existing.TurnIndex != turnIndex && !ext.Explicit && ext.Confidence < existing.Confidence {
			continue
		}

		c.Slots[ext.Name] = Slot{
			Value:      ext.Value,
			Confidence: ext.Confidence,
			TurnIndex:  turnIndex,
		}
	}

	c.UpdatedAt = time.Now().UTC()
	return true
}

// SlotValue returns the value for a slot name, or "" if unset.
func (c *Context) SlotValue(name string) string {
	return c.Slots[name].Value
}

// HasSlot reports whether a slot is set.
func (c *Context) HasSlot(name string) bool {
	_, ok := c.Slots[name]
	return ok
}

// SlotMap returns a copy of the current slot values keyed by name.
func (c *Context) SlotMap() map[string]string {
	out := make(map[string]string, len(c.Slots))
	for name, slot := range c.Slots {
		out[name] = slot.Value
	}
	return out
}

// Clone returns a deep copy of the context. The store hands out clones so
// callers can never mutate shared state outside ApplyTurn.
func (c *Context) Clone() *Context {
	clone := &Context{
		Key:          c.Key,
		Turns:        make([]Turn, len(c.Turns)),
		Slots:        make(map[string]Slot, len(c.Slots)),
		AppliedTurns: make(map[string]bool, len(c.AppliedTurns)),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	copy(clone.Turns, c.Turns)
	for k, v := range c.Slots {
		clone.Slots[k] = v
	}
	for k, v := range c.AppliedTurns {
		clone.AppliedTurns[k] = v
	}
	return clone
}
