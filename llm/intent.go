package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tripstream/tripstream/conversation"
)

// Completer is the completion seam the extraction and composition layers
// depend on. *Client implements it.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// Intent labels what a turn is asking for.
const (
	IntentPlanTrip   = "plan_trip"
	IntentRefinePlan = "refine_plan"
	IntentGeneral    = "general"
)

// IntentResult is the structured outcome of extracting one user turn.
type IntentResult struct {
	Intent      string
	Extractions []conversation.Extraction
}

// IntentExtractor turns free-form user text into an intent label plus slot
// extractions with confidence and explicitness.
type IntentExtractor struct {
	client Completer
	logger *slog.Logger
	now    func() time.Time
}

// NewIntentExtractor creates an extractor over client.
func NewIntentExtractor(client Completer, logger *slog.Logger) *IntentExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentExtractor{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

const intentSystemPrompt = `You extract travel-planning intent from user messages.
Respond with only a JSON object:
{
  "intent": "plan_trip" | "refine_plan" | "general",
  "slots": [
    {"name": "<slot>", "value": "<string value>", "confidence": 0.0-1.0, "explicit": true|false}
  ]
}
Valid slot names: destination, start_date, end_date, budget, traveler_type, interests, duration_days.
Dates must be absolute YYYY-MM-DD; resolve relative expressions like "next weekend" against today's date given in the message.
budget is a plain number, interests a comma-separated list, duration_days a number of days.
Mark "explicit" true only when the user directly states or changes that slot.
Do not invent slots the user never mentioned.`

// Extract analyzes one user turn given the already-known slot values.
func (e *IntentExtractor) Extract(ctx context.Context, text string, known map[string]string) (IntentResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Today is %s.\n", e.now().UTC().Format("2006-01-02"))
	if len(known) > 0 {
		knownJSON, _ := json.Marshal(known)
		fmt.Fprintf(&sb, "Slots already known from earlier turns: %s\n", knownJSON)
	}
	fmt.Fprintf(&sb, "User message: %s", text)

	resp, err := e.client.Complete(ctx, []Message{
		{Role: "system", Content: intentSystemPrompt},
		{Role: "user", Content: sb.String()},
	})
	if err != nil {
		return IntentResult{}, fmt.Errorf("intent extraction: %w", err)
	}

	raw := ExtractJSON(resp.Content)
	if raw == "" {
		return IntentResult{}, fmt.Errorf("intent extraction: no JSON in response")
	}

	var wire struct {
		Intent string `json:"intent"`
		Slots  []struct {
			Name       string          `json:"name"`
			Value      json.RawMessage `json:"value"`
			Confidence float64         `json:"confidence"`
			Explicit   bool            `json:"explicit"`
		} `json:"slots"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return IntentResult{}, fmt.Errorf("intent extraction: parse response: %w", err)
	}

	result := IntentResult{Intent: normalizeIntent(wire.Intent)}
	for _, slot := range wire.Slots {
		value := rawToString(slot.Value)
		if value == "" {
			continue
		}
		result.Extractions = append(result.Extractions, conversation.Extraction{
			Name:       slot.Name,
			Value:      value,
			Confidence: clamp01(slot.Confidence),
			Explicit:   slot.Explicit,
		})
	}

	e.logger.Debug("Extracted intent",
		"intent", result.Intent,
		"slots", len(result.Extractions))
	return result, nil
}

func normalizeIntent(intent string) string {
	switch strings.ToLower(strings.TrimSpace(intent)) {
	case IntentPlanTrip:
		return IntentPlanTrip
	case IntentRefinePlan:
		return IntentRefinePlan
	default:
		return IntentGeneral
	}
}

// rawToString accepts string or numeric slot values; models alternate
// between "20000" and 20000 for budgets.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
