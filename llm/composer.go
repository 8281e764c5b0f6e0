package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tripstream/tripstream/gather"
	"github.com/tripstream/tripstream/provider"
)

// maxGuidePromptChars caps how much destination guide text goes into the
// composition prompt.
const maxGuidePromptChars = 4000

// PlanActivity is one activity in a composed plan.
type PlanActivity struct {
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Category        string  `json:"category,omitempty"`
	StartTime       string  `json:"start_time,omitempty"`
	DurationMinutes int     `json:"duration_minutes,omitempty"`
	Location        string  `json:"location,omitempty"`
	EstimatedCost   float64 `json:"estimated_cost,omitempty"`
}

// PlanDay is one composed day.
type PlanDay struct {
	Day        int            `json:"day"` // 1-based
	Date       string         `json:"date,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Activities []PlanActivity `json:"activities"`
}

// Plan is the structured output of plan composition.
type Plan struct {
	Summary            string    `json:"summary,omitempty"`
	Currency           string    `json:"currency,omitempty"`
	TotalEstimatedCost float64   `json:"total_estimated_cost,omitempty"`
	Days               []PlanDay `json:"days"`
}

// Composer turns gathered provider data plus conversation slots into a
// day-by-day plan via the LLM.
type Composer struct {
	client Completer
	logger *slog.Logger
}

// NewComposer creates a composer over client.
func NewComposer(client Completer, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{client: client, logger: logger}
}

const composeSystemPrompt = `You are a travel planner. Compose a realistic day-by-day itinerary from the provided data.
Respond with only a JSON object:
{
  "summary": "<one paragraph trip summary>",
  "currency": "<currency code>",
  "total_estimated_cost": <number>,
  "days": [
    {"day": 1, "date": "YYYY-MM-DD", "summary": "<day theme>", "activities": [
      {"name": "...", "description": "...", "category": "...", "start_time": "HH:MM", "duration_minutes": <number>, "location": "...", "estimated_cost": <number>}
    ]}
  ]
}
Ground activities in the provided data where possible. Data entries marked "synthesized" are estimates; treat them as rough guidance, not facts.
Every day needs at least two activities. Respect the stated budget and interests.`

// Compose builds a full plan covering days sequential days.
func (c *Composer) Compose(ctx context.Context, slots map[string]string, days int, gathered gather.Result) (*Plan, error) {
	if days < 1 {
		days = 1
	}

	var sb strings.Builder
	slotsJSON, _ := json.Marshal(slots)
	fmt.Fprintf(&sb, "Trip parameters: %s\n", slotsJSON)
	fmt.Fprintf(&sb, "Plan exactly %d days.\n", days)
	fmt.Fprintf(&sb, "Gathered data:\n%s", renderGathered(gathered))

	plan, err := c.complete(ctx, sb.String())
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Composed plan", "days", len(plan.Days))
	return plan, nil
}

// Revise composes replacement content for specific days of an existing plan.
// parentJSON is the serialized parent itinerary; only the listed day numbers
// are recomposed.
func (c *Composer) Revise(ctx context.Context, parentJSON []byte, modification string, days []int, gathered gather.Result) (*Plan, error) {
	if len(days) == 0 {
		return nil, fmt.Errorf("revise: no days in scope")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Existing itinerary: %s\n", parentJSON)
	fmt.Fprintf(&sb, "Requested change: %s\n", modification)
	fmt.Fprintf(&sb, "Recompose only days %s; return a days array containing exactly those day numbers. Keep everything about the trip consistent with the existing itinerary.\n", joinInts(days))
	fmt.Fprintf(&sb, "Gathered data:\n%s", renderGathered(gathered))

	plan, err := c.complete(ctx, sb.String())
	if err != nil {
		return nil, err
	}

	// Drop any days the model recomposed outside the requested scope.
	inScope := make(map[int]bool, len(days))
	for _, d := range days {
		inScope[d] = true
	}
	kept := plan.Days[:0]
	for _, d := range plan.Days {
		if inScope[d.Day] {
			kept = append(kept, d)
		}
	}
	plan.Days = kept
	if len(plan.Days) == 0 {
		return nil, fmt.Errorf("revise: response contained no in-scope days")
	}
	return plan, nil
}

func (c *Composer) complete(ctx context.Context, userPrompt string) (*Plan, error) {
	resp, err := c.client.Complete(ctx, []Message{
		{Role: "system", Content: composeSystemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return nil, fmt.Errorf("plan composition: %w", err)
	}

	raw := ExtractJSON(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("plan composition: no JSON in response")
	}

	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("plan composition: parse response: %w", err)
	}
	if len(plan.Days) == 0 {
		return nil, fmt.Errorf("plan composition: response contained no days")
	}
	return &plan, nil
}

// renderGathered serializes the batch for the prompt, labeling synthesized
// entries and truncating guide text.
func renderGathered(gathered gather.Result) string {
	var sb strings.Builder
	for _, source := range provider.AllSources() {
		entry, ok := gathered.Entries[source]
		if !ok {
			continue
		}

		payload := entry.Payload
		if guide, ok := payload.(provider.GuideContent); ok && len(guide.Markdown) > maxGuidePromptChars {
			guide.Markdown = guide.Markdown[:maxGuidePromptChars]
			payload = guide
		}

		data, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		label := ""
		if entry.Synthesized {
			label = fmt.Sprintf(" (synthesized: %s)", entry.FallbackReason)
		}
		fmt.Fprintf(&sb, "%s%s: %s\n", source, label, data)
	}
	return sb.String()
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}
