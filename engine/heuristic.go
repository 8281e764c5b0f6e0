package engine

import (
	"regexp"
	"strings"

	"github.com/tripstream/tripstream/conversation"
	"github.com/tripstream/tripstream/llm"
)

// Heuristic extraction is the degraded path when the LLM extractor is down.
// It is deliberately conservative: obvious patterns only, and nothing it
// emits is confident enough to overwrite a settled slot unless the pattern is
// unambiguous (ISO dates, "N days", an explicit budget figure).

var (
	isoDatePattern  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	durationPattern = regexp.MustCompile(`\b(\d{1,2})[\s-]*days?\b`)
	budgetPattern   = regexp.MustCompile(`(?:budget|under|around|about|for)\s*(?:of\s*)?\$?(\d[\d,]{2,8})|\$(\d[\d,]{2,8})`)
	// destination: a capitalized word or pair after a travel preposition.
	destinationPattern = regexp.MustCompile(`(?:to|in|visit|visiting)\s+([A-Z][a-zA-Z]+(?:\s[A-Z][a-zA-Z]+)?)`)
)

var (
	refineSignals = []string{"instead", "swap", "replace", "change", "rather", "cheaper hotel", "different hotel", "move the trip", "make day", "redo"}
	planSignals   = []string{"plan", "trip", "itinerary", "visit", "travel", "vacation", "holiday", "getaway"}
)

func heuristicExtract(text string) llm.IntentResult {
	lower := strings.ToLower(text)

	result := llm.IntentResult{Intent: llm.IntentGeneral}
	switch {
	case containsAny(lower, refineSignals):
		result.Intent = llm.IntentRefinePlan
	case containsAny(lower, planSignals):
		result.Intent = llm.IntentPlanTrip
	}

	if dates := isoDatePattern.FindAllString(text, 2); len(dates) > 0 {
		result.Extractions = append(result.Extractions, conversation.Extraction{
			Name: conversation.SlotStartDate, Value: dates[0], Confidence: 0.9, Explicit: true,
		})
		if len(dates) > 1 {
			result.Extractions = append(result.Extractions, conversation.Extraction{
				Name: conversation.SlotEndDate, Value: dates[1], Confidence: 0.9, Explicit: true,
			})
		}
	}

	if m := durationPattern.FindStringSubmatch(lower); m != nil {
		result.Extractions = append(result.Extractions, conversation.Extraction{
			Name: conversation.SlotDurationDays, Value: m[1], Confidence: 0.8, Explicit: true,
		})
	} else if strings.Contains(lower, "a week") {
		result.Extractions = append(result.Extractions, conversation.Extraction{
			Name: conversation.SlotDurationDays, Value: "7", Confidence: 0.75, Explicit: false,
		})
	} else if strings.Contains(lower, "weekend") {
		result.Extractions = append(result.Extractions, conversation.Extraction{
			Name: conversation.SlotDurationDays, Value: "3", Confidence: 0.75, Explicit: false,
		})
	}

	if m := budgetPattern.FindStringSubmatch(lower); m != nil {
		value := m[1]
		if value == "" {
			value = m[2]
		}
		result.Extractions = append(result.Extractions, conversation.Extraction{
			Name:       conversation.SlotBudget,
			Value:      strings.ReplaceAll(value, ",", ""),
			Confidence: 0.8,
			Explicit:   true,
		})
	}

	if m := destinationPattern.FindStringSubmatch(text); m != nil {
		result.Extractions = append(result.Extractions, conversation.Extraction{
			Name: conversation.SlotDestination, Value: m[1], Confidence: 0.6, Explicit: false,
		})
	}

	return result
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
