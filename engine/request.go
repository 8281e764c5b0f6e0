package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tripstream/tripstream/conversation"
	"github.com/tripstream/tripstream/provider"
	"github.com/tripstream/tripstream/task"
)

const (
	// defaultTripDays is assumed when only a start date is known.
	defaultTripDays = 3
	// defaultLeadDays positions a duration-only trip in the future.
	defaultLeadDays = 30
	// maxTripDays bounds how long a single itinerary may run.
	maxTripDays = 30
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// buildRequest validates the conversation's slots into a provider request and
// a day count. Anything unresolvable is an invalid_request failure whose
// message doubles as the clarification question.
func buildRequest(slots map[string]conversation.Slot, now time.Time) (provider.Request, int, error) {
	value := func(name string) string { return strings.TrimSpace(slots[name].Value) }

	destination := value(conversation.SlotDestination)
	if destination == "" {
		return provider.Request{}, 0, task.NewFailure(task.CodeInvalidRequest,
			"no destination yet; where should the trip go?")
	}

	duration := 0
	if raw := value(conversation.SlotDurationDays); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			duration = n
		}
	}

	var start, end time.Time
	if raw := value(conversation.SlotStartDate); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			return provider.Request{}, 0, task.NewFailure(task.CodeInvalidRequest,
				fmt.Sprintf("could not understand the start date %q; when does the trip begin?", raw))
		}
		start = parsed
	}
	if raw := value(conversation.SlotEndDate); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			return provider.Request{}, 0, task.NewFailure(task.CodeInvalidRequest,
				fmt.Sprintf("could not understand the end date %q; when does the trip end?", raw))
		}
		end = parsed
	}

	switch {
	case !start.IsZero() && !end.IsZero():
	case !start.IsZero() && duration > 0:
		end = start.AddDate(0, 0, duration-1)
	case !start.IsZero():
		end = start.AddDate(0, 0, defaultTripDays-1)
	case duration > 0:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, defaultLeadDays)
		end = start.AddDate(0, 0, duration-1)
	default:
		return provider.Request{}, 0, task.NewFailure(task.CodeInvalidRequest,
			"no travel dates yet; when is the trip, or how many days should it run?")
	}

	if end.Before(start) {
		return provider.Request{}, 0, task.NewFailure(task.CodeInvalidRequest,
			"the end date is before the start date; which dates are intended?")
	}
	days := int(end.Sub(start).Hours()/24) + 1
	if days > maxTripDays {
		return provider.Request{}, 0, task.NewFailure(task.CodeInvalidRequest,
			fmt.Sprintf("trips longer than %d days are not supported; can the trip be shorter?", maxTripDays))
	}

	req := provider.Request{
		Destination: destination,
		StartDate:   start,
		EndDate:     end,
		Currency:    "USD",
		Travelers:   travelersFor(value(conversation.SlotTravelerType)),
	}
	if raw := value(conversation.SlotBudget); raw != "" {
		req.Budget = parseBudget(raw)
	}
	if raw := value(conversation.SlotInterests); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				req.Interests = append(req.Interests, part)
			}
		}
	}
	return req, days, nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// parseBudget tolerates currency symbols and thousands separators.
func parseBudget(raw string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '.' {
			return r
		}
		return -1
	}, raw)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}

func travelersFor(travelerType string) int {
	switch strings.ToLower(travelerType) {
	case "solo":
		return 1
	case "family":
		return 4
	case "friends", "group":
		return 3
	default:
		// couple, business, unset
		return 2
	}
}
