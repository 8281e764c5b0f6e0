// Package replan maps a modification request onto the minimal slice of an
// existing itinerary: which days must be recomposed and which provider
// sources are worth re-fetching. Untouched days are carried into the new
// version unchanged, keeping their original synthesis flags.
package replan

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tripstream/tripstream/itinerary"
	"github.com/tripstream/tripstream/provider"
	"github.com/tripstream/tripstream/task"
)

// Scope is the computed blast radius of one modification.
type Scope struct {
	// Days are the 1-based day numbers to recompose, sorted ascending.
	Days []int
	// Sources are the providers worth re-fetching for this change. A swap
	// of one activity does not re-fetch flights.
	Sources []provider.Source
	// Reason summarizes how the scope was derived, for logging.
	Reason string
}

// AllDays reports whether the scope covers the whole itinerary.
func (s Scope) AllDays(parent itinerary.Version) bool {
	return len(s.Days) == len(parent.Days)
}

var (
	dayRangePattern = regexp.MustCompile(`(?i)\bdays?\s+(\d+)\s*(?:-|–|to|through)\s*(\d+)\b`)
	dayPattern      = regexp.MustCompile(`(?i)\bday\s+(\d+)\b`)
	wholeTripWords  = regexp.MustCompile(`(?i)\b(whole|entire|all|everything|start over|redo the trip)\b`)
)

// ordinalDays maps spelled-out ordinals to day numbers.
var ordinalDays = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4,
	"fifth": 5, "sixth": 6, "seventh": 7, "eighth": 8,
}

// keywords whose presence widens source relevance.
var (
	hotelWords  = []string{"hotel", "accommodation", "stay somewhere", "guesthouse", "hostel", "resort"}
	flightWords = []string{"flight", "fly", "airline", "airport transfer from home", "plane"}
	dateWords   = []string{"date", "postpone", "move the trip", "reschedule", "a week later", "earlier"}
)

// ComputeScope resolves a modification against the parent version. A request
// that cannot be mapped to specific days or a trip-wide concern fails with
// AmbiguousModification, which the caller surfaces as a clarification signal.
func ComputeScope(parent itinerary.Version, modification string) (Scope, error) {
	text := strings.ToLower(strings.TrimSpace(modification))
	if text == "" {
		return Scope{}, task.NewFailure(task.CodeAmbiguousModification, "modification request is empty")
	}
	if len(parent.Days) == 0 {
		return Scope{}, task.NewFailure(task.CodeAmbiguousModification, "parent itinerary has no days to modify")
	}

	// Trip-wide signals first: date shifts and full redos touch everything.
	if containsAny(text, dateWords) {
		return Scope{
			Days:    allDayNumbers(parent),
			Sources: provider.AllSources(),
			Reason:  "date change affects the whole trip",
		}, nil
	}
	if wholeTripWords.MatchString(text) {
		return Scope{
			Days:    allDayNumbers(parent),
			Sources: dayScopedSources(),
			Reason:  "whole-trip rework requested",
		}, nil
	}

	days := referencedDays(parent, text)

	// Accommodation and flight changes are trip-level concerns even when no
	// day is named.
	if containsAny(text, hotelWords) {
		scope := Scope{
			Days:    days,
			Sources: []provider.Source{provider.SourceHotels},
			Reason:  "accommodation change",
		}
		if len(scope.Days) == 0 {
			scope.Days = allDayNumbers(parent)
		}
		return scope, nil
	}
	if containsAny(text, flightWords) {
		scope := Scope{
			Days:    days,
			Sources: []provider.Source{provider.SourceFlights},
			Reason:  "flight change",
		}
		if len(scope.Days) == 0 {
			// Flights touch the arrival and departure days.
			scope.Days = []int{1, len(parent.Days)}
			if len(parent.Days) == 1 {
				scope.Days = []int{1}
			}
		}
		return scope, nil
	}

	if len(days) == 0 {
		// Last resort: an activity named in the request pins its day.
		days = daysByActivityMention(parent, text)
	}
	if len(days) == 0 {
		return Scope{}, task.NewFailure(task.CodeAmbiguousModification,
			"could not map the request to specific days or activities; ask which day to change")
	}

	return Scope{
		Days:    days,
		Sources: dayScopedSources(),
		Reason:  fmt.Sprintf("day-level change: %v", days),
	}, nil
}

// ApplyRevision assembles the new version's day list: in-scope days are
// replaced by their revision, every other day is the parent's day value
// unchanged (same activities, same synthesis flags).
func ApplyRevision(parent itinerary.Version, scope Scope, revised map[int]itinerary.Day) []itinerary.Day {
	inScope := make(map[int]bool, len(scope.Days))
	for _, d := range scope.Days {
		inScope[d] = true
	}

	out := make([]itinerary.Day, 0, len(parent.Days))
	for _, day := range parent.Days {
		if inScope[day.Index] {
			if replacement, ok := revised[day.Index]; ok {
				replacement.ID = day.ID
				replacement.Index = day.Index
				if replacement.Date == "" {
					replacement.Date = day.Date
				}
				out = append(out, replacement)
				continue
			}
		}
		out = append(out, day)
	}
	return out
}

// referencedDays collects day numbers the text names directly, dropping ones
// outside the itinerary.
func referencedDays(parent itinerary.Version, text string) []int {
	seen := map[int]bool{}

	for _, m := range dayRangePattern.FindAllStringSubmatch(text, -1) {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		for d := lo; d <= hi; d++ {
			seen[d] = true
		}
	}
	stripped := dayRangePattern.ReplaceAllString(text, "")
	for _, m := range dayPattern.FindAllStringSubmatch(stripped, -1) {
		d, _ := strconv.Atoi(m[1])
		seen[d] = true
	}
	for word, d := range ordinalDays {
		if strings.Contains(text, word+" day") || strings.Contains(text, "the "+word) {
			seen[d] = true
		}
	}
	if strings.Contains(text, "last day") {
		seen[len(parent.Days)] = true
	}

	var out []int
	for d := range seen {
		if _, ok := parent.DayByIndex(d); ok {
			out = append(out, d)
		}
	}
	sort.Ints(out)
	return out
}

// daysByActivityMention matches activity names from the parent against the
// text. Short names are skipped to avoid false positives.
func daysByActivityMention(parent itinerary.Version, text string) []int {
	seen := map[int]bool{}
	for _, day := range parent.Days {
		for _, act := range day.Activities {
			name := strings.ToLower(act.Name)
			if len(name) < 4 {
				continue
			}
			if strings.Contains(text, name) {
				seen[day.Index] = true
			}
		}
	}
	var out []int
	for d := range seen {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// dayScopedSources are the providers relevant to reworking a day's content.
func dayScopedSources() []provider.Source {
	return []provider.Source{provider.SourceTransit, provider.SourceImages, provider.SourceGuides}
}

func allDayNumbers(parent itinerary.Version) []int {
	out := make([]int, 0, len(parent.Days))
	for _, d := range parent.Days {
		out = append(out, d.Index)
	}
	sort.Ints(out)
	return out
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
