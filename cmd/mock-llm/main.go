// Package main implements a mock LLM server for local development and e2e
// testing. It serves OpenAI-compatible /v1/chat/completions responses without
// a real model: intent-extraction prompts get a canned slot extraction, plan
// composition prompts get a deterministic day-by-day plan derived from the
// request. This makes the full tripstream pipeline runnable offline.
//
// Usage:
//
//	mock-llm -port 11434
//
// Point tripstream at it with llm.endpoint: http://localhost:11434/v1.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"
)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func main() {
	port := flag.Int("port", 11434, "listen port")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", handleCompletion)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock-llm listening on %s", addr)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Fatal(server.ListenAndServe())
}

func handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	system, user := splitMessages(req.Messages)
	var content string
	switch {
	case strings.Contains(system, "extract travel-planning intent"):
		content = intentResponse(user)
	case strings.Contains(system, "travel planner"):
		content = planResponse(user)
	default:
		content = `{"note": "mock-llm: unrecognized prompt"}`
	}

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     len(system+user) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(system+user) + len(content)) / 4,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func splitMessages(messages []chatMessage) (system, user string) {
	for _, m := range messages {
		switch m.Role {
		case "system":
			system += m.Content
		default:
			user += m.Content
		}
	}
	return system, user
}

var (
	isoDatePattern  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	durationPattern = regexp.MustCompile(`\b(\d{1,2})[\s-]*days?\b`)
	budgetPattern   = regexp.MustCompile(`\$?(\d[\d,]{2,8})\b`)
	dayCountPattern = regexp.MustCompile(`Plan exactly (\d+) days`)
	placePattern    = regexp.MustCompile(`(?:to|in|visit|visiting)\s+([A-Z][a-zA-Z]+(?:\s[A-Z][a-zA-Z]+)?)`)
)

// intentResponse builds a plausible extraction from the user message so
// multi-turn flows behave like the real extractor.
func intentResponse(user string) string {
	type slot struct {
		Name       string  `json:"name"`
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
		Explicit   bool    `json:"explicit"`
	}
	out := struct {
		Intent string `json:"intent"`
		Slots  []slot `json:"slots"`
	}{Intent: "general"}

	lower := strings.ToLower(user)
	switch {
	case strings.Contains(lower, "instead") || strings.Contains(lower, "swap") ||
		strings.Contains(lower, "change") || strings.Contains(lower, "cheaper"):
		out.Intent = "refine_plan"
	case strings.Contains(lower, "plan") || strings.Contains(lower, "trip") ||
		strings.Contains(lower, "itinerary"):
		out.Intent = "plan_trip"
	}

	if m := placePattern.FindStringSubmatch(user); m != nil {
		out.Slots = append(out.Slots, slot{Name: "destination", Value: m[1], Confidence: 0.95, Explicit: true})
	}
	if dates := isoDatePattern.FindAllString(user, 2); len(dates) > 0 {
		out.Slots = append(out.Slots, slot{Name: "start_date", Value: dates[0], Confidence: 0.95, Explicit: true})
		if len(dates) > 1 {
			out.Slots = append(out.Slots, slot{Name: "end_date", Value: dates[1], Confidence: 0.95, Explicit: true})
		}
	}
	if m := durationPattern.FindStringSubmatch(lower); m != nil {
		out.Slots = append(out.Slots, slot{Name: "duration_days", Value: m[1], Confidence: 0.9, Explicit: true})
	}
	if strings.Contains(lower, "budget") {
		if m := budgetPattern.FindStringSubmatch(lower); m != nil {
			out.Slots = append(out.Slots, slot{Name: "budget", Value: strings.ReplaceAll(m[1], ",", ""), Confidence: 0.9, Explicit: true})
		}
	}

	data, _ := json.Marshal(out)
	return string(data)
}

// planResponse composes a deterministic plan with the requested day count.
func planResponse(user string) string {
	days := 3
	if m := dayCountPattern.FindStringSubmatch(user); m != nil {
		fmt.Sscanf(m[1], "%d", &days)
	}
	destination := "the destination"
	if m := placePattern.FindStringSubmatch(user); m != nil {
		destination = m[1]
	}

	type activity struct {
		Name            string  `json:"name"`
		Description     string  `json:"description"`
		Category        string  `json:"category"`
		StartTime       string  `json:"start_time"`
		DurationMinutes int     `json:"duration_minutes"`
		EstimatedCost   float64 `json:"estimated_cost"`
	}
	type day struct {
		Day        int        `json:"day"`
		Summary    string     `json:"summary"`
		Activities []activity `json:"activities"`
	}
	plan := struct {
		Summary            string  `json:"summary"`
		Currency           string  `json:"currency"`
		TotalEstimatedCost float64 `json:"total_estimated_cost"`
		Days               []day   `json:"days"`
	}{
		Summary:  fmt.Sprintf("A %d-day mock itinerary for %s.", days, destination),
		Currency: "USD",
	}

	for i := 1; i <= days; i++ {
		plan.Days = append(plan.Days, day{
			Day:     i,
			Summary: fmt.Sprintf("Day %d highlights", i),
			Activities: []activity{
				{Name: fmt.Sprintf("Morning walk %d", i), Category: "sightseeing", StartTime: "09:00", DurationMinutes: 120, EstimatedCost: 0},
				{Name: fmt.Sprintf("Local lunch %d", i), Category: "food", StartTime: "12:30", DurationMinutes: 90, EstimatedCost: 25},
				{Name: fmt.Sprintf("Evening stroll %d", i), Category: "leisure", StartTime: "18:00", DurationMinutes: 90, EstimatedCost: 10},
			},
		})
		plan.TotalEstimatedCost += 35
	}

	data, _ := json.Marshal(plan)
	return string(data)
}
