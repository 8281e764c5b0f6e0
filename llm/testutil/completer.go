// Package testutil provides scripted LLM fakes for unit tests.
package testutil

import (
	"context"
	"sync"

	"github.com/tripstream/tripstream/llm"
)

// ScriptedCompleter returns canned responses in order. Once the script is
// exhausted it repeats the final entry.
type ScriptedCompleter struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     [][]llm.Message
}

// NewScriptedCompleter creates a completer that replies with each response in
// turn.
func NewScriptedCompleter(responses ...string) *ScriptedCompleter {
	return &ScriptedCompleter{responses: responses}
}

// FailWith queues an error before the scripted responses.
func (s *ScriptedCompleter) FailWith(errs ...error) *ScriptedCompleter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
	return s
}

// Complete implements llm.Completer.
func (s *ScriptedCompleter) Complete(_ context.Context, messages []llm.Message) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, append([]llm.Message(nil), messages...))

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}

	if len(s.responses) == 0 {
		return &llm.Response{Content: "{}", Model: "scripted"}, nil
	}
	content := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return &llm.Response{Content: content, Model: "scripted"}, nil
}

// Calls returns every request seen so far.
func (s *ScriptedCompleter) Calls() [][]llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]llm.Message(nil), s.calls...)
}
