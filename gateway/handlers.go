package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/tripstream/tripstream/storage"
	"github.com/tripstream/tripstream/task"
)

// maxBodyBytes bounds request bodies; turn text never legitimately
// approaches this.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error             string `json:"error"`
	Code              string `json:"code,omitempty"`
	Retryable         bool   `json:"retryable,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}

	var failure *task.Failure
	if errors.As(err, &failure) {
		body.Error = failure.Message
		body.Code = string(failure.Code)
		body.Retryable = failure.Retryable
		body.RetryAfterSeconds = failure.RetryAfterSeconds
	} else if errors.Is(err, storage.ErrUnavailable) {
		body.Code = string(task.CodeStorageUnavailable)
		body.Retryable = true
		body.RetryAfterSeconds = 15
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "status", status, "error", err)
	}
	if body.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", body.RetryAfterSeconds))
	}
	writeJSON(w, status, body)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return task.NewFailure(task.CodeInvalidRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

type turnRequest struct {
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
}

type taskSummary struct {
	ID              string              `json:"id"`
	Status          task.Status         `json:"status"`
	Kind            task.Kind           `json:"kind"`
	Step            task.Step           `json:"step,omitempty"`
	Progress        int                 `json:"progress"`
	Message         string              `json:"message,omitempty"`
	Sources         []task.SourceStatus `json:"sources,omitempty"`
	ResultVersionID string              `json:"result_version_id,omitempty"`
	Failure         *task.Failure       `json:"failure,omitempty"`
}

func summarize(t task.Task) taskSummary {
	return taskSummary{
		ID:              t.ID,
		Status:          t.Status,
		Kind:            t.Kind,
		Step:            t.Step,
		Progress:        t.Progress,
		Message:         t.Message,
		Sources:         t.Sources,
		ResultVersionID: t.ResultVersionID,
		Failure:         t.Failure,
	}
}

type turnResponse struct {
	ConversationID string            `json:"conversation_id"`
	Intent         string            `json:"intent,omitempty"`
	Slots          map[string]string `json:"slots"`
	Task           *taskSummary      `json:"task,omitempty"`
	Clarification  string            `json:"clarification,omitempty"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	var req turnRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Text == "" {
		s.writeError(w, task.NewFailure(task.CodeInvalidRequest, "text is required"))
		return
	}
	if req.TurnID == "" {
		req.TurnID = uuid.NewString()
	}

	out, err := s.orchestrator.HandleTurn(r.Context(), conversationID, req.TurnID, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := turnResponse{
		ConversationID: conversationID,
		Intent:         out.Intent,
		Slots:          map[string]string{},
		Clarification:  out.Clarification,
	}
	if out.Context != nil {
		resp.Slots = out.Context.SlotMap()
	}
	status := http.StatusOK
	if out.Task != nil {
		summary := summarize(*out.Task)
		resp.Task = &summary
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	t, err := s.orchestrator.StartGeneration(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, summarize(t))
}

func (s *Server) handleConversationItinerary(w http.ResponseWriter, r *http.Request) {
	version, err := s.itineraries.LatestForConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.progress.Poll(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(t))
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	t, err := s.orchestrator.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, summarize(t))
}

func (s *Server) handleItineraryGet(w http.ResponseWriter, r *http.Request) {
	version, err := s.itineraries.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

type replanRequest struct {
	Modification string `json:"modification"`
}

func (s *Server) handleReplan(w http.ResponseWriter, r *http.Request) {
	var req replanRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Modification == "" {
		s.writeError(w, task.NewFailure(task.CodeInvalidRequest, "modification is required"))
		return
	}

	t, err := s.orchestrator.Replan(r.Context(), r.PathValue("id"), req.Modification)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, summarize(t))
}
