// Package task owns the lifecycle of one itinerary generation or replan
// request: the status/step state machine, the failure taxonomy, durable
// snapshots, and the stale-task sweeper. All mutations for one task id are
// serialized; terminal states are immutable.
package task

import (
	"time"

	"github.com/tripstream/tripstream/provider"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal tasks never mutate.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Kind distinguishes fresh generation from replanning.
type Kind string

const (
	KindGenerate Kind = "generate"
	KindReplan   Kind = "replan"
)

// Step is one stage of the fixed running sequence. Each step owns a progress
// band so overall progress is a monotonic function of (step, fraction).
type Step string

const (
	StepIntentExtraction Step = "intent_extraction"
	StepDataGathering    Step = "data_gathering"
	StepPlanComposition  Step = "plan_composition"
	StepFinalization     Step = "finalization"
)

// Band returns the inclusive progress percentage range for the step.
func (s Step) Band() (lo, hi int) {
	switch s {
	case StepIntentExtraction:
		return 5, 15
	case StepDataGathering:
		return 15, 60
	case StepPlanComposition:
		return 60, 90
	case StepFinalization:
		return 90, 100
	default:
		return 0, 0
	}
}

// order gives the position of a step in the fixed sequence, for rejecting
// backwards advances from late reporters.
func (s Step) order() int {
	switch s {
	case StepIntentExtraction:
		return 1
	case StepDataGathering:
		return 2
	case StepPlanComposition:
		return 3
	case StepFinalization:
		return 4
	default:
		return 0
	}
}

// SourceState is the per-provider outcome recorded on the task.
type SourceState string

const (
	SourceActive   SourceState = "active"
	SourceDegraded SourceState = "degraded"
	SourceMissing  SourceState = "missing"
)

// SourceStatus annotates one provider source on the finished gather.
type SourceStatus struct {
	Source provider.Source `json:"source"`
	State  SourceState     `json:"state"`
	// Reason is set for degraded sources (why the fallback was used).
	Reason provider.Reason `json:"reason,omitempty"`
}

// Task is the durable snapshot of one generation request. It is what the
// progress publisher fans out and what poll returns.
type Task struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Kind           Kind   `json:"kind"`

	Status   Status `json:"status"`
	Step     Step   `json:"step,omitempty"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`

	// CancelRequested is set while a running task winds down cooperatively;
	// the status flips to cancelled at the next step boundary.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	Sources []SourceStatus `json:"sources,omitempty"`

	// ResultVersionID references the produced itinerary version once the
	// task completes.
	ResultVersionID string   `json:"result_version_id,omitempty"`
	Failure         *Failure `json:"failure,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to subscribers.
func (t Task) Clone() Task {
	out := t
	if t.Sources != nil {
		out.Sources = append([]SourceStatus(nil), t.Sources...)
	}
	if t.Failure != nil {
		f := *t.Failure
		out.Failure = &f
	}
	return out
}
