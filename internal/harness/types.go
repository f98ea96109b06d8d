package harness

import "github.com/roach88/canvaslog/internal/canvas"

// StepResult records what one step did.
type StepResult struct {
	Index   int    `json:"index"`
	Type    string `json:"type"`
	Version int64  `json:"version"`

	// EventID is set when the append succeeded.
	EventID string `json:"event_id,omitempty"`

	// ErrorCode is set when the append failed.
	ErrorCode string `json:"error_code,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step behaved as expected and every assertion held.
	Pass bool `json:"pass"`

	// Steps has one entry per scenario step, in order.
	Steps []StepResult `json:"steps"`

	// State is the head state after all steps.
	State canvas.CanvasState `json:"state"`

	// Snapshots lists the versions of stored snapshots.
	Snapshots []int64 `json:"snapshots"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Steps:     []StepResult{},
		State:     canvas.EmptyState(),
		Snapshots: []int64{},
		Errors:    []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
