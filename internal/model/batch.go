package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/aliskhannn/image-batch/internal/errors"
)

// Request is everything a caller supplies to start a batch.
// It is built once by the presentation layer (CLI flags, Kafka message) and passed by value.
type Request struct {
	Directory string            `json:"directory"`
	Filter    string            `json:"filter"`           // registered filter name, e.g. "gaussian"
	Params    map[string]string `json:"params,omitempty"` // raw, unvalidated parameter values
}

// Job is one eligible file discovered in a batch.
type Job struct {
	Index  int    `json:"index"`  // discovery order
	Source string `json:"source"` // input path
	Output string `json:"output"` // derived processed_<name> path
}

// Failure describes a single file that could not be processed.
type Failure struct {
	Path   string              `json:"path"`
	Kind   apperrors.ErrorType `json:"kind"`   // decode / processing / encode / canceled
	Reason string              `json:"reason"` // human-readable
}

// Outcome is the captured result of a single job: either Output or Failure is set.
type Outcome struct {
	Job     Job
	Output  string
	Failure *Failure
}

// BatchResult aggregates the outcome of one batch.
type BatchResult struct {
	ID         uuid.UUID         `json:"id"`
	Directory  string            `json:"directory"`
	Filter     string            `json:"filter"`
	Params     map[string]string `json:"params,omitempty"`
	Succeeded  []string          `json:"succeeded"` // output paths, discovery order
	Failed     []Failure         `json:"failed"`    // discovery order
	Canceled   bool              `json:"canceled"`
	Mirrored   []string          `json:"mirrored,omitempty"` // object keys uploaded after the run
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// NewBatchResult creates an empty result for a batch starting now.
func NewBatchResult(dir, filter string, params map[string]string) *BatchResult {
	return &BatchResult{
		ID:        uuid.New(),
		Directory: dir,
		Filter:    filter,
		Params:    params,
		Succeeded: []string{},
		Failed:    []Failure{},
		StartedAt: time.Now(),
	}
}

// Add appends a job outcome to the result.
func (r *BatchResult) Add(o Outcome) {
	if o.Failure != nil {
		r.Failed = append(r.Failed, *o.Failure)
		return
	}
	r.Succeeded = append(r.Succeeded, o.Output)
}

// SucceededCount returns the number of files written.
func (r *BatchResult) SucceededCount() int { return len(r.Succeeded) }

// FailedCount returns the number of files that could not be processed.
func (r *BatchResult) FailedCount() int { return len(r.Failed) }

// Duration returns how long the batch ran.
func (r *BatchResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary returns the one-line "N succeeded / M failed" report.
func (r *BatchResult) Summary() string {
	s := fmt.Sprintf("%d succeeded / %d failed", r.SucceededCount(), r.FailedCount())
	if r.Canceled {
		s += " (canceled)"
	}
	return s
}

// Report is published after a batch request has been handled.
// Error is set when the batch never started (validation or directory error).
type Report struct {
	Request Request      `json:"request"`
	Result  *BatchResult `json:"result,omitempty"`
	Error   string       `json:"error,omitempty"`
}
