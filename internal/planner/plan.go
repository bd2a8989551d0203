// Package planner turns a user request into a dependency graph of subtasks
// via a single low-temperature completion, with a one-task fallback when
// the model's JSON cannot be recovered.
package planner

import "time"

// Task statuses, advancing pending -> running -> {done, failed}.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// TaskSpec is one node in a plan DAG.
type TaskSpec struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Agent       string   `json:"agent"`
	DependsOn   []string `json:"depends_on"`

	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	TokensUsed int       `json:"tokens_used,omitempty"`
}

// Plan is a DAG of TaskSpecs derived from one user request.
type Plan struct {
	ID              string      `json:"id"`
	Summary         string      `json:"summary"`
	Tasks           []*TaskSpec `json:"tasks"`
	OriginalRequest string      `json:"original_request"`
}

// Terminal reports whether every task reached done or failed.
func (p *Plan) Terminal() bool {
	for _, t := range p.Tasks {
		if t.Status != StatusDone && t.Status != StatusFailed {
			return false
		}
	}
	return true
}

// HasFailures reports whether any task failed.
func (p *Plan) HasFailures() bool {
	for _, t := range p.Tasks {
		if t.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Task returns the task with the given id, or nil.
func (p *Plan) Task(id string) *TaskSpec {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
