package types

import "time"

// TaskState is the lifecycle state of a task; the numeric values are part
// of the HTTP contract.
type TaskState int

const (
	TaskQueued TaskState = iota
	TaskRunning
	TaskSucceeded
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TaskProgress reports how far a long operation has come.
type TaskProgress struct {
	Stage   string `json:"Stage"`
	Current int64  `json:"Current"`
	Total   int64  `json:"Total"`
}

// Task is the externally visible record of a runner task.
type Task struct {
	ID         int          `json:"ID"`
	Name       string       `json:"Name"`
	State      TaskState    `json:"State"`
	Resources  []string     `json:"Resources,omitempty"`
	Progress   TaskProgress `json:"Progress"`
	Error      string       `json:"Error,omitempty"`
	CreatedAt  time.Time    `json:"CreatedAt"`
	FinishedAt time.Time    `json:"FinishedAt,omitempty"`
}
