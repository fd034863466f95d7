package models

import "time"

// TaskState is the lifecycle state of a retry task.
type TaskState string

const (
	TaskStatePending    TaskState = "pending"
	TaskStateProcessing TaskState = "processing"
	TaskStateSucceeded  TaskState = "succeeded"
	TaskStateFailed     TaskState = "failed"
)

// Terminal reports whether a task in this state is never attempted again.
func (s TaskState) Terminal() bool {
	return s == TaskStateSucceeded || s == TaskStateFailed
}

// RetryTask is a durable record of an outbound delivery that failed with a
// transient error and is awaiting re-dispatch. AttemptCount is the number
// of completed queue attempts; the failed live send that created the task
// does not count against the budget.
type RetryTask struct {
	ID             int64     `db:"id"`
	TargetPlatform Platform  `db:"target_platform"`
	ChatID         string    `db:"chat_id"`
	Body           string    `db:"body"`
	SourcePlatform Platform  `db:"source_platform"`
	SourceID       string    `db:"source_id"`
	AttemptCount   int       `db:"attempt_count"`
	NextAttemptAt  time.Time `db:"next_attempt_at"`
	State          TaskState `db:"state"`
	LastError      string    `db:"last_error"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// QueueStats is a point-in-time view of the retry queue.
type QueueStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
}
