package store

import (
	"time"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is the unit of durable work. A task in completed has a non-null
// output_file; a task in failed has a non-null error_message. Transitions
// only move pending -> processing -> {completed, failed}.
type Task struct {
	ID           int64      `json:"id"`
	SourceFile   string     `json:"source_file"`
	SourceSize   int64      `json:"source_size"`
	OutputFile   *string    `json:"output_file"`
	OutputSize   *int64     `json:"output_size"`
	Status       TaskStatus `json:"status"`
	ErrorMessage *string    `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
