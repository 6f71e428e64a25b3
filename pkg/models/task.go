// Package models defines the shared domain types: tasks, step logs, and the
// structured records produced by platform connectors.
package models

import "time"

// TaskStatus is the lifecycle state of a harvest task.
type TaskStatus string

const (
	TaskStatusPending      TaskStatus = "pending"
	TaskStatusRunning      TaskStatus = "running"
	TaskStatusWaitingLogin TaskStatus = "waiting_login"
	TaskStatusCompleted    TaskStatus = "completed"
	TaskStatusFailed       TaskStatus = "failed"
	TaskStatusCancelled    TaskStatus = "cancelled"
)

// taskTransitions encodes the legal status DAG. Terminal states are sinks.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:      {TaskStatusRunning},
	TaskStatusRunning:      {TaskStatusWaitingLogin, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusWaitingLogin: {TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
}

// Terminal reports whether the status is a sink state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, t := range taskTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusWaitingLogin,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// StepLog is one record in a task's activity log. Repeating a step number
// updates the existing record in place; otherwise the log is append-only.
type StepLog struct {
	Step      int            `json:"step"`
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Status    string         `json:"status"`
}

// Task is the durable record of one long-running operation. It is created by
// an orchestrator, mutated only by that orchestrator and the timeout sweeper,
// and never deleted.
type Task struct {
	ID             string         `json:"task_id"`
	Source         string         `json:"source"`
	SourceID       string         `json:"source_id"`
	TaskType       string         `json:"task_type"`
	Status         TaskStatus     `json:"status"`
	Progress       int            `json:"progress"`
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	Logs           []StepLog      `json:"logs"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// TaskFilter narrows task listing. Zero-valued fields are ignored.
type TaskFilter struct {
	SourceID string `json:"source_id,omitempty"`
	Status   string `json:"status,omitempty"`
	TaskType string `json:"task_type,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// AgentReadableTask is the rendering of a task meant to be consumed by an
// LLM agent or shown to the end user: the raw state plus a natural-language
// summary and a hint about what should happen next.
type AgentReadableTask struct {
	TaskID       string         `json:"task_id"`
	Status       TaskStatus     `json:"status"`
	Progress     int            `json:"progress"`
	Summary      string         `json:"summary"`
	Logs         []StepLog      `json:"logs"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	NextStepHint string         `json:"next_step_hint"`
}
