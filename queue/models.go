// Package queue implements the Generation Queue (C5): a durable,
// document-backed priority queue with lease-based dequeue, heartbeat
// reclamation, and exponential backoff on retry.
package queue

import "time"

type TaskType string

const (
	TaskGenerate         TaskType = "generate"
	TaskUpdate           TaskType = "update"
	TaskEnhance          TaskType = "enhance"
	TaskSyncContentChange TaskType = "sync_content_change"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

const DefaultPriority = 5

// Task is the persisted generation_tasks document, matching the wire
// payload format the spec names for §6.1 consumers.
type Task struct {
	ID                 string         `bson:"_id"`
	TaskType           TaskType       `bson:"task_type"`
	StudentID          string         `bson:"student_id"`
	ModuleID           string         `bson:"module_id"`
	Priority           int            `bson:"priority"`
	Status             TaskStatus     `bson:"status"`
	Attempts           int            `bson:"attempts"`
	MaxAttempts        int            `bson:"max_attempts"`
	Payload            map[string]any `bson:"payload"`
	PayloadFingerprint string         `bson:"payload_fingerprint"`
	LeaseExpiresAt     *time.Time     `bson:"lease_expires_at,omitempty"`
	AvailableAt        *time.Time     `bson:"available_at,omitempty"`
	CreatedAt          time.Time      `bson:"created_at"`
	StartedAt          *time.Time     `bson:"started_at,omitempty"`
	CompletedAt        *time.Time     `bson:"completed_at,omitempty"`
	LastError          string         `bson:"last_error,omitempty"`
}
