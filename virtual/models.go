// Package virtual implements the Virtual Store (C2): per-student
// materializations of modules, topics, and topic-contents, plus the
// atomic progress-tracking operations §4.2 requires.
package virtual

import "time"

type GenerationStatus string

const (
	GenPending    GenerationStatus = "pending"
	GenGenerating GenerationStatus = "generating"
	GenReady      GenerationStatus = "ready"
	GenFailed     GenerationStatus = "failed"
)

// Module is a per-student materialization of a content.Module.
type Module struct {
	ID               string           `bson:"_id"`
	ModuleID         string           `bson:"module_id"`
	StudentID        string           `bson:"student_id"`
	GenerationStatus GenerationStatus `bson:"generation_status"`
	FailureReason    string           `bson:"failure_reason,omitempty"`
	Progress         float64          `bson:"progress"`
	Locked           bool             `bson:"locked"`
	CreatedAt        time.Time        `bson:"created_at"`
	UpdatedAt        time.Time        `bson:"updated_at"`
}

type TopicStatus string

const (
	TopicLocked    TopicStatus = "locked"
	TopicActive    TopicStatus = "active"
	TopicCompleted TopicStatus = "completed"
)

// Topic is a per-student materialization of a content.Topic.
type Topic struct {
	ID               string      `bson:"_id"`
	VirtualModuleID  string      `bson:"virtual_module_id"`
	TopicID          string      `bson:"topic_id"`
	StudentID        string      `bson:"student_id"`
	Order            int         `bson:"order"`
	Name             string      `bson:"name"`
	Description      string      `bson:"description"`
	Locked           bool        `bson:"locked"`
	Status           TopicStatus `bson:"status"`
	Progress         float64     `bson:"progress"`
	CompletionTime   *time.Time  `bson:"completion_timestamp,omitempty"`
	CreatedAt        time.Time   `bson:"created_at"`
	UpdatedAt        time.Time   `bson:"updated_at"`
}

// TopicContent is a per-student instance of a content.TopicContent.
type TopicContent struct {
	ID                          string    `bson:"_id"`
	VirtualTopicID              string    `bson:"virtual_topic_id"`
	SourceContentID             string    `bson:"source_content_id"`
	ContentType                 string    `bson:"content_type"`
	Order                       int       `bson:"order"`
	Payload                     any       `bson:"payload"`
	PersonalizationFingerprint  string    `bson:"personalization_fingerprint"`
	Status                      string    `bson:"status"`
	CreatedAt                   time.Time `bson:"created_at"`
	UpdatedAt                   time.Time `bson:"updated_at"`
}

// Result is one ContentResult submission.
type Result struct {
	ID                   string    `bson:"_id"`
	StudentID            string    `bson:"student_id"`
	VirtualContentID     string    `bson:"virtual_content_id"`
	Score                float64   `bson:"score"`
	CompletionPercentage float64   `bson:"completion_percentage"`
	CreatedAt            time.Time `bson:"created_at"`
}
