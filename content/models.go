// Package content implements the Content Store (C1): study plans, modules,
// topics, and typed topic-contents, with the uniqueness invariants the
// storage layer enforces via partial unique indexes (see store.EnsureIndexes).
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type PlanStatus string

const (
	PlanDraft    PlanStatus = "draft"
	PlanActive   PlanStatus = "active"
	PlanArchived PlanStatus = "archived"
)

// StudyPlan is the authoring root: owner, optional workspace scope, status.
type StudyPlan struct {
	ID          string     `bson:"_id"`
	Author      string     `bson:"author"`
	WorkspaceID string     `bson:"workspace_id,omitempty"`
	Status      PlanStatus `bson:"status"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

// VirtualizationSettings governs how aggressively the scheduler materializes
// a module for a student.
type VirtualizationSettings struct {
	InitialBatchSize    int     `bson:"initial_batch_size"`
	GenerationThreshold float64 `bson:"generation_threshold"`
}

// Module is an ordered child of a study plan.
type Module struct {
	ID                     string                 `bson:"_id"`
	StudyPlanID            string                 `bson:"study_plan_id"`
	Order                  int                    `bson:"order"`
	Name                   string                 `bson:"name"`
	VirtualizationSettings VirtualizationSettings `bson:"virtualization_settings"`
	CreatedAt              time.Time              `bson:"created_at"`
	UpdatedAt              time.Time              `bson:"updated_at"`
}

// Topic is an ordered child of a module.
type Topic struct {
	ID        string    `bson:"_id"`
	ModuleID  string    `bson:"module_id"`
	Order     int       `bson:"order"`
	Name      string    `bson:"name"`
	Theory    string    `bson:"theory"`
	Published bool      `bson:"published"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type ContentType string

const (
	ContentSlide       ContentType = "slide"
	ContentQuiz        ContentType = "quiz"
	ContentReading     ContentType = "reading"
	ContentExercise    ContentType = "exercise"
	ContentInteractive ContentType = "interactive"
)

type ContentStatus string

const (
	ContentActive  ContentStatus = "active"
	ContentDeleted ContentStatus = "deleted"
)

// TopicContent is a typed content element attached to a topic.
type TopicContent struct {
	ID              string        `bson:"_id"`
	TopicID         string        `bson:"topic_id"`
	ContentType     ContentType   `bson:"content_type"`
	Order           int           `bson:"order"`
	ParentContentID string        `bson:"parent_content_id,omitempty"`
	Content         any           `bson:"content"`
	Status          ContentStatus `bson:"status"`
	CreatedAt       time.Time     `bson:"created_at"`
	UpdatedAt       time.Time     `bson:"updated_at"`
}

// Fingerprint derives the value stored as a VirtualTopicContent's
// personalization_fingerprint: any change to a source TopicContent's
// updated_at invalidates every adaptation derived from it, without
// needing to hash the (possibly large) content payload itself.
func Fingerprint(tc TopicContent) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", tc.ID, tc.UpdatedAt.UnixNano())))
	return hex.EncodeToString(h[:])
}

// ModuleReadiness reports whether a module has enough published content to
// be worth virtualizing, per §4.1's "virtualization readiness" query.
type ModuleReadiness struct {
	PublishedTopicCount int
	TotalTopicCount     int
}

// Ready reports whether the module qualifies for virtualization: it needs
// at least one published topic.
func (r ModuleReadiness) Ready() bool {
	return r.PublishedTopicCount >= 1
}

// TopicInventory is a published topic paired with its active content,
// grouped by content type, as returned by the published-topic inventory query.
type TopicInventory struct {
	Topic    Topic
	Contents map[ContentType][]TopicContent
}
