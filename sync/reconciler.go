// Package sync implements the Sync Reconciler (C8): it maps instructor-side
// mutations to C1 onto Generation Queue tasks for every affected student,
// per the mutation table in §4.8.
package sync

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/virtualize/content"
	"github.com/AlfredDev/virtualize/queue"
	"github.com/AlfredDev/virtualize/virtual"
)

// syncPriorityOffset is added to the default task priority: reconciler
// tasks ride behind a student's own in-flight generation, per §4.8.
const syncPriorityOffset = 2

// Reconciler implements content.PublishReconciler and exposes the content-
// edit/add/delete entry points C1's content handlers call directly.
type Reconciler struct {
	content *content.Store
	virtual *virtual.Store
	queue   *queue.Store
	log     zerolog.Logger
}

func New(c *content.Store, v *virtual.Store, q *queue.Store, log zerolog.Logger) *Reconciler {
	return &Reconciler{content: c, virtual: v, queue: q, log: log.With().Str("component", "sync").Logger()}
}

func (r *Reconciler) enqueue(ctx context.Context, studentID, moduleID, kind, topicID, contentID string) error {
	payload := syncPayload(kind, topicID, contentID)
	_, err := r.queue.Enqueue(ctx, queue.TaskSyncContentChange, studentID, moduleID, payload, queue.DefaultPriority+syncPriorityOffset)
	return err
}

// syncPayload builds the §4.8 sync task payload for one mutation: kind is
// always present, topic_id/content_id are included only when the mutation
// concerns them. Extracted so the wire shape can be pinned without Mongo.
func syncPayload(kind, topicID, contentID string) map[string]any {
	payload := map[string]any{"kind": kind}
	if topicID != "" {
		payload["topic_id"] = topicID
	}
	if contentID != "" {
		payload["content_id"] = contentID
	}
	return payload
}

// ReconcileTopicPublished implements content.PublishReconciler: for every
// student whose VirtualModule over the parent module is ready or
// generating, enqueue a publish sync task.
func (r *Reconciler) ReconcileTopicPublished(ctx context.Context, topicID, moduleID string) error {
	return r.fanOutToActiveStudents(ctx, moduleID, "publish", topicID, "")
}

// ReconcileTopicUnpublished implements content.PublishReconciler.
func (r *Reconciler) ReconcileTopicUnpublished(ctx context.Context, topicID, moduleID string) error {
	return r.fanOutToActiveStudents(ctx, moduleID, "retract", topicID, "")
}

// ReconcileContentEdited handles a TopicContent payload edit: every
// VirtualTopicContent whose fingerprint mismatches the new source gets a
// refresh task. Called by the content handler after persisting the edit.
func (r *Reconciler) ReconcileContentEdited(ctx context.Context, topicID, moduleID, sourceContentID, newFingerprint string) error {
	stale, err := r.virtual.ContentBySourceAcrossStudents(ctx, sourceContentID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, c := range stale {
		if c.PersonalizationFingerprint == newFingerprint {
			continue
		}
		vt, err := r.topicOwner(ctx, c.VirtualTopicID)
		if err != nil {
			continue
		}
		if seen[vt.StudentID] {
			continue
		}
		seen[vt.StudentID] = true
		if err := r.enqueue(ctx, vt.StudentID, moduleID, "refresh", topicID, sourceContentID); err != nil {
			r.log.Error().Err(err).Str("student_id", vt.StudentID).Msg("failed to enqueue refresh sync task")
		}
	}
	return nil
}

// ReconcileContentAdded handles a new TopicContent under an already-
// materialized topic.
func (r *Reconciler) ReconcileContentAdded(ctx context.Context, topicID, moduleID, sourceContentID string) error {
	return r.fanOutToActiveStudents(ctx, moduleID, "add", topicID, sourceContentID)
}

// ReconcileContentDeleted handles a TopicContent deletion: the worker
// soft-deletes the virtual counterpart, preserving ContentResult rows.
func (r *Reconciler) ReconcileContentDeleted(ctx context.Context, topicID, moduleID, sourceContentID string) error {
	return r.fanOutToActiveStudents(ctx, moduleID, "remove", topicID, sourceContentID)
}

// fanOutToActiveStudents enqueues one sync task per student whose
// VirtualModule over moduleID is ready or generating.
func (r *Reconciler) fanOutToActiveStudents(ctx context.Context, moduleID, kind, topicID, contentID string) error {
	vms, err := r.virtual.ModulesWithStatus(ctx, moduleID, virtual.GenReady, virtual.GenGenerating)
	if err != nil {
		return err
	}
	for _, vm := range vms {
		if err := r.enqueue(ctx, vm.StudentID, moduleID, kind, topicID, contentID); err != nil {
			r.log.Error().Err(err).Str("student_id", vm.StudentID).Msg("failed to enqueue sync task")
		}
	}
	return nil
}

func (r *Reconciler) topicOwner(ctx context.Context, virtualTopicID string) (*virtual.Topic, error) {
	return r.virtual.GetTopic(ctx, virtualTopicID)
}
