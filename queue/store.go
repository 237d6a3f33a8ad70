package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AlfredDev/virtualize/apperrors"
	"github.com/AlfredDev/virtualize/observability"
	"github.com/AlfredDev/virtualize/store"
)

// Store implements the Generation Queue (C5).
type Store struct {
	tasks *mongo.Collection
	log   zerolog.Logger

	leaseDuration time.Duration
	backoffBase   time.Duration
	backoffCap    time.Duration
	maxAttempts   int

	dedupe  *dedupeCache
	metrics *observability.Metrics
}

type Options struct {
	LeaseDuration time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	MaxAttempts   int
}

func New(s *store.Store, log zerolog.Logger, opts Options, metrics *observability.Metrics) *Store {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 5 * time.Minute
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 2 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Store{
		tasks:         s.Collection(store.CollGenerationTasks),
		log:           log.With().Str("component", "queue").Logger(),
		leaseDuration: opts.LeaseDuration,
		backoffBase:   opts.BackoffBase,
		backoffCap:    opts.BackoffCap,
		maxAttempts:   opts.MaxAttempts,
		dedupe:        newDedupeCache(opts.LeaseDuration),
		metrics:       metrics,
	}
}

// ReportDepth samples the pending/processing count for one task type and
// publishes it as the queue depth gauge, per invariant 7's admission
// bookkeeping — called after every mutation that can move a task across
// those two statuses.
func (s *Store) ReportDepth(ctx context.Context, taskType TaskType) {
	if s.metrics == nil {
		return
	}
	pending, err := s.tasks.CountDocuments(ctx, bson.M{"task_type": taskType, "status": StatusPending})
	if err != nil {
		return
	}
	processing, err := s.tasks.CountDocuments(ctx, bson.M{"task_type": taskType, "status": StatusProcessing})
	if err != nil {
		return
	}
	s.metrics.TrackQueueDepth(string(taskType), pending, processing)
}

// reportLeaseAge publishes how long a task held its lease before reaching
// a terminal-for-this-attempt state (completed, or requeued/failed).
func (s *Store) reportLeaseAge(taskType TaskType, startedAt *time.Time, now time.Time) {
	if s.metrics == nil || startedAt == nil {
		return
	}
	s.metrics.TrackLeaseAge(string(taskType), float64(now.Sub(*startedAt).Milliseconds()))
}

// dedupeKey is the cache key matching Enqueue's Mongo dedupe filter.
func dedupeKey(taskType TaskType, studentID, moduleID, fp string) string {
	return string(taskType) + ":" + studentID + ":" + moduleID + ":" + fp
}

// invalidateDedupe drops a finished task's dedupe cache entry so a later
// enqueue for the same key re-checks Mongo instead of returning a stale id.
func (s *Store) invalidateDedupe(ctx context.Context, taskID string) {
	var t Task
	if err := s.tasks.FindOne(ctx, bson.M{"_id": taskID}).Decode(&t); err != nil {
		return
	}
	s.dedupe.invalidate(dedupeKey(t.TaskType, t.StudentID, t.ModuleID, t.PayloadFingerprint))
}

// fingerprint deterministically hashes a task's payload; Enqueue combines
// it with task type, student and module into the dedupe key, so two
// concurrent enqueues of the same logical work collide on the same key,
// grounded on the gateway cache's exact-match prompt hashing idiom.
func fingerprint(payload map[string]any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Enqueue inserts a task, or returns the id of an existing pending/
// processing task sharing the same (task_type, student_id, module_id,
// payload-fingerprint) dedupe key, per §4.5 and invariant 7.
func (s *Store) Enqueue(ctx context.Context, taskType TaskType, studentID, moduleID string, payload map[string]any, priority int) (*Task, error) {
	if priority == 0 {
		priority = DefaultPriority
	}
	fp, err := fingerprint(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "marshal task payload", err)
	}

	key := dedupeKey(taskType, studentID, moduleID, fp)
	if taskID, ok := s.dedupe.get(key); ok {
		return &Task{ID: taskID, TaskType: taskType, StudentID: studentID, ModuleID: moduleID, PayloadFingerprint: fp}, nil
	}

	dedupeFilter := bson.M{
		"task_type":           taskType,
		"student_id":          studentID,
		"module_id":           moduleID,
		"payload_fingerprint": fp,
		"status":              bson.M{"$in": bson.A{StatusPending, StatusProcessing}},
	}
	var existing Task
	if err := s.tasks.FindOne(ctx, dedupeFilter).Decode(&existing); err == nil {
		s.dedupe.put(key, existing.ID)
		return &existing, nil
	} else if err != mongo.ErrNoDocuments {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "check task dedupe", err)
	}

	task := &Task{
		ID:                 store.NewID(),
		TaskType:           taskType,
		StudentID:          studentID,
		ModuleID:           moduleID,
		Priority:           priority,
		Status:             StatusPending,
		Attempts:           0,
		MaxAttempts:        s.maxAttempts,
		Payload:            payload,
		PayloadFingerprint: fp,
		CreatedAt:          time.Now().UTC(),
	}
	_, err = s.tasks.InsertOne(ctx, task)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if err2 := s.tasks.FindOne(ctx, dedupeFilter).Decode(&existing); err2 == nil {
				s.dedupe.put(key, existing.ID)
				return &existing, nil
			}
		}
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "insert task", err)
	}
	s.dedupe.put(key, task.ID)
	s.ReportDepth(ctx, taskType)
	return task, nil
}

// Dequeue atomically leases the oldest eligible pending task, ordered
// (priority asc, created_at asc), per §4.5.
func (s *Store) Dequeue(ctx context.Context) (*Task, error) {
	now := time.Now().UTC()
	leaseExpires := now.Add(s.leaseDuration)
	filter := bson.M{
		"status": StatusPending,
		"$or": bson.A{
			bson.M{"available_at": bson.M{"$exists": false}},
			bson.M{"available_at": bson.M{"$lte": now}},
		},
	}
	after := options.After
	var task Task
	err := s.tasks.FindOneAndUpdate(ctx, filter,
		bson.M{"$set": bson.M{
			"status":           StatusProcessing,
			"started_at":       now,
			"lease_expires_at": leaseExpires,
		}, "$inc": bson.M{"attempts": 1}},
		&options.FindOneAndUpdateOptions{
			Sort:           bson.D{{Key: "priority", Value: 1}, {Key: "created_at", Value: 1}},
			ReturnDocument: &after,
		},
	).Decode(&task)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "dequeue task", err)
	}
	s.ReportDepth(ctx, task.TaskType)
	return &task, nil
}

// RenewLease extends a processing task's lease, for long-running workers.
func (s *Store) RenewLease(ctx context.Context, taskID string) error {
	res, err := s.tasks.UpdateOne(ctx,
		bson.M{"_id": taskID, "status": StatusProcessing},
		bson.M{"$set": bson.M{"lease_expires_at": time.Now().UTC().Add(s.leaseDuration)}},
	)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvariantViolation, "renew lease", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.New(apperrors.KindLeaseLost, "task no longer processing")
	}
	return nil
}

// Complete marks a processing task completed.
func (s *Store) Complete(ctx context.Context, taskID string) error {
	now := time.Now().UTC()
	var before Task
	err := s.tasks.FindOneAndUpdate(ctx, bson.M{"_id": taskID}, bson.M{"$set": bson.M{
		"status":       StatusCompleted,
		"completed_at": now,
	}}).Decode(&before)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvariantViolation, "complete task", err)
	}
	s.invalidateDedupe(ctx, taskID)
	s.reportLeaseAge(before.TaskType, before.StartedAt, now)
	s.ReportDepth(ctx, before.TaskType)
	return nil
}

// Fail classifies a task failure per §4.6: retryable failures go back to
// pending with a backoff delay; exhausted or non-retryable failures go to
// failed.
func (s *Store) Fail(ctx context.Context, task *Task, reason string, retryable bool) error {
	now := time.Now().UTC()
	s.reportLeaseAge(task.TaskType, task.StartedAt, now)
	if retryable && task.Attempts < task.MaxAttempts {
		delay := BackoffDelay(task.Attempts, s.backoffBase, s.backoffCap)
		available := now.Add(delay)
		_, err := s.tasks.UpdateOne(ctx, bson.M{"_id": task.ID}, bson.M{"$set": bson.M{
			"status":       StatusPending,
			"last_error":   reason,
			"available_at": available,
		}})
		if err != nil {
			return apperrors.Wrap(apperrors.KindInvariantViolation, "requeue task", err)
		}
		// Stays pending under the same dedupe key — cache entry still valid.
		s.ReportDepth(ctx, task.TaskType)
		return nil
	}
	_, err := s.tasks.UpdateOne(ctx, bson.M{"_id": task.ID}, bson.M{"$set": bson.M{
		"status":     StatusFailed,
		"last_error": reason,
	}})
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvariantViolation, "fail task", err)
	}
	s.invalidateDedupe(ctx, task.ID)
	s.ReportDepth(ctx, task.TaskType)
	return nil
}

// Cancel sets a pending or processing task's status to cancelled. The
// worker pool does not read a task's status while it runs, so a processing
// task runs to the end and Complete or Fail then overwrites the flag.
func (s *Store) Cancel(ctx context.Context, taskID string) error {
	_, err := s.tasks.UpdateOne(ctx,
		bson.M{"_id": taskID, "status": bson.M{"$in": bson.A{StatusPending, StatusProcessing}}},
		bson.M{"$set": bson.M{"status": StatusCancelled}},
	)
	s.invalidateDedupe(ctx, taskID)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvariantViolation, "cancel task", err)
	}
	return nil
}

// Status reports the live status of a task. The worker pool does not call it.
func (s *Store) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	var t Task
	if err := s.tasks.FindOne(ctx, bson.M{"_id": taskID}).Decode(&t); err != nil {
		if err == mongo.ErrNoDocuments {
			return "", apperrors.New(apperrors.KindNotFound, "task not found")
		}
		return "", apperrors.Wrap(apperrors.KindInvariantViolation, "load task status", err)
	}
	return t.Status, nil
}

// SweepExpiredLeases reclaims processing tasks whose lease has expired,
// moving them back to pending with a capped attempts/backoff — the
// heartbeat sweeper invariant 8 (crash recovery) depends on.
func (s *Store) SweepExpiredLeases(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	cur, err := s.tasks.Find(ctx, bson.M{
		"status":           StatusProcessing,
		"lease_expires_at": bson.M{"$lt": now},
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindInvariantViolation, "find expired leases", err)
	}
	var expired []Task
	if err := cur.All(ctx, &expired); err != nil {
		return 0, apperrors.Wrap(apperrors.KindInvariantViolation, "decode expired leases", err)
	}

	reclaimed := 0
	for _, t := range expired {
		reason := fmt.Sprintf("lease expired at attempt %d", t.Attempts)
		if err := s.Fail(ctx, &t, reason, true); err != nil {
			s.log.Error().Err(err).Str("task_id", t.ID).Msg("failed to reclaim expired lease")
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}
