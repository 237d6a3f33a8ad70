package virtual

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AlfredDev/virtualize/apperrors"
	"github.com/AlfredDev/virtualize/store"
)

// Store implements the Virtual Store (C2).
type Store struct {
	modules  *mongo.Collection
	topics   *mongo.Collection
	contents *mongo.Collection
	results  *mongo.Collection
	log      zerolog.Logger
}

func New(s *store.Store, log zerolog.Logger) *Store {
	return &Store{
		modules:  s.Collection(store.CollVirtualModules),
		topics:   s.Collection(store.CollVirtualTopics),
		contents: s.Collection(store.CollVirtualContents),
		results:  s.Collection(store.CollContentResults),
		log:      log.With().Str("component", "virtual").Logger(),
	}
}

// UpsertVirtualModule is idempotent per §4.2: returns the existing
// VirtualModule for (student, module) if one exists, else creates it pending.
func (s *Store) UpsertVirtualModule(ctx context.Context, studentID, moduleID string) (*Module, error) {
	now := time.Now().UTC()
	after := options.After
	upsert := true

	var vm Module
	err := s.modules.FindOneAndUpdate(ctx,
		bson.M{"student_id": studentID, "module_id": moduleID},
		bson.M{
			"$setOnInsert": bson.M{
				"_id":               store.NewID(),
				"student_id":        studentID,
				"module_id":         moduleID,
				"generation_status": GenPending,
				"progress":          0.0,
				"locked":            true,
				"created_at":        now,
			},
			"$set": bson.M{"updated_at": now},
		},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after, Upsert: &upsert},
	).Decode(&vm)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "upsert virtual module", err)
	}
	return &vm, nil
}

// SetGenerationStatus transitions a VirtualModule's generation_status.
func (s *Store) SetGenerationStatus(ctx context.Context, virtualModuleID string, status GenerationStatus, failureReason string) error {
	set := bson.M{"generation_status": status, "updated_at": time.Now().UTC()}
	if failureReason != "" {
		set["failure_reason"] = failureReason
	}
	_, err := s.modules.UpdateOne(ctx, bson.M{"_id": virtualModuleID}, bson.M{"$set": set})
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvariantViolation, "set generation status", err)
	}
	return nil
}

// CreateTopic inserts a VirtualTopic unless one already exists for its
// (virtual module, source topic) pair. An empty status defaults to locked;
// the locked flag is stored as given.
func (s *Store) CreateTopic(ctx context.Context, t *Topic) error {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = store.NewID()
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = TopicLocked
	}
	filter := bson.M{"virtual_module_id": t.VirtualModuleID, "topic_id": t.TopicID}
	after := options.After
	upsert := true
	return s.topics.FindOneAndUpdate(ctx, filter, bson.M{"$setOnInsert": t}, &options.FindOneAndUpdateOptions{ReturnDocument: &after, Upsert: &upsert}).Err()
}

// TopicsForModule returns a VirtualModule's topics ordered.
func (s *Store) TopicsForModule(ctx context.Context, virtualModuleID string) ([]Topic, error) {
	cur, err := s.topics.Find(ctx, bson.M{"virtual_module_id": virtualModuleID}, options.Find().SetSort(bson.D{{Key: "order", Value: 1}}))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "list virtual topics", err)
	}
	var topics []Topic
	if err := cur.All(ctx, &topics); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "decode virtual topics", err)
	}
	return topics, nil
}

// ContentsForTopic returns a VirtualTopic's contents ordered.
func (s *Store) ContentsForTopic(ctx context.Context, virtualTopicID string) ([]TopicContent, error) {
	cur, err := s.contents.Find(ctx, bson.M{"virtual_topic_id": virtualTopicID}, options.Find().SetSort(bson.D{{Key: "order", Value: 1}}))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "list virtual contents", err)
	}
	var contents []TopicContent
	if err := cur.All(ctx, &contents); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "decode virtual contents", err)
	}
	return contents, nil
}

// UpsertContent writes a VirtualTopicContent keyed on its source id, so
// worker retries after partial progress upsert rather than duplicate
// (idempotency requirement in §7).
func (s *Store) UpsertContent(ctx context.Context, c *TopicContent) error {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = store.NewID()
	}
	c.UpdatedAt = now
	filter := bson.M{"virtual_topic_id": c.VirtualTopicID, "source_content_id": c.SourceContentID}
	after := options.After
	upsert := true
	return s.contents.FindOneAndUpdate(ctx, filter, bson.M{
		"$set": bson.M{
			"content_type":                 c.ContentType,
			"order":                        c.Order,
			"payload":                      c.Payload,
			"personalization_fingerprint":  c.PersonalizationFingerprint,
			"status":                       "active",
			"updated_at":                   now,
		},
		"$setOnInsert": bson.M{
			"_id":        c.ID,
			"created_at": now,
		},
	}, &options.FindOneAndUpdateOptions{ReturnDocument: &after, Upsert: &upsert}).Err()
}

// MarkTopicProgress is monotone (never decreases progress); on reaching
// 1.0 it transitions the topic to completed and stamps completion_timestamp.
// Recomputes the owning module's progress afterward.
func (s *Store) MarkTopicProgress(ctx context.Context, virtualTopicID string, newProgress float64) (*Topic, error) {
	now := time.Now().UTC()
	set := bson.M{"progress": newProgress, "updated_at": now}
	if newProgress >= 1.0 {
		set["status"] = TopicCompleted
		set["completion_timestamp"] = now
	}

	after := options.After
	var topic Topic
	err := s.topics.FindOneAndUpdate(ctx,
		bson.M{"_id": virtualTopicID, "progress": bson.M{"$lte": newProgress}},
		bson.M{"$set": set},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	).Decode(&topic)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			// Either the topic doesn't exist, or the update was a no-op
			// because newProgress regressed — load and return as-is.
			if loadErr := s.topics.FindOne(ctx, bson.M{"_id": virtualTopicID}).Decode(&topic); loadErr != nil {
				return nil, apperrors.New(apperrors.KindNotFound, "virtual topic not found")
			}
			return &topic, nil
		}
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "mark topic progress", err)
	}

	if err := s.recomputeModuleProgress(ctx, topic.VirtualModuleID); err != nil {
		return nil, err
	}
	return &topic, nil
}

// recomputeModuleProgress sets a VirtualModule's progress to the mean of
// its topics' progress, per §4.2.
func (s *Store) recomputeModuleProgress(ctx context.Context, virtualModuleID string) error {
	cur, err := s.topics.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"virtual_module_id": virtualModuleID}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "avg": bson.M{"$avg": "$progress"}}}},
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvariantViolation, "aggregate module progress", err)
	}
	var rows []struct {
		Avg float64 `bson:"avg"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return apperrors.Wrap(apperrors.KindInvariantViolation, "decode module progress aggregate", err)
	}
	avg := 0.0
	if len(rows) > 0 {
		avg = rows[0].Avg
	}
	_, err = s.modules.UpdateOne(ctx, bson.M{"_id": virtualModuleID}, bson.M{"$set": bson.M{
		"progress":   avg,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvariantViolation, "update module progress", err)
	}
	return nil
}

// UnlockNextTopic picks the lowest-ordered locked VirtualTopic whose
// previous sibling is completed (or which is the first topic), flips it to
// unlocked/active. Tie-breaker: order, then creation time.
func (s *Store) UnlockNextTopic(ctx context.Context, virtualModuleID string) (*Topic, error) {
	topics, err := s.TopicsForModule(ctx, virtualModuleID)
	if err != nil {
		return nil, err
	}

	candidate := selectTopicToUnlock(topics)
	if candidate == nil {
		return nil, apperrors.New(apperrors.KindNotFound, "no eligible topic to unlock")
	}

	now := time.Now().UTC()
	after := options.After
	var updated Topic
	err = s.topics.FindOneAndUpdate(ctx,
		bson.M{"_id": candidate.ID},
		bson.M{"$set": bson.M{"locked": false, "status": TopicActive, "updated_at": now}},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	).Decode(&updated)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "unlock next topic", err)
	}
	return &updated, nil
}

// selectTopicToUnlock picks the lowest-ordered locked topic in topics
// (already sorted by order) whose previous sibling is completed, or the
// first topic if it's still locked. Extracted from UnlockNextTopic so the
// selection can be tested without Mongo.
func selectTopicToUnlock(topics []Topic) *Topic {
	for i := range topics {
		t := &topics[i]
		if !t.Locked {
			continue
		}
		isFirst := i == 0
		prevCompleted := !isFirst && topics[i-1].Status == TopicCompleted
		if isFirst || prevCompleted {
			return t
		}
	}
	return nil
}

// RecordResult writes a ContentResult and recomputes the owning topic's
// progress from completion_percentage.
func (s *Store) RecordResult(ctx context.Context, studentID, virtualContentID string, score, completionPct float64) (*Result, error) {
	r := &Result{
		ID:                   store.NewID(),
		StudentID:            studentID,
		VirtualContentID:     virtualContentID,
		Score:                score,
		CompletionPercentage: completionPct,
		CreatedAt:            time.Now().UTC(),
	}
	if _, err := s.results.InsertOne(ctx, r); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "insert content result", err)
	}

	var vc TopicContent
	if err := s.contents.FindOne(ctx, bson.M{"_id": virtualContentID}).Decode(&vc); err != nil {
		if err == mongo.ErrNoDocuments {
			return r, nil
		}
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "load virtual content for result", err)
	}
	if _, err := s.MarkTopicProgress(ctx, vc.VirtualTopicID, completionPct); err != nil {
		return nil, err
	}
	return r, nil
}

// DistinctStudents returns every distinct student_id with a VirtualModule
// over any of the given modules, for the scheduler's periodic sweep.
func (s *Store) DistinctStudents(ctx context.Context, moduleIDs []string) ([]string, error) {
	raw, err := s.modules.Distinct(ctx, "student_id", bson.M{"module_id": bson.M{"$in": moduleIDs}})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "distinct students", err)
	}
	students := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			students = append(students, id)
		}
	}
	return students, nil
}

// GetModuleByStudentAndModule loads a VirtualModule by its natural key
// without creating one, for callers (like sync) that must not materialize
// a VM that doesn't already exist.
func (s *Store) GetModuleByStudentAndModule(ctx context.Context, studentID, moduleID string) (*Module, error) {
	var vm Module
	err := s.modules.FindOne(ctx, bson.M{"student_id": studentID, "module_id": moduleID}).Decode(&vm)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperrors.New(apperrors.KindNotFound, "virtual module not found")
		}
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "load virtual module by natural key", err)
	}
	return &vm, nil
}

// GetModule loads a VirtualModule by id.
func (s *Store) GetModule(ctx context.Context, id string) (*Module, error) {
	var vm Module
	if err := s.modules.FindOne(ctx, bson.M{"_id": id}).Decode(&vm); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperrors.New(apperrors.KindNotFound, "virtual module not found")
		}
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "load virtual module", err)
	}
	return &vm, nil
}

// ModulesForStudent returns every VirtualModule a student has over a plan's
// modules — used by the scheduler's sliding-window policy.
func (s *Store) ModulesForStudent(ctx context.Context, studentID string, moduleIDs []string) ([]Module, error) {
	cur, err := s.modules.Find(ctx, bson.M{"student_id": studentID, "module_id": bson.M{"$in": moduleIDs}})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "list student virtual modules", err)
	}
	var modules []Module
	if err := cur.All(ctx, &modules); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "decode student virtual modules", err)
	}
	return modules, nil
}

// ModulesWithStatus returns every VirtualModule over a given source module
// whose generation_status is one of the given statuses — used by C8 to
// find affected students.
func (s *Store) ModulesWithStatus(ctx context.Context, moduleID string, statuses ...GenerationStatus) ([]Module, error) {
	cur, err := s.modules.Find(ctx, bson.M{"module_id": moduleID, "generation_status": bson.M{"$in": statuses}})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "list virtual modules by status", err)
	}
	var modules []Module
	if err := cur.All(ctx, &modules); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "decode virtual modules by status", err)
	}
	return modules, nil
}

// TopicBySource finds the VirtualTopic materializing a given source topic
// within a VirtualModule, used by the reconciler to locate the counterpart
// of an instructor-side edit.
func (s *Store) TopicBySource(ctx context.Context, virtualModuleID, topicID string) (*Topic, error) {
	var t Topic
	err := s.topics.FindOne(ctx, bson.M{"virtual_module_id": virtualModuleID, "topic_id": topicID}).Decode(&t)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperrors.New(apperrors.KindNotFound, "virtual topic not found")
		}
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "load virtual topic by source", err)
	}
	return &t, nil
}

// ContentBySourceAcrossStudents finds VirtualTopicContents derived from a given source
// TopicContent across all students — used by the reconciler's refresh fan-out.
func (s *Store) ContentBySourceAcrossStudents(ctx context.Context, sourceContentID string) ([]TopicContent, error) {
	cur, err := s.contents.Find(ctx, bson.M{"source_content_id": sourceContentID})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "list contents by source", err)
	}
	var contents []TopicContent
	if err := cur.All(ctx, &contents); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "decode contents by source", err)
	}
	return contents, nil
}

// GetTopic loads a VirtualTopic by id, used by the reconciler to resolve a
// content row's owning student.
func (s *Store) GetTopic(ctx context.Context, virtualTopicID string) (*Topic, error) {
	var t Topic
	err := s.topics.FindOne(ctx, bson.M{"_id": virtualTopicID}).Decode(&t)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperrors.New(apperrors.KindNotFound, "virtual topic not found")
		}
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "load virtual topic", err)
	}
	return &t, nil
}

// SoftDeleteTopic handles a retract sync by re-locking a VirtualTopic
// (status locked, locked true); the topic and its contents stay in place.
func (s *Store) SoftDeleteTopic(ctx context.Context, virtualTopicID string) error {
	_, err := s.topics.UpdateOne(ctx, bson.M{"_id": virtualTopicID}, bson.M{"$set": bson.M{
		"status":     TopicLocked,
		"locked":     true,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvariantViolation, "soft delete virtual topic", err)
	}
	return nil
}

// SoftDeleteContent marks a VirtualTopicContent removed without deleting
// ContentResult rows, per §4.8's audit-retention rule.
func (s *Store) SoftDeleteContent(ctx context.Context, virtualContentID string) error {
	_, err := s.contents.UpdateOne(ctx, bson.M{"_id": virtualContentID}, bson.M{"$set": bson.M{
		"status":     "deleted",
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvariantViolation, "soft delete virtual content", err)
	}
	return nil
}
