package content

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AlfredDev/virtualize/apperrors"
	"github.com/AlfredDev/virtualize/store"
)

// PublishReconciler is notified when a Topic transitions published
// false→true, so C8 can enqueue catch-up work without content importing
// the sync package (which itself depends on content/virtual for reads).
type PublishReconciler interface {
	ReconcileTopicPublished(ctx context.Context, topicID, moduleID string) error
	ReconcileTopicUnpublished(ctx context.Context, topicID, moduleID string) error
}

// Store implements the Content Store (C1).
type Store struct {
	plans    *mongo.Collection
	modules  *mongo.Collection
	topics   *mongo.Collection
	contents *mongo.Collection
	log      zerolog.Logger

	reconciler PublishReconciler
}

func New(s *store.Store, log zerolog.Logger) *Store {
	return &Store{
		plans:    s.Collection(store.CollStudyPlans),
		modules:  s.Collection(store.CollModules),
		topics:   s.Collection(store.CollTopics),
		contents: s.Collection(store.CollTopicContents),
		log:      log.With().Str("component", "content").Logger(),
	}
}

// SetReconciler wires the Sync Reconciler (C8) in after construction, since
// C8 itself depends on reads this store exposes.
func (s *Store) SetReconciler(r PublishReconciler) {
	s.reconciler = r
}

// SetTopicPublished flips a Topic's published flag and, on a false→true
// transition, notifies the reconciler per §4.1.
func (s *Store) SetTopicPublished(ctx context.Context, topicID string, published bool) error {
	var before Topic
	if err := s.topics.FindOne(ctx, bson.M{"_id": topicID}).Decode(&before); err != nil {
		if err == mongo.ErrNoDocuments {
			return apperrors.New(apperrors.KindNotFound, "topic not found")
		}
		return apperrors.Wrap(apperrors.KindInvariantViolation, "load topic", err)
	}

	_, err := s.topics.UpdateOne(ctx, bson.M{"_id": topicID}, bson.M{"$set": bson.M{
		"published":  published,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvariantViolation, "update topic", err)
	}

	if s.reconciler == nil {
		return nil
	}
	if !before.Published && published {
		return s.reconciler.ReconcileTopicPublished(ctx, topicID, before.ModuleID)
	}
	if before.Published && !published {
		return s.reconciler.ReconcileTopicUnpublished(ctx, topicID, before.ModuleID)
	}
	return nil
}

// CreateOrUpdateContent upserts a TopicContent. On a uniqueness violation
// (duplicate quiz for a topic, or duplicate slide order), it merges onto the
// existing document via upsertMergeOnNaturalKey, and returns a duplicate-key
// apperror only when that merge fails.
func (s *Store) CreateOrUpdateContent(ctx context.Context, tc *TopicContent) (*TopicContent, error) {
	now := time.Now().UTC()
	tc.UpdatedAt = now
	if tc.ID == "" {
		tc.ID = store.NewID()
		tc.CreatedAt = now
		if tc.Status == "" {
			tc.Status = ContentActive
		}
		_, err := s.contents.InsertOne(ctx, tc)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return s.upsertMergeOnNaturalKey(ctx, tc)
			}
			return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "insert topic content", err)
		}
		return tc, nil
	}

	_, err := s.contents.UpdateOne(ctx, bson.M{"_id": tc.ID}, bson.M{"$set": tc})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return s.upsertMergeOnNaturalKey(ctx, tc)
		}
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "update topic content", err)
	}
	return tc, nil
}

// upsertMergeOnNaturalKey merges the content payload onto the existing
// active document with the same topic_id and content_type (and, for
// slides, the same order): the duplicate-key recovery described in §4.1.
func (s *Store) upsertMergeOnNaturalKey(ctx context.Context, tc *TopicContent) (*TopicContent, error) {
	filter := bson.M{"topic_id": tc.TopicID, "content_type": tc.ContentType, "status": ContentActive}
	if tc.ContentType == ContentSlide {
		filter["order"] = tc.Order
	}

	after := options.After
	var merged TopicContent
	err := s.contents.FindOneAndUpdate(ctx, filter, bson.M{"$set": bson.M{
		"content":    tc.Content,
		"updated_at": time.Now().UTC(),
	}}, &options.FindOneAndUpdateOptions{ReturnDocument: &after}).Decode(&merged)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDuplicateKey, "content uniqueness conflict could not be merged", err)
	}
	return &merged, nil
}

// PublishedTopicInventory returns a module's published topics in order,
// each with its active content grouped by type — the query §4.1 names for
// C6/C7 consumption.
func (s *Store) PublishedTopicInventory(ctx context.Context, moduleID string) ([]TopicInventory, error) {
	cur, err := s.topics.Find(ctx, bson.M{"module_id": moduleID, "published": true}, options.Find().SetSort(bson.D{{Key: "order", Value: 1}}))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "list published topics", err)
	}
	var topics []Topic
	if err := cur.All(ctx, &topics); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "decode topics", err)
	}

	inventory := make([]TopicInventory, 0, len(topics))
	for _, t := range topics {
		contentCur, err := s.contents.Find(ctx, bson.M{"topic_id": t.ID, "status": ContentActive}, options.Find().SetSort(bson.D{{Key: "order", Value: 1}}))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "list topic contents", err)
		}
		var contents []TopicContent
		if err := contentCur.All(ctx, &contents); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "decode topic contents", err)
		}
		grouped := map[ContentType][]TopicContent{}
		for _, c := range contents {
			grouped[c.ContentType] = append(grouped[c.ContentType], c)
		}
		inventory = append(inventory, TopicInventory{Topic: t, Contents: grouped})
	}

	sort.Slice(inventory, func(i, j int) bool { return inventory[i].Topic.Order < inventory[j].Topic.Order })
	return inventory, nil
}

// ModuleReadiness answers the "virtualization readiness" query from §4.1.
func (s *Store) ModuleReadiness(ctx context.Context, moduleID string) (ModuleReadiness, error) {
	published, err := s.topics.CountDocuments(ctx, bson.M{"module_id": moduleID, "published": true})
	if err != nil {
		return ModuleReadiness{}, apperrors.Wrap(apperrors.KindInvariantViolation, "count published topics", err)
	}
	total, err := s.topics.CountDocuments(ctx, bson.M{"module_id": moduleID})
	if err != nil {
		return ModuleReadiness{}, apperrors.Wrap(apperrors.KindInvariantViolation, "count topics", err)
	}
	return ModuleReadiness{PublishedTopicCount: int(published), TotalTopicCount: int(total)}, nil
}

// GetModule loads a Module by id.
func (s *Store) GetModule(ctx context.Context, moduleID string) (*Module, error) {
	var m Module
	if err := s.modules.FindOne(ctx, bson.M{"_id": moduleID}).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperrors.New(apperrors.KindNotFound, "module not found")
		}
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "load module", err)
	}
	return &m, nil
}

// ModulesForPlan returns a study plan's modules in order.
func (s *Store) ModulesForPlan(ctx context.Context, planID string) ([]Module, error) {
	cur, err := s.modules.Find(ctx, bson.M{"study_plan_id": planID}, options.Find().SetSort(bson.D{{Key: "order", Value: 1}}))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "list modules", err)
	}
	var modules []Module
	if err := cur.All(ctx, &modules); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "decode modules", err)
	}
	return modules, nil
}

// UpdateVirtualizationSettings applies §6.1's PUT /modules/{id}/virtualization-settings.
func (s *Store) UpdateVirtualizationSettings(ctx context.Context, moduleID string, settings VirtualizationSettings) error {
	res, err := s.modules.UpdateOne(ctx, bson.M{"_id": moduleID}, bson.M{"$set": bson.M{
		"virtualization_settings": settings,
		"updated_at":              time.Now().UTC(),
	}})
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvariantViolation, "update virtualization settings", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.New(apperrors.KindNotFound, "module not found")
	}
	return nil
}

// GetTopic loads a Topic by id, used by handlers that need its owning
// module id before calling back into the reconciler.
func (s *Store) GetTopic(ctx context.Context, topicID string) (*Topic, error) {
	var t Topic
	if err := s.topics.FindOne(ctx, bson.M{"_id": topicID}).Decode(&t); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperrors.New(apperrors.KindNotFound, "topic not found")
		}
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "load topic", err)
	}
	return &t, nil
}

// DeleteTopic soft-deletes a Topic's TopicContents, per the cascade rule in
// §4.1, and returns the ids of the contents it deleted so the caller can
// notify the reconciler (one ReconcileContentDeleted per id).
func (s *Store) DeleteTopic(ctx context.Context, topicID string) ([]string, error) {
	cur, err := s.contents.Find(ctx, bson.M{"topic_id": topicID, "status": ContentActive})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "list topic contents for cascade", err)
	}
	var contents []TopicContent
	if err := cur.All(ctx, &contents); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "decode topic contents for cascade", err)
	}

	_, err = s.contents.UpdateMany(ctx, bson.M{"topic_id": topicID}, bson.M{"$set": bson.M{
		"status":     ContentDeleted,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "cascade soft-delete topic contents", err)
	}

	ids := make([]string, len(contents))
	for i, c := range contents {
		ids[i] = c.ID
	}
	return ids, nil
}

// DeletedTopic pairs a cascaded Topic with the TopicContent ids it took
// down with it, so DeleteModule's caller can fan out one reconcile call
// per deleted content per topic.
type DeletedTopic struct {
	TopicID    string
	ContentIDs []string
}

// DeleteModule cascades to Topics (and, by extension, their TopicContents).
// VirtualModules over the module are left to the caller (virtual package) —
// content does not import virtual to avoid a cycle.
func (s *Store) DeleteModule(ctx context.Context, moduleID string) ([]DeletedTopic, error) {
	cur, err := s.topics.Find(ctx, bson.M{"module_id": moduleID})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "list topics for cascade", err)
	}
	var topics []Topic
	if err := cur.All(ctx, &topics); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "decode topics for cascade", err)
	}

	deleted := make([]DeletedTopic, 0, len(topics))
	for _, t := range topics {
		contentIDs, err := s.DeleteTopic(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		deleted = append(deleted, DeletedTopic{TopicID: t.ID, ContentIDs: contentIDs})
	}
	return deleted, nil
}
