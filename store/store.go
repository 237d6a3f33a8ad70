// Package store wraps the MongoDB driver with the conventions every
// collection in this backend shares: timestamped documents, opaque string
// ids, and an index bootstrap mirroring the original deployment's
// setup_mongodb_indexes.py / setup_topic_content_unique_indexes.py scripts.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store owns the Mongo client/database handle and collection accessors.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    zerolog.Logger
}

// Connect dials MongoDB and pings it, returning a ready Store.
func Connect(ctx context.Context, uri, database string, log zerolog.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return &Store{client: client, db: client.Database(database), log: log}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// Collection names, centralized so every package references the same constants.
const (
	CollStudyPlans        = "study_plans"
	CollModules           = "modules"
	CollTopics            = "topics"
	CollTopicContents     = "topic_contents"
	CollVirtualModules    = "virtual_modules"
	CollVirtualTopics     = "virtual_topics"
	CollVirtualContents   = "virtual_topic_contents"
	CollContentResults    = "content_results"
	CollAICalls           = "ai_calls"
	CollBudgetConfig      = "budget_configs"
	CollBudgetAlerts      = "budget_alerts"
	CollGenerationTasks   = "generation_tasks"
)

// EnsureIndexes creates every secondary/unique index the data model requires.
// Mirrors the original deployment's index-setup scripts; safe to call on
// every startup since CreateOne is idempotent for already-existing indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	type spec struct {
		coll  string
		model mongo.IndexModel
	}

	specs := []spec{
		{
			CollTopicContents,
			mongo.IndexModel{
				Keys:    map[string]int{"topic_id": 1},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(map[string]any{"content_type": "quiz", "status": "active"}),
			},
		},
		{
			CollTopicContents,
			mongo.IndexModel{
				Keys:    map[string]int{"topic_id": 1, "order": 1},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(map[string]any{"content_type": "slide", "status": "active"}),
			},
		},
		{
			CollVirtualModules,
			mongo.IndexModel{
				Keys:    map[string]int{"student_id": 1, "module_id": 1},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			CollVirtualTopics,
			mongo.IndexModel{
				Keys:    map[string]int{"virtual_module_id": 1, "topic_id": 1},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			CollGenerationTasks,
			mongo.IndexModel{
				Keys: map[string]int{"status": 1, "priority": 1, "created_at": 1},
			},
		},
		{
			CollGenerationTasks,
			mongo.IndexModel{
				Keys:    map[string]int{"task_type": 1, "student_id": 1, "module_id": 1, "payload_fingerprint": 1, "status": 1},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(map[string]any{"status": map[string]any{"$in": []string{"pending", "processing"}}}),
			},
		},
		{
			CollAICalls,
			mongo.IndexModel{
				// AICall stores its call id as _id, so no document carries a
				// call_id field; sparse keeps those documents out of the index.
				Keys:    map[string]int{"call_id": 1},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
		},
		{
			CollAICalls,
			mongo.IndexModel{Keys: map[string]int{"user_id": 1, "timestamp": 1}},
		},
		{
			CollAICalls,
			mongo.IndexModel{Keys: map[string]int{"provider": 1, "timestamp": 1}},
		},
		{
			CollBudgetAlerts,
			mongo.IndexModel{Keys: map[string]int{"scope_type": 1, "scope_key": 1, "threshold": 1, "day": 1}},
		},
	}

	for _, sp := range specs {
		if _, err := s.Collection(sp.coll).Indexes().CreateOne(ctx, sp.model); err != nil {
			s.log.Warn().Err(err).Str("collection", sp.coll).Msg("index creation failed or already exists with different options")
		}
	}
	return nil
}

// NewID generates a new opaque document identifier. Mongo's own ObjectID
// would work equally well; a ulid/uuid keeps ids readable across logs and
// task payloads without requiring callers to import the driver's bson
// package just to mint one.
func NewID() string {
	return newUUID()
}
