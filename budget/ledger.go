package budget

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/AlfredDev/virtualize/apperrors"
	"github.com/AlfredDev/virtualize/store"
)

// Window is an aggregation window for calculate_usage.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// Ledger implements the Budget Ledger (C3): AICall storage and rolling
// usage aggregates.
type Ledger struct {
	calls  *mongo.Collection
	config *mongo.Collection
	alerts *mongo.Collection
	log    zerolog.Logger
}

func NewLedger(s *store.Store, log zerolog.Logger) *Ledger {
	return &Ledger{
		calls:  s.Collection(store.CollAICalls),
		config: s.Collection(store.CollBudgetConfig),
		alerts: s.Collection(store.CollBudgetAlerts),
		log:    log.With().Str("component", "budget-ledger").Logger(),
	}
}

// GetConfig loads the singleton BudgetConfig, seeding sane defaults if none
// has ever been written.
func (l *Ledger) GetConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	err := l.config.FindOne(ctx, bson.M{"_id": configDocID}).Decode(&cfg)
	if err == mongo.ErrNoDocuments {
		return defaultConfig(), nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "load budget config", err)
	}
	return &cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ID:                configDocID,
		DailyBudget:       100.0,
		WeeklyBudget:      500.0,
		MonthlyBudget:     1800.0,
		ProviderLimits:    map[string]Limits{},
		UserDailyLimit:    10.0,
		UserWeeklyLimit:   50.0,
		UserMonthlyLimit:  180.0,
		AlertThresholds:   []float64{0.5, 0.8, 0.95},
		CustomModelPrices: map[string]ModelPrice{},
	}
}

// PutConfig persists BudgetConfig (PUT /ai-monitoring/config).
func (l *Ledger) PutConfig(ctx context.Context, cfg *Config) error {
	cfg.ID = configDocID
	upsert := true
	_, err := l.config.ReplaceOne(ctx, bson.M{"_id": configDocID}, cfg, &mongo.ReplaceOptions{Upsert: &upsert})
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvariantViolation, "put budget config", err)
	}
	return nil
}

// windowBounds returns the [start, end) of the UTC window containing now,
// with day boundaries at 00:00 UTC as the spec requires.
func windowBounds(w Window, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch w {
	case WindowWeekly:
		offset := (int(dayStart.Weekday()) + 6) % 7 // Monday-anchored week
		start := dayStart.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case WindowMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default:
		return dayStart, dayStart.AddDate(0, 0, 1)
	}
}

// Scope narrows calculate_usage and admission checks to a provider and/or
// user; the zero value is the global scope.
type Scope struct {
	Provider string
	UserID   string
}

// CalculateUsage sums total_cost across success=true AICalls within the
// window, optionally filtered to a provider/user scope.
func (l *Ledger) CalculateUsage(ctx context.Context, w Window, scope Scope) (float64, error) {
	start, end := windowBounds(w, time.Now())
	filter := bson.M{
		"success":   true,
		"timestamp": bson.M{"$gte": start, "$lt": end},
	}
	if scope.Provider != "" {
		filter["provider"] = scope.Provider
	}
	if scope.UserID != "" {
		filter["user_id"] = scope.UserID
	}

	cur, err := l.calls.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$total_cost"}}}},
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindInvariantViolation, "aggregate usage", err)
	}
	var rows []struct {
		Total float64 `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, apperrors.Wrap(apperrors.KindInvariantViolation, "decode usage aggregate", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

// Stats answers GET /ai-monitoring/stats over arbitrary filters.
type StatsFilter struct {
	Start, End time.Time
	Provider   string
	UserID     string
	Feature    string
}

type Stats struct {
	TotalCalls      int64   `json:"total_calls"`
	SuccessfulCalls int64   `json:"successful_calls"`
	FailedCalls     int64   `json:"failed_calls"`
	TotalCost       float64 `json:"total_cost"`
	TotalTokens     int64   `json:"total_tokens"`
}

func (l *Ledger) Stats(ctx context.Context, f StatsFilter) (Stats, error) {
	filter := bson.M{}
	if !f.Start.IsZero() || !f.End.IsZero() {
		tf := bson.M{}
		if !f.Start.IsZero() {
			tf["$gte"] = f.Start
		}
		if !f.End.IsZero() {
			tf["$lte"] = f.End
		}
		filter["timestamp"] = tf
	}
	if f.Provider != "" {
		filter["provider"] = f.Provider
	}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.Feature != "" {
		filter["feature"] = f.Feature
	}

	cur, err := l.calls.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: bson.M{
			"_id":         nil,
			"total_calls": bson.M{"$sum": 1},
			"successful":  bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$success", true}}, 1, 0}}},
			"failed":      bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$success", false}}, 1, 0}}},
			"total_cost":  bson.M{"$sum": "$total_cost"},
			"total_tokens": bson.M{"$sum": "$total_tokens"},
		}}},
	})
	if err != nil {
		return Stats{}, apperrors.Wrap(apperrors.KindInvariantViolation, "aggregate stats", err)
	}
	var rows []struct {
		TotalCalls  int64   `bson:"total_calls"`
		Successful  int64   `bson:"successful"`
		Failed      int64   `bson:"failed"`
		TotalCost   float64 `bson:"total_cost"`
		TotalTokens int64   `bson:"total_tokens"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return Stats{}, apperrors.Wrap(apperrors.KindInvariantViolation, "decode stats aggregate", err)
	}
	if len(rows) == 0 {
		return Stats{}, nil
	}
	r := rows[0]
	return Stats{
		TotalCalls:      r.TotalCalls,
		SuccessfulCalls: r.Successful,
		FailedCalls:     r.Failed,
		TotalCost:       r.TotalCost,
		TotalTokens:     r.TotalTokens,
	}, nil
}
