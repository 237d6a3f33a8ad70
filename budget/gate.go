package budget

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/AlfredDev/virtualize/apperrors"
	"github.com/AlfredDev/virtualize/observability"
	"github.com/AlfredDev/virtualize/store"
)

// Gate implements the Budget Gate (C4): reserve-then-settle admission
// control over the Budget Ledger, grounded on the gateway's
// ReservationStore — same "reserved → settled" lifecycle, here backed by
// the AICall document itself rather than an in-memory map.
type Gate struct {
	ledger  *Ledger
	locks   *scopeLock
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewGate(ledger *Ledger, log zerolog.Logger, metrics *observability.Metrics) *Gate {
	return &Gate{
		ledger:  ledger,
		locks:   newScopeLock(),
		log:     log.With().Str("component", "budget-gate").Logger(),
		metrics: metrics,
	}
}

func (g *Gate) trackDenial(scopeType string) {
	if g.metrics != nil {
		g.metrics.TrackBudgetDenial(scopeType, string(WindowDaily))
	}
}

const (
	scopeGlobal = "scope:global"
)

func providerScope(provider string) string { return "scope:provider:" + provider }
func userScope(userID string) string       { return "scope:user:" + userID }

// RegisterCall is the pre-flight admission check, §4.4.
func (g *Gate) RegisterCall(ctx context.Context, meta CallMeta) (string, error) {
	var existing AICall
	err := g.ledger.calls.FindOne(ctx, bson.M{"_id": meta.CallID}).Decode(&existing)
	if err == nil {
		return "", apperrors.New(apperrors.KindDuplicateKey, "call id already registered")
	}
	if err != mongo.ErrNoDocuments {
		return "", apperrors.Wrap(apperrors.KindInvariantViolation, "check call replay", err)
	}

	cfg, err := g.ledger.GetConfig(ctx)
	if err != nil {
		return "", err
	}
	price := priceLookup(meta.ModelName, cfg.CustomModelPrices, g.log)
	estimate := float64(meta.PromptTokens)/1000*price.Input + 1.5*float64(meta.PromptTokens)/1000*price.Output

	unlock := g.locks.lockScopes(scopeGlobal, providerScope(meta.Provider), userScope(meta.UserID))
	defer unlock()

	globalUsage, err := g.ledger.CalculateUsage(ctx, WindowDaily, Scope{})
	if err != nil {
		return "", err
	}
	userUsage, err := g.ledger.CalculateUsage(ctx, WindowDaily, Scope{UserID: meta.UserID})
	if err != nil {
		return "", err
	}
	providerUsage, err := g.ledger.CalculateUsage(ctx, WindowDaily, Scope{Provider: meta.Provider})
	if err != nil {
		return "", err
	}

	// Most-specific violation wins: user > provider > global.
	if cfg.UserDailyLimit > 0 && userUsage+estimate > cfg.UserDailyLimit {
		g.trackDenial("user")
		return "", apperrors.New(apperrors.KindBudgetDenied, "user-budget-exceeded").WithDetails(map[string]any{
			"scope": "user", "user_id": meta.UserID, "usage": userUsage, "estimate": estimate, "limit": cfg.UserDailyLimit,
		})
	}
	if limits, ok := cfg.ProviderLimits[meta.Provider]; ok && limits.Daily > 0 && providerUsage+estimate > limits.Daily {
		g.trackDenial("provider")
		return "", apperrors.New(apperrors.KindBudgetDenied, "provider-budget-exceeded").WithDetails(map[string]any{
			"scope": "provider", "provider": meta.Provider, "usage": providerUsage, "estimate": estimate, "limit": limits.Daily,
		})
	}
	if globalUsage+estimate > cfg.DailyBudget {
		g.trackDenial("global")
		return "", apperrors.New(apperrors.KindBudgetDenied, "daily-budget-exceeded").WithDetails(map[string]any{
			"scope": "global", "usage": globalUsage, "estimate": estimate, "limit": cfg.DailyBudget,
		})
	}

	call := AICall{
		CallID:       meta.CallID,
		Timestamp:    time.Now().UTC(),
		Provider:     meta.Provider,
		ModelName:    meta.ModelName,
		UserID:       meta.UserID,
		Feature:      meta.Feature,
		PromptTokens: meta.PromptTokens,
		Success:      nil,
	}
	if _, err := g.ledger.calls.InsertOne(ctx, call); err != nil {
		return "", apperrors.Wrap(apperrors.KindInvariantViolation, "insert ai call", err)
	}
	return meta.CallID, nil
}

// UpdateCall is the post-flight settlement, §4.4. Cost is recomputed
// authoritatively server-side; the Settlement type structurally has no
// cost fields, so a tampered client payload has nothing to inject.
func (g *Gate) UpdateCall(ctx context.Context, callID string, s Settlement) (*AICall, error) {
	var call AICall
	if err := g.ledger.calls.FindOne(ctx, bson.M{"_id": callID}).Decode(&call); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperrors.New(apperrors.KindNotFound, "ai call not found")
		}
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "load ai call", err)
	}

	cfg, err := g.ledger.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	price := priceLookup(call.ModelName, cfg.CustomModelPrices, g.log)
	inputCost := float64(call.PromptTokens) / 1000 * price.Input
	outputCost := float64(s.CompletionTokens) / 1000 * price.Output
	totalCost := inputCost + outputCost
	totalTokens := call.PromptTokens + s.CompletionTokens
	success := s.Success

	update := bson.M{
		"$set": bson.M{
			"completion_tokens": s.CompletionTokens,
			"total_tokens":      totalTokens,
			"input_cost":        inputCost,
			"output_cost":       outputCost,
			"total_cost":        totalCost,
			"success":           success,
			"response_time_ms":  s.ResponseTimeMs,
			"error_message":     s.ErrorMessage,
		},
	}
	if _, err := g.ledger.calls.UpdateOne(ctx, bson.M{"_id": callID}, update); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "settle ai call", err)
	}

	call.CompletionTokens = s.CompletionTokens
	call.TotalTokens = totalTokens
	call.InputCost = inputCost
	call.OutputCost = outputCost
	call.TotalCost = totalCost
	call.Success = &success
	call.ResponseTimeMs = s.ResponseTimeMs
	call.ErrorMessage = s.ErrorMessage

	if success {
		if err := g.evaluateAlerts(ctx, cfg, call); err != nil {
			g.log.Error().Err(err).Str("call_id", callID).Msg("alert evaluation failed")
		}
	}
	return &call, nil
}

// evaluateAlerts checks global/provider/user daily usage against the
// configured thresholds and emits a BudgetAlert the first time each
// (scope, threshold, UTC day) is crossed.
func (g *Gate) evaluateAlerts(ctx context.Context, cfg *Config, call AICall) error {
	day := time.Now().UTC().Format("2006-01-02")

	type check struct {
		scopeType, scopeKey, provider, userID string
		budget                                float64
		usage                                 float64
	}

	globalUsage, err := g.ledger.CalculateUsage(ctx, WindowDaily, Scope{})
	if err != nil {
		return err
	}
	checks := []check{{scopeType: "global", scopeKey: "", budget: cfg.DailyBudget, usage: globalUsage}}

	if limits, ok := cfg.ProviderLimits[call.Provider]; ok && limits.Daily > 0 {
		usage, err := g.ledger.CalculateUsage(ctx, WindowDaily, Scope{Provider: call.Provider})
		if err != nil {
			return err
		}
		checks = append(checks, check{scopeType: "provider", scopeKey: call.Provider, provider: call.Provider, budget: limits.Daily, usage: usage})
	}
	if cfg.UserDailyLimit > 0 {
		usage, err := g.ledger.CalculateUsage(ctx, WindowDaily, Scope{UserID: call.UserID})
		if err != nil {
			return err
		}
		checks = append(checks, check{scopeType: "user", scopeKey: call.UserID, userID: call.UserID, budget: cfg.UserDailyLimit, usage: usage})
	}

	for _, c := range checks {
		if g.metrics != nil && c.budget > 0 {
			g.metrics.TrackBudgetUsage(c.scopeType, string(WindowDaily), c.usage/c.budget)
		}
		for _, threshold := range cfg.AlertThresholds {
			if c.usage < threshold*c.budget {
				continue
			}
			existing, err := g.ledger.alerts.CountDocuments(ctx, bson.M{
				"scope_type": c.scopeType,
				"scope_key":  c.scopeKey,
				"threshold":  threshold,
				"day":        day,
				"dismissed":  false,
			})
			if err != nil {
				return apperrors.Wrap(apperrors.KindInvariantViolation, "check existing alert", err)
			}
			if existing > 0 {
				continue
			}
			alert := Alert{
				AlertID:      store.NewID(),
				Type:         c.scopeType,
				Threshold:    threshold,
				CurrentUsage: c.usage,
				Provider:     c.provider,
				UserID:       c.userID,
				TriggeredAt:  time.Now().UTC(),
				Dismissed:    false,
				ScopeType:    c.scopeType,
				ScopeKey:     c.scopeKey,
				Day:          day,
			}
			if _, err := g.ledger.alerts.InsertOne(ctx, alert); err != nil {
				return apperrors.Wrap(apperrors.KindInvariantViolation, "insert budget alert", err)
			}
		}
	}
	return nil
}
