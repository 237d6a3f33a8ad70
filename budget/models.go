// Package budget implements the Budget Ledger (C3) and Budget Gate (C4):
// AICall accounting, the pricing table, and the reserve/settle admission
// gate that bounds LLM spend.
package budget

import "time"

// AICall is one LLM invocation, admitted pre-flight and settled post-flight.
// Success is a tri-state: nil while in-flight, true/false once settled.
type AICall struct {
	CallID         string    `bson:"_id"`
	Timestamp      time.Time `bson:"timestamp"`
	Provider       string    `bson:"provider"`
	ModelName      string    `bson:"model_name"`
	UserID         string    `bson:"user_id"`
	Feature        string    `bson:"feature"`
	PromptTokens   int       `bson:"prompt_tokens"`
	CompletionTokens int     `bson:"completion_tokens"`
	TotalTokens    int       `bson:"total_tokens"`
	InputCost      float64   `bson:"input_cost"`
	OutputCost     float64   `bson:"output_cost"`
	TotalCost      float64   `bson:"total_cost"`
	ResponseTimeMs int       `bson:"response_time_ms"`
	Success        *bool     `bson:"success"`
	ErrorMessage   string    `bson:"error_message,omitempty"`
}

// Limits is a daily/weekly/monthly ceiling triple, USD.
type Limits struct {
	Daily   float64 `bson:"daily"`
	Weekly  float64 `bson:"weekly"`
	Monthly float64 `bson:"monthly"`
}

// Config is the singleton BudgetConfig document.
type Config struct {
	ID                string            `bson:"_id"`
	DailyBudget       float64           `bson:"daily_budget"`
	WeeklyBudget      float64           `bson:"weekly_budget"`
	MonthlyBudget     float64           `bson:"monthly_budget"`
	ProviderLimits    map[string]Limits `bson:"provider_limits"`
	UserDailyLimit    float64           `bson:"user_daily_limit"`
	UserWeeklyLimit   float64           `bson:"user_weekly_limit"`
	UserMonthlyLimit  float64           `bson:"user_monthly_limit"`
	AlertThresholds   []float64         `bson:"alert_thresholds"`
	CustomModelPrices map[string]ModelPrice `bson:"custom_model_prices"`
}

// configDocID is the fixed id of the singleton BudgetConfig document.
const configDocID = "singleton"

// Alert is one BudgetAlert. ScopeType/ScopeKey back the single-fire-per-
// (scope, threshold, day) invariant's storage index; Provider/UserID mirror
// ScopeKey into the spec's named fields for API responses.
type Alert struct {
	AlertID      string    `bson:"_id"`
	Type         string    `bson:"type"` // "global", "provider", "user"
	Threshold    float64   `bson:"threshold"`
	CurrentUsage float64   `bson:"current_usage"`
	Provider     string    `bson:"provider,omitempty"`
	UserID       string    `bson:"user_id,omitempty"`
	TriggeredAt  time.Time `bson:"triggered_at"`
	Dismissed    bool      `bson:"dismissed"`
	ScopeType    string    `bson:"scope_type"`
	ScopeKey     string    `bson:"scope_key"`
	Day          string    `bson:"day"` // UTC yyyy-mm-dd, for the single-fire-per-day invariant
}

// CallMeta is the admission request for register_call.
type CallMeta struct {
	CallID       string
	Provider     string
	ModelName    string
	UserID       string
	Feature      string
	PromptTokens int
}

// Settlement is the post-flight update for update_call.
type Settlement struct {
	CompletionTokens int
	ResponseTimeMs   int
	Success          bool
	ErrorMessage     string
}
