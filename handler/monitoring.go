package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/AlfredDev/virtualize/apperrors"
	"github.com/AlfredDev/virtualize/budget"
	"github.com/AlfredDev/virtualize/httpx"
)

// MonitoringHandler serves the AI-call monitoring and budget-gate
// endpoints: admission, settlement, stats, and config.
type MonitoringHandler struct {
	gate   *budget.Gate
	ledger *budget.Ledger
	log    zerolog.Logger
}

func NewMonitoringHandler(gate *budget.Gate, ledger *budget.Ledger, log zerolog.Logger) *MonitoringHandler {
	return &MonitoringHandler{gate: gate, ledger: ledger, log: log.With().Str("component", "monitoring-handler").Logger()}
}

type registerCallRequest struct {
	CallID       string `json:"call_id"`
	Provider     string `json:"provider"`
	ModelName    string `json:"model_name"`
	UserID       string `json:"user_id"`
	Feature      string `json:"feature"`
	PromptTokens int    `json:"prompt_tokens"`
}

// RegisterCall handles POST /ai-monitoring/calls, the pre-flight admission
// check.
func (h *MonitoringHandler) RegisterCall(w http.ResponseWriter, r *http.Request) {
	var req registerCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" {
		httpx.RespondError(w, apperrors.New(apperrors.KindValidation, "call_id is required"))
		return
	}
	callID, err := h.gate.RegisterCall(r.Context(), budget.CallMeta{
		CallID:       req.CallID,
		Provider:     req.Provider,
		ModelName:    req.ModelName,
		UserID:       req.UserID,
		Feature:      req.Feature,
		PromptTokens: req.PromptTokens,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Respond(w, http.StatusCreated, map[string]any{"call_id": callID})
}

// updateCallRequest deliberately carries no cost fields: any cost a client
// submits here is ignored, since UpdateCall recomputes cost server-side
// from the priced model and settled token counts (invariant 10).
type updateCallRequest struct {
	CompletionTokens int    `json:"completion_tokens"`
	ResponseTimeMs   int    `json:"response_time_ms"`
	Success          bool   `json:"success"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// UpdateCall handles PUT /ai-monitoring/calls/{call_id}, the post-flight
// settlement.
func (h *MonitoringHandler) UpdateCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "call_id")
	var req updateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, apperrors.New(apperrors.KindValidation, "invalid request body"))
		return
	}
	call, err := h.gate.UpdateCall(r.Context(), callID, budget.Settlement{
		CompletionTokens: req.CompletionTokens,
		ResponseTimeMs:   req.ResponseTimeMs,
		Success:          req.Success,
		ErrorMessage:     req.ErrorMessage,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Respond(w, http.StatusOK, map[string]any{
		"call_id":           call.CallID,
		"total_tokens":      call.TotalTokens,
		"input_cost":        call.InputCost,
		"output_cost":       call.OutputCost,
		"total_cost":        call.TotalCost,
		"success":           call.Success,
	})
}

// Stats handles GET /ai-monitoring/stats.
func (h *MonitoringHandler) Stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := budget.StatsFilter{
		Provider: q.Get("provider"),
		UserID:   q.Get("user_id"),
		Feature:  q.Get("feature"),
	}
	if v := q.Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Start = t
		}
	}
	if v := q.Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.End = t
		}
	}

	stats, err := h.ledger.Stats(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Respond(w, http.StatusOK, stats)
}

type putConfigRequest struct {
	DailyBudget       float64                      `json:"daily_budget"`
	WeeklyBudget      float64                      `json:"weekly_budget"`
	MonthlyBudget     float64                      `json:"monthly_budget"`
	ProviderLimits    map[string]budget.Limits      `json:"provider_limits"`
	UserDailyLimit    float64                      `json:"user_daily_limit"`
	UserWeeklyLimit   float64                      `json:"user_weekly_limit"`
	UserMonthlyLimit  float64                      `json:"user_monthly_limit"`
	AlertThresholds   []float64                    `json:"alert_thresholds"`
	CustomModelPrices map[string]budget.ModelPrice `json:"custom_model_prices"`
}

// PutConfig handles PUT /ai-monitoring/config.
func (h *MonitoringHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var req putConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, apperrors.New(apperrors.KindValidation, "invalid request body"))
		return
	}
	cfg := &budget.Config{
		DailyBudget:       req.DailyBudget,
		WeeklyBudget:      req.WeeklyBudget,
		MonthlyBudget:     req.MonthlyBudget,
		ProviderLimits:    req.ProviderLimits,
		UserDailyLimit:    req.UserDailyLimit,
		UserWeeklyLimit:   req.UserWeeklyLimit,
		UserMonthlyLimit:  req.UserMonthlyLimit,
		AlertThresholds:   req.AlertThresholds,
		CustomModelPrices: req.CustomModelPrices,
	}
	if err := h.ledger.PutConfig(r.Context(), cfg); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Respond(w, http.StatusOK, putConfigRequest{
		DailyBudget:       cfg.DailyBudget,
		WeeklyBudget:      cfg.WeeklyBudget,
		MonthlyBudget:     cfg.MonthlyBudget,
		ProviderLimits:    cfg.ProviderLimits,
		UserDailyLimit:    cfg.UserDailyLimit,
		UserWeeklyLimit:   cfg.UserWeeklyLimit,
		UserMonthlyLimit:  cfg.UserMonthlyLimit,
		AlertThresholds:   cfg.AlertThresholds,
		CustomModelPrices: cfg.CustomModelPrices,
	})
}
