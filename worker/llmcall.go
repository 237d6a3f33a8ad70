package worker

import (
	"context"
	"time"

	"github.com/AlfredDev/virtualize/budget"
	"github.com/AlfredDev/virtualize/llm"
	"github.com/AlfredDev/virtualize/store"
)

// defaultModel is the generation model this worker uses for adaptation
// calls. A future iteration could vary this per feature or per
// institute policy; today it is fixed.
const defaultModel = "gpt-4o-mini"

// generateBudgeted runs one LLM generation under the Budget Gate: it
// estimates prompt tokens, registers the call pre-flight, performs the
// call, and settles it post-flight regardless of outcome. Errors from the
// Budget Gate and the provider call are *apperrors.Error values the caller
// can classify (budget-denied, provider-transient, ...); a provider missing
// from the registry comes back as the registry's plain error.
func (p *Pool) generateBudgeted(ctx context.Context, userID, feature, prompt string) (*llm.Response, error) {
	provider := llm.DetectProvider(defaultModel)
	client, err := p.llm.Get(provider)
	if err != nil {
		return nil, err
	}

	promptTokens := llm.EstimateTokens(prompt)
	callID := store.NewID()
	if _, err := p.gate.RegisterCall(ctx, budget.CallMeta{
		CallID:       callID,
		Provider:     provider,
		ModelName:    defaultModel,
		UserID:       userID,
		Feature:      feature,
		PromptTokens: promptTokens,
	}); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, genErr := client.Generate(ctx, llm.Request{Model: defaultModel, Prompt: prompt})
	latencyMs := float64(time.Since(start).Milliseconds())

	settlement := budget.Settlement{
		ResponseTimeMs: int(latencyMs),
		Success:        genErr == nil,
	}
	var tokens int64
	if resp != nil {
		settlement.CompletionTokens = resp.CompletionTokens
		tokens = int64(promptTokens + resp.CompletionTokens)
	}
	outcome := "success"
	if genErr != nil {
		settlement.ErrorMessage = genErr.Error()
		outcome = "error"
	}
	if p.metrics != nil {
		p.metrics.TrackGeneration(feature, provider, defaultModel, outcome, latencyMs, tokens)
	}
	if _, err := p.gate.UpdateCall(ctx, callID, settlement); err != nil {
		p.log.Error().Err(err).Str("call_id", callID).Msg("failed to settle ai call")
	}

	return resp, genErr
}
