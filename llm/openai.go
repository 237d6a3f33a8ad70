package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AlfredDev/virtualize/apperrors"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient implements Client for OpenAI's chat completions API.
type OpenAIClient struct {
	apiKey string
	client *http.Client
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey: apiKey,
		client: &http.Client{
			Transport: &http.Transport{MaxIdleConns: 50, MaxIdleConnsPerHost: 10, IdleConnTimeout: 90 * time.Second},
			Timeout:   120 * time.Second,
		},
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(openAIChatRequest{
		Model:       req.Model,
		Messages:    []openAIChatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "marshal openai request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIBaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, "build openai request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindProviderTransient, "openai request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, apperrors.New(apperrors.KindProviderTransient, fmt.Sprintf("openai returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, apperrors.New(apperrors.KindInvariantViolation, fmt.Sprintf("openai returned %d: %s", resp.StatusCode, respBody))
	}

	var chatResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, apperrors.Wrap(apperrors.KindProviderTransient, "decode openai response", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, apperrors.New(apperrors.KindProviderTransient, "openai returned no choices")
	}
	return &Response{
		Text:             chatResp.Choices[0].Message.Content,
		CompletionTokens: chatResp.Usage.CompletionTokens,
	}, nil
}
