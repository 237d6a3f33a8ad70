// Package llm is a trimmed provider abstraction: the Generation Worker
// (C6) only ever needs one synchronous "generate content" call per
// provider, never the gateway's full streaming/embeddings/tool-calling
// surface.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Client is the interface every provider connector implements.
type Client interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Request is a single-shot generation call.
type Request struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response carries the generated text plus the usage the Budget Gate
// needs settled via update_call.
type Response struct {
	Text             string
	CompletionTokens int
}

// Registry holds one Client per provider name.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = c
}

func (r *Registry) Get(provider string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[provider]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", provider)
	}
	return c, nil
}

// DetectProvider maps a model name to the provider that serves it,
// trimmed from the gateway's pattern table to the three providers this
// domain prices.
func DetectProvider(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gpt"):
		return "openai"
	case strings.Contains(m, "claude"):
		return "anthropic"
	case strings.Contains(m, "gemini"):
		return "google"
	default:
		return "unknown"
	}
}

// EstimateTokens is a character-based estimate (English ~4 chars/token),
// used by the worker to size an admission request before the provider
// call returns real usage.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return len(text)/4 + 3
}
