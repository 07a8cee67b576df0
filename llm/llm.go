package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fabfab/codexplain/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Request is a single-turn completion: the caller's messages plus sampling
// temperature. Providers make exactly one outbound call per Generate.
type Request struct {
	Messages    []Message
	Temperature float32
}

// NewRequest builds the system-instruction + user-content pair used by every
// caller in this module.
func NewRequest(system, user string, temperature float32) Request {
	return Request{
		Messages: []Message{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: user},
		},
		Temperature: temperature,
	}
}

type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type Options struct {
	Provider string
	Model    string
	Timeout  time.Duration

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
}

// NewClient builds the configured provider and wraps it with the retry and
// throttling policy from cfg.LLM.
func NewClient(ctx context.Context, cfg config.Config, logger *zap.Logger) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		Timeout:       time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
	}

	var (
		provider Client
		err      error
	)
	switch opts.Provider {
	case config.ProviderOllama:
		provider = NewOllamaClient(opts)
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		provider = NewOpenAIClient(opts)
	case config.ProviderGemini:
		if opts.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini provider selected but GEMINI_API_KEY not set")
		}
		provider, err = NewGeminiClient(ctx, opts)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}

	policy := RetryPolicy{
		MaxRetries: cfg.LLM.MaxRetries,
		Backoff:    time.Duration(cfg.LLM.RetryBackoffMs) * time.Millisecond,
		Timeout:    opts.Timeout,
	}
	return WithRetry(provider, policy, NewLimiter(cfg.LLM.RequestsPerMinute), logger), nil
}
