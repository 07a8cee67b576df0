package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/codexplain/cache"
	"github.com/fabfab/codexplain/chunker"
	"github.com/fabfab/codexplain/llm"
	"github.com/fabfab/codexplain/metrics"
)

const (
	// QuotaPlaceholder replaces an explanation when the provider's usage
	// limit is exhausted.
	QuotaPlaceholder = "Sorry, I can't use the explanation service right now because the usage limit has been reached. Please try again later."

	failurePrefix = "Error while getting the explanation: "

	DefaultTemperature float32 = 0.2
)

type Status string

const (
	StatusOK            Status = "ok"
	StatusQuotaExceeded Status = "quota_exceeded"
	StatusFailed        Status = "failed"
)

// Fragment is the explanation of one block. Provider failures are reported
// in Status and Text, never as an error.
type Fragment struct {
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
	Status  Status `json:"status"`
	Err     error  `json:"-"`
}

// Explainer asks the model to explain one block at a time.
type Explainer struct {
	client      llm.Client
	cache       cache.Cache
	model       string
	temperature float32
	persona     string
	logger      *zap.Logger
}

type ExplainerOptions struct {
	Model       string
	Temperature float32
	// Language names the snippet language in the persona; empty keeps it generic.
	Language string
	Cache    cache.Cache
}

func NewExplainer(client llm.Client, opts ExplainerOptions, logger *zap.Logger) *Explainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	return &Explainer{
		client:      client,
		cache:       opts.Cache,
		model:       opts.Model,
		temperature: temperature,
		persona:     persona(opts.Language),
		logger:      logger,
	}
}

func persona(language string) string {
	fragment := "a fragment of code"
	if language = strings.TrimSpace(language); language != "" {
		fragment = fmt.Sprintf("a fragment of %s code", strings.ToUpper(language[:1])+language[1:])
	}
	return "You are a friendly programming teacher for a 13-year-old child. " +
		"You will receive " + fragment + " and I will ask you to explain what it does, " +
		"step by step, in simple words. You may quote the fragments of code you discuss, " +
		"but explain them in a clear, friendly way."
}

// Explain makes at most one provider call for block.
func (e *Explainer) Explain(ctx context.Context, block chunker.CodeBlock) Fragment {
	key := cache.Key(e.model, e.persona, e.temperature, block.Text)
	if text, ok := e.cached(ctx, key); ok {
		return e.result(Fragment{Ordinal: block.Ordinal, Text: text, Status: StatusOK})
	}

	text, err := e.client.Generate(ctx, llm.NewRequest(e.persona, block.Text, e.temperature))
	if err != nil {
		return e.result(e.failure(block, err))
	}

	if e.cache != nil {
		if setErr := e.cache.Set(ctx, key, text); setErr != nil {
			e.logger.Warn("store explanation in cache", zap.Error(setErr))
		}
	}
	return e.result(Fragment{Ordinal: block.Ordinal, Text: text, Status: StatusOK})
}

func (e *Explainer) cached(ctx context.Context, key string) (string, bool) {
	if e.cache == nil {
		return "", false
	}
	text, err := e.cache.Get(ctx, key)
	switch {
	case err == nil:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return text, true
	case errors.Is(err, cache.ErrCacheMiss):
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	default:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		e.logger.Warn("read explanation cache", zap.Error(err))
	}
	return "", false
}

func (e *Explainer) failure(block chunker.CodeBlock, err error) Fragment {
	frag := Fragment{Ordinal: block.Ordinal, Err: err}
	if llm.Classify(err) == llm.ClassQuota {
		frag.Status = StatusQuotaExceeded
		frag.Text = QuotaPlaceholder
		e.logger.Warn("explanation quota exhausted", zap.Int("ordinal", block.Ordinal), zap.Error(err))
		return frag
	}

	frag.Status = StatusFailed
	frag.Text = failurePrefix + err.Error()
	e.logger.Error("explanation failed", zap.Int("ordinal", block.Ordinal), zap.Error(err))
	return frag
}

func (e *Explainer) result(frag Fragment) Fragment {
	metrics.BlocksExplained.WithLabelValues(string(frag.Status)).Inc()
	return frag
}
