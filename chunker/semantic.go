package chunker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/codexplain/llm"
	"github.com/fabfab/codexplain/metrics"
)

const (
	splitSystemPrompt = "You are an expert programming teacher."

	splitPromptTemplate = "Split the code below into logical sections that separate different programming concepts. " +
		"For each section give a short title and the fragment of code that belongs to it. " +
		"Return only plain JSON without any additional comments or explanations. " +
		"Response format: [{\"title\": \"<title>\", \"code\": \"<code fragment>\"}, ...]\n\n" +
		"Code:\n\n%s"

	// QuotaSectionTitle and QuotaSectionMessage form the section returned when
	// the provider reports an exhausted usage limit.
	QuotaSectionTitle   = "API limit"
	QuotaSectionMessage = "The usage limit has been reached. Please try again later."

	DefaultSplitTemperature float32 = 0.3
)

var (
	errEmptyReply  = errors.New("empty reply")
	errNoSections  = errors.New("reply contains no sections")
	errSectionCode = errors.New("section has no code")
)

// SemanticSplitter asks the model to partition a snippet into titled
// sections. It never fails: quota problems yield a single notice section and
// every other problem yields the whole snippet as one untitled section.
type SemanticSplitter struct {
	client      llm.Client
	temperature float32
	logger      *zap.Logger
}

func NewSemanticSplitter(client llm.Client, temperature float32, logger *zap.Logger) *SemanticSplitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if temperature <= 0 {
		temperature = DefaultSplitTemperature
	}
	return &SemanticSplitter{client: client, temperature: temperature, logger: logger}
}

func (s *SemanticSplitter) Split(ctx context.Context, code string) []Section {
	reply, err := s.client.Generate(ctx, llm.NewRequest(splitSystemPrompt, fmt.Sprintf(splitPromptTemplate, code), s.temperature))
	if err == nil {
		var sections []Section
		sections, err = ParseSections(reply)
		if err == nil {
			return sections
		}
	}

	if llm.IsQuota(err) {
		s.fallback("quota", err)
		return []Section{{Title: QuotaSectionTitle, Code: QuotaSectionMessage}}
	}

	s.fallback(fallbackReason(err), err)
	return []Section{{Code: code}}
}

func (s *SemanticSplitter) fallback(reason string, err error) {
	metrics.SplitterFallbacks.WithLabelValues(reason).Inc()
	s.logger.Warn("semantic split failed, using fallback section",
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, errEmptyReply):
		return "empty"
	case errors.Is(err, llm.ErrMalformedResponse):
		return "malformed"
	case llm.Classify(err) == llm.ClassCanceled:
		return "canceled"
	default:
		return "provider"
	}
}

type rawSection struct {
	Title *string `json:"title"`
	Code  *string `json:"code"`
}

// ParseSections validates a model reply against the section list schema: a
// non-empty JSON array whose items are either {"title", "code"} objects with
// a non-empty code string or bare strings. A surrounding markdown fence is
// tolerated. Any violation wraps llm.ErrMalformedResponse.
func ParseSections(reply string) ([]Section, error) {
	body := stripFence(strings.TrimSpace(reply))
	if body == "" {
		return nil, errEmptyReply
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil, fmt.Errorf("%w: decode sections: %w", llm.ErrMalformedResponse, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %w", llm.ErrMalformedResponse, errNoSections)
	}

	sections := make([]Section, 0, len(items))
	for i, item := range items {
		sec, err := parseSection(item)
		if err != nil {
			return nil, fmt.Errorf("%w: section %d: %w", llm.ErrMalformedResponse, i, err)
		}
		sections = append(sections, sec)
	}
	return sections, nil
}

func parseSection(item json.RawMessage) (Section, error) {
	trimmed := bytes.TrimSpace(item)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var code string
		if err := json.Unmarshal(trimmed, &code); err != nil {
			return Section{}, err
		}
		if code == "" {
			return Section{}, errSectionCode
		}
		return Section{Code: code}, nil
	}

	var raw rawSection
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Section{}, err
	}
	if raw.Code == nil || *raw.Code == "" {
		return Section{}, errSectionCode
	}

	sec := Section{Code: *raw.Code}
	if raw.Title != nil {
		sec.Title = strings.TrimSpace(*raw.Title)
	}
	return sec, nil
}

// stripFence removes a ```json ... ``` wrapper if the whole reply is one.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := strings.TrimSuffix(s[3:], "```")
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		inner = inner[nl+1:]
	} else {
		return s
	}
	return strings.TrimSpace(inner)
}
