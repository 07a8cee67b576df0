package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fabfab/codexplain/chunker"
	"github.com/fabfab/codexplain/conversation"
	"github.com/fabfab/codexplain/embeddings"
	"github.com/fabfab/codexplain/knowledge"
	"github.com/fabfab/codexplain/metrics"
)

const defaultSearchLimit = 5

// Mirror receives a copy of every stored explanation. Failures are logged
// and never fail the request.
type Mirror interface {
	SyncRecord(ctx context.Context, rec knowledge.RecordNode) error
	DeleteConversation(ctx context.Context, conversationID string) error
	Insights(ctx context.Context, conversationID string) (knowledge.Insight, error)
}

type Options struct {
	Render RenderOptions
	// AutoCreate appends to an unknown conversation id instead of rejecting it.
	AutoCreate bool
}

// Result is what a caller of Explain gets back.
type Result struct {
	ConversationID string   `json:"conversation_id"`
	Position       int      `json:"position"`
	Analysis       Analysis `json:"analysis"`
}

type Service struct {
	chunker   *chunker.Chunker
	explainer *Explainer
	store     conversation.Store
	mirror    Mirror
	embedder  embeddings.Embedder
	searcher  conversation.Searcher
	opts      Options
	logger    *zap.Logger
}

// NewService wires the pipeline. mirror and embedder may be nil; search is
// only available when the store also implements conversation.Searcher.
func NewService(
	ch *chunker.Chunker,
	explainer *Explainer,
	store conversation.Store,
	mirror Mirror,
	embedder embeddings.Embedder,
	opts Options,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	svc := &Service{
		chunker:   ch,
		explainer: explainer,
		store:     store,
		mirror:    mirror,
		embedder:  embedder,
		opts:      opts,
		logger:    logger,
	}
	if searcher, ok := store.(conversation.Searcher); ok && embedder != nil {
		svc.searcher = searcher
	}
	return svc
}

// Analyze splits code into blocks and explains them one at a time in source
// order. Past input validation it only fails when ctx is done; provider
// failures end up as text in the document.
func (s *Service) Analyze(ctx context.Context, code string) (Analysis, error) {
	if strings.TrimSpace(code) == "" {
		return Analysis{}, ErrEmptyCode
	}
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}

	start := time.Now()
	defer func() { metrics.PipelineDuration.Observe(time.Since(start).Seconds()) }()

	groups := chunker.Sections(s.chunker.Split(ctx, code))

	sections := make([]SectionResult, 0, len(groups))
	for _, group := range groups {
		sec := SectionResult{
			Title:     group[0].Title,
			Blocks:    group,
			Fragments: make([]Fragment, 0, len(group)),
		}
		for _, block := range group {
			if err := ctx.Err(); err != nil {
				return Analysis{}, fmt.Errorf("analysis stopped before block %d: %w", block.Ordinal, err)
			}
			sec.Fragments = append(sec.Fragments, s.explainer.Explain(ctx, block))
		}
		sections = append(sections, sec)
	}
	if err := ctx.Err(); err != nil {
		return Analysis{}, fmt.Errorf("analysis stopped: %w", err)
	}

	s.logger.Debug("snippet analyzed",
		zap.Int("sections", len(sections)),
		zap.Int("blocks", countBlocks(sections)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return Analysis{
		Code:     code,
		Document: Render(sections, s.opts.Render),
		Sections: sections,
	}, nil
}

// Explain validates the request, analyzes code and appends the result to
// the conversation.
func (s *Service) Explain(ctx context.Context, code, conversationID string) (Result, error) {
	if strings.TrimSpace(code) == "" {
		return Result{}, ErrEmptyCode
	}
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return Result{}, ErrMissingConversation
	}
	if _, err := conversation.ParseID(id); err != nil {
		return Result{}, ErrInvalidConversationID
	}

	if !s.opts.AutoCreate {
		if _, err := s.store.Messages(ctx, id); err != nil {
			return Result{}, s.storeError(err)
		}
	}

	analysis, err := s.Analyze(ctx, code)
	if err != nil {
		return Result{}, err
	}

	// A conversation is only created once there is something to append to it.
	if s.opts.AutoCreate {
		if err := s.store.Ensure(ctx, id); err != nil {
			return Result{}, fmt.Errorf("ensure conversation %s: %w", id, err)
		}
	}

	position, err := s.store.Append(ctx, id, conversation.Record{Code: code, Explanation: analysis.Document})
	if err != nil {
		return Result{}, fmt.Errorf("append record: %w", s.storeError(err))
	}

	s.syncMirror(ctx, id, position, analysis)
	s.index(ctx, id, position, analysis)

	return Result{ConversationID: id, Position: position, Analysis: analysis}, nil
}

func (s *Service) CreateConversation(ctx context.Context) (string, error) {
	id, err := s.store.Create(ctx)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Info("conversation created", zap.String("conversation_id", id))
	return id, nil
}

func (s *Service) ListConversations(ctx context.Context) ([]string, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return ids, nil
}

func (s *Service) Messages(ctx context.Context, conversationID string) ([]conversation.Record, error) {
	if _, err := conversation.ParseID(conversationID); err != nil {
		return nil, ErrInvalidConversationID
	}
	records, err := s.store.Messages(ctx, conversationID)
	if err != nil {
		return nil, s.storeError(err)
	}
	return records, nil
}

func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, err := conversation.ParseID(conversationID); err != nil {
		return ErrInvalidConversationID
	}
	if err := s.store.Delete(ctx, conversationID); err != nil {
		return s.storeError(err)
	}
	if s.mirror != nil {
		if err := s.mirror.DeleteConversation(ctx, conversationID); err != nil {
			s.logger.Warn("graph mirror delete failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	s.logger.Info("conversation deleted", zap.String("conversation_id", conversationID))
	return nil
}

// Stats reports how many conversations exist and how many snippets were
// explained across them.
func (s *Service) Stats(ctx context.Context) (conversation.Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return conversation.Stats{}, fmt.Errorf("conversation stats: %w", err)
	}
	return stats, nil
}

// Search finds stored explanations similar to query.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]conversation.Match, error) {
	if s.searcher == nil {
		return nil, ErrSearchUnavailable
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	vec, err := embeddings.EmbedOne(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.searcher.SimilarRecords(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("similar records: %w", err)
	}
	return matches, nil
}

func (s *Service) Insights(ctx context.Context, conversationID string) (knowledge.Insight, error) {
	if s.mirror == nil {
		return knowledge.Insight{}, ErrGraphUnavailable
	}
	if _, err := conversation.ParseID(conversationID); err != nil {
		return knowledge.Insight{}, ErrInvalidConversationID
	}
	return s.mirror.Insights(ctx, conversationID)
}

func (s *Service) storeError(err error) error {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return ErrConversationNotFound
	case errors.Is(err, conversation.ErrInvalidID):
		return ErrInvalidConversationID
	default:
		return err
	}
}

func (s *Service) syncMirror(ctx context.Context, id string, position int, analysis Analysis) {
	if s.mirror == nil {
		return
	}

	node := knowledge.RecordNode{
		ConversationID: id,
		Position:       position,
		Code:           analysis.Code,
		Explanation:    analysis.Document,
		Sections:       make([]knowledge.Section, 0, len(analysis.Sections)),
	}
	for i, sec := range analysis.Sections {
		ks := knowledge.Section{Order: i, Title: sec.Title}
		for j, frag := range sec.Fragments {
			text := ""
			if j < len(sec.Blocks) {
				text = sec.Blocks[j].Text
			}
			ks.Blocks = append(ks.Blocks, knowledge.Block{Ordinal: frag.Ordinal, Text: text, Status: string(frag.Status)})
		}
		node.Sections = append(node.Sections, ks)
	}

	if err := s.mirror.SyncRecord(ctx, node); err != nil {
		s.logger.Warn("graph mirror sync failed", zap.String("conversation_id", id), zap.Error(err))
	}
}

func (s *Service) index(ctx context.Context, id string, position int, analysis Analysis) {
	if s.searcher == nil {
		return
	}

	vec, err := embeddings.EmbedOne(ctx, s.embedder, embeddings.RecordText(analysis.Code, analysis.Document))
	if err == nil {
		err = s.searcher.IndexRecord(ctx, id, position, vec)
	}
	if err != nil {
		s.logger.Warn("search indexing failed", zap.String("conversation_id", id), zap.Error(err))
	}
}

func countBlocks(sections []SectionResult) int {
	n := 0
	for _, sec := range sections {
		n += len(sec.Fragments)
	}
	return n
}
