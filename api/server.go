package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fabfab/codexplain/conversation"
	"github.com/fabfab/codexplain/explain"
	"github.com/fabfab/codexplain/knowledge"
)

const (
	defaultSearchLimit = 5
	maxBodyBytes       = 1 << 20
)

// Server exposes the explanation pipeline and conversation history over HTTP.
type Server struct {
	svc     *explain.Service
	logger  *zap.Logger
	assets  http.Handler
	handler http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type explainRequest struct {
	Code           string `json:"code"`
	ConversationID string `json:"conversation_id"`
}

// explainResponse always carries all three fields so the UI can read them
// without checking the status code.
type explainResponse struct {
	Error          string                  `json:"error"`
	Code           string                  `json:"code"`
	Explanation    string                  `json:"explanation"`
	ConversationID string                  `json:"conversation_id,omitempty"`
	Sections       []explain.SectionResult `json:"sections,omitempty"`
}

type conversationsResponse struct {
	ConversationID string   `json:"conversation_id,omitempty"`
	Conversations  []string `json:"conversations"`
}

type messagesResponse struct {
	ConversationID string                `json:"conversation_id"`
	Messages       []conversation.Record `json:"messages"`
}

type deleteResponse struct {
	Status         string   `json:"status"`
	ConversationID string   `json:"conversation_id"`
	Conversations  []string `json:"conversations"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Matches []conversation.Match `json:"matches"`
}

// New constructs a Server backed by svc.
func New(svc *explain.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{svc: svc, logger: logger, assets: http.FileServer(http.FS(uiAssets))}
	s.handler = s.withRequestLog(s.routes())
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/explain", s.handleExplain)
	mux.HandleFunc("/v1/conversations", s.handleConversations)
	mux.HandleFunc("/v1/conversations/{id}", s.handleConversation)
	mux.HandleFunc("/v1/conversations/{id}/insights", s.handleInsights)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/search", s.handleSearch)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	req, err := decodeExplainRequest(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	res, err := s.svc.Explain(r.Context(), req.Code, req.ConversationID)
	if err != nil {
		resp := explainResponse{Error: err.Error()}
		if !errors.Is(err, explain.ErrEmptyCode) {
			resp.Code = req.Code
		}
		status := statusFor(err)
		s.logger.Warn("explain request failed", zap.Int("status", status), zap.Error(err))
		s.writeJSON(w, status, resp)
		return
	}

	s.writeJSON(w, http.StatusOK, explainResponse{
		Code:           res.Analysis.Code,
		Explanation:    res.Analysis.Document,
		ConversationID: res.ConversationID,
		Sections:       res.Analysis.Sections,
	})
}

// decodeExplainRequest accepts a JSON body or the form fields posted by
// plain HTML forms.
func decodeExplainRequest(w http.ResponseWriter, r *http.Request) (explainRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return explainRequest{}, err
		}
		return explainRequest{
			Code:           r.PostFormValue("code"),
			ConversationID: r.PostFormValue("conversation_id"),
		}, nil
	default:
		var req explainRequest
		err := decodeJSON(r, &req)
		return req, err
	}
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		ids, err := s.svc.ListConversations(ctx)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, conversationsResponse{Conversations: ids})
	case http.MethodPost:
		id, err := s.svc.CreateConversation(ctx)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		ids, err := s.svc.ListConversations(ctx)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, conversationsResponse{ConversationID: id, Conversations: ids})
	default:
		s.methodNotAllowed(w, http.MethodGet+", "+http.MethodPost)
	}
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		records, err := s.svc.Messages(ctx, id)
		if err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
		s.writeJSON(w, http.StatusOK, messagesResponse{ConversationID: id, Messages: records})
	case http.MethodDelete:
		if err := s.svc.DeleteConversation(ctx, id); err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
		ids, err := s.svc.ListConversations(ctx)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, deleteResponse{Status: "deleted", ConversationID: id, Conversations: ids})
	default:
		s.methodNotAllowed(w, http.MethodGet+", "+http.MethodDelete)
	}
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	insight, err := s.svc.Insights(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if insight.Topics == nil {
		insight.Topics = []string{}
	}
	if insight.Related == nil {
		insight.Related = []knowledge.RelatedConversation{}
	}
	s.writeJSON(w, http.StatusOK, insight)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	matches, err := s.svc.Search(r.Context(), req.Query, limit)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if matches == nil {
		matches = []conversation.Match{}
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Matches: matches})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, explain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, explain.ErrSearchUnavailable), errors.Is(err, explain.ErrGraphUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("api error", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Warn("api error", zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestLog tags every request with an id and logs its outcome.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
