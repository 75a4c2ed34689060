// Package api exposes the statute assistant over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fabfab/statute-rag/chat"
	"github.com/fabfab/statute-rag/llm"
	"github.com/fabfab/statute-rag/sessions"
	"github.com/fabfab/statute-rag/statute"
)

const defaultRetrievalLimit = 5

// Chatter answers one conversation turn.
type Chatter interface {
	ChatWithHistory(ctx context.Context, question string, cfg chat.Config, history []llm.Message) (chat.Response, []llm.Message, error)
}

type Options struct {
	ServiceName    string
	RetrievalLimit int
}

// Server exposes HTTP handlers for querying the statute assistant.
type Server struct {
	router   chi.Router
	chat     Chatter
	sessions *sessions.Store
	opts     Options
	logger   *zap.Logger
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
}

type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

type queryResponse struct {
	Answer    string        `json:"answer"`
	SessionID string        `json:"session_id"`
	Sources   []querySource `json:"sources"`
}

type querySource struct {
	Part          string            `json:"part"`
	Section       string            `json:"section,omitempty"`
	SectionTitle  string            `json:"section_title,omitempty"`
	ArticleNumber string            `json:"article_number,omitempty"`
	ChunkIndex    int               `json:"chunk_index"`
	TotalChunks   int               `json:"total_chunks"`
	Extra         map[string]string `json:"extra,omitempty"`
	Snippet       string            `json:"snippet"`
	Score         float64           `json:"score"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

// New constructs a Server answering queries with chatter and keeping
// conversations in store.
func New(chatter Chatter, store *sessions.Store, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RetrievalLimit <= 0 {
		opts.RetrievalLimit = defaultRetrievalLimit
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "statute-rag"
	}

	s := &Server{chat: chatter, sessions: store, opts: opts, logger: logger}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.logger))
	r.Use(CORS)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/openapi.yaml", s.handleOpenAPI)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/query", s.handleQuery)
	r.Post("/session/new", s.handleNewSession)
	r.Delete("/session/{sessionID}", s.handleDeleteSession)
	r.Post("/session/{sessionID}/clear", s.handleClearSession)

	s.router = r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messageResponse{Message: s.opts.ServiceName + " is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n := s.sessions.Len()
	activeSessions.Set(float64(n))
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", ActiveSessions: n})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}

	session, created := s.sessions.GetOrCreate(req.SessionID)
	if created {
		activeSessions.Set(float64(s.sessions.Len()))
	}
	log := s.logger.With(zap.String("session_id", session.ID))

	var resp chat.Response
	err := session.Do(func(history []llm.Message) ([]llm.Message, error) {
		var (
			updated []llm.Message
			err     error
		)
		resp, updated, err = s.chat.ChatWithHistory(r.Context(), req.Query, chat.Config{SimilarityLimit: s.opts.RetrievalLimit}, history)
		return updated, err
	})
	if err != nil {
		queriesAnswered.WithLabelValues("error").Inc()
		status := http.StatusInternalServerError
		if errors.Is(err, statute.ErrIncompleteUnit) {
			log.Error("stored chunks are incomplete", zap.Error(err))
		}
		if errors.Is(err, context.Canceled) {
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, fmt.Errorf("query failed: %w", err))
		return
	}
	queriesAnswered.WithLabelValues("ok").Inc()

	s.writeJSON(w, http.StatusOK, queryResponse{
		Answer:    resp.Answer,
		SessionID: session.ID,
		Sources:   transformSources(resp.Sources),
	})
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	session := s.sessions.Create()
	activeSessions.Set(float64(s.sessions.Len()))
	s.writeJSON(w, http.StatusOK, sessionResponse{SessionID: session.ID})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.sessions.Delete(id) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("session %s not found", id))
		return
	}
	activeSessions.Set(float64(s.sessions.Len()))
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "session deleted"})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	session, ok := s.sessions.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("session %s not found", id))
		return
	}
	session.Clear()
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "session history cleared"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Error("api error", zap.Int("status", status), zap.Error(err))
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
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

func transformSources(sources []chat.Source) []querySource {
	out := make([]querySource, len(sources))
	for i, src := range sources {
		out[i] = querySource{
			Part:          src.Part,
			Section:       src.Section,
			SectionTitle:  src.SectionTitle,
			ArticleNumber: src.ArticleNumber,
			ChunkIndex:    src.ChunkIndex,
			TotalChunks:   src.TotalChunks,
			Extra:         src.Extra,
			Snippet:       src.Snippet,
			Score:         src.Score,
		}
	}
	return out
}
