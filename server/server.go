// Package server exposes the agent over HTTP and WebSocket: session
// CRUD, blocking chat, bidirectional streaming chat, health, and
// config management.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/easelhq/easel"
	"github.com/easelhq/easel/comfy"
	"github.com/easelhq/easel/internal/config"
)

var nopLogger = slog.New(slog.DiscardHandler)

// Server is the HTTP/WebSocket surface over one agent loop.
type Server struct {
	cfg        config.Config
	configPath string
	loop       *easel.AgentLoop
	store      easel.SessionStore
	backend    *comfy.Client
	index      *comfy.NodeIndex
	bus        *easel.EventBus
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithConfigPath sets where PUT /api/config persists (default easel.toml).
func WithConfigPath(path string) Option {
	return func(s *Server) { s.configPath = path }
}

// New wires a server over its collaborators.
func New(cfg config.Config, loop *easel.AgentLoop, store easel.SessionStore, backend *comfy.Client, index *comfy.NodeIndex, bus *easel.EventBus, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		configPath: "easel.toml",
		loop:       loop,
		store:      store,
		backend:    backend,
		index:      index,
		bus:        bus,
		logger:     nopLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with all API routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/sessions", s.handleListSessions)
	r.Post("/api/sessions", s.handleCreateSession)
	r.Delete("/api/sessions/{id}", s.handleDeleteSession)
	r.Get("/api/sessions/{id}/messages", s.handleSessionMessages)
	r.Post("/api/chat", s.handleChat)
	r.Get("/api/chat/ws", s.handleChatWS)
	r.Get("/api/config", s.handleGetConfig)
	r.Put("/api/config", s.handlePutConfig)
	return r
}

// ListenAndServe starts the server on the configured host and port.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info("server listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

// cors allows the configured origins (the graph editor frontend) to
// call the API.
func (s *Server) cors(next http.Handler) http.Handler {
	allowed := s.cfg.Server.CORSOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(a, origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					break
				}
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connected := s.backend.HealthCheck(ctx) == nil
	var stats map[string]any
	if connected {
		stats, _ = s.backend.SystemStatsRaw(ctx)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"backend": map[string]any{
			"connected": connected,
			"url":       s.backend.BaseURL(),
			"stats":     stats,
		},
		"llm": map[string]any{
			"model": s.cfg.LLM.Model,
		},
		"node_index": map[string]any{
			"built":      s.index.Built(),
			"node_count": s.index.NodeCount(),
			"categories": len(s.index.Categories()),
		},
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []easel.SessionMeta{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Title == "" {
		body.Title = "New Session"
	}
	id, err := s.store.CreateSession(r.Context(), body.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "title": body.Title})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messages, err := s.store.LoadMessages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"items":      messagesToChatItems(messages),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := body.SessionID
	if sessionID == "" {
		id, err := s.store.CreateSession(r.Context(), "API Session")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		sessionID = id
	}

	// Detach from the request context so a dropped connection doesn't
	// abort the turn mid-tool-call.
	response, err := s.loop.Run(context.WithoutCancel(r.Context()), sessionID, body.Message)
	if err != nil {
		s.logger.Error("chat failed", "session", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":      err.Error(),
			"session_id": sessionID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"response":   response,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	llmKey := s.cfg.LLM.ResolveAPIKey()
	tavilyKey := s.cfg.Web.ResolveTavilyKey()
	writeJSON(w, http.StatusOK, map[string]any{
		"llm": map[string]any{
			"provider":       s.cfg.LLM.Provider,
			"model":          s.cfg.LLM.Model,
			"max_tokens":     s.cfg.LLM.MaxTokens,
			"base_url":       s.cfg.LLM.BaseURL,
			"api_key_set":    llmKey != "",
			"api_key_masked": maskKey(llmKey),
		},
		"web": map[string]any{
			"tavily_api_key_set":    tavilyKey != "",
			"tavily_api_key_masked": maskKey(tavilyKey),
		},
		"backend": map[string]any{
			"base_url": s.cfg.Backend.BaseURL,
		},
	})
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LLM *struct {
			APIKey    string `json:"api_key"`
			Model     string `json:"model"`
			BaseURL   string `json:"base_url"`
			MaxTokens int    `json:"max_tokens"`
		} `json:"llm"`
		Web *struct {
			TavilyAPIKey string `json:"tavily_api_key"`
		} `json:"web"`
		Backend *struct {
			BaseURL string `json:"base_url"`
		} `json:"backend"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var updated []string
	if body.LLM != nil {
		if body.LLM.APIKey != "" {
			s.cfg.LLM.APIKey = body.LLM.APIKey
			updated = append(updated, "llm.api_key")
		}
		if body.LLM.Model != "" {
			s.cfg.LLM.Model = body.LLM.Model
			updated = append(updated, "llm.model")
		}
		if body.LLM.BaseURL != "" {
			s.cfg.LLM.BaseURL = body.LLM.BaseURL
			updated = append(updated, "llm.base_url")
		}
		if body.LLM.MaxTokens > 0 {
			s.cfg.LLM.MaxTokens = body.LLM.MaxTokens
			updated = append(updated, "llm.max_tokens")
		}
	}
	if body.Web != nil && body.Web.TavilyAPIKey != "" {
		s.cfg.Web.TavilyAPIKey = body.Web.TavilyAPIKey
		updated = append(updated, "web.tavily_api_key")
	}
	if body.Backend != nil && body.Backend.BaseURL != "" {
		s.cfg.Backend.BaseURL = body.Backend.BaseURL
		updated = append(updated, "backend.base_url")
	}

	if err := config.Save(s.configPath, s.cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("config updated", "fields", strings.Join(updated, ", "))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "updated": updated})
}

// maskKey shows only the last 4 characters of an API key.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
