// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the discovery API over HTTP: the /discovery/explore
// turn stream, the /discovery/explore/rerun chip refinement, and the
// /discovery/explore/why explanation stream. Handlers produce typed events;
// serialization to SSE frames happens only here.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reelix-ai/reelix/pkg/auth"
	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/observability"
	"github.com/reelix-ai/reelix/pkg/orchestrator"
	"github.com/reelix-ai/reelix/pkg/querylog"
	"github.com/reelix-ai/reelix/pkg/ranking"
	"github.com/reelix-ai/reelix/pkg/ratelimit"
	"github.com/reelix-ai/reelix/pkg/reflection"
	"github.com/reelix-ai/reelix/pkg/runner"
	"github.com/reelix-ai/reelix/pkg/session"
	"github.com/reelix-ai/reelix/pkg/taste"
	"github.com/reelix-ai/reelix/pkg/ticket"
	"github.com/reelix-ai/reelix/pkg/why"
)

// Orchestrator runs one conversational turn.
type Orchestrator interface {
	RunTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.AgentState, error)
}

// SlateRunner serves rerun requests, which bypass the orchestrator LLM.
type SlateRunner interface {
	Run(ctx context.Context, tasteCtx *taste.Context, spec media.QuerySpec, seenIDs []int64, turnKind string) (*runner.Result, error)
}

// EnvelopeBuilder freezes the WHY prompts for a served slate.
type EnvelopeBuilder interface {
	Build(spec media.QuerySpec, items []ranking.Item) why.PromptsEnvelope
}

// WhyStreamer replays a frozen WHY call as incremental items.
type WhyStreamer interface {
	Stream(ctx context.Context, call why.Call, emit func(why.Item), keepalive func()) error
}

// NextStepAgent proposes a follow-up after a served slate; nil suggestions
// are silently skipped.
type NextStepAgent interface {
	Suggest(ctx context.Context, in reflection.Input) *reflection.Suggestion
}

// TurnLogger records intake and candidate rows, fire-and-forget.
type TurnLogger interface {
	LogIntake(in querylog.Intake)
	LogCandidates(queryID string, pool []ranking.Item, servedIDs []int64)
}

// Config wires the server's collaborators. Orchestrator, Runner, Sessions,
// Tickets, WhyBuilder and WhyStreamer are required; the rest degrade to
// no-ops when absent.
type Config struct {
	Server    config.ServerConfig
	Discovery config.DiscoveryConfig

	Orchestrator Orchestrator
	Runner       SlateRunner
	Sessions     session.Store
	Tickets      ticket.Store
	Taste        taste.Provider
	WhyBuilder   EnvelopeBuilder
	WhyStreamer  WhyStreamer
	Reflection   NextStepAgent
	QueryLog     TurnLogger

	Auth          auth.Validator
	RateLimiter   *ratelimit.Limiter
	Observability *observability.Manager
	Logger        *slog.Logger
}

// Server is the HTTP/SSE front of the discovery pipeline.
type Server struct {
	serverCfg config.ServerConfig
	discovery config.DiscoveryConfig

	orchestrator Orchestrator
	runner       SlateRunner
	sessions     session.Store
	tickets      ticket.Store
	taste        taste.Provider
	whyBuilder   EnvelopeBuilder
	whyStreamer  WhyStreamer
	reflection   NextStepAgent
	queryLog     TurnLogger

	auth          auth.Validator
	rateLimiter   *ratelimit.Limiter
	observability *observability.Manager
	logger        *slog.Logger

	heartbeat time.Duration
	http      *http.Server
}

// New validates the wiring and builds the server.
func New(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Tickets == nil {
		return nil, errors.New("ticket store is required")
	}
	if cfg.WhyBuilder == nil {
		return nil, errors.New("why builder is required")
	}
	if cfg.WhyStreamer == nil {
		return nil, errors.New("why streamer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Server.SetDefaults()
	cfg.Discovery.SetDefaults()

	return &Server{
		serverCfg:     cfg.Server,
		discovery:     cfg.Discovery,
		orchestrator:  cfg.Orchestrator,
		runner:        cfg.Runner,
		sessions:      cfg.Sessions,
		tickets:       cfg.Tickets,
		taste:         cfg.Taste,
		whyBuilder:    cfg.WhyBuilder,
		whyStreamer:   cfg.WhyStreamer,
		reflection:    cfg.Reflection,
		queryLog:      cfg.QueryLog,
		auth:          cfg.Auth,
		rateLimiter:   cfg.RateLimiter,
		observability: cfg.Observability,
		logger:        logger,
		heartbeat:     time.Duration(cfg.Discovery.HeartbeatInterval) * time.Second,
	}, nil
}

// Handler assembles the router. Middleware order: observability -> logging ->
// cors -> auth -> rate limit. None of them wrap the ResponseWriter in a way
// that loses http.Flusher.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	if s.observability != nil {
		r.Use(observability.HTTPMiddleware(s.observability.GetTracer("server"), s.observability.GetMetrics()))
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	if s.observability != nil && s.observability.MetricsEnabled() {
		r.Get("/metrics", s.observability.MetricsHandler().ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.auth))
		r.Use(ratelimit.Middleware(s.rateLimiter))
		r.Post("/discovery/explore", s.handleExplore)
		r.Post("/discovery/explore/rerun", s.handleRerun)
		r.Get("/discovery/explore/why", s.handleWhy)
	})

	return r
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:        s.serverCfg.Address(),
		Handler:     s.Handler(),
		ReadTimeout: time.Duration(s.serverCfg.ReadTimeout) * time.Second,
		IdleTimeout: time.Duration(s.serverCfg.IdleTimeout) * time.Second,
		// WriteTimeout stays zero: SSE connections outlive any fixed bound.
	}

	s.logger.Info("HTTP server starting", "address", s.serverCfg.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(s.serverCfg.ShutdownGrace)*time.Second)
	defer cancel()
	s.logger.Info("HTTP server shutting down")
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowAny := false
	allowed := make(map[string]bool, len(s.serverCfg.CORSOrigins))
	for _, origin := range s.serverCfg.CORSOrigins {
		if origin == "*" {
			allowAny = true
		}
		allowed[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAny:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// streamError emits the single terminal error frame. The client sees a
// generic message; the opaque id ties it to the server-side log line.
func (s *Server) streamError(stream *sseStream, message string, cause error) {
	errorID := uuid.NewString()
	s.logger.Error("Stream failed", "error_id", errorID, "error", cause)
	_ = stream.send(EventError, ErrorEvent{Message: message, ErrorID: errorID})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
