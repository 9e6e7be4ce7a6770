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

// Package runtime assembles a Reelix process from configuration. Every
// process-wide singleton (observability, Redis, the vector store, LLM
// providers, the encoder, the turn pipeline and the HTTP server) is
// constructed once here in dependency order and closed in reverse on
// shutdown.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelix-ai/reelix/pkg/auth"
	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/curator"
	"github.com/reelix-ai/reelix/pkg/embedders"
	"github.com/reelix-ai/reelix/pkg/encoder"
	"github.com/reelix-ai/reelix/pkg/llms"
	"github.com/reelix-ai/reelix/pkg/logger"
	"github.com/reelix-ai/reelix/pkg/observability"
	"github.com/reelix-ai/reelix/pkg/orchestrator"
	"github.com/reelix-ai/reelix/pkg/pipeline"
	"github.com/reelix-ai/reelix/pkg/querylog"
	"github.com/reelix-ai/reelix/pkg/ratelimit"
	"github.com/reelix-ai/reelix/pkg/reflection"
	"github.com/reelix-ai/reelix/pkg/runner"
	"github.com/reelix-ai/reelix/pkg/server"
	"github.com/reelix-ai/reelix/pkg/session"
	"github.com/reelix-ai/reelix/pkg/store"
	"github.com/reelix-ai/reelix/pkg/taste"
	"github.com/reelix-ai/reelix/pkg/ticket"
	"github.com/reelix-ai/reelix/pkg/vector"
	"github.com/reelix-ai/reelix/pkg/why"
)

// Runtime owns the process-wide singletons behind one Reelix server.
type Runtime struct {
	config *config.Config
	logger *slog.Logger

	observability *observability.Manager
	kv            store.KV
	retriever     vector.Retriever
	llms          *llms.Registry
	embedder      embedders.Provider
	queryLog      *querylog.Logger
	runner        *runner.Runner
	server        *server.Server

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Option substitutes one backend-bound collaborator so tests and local
// development can run without Redis, Qdrant, Postgres or a provider key.
type Option func(*options)

type options struct {
	kv        store.KV
	retriever vector.Retriever
	embedder  embedders.Provider
	validator auth.Validator
	llms      map[string]llms.Provider
}

// WithKV substitutes the Redis-backed key/value store. The caller keeps
// ownership; the runtime will not close an injected store.
func WithKV(kv store.KV) Option {
	return func(o *options) { o.kv = kv }
}

// WithRetriever substitutes the Qdrant retriever.
func WithRetriever(r vector.Retriever) Option {
	return func(o *options) { o.retriever = r }
}

// WithEmbedder substitutes the dense embedding provider.
func WithEmbedder(e embedders.Provider) Option {
	return func(o *options) { o.embedder = e }
}

// WithLLM pre-registers a provider under a role name, shadowing whatever
// the configuration binds that role to.
func WithLLM(name string, p llms.Provider) Option {
	return func(o *options) {
		if o.llms == nil {
			o.llms = make(map[string]llms.Provider)
		}
		o.llms[name] = p
	}
}

// WithAuthValidator substitutes the request identity validator.
func WithAuthValidator(v auth.Validator) Option {
	return func(o *options) { o.validator = v }
}

// New builds the full discovery stack in dependency order: observability,
// stores, retrieval, LLM providers, the turn pipeline, and finally the HTTP
// server. cfg must already be validated. When a later step fails, everything
// constructed before it is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	rt := &Runtime{config: cfg, logger: logger.GetLogger()}

	built := false
	defer func() {
		if !built {
			if cerr := rt.Close(); cerr != nil {
				rt.logger.Warn("Cleanup after failed startup", "error", cerr)
			}
		}
	}()

	rt.observability = observability.NewManager(cfg.Global.Observability)
	if err := rt.observability.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	obs := rt.observability
	rt.addCloser("observability", func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return obs.Shutdown(shutdownCtx)
	})

	rt.kv = o.kv
	if rt.kv == nil {
		redisKV, err := store.NewRedis(cfg.Memory.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rt.kv = redisKV
		rt.addCloser("redis", redisKV.Close)
	}

	rt.retriever = o.retriever
	if rt.retriever == nil {
		qdrant, err := vector.NewQdrant(cfg.Search)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		rt.retriever = qdrant
		rt.addCloser("qdrant", qdrant.Close)
	}

	rt.llms = llms.NewRegistry()
	rt.addCloser("llm providers", rt.llms.Close)
	for name, provider := range o.llms {
		if err := rt.llms.Register(name, provider); err != nil {
			return nil, fmt.Errorf("failed to register LLM %q: %w", name, err)
		}
	}

	orchestratorLLM, _, err := rt.resolveLLM(cfg.Discovery.OrchestratorLLM)
	if err != nil {
		return nil, err
	}
	curatorLLM, _, err := rt.resolveLLM(cfg.Discovery.CuratorLLM)
	if err != nil {
		return nil, err
	}
	whyLLM, whyCfg, err := rt.resolveLLM(cfg.Discovery.WhyLLM)
	if err != nil {
		return nil, err
	}
	reflectionLLM, _, err := rt.resolveLLM(cfg.Discovery.ReflectionLLM)
	if err != nil {
		return nil, err
	}

	rt.embedder = o.embedder
	if rt.embedder == nil {
		provider, err := embedders.New(cfg.Embedder)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		rt.embedder = provider
		rt.addCloser("embedder", provider.Close)
	}

	bm25, err := encoder.LoadBM25(cfg.Search.BM25StatsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load bm25 statistics: %w", err)
	}
	enc := encoder.New(rt.embedder, bm25)

	sessions := session.NewStore(rt.kv, cfg.Memory, rt.logger)
	tickets := ticket.NewStore(rt.kv, cfg.Memory, rt.logger)
	tasteReader := taste.NewReader(rt.kv, rt.logger)

	queryLog, err := querylog.New(cfg.QueryLog, rt.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize query log: %w", err)
	}
	if queryLog != nil {
		rt.queryLog = queryLog
		rt.addCloser("query log", func() error {
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return queryLog.Drain(drainCtx)
		})
	}

	pipe := pipeline.New(rt.retriever, cfg.Discovery, nil, rt.logger)

	rt.runner, err = runner.New(runner.Config{
		Encoder:   enc,
		Pipeline:  pipe,
		Discovery: cfg.Discovery,
		Logger:    rt.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	cur := curator.New(curatorLLM, rt.logger)

	orch, err := orchestrator.New(orchestrator.Config{
		LLM:       orchestratorLLM,
		Runner:    rt.runner,
		Curator:   cur,
		Discovery: cfg.Discovery,
		Logger:    rt.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	whyBuilder, err := why.NewBuilder(whyCfg.Model, llmParams(whyCfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create why builder: %w", err)
	}
	whyHeartbeat := time.Duration(cfg.Discovery.WhyHeartbeatInterval) * time.Second
	whyStreamer := why.NewStreamer(whyLLM, whyHeartbeat, rt.logger)

	refl := reflection.New(reflectionLLM, cfg.Discovery, rt.logger)

	validator := o.validator
	if validator == nil {
		validator, err = auth.New(ctx, cfg.Global.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize auth: %w", err)
		}
	}

	var limiter *ratelimit.Limiter
	if cfg.Global.RateLimit.Enabled {
		limiter, err = ratelimit.New(cfg.Global.RateLimit, rt.kv, rt.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
		}
	}

	serverCfg := server.Config{
		Server:        cfg.Global.Server,
		Discovery:     cfg.Discovery,
		Orchestrator:  orch,
		Runner:        rt.runner,
		Sessions:      sessions,
		Tickets:       tickets,
		Taste:         tasteReader,
		WhyBuilder:    whyBuilder,
		WhyStreamer:   whyStreamer,
		Reflection:    refl,
		Auth:          validator,
		RateLimiter:   limiter,
		Observability: rt.observability,
		Logger:        rt.logger,
	}
	if rt.queryLog != nil {
		serverCfg.QueryLog = rt.queryLog
	}

	rt.server, err = server.New(serverCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	built = true
	return rt, nil
}

// resolveLLM maps a discovery role binding to a provider. An empty or
// unknown binding falls back to "default"; roles bound to the same name
// share one provider through the registry.
func (r *Runtime) resolveLLM(binding string) (llms.Provider, *config.LLMConfig, error) {
	name := binding
	if name == "" {
		name = "default"
	}
	if _, ok := r.config.LLMs[name]; !ok {
		if _, err := r.llms.Get(name); err != nil {
			name = "default"
		}
	}
	llmCfg, _ := r.config.LLMFor(name)
	if provider, err := r.llms.Get(name); err == nil {
		return provider, llmCfg, nil
	}
	if llmCfg == nil {
		return nil, nil, fmt.Errorf("llm role %q is not configured", binding)
	}
	provider, err := r.llms.CreateFromConfig(name, llmCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create LLM %q: %w", name, err)
	}
	return provider, llmCfg, nil
}

// llmParams carries a role's sampling knobs into the WHY envelope, where
// they are hashed and replayed verbatim on every call.
func llmParams(cfg *config.LLMConfig) map[string]interface{} {
	if cfg == nil {
		return nil
	}
	params := make(map[string]interface{})
	if cfg.Temperature != nil {
		params["temperature"] = *cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		params["max_tokens"] = cfg.MaxTokens
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// Server returns the HTTP server assembled from this runtime.
func (r *Runtime) Server() *server.Server {
	return r.server
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *config.Config {
	return r.config
}

// ApplyConfig folds a reloaded configuration into the running process.
// Only ranking weights take effect live; transport, store and provider
// changes need a restart.
func (r *Runtime) ApplyConfig(cfg *config.Config) {
	if cfg == nil || r.runner == nil {
		return
	}
	r.runner.SetRankingWeights(cfg.Discovery.Ranking)
}

// Close shuts components down in reverse construction order and joins
// their errors.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) addCloser(name string, close func() error) {
	r.closers = append(r.closers, namedCloser{name: name, close: close})
}
