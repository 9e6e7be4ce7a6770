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

// Package runner turns a structured query and the user's taste snapshot into
// one ranked candidate list: it encodes the query, builds the retrieval
// filter, runs the pipeline with per-turn weight overrides, and applies the
// refine-turn novelty penalty. Curation happens upstream; the runner only
// ranks.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/encoder"
	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/pipeline"
	"github.com/reelix-ai/reelix/pkg/ranking"
	"github.com/reelix-ai/reelix/pkg/taste"
	"github.com/reelix-ai/reelix/pkg/vector"
)

const (
	// noveltyPenalty demotes already-seen candidates on refine turns without
	// removing them; a strong match the user skimmed past can still resurface.
	noveltyPenalty = 0.9

	turnKindRefine = "refine"

	// genreAffinityWeight activates the genre-overlap feature for users with
	// a liked-genre history when the deployment left the weight at zero.
	genreAffinityWeight = 0.10
)

// Encoder produces the hybrid query encoding.
type Encoder interface {
	Encode(ctx context.Context, text string, mt media.MediaType) (*encoder.EncodedQuery, error)
}

// Pipeline runs one retrieval-and-ranking pass.
type Pipeline interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Config contains the collaborators for creating a Runner.
type Config struct {
	Encoder   Encoder
	Pipeline  Pipeline
	Discovery config.DiscoveryConfig
	Logger    *slog.Logger
}

// Runner executes one retrieval turn. Safe for concurrent use.
type Runner struct {
	encoder   Encoder
	pipeline  Pipeline
	discovery config.DiscoveryConfig
	ranking   atomic.Pointer[config.RankingConfig]
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		encoder:   cfg.Encoder,
		pipeline:  cfg.Pipeline,
		discovery: cfg.Discovery,
		logger:    logger,
		now:       time.Now,
	}
	rankingCfg := cfg.Discovery.Ranking
	r.ranking.Store(&rankingCfg)
	return r, nil
}

// SetRankingWeights swaps the weight configuration, serving config
// hot-reload. Turns already in flight keep the weights they started with.
func (r *Runner) SetRankingWeights(cfg config.RankingConfig) {
	r.ranking.Store(&cfg)
	r.logger.Info("Ranking weights updated")
}

// ContextLog records which parts of the user context shaped the turn, for
// traces and the query log.
type ContextLog struct {
	UserGenres      []string `json:"user_genres,omitempty"`
	UserKeywords    []string `json:"user_keywords,omitempty"`
	ActiveProviders []int64  `json:"active_providers,omitempty"`
	FilterMode      string   `json:"filter_mode"`
}

// Result is the ranked candidate list with its traces and the context log.
type Result struct {
	Items  []ranking.Item
	Pruned []ranking.Pruned
	Log    ContextLog
}

// Run executes one turn. seenIDs only matter on refine turns, where seen
// candidates are demoted rather than dropped.
func (r *Runner) Run(ctx context.Context, tasteCtx *taste.Context, spec media.QuerySpec, seenIDs []int64, turnKind string) (*Result, error) {
	spec = spec.Sanitize(r.discovery.YearFloor, r.discovery.YearCap)

	encoded, err := r.encoder.Encode(ctx, retrievalText(spec), spec.MediaType)
	if err != nil {
		return nil, fmt.Errorf("query encode failed: %w", err)
	}

	filter := r.buildFilter(spec, tasteCtx)
	weights := r.weightsFor(tasteCtx)

	out, err := r.pipeline.Run(ctx, pipeline.Request{
		MediaType:     spec.MediaType,
		QueryText:     spec.QueryText,
		Encoded:       encoded,
		Filter:        filter,
		UserGenres:    tasteCtx.Genres(),
		Weights:       weights,
		ReferenceYear: r.now().Year(),
	})
	if err != nil {
		return nil, err
	}

	items := out.Items
	if turnKind == turnKindRefine && len(seenIDs) > 0 {
		items = demoteSeen(items, seenIDs)
	}

	return &Result{
		Items:  items,
		Pruned: out.Pruned,
		Log: ContextLog{
			UserGenres:      tasteCtx.Genres(),
			UserKeywords:    tasteCtx.Keywords(),
			ActiveProviders: filter.ProviderIDs,
			FilterMode:      tasteCtx.FilterMode(),
		},
	}, nil
}

// buildFilter derives the hard retrieval constraints. Spec providers win over
// the taste subscription filter; genres stay soft (rerank and curation handle
// them). Dismissed titles are the only runtime exclusion; seen ids are
// demoted by the novelty penalty instead so they can resurface.
func (r *Runner) buildFilter(spec media.QuerySpec, tasteCtx *taste.Context) vector.SearchFilter {
	providers := spec.ProviderIDs()
	if len(providers) == 0 {
		providers = tasteCtx.ActiveProviderIDs()
	}

	yearRange := spec.YearRange
	if yearRange == nil {
		yr := [2]int{r.discovery.YearFloor, r.now().Year()}
		yearRange = &yr
	}

	return vector.SearchFilter{
		ProviderIDs:     providers,
		YearRange:       yearRange,
		ExcludeMediaIDs: tasteCtx.DismissedIDs(),
	}.Normalize()
}

// weightsFor resolves the configured weights and applies the per-turn
// override: users with a liked-genre history get the genre-overlap feature
// switched on unless the deployment already weighted it.
func (r *Runner) weightsFor(tasteCtx *taste.Context) ranking.Weights {
	weights := ranking.WeightsFromConfig(*r.ranking.Load())
	if weights.Genre == 0 && len(tasteCtx.Genres()) > 0 {
		weights.Genre = genreAffinityWeight
	}
	return weights
}

// retrievalText widens the embedding query beyond the short query phrase with
// the spec's free-text descriptors.
func retrievalText(spec media.QuerySpec) string {
	parts := make([]string, 0, 4)
	parts = append(parts, spec.QueryText)
	if len(spec.SubGenres) > 0 {
		parts = append(parts, strings.Join(spec.SubGenres, ", "))
	}
	if len(spec.CoreTone) > 0 {
		parts = append(parts, strings.Join(spec.CoreTone, ", "))
	}
	if len(spec.KeyThemes) > 0 {
		parts = append(parts, strings.Join(spec.KeyThemes, ", "))
	}
	if spec.NarrativeShape != "" {
		parts = append(parts, spec.NarrativeShape)
	}
	return strings.Join(parts, ". ")
}

// demoteSeen multiplies the final score of already-seen candidates and
// restores descending score order. Ties keep their prior order.
func demoteSeen(items []ranking.Item, seenIDs []int64) []ranking.Item {
	seen := make(map[int64]struct{}, len(seenIDs))
	for _, id := range seenIDs {
		seen[id] = struct{}{}
	}

	demoted := make([]ranking.Item, len(items))
	copy(demoted, items)
	for i := range demoted {
		if _, ok := seen[demoted[i].Candidate.MediaID]; ok {
			demoted[i].Trace.FinalScore *= noveltyPenalty
		}
	}
	sort.SliceStable(demoted, func(a, b int) bool {
		return demoted[a].Trace.FinalScore > demoted[b].Trace.FinalScore
	})
	return demoted
}
