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

// Package pipeline runs one retrieval-and-ranking pass: parallel dense and
// sparse search, RRF pooling, metadata rerank, and diversification, returning
// the ranked slate candidates with their score traces. A pipeline run has no
// shared mutable state: identical inputs yield identical output, and
// concurrent runs are independent.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/encoder"
	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/observability"
	"github.com/reelix-ai/reelix/pkg/ranking"
	"github.com/reelix-ai/reelix/pkg/vector"
)

// CrossScorer scores query/candidate pairs for the optional final-fusion
// stage. No scorer ships by default; the seam exists for deployments that
// host a cross-encoder.
type CrossScorer interface {
	Score(ctx context.Context, queryText string, items []ranking.Item) ([]float64, error)
}

// Request is one pipeline invocation.
type Request struct {
	MediaType media.MediaType
	QueryText string
	Encoded   *encoder.EncodedQuery
	Filter    vector.SearchFilter

	// UserGenres feed the genre-overlap feature.
	UserGenres []string

	Weights ranking.Weights

	// ReferenceYear anchors recency decay; zero disables the feature even if
	// weighted.
	ReferenceYear int
}

// Result is the ranked, diversified candidate list with audit traces.
type Result struct {
	Items  []ranking.Item
	Pruned []ranking.Pruned
}

// Pipeline wires the retriever and ranking stages together.
type Pipeline struct {
	retriever vector.Retriever
	discovery config.DiscoveryConfig
	cross     CrossScorer
	logger    *slog.Logger
}

// New creates a pipeline. cross may be nil; final fusion then stays inert
// regardless of configuration.
func New(retriever vector.Retriever, discovery config.DiscoveryConfig, cross CrossScorer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		retriever: retriever,
		discovery: discovery,
		cross:     cross,
		logger:    logger,
	}
}

// Run executes the full pass. The sparse arm is allowed to fail (retrieval
// proceeds on dense results alone with a warning), but a dense failure, or
// both arms failing, aborts with vector.ErrUnavailable wrapped in the cause.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	tracer := observability.GetTracer("pipeline")
	ctx, span := tracer.Start(ctx, observability.SpanPipeline, trace.WithAttributes(
		attribute.String(observability.AttrCollection, string(req.MediaType)),
	))
	defer span.End()

	dense, sparse, err := p.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	pool := ranking.FuseRRF(dense, sparse, p.discovery.Ranking.RRFK)

	ranked := ranking.RerankMetadata(pool, ranking.RerankContext{
		UserGenres:    req.UserGenres,
		ReferenceYear: req.ReferenceYear,
		Weights:       req.Weights,
	})
	if len(ranked) > p.discovery.MetaTopN {
		ranked = ranked[:p.discovery.MetaTopN]
	}

	kept, pruned := ranking.Diversify(ranked, 1)
	if len(pruned) > 0 {
		p.logger.Debug("Diversification pruned candidates",
			"pruned", len(pruned), "kept", len(kept))
	}

	if len(kept) > p.discovery.FinalTopK {
		kept = kept[:p.discovery.FinalTopK]
	}

	kept = p.finalFusion(ctx, req, kept)

	span.SetAttributes(
		attribute.Int("pipeline.pool_size", len(pool)),
		attribute.Int("pipeline.slate_size", len(kept)),
	)

	return &Result{Items: kept, Pruned: pruned}, nil
}

// retrieve runs both arms in parallel and applies the partial-results policy.
func (p *Pipeline) retrieve(ctx context.Context, req Request) (dense, sparse []media.Candidate, err error) {
	var wg sync.WaitGroup
	var denseErr, sparseErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		dense, denseErr = p.retriever.Dense(ctx, vector.DenseQuery{
			MediaType: req.MediaType,
			Vector:    req.Encoded.Dense,
			Filter:    req.Filter,
		})
	}()
	go func() {
		defer wg.Done()
		sparse, sparseErr = p.retriever.Sparse(ctx, vector.SparseQuery{
			MediaType: req.MediaType,
			Indices:   req.Encoded.Sparse.Indices,
			Values:    req.Encoded.Sparse.Values,
			Filter:    req.Filter,
		})
	}()
	wg.Wait()

	if denseErr != nil {
		return nil, nil, fmt.Errorf("dense retrieval failed: %w", denseErr)
	}
	if sparseErr != nil {
		p.logger.Warn("Sparse retrieval failed, proceeding on dense results alone",
			"media_type", req.MediaType, "error", sparseErr)
		sparse = nil
	}
	return dense, sparse, nil
}

// finalFusion blends the metadata order with a cross-encoder order via
// weighted RRF when the flag is on and a scorer is present. Any scorer
// failure leaves the metadata order untouched.
func (p *Pipeline) finalFusion(ctx context.Context, req Request, items []ranking.Item) []ranking.Item {
	if !p.discovery.FinalFusion.Enabled || p.cross == nil || len(items) < 2 {
		return items
	}

	scores, err := p.cross.Score(ctx, req.QueryText, items)
	if err != nil || len(scores) != len(items) {
		p.logger.Warn("Cross-encoder scoring failed, keeping metadata order", "error", err)
		return items
	}

	ceRank := make(map[int64]int, len(items))
	byCE := make([]int, len(items))
	for i := range byCE {
		byCE[i] = i
	}
	sort.SliceStable(byCE, func(a, b int) bool { return scores[byCE[a]] > scores[byCE[b]] })
	for rank, idx := range byCE {
		ceRank[items[idx].Candidate.MediaID] = rank + 1
	}

	k := float64(p.discovery.Ranking.RRFK)
	wMeta, wCross := *p.discovery.FinalFusion.MetadataWeight, *p.discovery.FinalFusion.CrossWeight

	fused := make([]ranking.Item, len(items))
	copy(fused, items)
	for i := range fused {
		metaRank := float64(i + 1)
		fused[i].Trace.FinalScore = wMeta/(k+metaRank) + wCross/(k+float64(ceRank[fused[i].Candidate.MediaID]))
	}
	sort.SliceStable(fused, func(a, b int) bool {
		return fused[a].Trace.FinalScore > fused[b].Trace.FinalScore
	})
	return fused
}
