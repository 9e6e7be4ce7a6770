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

package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/observability"
)

// Point vector names, fixed by the offline indexer.
const (
	denseVectorName  = "dense_vector"
	sparseVectorName = "sparse_vector"
)

// Qdrant implements Retriever against a Qdrant deployment holding one
// collection per media type, each point carrying the two named vectors.
type Qdrant struct {
	client  *qdrant.Client
	cfg     config.SearchConfig
	timeout time.Duration
}

// NewQdrant creates a Qdrant retriever. The gRPC connection is lazy; a
// misconfigured endpoint surfaces on the first search.
func NewQdrant(cfg config.SearchConfig) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w\n"+
			"  TIP: Ensure Qdrant is running and the gRPC port (default 6334) is reachable",
			cfg.Host, cfg.Port, err)
	}

	return &Qdrant{
		client:  client,
		cfg:     cfg,
		timeout: time.Duration(cfg.Timeout) * time.Second,
	}, nil
}

// Dense runs nearest-neighbor search over the dense embedding field.
func (q *Qdrant) Dense(ctx context.Context, query DenseQuery) ([]media.Candidate, error) {
	collection, err := q.collectionFor(query.MediaType)
	if err != nil {
		return nil, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = q.cfg.DenseLimit
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	start := time.Now()
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(query.Vector),
		Using:          qdrant.PtrOf(denseVectorName),
		Filter:         buildFilter(query.Filter.Normalize()),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	observability.RecordRetrieval(ctx, collection, "dense", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: dense search in %s: %v", ErrUnavailable, collection, err)
	}

	return convertPoints(points, query.MediaType, "dense"), nil
}

// Sparse runs term-weighted search over the sparse field.
func (q *Qdrant) Sparse(ctx context.Context, query SparseQuery) ([]media.Candidate, error) {
	collection, err := q.collectionFor(query.MediaType)
	if err != nil {
		return nil, err
	}

	// An empty sparse vector (all terms out of vocabulary) matches nothing.
	if len(query.Indices) == 0 {
		return nil, nil
	}

	limit := query.Limit
	if limit <= 0 {
		limit = q.cfg.SparseLimit
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	start := time.Now()
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuerySparse(query.Indices, query.Values),
		Using:          qdrant.PtrOf(sparseVectorName),
		Filter:         buildFilter(query.Filter.Normalize()),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	observability.RecordRetrieval(ctx, collection, "sparse", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: sparse search in %s: %v", ErrUnavailable, collection, err)
	}

	return convertPoints(points, query.MediaType, "sparse"), nil
}

// Close closes the underlying gRPC connection.
func (q *Qdrant) Close() error {
	return q.client.Close()
}

func (q *Qdrant) collectionFor(mt media.MediaType) (string, error) {
	switch mt {
	case media.MediaTypeMovie:
		return q.cfg.MovieCollection, nil
	case media.MediaTypeTV:
		return q.cfg.TVCollection, nil
	default:
		return "", fmt.Errorf("unknown media type: %q", mt)
	}
}

// buildFilter converts a SearchFilter to Qdrant conditions. Nil when the
// filter is empty so unfiltered searches skip filter evaluation entirely.
func buildFilter(f SearchFilter) *qdrant.Filter {
	var must []*qdrant.Condition
	var mustNot []*qdrant.Condition

	if len(f.Genres) > 0 {
		must = append(must, qdrant.NewMatchKeywords("genres", f.Genres...))
	}
	if len(f.ProviderIDs) > 0 {
		must = append(must, qdrant.NewMatchInts("watch_providers", f.ProviderIDs...))
	}
	if f.YearRange != nil {
		must = append(must, qdrant.NewRange("release_year", &qdrant.Range{
			Gte: qdrant.PtrOf(float64(f.YearRange[0])),
			Lte: qdrant.PtrOf(float64(f.YearRange[1])),
		}))
	}
	if len(f.ExcludeMediaIDs) > 0 {
		mustNot = append(mustNot, qdrant.NewMatchInts("media_id", f.ExcludeMediaIDs...))
	}

	if len(must) == 0 && len(mustNot) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must, MustNot: mustNot}
}

// convertPoints maps scored points to candidates, attaching the arm's score.
func convertPoints(points []*qdrant.ScoredPoint, mt media.MediaType, arm string) []media.Candidate {
	candidates := make([]media.Candidate, 0, len(points))

	for _, point := range points {
		mediaID := payloadInt(point.Payload, "media_id")
		if mediaID == 0 {
			// Fall back to the point id for legacy collections indexed
			// before media_id became a payload field.
			if point.Id != nil {
				if num, ok := point.Id.PointIdOptions.(*qdrant.PointId_Num); ok {
					mediaID = int64(num.Num)
				}
			}
		}
		if mediaID == 0 {
			continue
		}

		candidate := media.Candidate{
			MediaID: mediaID,
			Type:    mt,
			Payload: media.Payload{
				Title:          payloadString(point.Payload, "title"),
				ReleaseYear:    int(payloadInt(point.Payload, "release_year")),
				Genres:         payloadStrings(point.Payload, "genres"),
				Overview:       payloadString(point.Payload, "overview"),
				WatchProviders: payloadInts(point.Payload, "watch_providers"),
				Popularity:     payloadFloat(point.Payload, "popularity"),
				VoteAverage:    payloadFloat(point.Payload, "vote_average"),
				VoteCount:      payloadInt(point.Payload, "vote_count"),
				Collection:     payloadString(point.Payload, "collection"),
				EmbeddingText:  payloadString(point.Payload, "embedding_text"),
			},
		}

		score := media.Float64Ptr(float64(point.Score))
		if arm == "dense" {
			candidate.DenseScore = score
		} else {
			candidate.SparseScore = score
		}

		candidates = append(candidates, candidate)
	}

	return candidates
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			return s.StringValue
		}
	}
	return ""
}

func payloadInt(payload map[string]*qdrant.Value, key string) int64 {
	if v, ok := payload[key]; ok {
		switch kind := v.Kind.(type) {
		case *qdrant.Value_IntegerValue:
			return kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			return int64(kind.DoubleValue)
		}
	}
	return 0
}

func payloadFloat(payload map[string]*qdrant.Value, key string) float64 {
	if v, ok := payload[key]; ok {
		switch kind := v.Kind.(type) {
		case *qdrant.Value_DoubleValue:
			return kind.DoubleValue
		case *qdrant.Value_IntegerValue:
			return float64(kind.IntegerValue)
		}
	}
	return 0
}

func payloadStrings(payload map[string]*qdrant.Value, key string) []string {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	list, ok := v.Kind.(*qdrant.Value_ListValue)
	if !ok || list.ListValue == nil {
		return nil
	}

	out := make([]string, 0, len(list.ListValue.Values))
	for _, item := range list.ListValue.Values {
		if s, ok := item.Kind.(*qdrant.Value_StringValue); ok {
			out = append(out, s.StringValue)
		}
	}
	return out
}

func payloadInts(payload map[string]*qdrant.Value, key string) []int64 {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	list, ok := v.Kind.(*qdrant.Value_ListValue)
	if !ok || list.ListValue == nil {
		return nil
	}

	out := make([]int64, 0, len(list.ListValue.Values))
	for _, item := range list.ListValue.Values {
		switch kind := item.Kind.(type) {
		case *qdrant.Value_IntegerValue:
			out = append(out, kind.IntegerValue)
		case *qdrant.Value_DoubleValue:
			out = append(out, int64(kind.DoubleValue))
		}
	}
	return out
}

// Ensure Qdrant implements Retriever.
var _ Retriever = (*Qdrant)(nil)
