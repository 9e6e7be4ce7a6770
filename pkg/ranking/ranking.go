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

// Package ranking fuses the dense and sparse retrieval arms into one pool,
// reranks the pool on metadata features, and diversifies the result by
// franchise collection. Every stage is pure: identical inputs produce
// identical output, and nothing here touches shared state.
package ranking

import (
	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/media"
)

// Item is one candidate moving through the ranking stages, paired with the
// audit trace that explains its score.
type Item struct {
	Candidate media.Candidate
	Trace     ScoreTrace
}

// ScoreTrace records how a candidate earned its position: where it ranked in
// each retrieval arm, the normalized feature values and their weighted
// contributions, the curator's verdict, and the final score. FinalScore stays
// monotonic with slate order through every later stage.
type ScoreTrace struct {
	MediaID int64 `json:"media_id"`

	// 1-based ranks in the retrieval lists; 0 means the arm didn't return it.
	DenseRank  int     `json:"dense_rank,omitempty"`
	SparseRank int     `json:"sparse_rank,omitempty"`
	RRFScore   float64 `json:"rrf_score"`

	Features      Features `json:"features"`
	Contributions Features `json:"contributions"`
	Weights       Weights  `json:"weights"`

	MetadataScore float64 `json:"metadata_score"`

	// Filled in after curation.
	CuratorEval map[string]int `json:"curator_eval,omitempty"`
	Tier        string         `json:"tier,omitempty"`

	FinalScore float64 `json:"final_score"`
}

// Features holds the per-feature values in [0, 1].
type Features struct {
	Dense      float64 `json:"dense"`
	Sparse     float64 `json:"sparse"`
	Rating     float64 `json:"rating"`
	Popularity float64 `json:"popularity"`
	Genre      float64 `json:"genre"`
	Recency    float64 `json:"recency,omitempty"`
}

// Weights scales each feature's contribution to the metadata score. They are
// applied as-is and need not sum to one.
type Weights struct {
	Dense      float64 `json:"dense"`
	Sparse     float64 `json:"sparse"`
	Rating     float64 `json:"rating"`
	Popularity float64 `json:"popularity"`
	Genre      float64 `json:"genre"`
	Recency    float64 `json:"recency"`
}

// DefaultWeights favor dense similarity, with rating and popularity as
// quality priors. Genre overlap and recency carry no weight unless a turn
// overrides them.
func DefaultWeights() Weights {
	return Weights{
		Dense:      0.60,
		Sparse:     0.10,
		Rating:     0.18,
		Popularity: 0.12,
		Genre:      0.00,
		Recency:    0.00,
	}
}

// WeightsFromConfig resolves configured weights, falling back per-field to
// the defaults.
func WeightsFromConfig(cfg config.RankingConfig) Weights {
	w := DefaultWeights()
	if cfg.DenseWeight != nil {
		w.Dense = *cfg.DenseWeight
	}
	if cfg.SparseWeight != nil {
		w.Sparse = *cfg.SparseWeight
	}
	if cfg.RatingWeight != nil {
		w.Rating = *cfg.RatingWeight
	}
	if cfg.PopularityWeight != nil {
		w.Popularity = *cfg.PopularityWeight
	}
	if cfg.GenreWeight != nil {
		w.Genre = *cfg.GenreWeight
	}
	if cfg.RecencyWeight != nil {
		w.Recency = *cfg.RecencyWeight
	}
	return w
}
