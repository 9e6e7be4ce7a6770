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

package ranking

import (
	"math"
	"sort"

	"github.com/reelix-ai/reelix/pkg/media"
)

// Bayesian rating smoothing: pull sparse vote counts toward the catalog mean
// so a 9.2 with forty votes doesn't outrank an 8.6 with forty thousand.
const (
	bayesPriorMean  = 7.0
	bayesPriorVotes = 2000.0
)

// Rating anchors mapping the smoothed average into [0, 1]. TV skews higher
// because episode-level voting inflates averages.
const (
	movieRatingFloor = 6.0
	movieRatingCeil  = 9.0
	tvRatingFloor    = 7.0
	tvRatingCeil     = 9.0
)

// Popularity anchors approximate P99·1.15 of each catalog's popularity
// distribution; the sublinear exponent keeps blockbusters from saturating.
const (
	moviePopularityAnchor = 31.0
	tvPopularityAnchor    = 58.0
	popularityExponent    = 0.6
)

// Recency half-life in years, used only when the recency weight is nonzero.
const recencyHalfLifeYears = 10.0

// RerankContext carries the per-turn inputs metadata scoring needs beyond the
// pool itself.
type RerankContext struct {
	// UserGenres drive the genre-overlap feature. Empty means no genre
	// signal: the feature reads neutral 1.0 and normally carries no weight.
	UserGenres []string

	// ReferenceYear anchors recency decay, normally the current year.
	ReferenceYear int

	Weights Weights
}

// RerankMetadata computes the feature vector and weighted metadata score for
// every pooled item, then orders the pool by descending score (media id
// tie-break). FinalScore is seeded with the metadata score; later stages may
// adjust it.
func RerankMetadata(pool []Item, rc RerankContext) []Item {
	sparseP95 := sparsePoolP95(pool)
	userGenres := normalizedGenreSet(rc.UserGenres)

	out := make([]Item, len(pool))
	for i, item := range pool {
		f := Features{
			Dense:      clamp01(item.Candidate.Dense()),
			Sparse:     sparseFeature(item.Candidate.Sparse(), sparseP95),
			Rating:     ratingFeature(item.Candidate),
			Popularity: popularityFeature(item.Candidate),
			Genre:      genreFeature(item.Candidate.Payload.Genres, userGenres, len(rc.UserGenres)),
		}
		if rc.Weights.Recency != 0 {
			f.Recency = recencyFeature(item.Candidate.Payload.ReleaseYear, rc.ReferenceYear)
		}

		c := Features{
			Dense:      rc.Weights.Dense * f.Dense,
			Sparse:     rc.Weights.Sparse * f.Sparse,
			Rating:     rc.Weights.Rating * f.Rating,
			Popularity: rc.Weights.Popularity * f.Popularity,
			Genre:      rc.Weights.Genre * f.Genre,
			Recency:    rc.Weights.Recency * f.Recency,
		}

		item.Trace.Features = f
		item.Trace.Contributions = c
		item.Trace.Weights = rc.Weights
		item.Trace.MetadataScore = c.Dense + c.Sparse + c.Rating + c.Popularity + c.Genre + c.Recency
		item.Trace.FinalScore = item.Trace.MetadataScore
		out[i] = item
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Trace.MetadataScore != out[j].Trace.MetadataScore {
			return out[i].Trace.MetadataScore > out[j].Trace.MetadataScore
		}
		return out[i].Candidate.MediaID < out[j].Candidate.MediaID
	})

	return out
}

// sparsePoolP95 is the 95th percentile (nearest-rank) of positive raw sparse
// scores in the pool; 0 when the pool has no positive sparse scores.
func sparsePoolP95(pool []Item) float64 {
	positives := make([]float64, 0, len(pool))
	for _, item := range pool {
		if s := item.Candidate.Sparse(); s > 0 {
			positives = append(positives, s)
		}
	}
	if len(positives) == 0 {
		return 0
	}
	sort.Float64s(positives)

	rank := int(math.Ceil(0.95*float64(len(positives)))) - 1
	if rank < 0 {
		rank = 0
	}
	return positives[rank]
}

func sparseFeature(raw, p95 float64) float64 {
	if raw <= 0 || p95 <= 0 {
		return 0
	}
	return clamp01(math.Log1p(raw) / math.Log1p(p95))
}

func ratingFeature(c media.Candidate) float64 {
	votes := float64(c.Payload.VoteCount)
	smoothed := (votes*c.Payload.VoteAverage + bayesPriorVotes*bayesPriorMean) / (votes + bayesPriorVotes)

	floor, ceil := movieRatingFloor, movieRatingCeil
	if c.Type == media.MediaTypeTV {
		floor, ceil = tvRatingFloor, tvRatingCeil
	}
	return clamp01((smoothed - floor) / (ceil - floor))
}

func popularityFeature(c media.Candidate) float64 {
	if c.Payload.Popularity <= 0 {
		return 0
	}
	anchor := moviePopularityAnchor
	if c.Type == media.MediaTypeTV {
		anchor = tvPopularityAnchor
	}
	return clamp01(math.Pow(math.Log1p(c.Payload.Popularity)/math.Log1p(anchor), popularityExponent))
}

// genreFeature is overlap count over the user's genre count. Without user
// genres it reads neutral so the (normally zero-weighted) feature cannot
// penalize anything.
func genreFeature(itemGenres []string, userGenres map[string]struct{}, userGenreCount int) float64 {
	if userGenreCount == 0 {
		return 1.0
	}
	overlap := 0
	for _, g := range itemGenres {
		if _, ok := userGenres[g]; ok {
			overlap++
		}
	}
	return clamp01(float64(overlap) / float64(userGenreCount))
}

func recencyFeature(releaseYear, referenceYear int) float64 {
	if releaseYear <= 0 || releaseYear >= referenceYear {
		return 1.0
	}
	age := float64(referenceYear - releaseYear)
	return clamp01(math.Pow(0.5, age/recencyHalfLifeYears))
}

func normalizedGenreSet(genres []string) map[string]struct{} {
	set := make(map[string]struct{}, len(genres))
	for _, g := range genres {
		set[g] = struct{}{}
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
