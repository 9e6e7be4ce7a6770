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

// SPDX-License-Identifier: AGPL-3.0

// Package media defines the catalog domain model shared by retrieval,
// ranking, and the discovery endpoints: media types, candidates with their
// indexed payloads, the closed provider table, and the canonical genre set.
package media

import "fmt"

// MediaType identifies which catalog a title belongs to.
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeTV    MediaType = "tv"
)

// ParseMediaType validates a user-supplied media type string.
func ParseMediaType(s string) (MediaType, error) {
	switch MediaType(s) {
	case MediaTypeMovie:
		return MediaTypeMovie, nil
	case MediaTypeTV:
		return MediaTypeTV, nil
	default:
		return "", fmt.Errorf("unknown media type %q (want movie or tv)", s)
	}
}

// Collection returns the vector store collection name for the media type.
func (t MediaType) Collection() string {
	if t == MediaTypeTV {
		return "tv"
	}
	return "movies"
}

// Payload carries the indexed fields a point stores alongside its vectors.
// These are exactly the fields downstream scoring and prompting need; the
// offline indexer owns the full document.
type Payload struct {
	Title          string   `json:"title"`
	ReleaseYear    int      `json:"release_year"`
	Genres         []string `json:"genres,omitempty"`
	Overview       string   `json:"overview,omitempty"`
	WatchProviders []int64  `json:"watch_providers,omitempty"`
	Popularity     float64  `json:"popularity"`
	VoteAverage    float64  `json:"vote_average"`
	VoteCount      int64    `json:"vote_count"`
	Collection     string   `json:"collection,omitempty"`
	EmbeddingText  string   `json:"embedding_text,omitempty"`
}

// HasProvider reports whether the payload lists the given provider id.
func (p *Payload) HasProvider(id int64) bool {
	for _, pid := range p.WatchProviders {
		if pid == id {
			return true
		}
	}
	return false
}

// Candidate is one retrieved title under consideration within a turn.
// Value object: created by the retriever, owned by the pipeline for the
// duration of a single request. DenseScore and SparseScore are nil when the
// corresponding list did not return the item.
type Candidate struct {
	MediaID     int64     `json:"media_id"`
	Type        MediaType `json:"media_type"`
	Payload     Payload   `json:"payload"`
	DenseScore  *float64  `json:"dense_score,omitempty"`
	SparseScore *float64  `json:"sparse_score,omitempty"`
}

// Dense returns the dense score or 0 when absent.
func (c *Candidate) Dense() float64 {
	if c.DenseScore == nil {
		return 0
	}
	return *c.DenseScore
}

// Sparse returns the sparse score or 0 when absent.
func (c *Candidate) Sparse() float64 {
	if c.SparseScore == nil {
		return 0
	}
	return *c.SparseScore
}

// CollectionKey groups candidates by franchise for diversification. Titles
// without a collection get a synthetic per-title key so they never collide.
func (c *Candidate) CollectionKey() string {
	if c.Payload.Collection != "" {
		return c.Payload.Collection
	}
	return fmt.Sprintf("solo:%s:%d", c.Type, c.MediaID)
}

// Float64Ptr is a convenience for building candidates with optional scores.
func Float64Ptr(v float64) *float64 { return &v }
