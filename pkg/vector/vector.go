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

// Package vector retrieves media candidates from the vector store. It exposes
// the two retrieval arms the pipeline fuses: dense nearest-neighbor search and
// sparse (BM25-weighted) term search, both over the same filtered point set.
package vector

import (
	"context"
	"errors"

	"github.com/reelix-ai/reelix/pkg/media"
)

// ErrUnavailable reports that the vector backend could not serve the request
// within its budget. Callers decide whether one failed arm is fatal.
var ErrUnavailable = errors.New("vector store unavailable")

// SearchFilter restricts retrieval. All populated conditions are conjoined.
type SearchFilter struct {
	// Genres matches items carrying any of the listed genres.
	Genres []string

	// ProviderIDs matches items watchable on any of the listed providers.
	ProviderIDs []int64

	// YearRange is an inclusive [start, end] release-year window. A reversed
	// pair is swapped rather than rejected.
	YearRange *[2]int

	// ExcludeMediaIDs removes known items, e.g. ones the user already saw.
	ExcludeMediaIDs []int64
}

// Normalize returns the filter with a reversed year range swapped into
// ascending order.
func (f SearchFilter) Normalize() SearchFilter {
	if f.YearRange != nil && f.YearRange[0] > f.YearRange[1] {
		yr := [2]int{f.YearRange[1], f.YearRange[0]}
		f.YearRange = &yr
	}
	return f
}

// DenseQuery is a nearest-neighbor search against the dense embedding field.
type DenseQuery struct {
	MediaType media.MediaType
	Vector    []float32
	Filter    SearchFilter

	// Limit caps returned candidates; zero uses the configured default.
	Limit int
}

// SparseQuery is a term-weighted search against the sparse field. Indices and
// Values are parallel slices sorted by index.
type SparseQuery struct {
	MediaType media.MediaType
	Indices   []uint32
	Values    []float32
	Filter    SearchFilter
	Limit     int
}

// Retriever serves the two retrieval arms. Implementations must be safe for
// concurrent use; the pipeline runs both arms in parallel.
type Retriever interface {
	Dense(ctx context.Context, q DenseQuery) ([]media.Candidate, error)
	Sparse(ctx context.Context, q SparseQuery) ([]media.Candidate, error)
	Close() error
}
