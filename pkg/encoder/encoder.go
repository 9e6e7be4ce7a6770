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

// Package encoder turns query text into the hybrid representation retrieval
// needs: a dense embedding from the embedding provider and a sparse BM25
// vector aligned with the indexed corpora.
package encoder

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/reelix-ai/reelix/pkg/embedders"
	"github.com/reelix-ai/reelix/pkg/media"
)

// EncodedQuery carries both retrieval arms for one query.
type EncodedQuery struct {
	Dense  []float32
	Sparse SparseVector
}

// Encoder produces hybrid query encodings. Safe for concurrent use.
type Encoder struct {
	embedder embedders.Provider
	bm25     *BM25
}

// New creates an encoder over the given embedding provider and BM25 model.
func New(embedder embedders.Provider, bm25 *BM25) *Encoder {
	return &Encoder{embedder: embedder, bm25: bm25}
}

// Encode runs the dense and sparse encodings concurrently. A failed embedding
// call fails the encode; the sparse side cannot fail, only come back empty.
func (e *Encoder) Encode(ctx context.Context, text string, mt media.MediaType) (*EncodedQuery, error) {
	var encoded EncodedQuery

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		dense, err := e.embedder.Embed(groupCtx, text)
		if err != nil {
			return fmt.Errorf("dense encode failed: %w", err)
		}
		encoded.Dense = dense
		return nil
	})
	group.Go(func() error {
		encoded.Sparse = e.bm25.Encode(text, mt)
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return &encoded, nil
}
