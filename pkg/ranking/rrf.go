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
	"sort"

	"github.com/reelix-ai/reelix/pkg/media"
)

// FuseRRF merges the two retrieval lists by Reciprocal Rank Fusion:
// score(id) = Σ 1/(k + rank) over the lists the id appears in. The pool is
// the union of ids with positive RRF score, ordered by descending score with
// media id as the deterministic tie-break. Merged candidates keep whichever
// arm scores each list supplied.
func FuseRRF(dense, sparse []media.Candidate, k int) []Item {
	pool := make(map[int64]*Item, len(dense)+len(sparse))
	order := make([]int64, 0, len(dense)+len(sparse))

	upsert := func(c media.Candidate) *Item {
		item, ok := pool[c.MediaID]
		if !ok {
			item = &Item{
				Candidate: c,
				Trace:     ScoreTrace{MediaID: c.MediaID},
			}
			pool[c.MediaID] = item
			order = append(order, c.MediaID)
		}
		return item
	}

	for i, c := range dense {
		item := upsert(c)
		item.Trace.DenseRank = i + 1
		item.Trace.RRFScore += 1.0 / float64(k+i+1)
	}

	// Candidates already pooled from the dense arm keep their payload and
	// gain the sparse score; sparse-only candidates enter whole.
	for i, c := range sparse {
		item := upsert(c)
		item.Trace.SparseRank = i + 1
		item.Trace.RRFScore += 1.0 / float64(k+i+1)
		item.Candidate.SparseScore = c.SparseScore
	}

	fused := make([]Item, 0, len(order))
	for _, id := range order {
		if pool[id].Trace.RRFScore > 0 {
			fused = append(fused, *pool[id])
		}
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Trace.RRFScore != fused[j].Trace.RRFScore {
			return fused[i].Trace.RRFScore > fused[j].Trace.RRFScore
		}
		return fused[i].Candidate.MediaID < fused[j].Candidate.MediaID
	})

	return fused
}
