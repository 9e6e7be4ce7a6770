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

// Pruned records one item removed by diversification, for the audit trail.
type Pruned struct {
	MediaID    int64   `json:"media_id"`
	Title      string  `json:"title,omitempty"`
	Collection string  `json:"collection"`
	Score      float64 `json:"score"`
}

// Diversify walks items in their current (descending score) order and keeps
// at most groupCap per franchise collection. Items without a collection get a
// synthetic solo key, so standalone titles never collide. Returns the kept
// items in order plus the pruned overflow.
func Diversify(items []Item, groupCap int) ([]Item, []Pruned) {
	if groupCap <= 0 {
		groupCap = 1
	}

	counts := make(map[string]int, len(items))
	kept := make([]Item, 0, len(items))
	var pruned []Pruned

	for _, item := range items {
		key := item.Candidate.CollectionKey()
		if counts[key] >= groupCap {
			pruned = append(pruned, Pruned{
				MediaID:    item.Candidate.MediaID,
				Title:      item.Candidate.Payload.Title,
				Collection: item.Candidate.Payload.Collection,
				Score:      item.Trace.FinalScore,
			})
			continue
		}
		counts[key]++
		kept = append(kept, item)
	}

	return kept, pruned
}
