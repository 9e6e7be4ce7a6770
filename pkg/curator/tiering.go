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

package curator

import "github.com/reelix-ai/reelix/pkg/ranking"

// Tier buckets a candidate by curator verdict.
type Tier string

const (
	TierStrong   Tier = "strong_match"
	TierModerate Tier = "moderate_match"
	TierNone     Tier = "no_match"
)

// Strong selections rank a full tier above moderates in the final score so
// slate order stays monotonic with FinalScore after tiering.
const strongTierBoost = 1.0

// Evaluation is the curator's per-candidate verdict: four fit dimensions,
// each scored 0 (miss), 1 (partial), or 2 (hit).
type Evaluation struct {
	MediaID      int64 `json:"media_id"`
	GenreFit     int   `json:"genre_fit"`
	ToneFit      int   `json:"tone_fit"`
	StructureFit int   `json:"structure_fit"`
	ThemeFit     int   `json:"theme_fit"`
}

// NeutralEvaluation is the stand-in for candidates the curator skipped or
// when the call failed outright: moderate across the board.
func NeutralEvaluation(mediaID int64) Evaluation {
	return Evaluation{MediaID: mediaID, GenreFit: 1, ToneFit: 1, StructureFit: 1, ThemeFit: 1}
}

// TotalFit sums the four dimensions, range 0-8.
func (e Evaluation) TotalFit() int {
	return e.GenreFit + e.ToneFit + e.StructureFit + e.ThemeFit
}

// Tier applies the deterministic tiering rule. Genre is the gatekeeper: a
// candidate in the wrong genre can't be more than a no-match however well it
// scores elsewhere.
func (e Evaluation) Tier() Tier {
	total := e.TotalFit()
	if (e.GenreFit == 2 && e.ToneFit == 2) || (total >= 5 && e.GenreFit >= 1) {
		return TierStrong
	}
	if total >= 3 && total <= 4 && e.GenreFit >= 1 {
		return TierModerate
	}
	return TierNone
}

func (e Evaluation) asMap() map[string]int {
	return map[string]int{
		"genre_fit":     e.GenreFit,
		"tone_fit":      e.ToneFit,
		"structure_fit": e.StructureFit,
		"theme_fit":     e.ThemeFit,
		"total_fit":     e.TotalFit(),
	}
}

// TierStats counts the tier distribution over the evaluated pool.
type TierStats struct {
	Strong   int `json:"strong"`
	Moderate int `json:"moderate"`
	None     int `json:"none"`
}

// Select applies tiering to the pipeline's ranked items and picks the final
// slate. Order within a tier preserves the incoming (score-descending) order.
//
// The ladder trades quality for coverage: plenty of strongs means no
// moderates at all, a thin strong set borrows a few, and with no strongs a
// small moderate-only slate is better than an empty one.
func Select(items []ranking.Item, evals map[int64]Evaluation, limit int) ([]ranking.Item, TierStats) {
	if limit <= 0 {
		limit = 1
	}

	var stats TierStats
	var strongs, moderates []ranking.Item

	for _, item := range items {
		eval, ok := evals[item.Candidate.MediaID]
		if !ok {
			eval = NeutralEvaluation(item.Candidate.MediaID)
		}
		tier := eval.Tier()

		item.Trace.CuratorEval = eval.asMap()
		item.Trace.Tier = string(tier)

		switch tier {
		case TierStrong:
			stats.Strong++
			item.Trace.FinalScore += strongTierBoost
			strongs = append(strongs, item)
		case TierModerate:
			stats.Moderate++
			moderates = append(moderates, item)
		default:
			stats.None++
		}
	}

	var slate []ranking.Item
	switch {
	case len(strongs) >= limit:
		slate = strongs[:limit]
	case len(strongs) >= 5:
		slate = strongs
	case len(strongs) >= 3:
		slate = withModerates(strongs, moderates, 2, limit)
	case len(strongs) >= 1:
		slate = withModerates(strongs, moderates, 4, limit)
	default:
		slate = withModerates(nil, moderates, 5, limit)
	}

	return slate, stats
}

func withModerates(strongs, moderates []ranking.Item, maxModerates, limit int) []ranking.Item {
	slate := make([]ranking.Item, 0, limit)
	slate = append(slate, strongs...)

	for _, m := range moderates {
		if len(slate) >= limit || maxModerates <= 0 {
			break
		}
		slate = append(slate, m)
		maxModerates--
	}

	if len(slate) > limit {
		slate = slate[:limit]
	}
	return slate
}
