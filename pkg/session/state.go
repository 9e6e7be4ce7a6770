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

// Package session holds per-session durable memory: the rolling summary the
// orchestrator reads on every turn, the last query spec, the slot map of the
// last slate, and the seen-media list that drives novelty.
package session

import (
	"reflect"
	"time"

	"github.com/reelix-ai/reelix/pkg/media"
)

// SeenMediaCap bounds seen_media_ids to the most recent entries.
const SeenMediaCap = 200

// Summary keys the orchestrator and reflection agent read and write.
const (
	SummaryTurnKind           = "turn_kind"
	SummaryRecentFeedback     = "recent_feedback"
	SummaryLastUserMessage    = "last_user_message"
	SummaryLastAdminMessage   = "last_admin_message"
	SummaryConstraints        = "constraints"
	SummaryPrefs              = "prefs"
	SummaryReflectionStrategy = "last_reflection_strategy"
)

// Turn kinds carried in summary.turn_kind.
const (
	TurnKindNew    = "new"
	TurnKindRefine = "refine"
	TurnKindChat   = "chat"
)

// SlotRef identifies one slate position shown to the user, so follow-ups
// like "more like #2" resolve.
type SlotRef struct {
	MediaID     int64  `json:"media_id"`
	Title       string `json:"title"`
	ReleaseYear int    `json:"release_year,omitempty"`
}

// State is the durable per-session memory document.
type State struct {
	UserID       string                 `json:"user_id,omitempty"`
	Summary      map[string]interface{} `json:"summary,omitempty"`
	LastSpec     *media.QuerySpec       `json:"last_spec,omitempty"`
	SlotMap      map[string]SlotRef     `json:"slot_map,omitempty"`
	SeenMediaIDs []int64                `json:"seen_media_ids,omitempty"`
	CreatedAt    time.Time              `json:"created_at,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at,omitempty"`
}

// TurnKind reads summary.turn_kind, empty when unset.
func (s *State) TurnKind() string {
	if s == nil {
		return ""
	}
	kind, _ := s.Summary[SummaryTurnKind].(string)
	return kind
}

// Delta is the per-turn change set merged into the state.
type Delta struct {
	Summary      map[string]interface{} `json:"summary,omitempty"`
	LastSpec     *media.QuerySpec       `json:"last_spec,omitempty"`
	SlotMap      map[string]SlotRef     `json:"slot_map,omitempty"`
	SeenMediaIDs []int64                `json:"seen_media_ids,omitempty"`
}

// ApplyDelta merges a turn's delta into the state and returns the result.
//
// Rules:
//   - A user mismatch resets the state: memory never crosses account
//     boundaries, so the previous owner's data is dropped wholesale.
//   - summary.turn_kind == "new" clears last_spec, slot_map and
//     seen_media_ids before the delta lands.
//   - summary.constraints and summary.prefs merge recursively (maps merge,
//     lists union keeping first-seen order, scalars overwrite), except
//     constraints.year_range which is replaced as a unit.
//   - Every other summary key overwrites.
//   - last_spec and slot_map overwrite when present.
//   - seen_media_ids appends with recency: re-seen ids move to the tail,
//     the list keeps the most recent SeenMediaCap entries.
func ApplyDelta(state *State, userID string, delta Delta) *State {
	if state == nil {
		state = &State{}
	}
	if state.UserID != "" && state.UserID != userID {
		state = &State{}
	}
	state.UserID = userID

	if kind, _ := delta.Summary[SummaryTurnKind].(string); kind == TurnKindNew {
		state.LastSpec = nil
		state.SlotMap = nil
		state.SeenMediaIDs = nil
	}

	if len(delta.Summary) > 0 && state.Summary == nil {
		state.Summary = make(map[string]interface{}, len(delta.Summary))
	}
	for key, value := range delta.Summary {
		switch key {
		case SummaryConstraints, SummaryPrefs:
			state.Summary[key] = mergeValue(state.Summary[key], value, key == SummaryConstraints)
		default:
			state.Summary[key] = value
		}
	}

	if delta.LastSpec != nil {
		state.LastSpec = delta.LastSpec
	}
	if delta.SlotMap != nil {
		state.SlotMap = delta.SlotMap
	}
	if len(delta.SeenMediaIDs) > 0 {
		state.SeenMediaIDs = mergeSeen(state.SeenMediaIDs, delta.SeenMediaIDs, SeenMediaCap)
	}

	return state
}

// mergeValue merges src into dst. constraints.year_range is replaced as a
// unit: merging [1990,1999] into [1970,2020] element-wise would fabricate a
// range nobody asked for.
func mergeValue(dst, src interface{}, constraints bool) interface{} {
	srcMap, srcIsMap := src.(map[string]interface{})
	if !srcIsMap {
		return src
	}
	dstMap, dstIsMap := dst.(map[string]interface{})
	if !dstIsMap {
		dstMap = make(map[string]interface{}, len(srcMap))
	}

	for key, value := range srcMap {
		if constraints && key == "year_range" {
			dstMap[key] = value
			continue
		}
		switch v := value.(type) {
		case map[string]interface{}:
			dstMap[key] = mergeValue(dstMap[key], v, false)
		case []interface{}:
			dstMap[key] = unionLists(dstMap[key], v)
		default:
			dstMap[key] = value
		}
	}
	return dstMap
}

// unionLists appends src elements missing from dst, keeping dst's order.
func unionLists(dst interface{}, src []interface{}) []interface{} {
	existing, _ := dst.([]interface{})
	out := make([]interface{}, len(existing))
	copy(out, existing)

	for _, candidate := range src {
		found := false
		for _, have := range out {
			if reflect.DeepEqual(have, candidate) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, candidate)
		}
	}
	return out
}

// mergeSeen appends incoming ids: a re-seen id moves to the tail so the list
// stays ordered oldest to newest, deduped, capped to the most recent limit.
func mergeSeen(existing, incoming []int64, limit int) []int64 {
	moved := make(map[int64]bool, len(incoming))
	for _, id := range incoming {
		moved[id] = true
	}

	out := make([]int64, 0, len(existing)+len(incoming))
	kept := make(map[int64]bool, len(existing))
	for _, id := range existing {
		if !moved[id] && !kept[id] {
			kept[id] = true
			out = append(out, id)
		}
	}

	appended := make(map[int64]bool, len(incoming))
	for _, id := range incoming {
		if !appended[id] {
			appended[id] = true
			out = append(out, id)
		}
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
