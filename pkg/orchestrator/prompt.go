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

package orchestrator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/session"
)

const systemPromptTemplate = `You are the orchestrator of a movie and TV discovery service. The current year is %d.

For every user message, decide between two actions:
1. The user wants something to watch (a new request, a refinement of the last one, or a reaction to the last slate): call the %s tool.
2. Anything else (questions about the service, small talk, clarifications): answer directly in one or two short sentences. Do not call the tool.

When calling the tool:
- rec_query_spec.query_text is a short retrieval phrase distilled from the request, never the raw message.
- rec_query_spec.core_genres may only use: %s.
- rec_query_spec.providers may only use: %s.
- rec_query_spec.year_range is null or [start, end] with %d <= start <= end <= %d.
- memory_delta.turn_kind: "new" for a fresh request, "refine" when narrowing the previous one, "chat" otherwise.
- memory_delta.recent_feedback only when the user reacted to the previous slate.
- opening_summary: exactly two short sentences the user reads while results load. Warm, concrete, no lists, no questions.

If the session memory below mentions prior constraints the user has not revoked, keep honoring them.`

// systemPrompt renders the orchestration contract for the given year.
func systemPrompt(currentYear, yearFloor, yearCap int) string {
	providers := media.ProviderNames()
	sort.Strings(providers)
	return fmt.Sprintf(systemPromptTemplate,
		currentYear,
		ToolName,
		strings.Join(media.CanonicalGenres(), ", "),
		strings.Join(providers, ", "),
		yearFloor,
		yearCap,
	)
}

// memoryPrompt synthesizes the SESSION MEMORY system message from the prior
// state: the compact summary, the previous spec, and the slot listing so
// references like "more like #2" resolve. Returns "" when there is nothing
// worth telling the model.
func memoryPrompt(state *session.State) string {
	if state == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("SESSION MEMORY (prior turns, newest values win):\n")
	wrote := false

	if len(state.Summary) > 0 {
		if compact, err := json.Marshal(state.Summary); err == nil {
			fmt.Fprintf(&sb, "\nsummary: %s\n", compact)
			wrote = true
		}
	}
	if state.LastSpec != nil {
		if spec, err := json.Marshal(state.LastSpec); err == nil {
			fmt.Fprintf(&sb, "\nlast_spec: %s\n", spec)
			wrote = true
		}
	}
	if len(state.SlotMap) > 0 {
		sb.WriteString("\nlast slate shown to the user:\n")
		for _, slot := range sortedSlots(state.SlotMap) {
			ref := state.SlotMap[slot]
			fmt.Fprintf(&sb, "%s. %s (%d) [media_id %d]\n", slot, ref.Title, ref.ReleaseYear, ref.MediaID)
		}
		wrote = true
	}

	if !wrote {
		return ""
	}
	return sb.String()
}

// sortedSlots orders slot keys numerically where possible, lexically
// otherwise.
func sortedSlots(slots map[string]session.SlotRef) []string {
	keys := make([]string, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		var na, nb int
		_, errA := fmt.Sscanf(keys[a], "%d", &na)
		_, errB := fmt.Sscanf(keys[b], "%d", &nb)
		if errA == nil && errB == nil {
			return na < nb
		}
		return keys[a] < keys[b]
	})
	return keys
}
