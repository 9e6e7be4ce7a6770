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

// Package reflection suggests the next exploration direction after a slate
// is served. Strictly best effort: the call is bounded by a hard timeout and
// every failure mode degrades to no suggestion.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/curator"
	"github.com/reelix-ai/reelix/pkg/llms"
	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/ranking"
)

const defaultTimeout = 10 * time.Second

// Strategies the model may pick from.
const (
	StrategyMoreLikeTitle   = "more_like_title"
	StrategyExploreAdjacent = "explore_adjacent"
	StrategyShiftEra        = "shift_era"
)

// Suggestion is one validated next step: a strategy from the closed set and
// a short question for the viewer.
type Suggestion struct {
	Strategy   string `json:"strategy"`
	Suggestion string `json:"suggestion"`
}

// Input is what the reflection call sees: the spec that produced the slate,
// the slate itself, the tier distribution, and the strategy suggested last
// turn so it is not repeated.
type Input struct {
	Spec         media.QuerySpec
	Slate        []ranking.Item
	Stats        curator.TierStats
	PrevStrategy string
}

// Agent issues the reflection call. A nil Agent never suggests, so callers
// wire it unconditionally and configuration decides.
type Agent struct {
	llm     llms.Provider
	timeout time.Duration
	logger  *slog.Logger
}

// New creates the reflection agent, or nil when no LLM is configured.
func New(llm llms.Provider, discovery config.DiscoveryConfig, logger *slog.Logger) *Agent {
	if llm == nil {
		return nil
	}
	timeout := time.Duration(discovery.ReflectionTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{llm: llm, timeout: timeout, logger: logger}
}

// Suggest returns a validated suggestion or nil. It never returns an error;
// a next-step hint that can fail the turn would be worse than none.
func (a *Agent) Suggest(ctx context.Context, in Input) *Suggestion {
	if a == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	messages := []llms.Message{
		{Role: llms.RoleSystem, Content: reflectionSystemPrompt},
		{Role: llms.RoleUser, Content: buildReflectionPrompt(in)},
	}

	text, _, err := a.llm.GenerateStructured(ctx, messages, suggestionSchema())
	if err != nil {
		a.logger.Warn("Reflection call failed", "error", err)
		return nil
	}

	var s Suggestion
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		a.logger.Warn("Reflection response failed to parse", "error", err)
		return nil
	}
	if !validStrategy(s.Strategy) {
		a.logger.Warn("Reflection returned an unknown strategy", "strategy", s.Strategy)
		return nil
	}
	s.Suggestion = strings.TrimSpace(s.Suggestion)
	if s.Suggestion == "" || !strings.HasSuffix(s.Suggestion, "?") {
		a.logger.Warn("Reflection suggestion is not a question", "suggestion", s.Suggestion)
		return nil
	}
	return &s
}

func validStrategy(s string) bool {
	switch s {
	case StrategyMoreLikeTitle, StrategyExploreAdjacent, StrategyShiftEra:
		return true
	}
	return false
}

const reflectionSystemPrompt = `You are the reflection step of a movie and TV discovery service. A slate was just served to the viewer. Suggest ONE next direction they could take.

Pick exactly one strategy:
- more_like_title: anchor on one title from the slate and go deeper.
- explore_adjacent: step sideways into a neighboring genre, tone, or theme.
- shift_era: keep the taste, move the time period.

The suggestion is one or two short sentences, addressed to the viewer, and MUST end with a question mark.
Respond with ONLY a JSON object, no prose, no markdown fences.`

func buildReflectionPrompt(in Input) string {
	var sb strings.Builder

	sb.WriteString("**Request just served:**\n")
	fmt.Fprintf(&sb, "query: %s\n", in.Spec.QueryText)
	if len(in.Spec.CoreGenres) > 0 {
		fmt.Fprintf(&sb, "genres: %s\n", strings.Join(in.Spec.CoreGenres, ", "))
	}
	if len(in.Spec.CoreTone) > 0 {
		fmt.Fprintf(&sb, "tone: %s\n", strings.Join(in.Spec.CoreTone, ", "))
	}
	if in.Spec.YearRange != nil {
		fmt.Fprintf(&sb, "years: %d-%d\n", in.Spec.YearRange[0], in.Spec.YearRange[1])
	}

	sb.WriteString("\n**Slate:**\n")
	for _, item := range in.Slate {
		p := item.Candidate.Payload
		fmt.Fprintf(&sb, "- %s (%d)\n", p.Title, p.ReleaseYear)
	}

	fmt.Fprintf(&sb, "\ntier mix: %d strong, %d moderate, %d weak\n",
		in.Stats.Strong, in.Stats.Moderate, in.Stats.None)
	if in.PrevStrategy != "" {
		fmt.Fprintf(&sb, "last turn's strategy was %s; pick a different one unless nothing else fits\n", in.PrevStrategy)
	}

	sb.WriteString("\nReturn JSON of the form:\n{\"strategy\": \"more_like_title|explore_adjacent|shift_era\", \"suggestion\": \"...?\"}")
	return sb.String()
}

func suggestionSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"strategy": map[string]interface{}{
				"type": "string",
				"enum": []string{StrategyMoreLikeTitle, StrategyExploreAdjacent, StrategyShiftEra},
			},
			"suggestion": map[string]interface{}{"type": "string"},
		},
		"required":             []string{"strategy", "suggestion"},
		"additionalProperties": false,
	}
}
