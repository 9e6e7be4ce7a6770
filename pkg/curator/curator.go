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

// Package curator scores pipeline candidates against the user's intent with
// a single structured LLM call, then tiers and selects the final slate. The
// LLM grades fit; all ordering and selection stays deterministic code.
package curator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reelix-ai/reelix/pkg/llms"
	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/observability"
	"github.com/reelix-ai/reelix/pkg/ranking"
)

const overviewExcerptLimit = 320

// Evaluator runs the curator LLM call.
type Evaluator struct {
	llm    llms.Provider
	logger *slog.Logger
}

// New creates an evaluator bound to the curator LLM role.
func New(llm llms.Provider, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{llm: llm, logger: logger}
}

type evaluationResponse struct {
	EvaluationResults []Evaluation `json:"evaluation_results"`
}

// Evaluate scores every candidate along the four fit dimensions in one
// structured call. Candidates the model skips get neutral scores. A response
// that fails to parse is retried once; a second failure degrades to neutral
// scores for the whole pool rather than failing the turn. Transport errors
// (already retried by the provider) propagate.
func (e *Evaluator) Evaluate(ctx context.Context, spec media.QuerySpec, items []ranking.Item) (map[int64]Evaluation, error) {
	tracer := observability.GetTracer("curator")
	ctx, span := tracer.Start(ctx, observability.SpanCuration, trace.WithAttributes(
		attribute.Int("curator.candidates", len(items)),
	))
	defer span.End()

	if len(items) == 0 {
		return map[int64]Evaluation{}, nil
	}

	messages := []llms.Message{
		{Role: llms.RoleSystem, Content: evaluationSystemPrompt},
		{Role: llms.RoleUser, Content: buildEvaluationPrompt(spec, items)},
	}

	evals, err := e.call(ctx, messages)
	if err != nil {
		return nil, err
	}
	if evals == nil {
		// Bad JSON twice in a row: degrade to neutral instead of failing.
		e.logger.Warn("Curator returned unparseable output twice, using neutral scores")
		evals = map[int64]Evaluation{}
	}

	for _, item := range items {
		if _, ok := evals[item.Candidate.MediaID]; !ok {
			evals[item.Candidate.MediaID] = NeutralEvaluation(item.Candidate.MediaID)
		}
	}
	return evals, nil
}

// call makes the structured request with one parse retry. A nil map with nil
// error means both attempts produced unusable JSON.
func (e *Evaluator) call(ctx context.Context, messages []llms.Message) (map[int64]Evaluation, error) {
	for attempt := 0; attempt < 2; attempt++ {
		text, _, err := e.llm.GenerateStructured(ctx, messages, evaluationSchema())
		if err != nil {
			return nil, fmt.Errorf("curator call failed: %w", err)
		}

		evals, parseErr := parseEvaluations(text)
		if parseErr == nil {
			return evals, nil
		}

		e.logger.Warn("Curator response failed to parse", "attempt", attempt+1, "error", parseErr)
		messages = append(messages, llms.Message{
			Role:    llms.RoleUser,
			Content: "The previous response was not valid JSON. Respond again with ONLY the JSON object, no prose.",
		})
	}
	return nil, nil
}

func parseEvaluations(text string) (map[int64]Evaluation, error) {
	var resp evaluationResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, err
	}
	if resp.EvaluationResults == nil {
		return nil, fmt.Errorf("missing evaluation_results")
	}

	evals := make(map[int64]Evaluation, len(resp.EvaluationResults))
	for _, eval := range resp.EvaluationResults {
		eval.GenreFit = clampFit(eval.GenreFit)
		eval.ToneFit = clampFit(eval.ToneFit)
		eval.StructureFit = clampFit(eval.StructureFit)
		eval.ThemeFit = clampFit(eval.ThemeFit)
		evals[eval.MediaID] = eval
	}
	return evals, nil
}

func clampFit(v int) int {
	if v < 0 {
		return 0
	}
	if v > 2 {
		return 2
	}
	return v
}

const evaluationSystemPrompt = `You are a film and TV curator judging how well candidate titles fit a viewer's request.

Score every candidate on four dimensions, each 0, 1, or 2:
- genre_fit: does the candidate's genre match the requested genres? (2 = squarely in genre, 1 = adjacent, 0 = wrong genre)
- tone_fit: does its mood match the requested tone? (2 = exact mood, 1 = close, 0 = clashes)
- structure_fit: does its narrative shape match? (2 = yes, 1 = partly, 0 = no)
- theme_fit: do its themes overlap the requested themes? (2 = strongly, 1 = somewhat, 0 = not at all)

Judge only from the provided material. Score every candidate exactly once.
Respond with ONLY a JSON object, no prose, no markdown fences.`

func buildEvaluationPrompt(spec media.QuerySpec, items []ranking.Item) string {
	var sb strings.Builder

	sb.WriteString("**Viewer request:**\n")
	fmt.Fprintf(&sb, "query: %s\n", spec.QueryText)
	if len(spec.CoreGenres) > 0 {
		fmt.Fprintf(&sb, "genres: %s\n", strings.Join(spec.CoreGenres, ", "))
	}
	if len(spec.CoreTone) > 0 {
		fmt.Fprintf(&sb, "tone: %s\n", strings.Join(spec.CoreTone, ", "))
	}
	if spec.NarrativeShape != "" {
		fmt.Fprintf(&sb, "narrative shape: %s\n", spec.NarrativeShape)
	}
	if len(spec.KeyThemes) > 0 {
		fmt.Fprintf(&sb, "themes: %s\n", strings.Join(spec.KeyThemes, ", "))
	}

	sb.WriteString("\n**Candidates:**\n")
	for _, item := range items {
		p := item.Candidate.Payload
		fmt.Fprintf(&sb, "\nmedia_id: %d\ntitle: %s (%d)\n", item.Candidate.MediaID, p.Title, p.ReleaseYear)
		if len(p.Genres) > 0 {
			fmt.Fprintf(&sb, "genres: %s\n", strings.Join(p.Genres, ", "))
		}
		if excerpt := candidateExcerpt(p); excerpt != "" {
			fmt.Fprintf(&sb, "about: %s\n", excerpt)
		}
	}

	sb.WriteString(`
Return JSON of the form:
{"evaluation_results": [{"media_id": <int>, "genre_fit": <0|1|2>, "tone_fit": <0|1|2>, "structure_fit": <0|1|2>, "theme_fit": <0|1|2>}, ...]}`)

	return sb.String()
}

// candidateExcerpt prefers the indexer's compact embedding text over the raw
// overview, clipped rune-safe.
func candidateExcerpt(p media.Payload) string {
	text := p.EmbeddingText
	if text == "" {
		text = p.Overview
	}
	runes := []rune(text)
	if len(runes) > overviewExcerptLimit {
		return string(runes[:overviewExcerptLimit]) + "…"
	}
	return text
}

func evaluationSchema() map[string]interface{} {
	fit := map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 2}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"evaluation_results": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"media_id":      map[string]interface{}{"type": "integer"},
						"genre_fit":     fit,
						"tone_fit":      fit,
						"structure_fit": fit,
						"theme_fit":     fit,
					},
					"required":             []string{"media_id", "genre_fit", "tone_fit", "structure_fit", "theme_fit"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"evaluation_results"},
		"additionalProperties": false,
	}
}
