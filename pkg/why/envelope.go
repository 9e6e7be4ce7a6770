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

// Package why builds and streams per-title "why you might enjoy it"
// explanations. The prompt for a slate is frozen into a PromptsEnvelope at
// recommendation time and persisted on the WHY ticket; the stream endpoint
// later replays it against the LLM and parses the JSONL reply
// incrementally.
package why

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reelix-ai/reelix/pkg/llms"
	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/ranking"
	"github.com/reelix-ai/reelix/pkg/utils"
)

// OutputFormatJSONL marks the envelope's expected response framing.
const OutputFormatJSONL = "jsonl"

// candidateClipTokens bounds each candidate block in the user prompt.
const candidateClipTokens = 220

// PromptsEnvelope freezes everything needed to run the WHY call later:
// model, sampling params, the exact messages, and a hash binding them.
type PromptsEnvelope struct {
	Model      string                 `json:"model"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Output     OutputSpec             `json:"output"`
	Calls      []Call                 `json:"calls"`
	PromptHash string                 `json:"prompt_hash"`
}

// OutputSpec names the response framing the prompt demands.
type OutputSpec struct {
	Format string `json:"format"`
}

// Call is one runnable prompt, with a brief of the items it explains.
type Call struct {
	CallID     string         `json:"call_id"`
	Messages   []llms.Message `json:"messages"`
	ItemsBrief []ItemBrief    `json:"items_brief,omitempty"`
}

// ItemBrief is the display identity of one explained item.
type ItemBrief struct {
	MediaID     int64  `json:"media_id"`
	Title       string `json:"title"`
	ReleaseYear int    `json:"release_year,omitempty"`
}

// Call returns the 1-based batch's call; batch <= 0 selects the first.
func (e PromptsEnvelope) Call(batch int) (Call, bool) {
	if batch <= 0 {
		batch = 1
	}
	if batch > len(e.Calls) {
		return Call{}, false
	}
	return e.Calls[batch-1], true
}

// Builder assembles WHY envelopes for slates.
type Builder struct {
	model   string
	params  map[string]interface{}
	counter *utils.TokenCounter
}

// NewBuilder binds the builder to the WHY model. params ride into the
// envelope as-is (temperature and friends).
func NewBuilder(model string, params map[string]interface{}) (*Builder, error) {
	counter, err := utils.NewTokenCounter(model)
	if err != nil {
		return nil, err
	}
	return &Builder{model: model, params: params, counter: counter}, nil
}

// Build produces a single-call envelope covering the whole slate.
func (b *Builder) Build(spec media.QuerySpec, items []ranking.Item) PromptsEnvelope {
	messages := []llms.Message{
		{Role: llms.RoleSystem, Content: whySystemPrompt},
		{Role: llms.RoleUser, Content: b.buildUserPrompt(spec, items)},
	}

	env := PromptsEnvelope{
		Model:  b.model,
		Params: b.params,
		Output: OutputSpec{Format: OutputFormatJSONL},
		Calls: []Call{{
			CallID:     "1",
			Messages:   messages,
			ItemsBrief: itemBriefs(items),
		}},
	}
	env.PromptHash = hashPrompt(env.Model, env.Params, env.Output, messages)
	return env
}

const whySystemPrompt = `You write one short "why you might enjoy it" line for each recommended title.

Output format: JSON Lines. Emit exactly one line per candidate, in the order the candidates appear, and nothing else:

{"media_id": <id>, "why": "<one line of light markdown>"}

Rules:
- One JSON object per line. No prose, no code fences, no blank lines.
- "why" is 1-2 short sentences in second person, grounded in the viewer request.
- Never put a literal newline inside "why".
- Bold at most one short phrase with **like this**.`

func (b *Builder) buildUserPrompt(spec media.QuerySpec, items []ranking.Item) string {
	var sb strings.Builder

	sb.WriteString("## Viewer request\n")
	fmt.Fprintf(&sb, "query_text: %s\n", spec.QueryText)
	if len(spec.CoreGenres) > 0 {
		fmt.Fprintf(&sb, "core_genres: %s\n", strings.Join(spec.CoreGenres, ", "))
	}
	if len(spec.CoreTone) > 0 {
		fmt.Fprintf(&sb, "core_tone: %s\n", strings.Join(spec.CoreTone, ", "))
	}
	if len(spec.KeyThemes) > 0 {
		fmt.Fprintf(&sb, "key_themes: %s\n", strings.Join(spec.KeyThemes, ", "))
	}
	if spec.NarrativeShape != "" {
		fmt.Fprintf(&sb, "narrative_shape: %s\n", spec.NarrativeShape)
	}

	sb.WriteString("\n## Candidates\n")
	for _, item := range items {
		text := item.Candidate.Payload.EmbeddingText
		if text == "" {
			text = item.Candidate.Payload.Overview
		}
		if text == "" {
			text = item.Candidate.Payload.Title
		}
		text = b.counter.Clip(text, candidateClipTokens)
		fmt.Fprintf(&sb, "```\nmedia_id: %d\n%s\n```\n", item.Candidate.MediaID, text)
	}

	return sb.String()
}

func itemBriefs(items []ranking.Item) []ItemBrief {
	briefs := make([]ItemBrief, len(items))
	for i, item := range items {
		briefs[i] = ItemBrief{
			MediaID:     item.Candidate.MediaID,
			Title:       item.Candidate.Payload.Title,
			ReleaseYear: item.Candidate.Payload.ReleaseYear,
		}
	}
	return briefs
}

// hashPrompt hashes the canonical JSON of the prompt identity. Map keys
// marshal sorted, so equal prompts hash equal.
func hashPrompt(model string, params map[string]interface{}, output OutputSpec, messages []llms.Message) string {
	doc := struct {
		Model    string                 `json:"model"`
		Params   map[string]interface{} `json:"params"`
		Output   OutputSpec             `json:"output"`
		Messages []llms.Message         `json:"messages"`
	}{model, params, output, messages}

	raw, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
