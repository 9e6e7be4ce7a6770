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
	"strings"
	"unicode"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/reelix-ai/reelix/pkg/llms"
	"github.com/reelix-ai/reelix/pkg/media"
)

// ToolName is the single tool the orchestrator exposes to the model.
const ToolName = "recommendation_agent"

const (
	openingMaxChars    = 220
	openingMaxSentence = 2
)

// MemoryDelta is the model's view of what this turn changes in session
// memory. Constraints and prefs merge recursively downstream; the rest
// overwrites.
type MemoryDelta struct {
	TurnKind       string                 `json:"turn_kind" mapstructure:"turn_kind" jsonschema:"required,enum=new,enum=refine,enum=chat,description=new when the request starts fresh; refine when it narrows the previous one; chat otherwise"`
	RecentFeedback string                 `json:"recent_feedback,omitempty" mapstructure:"recent_feedback" jsonschema:"description=The user's reaction to the previous slate; omit unless they reacted"`
	Constraints    map[string]interface{} `json:"constraints,omitempty" mapstructure:"constraints" jsonschema:"description=Hard constraints worth remembering across turns (providers; year_range)"`
	Prefs          map[string]interface{} `json:"prefs,omitempty" mapstructure:"prefs" jsonschema:"description=Soft preferences worth remembering across turns"`
}

// ToolParams is the recommendation_agent argument payload.
type ToolParams struct {
	RecQuerySpec   media.QuerySpec `json:"rec_query_spec" mapstructure:"rec_query_spec" jsonschema:"required,description=Structured retrieval request for this turn"`
	MemoryDelta    MemoryDelta     `json:"memory_delta" mapstructure:"memory_delta" jsonschema:"required,description=Session memory changes for this turn"`
	OpeningSummary string          `json:"opening_summary" mapstructure:"opening_summary" jsonschema:"required,description=Exactly two short sentences shown to the user while results load"`
}

// toolDefinition reflects ToolParams into the tool schema once at startup.
func toolDefinition() (llms.ToolDefinition, error) {
	schema, err := reflectSchema(&ToolParams{})
	if err != nil {
		return llms.ToolDefinition{}, fmt.Errorf("failed to build %s schema: %w", ToolName, err)
	}
	return llms.ToolDefinition{
		Name:        ToolName,
		Description: "Retrieve and rank titles for the user's current request. Call this whenever the user is asking for something to watch.",
		Parameters:  schema,
	}, nil
}

// reflectSchema turns a params struct into the JSON-schema map the
// chat-completions tool wire expects, inlining all definitions.
func reflectSchema(v interface{}) (map[string]interface{}, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// decodeToolParams converts the model's raw tool arguments. Weak typing
// tolerates the usual LLM sloppiness (numbers as floats, ints as strings).
func decodeToolParams(args map[string]interface{}) (*ToolParams, error) {
	var params ToolParams
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &params,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(args); err != nil {
		return nil, fmt.Errorf("failed to decode %s arguments: %w", ToolName, err)
	}
	return &params, nil
}

// normalizeTurnKind repairs an out-of-enum turn kind. Guessing "new" for a
// mid-conversation turn would wipe the scoped memory fields, so the repair
// leans on whether a previous spec exists.
func normalizeTurnKind(kind string, hasPriorSpec bool) string {
	switch kind {
	case "new", "refine", "chat":
		return kind
	}
	if hasPriorSpec {
		return "refine"
	}
	return "new"
}

// repairOpening enforces the two-sentence, ~220-char opening contract. Extra
// sentences are dropped, overlong text is cut at a word boundary, and an
// empty opening falls back to a stock line.
func repairOpening(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Here's what I found for you. Give these a look."
	}

	sentences := splitSentences(s)
	if len(sentences) > openingMaxSentence {
		sentences = sentences[:openingMaxSentence]
	}
	out := strings.Join(sentences, " ")

	if len(out) > openingMaxChars {
		cut := strings.LastIndexFunc(out[:openingMaxChars], unicode.IsSpace)
		if cut <= 0 {
			cut = openingMaxChars
		}
		out = strings.TrimRight(out[:cut], " ,;:") + "…"
	}
	return out
}

// splitSentences breaks on terminal punctuation, keeping the punctuation with
// its sentence.
func splitSentences(s string) []string {
	var sentences []string
	start := 0
	runes := []rune(s)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Swallow runs like "?!" or "..." into one terminator.
		if i+1 < len(runes) && (runes[i+1] == '.' || runes[i+1] == '!' || runes[i+1] == '?') {
			continue
		}
		sentence := strings.TrimSpace(string(runes[start : i+1]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = i + 1
	}
	if trailing := strings.TrimSpace(string(runes[start:])); trailing != "" {
		sentences = append(sentences, trailing)
	}
	return sentences
}
