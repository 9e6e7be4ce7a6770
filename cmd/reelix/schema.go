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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/reelix-ai/reelix/pkg/config"
)

// SchemaCmd generates JSON Schema from the config structs, for editor
// completion and CI validation of deployment configs. Output goes to stdout.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		// Inline definitions so the schema works without $ref resolution.
		DoNotReference: true,
	}

	schema := reflector.Reflect(&config.Config{})

	schema.ID = "https://reelix.ai/schemas/config.json"
	schema.Title = "Reelix Configuration Schema"
	schema.Description = "Configuration schema for the Reelix discovery backend"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	schema.Examples = []interface{}{
		map[string]interface{}{
			"version": "1",
			"name":    "reelix",
			"llms": map[string]interface{}{
				"default": map[string]interface{}{
					"type":    "openai",
					"model":   "gpt-4o-mini",
					"api_key": "${OPENAI_API_KEY}",
				},
			},
			"search": map[string]interface{}{
				"host":            "localhost",
				"port":            6334,
				"bm25_stats_path": "./data/bm25_stats.json",
			},
			"memory": map[string]interface{}{
				"redis": map[string]interface{}{
					"addr": "localhost:6379",
				},
			},
		},
	}

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}

	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}

	return nil
}
