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

// Package llms provides chat-completions providers for the LLM roles the
// discovery flow uses: orchestration with tool calls, structured JSON
// generation, and token streaming.
package llms

import "context"

// Message roles on the chat-completions wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a chat-completions conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls carries the calls an assistant message requested.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a parsed function call from the model.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ToolDefinition describes a callable tool in JSON Schema terms.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Stream chunk types.
const (
	ChunkText     = "text"
	ChunkToolCall = "tool_call"
	ChunkDone     = "done"
	ChunkError    = "error"
)

// StreamChunk is one unit of a streaming response.
type StreamChunk struct {
	Type     string
	Text     string
	ToolCall *ToolCall
	Tokens   int
	Error    error
}

// Provider is a chat-completions backend.
type Provider interface {
	// Generate performs a non-streaming request. Returns the assistant
	// text, any tool calls, and total tokens used.
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, int, error)

	// GenerateStructured performs a non-streaming request constrained to
	// JSON output. A non-nil schema requests strict schema adherence;
	// nil requests plain JSON mode.
	GenerateStructured(ctx context.Context, messages []Message, schema map[string]interface{}) (string, int, error)

	// GenerateStreaming performs a streaming request. The channel closes
	// after a terminal "done" or "error" chunk.
	GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error)

	GetModelName() string

	GetMaxTokens() int

	GetTemperature() float64

	Close() error
}
