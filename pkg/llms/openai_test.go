package llms

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reelix-ai/reelix/pkg/config"
)

func testConfig(host string) *config.LLMConfig {
	cfg := &config.LLMConfig{
		Type:   "openai",
		Model:  "gpt-4o-mini",
		Host:   host,
		APIKey: "sk-test-key",
	}
	cfg.SetDefaults()
	return cfg
}

func TestGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer sk-test-key") {
			t.Errorf("Expected Bearer token, got %s", auth)
		}

		var req OpenAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("Expected model gpt-4o-mini, got %s", req.Model)
		}
		if req.Stream {
			t.Error("Expected non-streaming request")
		}

		response := OpenAIResponse{
			Choices: []Choice{
				{
					Message:      OpenAIMessage{Role: "assistant", Content: "Hello there"},
					FinishReason: "stop",
				},
			},
			Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewOpenAIProviderFromConfig(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewOpenAIProviderFromConfig() error = %v", err)
	}

	text, toolCalls, tokens, err := provider.Generate(t.Context(), []Message{
		{Role: RoleUser, Content: "Hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "Hello there" {
		t.Errorf("Generate() text = %q, want %q", text, "Hello there")
	}
	if len(toolCalls) != 0 {
		t.Errorf("Generate() toolCalls = %d, want 0", len(toolCalls))
	}
	if tokens != 15 {
		t.Errorf("Generate() tokens = %d, want 15", tokens)
	}
}

func TestGenerateWithToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OpenAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if len(req.Tools) != 1 {
			t.Errorf("Expected 1 tool, got %d", len(req.Tools))
		}
		if req.Tools[0].Function.Name != "recommendation_agent" {
			t.Errorf("Expected tool recommendation_agent, got %s", req.Tools[0].Function.Name)
		}
		if req.ToolChoice != "auto" {
			t.Errorf("Expected tool_choice auto, got %s", req.ToolChoice)
		}

		response := OpenAIResponse{
			Choices: []Choice{
				{
					Message: OpenAIMessage{
						Role: "assistant",
						ToolCalls: []OpenAIToolCall{
							{
								ID:   "call_123",
								Type: "function",
								Function: OpenAIFunctionCall{
									Name:      "recommendation_agent",
									Arguments: `{"rec_query_spec":{"query":"cozy mystery"}}`,
								},
							},
						},
					},
					FinishReason: "tool_calls",
				},
			},
			Usage: Usage{TotalTokens: 42},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, _ := NewOpenAIProviderFromConfig(testConfig(server.URL))

	tools := []ToolDefinition{
		{
			Name:        "recommendation_agent",
			Description: "Runs the recommendation pipeline",
			Parameters:  map[string]interface{}{"type": "object"},
		},
	}

	_, toolCalls, _, err := provider.Generate(t.Context(), []Message{
		{Role: RoleUser, Content: "something cozy"},
	}, tools)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(toolCalls) != 1 {
		t.Fatalf("Generate() toolCalls = %d, want 1", len(toolCalls))
	}
	if toolCalls[0].Name != "recommendation_agent" {
		t.Errorf("toolCalls[0].Name = %q, want recommendation_agent", toolCalls[0].Name)
	}
	spec, ok := toolCalls[0].Args["rec_query_spec"].(map[string]interface{})
	if !ok || spec["query"] != "cozy mystery" {
		t.Errorf("toolCalls[0].Args = %v, want parsed rec_query_spec", toolCalls[0].Args)
	}
}

func TestGenerateStructured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OpenAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("Expected response_format json_object, got %+v", req.ResponseFormat)
		}

		response := OpenAIResponse{
			Choices: []Choice{
				{Message: OpenAIMessage{Role: "assistant", Content: `{"verdict":"strong"}`}},
			},
			Usage: Usage{TotalTokens: 7},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, _ := NewOpenAIProviderFromConfig(testConfig(server.URL))

	text, tokens, err := provider.GenerateStructured(t.Context(), []Message{
		{Role: RoleUser, Content: "judge this"},
	}, nil)
	if err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}
	if text != `{"verdict":"strong"}` {
		t.Errorf("GenerateStructured() text = %q", text)
	}
	if tokens != 7 {
		t.Errorf("GenerateStructured() tokens = %d, want 7", tokens)
	}
}

func TestGenerateStructuredWithSchema(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OpenAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_schema" {
			t.Fatalf("Expected response_format json_schema, got %+v", req.ResponseFormat)
		}
		if req.ResponseFormat.JSONSchema == nil || !req.ResponseFormat.JSONSchema.Strict {
			t.Errorf("Expected strict json_schema, got %+v", req.ResponseFormat.JSONSchema)
		}

		response := OpenAIResponse{
			Choices: []Choice{{Message: OpenAIMessage{Role: "assistant", Content: `{}`}}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, _ := NewOpenAIProviderFromConfig(testConfig(server.URL))

	schema := map[string]interface{}{"type": "object"}
	if _, _, err := provider.GenerateStructured(t.Context(), []Message{{Role: RoleUser, Content: "x"}}, schema); err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}
}

func TestGenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"model not found","type":"invalid_request_error","code":"model_not_found"}}`)
	}))
	defer server.Close()

	provider, _ := NewOpenAIProviderFromConfig(testConfig(server.URL))

	_, _, _, err := provider.Generate(t.Context(), []Message{{Role: RoleUser, Content: "x"}}, nil)
	if err == nil {
		t.Fatal("Generate() error = nil, want API error")
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Errorf("Generate() error = %v, want to mention model not found", err)
	}
}

func TestGenerateStreamingText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"total_tokens\":9}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	provider, _ := NewOpenAIProviderFromConfig(testConfig(server.URL))

	ch, err := provider.GenerateStreaming(t.Context(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	var text strings.Builder
	var doneTokens int
	sawDone := false
	for chunk := range ch {
		switch chunk.Type {
		case ChunkText:
			text.WriteString(chunk.Text)
		case ChunkDone:
			sawDone = true
			doneTokens = chunk.Tokens
		case ChunkError:
			t.Fatalf("unexpected error chunk: %v", chunk.Error)
		}
	}

	if text.String() != "Hello" {
		t.Errorf("streamed text = %q, want %q", text.String(), "Hello")
	}
	if !sawDone {
		t.Error("stream ended without done chunk")
	}
	if doneTokens != 9 {
		t.Errorf("done tokens = %d, want 9", doneTokens)
	}
}

func TestGenerateStreamingToolCallAccumulation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Tool call id arrives first, arguments fragmented across deltas.
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_abc\",\"type\":\"function\",\"function\":{\"name\":\"recommendation_agent\",\"arguments\":\"\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"rec_qu\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"ery_spec\\\":{}}\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	provider, _ := NewOpenAIProviderFromConfig(testConfig(server.URL))

	ch, err := provider.GenerateStreaming(t.Context(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	var calls []ToolCall
	for chunk := range ch {
		if chunk.Type == ChunkError {
			t.Fatalf("unexpected error chunk: %v", chunk.Error)
		}
		if chunk.Type == ChunkToolCall {
			calls = append(calls, *chunk.ToolCall)
		}
	}

	if len(calls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(calls))
	}
	if calls[0].ID != "call_abc" || calls[0].Name != "recommendation_agent" {
		t.Errorf("call = %+v, want call_abc/recommendation_agent", calls[0])
	}
	if _, ok := calls[0].Args["rec_query_spec"]; !ok {
		t.Errorf("call args = %v, want rec_query_spec key from accumulated fragments", calls[0].Args)
	}
}

func TestGenerateStreamingAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"rate limited\"}}\n\n")
	}))
	defer server.Close()

	provider, _ := NewOpenAIProviderFromConfig(testConfig(server.URL))

	ch, err := provider.GenerateStreaming(t.Context(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	var last StreamChunk
	for chunk := range ch {
		last = chunk
	}
	if last.Type != ChunkError {
		t.Errorf("last chunk type = %q, want error", last.Type)
	}
	if last.Error == nil || !strings.Contains(last.Error.Error(), "rate limited") {
		t.Errorf("error = %v, want to mention rate limited", last.Error)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	cfg := testConfig("http://localhost:1")
	p1, err := reg.CreateFromConfig("orchestrator", cfg)
	if err != nil {
		t.Fatalf("CreateFromConfig() error = %v", err)
	}

	p2, err := reg.CreateFromConfig("orchestrator", cfg)
	if err != nil {
		t.Fatalf("CreateFromConfig() second call error = %v", err)
	}
	if p1 != p2 {
		t.Error("CreateFromConfig() created a second provider for the same name")
	}

	if _, err := reg.Get("missing"); err == nil {
		t.Error("Get(missing) error = nil, want not found")
	}

	if err := reg.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNewRejectsUnknownType(t *testing.T) {
	cfg := testConfig("http://localhost:1")
	cfg.Type = "mystery"
	if _, err := New(cfg); err == nil {
		t.Error("New() error = nil, want unsupported type error")
	}
}
