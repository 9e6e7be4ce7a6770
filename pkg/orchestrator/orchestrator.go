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

// Package orchestrator runs the per-turn agent loop: it gives the LLM the
// session memory and one tool, and either relays a chat answer or executes
// the tool call (runner, then curator) into a final slate plus the memory
// delta for the turn. The loop is bounded and single-threaded within a turn.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/curator"
	"github.com/reelix-ai/reelix/pkg/llms"
	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/observability"
	"github.com/reelix-ai/reelix/pkg/ranking"
	"github.com/reelix-ai/reelix/pkg/runner"
	"github.com/reelix-ai/reelix/pkg/session"
	"github.com/reelix-ai/reelix/pkg/taste"
)

// maxSteps bounds the tool loop within one turn.
const maxSteps = 3

// Turn modes.
const (
	TurnModeRecs = "recs"
	TurnModeChat = "chat"
)

// SlateRunner executes one retrieval turn.
type SlateRunner interface {
	Run(ctx context.Context, tasteCtx *taste.Context, spec media.QuerySpec, seenIDs []int64, turnKind string) (*runner.Result, error)
}

// CuratorEvaluator scores a candidate pool against the spec.
type CuratorEvaluator interface {
	Evaluate(ctx context.Context, spec media.QuerySpec, items []ranking.Item) (map[int64]curator.Evaluation, error)
}

// Config contains the collaborators for creating an Agent.
type Config struct {
	LLM       llms.Provider
	Runner    SlateRunner
	Curator   CuratorEvaluator
	Discovery config.DiscoveryConfig
	Logger    *slog.Logger
}

// Agent drives the orchestration loop. Safe for concurrent use; all per-turn
// state lives in AgentState.
type Agent struct {
	llm       llms.Provider
	runner    SlateRunner
	curator   CuratorEvaluator
	discovery config.DiscoveryConfig
	tools     []llms.ToolDefinition
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Agent. The tool schema is reflected once here so a broken
// params struct fails startup, not a user turn.
func New(cfg Config) (*Agent, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("orchestrator LLM is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Curator == nil {
		return nil, fmt.Errorf("curator is required")
	}

	tool, err := toolDefinition()
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		llm:       cfg.LLM,
		runner:    cfg.Runner,
		curator:   cfg.Curator,
		discovery: cfg.Discovery,
		tools:     []llms.ToolDefinition{tool},
		logger:    logger,
		now:       time.Now,
	}, nil
}

// TurnRequest is one user turn with its loaded context. Memory and Taste may
// be nil for first-time users.
type TurnRequest struct {
	UserID    string
	SessionID string
	QueryText string
	MediaType media.MediaType
	Memory    *session.State
	Taste     *taste.Context

	// OnOpening, when set, fires once a recommendation tool call is
	// accepted, before retrieval starts. The SSE layer uses it to front
	// the stream with the curator opening while the pipeline works.
	OnOpening func(opening string)
}

// AgentState is the working state of one turn and its final outcome: the
// message list the loop accumulated, the resolved mode and kind, the slate
// with its tier stats, and the memory delta to persist.
type AgentState struct {
	UserID    string
	SessionID string
	Messages  []llms.Message
	Memory    *session.State

	TurnMode string
	TurnKind string

	// ChatText answers chat turns; Opening fronts recs turns.
	ChatText string
	Opening  string

	Spec      media.QuerySpec
	Pool      []ranking.Item
	Final     []ranking.Item
	TierStats curator.TierStats
	CtxLog    runner.ContextLog
	Delta     session.Delta

	Steps  int
	Tokens int
}

// RunTurn executes one user turn: at most maxSteps LLM calls, terminating on
// either assistant text (chat) or a recommendation_agent call (recs). Any
// LLM transport error, runner failure, or curator failure aborts the turn.
func (a *Agent) RunTurn(ctx context.Context, req TurnRequest) (*AgentState, error) {
	tracer := observability.GetTracer("orchestrator")
	ctx, span := tracer.Start(ctx, observability.SpanTurn)
	defer span.End()

	state := &AgentState{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Memory:    req.Memory,
		Messages:  a.initialMessages(req),
	}

	for state.Steps < maxSteps {
		state.Steps++

		text, calls, tokens, err := a.llm.Generate(ctx, state.Messages, a.tools)
		state.Tokens += tokens
		if err != nil {
			return nil, fmt.Errorf("orchestrator call failed: %w", err)
		}

		if len(calls) == 0 {
			if text == "" {
				// Nothing actionable came back; spend a step and retry.
				a.logger.Warn("Orchestrator returned an empty response", "step", state.Steps)
				continue
			}
			a.finishChat(state, req, text)
			span.SetAttributes(attribute.String(observability.AttrTurnKind, state.TurnKind))
			return state, nil
		}

		call := calls[0]
		state.Messages = append(state.Messages, llms.Message{
			Role:      llms.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})

		if call.Name != ToolName {
			a.logger.Warn("Orchestrator called an unknown tool", "tool", call.Name, "step", state.Steps)
			state.Messages = append(state.Messages, llms.Message{
				Role:       llms.RoleTool,
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("Unknown tool %q. Only %s is available.", call.Name, ToolName),
			})
			continue
		}

		params, err := decodeToolParams(call.Args)
		if err != nil {
			a.logger.Warn("Tool arguments failed to decode", "error", err, "step", state.Steps)
			state.Messages = append(state.Messages, llms.Message{
				Role:       llms.RoleTool,
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("The arguments did not decode (%v). Call %s again with corrected arguments.", err, ToolName),
			})
			continue
		}

		if err := a.executeRecs(ctx, state, req, params); err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.String(observability.AttrTurnKind, state.TurnKind))
		return state, nil
	}

	return nil, fmt.Errorf("orchestration did not settle within %d steps", maxSteps)
}

// initialMessages assembles system prompt, optional session memory, and the
// user message.
func (a *Agent) initialMessages(req TurnRequest) []llms.Message {
	messages := []llms.Message{{
		Role:    llms.RoleSystem,
		Content: systemPrompt(a.now().Year(), a.discovery.YearFloor, a.discovery.YearCap),
	}}
	if memory := memoryPrompt(req.Memory); memory != "" {
		messages = append(messages, llms.Message{Role: llms.RoleSystem, Content: memory})
	}
	return append(messages, llms.Message{Role: llms.RoleUser, Content: req.QueryText})
}

// finishChat terminates a turn the model answered directly.
func (a *Agent) finishChat(state *AgentState, req TurnRequest, text string) {
	state.TurnMode = TurnModeChat
	state.TurnKind = session.TurnKindChat
	state.ChatText = text
	state.Delta = session.Delta{Summary: map[string]interface{}{
		session.SummaryTurnKind:        session.TurnKindChat,
		session.SummaryLastUserMessage: req.QueryText,
	}}
}

// executeRecs validates the tool arguments and runs retrieval plus curation.
func (a *Agent) executeRecs(ctx context.Context, state *AgentState, req TurnRequest, params *ToolParams) error {
	hasPriorSpec := req.Memory != nil && req.Memory.LastSpec != nil
	turnKind := normalizeTurnKind(params.MemoryDelta.TurnKind, hasPriorSpec)

	spec := params.RecQuerySpec
	if spec.QueryText == "" {
		spec.QueryText = req.QueryText
	}
	if spec.MediaType == "" {
		spec.MediaType = req.MediaType
	}
	spec = spec.Sanitize(a.discovery.YearFloor, a.discovery.YearCap)

	opening := repairOpening(params.OpeningSummary)
	if req.OnOpening != nil {
		req.OnOpening(opening)
	}

	var seenIDs []int64
	if req.Memory != nil {
		seenIDs = req.Memory.SeenMediaIDs
	}

	result, err := a.runner.Run(ctx, req.Taste, spec, seenIDs, turnKind)
	if err != nil {
		return err
	}

	evals, err := a.curator.Evaluate(ctx, spec, result.Items)
	if err != nil {
		return err
	}
	final, stats := curator.Select(result.Items, evals, spec.NumRecs)

	state.TurnMode = TurnModeRecs
	state.TurnKind = turnKind
	state.Opening = opening
	state.Spec = spec
	state.Pool = result.Items
	state.Final = final
	state.TierStats = stats
	state.CtxLog = result.Log
	state.Delta = buildDelta(params, spec, final, req.QueryText, turnKind)
	return nil
}

// buildDelta assembles the session changes for a recs turn: the summary keys,
// the spec, the slot map of the served slate, and the served media ids.
func buildDelta(params *ToolParams, spec media.QuerySpec, final []ranking.Item, userMessage, turnKind string) session.Delta {
	summary := map[string]interface{}{
		session.SummaryTurnKind:        turnKind,
		session.SummaryLastUserMessage: userMessage,
	}
	// Always written: a turn without feedback clears stale feedback.
	if params.MemoryDelta.RecentFeedback != "" {
		summary[session.SummaryRecentFeedback] = params.MemoryDelta.RecentFeedback
	} else {
		summary[session.SummaryRecentFeedback] = nil
	}
	if len(params.MemoryDelta.Constraints) > 0 {
		summary[session.SummaryConstraints] = params.MemoryDelta.Constraints
	}
	if len(params.MemoryDelta.Prefs) > 0 {
		summary[session.SummaryPrefs] = params.MemoryDelta.Prefs
	}

	slotMap := make(map[string]session.SlotRef, len(final))
	seen := make([]int64, 0, len(final))
	for i, item := range final {
		slotMap[strconv.Itoa(i+1)] = session.SlotRef{
			MediaID:     item.Candidate.MediaID,
			Title:       item.Candidate.Payload.Title,
			ReleaseYear: item.Candidate.Payload.ReleaseYear,
		}
		seen = append(seen, item.Candidate.MediaID)
	}

	specCopy := spec
	return session.Delta{
		Summary:      summary,
		LastSpec:     &specCopy,
		SlotMap:      slotMap,
		SeenMediaIDs: seen,
	}
}
