package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/curator"
	"github.com/reelix-ai/reelix/pkg/llms"
	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/ranking"
	"github.com/reelix-ai/reelix/pkg/runner"
	"github.com/reelix-ai/reelix/pkg/session"
	"github.com/reelix-ai/reelix/pkg/taste"
)

type llmStep struct {
	text   string
	calls  []llms.ToolCall
	tokens int
	err    error
}

// scriptedLLM replays a fixed sequence of responses and records the message
// list each call saw.
type scriptedLLM struct {
	steps []llmStep
	seen  [][]llms.Message
}

func (s *scriptedLLM) Generate(_ context.Context, messages []llms.Message, _ []llms.ToolDefinition) (string, []llms.ToolCall, int, error) {
	s.seen = append(s.seen, append([]llms.Message(nil), messages...))
	if len(s.seen) > len(s.steps) {
		return "", nil, 0, errors.New("script exhausted")
	}
	step := s.steps[len(s.seen)-1]
	return step.text, step.calls, step.tokens, step.err
}

func (s *scriptedLLM) GenerateStructured(context.Context, []llms.Message, map[string]interface{}) (string, int, error) {
	return "", 0, errors.New("not used")
}

func (s *scriptedLLM) GenerateStreaming(context.Context, []llms.Message, []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	return nil, errors.New("not used")
}

func (s *scriptedLLM) GetModelName() string    { return "scripted" }
func (s *scriptedLLM) GetMaxTokens() int       { return 4096 }
func (s *scriptedLLM) GetTemperature() float64 { return 0 }
func (s *scriptedLLM) Close() error            { return nil }

type fakeSlateRunner struct {
	items []ranking.Item
	err   error

	called   bool
	taste    *taste.Context
	spec     media.QuerySpec
	seenIDs  []int64
	turnKind string
}

func (f *fakeSlateRunner) Run(_ context.Context, tasteCtx *taste.Context, spec media.QuerySpec, seenIDs []int64, turnKind string) (*runner.Result, error) {
	f.called = true
	f.taste = tasteCtx
	f.spec = spec
	f.seenIDs = seenIDs
	f.turnKind = turnKind
	if f.err != nil {
		return nil, f.err
	}
	return &runner.Result{Items: f.items, Log: runner.ContextLog{FilterMode: "subscribed"}}, nil
}

type fakeCurator struct {
	evals map[int64]curator.Evaluation
	err   error
	got   []ranking.Item
}

func (f *fakeCurator) Evaluate(_ context.Context, _ media.QuerySpec, items []ranking.Item) (map[int64]curator.Evaluation, error) {
	f.got = items
	if f.err != nil {
		return nil, f.err
	}
	return f.evals, nil
}

func rankedItem(id int64, title string, year int, score float64) ranking.Item {
	return ranking.Item{
		Candidate: media.Candidate{
			MediaID: id,
			Type:    media.MediaTypeMovie,
			Payload: media.Payload{Title: title, ReleaseYear: year},
		},
		Trace: ranking.ScoreTrace{MediaID: id, FinalScore: score},
	}
}

func strongEval(id int64) curator.Evaluation {
	return curator.Evaluation{MediaID: id, GenreFit: 2, ToneFit: 2, StructureFit: 2, ThemeFit: 2}
}

func newTestAgent(t *testing.T, llm llms.Provider, run SlateRunner, cur CuratorEvaluator) *Agent {
	t.Helper()
	agent, err := New(Config{
		LLM:       llm,
		Runner:    run,
		Curator:   cur,
		Discovery: config.DiscoveryConfig{YearFloor: 1970, YearCap: 2100, NumRecs: 8},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return agent
}

func recsArgs() map[string]interface{} {
	return map[string]interface{}{
		"rec_query_spec": map[string]interface{}{
			"query_text":  "moody neo-noir with a slow burn",
			"media_type":  "movie",
			"core_genres": []interface{}{"Thriller", "Crime"},
			"num_recs":    float64(2),
		},
		"memory_delta": map[string]interface{}{
			"turn_kind": "new",
		},
		"opening_summary": "Two picks with a dark streak. Both trade action for tension.",
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	llm := &scriptedLLM{}
	run := &fakeSlateRunner{}
	cur := &fakeCurator{}

	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no llm", Config{Runner: run, Curator: cur}, "LLM is required"},
		{"no runner", Config{LLM: llm, Curator: cur}, "runner is required"},
		{"no curator", Config{LLM: llm, Runner: run}, "curator is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("New() error = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestRunTurn_ChatTurn(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{{text: "The Matrix came out in 1999.", tokens: 11}}}
	run := &fakeSlateRunner{}
	agent := newTestAgent(t, llm, run, &fakeCurator{})

	state, err := agent.RunTurn(context.Background(), TurnRequest{
		UserID:    "u1",
		SessionID: "s1",
		QueryText: "when did the matrix come out?",
		MediaType: media.MediaTypeMovie,
	})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}

	if state.TurnMode != TurnModeChat {
		t.Errorf("TurnMode = %q, want %q", state.TurnMode, TurnModeChat)
	}
	if state.TurnKind != session.TurnKindChat {
		t.Errorf("TurnKind = %q, want %q", state.TurnKind, session.TurnKindChat)
	}
	if state.ChatText != "The Matrix came out in 1999." {
		t.Errorf("ChatText = %q", state.ChatText)
	}
	if state.Steps != 1 || state.Tokens != 11 {
		t.Errorf("Steps, Tokens = %d, %d, want 1, 11", state.Steps, state.Tokens)
	}
	if run.called {
		t.Error("runner ran on a chat turn")
	}
	if got := state.Delta.Summary[session.SummaryTurnKind]; got != session.TurnKindChat {
		t.Errorf("delta turn_kind = %v, want chat", got)
	}
	if got := state.Delta.Summary[session.SummaryLastUserMessage]; got != "when did the matrix come out?" {
		t.Errorf("delta last_user_message = %v", got)
	}
	if state.Delta.LastSpec != nil || len(state.Delta.SlotMap) != 0 || len(state.Delta.SeenMediaIDs) != 0 {
		t.Error("chat turn must not touch spec, slots, or seen ids")
	}
}

func TestRunTurn_RecsTurn(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{{
		calls:  []llms.ToolCall{{ID: "call-1", Name: ToolName, Args: recsArgs()}},
		tokens: 40,
	}}}
	run := &fakeSlateRunner{items: []ranking.Item{
		rankedItem(603, "The Matrix", 1999, 0.92),
		rankedItem(141, "Memento", 2000, 0.88),
	}}
	cur := &fakeCurator{evals: map[int64]curator.Evaluation{
		603: strongEval(603),
		141: strongEval(141),
	}}
	agent := newTestAgent(t, llm, run, cur)

	state, err := agent.RunTurn(context.Background(), TurnRequest{
		UserID:    "u1",
		SessionID: "s1",
		QueryText: "something dark and twisty",
		MediaType: media.MediaTypeMovie,
	})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}

	if state.TurnMode != TurnModeRecs {
		t.Fatalf("TurnMode = %q, want %q", state.TurnMode, TurnModeRecs)
	}
	if state.TurnKind != session.TurnKindNew {
		t.Errorf("TurnKind = %q, want new", state.TurnKind)
	}
	if state.Opening != "Two picks with a dark streak. Both trade action for tension." {
		t.Errorf("Opening = %q", state.Opening)
	}
	if state.Spec.QueryText != "moody neo-noir with a slow burn" {
		t.Errorf("Spec.QueryText = %q", state.Spec.QueryText)
	}
	if len(state.Spec.CoreGenres) != 2 {
		t.Errorf("Spec.CoreGenres = %v", state.Spec.CoreGenres)
	}
	if run.spec.NumRecs != 2 || run.turnKind != session.TurnKindNew {
		t.Errorf("runner got num_recs %d kind %q, want 2 new", run.spec.NumRecs, run.turnKind)
	}
	if len(run.seenIDs) != 0 {
		t.Errorf("runner seen ids = %v, want none on a fresh session", run.seenIDs)
	}
	if len(cur.got) != 2 {
		t.Errorf("curator evaluated %d items, want 2", len(cur.got))
	}

	if len(state.Final) != 2 || state.Final[0].Candidate.MediaID != 603 || state.Final[1].Candidate.MediaID != 141 {
		t.Fatalf("Final = %v", state.Final)
	}
	if state.TierStats.Strong != 2 {
		t.Errorf("TierStats.Strong = %d, want 2", state.TierStats.Strong)
	}

	wantSlot := session.SlotRef{MediaID: 603, Title: "The Matrix", ReleaseYear: 1999}
	if got := state.Delta.SlotMap["1"]; got != wantSlot {
		t.Errorf("SlotMap[1] = %+v, want %+v", got, wantSlot)
	}
	if got := state.Delta.SlotMap["2"].MediaID; got != 141 {
		t.Errorf("SlotMap[2].MediaID = %d, want 141", got)
	}
	if len(state.Delta.SeenMediaIDs) != 2 || state.Delta.SeenMediaIDs[0] != 603 {
		t.Errorf("SeenMediaIDs = %v", state.Delta.SeenMediaIDs)
	}
	if state.Delta.LastSpec == nil || state.Delta.LastSpec.QueryText != state.Spec.QueryText {
		t.Errorf("Delta.LastSpec = %+v", state.Delta.LastSpec)
	}

	fb, present := state.Delta.Summary[session.SummaryRecentFeedback]
	if !present || fb != nil {
		t.Errorf("recent_feedback = %v (present %v), want explicit nil", fb, present)
	}
}

func TestRunTurn_SpecFallbacks(t *testing.T) {
	args := map[string]interface{}{
		"rec_query_spec":  map[string]interface{}{},
		"memory_delta":    map[string]interface{}{"turn_kind": "new"},
		"opening_summary": "Fresh finds for tonight. All easy watches.",
	}
	llm := &scriptedLLM{steps: []llmStep{{calls: []llms.ToolCall{{ID: "c1", Name: ToolName, Args: args}}}}}
	run := &fakeSlateRunner{items: []ranking.Item{rankedItem(1, "A", 2001, 0.5)}}
	cur := &fakeCurator{evals: map[int64]curator.Evaluation{1: strongEval(1)}}
	agent := newTestAgent(t, llm, run, cur)

	_, err := agent.RunTurn(context.Background(), TurnRequest{
		UserID:    "u1",
		SessionID: "s1",
		QueryText: "something fun for family night",
		MediaType: media.MediaTypeTV,
	})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}

	if run.spec.QueryText != "something fun for family night" {
		t.Errorf("spec query text = %q, want request fallback", run.spec.QueryText)
	}
	if run.spec.MediaType != media.MediaTypeTV {
		t.Errorf("spec media type = %q, want request fallback tv", run.spec.MediaType)
	}
	if run.spec.NumRecs != 8 {
		t.Errorf("spec num recs = %d, want default 8", run.spec.NumRecs)
	}
}

func TestRunTurn_OpeningHookFiresBeforeRunner(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{{calls: []llms.ToolCall{{ID: "c1", Name: ToolName, Args: recsArgs()}}}}}
	run := &fakeSlateRunner{items: []ranking.Item{rankedItem(603, "The Matrix", 1999, 0.92)}}
	cur := &fakeCurator{evals: map[int64]curator.Evaluation{603: strongEval(603)}}
	agent := newTestAgent(t, llm, run, cur)

	var hooked string
	var runnerRanFirst bool
	_, err := agent.RunTurn(context.Background(), TurnRequest{
		UserID:    "u1",
		SessionID: "s1",
		QueryText: "moody neo-noir",
		OnOpening: func(opening string) {
			hooked = opening
			runnerRanFirst = run.called
		},
	})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}

	if hooked == "" {
		t.Fatal("OnOpening was not called")
	}
	if runnerRanFirst {
		t.Error("OnOpening fired after the runner; want before retrieval starts")
	}
}

func TestRunTurn_RefineCarriesMemory(t *testing.T) {
	args := recsArgs()
	args["memory_delta"] = map[string]interface{}{
		"turn_kind":       "refine",
		"recent_feedback": "loved the first two, too slow otherwise",
		"constraints":     map[string]interface{}{"providers": []interface{}{"Netflix"}},
		"prefs":           map[string]interface{}{"tone": "dark"},
	}
	llm := &scriptedLLM{steps: []llmStep{{calls: []llms.ToolCall{{ID: "c1", Name: ToolName, Args: args}}}}}
	run := &fakeSlateRunner{items: []ranking.Item{rankedItem(603, "The Matrix", 1999, 0.92)}}
	cur := &fakeCurator{evals: map[int64]curator.Evaluation{603: strongEval(603)}}
	agent := newTestAgent(t, llm, run, cur)

	prior := media.QuerySpec{QueryText: "older heist films", MediaType: media.MediaTypeMovie}
	memory := &session.State{
		UserID:       "u1",
		LastSpec:     &prior,
		SeenMediaIDs: []int64{11, 22},
	}
	state, err := agent.RunTurn(context.Background(), TurnRequest{
		UserID:    "u1",
		SessionID: "s1",
		QueryText: "more like the first two",
		MediaType: media.MediaTypeMovie,
		Memory:    memory,
	})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}

	if state.TurnKind != session.TurnKindRefine {
		t.Errorf("TurnKind = %q, want refine", state.TurnKind)
	}
	if len(run.seenIDs) != 2 || run.seenIDs[0] != 11 {
		t.Errorf("runner seen ids = %v, want [11 22]", run.seenIDs)
	}
	if got := state.Delta.Summary[session.SummaryRecentFeedback]; got != "loved the first two, too slow otherwise" {
		t.Errorf("recent_feedback = %v", got)
	}
	if _, ok := state.Delta.Summary[session.SummaryConstraints]; !ok {
		t.Error("constraints missing from delta summary")
	}
	if _, ok := state.Delta.Summary[session.SummaryPrefs]; !ok {
		t.Error("prefs missing from delta summary")
	}
}

func TestRunTurn_TurnKindRepaired(t *testing.T) {
	build := func() (*scriptedLLM, *fakeSlateRunner, *Agent) {
		args := recsArgs()
		args["memory_delta"] = map[string]interface{}{"turn_kind": "banana"}
		llm := &scriptedLLM{steps: []llmStep{{calls: []llms.ToolCall{{ID: "c1", Name: ToolName, Args: args}}}}}
		run := &fakeSlateRunner{items: []ranking.Item{rankedItem(1, "A", 2001, 0.5)}}
		cur := &fakeCurator{evals: map[int64]curator.Evaluation{1: strongEval(1)}}
		return llm, run, newTestAgent(t, llm, run, cur)
	}

	t.Run("prior spec leans refine", func(t *testing.T) {
		_, run, agent := build()
		prior := media.QuerySpec{QueryText: "x", MediaType: media.MediaTypeMovie}
		_, err := agent.RunTurn(context.Background(), TurnRequest{
			UserID: "u1", SessionID: "s1", QueryText: "q",
			Memory: &session.State{UserID: "u1", LastSpec: &prior},
		})
		if err != nil {
			t.Fatalf("RunTurn() error = %v", err)
		}
		if run.turnKind != session.TurnKindRefine {
			t.Errorf("turnKind = %q, want refine", run.turnKind)
		}
	})

	t.Run("no prior spec leans new", func(t *testing.T) {
		_, run, agent := build()
		_, err := agent.RunTurn(context.Background(), TurnRequest{UserID: "u1", SessionID: "s1", QueryText: "q"})
		if err != nil {
			t.Fatalf("RunTurn() error = %v", err)
		}
		if run.turnKind != session.TurnKindNew {
			t.Errorf("turnKind = %q, want new", run.turnKind)
		}
	})
}

func TestRunTurn_UnknownToolRecovers(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{
		{calls: []llms.ToolCall{{ID: "c1", Name: "lookup_weather"}}, tokens: 7},
		{text: "I can only help with movies and shows.", tokens: 5},
	}}
	agent := newTestAgent(t, llm, &fakeSlateRunner{}, &fakeCurator{})

	state, err := agent.RunTurn(context.Background(), TurnRequest{UserID: "u1", SessionID: "s1", QueryText: "weather?"})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if state.Steps != 2 || state.Tokens != 12 {
		t.Errorf("Steps, Tokens = %d, %d, want 2, 12", state.Steps, state.Tokens)
	}
	if state.TurnMode != TurnModeChat {
		t.Errorf("TurnMode = %q, want chat recovery", state.TurnMode)
	}

	second := llm.seen[1]
	last := second[len(second)-1]
	if last.Role != llms.RoleTool || last.ToolCallID != "c1" {
		t.Fatalf("correction message = %+v, want tool role for c1", last)
	}
	if !strings.Contains(last.Content, "Unknown tool") {
		t.Errorf("correction content = %q", last.Content)
	}
}

func TestRunTurn_BadArgumentsRecovers(t *testing.T) {
	bad := map[string]interface{}{"rec_query_spec": []interface{}{"not", "an", "object"}}
	llm := &scriptedLLM{steps: []llmStep{
		{calls: []llms.ToolCall{{ID: "c1", Name: ToolName, Args: bad}}},
		{calls: []llms.ToolCall{{ID: "c2", Name: ToolName, Args: recsArgs()}}},
	}}
	run := &fakeSlateRunner{items: []ranking.Item{rankedItem(603, "The Matrix", 1999, 0.92)}}
	cur := &fakeCurator{evals: map[int64]curator.Evaluation{603: strongEval(603)}}
	agent := newTestAgent(t, llm, run, cur)

	state, err := agent.RunTurn(context.Background(), TurnRequest{UserID: "u1", SessionID: "s1", QueryText: "q"})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if state.Steps != 2 || state.TurnMode != TurnModeRecs {
		t.Errorf("Steps = %d, TurnMode = %q, want recovery into recs", state.Steps, state.TurnMode)
	}

	second := llm.seen[1]
	last := second[len(second)-1]
	if last.Role != llms.RoleTool || !strings.Contains(last.Content, "did not decode") {
		t.Errorf("correction message = %+v", last)
	}
}

func TestRunTurn_EmptyResponseRetries(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{
		{},
		{text: "Here to help with movies."},
	}}
	agent := newTestAgent(t, llm, &fakeSlateRunner{}, &fakeCurator{})

	state, err := agent.RunTurn(context.Background(), TurnRequest{UserID: "u1", SessionID: "s1", QueryText: "q"})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if state.Steps != 2 || state.ChatText == "" {
		t.Errorf("Steps = %d, ChatText = %q, want retry into chat", state.Steps, state.ChatText)
	}
}

func TestRunTurn_GivesUpAfterMaxSteps(t *testing.T) {
	call := llms.ToolCall{ID: "c1", Name: "nope"}
	llm := &scriptedLLM{steps: []llmStep{
		{calls: []llms.ToolCall{call}},
		{calls: []llms.ToolCall{call}},
		{calls: []llms.ToolCall{call}},
	}}
	agent := newTestAgent(t, llm, &fakeSlateRunner{}, &fakeCurator{})

	_, err := agent.RunTurn(context.Background(), TurnRequest{UserID: "u1", SessionID: "s1", QueryText: "q"})
	if err == nil || !strings.Contains(err.Error(), "did not settle") {
		t.Errorf("RunTurn() error = %v, want settle failure", err)
	}
}

func TestRunTurn_LLMErrorAborts(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{{err: errors.New("rate limited")}}}
	agent := newTestAgent(t, llm, &fakeSlateRunner{}, &fakeCurator{})

	_, err := agent.RunTurn(context.Background(), TurnRequest{UserID: "u1", SessionID: "s1", QueryText: "q"})
	if err == nil || !strings.Contains(err.Error(), "orchestrator call failed") {
		t.Errorf("RunTurn() error = %v, want wrapped transport failure", err)
	}
}

func TestRunTurn_RunnerErrorAborts(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{{calls: []llms.ToolCall{{ID: "c1", Name: ToolName, Args: recsArgs()}}}}}
	run := &fakeSlateRunner{err: errors.New("vector search unavailable")}
	agent := newTestAgent(t, llm, run, &fakeCurator{})

	_, err := agent.RunTurn(context.Background(), TurnRequest{UserID: "u1", SessionID: "s1", QueryText: "q"})
	if err == nil || !strings.Contains(err.Error(), "vector search unavailable") {
		t.Errorf("RunTurn() error = %v, want runner failure", err)
	}
}

func TestRunTurn_CuratorErrorAborts(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{{calls: []llms.ToolCall{{ID: "c1", Name: ToolName, Args: recsArgs()}}}}}
	run := &fakeSlateRunner{items: []ranking.Item{rankedItem(1, "A", 2001, 0.5)}}
	cur := &fakeCurator{err: errors.New("curator offline")}
	agent := newTestAgent(t, llm, run, cur)

	_, err := agent.RunTurn(context.Background(), TurnRequest{UserID: "u1", SessionID: "s1", QueryText: "q"})
	if err == nil || !strings.Contains(err.Error(), "curator offline") {
		t.Errorf("RunTurn() error = %v, want curator failure", err)
	}
}

func TestRunTurn_MemoryPromptIncluded(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{{text: "hi"}}}
	agent := newTestAgent(t, llm, &fakeSlateRunner{}, &fakeCurator{})

	memory := &session.State{
		UserID:  "u1",
		Summary: map[string]interface{}{"turn_kind": "new"},
		SlotMap: map[string]session.SlotRef{
			"1": {MediaID: 603, Title: "The Matrix", ReleaseYear: 1999},
		},
	}
	if _, err := agent.RunTurn(context.Background(), TurnRequest{
		UserID: "u1", SessionID: "s1", QueryText: "q", Memory: memory,
	}); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}

	first := llm.seen[0]
	if len(first) != 3 {
		t.Fatalf("message count = %d, want system + memory + user", len(first))
	}
	if first[1].Role != llms.RoleSystem || !strings.Contains(first[1].Content, "SESSION MEMORY") {
		t.Errorf("memory message = %+v", first[1])
	}
	if first[2].Role != llms.RoleUser {
		t.Errorf("last message role = %q, want user", first[2].Role)
	}
}

func TestRunTurn_NoMemoryNoExtraPrompt(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{{text: "hi"}}}
	agent := newTestAgent(t, llm, &fakeSlateRunner{}, &fakeCurator{})

	if _, err := agent.RunTurn(context.Background(), TurnRequest{
		UserID: "u1", SessionID: "s1", QueryText: "q",
	}); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if len(llm.seen[0]) != 2 {
		t.Errorf("message count = %d, want system + user only", len(llm.seen[0]))
	}
}
