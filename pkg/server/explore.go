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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/reelix-ai/reelix/pkg/auth"
	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/orchestrator"
	"github.com/reelix-ai/reelix/pkg/querylog"
	"github.com/reelix-ai/reelix/pkg/reflection"
	"github.com/reelix-ai/reelix/pkg/session"
	"github.com/reelix-ai/reelix/pkg/taste"
	"github.com/reelix-ai/reelix/pkg/ticket"
)

// ExploreRequest is the body of POST /discovery/explore. History and
// QueryFilters are accepted for client compatibility; session memory is the
// source of truth for conversation context.
type ExploreRequest struct {
	MediaType    string                 `json:"media_type"`
	QueryText    string                 `json:"query_text"`
	SessionID    string                 `json:"session_id"`
	QueryID      string                 `json:"query_id"`
	DeviceInfo   map[string]interface{} `json:"device_info,omitempty"`
	History      json.RawMessage        `json:"history,omitempty"`
	QueryFilters json.RawMessage        `json:"query_filters,omitempty"`
}

type turnOutcome struct {
	state *orchestrator.AgentState
	err   error
}

func (s *Server) handleExplore(w http.ResponseWriter, r *http.Request) {
	var req ExploreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.QueryText == "" || req.SessionID == "" || req.QueryID == "" {
		writeJSONError(w, http.StatusBadRequest, "query_text, session_id and query_id are required")
		return
	}

	ctx := r.Context()
	userID := auth.UserID(ctx)

	memory := s.loadSession(ctx, req.SessionID)
	tasteCtx := s.loadTaste(ctx, userID)

	stream, err := openStream(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	_ = stream.send(EventStarted, StartedEvent{QueryID: req.QueryID})

	// The turn runs in its own goroutine so the handler can interleave the
	// opening frame and heartbeats while retrieval and curation work.
	// Both channels are buffered: a client disconnect must not strand it.
	openingCh := make(chan string, 1)
	outcomeCh := make(chan turnOutcome, 1)
	go func() {
		state, err := s.orchestrator.RunTurn(ctx, orchestrator.TurnRequest{
			UserID:    userID,
			SessionID: req.SessionID,
			QueryText: req.QueryText,
			MediaType: media.MediaType(req.MediaType),
			Memory:    memory,
			Taste:     tasteCtx,
			OnOpening: func(opening string) { openingCh <- opening },
		})
		outcomeCh <- turnOutcome{state: state, err: err}
	}()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	var outcome turnOutcome
	openingSent := false
waiting:
	for {
		select {
		case opening := <-openingCh:
			_ = stream.send(EventOpening, OpeningEvent{Message: opening})
			openingSent = true
		case <-heartbeat.C:
			stream.comment()
		case outcome = <-outcomeCh:
			break waiting
		case <-ctx.Done():
			// Client gone: the turn unwinds on the same context and the
			// session write for this turn is skipped.
			s.logger.Debug("Client disconnected mid-turn", "session_id", req.SessionID)
			return
		}
	}

	if outcome.err != nil {
		if ctx.Err() != nil {
			return
		}
		s.streamError(stream, "the request could not be completed", outcome.err)
		return
	}
	state := outcome.state

	if state.TurnMode == orchestrator.TurnModeChat {
		_ = stream.send(EventChat, ChatEvent{Message: state.ChatText})
		s.persistTurn(ctx, state)
		_ = stream.send(EventDone, DoneEvent{})
		s.logIntake(req, userID, state)
		return
	}

	// The opening hook fires before the outcome lands, but select order is
	// not deterministic when both channels are ready.
	if !openingSent {
		select {
		case opening := <-openingCh:
			_ = stream.send(EventOpening, OpeningEvent{Message: opening})
		default:
			_ = stream.send(EventOpening, OpeningEvent{Message: state.Opening})
		}
	}

	// The WHY envelope lands in the ticket store before the recs frame so
	// the client can follow stream_url immediately.
	envelope := s.whyBuilder.Build(state.Spec, state.Final)
	tkt := &ticket.Ticket{UserID: userID, Prompts: envelope}
	if len(req.DeviceInfo) > 0 {
		tkt.Meta = map[string]interface{}{"device_info": req.DeviceInfo}
	}
	if err := s.tickets.Put(ctx, req.QueryID, tkt); err != nil {
		// The slate still ships; the WHY stream will miss.
		s.logger.Warn("Failed to store WHY ticket", "query_id", req.QueryID, "error", err)
	}

	// The memory write overlaps the rest of the stream. It is detached from
	// the request context: once the slate is delivered, a hang-up must not
	// lose the turn. The reflection summary lands in the same goroutine so
	// the two writes cannot race each other.
	persistCtx := context.WithoutCancel(ctx)
	suggestionCh := make(chan *reflection.Suggestion, 1)
	var writes sync.WaitGroup
	writes.Add(1)
	go func() {
		defer writes.Done()
		s.persistTurn(persistCtx, state)
		if sug := <-suggestionCh; sug != nil {
			s.sessions.Update(persistCtx, state.SessionID, func(st *session.State) {
				if st.Summary == nil {
					st.Summary = make(map[string]interface{}, 2)
				}
				st.Summary[session.SummaryLastAdminMessage] = sug.Suggestion
				st.Summary[session.SummaryReflectionStrategy] = sug.Strategy
			})
		}
	}()

	_ = stream.send(EventRecs, RecsEvent{
		Items:     slateItems(state.Final),
		StreamURL: whyStreamURL(req.QueryID),
	})

	var suggestion *reflection.Suggestion
	if s.reflection != nil {
		suggestion = s.reflection.Suggest(ctx, reflection.Input{
			Spec:         state.Spec,
			Slate:        state.Final,
			Stats:        state.TierStats,
			PrevStrategy: prevStrategy(memory),
		})
	}
	suggestionCh <- suggestion
	if suggestion != nil {
		_ = stream.send(EventNextSteps, NextStepsEvent{
			Strategy:   suggestion.Strategy,
			Suggestion: suggestion.Suggestion,
		})
	}

	_ = stream.send(EventDone, DoneEvent{})

	s.logIntake(req, userID, state)
	if s.queryLog != nil {
		s.queryLog.LogCandidates(req.QueryID, state.Pool, servedIDs(state))
	}
	writes.Wait()
}

// loadSession treats any store trouble as a missing session: a turn must not
// fail because memory is unavailable.
func (s *Server) loadSession(ctx context.Context, sessionID string) *session.State {
	memory, err := s.sessions.Get(ctx, sessionID, true)
	if err != nil {
		s.logger.Warn("Session load failed, starting fresh", "session_id", sessionID, "error", err)
		return nil
	}
	return memory
}

func (s *Server) loadTaste(ctx context.Context, userID string) *taste.Context {
	if s.taste == nil {
		return nil
	}
	tasteCtx, err := s.taste.Snapshot(ctx, userID)
	if err != nil {
		s.logger.Warn("Taste snapshot failed", "user_id", userID, "error", err)
		return nil
	}
	return tasteCtx
}

// persistTurn merges the turn's delta into the session. Failures are logged
// by the store and never surface to the user.
func (s *Server) persistTurn(ctx context.Context, state *orchestrator.AgentState) {
	s.sessions.Update(ctx, state.SessionID, func(st *session.State) {
		*st = *session.ApplyDelta(st, state.UserID, state.Delta)
	})
}

func (s *Server) logIntake(req ExploreRequest, userID string, state *orchestrator.AgentState) {
	if s.queryLog == nil {
		return
	}
	in := querylog.Intake{
		QueryID:   req.QueryID,
		SessionID: req.SessionID,
		UserID:    userID,
		MediaType: req.MediaType,
		QueryText: req.QueryText,
		TurnKind:  state.TurnKind,
	}
	if state.TurnMode == orchestrator.TurnModeRecs {
		in.MediaType = string(state.Spec.MediaType)
		in.Spec = state.Spec
	}
	s.queryLog.LogIntake(in)
}

func servedIDs(state *orchestrator.AgentState) []int64 {
	ids := make([]int64, 0, len(state.Final))
	for _, item := range state.Final {
		ids = append(ids, item.Candidate.MediaID)
	}
	return ids
}

func prevStrategy(memory *session.State) string {
	if memory == nil {
		return ""
	}
	strategy, _ := memory.Summary[session.SummaryReflectionStrategy].(string)
	return strategy
}

func whyStreamURL(queryID string) string {
	return fmt.Sprintf("/discovery/explore/why?query_id=%s", url.QueryEscape(queryID))
}
