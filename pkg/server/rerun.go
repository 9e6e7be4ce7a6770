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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/reelix-ai/reelix/pkg/auth"
	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/querylog"
	"github.com/reelix-ai/reelix/pkg/ranking"
	"github.com/reelix-ai/reelix/pkg/session"
	"github.com/reelix-ai/reelix/pkg/ticket"
)

// RerunRequest is the body of POST /discovery/explore/rerun: a chip
// refinement of the previous request, no orchestrator LLM involved.
type RerunRequest struct {
	QueryID    string                 `json:"query_id"`
	SessionID  string                 `json:"session_id"`
	Patch      RerunPatch             `json:"patch"`
	DeviceInfo map[string]interface{} `json:"device_info,omitempty"`
}

// RerunPatch distinguishes absent keys from explicit nulls: an absent key
// keeps the previous value, null clears it, a value replaces it wholesale.
type RerunPatch struct {
	Providers json.RawMessage `json:"providers"`
	YearRange json.RawMessage `json:"year_range"`
}

// RerunResponse carries the refined slate and its WHY stream location.
type RerunResponse struct {
	Items     []RecItem `json:"items"`
	StreamURL string    `json:"stream_url"`
}

func (s *Server) handleRerun(w http.ResponseWriter, r *http.Request) {
	var req RerunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.QueryID == "" || req.SessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "query_id and session_id are required")
		return
	}

	ctx := r.Context()
	userID := auth.UserID(ctx)

	memory := s.loadSession(ctx, req.SessionID)
	if memory == nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if memory.LastSpec == nil {
		writeJSONError(w, http.StatusBadRequest, "no previous request to refine")
		return
	}

	spec, err := s.applyPatch(*memory.LastSpec, req.Patch)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec = spec.Sanitize(s.discovery.YearFloor, s.discovery.YearCap)

	tasteCtx := s.loadTaste(ctx, userID)
	result, err := s.runner.Run(ctx, tasteCtx, spec, memory.SeenMediaIDs, session.TurnKindRefine)
	if err != nil {
		errorID := uuid.NewString()
		s.logger.Error("Rerun failed", "error_id", errorID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorEvent{
			Message: "the request could not be completed",
			ErrorID: errorID,
		})
		return
	}

	final := result.Items
	if len(final) > spec.NumRecs {
		final = final[:spec.NumRecs]
	}

	envelope := s.whyBuilder.Build(spec, final)
	tkt := &ticket.Ticket{UserID: userID, Prompts: envelope}
	if len(req.DeviceInfo) > 0 {
		tkt.Meta = map[string]interface{}{"device_info": req.DeviceInfo}
	}
	if err := s.tickets.Put(ctx, req.QueryID, tkt); err != nil {
		s.logger.Warn("Failed to store WHY ticket", "query_id", req.QueryID, "error", err)
	}

	delta := refineDelta(spec, final)
	s.sessions.Update(ctx, req.SessionID, func(st *session.State) {
		*st = *session.ApplyDelta(st, userID, delta)
	})

	writeJSON(w, http.StatusOK, RerunResponse{
		Items:     slateItems(final),
		StreamURL: whyStreamURL(req.QueryID),
	})

	if s.queryLog != nil {
		s.queryLog.LogIntake(querylog.Intake{
			QueryID:   req.QueryID,
			SessionID: req.SessionID,
			UserID:    userID,
			MediaType: string(spec.MediaType),
			QueryText: spec.QueryText,
			TurnKind:  session.TurnKindRefine,
			Spec:      spec,
		})
		ids := make([]int64, 0, len(final))
		for _, item := range final {
			ids = append(ids, item.Candidate.MediaID)
		}
		s.queryLog.LogCandidates(req.QueryID, result.Items, ids)
	}
}

// applyPatch folds the chip refinement into the previous spec.
func (s *Server) applyPatch(spec media.QuerySpec, patch RerunPatch) (media.QuerySpec, error) {
	if len(patch.Providers) > 0 {
		if isJSONNull(patch.Providers) {
			spec.Providers = nil
		} else {
			names, err := s.decodeProviders(patch.Providers)
			if err != nil {
				return spec, err
			}
			spec.Providers = names
		}
	}
	if len(patch.YearRange) > 0 {
		if isJSONNull(patch.YearRange) {
			spec.YearRange = nil
		} else {
			var pair []int
			if err := json.Unmarshal(patch.YearRange, &pair); err != nil || len(pair) != 2 {
				return spec, fmt.Errorf("year_range must be a two-element array or null")
			}
			spec.YearRange = &[2]int{pair[0], pair[1]}
		}
	}
	return spec, nil
}

// decodeProviders accepts display names or numeric provider ids. Unknown ids
// are dropped with a warning, matching how unknown names are handled later.
func (s *Server) decodeProviders(raw json.RawMessage) ([]string, error) {
	var entries []interface{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("providers must be an array or null")
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		switch v := entry.(type) {
		case string:
			names = append(names, v)
		case float64:
			name, ok := media.ProviderName(int64(v))
			if !ok {
				s.logger.Warn("Dropping unknown streaming provider id", "provider_id", int64(v))
				continue
			}
			names = append(names, name)
		default:
			return nil, fmt.Errorf("providers entries must be names or ids")
		}
	}
	return names, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// refineDelta is the session change for a rerun: same shape the orchestrator
// produces for a recs turn, minus the chat summary keys.
func refineDelta(spec media.QuerySpec, final []ranking.Item) session.Delta {
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
		Summary:      map[string]interface{}{session.SummaryTurnKind: session.TurnKindRefine},
		LastSpec:     &specCopy,
		SlotMap:      slotMap,
		SeenMediaIDs: seen,
	}
}
