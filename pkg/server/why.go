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
	"errors"
	"net/http"
	"strconv"

	"github.com/reelix-ai/reelix/pkg/auth"
	"github.com/reelix-ai/reelix/pkg/ticket"
	"github.com/reelix-ai/reelix/pkg/why"
)

// handleWhy replays the frozen WHY call for a served slate. Ownership is
// checked before the TTL slides so a stranger's probe does not keep a ticket
// alive.
func (s *Server) handleWhy(w http.ResponseWriter, r *http.Request) {
	queryID := r.URL.Query().Get("query_id")
	if queryID == "" {
		writeJSONError(w, http.StatusBadRequest, "query_id is required")
		return
	}
	batch := 0
	if b := r.URL.Query().Get("batch"); b != "" {
		parsed, err := strconv.Atoi(b)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "batch must be an integer")
			return
		}
		batch = parsed
	}

	ctx := r.Context()
	userID := auth.UserID(ctx)

	tkt, err := s.tickets.Get(ctx, queryID, false)
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "ticket not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "ticket lookup failed")
		return
	}
	if err := tkt.Authorize(userID); err != nil {
		writeJSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := s.tickets.Touch(ctx, queryID); err != nil {
		s.logger.Warn("Ticket touch failed", "query_id", queryID, "error", err)
	}

	call, ok := tkt.Prompts.Call(batch)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "batch not found")
		return
	}

	stream, err := openStream(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	_ = stream.send(EventStarted, StartedEvent{QueryID: queryID})

	err = s.whyStreamer.Stream(ctx, call, func(item why.Item) {
		_ = stream.send(EventWhyDelta, WhyDeltaEvent{MediaID: item.MediaID, Why: item.Why})
	}, stream.comment)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.streamError(stream, "the explanation stream failed", err)
		return
	}

	_ = stream.send(EventDone, DoneEvent{})
}
