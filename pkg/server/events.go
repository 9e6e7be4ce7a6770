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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/reelix-ai/reelix/pkg/ranking"
)

// Event names on the discovery streams.
const (
	EventStarted   = "started"
	EventOpening   = "opening"
	EventChat      = "chat"
	EventRecs      = "recs"
	EventNextSteps = "next_steps"
	EventWhyDelta  = "why_delta"
	EventDone      = "done"
	EventError     = "error"
)

// StartedEvent opens every stream and echoes the query id for correlation.
type StartedEvent struct {
	QueryID string `json:"query_id,omitempty"`
}

// OpeningEvent carries the curator's two-sentence front for the slate.
type OpeningEvent struct {
	Message string `json:"message"`
}

// ChatEvent answers a conversational turn in place of a slate.
type ChatEvent struct {
	Message string `json:"message"`
}

// RecItem is the client-facing shape of one recommended title.
type RecItem struct {
	MediaID        int64    `json:"media_id"`
	MediaType      string   `json:"media_type"`
	Title          string   `json:"title"`
	ReleaseYear    int      `json:"release_year,omitempty"`
	Genres         []string `json:"genres,omitempty"`
	Overview       string   `json:"overview,omitempty"`
	WatchProviders []int64  `json:"watch_providers,omitempty"`
	Collection     string   `json:"collection,omitempty"`
	Tier           string   `json:"tier,omitempty"`
	Score          float64  `json:"score"`
}

// RecsEvent delivers the final slate together with the WHY stream location.
type RecsEvent struct {
	Items     []RecItem `json:"items"`
	StreamURL string    `json:"stream_url"`
}

// NextStepsEvent suggests how the user might steer the next turn.
type NextStepsEvent struct {
	Strategy   string `json:"strategy"`
	Suggestion string `json:"suggestion"`
}

// WhyDeltaEvent is one per-item explanation. MediaID keeps the model's
// spelling, numeric or quoted.
type WhyDeltaEvent struct {
	MediaID string `json:"media_id"`
	Why     string `json:"why_you_might_enjoy_it"`
}

// DoneEvent closes a successful stream.
type DoneEvent struct{}

// ErrorEvent is the single terminal frame of a failed stream. Message stays
// generic; ErrorID correlates with server-side logs.
type ErrorEvent struct {
	Message string `json:"message"`
	ErrorID string `json:"error_id"`
}

// slateItems converts ranked items into their client-facing shape.
func slateItems(items []ranking.Item) []RecItem {
	out := make([]RecItem, 0, len(items))
	for _, item := range items {
		out = append(out, RecItem{
			MediaID:        item.Candidate.MediaID,
			MediaType:      string(item.Candidate.Type),
			Title:          item.Candidate.Payload.Title,
			ReleaseYear:    item.Candidate.Payload.ReleaseYear,
			Genres:         item.Candidate.Payload.Genres,
			Overview:       item.Candidate.Payload.Overview,
			WatchProviders: item.Candidate.Payload.WatchProviders,
			Collection:     item.Candidate.Payload.Collection,
			Tier:           item.Trace.Tier,
			Score:          item.Trace.FinalScore,
		})
	}
	return out
}

// sseStream writes typed events onto one client connection using the plain
// `event: <name>\ndata: <json>\n\n` framing. All writes happen from the
// handler goroutine that owns it.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// openStream primes the response for server-sent events. The handler must
// not have written anything yet.
func openStream(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseStream{w: w, flusher: flusher}, nil
}

// send serializes one event and flushes it to the client.
func (s *sseStream) send(name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// comment writes a heartbeat frame clients ignore.
func (s *sseStream) comment() {
	_, _ = fmt.Fprint(s.w, ":\n\n")
	s.flusher.Flush()
}
