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

package why

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reelix-ai/reelix/pkg/llms"
)

// Item is one parsed explanation line from the JSONL stream.
type Item struct {
	// MediaID keeps the model's spelling: bare numbers and quoted ids both
	// pass through, the transport layer decides how to render them.
	MediaID string
	Why     string
}

// UnmarshalJSON accepts media_id as a JSON number or string.
func (i *Item) UnmarshalJSON(data []byte) error {
	var raw struct {
		MediaID json.RawMessage `json:"media_id"`
		Why     string          `json:"why"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id := bytes.TrimSpace(raw.MediaID)
	if len(id) == 0 {
		return fmt.Errorf("missing media_id")
	}
	if id[0] == '"' {
		var s string
		if err := json.Unmarshal(id, &s); err != nil {
			return err
		}
		i.MediaID = s
	} else {
		i.MediaID = string(id)
	}

	i.Why = raw.Why
	return nil
}

// Streamer replays a frozen WHY call and parses the reply incrementally.
type Streamer struct {
	llm       llms.Provider
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewStreamer wraps the WHY LLM. heartbeat is the silence interval after
// which keepalive fires.
func NewStreamer(llm llms.Provider, heartbeat time.Duration, logger *slog.Logger) *Streamer {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{llm: llm, heartbeat: heartbeat, logger: logger}
}

// Stream runs the call and emits each parsed line in arrival order.
// keepalive fires whenever no delta arrives within the heartbeat interval.
//
// Parsing protocol: deltas accumulate in a rolling buffer. At every newline
// the head line is tried as JSON; a failed parse leaves the buffer intact
// because the line may still be completing across deltas. Whatever remains
// at end of stream gets one final parse, whole first and then line by line,
// so a trailing object without a newline still lands.
func (s *Streamer) Stream(ctx context.Context, call Call, emit func(Item), keepalive func()) error {
	ch, err := s.llm.GenerateStreaming(ctx, call.Messages, nil)
	if err != nil {
		return fmt.Errorf("why stream start failed: %w", err)
	}

	buffer := ""
	timer := time.NewTimer(s.heartbeat)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-ch:
			if !ok {
				s.flushTrailing(buffer, emit)
				return nil
			}
			switch chunk.Type {
			case llms.ChunkText:
				buffer = drainLines(buffer+chunk.Text, emit)
			case llms.ChunkError:
				return fmt.Errorf("why stream failed: %w", chunk.Error)
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.heartbeat)

		case <-timer.C:
			if keepalive != nil {
				keepalive()
			}
			timer.Reset(s.heartbeat)
		}
	}
}

// drainLines emits every complete head line that parses and returns the
// unconsumed remainder.
func drainLines(buffer string, emit func(Item)) string {
	for {
		idx := strings.IndexByte(buffer, '\n')
		if idx < 0 {
			return buffer
		}

		line := strings.TrimSpace(buffer[:idx])
		if line == "" {
			buffer = buffer[idx+1:]
			continue
		}

		var item Item
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			// The line may continue past this newline; wait for more input.
			return buffer
		}
		emit(item)
		buffer = buffer[idx+1:]
	}
}

func (s *Streamer) flushTrailing(buffer string, emit func(Item)) {
	rest := strings.TrimSpace(buffer)
	if rest == "" {
		return
	}

	var item Item
	if err := json.Unmarshal([]byte(rest), &item); err == nil {
		emit(item)
		return
	}

	for _, line := range strings.Split(rest, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			s.logger.Debug("Dropping unparseable why line", "line", line, "error", err)
			continue
		}
		emit(item)
	}
}
