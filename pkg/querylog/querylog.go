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

// Package querylog persists what each discovery turn asked and what the
// pipeline produced, for offline analysis. Writes are fire-and-forget
// through a bounded queue: a full queue drops, a failed insert logs, and
// neither ever reaches the user-visible turn. A nil *Logger is a valid
// disabled sink.
package querylog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"

	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/ranking"
)

const insertTimeout = 5 * time.Second

const schemaSQL = `
CREATE TABLE IF NOT EXISTS discovery_intake (
    query_id    VARCHAR(64)  PRIMARY KEY,
    session_id  VARCHAR(128) NOT NULL,
    user_id     VARCHAR(128) NOT NULL,
    media_type  VARCHAR(16)  NOT NULL,
    query_text  TEXT         NOT NULL,
    turn_kind   VARCHAR(16),
    spec_json   TEXT,
    created_at  TIMESTAMPTZ  NOT NULL
);

CREATE TABLE IF NOT EXISTS discovery_candidates (
    query_id    VARCHAR(64)      NOT NULL,
    media_id    BIGINT           NOT NULL,
    rank        INT              NOT NULL,
    final_score DOUBLE PRECISION NOT NULL,
    tier        VARCHAR(16),
    trace_json  TEXT,
    served      BOOLEAN          NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ      NOT NULL,
    PRIMARY KEY (query_id, media_id)
);

CREATE INDEX IF NOT EXISTS idx_intake_session ON discovery_intake(session_id);
CREATE INDEX IF NOT EXISTS idx_intake_user ON discovery_intake(user_id);
CREATE INDEX IF NOT EXISTS idx_candidates_media ON discovery_candidates(media_id);
`

// Replays happen (client retries reuse the query_id); they must not error.
const insertIntakeSQL = `
INSERT INTO discovery_intake
    (query_id, session_id, user_id, media_type, query_text, turn_kind, spec_json, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (query_id) DO NOTHING`

const insertCandidateSQL = `
INSERT INTO discovery_candidates
    (query_id, media_id, rank, final_score, tier, trace_json, served, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (query_id, media_id) DO NOTHING`

// Intake is one explore request as the server accepted it.
type Intake struct {
	QueryID   string
	SessionID string
	UserID    string
	MediaType string
	QueryText string
	TurnKind  string
	Spec      interface{}
	CreatedAt time.Time
}

type insert struct {
	query string
	args  []interface{}
}

// Logger is the asynchronous Postgres sink.
type Logger struct {
	db     *sql.DB
	exec   func(ctx context.Context, query string, args ...interface{}) error
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan []insert
	wg     sync.WaitGroup

	dropped atomic.Int64
}

// New opens the sink, initializes the schema, and starts the workers.
// Returns (nil, nil) when logging is disabled.
func New(cfg config.QueryLogConfig, logger *slog.Logger) (*Logger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open query log database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Workers * 2)
	db.SetMaxIdleConns(cfg.Workers)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize query log schema: %w", err)
	}

	l := &Logger{
		db:     db,
		logger: logger,
		jobs:   make(chan []insert, cfg.QueueSize),
	}
	l.exec = func(ctx context.Context, query string, args ...interface{}) error {
		_, err := db.ExecContext(ctx, query, args...)
		return err
	}
	l.start(cfg.Workers)
	return l, nil
}

func (l *Logger) start(workers int) {
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
}

func (l *Logger) worker() {
	defer l.wg.Done()
	for inserts := range l.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		for _, in := range inserts {
			if err := l.exec(ctx, in.query, in.args...); err != nil {
				l.logger.Warn("Query log insert failed", "error", err)
				break
			}
		}
		cancel()
	}
}

func (l *Logger) enqueue(inserts []insert) {
	if l == nil || len(inserts) == 0 {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.jobs <- inserts:
	default:
		l.dropped.Add(1)
		l.logger.Warn("Query log queue full, dropping entry")
	}
}

// LogIntake records the request row. Never blocks beyond a channel send
// attempt.
func (l *Logger) LogIntake(in Intake) {
	if l == nil {
		return
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	specJSON := "null"
	if in.Spec != nil {
		if b, err := json.Marshal(in.Spec); err == nil {
			specJSON = string(b)
		}
	}
	l.enqueue([]insert{{
		query: insertIntakeSQL,
		args: []interface{}{
			in.QueryID, in.SessionID, in.UserID, in.MediaType,
			in.QueryText, in.TurnKind, specJSON, in.CreatedAt,
		},
	}})
}

// LogCandidates records the ranked pool for a query, flagging the rows that
// made the served slate. Row data is snapshotted here so the caller's slices
// are free immediately.
func (l *Logger) LogCandidates(queryID string, pool []ranking.Item, servedIDs []int64) {
	if l == nil || len(pool) == 0 {
		return
	}

	served := make(map[int64]bool, len(servedIDs))
	for _, id := range servedIDs {
		served[id] = true
	}

	now := time.Now()
	inserts := make([]insert, 0, len(pool))
	for i, item := range pool {
		traceJSON := "null"
		if b, err := json.Marshal(item.Trace); err == nil {
			traceJSON = string(b)
		}
		inserts = append(inserts, insert{
			query: insertCandidateSQL,
			args: []interface{}{
				queryID, item.Candidate.MediaID, i + 1, item.Trace.FinalScore,
				item.Trace.Tier, traceJSON, served[item.Candidate.MediaID], now,
			},
		})
	}
	l.enqueue(inserts)
}

// Dropped reports how many enqueue attempts hit a full queue.
func (l *Logger) Dropped() int64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Drain stops intake and waits for queued inserts, bounded by ctx. Always
// closes the database handle.
func (l *Logger) Drain(ctx context.Context) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.jobs)
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if l.db != nil {
		if cerr := l.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
