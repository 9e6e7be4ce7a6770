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

package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/store"
)

const (
	keyPrefix = "reelix:agent:session:"
	blobKind  = "session"
)

// Store is the session persistence surface.
type Store interface {
	// Get returns the session state, nil on a miss. touch refreshes the
	// sliding TTL.
	Get(ctx context.Context, sessionID string, touch bool) (*State, error)

	// Put overwrites the state, stamping created_at on first write and
	// updated_at always.
	Put(ctx context.Context, sessionID string, state *State) error

	// Update runs a read-modify-write. It is not atomic across processes;
	// transient failures are swallowed and reported as false because memory
	// writes must never fail a user-facing turn.
	Update(ctx context.Context, sessionID string, mutate func(*State)) bool

	Delete(ctx context.Context, sessionID string) error
}

// BlobStore keeps sessions as gzip-JSON blobs in a KV backend with a sliding
// TTL and an absolute cap from creation.
type BlobStore struct {
	blob   *store.Blob
	logger *slog.Logger
	now    func() time.Time
}

// NewStore builds the session store on the given backend.
func NewStore(kv store.KV, cfg config.MemoryConfig, logger *slog.Logger) *BlobStore {
	if logger == nil {
		logger = slog.Default()
	}
	sliding := time.Duration(cfg.SessionSlidingTTL) * time.Hour
	absolute := time.Duration(cfg.SessionAbsoluteTTL) * time.Hour
	return &BlobStore{
		blob:   store.NewBlob(kv, store.GzipJSON{}, blobKind, keyPrefix, sliding, absolute, logger),
		logger: logger,
		now:    time.Now,
	}
}

// NewMemoryStore builds a process-local store with default TTLs, for tests
// and development.
func NewMemoryStore(logger *slog.Logger) *BlobStore {
	var cfg config.MemoryConfig
	cfg.SetDefaults()
	return NewStore(store.NewMemory(), cfg, logger)
}

func (s *BlobStore) Get(ctx context.Context, sessionID string, touch bool) (*State, error) {
	var state State
	found, err := s.blob.Get(ctx, sessionID, &state, touch)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

func (s *BlobStore) Put(ctx context.Context, sessionID string, state *State) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = s.now().UTC()
	}
	state.UpdatedAt = s.now().UTC()
	return s.blob.Put(ctx, sessionID, state, state.CreatedAt)
}

func (s *BlobStore) Update(ctx context.Context, sessionID string, mutate func(*State)) bool {
	state, err := s.Get(ctx, sessionID, false)
	if err != nil {
		s.logger.Warn("Session update read failed", "session_id", sessionID, "error", err)
		return false
	}
	if state == nil {
		state = &State{}
	}

	mutate(state)

	if err := s.Put(ctx, sessionID, state); err != nil {
		s.logger.Warn("Session update write failed", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

func (s *BlobStore) Delete(ctx context.Context, sessionID string) error {
	return s.blob.Delete(ctx, sessionID)
}

var _ Store = (*BlobStore)(nil)
