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

// Package ticket stores WHY tickets: short-lived records that let the
// explanation endpoint replay the prompts prepared during an explore turn
// without re-running retrieval. A ticket that cannot be loaded is treated as
// expired; the recommendations themselves are unaffected.
package ticket

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/store"
	"github.com/reelix-ai/reelix/pkg/why"
)

const (
	keyPrefix = "reelix:ticket:"
	blobKind  = "ticket"
)

var (
	// ErrNotFound covers missing, expired, and undecodable tickets alike.
	ErrNotFound = errors.New("ticket: not found")

	// ErrForbidden marks a ticket owned by a different user.
	ErrForbidden = errors.New("ticket: forbidden")
)

// Ticket is everything needed to serve the WHY stream for one query.
type Ticket struct {
	UserID    string                 `json:"user_id"`
	Prompts   why.PromptsEnvelope    `json:"prompts"`
	CreatedAt time.Time              `json:"created_at"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// Authorize checks the ticket belongs to userID.
func (t *Ticket) Authorize(userID string) error {
	if t.UserID != userID {
		return ErrForbidden
	}
	return nil
}

// Store is the ticket persistence surface.
type Store interface {
	Put(ctx context.Context, queryID string, t *Ticket) error

	// Get returns the ticket or ErrNotFound. touch refreshes the sliding
	// TTL. Backend failures degrade to ErrNotFound: to the caller an
	// unreachable ticket and an expired one look the same.
	Get(ctx context.Context, queryID string, touch bool) (*Ticket, error)

	// Update runs a read-modify-write on an existing ticket. Returns false
	// when the ticket is gone or the write failed.
	Update(ctx context.Context, queryID string, mutate func(*Ticket)) bool

	Touch(ctx context.Context, queryID string) error
	Delete(ctx context.Context, queryID string) error
}

// BlobStore keeps tickets as gzip-JSON blobs with a short sliding TTL and an
// absolute cap from creation.
type BlobStore struct {
	blob   *store.Blob
	logger *slog.Logger
	now    func() time.Time
}

// NewStore builds the ticket store on the given backend.
func NewStore(kv store.KV, cfg config.MemoryConfig, logger *slog.Logger) *BlobStore {
	if logger == nil {
		logger = slog.Default()
	}
	sliding := time.Duration(cfg.TicketSlidingTTL) * time.Minute
	absolute := time.Duration(cfg.TicketAbsoluteTTL) * time.Minute
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

func (s *BlobStore) Put(ctx context.Context, queryID string, t *Ticket) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	return s.blob.Put(ctx, queryID, t, t.CreatedAt)
}

func (s *BlobStore) Get(ctx context.Context, queryID string, touch bool) (*Ticket, error) {
	var t Ticket
	found, err := s.blob.Get(ctx, queryID, &t, touch)
	if err != nil {
		s.logger.Warn("Ticket read failed", "query_id", queryID, "error", err)
		return nil, ErrNotFound
	}
	if !found {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *BlobStore) Update(ctx context.Context, queryID string, mutate func(*Ticket)) bool {
	t, err := s.Get(ctx, queryID, false)
	if err != nil {
		return false
	}

	mutate(t)

	if err := s.Put(ctx, queryID, t); err != nil {
		s.logger.Warn("Ticket update write failed", "query_id", queryID, "error", err)
		return false
	}
	return true
}

func (s *BlobStore) Touch(ctx context.Context, queryID string) error {
	return s.blob.Touch(ctx, queryID)
}

func (s *BlobStore) Delete(ctx context.Context, queryID string) error {
	return s.blob.Delete(ctx, queryID)
}

var _ Store = (*BlobStore)(nil)
