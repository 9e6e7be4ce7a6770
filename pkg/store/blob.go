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

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	kindField      = "__kind"
	createdAtField = "__created_at"
)

// envelope carries the bookkeeping fields stored alongside the document.
type envelope struct {
	Kind      string `json:"__kind"`
	CreatedAt string `json:"__created_at"`
}

// Blob is a namespaced document store with a sliding TTL on every write and
// touch, and an absolute cap measured from the stored creation timestamp.
// Undecodable or over-cap blobs are deleted and reported as misses so a
// poisoned key never wedges a session.
type Blob struct {
	kv       KV
	codec    Codec
	kind     string
	prefix   string
	sliding  time.Duration
	absolute time.Duration
	logger   *slog.Logger
}

func NewBlob(kv KV, codec Codec, kind, prefix string, sliding, absolute time.Duration, logger *slog.Logger) *Blob {
	if codec == nil {
		codec = GzipJSON{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Blob{
		kv:       kv,
		codec:    codec,
		kind:     kind,
		prefix:   prefix,
		sliding:  sliding,
		absolute: absolute,
		logger:   logger,
	}
}

func (b *Blob) key(id string) string { return b.prefix + id }

// Get decodes the document at id into v. Returns false on a miss; touch
// refreshes the sliding TTL on a hit.
func (b *Blob) Get(ctx context.Context, id string, v interface{}, touch bool) (bool, error) {
	data, err := b.kv.Get(ctx, b.key(id))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var raw json.RawMessage
	if err := b.codec.Decode(data, &raw); err != nil {
		b.evict(ctx, id, "blob failed to decode", err)
		return false, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.evict(ctx, id, "blob envelope failed to decode", err)
		return false, nil
	}
	if env.Kind != "" && env.Kind != b.kind {
		b.evict(ctx, id, "blob kind mismatch", fmt.Errorf("got %q, want %q", env.Kind, b.kind))
		return false, nil
	}
	if expired, err := b.overCap(env.CreatedAt); err != nil {
		b.evict(ctx, id, "blob creation timestamp failed to parse", err)
		return false, nil
	} else if expired {
		_ = b.kv.Del(ctx, b.key(id))
		return false, nil
	}

	if err := json.Unmarshal(raw, v); err != nil {
		b.evict(ctx, id, "blob document failed to decode", err)
		return false, nil
	}

	if touch {
		// Best effort: a failed slide just means the key expires sooner.
		_ = b.kv.Expire(ctx, b.key(id), b.sliding)
	}
	return true, nil
}

// Put overwrites the document with the sliding TTL. createdAt anchors the
// absolute cap and is stored in the envelope.
func (b *Blob) Put(ctx context.Context, id string, v interface{}, createdAt time.Time) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s document: %w", b.kind, err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to envelope %s document: %w", b.kind, err)
	}
	doc[kindField] = b.kind
	doc[createdAtField] = createdAt.UTC().Format(time.RFC3339Nano)

	blob, err := b.codec.Encode(doc)
	if err != nil {
		return err
	}
	return b.kv.Set(ctx, b.key(id), blob, b.sliding)
}

// Touch slides the TTL without reading the document.
func (b *Blob) Touch(ctx context.Context, id string) error {
	return b.kv.Expire(ctx, b.key(id), b.sliding)
}

func (b *Blob) Delete(ctx context.Context, id string) error {
	return b.kv.Del(ctx, b.key(id))
}

func (b *Blob) overCap(createdAt string) (bool, error) {
	if b.absolute <= 0 || createdAt == "" {
		return false, nil
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return false, err
	}
	return time.Since(created) > b.absolute, nil
}

func (b *Blob) evict(ctx context.Context, id string, msg string, err error) {
	b.logger.Warn(msg+", deleting", "kind", b.kind, "id", id, "error", err)
	_ = b.kv.Del(ctx, b.key(id))
}
