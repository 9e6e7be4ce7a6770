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

// Package store holds the key-value plumbing shared by the session, ticket
// and taste stores: a narrow TTL'd KV interface with Redis and in-memory
// implementations, a gzip-JSON codec, and an envelope blob store that layers
// sliding/absolute expiry on top.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a key miss. Expired keys surface as misses too.
var ErrNotFound = errors.New("store: key not found")

// KV is the minimal key-value surface the blob stores need.
type KV interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value with the given TTL. Zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Expire resets the key's TTL. Returns ErrNotFound if the key is gone.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Incr atomically increments the integer counter at key and returns the
	// new value. The TTL is applied only when the key has none, so a fixed
	// window keeps its original deadline across increments.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Del removes the key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	Close() error
}
