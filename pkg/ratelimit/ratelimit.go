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

// Package ratelimit bounds per-user request rates on the discovery API.
// Counters are fixed windows in the shared KV store: approximate at window
// edges, and consistent across replicas when Redis backs the store.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/store"
)

const keyPrefix = "reelix:rl:"

type quota struct {
	window   string
	duration time.Duration
	limit    int64
}

// Limiter counts requests per user against one or more fixed windows.
type Limiter struct {
	quotas []quota
	kv     store.KV
	logger *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// New builds a limiter from validated configuration.
func New(cfg config.RateLimitConfig, kv store.KV, logger *slog.Logger) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	quotas := make([]quota, 0, len(cfg.Quotas))
	for _, q := range cfg.Quotas {
		quotas = append(quotas, quota{
			window:   q.Window,
			duration: windowDuration(q.Window),
			limit:    q.Limit,
		})
	}
	return &Limiter{quotas: quotas, kv: kv, logger: logger, now: time.Now}, nil
}

func windowDuration(window string) time.Duration {
	switch window {
	case config.RateWindowMinute:
		return time.Minute
	case config.RateWindowHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Decision reports whether the request may proceed, and when to retry if not.
type Decision struct {
	Allowed    bool
	Window     string
	RetryAfter time.Duration
}

// Allow counts the request against every quota and reports the first
// exhausted window. Counting happens before checking, so a rejected request
// still consumed budget: retry storms do not ride for free.
func (l *Limiter) Allow(ctx context.Context, userID string) (Decision, error) {
	now := l.now()
	for _, q := range l.quotas {
		bucket := now.Truncate(q.duration)
		key := fmt.Sprintf("%s%s:%s:%d", keyPrefix, userID, q.window, bucket.Unix())

		count, err := l.kv.Incr(ctx, key, q.duration)
		if err != nil {
			return Decision{}, fmt.Errorf("rate limit count for window %s: %w", q.window, err)
		}
		if count > q.limit {
			return Decision{
				Window:     q.window,
				RetryAfter: bucket.Add(q.duration).Sub(now),
			}, nil
		}
	}
	return Decision{Allowed: true}, nil
}
