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

package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/reelix-ai/reelix/pkg/auth"
)

// Middleware rejects requests from users whose quota is spent. A nil limiter
// passes everything through, so callers wire it unconditionally. It must run
// after the auth middleware: the counter key is the authenticated user id.
// Store failures fail open, a broken Redis must not take the API down.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.UserID(r.Context())
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := l.Allow(r.Context(), userID)
			if err != nil {
				l.logger.Warn("Rate limit check failed, admitting request", "user_id", userID, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				l.logger.Info("Request rate limited", "user_id", userID, "window", decision.Window)
				writeLimited(w, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeLimited(w http.ResponseWriter, decision Decision) {
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
}
