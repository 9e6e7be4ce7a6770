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

package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// AnonymousUserID identifies every request when auth is disabled. Shared
// state across callers is the accepted tradeoff of running without auth.
const AnonymousUserID = "anonymous"

// Middleware resolves the bearer token to an Identity on the request
// context. A nil validator admits everyone as AnonymousUserID, which is the
// auth-disabled development mode.
func Middleware(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				ctx := WithIdentity(r.Context(), &Identity{UserID: AnonymousUserID})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token, err := bearerToken(r)
			if err != nil {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			id, err := v.Validate(r.Context(), token)
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
