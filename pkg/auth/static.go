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

import "context"

// StaticValidator maps opaque bearer tokens to user ids. Development and
// tests only; production deployments use JWKS.
type StaticValidator struct {
	tokens map[string]string
}

// NewStaticValidator copies the token table so later config mutation cannot
// change who is admitted.
func NewStaticValidator(tokens map[string]string) *StaticValidator {
	cp := make(map[string]string, len(tokens))
	for token, userID := range tokens {
		cp[token] = userID
	}
	return &StaticValidator{tokens: cp}
}

func (v *StaticValidator) Validate(_ context.Context, token string) (*Identity, error) {
	userID, ok := v.tokens[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: userID}, nil
}
