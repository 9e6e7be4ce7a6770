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

// Package auth resolves the caller identity. Every request carries a bearer
// token; the middleware validates it, and the rest of the service only ever
// sees the resolved user id on the request context.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/reelix-ai/reelix/pkg/config"
)

// Identity is the resolved caller.
type Identity struct {
	UserID string
	Email  string
}

// Sentinel errors callers branch on.
var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Validator turns a bearer token into an Identity.
type Validator interface {
	Validate(ctx context.Context, token string) (*Identity, error)
}

// New builds the validator the config asks for: JWKS when a URL is set,
// static tokens otherwise. Returns nil when auth is disabled.
func New(ctx context.Context, cfg config.AuthConfig) (Validator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.JWKSURL != "" {
		return NewJWKSValidator(ctx, cfg.JWKSURL, cfg.Issuer, cfg.Audience)
	}
	if len(cfg.StaticTokens) > 0 {
		return NewStaticValidator(cfg.StaticTokens), nil
	}
	return nil, fmt.Errorf("auth enabled but no validator configured")
}

type contextKey struct{}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity the middleware resolved.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok
}

// UserID is FromContext for callers that only need the id. Empty when the
// request never passed the middleware.
func UserID(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.UserID
	}
	return ""
}
