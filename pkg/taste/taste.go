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

// Package taste reads the per-user taste profile snapshot produced by the
// taste-profile service. Snapshots are consumed read-only by the
// recommendation runner; this package never writes them.
package taste

import (
	"context"
	"time"
)

// Provider filter modes.
const (
	FilterModeAll            = "all"
	FilterModeSubscribedOnly = "subscribed_only"
)

// InteractionDismiss marks an explicit "not interested"; dismissed titles are
// excluded from retrieval outright.
const InteractionDismiss = "dismiss"

// Interaction is one recent user signal (like, watch, dismiss and so on).
type Interaction struct {
	MediaID   int64     `json:"media_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Context is the read-only snapshot of a user's long-term preferences.
type Context struct {
	UserID string `json:"user_id"`

	// TasteVector is an optional embedding of the user's long-term taste,
	// same dimensionality as the dense media vectors.
	TasteVector []float32 `json:"taste_vector,omitempty"`

	PositiveCount int `json:"positive_count"`
	NegativeCount int `json:"negative_count"`

	LikedGenres        []string      `json:"liked_genres,omitempty"`
	LikedKeywords      []string      `json:"liked_keywords,omitempty"`
	RecentInteractions []Interaction `json:"recent_interactions,omitempty"`

	SubscribedProviderIDs []int64 `json:"subscribed_provider_ids,omitempty"`

	// ProviderFilterMode is "all" or "subscribed_only".
	ProviderFilterMode string `json:"provider_filter_mode,omitempty"`
}

// FilterMode normalizes the provider filter mode, defaulting to "all".
func (c *Context) FilterMode() string {
	if c == nil || c.ProviderFilterMode != FilterModeSubscribedOnly {
		return FilterModeAll
	}
	return FilterModeSubscribedOnly
}

// ActiveProviderIDs returns the provider ids to filter on when the user
// chose subscribed-only mode, nil otherwise.
func (c *Context) ActiveProviderIDs() []int64 {
	if c.FilterMode() != FilterModeSubscribedOnly {
		return nil
	}
	return c.SubscribedProviderIDs
}

// Genres returns the liked-genre list, nil-safe.
func (c *Context) Genres() []string {
	if c == nil {
		return nil
	}
	return c.LikedGenres
}

// Keywords returns the liked-keyword list, nil-safe.
func (c *Context) Keywords() []string {
	if c == nil {
		return nil
	}
	return c.LikedKeywords
}

// DismissedIDs returns the media ids the user explicitly dismissed, nil-safe.
func (c *Context) DismissedIDs() []int64 {
	if c == nil {
		return nil
	}
	var ids []int64
	for _, it := range c.RecentInteractions {
		if it.Kind == InteractionDismiss {
			ids = append(ids, it.MediaID)
		}
	}
	return ids
}

// Provider resolves taste snapshots. A nil Context with nil error means the
// user has no profile yet.
type Provider interface {
	Snapshot(ctx context.Context, userID string) (*Context, error)
}

// Static serves fixed snapshots, for development and tests.
type Static struct {
	Contexts map[string]*Context
}

func (s *Static) Snapshot(_ context.Context, userID string) (*Context, error) {
	if s == nil {
		return nil, nil
	}
	return s.Contexts[userID], nil
}
