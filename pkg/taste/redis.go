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

package taste

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reelix-ai/reelix/pkg/store"
)

const keyPrefix = "reelix:taste:"

// Reader loads taste snapshots written by the taste-profile service as plain
// JSON under reelix:taste:{user_id}.
type Reader struct {
	kv     store.KV
	logger *slog.Logger
}

func NewReader(kv store.KV, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{kv: kv, logger: logger}
}

// Snapshot returns the user's profile, nil when none exists. A profile that
// fails to decode is reported as missing: the turn proceeds without taste
// signals rather than failing.
func (r *Reader) Snapshot(ctx context.Context, userID string) (*Context, error) {
	data, err := r.kv.Get(ctx, keyPrefix+userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load taste snapshot: %w", err)
	}

	var tc Context
	if err := json.Unmarshal(data, &tc); err != nil {
		r.logger.Warn("Taste snapshot failed to decode, ignoring", "user_id", userID, "error", err)
		return nil, nil
	}
	if tc.UserID == "" {
		tc.UserID = userID
	}
	return &tc, nil
}

var _ Provider = (*Reader)(nil)
var _ Provider = (*Static)(nil)
