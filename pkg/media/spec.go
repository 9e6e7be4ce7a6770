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

package media

import "log/slog"

// DefaultNumRecs is how many titles a slate targets unless the query asks
// otherwise.
const DefaultNumRecs = 8

// QuerySpec is the structured form of the user's current intent, built by the
// orchestrator each turn and immutable once handed to the runner. Free-text
// fields (sub genres, tones, themes) inform prompts and retrieval text;
// closed-enum fields (core genres, providers) drive hard filters.
type QuerySpec struct {
	// QueryText is a short retrieval-oriented phrase, not the raw user turn.
	QueryText string `json:"query_text" mapstructure:"query_text"`

	MediaType MediaType `json:"media_type" mapstructure:"media_type"`

	// CoreGenres uses the canonical genre vocabulary only.
	CoreGenres []string `json:"core_genres,omitempty" mapstructure:"core_genres"`
	SubGenres  []string `json:"sub_genres,omitempty" mapstructure:"sub_genres"`

	CoreTone       []string `json:"core_tone,omitempty" mapstructure:"core_tone"`
	NarrativeShape string   `json:"narrative_shape,omitempty" mapstructure:"narrative_shape"`
	KeyThemes      []string `json:"key_themes,omitempty" mapstructure:"key_themes"`
	ExcludeGenres  []string `json:"exclude_genres,omitempty" mapstructure:"exclude_genres"`

	// Providers names streaming services from the closed provider table.
	Providers []string `json:"providers,omitempty" mapstructure:"providers"`

	// YearRange is an inclusive [start, end] release-year window, or nil for
	// no constraint.
	YearRange *[2]int `json:"year_range,omitempty" mapstructure:"year_range"`

	SeedTitles []string `json:"seed_titles,omitempty" mapstructure:"seed_titles"`

	NumRecs int `json:"num_recs,omitempty" mapstructure:"num_recs"`
}

// Sanitize returns a copy with enum fields reduced to known values, the year
// range ordered and clamped to [floor, cap] (dropped entirely when it falls
// outside), and NumRecs bounded to a sane slate size. Unknown genres and
// providers are dropped with a warning rather than failing the turn.
func (s QuerySpec) Sanitize(yearFloor, yearCap int) QuerySpec {
	out := s

	if out.MediaType != MediaTypeMovie && out.MediaType != MediaTypeTV {
		slog.Warn("Unknown media type in query spec, defaulting to movie", "media_type", out.MediaType)
		out.MediaType = MediaTypeMovie
	}

	out.CoreGenres = FilterCanonicalGenres(out.CoreGenres)
	out.ExcludeGenres = FilterCanonicalGenres(out.ExcludeGenres)

	known := make([]string, 0, len(out.Providers))
	for _, name := range out.Providers {
		if _, ok := ProviderID(name); ok {
			known = append(known, name)
		} else {
			slog.Warn("Dropping unknown provider from query spec", "provider", name)
		}
	}
	out.Providers = known

	if out.YearRange != nil {
		yr := *out.YearRange
		if yr[0] > yr[1] {
			yr[0], yr[1] = yr[1], yr[0]
		}
		if yr[0] < yearFloor {
			yr[0] = yearFloor
		}
		if yr[1] > yearCap {
			yr[1] = yearCap
		}
		if yr[0] > yr[1] {
			out.YearRange = nil
		} else {
			out.YearRange = &yr
		}
	}

	if out.NumRecs <= 0 {
		out.NumRecs = DefaultNumRecs
	} else if out.NumRecs > 12 {
		out.NumRecs = 12
	}

	return out
}

// ProviderIDs resolves the spec's provider names to filter ids.
func (s QuerySpec) ProviderIDs() []int64 {
	return ResolveProviders(s.Providers)
}
