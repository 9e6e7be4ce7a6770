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

package encoder

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"

	"github.com/reelix-ai/reelix/pkg/media"
)

// Query-side BM25 constants. Query length must not penalize the query, so
// length normalization is disabled; the clip keeps a repeated word in a short
// phrase from dominating.
const (
	bQuery      = 0.0
	tfClip      = 3
	defaultK1   = 1.2
	defaultAvgD = 1.0
)

// SparseVector is a term-weighted query vector. Indices and Values are
// parallel slices sorted ascending by index.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// IsEmpty reports whether no query term survived vocabulary lookup.
func (v SparseVector) IsEmpty() bool {
	return len(v.Indices) == 0
}

// corpusStats is one collection's BM25 statistics: the term→index vocabulary
// shared with the stored sparse vectors, per-term IDF, and document-length
// normalization inputs.
type corpusStats struct {
	vocab map[string]uint32
	idf   map[string]float64
	avgDL float64
	k1    float64
}

// statsFile is the on-disk artifact written by the offline indexer. It is
// either flat (one corpus serving both media types) or keyed per type.
// Unknown extra fields (p95 norms etc.) are ignored.
type statsFile struct {
	Vocab map[string]uint32  `json:"vocab"`
	IDF   map[string]float64 `json:"idf"`
	AvgDL float64            `json:"avgdl"`
	K1    float64            `json:"k1"`

	Movie *statsFile `json:"movie,omitempty"`
	TV    *statsFile `json:"tv,omitempty"`
}

// BM25 encodes query text into the sparse vector space of the indexed
// corpora. Read-only after construction; safe for concurrent use.
type BM25 struct {
	movie *corpusStats
	tv    *corpusStats
}

// LoadBM25 reads the corpus statistics artifact from path.
func LoadBM25(path string) (*BM25, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read BM25 stats: %w", err)
	}
	return ParseBM25(data)
}

// ParseBM25 builds the encoder from raw artifact bytes.
func ParseBM25(data []byte) (*BM25, error) {
	var file statsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse BM25 stats: %w", err)
	}

	b := &BM25{}
	if file.Movie != nil || file.TV != nil {
		if file.Movie == nil || file.TV == nil {
			return nil, fmt.Errorf("keyed BM25 stats must define both movie and tv sections")
		}
		b.movie = file.Movie.toStats()
		b.tv = file.TV.toStats()
	} else {
		shared := file.toStats()
		b.movie = shared
		b.tv = shared
	}

	if len(b.movie.vocab) == 0 || len(b.tv.vocab) == 0 {
		return nil, fmt.Errorf("BM25 stats contain an empty vocabulary")
	}
	return b, nil
}

func (f *statsFile) toStats() *corpusStats {
	s := &corpusStats{
		vocab: f.Vocab,
		idf:   f.IDF,
		avgDL: f.AvgDL,
		k1:    f.K1,
	}
	if s.k1 <= 0 {
		s.k1 = defaultK1
	}
	if s.avgDL <= 0 {
		s.avgDL = defaultAvgD
	}
	return s
}

func (b *BM25) statsFor(mt media.MediaType) *corpusStats {
	if mt == media.MediaTypeTV {
		return b.tv
	}
	return b.movie
}

// Encode produces the sparse vector for text against the media type's corpus.
// Out-of-vocabulary terms are dropped; output is deterministic for a given
// input.
func (b *BM25) Encode(text string, mt media.MediaType) SparseVector {
	stats := b.statsFor(mt)

	tf := make(map[string]int)
	for _, token := range Tokenize(text) {
		tf[token]++
	}
	uniqueLen := float64(len(tf))

	type termWeight struct {
		index uint32
		value float32
	}
	weights := make([]termWeight, 0, len(tf))

	for term, count := range tf {
		index, ok := stats.vocab[term]
		if !ok {
			continue
		}
		idf := stats.idf[term]
		if count > tfClip {
			count = tfClip
		}

		freq := float64(count)
		norm := 1 - bQuery + bQuery*uniqueLen/stats.avgDL
		weight := idf * freq * (stats.k1 + 1) / (freq + stats.k1*norm)

		weights = append(weights, termWeight{index: index, value: float32(weight)})
	}

	sort.Slice(weights, func(i, j int) bool { return weights[i].index < weights[j].index })

	out := SparseVector{
		Indices: make([]uint32, len(weights)),
		Values:  make([]float32, len(weights)),
	}
	for i, w := range weights {
		out.Indices[i] = w.index
		out.Values[i] = w.value
	}
	return out
}

// Tokenize lowercases, splits on non-alphanumeric runes, drops English
// stopwords, and Porter-stems what remains. The indexer applies the identical
// pipeline; any divergence silently breaks sparse recall.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if isStopword(field) {
			continue
		}
		tokens = append(tokens, english.Stem(field, false))
	}
	return tokens
}
