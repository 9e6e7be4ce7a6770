package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/encoder"
	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/ranking"
	"github.com/reelix-ai/reelix/pkg/vector"
)

type fakeRetriever struct {
	dense     []media.Candidate
	sparse    []media.Candidate
	denseErr  error
	sparseErr error

	lastDenseQuery  vector.DenseQuery
	lastSparseQuery vector.SparseQuery
}

func (f *fakeRetriever) Dense(ctx context.Context, q vector.DenseQuery) ([]media.Candidate, error) {
	f.lastDenseQuery = q
	return f.dense, f.denseErr
}

func (f *fakeRetriever) Sparse(ctx context.Context, q vector.SparseQuery) ([]media.Candidate, error) {
	f.lastSparseQuery = q
	return f.sparse, f.sparseErr
}

func (f *fakeRetriever) Close() error { return nil }

func movieCand(id int64, denseScore float64) media.Candidate {
	return media.Candidate{
		MediaID:    id,
		Type:       media.MediaTypeMovie,
		Payload:    media.Payload{Title: "t", VoteAverage: 7, VoteCount: 100, Popularity: 10},
		DenseScore: media.Float64Ptr(denseScore),
	}
}

func testDiscoveryConfig() config.DiscoveryConfig {
	var cfg config.DiscoveryConfig
	cfg.SetDefaults()
	return cfg
}

func testRequest() Request {
	return Request{
		MediaType: media.MediaTypeMovie,
		QueryText: "slow burn thriller",
		Encoded: &encoder.EncodedQuery{
			Dense:  []float32{0.1, 0.2},
			Sparse: encoder.SparseVector{Indices: []uint32{1}, Values: []float32{0.5}},
		},
		Weights: ranking.DefaultWeights(),
	}
}

func TestPipeline_Run(t *testing.T) {
	retriever := &fakeRetriever{
		dense: []media.Candidate{movieCand(1, 0.9), movieCand(2, 0.8), movieCand(3, 0.7)},
		sparse: []media.Candidate{
			{MediaID: 2, Type: media.MediaTypeMovie, SparseScore: media.Float64Ptr(8)},
			{MediaID: 4, Type: media.MediaTypeMovie, SparseScore: media.Float64Ptr(6),
				Payload: media.Payload{Title: "sparse only", VoteAverage: 7, VoteCount: 100, Popularity: 5}},
		},
	}

	p := New(retriever, testDiscoveryConfig(), nil, nil)
	result, err := p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Items) != 4 {
		t.Fatalf("Run() returned %d items, want 4", len(result.Items))
	}
	for _, item := range result.Items {
		if item.Trace.FinalScore != item.Trace.MetadataScore {
			t.Errorf("FinalScore = %v, want metadata score %v with fusion off",
				item.Trace.FinalScore, item.Trace.MetadataScore)
		}
	}
	for i := 1; i < len(result.Items); i++ {
		if result.Items[i-1].Trace.FinalScore < result.Items[i].Trace.FinalScore {
			t.Errorf("Run() slate not in descending score order at %d", i)
		}
	}

	if retriever.lastDenseQuery.MediaType != media.MediaTypeMovie {
		t.Errorf("dense query media type = %v, want movie", retriever.lastDenseQuery.MediaType)
	}
	if len(retriever.lastSparseQuery.Indices) != 1 {
		t.Errorf("sparse query indices = %v, want the encoded vector", retriever.lastSparseQuery.Indices)
	}
}

func TestPipeline_SparseFailureProceeds(t *testing.T) {
	retriever := &fakeRetriever{
		dense:     []media.Candidate{movieCand(1, 0.9)},
		sparseErr: vector.ErrUnavailable,
	}

	p := New(retriever, testDiscoveryConfig(), nil, nil)
	result, err := p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run() error = %v, want partial success", err)
	}
	if len(result.Items) != 1 || result.Items[0].Candidate.MediaID != 1 {
		t.Errorf("Run() items = %v, want the dense candidate", result.Items)
	}
}

func TestPipeline_DenseFailureAborts(t *testing.T) {
	retriever := &fakeRetriever{
		denseErr: vector.ErrUnavailable,
		sparse:   []media.Candidate{movieCand(1, 0)},
	}

	p := New(retriever, testDiscoveryConfig(), nil, nil)
	if _, err := p.Run(context.Background(), testRequest()); !errors.Is(err, vector.ErrUnavailable) {
		t.Errorf("Run() error = %v, want vector.ErrUnavailable", err)
	}
}

func TestPipeline_TruncatesToFinalTopK(t *testing.T) {
	var dense []media.Candidate
	for i := int64(1); i <= 40; i++ {
		dense = append(dense, movieCand(i, 1.0-float64(i)*0.01))
	}

	cfg := testDiscoveryConfig()
	cfg.FinalTopK = 12
	p := New(&fakeRetriever{dense: dense}, cfg, nil, nil)

	result, err := p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Items) != 12 {
		t.Errorf("Run() returned %d items, want final_top_k=12", len(result.Items))
	}
}

func TestPipeline_DiversifiesByCollection(t *testing.T) {
	franchise := func(id int64, score float64) media.Candidate {
		c := movieCand(id, score)
		c.Payload.Collection = "dune"
		return c
	}
	retriever := &fakeRetriever{
		dense: []media.Candidate{franchise(1, 0.9), franchise(2, 0.85), movieCand(3, 0.8)},
	}

	p := New(retriever, testDiscoveryConfig(), nil, nil)
	result, err := p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("Run() returned %d items, want 2 after collection cap", len(result.Items))
	}
	if len(result.Pruned) != 1 || result.Pruned[0].MediaID != 2 {
		t.Errorf("Run() pruned = %v, want media 2", result.Pruned)
	}
}

// corpusRetriever serves a fixed corpus honoring the year-range filter, the
// way the backing store applies range conditions server-side.
type corpusRetriever struct {
	corpus []media.Candidate
}

func (c *corpusRetriever) filtered(f vector.SearchFilter) []media.Candidate {
	var out []media.Candidate
	for _, cand := range c.corpus {
		if f.YearRange != nil {
			y := cand.Payload.ReleaseYear
			if y < f.YearRange[0] || y > f.YearRange[1] {
				continue
			}
		}
		out = append(out, cand)
	}
	return out
}

func (c *corpusRetriever) Dense(ctx context.Context, q vector.DenseQuery) ([]media.Candidate, error) {
	return c.filtered(q.Filter), nil
}

func (c *corpusRetriever) Sparse(ctx context.Context, q vector.SparseQuery) ([]media.Candidate, error) {
	return nil, nil
}

func (c *corpusRetriever) Close() error { return nil }

func TestPipeline_YearRangeWideningIsMonotone(t *testing.T) {
	corpus := make([]media.Candidate, 0, 30)
	for i := int64(0); i < 30; i++ {
		cand := movieCand(i+1, 0.9-float64(i)*0.01)
		cand.Payload.ReleaseYear = 1985 + int(i)
		corpus = append(corpus, cand)
	}

	cfg := testDiscoveryConfig()
	cfg.MetaTopN = 100
	cfg.FinalTopK = 100
	p := New(&corpusRetriever{corpus: corpus}, cfg, nil, nil)

	run := func(start, end int) map[int64]bool {
		req := testRequest()
		yr := [2]int{start, end}
		req.Filter = vector.SearchFilter{YearRange: &yr}
		result, err := p.Run(context.Background(), req)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		ids := make(map[int64]bool, len(result.Items))
		for _, item := range result.Items {
			ids[item.Candidate.MediaID] = true
		}
		return ids
	}

	narrow := run(1990, 2005)
	wide := run(1989, 2006)

	if len(narrow) == 0 || len(wide) <= len(narrow) {
		t.Fatalf("want a strictly larger candidate set after widening, got %d then %d", len(narrow), len(wide))
	}
	for id := range narrow {
		if !wide[id] {
			t.Errorf("candidate %d returned for [1990,2005] but missing for [1989,2006]", id)
		}
	}
}

type fakeCross struct {
	scores []float64
	err    error
}

func (f *fakeCross) Score(ctx context.Context, queryText string, items []ranking.Item) ([]float64, error) {
	return f.scores, f.err
}

func TestPipeline_FinalFusion(t *testing.T) {
	retriever := &fakeRetriever{
		dense: []media.Candidate{movieCand(1, 0.9), movieCand(2, 0.5)},
	}

	cfg := testDiscoveryConfig()
	cfg.FinalFusion.Enabled = true

	// Cross-encoder strongly prefers the metadata runner-up; with weights
	// 0.8/0.2 the metadata leader must still win.
	p := New(retriever, cfg, &fakeCross{scores: []float64{0.1, 0.9}}, nil)
	result, err := p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Items[0].Candidate.MediaID != 1 {
		t.Errorf("finalFusion top = %d, want 1 (metadata weight dominates)", result.Items[0].Candidate.MediaID)
	}
	if result.Items[0].Trace.FinalScore == result.Items[0].Trace.MetadataScore {
		t.Error("finalFusion left FinalScore equal to metadata score, want fused rank score")
	}

	// Scorer failure keeps the metadata order and scores.
	p = New(retriever, cfg, &fakeCross{err: errors.New("down")}, nil)
	result, err = p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Items[0].Trace.FinalScore != result.Items[0].Trace.MetadataScore {
		t.Error("failed scorer must leave metadata scores untouched")
	}
}
