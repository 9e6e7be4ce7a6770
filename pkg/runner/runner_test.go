package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/encoder"
	"github.com/reelix-ai/reelix/pkg/media"
	"github.com/reelix-ai/reelix/pkg/pipeline"
	"github.com/reelix-ai/reelix/pkg/ranking"
	"github.com/reelix-ai/reelix/pkg/taste"
)

type fakeEncoder struct {
	err      error
	lastText string
	lastType media.MediaType
}

func (f *fakeEncoder) Encode(ctx context.Context, text string, mt media.MediaType) (*encoder.EncodedQuery, error) {
	f.lastText = text
	f.lastType = mt
	if f.err != nil {
		return nil, f.err
	}
	return &encoder.EncodedQuery{Dense: []float32{0.1}}, nil
}

type fakePipeline struct {
	items   []ranking.Item
	err     error
	lastReq pipeline.Request
}

func (f *fakePipeline) Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{Items: f.items}, nil
}

func rankedItem(id int64, score float64) ranking.Item {
	return ranking.Item{
		Candidate: media.Candidate{MediaID: id, Type: media.MediaTypeMovie},
		Trace:     ranking.ScoreTrace{MediaID: id, FinalScore: score},
	}
}

func newTestRunner(t *testing.T, enc Encoder, pipe Pipeline) *Runner {
	t.Helper()
	var discovery config.DiscoveryConfig
	discovery.SetDefaults()
	r, err := New(Config{Encoder: enc, Pipeline: pipe, Discovery: discovery})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Pipeline: &fakePipeline{}}); err == nil {
		t.Error("New() without encoder succeeded, want error")
	}
	if _, err := New(Config{Encoder: &fakeEncoder{}}); err == nil {
		t.Error("New() without pipeline succeeded, want error")
	}
}

func TestRun_FilterFromSpec(t *testing.T) {
	enc := &fakeEncoder{}
	pipe := &fakePipeline{}
	r := newTestRunner(t, enc, pipe)

	yr := [2]int{1990, 2000}
	spec := media.QuerySpec{
		QueryText: "neo noir",
		MediaType: media.MediaTypeMovie,
		Providers: []string{"Netflix", "Hulu"},
		YearRange: &yr,
	}

	if _, err := r.Run(context.Background(), nil, spec, nil, "new"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	filter := pipe.lastReq.Filter
	if len(filter.ProviderIDs) != 2 || filter.ProviderIDs[0] != 8 || filter.ProviderIDs[1] != 15 {
		t.Errorf("filter.ProviderIDs = %v, want [8 15]", filter.ProviderIDs)
	}
	if filter.YearRange == nil || *filter.YearRange != yr {
		t.Errorf("filter.YearRange = %v, want %v", filter.YearRange, yr)
	}
	if enc.lastType != media.MediaTypeMovie {
		t.Errorf("encode media type = %v, want movie", enc.lastType)
	}
}

func TestRun_DefaultYearRangeAndTasteProviders(t *testing.T) {
	pipe := &fakePipeline{}
	r := newTestRunner(t, &fakeEncoder{}, pipe)

	tasteCtx := &taste.Context{
		SubscribedProviderIDs: []int64{337},
		ProviderFilterMode:    taste.FilterModeSubscribedOnly,
	}
	spec := media.QuerySpec{QueryText: "space opera", MediaType: media.MediaTypeMovie}

	if _, err := r.Run(context.Background(), tasteCtx, spec, nil, "new"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	filter := pipe.lastReq.Filter
	if len(filter.ProviderIDs) != 1 || filter.ProviderIDs[0] != 337 {
		t.Errorf("filter.ProviderIDs = %v, want the taste subscription [337]", filter.ProviderIDs)
	}
	want := [2]int{1970, time.Now().Year()}
	if filter.YearRange == nil || *filter.YearRange != want {
		t.Errorf("filter.YearRange = %v, want default %v", filter.YearRange, want)
	}
}

func TestRun_SpecProvidersWinOverTaste(t *testing.T) {
	pipe := &fakePipeline{}
	r := newTestRunner(t, &fakeEncoder{}, pipe)

	tasteCtx := &taste.Context{
		SubscribedProviderIDs: []int64{337},
		ProviderFilterMode:    taste.FilterModeSubscribedOnly,
	}
	spec := media.QuerySpec{QueryText: "q", MediaType: media.MediaTypeMovie, Providers: []string{"Netflix"}}

	if _, err := r.Run(context.Background(), tasteCtx, spec, nil, "new"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ids := pipe.lastReq.Filter.ProviderIDs; len(ids) != 1 || ids[0] != 8 {
		t.Errorf("filter.ProviderIDs = %v, want the spec's [8]", ids)
	}
}

func TestRun_RetrievalTextWidensQuery(t *testing.T) {
	enc := &fakeEncoder{}
	r := newTestRunner(t, enc, &fakePipeline{})

	spec := media.QuerySpec{
		QueryText:      "mind-bending sci-fi",
		MediaType:      media.MediaTypeMovie,
		SubGenres:      []string{"cyberpunk"},
		CoreTone:       []string{"cerebral", "bleak"},
		KeyThemes:      []string{"identity"},
		NarrativeShape: "nonlinear",
	}

	if _, err := r.Run(context.Background(), nil, spec, nil, "new"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, want := range []string{"mind-bending sci-fi", "cyberpunk", "cerebral, bleak", "identity", "nonlinear"} {
		if !strings.Contains(enc.lastText, want) {
			t.Errorf("retrieval text %q missing %q", enc.lastText, want)
		}
	}
}

func TestRun_GenreWeightOverride(t *testing.T) {
	pipe := &fakePipeline{}
	r := newTestRunner(t, &fakeEncoder{}, pipe)
	spec := media.QuerySpec{QueryText: "q", MediaType: media.MediaTypeMovie}

	tasteCtx := &taste.Context{LikedGenres: []string{"Horror"}}
	if _, err := r.Run(context.Background(), tasteCtx, spec, nil, "new"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := pipe.lastReq.Weights.Genre; got != genreAffinityWeight {
		t.Errorf("Weights.Genre with liked genres = %v, want %v", got, genreAffinityWeight)
	}
	if got := pipe.lastReq.UserGenres; len(got) != 1 || got[0] != "Horror" {
		t.Errorf("UserGenres = %v, want [Horror]", got)
	}

	if _, err := r.Run(context.Background(), nil, spec, nil, "new"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := pipe.lastReq.Weights.Genre; got != 0 {
		t.Errorf("Weights.Genre without profile = %v, want 0", got)
	}
}

func TestRun_ConfiguredGenreWeightNotOverridden(t *testing.T) {
	pipe := &fakePipeline{}
	var discovery config.DiscoveryConfig
	discovery.SetDefaults()
	configured := 0.25
	discovery.Ranking.GenreWeight = &configured
	r, err := New(Config{Encoder: &fakeEncoder{}, Pipeline: pipe, Discovery: discovery})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tasteCtx := &taste.Context{LikedGenres: []string{"Horror"}}
	spec := media.QuerySpec{QueryText: "q", MediaType: media.MediaTypeMovie}
	if _, err := r.Run(context.Background(), tasteCtx, spec, nil, "new"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := pipe.lastReq.Weights.Genre; got != configured {
		t.Errorf("Weights.Genre = %v, want the configured %v", got, configured)
	}
}

func TestRun_NoveltyPenaltyDemotesSeen(t *testing.T) {
	// Equal pre-penalty scores: the unseen candidate must rank strictly
	// higher once the seen one is demoted.
	pipe := &fakePipeline{items: []ranking.Item{rankedItem(1, 1.0), rankedItem(2, 1.0)}}
	r := newTestRunner(t, &fakeEncoder{}, pipe)
	spec := media.QuerySpec{QueryText: "q", MediaType: media.MediaTypeMovie}

	result, err := r.Run(context.Background(), nil, spec, []int64{1}, "refine")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := result.Items[0].Candidate.MediaID; got != 2 {
		t.Errorf("top item = %d, want the unseen candidate 2", got)
	}
	if got := result.Items[1].Trace.FinalScore; got != 0.9 {
		t.Errorf("seen candidate score = %v, want 0.9", got)
	}
	if result.Items[0].Trace.FinalScore <= result.Items[1].Trace.FinalScore {
		t.Error("unseen candidate must score strictly higher than the seen one")
	}
}

func TestRun_NoveltyPenaltyOnlyOnRefine(t *testing.T) {
	pipe := &fakePipeline{items: []ranking.Item{rankedItem(1, 1.0), rankedItem(2, 0.8)}}
	r := newTestRunner(t, &fakeEncoder{}, pipe)
	spec := media.QuerySpec{QueryText: "q", MediaType: media.MediaTypeMovie}

	result, err := r.Run(context.Background(), nil, spec, []int64{1}, "new")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Items[0].Candidate.MediaID != 1 || result.Items[0].Trace.FinalScore != 1.0 {
		t.Errorf("new turn reordered or rescored items: %+v", result.Items[0])
	}
}

func TestRun_EncodeError(t *testing.T) {
	r := newTestRunner(t, &fakeEncoder{err: errors.New("embedder down")}, &fakePipeline{})
	spec := media.QuerySpec{QueryText: "q", MediaType: media.MediaTypeMovie}

	_, err := r.Run(context.Background(), nil, spec, nil, "new")
	if err == nil || !strings.Contains(err.Error(), "query encode failed") {
		t.Errorf("Run() error = %v, want encode failure", err)
	}
}

func TestRun_PipelineErrorPropagates(t *testing.T) {
	wantErr := errors.New("dense retrieval failed")
	r := newTestRunner(t, &fakeEncoder{}, &fakePipeline{err: wantErr})
	spec := media.QuerySpec{QueryText: "q", MediaType: media.MediaTypeMovie}

	if _, err := r.Run(context.Background(), nil, spec, nil, "new"); !errors.Is(err, wantErr) {
		t.Errorf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestRun_ContextLog(t *testing.T) {
	pipe := &fakePipeline{}
	r := newTestRunner(t, &fakeEncoder{}, pipe)

	tasteCtx := &taste.Context{
		LikedGenres:           []string{"Drama"},
		LikedKeywords:         []string{"heist"},
		SubscribedProviderIDs: []int64{8},
		ProviderFilterMode:    taste.FilterModeSubscribedOnly,
		RecentInteractions:    []taste.Interaction{{MediaID: 42, Kind: taste.InteractionDismiss}},
	}
	spec := media.QuerySpec{QueryText: "q", MediaType: media.MediaTypeMovie}

	result, err := r.Run(context.Background(), tasteCtx, spec, nil, "new")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	log := result.Log
	if log.FilterMode != taste.FilterModeSubscribedOnly {
		t.Errorf("Log.FilterMode = %q, want subscribed_only", log.FilterMode)
	}
	if len(log.UserGenres) != 1 || log.UserGenres[0] != "Drama" {
		t.Errorf("Log.UserGenres = %v, want [Drama]", log.UserGenres)
	}
	if len(log.UserKeywords) != 1 || log.UserKeywords[0] != "heist" {
		t.Errorf("Log.UserKeywords = %v, want [heist]", log.UserKeywords)
	}
	if len(log.ActiveProviders) != 1 || log.ActiveProviders[0] != 8 {
		t.Errorf("Log.ActiveProviders = %v, want [8]", log.ActiveProviders)
	}
	if got := pipe.lastReq.Filter.ExcludeMediaIDs; len(got) != 1 || got[0] != 42 {
		t.Errorf("filter.ExcludeMediaIDs = %v, want the dismissed [42]", got)
	}
}

func TestRun_NilTasteContext(t *testing.T) {
	pipe := &fakePipeline{}
	r := newTestRunner(t, &fakeEncoder{}, pipe)
	spec := media.QuerySpec{QueryText: "q", MediaType: media.MediaTypeMovie}

	result, err := r.Run(context.Background(), nil, spec, nil, "new")
	if err != nil {
		t.Fatalf("Run() with nil taste context error = %v", err)
	}
	if result.Log.FilterMode != taste.FilterModeAll {
		t.Errorf("Log.FilterMode = %q, want all", result.Log.FilterMode)
	}
	if pipe.lastReq.Filter.ProviderIDs != nil {
		t.Errorf("filter.ProviderIDs = %v, want none", pipe.lastReq.Filter.ProviderIDs)
	}
}
