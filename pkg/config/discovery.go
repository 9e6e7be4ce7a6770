package config

import "fmt"

// DiscoveryConfig tunes the recommendation flow end to end: which LLM serves
// each role, the ranking weights, pool sizes, and streaming cadence.
type DiscoveryConfig struct {
	// LLM role bindings. Each names a key in Config.LLMs; empty falls back
	// to the "default" entry.
	OrchestratorLLM string `yaml:"orchestrator_llm,omitempty" mapstructure:"orchestrator_llm"`
	CuratorLLM      string `yaml:"curator_llm,omitempty" mapstructure:"curator_llm"`
	WhyLLM          string `yaml:"why_llm,omitempty" mapstructure:"why_llm"`
	ReflectionLLM   string `yaml:"reflection_llm,omitempty" mapstructure:"reflection_llm"`

	Ranking RankingConfig `yaml:"ranking,omitempty" mapstructure:"ranking"`

	// MetaTopN is how many fused candidates enter metadata scoring;
	// FinalTopK is how many leave it; NumRecs is how many the curator may
	// keep at most.
	MetaTopN  int `yaml:"meta_top_n,omitempty" mapstructure:"meta_top_n"`
	FinalTopK int `yaml:"final_top_k,omitempty" mapstructure:"final_top_k"`
	NumRecs   int `yaml:"num_recs,omitempty" mapstructure:"num_recs"`

	// YearFloor and YearCap bound acceptable release-year constraints.
	YearFloor int `yaml:"year_floor,omitempty" mapstructure:"year_floor"`
	YearCap   int `yaml:"year_cap,omitempty" mapstructure:"year_cap"`

	// HeartbeatInterval keeps the recommendation stream alive while the
	// pipeline works; WhyHeartbeatInterval does the same for explanation
	// streams. Seconds.
	HeartbeatInterval    int `yaml:"heartbeat_interval,omitempty" mapstructure:"heartbeat_interval"`
	WhyHeartbeatInterval int `yaml:"why_heartbeat_interval,omitempty" mapstructure:"why_heartbeat_interval"`

	// ReflectionTimeout bounds the post-turn summary refresh, seconds.
	ReflectionTimeout int `yaml:"reflection_timeout,omitempty" mapstructure:"reflection_timeout"`

	FinalFusion FinalFusionConfig `yaml:"final_fusion,omitempty" mapstructure:"final_fusion"`
}

// RankingConfig holds the fusion constant and metadata scoring weights.
// Weights need not sum to one; they are applied as-is.
type RankingConfig struct {
	RRFK int `yaml:"rrf_k,omitempty" mapstructure:"rrf_k"`

	DenseWeight      *float64 `yaml:"dense_weight,omitempty" mapstructure:"dense_weight"`
	SparseWeight     *float64 `yaml:"sparse_weight,omitempty" mapstructure:"sparse_weight"`
	RatingWeight     *float64 `yaml:"rating_weight,omitempty" mapstructure:"rating_weight"`
	PopularityWeight *float64 `yaml:"popularity_weight,omitempty" mapstructure:"popularity_weight"`
	GenreWeight      *float64 `yaml:"genre_weight,omitempty" mapstructure:"genre_weight"`
	RecencyWeight    *float64 `yaml:"recency_weight,omitempty" mapstructure:"recency_weight"`
}

// FinalFusionConfig gates the optional cross-encoder blending stage. Off by
// default; when off, the metadata score is the final score.
type FinalFusionConfig struct {
	Enabled bool `yaml:"enabled,omitempty" mapstructure:"enabled"`

	MetadataWeight *float64 `yaml:"metadata_weight,omitempty" mapstructure:"metadata_weight"`
	CrossWeight    *float64 `yaml:"cross_weight,omitempty" mapstructure:"cross_weight"`
}

func f64(v float64) *float64 { return &v }

func (c *DiscoveryConfig) SetDefaults() {
	if c.Ranking.RRFK == 0 {
		c.Ranking.RRFK = 60
	}
	if c.Ranking.DenseWeight == nil {
		c.Ranking.DenseWeight = f64(0.60)
	}
	if c.Ranking.SparseWeight == nil {
		c.Ranking.SparseWeight = f64(0.10)
	}
	if c.Ranking.RatingWeight == nil {
		c.Ranking.RatingWeight = f64(0.18)
	}
	if c.Ranking.PopularityWeight == nil {
		c.Ranking.PopularityWeight = f64(0.12)
	}
	if c.Ranking.GenreWeight == nil {
		c.Ranking.GenreWeight = f64(0.00)
	}
	if c.Ranking.RecencyWeight == nil {
		c.Ranking.RecencyWeight = f64(0.00)
	}
	if c.MetaTopN == 0 {
		c.MetaTopN = 100
	}
	if c.FinalTopK == 0 {
		c.FinalTopK = 12
	}
	if c.NumRecs == 0 {
		c.NumRecs = 8
	}
	if c.YearFloor == 0 {
		c.YearFloor = 1970
	}
	if c.YearCap == 0 {
		c.YearCap = 2100
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 10
	}
	if c.WhyHeartbeatInterval == 0 {
		c.WhyHeartbeatInterval = 15
	}
	if c.ReflectionTimeout == 0 {
		c.ReflectionTimeout = 10
	}
	if c.FinalFusion.MetadataWeight == nil {
		c.FinalFusion.MetadataWeight = f64(0.8)
	}
	if c.FinalFusion.CrossWeight == nil {
		c.FinalFusion.CrossWeight = f64(0.2)
	}
}

func (c *DiscoveryConfig) Validate() error {
	if c.Ranking.RRFK <= 0 {
		return fmt.Errorf("rrf_k must be positive")
	}
	for name, w := range map[string]*float64{
		"dense_weight":      c.Ranking.DenseWeight,
		"sparse_weight":     c.Ranking.SparseWeight,
		"rating_weight":     c.Ranking.RatingWeight,
		"popularity_weight": c.Ranking.PopularityWeight,
		"genre_weight":      c.Ranking.GenreWeight,
		"recency_weight":    c.Ranking.RecencyWeight,
	} {
		if w != nil && *w < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.MetaTopN <= 0 || c.FinalTopK <= 0 || c.NumRecs <= 0 {
		return fmt.Errorf("pool sizes must be positive")
	}
	if c.FinalTopK > c.MetaTopN {
		return fmt.Errorf("final_top_k must not exceed meta_top_n")
	}
	if c.NumRecs > c.FinalTopK {
		return fmt.Errorf("num_recs must not exceed final_top_k")
	}
	if c.YearFloor >= c.YearCap {
		return fmt.Errorf("year_floor must be below year_cap")
	}
	return nil
}
