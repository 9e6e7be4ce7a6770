package config

import "fmt"

// SearchConfig describes the vector store and the hybrid retrieval limits.
type SearchConfig struct {
	Type   string `yaml:"type,omitempty" mapstructure:"type"`
	Host   string `yaml:"host,omitempty" mapstructure:"host"`
	Port   int    `yaml:"port,omitempty" mapstructure:"port"`
	APIKey string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	UseTLS bool   `yaml:"use_tls,omitempty" mapstructure:"use_tls"`

	// Timeout bounds a single search call, seconds.
	Timeout int `yaml:"timeout,omitempty" mapstructure:"timeout"`

	// MovieCollection and TVCollection name the two media collections.
	MovieCollection string `yaml:"movie_collection,omitempty" mapstructure:"movie_collection"`
	TVCollection    string `yaml:"tv_collection,omitempty" mapstructure:"tv_collection"`

	// DenseLimit and SparseLimit cap per-arm retrieval depth.
	DenseLimit  int `yaml:"dense_limit,omitempty" mapstructure:"dense_limit"`
	SparseLimit int `yaml:"sparse_limit,omitempty" mapstructure:"sparse_limit"`

	// BM25StatsPath points at the corpus statistics artifact produced by the
	// offline indexer (IDF table, avgdl, p95 weight norms).
	BM25StatsPath string `yaml:"bm25_stats_path" mapstructure:"bm25_stats_path"`
}

func (c *SearchConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "qdrant"
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Timeout == 0 {
		c.Timeout = 10
	}
	if c.MovieCollection == "" {
		c.MovieCollection = "movies"
	}
	if c.TVCollection == "" {
		c.TVCollection = "tv"
	}
	if c.DenseLimit == 0 {
		c.DenseLimit = 100
	}
	if c.SparseLimit == 0 {
		c.SparseLimit = 100
	}
}

func (c *SearchConfig) Validate() error {
	if c.Type != "qdrant" {
		return fmt.Errorf("unsupported search type: %s", c.Type)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid search port %d", c.Port)
	}
	if c.DenseLimit <= 0 || c.SparseLimit <= 0 {
		return fmt.Errorf("search limits must be positive")
	}
	if c.BM25StatsPath == "" {
		return fmt.Errorf("bm25_stats_path is required")
	}
	return nil
}
