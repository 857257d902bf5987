// Package search implements an orthogonal, YAML-configured keyset-paginated
// query executor over the stored_records table — present in the same repo
// as the batch engine but never invoked by it, mirroring the spec's own
// callout of a search subsystem that lives alongside, not inside, the core
// pipeline. Grounded on the teacher's privacy-aware search engine in
// pkg/core/search/execution/{engine,stats,filter}.go: an Engine wrapping an
// index/query pair with its own stats tracker, generalized here from a
// document index to a SQL table and from offset pagination to keyset
// pagination (stable under concurrent inserts, unlike OFFSET/LIMIT).
package search

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DatasetConfig describes one searchable dataset: the table and columns a
// Query may filter and sort by. Loaded from YAML so datasets can be added
// without a code change.
type DatasetConfig struct {
	Name          string   `yaml:"name"`
	Table         string   `yaml:"table"`
	FilterColumns []string `yaml:"filter_columns"`
	SortColumn    string   `yaml:"sort_column"`
	PageSize      int      `yaml:"page_size"`
}

// Config is the top-level YAML document: a named set of datasets.
type Config struct {
	Datasets map[string]DatasetConfig `yaml:"datasets"`
}

// LoadConfig reads and parses a dataset configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("search: reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("search: parsing config %s: %w", path, err)
	}
	for name, ds := range cfg.Datasets {
		if ds.PageSize <= 0 {
			ds.PageSize = 50
			cfg.Datasets[name] = ds
		}
	}
	return cfg, nil
}

// Dataset looks up one named dataset, returning an error if it is not
// configured.
func (c Config) Dataset(name string) (DatasetConfig, error) {
	ds, ok := c.Datasets[name]
	if !ok {
		return DatasetConfig{}, fmt.Errorf("search: unknown dataset %q", name)
	}
	return ds, nil
}
