package transgeo

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/mattn/go-shellwords"
	"sigs.k8s.io/yaml"
)

// SplitStrategy selects how ground images are divided into train and test.
type SplitStrategy string

const (
	// StrategyRandom samples images independently.
	StrategyRandom SplitStrategy = "random"
	// StrategyEpisode samples whole capture episodes so that images of one
	// episode never end up on both sides.
	StrategyEpisode SplitStrategy = "episode"
)

func (s *SplitStrategy) String() string { return string(*s) }
func (s *SplitStrategy) Type() string   { return "strategy" }
func (s *SplitStrategy) Set(v string) error {
	switch SplitStrategy(v) {
	case StrategyRandom, StrategyEpisode:
		*s = SplitStrategy(v)
		return nil
	}
	return fmt.Errorf("unknown split strategy %q (random|episode)", v)
}

// SemiPositivePolicy decides what happens to ground images with fewer than
// MinSemiPositives semi-positive tiles.
type SemiPositivePolicy string

const (
	// PolicyPrune removes them from the manifest during curation.
	PolicyPrune SemiPositivePolicy = "prune"
	// PolicyFilter keeps them in the manifest but emits no record for them.
	PolicyFilter SemiPositivePolicy = "filter"
	// PolicyKeep emits records with the semi-positives available.
	PolicyKeep SemiPositivePolicy = "keep"
)

func (p *SemiPositivePolicy) String() string { return string(*p) }
func (p *SemiPositivePolicy) Type() string   { return "policy" }
func (p *SemiPositivePolicy) Set(v string) error {
	switch SemiPositivePolicy(v) {
	case PolicyPrune, PolicyFilter, PolicyKeep:
		*p = SemiPositivePolicy(v)
		return nil
	}
	return fmt.Errorf("unknown semi-positive policy %q (prune|filter|keep)", v)
}

// MinSemiPositives is the number of semi-positive tiles carried by a record.
const MinSemiPositives = 3

// Config holds the dataset preparation parameters. It can be loaded from a
// YAML or JSON file and overridden from the command line.
type Config struct {
	PanoramaAspectRatio       float64            `json:"panorama-aspect-ratio"`
	MaxPositivePanoramas      int                `json:"max-positive-panoramas"`
	DistractionKeepProportion float64            `json:"distraction-keep-proportion"`
	TrainProportion           float64            `json:"train-proportion"`
	SplitStrategy             SplitStrategy      `json:"split-strategy"`
	SemiPositivePolicy        SemiPositivePolicy `json:"semi-positive-policy"`
	Seed                      int64              `json:"seed"`
	ArchivePrefix             string             `json:"archive-prefix"`
	Area                      string             `json:"area"`
	Output                    string             `json:"output"`
	Parallelism               int                `json:"parallelism"`
	SpatialIndex              bool               `json:"spatial-index"`
	GDALConfig                string             `json:"gdal-config"`
}

func DefaultConfig() Config {
	return Config{
		PanoramaAspectRatio:       2.0,
		MaxPositivePanoramas:      2,
		DistractionKeepProportion: 1.0,
		TrainProportion:           0.5,
		SplitStrategy:             StrategyEpisode,
		SemiPositivePolicy:        PolicyPrune,
		Seed:                      1,
		ArchivePrefix:             "mars-transgeo",
		Area:                      "Mars",
		Output:                    "./mars-transgeo.zip",
		Parallelism:               4,
	}
}

// LoadConfig reads a YAML or JSON configuration file. Fields absent from the
// file keep their default value.
func LoadConfig(filename string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", filename, err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", filename, err)
	}
	return cfg, nil
}

func proportion(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return &ConfigError{Field: field, msg: fmt.Sprintf("%g is not in [0,1]", v)}
	}
	return nil
}

// Validate returns a *ConfigError for the first unusable value.
func (c Config) Validate() error {
	if !(c.PanoramaAspectRatio > 0) {
		return &ConfigError{Field: "panorama-aspect-ratio", msg: "must be > 0"}
	}
	if c.MaxPositivePanoramas < 0 {
		return &ConfigError{Field: "max-positive-panoramas", msg: "must be >= 0"}
	}
	if err := proportion("distraction-keep-proportion", c.DistractionKeepProportion); err != nil {
		return err
	}
	if err := proportion("train-proportion", c.TrainProportion); err != nil {
		return err
	}
	if err := (&c.SplitStrategy).Set(string(c.SplitStrategy)); err != nil {
		return &ConfigError{Field: "split-strategy", msg: err.Error()}
	}
	if err := (&c.SemiPositivePolicy).Set(string(c.SemiPositivePolicy)); err != nil {
		return &ConfigError{Field: "semi-positive-policy", msg: err.Error()}
	}
	if c.ArchivePrefix == "" {
		return &ConfigError{Field: "archive-prefix", msg: "must not be empty"}
	}
	if c.Area == "" {
		return &ConfigError{Field: "area", msg: "must not be empty"}
	}
	if c.Output == "" {
		return &ConfigError{Field: "output", msg: "must not be empty"}
	}
	if c.Parallelism < 1 {
		return &ConfigError{Field: "parallelism", msg: "must be >= 1"}
	}
	if _, err := c.GDALOptions(); err != nil {
		return err
	}
	return nil
}

// GDALOptions splits GDALConfig into KEY=VALUE options, honouring shell
// quoting.
func (c Config) GDALOptions() ([]string, error) {
	if strings.TrimSpace(c.GDALConfig) == "" {
		return nil, nil
	}
	opts, err := shellwords.Parse(c.GDALConfig)
	if err != nil {
		return nil, &ConfigError{Field: "gdal-config", msg: err.Error()}
	}
	for _, o := range opts {
		if !strings.Contains(o, "=") {
			return nil, &ConfigError{Field: "gdal-config", msg: fmt.Sprintf("%q is not KEY=VALUE", o)}
		}
	}
	return opts, nil
}

// RequirePaths returns a *ConfigError naming the first empty or missing
// local input path. gs:// paths are not checked.
func RequirePaths(paths map[string]string) error {
	for _, name := range sortedKeys(paths) {
		p := paths[name]
		if p == "" {
			return &ConfigError{Field: name, msg: "missing path"}
		}
		if isRemote(p) {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return &ConfigError{Field: name, msg: err.Error()}
		}
	}
	return nil
}

func isRemote(p string) bool {
	return strings.HasPrefix(p, "gs://")
}
