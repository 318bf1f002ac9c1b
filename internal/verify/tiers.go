package verify

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Verification tier numbers, in ladder order.
const (
	TierLibrary         = 0
	TierGoogleBooks     = 1
	TierSemanticScholar = 2
	TierAncientTexts    = 3
	TierWebSearch       = 4
	TierUnverified      = 5
)

// Tier names as they appear in the tiers config file.
const (
	tierNameLibrary         = "library"
	tierNameGoogleBooks     = "google_books"
	tierNameSemanticScholar = "semantic_scholar"
	tierNameAncientTexts    = "ancient_texts"
	tierNameWebSearch       = "web_search"
)

// TiersConfig is the top-level verifier tier configuration.
type TiersConfig struct {
	Library LibrarySettings         `yaml:"library"`
	Tiers   map[string]TierSettings `yaml:"tiers"`
}

// LibrarySettings tunes the verified-source library lookup.
type LibrarySettings struct {
	Threshold  float64 `yaml:"threshold"`
	Candidates int     `yaml:"candidates"`
}

// TierSettings configures one external lookup tier.
type TierSettings struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultTiers returns the standard ladder with every tier enabled.
func DefaultTiers() *TiersConfig {
	return &TiersConfig{
		Library: LibrarySettings{
			Threshold:  0.85,
			Candidates: 3,
		},
		Tiers: map[string]TierSettings{},
	}
}

// Enabled reports whether a tier should run. Tiers absent from the config
// are enabled; only an explicit `enabled: false` entry disables one.
func (c *TiersConfig) Enabled(name string) bool {
	ts, ok := c.Tiers[name]
	if !ok {
		return true
	}
	return ts.Enabled
}

// LoadTiers reads tier configuration from a YAML file.
func LoadTiers(path string) (*TiersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "verify: read tiers config %s", path)
	}

	// The YAML has a top-level "verify" key
	var wrapper struct {
		Verify TiersConfig `yaml:"verify"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "verify: parse tiers config")
	}

	cfg := &wrapper.Verify
	defaults := DefaultTiers()
	if cfg.Library.Threshold == 0 {
		cfg.Library.Threshold = defaults.Library.Threshold
	}
	if cfg.Library.Candidates == 0 {
		cfg.Library.Candidates = defaults.Library.Candidates
	}
	if cfg.Tiers == nil {
		cfg.Tiers = map[string]TierSettings{}
	}

	return cfg, nil
}
