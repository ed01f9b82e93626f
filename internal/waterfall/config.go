package waterfall

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// Config is the optional waterfall override file.
type Config struct {
	Defaults DefaultConfig          `yaml:"defaults"`
	Chains   map[string]ChainConfig `yaml:"chains"`
}

// DefaultConfig holds values shared by every chain.
type DefaultConfig struct {
	HighConfidence  int `yaml:"high_confidence"`
	CallTimeoutSecs int `yaml:"call_timeout_secs"`
}

// ChainConfig overrides one chain ("directory", "email", "verify").
type ChainConfig struct {
	HighConfidence  int            `yaml:"high_confidence"`
	Cap             int            `yaml:"cap"`
	CallTimeoutSecs int            `yaml:"call_timeout_secs"`
	Sources         []SourceConfig `yaml:"sources"`
}

// SourceConfig overrides one provider.
type SourceConfig struct {
	Name             string `yaml:"name"`
	Disabled         bool   `yaml:"disabled"`
	FailureThreshold int    `yaml:"failure_threshold"`
	CooldownSecs     int    `yaml:"cooldown_secs"`
	MinDelayMs       int    `yaml:"min_delay_ms"`
}

// LoadConfig reads waterfall config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "waterfall: read config %s", path)
	}

	// The YAML has a top-level "waterfall" key
	var wrapper struct {
		Waterfall Config `yaml:"waterfall"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "waterfall: parse config")
	}

	cfg := &wrapper.Waterfall
	if cfg.Defaults.HighConfidence < 0 || cfg.Defaults.HighConfidence > 100 {
		return nil, eris.Errorf("waterfall: defaults.high_confidence must be between 0 and 100, got %d", cfg.Defaults.HighConfidence)
	}
	for name, cc := range cfg.Chains {
		if cc.HighConfidence < 0 || cc.HighConfidence > 100 {
			return nil, eris.Errorf("waterfall: chains.%s.high_confidence must be between 0 and 100, got %d", name, cc.HighConfidence)
		}
		if cc.HighConfidence == 0 {
			cc.HighConfidence = cfg.Defaults.HighConfidence
		}
		if cc.CallTimeoutSecs == 0 {
			cc.CallTimeoutSecs = cfg.Defaults.CallTimeoutSecs
		}
		cfg.Chains[name] = cc
	}
	return cfg, nil
}

// GetChain returns the config for a chain, falling back to defaults. A nil
// Config yields an empty chain.
func (c *Config) GetChain(name string) ChainConfig {
	if c == nil {
		return ChainConfig{}
	}
	if cc, ok := c.Chains[name]; ok {
		return cc
	}
	return ChainConfig{
		HighConfidence:  c.Defaults.HighConfidence,
		CallTimeoutSecs: c.Defaults.CallTimeoutSecs,
	}
}

// Apply overlays chain overrides on base.
func (cc ChainConfig) Apply(base Options) Options {
	if cc.HighConfidence > 0 {
		base.HighConfidence = cc.HighConfidence
	}
	if cc.Cap > 0 {
		base.Cap = cc.Cap
	}
	if cc.CallTimeoutSecs > 0 {
		base.CallTimeout = time.Duration(cc.CallTimeoutSecs) * time.Second
	}
	return base
}

// Disabled reports whether a source is switched off in this chain.
func (cc ChainConfig) Disabled(source string) bool {
	for _, s := range cc.Sources {
		if s.Name == source {
			return s.Disabled
		}
	}
	return false
}

// Filter drops the sources disabled in cc.
func Filter[Q, T any](cc ChainConfig, sources ...Source[Q, T]) []Source[Q, T] {
	out := make([]Source[Q, T], 0, len(sources))
	for _, s := range sources {
		if s == nil || cc.Disabled(s.Name()) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// BreakerOverrides returns registry options for every source with its own
// breaker settings. base supplies the values left unset.
func (c *Config) BreakerOverrides(base func(provider string) resilience.BreakerConfig) []resilience.RegistryOption {
	if c == nil {
		return nil
	}
	var opts []resilience.RegistryOption
	for _, cc := range c.Chains {
		for _, s := range cc.Sources {
			if s.FailureThreshold == 0 && s.CooldownSecs == 0 {
				continue
			}
			bc := resilience.FromBreakerConfig(base(s.Name), s.FailureThreshold, s.CooldownSecs)
			opts = append(opts, resilience.WithProviderConfig(s.Name, bc))
		}
	}
	return opts
}

// Delays returns the per-source minimum delays set in the file.
func (c *Config) Delays() map[string]time.Duration {
	out := make(map[string]time.Duration)
	if c == nil {
		return out
	}
	for _, cc := range c.Chains {
		for _, s := range cc.Sources {
			if s.MinDelayMs > 0 {
				out[s.Name] = time.Duration(s.MinDelayMs) * time.Millisecond
			}
		}
	}
	return out
}
