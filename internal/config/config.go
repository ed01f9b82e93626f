package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/lead-pipeline/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Scorer     ScorerConfig     `yaml:"scorer" mapstructure:"scorer"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures job update publishing and the enrichment cache.
type RedisConfig struct {
	Addr          string `yaml:"addr" mapstructure:"addr"`
	Password      string `yaml:"password" mapstructure:"password"`
	DB            int    `yaml:"db" mapstructure:"db"`
	ChannelPrefix string `yaml:"channel_prefix" mapstructure:"channel_prefix"`
	CacheTTLHours int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RetryConfig configures provider rate-limit retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// PipelineConfig configures job execution.
type PipelineConfig struct {
	MaxConcurrentEnrichments int         `yaml:"max_concurrent_enrichments" mapstructure:"max_concurrent_enrichments"`
	PerCallTimeoutSecs       int         `yaml:"per_call_timeout_secs" mapstructure:"per_call_timeout_secs"`
	CandidateTimeoutSecs     int         `yaml:"candidate_timeout_secs" mapstructure:"candidate_timeout_secs"`
	HighConfidence           int         `yaml:"high_confidence" mapstructure:"high_confidence"`
	MaxEmailsPerBusiness     int         `yaml:"max_emails_per_business" mapstructure:"max_emails_per_business"`
	MaxPatternEmails         int         `yaml:"max_pattern_emails" mapstructure:"max_pattern_emails"`
	PatternConfidence        int         `yaml:"pattern_confidence" mapstructure:"pattern_confidence"`
	DiscoveryCapFactor       float64     `yaml:"discovery_cap_factor" mapstructure:"discovery_cap_factor"`
	DetailLookups            bool        `yaml:"detail_lookups" mapstructure:"detail_lookups"`
	ReuseCachedLeads         bool        `yaml:"reuse_cached_leads" mapstructure:"reuse_cached_leads"`
	ExpansionPasses          bool        `yaml:"expansion_passes" mapstructure:"expansion_passes"`
	WaterfallConfig          string      `yaml:"waterfall_config" mapstructure:"waterfall_config"`
	Dispatcher               string      `yaml:"dispatcher" mapstructure:"dispatcher"`
	Retry                    RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// ScorerConfig configures lead quality scoring.
type ScorerConfig struct {
	NameWeight    float64 `yaml:"name_weight" mapstructure:"name_weight"`
	AddressWeight float64 `yaml:"address_weight" mapstructure:"address_weight"`
	PhoneWeight   float64 `yaml:"phone_weight" mapstructure:"phone_weight"`
	WebsiteWeight float64 `yaml:"website_weight" mapstructure:"website_weight"`
	RatingWeight  float64 `yaml:"rating_weight" mapstructure:"rating_weight"`

	RatingCap            float64 `yaml:"rating_cap" mapstructure:"rating_cap"`
	RatingPerStar        float64 `yaml:"rating_per_star" mapstructure:"rating_per_star"`
	DetailBonus          float64 `yaml:"detail_bonus" mapstructure:"detail_bonus"`
	FoursquareBonus      float64 `yaml:"foursquare_bonus" mapstructure:"foursquare_bonus"`
	RatingCountBonus     float64 `yaml:"rating_count_bonus" mapstructure:"rating_count_bonus"`
	RatingCountThreshold int     `yaml:"rating_count_threshold" mapstructure:"rating_count_threshold"`
	MultiSourceBonus     float64 `yaml:"multi_source_bonus" mapstructure:"multi_source_bonus"`

	OverFetchFactor float64 `yaml:"over_fetch_factor" mapstructure:"over_fetch_factor"`
}

// ProviderConfig holds credentials and resilience settings for one vendor.
type ProviderConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int    `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	MinDelayMs       int    `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
}

// Enabled reports whether the provider has credentials.
func (p ProviderConfig) Enabled() bool {
	return p.Key != ""
}

// ProvidersConfig lists every external vendor.
type ProvidersConfig struct {
	Google      ProviderConfig `yaml:"google" mapstructure:"google"`
	Foursquare  ProviderConfig `yaml:"foursquare" mapstructure:"foursquare"`
	Hunter      ProviderConfig `yaml:"hunter" mapstructure:"hunter"`
	NeverBounce ProviderConfig `yaml:"neverbounce" mapstructure:"neverbounce"`
	Apollo      ProviderConfig `yaml:"apollo" mapstructure:"apollo"`
	PDL         ProviderConfig `yaml:"pdl" mapstructure:"pdl"`
	Census      ProviderConfig `yaml:"census" mapstructure:"census"`
}

// TemporalConfig configures the optional Temporal dispatcher.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// MonitoringConfig configures job health alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostPerJobThreshold  float64 `yaml:"cost_per_job_threshold" mapstructure:"cost_per_job_threshold"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	CheckIntervalMins    int     `yaml:"check_interval_mins" mapstructure:"check_interval_mins"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "leads.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "discovery_jobs")
	v.SetDefault("redis.cache_ttl_hours", 72)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("pipeline.max_concurrent_enrichments", 3)
	v.SetDefault("pipeline.per_call_timeout_secs", 20)
	v.SetDefault("pipeline.candidate_timeout_secs", 90)
	v.SetDefault("pipeline.high_confidence", 80)
	v.SetDefault("pipeline.max_emails_per_business", 5)
	v.SetDefault("pipeline.max_pattern_emails", 10)
	v.SetDefault("pipeline.pattern_confidence", 60)
	v.SetDefault("pipeline.discovery_cap_factor", 1.2)
	v.SetDefault("pipeline.detail_lookups", true)
	v.SetDefault("pipeline.reuse_cached_leads", true)
	v.SetDefault("pipeline.expansion_passes", true)
	v.SetDefault("pipeline.waterfall_config", "")
	v.SetDefault("pipeline.dispatcher", "goroutine")
	v.SetDefault("pipeline.retry.max_attempts", 3)
	v.SetDefault("pipeline.retry.initial_backoff_ms", 500)
	v.SetDefault("pipeline.retry.max_backoff_ms", 10000)
	v.SetDefault("pipeline.retry.multiplier", 2.0)
	v.SetDefault("pipeline.retry.jitter_fraction", 0.25)

	v.SetDefault("scorer.name_weight", 1.0)
	v.SetDefault("scorer.address_weight", 1.0)
	v.SetDefault("scorer.phone_weight", 1.0)
	v.SetDefault("scorer.website_weight", 1.0)
	v.SetDefault("scorer.rating_weight", 1.0)
	v.SetDefault("scorer.rating_cap", 100.0)
	v.SetDefault("scorer.rating_per_star", 20.0)
	v.SetDefault("scorer.detail_bonus", 4.0)
	v.SetDefault("scorer.foursquare_bonus", 6.0)
	v.SetDefault("scorer.rating_count_bonus", 5.0)
	v.SetDefault("scorer.rating_count_threshold", 25)
	v.SetDefault("scorer.multi_source_bonus", 5.0)
	v.SetDefault("scorer.over_fetch_factor", 2.0)

	providers := map[string]struct {
		baseURL   string
		threshold int
		cooldown  int
		delayMs   int
	}{
		"google":      {"https://maps.googleapis.com/maps/api/place", 5, 300, 100},
		"foursquare":  {"https://api.foursquare.com/v3", 5, 300, 100},
		"hunter":      {"https://api.hunter.io/v2", 3, 180, 1000},
		"neverbounce": {"https://api.neverbounce.com/v4", 3, 180, 250},
		"apollo":      {"https://api.apollo.io/api/v1", 3, 180, 1000},
		"pdl":         {"https://api.peopledatalabs.com/v5", 3, 180, 500},
		"census":      {"https://api.census.gov/data", 5, 600, 0},
	}
	for name, p := range providers {
		v.SetDefault("providers."+name+".key", "")
		v.SetDefault("providers."+name+".base_url", p.baseURL)
		v.SetDefault("providers."+name+".failure_threshold", p.threshold)
		v.SetDefault("providers."+name+".cooldown_secs", p.cooldown)
		v.SetDefault("providers."+name+".min_delay_ms", p.delayMs)
	}

	rates := cost.DefaultRates()
	v.SetDefault("pricing.google.text_search", rates.Google.TextSearch)
	v.SetDefault("pricing.google.details", rates.Google.Details)
	v.SetDefault("pricing.foursquare.search", rates.Foursquare.Search)
	v.SetDefault("pricing.hunter.domain_search", rates.Hunter.DomainSearch)
	v.SetDefault("pricing.hunter.email_finder", rates.Hunter.EmailFinder)
	v.SetDefault("pricing.hunter.verifier", rates.Hunter.Verifier)
	v.SetDefault("pricing.hunter.page_size", rates.Hunter.PageSize)
	v.SetDefault("pricing.neverbounce.verify", rates.NeverBounce.Verify)
	v.SetDefault("pricing.apollo.people_search", rates.Apollo.PeopleSearch)
	v.SetDefault("pricing.apollo.per_reveal", rates.Apollo.PerReveal)
	v.SetDefault("pricing.pdl.person", rates.PDL.Person)

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "lead-discovery")

	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.cost_per_job_threshold", 25.0)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.check_interval_mins", 15)
}

// Validate checks the settings required by mode ("run", "serve", "worker",
// "monitor").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "serve", "worker":
		errs = append(errs, c.validatePipeline()...)
		if c.Providers.Google.Key == "" && c.Providers.Foursquare.Key == "" {
			errs = append(errs, "providers.google.key or providers.foursquare.key is required")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if mode == "worker" && c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
	case "monitor":
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validatePipeline() []string {
	var errs []string
	p := c.Pipeline
	if p.MaxConcurrentEnrichments < 1 || p.MaxConcurrentEnrichments > 20 {
		errs = append(errs, "pipeline.max_concurrent_enrichments must be between 1 and 20")
	}
	if p.HighConfidence < 0 || p.HighConfidence > 100 {
		errs = append(errs, "pipeline.high_confidence must be between 0 and 100")
	}
	if p.PerCallTimeoutSecs <= 0 {
		errs = append(errs, "pipeline.per_call_timeout_secs must be > 0")
	}
	if p.DiscoveryCapFactor < 1 {
		errs = append(errs, "pipeline.discovery_cap_factor must be >= 1")
	}
	s := c.Scorer
	if s.NameWeight < 0 || s.AddressWeight < 0 || s.PhoneWeight < 0 || s.WebsiteWeight < 0 || s.RatingWeight < 0 {
		errs = append(errs, "scorer weights must be >= 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
