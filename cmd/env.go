package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/cache"
	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/density"
	"github.com/sells-group/lead-pipeline/internal/discovery"
	"github.com/sells-group/lead-pipeline/internal/enrich"
	"github.com/sells-group/lead-pipeline/internal/job"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/monitoring"
	"github.com/sells-group/lead-pipeline/internal/notify"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/scorer"
	"github.com/sells-group/lead-pipeline/internal/store"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
	"github.com/sells-group/lead-pipeline/pkg/apollo"
	"github.com/sells-group/lead-pipeline/pkg/census"
	"github.com/sells-group/lead-pipeline/pkg/foursquare"
	"github.com/sells-group/lead-pipeline/pkg/google"
	"github.com/sells-group/lead-pipeline/pkg/hunter"
	"github.com/sells-group/lead-pipeline/pkg/neverbounce"
	"github.com/sells-group/lead-pipeline/pkg/pdl"
)

// pipelineEnv holds everything a command needs to run discovery jobs.
type pipelineEnv struct {
	Store        store.Store
	Breakers     *resilience.Registry
	Orchestrator *job.Orchestrator
	Instruments  *monitoring.Instruments
	Meter        *sdkmetric.MeterProvider
	Reader       *sdkmetric.ManualReader

	redis redis.UniversalClient
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Meter != nil {
		_ = pe.Meter.Shutdown(context.Background())
	}
	if pe.redis != nil {
		_ = pe.redis.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// providerSources maps a configured vendor to the waterfall sources it backs.
var providerSources = map[string][]string{
	"google":      {model.SourceGooglePlaces, model.SourceGoogleDetails},
	"foursquare":  {model.SourceFoursquare},
	"hunter":      {model.SourceHunter, model.SourceHunterFinder, model.SourceHunterVerify},
	"neverbounce": {model.SourceNeverBounce},
	"apollo":      {model.SourceApollo},
	"pdl":         {model.SourcePDL},
}

func providerConfigs(p config.ProvidersConfig) map[string]config.ProviderConfig {
	return map[string]config.ProviderConfig{
		"google":      p.Google,
		"foursquare":  p.Foursquare,
		"hunter":      p.Hunter,
		"neverbounce": p.NeverBounce,
		"apollo":      p.Apollo,
		"pdl":         p.PDL,
	}
}

// breakerBase returns the config-file breaker settings for a source.
func breakerBase(p config.ProvidersConfig) func(source string) resilience.BreakerConfig {
	bySource := make(map[string]resilience.BreakerConfig)
	for name, pc := range providerConfigs(p) {
		base := resilience.PaidBreakerConfig()
		if name == "google" || name == "foursquare" {
			base = resilience.DefaultBreakerConfig()
		}
		bc := resilience.FromBreakerConfig(base, pc.FailureThreshold, pc.CooldownSecs)
		for _, src := range providerSources[name] {
			bySource[src] = bc
		}
	}
	return func(source string) resilience.BreakerConfig {
		if bc, ok := bySource[source]; ok {
			return bc
		}
		return resilience.DefaultBreakerConfig()
	}
}

// breakerOptions builds per-source registry options. Entries from the
// waterfall file win over provider config.
func breakerOptions(p config.ProvidersConfig, wf *waterfall.Config) []resilience.RegistryOption {
	base := breakerBase(p)
	var opts []resilience.RegistryOption
	for _, sources := range providerSources {
		for _, src := range sources {
			opts = append(opts, resilience.WithProviderConfig(src, base(src)))
		}
	}
	return append(opts, wf.BreakerOverrides(base)...)
}

// sourceDelays returns the minimum delay between calls per source.
func sourceDelays(p config.ProvidersConfig, wf *waterfall.Config) map[string]time.Duration {
	delays := make(map[string]time.Duration)
	for name, pc := range providerConfigs(p) {
		if pc.MinDelayMs <= 0 {
			continue
		}
		for _, src := range providerSources[name] {
			delays[src] = time.Duration(pc.MinDelayMs) * time.Millisecond
		}
	}
	for src, d := range wf.Delays() {
		delays[src] = d
	}
	return delays
}

// initPipeline builds the store, vendor clients, resilience layer and the
// orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	var wf *waterfall.Config
	if path := cfg.Pipeline.WaterfallConfig; path != "" {
		loaded, err := waterfall.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		wf = loaded
		zap.L().Info("waterfall config loaded", zap.String("path", path), zap.Int("chains", len(wf.Chains)))
	}

	mp, reader := monitoring.NewMeterProvider()
	instruments, err := monitoring.NewInstruments(mp)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	env := &pipelineEnv{Instruments: instruments, Meter: mp, Reader: reader}

	env.Store, err = initStore(ctx, cfg.Store)
	if err != nil {
		env.Close()
		return nil, err
	}

	regOpts := append(breakerOptions(cfg.Providers, wf), resilience.WithStateChange(instruments.BreakerChanged))
	env.Breakers = resilience.NewRegistry(resilience.DefaultBreakerConfig(), regOpts...)
	limiters := waterfall.NewLimiters(sourceDelays(cfg.Providers, wf))

	var (
		enrichCache cache.Cache = cache.NewMemory()
		publisher   notify.Publisher
	)
	if cfg.Redis.Enabled() {
		env.redis = cache.NewRedisClient(cfg.Redis)
		rc := cache.NewRedis(env.redis, "leads:cache")
		if err := rc.Health(ctx); err != nil {
			zap.L().Warn("redis unavailable, using in-process cache and no job updates", zap.Error(err))
			_ = env.redis.Close()
			env.redis = nil
		} else {
			enrichCache = rc
			publisher = notify.NewRedisPublisher(env.redis, cfg.Redis.ChannelPrefix)
			zap.L().Info("redis enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	calc := cost.NewCalculator(cfg.Pricing)
	retry := resilience.FromRetryConfig(
		cfg.Pipeline.Retry.MaxAttempts,
		cfg.Pipeline.Retry.InitialBackoffMs,
		cfg.Pipeline.Retry.MaxBackoffMs,
		cfg.Pipeline.Retry.Multiplier,
		cfg.Pipeline.Retry.JitterFraction,
	)
	chainOpts := waterfall.Options{
		HighConfidence: cfg.Pipeline.HighConfidence,
		CallTimeout:    time.Duration(cfg.Pipeline.PerCallTimeoutSecs) * time.Second,
		Retry:          retry,
	}

	sc := scorer.New(cfg.Scorer)
	directory := buildDirectory(env.Store, sc, calc, env.Breakers, limiters, chainOpts, wf)
	enricher := enrich.New(buildEnrichClients(enrichCache), calc, env.Breakers, limiters, enrich.Options{
		Chain:             chainOpts,
		Chains:            wf,
		MaxVerify:         cfg.Pipeline.MaxEmailsPerBusiness,
		MaxPatterns:       cfg.Pipeline.MaxPatternEmails,
		PatternConfidence: cfg.Pipeline.PatternConfidence,
		CacheTTL:          time.Duration(cfg.Redis.CacheTTLHours) * time.Hour,
	})

	opts := []job.Option{
		job.WithConcurrency(cfg.Pipeline.MaxConcurrentEnrichments),
		job.WithCandidateTimeout(time.Duration(cfg.Pipeline.CandidateTimeoutSecs) * time.Second),
		job.WithObserver(instruments),
	}
	if publisher != nil {
		opts = append(opts, job.WithPublisher(publisher))
	}
	if cfg.Providers.Census.Enabled() {
		opts = append(opts, job.WithDensity(density.New(census.NewClient(cfg.Providers.Census.Key,
			census.WithBaseURL(cfg.Providers.Census.BaseURL)))))
	} else {
		zap.L().Debug("LEADS_PROVIDERS_CENSUS_KEY not set, density scoring disabled")
	}

	env.Orchestrator = job.NewOrchestrator(env.Store, directory, sc, enricher, opts...)
	return env, nil
}

func buildDirectory(st discovery.ReusableLeadStore, sc *scorer.Scorer, calc *cost.Calculator, breakers *resilience.Registry, limiters *waterfall.Limiters, base waterfall.Options, wf *waterfall.Config) *discovery.Directory {
	var sources []waterfall.Source[discovery.Query, model.DiscoveredRecord]
	if cfg.Pipeline.ReuseCachedLeads && st != nil {
		sources = append(sources, discovery.NewCachedSource(st))
	}
	if p := cfg.Providers.Google; p.Enabled() {
		client := google.NewClient(p.Key, google.WithBaseURL(p.BaseURL))
		sources = append(sources, discovery.NewGoogleSource(client, calc, cfg.Pipeline.DetailLookups, discovery.WithDetailBreakers(breakers)))
	} else {
		zap.L().Debug("LEADS_PROVIDERS_GOOGLE_KEY not set, google places disabled")
	}
	if p := cfg.Providers.Foursquare; p.Enabled() {
		sources = append(sources, discovery.NewFoursquareSource(foursquare.NewClient(p.Key, foursquare.WithBaseURL(p.BaseURL)), calc))
	}

	cc := wf.GetChain(discovery.ChainName)
	opts := cc.Apply(base)
	opts.Ordered = true
	engine := waterfall.New(discovery.ChainName, discovery.Merger{}, breakers, opts, waterfall.Filter(cc, sources...)...).
		WithLimiters(limiters)
	dirOpts := []discovery.Option{
		discovery.WithCapFactor(cfg.Pipeline.DiscoveryCapFactor),
		discovery.WithOverFetch(sc.OverFetch),
	}
	if cfg.Pipeline.ExpansionPasses {
		dirOpts = append(dirOpts, discovery.WithExpansion(discovery.DefaultExpansion))
	}
	return discovery.New(engine, dirOpts...)
}

func buildEnrichClients(c cache.Cache) enrich.Clients {
	clients := enrich.Clients{Cache: c}
	if p := cfg.Providers.Hunter; p.Enabled() {
		clients.Hunter = hunter.NewClient(p.Key, hunter.WithBaseURL(p.BaseURL))
	}
	if p := cfg.Providers.Apollo; p.Enabled() {
		clients.Apollo = apollo.NewClient(p.Key, apollo.WithBaseURL(p.BaseURL))
	}
	if p := cfg.Providers.PDL; p.Enabled() {
		clients.PDL = pdl.NewClient(p.Key, pdl.WithBaseURL(p.BaseURL))
	}
	if p := cfg.Providers.NeverBounce; p.Enabled() {
		clients.NeverBounce = neverbounce.NewClient(p.Key, neverbounce.WithBaseURL(p.BaseURL))
	}
	return clients
}

// monitoringChecker builds the alert checker over env.
func monitoringChecker(env *pipelineEnv) *monitoring.Checker {
	collector := monitoring.NewCollector(env.Store, env.Breakers)
	return monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
}
