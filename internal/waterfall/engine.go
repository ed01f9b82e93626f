package waterfall

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// DefaultHighConfidence is the confidence at which a chain stops early.
const DefaultHighConfidence = 80

// DefaultCallTimeout bounds a single provider call.
const DefaultCallTimeout = 20 * time.Second

// Options tunes a chain.
type Options struct {
	// Cap stops the chain once this many unique items are collected. Zero
	// means no cap.
	Cap int
	// HighConfidence stops the chain once an item reaches it. Zero disables
	// the check.
	HighConfidence int
	// CallTimeout bounds each provider call, retries included.
	CallTimeout time.Duration
	// Retry applies to rate-limited calls only unless ShouldRetry is set.
	Retry resilience.RetryConfig
	// Ordered tries sources in registration order instead of cost order.
	Ordered bool
}

// Engine runs one provider chain. It is safe for concurrent use; all mutable
// state lives in the breaker registry, the limiters and the caller's budget.
type Engine[Q, T any] struct {
	name     string
	sources  []Source[Q, T]
	merger   Merger[T]
	breakers *resilience.Registry
	limiters *Limiters
	opts     Options
}

// New creates an engine named name over sources.
func New[Q, T any](name string, merger Merger[T], breakers *resilience.Registry, opts Options, sources ...Source[Q, T]) *Engine[Q, T] {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if breakers == nil {
		breakers = resilience.NewRegistry(resilience.DefaultBreakerConfig())
	}
	return &Engine[Q, T]{
		name:     name,
		sources:  sources,
		merger:   merger,
		breakers: breakers,
		opts:     opts,
	}
}

// WithLimiters attaches shared per-provider limiters.
func (e *Engine[Q, T]) WithLimiters(l *Limiters) *Engine[Q, T] {
	e.limiters = l
	return e
}

// WithCap returns a copy of e with a different cap.
func (e *Engine[Q, T]) WithCap(n int) *Engine[Q, T] {
	c := *e
	c.opts.Cap = n
	return &c
}

// Name returns the chain name.
func (e *Engine[Q, T]) Name() string { return e.name }

// Len returns the number of configured sources.
func (e *Engine[Q, T]) Len() int { return len(e.sources) }

type planned[Q, T any] struct {
	src      Source[Q, T]
	estimate float64
	failures int
}

// Order returns source names in the order Run would try them for q.
func (e *Engine[Q, T]) Order(q Q) []string {
	plan := e.plan(q)
	names := make([]string, len(plan))
	for i, p := range plan {
		names[i] = p.src.Name()
	}
	return names
}

// plan orders free sources first, then by ascending estimate, then by fewer
// breaker failures, then by name. Ordered chains keep registration order.
func (e *Engine[Q, T]) plan(q Q) []planned[Q, T] {
	plan := make([]planned[Q, T], len(e.sources))
	for i, s := range e.sources {
		est := 0.0
		if !s.Free() {
			est = s.EstimateCost(q)
		}
		plan[i] = planned[Q, T]{src: s, estimate: est, failures: e.breakers.Failures(s.Name())}
	}
	if e.opts.Ordered {
		return plan
	}
	sort.SliceStable(plan, func(i, j int) bool {
		a, b := plan[i], plan[j]
		if a.src.Free() != b.src.Free() {
			return a.src.Free()
		}
		if a.estimate != b.estimate {
			return a.estimate < b.estimate
		}
		if a.failures != b.failures {
			return a.failures < b.failures
		}
		return a.src.Name() < b.src.Name()
	})
	return plan
}

// Run executes the chain for q, drawing on b. Provider failures never fail
// the run; they are recorded on the outcome and reported to the breakers.
func (e *Engine[Q, T]) Run(ctx context.Context, q Q, b Budget) Outcome[T] {
	log := zap.L().With(zap.String("chain", e.name))
	out := Outcome[T]{
		CostBySource: make(map[string]float64),
		StopReason:   StopExhausted,
	}
	index := make(map[string]int)
	budgetSkipped := false

	plan := e.plan(q)
	for i, p := range plan {
		if ctx.Err() != nil {
			out.StopReason = StopCanceled
			return out
		}

		name := p.src.Name()
		att := Attempt{Provider: name, Estimate: p.estimate}

		if !e.breakers.IsAvailable(name) {
			att.Skipped = SkipCircuitOpen
			out.Attempts = append(out.Attempts, att)
			log.Debug("waterfall: provider skipped", zap.String("provider", name), zap.String("reason", SkipCircuitOpen))
			continue
		}

		hold, ok := b.Hold(p.estimate)
		if !ok {
			att.Skipped = SkipBudget
			budgetSkipped = true
			out.Attempts = append(out.Attempts, att)
			log.Debug("waterfall: provider skipped",
				zap.String("provider", name),
				zap.String("reason", SkipBudget),
				zap.Float64("estimate", p.estimate),
			)
			continue
		}

		start := time.Now()
		batch, err := e.call(ctx, p.src, q)
		att.Duration = time.Since(start)

		if err != nil {
			att.Err = err
			att.Cost = resilience.BilledCost(err)
			b.Settle(hold, name, att.Cost)
			e.record(&out, att)

			if ctx.Err() != nil {
				out.StopReason = StopCanceled
				return out
			}
			e.breakers.RecordFailure(name)
			log.Warn("waterfall: provider call failed",
				zap.String("provider", name),
				zap.Duration("duration", att.Duration),
				zap.Error(err),
			)
			continue
		}

		e.breakers.RecordSuccess(name)
		att.Cost = batch.Cost
		att.Items = len(batch.Items)
		b.Settle(hold, name, batch.Cost)
		e.record(&out, att)
		out.SourcesUsed = append(out.SourcesUsed, name)

		for _, item := range batch.Items {
			out.Items = e.merge(out.Items, index, item)
		}

		if reason, skipped, stop := e.stop(out.Items, plan[i+1:], b); stop {
			out.Attempts = append(out.Attempts, skipped...)
			out.StopReason = reason
			return out
		}
	}

	if budgetSkipped {
		out.StopReason = StopBudgetExhausted
	}
	return out
}

func (e *Engine[Q, T]) call(ctx context.Context, src Source[Q, T], q Q) (Batch[T], error) {
	retry := e.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(src.Name(), e.name)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	return resilience.DoVal(callCtx, retry, func(ctx context.Context) (Batch[T], error) {
		if err := e.limiters.Wait(ctx, src.Name()); err != nil {
			return Batch[T]{}, err
		}
		return src.Fetch(ctx, q)
	})
}

func (e *Engine[Q, T]) record(out *Outcome[T], att Attempt) {
	out.Attempts = append(out.Attempts, att)
	if att.Cost > 0 {
		out.CostBySource[att.Provider] += att.Cost
	}
}

func (e *Engine[Q, T]) merge(items []T, index map[string]int, item T) []T {
	key := e.merger.Key(item)
	if key == "" {
		return append(items, item)
	}
	if i, ok := index[key]; ok {
		items[i] = e.merger.Merge(items[i], item)
		return items
	}
	index[key] = len(items)
	return append(items, item)
}

// stop checks the stop conditions in order. When the budget cannot afford any
// remaining source those sources are returned as skipped attempts.
func (e *Engine[Q, T]) stop(items []T, remaining []planned[Q, T], b Budget) (StopReason, []Attempt, bool) {
	if e.opts.Cap > 0 && len(items) >= e.opts.Cap {
		return StopCap, nil, true
	}
	if e.opts.HighConfidence > 0 {
		for _, it := range items {
			if e.merger.Confidence(it) >= e.opts.HighConfidence {
				return StopHighConfidence, nil, true
			}
		}
	}

	var skipped []Attempt
	available := 0
	for _, p := range remaining {
		att := Attempt{Provider: p.src.Name(), Estimate: p.estimate, Skipped: SkipBudget}
		if !e.breakers.IsAvailable(p.src.Name()) {
			att.Skipped = SkipCircuitOpen
			skipped = append(skipped, att)
			continue
		}
		available++
		if b.CanAfford(p.estimate) {
			return "", nil, false
		}
		skipped = append(skipped, att)
	}
	if available > 0 {
		return StopBudgetExhausted, skipped, true
	}
	return "", nil, false
}
