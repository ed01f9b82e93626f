// Package waterfall runs an ordered chain of paid and free data providers for
// one query, stopping as soon as the result set is good enough or the budget
// runs out.
package waterfall

import (
	"context"
	"time"

	"github.com/sells-group/lead-pipeline/internal/budget"
)

// Batch is what a single provider call returned.
type Batch[T any] struct {
	Items []T
	// Cost is the actual billed amount in USD, including calls that found
	// nothing.
	Cost float64
}

// Source is one provider in a waterfall chain.
type Source[Q, T any] interface {
	// Name is the provider identifier used for breakers, limiters and cost
	// attribution.
	Name() string
	// Free sources are always ordered ahead of paid ones.
	Free() bool
	// EstimateCost is an upper bound of what Fetch will bill for q.
	EstimateCost(q Q) float64
	Fetch(ctx context.Context, q Q) (Batch[T], error)
}

// Merger knows how to de-duplicate and rank the items of a chain.
type Merger[T any] interface {
	// Key identifies duplicates. An empty key is never merged.
	Key(item T) string
	// Merge combines two items with the same key.
	Merge(current, candidate T) T
	// Confidence is the 0-100 quality of an item.
	Confidence(item T) int
}

// Budget is the spend account a chain draws on. Both *budget.Ledger and
// *budget.Account satisfy it.
type Budget interface {
	CanAfford(amount float64) bool
	Hold(amount float64) (*budget.Hold, bool)
	Settle(h *budget.Hold, provider string, actual float64)
}

// StopReason explains why a chain stopped.
type StopReason string

// Stop reasons.
const (
	StopCap             StopReason = "cap"
	StopHighConfidence  StopReason = "high_confidence"
	StopBudgetExhausted StopReason = "budget_exhausted"
	StopExhausted       StopReason = "exhausted"
	StopCanceled        StopReason = "canceled"
)

// Skip reasons recorded on attempts that were never called.
const (
	SkipCircuitOpen = "circuit_open"
	SkipBudget      = "budget"
)

// Attempt records what happened with one source.
type Attempt struct {
	Provider string        `json:"provider"`
	Skipped  string        `json:"skipped,omitempty"`
	Estimate float64       `json:"estimate"`
	Cost     float64       `json:"cost"`
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Called reports whether the source was actually invoked.
func (a Attempt) Called() bool { return a.Skipped == "" }

// Outcome is the merged result of a chain run.
type Outcome[T any] struct {
	Items        []T                `json:"items"`
	Attempts     []Attempt          `json:"attempts"`
	StopReason   StopReason         `json:"stop_reason"`
	CostBySource map[string]float64 `json:"cost_by_source"`
	SourcesUsed  []string           `json:"sources_used"`
}

// Cost returns the total billed across all attempts.
func (o Outcome[T]) Cost() float64 {
	var total float64
	for _, c := range o.CostBySource {
		total += c
	}
	return total
}

// Skipped returns the providers that were skipped, keyed by reason.
func (o Outcome[T]) Skipped() map[string][]string {
	out := make(map[string][]string)
	for _, a := range o.Attempts {
		if a.Skipped != "" {
			out[a.Skipped] = append(out[a.Skipped], a.Provider)
		}
	}
	return out
}

// Failed returns the attempts whose call errored.
func (o Outcome[T]) Failed() []Attempt {
	var out []Attempt
	for _, a := range o.Attempts {
		if a.Called() && a.Err != nil {
			out = append(out, a)
		}
	}
	return out
}
