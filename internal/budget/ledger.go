// Package budget enforces the job-level and per-candidate spending ceilings
// of a discovery job.
package budget

import (
	"math"
	"sync"

	"go.uber.org/zap"
)

// Amounts are tracked in integer micro-dollars so repeated small charges
// compare exactly against the ceiling.
const microsPerUSD = 1_000_000

func toMicros(usd float64) int64 {
	if usd <= 0 {
		return 0
	}
	return int64(math.Round(usd * microsPerUSD))
}

func toUSD(micros int64) float64 {
	return float64(micros) / microsPerUSD
}

// Hold is an amount reserved ahead of a provider call. It must be settled
// exactly once.
type Hold struct {
	micros  int64
	account *Account
	settled bool
}

// Amount returns the reserved amount in USD.
func (h *Hold) Amount() float64 {
	if h == nil {
		return 0
	}
	return toUSD(h.micros)
}

// Ledger tracks spend for one job. It is safe for concurrent use by the
// candidates of that job.
type Ledger struct {
	mu           sync.Mutex
	budget       int64
	perCandidate int64
	spent        int64
	held         int64
	byProvider   map[string]int64
}

// NewLedger creates a ledger with a job budget and a per-candidate ceiling.
// A non-positive perCandidate disables the candidate ceiling.
func NewLedger(jobBudget, perCandidate float64) *Ledger {
	pc := toMicros(perCandidate)
	if pc <= 0 {
		pc = math.MaxInt64
	}
	return &Ledger{
		budget:       toMicros(jobBudget),
		perCandidate: pc,
		byProvider:   make(map[string]int64),
	}
}

// CanAfford reports whether spent+amount fits the job budget and amount fits
// the per-candidate ceiling.
func (l *Ledger) CanAfford(amount float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := toMicros(amount)
	return l.fitsJob(m) && m <= l.perCandidate
}

// Hold reserves amount against the job budget. The returned hold must be
// passed to Settle once the call finishes.
func (l *Ledger) Hold(amount float64) (*Hold, bool) {
	return l.hold(nil, amount, true)
}

// Settle releases h and records the actual charge under provider.
func (l *Ledger) Settle(h *Hold, provider string, actual float64) {
	l.settle(h, provider, actual)
}

// Commit records a confirmed charge that was not reserved in advance.
func (l *Ledger) Commit(provider string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(nil, provider, toMicros(amount))
}

// Spent returns the committed spend.
func (l *Ledger) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return toUSD(l.spent)
}

// Remaining returns the budget left after committed spend and open holds.
func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return toUSD(max(l.budget-l.spent-l.held, 0))
}

// Budget returns the job budget.
func (l *Ledger) Budget() float64 {
	return toUSD(l.budget)
}

// SpentBy returns committed spend per provider.
func (l *Ledger) SpentBy() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return toUSDMap(l.byProvider)
}

// Candidate opens a per-candidate account that draws on this ledger.
func (l *Ledger) Candidate() *Account {
	return &Account{ledger: l, byProvider: make(map[string]int64)}
}

// Shared returns a view of the ledger for job-level spend outside any
// candidate, such as discovery. It is bounded by the job budget only.
func (l *Ledger) Shared() *SharedAccount {
	return &SharedAccount{ledger: l}
}

func (l *Ledger) fitsJob(m int64) bool {
	return l.spent+l.held+m <= l.budget
}

func (l *Ledger) hold(a *Account, amount float64, ceiling bool) (*Hold, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := toMicros(amount)
	if !l.fitsJob(m) || (ceiling && m > l.perCandidate) {
		return nil, false
	}
	if a != nil && !a.fits(m) {
		return nil, false
	}

	l.held += m
	if a != nil {
		a.held += m
	}
	return &Hold{micros: m, account: a}, true
}

func (l *Ledger) settle(h *Hold, provider string, actual float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h == nil || h.settled {
		return
	}
	h.settled = true
	l.held -= h.micros
	if h.account != nil {
		h.account.held -= h.micros
	}

	m := toMicros(actual)
	if m > h.micros {
		zap.L().Warn("budget: actual cost exceeded estimate",
			zap.String("provider", provider),
			zap.Float64("estimate", toUSD(h.micros)),
			zap.Float64("actual", actual),
		)
	}
	l.record(h.account, provider, m)
}

// record must be called with mu held.
func (l *Ledger) record(a *Account, provider string, m int64) {
	if m <= 0 {
		return
	}
	l.spent += m
	l.byProvider[provider] += m
	if a != nil {
		a.spent += m
		a.byProvider[provider] += m
	}
}

// Account is the spend of one candidate within a job. Its state is guarded
// by the parent ledger's lock.
type Account struct {
	ledger     *Ledger
	spent      int64
	held       int64
	byProvider map[string]int64
}

// CanAfford reports whether amount fits both the job budget and the
// candidate's remaining ceiling.
func (a *Account) CanAfford(amount float64) bool {
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	m := toMicros(amount)
	return a.ledger.fitsJob(m) && m <= a.ledger.perCandidate && a.fits(m)
}

// Hold reserves amount against both the job and the candidate ceiling.
func (a *Account) Hold(amount float64) (*Hold, bool) {
	return a.ledger.hold(a, amount, true)
}

// Settle releases h and records the actual charge.
func (a *Account) Settle(h *Hold, provider string, actual float64) {
	a.ledger.settle(h, provider, actual)
}

// Commit records an unreserved confirmed charge for this candidate.
func (a *Account) Commit(provider string, amount float64) {
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	a.ledger.record(a, provider, toMicros(amount))
}

// Spent returns the candidate's committed spend.
func (a *Account) Spent() float64 {
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	return toUSD(a.spent)
}

// SpentBy returns the candidate's committed spend per provider.
func (a *Account) SpentBy() map[string]float64 {
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	return toUSDMap(a.byProvider)
}

// fits must be called with the ledger lock held.
func (a *Account) fits(m int64) bool {
	return a.spent+a.held+m <= a.ledger.perCandidate
}

// SharedAccount draws on the job budget without the per-candidate ceiling.
type SharedAccount struct {
	ledger *Ledger
}

// CanAfford reports whether amount fits the remaining job budget.
func (s *SharedAccount) CanAfford(amount float64) bool {
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	return s.ledger.fitsJob(toMicros(amount))
}

// Hold reserves amount against the job budget.
func (s *SharedAccount) Hold(amount float64) (*Hold, bool) {
	return s.ledger.hold(nil, amount, false)
}

// Settle releases h and records the actual charge.
func (s *SharedAccount) Settle(h *Hold, provider string, actual float64) {
	s.ledger.settle(h, provider, actual)
}

func toUSDMap(in map[string]int64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = toUSD(v)
	}
	return out
}
