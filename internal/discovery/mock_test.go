package discovery

import (
	"context"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// reusableStore is an in-memory ReusableLeadStore keyed by campaign hash.
type reusableStore struct {
	leads  map[string][]model.ScoredLead
	err    error
	calls  int
	limits []int
}

func (s *reusableStore) ReusableLeads(_ context.Context, hash string, limit int) ([]model.ScoredLead, error) {
	s.calls++
	s.limits = append(s.limits, limit)
	if s.err != nil {
		return nil, s.err
	}
	out := s.leads[hash]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
