package waterfall

import (
	"context"
	"strings"
	"sync"
	"time"
)

type testItem struct {
	Key     string
	Conf    int
	Sources []string
}

type testMerger struct{}

func (testMerger) Key(it testItem) string { return strings.ToLower(it.Key) }

func (testMerger) Merge(current, candidate testItem) testItem {
	if candidate.Conf > current.Conf {
		candidate.Sources = append(append([]string{}, current.Sources...), candidate.Sources...)
		return candidate
	}
	current.Sources = append(current.Sources, candidate.Sources...)
	return current
}

func (testMerger) Confidence(it testItem) int { return it.Conf }

// fakeSource returns canned batches. errs are consumed one per call before
// the batch is returned.
type fakeSource struct {
	name      string
	free      bool
	estimate  float64
	items     []testItem
	cost      float64
	errs      []error
	alwaysErr error
	delay     time.Duration

	mu    sync.Mutex
	calls int
}

func (f *fakeSource) Name() string                  { return f.name }
func (f *fakeSource) Free() bool                    { return f.free }
func (f *fakeSource) EstimateCost(_ string) float64 { return f.estimate }

func (f *fakeSource) Fetch(ctx context.Context, _ string) (Batch[testItem], error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	} else if f.alwaysErr != nil {
		err = f.alwaysErr
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return Batch[testItem]{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if err != nil {
		return Batch[testItem]{}, err
	}

	items := make([]testItem, len(f.items))
	for i, it := range f.items {
		it.Sources = []string{f.name}
		items[i] = it
	}
	return Batch[testItem]{Items: items, Cost: f.cost}, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
