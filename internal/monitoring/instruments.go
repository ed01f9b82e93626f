package monitoring

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
)

const meterName = "github.com/sells-group/lead-pipeline"

// Metric names.
const (
	MetricJobs               = "lead_pipeline.jobs"
	MetricLeads              = "lead_pipeline.leads"
	MetricSpend              = "lead_pipeline.spend_usd"
	MetricJobDuration        = "lead_pipeline.job_duration_ms"
	MetricBreakerTransitions = "lead_pipeline.breaker_transitions"
)

// Instruments records job and breaker metrics through OpenTelemetry.
type Instruments struct {
	jobs        metric.Int64Counter
	leads       metric.Int64Counter
	spend       metric.Float64Counter
	duration    metric.Float64Histogram
	transitions metric.Int64Counter
}

// NewInstruments creates the instruments on mp.
func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	m := mp.Meter(meterName)
	var (
		in  Instruments
		err error
	)
	if in.jobs, err = m.Int64Counter(MetricJobs, metric.WithDescription("Discovery jobs reaching a terminal state")); err != nil {
		return nil, eris.Wrap(err, "monitoring: jobs counter")
	}
	if in.leads, err = m.Int64Counter(MetricLeads, metric.WithDescription("Leads persisted by completed jobs")); err != nil {
		return nil, eris.Wrap(err, "monitoring: leads counter")
	}
	if in.spend, err = m.Float64Counter(MetricSpend, metric.WithDescription("Provider spend"), metric.WithUnit("USD")); err != nil {
		return nil, eris.Wrap(err, "monitoring: spend counter")
	}
	if in.duration, err = m.Float64Histogram(MetricJobDuration, metric.WithUnit("ms")); err != nil {
		return nil, eris.Wrap(err, "monitoring: duration histogram")
	}
	if in.transitions, err = m.Int64Counter(MetricBreakerTransitions, metric.WithDescription("Circuit breaker state changes")); err != nil {
		return nil, eris.Wrap(err, "monitoring: breaker counter")
	}
	return &in, nil
}

// JobFinished records a terminal job. It satisfies job.Observer.
func (in *Instruments) JobFinished(ctx context.Context, j *model.DiscoveryJob) {
	tierAttr := attribute.String("tier", j.Config.TierKey)
	in.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(j.Status)), tierAttr))
	in.leads.Add(ctx, int64(len(j.Results)), metric.WithAttributes(tierAttr))
	for src, c := range j.Metrics.CostBySource {
		in.spend.Add(ctx, c, metric.WithAttributes(attribute.String("source", src)))
	}
	in.duration.Record(ctx, float64(j.Metrics.ProcessingMillis), metric.WithAttributes(tierAttr))
}

// BreakerChanged records a breaker transition. Its signature matches
// resilience.WithStateChange.
func (in *Instruments) BreakerChanged(provider string, from, to resilience.State) {
	in.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

// NewMeterProvider creates an SDK meter provider backed by a manual reader
// that the metrics endpoint collects on demand.
func NewMeterProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

// Point is one summarized data point.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"`
}

// Collect reads the current values from reader as a flat, sorted list.
// Histograms report their sum and count.
func Collect(ctx context.Context, reader sdkmetric.Reader) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, eris.Wrap(err, "monitoring: collect metrics")
	}

	var out []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Attributes: attrs(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Attributes: attrs(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Attributes: attrs(dp.Attributes), Value: dp.Sum, Count: dp.Count})
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func attrs(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	for _, kv := range set.ToSlice() {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
