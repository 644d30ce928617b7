// Package metrics wraps the OpenTelemetry metric instruments a Turn Engine run
// reports against, and implements the per-provider circuit breaker that gates
// whether a new provider stream is even attempted.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AggregateMetrics summarizes Recorder activity over one completed (or still-open) rollup
// period. Mirrors original_source's streaming metrics module's AggregateMetrics/
// MetricsHistory: periodic rollups computed from the same counters the OTel instruments
// receive, kept in memory so a caller can inspect recent history without a metrics backend.
type AggregateMetrics struct {
	PeriodStart time.Time
	PeriodEnd   time.Time

	TotalRequests int64
	SuccessCount  int64
	FailureCount  int64
	SuccessRate   float64 // SuccessCount / TotalRequests; 0 if TotalRequests is 0.
	ErrorRate     float64 // FailureCount / TotalRequests; 0 if TotalRequests is 0.

	TotalTokens int64
	TotalBytes  int64

	AvgLatencyMS float64

	// ProviderRequests counts requests attempted per provider_id during the period.
	ProviderRequests map[string]int64
}

// rollupGranularity names the three time windows a Recorder rolls its counters up into.
type rollupGranularity struct {
	period  time.Duration
	maxKept int // completed periods retained in history, oldest dropped first (ring-buffer-by-truncation)
}

var rollupGranularities = map[string]rollupGranularity{
	"hourly": {period: time.Hour, maxKept: 24},
	"daily":  {period: 24 * time.Hour, maxKept: 30},
	"weekly": {period: 7 * 24 * time.Hour, maxKept: 12},
}

// rollupBucket accumulates one in-progress period's counters for one granularity.
type rollupBucket struct {
	start time.Time

	totalRequests int64
	failureCount  int64
	totalTokens   int64
	totalBytes    int64
	latencySumMS  float64
	latencyCount  int64

	providerRequests map[string]int64
}

func newRollupBucket(start time.Time) *rollupBucket {
	return &rollupBucket{start: start, providerRequests: make(map[string]int64)}
}

// finalize snapshots b as a closed AggregateMetrics covering [b.start, end).
func (b *rollupBucket) finalize(end time.Time) AggregateMetrics {
	successCount := b.totalRequests - b.failureCount
	if successCount < 0 {
		successCount = 0
	}

	var successRate, errorRate, avgLatency float64
	if b.totalRequests > 0 {
		successRate = float64(successCount) / float64(b.totalRequests)
		errorRate = float64(b.failureCount) / float64(b.totalRequests)
	}
	if b.latencyCount > 0 {
		avgLatency = b.latencySumMS / float64(b.latencyCount)
	}

	providerRequests := make(map[string]int64, len(b.providerRequests))
	for k, v := range b.providerRequests {
		providerRequests[k] = v
	}

	return AggregateMetrics{
		PeriodStart:      b.start,
		PeriodEnd:        end,
		TotalRequests:    b.totalRequests,
		SuccessCount:     successCount,
		FailureCount:     b.failureCount,
		SuccessRate:      successRate,
		ErrorRate:        errorRate,
		TotalTokens:      b.totalTokens,
		TotalBytes:       b.totalBytes,
		AvgLatencyMS:     avgLatency,
		ProviderRequests: providerRequests,
	}
}

// Recorder wraps the OTel instruments used on the turn hot path. Every Record* method is a
// lock-free Add/Record against the underlying instrument, plus a mutex-guarded update to the
// in-memory rollup buckets used by Snapshot.
type Recorder struct {
	requestsTotal       metric.Int64Counter
	requestsFailedTotal metric.Int64Counter
	bytesStreamedTotal  metric.Int64Counter
	tokensConsumedTotal metric.Int64Counter
	endToEndLatencyMS   metric.Float64Histogram

	mu      sync.Mutex
	current map[string]*rollupBucket     // keyed by granularity name ("hourly", "daily", "weekly")
	history map[string][]AggregateMetrics // completed periods per granularity, oldest first, capped at maxKept
}

// NewRecorder builds a Recorder from meter, registering each instrument once.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	requestsTotal, err := meter.Int64Counter(
		"turnstile.requests_total",
		metric.WithDescription("Provider requests attempted, by provider_id."),
	)
	if err != nil {
		return nil, err
	}
	requestsFailedTotal, err := meter.Int64Counter(
		"turnstile.requests_failed_total",
		metric.WithDescription("Provider requests that ended in a non-retryable error, by provider_id."),
	)
	if err != nil {
		return nil, err
	}
	bytesStreamedTotal, err := meter.Int64Counter(
		"turnstile.bytes_streamed_total",
		metric.WithDescription("Raw bytes read off provider stream responses, by provider_id."),
	)
	if err != nil {
		return nil, err
	}
	tokensConsumedTotal, err := meter.Int64Counter(
		"turnstile.tokens_consumed_total",
		metric.WithDescription("Input+output tokens billed, by provider_id and token_kind."),
	)
	if err != nil {
		return nil, err
	}
	endToEndLatencyMS, err := meter.Float64Histogram(
		"turnstile.end_to_end_latency_ms",
		metric.WithDescription("Wall-clock duration of a single provider request, by provider_id."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	current := make(map[string]*rollupBucket, len(rollupGranularities))
	history := make(map[string][]AggregateMetrics, len(rollupGranularities))
	for name := range rollupGranularities {
		current[name] = newRollupBucket(now)
	}

	return &Recorder{
		requestsTotal:       requestsTotal,
		requestsFailedTotal: requestsFailedTotal,
		bytesStreamedTotal:  bytesStreamedTotal,
		tokensConsumedTotal: tokensConsumedTotal,
		endToEndLatencyMS:   endToEndLatencyMS,
		current:             current,
		history:             history,
	}, nil
}

// advanceLocked rolls name's current bucket into history (and starts a fresh one) if its
// period has elapsed as of now. Caller must hold r.mu.
func (r *Recorder) advanceLocked(name string, g rollupGranularity, now time.Time) {
	b := r.current[name]
	if b == nil {
		r.current[name] = newRollupBucket(now)
		return
	}
	if now.Sub(b.start) < g.period {
		return
	}
	hist := append(r.history[name], b.finalize(now))
	if len(hist) > g.maxKept {
		hist = hist[len(hist)-g.maxKept:]
	}
	r.history[name] = hist
	r.current[name] = newRollupBucket(now)
}

// observe rolls over any stale bucket for every granularity, then runs mutate against each
// granularity's now-current bucket.
func (r *Recorder) observe(mutate func(*rollupBucket)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for name, g := range rollupGranularities {
		r.advanceLocked(name, g, now)
		mutate(r.current[name])
	}
}

// Snapshot returns granularity's ("hourly", "daily", or "weekly") rollup history plus its
// still-accumulating current period, oldest first. The current period is finalized against
// the moment Snapshot is called, so calling it twice in a row yields two different (growing)
// final entries until the period actually closes.
func (r *Recorder) Snapshot(granularity string) ([]AggregateMetrics, error) {
	if r == nil {
		return nil, nil
	}
	g, ok := rollupGranularities[granularity]
	if !ok {
		return nil, fmt.Errorf("metrics: unknown rollup granularity %q", granularity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.advanceLocked(granularity, g, now)

	hist := r.history[granularity]
	out := make([]AggregateMetrics, 0, len(hist)+1)
	out = append(out, hist...)
	out = append(out, r.current[granularity].finalize(now))
	return out, nil
}

// RecordRequest increments requests_total for providerID.
func (r *Recorder) RecordRequest(ctx context.Context, providerID string) {
	if r == nil {
		return
	}
	r.requestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("provider_id", providerID)))
	r.observe(func(b *rollupBucket) {
		b.totalRequests++
		b.providerRequests[providerID]++
	})
}

// RecordFailure increments requests_failed_total for providerID.
func (r *Recorder) RecordFailure(ctx context.Context, providerID string) {
	if r == nil {
		return
	}
	r.requestsFailedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("provider_id", providerID)))
	r.observe(func(b *rollupBucket) {
		b.failureCount++
	})
}

// RecordBytesStreamed adds n to bytes_streamed_total for providerID.
func (r *Recorder) RecordBytesStreamed(ctx context.Context, providerID string, n int64) {
	if r == nil || n == 0 {
		return
	}
	r.bytesStreamedTotal.Add(ctx, n, metric.WithAttributes(attribute.String("provider_id", providerID)))
	r.observe(func(b *rollupBucket) {
		b.totalBytes += n
	})
}

// RecordTokens adds n to tokens_consumed_total for providerID/tokenKind ("input", "output", "reasoning").
func (r *Recorder) RecordTokens(ctx context.Context, providerID, tokenKind string, n int64) {
	if r == nil || n == 0 {
		return
	}
	r.tokensConsumedTotal.Add(ctx, n,
		metric.WithAttributes(
			attribute.String("provider_id", providerID),
			attribute.String("token_kind", tokenKind),
		))
	r.observe(func(b *rollupBucket) {
		b.totalTokens += n
	})
}

// RecordLatency records an end-to-end request duration in milliseconds for providerID.
func (r *Recorder) RecordLatency(ctx context.Context, providerID string, ms float64) {
	if r == nil {
		return
	}
	r.endToEndLatencyMS.Record(ctx, ms, metric.WithAttributes(attribute.String("provider_id", providerID)))
	r.observe(func(b *rollupBucket) {
		b.latencySumMS += ms
		b.latencyCount++
	})
}
