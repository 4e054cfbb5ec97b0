// Package datadog submits pipeline metrics to Datadog.
//
// The backend buffers counters and duration samples in memory and submits
// them on a ticker (default once a minute) and once more on Close, so a
// scheduled run that lasts a few seconds still produces one point per run
// and a long backfill produces a proper time series.
//
// Submission failures drop the window; metrics are best effort and never
// block a load.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"autoprice/internal/metrics"
)

// Options controls the backend.
type Options struct {
	// JobName becomes tag "job:<name>". Defaults to "autoprice".
	JobName string

	// Tags are extra tags, e.g. "service:autoprice".
	Tags []string

	// FlushEvery defaults to 60s.
	FlushEvery time.Duration

	// Test seams; production leaves them nil.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the slice of *datadogV2.MetricsApi the backend needs.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend and metrics.Flusher.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags  []string
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu        sync.Mutex
	steps     map[stepKey]float64
	records   map[string]float64
	durations map[stepKey][]float64
}

type stepKey struct {
	step   string
	status string
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)

// NewBackend starts a backend with its periodic flush loop. Credentials and
// site come from the standard DD_API_KEY / DD_SITE environment variables via
// the client's default context.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, fmt.Errorf("datadog metrics init: nil context")
	}
	job := strings.TrimSpace(opts.JobName)
	if job == "" {
		job = "autoprice"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	b := &Backend{
		api:        opts.submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        opts.now,
		newTicker:  opts.newTicker,
		steps:      make(map[stepKey]float64),
		records:    make(map[string]float64),
		durations:  make(map[stepKey][]float64),
	}
	if b.api == nil {
		b.api = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.newTicker == nil {
		b.newTicker = time.NewTicker
	}

	go b.loop()
	return b, nil
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and submits whatever is still buffered.
// Calling Close more than once is a no-op after the first call.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
		err = b.Flush()
	})
	return err
}

// IncCounter implements metrics.Backend. Unknown metric names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StepTotal:
		b.steps[keyOf(labels)] += delta
	case metrics.RecordsTotal:
		if kind := labels["kind"]; kind != "" {
			b.records[kind] += delta
		}
	}
}

// ObserveHistogram implements metrics.Backend. Only step durations are kept.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	k := keyOf(labels)
	b.durations[k] = append(b.durations[k], value)
}

func keyOf(l metrics.Labels) stepKey {
	k := stepKey{step: l["step"], status: l["status"]}
	if k.step == "" {
		k.step = "unknown"
	}
	if k.status == "" {
		k.status = "unknown"
	}
	return k
}

type snapshot struct {
	steps     map[stepKey]float64
	records   map[string]float64
	durations map[stepKey][]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.steps) == 0 && len(s.records) == 0 && len(s.durations) == 0
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{steps: b.steps, records: b.records, durations: b.durations}
	b.steps = make(map[stepKey]float64)
	b.records = make(map[string]float64)
	b.durations = make(map[stepKey][]float64)
	return s
}

// Flush submits the buffered window. The buffers are reset even when the
// submission fails.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries is pure so the naming and tagging contract can be tested
// without a network. Output is sorted by metric name then tags.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.steps)+len(s.records)+6*len(s.durations))

	for k, v := range s.steps {
		series = append(series, point("autoprice.step.total", datadogV2.METRICINTAKETYPE_COUNT, v,
			withTags(b.baseTags, "step:"+k.step, "status:"+k.status), nowUnix))
	}
	for kind, v := range s.records {
		series = append(series, point("autoprice.records.total", datadogV2.METRICINTAKETYPE_COUNT, v,
			withTags(b.baseTags, "kind:"+kind), nowUnix))
	}
	for k, samples := range s.durations {
		if len(samples) == 0 {
			continue
		}
		cp := append([]float64(nil), samples...)
		sort.Float64s(cp)
		tags := withTags(b.baseTags, "step:"+k.step, "status:"+k.status)
		for _, q := range []struct {
			suffix string
			v      float64
		}{
			{"p50", percentileNearestRank(cp, 0.50)},
			{"p90", percentileNearestRank(cp, 0.90)},
			{"p99", percentileNearestRank(cp, 0.99)},
			{"max", cp[len(cp)-1]},
			{"samples", float64(len(cp))},
		} {
			series = append(series, point("autoprice.step.duration_seconds."+q.suffix,
				datadogV2.METRICINTAKETYPE_GAUGE, q.v, tags, nowUnix))
		}
	}

	sort.Slice(series, func(i, j int) bool {
		if series[i].Metric != series[j].Metric {
			return series[i].Metric < series[j].Metric
		}
		return strings.Join(series[i].Tags, ",") < strings.Join(series[j].Tags, ",")
	})
	return series
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

// percentileNearestRank expects s sorted ascending.
func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV parses "env:prod,service:autoprice" into tags, skipping blanks.
func ParseTagsCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
