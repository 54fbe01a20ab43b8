// Package metrics records photodedup counters and latencies through OpenTelemetry.
// Without a configured MeterProvider the global no-op provider is used.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every instrument.
const MeterName = "github.com/thebtf/photodedup"

// Metrics holds the instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	photosIngested     metric.Int64Counter
	extractionFailures metric.Int64Counter
	storeWriteFailures metric.Int64Counter
	setsRemoved        metric.Int64Counter
	rebuilds           metric.Int64Counter
	pageDuration       metric.Float64Histogram
	rebuildDuration    metric.Float64Histogram
}

// New creates instruments on the given meter provider, or the global one when nil.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(MeterName)

	var (
		m   Metrics
		err error
	)
	if m.photosIngested, err = meter.Int64Counter("photodedup.photos.ingested",
		metric.WithDescription("Photos assigned to a similar set"),
		metric.WithUnit("{photo}")); err != nil {
		return nil, err
	}
	if m.extractionFailures, err = meter.Int64Counter("photodedup.extraction.failures",
		metric.WithDescription("Photos dropped because feature extraction failed"),
		metric.WithUnit("{photo}")); err != nil {
		return nil, err
	}
	if m.storeWriteFailures, err = meter.Int64Counter("photodedup.store.write_failures",
		metric.WithDescription("Cluster store writes that failed")); err != nil {
		return nil, err
	}
	if m.setsRemoved, err = meter.Int64Counter("photodedup.photos.removed",
		metric.WithDescription("Photos deleted through the mutation surface"),
		metric.WithUnit("{photo}")); err != nil {
		return nil, err
	}
	if m.rebuilds, err = meter.Int64Counter("photodedup.rebuilds",
		metric.WithDescription("Completed full regrouping passes")); err != nil {
		return nil, err
	}
	if m.pageDuration, err = meter.Float64Histogram("photodedup.page.duration",
		metric.WithDescription("Time to extract and assemble one page of photos"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.rebuildDuration, err = meter.Float64Histogram("photodedup.rebuild.duration",
		metric.WithDescription("Time to regroup every stored photo"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordAssembly counts one ingested photo by outcome ("joined" or "created").
func (m *Metrics) RecordAssembly(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.photosIngested.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordExtractionFailures counts photos whose extraction failed.
func (m *Metrics) RecordExtractionFailures(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.extractionFailures.Add(ctx, int64(n))
}

// RecordStoreWriteFailure counts a failed store write for the named operation.
func (m *Metrics) RecordStoreWriteFailure(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.storeWriteFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordRemoved counts photos deleted by a user action.
func (m *Metrics) RecordRemoved(ctx context.Context, action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.setsRemoved.Add(ctx, int64(n), metric.WithAttributes(attribute.String("action", action)))
}

// RecordPage records how long a page took end to end.
func (m *Metrics) RecordPage(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.pageDuration.Record(ctx, d.Seconds())
}

// RecordRebuild records one completed rebuild.
func (m *Metrics) RecordRebuild(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.rebuilds.Add(ctx, 1)
	m.rebuildDuration.Record(ctx, d.Seconds())
}
