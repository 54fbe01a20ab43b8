package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNew_WithNoopProvider(t *testing.T) {
	m, err := New(noop.NewMeterProvider())
	require.NoError(t, err)
	require.NotNil(t, m)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordAssembly(ctx, "joined")
		m.RecordExtractionFailures(ctx, 2)
		m.RecordStoreWriteFailure(ctx, "upsert_set")
		m.RecordRemoved(ctx, "remove_all", 3)
		m.RecordPage(ctx, 250*time.Millisecond)
		m.RecordRebuild(ctx, time.Second)
	})
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordAssembly(ctx, "created")
		m.RecordExtractionFailures(ctx, 1)
		m.RecordStoreWriteFailure(ctx, "reset")
		m.RecordRemoved(ctx, "remove_selected", 1)
		m.RecordPage(ctx, time.Millisecond)
		m.RecordRebuild(ctx, time.Millisecond)
	})
}

func TestNew_DefaultsToGlobalProvider(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
