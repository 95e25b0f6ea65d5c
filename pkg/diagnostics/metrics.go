package diagnostics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

// Metrics holds the counters the resolver's hot paths record. There is no
// OTLP collector in this deployment; a metric.ManualReader is polled
// directly on the reactor's tick and the snapshot is logged, the minimal
// wiring that exercises otel/sdk/metric without a push exporter.
type Metrics struct {
	log    *zap.SugaredLogger
	reader *sdkmetric.ManualReader

	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	searches    metric.Int64Counter
	iocsLost    metric.Int64Counter
	purges      metric.Int64Counter
}

// NewMetrics builds a Meter backed by a fresh ManualReader and registers
// the resolver's counters against it.
func NewMetrics() (*Metrics, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("pvmapper/resolver")

	m := &Metrics{log: zap.S().Named("diagnostics"), reader: reader}

	var err error
	if m.cacheHits, err = meter.Int64Counter("pvmapper.cache.hits"); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = meter.Int64Counter("pvmapper.cache.misses"); err != nil {
		return nil, err
	}
	if m.searches, err = meter.Int64Counter("pvmapper.searches.issued"); err != nil {
		return nil, err
	}
	if m.iocsLost, err = meter.Int64Counter("pvmapper.iocs.lost"); err != nil {
		return nil, err
	}
	if m.purges, err = meter.Int64Counter("pvmapper.purges.completed"); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordCacheHit(ctx context.Context)     { m.cacheHits.Add(ctx, 1) }
func (m *Metrics) RecordCacheMiss(ctx context.Context)    { m.cacheMisses.Add(ctx, 1) }
func (m *Metrics) RecordSearchIssued(ctx context.Context) { m.searches.Add(ctx, 1) }
func (m *Metrics) RecordIOCLost(ctx context.Context)      { m.iocsLost.Add(ctx, 1) }
func (m *Metrics) RecordPurge(ctx context.Context)        { m.purges.Add(ctx, 1) }

// LogSnapshot collects the current counter values from the manual reader
// and logs them at debug level. cmd/pvmapperd calls it from the reactor's
// OnStep hook, right after Dispatcher.Tick.
func (m *Metrics) LogSnapshot(ctx context.Context) error {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return err
	}

	for _, scope := range rm.ScopeMetrics {
		for _, data := range scope.Metrics {
			m.log.Debugw("metric snapshot", "name", data.Name, "data", data.Data)
		}
	}
	return nil
}
