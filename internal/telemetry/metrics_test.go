package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetrics_recordsResults(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m := NewMetrics(provider)
	ctx := context.Background()

	m.AuthRequestsTotal.Add(ctx, 2, ResultAttr(AuthResultCached))
	m.AuthRequestsTotal.Add(ctx, 1, ResultAttr(AuthResultInvalid))
	m.ShutdownsTotal.Add(ctx, 1, ReasonAttr(ShutdownForced))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Equal(t, meterName, rm.ScopeMetrics[0].Scope.Name)

	sums := map[string]map[string]int64{}
	for _, md := range rm.ScopeMetrics[0].Metrics {
		sum, ok := md.Data.(metricdata.Sum[int64])
		if !ok {
			continue
		}
		sums[md.Name] = map[string]int64{}
		for _, dp := range sum.DataPoints {
			for _, kv := range dp.Attributes.ToSlice() {
				sums[md.Name][kv.Value.AsString()] = dp.Value
			}
		}
	}

	require.Equal(t, map[string]int64{AuthResultCached: 2, AuthResultInvalid: 1}, sums["labshare.auth.requests.total"])
	require.Equal(t, map[string]int64{ShutdownForced: 1}, sums["labshare.server.shutdowns.total"])
}

func TestGetMetrics_singleton(t *testing.T) {
	require.Same(t, GetMetrics(), GetMetrics())
}
