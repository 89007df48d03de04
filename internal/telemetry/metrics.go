package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/LabShare/services"
)

// Result values recorded on AuthRequestsTotal.
const (
	AuthResultAnonymous     = "anonymous"
	AuthResultCached        = "cached"
	AuthResultAuthenticated = "authenticated"
	AuthResultInvalid       = "invalid"
	AuthResultFailed        = "failed"
)

// Reason values recorded on ShutdownsTotal.
const (
	ShutdownDrained = "drained"
	ShutdownForced  = "forced"
	ShutdownFailed  = "failed"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Auth gate metrics
	AuthRequestsTotal  metric.Int64Counter
	AuthLookupsTotal   metric.Int64Counter
	AuthLookupDuration metric.Float64Histogram

	// Session metrics
	SessionsSavedTotal     metric.Int64Counter
	SessionSaveErrorsTotal metric.Int64Counter
	SessionsSweptTotal     metric.Int64Counter

	// Server lifecycle metrics
	ShutdownsTotal   metric.Int64Counter
	ShutdownDuration metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = NewMetrics(otel.GetMeterProvider())
	})
	return metrics
}

// NewMetrics creates all metric instruments on the given provider.
func NewMetrics(provider metric.MeterProvider) *Metrics {
	meter := provider.Meter(meterName)

	m := &Metrics{}

	// Auth gate metrics
	m.AuthRequestsTotal, _ = meter.Int64Counter(
		"labshare.auth.requests.total",
		metric.WithDescription("Total number of requests seen by the auth gate, by result"),
		metric.WithUnit("{request}"),
	)

	m.AuthLookupsTotal, _ = meter.Int64Counter(
		"labshare.auth.lookups.total",
		metric.WithDescription("Total number of external user lookups"),
		metric.WithUnit("{lookup}"),
	)

	m.AuthLookupDuration, _ = meter.Float64Histogram(
		"labshare.auth.lookup.duration",
		metric.WithDescription("Duration of external user lookups"),
		metric.WithUnit("ms"),
	)

	// Session metrics
	m.SessionsSavedTotal, _ = meter.Int64Counter(
		"labshare.sessions.saved.total",
		metric.WithDescription("Total number of sessions persisted"),
		metric.WithUnit("{session}"),
	)

	m.SessionSaveErrorsTotal, _ = meter.Int64Counter(
		"labshare.sessions.save_errors.total",
		metric.WithDescription("Total number of failed session saves"),
		metric.WithUnit("{error}"),
	)

	m.SessionsSweptTotal, _ = meter.Int64Counter(
		"labshare.sessions.swept.total",
		metric.WithDescription("Total number of expired sessions removed by the sweeper"),
		metric.WithUnit("{session}"),
	)

	// Server lifecycle metrics
	m.ShutdownsTotal, _ = meter.Int64Counter(
		"labshare.server.shutdowns.total",
		metric.WithDescription("Total number of shutdown sequences, by reason"),
		metric.WithUnit("{shutdown}"),
	)

	m.ShutdownDuration, _ = meter.Float64Histogram(
		"labshare.server.shutdown.duration",
		metric.WithDescription("Time from termination signal to server close"),
		metric.WithUnit("ms"),
	)

	return m
}

// ResultAttr is the attribute set used for result-labelled counters.
func ResultAttr(result string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("result", result))
}

// ReasonAttr is the attribute set used for reason-labelled counters.
func ReasonAttr(reason string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("reason", reason))
}
