package http

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
)

const instrumentationName = "github.com/freekieb7/gravel-fileserver/http"

// HeaderCarrier exposes request headers to an OpenTelemetry propagator for
// extraction.
type HeaderCarrier struct {
	Headers *Headers
}

var _ propagation.TextMapCarrier = HeaderCarrier{}

func (carrier HeaderCarrier) Get(key string) string {
	value, _ := carrier.Headers.GetFold(key)
	return value
}

// Set is a no-op: the carrier only extracts, a parsed Request is never modified.
func (carrier HeaderCarrier) Set(key, value string) {}

func (carrier HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*carrier.Headers))
	for _, header := range *carrier.Headers {
		keys = append(keys, header.Name)
	}
	return keys
}

type serverInstruments struct {
	requests    metric.Int64Counter
	duration    metric.Float64Histogram
	connections metric.Int64UpDownCounter
}

func newServerInstruments(meter metric.Meter, logger *slog.Logger) serverInstruments {
	var instruments serverInstruments
	var err error

	instruments.requests, err = meter.Int64Counter("http.server.requests",
		metric.WithDescription("Requests answered, by route and status code"),
		metric.WithUnit("{request}"))
	if err != nil {
		logger.Warn("creating request counter failed", "error", err)
	}
	if instruments.requests == nil {
		instruments.requests = noop.Int64Counter{}
	}

	instruments.duration, err = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Time from accept to the end of the response write"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Warn("creating duration histogram failed", "error", err)
	}
	if instruments.duration == nil {
		instruments.duration = noop.Float64Histogram{}
	}

	instruments.connections, err = meter.Int64UpDownCounter("http.server.active_connections",
		metric.WithDescription("Connections currently being served"),
		metric.WithUnit("{connection}"))
	if err != nil {
		logger.Warn("creating connection counter failed", "error", err)
	}
	if instruments.connections == nil {
		instruments.connections = noop.Int64UpDownCounter{}
	}

	return instruments
}

func (instruments serverInstruments) record(ctx context.Context, method, route string, status uint16, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", int(status)),
	)
	instruments.requests.Add(ctx, 1, attrs)
	instruments.duration.Record(ctx, elapsed.Seconds(), attrs)
}
