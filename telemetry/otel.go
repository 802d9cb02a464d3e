package telemetry

import (
	"context"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/learnwise/cachecore/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

const exportTimeout = 10 * time.Second

type ShutdownFunc func()

// New installs a global tracer provider exporting spans to the OTLP/HTTP
// collector at serverURL. The returned func flushes pending spans.
func New(ctx context.Context, serverURL string, authToken string, serviceName string, log logger.Logger) (ShutdownFunc, error) {
	otlpURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing otlp endpoint")
	}
	if otlpURL.Scheme != "http" && otlpURL.Scheme != "https" {
		return nil, errors.Newf("otlp endpoint %q must be an http(s) url", serverURL)
	}
	otlpURL.Path = "/v1/traces"

	res, err := resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
		log.Warn("partial telemetry resource: %v", err)
	} else if err != nil {
		return nil, errors.Wrap(err, "error creating resource")
	}

	headers := make(map[string]string)
	if authToken != "" {
		headers["Authorization"] = "Bearer " + authToken
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(otlpURL.String()),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithTimeout(exportTimeout),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if otlpURL.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "error creating trace exporter")
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	log.Debug("exporting traces to %s", otlpURL.String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			log.Warn("error flushing traces: %v", err)
		}
	}, nil
}
