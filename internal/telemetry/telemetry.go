// Package telemetry wires OpenTelemetry tracing, metrics and logs. Without an
// OTLP endpoint traces are recorded but not exported, and metrics are only
// exposed through the Prometheus registry.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// InstrumentationName is the tracer and logger scope used by dispatchd.
const InstrumentationName = "github.com/shaharia-lab/dispatchd"

// Config selects what Setup installs.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP gRPC collector address. Empty disables export.
	Endpoint string
	// Insecure disables TLS to the collector.
	Insecure bool
	// Registerer receives the OpenTelemetry metrics (e.g. otelhttp server
	// metrics) through the Prometheus exporter. Nil skips the bridge.
	Registerer prometheus.Registerer
}

// Telemetry owns the installed providers.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
}

// Setup creates the providers and installs them as the otel globals.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	t := &Telemetry{}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.Registerer != nil {
		promExporter, err := otelprom.New(otelprom.WithRegisterer(cfg.Registerer))
		if err != nil {
			return nil, fmt.Errorf("creating prometheus metric exporter: %w", err)
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(promExporter))
	}

	if cfg.Endpoint != "" {
		traceExporter, err := otlptracegrpc.New(ctx, traceGRPCOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("creating otlp trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(traceExporter))

		metricExporter, err := otlpmetricgrpc.New(ctx, metricGRPCOptions(cfg)...)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("creating otlp metric exporter: %w", err), traceExporter.Shutdown(ctx))
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))

		logExporter, err := otlploggrpc.New(ctx, logGRPCOptions(cfg)...)
		if err != nil {
			return nil, errors.Join(
				fmt.Errorf("creating otlp log exporter: %w", err),
				traceExporter.Shutdown(ctx),
				metricExporter.Shutdown(ctx),
			)
		}
		t.loggerProvider = sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		)
		global.SetLoggerProvider(t.loggerProvider)
	}

	t.tracerProvider = sdktrace.NewTracerProvider(traceOpts...)
	t.meterProvider = sdkmetric.NewMeterProvider(metricOpts...)

	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return t, nil
}

// dialOptions are shared by every OTLP exporter connection.
func dialOptions(cfg Config) []grpc.DialOption {
	return []grpc.DialOption{grpc.WithUserAgent(cfg.ServiceName + "/" + cfg.ServiceVersion)}
}

func clientTLS() credentials.TransportCredentials {
	return credentials.NewClientTLSFromCert(nil, "")
}

func traceGRPCOptions(cfg Config) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(dialOptions(cfg)...),
	}
	if cfg.Insecure {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(clientTLS()))
}

func metricGRPCOptions(cfg Config) []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithDialOption(dialOptions(cfg)...),
	}
	if cfg.Insecure {
		return append(opts, otlpmetricgrpc.WithInsecure())
	}
	return append(opts, otlpmetricgrpc.WithTLSCredentials(clientTLS()))
}

func logGRPCOptions(cfg Config) []otlploggrpc.Option {
	opts := []otlploggrpc.Option{
		otlploggrpc.WithEndpoint(cfg.Endpoint),
		otlploggrpc.WithDialOption(dialOptions(cfg)...),
	}
	if cfg.Insecure {
		return append(opts, otlploggrpc.WithInsecure())
	}
	return append(opts, otlploggrpc.WithTLSCredentials(clientTLS()))
}

// TracerProvider returns the installed tracer provider.
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the installed meter provider.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// LogHandler returns an slog handler that forwards records to the OTLP log
// exporter, or nil when export is disabled.
func (t *Telemetry) LogHandler() slog.Handler {
	if t.loggerProvider == nil {
		return nil
	}
	return otelslog.NewHandler(InstrumentationName, otelslog.WithLoggerProvider(t.loggerProvider))
}

// Shutdown flushes and stops every provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}
	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}
	if t.loggerProvider != nil {
		errs = append(errs, t.loggerProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
