package observability

import (
	"github.com/smallbiznis/iuran/internal/observability/logger"
	"github.com/smallbiznis/iuran/internal/observability/metrics"
	"github.com/smallbiznis/iuran/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
	),
	fx.Invoke(registerDuesMetrics),
)

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		SamplingInitial:     cfg.LogSamplingInitial,
		SamplingThereafter:  cfg.LogSamplingAfter,
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}
}

// registerDuesMetrics binds the dues collectors to the service labels before
// any component touches them. Taking the tracer provider forces it to be
// built and installed as the otel global at startup.
func registerDuesMetrics(cfg metrics.Config, _ *sdktrace.TracerProvider, log *zap.Logger) {
	metrics.DuesWithConfig(cfg)
	log.Debug("dues metrics registered", zap.String("service", cfg.ServiceName))
}
