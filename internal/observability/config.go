package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/iuran/internal/config"
)

// Config is the observability view of the process configuration. Values
// come from config.Config and can be overridden with the usual OTEL_ and
// LOG_ environment variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel           string
	LogFormat          string
	LogSamplingInitial int
	LogSamplingAfter   int

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

var debugEnvironments = map[string]struct{}{
	"dev":         {},
	"development": {},
	"local":       {},
	"test":        {},
}

func LoadConfig(cfg config.Config) Config {
	service := strings.TrimSpace(cfg.AppName)
	if service == "" {
		service = "iuran"
	}

	out := Config{
		ServiceName:          service,
		Environment:          envOr("DEPLOYMENT_ENV", cfg.Environment),
		Version:              envOr("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:             strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(envOr("LOG_FORMAT", "json")),
		LogSamplingInitial:   envInt("LOG_SAMPLING_INITIAL", 0),
		LogSamplingAfter:     envInt("LOG_SAMPLING_THEREAFTER", 0),
		OtelEnabled:          cfg.OtelEnabled,
		OtelExporterEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(envOr("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OtelSamplingRatio:    envRatio("OTEL_SAMPLING_RATIO", 0.1),
	}
	return out
}

// Debug reports whether request logs carry stacks and the logger runs in
// development mode.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	_, ok := debugEnvironments[strings.ToLower(strings.TrimSpace(c.Environment))]
	return ok
}

func envOr(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(def)
}

func envInt(key string, def int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return parsed
}

// envRatio clamps the sampling ratio to [0, 1].
func envRatio(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	switch {
	case parsed < 0:
		return 0
	case parsed > 1:
		return 1
	default:
		return parsed
	}
}
