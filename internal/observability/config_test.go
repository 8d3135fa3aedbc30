package observability

import (
	"testing"

	"github.com/smallbiznis/iuran/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigPrefersEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OTEL_SAMPLING_RATIO", "4")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "http/protobuf")

	cfg := LoadConfig(config.Config{AppName: " ", Environment: "production", OTLPEndpoint: "collector:4317"})
	assert.Equal(t, "iuran", cfg.ServiceName)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.Equal(t, "http/protobuf", cfg.OtelExporterProtocol)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.True(t, cfg.Debug())
}

func TestDebugFollowsEnvironment(t *testing.T) {
	assert.True(t, Config{Environment: "Local", LogLevel: "info"}.Debug())
	assert.False(t, Config{Environment: "production", LogLevel: "info"}.Debug())
}
