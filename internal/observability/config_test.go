package observability

import (
	"testing"

	"github.com/smallbiznis/mordomozap/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{Environment: "production"})
	assert.Equal(t, "mordomozap", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.Debug())
}

func TestDebugFollowsLevelAndEnvironment(t *testing.T) {
	assert.True(t, Config{Environment: "development"}.Debug())
	assert.True(t, Config{Environment: "production", LogLevel: "DEBUG"}.Debug())
	assert.False(t, Config{Environment: "staging", LogLevel: "warn"}.Debug())
}

func TestLoadConfigCarriesTelemetry(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName: "zap-proxy",
		Telemetry: config.TelemetryConfig{
			Enabled:       true,
			Endpoint:      "otel:4317",
			Protocol:      "grpc",
			SamplingRatio: 0.5,
		},
	})
	assert.Equal(t, "zap-proxy", cfg.ServiceName)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, "otel:4317", cfg.OtelExporterEndpoint)
	assert.Equal(t, 0.5, cfg.OtelSamplingRatio)
}
