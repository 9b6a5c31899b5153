package cmd

import (
	"testing"

	"github.com/MeKo-Tech/codescan/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestServeCommandFlags(t *testing.T) {
	defaults := config.DefaultConfig()
	flags := serveCmd.Flags()

	port, err := flags.GetInt("port")
	assert.NoError(t, err)
	assert.Equal(t, defaults.Server.Port, port)

	host, err := flags.GetString("host")
	assert.NoError(t, err)
	assert.Equal(t, defaults.Server.Host, host)

	for _, b := range serveFlagBindings {
		assert.NotNil(t, flags.Lookup(b.flag), "missing flag %s", b.flag)
	}
}

func TestServerConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 9000
	cfg.Server.MaxUploadMB = 5
	cfg.Server.OverlayEnabled = false
	cfg.Output.OverlayColor = "#ff0000"
	cfg.Server.RateLimit = config.RateLimitConfig{
		RequestsPerMinute: 10,
		RequestsPerHour:   100,
		MaxRequestsPerDay: 1000,
		MaxDataPerDayMB:   2,
	}

	sc := serverConfig(&cfg)
	assert.Equal(t, "0.0.0.0", sc.Host)
	assert.Equal(t, 9000, sc.Port)
	assert.Equal(t, int64(5), sc.MaxUploadMB)
	assert.False(t, sc.OverlayEnabled)
	assert.Equal(t, "#ff0000", sc.OverlayColor)
	assert.Equal(t, 10, sc.RateLimit.RequestsPerMinute)
	assert.Equal(t, 100, sc.RateLimit.RequestsPerHour)
	assert.Equal(t, 1000, sc.RateLimit.MaxRequestsPerDay)
	assert.Equal(t, int64(2*1024*1024), sc.RateLimit.MaxDataPerDay)
	assert.True(t, sc.RateLimit.Enabled())
	assert.Equal(t, cfg.Detector.InputSize, sc.PipelineConfig.Detector.InputSize)
}

func TestServerConfig_RateLimitOffByDefault(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.False(t, serverConfig(&cfg).RateLimit.Enabled())
}
