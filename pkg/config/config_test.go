package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const minimal = `
instrument:
  symbol: BTC_KRW
microstructure:
  vpin_bucket_volume: 5
  amihud_scale: 0.000001
`

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, "dev", c.Environment)
	assert.Equal(t, 10, c.Microstructure.DepthLevels)
	assert.Equal(t, 50, c.Microstructure.VPINBuckets)
	assert.Equal(t, 30*time.Minute, c.Risk.Cooldown)
	assert.Equal(t, 3, c.Risk.MaxConsecutiveLosses)
	assert.InDelta(t, -0.03, c.Risk.DailyCVaRLimit, 1e-12)
	assert.Equal(t, []int{60, 240, 1440, 10080}, c.Fusion.MomentumWindows)
	assert.Equal(t, "paper", c.Gateway.Mode)
	assert.True(t, c.Risk.ForceCloseOnEmergency)
	assert.Equal(t, "latest", c.Kafka.Consumer.AutoOffsetReset)
	assert.Equal(t, time.Second, c.Loop.TickInterval)
	assert.Equal(t, 2, c.Funding.Attempts)
	assert.True(t, c.Server.CORS)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, minimal+`
risk:
  cooldown: 45m
  force_close_on_emergency: false
  day_boundary: "09:00"
  timezone: Asia/Seoul
`))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, c.Risk.Cooldown)
	assert.False(t, c.Risk.ForceCloseOnEmergency)

	b, err := c.DayBoundary()
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour, b)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing symbol":           "microstructure:\n  vpin_bucket_volume: 5\n  amihud_scale: 1\n",
		"missing bucket size":      "instrument:\n  symbol: X\nmicrostructure:\n  amihud_scale: 1\n",
		"weights mismatch":         minimal + "fusion:\n  momentum_weights: [1.0]\n",
		"bad boundary":             minimal + "risk:\n  day_boundary: noon\n",
		"kafka without brokers":    minimal + "gateway:\n  mode: kafka\n",
		"warm start without store": minimal + "warm_start:\n  enabled: true\n",
		"ingest without brokers":   minimal + "clickhouse:\n  enabled: true\n  kafka_ingest: true\n",
		"bad offset reset":         minimal + "kafka:\n  consumer:\n    auto_offset_reset: middle\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("GATEWAY_MODE", "kafka")
	t.Setenv("SERVER_PORT", "9090")

	c, err := LoadWithEnv(writeConfig(t, minimal))
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "kafka", c.Gateway.Mode)
	assert.Equal(t, 9090, c.Server.Port)
}
