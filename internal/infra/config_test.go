package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3100, cfg.APIPort)
	assert.Equal(t, "security.events", cfg.KafkaEventsTopic)
	assert.Equal(t, "security.alerts", cfg.KafkaAlertsTopic)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.True(t, cfg.BehaviorAnalysis)
	assert.Equal(t, 24*time.Hour, cfg.JWTServiceExpiry)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("API_PORT", "8088")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SECURITY_STRICT_MODE", "true")
	t.Setenv("SECURITY_SESSION_TTL", "10m")
	t.Setenv("SECURITY_WHITELISTED_AGENTS", "UptimeRobot,Pingdom")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.APIPort)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
	assert.True(t, cfg.StrictMode)
	assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
	assert.Equal(t, []string{"UptimeRobot", "Pingdom"}, cfg.WhitelistedAgents)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return &Config{
			JWTSecret:          "0123456789abcdef0123456789abcdef",
			CollectorRateLimit: 10,
			SessionTTL:         time.Minute,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "insecure default secret", mutate: func(c *Config) { c.JWTSecret = "change-me-in-production" }, wantErr: "insecure default"},
		{name: "short secret", mutate: func(c *Config) { c.JWTSecret = "short" }, wantErr: "too short"},
		{name: "insecure allowed", mutate: func(c *Config) {
			c.JWTSecret = "short"
			c.AllowInsecureDefaults = true
		}},
		{name: "zero rate limit", mutate: func(c *Config) { c.CollectorRateLimit = 0 }, wantErr: "COLLECTOR_RATE_LIMIT"},
		{name: "zero ttl", mutate: func(c *Config) {
			c.SessionTTL = 0
			c.AllowInsecureDefaults = true
		}, wantErr: "SECURITY_SESSION_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	c := &Config{PGUser: "u", PGPassword: "p", PGHost: "db", PGPort: 5432, PGDatabase: "risk"}
	assert.Equal(t, "postgres://u:p@db:5432/risk?sslmode=disable", c.DSN())

	c.DatabaseURL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}

func TestConfig_EngineConfig(t *testing.T) {
	c := &Config{
		StrictMode:         true,
		BlockOnDetection:   true,
		BehaviorAnalysis:   false,
		BotDetection:       true,
		RealTimeMonitoring: false,
		WhitelistedAgents:  []string{"UptimeRobot"},
		SessionTTL:         5 * time.Minute,
		EventCapacity:      500,
	}

	ec := c.EngineConfig()
	assert.True(t, ec.Detector.StrictMode)
	assert.True(t, ec.Detector.BlockOnDetection)
	assert.True(t, ec.Detector.Enabled)
	assert.False(t, ec.BehaviorAnalysis)
	assert.False(t, ec.Monitor.RealTimeMonitoring)
	assert.Contains(t, ec.Detector.WhitelistedUserAgents, "UptimeRobot")
	assert.NotEmpty(t, ec.Detector.BlacklistedUserAgents)
	assert.Equal(t, 5*time.Minute, ec.SessionTTL)
	assert.Equal(t, 500, ec.Monitor.EventCapacity)
}
