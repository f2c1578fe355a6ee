package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/nesthaus/riskengine/internal/engine"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5435"`
	PGUser      string `env:"PGUSER" envDefault:"riskengine"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"riskengine"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"riskengine"`

	// JWT
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTAnalystExpiry time.Duration `env:"JWT_ANALYST_EXPIRY" envDefault:"8h"`
	JWTServiceExpiry time.Duration `env:"JWT_SERVICE_EXPIRY" envDefault:"24h"`

	// Server
	APIPort        int           `env:"API_PORT" envDefault:"3100"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`

	// Kafka
	KafkaBrokers     string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled     bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaEventsTopic string `env:"KAFKA_EVENTS_TOPIC" envDefault:"security.events"`
	KafkaAlertsTopic string `env:"KAFKA_ALERTS_TOPIC" envDefault:"security.alerts"`
	KafkaGroupID     string `env:"KAFKA_GROUP_ID" envDefault:"security-archive"`
	ShipperQueueSize int    `env:"SHIPPER_QUEUE_SIZE" envDefault:"1024"`

	// Archive
	ArchiveEnabled bool `env:"ARCHIVE_ENABLED" envDefault:"false"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Collector
	CollectorRateLimit  int           `env:"COLLECTOR_RATE_LIMIT" envDefault:"120"`
	CollectorRateWindow time.Duration `env:"COLLECTOR_RATE_WINDOW" envDefault:"1m"`

	// Engine
	StrictMode         bool          `env:"SECURITY_STRICT_MODE" envDefault:"false"`
	BlockOnDetection   bool          `env:"SECURITY_BLOCK_ON_DETECTION" envDefault:"false"`
	BehaviorAnalysis   bool          `env:"SECURITY_BEHAVIOR_ANALYSIS" envDefault:"true"`
	BotDetection       bool          `env:"SECURITY_BOT_DETECTION" envDefault:"true"`
	RealTimeMonitoring bool          `env:"SECURITY_REALTIME_MONITORING" envDefault:"true"`
	WhitelistedAgents  []string      `env:"SECURITY_WHITELISTED_AGENTS" envSeparator:","`
	SessionTTL         time.Duration `env:"SECURITY_SESSION_TTL" envDefault:"30m"`
	EventCapacity      int           `env:"SECURITY_EVENT_CAPACITY" envDefault:"10000"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
}

// LoadConfig reads an optional .env file and then parses environment
// variables into a Config struct. Variables already set win over the file.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass (local dev only).
func (c *Config) Validate() error {
	if c.CollectorRateLimit < 1 {
		return fmt.Errorf("COLLECTOR_RATE_LIMIT must be positive, got %d", c.CollectorRateLimit)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SECURITY_SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

// Brokers splits KAFKA_BROKERS into addresses.
func (c *Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS into origins.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// EngineConfig maps the environment onto the engine defaults.
func (c *Config) EngineConfig() engine.Config {
	ec := engine.DefaultConfig()
	ec.BehaviorAnalysis = c.BehaviorAnalysis
	ec.SessionTTL = c.SessionTTL
	ec.Detector.Enabled = c.BotDetection
	ec.Detector.StrictMode = c.StrictMode
	ec.Detector.BlockOnDetection = c.BlockOnDetection
	ec.Detector.WhitelistedUserAgents = append(ec.Detector.WhitelistedUserAgents, c.WhitelistedAgents...)
	ec.Monitor.RealTimeMonitoring = c.RealTimeMonitoring
	if c.EventCapacity > 0 {
		ec.Monitor.EventCapacity = c.EventCapacity
	}
	return ec
}
