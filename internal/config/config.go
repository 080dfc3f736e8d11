package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverSurreal  = "surreal"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	TCPPort     string `yaml:"tcp_port"`
	MetricsPort string `yaml:"metrics_port"`
	HealthPort  string `yaml:"health_port"`
	LogLevel    string `yaml:"log_level"`

	Relay RelayConfig `yaml:"relay"`
	Store StoreConfig `yaml:"store"`
	Redis RedisConfig `yaml:"redis"`
	NATS  NATSConfig  `yaml:"nats"`
}

type RelayConfig struct {
	AckEnabled    bool          `yaml:"ack_enabled"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	StoreTimeout  time.Duration `yaml:"store_timeout"`
	MaxFrameBytes int           `yaml:"max_frame_bytes"`
	// FrameTimeout drops a partial item that receives no bytes for this
	// long. Zero waits forever.
	FrameTimeout  time.Duration `yaml:"frame_timeout"`
	GeoProjection bool          `yaml:"geo_projection"`
}

type StoreConfig struct {
	Driver           string `yaml:"driver"`
	SurrealURL       string `yaml:"surreal_url"`
	SurrealNamespace string `yaml:"surreal_namespace"`
	SurrealDatabase  string `yaml:"surreal_database"`
	SurrealUser      string `yaml:"surreal_user"`
	SurrealPass      string `yaml:"surreal_pass"`
	PostgresDSN      string `yaml:"postgres_dsn"`
	FixCollection    string `yaml:"fix_collection"`
	GeoCollection    string `yaml:"geo_collection"`
}

// RedisConfig enables the last-position cache when Addr is set.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	DB          int           `yaml:"db"`
	PositionTTL time.Duration `yaml:"position_ttl"`
}

// NATSConfig enables fix events when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

func Defaults() Config {
	return Config{
		TCPPort:     "4000",
		MetricsPort: "9000",
		HealthPort:  "50051",
		LogLevel:    "info",
		Relay: RelayConfig{
			AckEnabled:    true,
			WriteTimeout:  10 * time.Second,
			StoreTimeout:  10 * time.Second,
			MaxFrameBytes: 64 * 1024,
			FrameTimeout:  5 * time.Second,
			GeoProjection: true,
		},
		Store: StoreConfig{
			Driver:           DriverSurreal,
			SurrealURL:       "ws://localhost:8000",
			SurrealNamespace: "gps",
			SurrealDatabase:  "relay",
			SurrealUser:      "root",
			SurrealPass:      "root",
			PostgresDSN:      "postgres://localhost:5432/gps?sslmode=disable",
			FixCollection:    "gpsdatas",
			GeoCollection:    "gpsgeodatas",
		},
		Redis: RedisConfig{
			PositionTTL: 24 * time.Hour,
		},
		NATS: NATSConfig{
			SubjectPrefix: "gps",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	c.TCPPort = getEnv("TCP_PORT", c.TCPPort)
	c.MetricsPort = getEnv("METRICS_PORT", c.MetricsPort)
	c.HealthPort = getEnv("HEALTH_PORT", c.HealthPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.SurrealURL = getEnv("SURREAL_URL", c.Store.SurrealURL)
	c.Store.SurrealNamespace = getEnv("SURREAL_NAMESPACE", c.Store.SurrealNamespace)
	c.Store.SurrealDatabase = getEnv("SURREAL_DATABASE", c.Store.SurrealDatabase)
	c.Store.SurrealUser = getEnv("SURREAL_USER", c.Store.SurrealUser)
	c.Store.SurrealPass = getEnv("SURREAL_PASS", c.Store.SurrealPass)
	c.Store.PostgresDSN = getEnv("POSTGRES_DSN", c.Store.PostgresDSN)
	c.Store.FixCollection = getEnv("FIX_COLLECTION", c.Store.FixCollection)
	c.Store.GeoCollection = getEnv("GEO_COLLECTION", c.Store.GeoCollection)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)

	var err error
	if c.Redis.DB, err = getEnvInt("REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	if c.Redis.PositionTTL, err = getEnvDuration("POSITION_TTL", c.Redis.PositionTTL); err != nil {
		return err
	}
	if c.Relay.AckEnabled, err = getEnvBool("ACK_ENABLED", c.Relay.AckEnabled); err != nil {
		return err
	}
	if c.Relay.GeoProjection, err = getEnvBool("GEO_PROJECTION", c.Relay.GeoProjection); err != nil {
		return err
	}
	if c.Relay.WriteTimeout, err = getEnvDuration("WRITE_TIMEOUT", c.Relay.WriteTimeout); err != nil {
		return err
	}
	if c.Relay.StoreTimeout, err = getEnvDuration("STORE_TIMEOUT", c.Relay.StoreTimeout); err != nil {
		return err
	}
	if c.Relay.MaxFrameBytes, err = getEnvInt("MAX_FRAME_BYTES", c.Relay.MaxFrameBytes); err != nil {
		return err
	}
	if c.Relay.FrameTimeout, err = getEnvDuration("FRAME_TIMEOUT", c.Relay.FrameTimeout); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverSurreal, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.TCPPort == "" {
		return fmt.Errorf("config: tcp port is required")
	}
	if c.Store.FixCollection == "" || c.Store.GeoCollection == "" {
		return fmt.Errorf("config: collection names are required")
	}
	if c.Relay.MaxFrameBytes <= 0 {
		return fmt.Errorf("config: max frame bytes must be positive")
	}
	if c.Relay.WriteTimeout <= 0 || c.Relay.StoreTimeout <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	if c.Relay.FrameTimeout < 0 {
		return fmt.Errorf("config: frame timeout must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
