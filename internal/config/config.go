package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is read from an optional YAML file (PERFASSESS_CONFIG) and then from
// the environment, which wins
type Config struct {
	HTTPPort      string `yaml:"httpPort" validate:"required,numeric"`
	MongoURI      string `yaml:"mongoUri" validate:"required,uri"`
	MongoDatabase string `yaml:"mongoDatabase" validate:"required"`
	RedisAddr     string `yaml:"redisAddr" validate:"required,hostname_port"`
	LogMode       string `yaml:"logMode" validate:"oneof=dev development prod production"`

	JWTSecret        string `yaml:"jwtSecret" validate:"required,min=16"`
	ObserverUsername string `yaml:"observerUsername" validate:"required"`
	ObserverPassword string `yaml:"observerPassword" validate:"required"`

	// SnapshotTTL is how long the latest snapshot of a session stays cached
	SnapshotTTL time.Duration `yaml:"snapshotTtl" validate:"gt=0"`
	// SnapshotInterval republishes every live session's snapshot; zero disables it
	SnapshotInterval time.Duration `yaml:"snapshotInterval" validate:"gte=0"`
	// SnapshotRateLimit caps published snapshots per second per session
	SnapshotRateLimit float64       `yaml:"snapshotRateLimit" validate:"gt=0"`
	SnapshotBurst     int           `yaml:"snapshotBurst" validate:"gte=1"`
	QueueWaitTimeout  time.Duration `yaml:"queueWaitTimeout" validate:"gt=0"`

	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
}

func Default() *Config {
	return &Config{
		HTTPPort:          "8080",
		MongoURI:          "mongodb://localhost:27017",
		MongoDatabase:     "perfassess",
		RedisAddr:         "localhost:6379",
		LogMode:           "dev",
		JWTSecret:         "super-secret-key-change-in-production",
		ObserverUsername:  "observer",
		ObserverPassword:  "password123",
		SnapshotTTL:       30 * time.Minute,
		SnapshotInterval:  0,
		SnapshotRateLimit: 10,
		SnapshotBurst:     5,
		QueueWaitTimeout:  5 * time.Second,
	}
}

func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("PERFASSESS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.MongoURI = getEnv("MONGO_URI", c.MongoURI)
	c.MongoDatabase = getEnv("MONGO_DATABASE", c.MongoDatabase)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.LogMode = getEnv("LOG_MODE", c.LogMode)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.ObserverUsername = getEnv("OBSERVER_USERNAME", c.ObserverUsername)
	c.ObserverPassword = getEnv("OBSERVER_PASSWORD", c.ObserverPassword)
	if origins := getEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		c.CORSAllowedOrigins = strings.Split(origins, ",")
	}

	var err error
	if c.SnapshotTTL, err = getEnvDuration("SNAPSHOT_TTL", c.SnapshotTTL); err != nil {
		return err
	}
	if c.SnapshotInterval, err = getEnvDuration("SNAPSHOT_INTERVAL", c.SnapshotInterval); err != nil {
		return err
	}
	if c.QueueWaitTimeout, err = getEnvDuration("QUEUE_WAIT_TIMEOUT", c.QueueWaitTimeout); err != nil {
		return err
	}
	if v := os.Getenv("SNAPSHOT_RATE_LIMIT"); v != "" {
		if c.SnapshotRateLimit, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("SNAPSHOT_RATE_LIMIT: %w", err)
		}
	}
	if v := os.Getenv("SNAPSHOT_BURST"); v != "" {
		if c.SnapshotBurst, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("SNAPSHOT_BURST: %w", err)
		}
	}
	return nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
