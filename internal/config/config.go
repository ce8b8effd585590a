package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/manpreetbhatti/scribble/internal/history"
)

// Value of SCRIBBLE_DB_PATH that runs without storage
const StorageOff = "off"

type Config struct {
	ServerHost string
	ServerPort string

	DBPath string

	// Stroke limits
	MaxStrokePoints int
	MaxStrokeWidth  float64

	// Per-connection flow control
	MessagesPerSecond float64
	MessageBurst      int
	SendQueueSize     int
	MaxRooms          int

	// Checkpoints and journal retention
	CheckpointInterval time.Duration
	CheckpointKeepAuto int
	JournalKeep        int

	// Observability
	JaegerEndpoint   string
	MetricsNamespace string

	// LAN discovery
	MDNSEnabled  bool
	MDNSInstance string

	// Checkpoint archive
	S3Bucket           string
	S3Prefix           string
	S3Region           string
	S3Endpoint         string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerHost: getEnv("SERVER_HOST", ""),
		ServerPort: getEnv("PORT", "8080"),

		DBPath: getEnv("SCRIBBLE_DB_PATH", "./data/scribble.db"),

		MaxStrokePoints: getEnvInt("MAX_STROKE_POINTS", 10000),
		MaxStrokeWidth:  getEnvFloat("MAX_STROKE_WIDTH", 200),

		MessagesPerSecond: getEnvFloat("MESSAGES_PER_SECOND", 100),
		MessageBurst:      getEnvInt("MESSAGE_BURST", 200),
		SendQueueSize:     getEnvInt("SEND_QUEUE_SIZE", 512),
		MaxRooms:          getEnvInt("MAX_ROOMS", 1000),

		CheckpointInterval: getEnvDuration("CHECKPOINT_INTERVAL", 5*time.Minute),
		CheckpointKeepAuto: getEnvInt("CHECKPOINT_KEEP_AUTO", 20),
		JournalKeep:        getEnvInt("JOURNAL_KEEP", 5000),

		JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", ""),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "scribble"),

		MDNSEnabled:  getEnvBool("MDNS_ENABLED", false),
		MDNSInstance: getEnv("MDNS_INSTANCE", ""),

		S3Bucket:           getEnv("S3_BUCKET", ""),
		S3Prefix:           getEnv("S3_PREFIX", "checkpoints/"),
		S3Region:           getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.ServerPort)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid PORT %q", c.ServerPort)
	}
	if c.DBPath == "" {
		return fmt.Errorf("SCRIBBLE_DB_PATH must not be empty (use %q to disable storage)", StorageOff)
	}
	if c.MaxStrokePoints < 2 {
		return fmt.Errorf("MAX_STROKE_POINTS must be at least 2, got %d", c.MaxStrokePoints)
	}
	if c.MaxStrokeWidth <= 0 {
		return fmt.Errorf("MAX_STROKE_WIDTH must be positive, got %v", c.MaxStrokeWidth)
	}
	if c.MessagesPerSecond <= 0 || c.MessageBurst < 1 {
		return fmt.Errorf("MESSAGES_PER_SECOND and MESSAGE_BURST must be positive")
	}
	if c.SendQueueSize < 1 {
		return fmt.Errorf("SEND_QUEUE_SIZE must be positive, got %d", c.SendQueueSize)
	}
	if c.MaxRooms < 1 {
		return fmt.Errorf("MAX_ROOMS must be positive, got %d", c.MaxRooms)
	}
	if c.CheckpointInterval < time.Second {
		return fmt.Errorf("CHECKPOINT_INTERVAL must be at least 1s, got %v", c.CheckpointInterval)
	}
	if c.CheckpointKeepAuto < 1 || c.JournalKeep < 0 {
		return fmt.Errorf("CHECKPOINT_KEEP_AUTO must be positive and JOURNAL_KEEP not negative")
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return fmt.Errorf("S3_REGION is required when S3_BUCKET is set")
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.ServerHost, c.ServerPort)
}

func (c *Config) StorageEnabled() bool {
	return !strings.EqualFold(c.DBPath, StorageOff)
}

func (c *Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

func (c *Config) TracingEnabled() bool {
	return c.JaegerEndpoint != ""
}

func (c *Config) Limits() history.Limits {
	limits := history.DefaultLimits()
	limits.MaxPoints = c.MaxStrokePoints
	limits.MaxWidth = c.MaxStrokeWidth
	return limits
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}
