package redisstore

import (
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mode selects how channels map onto redis.
type Mode int

const (
	// List stores each channel as a redis list: RPUSH to publish, BLPOP to
	// consume. Consumers compete and messages wait until someone takes them.
	List Mode = iota

	// PubSub uses PUBLISH/SUBSCRIBE. Every live subscriber gets a copy and a
	// message published with no subscriber is discarded by redis.
	PubSub
)

func (m Mode) String() string {
	switch m {
	case List:
		return "list"
	case PubSub:
		return "pubsub"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Config holds configuration for the redis store.
type Config struct {
	// Redis is an existing client. When nil, one is built from URL and closed
	// with the store.
	Redis redis.UniversalClient

	// URL is a redis:// or rediss:// connection string, used when Redis is nil.
	URL string

	// Mode selects list or pub/sub semantics.
	Mode Mode

	// KeyPrefix is prepended to every channel name.
	KeyPrefix string

	// ConnectTimeout bounds the initial PING.
	ConnectTimeout time.Duration

	// RedisTimeout bounds each non-blocking redis command.
	RedisTimeout time.Duration

	// InstanceID names this process in CLIENT LIST.
	InstanceID string
}

// DefaultURL is used when neither Redis nor URL is set.
const DefaultURL = "redis://localhost:6379"

// DefaultConfig returns a list-mode configuration for a local redis.
func DefaultConfig() Config {
	return Config{
		URL:            DefaultURL,
		Mode:           List,
		ConnectTimeout: 2 * time.Second,
		RedisTimeout:   2 * time.Second,
		InstanceID:     generateInstanceID(),
	}
}

// validateConfig validates the store configuration.
func validateConfig(config Config) error {
	if config.Redis == nil && config.URL == "" {
		return &ConfigError{"redis client or url is required"}
	}
	if config.Mode != List && config.Mode != PubSub {
		return &ConfigError{"unsupported mode " + config.Mode.String()}
	}
	if config.ConnectTimeout < 0 || config.RedisTimeout < 0 {
		return &ConfigError{"timeouts cannot be negative"}
	}
	return nil
}

// applyConfigDefaults sets default values for unspecified config fields.
func applyConfigDefaults(config Config) Config {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 2 * time.Second
	}
	if config.RedisTimeout == 0 {
		config.RedisTimeout = 2 * time.Second
	}
	if config.InstanceID == "" {
		config.InstanceID = generateInstanceID()
	}
	return config
}

// generateInstanceID creates a unique identifier for this process.
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	randomBytes := make([]byte, 4)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%s-%d-%x", hostname, os.Getpid(), randomBytes)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "redis store config error: " + e.Message
}

// RedisError represents a Redis operation error.
type RedisError struct {
	Operation string
	Err       error
}

func (e *RedisError) Error() string {
	return "redis error in " + e.Operation + ": " + e.Err.Error()
}

func (e *RedisError) Unwrap() error {
	return e.Err
}
