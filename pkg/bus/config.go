package bus

import (
	"log/slog"
	"time"

	"github.com/vnykmshr/pacer/pkg/common/validation"
	"github.com/vnykmshr/pacer/pkg/metrics"
	"github.com/vnykmshr/pacer/pkg/transport/gossip"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory      = "memory"
	BackendRedis       = "redis"
	BackendRedisPubSub = "redis-pubsub"
	BackendSQLite      = "sqlite"
	BackendGossip      = "gossip"
)

// Backends lists every supported backend name.
var Backends = []string{BackendMemory, BackendRedis, BackendRedisPubSub, BackendSQLite, BackendGossip}

// Config holds configuration for a Bus.
type Config struct {
	// Backend selects the transport. Resolved once by Open.
	Backend string

	// URL is the redis connection string for the redis backends.
	URL string

	// KeyPrefix is prepended to channel names in redis and gossip.
	KeyPrefix string

	// SQLitePath is the queue file for the sqlite backend.
	SQLitePath string

	// Gossip configures the libp2p host for the gossip backend.
	Gossip gossip.Options

	// ConnectTimeout bounds backend start-up checks.
	ConnectTimeout time.Duration

	// PublishTimeout bounds a single Publish.
	PublishTimeout time.Duration

	// PollInterval is the longest a subscriber waits between
	// cancellation checks.
	PollInterval time.Duration

	// MemoryCapacity bounds each in-memory channel. Zero is unbounded.
	MemoryCapacity int

	// MemoryStrategy is block, drop, drop_oldest or error.
	MemoryStrategy string

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// DefaultConfig returns a memory-backed configuration with a one second poll.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendMemory,
		ConnectTimeout: 2 * time.Second,
		PublishTimeout: 2 * time.Second,
		PollInterval:   time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = d.PublishTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if err := validation.ValidateOneOf("bus", "backend", c.Backend, Backends...); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration("bus", "poll_interval", c.PollInterval); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration("bus", "publish_timeout", c.PublishTimeout); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration("bus", "connect_timeout", c.ConnectTimeout); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("bus", "memory_capacity", float64(c.MemoryCapacity)); err != nil {
		return err
	}
	if c.Backend == BackendSQLite {
		return validation.ValidateNotEmpty("bus", "sqlite_path", c.SQLitePath)
	}
	return nil
}
