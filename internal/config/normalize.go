package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnv()
	if err := c.normalizeTransport(); err != nil {
		return err
	}
	c.normalizeChannels()
	if err := c.normalizeCoordinator(); err != nil {
		return err
	}
	if err := c.normalizeGossip(); err != nil {
		return err
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	c.Metrics.Namespace = strings.TrimSpace(c.Metrics.Namespace)
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = defaultMetricsNamespace
	}
	return c.normalizeLogging()
}

func (c *Config) applyEnv() {
	if value, ok := os.LookupEnv("REDIS_URL"); ok && strings.TrimSpace(value) != "" {
		c.Transport.URL = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("PACER_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
}

func (c *Config) normalizeTransport() error {
	c.Transport.Backend = strings.ToLower(strings.TrimSpace(c.Transport.Backend))
	if c.Transport.Backend == "" {
		c.Transport.Backend = defaultBackend
	}
	c.Transport.URL = strings.TrimSpace(c.Transport.URL)
	if c.Transport.URL == "" {
		c.Transport.URL = defaultRedisURL
	}
	var err error
	if c.Transport.SQLitePath, err = expandPath(strings.TrimSpace(c.Transport.SQLitePath)); err != nil {
		return fmt.Errorf("transport.sqlite_path: %w", err)
	}
	c.Transport.MemoryStrategy = strings.ToLower(strings.TrimSpace(c.Transport.MemoryStrategy))
	if c.Transport.MemoryStrategy == "" {
		c.Transport.MemoryStrategy = defaultMemoryStrategy
	}
	return nil
}

func (c *Config) normalizeChannels() {
	c.Channels.Raw = strings.TrimSpace(c.Channels.Raw)
	c.Channels.Analyzed = strings.TrimSpace(c.Channels.Analyzed)
	c.Channels.DeadLetter = strings.TrimSpace(c.Channels.DeadLetter)
}

func (c *Config) normalizeCoordinator() error {
	var err error
	if c.Coordinator.LockFile, err = expandPath(strings.TrimSpace(c.Coordinator.LockFile)); err != nil {
		return fmt.Errorf("coordinator.lock_file: %w", err)
	}
	c.Coordinator.MonitorSchedule = strings.TrimSpace(c.Coordinator.MonitorSchedule)
	c.Coordinator.MonitorSource = strings.ToLower(strings.TrimSpace(c.Coordinator.MonitorSource))
	if c.Coordinator.MonitorSource == "" {
		c.Coordinator.MonitorSource = defaultMonitorSource
	}
	return nil
}

func (c *Config) normalizeGossip() error {
	var err error
	if c.Gossip.IdentityKeyFile, err = expandPath(strings.TrimSpace(c.Gossip.IdentityKeyFile)); err != nil {
		return fmt.Errorf("gossip.identity_key_file: %w", err)
	}
	if len(c.Gossip.ListenAddrs) == 0 {
		c.Gossip.ListenAddrs = []string{defaultGossipListenAddr}
	}
	return nil
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	var err error
	if c.Logging.File, err = expandPath(strings.TrimSpace(c.Logging.File)); err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}
	return nil
}
