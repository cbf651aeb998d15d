package config

import (
	"fmt"

	"github.com/vnykmshr/pacer/internal/threat"
	pcerrors "github.com/vnykmshr/pacer/pkg/common/errors"
	"github.com/vnykmshr/pacer/pkg/common/validation"
	"github.com/vnykmshr/pacer/pkg/scheduler"
)

const module = "config"

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateTransport,
		c.validateChannels,
		c.validateStages,
		c.validateCoordinator,
		c.validateDemo,
		c.validateAPI,
		c.validateLogging,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateTransport() error {
	t := c.Transport
	if err := validation.ValidateOneOf(module, "transport.backend", t.Backend,
		"memory", "redis", "redis-pubsub", "sqlite", "gossip"); err != nil {
		return err
	}
	if err := validation.ValidatePositive(module, "transport.connect_timeout_seconds", t.ConnectTimeoutSeconds); err != nil {
		return err
	}
	if err := validation.ValidatePositive(module, "transport.publish_timeout_seconds", t.PublishTimeoutSeconds); err != nil {
		return err
	}
	if err := validation.ValidatePositive(module, "transport.poll_interval_ms", t.PollIntervalMillis); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative(module, "transport.memory_capacity", float64(t.MemoryCapacity)); err != nil {
		return err
	}
	if err := validation.ValidateOneOf(module, "transport.memory_strategy", t.MemoryStrategy,
		"block", "drop", "drop_oldest", "error"); err != nil {
		return err
	}
	if t.Backend == "sqlite" {
		return validation.ValidateNotEmpty(module, "transport.sqlite_path", t.SQLitePath)
	}
	return nil
}

func (c *Config) validateChannels() error {
	if err := validation.ValidateNotEmpty(module, "channels.raw", c.Channels.Raw); err != nil {
		return err
	}
	if err := validation.ValidateNotEmpty(module, "channels.analyzed", c.Channels.Analyzed); err != nil {
		return err
	}
	seen := map[string]string{c.Channels.Raw: "channels.raw"}
	for _, ch := range []struct{ field, name string }{
		{"channels.analyzed", c.Channels.Analyzed},
		{"channels.dead_letter", c.Channels.DeadLetter},
	} {
		if ch.name == "" {
			continue
		}
		if other, dup := seen[ch.name]; dup {
			return pcerrors.NewValidationError(module, ch.field, ch.name, "same channel as "+other).
				WithHint("every stage needs its own channel")
		}
		seen[ch.name] = ch.field
	}
	return nil
}

func (c *Config) validateStages() error {
	if err := validation.ValidatePositive(module, "stages.analyzer_timeout_seconds", c.Stages.AnalyzerTimeoutSeconds); err != nil {
		return err
	}
	return validation.ValidatePositive(module, "stages.orchestrator_timeout_seconds", c.Stages.OrchestratorTimeoutSeconds)
}

func (c *Config) validateCoordinator() error {
	if err := validation.ValidatePositive(module, "coordinator.loop_interval_seconds", c.Coordinator.LoopIntervalSeconds); err != nil {
		return err
	}
	if err := validation.ValidatePositive(module, "coordinator.join_timeout_seconds", c.Coordinator.JoinTimeoutSeconds); err != nil {
		return err
	}
	if expr := c.Coordinator.MonitorSchedule; expr != "" {
		if err := scheduler.New().ValidateCron(expr); err != nil {
			return pcerrors.NewValidationError(module, "coordinator.monitor_schedule", expr, err.Error()).
				WithHint("use a cron expression such as \"*/5 * * * *\" or \"@every 1m\"")
		}
	}
	return validation.ValidateOneOf(module, "coordinator.monitor_source", c.Coordinator.MonitorSource, threat.Sources...)
}

func (c *Config) validateDemo() error {
	for i, source := range c.Demo.Sources {
		if err := validation.ValidateOneOf(module, fmt.Sprintf("demo.sources[%d]", i), source, threat.Sources...); err != nil {
			return err
		}
	}
	if err := validation.ValidateNonNegative(module, "demo.interval_seconds", float64(c.Demo.IntervalSeconds)); err != nil {
		return err
	}
	return validation.ValidateNonNegative(module, "demo.settle_seconds", float64(c.Demo.SettleSeconds))
}

func (c *Config) validateAPI() error {
	if c.API.Bind == "" {
		return nil
	}
	if err := validation.ValidatePositiveFloat(module, "api.rate_limit", c.API.RateLimit); err != nil {
		return err
	}
	return validation.ValidatePositive(module, "api.burst", c.API.Burst)
}

func (c *Config) validateLogging() error {
	if err := validation.ValidateOneOf(module, "logging.format", c.Logging.Format, "auto", "console", "json"); err != nil {
		return err
	}
	return validation.ValidateOneOf(module, "logging.level", c.Logging.Level, "debug", "info", "warn", "warning", "error")
}
