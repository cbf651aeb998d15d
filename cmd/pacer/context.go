package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vnykmshr/pacer/internal/config"
	"github.com/vnykmshr/pacer/internal/logging"
	"github.com/vnykmshr/pacer/internal/threat"
	"github.com/vnykmshr/pacer/pkg/bus"
	"github.com/vnykmshr/pacer/pkg/metrics"
	"github.com/vnykmshr/pacer/pkg/transport/gossip"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error

	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Registry
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configSeen = exists
	})
	return c.config, c.configErr
}

// setup builds the logger and metrics registry once per invocation. Log
// lines go to stderr so stdout carries only results.
func (c *commandContext) setup(stderr io.Writer) error {
	if c.logger != nil {
		return nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   stderr,
		FilePath: cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	c.logger = logger

	c.registry = prometheus.NewRegistry()
	c.metrics = metrics.New(metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Registry:  c.registry,
		Namespace: cfg.Metrics.Namespace,
	})
	return nil
}

func (c *commandContext) openBus(ctx context.Context) (*bus.Bus, error) {
	t := c.config.Transport
	g := c.config.Gossip
	b, err := bus.Open(ctx, bus.Config{
		Backend:    t.Backend,
		URL:        t.URL,
		KeyPrefix:  t.KeyPrefix,
		SQLitePath: t.SQLitePath,
		Gossip: gossip.Options{
			ListenAddrs:     g.ListenAddrs,
			Bootstrap:       g.Bootstrap,
			Rendezvous:      g.Rendezvous,
			EnableMDNS:      g.EnableMDNS,
			IdentityKeyFile: g.IdentityKeyFile,
			TopicPrefix:     t.KeyPrefix,
			Logger:          c.logger,
		},
		ConnectTimeout: t.ConnectTimeout(),
		PublishTimeout: t.PublishTimeout(),
		PollInterval:   t.PollInterval(),
		MemoryCapacity: t.MemoryCapacity,
		MemoryStrategy: t.MemoryStrategy,
		Logger:         c.logger,
		Metrics:        c.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}
	return b, nil
}

func (c *commandContext) pipeline(b *bus.Bus, onRemediation func(threat.Remediation)) (*threat.Pipeline, error) {
	return threat.NewPipeline(b, threat.PipelineConfig{
		RawChannel:          c.config.Channels.Raw,
		AnalyzedChannel:     c.config.Channels.Analyzed,
		DeadLetter:          c.config.Channels.DeadLetter,
		AnalyzerTimeout:     c.config.Stages.AnalyzerTimeout(),
		OrchestratorTimeout: c.config.Stages.OrchestratorTimeout(),
		OnRemediation:       onRemediation,
		Logger:              c.logger,
		Metrics:             c.metrics,
	})
}
