package threat

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/vnykmshr/pacer/pkg/bus"
	"github.com/vnykmshr/pacer/pkg/coordinator"
	"github.com/vnykmshr/pacer/pkg/metrics"
	"github.com/vnykmshr/pacer/pkg/stage"
)

// Stage names.
const (
	StageAnalyzer     = "analyzer"
	StageOrchestrator = "orchestrator"
)

// PipelineConfig wires the three agents onto a bus.
type PipelineConfig struct {
	RawChannel      string
	AnalyzedChannel string
	DeadLetter      string

	AnalyzerTimeout     time.Duration
	OrchestratorTimeout time.Duration

	Knowledge KnowledgeBase
	Gateway   Gateway

	// OnRemediation is called with every terminal remediation. Optional.
	OnRemediation func(Remediation)

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Pipeline holds the assembled monitor and stage runners.
type Pipeline struct {
	Monitor       *Monitor
	Analyzer      *stage.Runner
	Orchestrator  *stage.Runner
	Notifications *NotificationLog

	config PipelineConfig
}

// NewPipeline builds the monitor, analyzer and orchestrator over b.
func NewPipeline(b *bus.Bus, cfg PipelineConfig) (*Pipeline, error) {
	notes := NewNotificationLog(cfg.Logger)

	analyzer, err := stage.NewRunner(b, stage.Config{
		Name:       StageAnalyzer,
		Input:      cfg.RawChannel,
		Output:     cfg.AnalyzedChannel,
		DeadLetter: cfg.DeadLetter,
		Func:       NewAnalyzer(cfg.Knowledge, cfg.Logger).Func(),
		Logger:     cfg.Logger,
		Metrics:    cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("analyzer stage: %w", err)
	}

	orch := NewOrchestrator(OrchestratorOptions{Gateway: cfg.Gateway, Notifier: notes, Logger: cfg.Logger})
	var onComplete func(stage.Result)
	if cfg.OnRemediation != nil {
		onComplete = func(res stage.Result) {
			if !res.Outcome.Succeeded() {
				return
			}
			if rem, err := stage.Decode[Remediation](res.Output); err == nil {
				cfg.OnRemediation(rem)
			}
		}
	}
	orchestrator, err := stage.NewRunner(b, stage.Config{
		Name:       StageOrchestrator,
		Input:      cfg.AnalyzedChannel,
		DeadLetter: cfg.DeadLetter,
		Func:       orch.Func(),
		OnComplete: onComplete,
		Logger:     cfg.Logger,
		Metrics:    cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator stage: %w", err)
	}

	return &Pipeline{
		Monitor:       NewMonitor(b, cfg.RawChannel, cfg.Logger),
		Analyzer:      analyzer,
		Orchestrator:  orchestrator,
		Notifications: notes,
		config:        cfg,
	}, nil
}

// Steps returns the coordinator steps in pipeline order.
func (p *Pipeline) Steps() []coordinator.Step {
	return []coordinator.Step{
		{Runner: p.Analyzer, Timeout: p.config.AnalyzerTimeout},
		{Runner: p.Orchestrator, Timeout: p.config.OrchestratorTimeout},
	}
}
