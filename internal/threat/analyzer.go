package threat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vnykmshr/pacer/internal/logging"
	"github.com/vnykmshr/pacer/pkg/stage"
)

// AnalyzerVersion is stamped on every analysis.
const AnalyzerVersion = "1.0"

// Recommended actions understood by the orchestrator.
const (
	ActionIsolateHost       = "isolate_host"
	ActionPatchSystem       = "patch_system"
	ActionResetCredentials  = "reset_credentials"
	ActionMonitorClosely    = "monitor_closely"
	ActionEmergencyShutdown = "emergency_shutdown"
)

// Urgency levels.
const (
	UrgencyImmediate = "immediate"
	UrgencyHigh      = "high"
	UrgencyMedium    = "medium"
)

// NoAssetInfo is returned by a knowledge base with no entry for an asset.
const NoAssetInfo = "No specific information found about this asset."

// KnowledgeBase resolves business context for an affected asset.
type KnowledgeBase interface {
	Lookup(ctx context.Context, ev RawEvent) (string, bool)
}

// StaticKnowledge is an in-memory KnowledgeBase keyed by IP address or host
// name.
type StaticKnowledge map[string]string

// DefaultKnowledge returns the built-in asset inventory.
func DefaultKnowledge() StaticKnowledge {
	return StaticKnowledge{
		"10.1.10.55":    "srv-finance-01: Critical Finance server containing PII and earnings data. Owner: Alice.",
		"192.168.1.100": "web-server-02: Public web server. Owner: Bob. Has load balancer backup.",
		"10.0.0.50":     "db-server-01: Customer database server. Owner: Carol. High business impact.",
	}
}

// Lookup implements KnowledgeBase.
func (k StaticKnowledge) Lookup(_ context.Context, ev RawEvent) (string, bool) {
	if info, ok := k[ev.IPAddress]; ok && ev.IPAddress != "" {
		return info, true
	}
	if info, ok := k[ev.Host]; ok {
		return info, true
	}
	if short, _, found := strings.Cut(ev.Host, "."); found {
		if info, ok := k[short]; ok {
			return info, true
		}
	}
	return "", false
}

// Analyzer turns raw events into business-context analyses using a
// severity rule table and an asset knowledge base.
type Analyzer struct {
	kb     KnowledgeBase
	logger *slog.Logger
	now    func() time.Time
}

// NewAnalyzer creates an analyzer. A nil kb uses DefaultKnowledge.
func NewAnalyzer(kb KnowledgeBase, logger *slog.Logger) *Analyzer {
	if kb == nil {
		kb = DefaultKnowledge()
	}
	return &Analyzer{
		kb:     kb,
		logger: logging.NewComponentLogger(logger, "analyzer"),
		now:    time.Now,
	}
}

// UnknownHost stands in for a missing host name.
const UnknownHost = "unknown"

// Recommend maps a severity to the action and urgency the orchestrator
// should apply.
func Recommend(severity string) (action, urgency string) {
	switch strings.ToUpper(severity) {
	case SeverityCritical:
		return ActionIsolateHost, UrgencyImmediate
	case SeverityHigh:
		return ActionPatchSystem, UrgencyHigh
	default:
		return ActionMonitorClosely, UrgencyMedium
	}
}

// Analyze produces the analysis for ev. An event without a host is analyzed
// against UnknownHost.
func (a *Analyzer) Analyze(ctx context.Context, ev RawEvent) (Analysis, error) {
	if strings.TrimSpace(ev.Host) == "" {
		ev.Host = UnknownHost
	}

	sev := ev.NormalizedSeverity()
	action, urgency := Recommend(sev)

	assetInfo, known := a.kb.Lookup(ctx, ev)
	if !known {
		assetInfo = NoAssetInfo
	}

	impact := "Potential system compromise and data breach."
	if known {
		impact += " Affected asset: " + assetInfo
	}

	ip := ev.IPAddress
	if ip == "" {
		ip = "unknown IP"
	}

	analysis := Analysis{
		Summary: fmt.Sprintf("%s threat detected on %s (%s). Requires %s attention.",
			sev, ev.Host, ip, urgency),
		SeverityJustification: fmt.Sprintf("Classified as %s by detection system.", sev),
		RecommendedAction:     action,
		Urgency:               urgency,
		NotificationMessage:   fmt.Sprintf("🚨 %s threat on %s. Taking action: %s", sev, ev.Host, action),
		BusinessImpact:        impact,
		AssetContext:          assetInfo,
		OriginalThreat:        ev,
		AnalyzedAt:            a.now().UTC(),
		AnalyzerVersion:       AnalyzerVersion,
		PipelineID:            ev.PipelineID,
	}

	a.logger.Info("threat analyzed",
		logging.String(logging.FieldPipelineID, ev.PipelineID),
		logging.String("severity", sev),
		logging.String("action", action),
		logging.Bool("known_asset", known),
	)
	return analysis, nil
}

// Func adapts the analyzer to a stage function.
func (a *Analyzer) Func() stage.Func {
	return stage.Typed(a.Analyze)
}
