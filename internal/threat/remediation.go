package threat

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vnykmshr/pacer/internal/logging"
	"github.com/vnykmshr/pacer/pkg/stage"
)

// OrchestratorVersion is stamped on every remediation.
const OrchestratorVersion = "1.0"

// Remediation statuses.
const (
	StatusExecuted     = "✅ ACTION EXECUTED"
	StatusInitiated    = "✅ ACTION INITIATED"
	StatusMonitoring   = "⚠️ ENHANCED MONITORING"
	StatusEmergency    = "🚨 EMERGENCY ACTION"
	StatusManualReview = "⚠️ MANUAL REVIEW REQUIRED"
	StatusFailed       = "❌ ACTION FAILED"
)

// Escalation levels.
const (
	EscalationManualReview = "Level 2 - Senior Analyst"
	EscalationFailure      = "Level 3 - On-call Engineer"
)

// Gateway performs calls against external security systems.
type Gateway interface {
	Call(ctx context.Context, api, operation, target string) (APICall, error)
}

// Notifier delivers messages to the security team.
type Notifier interface {
	Notify(ctx context.Context, priority, message string) error
}

// SimulatedGateway acknowledges every call after Latency and issues
// reference numbers.
type SimulatedGateway struct {
	Latency time.Duration
}

var referencePrefixes = map[string]string{
	"firewall":       "FW",
	"patch":          "PATCH",
	"identity":       "RST",
	"siem":           "SIEM",
	"infrastructure": "INFRA",
}

// Call implements Gateway.
func (g SimulatedGateway) Call(ctx context.Context, api, operation, target string) (APICall, error) {
	if g.Latency > 0 {
		timer := time.NewTimer(g.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return APICall{}, ctx.Err()
		case <-timer.C:
		}
	}
	prefix, ok := referencePrefixes[api]
	if !ok {
		prefix = "REF"
	}
	return APICall{
		API:       api,
		Operation: operation,
		Target:    target,
		Reference: fmt.Sprintf("%s-%05d", prefix, rand.IntN(100000)),
		Status:    "success",
	}, nil
}

// NotificationLog is a Notifier that keeps every message in memory and logs
// it.
type NotificationLog struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries []Notification
}

// Notification is one delivered message.
type Notification struct {
	Priority string    `json:"priority"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sent_at"`
}

// NewNotificationLog creates an empty log.
func NewNotificationLog(logger *slog.Logger) *NotificationLog {
	return &NotificationLog{logger: logging.NewComponentLogger(logger, "notifications")}
}

// Notify implements Notifier.
func (n *NotificationLog) Notify(_ context.Context, priority, message string) error {
	n.mu.Lock()
	n.entries = append(n.entries, Notification{Priority: priority, Message: message, SentAt: time.Now()})
	n.mu.Unlock()
	n.logger.Info("notification sent", logging.String("priority", priority), logging.String("message", message))
	return nil
}

// Entries returns a copy of every notification sent so far.
func (n *NotificationLog) Entries() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.entries)
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	// Gateway executes external calls. Defaults to SimulatedGateway.
	Gateway Gateway

	// Notifier receives team notifications. Defaults to a NotificationLog.
	Notifier Notifier

	// Logger receives remediation logs. Optional.
	Logger *slog.Logger
}

type handler func(ctx context.Context, o *Orchestrator, a Analysis) (Remediation, error)

// Orchestrator executes the action recommended by an analysis.
type Orchestrator struct {
	gateway  Gateway
	notifier Notifier
	logger   *slog.Logger
	handlers map[string]handler
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator with the built-in action handlers.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	o := &Orchestrator{
		gateway:  opts.Gateway,
		notifier: opts.Notifier,
		logger:   logging.NewComponentLogger(opts.Logger, "orchestrator"),
		now:      time.Now,
		handlers: map[string]handler{
			ActionIsolateHost:       isolateHost,
			ActionPatchSystem:       patchSystem,
			ActionResetCredentials:  resetCredentials,
			ActionMonitorClosely:    monitorClosely,
			ActionEmergencyShutdown: emergencyShutdown,
		},
	}
	if o.gateway == nil {
		o.gateway = SimulatedGateway{}
	}
	if o.notifier == nil {
		o.notifier = NewNotificationLog(opts.Logger)
	}
	return o
}

// Actions returns the supported action names in sorted order.
func (o *Orchestrator) Actions() []string {
	names := make([]string, 0, len(o.handlers))
	for name := range o.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remediate executes the recommended action of a. Handler failures become a
// failed remediation with an escalation; unknown actions become a manual
// review request. Neither is returned as an error.
func (o *Orchestrator) Remediate(ctx context.Context, a Analysis) (Remediation, error) {
	action := a.RecommendedAction
	log := o.logger.With(
		logging.String(logging.FieldPipelineID, a.PipelineID),
		logging.String("action", action),
	)

	var res Remediation
	h, ok := o.handlers[action]
	if !ok {
		res = o.manualReview(ctx, a)
		logging.WarnWithContext(log, "unknown remediation action", "manual_review",
			logging.String(logging.FieldErrorHint, "a senior analyst must approve the action"))
	} else {
		var err error
		res, err = h(ctx, o, a)
		if err != nil {
			res = failed(a, err)
			logging.ErrorWithContext(log, "remediation action failed", "remediation_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "threat remains unmitigated"),
				logging.String(logging.FieldErrorHint, "escalated to the on-call engineer"))
		} else {
			log.Info("remediation executed", logging.String("status", res.Status))
		}
	}

	res.Action = action
	res.OriginalAnalysis = a
	res.ExecutedAt = o.now().UTC()
	res.OrchestratorVersion = OrchestratorVersion
	res.PipelineID = a.PipelineID
	return res, nil
}

// Func adapts the orchestrator to a stage function.
func (o *Orchestrator) Func() stage.Func {
	return stage.Typed(o.Remediate)
}

func (o *Orchestrator) manualReview(ctx context.Context, a Analysis) Remediation {
	msg := fmt.Sprintf("Manual review required for action: %s", a.RecommendedAction)
	if err := o.notifier.Notify(ctx, "high", msg); err != nil {
		o.logger.Warn("notification failed", logging.Error(err))
	}
	return Remediation{
		Status:     StatusManualReview,
		ActionType: "Human Intervention",
		Details: []string{
			fmt.Sprintf("Unknown action %q requires human approval", a.RecommendedAction),
			"Ticket routed to the security operations queue",
			"Response SLA: 30 minutes",
		},
		NextSteps: []string{
			"Senior analyst reviews the analysis",
			"Approve or amend the remediation action",
		},
		EscalationLevel: EscalationManualReview,
		Notification:    msg,
	}
}

func failed(a Analysis, err error) Remediation {
	return Remediation{
		Status:     StatusFailed,
		ActionType: "Failed " + a.RecommendedAction,
		Details: []string{
			fmt.Sprintf("Automated %s could not be completed", a.RecommendedAction),
			"Error: " + err.Error(),
		},
		NextSteps: []string{
			"Escalate to the on-call engineer",
			"Apply the remediation manually",
		},
		EscalationLevel: EscalationFailure,
		Error:           err.Error(),
	}
}

func target(a Analysis) string {
	if a.OriginalThreat.IPAddress != "" {
		return a.OriginalThreat.IPAddress
	}
	return a.OriginalThreat.Host
}

func isolateHost(ctx context.Context, o *Orchestrator, a Analysis) (Remediation, error) {
	host := a.OriginalThreat.Host
	call, err := o.gateway.Call(ctx, "firewall", "block_host", target(a))
	if err != nil {
		return Remediation{}, fmt.Errorf("firewall isolation of %s: %w", host, err)
	}
	msg := a.NotificationMessage
	if msg == "" {
		msg = fmt.Sprintf("Host %s isolated from the network", host)
	}
	if err := o.notifier.Notify(ctx, "critical", msg); err != nil {
		o.logger.Warn("notification failed", logging.Error(err))
	}
	return Remediation{
		Status:     StatusExecuted,
		ActionType: "Network Isolation",
		Details: []string{
			fmt.Sprintf("Host %s isolated from network", host),
			fmt.Sprintf("Firewall rule %s applied", call.Reference),
			"Security team notified",
		},
		NextSteps: []string{
			"Investigate host for compromise",
			"Apply security patches",
			"Restore network access after verification",
		},
		Estimate:     "2-4 hours downtime",
		Notification: msg,
		APICalls:     []APICall{call},
	}, nil
}

func patchSystem(ctx context.Context, o *Orchestrator, a Analysis) (Remediation, error) {
	host := a.OriginalThreat.Host
	call, err := o.gateway.Call(ctx, "patch", "schedule_patch", target(a))
	if err != nil {
		return Remediation{}, fmt.Errorf("patch scheduling for %s: %w", host, err)
	}
	return Remediation{
		Status:     StatusInitiated,
		ActionType: "Automated Patching",
		Details: []string{
			fmt.Sprintf("Patch deployment scheduled for %s", host),
			fmt.Sprintf("Patch job %s created", call.Reference),
			"Maintenance window reserved",
		},
		NextSteps: []string{
			"Monitor patch deployment",
			"Verify the vulnerability is resolved",
		},
		Estimate: "24-48 hours to completion",
		APICalls: []APICall{call},
	}, nil
}

func resetCredentials(ctx context.Context, o *Orchestrator, a Analysis) (Remediation, error) {
	host := a.OriginalThreat.Host
	call, err := o.gateway.Call(ctx, "identity", "reset_credentials", host)
	if err != nil {
		return Remediation{}, fmt.Errorf("credential reset for %s: %w", host, err)
	}
	return Remediation{
		Status:     StatusExecuted,
		ActionType: "Credential Reset",
		Details: []string{
			fmt.Sprintf("Credentials on %s rotated", host),
			fmt.Sprintf("Reset request %s completed", call.Reference),
			"Active sessions revoked",
		},
		NextSteps: []string{
			"Notify affected account owners",
			"Review authentication logs",
		},
		Estimate: "1-2 hours",
		APICalls: []APICall{call},
	}, nil
}

func monitorClosely(ctx context.Context, o *Orchestrator, a Analysis) (Remediation, error) {
	host := a.OriginalThreat.Host
	call, err := o.gateway.Call(ctx, "siem", "enhance_monitoring", target(a))
	if err != nil {
		return Remediation{}, fmt.Errorf("monitoring rule for %s: %w", host, err)
	}
	return Remediation{
		Status:     StatusMonitoring,
		ActionType: "Active Monitoring",
		Details: []string{
			fmt.Sprintf("Enhanced monitoring enabled for %s", host),
			fmt.Sprintf("SIEM rule %s created", call.Reference),
			"Alert thresholds lowered",
		},
		NextSteps: []string{
			"Review alerts daily",
			"Schedule remediation in the next maintenance window",
		},
		Estimate: "72 hours of monitoring",
		APICalls: []APICall{call},
	}, nil
}

func emergencyShutdown(ctx context.Context, o *Orchestrator, a Analysis) (Remediation, error) {
	host := a.OriginalThreat.Host
	call, err := o.gateway.Call(ctx, "infrastructure", "shutdown", host)
	if err != nil {
		return Remediation{}, fmt.Errorf("emergency shutdown of %s: %w", host, err)
	}
	msg := fmt.Sprintf("Emergency shutdown executed on %s", host)
	if err := o.notifier.Notify(ctx, "critical", msg); err != nil {
		o.logger.Warn("notification failed", logging.Error(err))
	}
	return Remediation{
		Status:     StatusEmergency,
		ActionType: "System Shutdown",
		Details: []string{
			fmt.Sprintf("%s shut down", host),
			fmt.Sprintf("Infrastructure ticket %s opened", call.Reference),
			"Incident response team paged",
		},
		NextSteps: []string{
			"Forensic investigation",
			"Restore from a known good state",
		},
		Estimate:     "Recovery time unknown, pending investigation",
		Notification: msg,
		APICalls:     []APICall{call},
	}, nil
}
