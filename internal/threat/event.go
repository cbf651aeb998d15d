package threat

import (
	"fmt"
	"slices"
	"strings"
	"time"

	pcerrors "github.com/vnykmshr/pacer/pkg/common/errors"
)

// Canned detection sources.
const (
	SourceHorizon3   = "horizon3"
	SourceBrightData = "bright_data"
	SourceTest       = "test"
)

// Sources lists every source the monitor can emit, in demo order.
var Sources = []string{SourceHorizon3, SourceBrightData, SourceTest}

// Severity levels as reported by detection systems.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
)

// ErrUnknownSource is returned for a source name outside Sources.
var ErrUnknownSource = fmt.Errorf("unknown threat source: %w", pcerrors.ErrInvalidConfiguration)

// ErrMissingHost is returned when the monitor is asked to publish an event
// that does not name the affected host.
var ErrMissingHost = fmt.Errorf("threat event has no host: %w", pcerrors.ErrInvalidConfiguration)

// RawEvent is the payload published to the raw channel. Source specific
// fields are optional and left empty when the detection system does not
// report them.
type RawEvent struct {
	Source          string  `json:"source"`
	FindingID       string  `json:"finding_id,omitempty"`
	AlertID         string  `json:"alert_id,omitempty"`
	Severity        string  `json:"severity"`
	Host            string  `json:"host"`
	IPAddress       string  `json:"ip_address,omitempty"`
	Vulnerability   string  `json:"vulnerability,omitempty"`
	ThreatType      string  `json:"threat_type,omitempty"`
	Description     string  `json:"description,omitempty"`
	CVSSScore       float64 `json:"cvss_score,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	Timestamp       string  `json:"timestamp,omitempty"`
	AffectedService string  `json:"affected_service,omitempty"`
	Port            int     `json:"port,omitempty"`
	FileHash        string  `json:"file_hash,omitempty"`
	ProcessName     string  `json:"process_name,omitempty"`

	DetectedAt      time.Time `json:"detected_at,omitzero"`
	DetectionSource string    `json:"detection_source,omitempty"`
	PipelineID      string    `json:"pipeline_id,omitempty"`
}

// ID returns the finding or alert identifier.
func (e RawEvent) ID() string {
	if e.FindingID != "" {
		return e.FindingID
	}
	return e.AlertID
}

// Kind describes what was detected.
func (e RawEvent) Kind() string {
	switch {
	case e.Vulnerability != "":
		return e.Vulnerability
	case e.ThreatType != "":
		return e.ThreatType
	default:
		return "Unknown"
	}
}

// NormalizedSeverity returns the upper-cased severity, MEDIUM when absent.
func (e RawEvent) NormalizedSeverity() string {
	s := strings.ToUpper(strings.TrimSpace(e.Severity))
	if s == "" {
		return SeverityMedium
	}
	return s
}

// Analysis is the payload the analyzer publishes to the analyzed channel.
type Analysis struct {
	Summary               string `json:"summary"`
	SeverityJustification string `json:"severity_justification"`
	RecommendedAction     string `json:"recommended_action"`
	Urgency               string `json:"urgency"`
	NotificationMessage   string `json:"notification_message"`
	BusinessImpact        string `json:"business_impact"`
	AssetContext          string `json:"asset_context,omitempty"`

	OriginalThreat  RawEvent  `json:"original_threat"`
	AnalyzedAt      time.Time `json:"analyzed_at,omitzero"`
	AnalyzerVersion string    `json:"analyzer_version"`
	PipelineID      string    `json:"pipeline_id,omitempty"`
}

// APICall records one call made against an external system while
// remediating.
type APICall struct {
	API       string `json:"api"`
	Operation string `json:"operation"`
	Target    string `json:"target"`
	Reference string `json:"reference,omitempty"`
	Status    string `json:"status"`
}

// Remediation is the terminal result of the pipeline.
type Remediation struct {
	Action          string    `json:"action"`
	Status          string    `json:"status"`
	ActionType      string    `json:"action_type"`
	Details         []string  `json:"details"`
	NextSteps       []string  `json:"next_steps,omitempty"`
	Estimate        string    `json:"estimate,omitempty"`
	EscalationLevel string    `json:"escalation_level,omitempty"`
	Notification    string    `json:"notification,omitempty"`
	APICalls        []APICall `json:"api_calls,omitempty"`
	Error           string    `json:"error,omitempty"`

	OriginalAnalysis    Analysis  `json:"original_analysis"`
	ExecutedAt          time.Time `json:"executed_at,omitzero"`
	OrchestratorVersion string    `json:"orchestrator_version"`
	PipelineID          string    `json:"pipeline_id,omitempty"`
}

// Failed reports whether the remediation action could not be carried out.
func (r Remediation) Failed() bool { return r.Error != "" }

// Canned returns the sample event for source without detection metadata.
func Canned(source string) (RawEvent, error) {
	if !slices.Contains(Sources, source) {
		return RawEvent{}, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	return canned[source], nil
}

var canned = map[string]RawEvent{
	SourceHorizon3: {
		Source:          "Horizon3.ai",
		FindingID:       "H3-CVE-2025-12345",
		Severity:        SeverityCritical,
		Host:            "srv-finance-01.yourcompany.local",
		IPAddress:       "10.1.10.55",
		Vulnerability:   "Critical RCE in ObsoleteApp v1.2",
		Description:     "Remote code execution vulnerability allows unauthenticated attackers to execute arbitrary code",
		CVSSScore:       9.8,
		Timestamp:       "2025-01-19T10:30:00Z",
		AffectedService: "ObsoleteApp",
		Port:            8080,
	},
	SourceBrightData: {
		Source:      "Bright Data",
		AlertID:     "BD-MALWARE-2025-001",
		Severity:    SeverityHigh,
		Host:        "web-server-02.yourcompany.local",
		IPAddress:   "192.168.1.100",
		ThreatType:  "Malware Detection",
		Description: "Suspicious executable detected attempting network communication",
		Confidence:  0.85,
		Timestamp:   "2025-01-19T11:15:00Z",
		FileHash:    "a1b2c3d4e5f6789012345678901234567890abcd",
		ProcessName: "suspicious_process.exe",
	},
	SourceTest: {
		Source:        "Internal Scanner",
		AlertID:       "IS-VULN-2025-003",
		Severity:      SeverityMedium,
		Host:          "db-server-01.yourcompany.local",
		IPAddress:     "10.0.0.50",
		Vulnerability: "Outdated SSL Certificate",
		Description:   "SSL certificate expired 30 days ago",
		Timestamp:     "2025-01-19T09:45:00Z",
	},
}
