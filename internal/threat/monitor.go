package threat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vnykmshr/pacer/internal/logging"
	"github.com/vnykmshr/pacer/pkg/bus"
	"github.com/vnykmshr/pacer/pkg/stage"
)

// DetectionSource is stamped on every event the monitor emits.
const DetectionSource = "ThreatMonitor"

// ErrNotPublished is returned when the bus did not accept a detected event.
var ErrNotPublished = errors.New("threat event was not published")

// Publisher is the part of the bus the monitor needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, env bus.Envelope) bool
}

// Monitor emits canned detection events onto the raw channel. It is the
// producer at the head of the pipeline.
type Monitor struct {
	pub     Publisher
	channel string
	logger  *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewMonitor creates a monitor publishing to channel.
func NewMonitor(pub Publisher, channel string, logger *slog.Logger) *Monitor {
	return &Monitor{
		pub:     pub,
		channel: channel,
		logger:  logging.NewComponentLogger(logger, "monitor"),
		now:     time.Now,
		newID:   func() string { return "pipe-" + uuid.NewString() },
	}
}

// Event builds a detection event for source with fresh detection metadata.
func (m *Monitor) Event(source string) (RawEvent, error) {
	ev, err := Canned(source)
	if err != nil {
		return RawEvent{}, err
	}
	ev.DetectedAt = m.now().UTC()
	ev.DetectionSource = DetectionSource
	ev.PipelineID = m.newID()
	return ev, nil
}

// Detect publishes a fresh event for source and returns it.
func (m *Monitor) Detect(ctx context.Context, source string) (RawEvent, error) {
	ev, err := m.Event(source)
	if err != nil {
		return RawEvent{}, err
	}
	if err := m.Publish(ctx, ev); err != nil {
		return RawEvent{}, err
	}
	return ev, nil
}

// Publish places an already built event on the raw channel.
func (m *Monitor) Publish(ctx context.Context, ev RawEvent) error {
	if ev.Host == "" {
		return ErrMissingHost
	}
	env, err := stage.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode threat event: %w", err)
	}
	if !m.pub.Publish(ctx, m.channel, env) {
		logging.WarnWithContext(m.logger, "threat event not delivered", "threat_not_published",
			logging.String(logging.FieldChannel, m.channel),
			logging.String(logging.FieldPipelineID, ev.PipelineID),
			logging.String(logging.FieldErrorHint, "check the transport backend"),
		)
		return ErrNotPublished
	}
	m.logger.Info("threat detected",
		logging.String(logging.FieldPipelineID, ev.PipelineID),
		logging.String("threat_id", ev.ID()),
		logging.String("severity", ev.NormalizedSeverity()),
		logging.String("host", ev.Host),
	)
	return nil
}

// DetectAll publishes one event per known source and returns how many were
// accepted.
func (m *Monitor) DetectAll(ctx context.Context) int {
	n := 0
	for _, source := range Sources {
		if _, err := m.Detect(ctx, source); err == nil {
			n++
		}
	}
	return n
}

// Producer returns a function that detects source when invoked.
func (m *Monitor) Producer(source string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := m.Detect(ctx, source)
		return err
	}
}
