package display

import (
	"log/slog"

	"github.com/andresmejia3/facegrid/internal/processor"
	"github.com/andresmejia3/facegrid/internal/telemetry"
)

// LogSink writes pipeline activity to a structured logger. Frames are logged every
// Every renders per slot; 0 logs stream status only.
type LogSink struct {
	Logger *slog.Logger
	Every  int

	frames [4]int
}

func NewLogSink(logger *slog.Logger, every int) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger, Every: every}
}

func (l *LogSink) Render(slot int, frame processor.AnnotatedFrame) {
	if slot < 0 || slot >= len(l.frames) {
		return
	}
	l.frames[slot]++
	if l.Every <= 0 || l.frames[slot]%l.Every != 0 {
		return
	}
	var names []string
	for _, r := range frame.Results {
		names = append(names, r.Identity.Name())
	}
	l.Logger.Info("frame",
		"slot", slot,
		"seq", frame.Seq,
		"faces", len(frame.Results),
		"names", names,
		"elapsed", frame.Elapsed,
	)
}

func (l *LogSink) UpdateTelemetry(kind telemetry.Kind, value float64) {
	l.Logger.Debug("telemetry", "kind", string(kind), "value", value)
}

func (l *LogSink) StreamStatus(s Status) {
	if s.Error != "" {
		l.Logger.Warn("stream", "slot", s.Slot, "path", s.Path, "state", s.State, "error", s.Error)
		return
	}
	if s.Slot >= 0 && s.Slot < len(l.frames) && s.State == "running" {
		l.frames[s.Slot] = 0
	}
	l.Logger.Info("stream", "slot", s.Slot, "path", s.Path, "state", s.State, "duration", s.Duration)
}
