// Package display delivers annotated frames, stream status and telemetry to viewers.
package display

import (
	"time"

	"github.com/andresmejia3/facegrid/internal/processor"
	"github.com/andresmejia3/facegrid/internal/telemetry"
)

// Status reports a stream slot transition.
type Status struct {
	Slot     int           `json:"slot"`
	Path     string        `json:"path"`
	State    string        `json:"state"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// Sink receives pipeline output. Calls come from a single goroutine, in order per slot,
// and must not block.
type Sink interface {
	Render(slot int, frame processor.AnnotatedFrame)
	UpdateTelemetry(kind telemetry.Kind, value float64)
	StreamStatus(status Status)
}

// Multi fans out to several sinks.
type Multi []Sink

func (m Multi) Render(slot int, frame processor.AnnotatedFrame) {
	for _, s := range m {
		s.Render(slot, frame)
	}
}

func (m Multi) UpdateTelemetry(kind telemetry.Kind, value float64) {
	for _, s := range m {
		s.UpdateTelemetry(kind, value)
	}
}

func (m Multi) StreamStatus(status Status) {
	for _, s := range m {
		s.StreamStatus(status)
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) Render(int, processor.AnnotatedFrame)    {}
func (Discard) UpdateTelemetry(telemetry.Kind, float64) {}
func (Discard) StreamStatus(Status)                     {}
