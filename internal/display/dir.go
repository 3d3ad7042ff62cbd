package display

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facegrid/internal/processor"
	"github.com/andresmejia3/facegrid/internal/telemetry"
)

// DirSink keeps the latest annotated frame of each slot on disk as stream_<slot>.jpg.
type DirSink struct {
	Dir    string
	logger *slog.Logger
	failed bool
}

func NewDirSink(dir string, logger *slog.Logger) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output folder: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirSink{Dir: dir, logger: logger}, nil
}

// FramePath is where the latest frame of slot is written.
func (d *DirSink) FramePath(slot int) string {
	return filepath.Join(d.Dir, fmt.Sprintf("stream_%d.jpg", slot))
}

func (d *DirSink) Render(slot int, frame processor.AnnotatedFrame) {
	if len(frame.Image) == 0 {
		return
	}
	dst := d.FramePath(slot)
	tmp := dst + ".tmp"
	err := os.WriteFile(tmp, frame.Image, 0644)
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		// Warn once per failure streak.
		if !d.failed {
			d.logger.Warn("could not write frame", "slot", slot, "error", err)
			d.failed = true
		}
		return
	}
	d.failed = false
}

func (d *DirSink) UpdateTelemetry(telemetry.Kind, float64) {}
func (d *DirSink) StreamStatus(Status)                     {}
