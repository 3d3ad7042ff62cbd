// Package extraction saves face crops from a video so they can be registered later.
package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facegrid/internal/job"
	"github.com/andresmejia3/facegrid/internal/processor"
	"github.com/andresmejia3/facegrid/internal/types"
	"github.com/andresmejia3/facegrid/internal/video"
)

type Config struct {
	VideoPath string
	OutputDir string
	// Interval processes every Nth frame, starting with the first.
	Interval int
	// TotalFrames drives the percentage; 0 reports frame counts only.
	TotalFrames int
	Quality     int
}

// Result counts the work done.
type Result struct {
	Frames  int
	Scanned int
	Faces   int
}

type Extractor struct {
	cfg     Config
	source  video.Source
	encoder processor.FaceEncoder
	logger  *slog.Logger
}

func New(cfg Config, source video.Source, encoder processor.FaceEncoder, logger *slog.Logger) (*Extractor, error) {
	if cfg.Interval < 1 {
		return nil, fmt.Errorf("interval must be at least 1, got %d", cfg.Interval)
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("an output folder is required")
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 95
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, source: source, encoder: encoder, logger: logger.With("job", "extract")}, nil
}

// Run is a job.Func writing face_<n>.jpg files into the output folder.
func (e *Extractor) Run(ctx context.Context, report job.Reporter) (Result, error) {
	var res Result
	if err := os.MkdirAll(e.cfg.OutputDir, 0755); err != nil {
		return res, err
	}

	h, err := e.source.Open(e.cfg.VideoPath)
	if err != nil {
		return res, err
	}
	defer h.Close()

	lastPct := -1
	for {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		data, err := h.ReadFrame()
		if errors.Is(err, types.ErrEndOfStream) {
			break
		}
		if err != nil {
			return res, err
		}

		if res.Frames%e.cfg.Interval == 0 {
			res.Scanned++
			n, err := e.extract(ctx, data, res.Faces)
			res.Faces += n
			if err != nil {
				e.logger.Warn("frame skipped", "frame", res.Frames, "error", err)
			}
		}
		res.Frames++

		if e.cfg.TotalFrames > 0 {
			pct := min(res.Frames*100/e.cfg.TotalFrames, 100)
			if pct != lastPct {
				lastPct = pct
				report(job.Progress{Percent: pct, Status: fmt.Sprintf("%d faces saved", res.Faces)})
			}
		} else if res.Frames%100 == 0 {
			report(job.Progress{Percent: -1, Status: fmt.Sprintf("%d frames read, %d faces saved", res.Frames, res.Faces)})
		}
	}

	report(job.Progress{Percent: 100, Status: fmt.Sprintf("Extraction complete: %d faces saved", res.Faces)})
	return res, nil
}

// extract saves every face in one frame, numbering from next.
func (e *Extractor) extract(ctx context.Context, data []byte, next int) (int, error) {
	dets, err := e.encoder.DetectAndEncode(ctx, data)
	if err != nil {
		return 0, err
	}
	if len(dets) == 0 {
		return 0, nil
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode frame: %w", err)
	}

	saved := 0
	for _, d := range dets {
		if ctx.Err() != nil {
			break
		}
		crop, ok := processor.CropFace(img, d.Box)
		if !ok {
			continue
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: e.cfg.Quality}); err != nil {
			return saved, err
		}
		path := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("face_%d.jpg", next+saved))
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}
