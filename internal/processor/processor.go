// Package processor runs detect, encode, match and annotate for single frames.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/facegrid/internal/catalog"
	"github.com/andresmejia3/facegrid/internal/matcher"
	"github.com/andresmejia3/facegrid/internal/types"
)

// FaceEncoder finds faces in a JPEG and returns their boxes and embeddings.
type FaceEncoder interface {
	DetectAndEncode(ctx context.Context, img []byte) ([]types.Detection, error)
}

// Config tunes a Processor.
type Config struct {
	Tolerance   float64
	JPEGQuality int
	// SkipAnnotation passes the original image through untouched.
	SkipAnnotation bool
}

// DefaultConfig matches at the default tolerance and re-encodes at quality 85.
func DefaultConfig() Config {
	return Config{Tolerance: matcher.DefaultTolerance, JPEGQuality: 85}
}

// AnnotatedFrame is the rendered output of one frame.
type AnnotatedFrame struct {
	StreamID  int
	Seq       uint64
	Timestamp time.Time
	Image     []byte
	Results   []matcher.Result
	Elapsed   time.Duration
}

// Processor is stateless between calls and safe for concurrent use.
type Processor struct {
	encoder FaceEncoder
	cfg     Config
}

func New(encoder FaceEncoder, cfg Config) *Processor {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = matcher.DefaultTolerance
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 85
	}
	return &Processor{encoder: encoder, cfg: cfg}
}

// Process identifies every face in frame against cat and draws the outcome.
// Errors wrap types.ErrFrameProcessing.
func (p *Processor) Process(ctx context.Context, frame types.Frame, cat *catalog.Catalog) (AnnotatedFrame, types.FaceCount, error) {
	start := time.Now()
	out := AnnotatedFrame{StreamID: frame.StreamID, Seq: frame.Seq, Timestamp: frame.Timestamp}
	var count types.FaceCount

	dets, err := p.encoder.DetectAndEncode(ctx, frame.Data)
	if err != nil {
		return out, count, fmt.Errorf("%w: stream %d frame %d: %v", types.ErrFrameProcessing, frame.StreamID, frame.Seq, err)
	}

	out.Results = make([]matcher.Result, 0, len(dets))
	for _, d := range dets {
		res := matcher.MatchDetection(d, cat, p.cfg.Tolerance)
		out.Results = append(out.Results, res)
		count.Total++
		if res.Matched() {
			count.Matched++
		}
	}

	if p.cfg.SkipAnnotation {
		out.Image = frame.Data
	} else {
		out.Image, err = Annotate(frame.Data, out.Results, p.cfg.JPEGQuality)
		if err != nil {
			return out, count, fmt.Errorf("%w: stream %d frame %d: %v", types.ErrFrameProcessing, frame.StreamID, frame.Seq, err)
		}
	}
	out.Elapsed = time.Since(start)
	return out, count, nil
}
