// Package registration labels a folder of extracted face crops with a name.
package registration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facegrid/internal/job"
	"github.com/andresmejia3/facegrid/internal/matcher"
	"github.com/andresmejia3/facegrid/internal/processor"
)

const (
	// MaxReferences caps the reference images per registration.
	MaxReferences = 3
	// DefaultFallbackLimit is how many candidates are accepted unchecked when no
	// reference image yields a face.
	DefaultFallbackLimit = 20
	progressEvery        = 10
)

// Appender persists one embedding for a name.
type Appender interface {
	Append(ctx context.Context, name string, embedding []float64) error
}

type Config struct {
	Name         string
	References   []string
	CandidateDir string
	// ReferenceDir receives a copy of the first accepted candidate as <name>.jpg.
	ReferenceDir  string
	Tolerance     float64
	FallbackLimit int
	// KeepCandidates leaves accepted files in CandidateDir.
	KeepCandidates bool
}

// Result summarises a registration run.
type Result struct {
	Name          string
	Candidates    int
	Accepted      int
	Rejected      int
	NoFace        int
	Errors        int
	Fallback      bool
	ReferencePath string
}

// Registrar matches candidate images against reference images and stores the matches.
type Registrar struct {
	cfg     Config
	encoder processor.FaceEncoder
	store   Appender
	logger  *slog.Logger
}

func New(cfg Config, encoder processor.FaceEncoder, store Appender, logger *slog.Logger) (*Registrar, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return nil, errors.New("a name is required")
	}
	if len(cfg.References) > MaxReferences {
		return nil, fmt.Errorf("at most %d reference images are allowed, got %d", MaxReferences, len(cfg.References))
	}
	if info, err := os.Stat(cfg.CandidateDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("candidate folder %q is not a directory", cfg.CandidateDir)
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = matcher.DefaultTolerance
	}
	if cfg.FallbackLimit <= 0 {
		cfg.FallbackLimit = DefaultFallbackLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{cfg: cfg, encoder: encoder, store: store, logger: logger.With("job", "register", "name", cfg.Name)}, nil
}

// Run is a job.Func. Per-file failures are reported and skipped.
func (r *Registrar) Run(ctx context.Context, report job.Reporter) (Result, error) {
	res := Result{Name: r.cfg.Name}

	var refs [][]float64
	for _, path := range r.cfg.References {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		emb, err := r.firstEmbedding(ctx, path)
		switch {
		case err != nil:
			report(job.Progress{Percent: -1, Status: fmt.Sprintf("Error processing reference %s: %v", filepath.Base(path), err)})
		case emb == nil:
			report(job.Progress{Percent: -1, Status: fmt.Sprintf("No face in reference image: %s", filepath.Base(path))})
		default:
			refs = append(refs, emb)
			report(job.Progress{Percent: -1, Status: fmt.Sprintf("Processing reference image: %s", filepath.Base(path))})
		}
	}
	if len(refs) == 0 {
		res.Fallback = true
		report(job.Progress{Percent: -1, Status: fmt.Sprintf("No clear face found in reference images. Accepting the first %d candidates.", r.cfg.FallbackLimit)})
	}

	files, err := listCandidates(r.cfg.CandidateDir)
	if err != nil {
		return res, err
	}
	res.Candidates = len(files)

	for i, path := range files {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := r.consider(ctx, path, refs, &res); err != nil {
			res.Errors++
			r.logger.Warn("candidate skipped", "file", path, "error", err)
			report(job.Progress{Percent: -1, Status: fmt.Sprintf("Error processing %s: %v", filepath.Base(path), err)})
		}
		// Faceless files count toward progress.
		if i%progressEvery == 0 || i == len(files)-1 {
			report(job.Progress{
				Percent: (i + 1) * 100 / len(files),
				Status:  fmt.Sprintf("Processed %d/%d files, found %d matches", i+1, len(files), res.Accepted),
			})
		}
	}

	if res.Accepted == 0 {
		report(job.Progress{Percent: 100, Status: "No matching faces found"})
	}
	return res, nil
}

func (r *Registrar) consider(ctx context.Context, path string, refs [][]float64, res *Result) error {
	emb, err := r.firstEmbedding(ctx, path)
	if err != nil {
		return err
	}
	if emb == nil {
		res.NoFace++
		return nil
	}

	if !r.accepts(emb, refs, res.Accepted) {
		res.Rejected++
		return nil
	}

	if err := r.store.Append(ctx, r.cfg.Name, emb); err != nil {
		return err
	}
	res.Accepted++

	if res.ReferencePath == "" && r.cfg.ReferenceDir != "" {
		dest := filepath.Join(r.cfg.ReferenceDir, r.cfg.Name+".jpg")
		if err := copyFile(path, dest); err != nil {
			r.logger.Warn("failed to keep reference image", "error", err)
		} else {
			res.ReferencePath = dest
		}
	}
	if !r.cfg.KeepCandidates {
		if err := os.Remove(path); err != nil {
			r.logger.Warn("failed to remove accepted candidate", "file", path, "error", err)
		}
	}
	return nil
}

// accepts matches when any reference is within tolerance. Without references the first
// FallbackLimit candidates are accepted.
func (r *Registrar) accepts(emb []float64, refs [][]float64, accepted int) bool {
	if len(refs) == 0 {
		return accepted < r.cfg.FallbackLimit
	}
	for _, ref := range refs {
		if len(ref) == len(emb) && matcher.Distance(ref, emb) < r.cfg.Tolerance {
			return true
		}
	}
	return false
}

// firstEmbedding returns the embedding of the first face in an image file, nil if none.
func (r *Registrar) firstEmbedding(ctx context.Context, path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dets, err := r.encoder.DetectAndEncode(ctx, data)
	if err != nil {
		return nil, err
	}
	if len(dets) == 0 {
		return nil, nil
	}
	return dets[0].Embedding, nil
}

func listCandidates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidate folder: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
