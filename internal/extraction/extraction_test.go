package extraction

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facegrid/internal/job"
	"github.com/andresmejia3/facegrid/internal/types"
	"github.com/andresmejia3/facegrid/internal/video"
)

type frameSource struct {
	frames [][]byte
}

func (s frameSource) Open(path string) (video.Handle, error) {
	return &sliceHandle{frames: s.frames}, nil
}

type sliceHandle struct {
	frames [][]byte
}

func (h *sliceHandle) ReadFrame() ([]byte, error) {
	if len(h.frames) == 0 {
		return nil, types.ErrEndOfStream
	}
	f := h.frames[0]
	h.frames = h.frames[1:]
	return f, nil
}

func (h *sliceHandle) Close() error { return nil }

type twoFaces struct{ calls int }

func (e *twoFaces) DetectAndEncode(ctx context.Context, img []byte) ([]types.Detection, error) {
	e.calls++
	return []types.Detection{
		{Box: types.BBox{Top: 0, Right: 10, Bottom: 10, Left: 0}},
		{Box: types.BBox{Top: 20, Right: 40, Bottom: 40, Left: 20}},
	}, nil
}

func frames(t *testing.T, n int) [][]byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 64)), nil); err != nil {
		t.Fatal(err)
	}
	out := make([][]byte, n)
	for i := range out {
		out[i] = buf.Bytes()
	}
	return out
}

func TestExtractEveryNthFrame(t *testing.T) {
	out := t.TempDir()
	enc := &twoFaces{}
	var pcts []int
	e, err := New(Config{VideoPath: "clip.mp4", OutputDir: out, Interval: 3, TotalFrames: 10}, frameSource{frames: frames(t, 10)}, enc, nil)
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.Run(context.Background(), func(p job.Progress) { pcts = append(pcts, p.Percent) })
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// Frames 0, 3, 6, 9.
	if res.Frames != 10 || res.Scanned != 4 || enc.calls != 4 {
		t.Errorf("result %+v with %d encoder calls", res, enc.calls)
	}
	if res.Faces != 8 {
		t.Errorf("saved %d faces, want 8", res.Faces)
	}
	for _, name := range []string{"face_0.jpg", "face_7.jpg"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if pcts[len(pcts)-1] != 100 {
		t.Errorf("last progress %d, want 100", pcts[len(pcts)-1])
	}
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e, _ := New(Config{OutputDir: t.TempDir(), Interval: 1, TotalFrames: 50}, frameSource{frames: frames(t, 50)}, &twoFaces{}, nil)

	h := job.Start(ctx, "extract", e.Run, job.Callbacks[Result]{
		Progress: func(p job.Progress) {
			if p.Percent >= 10 {
				cancel()
			}
		},
	})
	res, err := h.Wait()
	if !errors.Is(err, types.ErrJobCancelled) {
		t.Fatalf("expected ErrJobCancelled, got %v", err)
	}
	if res.Frames >= 50 {
		t.Errorf("extraction should stop early, read %d frames", res.Frames)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{OutputDir: "x", Interval: 0}, frameSource{}, &twoFaces{}, nil); err == nil {
		t.Error("expected error for zero interval")
	}
	if _, err := New(Config{Interval: 1}, frameSource{}, &twoFaces{}, nil); err == nil {
		t.Error("expected error for missing output folder")
	}
}
