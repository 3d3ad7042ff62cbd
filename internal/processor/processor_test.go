package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/andresmejia3/facegrid/internal/catalog"
	"github.com/andresmejia3/facegrid/internal/types"
)

type fakeEncoder struct {
	dets []types.Detection
	err  error
}

func (f fakeEncoder) DetectAndEncode(ctx context.Context, img []byte) ([]types.Detection, error) {
	return f.dets, f.err
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestProcess(t *testing.T) {
	cat := catalog.New([]types.IdentityRecord{{Name: "ann", Embedding: []float64{0, 0}}})
	enc := fakeEncoder{dets: []types.Detection{
		{Box: types.BBox{Top: 10, Right: 60, Bottom: 60, Left: 10}, Embedding: []float64{0.3, 0}},
		{Box: types.BBox{Top: 70, Right: 150, Bottom: 140, Left: 90}, Embedding: []float64{0.7, 0}},
	}}

	p := New(enc, DefaultConfig())
	frame := types.Frame{StreamID: 3, Seq: 9, Data: testJPEG(t, 160, 160)}

	out, count, err := p.Process(context.Background(), frame, cat)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if count.Total != 2 || count.Matched != 1 {
		t.Errorf("count = %+v, want 2 total 1 matched", count)
	}
	if out.StreamID != 3 || out.Seq != 9 {
		t.Errorf("frame identity lost: %+v", out)
	}
	if out.Results[0].Identity.Name() != "ann" || out.Results[1].Matched() {
		t.Errorf("unexpected identities: %s, %s", out.Results[0].Identity, out.Results[1].Identity)
	}

	img, err := jpeg.Decode(bytes.NewReader(out.Image))
	if err != nil {
		t.Fatalf("annotated frame is not a JPEG: %v", err)
	}
	// Right edge of the matched box is green, of the unknown box red (allowing JPEG loss).
	r, g, _, _ := img.At(59, 35).RGBA()
	if g>>8 < r>>8+50 {
		t.Errorf("expected green box edge, got r=%d g=%d", r>>8, g>>8)
	}
	r, g, _, _ = img.At(149, 110).RGBA()
	if r>>8 < g>>8+50 {
		t.Errorf("expected red box edge, got r=%d g=%d", r>>8, g>>8)
	}
}

func TestProcessErrors(t *testing.T) {
	tests := []struct {
		name  string
		enc   fakeEncoder
		frame []byte
	}{
		{"encoder fails", fakeEncoder{err: errors.New("engine died")}, nil},
		{"frame is not a jpeg", fakeEncoder{dets: []types.Detection{{Embedding: []float64{0}}}}, []byte("garbage")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.enc, DefaultConfig())
			_, _, err := p.Process(context.Background(), types.Frame{Data: tt.frame}, catalog.Empty())
			if !errors.Is(err, types.ErrFrameProcessing) {
				t.Errorf("expected ErrFrameProcessing, got %v", err)
			}
		})
	}
}

func TestProcessNoFaces(t *testing.T) {
	p := New(fakeEncoder{}, Config{SkipAnnotation: true})
	data := []byte("untouched")
	out, count, err := p.Process(context.Background(), types.Frame{Data: data}, catalog.Empty())
	if err != nil {
		t.Fatal(err)
	}
	if count.Total != 0 {
		t.Errorf("expected no faces, got %+v", count)
	}
	if !bytes.Equal(out.Image, data) {
		t.Error("SkipAnnotation should pass the frame through")
	}
}

func TestCropFace(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	crop, ok := CropFace(img, types.BBox{Top: 10, Right: 40, Bottom: 50, Left: 20})
	if !ok {
		t.Fatal("expected a crop")
	}
	if crop.Bounds().Dx() != 20 || crop.Bounds().Dy() != 40 {
		t.Errorf("crop size = %v", crop.Bounds())
	}

	// Partly outside the frame gets clipped.
	crop, ok = CropFace(img, types.BBox{Top: 90, Right: 130, Bottom: 120, Left: 80})
	if !ok || crop.Bounds().Dx() != 20 || crop.Bounds().Dy() != 10 {
		t.Errorf("clipped crop = %v, %v", crop, ok)
	}

	if _, ok := CropFace(img, types.BBox{Top: 200, Right: 300, Bottom: 300, Left: 200}); ok {
		t.Error("box outside the image should not crop")
	}
}
