package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/andresmejia3/facegrid/internal/matcher"
	"github.com/andresmejia3/facegrid/internal/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	KnownColor   = color.RGBA{0, 255, 0, 255}
	UnknownColor = color.RGBA{255, 0, 0, 255}
	labelBg      = color.RGBA{0, 0, 0, 180}
)

const boxThickness = 2

// Annotate decodes a JPEG, draws a box and name for every result and re-encodes it.
func Annotate(jpegData []byte, results []matcher.Result, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	rgba := ToRGBA(img)
	for _, r := range results {
		c := UnknownColor
		if r.Matched() {
			c = KnownColor
		}
		DrawBox(rgba, r.Detection.Box.Rect(), c, boxThickness)
		DrawLabel(rgba, r.Detection.Box.Left, r.Detection.Box.Top-15, r.Identity.Name(), c)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// ToRGBA copies img into a drawable RGBA image.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, img, b.Min, draw.Src)
	return rgba
}

// DrawBox outlines r, clipped to the image.
func DrawBox(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	r = r.Canon()
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		e = e.Intersect(img.Bounds())
		if !e.Empty() {
			draw.Draw(img, e, src, image.Point{}, draw.Src)
		}
	}
}

// DrawLabel writes label on a dark background with its top-left corner at (x, y).
func DrawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	b := img.Bounds()
	x = max(x, b.Min.X)
	y = max(y, b.Min.Y)

	face := basicfont.Face7x13
	width := font.MeasureString(face, label).Ceil()
	bg := image.Rect(x, y, x+width+4, y+face.Height+2).Intersect(b)
	if !bg.Empty() {
		draw.Draw(img, bg, image.NewUniform(labelBg), image.Point{}, draw.Over)
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x + 2), Y: fixed.I(y + face.Ascent + 1)},
	}
	d.DrawString(label)
}

// CropFace returns the part of img inside box, clipped to the image bounds.
func CropFace(img image.Image, box types.BBox) (image.Image, bool) {
	r := box.Rect().Canon().Intersect(img.Bounds())
	if r.Empty() {
		return nil, false
	}
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r), true
	}
	rgba := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, r.Min, draw.Src)
	return rgba, true
}
