package types

import (
	"image"
	"time"
)

// Frame is one decoded-ready image pulled from a stream.
// Data holds a single JPEG; whoever receives the Frame owns it.
type Frame struct {
	StreamID  int
	Seq       uint64
	Timestamp time.Time
	Data      []byte
}

// BBox is a face location in pixel coordinates, [top, right, bottom, left].
type BBox struct {
	Top    int
	Right  int
	Bottom int
	Left   int
}

// Rect converts the box into an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// Area returns the box area, 0 for degenerate boxes.
func (b BBox) Area() int {
	w, h := b.Right-b.Left, b.Bottom-b.Top
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Detection is one face found by the encoder
type Detection struct {
	Box       BBox
	Embedding []float64
}

// FaceCount summarises one processed frame.
type FaceCount struct {
	Total   int
	Matched int
}

// IdentityRecord associates a name with one reference embedding.
// A name may own many records.
type IdentityRecord struct {
	Name      string
	Embedding []float64
}
