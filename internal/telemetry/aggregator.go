// Package telemetry keeps bounded histories of process load, throughput and match accuracy.
package telemetry

import (
	"time"

	"github.com/andresmejia3/facegrid/internal/types"
)

const (
	// HistorySize bounds every telemetry series.
	HistorySize = 100
	// FPSWindow is the number of inter-frame intervals averaged for FPS.
	FPSWindow = 10
)

// Kind names a telemetry series.
type Kind string

const (
	CPU      Kind = "cpu"
	Memory   Kind = "memory"
	FPS      Kind = "fps"
	Accuracy Kind = "accuracy"
)

// Kinds lists every series in display order.
var Kinds = []Kind{CPU, Memory, FPS, Accuracy}

// Aggregator owns the telemetry ring buffers. It must only be touched from the
// scheduler's control loop.
type Aggregator struct {
	series    map[Kind]*Ring[float64]
	intervals *Ring[time.Duration]
	lastFrame time.Time
	frames    uint64
	faces     uint64
	matched   uint64
}

// NewAggregator starts the frame clock at now.
func NewAggregator(now time.Time) *Aggregator {
	a := &Aggregator{
		series:    make(map[Kind]*Ring[float64], len(Kinds)),
		intervals: NewRing[time.Duration](FPSWindow),
		lastFrame: now,
	}
	for _, k := range Kinds {
		a.series[k] = NewRing[float64](HistorySize)
	}
	return a
}

// RecordSystem appends one CPU and memory sample, both in percent.
func (a *Aggregator) RecordSystem(cpu, mem float64) {
	a.series[CPU].Push(cpu)
	a.series[Memory].Push(mem)
}

// RecordFrame registers one completed frame. FPS is updated on every call; accuracy only
// when the frame contained faces. It returns the values that were pushed.
func (a *Aggregator) RecordFrame(count types.FaceCount, now time.Time) (fps float64, accuracy float64, hasAccuracy bool) {
	a.frames++
	a.intervals.Push(now.Sub(a.lastFrame))
	a.lastFrame = now

	var total time.Duration
	for _, d := range a.intervals.Values() {
		total += d
	}
	if total > 0 {
		mean := total.Seconds() / float64(a.intervals.Len())
		fps = 1 / mean
		a.series[FPS].Push(fps)
	}

	if count.Total > 0 {
		a.faces += uint64(count.Total)
		a.matched += uint64(count.Matched)
		accuracy = float64(count.Matched) / float64(count.Total) * 100
		a.series[Accuracy].Push(accuracy)
		hasAccuracy = true
	}
	return fps, accuracy, hasAccuracy
}

// Series returns a copy of one series, oldest first.
func (a *Aggregator) Series(k Kind) []float64 {
	r, ok := a.series[k]
	if !ok {
		return nil
	}
	return r.Values()
}

// Latest returns the newest value of a series.
func (a *Aggregator) Latest(k Kind) (float64, bool) {
	r, ok := a.series[k]
	if !ok {
		return 0, false
	}
	return r.Last()
}

// Summary condenses the current history.
func (a *Aggregator) Summary() Summary {
	s := Summary{Frames: a.frames, Faces: a.faces, Matched: a.matched}
	s.MeanFPS = mean(a.Series(FPS))
	s.MeanAccuracy = mean(a.Series(Accuracy))
	s.PeakCPU = peak(a.Series(CPU))
	s.PeakMemory = peak(a.Series(Memory))
	return s
}

// Reset drops every series and restarts the frame clock at now.
func (a *Aggregator) Reset(now time.Time) {
	for _, r := range a.series {
		r.Clear()
	}
	a.intervals.Clear()
	a.lastFrame = now
	a.frames, a.faces, a.matched = 0, 0, 0
}

// Summary is a point-in-time digest of an Aggregator.
type Summary struct {
	Frames       uint64  `cbor:"frames" json:"frames"`
	Faces        uint64  `cbor:"faces" json:"faces"`
	Matched      uint64  `cbor:"matched" json:"matched"`
	MeanFPS      float64 `cbor:"mean_fps" json:"mean_fps"`
	MeanAccuracy float64 `cbor:"mean_accuracy" json:"mean_accuracy"`
	PeakCPU      float64 `cbor:"peak_cpu" json:"peak_cpu"`
	PeakMemory   float64 `cbor:"peak_memory" json:"peak_memory"`
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func peak(vs []float64) float64 {
	var m float64
	for _, v := range vs {
		m = max(m, v)
	}
	return m
}
