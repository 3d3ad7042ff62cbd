// Package scheduler drives up to four streams through the frame processor.
//
// A single control loop owns every stream controller, the telemetry aggregator and the
// display sink. Ticks, completions and commands reach it over channels, so nothing it
// owns is shared between goroutines.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andresmejia3/facegrid/internal/catalog"
	"github.com/andresmejia3/facegrid/internal/display"
	"github.com/andresmejia3/facegrid/internal/processor"
	"github.com/andresmejia3/facegrid/internal/stream"
	"github.com/andresmejia3/facegrid/internal/telemetry"
	"github.com/andresmejia3/facegrid/internal/types"
	"github.com/andresmejia3/facegrid/internal/video"
	"github.com/google/uuid"
)

const (
	DefaultTickInterval   = 30 * time.Millisecond
	DefaultSampleInterval = time.Second
)

var (
	ErrStopped     = errors.New("scheduler stopped")
	ErrInvalidSlot = errors.New("invalid stream slot")
	ErrNoStreams   = errors.New("no stream could be opened")
)

// FrameProcessor turns one frame into an annotated frame and a face count.
type FrameProcessor interface {
	Process(ctx context.Context, frame types.Frame, cat *catalog.Catalog) (processor.AnnotatedFrame, types.FaceCount, error)
}

// Config tunes a Scheduler. Zero values take the defaults.
type Config struct {
	TickInterval   time.Duration
	SampleInterval time.Duration
	// Streams are opened by Run before the first tick, indexed by slot. Empty paths are skipped.
	Streams []string
	// ExitWhenDone makes Run return once every opened stream has ended.
	ExitWhenDone bool
	Catalog      *catalog.Catalog
	Sampler      telemetry.SystemSampler
	Logger       *slog.Logger
}

// Completion is the immutable result of one unit of work.
type Completion struct {
	Slot   int
	Gen    uint64
	Frame  processor.AnnotatedFrame
	Count  types.FaceCount
	Ended  bool
	EndErr error
	Err    error
}

// SlotStats counts what happened to one slot's ticks.
type SlotStats struct {
	Ticks      uint64
	Dispatched uint64
	Dropped    uint64
	Completed  uint64
	Errors     uint64
}

// SlotSnapshot is a copy of one slot's state.
type SlotSnapshot struct {
	Slot     int
	Path     string
	State    stream.State
	Duration time.Duration
	Stats    SlotStats
}

type tick struct {
	slot int
	gen  uint64
}

type command struct {
	fn   func()
	done chan struct{}
}

// Scheduler is the pipeline control loop.
type Scheduler struct {
	id       string
	cfg      Config
	strategy Strategy
	proc     FrameProcessor
	sink     display.Sink
	logger   *slog.Logger
	now      func() time.Time

	streams   [stream.NumSlots]*stream.Controller
	timers    [stream.NumSlots]chan struct{}
	stats     [stream.NumSlots]SlotStats
	telemetry *telemetry.Aggregator
	catalog   *catalog.Catalog
	opened    bool
	stopped   bool
	started   time.Time

	ticks chan tick
	cmds  chan command
	done  chan struct{}
}

// New wires a scheduler. Open, Stop, SetCatalog and Snapshot need Run to be active, or to
// have returned.
func New(strategy Strategy, proc FrameProcessor, source video.Source, sink display.Sink, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Empty()
	}
	if sink == nil {
		sink = display.Discard{}
	}
	id := uuid.NewString()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("scheduler", strategy.Name(), "session", id[:8])

	s := &Scheduler{
		id:       id,
		cfg:      cfg,
		strategy: strategy,
		proc:     proc,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		catalog:  cfg.Catalog,
		ticks:    make(chan tick),
		cmds:     make(chan command),
		done:     make(chan struct{}),
	}
	for i := range s.streams {
		s.streams[i] = stream.NewController(i, source)
	}
	s.started = s.now()
	s.telemetry = telemetry.NewAggregator(s.started)
	return s
}

// ID identifies this run.
func (s *Scheduler) ID() string { return s.id }

// Run is the control loop. It returns when ctx is cancelled, or with nil once every opened
// stream has ended if Config.ExitWhenDone is set.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.shutdown()

	sample := time.NewTicker(s.cfg.SampleInterval)
	defer sample.Stop()

	s.logger.Info("control loop started", "tick", s.cfg.TickInterval, "identities", s.catalog.Len())
	if err := s.openInitial(); err != nil {
		return err
	}
	for {
		if s.cfg.ExitWhenDone && s.finished() {
			s.logger.Info("all streams ended")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-s.ticks:
			s.handleTick(ctx, t)
		case c := <-s.strategy.Completions():
			s.handleCompletion(c)
		case cmd := <-s.cmds:
			cmd.fn()
			close(cmd.done)
		case <-sample.C:
			s.sampleSystem()
		}
	}
}

func (s *Scheduler) openInitial() error {
	if len(s.cfg.Streams) > stream.NumSlots {
		return fmt.Errorf("%w: %d streams for %d slots", ErrInvalidSlot, len(s.cfg.Streams), stream.NumSlots)
	}
	var errs []error
	for slot, path := range s.cfg.Streams {
		if path == "" {
			continue
		}
		if err := s.open(slot, path); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 && !s.opened {
		return fmt.Errorf("%w: %w", ErrNoStreams, errors.Join(errs...))
	}
	return nil
}

func (s *Scheduler) shutdown() {
	for i := range s.timers {
		s.stopTimer(i)
	}
	s.strategy.Close()
	s.stopped = true
}

// finished reports whether at least one stream was opened and none is live.
func (s *Scheduler) finished() bool {
	if !s.opened {
		return false
	}
	for _, c := range s.streams {
		if st := c.State(); st == stream.Loaded || st == stream.Running {
			return false
		}
	}
	return true
}

// do runs fn on the control loop, or directly once the loop has exited.
func (s *Scheduler) do(fn func()) {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case s.cmds <- cmd:
		<-cmd.done
	case <-s.done:
		fn()
	}
}

// Open binds path to slot and starts its tick timer. A failed open leaves the slot as it
// was and starts no timer.
func (s *Scheduler) Open(slot int, path string) error {
	if slot < 0 || slot >= stream.NumSlots {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	var err error
	s.do(func() { err = s.open(slot, path) })
	return err
}

func (s *Scheduler) open(slot int, path string) error {
	if s.stopped {
		return ErrStopped
	}
	ctrl := s.streams[slot]
	if err := ctrl.Open(path); err != nil {
		s.logger.Warn("failed to open stream", "slot", slot, "path", path, "error", err)
		s.sink.StreamStatus(display.Status{Slot: slot, Path: path, State: ctrl.State().String(), Error: err.Error()})
		return err
	}

	s.stopTimer(slot)
	s.strategy.Release(slot)
	s.stats[slot] = SlotStats{}
	// FPS and accuracy are shared by all slots and restart with any reload.
	s.telemetry.Reset(s.now())

	s.startTimer(slot, ctrl.Generation())
	if err := ctrl.Start(); err != nil {
		s.stopTimer(slot)
		return err
	}
	s.opened = true
	s.logger.Info("stream started", "slot", slot, "path", path)
	s.sink.StreamStatus(display.Status{Slot: slot, Path: path, State: ctrl.State().String()})
	return nil
}

// Stop ends slot and stops its timer only.
func (s *Scheduler) Stop(slot int) error {
	if slot < 0 || slot >= stream.NumSlots {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	s.do(func() { s.end(slot, nil) })
	return nil
}

// SetCatalog swaps the identity snapshot. Work already dispatched keeps the old one.
func (s *Scheduler) SetCatalog(cat *catalog.Catalog) {
	if cat == nil {
		cat = catalog.Empty()
	}
	s.do(func() { s.catalog = cat })
}

// Snapshot copies the state of every slot.
func (s *Scheduler) Snapshot() []SlotSnapshot {
	var out []SlotSnapshot
	s.do(func() {
		out = make([]SlotSnapshot, len(s.streams))
		for i, c := range s.streams {
			out[i] = SlotSnapshot{Slot: i, Path: c.Path(), State: c.State(), Duration: c.Elapsed(), Stats: s.stats[i]}
		}
	})
	return out
}

// Report exports telemetry and per-slot statistics.
func (s *Scheduler) Report() telemetry.Report {
	var r telemetry.Report
	s.do(func() {
		r = telemetry.Report{Edition: s.strategy.Name(), Session: s.id, Started: s.started, Finished: s.now()}
		s.telemetry.Export(&r)
		for i, c := range s.streams {
			if c.State() == stream.Idle {
				continue
			}
			st := s.stats[i]
			r.Streams = append(r.Streams, telemetry.StreamReport{
				Slot: i, Path: c.Path(), State: c.State().String(), Duration: c.Elapsed(),
				Ticks: st.Ticks, Dispatched: st.Dispatched, Dropped: st.Dropped, Errors: st.Errors,
			})
		}
	})
	return r
}

func (s *Scheduler) startTimer(slot int, gen uint64) {
	stop := make(chan struct{})
	s.timers[slot] = stop
	interval := s.cfg.TickInterval
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				select {
				case s.ticks <- tick{slot: slot, gen: gen}:
				case <-stop:
					return
				}
			}
		}
	}()
}

func (s *Scheduler) stopTimer(slot int) {
	if s.timers[slot] != nil {
		close(s.timers[slot])
		s.timers[slot] = nil
	}
}

func (s *Scheduler) handleTick(ctx context.Context, t tick) {
	ctrl := s.streams[t.slot]
	if t.gen != ctrl.Generation() || ctrl.State() != stream.Running {
		return
	}
	st := &s.stats[t.slot]
	st.Ticks++

	work := s.work(ctx, t.slot, ctrl.Session(), s.catalog)
	if s.strategy.Dispatch(t.slot, work, s.handleCompletion) {
		st.Dispatched++
	} else {
		st.Dropped++
	}
}

// work captures everything a unit of work needs so it can run off the control loop.
func (s *Scheduler) work(ctx context.Context, slot int, sess *stream.Session, cat *catalog.Catalog) Work {
	proc := s.proc
	return func() (c Completion) {
		c = Completion{Slot: slot, Gen: sess.Generation()}
		defer func() {
			if r := recover(); r != nil {
				c.Err = fmt.Errorf("%w: panic: %v", types.ErrFrameProcessing, r)
			}
		}()

		frame, err := sess.ReadNext()
		if errors.Is(err, types.ErrEndOfStream) {
			c.Ended, c.EndErr = true, err
			return c
		}
		if err != nil {
			c.Err = fmt.Errorf("%w: read: %v", types.ErrFrameProcessing, err)
			return c
		}
		c.Frame, c.Count, c.Err = proc.Process(ctx, frame, cat)
		return c
	}
}

func (s *Scheduler) handleCompletion(c Completion) {
	ctrl := s.streams[c.Slot]
	if c.Gen != ctrl.Generation() {
		return // belongs to a previous Open of this slot
	}
	s.strategy.Release(c.Slot)
	if ctrl.State() != stream.Running {
		return
	}
	st := &s.stats[c.Slot]

	switch {
	case c.Ended:
		var cause error
		if c.EndErr != types.ErrEndOfStream {
			cause = c.EndErr // decoder failure rather than a clean EOF
		}
		s.end(c.Slot, cause)
	case c.Err != nil:
		st.Errors++
		s.logger.Warn("frame skipped", "slot", c.Slot, "error", c.Err)
	default:
		st.Completed++
		for _, r := range c.Frame.Results {
			for _, err := range r.Invalid {
				s.logger.Debug("identity record skipped", "slot", c.Slot, "error", err)
			}
		}
		s.sink.Render(c.Slot, c.Frame)
		fps, acc, hasAcc := s.telemetry.RecordFrame(c.Count, s.now())
		if fps > 0 {
			s.sink.UpdateTelemetry(telemetry.FPS, fps)
		}
		if hasAcc {
			s.sink.UpdateTelemetry(telemetry.Accuracy, acc)
		}
	}
}

// end stops the slot's timer and moves it to Ended.
func (s *Scheduler) end(slot int, cause error) {
	ctrl := s.streams[slot]
	s.stopTimer(slot)
	if st := ctrl.State(); st != stream.Running && st != stream.Loaded {
		return
	}
	d := ctrl.Finish()
	status := display.Status{Slot: slot, Path: ctrl.Path(), State: ctrl.State().String(), Duration: d}
	if cause != nil {
		status.Error = cause.Error()
	}
	s.logger.Info("stream ended", "slot", slot, "path", ctrl.Path(), "duration", d.Round(time.Millisecond))
	s.sink.StreamStatus(status)
}

func (s *Scheduler) sampleSystem() {
	if s.cfg.Sampler == nil {
		return
	}
	cpu, mem, err := s.cfg.Sampler.Sample()
	if err != nil {
		s.logger.Debug("system sample failed", "error", err)
		return
	}
	s.telemetry.RecordSystem(cpu, mem)
	s.sink.UpdateTelemetry(telemetry.CPU, cpu)
	s.sink.UpdateTelemetry(telemetry.Memory, mem)
}
