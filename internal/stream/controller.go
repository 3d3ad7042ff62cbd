// Package stream manages the lifecycle of one video slot.
package stream

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/facegrid/internal/types"
	"github.com/andresmejia3/facegrid/internal/video"
)

// NumSlots is the fixed number of stream slots.
const NumSlots = 4

// State of a stream slot.
type State int

const (
	Idle State = iota
	Loaded
	Running
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loaded:
		return "loaded"
	case Running:
		return "running"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var errNotLoaded = errors.New("stream is not loaded")

// Controller owns one slot: Idle -> Loaded -> Running -> Ended, and back to Loaded on reload.
// Every method except Session.ReadNext must be called from the scheduler's control loop.
type Controller struct {
	id     int
	source video.Source
	now    func() time.Time

	state     State
	path      string
	session   *Session
	gen       uint64
	startedAt time.Time
	duration  time.Duration
}

// NewController creates an Idle controller for slot id.
func NewController(id int, source video.Source) *Controller {
	return &Controller{id: id, source: source, now: time.Now}
}

// SetClock replaces the wall clock used for durations and frame timestamps.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Controller) ID() int                 { return c.id }
func (c *Controller) State() State            { return c.state }
func (c *Controller) Path() string            { return c.path }
func (c *Controller) Generation() uint64      { return c.gen }
func (c *Controller) Duration() time.Duration { return c.duration }

// Elapsed is the wall-clock time since Open for a live slot, or the recorded duration.
func (c *Controller) Elapsed() time.Duration {
	if c.state == Loaded || c.state == Running {
		return c.now().Sub(c.startedAt)
	}
	return c.duration
}

// Session returns the current read session, nil when nothing is loaded.
func (c *Controller) Session() *Session { return c.session }

// Open binds path to the slot. On failure the state is left untouched and the error wraps
// types.ErrSourceUnopenable. On success any previous handle is closed, the generation
// advances and the slot is Loaded.
func (c *Controller) Open(path string) error {
	h, err := c.source.Open(path)
	if err != nil {
		if !errors.Is(err, types.ErrSourceUnopenable) {
			err = fmt.Errorf("%w: %v", types.ErrSourceUnopenable, err)
		}
		return err
	}
	c.closeSession()

	c.gen++
	c.path = path
	c.state = Loaded
	c.startedAt = c.now()
	c.duration = 0
	c.session = &Session{stream: c.id, gen: c.gen, handle: h, now: c.now}
	return nil
}

// Start marks the slot Running once its tick timer is scheduled.
func (c *Controller) Start() error {
	if c.state != Loaded {
		return fmt.Errorf("stream %d: %w (state %s)", c.id, errNotLoaded, c.state)
	}
	c.state = Running
	return nil
}

// Finish moves the slot to Ended, records the wall-clock time since Open and closes the
// source. Calling it on a slot that is not Loaded or Running is a no-op.
func (c *Controller) Finish() time.Duration {
	if c.state != Running && c.state != Loaded {
		return c.duration
	}
	c.duration = c.now().Sub(c.startedAt)
	c.state = Ended
	c.closeSession()
	return c.duration
}

// Stop ends the slot on user request.
func (c *Controller) Stop() time.Duration {
	return c.Finish()
}

func (c *Controller) closeSession() {
	if c.session != nil {
		c.session.handle.Close()
		c.session = nil
	}
}

// Session is one opened source. Exactly one goroutine may call ReadNext at a time; the
// scheduler guarantees this by never dispatching a slot twice.
type Session struct {
	stream int
	gen    uint64
	handle video.Handle
	now    func() time.Time
	seq    atomic.Uint64
}

// Generation identifies the Open call that created the session.
func (s *Session) Generation() uint64 { return s.gen }

// ReadNext pulls exactly one frame. Exhaustion and decoder failure return an error
// wrapping types.ErrEndOfStream.
func (s *Session) ReadNext() (types.Frame, error) {
	data, err := s.handle.ReadFrame()
	if err != nil {
		return types.Frame{}, err
	}
	return types.Frame{
		StreamID:  s.stream,
		Seq:       s.seq.Add(1),
		Timestamp: s.now(),
		Data:      data,
	}, nil
}
