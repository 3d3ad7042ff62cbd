package scheduler

import (
	"fmt"
	"sync"

	"github.com/andresmejia3/facegrid/internal/stream"
)

// Work reads and processes one frame of a slot.
type Work func() Completion

// Strategy decides how ticks turn into work. All methods except Completions are called
// from the control loop only.
type Strategy interface {
	Name() string
	// Dispatch runs work for slot, or schedules it. deliver is used for work that completes
	// inline. It returns false when the tick was dropped.
	Dispatch(slot int, work Work, deliver func(Completion)) bool
	// Completions carries results of work that ran off the control loop. Nil when all
	// work completes inline.
	Completions() <-chan Completion
	// Release marks slot as free again.
	Release(slot int)
	// Close waits for outstanding work.
	Close()
}

const (
	SequentialName = "sequential"
	ConcurrentName = "concurrent"
)

// ParseStrategy maps a CLI name onto a fresh strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case SequentialName:
		return NewSequential(), nil
	case ConcurrentName:
		return NewConcurrent(), nil
	default:
		return nil, fmt.Errorf("unknown scheduler %q (want %s or %s)", name, SequentialName, ConcurrentName)
	}
}

// Sequential processes every tick inline on the control loop. Ticks that arrive while a
// frame is being processed wait in the ticker.
type Sequential struct{}

func NewSequential() *Sequential { return &Sequential{} }

func (*Sequential) Name() string { return SequentialName }

func (*Sequential) Dispatch(slot int, work Work, deliver func(Completion)) bool {
	deliver(work())
	return true
}

func (*Sequential) Completions() <-chan Completion { return nil }
func (*Sequential) Release(int)                    {}
func (*Sequential) Close()                         {}

// Concurrent runs each slot's work on its own goroutine. A slot with work in flight
// drops further ticks without reading a frame.
type Concurrent struct {
	inFlight [stream.NumSlots]bool
	results  chan Completion
	stop     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewConcurrent() *Concurrent {
	return &Concurrent{
		results: make(chan Completion, stream.NumSlots),
		stop:    make(chan struct{}),
	}
}

func (*Concurrent) Name() string { return ConcurrentName }

func (c *Concurrent) Dispatch(slot int, work Work, _ func(Completion)) bool {
	if c.inFlight[slot] {
		return false
	}
	c.inFlight[slot] = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res := work()
		select {
		case c.results <- res:
		case <-c.stop:
		}
	}()
	return true
}

// InFlight reports whether slot has work outstanding.
func (c *Concurrent) InFlight(slot int) bool { return c.inFlight[slot] }

func (c *Concurrent) Completions() <-chan Completion { return c.results }

func (c *Concurrent) Release(slot int) { c.inFlight[slot] = false }

func (c *Concurrent) Close() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}
