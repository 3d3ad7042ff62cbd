package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/andresmejia3/facegrid/internal/types"
)

// ErrPoolExhausted is returned once every engine has died and could not be restarted.
var ErrPoolExhausted = errors.New("no face engines available")

// Engine is one exclusive connection to a face engine.
type Engine interface {
	Encode(img []byte) ([]types.Detection, error)
	Logs() string
	Close() error
}

// Factory starts engine number id.
type Factory func(id int) (Engine, error)

// PythonFactory launches PythonWorkers with cfg.
func PythonFactory(cfg Config) Factory {
	return func(id int) (Engine, error) {
		return NewPythonWorker(id, cfg)
	}
}

// Pool hands engines out one caller at a time. It is safe for concurrent use and
// implements the frame processor's encoder interface.
type Pool struct {
	factory Factory
	logger  *slog.Logger
	idle    chan Engine

	mu     sync.Mutex
	alive  int
	nextID int
	closed bool
	dead   chan struct{}
}

// NewPool starts size engines. Any startup failure stops the engines already running.
func NewPool(size int, factory Factory, logger *slog.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		factory: factory,
		logger:  logger,
		idle:    make(chan Engine, size),
		dead:    make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		e, err := factory(i)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("engine %d failed to start: %w", i, err)
		}
		p.alive++
		p.idle <- e
	}
	p.nextID = size
	return p, nil
}

// DetectAndEncode borrows an engine for one image. An engine that fails at the transport
// level is replaced; engine-reported errors leave it in the pool.
func (p *Pool) DetectAndEncode(ctx context.Context, img []byte) ([]types.Detection, error) {
	var e Engine
	select {
	case e = <-p.idle:
	case <-p.dead:
		return nil, ErrPoolExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	faces, err := e.Encode(img)
	if err == nil || errors.Is(err, ErrEngine) {
		p.idle <- e
		return faces, err
	}

	logs := e.Logs()
	e.Close()
	p.logger.Warn("face engine died, restarting", "error", err, "logs", logs)
	p.replace()
	return nil, fmt.Errorf("face engine failed: %w", err)
}

func (p *Pool) replace() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	id := p.nextID
	p.nextID++
	e, err := p.factory(id)
	if err != nil {
		p.alive--
		p.logger.Error("face engine restart failed", "engine", id, "error", err)
		if p.alive == 0 {
			close(p.dead)
		}
		return
	}
	p.idle <- e
}

// Size returns the number of live engines.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

// Close stops idle engines. Engines borrowed at the time are not waited for.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	for {
		select {
		case e := <-p.idle:
			e.Close()
		default:
			return
		}
	}
}
