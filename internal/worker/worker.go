// Package worker talks to external face engine processes.
//
// Wire protocol, all integers big-endian. Requests go to the engine's stdin as
// [uint32 length][JPEG bytes]. Responses come back on FD 3 as [uint32 length][payload]:
//
//	status 0: [uint8 0][uint32 faces] then per face [4 x int32 top,right,bottom,left][uint32 dim][dim x float64]
//	status 1: [uint8 1][uint32 msgLen][msg]
package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/andresmejia3/facegrid/internal/types"
	"github.com/andresmejia3/facegrid/internal/utils"
)

const (
	statusOK    = 0
	statusError = 1

	// maxEmbeddingDim guards against a corrupt length field.
	maxEmbeddingDim = 4096
)

// ErrEngine is returned when the engine reports a failure for one image.
// The engine process itself is still healthy.
var ErrEngine = errors.New("face engine error")

// Config describes how to launch an engine.
type Config struct {
	Python      string
	Script      string
	Args        []string
	ReadTimeout time.Duration
}

// DefaultConfig runs python/engine.py with python3.
func DefaultConfig() Config {
	return Config{Python: "python3", Script: "python/engine.py", ReadTimeout: 30 * time.Second}
}

type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

// NewPythonWorker starts one engine process.
func NewPythonWorker(id int, cfg Config) (*PythonWorker, error) {
	args := append([]string{"-u", cfg.Script}, cfg.Args...)
	py := utils.NewSafeCommand(cfg.Python, args...)

	// Side-channel pipe (FD 3) keeps engine prints on stdout out of the data stream.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Only the child holds the write end now.
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Communicate sends one framed request and returns the framed response body.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		d.SetReadDeadline(time.Now().Add(w.ReadTimeout))
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // engine crashed or timed out
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Encode detects every face in a JPEG and returns its box and embedding.
func (w *PythonWorker) Encode(img []byte) ([]types.Detection, error) {
	resp, err := w.Communicate(img)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func parseResponse(resp []byte) ([]types.Detection, error) {
	r := bytes.NewReader(resp)
	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty engine response: %w", err)
	}

	if status == statusError {
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("truncated engine error: %w", err)
		}
		msg := make([]byte, n)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("truncated engine error: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrEngine, msg)
	}
	if status != statusOK {
		return nil, fmt.Errorf("unknown engine status %d", status)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("truncated face count: %w", err)
	}

	faces := make([]types.Detection, 0, count)
	for i := uint32(0); i < count; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d: truncated box: %w", i, err)
		}
		var dim uint32
		if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
			return nil, fmt.Errorf("face %d: truncated dimension: %w", i, err)
		}
		if dim > maxEmbeddingDim {
			return nil, fmt.Errorf("face %d: embedding dimension %d too large", i, dim)
		}
		raw := make([]uint64, dim)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("face %d: truncated embedding: %w", i, err)
		}
		vec := make([]float64, dim)
		for j, bits := range raw {
			vec[j] = math.Float64frombits(bits)
		}
		faces = append(faces, types.Detection{
			Box:       types.BBox{Top: int(box[0]), Right: int(box[1]), Bottom: int(box[2]), Left: int(box[3])},
			Embedding: vec,
		})
	}
	return faces, nil
}

// Logs returns the engine's captured stderr.
func (w *PythonWorker) Logs() string {
	return w.Cmd.Logs()
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		return w.Cmd.Wait()
	}
	return nil
}
