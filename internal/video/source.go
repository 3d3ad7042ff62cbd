// Package video turns video files and camera URLs into streams of JPEG frames.
package video

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/andresmejia3/facegrid/internal/types"
)

const megabyte = 1024 * 1024

// Source opens frame handles for a path or URL.
type Source interface {
	Open(path string) (Handle, error)
}

// Handle yields frames one at a time. ReadFrame returns an error wrapping
// types.ErrEndOfStream once the input is exhausted or the decoder fails.
type Handle interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// FFmpegSource decodes inputs with an ffmpeg child process.
type FFmpegSource struct {
	// Width downscales frames when > 0.
	Width int
}

// Open starts ffmpeg for path. Missing files and a missing ffmpeg binary are reported as
// types.ErrSourceUnopenable.
func (s FFmpegSource) Open(path string) (Handle, error) {
	if !IsNetworkURL(path) {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrSourceUnopenable, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", types.ErrSourceUnopenable, path)
		}
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSourceUnopenable, err)
	}

	cmd := NewFFmpegCmd(path, s.Width)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create ffmpeg stdout pipe: %v", types.ErrSourceUnopenable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", types.ErrSourceUnopenable, err)
	}
	return newPipeHandle(out, cmd, stderr), nil
}

// pipeHandle splits a byte stream of concatenated JPEGs.
type pipeHandle struct {
	r       io.ReadCloser
	scanner *bufio.Scanner
	cmd     *exec.Cmd
	stderr  *bytes.Buffer

	closeOnce sync.Once
	closeErr  error
}

func newPipeHandle(r io.ReadCloser, cmd *exec.Cmd, stderr *bytes.Buffer) *pipeHandle {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJpeg)
	return &pipeHandle{r: r, scanner: scanner, cmd: cmd, stderr: stderr}
}

// NewReaderHandle wraps an MJPEG byte stream that is not backed by a process.
func NewReaderHandle(r io.ReadCloser) Handle {
	return newPipeHandle(r, nil, nil)
}

func (h *pipeHandle) ReadFrame() ([]byte, error) {
	if h.scanner.Scan() {
		// The scanner reuses its buffer; the frame must own its bytes.
		return bytes.Clone(h.scanner.Bytes()), nil
	}
	err := h.scanner.Err()
	if err == nil {
		return nil, types.ErrEndOfStream
	}
	if errors.Is(err, os.ErrClosed) {
		return nil, fmt.Errorf("%w: source closed", types.ErrEndOfStream)
	}
	if h.stderr != nil && h.stderr.Len() > 0 {
		return nil, fmt.Errorf("%w: decoder failed: %v: %s", types.ErrEndOfStream, err, h.stderr.String())
	}
	return nil, fmt.Errorf("%w: decoder failed: %v", types.ErrEndOfStream, err)
}

// Close stops the decoder. Safe to call more than once and concurrently with ReadFrame.
func (h *pipeHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.r.Close()
		if h.cmd != nil && h.cmd.Process != nil {
			h.cmd.Process.Kill()
			h.cmd.Wait()
		}
	})
	return h.closeErr
}
