package types

import "errors"

var (
	// ErrSourceUnopenable is returned when a video path cannot be bound to a stream.
	ErrSourceUnopenable = errors.New("source unopenable")
	// ErrEndOfStream marks source exhaustion or a decoder failure.
	ErrEndOfStream = errors.New("end of stream")
	// ErrFrameProcessing wraps any per-frame failure. The frame is skipped.
	ErrFrameProcessing = errors.New("frame processing failed")
	// ErrStoreUnavailable means the identity store could not be read or written.
	ErrStoreUnavailable = errors.New("identity store unavailable")
	// ErrInvalidEmbedding marks a record whose dimensionality does not fit the candidate.
	ErrInvalidEmbedding = errors.New("invalid embedding")
	ErrJobCancelled     = errors.New("job cancelled")
	ErrJobFailed        = errors.New("job failed")
)
