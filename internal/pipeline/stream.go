package pipeline

import (
	"io"
	"sync"
	"sync/atomic"
)

// StreamState tracks a streaming transform through its lifecycle.
type StreamState int32

const (
	StateIdle StreamState = iota
	StateFetching
	StatePiping
	StateCompleted
	StateFailed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StatePiping:
		return "piping"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StreamMeta carries facts the encoder only knows once it has processed the
// image. Diagnostics only; nothing downstream waits on it.
type StreamMeta struct {
	Width        int
	Height       int
	EncodedBytes int64
}

// StreamingHandle is the read side of a streaming transform. Reads deliver
// encoded bytes in production order; after a failure they return the terminal
// error without corrupting bytes already delivered.
type StreamingHandle struct {
	ContentType string

	// SourceContentType is the origin's declared or sniffed payload type,
	// recorded for diagnostics before the transform starts.
	SourceContentType string

	reader *io.PipeReader
	state  atomic.Int32
	meta   chan StreamMeta

	errMu sync.Mutex
	err   error
}

func (h *StreamingHandle) Read(p []byte) (int, error) {
	return h.reader.Read(p)
}

// Close abandons the stream; the producer observes a write error and stops.
func (h *StreamingHandle) Close() error {
	if h.reader == nil {
		return nil
	}
	return h.reader.Close()
}

func (h *StreamingHandle) State() StreamState {
	return StreamState(h.state.Load())
}

// Meta yields the encoder's metadata once the stream completes. The channel
// is buffered; a caller that never drains it leaks nothing.
func (h *StreamingHandle) Meta() <-chan StreamMeta {
	return h.meta
}

// Err returns the terminal error after the stream failed, nil otherwise.
func (h *StreamingHandle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

func (h *StreamingHandle) setState(s StreamState) {
	h.state.Store(int32(s))
}

func (h *StreamingHandle) fail(err error) {
	h.errMu.Lock()
	h.err = err
	h.errMu.Unlock()
	h.setState(StateFailed)
}
