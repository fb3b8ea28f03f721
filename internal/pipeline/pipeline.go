package pipeline

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/dunamismax/pixelserve/internal/domain"
	"github.com/dunamismax/pixelserve/internal/fault"
	"github.com/dunamismax/pixelserve/internal/source"
	"github.com/dunamismax/pixelserve/internal/timing"
)

// RuntimeConfig bounds the native image runtime's process-wide caches. The
// pure-Go transformer keeps no cache and ignores it.
type RuntimeConfig struct {
	CacheMemBytes int
	CacheItems    int
}

// Pipeline orchestrates fetch, transform, and delivery for one request at a
// time. It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	transformer Transformer
	logger      *zap.Logger
}

func New(logger *zap.Logger) (*Pipeline, error) {
	transformer, err := newTransformer()
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		transformer: transformer,
		logger:      logger,
	}, nil
}

// TransformBuffered drains the source payload, runs the transform chain, and
// returns the whole encoded result. The payload is consumed and closed here.
func (p *Pipeline) TransformBuffered(ctx context.Context, payload *source.Payload, req domain.TransformRequest, trace *timing.Trace) (*domain.Materialized, error) {
	defer payload.Body.Close()

	input, err := io.ReadAll(newContextReader(ctx, payload.Body))
	if err != nil {
		err = fault.Wrap(fault.KindUpstream, transformStage, "read source stream", err)
		trace.RecordError(err)
		return nil, err
	}
	trace.Mark("source_read")

	data, width, height, err := p.transformer.Transform(ctx, input, req)
	if err != nil {
		trace.RecordError(err)
		return nil, err
	}
	trace.Mark("encoded")

	return &domain.Materialized{
		Data:        data,
		ContentType: req.Format.ContentType(),
		Width:       width,
		Height:      height,
	}, nil
}

// TransformStreaming fetches the source and starts the three-stage flow:
// source stream, transform, pipe write-end. The returned handle's read side
// delivers encoded bytes as they are produced; a slow consumer backpressures
// the producer through the pipe rather than buffering. A fetch failure is
// returned directly, before any handle exists, so the caller can still send a
// clean error response. Transform failures after that surface through the
// handle's read side and fail the stream.
func (p *Pipeline) TransformStreaming(ctx context.Context, fetcher source.Fetcher, req domain.TransformRequest, trace *timing.Trace) (*StreamingHandle, error) {
	handle := &StreamingHandle{
		ContentType: req.Format.ContentType(),
		meta:        make(chan StreamMeta, 1),
	}
	handle.setState(StateFetching)

	payload, err := fetcher.Fetch(ctx, req.SourceKey)
	if err != nil {
		handle.setState(StateFailed)
		trace.RecordError(err)
		return nil, err
	}
	handle.SourceContentType = payload.SniffContentType()
	trace.Mark("source_headers")

	pr, pw := io.Pipe()
	handle.reader = pr
	handle.setState(StatePiping)

	go func() {
		defer payload.Body.Close()

		counted := &countingWriter{dst: pw}
		width, height, err := p.transformer.TransformTo(ctx, counted, newContextReader(ctx, payload.Body), req)
		if err != nil {
			trace.RecordError(err)
			handle.fail(err)
			pw.CloseWithError(err)
			p.logger.Warn("streaming transform failed",
				zap.String("key", req.SourceKey),
				zap.String("source_content_type", handle.SourceContentType),
				zap.String("kind", string(fault.KindOf(err))),
				zap.Error(err),
			)
			return
		}
		trace.Mark("encoded")

		// Buffered channel; metadata never blocks delivery.
		handle.meta <- StreamMeta{Width: width, Height: height, EncodedBytes: counted.n}
		handle.setState(StateCompleted)
		pw.Close()
	}()

	return handle, nil
}

type countingWriter struct {
	dst io.Writer
	n   int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.n += int64(n)
	return n, err
}

// contextReader stops pulling from the wrapped reader once ctx is done, so a
// disconnected client cancels upstream reads promptly.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func newContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, r: r}
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
