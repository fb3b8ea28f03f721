//go:build !govips || !cgo

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"github.com/dunamismax/pixelserve/internal/domain"
	"github.com/dunamismax/pixelserve/internal/fault"
	"github.com/dunamismax/pixelserve/internal/source"
	"github.com/dunamismax/pixelserve/internal/timing"
)

type stubFetcher struct {
	data        []byte
	contentType string
	err         error
	calls       int
}

func (f *stubFetcher) Fetch(_ context.Context, _ string) (*source.Payload, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &source.Payload{
		Body:        io.NopCloser(bytes.NewReader(f.data)),
		ContentType: f.contentType,
		Size:        int64(len(f.data)),
	}, nil
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(nil)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestTransformBuffered(t *testing.T) {
	p := newTestPipeline(t)
	src := buildTestPNG(t, 200, 100)

	payload := &source.Payload{
		Body: io.NopCloser(bytes.NewReader(src)),
		Size: int64(len(src)),
	}
	req := domain.TransformRequest{
		SourceKey: "img.png",
		Width:     50,
		Height:    50,
		Fit:       domain.FitCover,
		Format:    domain.FormatJPEG,
	}

	trace := timing.New()
	result, err := p.TransformBuffered(context.Background(), payload, req, trace)
	if err != nil {
		t.Fatalf("transform buffered: %v", err)
	}

	if result.ContentType != "image/jpeg" {
		t.Fatalf("unexpected content type %s", result.ContentType)
	}
	if result.Width != 50 || result.Height != 50 {
		t.Fatalf("expected 50x50 cover, got %dx%d", result.Width, result.Height)
	}
	if len(result.Data) == 0 {
		t.Fatal("expected encoded bytes")
	}
	if len(trace.Spans()) < 2 {
		t.Fatalf("expected source_read and encoded marks, got %v", trace.Spans())
	}
}

func TestTransformBufferedDecodeFailure(t *testing.T) {
	p := newTestPipeline(t)

	payload := &source.Payload{Body: io.NopCloser(bytes.NewReader([]byte("garbage")))}
	trace := timing.New()
	_, err := p.TransformBuffered(context.Background(), payload, domain.TransformRequest{
		SourceKey: "broken.bin",
		Format:    domain.FormatPNG,
	}, trace)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if fault.KindOf(err) != fault.KindDecode {
		t.Fatalf("expected decode kind, got %s", fault.KindOf(err))
	}
	if len(trace.Errors()) == 0 {
		t.Fatal("expected error recorded on the trace")
	}
}

func TestTransformStreamingDeliversImage(t *testing.T) {
	p := newTestPipeline(t)
	fetcher := &stubFetcher{data: buildTestPNG(t, 120, 60)}

	req := domain.TransformRequest{
		SourceKey: "img.png",
		Width:     60,
		Height:    30,
		Fit:       domain.FitFill,
		Format:    domain.FormatPNG,
	}

	handle, err := p.TransformStreaming(context.Background(), fetcher, req, timing.New())
	if err != nil {
		t.Fatalf("transform streaming: %v", err)
	}
	defer handle.Close()

	if handle.ContentType != "image/png" {
		t.Fatalf("unexpected content type %s", handle.ContentType)
	}
	if handle.State() != StatePiping {
		t.Fatalf("expected piping state after start, got %s", handle.State())
	}

	out, err := io.ReadAll(handle)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}

	img, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode streamed output: %v", err)
	}
	if format != "png" || img.Bounds().Dx() != 60 || img.Bounds().Dy() != 30 {
		t.Fatalf("unexpected streamed output %s %dx%d", format, img.Bounds().Dx(), img.Bounds().Dy())
	}

	if handle.State() != StateCompleted {
		t.Fatalf("expected completed state, got %s", handle.State())
	}

	select {
	case meta := <-handle.Meta():
		if meta.Width != 60 || meta.Height != 30 {
			t.Fatalf("unexpected meta dimensions %dx%d", meta.Width, meta.Height)
		}
		if meta.EncodedBytes != int64(len(out)) {
			t.Fatalf("expected %d encoded bytes in meta, got %d", len(out), meta.EncodedBytes)
		}
	case <-time.After(time.Second):
		t.Fatal("expected metadata after completion")
	}
}

func TestTransformStreamingRecordsSourceContentType(t *testing.T) {
	p := newTestPipeline(t)

	req := domain.TransformRequest{
		SourceKey: "img.png",
		Width:     20,
		Height:    10,
		Fit:       domain.FitFill,
		Format:    domain.FormatPNG,
	}

	t.Run("declared by origin", func(t *testing.T) {
		fetcher := &stubFetcher{data: buildTestPNG(t, 40, 20), contentType: "image/jpeg"}

		handle, err := p.TransformStreaming(context.Background(), fetcher, req, timing.New())
		if err != nil {
			t.Fatalf("transform streaming: %v", err)
		}
		defer handle.Close()

		if handle.SourceContentType != "image/jpeg" {
			t.Fatalf("expected declared type to win, got %q", handle.SourceContentType)
		}
	})

	t.Run("sniffed when origin omits it", func(t *testing.T) {
		fetcher := &stubFetcher{data: buildTestPNG(t, 40, 20)}

		handle, err := p.TransformStreaming(context.Background(), fetcher, req, timing.New())
		if err != nil {
			t.Fatalf("transform streaming: %v", err)
		}
		defer handle.Close()

		if handle.SourceContentType != "image/png" {
			t.Fatalf("expected sniffed image/png, got %q", handle.SourceContentType)
		}

		// Sniffing must not eat the stream prefix the decoder needs.
		out, err := io.ReadAll(handle)
		if err != nil {
			t.Fatalf("read stream after sniff: %v", err)
		}
		img, _, err := image.Decode(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("decode streamed output: %v", err)
		}
		if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 10 {
			t.Fatalf("unexpected output %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
		}
	})
}

func TestTransformStreamingFetchFailure(t *testing.T) {
	p := newTestPipeline(t)
	fetcher := &stubFetcher{err: fault.New(fault.KindNotFound, "object_store", "source object missing")}

	handle, err := p.TransformStreaming(context.Background(), fetcher, domain.TransformRequest{
		SourceKey: "missing.png",
		Format:    domain.FormatPNG,
	}, timing.New())
	if err == nil {
		t.Fatal("expected fetch error before any bytes flow")
	}
	if handle != nil {
		t.Fatal("expected no handle on fetch failure")
	}
	if fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("expected not-found kind, got %s", fault.KindOf(err))
	}
}

func TestTransformStreamingMidStreamFailure(t *testing.T) {
	p := newTestPipeline(t)
	fetcher := &stubFetcher{data: []byte("definitely not an image")}

	handle, err := p.TransformStreaming(context.Background(), fetcher, domain.TransformRequest{
		SourceKey: "broken.bin",
		Format:    domain.FormatPNG,
	}, timing.New())
	if err != nil {
		t.Fatalf("expected handle despite bad payload, got %v", err)
	}
	defer handle.Close()

	_, err = io.ReadAll(handle)
	if err == nil {
		t.Fatal("expected stream read to surface the transform error")
	}
	if fault.KindOf(err) != fault.KindDecode {
		t.Fatalf("expected decode kind through the pipe, got %s", fault.KindOf(err))
	}

	waitForState(t, handle, StateFailed)
	if handle.Err() == nil {
		t.Fatal("expected terminal error on the handle")
	}
}

func TestTransformStreamingSlowConsumerBackpressure(t *testing.T) {
	p := newTestPipeline(t)
	fetcher := &stubFetcher{data: buildTestPNG(t, 600, 600)}

	handle, err := p.TransformStreaming(context.Background(), fetcher, domain.TransformRequest{
		SourceKey: "big.png",
		Format:    domain.FormatPNG,
	}, timing.New())
	if err != nil {
		t.Fatalf("transform streaming: %v", err)
	}
	defer handle.Close()

	// Drain one small chunk at a time. The pipe makes the encoder wait for
	// the consumer, so the stream must still be in flight after the first
	// chunk rather than fully materialized.
	buf := make([]byte, 512)
	var total int
	first := true
	for {
		n, err := handle.Read(buf)
		total += n
		if first {
			first = false
			if handle.State() == StateCompleted {
				t.Fatal("expected producer to still be piping while consumer lags")
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	if total == 0 {
		t.Fatal("expected streamed bytes")
	}
	if handle.State() != StateCompleted {
		t.Fatalf("expected completed state at EOF, got %s", handle.State())
	}
}

func TestTransformStreamingConsumerGoneCancelsProducer(t *testing.T) {
	p := newTestPipeline(t)
	fetcher := &stubFetcher{data: buildTestPNG(t, 600, 600)}

	handle, err := p.TransformStreaming(context.Background(), fetcher, domain.TransformRequest{
		SourceKey: "big.png",
		Format:    domain.FormatPNG,
	}, timing.New())
	if err != nil {
		t.Fatalf("transform streaming: %v", err)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("close handle: %v", err)
	}

	waitForState(t, handle, StateFailed)
	if !errors.Is(handle.Err(), io.ErrClosedPipe) && fault.KindOf(handle.Err()) != fault.KindEncode {
		t.Fatalf("expected producer to observe the closed pipe, got %v", handle.Err())
	}
}

func waitForState(t *testing.T, handle *StreamingHandle, want StreamState) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if handle.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected state %s, still %s", want, handle.State())
}
