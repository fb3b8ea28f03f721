package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/dunamismax/pixelserve/internal/domain"
	"github.com/dunamismax/pixelserve/internal/fault"
	"github.com/dunamismax/pixelserve/internal/id"
	"github.com/dunamismax/pixelserve/internal/params"
	"github.com/dunamismax/pixelserve/internal/pipeline"
	"github.com/dunamismax/pixelserve/internal/source"
	"github.com/dunamismax/pixelserve/internal/timing"
)

// Cache lifetime is a hint for the CDN in front of this service; the service
// itself never caches.
const cacheControl = "public, max-age=3600, immutable"

const relayChunkSize = 32 * 1024

// Server is the HTTP surface. Delivery mode is fixed per route at
// construction: /v1/images/ answers from a fully materialized buffer,
// /assets/images/ streams encoded bytes as they are produced. Each route is
// bound to its own source fetcher.
type Server struct {
	logger    *zap.Logger
	pipeline  *pipeline.Pipeline
	buffered  source.Fetcher
	streaming source.Fetcher
	metrics   *metrics
	router    chi.Router
}

func NewServer(logger *zap.Logger, pl *pipeline.Pipeline, buffered, streaming source.Fetcher) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		logger:    logger,
		pipeline:  pl,
		buffered:  buffered,
		streaming: streaming,
		metrics:   newMetrics(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(s.metrics.withHTTPMetrics)
	r.Use(withTracing(otel.Tracer("pixelserve/api")))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.metricsHandler())
	r.Get("/v1/images/*", s.handleBuffered)
	r.Get("/assets/images/*", s.handleStreaming)

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBuffered(w http.ResponseWriter, r *http.Request) {
	trace := timing.New()
	trace.Mark("start")

	req, err := params.Resolve(chi.URLParam(r, "*"), r.URL.Query())
	if err != nil {
		s.failBuffered(w, r, req, err, trace)
		return
	}

	payload, err := s.buffered.Fetch(r.Context(), req.SourceKey)
	if err != nil {
		trace.RecordError(err)
		s.failBuffered(w, r, req, err, trace)
		return
	}
	trace.Mark("fetched")
	sourceType := payload.SniffContentType()

	result, err := s.pipeline.TransformBuffered(r.Context(), payload, req, trace)
	if err != nil {
		s.failBuffered(w, r, req, err, trace)
		return
	}
	trace.Mark("done")

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		s.logger.Warn("write buffered response",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Error(err),
		)
		return
	}

	s.metrics.observeTransform("buffered", string(req.Format), trace.Measure("start", "done"))
	s.logger.Info("image served",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("mode", "buffered"),
		zap.String("key", req.SourceKey),
		zap.String("source_content_type", sourceType),
		zap.String("format", string(req.Format)),
		zap.String("fit", string(req.Fit)),
		zap.Int("width", result.Width),
		zap.Int("height", result.Height),
		zap.Int("bytes", len(result.Data)),
		zap.String("timings", trace.Summary()),
	)
}

func (s *Server) handleStreaming(w http.ResponseWriter, r *http.Request) {
	trace := timing.New()
	trace.Mark("start")
	reqID := requestIDFrom(r.Context())

	req, err := params.Resolve(chi.URLParam(r, "*"), r.URL.Query())
	if err != nil {
		s.failStreaming(w, r, req, err, trace)
		return
	}

	handle, err := s.pipeline.TransformStreaming(r.Context(), s.streaming, req, trace)
	if err != nil {
		// Nothing is committed yet; a clean error status is still possible.
		s.failStreaming(w, r, req, err, trace)
		return
	}
	defer handle.Close()

	// Headers are committed exactly once, before the first content byte.
	// Everything after this point is stuck with status 200.
	w.Header().Set("Content-Type", handle.ContentType)
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	trace.Mark("headers_committed")

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, relayChunkSize)
	var sent int64
	for {
		n, readErr := handle.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				trace.RecordError(writeErr)
				s.logger.Warn("client disconnected mid-stream",
					zap.String("request_id", reqID),
					zap.String("key", req.SourceKey),
					zap.Int64("bytes_sent", sent),
					zap.Error(writeErr),
				)
				return
			}
			sent += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			// Headers are gone; degrade to an inline plain-text fragment
			// and terminate the stream.
			trace.RecordError(readErr)
			s.metrics.observeFailure(fault.KindOf(readErr))
			fmt.Fprintf(w, "\nimage stream error: %s\n", fault.Message(readErr))
			if flusher != nil {
				flusher.Flush()
			}
			s.logger.Error("stream failed mid-flight",
				zap.String("request_id", reqID),
				zap.String("key", req.SourceKey),
				zap.String("kind", string(fault.KindOf(readErr))),
				zap.Int64("bytes_sent", sent),
				zap.String("timings", trace.Summary()),
				zap.Error(readErr),
			)
			return
		}
	}
	trace.Mark("done")

	logFields := []zap.Field{
		zap.String("request_id", reqID),
		zap.String("mode", "streaming"),
		zap.String("key", req.SourceKey),
		zap.String("source_content_type", handle.SourceContentType),
		zap.String("format", string(req.Format)),
		zap.String("fit", string(req.Fit)),
		zap.Int64("bytes", sent),
		zap.String("timings", trace.Summary()),
	}
	select {
	case meta := <-handle.Meta():
		logFields = append(logFields, zap.Int("width", meta.Width), zap.Int("height", meta.Height))
	default:
	}

	s.metrics.observeTransform("streaming", string(req.Format), trace.Measure("start", "done"))
	s.logger.Info("image streamed", logFields...)
}

func (s *Server) failBuffered(w http.ResponseWriter, r *http.Request, req domain.TransformRequest, err error, trace *timing.Trace) {
	s.logFailure(r, req, err, trace)
	writeJSON(w, fault.HTTPStatus(err), map[string]string{"message": fault.Message(err)})
}

func (s *Server) failStreaming(w http.ResponseWriter, r *http.Request, req domain.TransformRequest, err error, trace *timing.Trace) {
	s.logFailure(r, req, err, trace)
	http.Error(w, fault.Message(err), fault.HTTPStatus(err))
}

func (s *Server) logFailure(r *http.Request, req domain.TransformRequest, err error, trace *timing.Trace) {
	s.metrics.observeFailure(fault.KindOf(err))
	s.logger.Warn("request failed",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("path", r.URL.Path),
		zap.String("key", req.SourceKey),
		zap.String("kind", string(fault.KindOf(err))),
		zap.String("timings", trace.Summary()),
		zap.Error(err),
	)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type requestIDKey struct{}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := id.New()
		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}
