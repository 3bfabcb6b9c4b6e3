package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// maxLoggedBody caps how much of an error body ends up in the request log.
const maxLoggedBody = 2 << 10

// responseWriterInterceptor is a wrapper around http.ResponseWriter that captures
// the status code and, for error responses only, the response body. Successful
// bodies can carry secret values and are never captured.
type responseWriterInterceptor struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func newResponseWriterInterceptor(w http.ResponseWriter) *responseWriterInterceptor {
	return &responseWriterInterceptor{
		ResponseWriter: w,
		statusCode:     http.StatusOK, // Default to 200
		body:           new(bytes.Buffer),
	}
}

// WriteHeader captures the status code.
func (rwi *responseWriterInterceptor) WriteHeader(statusCode int) {
	rwi.statusCode = statusCode
	rwi.ResponseWriter.WriteHeader(statusCode)
}

// Write captures error bodies and calls the underlying Write.
func (rwi *responseWriterInterceptor) Write(b []byte) (int, error) {
	if rwi.statusCode >= http.StatusBadRequest && rwi.body.Len() < maxLoggedBody {
		rwi.body.Write(b[:min(len(b), maxLoggedBody-rwi.body.Len())])
	}
	return rwi.ResponseWriter.Write(b)
}

// Flush lets streaming handlers (server-sent events) push frames through the logger.
func (rwi *responseWriterInterceptor) Flush() {
	if f, ok := rwi.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// StructuredRequestLogger is a middleware that logs request details using slog.
func StructuredRequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// ww is a WrapResponseWriter that captures status and bytes written,
			// which is useful for standard logging metrics.
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			// rwi wraps ww to capture error bodies.
			rwi := newResponseWriterInterceptor(ww)

			t1 := time.Now()
			defer func() {
				requestID := middleware.GetReqID(r.Context())
				scheme := "http"
				if r.TLS != nil {
					scheme = "https"
				}

				attrs := []any{
					slog.String("request_id", requestID),
					slog.String("method", r.Method),
					slog.String("host", r.Host),
					slog.String("path", r.URL.Path),
					slog.String("proto", r.Proto),
					slog.String("scheme", scheme),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("user_agent", r.UserAgent()),
					slog.Int("status", rwi.statusCode),
					slog.Int("bytes_written", ww.BytesWritten()),
					slog.Duration("latency", time.Since(t1)),
				}
				if rwi.body.Len() > 0 {
					attrs = append(attrs, slog.String("response_body", rwi.body.String()))
				}
				logger.Info("http request", attrs...)
			}()

			next.ServeHTTP(rwi, r)
		})
	}
}
