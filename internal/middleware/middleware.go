package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"scribe/internal/errors"
	"scribe/internal/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type responseWriter struct {
	http.ResponseWriter
	status  int
	written int
	started bool
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.started = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.started = true
	n, err := w.ResponseWriter.Write(b)
	w.written += n
	return n, err
}

type Middleware func(http.Handler) http.Handler

// Chain wraps h so that the first middleware listed runs innermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for _, m := range middlewares {
		h = m(h)
	}
	return h
}

// RequestID tags each request with a uuid, reusing a caller-supplied
// X-Request-ID when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), requestID)))
	})
}

// Logger logs one line per request, at warn level for server errors.
func Logger(logger *logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapper := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapper, r)

			log := logger.WithRequestID(r.Context()).Info
			if wrapper.status >= http.StatusInternalServerError {
				log = logger.WithRequestID(r.Context()).Warn
			}
			log("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapper.status),
				zap.Int("bytes", wrapper.written),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// Recover turns a panicking handler into a 500 carrying the same JSON error
// body as any other failed request. Nothing is written once the handler has
// started its response.
func Recover(logger *logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapper := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.WithRequestID(r.Context()).Error("panic recovered",
					zap.Any("error", v),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				if wrapper.started {
					return
				}

				resp := errors.NewResponse(errors.Internal(fmt.Errorf("panic: %v", v)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(resp.Error.Code)
				json.NewEncoder(w).Encode(resp)
			}()
			next.ServeHTTP(wrapper, r)
		})
	}
}
