package httpapi

import (
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/John-Robertt/subgen-go/internal/log"
)

// NewHandler wraps the mux with request ids, metrics and the access log.
// Tests that do not care about those use NewMuxWithOptions.
func NewHandler() http.Handler {
	return NewHandlerWithOptions(Options{})
}

func NewHandlerWithOptions(opt Options) http.Handler {
	return withObservability(NewMuxWithOptions(opt))
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// requestID keeps a caller-supplied X-Request-Id and mints one otherwise.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.Must(uuid.NewV4()).String()
}

func withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := requestID(r)
		w.Header().Set("X-Request-Id", rid)

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		pattern := r.Pattern
		if pattern == "" {
			pattern = r.Method + " (unmatched)"
		}
		metricsIncRequest(pattern, status)

		// The query string may carry a whole subscription (GET /api/subscribe?data=),
		// so only the path is logged.
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		entry := log.WithFields(map[string]any{
			"rid":     rid,
			"method":  r.Method,
			"path":    r.URL.Path,
			"pattern": pattern,
			"status":  status,
			"dur":     time.Since(start).Round(time.Millisecond).String(),
			"bytes":   sw.bytes,
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("http")
			return
		}
		entry.Info("http")
	})
}
