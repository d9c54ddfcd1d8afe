package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/avalonlabs/taskrunner/corecfg"
	"github.com/avalonlabs/taskrunner/corelog"
	"github.com/avalonlabs/taskrunner/task"
)

// statusRecorder wraps http.ResponseWriter to capture the status code
// written, mirroring core/middleware.go's responseWriter.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.written {
		rw.status = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.written {
		rw.status = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// loggingMiddleware logs every request's method/path/status/duration,
// mirroring core/middleware.go's LoggingMiddleware (minus its dev-mode
// sampling — the facade layer has no equivalent dev/prod toggle, so every
// request is logged at the appropriate level).
func loggingMiddleware(logger corelog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			fields := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": duration.Milliseconds(),
				"remote_addr": r.RemoteAddr,
			}
			switch {
			case rec.status >= 500:
				logger.ErrorWithContext(r.Context(), "HTTP request error", fields)
			case rec.status >= 400:
				logger.WarnWithContext(r.Context(), "HTTP request client error", fields)
			default:
				logger.InfoWithContext(r.Context(), "HTTP request", fields)
			}
		})
	}
}

// corsMiddleware implements the same origin/method/header negotiation as
// core/cors.go's CORSMiddleware, reading from corecfg.CORSConfig instead of
// core.CORSConfig.
func corsMiddleware(cfg corecfg.CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			origin := r.Header.Get("Origin")
			if isOriginAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if len(cfg.AllowedMethods) > 0 {
					w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
				}
				if len(cfg.AllowedHeaders) > 0 {
					w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isOriginAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
		if strings.HasPrefix(a, "*.") && strings.HasSuffix(origin, a[1:]) {
			return true
		}
	}
	return false
}

func priorityFromString(s string) task.Priority {
	switch strings.ToLower(s) {
	case "low":
		return task.PriorityLow
	case "high":
		return task.PriorityHigh
	case "critical":
		return task.PriorityCritical
	default:
		return task.PriorityNormal
	}
}
