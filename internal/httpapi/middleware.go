package httpapi

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/testorch/internal/logging"
	"github.com/R3E-Network/testorch/internal/metrics"
)

// responseWriter wraps http.ResponseWriter to capture the status code for
// logging and metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// loggingMiddleware assigns (or propagates) a trace ID and logs the
// completed request.
func loggingMiddleware(log *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" {
				traceID = logging.NewTraceID()
			}
			ctx := logging.WithTraceID(r.Context(), traceID)
			r = r.WithContext(ctx)
			r.Header.Set("X-Trace-ID", traceID)
			w.Header().Set("X-Trace-ID", traceID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			log.LogRequest(ctx, r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), callerEmail(r))
		})
	}
}

// recoveryMiddleware recovers from panics in downstream handlers, logs the
// stack trace, and returns a 500 error envelope instead of crashing the
// process.
func recoveryMiddleware(log *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithContext(r.Context()).WithFields(map[string]interface{}{
						"panic":       fmt.Sprintf("%v", err),
						"stack":       string(debug.Stack()),
						"path":        r.URL.Path,
						"method":      r.Method,
						"remote_addr": r.RemoteAddr,
					}).Error("panic recovered")
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORSConfig configures the CORS middleware's allowed origins.
type CORSConfig struct {
	AllowedOrigins []string
}

func defaultCORSConfig() CORSConfig {
	return CORSConfig{AllowedOrigins: []string{"*"}}
}

// corsMiddleware handles preflight requests and sets CORS response headers.
// An AllowedOrigins entry of "*" allows any origin; an entry beginning with
// "." allows that suffix and any of its subdomains.
func corsMiddleware(cfg CORSConfig) mux.MiddlewareFunc {
	allowAll := false
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			allowAll = true
			break
		}
	}

	isAllowed := func(origin string) bool {
		parsed, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := parsed.Hostname()
		if host == "" {
			return false
		}
		for _, allowed := range cfg.AllowedOrigins {
			allowed = strings.TrimSpace(allowed)
			if allowed == "" || allowed == "*" {
				continue
			}
			if allowed == origin {
				return true
			}
			if strings.HasPrefix(allowed, ".") {
				suffix := strings.TrimPrefix(allowed, ".")
				if suffix != "" && strings.HasSuffix(host, suffix) {
					idx := len(host) - len(suffix)
					if idx > 0 && host[idx-1] == '.' {
						return true
					}
				}
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || isAllowed(origin)) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Trace-ID, X-User-Email")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter enforces a per-key requests-per-second budget, bucketed by
// caller email when known and by IP otherwise.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newRateLimiter(requestsPerSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (rl *rateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// middleware rate-limits by caller email when the caller is identified
// (run-creation and artifact-serving endpoints), falling back to client IP
// for anonymous requests.
func (rl *rateLimiter) middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := callerEmail(r)
			if key == "" {
				key = clientIP(r)
			}
			if !rl.get(key).Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(1/float64(rl.rate)))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// metricsMiddleware records request counts and latency against m, using the
// matched route's path template (not the raw URL) so per-resource cardinality
// stays bounded.
func metricsMiddleware(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			m.RecordHTTPRequest(r.Method, path, strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

// Authorizer checks whether a caller is registered and allowed to act on
// environment.
type Authorizer interface {
	CanAccess(email, environment string) bool
}

// callerEmail extracts the caller's identity from the X-User-Email header
// (the orchestrator authenticates by allow-listed email, not tokens).
func callerEmail(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-Email"))
}

// requireEnvironmentAccess writes a 403 error envelope, matching the
// dashboard's literal wording, unless email is registered and granted
// access to environment.
func requireEnvironmentAccess(w http.ResponseWriter, authz Authorizer, email, environment string) bool {
	if !authz.CanAccess(email, environment) {
		writeError(w, http.StatusForbidden, fmt.Sprintf("User %s does not have access to environment %s", email, environment))
		return false
	}
	return true
}
