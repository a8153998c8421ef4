// Package controlmiddleware assembles the request-facing HTTP pipeline:
// safe mode, rate limiting and persistent blocks, then latency/error
// accounting, per spec section 4.10. Every layer is a gorilla/mux
// middleware so it composes with the rest of the control plane's router.
package controlmiddleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nexus-retail/opsplane/health"
	"github.com/nexus-retail/opsplane/infrastructure/errors"
	"github.com/nexus-retail/opsplane/infrastructure/httputil"
	ctlmw "github.com/nexus-retail/opsplane/infrastructure/middleware"
	"github.com/nexus-retail/opsplane/metrics"
	"github.com/nexus-retail/opsplane/perf"
	"github.com/nexus-retail/opsplane/security"
)

// defaultRateLimit is the default per-IP request budget in the rate
// limiter's 60s sliding window.
const defaultRateLimit = 100

// responseWriter wraps http.ResponseWriter to capture the status code
// written, mirroring the teacher middleware package's wrapper.
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

// SafeMode returns the outermost gate: mutating requests are rejected
// while the platform is in safe mode. Thin wrapper around health.Middleware
// so the pipeline can be assembled from one package.
func SafeMode(safeMode *health.SafeMode) mux.MiddlewareFunc {
	return mux.MiddlewareFunc(health.Middleware(safeMode))
}

// bruteForceLockoutTTL is how long a block-list entry persists once the
// in-memory brute-force detector locks a key, bridging the detector's
// 30-minute in-process lockout into a durable block the rest of the
// fleet also honors.
const bruteForceLockoutTTL = 30 * time.Minute

// Security rejects requests from rate-limited or persistently blocked
// clients before they reach business logic. It checks, in order: the
// per-IP sliding-window limiter (429 on breach), then the persistent
// block list keyed first by client IP and then by authenticated user id
// (403 on either hit). Responses with status 401 feed the brute-force
// detector; ten failures within 15 minutes persists a 30-minute block.
func Security(limiter *security.RateLimiter, blocklist *security.BlockList, bruteForce *security.BruteForceDetector) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := httputil.ClientIP(r)

			if !limiter.Allow(ip) {
				writeServiceError(w, r, errors.RateLimitExceeded(defaultRateLimit, "60s"))
				return
			}

			if bruteForce.Locked(ip) {
				writeServiceError(w, r, errors.Blocked(ip, "locked out after repeated authentication failures"))
				return
			}

			blocked, err := blocklist.IsBlocked(r.Context(), ip)
			if err == nil && blocked {
				writeServiceError(w, r, errors.Blocked(ip, "client ip is on the block list"))
				return
			}

			if userID := ctlmw.GetUserID(r.Context()); userID != "" {
				blocked, err := blocklist.IsBlocked(r.Context(), userID)
				if err == nil && blocked {
					writeServiceError(w, r, errors.Blocked(userID, "user is on the block list"))
					return
				}
			}

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			if wrapped.statusCode == http.StatusUnauthorized {
				if bruteForce.RecordFailure(ip) {
					// Response is already written; a persistence failure here
					// is not fatal to the request, only to durability of the
					// lockout across process restarts.
					_ = blocklist.Block(r.Context(), ip, "ip", "brute-force lockout", bruteForceLockoutTTL)
				}
			} else {
				bruteForce.RecordSuccess(ip)
			}
		})
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, serviceErr *errors.ServiceError) {
	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
}

// Accounting records per-route latency into the shared latency tracker
// and maintains the http.request_duration_ms histogram, the
// http.requests_total / http.errors_total counters, and the
// http.error_rate gauge consumed by the overload predictor and the
// ERROR_RATE deployment gate.
func Accounting(reg *metrics.Registry, latency *perf.LatencyTracker) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			elapsed := time.Since(start)
			route := routeTemplate(r)

			latency.Record(route, float64(elapsed.Milliseconds()))
			reg.Record("http.request_duration_ms", float64(elapsed.Milliseconds()))

			total := reg.Increment("http.requests_total")
			var errTotal float64
			if wrapped.statusCode >= 500 {
				errTotal = reg.Increment("http.errors_total")
			} else {
				errTotal = reg.Counter("http.errors_total")
			}
			if total > 0 {
				reg.Set("http.error_rate", errTotal/total)
			}

			reg.Set(fmt.Sprintf("http.route.%s.status.%d", route, wrapped.statusCode), float64(wrapped.statusCode))
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}
