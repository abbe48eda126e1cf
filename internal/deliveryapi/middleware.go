package deliveryapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/nudgekit/herald/internal/logger"
	"github.com/nudgekit/herald/internal/observability"
	"github.com/nudgekit/herald/internal/store"
)

// orgKey is the private context key carrying the authenticated organization.
type orgKey struct{}

// orgFromContext returns the organization injected by the auth middleware.
// Handlers below the middleware can rely on it being present.
func orgFromContext(ctx context.Context) *store.Organization {
	org, _ := ctx.Value(orgKey{}).(*store.Organization)
	return org
}

// keyLookup resolves an API key to its organization.
type keyLookup func(ctx context.Context, key string) (*store.Organization, error)

// authenticate builds a middleware that resolves the X-API-Key header to an
// organization via the given lookup, memoized in the otter cache. The cache
// key carries the scope so a secret key validated on the management surface
// never satisfies SDK auth through a cache hit. A missing or unknown key
// yields 401; a lookup failure yields 503 so clients retry instead of
// treating a database outage as a revoked key.
func (a *API) authenticate(scope string, lookup keyLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if key == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, ErrorResponse{
					Code:    "ERR_UNAUTHORIZED",
					Message: "Missing X-API-Key header",
				})
				return
			}

			cacheKey := scope + ":" + key
			org, ok := a.authCache.Get(cacheKey)
			if !ok {
				var err error
				org, err = lookup(r.Context(), key)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						render.Status(r, http.StatusUnauthorized)
						render.JSON(w, r, ErrorResponse{
							Code:    "ERR_UNAUTHORIZED",
							Message: "Invalid API key",
						})
						return
					}
					logger.FromContext(r.Context()).Error("api key lookup failed",
						slog.Any("error", err))
					render.Status(r, http.StatusServiceUnavailable)
					render.JSON(w, r, ErrorResponse{
						Code:    "ERR_UNAVAILABLE",
						Message: "Authentication backend unavailable",
					})
					return
				}
				a.authCache.Set(cacheKey, org)
			}

			ctx := context.WithValue(r.Context(), orgKey{}, org)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger logs each completed request with its chi request id.
// Info for success, Warn for 4xx, Error for 5xx.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())

		// Inject a request-scoped logger for the handlers.
		log := slog.Default().With(slog.String("request_id", reqID))
		r = r.WithContext(logger.WithContext(r.Context(), log))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		status := ww.Status()

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		slog.Log(r.Context(), level, "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", duration.String(),
			"request_id", reqID,
			"remote_ip", r.RemoteAddr,
		)
	})
}

// MetricsCollector exports per-request counters and latency. The path label
// uses the chi route pattern, not the raw URL, to bound label cardinality.
func MetricsCollector(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = "unmatched"
		}

		observability.HTTPReqDuration.WithLabelValues(r.Method, path).
			Observe(time.Since(start).Seconds())
		observability.HTTPReqTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
	})
}
