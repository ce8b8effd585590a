package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"runtime/debug"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/manpreetbhatti/scribble/internal/metrics"
	"github.com/manpreetbhatti/scribble/internal/ratelimit"
	"github.com/manpreetbhatti/scribble/internal/telemetry"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// TracingMiddleware starts a server span per request, tags it with a ksuid
// request id and logs the outcome. httpsnoop keeps the Hijacker of the
// underlying writer, so websocket upgrades pass through.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := ksuid.New().String()

		name := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				name = tpl
			}
		}

		ctx, span := telemetry.StartServerSpan(r.Context(), fmt.Sprintf("%s %s", r.Method, name),
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.Path),
			attribute.String("http.user_agent", r.Header.Get("User-Agent")),
			attribute.String("request.id", requestID),
		)
		defer span.End()

		ctx = context.WithValue(ctx, requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		m := httpsnoop.CaptureMetrics(next, w, r.WithContext(ctx))

		span.SetAttributes(
			attribute.Int("http.status_code", m.Code),
			attribute.Int64("http.response_time_ms", m.Duration.Milliseconds()),
		)
		if m.Code >= 400 {
			span.SetStatus(codes.Error, http.StatusText(m.Code))
		}

		log.Printf("[%s] %s %s - %d (%dms)", requestID, r.Method, r.URL.Path, m.Code, m.Duration.Milliseconds())
	})
}

// Recovers from handler panics and records them on the request span.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				span := trace.SpanFromContext(r.Context())
				span.RecordError(fmt.Errorf("panic: %v", err))
				span.SetStatus(codes.Error, "panic recovered")

				log.Printf("[%s] PANIC: %v\n%s", RequestID(r.Context()), err, debug.Stack())
				errorResponse(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Limits requests per remote address.
func RateLimitMiddleware(limiters *ratelimit.ClientLimiters) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			if !limiters.Allow(host) {
				metrics.RecordRateLimited()
				errorResponse(w, http.StatusTooManyRequests, "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return "unknown"
}
