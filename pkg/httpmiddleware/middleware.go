// Package httpmiddleware holds the net/http middleware chain shared by the
// API server: recovery, request ids, CORS, rate limiting, request-scoped
// logging and OpenTelemetry instrumentation.
package httpmiddleware

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h. The first middleware is the outermost one,
// so it sees the request first.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RouteFinder resolves the route pattern a request will be served by.
type RouteFinder func(r *http.Request) (string, bool)

// MakeRouteFinder resolves patterns against a chi route tree. It works
// before routing has happened, so outer middleware can label requests.
func MakeRouteFinder(routes chi.Routes) RouteFinder {
	return func(r *http.Request) (string, bool) {
		rctx := chi.NewRouteContext()
		if !routes.Match(rctx, r.Method, r.URL.Path) {
			return "", false
		}
		pattern := rctx.RoutePattern()
		return pattern, pattern != ""
	}
}

func routeOf(find RouteFinder, r *http.Request) string {
	if find != nil {
		if pattern, ok := find(r); ok {
			return pattern
		}
	}
	return "unmatched"
}

// InjectLogger stores lg, tagged with the request id, in the request
// context for zctx.From.
func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLg := lg
			if id := RequestIDFromContext(r.Context()); id != "" {
				reqLg = lg.With(zap.String("request_id", id))
			}
			next.ServeHTTP(w, r.WithContext(zctx.Base(r.Context(), reqLg)))
		})
	}
}

// LogRequests logs one line per completed request.
func LogRequests(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			lg := zctx.From(r.Context())
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", routeOf(find, r)),
				zap.String("path", r.URL.Path),
				zap.Int("status", m.Code),
				zap.Int64("bytes", m.Written),
				zap.Duration("duration", m.Duration),
			}
			if m.Code >= http.StatusInternalServerError {
				lg.Warn("Request", fields...)
				return
			}
			lg.Info("Request", fields...)
		})
	}
}

// Telemetry provides tracer and meter providers.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Instrument traces and measures requests with otelhttp, naming spans by
// route pattern so ids in paths do not explode cardinality.
func Instrument(service string, find RouteFinder, m Telemetry) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, service,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + routeOf(find, r)
			}),
		)
	}
}

// Labeler adds the route pattern to otelhttp metrics.
func Labeler(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l, ok := otelhttp.LabelerFromContext(r.Context()); ok {
				l.Add(attribute.String("http.route", routeOf(find, r)))
			}
			next.ServeHTTP(w, r)
		})
	}
}
