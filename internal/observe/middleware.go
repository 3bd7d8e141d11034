package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Endpoints served by the operational HTTP server. Requests for any other
// path are labelled [EndpointOther].
const (
	EndpointHealthz = "/healthz"
	EndpointReadyz  = "/readyz"
	EndpointMetrics = "/metrics"
	EndpointOther   = "other"
)

// endpointOf maps a request path to a bounded metric label.
func endpointOf(path string) string {
	switch path {
	case EndpointHealthz, EndpointReadyz, EndpointMetrics:
		return path
	}
	return EndpointOther
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the operational endpoints. Every request continues
// the caller's W3C trace (or starts one), runs inside a server span, answers
// with an X-Correlation-ID header and is recorded in
// [Metrics.HTTPRequestDuration] under its endpoint and status.
//
// Probes and scrapes that succeed are logged at debug. A failing readiness
// check or any other 5xx is logged at warn, so a pipeline that stopped
// shows up in the log of whoever polls it. A nil log means slog.Default().
func Middleware(m *Metrics, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			endpoint := endpointOf(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+endpoint,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))
			elapsed := time.Since(start)

			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("endpoint", endpoint),
					attribute.String("status", strconv.Itoa(rec.status)),
				),
			)

			level := slog.LevelDebug
			switch {
			case rec.status >= http.StatusInternalServerError:
				level = slog.LevelWarn
			case rec.status >= http.StatusBadRequest:
				level = slog.LevelInfo
			}
			WithTrace(ctx, log).LogAttrs(ctx, level, "http request",
				slog.String("method", r.Method),
				slog.String("endpoint", endpoint),
				slog.Int("status", rec.status),
				slog.Duration("duration", elapsed),
			)
		})
	}
}
