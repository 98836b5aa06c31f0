package relay

import (
	"net/http"
	"strings"
	"time"

	"github.com/DHANNZHOST/imagetohd/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// i18nMiddleware adds the appropriate localizer to the request context
func i18nMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		localizer := GetLocalizerFromRequest(r)
		ctx := WithLocalizer(r.Context(), localizer)
		handler.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HTTPLogger attaches a request-scoped logger carrying the request id and
// logs one line per request, including the relay states when the request
// went through the relay.
func HTTPLogger(handler http.Handler, reg *metrics.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		initialTime := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		logger := log.Logger.With().Str("request_id", requestID).Logger()
		ctx := logger.WithContext(r.Context())

		wr := NewStatusCodeRecorderResponseWriter(w)
		handler.ServeHTTP(wr, r.WithContext(ctx))

		reg.Inc(ctx, "http_requests_total", map[string]string{
			"method": r.Method,
			"status": metrics.StatusClass(wr.Status),
		}, 1)

		var ev *zerolog.Event
		switch {
		case wr.Status >= 500:
			ev = logger.Error()
		case wr.Status >= 400:
			ev = logger.Warn()
		default:
			ev = logger.Info()
		}
		if trace := TraceFrom(r.Context()); trace != nil && len(trace.States()) > 1 {
			ev = ev.Str("relay", trace.String())
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.String()).
			Int("status", wr.Status).
			Dur("duration", time.Since(initialTime)).
			Msg("http")
	})
}

type StatusCodeRecorderResponseWriter struct {
	http.ResponseWriter
	Status int
}

func (r *StatusCodeRecorderResponseWriter) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *StatusCodeRecorderResponseWriter) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func NewStatusCodeRecorderResponseWriter(w http.ResponseWriter) *StatusCodeRecorderResponseWriter {
	return &StatusCodeRecorderResponseWriter{ResponseWriter: w, Status: 200}
}

// corsMiddleware opens /api/ to any origin and answers preflights.
func corsMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Accept-Language, "+requestIDHeader)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		handler.ServeHTTP(w, r)
	})
}

// limitBody caps the request body at n bytes.
func limitBody(n int64, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, n)
		next(w, r)
	}
}
