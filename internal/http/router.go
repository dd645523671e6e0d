package http

import (
	"net/http"
	"time"

	"github.com/WailSalutem-Health-Care/board-publisher/internal/messaging"
	"github.com/WailSalutem-Health-Care/board-publisher/internal/telemetry"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// SetupRouter initializes all routes for the application
func SetupRouter(publisher messaging.PublisherInterface, metrics *telemetry.Metrics, publishTimeout time.Duration) *mux.Router {
	handler := NewHandler(publisher, publishTimeout)

	r := mux.NewRouter()
	r.Use(otelmux.Middleware("board-publisher"))
	r.Use(MetricsMiddleware(metrics))

	r.HandleFunc("/health", handler.Health).Methods("GET")
	r.HandleFunc("/messages", handler.PublishMessage).Methods("POST")
	r.HandleFunc("/reconnect", handler.Reconnect).Methods("POST")

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware records request count and latency per route template
func MetricsMiddleware(metrics *telemetry.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			durationMs := float64(time.Since(start).Microseconds()) / 1000
			metrics.RecordHTTPRequest(r.Context(), r.Method, route, rec.status, durationMs)
		})
	}
}
