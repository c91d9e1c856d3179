package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter wraps Server.Router with the chi middleware stack the rest of
// the corpus's HTTP services standardize on: panic recovery and a
// request-scoped logger, keyed by the same request id returned to the
// caller in error envelopes.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.Log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Mount("/", s.Router())
	return r
}

func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := NewRequestID()
			w.Header().Set("x-request-id", requestID)
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"request_id": requestID,
				"method":     r.Method,
				"path":       r.URL.Path,
				"duration":   time.Since(start).String(),
			}).Debug("handled request")
		})
	}
}
