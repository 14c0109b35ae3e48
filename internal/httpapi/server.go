// Package httpapi exposes the RAG engine over JSON HTTP.
package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/metrics"
	"github.com/Kocoro-lab/brandrag/internal/tracing"
)

// RouteRegistrar is implemented by every handler group
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// NewMux builds the service mux with /metrics and every handler group
func NewMux(groups ...RouteRegistrar) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	for _, g := range groups {
		g.RegisterRoutes(mux)
	}
	return mux
}

// StartServer serves handler on port in the background
func StartServer(port int, handler http.Handler, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP API server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP API server failed", zap.Error(err))
		}
	}()
	return srv
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument wraps next with a server span and request metrics labelled by route
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracing.StartServerSpan(r, route)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if rec.status >= http.StatusInternalServerError {
			tracing.RecordError(span, fmt.Errorf("status %d", rec.status))
		}
		metrics.RecordHTTPRequest(route, rec.status, time.Since(start).Seconds())
	})
}
