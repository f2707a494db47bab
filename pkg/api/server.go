// Package api exposes carts and washing machines over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/flow"

	"github.com/openfroyo/durastep/pkg/cart"
	"github.com/openfroyo/durastep/pkg/telemetry"
	"github.com/openfroyo/durastep/pkg/washing"
)

// Server routes API requests to the cart and washing services.
type Server struct {
	carts     *cart.Service
	washers   *washing.Service
	telemetry *telemetry.Telemetry
	logger    *telemetry.Logger
	mux       *flow.Mux
}

// NewServer builds the router. A nil telemetry records nothing.
func NewServer(carts *cart.Service, washers *washing.Service, tel *telemetry.Telemetry) *Server {
	if tel == nil {
		tel = telemetry.NewNop()
	}
	s := &Server{
		carts:     carts,
		washers:   washers,
		telemetry: tel,
		logger:    tel.Logger.NewComponentLogger("api"),
		mux:       flow.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Use(s.recoverPanics)

	s.handle("/washing-machines/:id", s.getCycle(), "GET")
	s.handle("/washing-machines/:id/start", s.startCycle(), "POST")
	s.handle("/washing-machines/:id/history", s.cycleHistory(), "GET")

	s.handle("/carts/:id", s.getCart(), "GET")
	s.handle("/carts/:id/items", s.addItem(), "POST")

	metricsPath := s.telemetry.Config.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	s.mux.Handle(metricsPath, s.telemetry.Metrics.Handler(), "GET")
}

// handle registers h under pattern with request metrics, tracing and
// access logging labelled by pattern.
func (s *Server) handle(pattern string, h http.HandlerFunc, methods ...string) {
	s.mux.Handle(pattern, s.instrument(pattern, h), methods...)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.StartSpan(r.Context(), "http "+r.Method+" "+route)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := telemetry.NewTimer()
		next(rec, r.WithContext(s.logger.WithContext(ctx)))

		s.telemetry.Metrics.RecordHTTPRequest(route, rec.status)
		fields := map[string]interface{}{
			"method":   r.Method,
			"route":    route,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": timer.Duration().String(),
		}
		if traceID := telemetry.TraceID(ctx); traceID != "" {
			fields["trace_id"] = traceID
		}
		s.logger.WithFields(fields).Debug("request handled")
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.WithField("path", r.URL.Path).Errorf("panic serving request: %v", v)
				jsonError(w, errors.New("internal error"), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("address", addr).Info("API server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}
