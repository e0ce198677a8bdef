package trader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reporter contributes a named section to the /status document.
type Reporter interface {
	Name() string
	Report() interface{}
}

// APIServer exposes health, status and metrics of the running process.
type APIServer struct {
	server    *http.Server
	engine    *Engine
	reporters []Reporter
	logger    *zap.Logger
}

// NewAPIServer creates a new APIServer listening on port.
func NewAPIServer(port int, engine *Engine, logger *zap.Logger, reporters ...Reporter) *APIServer {
	s := &APIServer{
		engine:    engine,
		reporters: reporters,
		logger:    logger.Named("api-server"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *APIServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.healthHandler)
	r.Get("/status", s.statusHandler)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// Name implements Reporter.
func (e *Engine) Name() string { return "executor" }

// Report implements Reporter.
func (e *Engine) Report() interface{} {
	last, ok := e.LastCycle()
	out := map[string]interface{}{
		"scan_limit":  e.scanLimit,
		"stale_after": e.staleAfter.String(),
	}
	if ok {
		out["last_cycle"] = last
	}
	return out
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		UUID      string                 `json:"uuid"`
		StartTime string                 `json:"start_time"`
		Uptime    string                 `json:"uptime"`
		Sections  map[string]interface{} `json:"sections"`
	}{
		UUID:      s.engine.UUID,
		StartTime: s.engine.StartTime.Format(time.RFC3339),
		Uptime:    s.engine.clock.Since(s.engine.StartTime).Truncate(time.Second).String(),
		Sections:  make(map[string]interface{}, len(s.reporters)+1),
	}
	status.Sections[s.engine.Name()] = s.engine.Report()
	for _, rep := range s.reporters {
		status.Sections[rep.Name()] = rep.Report()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
