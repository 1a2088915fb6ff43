package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIServer provides the HTTP control interface of the order monitor.
type APIServer struct {
	server     *http.Server
	monitor    *Monitor
	logger     *zap.Logger
	baseCtx    context.Context
	instanceID string
	startTime  time.Time
}

// NewAPIServer creates a new APIServer. Monitors started through the API
// run until ctx is cancelled or they are stopped.
func NewAPIServer(ctx context.Context, monitor *Monitor, port int, logger *zap.Logger) *APIServer {
	s := &APIServer{
		monitor:    monitor,
		logger:     logger.Named("api-server"),
		baseCtx:    ctx,
		instanceID: uuid.NewString(),
		startTime:  time.Now(),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routes of the control API.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/monitor/start", s.startMonitorHandler)
	mux.HandleFunc("/monitor/stop", s.stopMonitorHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
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

type statusResponse struct {
	UUID           string         `json:"uuid"`
	StartTime      string         `json:"start_time"`
	Uptime         string         `json:"uptime"`
	MonitorRunning bool           `json:"monitor_running"`
	MonitorStarted string         `json:"monitor_started,omitempty"`
	LastTick       *TickResult    `json:"last_tick,omitempty"`
	LastRevalue    *RevalueResult `json:"last_revalue,omitempty"`
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := statusResponse{
		UUID:           s.instanceID,
		StartTime:      s.startTime.Format(time.RFC3339),
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		MonitorRunning: s.monitor.Running(),
		LastTick:       s.monitor.LastTick(),
		LastRevalue:    s.monitor.LastRevalue(),
	}
	if started := s.monitor.StartTime(); !started.IsZero() {
		status.MonitorStarted = started.Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *APIServer) startMonitorHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	started := s.monitor.Start(s.baseCtx)
	if started {
		s.logger.Info("Order monitor started via API")
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"started": started, "running": s.monitor.Running()})
}

func (s *APIServer) stopMonitorHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	wasRunning := s.monitor.Running()
	s.monitor.Stop()
	if wasRunning {
		s.logger.Info("Order monitor stopped via API")
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"stopped": wasRunning, "running": s.monitor.Running()})
}

func (s *APIServer) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}
