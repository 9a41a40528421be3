// Package api implements the HTTP control surface (§6): engine
// lifecycle, mode transitions, and observability endpoints consumed by
// external dashboards. Adapted from the teacher's internal/api/server.go
// mux/cors wiring, replacing its backtest/WebSocket-streaming surface with
// this spec's engine/mode endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/config"
	"github.com/heliostrading/core/internal/engine"
	"github.com/heliostrading/core/pkg/types"
)

// Server is the HTTP control surface server (§6).
type Server struct {
	mu         sync.Mutex
	logger     *zap.Logger
	config     *config.ServerConfig
	router     *mux.Router
	httpServer *http.Server

	engine *engine.Engine
	cancel context.CancelFunc
}

// NewServer constructs a Server bound to an already-running Engine. The
// engine is started/stopped by the caller (cmd/server/main.go); Start/Stop
// here only control the HTTP listener (§6 "POST /engine/start" toggles
// trading flags on the already-running engine rather than spawning a new
// one, since this core runs one engine per process).
func NewServer(logger *zap.Logger, cfg *config.ServerConfig, eng *engine.Engine) *Server {
	s := &Server{
		logger: logger.Named("api"),
		config: cfg,
		router: mux.NewRouter(),
		engine: eng,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/engine/status", s.handleEngineStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/engine/start", s.handleEngineStart).Methods(http.MethodPost)
	s.router.HandleFunc("/engine/stop", s.handleEngineStop).Methods(http.MethodPost)
	s.router.HandleFunc("/engine/auto-trading/enable", s.handleAutoTrading(true)).Methods(http.MethodPost)
	s.router.HandleFunc("/engine/auto-trading/disable", s.handleAutoTrading(false)).Methods(http.MethodPost)
	s.router.HandleFunc("/engine/emergency-stop", s.handleEmergencyStop).Methods(http.MethodPost)
	s.router.HandleFunc("/engine/emergency-stop/clear", s.handleEmergencyStopClear).Methods(http.MethodPost)
	s.router.HandleFunc("/engine/activity", s.handleActivity).Methods(http.MethodGet)

	s.router.HandleFunc("/mode/current", s.handleModeCurrent).Methods(http.MethodGet)
	s.router.HandleFunc("/mode/set", s.handleModeSet).Methods(http.MethodPost)
	s.router.HandleFunc("/mode/history", s.handleModeHistory).Methods(http.MethodGet)
}

// Router exposes the underlying mux.Router for tests.
func (s *Server) Router() *mux.Router { return s.router }

// Start begins serving HTTP; blocks until the listener stops.
func (s *Server) Start() error {
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}).Handler(s.router)

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting api server", zap.String("addr", s.config.Addr))
	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP listener (§4.14 "Shutdown").
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleEngineStatus implements §6 "GET /engine/status".
func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshot := s.engine.Snapshot()

	mode, err := s.engine.Orchestrator().CurrentMode(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":              snapshot.Status,
		"tradingMode":         mode.CurrentMode,
		"cycleCount":          snapshot.CycleCount,
		"currentStage":        snapshot.CurrentStage,
		"lastCycleAt":         snapshot.LastCycleAt,
		"autoTradingEnabled":  snapshot.AutoTradingEnabled,
		"emergencyStopActive": snapshot.EmergencyStopActive,
	})
}

// engineStartRequest is the request body for §6 "POST /engine/start".
type engineStartRequest struct {
	TradingMode        string   `json:"trading_mode"`
	Pairs              []string `json:"pairs"`
	AutoTradingEnabled bool     `json:"auto_trading_enabled"`
}

// handleEngineStart implements §6: it rejects LIVE here (mode changes only
// go through the mode endpoint, which enforces the confirmed=true gate),
// and otherwise toggles auto-trading on the running engine.
func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	var req engineStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if types.TradingModeValue(req.TradingMode) == types.ModeLive {
		http.Error(w, "LIVE mode must be confirmed via POST /mode/set, not /engine/start", http.StatusBadRequest)
		return
	}

	s.engine.SetAutoTrading(req.AutoTradingEnabled)
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	s.engine.SetAutoTrading(false)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleAutoTrading(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.engine.SetAutoTrading(enabled)
		writeJSON(w, http.StatusOK, map[string]bool{"autoTradingEnabled": enabled})
	}
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	s.engine.EmergencyStop(r.Context(), "manual emergency stop via control surface")
	writeJSON(w, http.StatusOK, map[string]string{"status": "emergency stop triggered"})
}

func (s *Server) handleEmergencyStopClear(w http.ResponseWriter, r *http.Request) {
	s.engine.Resume("operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "emergency stop cleared"})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Activity().Recent(100))
}

func (s *Server) handleModeCurrent(w http.ResponseWriter, r *http.Request) {
	mode, err := s.engine.Orchestrator().CurrentMode(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, mode)
}

// modeSetRequest is the request body for §6 "POST /mode/set".
type modeSetRequest struct {
	Mode      string `json:"mode"`
	Confirmed bool   `json:"confirmed"`
	Reason    string `json:"reason"`
}

func (s *Server) handleModeSet(w http.ResponseWriter, r *http.Request) {
	var req modeSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	changedBy := r.Header.Get("X-Operator")
	if changedBy == "" {
		changedBy = "api"
	}

	if err := s.engine.Orchestrator().SetMode(r.Context(), types.TradingModeValue(req.Mode), req.Confirmed, changedBy, req.Reason); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModeHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.engine.Orchestrator().History(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
