package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/metazhar-legion/meta-index-sub006/internal/bundle"
	"github.com/metazhar-legion/meta-index-sub006/internal/logger"
	"github.com/metazhar-legion/meta-index-sub006/internal/metrics"
	"github.com/metazhar-legion/meta-index-sub006/internal/state"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for bundle status, cycle history and
// Prometheus metrics.
type WebServer struct {
	router *mux.Router
	addr   string
	bundle *bundle.Bundle
}

// NewWebServer creates a new web server instance serving data for the given
// bundle.
func NewWebServer(addr string, b *bundle.Bundle) *WebServer {
	if addr == "" {
		addr = ":8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		addr:   addr,
		bundle: b,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// Prometheus metrics
	ws.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/bundle", ws.handleGetBundle).Methods("GET")
	api.HandleFunc("/bundle/events", ws.handleGetEvents).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/cycles/latest", ws.handleGetLatestCycle).Methods("GET")
	api.HandleFunc("/cycles/{number}", ws.handleGetCycle).Methods("GET")
	api.HandleFunc("/optimizer-parameters", ws.handleGetOptimizerParameters).Methods("GET")
	api.HandleFunc("/performance", ws.handleGetPerformance).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("addr", ws.addr).Msg("Starting web server")

	server := &http.Server{
		Addr:         ws.addr,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server and cycle health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var hasErrors bool

	var cycleInfo map[string]interface{}
	latest, cycleErr := state.GetRecentSnapshots(1)
	if cycleErr == nil && len(latest) > 0 {
		snap := latest[0]
		failed := 0
		for _, receipt := range snap.Receipts {
			if !receipt.Success {
				failed++
			}
		}
		cycleInfo = map[string]interface{}{
			"current_cycle":       snap.CycleNumber,
			"last_cycle_time":     snap.Timestamp,
			"rebalanced":          snap.Rebalanced,
			"instructions_failed": failed,
		}
		hasErrors = failed > 0 || len(snap.EmergencyFlags) > 0
	} else {
		cycleInfo = map[string]interface{}{
			"current_cycle":   0,
			"last_cycle_time": nil,
		}
	}

	dbHealthy := true
	if state.DB == nil || state.DB.Ping() != nil {
		dbHealthy = false
		hasErrors = true
	}

	breakerActive, breakerReason := ws.bundle.CircuitBreaker()

	overallStatus := "OK"
	if hasErrors || breakerActive {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"bundle_status": map[string]interface{}{
			"name":                   ws.bundle.Name(),
			"database_healthy":       dbHealthy,
			"circuit_breaker_active": breakerActive,
			"circuit_breaker_reason": breakerReason,
			"cycle_info":             cycleInfo,
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// strategyView is the JSON projection of one strategy's live state.
type strategyView struct {
	Name              string `json:"name"`
	Kind              string `json:"kind"`
	TargetBps         int64  `json:"target_bps"`
	MinBps            int64  `json:"min_bps"`
	MaxBps            int64  `json:"max_bps"`
	CurrentAllocation string `json:"current_allocation"`
	CurrentExposure   string `json:"current_exposure"`
	Leverage          int64  `json:"leverage"`
	RiskScore         int64  `json:"risk_score"`
	IsPrimary         bool   `json:"is_primary"`
	IsActive          bool   `json:"is_active"`
}

// handleGetBundle returns the bundle's live allocation state
func (ws *WebServer) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	allocations := ws.bundle.Allocations()
	views := make([]strategyView, 0, len(allocations))
	for _, alloc := range allocations {
		info := alloc.Strategy.ExposureInfo()
		views = append(views, strategyView{
			Name:              alloc.Strategy.Name(),
			Kind:              string(alloc.Strategy.Kind()),
			TargetBps:         alloc.TargetBps,
			MinBps:            alloc.MinBps,
			MaxBps:            alloc.MaxBps,
			CurrentAllocation: alloc.CurrentAllocation.String(),
			CurrentExposure:   info.CurrentExposure.String(),
			Leverage:          info.Leverage,
			RiskScore:         info.RiskScore,
			IsPrimary:         alloc.IsPrimary,
			IsActive:          alloc.IsActive,
		})
	}

	breakerActive, breakerReason := ws.bundle.CircuitBreaker()

	response := map[string]interface{}{
		"name":                    ws.bundle.Name(),
		"total_allocated_capital": ws.bundle.TotalAllocatedCapital().String(),
		"circuit_breaker_active":  breakerActive,
		"circuit_breaker_reason":  breakerReason,
		"strategies":              views,
		"timestamp":               time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetEvents returns the bundle's recent audit events
func (ws *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	events := ws.bundle.Events()
	response := map[string]interface{}{
		"events": events,
		"count":  len(events),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCycles returns paginated cycle history
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	cycles, err := state.GetRecentSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent cycles")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycles")
		return
	}

	response := map[string]interface{}{
		"cycles": cycles,
		"count":  len(cycles),
		"limit":  limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCycle returns a specific cycle by number
func (ws *WebServer) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	numberStr := vars["number"]

	number, err := strconv.Atoi(numberStr)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid cycle number")
		return
	}

	cycle, err := state.GetSnapshotByCycle(number)
	if err != nil {
		webLogger.Error().Err(err).Int("cycle_number", number).Msg("Failed to get cycle")
		ws.writeErrorResponse(w, http.StatusNotFound, "Cycle not found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, cycle)
}

// handleGetLatestCycle returns the most recent cycle
func (ws *WebServer) handleGetLatestCycle(w http.ResponseWriter, r *http.Request) {
	cycles, err := state.GetRecentSnapshots(1)
	if err != nil || len(cycles) == 0 {
		webLogger.Error().Err(err).Msg("Failed to get latest cycle")
		ws.writeErrorResponse(w, http.StatusNotFound, "No cycles found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, cycles[0])
}

// handleGetOptimizerParameters returns the active optimizer parameters
func (ws *WebServer) handleGetOptimizerParameters(w http.ResponseWriter, r *http.Request) {
	params, version, err := state.LoadActiveParameters()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get optimizer parameters")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve optimizer parameters")
		return
	}

	response := map[string]interface{}{
		"parameters": params,
		"version":    version,
		"timestamp":  time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPerformance returns aggregate cycle statistics
func (ws *WebServer) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	window := 100
	if windowStr := r.URL.Query().Get("window"); windowStr != "" {
		if parsed, err := strconv.Atoi(windowStr); err == nil && parsed > 0 && parsed <= 1000 {
			window = parsed
		}
	}

	summary, err := state.SummarizeRecentCycles(window)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to summarize cycles")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve performance summary")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
