// Package httpapi exposes the forecast and market engine over HTTP. Routes,
// handler signatures, and the no-router-framework http.ServeMux style are
// grounded on cmd/agentd/main.go's startHTTP — one small handler func per
// route, /metrics via promhttp, /ws via the streaming hub.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phenomenon0/forecastmarket/internal/agentrt"
	"github.com/phenomenon0/forecastmarket/internal/apperr"
	"github.com/phenomenon0/forecastmarket/internal/forecast"
	"github.com/phenomenon0/forecastmarket/internal/logging"
	"github.com/phenomenon0/forecastmarket/internal/metrics"
	"github.com/phenomenon0/forecastmarket/internal/repo"
	"github.com/phenomenon0/forecastmarket/internal/streaming"
)

// Server wires the persistence layer, the market registry, and ambient
// infrastructure (streaming, metrics) behind one HTTP surface.
type Server struct {
	store     *repo.Store
	markets   *marketRegistry
	llm       agentrt.Completer
	streamHub *streaming.Hub
	metrics   *metrics.Metrics
	log       *logging.Logger
}

// NewServer builds a Server. llm is the completer every orchestrator run
// spawned by POST /api/forecasts uses.
func NewServer(store *repo.Store, llm agentrt.Completer, streamHub *streaming.Hub, m *metrics.Metrics) *Server {
	return &Server{
		store:     store,
		markets:   newMarketRegistry(),
		llm:       llm,
		streamHub: streamHub,
		metrics:   m,
		log:       logging.New("httpapi"),
	}
}

// Mux builds the complete route table.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/forecasts", s.instrument("create_forecast", s.handleCreateForecast))
	mux.HandleFunc("GET /api/forecasts", s.instrument("list_forecasts", s.handleListForecasts))
	mux.HandleFunc("GET /api/forecasts/{id}", s.instrument("get_forecast", s.handleGetForecast))

	mux.HandleFunc("GET /api/markets/{session_id}/orderbook", s.instrument("orderbook", s.handleOrderBook))
	mux.HandleFunc("POST /api/markets/{session_id}/orders", s.instrument("place_order", s.handlePlaceOrder))
	mux.HandleFunc("DELETE /api/markets/{session_id}/orders/{order_id}", s.instrument("cancel_order", s.handleCancelOrder))
	mux.HandleFunc("DELETE /api/markets/{session_id}/orders", s.instrument("cancel_all_orders", s.handleCancelAllOrders))
	mux.HandleFunc("GET /api/markets/{session_id}/orders/{order_id}", s.instrument("get_order", s.handleGetOrder))
	mux.HandleFunc("GET /api/markets/{session_id}/traders/{name}", s.instrument("get_trader", s.handleGetTrader))
	mux.HandleFunc("GET /api/markets/{session_id}/traders/{name}/orders", s.instrument("get_trader_orders", s.handleGetTraderOrders))
	mux.HandleFunc("GET /api/markets/{session_id}/traders", s.instrument("list_traders", s.handleListTraders))
	mux.HandleFunc("GET /api/markets/{session_id}/trades", s.instrument("list_trades", s.handleListTrades))
	mux.HandleFunc("POST /api/markets/{session_id}/settle", s.instrument("settle_market", s.handleSettleMarket))

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /ws", s.streamHub.ServeWS)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument wraps h with a request-duration/status observation against
// route, per metrics.Metrics.RecordHTTPRequest.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		s.metrics.RecordHTTPRequest(route, http.StatusText(sw.status), time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError translates an apperr-wrapped error to its HTTP status per the
// InvalidInput->400, NotFound->404, Forbidden->403, Conflict->400,
// else->500 policy.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// runOrchestratorAsync starts a forecast run on its own goroutine, detached
// from the request context, and broadcasts its terminal outcome.
func (s *Server) runOrchestratorAsync(sessionID, questionText, persona string, counts *forecast.PhaseAgentCounts) {
	go func() {
		ctx := context.Background()
		orch := forecast.New(s.llm, s.store.Sessions, s.store.AgentLogs, s.store.Factors, s.store.Responses)
		cfg := forecast.Config{SessionID: sessionID, QuestionText: questionText, Persona: persona, AgentCounts: counts}

		start := time.Now()
		result, err := orch.Run(ctx, cfg)
		s.metrics.RecordForecastRun(persona, statusLabel(err), time.Since(start).Seconds())

		if err != nil {
			s.log.Errorf("session %s: orchestrator failed: %v", sessionID, err)
			s.streamHub.BroadcastForecastFailed(sessionID, err)
			return
		}
		s.streamHub.BroadcastForecastCompleted(sessionID, result)
	}()
}

func statusLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "completed"
}
