package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/phenomenon0/forecastmarket/internal/apperr"
	"github.com/phenomenon0/forecastmarket/internal/domain"
)

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	b, ok := s.markets.get(sessionID)
	if !ok {
		writeError(w, fmt.Errorf("%w: no market for session %s", apperr.ErrNotFound, sessionID))
		return
	}
	writeJSON(w, http.StatusOK, b.Snapshot())
}

type placeOrderRequest struct {
	TraderName string `json:"trader_name"`
	Side       string `json:"side"`
	Price      int    `json:"price"`
	Quantity   int    `json:"quantity"`
}

type placeOrderResponse struct {
	Order       *domain.Order   `json:"order"`
	Trades      []*domain.Trade `json:"trades"`
	TraderState domain.Position `json:"trader_state"`
}

// parseSide accepts the book's own yes/no vocabulary and the buy/sell
// shorthand (buy = bid on YES, sell = bid on NO), case-insensitively.
func parseSide(raw string) (domain.OrderSide, error) {
	switch strings.ToLower(raw) {
	case "yes", "buy":
		return domain.OrderSideYes, nil
	case "no", "sell":
		return domain.OrderSideNo, nil
	default:
		return "", fmt.Errorf("%w: side must be yes/no or buy/sell, got %q", apperr.ErrInvalidInput, raw)
	}
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: decode request body: %v", apperr.ErrInvalidInput, err))
		return
	}
	if req.TraderName == "" {
		writeError(w, fmt.Errorf("%w: trader_name is required", apperr.ErrInvalidInput))
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		writeError(w, err)
		return
	}

	b := s.markets.getOrCreate(sessionID, "")
	order, trades, err := b.PlaceOrder(req.TraderName, side, req.Price, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}

	s.metrics.RecordOrder(string(side))
	if len(trades) > 0 {
		volume := 0
		for _, t := range trades {
			volume += t.Quantity
		}
		s.metrics.RecordTrades(sessionID, len(trades), volume)
		s.streamHub.BroadcastTrades(sessionID, trades)
	}
	snap := b.Snapshot()
	s.streamHub.BroadcastOrderBookChanged(sessionID, snap)

	writeJSON(w, http.StatusCreated, placeOrderResponse{
		Order:       order,
		Trades:      trades,
		TraderState: b.Position(req.TraderName),
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	orderID := r.PathValue("order_id")
	traderName := r.URL.Query().Get("trader_name")

	b, ok := s.markets.get(sessionID)
	if !ok {
		writeError(w, fmt.Errorf("%w: no market for session %s", apperr.ErrNotFound, sessionID))
		return
	}

	order, err := b.CancelOrder(orderID, traderName)
	if err != nil {
		writeError(w, err)
		return
	}
	s.streamHub.BroadcastOrderBookChanged(sessionID, b.Snapshot())
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleCancelAllOrders(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	traderName := r.URL.Query().Get("trader_name")
	if traderName == "" {
		writeError(w, fmt.Errorf("%w: trader_name is required", apperr.ErrInvalidInput))
		return
	}

	b, ok := s.markets.get(sessionID)
	if !ok {
		writeError(w, fmt.Errorf("%w: no market for session %s", apperr.ErrNotFound, sessionID))
		return
	}

	cancelled := b.CancelAll(traderName)
	s.streamHub.BroadcastOrderBookChanged(sessionID, b.Snapshot())
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	orderID := r.PathValue("order_id")

	b, ok := s.markets.get(sessionID)
	if !ok {
		writeError(w, fmt.Errorf("%w: no market for session %s", apperr.ErrNotFound, sessionID))
		return
	}
	order, ok := b.Order(orderID)
	if !ok {
		writeError(w, fmt.Errorf("%w: order %s", apperr.ErrNotFound, orderID))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleGetTrader(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	name := r.PathValue("name")

	b, ok := s.markets.get(sessionID)
	if !ok {
		writeError(w, fmt.Errorf("%w: no market for session %s", apperr.ErrNotFound, sessionID))
		return
	}
	writeJSON(w, http.StatusOK, b.Position(name))
}

func (s *Server) handleGetTraderOrders(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	name := r.PathValue("name")
	activeOnly := r.URL.Query().Get("active_only") == "true"

	b, ok := s.markets.get(sessionID)
	if !ok {
		writeError(w, fmt.Errorf("%w: no market for session %s", apperr.ErrNotFound, sessionID))
		return
	}
	writeJSON(w, http.StatusOK, b.OwnerOrders(name, activeOnly))
}

func (s *Server) handleListTraders(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	states, err := s.store.Traders.SessionTraders(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)

	b, ok := s.markets.get(sessionID)
	if !ok {
		writeError(w, fmt.Errorf("%w: no market for session %s", apperr.ErrNotFound, sessionID))
		return
	}
	writeJSON(w, http.StatusOK, b.RecentTrades(limit))
}

func (s *Server) handleSettleMarket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	outcomeStr := r.URL.Query().Get("outcome")
	outcome, err := strconv.ParseBool(outcomeStr)
	if err != nil {
		writeError(w, fmt.Errorf("%w: outcome must be true or false, got %q", apperr.ErrInvalidInput, outcomeStr))
		return
	}

	b, ok := s.markets.get(sessionID)
	if !ok {
		writeError(w, fmt.Errorf("%w: no market for session %s", apperr.ErrNotFound, sessionID))
		return
	}

	payouts := b.Settle(outcome)
	s.streamHub.BroadcastSettled(sessionID, payouts)
	writeJSON(w, http.StatusOK, map[string]any{"payouts": payouts})
}
