package httpapi

import (
	"sync"
	"time"

	"github.com/phenomenon0/forecastmarket/internal/book"
	"github.com/phenomenon0/forecastmarket/internal/domain"
)

// marketRegistry holds one in-memory order book per session. Sessions get a
// book lazily, when the first order is placed for them — a forecast session
// and its market share the same id.
type marketRegistry struct {
	mu    sync.RWMutex
	books map[string]*book.OrderBook
}

func newMarketRegistry() *marketRegistry {
	return &marketRegistry{books: make(map[string]*book.OrderBook)}
}

// getOrCreate returns the book for sessionID, creating an open market the
// first time it's requested.
func (r *marketRegistry) getOrCreate(sessionID, question string) *book.OrderBook {
	r.mu.RLock()
	b, ok := r.books[sessionID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.books[sessionID]; ok {
		return b
	}
	b = book.NewOrderBook(&domain.Market{
		ID:        sessionID,
		SessionID: sessionID,
		Question:  question,
		Status:    domain.MarketOpen,
		CreatedAt: time.Now().UTC(),
	})
	r.books[sessionID] = b
	return b
}

// get returns the existing book for sessionID, if any.
func (r *marketRegistry) get(sessionID string) (*book.OrderBook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[sessionID]
	return b, ok
}
