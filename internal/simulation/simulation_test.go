package simulation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phenomenon0/forecastmarket/internal/book"
	"github.com/phenomenon0/forecastmarket/internal/domain"
	"github.com/phenomenon0/forecastmarket/internal/llmclient"
	"github.com/phenomenon0/forecastmarket/internal/semanticfilter"
)

type fakeBook struct {
	mu      sync.Mutex
	orders  []string
	cancels []string
}

func (f *fakeBook) Snapshot() book.Snapshot { return book.Snapshot{} }
func (f *fakeBook) RecentTrades(n int) []*domain.Trade { return nil }

func (f *fakeBook) CancelAll(owner string) []*domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, owner)
	return nil
}

func (f *fakeBook) PlaceOrder(owner string, side domain.OrderSide, price, quantity int) (*domain.Order, []*domain.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, owner)
	return &domain.Order{ID: "o", Owner: owner, Side: side, Price: price, Quantity: quantity}, nil, nil
}

type fakeStates struct {
	mu    sync.Mutex
	notes map[string]string
}

func newFakeStates() *fakeStates { return &fakeStates{notes: make(map[string]string)} }

func (f *fakeStates) Load(ctx context.Context, sessionID, name string) (*domain.TraderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[name]
	if !ok {
		return nil, nil
	}
	return &domain.TraderState{SessionID: sessionID, Name: name, Notes: n}, nil
}

func (f *fakeStates) Save(ctx context.Context, state *domain.TraderState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes[state.Name] = state.Notes
	return nil
}

type fakeSpheres struct{}

func (f *fakeSpheres) Run(ctx context.Context, question, sphereID, topic string) (semanticfilter.Result, error) {
	return semanticfilter.Result{}, nil
}

type fakeUserPosts struct {
	mu     sync.Mutex
	latest map[string]string
}

func newFakeUserPosts(latest map[string]string) *fakeUserPosts {
	return &fakeUserPosts{latest: latest}
}

func (f *fakeUserPosts) FetchAccount(ctx context.Context, account string, maxPosts int) ([]semanticfilter.Post, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return nil, f.latest[account], nil
}

type stubCompleter struct{}

func (s *stubCompleter) Complete(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResult, error) {
	return &llmclient.CompletionResult{Content: `{"prediction_in_cents": 70, "confidence": 0.6, "analysis": "looks good", "notes_for_next_round": "watch rates"}`}, nil
}

func newTestSimulation(mb *fakeBook, states *fakeStates, userPosts *fakeUserPosts) *Simulation {
	return New(&stubCompleter{}, mb, states, &fakeSpheres{}, userPosts, Config{
		SessionID: "s1",
		Question:  "Will the Fed cut rates?",
	})
}

func TestRoundPlacesOrdersForAllNonSkippedTraders(t *testing.T) {
	mb := &fakeBook{}
	states := newFakeStates()
	userPosts := newFakeUserPosts(map[string]string{
		"OliveeLin":       "post-1",
		"OwenZhang159710": "post-1",
		"SkylarWang15":    "post-1",
		"tyzchen":         "post-1",
	})
	sim := newTestSimulation(mb, states, userPosts)

	if err := sim.Round(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sim.RoundNumber() != 1 {
		t.Errorf("expected round number 1, got %d", sim.RoundNumber())
	}

	// 18 traders, each places a YES bid and a NO ask -> 36 orders, each
	// pair preceded by one CancelAll call for that trader -> 18 cancels.
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.orders) != 36 {
		t.Errorf("expected 36 placed orders (18 traders x 2 quotes), got %d", len(mb.orders))
	}
	if len(mb.cancels) != 18 {
		t.Errorf("expected 18 cancel-all calls (one per trader), got %d", len(mb.cancels))
	}
}

func TestUserTraderSkipsWhenLatestPostIDUnchanged(t *testing.T) {
	mb := &fakeBook{}
	states := newFakeStates()
	userPosts := newFakeUserPosts(map[string]string{
		"OliveeLin":       "post-1",
		"OwenZhang159710": "post-1",
		"SkylarWang15":    "post-1",
		"tyzchen":         "post-1",
	})
	sim := newTestSimulation(mb, states, userPosts)

	if err := sim.Round(context.Background()); err != nil {
		t.Fatalf("round 1: unexpected error: %v", err)
	}
	mb.mu.Lock()
	firstRoundOrders := len(mb.orders)
	mb.mu.Unlock()

	// Second round: no new posts from any tracked account, so all 4 user
	// traders should skip and place no orders.
	if err := sim.Round(context.Background()); err != nil {
		t.Fatalf("round 2: unexpected error: %v", err)
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	secondRoundOrders := len(mb.orders) - firstRoundOrders
	// 14 non-user traders place 2 orders each; the 4 user traders skip.
	if secondRoundOrders != 28 {
		t.Errorf("expected 28 orders in round 2 (user traders skipped), got %d", secondRoundOrders)
	}
}

func TestCheckUserSkipUnknownTraderErrors(t *testing.T) {
	mb := &fakeBook{}
	states := newFakeStates()
	userPosts := newFakeUserPosts(nil)
	sim := newTestSimulation(mb, states, userPosts)

	if _, _, _, err := sim.checkUserSkip(context.Background(), "not-a-user"); err == nil {
		t.Error("expected error for unknown user trader")
	}
}

func TestStopEndsContinuousLoopAfterCurrentRound(t *testing.T) {
	mb := &fakeBook{}
	states := newFakeStates()
	userPosts := newFakeUserPosts(map[string]string{})
	sim := newTestSimulation(mb, states, userPosts)

	done := make(chan struct{})
	go func() {
		sim.RunContinuous(context.Background(), 50*time.Millisecond)
		close(done)
	}()

	// Let at least one round run, then stop and expect the loop to exit
	// promptly rather than waiting out further sleep intervals.
	time.Sleep(20 * time.Millisecond)
	sim.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunContinuous did not exit after Stop")
	}

	if sim.IsRunning() {
		t.Error("expected IsRunning to be false after loop exit")
	}
}
