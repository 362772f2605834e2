package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/phenomenon0/forecastmarket/internal/agentrt"
	"github.com/phenomenon0/forecastmarket/internal/book"
	"github.com/phenomenon0/forecastmarket/internal/domain"
	"github.com/phenomenon0/forecastmarket/internal/logging"
	"github.com/phenomenon0/forecastmarket/internal/semanticfilter"
)

// defaultSpread and defaultQuantity are the fixed market-making order
// parameters the round loop uses for every agent's quote, per
// simulation.py's place_market_making_orders(spread=4, quantity=100).
const (
	defaultSpread   = 4
	defaultQuantity = 100
)

// Book is the subset of *book.OrderBook the simulation needs, kept as a
// local interface so tests can substitute a fake without standing up a
// real market.
type Book interface {
	Snapshot() book.Snapshot
	RecentTrades(n int) []*domain.Trade
	CancelAll(owner string) []*domain.Order
	PlaceOrder(owner string, side domain.OrderSide, price, quantity int) (*domain.Order, []*domain.Trade, error)
}

// TraderStateStore persists each trader's free-form notes between rounds,
// grounded on repositories.py's TraderStateRepository.upsert_trader.
type TraderStateStore interface {
	Load(ctx context.Context, sessionID, name string) (*domain.TraderState, error)
	Save(ctx context.Context, state *domain.TraderState) error
}

// UserPostSource fetches a single tracked account's recent posts, the
// single-account analog of semanticfilter.PostSource which queries a whole
// sphere instead.
type UserPostSource interface {
	FetchAccount(ctx context.Context, account string, maxPosts int) (posts []semanticfilter.Post, latestPostID string, err error)
}

// SphereSource fetches posts for a noise trader's assigned sphere via the
// semantic filter.
type SphereSource interface {
	Run(ctx context.Context, question, sphereID, topic string) (semanticfilter.Result, error)
}

// Completer is the subset of llmclient.Client the simulation's agents need.
type Completer = agentrt.Completer

// Config tunes round behavior.
type Config struct {
	SessionID       string
	Question        string
	Spread          int
	Quantity        int
	RecentTradeSize int
}

// Simulation drives the fixed 18-agent roster through successive rounds
// against one market's order book, grounded on
// original_source/backend/app/traders/simulation.py's TradingSimulation.
type Simulation struct {
	client    Completer
	market    Book
	states    TraderStateStore
	spheres   SphereSource
	userPosts UserPostSource
	cfg       Config
	log       *logging.Logger

	mu           sync.Mutex
	roundNumber  int
	running      bool
	cancel       context.CancelFunc
	userLastSeen map[string]string
}

// New builds a Simulation wired to its dependencies.
func New(client Completer, market Book, states TraderStateStore, spheres SphereSource, userPosts UserPostSource, cfg Config) *Simulation {
	if cfg.Spread <= 0 {
		cfg.Spread = defaultSpread
	}
	if cfg.Quantity <= 0 {
		cfg.Quantity = defaultQuantity
	}
	if cfg.RecentTradeSize <= 0 {
		cfg.RecentTradeSize = 20
	}
	return &Simulation{
		client:       client,
		market:       market,
		states:       states,
		spheres:      spheres,
		userPosts:    userPosts,
		cfg:          cfg,
		log:          logging.New("SIM"),
		userLastSeen: make(map[string]string),
	}
}

// RoundNumber reports the most recently completed round's number.
func (s *Simulation) RoundNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundNumber
}

// IsRunning reports whether RunContinuous's loop is active.
func (s *Simulation) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunContinuous loops Round with a sleep of interval between rounds until
// Stop is called. Cancellation is cooperative: the in-flight round
// completes before the loop exits.
func (s *Simulation) RunContinuous(ctx context.Context, interval time.Duration) {
	stopCh := make(chan struct{})

	s.mu.Lock()
	s.running = true
	s.cancel = sync.OnceFunc(func() { close(stopCh) })
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	for {
		// Round always runs against the caller's context, not a
		// cancel-on-Stop one, so an in-flight round finishes even after
		// Stop is called; only the between-rounds sleep is interruptible.
		if err := s.Round(ctx); err != nil {
			s.log.Errorf("round failed: %v", err)
		}

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Stop signals the continuous loop to exit. The round already in flight
// is allowed to finish; no new round starts afterward.
func (s *Simulation) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// agentResult is what one roster entry's execution produces for round
// bookkeeping.
type agentResult struct {
	trader trader
	status agentrt.Status
	err    error
}

// Round runs one full pass over the 18-agent roster: snapshot the book,
// fan out all agents concurrently, place market-making orders for every
// successful non-skipped prediction, and persist updated notes.
func (s *Simulation) Round(ctx context.Context) error {
	s.mu.Lock()
	s.roundNumber++
	round := s.roundNumber
	s.mu.Unlock()

	snapshot := s.market.Snapshot()
	trades := s.market.RecentTrades(s.cfg.RecentTradeSize)

	common := roundInput{
		Question:     s.cfg.Question,
		OrderBook:    snapshot,
		RecentTrades: trades,
		RoundNumber:  round,
	}

	roster := roster()
	var wg sync.WaitGroup
	results := make([]agentResult, len(roster))

	for i, tr := range roster {
		wg.Add(1)
		go func(i int, tr trader) {
			defer wg.Done()
			results[i] = s.runOne(ctx, tr, common)
		}(i, tr)
	}
	wg.Wait()

	succeeded, skipped, failed := 0, 0, 0
	for _, r := range results {
		switch r.status {
		case agentrt.StateCompleted:
			succeeded++
		case agentrt.StateSkipped:
			skipped++
		default:
			failed++
		}
	}
	s.log.Infof("round %d complete: %d succeeded, %d skipped, %d failed", round, succeeded, skipped, failed)

	return nil
}

// roundInput is the common payload every agent in a round receives,
// mirroring simulation.py's base_input dict.
type roundInput struct {
	Question     string
	OrderBook    book.Snapshot
	RecentTrades []*domain.Trade
	RoundNumber  int
}

func (s *Simulation) runOne(ctx context.Context, tr trader, common roundInput) agentResult {
	prevState, err := s.states.Load(ctx, s.cfg.SessionID, tr.name)
	if err != nil {
		return agentResult{trader: tr, status: agentrt.StateFailed, err: err}
	}
	notes := ""
	if prevState != nil {
		notes = prevState.Notes
	}

	if tr.kind == domain.TraderUser {
		skip, latestPostID, posts, err := s.checkUserSkip(ctx, tr.name)
		if err != nil {
			return agentResult{trader: tr, status: agentrt.StateFailed, err: err}
		}
		if skip {
			return agentResult{trader: tr, status: agentrt.StateSkipped}
		}
		return s.executeAndPlace(ctx, tr, common, notes, userPromptContext{LatestPostID: latestPostID, Posts: posts})
	}

	if tr.kind == domain.TraderNoise {
		result, err := s.spheres.Run(ctx, common.Question, tr.name, "")
		if err != nil {
			s.log.Warnf("noise trader %s: sphere fetch failed, proceeding with no posts: %v", tr.name, err)
		}
		return s.executeAndPlace(ctx, tr, common, notes, noisePromptContext{Posts: result.Posts})
	}

	return s.executeAndPlace(ctx, tr, common, notes, nil)
}

// userPromptContext carries the extra data a user trader's message needs.
type userPromptContext struct {
	LatestPostID string              `json:"latest_post_id"`
	Posts        []semanticfilter.Post `json:"posts"`
}

// noisePromptContext carries the extra data a noise trader's message needs.
type noisePromptContext struct {
	Posts []semanticfilter.Post `json:"posts"`
}

// checkUserSkip reports whether the tracked account has not posted since
// the last round this user trader ran, per user_agent.py's
// _last_seen_post_id comparison (lines ~508-529): the agent instance keeps
// the previous round's latest_post_id in memory and skips whenever the
// newly fetched latest_post_id is unchanged and non-nil on the prior
// round. Here that instance-scoped field is modeled as the simulation's
// per-trader-name map, since one Simulation instance drives the whole
// roster for a session's lifetime.
func (s *Simulation) checkUserSkip(ctx context.Context, name string) (skip bool, latestPostID string, posts []semanticfilter.Post, err error) {
	account, ok := UserAccounts[name]
	if !ok {
		return false, "", nil, fmt.Errorf("unknown user trader %q", name)
	}

	fetched, latest, err := s.userPosts.FetchAccount(ctx, account, 20)
	if err != nil {
		return false, "", nil, err
	}

	s.mu.Lock()
	prev, seen := s.userLastSeen[name]
	s.mu.Unlock()

	if seen && prev != "" && latest != "" && latest == prev {
		return true, latest, nil, nil
	}

	if latest != "" {
		s.mu.Lock()
		s.userLastSeen[name] = latest
		s.mu.Unlock()
	}

	return false, latest, fetched, nil
}

// executeAndPlace runs the trader's agent spec, clamps its prediction, and
// places market-making orders on success.
func (s *Simulation) executeAndPlace(ctx context.Context, tr trader, common roundInput, notes string, extra any) agentResult {
	spec := s.buildSpec(tr, common, notes, extra)

	res := agentrt.Execute(ctx, s.client, spec, common)
	if res.Status != agentrt.StateCompleted {
		return agentResult{trader: tr, status: res.Status, err: res.Err}
	}

	predictionRaw, _ := res.Payload["prediction_in_cents"].(float64)
	prediction := clamp(int(predictionRaw), 2, 98)

	if err := s.placeQuotes(tr.name, prediction); err != nil {
		s.log.Warnf("trader %s: failed placing orders: %v", tr.name, err)
	}

	newNotes, _ := res.Payload["notes_for_next_round"].(string)
	if err := s.states.Save(ctx, &domain.TraderState{
		SessionID: s.cfg.SessionID,
		Name:      tr.name,
		Type:      tr.kind,
		Notes:     newNotes,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		s.log.Warnf("trader %s: failed saving notes: %v", tr.name, err)
	}

	return agentResult{trader: tr, status: agentrt.StateCompleted}
}

// placeQuotes cancels a trader's resting orders and places a fresh
// bid/ask pair straddling its prediction.
func (s *Simulation) placeQuotes(owner string, prediction int) error {
	s.market.CancelAll(owner)

	half := s.cfg.Spread / 2
	bid := clamp(prediction-half, 1, 99)
	ask := clamp(prediction+half, 1, 99)
	if bid >= ask {
		if bid > 1 {
			bid--
		}
		if ask < 99 {
			ask++
		}
	}

	if _, _, err := s.market.PlaceOrder(owner, domain.OrderSideYes, bid, s.cfg.Quantity); err != nil {
		return err
	}
	if _, _, err := s.market.PlaceOrder(owner, domain.OrderSideNo, 100-ask, s.cfg.Quantity); err != nil {
		return err
	}
	return nil
}

func (s *Simulation) buildSpec(tr trader, common roundInput, notes string, extra any) agentrt.Spec {
	build := func(ctx context.Context, input any) (string, error) {
		return buildTraderMessage(common, notes, extra), nil
	}

	return agentrt.Spec{
		AgentName:    tr.name,
		Phase:        domain.PhasePrediction,
		SystemPrompt: systemPromptFor(tr),
		Schema:       traderOutputSchema,
		Temperature:  0.5,
		MaxTokens:    600,
		MaxRetries:   2,
		BuildMessage: build,
		Fallback: func(lastErr error) map[string]any {
			return map[string]any{
				"prediction_in_cents":  50,
				"confidence":           0.1,
				"analysis":             "fallback: unable to parse model output",
				"notes_for_next_round": notes,
			}
		},
	}
}

func buildTraderMessage(common roundInput, notes string, extra any) string {
	b, _ := json.Marshal(struct {
		Question     string          `json:"question"`
		OrderBook    book.Snapshot   `json:"order_book"`
		RecentTrades []*domain.Trade `json:"recent_trades"`
		RoundNumber  int             `json:"round_number"`
		PriorNotes   string          `json:"prior_notes"`
		Extra        any             `json:"context,omitempty"`
	}{
		Question:     common.Question,
		OrderBook:    common.OrderBook,
		RecentTrades: common.RecentTrades,
		RoundNumber:  common.RoundNumber,
		PriorNotes:   notes,
		Extra:        extra,
	})
	return string(b)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var traderOutputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"prediction_in_cents":  map[string]any{"type": "integer"},
		"confidence":           map[string]any{"type": "number"},
		"analysis":             map[string]any{"type": "string"},
		"notes_for_next_round": map[string]any{"type": "string"},
	},
	"required": []string{"prediction_in_cents", "confidence", "analysis"},
}
