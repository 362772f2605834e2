// Package domain holds the shared entity types persisted and passed between
// the forecast and market engine cores.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuestionType enumerates the kinds of question a session can forecast.
type QuestionType string

const (
	QuestionBinary      QuestionType = "binary"
	QuestionNumeric     QuestionType = "numeric"
	QuestionCategorical QuestionType = "categorical"
)

// Session is the top-level forecast request. Prediction, confidence, and
// duration are NOT stored here — ForecasterResponse is the sole authority
// for those fields.
type Session struct {
	ID           string       `bson:"_id" json:"id"`
	QuestionText string       `bson:"question_text" json:"question_text"`
	QuestionType QuestionType `bson:"question_type" json:"question_type"`
	CreatedAt    time.Time    `bson:"created_at" json:"created_at"`
	StartedAt    time.Time    `bson:"started_at" json:"started_at"`
	CompletedAt  *time.Time   `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// IsTerminal reports whether the session has finished (successfully or not).
func (s *Session) IsTerminal() bool {
	return s.CompletedAt != nil
}

// ForecasterResponseStatus is the lifecycle of one forecaster persona's run.
type ForecasterResponseStatus string

const (
	ResponseRunning   ForecasterResponseStatus = "running"
	ResponseCompleted ForecasterResponseStatus = "completed"
	ResponseFailed    ForecasterResponseStatus = "failed"
)

// ForecasterResponse holds the final prediction payload for one
// (session, persona) pair. At most one row exists per pair.
type ForecasterResponse struct {
	ID                    string                   `bson:"_id" json:"id"`
	SessionID             string                   `bson:"session_id" json:"session_id"`
	Persona               string                   `bson:"persona" json:"persona"`
	Status                ForecasterResponseStatus `bson:"status" json:"status"`
	Prediction            string                   `bson:"prediction,omitempty" json:"prediction,omitempty"`
	PredictionProbability *float64                 `bson:"prediction_probability,omitempty" json:"prediction_probability,omitempty"`
	Confidence             *float64                `bson:"confidence,omitempty" json:"confidence,omitempty"`
	Reasoning             string                   `bson:"reasoning,omitempty" json:"reasoning,omitempty"`
	KeyFactors            []string                 `bson:"key_factors,omitempty" json:"key_factors,omitempty"`
	PhaseDurations        map[string]float64       `bson:"phase_durations,omitempty" json:"phase_durations,omitempty"`
	TotalDurationSeconds  float64                  `bson:"total_duration_seconds" json:"total_duration_seconds"`
	ErrorMessage          string                   `bson:"error_message,omitempty" json:"error_message,omitempty"`
	CreatedAt             time.Time                `bson:"created_at" json:"created_at"`
}

// AgentLogStatus mirrors the monotonic running->{completed,failed} lifecycle.
type AgentLogStatus string

const (
	AgentRunning   AgentLogStatus = "running"
	AgentCompleted AgentLogStatus = "completed"
	AgentFailed    AgentLogStatus = "failed"
	AgentSkipped   AgentLogStatus = "skipped"
)

// PhaseName names one of the four orchestrator phases, or "prediction" for
// single-shot trader-agent executions run by the simulation.
type PhaseName string

const (
	PhaseFactorDiscovery PhaseName = "factor_discovery"
	PhaseValidation      PhaseName = "validation"
	PhaseResearch        PhaseName = "research"
	PhaseSynthesis       PhaseName = "synthesis"
	PhasePrediction      PhaseName = "prediction"
)

// AgentLog records one agent execution for observability and audit.
type AgentLog struct {
	ID           string         `bson:"_id" json:"id"`
	SessionID    string         `bson:"session_id" json:"session_id"`
	AgentName    string         `bson:"agent_name" json:"agent_name"`
	Phase        PhaseName      `bson:"phase" json:"phase"`
	Status       AgentLogStatus `bson:"status" json:"status"`
	TokenCount   int            `bson:"token_count" json:"token_count"`
	Output       any            `bson:"output,omitempty" json:"output,omitempty"`
	ErrorMessage string         `bson:"error_message,omitempty" json:"error_message,omitempty"`
	StartedAt    time.Time      `bson:"started_at" json:"started_at"`
	FinishedAt   *time.Time     `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
}

// Factor is one candidate driver of the forecast, discovered, scored, and
// researched across phases 1-3.
type Factor struct {
	ID               string   `bson:"_id" json:"id"`
	SessionID        string   `bson:"session_id" json:"session_id"`
	Name             string   `bson:"name" json:"name"`
	Description      string   `bson:"description" json:"description"`
	Category         string   `bson:"category,omitempty" json:"category,omitempty"`
	ImportanceScore  *float64 `bson:"importance_score,omitempty" json:"importance_score,omitempty"`
	ResearchSummary  string   `bson:"research_summary,omitempty" json:"research_summary,omitempty"`
}

// MarketStatus is the lifecycle of a binary prediction market.
type MarketStatus string

const (
	MarketOpen     MarketStatus = "open"
	MarketClosed   MarketStatus = "closed"
	MarketResolved MarketStatus = "resolved"
)

// Market is a single binary prediction market bound to a forecast session.
type Market struct {
	ID         string       `bson:"_id" json:"id"`
	SessionID  string       `bson:"session_id" json:"session_id"`
	Question   string       `bson:"question" json:"question"`
	Status     MarketStatus `bson:"status" json:"status"`
	Resolution *bool        `bson:"resolution,omitempty" json:"resolution,omitempty"`
	LastPrice  *int         `bson:"last_price,omitempty" json:"last_price,omitempty"`
	Volume     int          `bson:"volume" json:"volume"`
	CreatedAt  time.Time    `bson:"created_at" json:"created_at"`
	ClosesAt   *time.Time   `bson:"closes_at,omitempty" json:"closes_at,omitempty"`
	ResolvedAt *time.Time   `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
}

// OrderSide distinguishes a bid on YES from a bid on NO. See book package
// for the YES@P / NO@(100-P) counterparty relationship.
type OrderSide string

const (
	OrderSideYes OrderSide = "yes"
	OrderSideNo  OrderSide = "no"
)

// OrderStatus is the lifecycle of a resting or terminal order.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
)

// Order is a limit order against a single market's book. Price is an
// integer number of cents in [1,99].
type Order struct {
	ID        string      `bson:"_id" json:"id"`
	MarketID  string      `bson:"market_id" json:"market_id"`
	Owner     string      `bson:"owner" json:"owner"`
	Side      OrderSide   `bson:"side" json:"side"`
	Price     int         `bson:"price" json:"price"`
	Quantity  int         `bson:"quantity" json:"quantity"`
	Filled    int         `bson:"filled" json:"filled"`
	Status    OrderStatus `bson:"status" json:"status"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updated_at"`
	// seq is not set by the book; FIFO order within a price level is the
	// order of that level's queue.
	seq uint64
}

// Remaining is the unfilled quantity still resting on the book.
func (o *Order) Remaining() int { return o.Quantity - o.Filled }

// IsActive reports whether the order still rests on the book.
func (o *Order) IsActive() bool {
	return o.Status == OrderOpen || o.Status == OrderPartiallyFilled
}

// Trade is an append-only record of one match between two orders.
type Trade struct {
	ID          string    `bson:"_id" json:"id"`
	MarketID    string    `bson:"market_id" json:"market_id"`
	BuyOrderID  string    `bson:"buy_order_id" json:"buy_order_id"`
	SellOrderID string    `bson:"sell_order_id" json:"sell_order_id"`
	Buyer       string    `bson:"buyer" json:"buyer"`
	Seller      string    `bson:"seller" json:"seller"`
	Price       int       `bson:"price" json:"price"`
	Quantity    int       `bson:"quantity" json:"quantity"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// Position tracks one trader's accumulated YES/NO contracts in one market.
type Position struct {
	Owner        string          `bson:"owner" json:"owner"`
	MarketID     string          `bson:"market_id" json:"market_id"`
	YesQuantity  int             `bson:"yes_quantity" json:"yes_quantity"`
	NoQuantity   int             `bson:"no_quantity" json:"no_quantity"`
	AvgYesPrice  decimal.Decimal `bson:"avg_yes_price" json:"avg_yes_price"`
	AvgNoPrice   decimal.Decimal `bson:"avg_no_price" json:"avg_no_price"`
	RealizedPnL  decimal.Decimal `bson:"realized_pnl" json:"realized_pnl"`
}

// NetPosition is positive when net long YES, negative when net long NO.
func (p *Position) NetPosition() int { return p.YesQuantity - p.NoQuantity }

// TraderType distinguishes the three trading-simulation roster kinds.
type TraderType string

const (
	TraderFundamental TraderType = "fundamental"
	TraderNoise       TraderType = "noise"
	TraderUser        TraderType = "user"
)

// TraderState is the simulation's per-trader persisted scratch state,
// carried between rounds.
type TraderState struct {
	SessionID string     `bson:"session_id" json:"session_id"`
	Name      string     `bson:"name" json:"name"`
	Type      TraderType `bson:"type" json:"type"`
	Notes     string     `bson:"notes,omitempty" json:"notes,omitempty"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}
