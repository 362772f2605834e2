package eval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/phenomenon0/forecastmarket/internal/domain"
	"github.com/phenomenon0/forecastmarket/internal/forecast"
	"github.com/phenomenon0/forecastmarket/internal/llmclient"
)

type memSessionStore struct {
	mu   sync.Mutex
	next int
}

func (m *memSessionStore) Create(ctx context.Context, questionText string, questionType domain.QuestionType) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	return &domain.Session{ID: fmt.Sprintf("sess-%d", m.next), QuestionText: questionText, QuestionType: questionType}, nil
}

func (m *memSessionStore) UpdateStatus(ctx context.Context, sessionID string, status, phase string) error {
	return nil
}

func (m *memSessionStore) MarkCompleted(ctx context.Context, sessionID string, predictionProbability, confidence *float64, totalDurationSeconds float64) error {
	return nil
}

type memAgentLogStore struct {
	mu sync.Mutex
	n  int
}

func (m *memAgentLogStore) Create(ctx context.Context, log *domain.AgentLog) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return fmt.Sprintf("log-%d", m.n), nil
}
func (m *memAgentLogStore) Update(ctx context.Context, logID string, status domain.AgentLogStatus, output any, tokens int, errMsg string) error {
	return nil
}

type memFactorStore struct {
	mu      sync.Mutex
	factors []*domain.Factor
}

func (m *memFactorStore) Create(ctx context.Context, f *domain.Factor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.ID = fmt.Sprintf("factor-%d", len(m.factors)+1)
	m.factors = append(m.factors, f)
	return nil
}
func (m *memFactorStore) SessionFactors(ctx context.Context, sessionID string, orderByImportance bool) ([]*domain.Factor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Factor(nil), m.factors...), nil
}
func (m *memFactorStore) SetImportance(ctx context.Context, factorID string, score float64) error {
	return nil
}
func (m *memFactorStore) SetResearchSummary(ctx context.Context, factorID, summary string) error {
	return nil
}

type memResponseStore struct{ mu sync.Mutex }

func (m *memResponseStore) Create(ctx context.Context, sessionID, persona string) (string, error) {
	return "resp-1", nil
}
func (m *memResponseStore) Complete(ctx context.Context, responseID string, result forecast.SynthesisResult, durations map[string]float64, total float64) error {
	return nil
}
func (m *memResponseStore) Fail(ctx context.Context, responseID, errMsg string) error { return nil }

// scriptedCompleter answers every phase of an orchestrator run plus the
// harness's one-shot baseline call from a single fixed script, keyed off
// distinguishing substrings in the system prompt.
type scriptedCompleter struct {
	synthesisProb float64
	baselineProb  float64
}

func (s *scriptedCompleter) Complete(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResult, error) {
	switch {
	case strings.Contains(req.System, "factor discovery specialist"):
		return result(`{"factors":[{"name":"Rate path","description":"Shapes liquidity.","category":"Economic"}]}`)
	case strings.Contains(req.System, "factor validation specialist"):
		return result(`{"validated_factors":[{"name":"Rate path","description":"Shapes liquidity.","category":"Economic"}]}`)
	case strings.Contains(req.System, "factor evaluator and selector"):
		return result(`{"rated_factors":[{"name":"Rate path","importance_score":8}],"top_factors":[{"name":"Rate path","importance_score":8}]}`)
	case strings.Contains(req.System, "historical pattern analyst"):
		return result(`{"factor_name":"Rate path","historical_analysis":"Past hikes slowed growth.","sources":["a"],"confidence":0.7}`)
	case strings.Contains(req.System, "current data researcher"):
		return result(`{"factor_name":"Rate path","current_findings":"Markets price one cut.","sources":["b"],"confidence":0.6}`)
	case strings.Contains(req.System, "Return a JSON object with:"):
		// Unique to the harness's one-shot baseline prompt.
		return result(fmt.Sprintf(`{"prediction":"Yes","prediction_probability":%.2f,"confidence":0.7,"reasoning":"scripted","key_factors":["Rate path"]}`, s.baselineProb))
	case strings.Contains(req.System, "forecasting model optimized"):
		// The orchestrator's synthesis agent.
		return result(fmt.Sprintf(`{"prediction":"Yes","prediction_probability":%.2f,"confidence":0.7,"reasoning":"scripted","key_factors":["Rate path"]}`, s.synthesisProb))
	}
	return nil, fmt.Errorf("unexpected prompt: %s", req.System)
}

func result(content string) (*llmclient.CompletionResult, error) {
	return &llmclient.CompletionResult{Content: content}, nil
}

func newTestRunner(synthesisProb, baselineProb float64) *Runner {
	completer := &scriptedCompleter{synthesisProb: synthesisProb, baselineProb: baselineProb}
	o := forecast.New(completer, &memSessionStore{}, &memAgentLogStore{}, &memFactorStore{}, &memResponseStore{})
	return NewRunner(o, &memSessionStore{}, completer)
}

func sampleQuestion() Question {
	return Question{
		ID:                    "q1",
		QuestionText:          "Will the Fed cut rates in Q1?",
		QuestionType:          "binary",
		GroundTruth:           1.0,
		GroundTruthPercentage: 100,
	}
}

func TestRunQuestionScoresOrchestratedAndBaseline(t *testing.T) {
	r := newTestRunner(0.9, 0.4)
	cfg := Config{
		Persona:     "balanced",
		AgentCounts: &forecast.PhaseAgentCounts{Discovery: 1, ResearchHistoric: 1, ResearchCurrent: 1},
		RunBaseline: true,
	}

	res := r.RunQuestion(context.Background(), sampleQuestion(), cfg)

	if res.Orchestrated == nil || res.Orchestrated.Status != "completed" {
		t.Fatalf("expected orchestrated result completed, got %+v", res.Orchestrated)
	}
	if res.Orchestrated.PredictedProb != 0.9 {
		t.Errorf("expected orchestrated prob 0.9, got %v", res.Orchestrated.PredictedProb)
	}
	wantBrier := (0.9 - 1.0) * (0.9 - 1.0)
	if res.Orchestrated.BrierScore != wantBrier {
		t.Errorf("expected brier %v, got %v", wantBrier, res.Orchestrated.BrierScore)
	}
	if !res.Orchestrated.DirectionCorrect {
		t.Error("expected orchestrated direction correct")
	}

	if res.Baseline == nil || res.Baseline.Status != "completed" {
		t.Fatalf("expected baseline result completed, got %+v", res.Baseline)
	}
	if res.Baseline.PredictedProb != 0.4 {
		t.Errorf("expected baseline prob 0.4, got %v", res.Baseline.PredictedProb)
	}
	if res.Baseline.DirectionCorrect {
		t.Error("expected baseline direction incorrect (0.4 < 0.5, ground truth Yes)")
	}
}

func TestRunQuestionSkipsBaselineWhenDisabled(t *testing.T) {
	r := newTestRunner(0.8, 0.2)
	res := r.RunQuestion(context.Background(), sampleQuestion(), Config{Persona: "balanced", RunBaseline: false})
	if res.Baseline != nil {
		t.Errorf("expected no baseline result, got %+v", res.Baseline)
	}
}

func TestRunAllPreservesOrderUnderConcurrencyLimit(t *testing.T) {
	r := newTestRunner(0.7, 0.3)
	set := Set{
		Name: "mini",
		Questions: []Question{
			{ID: "a", QuestionText: "Q-A", GroundTruth: 1},
			{ID: "b", QuestionText: "Q-B", GroundTruth: 0},
			{ID: "c", QuestionText: "Q-C", GroundTruth: 1},
		},
	}
	results := r.RunAll(context.Background(), set, Config{Persona: "balanced", MaxConcurrent: 1})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, id := range []string{"a", "b", "c"} {
		if results[i].QuestionID != id {
			t.Errorf("result %d: expected question id %q, got %q", i, id, results[i].QuestionID)
		}
	}
}

func TestSummarizeComputesAggregatesAndComparison(t *testing.T) {
	results := []*QuestionResult{
		{Orchestrated: &MethodResult{Status: "completed", BrierScore: 0.01, CalibrationError: 0.1, DirectionCorrect: true, DurationSeconds: 2, TotalTokens: 100},
			Baseline: &MethodResult{Status: "completed", BrierScore: 0.25, CalibrationError: 0.5, DirectionCorrect: false, DurationSeconds: 1, TotalTokens: 50}},
		{Orchestrated: &MethodResult{Status: "completed", BrierScore: 0.04, CalibrationError: 0.2, DirectionCorrect: true, DurationSeconds: 3, TotalTokens: 150},
			Baseline: &MethodResult{Status: "completed", BrierScore: 0.16, CalibrationError: 0.4, DirectionCorrect: true, DurationSeconds: 1, TotalTokens: 50}},
		{Orchestrated: &MethodResult{Status: "failed"}},
	}

	summary := Summarize(results)

	if summary.TotalQuestions != 3 {
		t.Errorf("expected 3 total questions, got %d", summary.TotalQuestions)
	}
	if summary.FailedForecasts != 1 {
		t.Errorf("expected 1 failed forecast, got %d", summary.FailedForecasts)
	}
	if summary.Orchestrated.SuccessfulForecasts != 2 {
		t.Errorf("expected 2 successful orchestrated forecasts, got %d", summary.Orchestrated.SuccessfulForecasts)
	}
	if summary.Orchestrated.DirectionAccuracy != 1.0 {
		t.Errorf("expected orchestrated direction accuracy 1.0, got %v", summary.Orchestrated.DirectionAccuracy)
	}
	if summary.Comparison == nil {
		t.Fatal("expected comparison when both methods have data")
	}
	if summary.Comparison.BrierScoreImprovement <= 0 {
		t.Errorf("expected orchestrated to improve on baseline brier score, got %v", summary.Comparison.BrierScoreImprovement)
	}
}

func TestSummarizeReportsNoDataWhenAllFailed(t *testing.T) {
	results := []*QuestionResult{{Orchestrated: &MethodResult{Status: "failed"}}}
	summary := Summarize(results)
	if summary.Orchestrated.Status != "no_data" {
		t.Errorf("expected no_data status, got %q", summary.Orchestrated.Status)
	}
	if summary.Comparison != nil {
		t.Error("expected no comparison when orchestrated has no data")
	}
}
