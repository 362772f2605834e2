package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/phenomenon0/forecastmarket/internal/domain"
	"github.com/phenomenon0/forecastmarket/internal/llmclient"
)

type memSessionStore struct {
	mu       sync.Mutex
	statuses []string
	completed bool
}

func (m *memSessionStore) UpdateStatus(ctx context.Context, sessionID, status, phase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status+":"+phase)
	return nil
}

func (m *memSessionStore) MarkCompleted(ctx context.Context, sessionID string, prob, conf *float64, total float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = true
	return nil
}

type memAgentLogStore struct {
	mu   sync.Mutex
	logs map[string]*domain.AgentLog
	next int
}

func newMemAgentLogStore() *memAgentLogStore {
	return &memAgentLogStore{logs: make(map[string]*domain.AgentLog)}
}

func (m *memAgentLogStore) Create(ctx context.Context, log *domain.AgentLog) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := fmt.Sprintf("log-%d", m.next)
	m.logs[id] = log
	return id, nil
}

func (m *memAgentLogStore) Update(ctx context.Context, logID string, status domain.AgentLogStatus, output any, tokens int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.logs[logID]; ok {
		l.Status = status
		l.ErrorMessage = errMsg
	}
	return nil
}

type memFactorStore struct {
	mu      sync.Mutex
	factors []*domain.Factor
	next    int
}

func newMemFactorStore() *memFactorStore { return &memFactorStore{} }

func (m *memFactorStore) Create(ctx context.Context, f *domain.Factor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	f.ID = fmt.Sprintf("factor-%d", m.next)
	f.SessionID = "s1"
	m.factors = append(m.factors, f)
	return nil
}

func (m *memFactorStore) SessionFactors(ctx context.Context, sessionID string, orderByImportance bool) ([]*domain.Factor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Factor, len(m.factors))
	copy(out, m.factors)
	return out, nil
}

func (m *memFactorStore) SetImportance(ctx context.Context, factorID string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.factors {
		if f.ID == factorID {
			f.ImportanceScore = &score
		}
	}
	return nil
}

func (m *memFactorStore) SetResearchSummary(ctx context.Context, factorID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.factors {
		if f.ID == factorID {
			f.ResearchSummary = summary
		}
	}
	return nil
}

type memResponseStore struct {
	mu       sync.Mutex
	created  bool
	result   *SynthesisResult
	failed   bool
}

func (m *memResponseStore) Create(ctx context.Context, sessionID, persona string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = true
	return "resp-1", nil
}

func (m *memResponseStore) Complete(ctx context.Context, responseID string, result SynthesisResult, durations map[string]float64, total float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := result
	m.result = &r
	return nil
}

func (m *memResponseStore) Fail(ctx context.Context, responseID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = true
	return nil
}

// scriptedCompleter replies based on which phase/agent the system prompt
// identifies, so one fake client can drive all four phases.
type scriptedCompleter struct{}

func (s *scriptedCompleter) Complete(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResult, error) {
	switch {
	case strings.Contains(req.System, "factor discovery specialist"):
		return jsonResult(`{"factors":[{"name":"Fed rate path","description":"Rate decisions shape liquidity.","category":"Economic"}]}`)
	case strings.Contains(req.System, "factor validation specialist"):
		return jsonResult(`{"validated_factors":[{"name":"Fed rate path","description":"Rate decisions shape liquidity.","category":"Economic"}]}`)
	case strings.Contains(req.System, "factor evaluator and selector"):
		return jsonResult(`{"rated_factors":[{"name":"Fed rate path","importance_score":8}],"top_factors":[{"name":"Fed rate path","importance_score":8}]}`)
	case strings.Contains(req.System, "historical pattern analyst"):
		return jsonResult(`{"factor_name":"Fed rate path","historical_analysis":"Past hikes slowed growth.","sources":["a"],"confidence":0.7}`)
	case strings.Contains(req.System, "current data researcher"):
		return jsonResult(`{"factor_name":"Fed rate path","current_findings":"Markets price one more hike.","sources":["b"],"confidence":0.6}`)
	case strings.Contains(req.System, "forecasting model optimized"):
		return jsonResult(`{"prediction":"Yes","prediction_probability":0.62,"confidence":0.7,"reasoning":"Evidence leans yes.","key_factors":["Fed rate path"]}`)
	}
	return nil, fmt.Errorf("unexpected prompt: %s", req.System)
}

func jsonResult(content string) (*llmclient.CompletionResult, error) {
	var v map[string]any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, err
	}
	return &llmclient.CompletionResult{Content: content}, nil
}

func TestOrchestratorRunEndToEnd(t *testing.T) {
	sessions := &memSessionStore{}
	agentLogs := newMemAgentLogStore()
	factors := newMemFactorStore()
	responses := &memResponseStore{}

	o := New(&scriptedCompleter{}, sessions, agentLogs, factors, responses)

	result, err := o.Run(context.Background(), Config{
		SessionID:    "s1",
		QuestionText: "Will the Fed cut rates in Q1?",
		Persona:      "balanced",
		AgentCounts:  &PhaseAgentCounts{Discovery: 2, ResearchHistoric: 1, ResearchCurrent: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Prediction != "Yes" {
		t.Errorf("expected prediction Yes, got %q", result.Prediction)
	}
	if result.PredictionProbability != 0.62 {
		t.Errorf("expected probability 0.62, got %v", result.PredictionProbability)
	}
	if !sessions.completed {
		t.Error("expected session marked completed")
	}
	if !responses.created || responses.result == nil {
		t.Error("expected forecaster response created and completed")
	}
	if len(factors.factors) == 0 {
		t.Error("expected factors persisted from discovery")
	}
	if factors.factors[0].ResearchSummary == "" {
		t.Error("expected research summary attached to top factor")
	}
}

func TestNormalizeValidatedFactorsSkipsStandardKeys(t *testing.T) {
	raw := []any{
		map[string]any{"name": "Already good", "description": "fine", "category": "Other"},
		map[string]any{"Factor Name": "some description", "category": "Economic"},
	}
	out := normalizeValidatedFactors(raw)
	if len(out) != 2 {
		t.Fatalf("expected 2 normalized factors, got %d: %+v", len(out), out)
	}
	if out[0].Name != "Already good" {
		t.Errorf("expected first factor untouched, got %q", out[0].Name)
	}
	if out[1].Name != "Factor Name" {
		t.Errorf("expected second factor's key promoted to name, got %q", out[1].Name)
	}
}

func TestResolvePersonaFallsBackToBalanced(t *testing.T) {
	p := ResolvePersona("does-not-exist")
	if p.ID != "balanced" {
		t.Errorf("expected fallback to balanced, got %q", p.ID)
	}
}

// failSomeCompleter forces every odd-numbered discovery call to fail schema
// validation (triggering the agent's fallback) while even-numbered calls
// return a real factor, regardless of which goroutine draws which ticket.
type failSomeCompleter struct {
	mu     sync.Mutex
	ticket int
}

func (f *failSomeCompleter) Complete(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResult, error) {
	if strings.Contains(req.System, "factor discovery specialist") {
		f.mu.Lock()
		f.ticket++
		n := f.ticket
		f.mu.Unlock()
		if n%2 == 1 {
			return &llmclient.CompletionResult{Content: "not valid json"}, nil
		}
		return jsonResult(`{"factors":[{"name":"Fed rate path","description":"Rate decisions shape liquidity.","category":"Economic"}]}`)
	}
	return (&scriptedCompleter{}).Complete(ctx, req)
}

func TestRunDiscoveryToleratesPartialSchemaFailures(t *testing.T) {
	factors := newMemFactorStore()
	agentLogs := newMemAgentLogStore()
	o := New(&failSomeCompleter{}, &memSessionStore{}, agentLogs, factors, &memResponseStore{})

	cfg := Config{SessionID: "s1", QuestionText: "Will the Fed cut rates in Q1?", Persona: "balanced"}
	if err := o.runDiscovery(context.Background(), cfg, 3); err != nil {
		t.Fatalf("expected discovery to tolerate partial failures, got: %v", err)
	}
	if len(agentLogs.logs) != 3 {
		t.Fatalf("expected all 3 discovery agents logged, got %d", len(agentLogs.logs))
	}
	if len(factors.factors) != 1 {
		t.Fatalf("expected exactly 1 factor from the agent that returned valid output, got %d", len(factors.factors))
	}
}

// factorStoreHidingOnOrder returns its wrapped factors for the
// validation-phase lookup (orderByImportance=false) but reports none for
// the research-phase lookup (orderByImportance=true), simulating factors
// that never picked up an importance score.
type factorStoreHidingOnOrder struct {
	*memFactorStore
}

func (f *factorStoreHidingOnOrder) SessionFactors(ctx context.Context, sessionID string, orderByImportance bool) ([]*domain.Factor, error) {
	if orderByImportance {
		return nil, nil
	}
	return f.memFactorStore.SessionFactors(ctx, sessionID, orderByImportance)
}

func TestOrchestratorRunMarksSessionFailedWhenResearchHasNoFactors(t *testing.T) {
	sessions := &memSessionStore{}
	agentLogs := newMemAgentLogStore()
	factors := &factorStoreHidingOnOrder{memFactorStore: newMemFactorStore()}
	responses := &memResponseStore{}

	o := New(&scriptedCompleter{}, sessions, agentLogs, factors, responses)

	_, err := o.Run(context.Background(), Config{
		SessionID:    "s1",
		QuestionText: "Will the Fed cut rates in Q1?",
		Persona:      "balanced",
		AgentCounts:  &PhaseAgentCounts{Discovery: 1, ResearchHistoric: 1, ResearchCurrent: 1},
	})
	if err == nil {
		t.Fatal("expected research phase to fail fatally when no factors carry forward")
	}
	if !responses.failed {
		t.Error("expected forecaster response marked failed")
	}
	failed := false
	for _, s := range sessions.statuses {
		if strings.HasPrefix(s, "failed:") {
			failed = true
		}
	}
	if !failed {
		t.Errorf("expected session status updated to failed, got %v", sessions.statuses)
	}
}

func TestExtractBinaryOptions(t *testing.T) {
	cases := []struct {
		name     string
		question string
		wantYes  string
		wantNo   string
	}{
		{
			name:     "explicit contrast",
			question: "Will the Fed hike or cut rates in Q1?",
			wantYes:  "Hike",
			wantNo:   "Cut rates in q1",
		},
		{
			name:     "no contrast falls back",
			question: "Will the S&P 500 close above 5000 by year-end?",
			wantYes:  "Yes",
			wantNo:   "No",
		},
		{
			name:     "overlong side falls back",
			question: "Will Team A win or will something very long happen that exceeds the fifty character limit for the other side?",
			wantYes:  "Yes",
			wantNo:   "No",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			yes, no := extractBinaryOptions(c.question)
			if yes != c.wantYes || no != c.wantNo {
				t.Errorf("extractBinaryOptions(%q) = (%q, %q), want (%q, %q)", c.question, yes, no, c.wantYes, c.wantNo)
			}
		})
	}
}
