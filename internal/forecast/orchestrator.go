package forecast

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/phenomenon0/forecastmarket/internal/agentrt"
	"github.com/phenomenon0/forecastmarket/internal/domain"
	"github.com/phenomenon0/forecastmarket/internal/logging"
)

// SessionStore is the subset of session persistence the orchestrator needs.
type SessionStore interface {
	UpdateStatus(ctx context.Context, sessionID string, status, phase string) error
	MarkCompleted(ctx context.Context, sessionID string, predictionProbability, confidence *float64, totalDurationSeconds float64) error
}

// AgentLogStore records one agent execution per call.
type AgentLogStore interface {
	Create(ctx context.Context, log *domain.AgentLog) (string, error)
	Update(ctx context.Context, logID string, status domain.AgentLogStatus, output any, tokenCount int, errMsg string) error
}

// FactorStore persists discovered/validated/rated factors.
type FactorStore interface {
	Create(ctx context.Context, f *domain.Factor) error
	SessionFactors(ctx context.Context, sessionID string, orderByImportance bool) ([]*domain.Factor, error)
	SetImportance(ctx context.Context, factorID string, score float64) error
	SetResearchSummary(ctx context.Context, factorID, summary string) error
}

// ResponseStore persists the final (session, persona) forecast outcome.
type ResponseStore interface {
	Create(ctx context.Context, sessionID, persona string) (string, error)
	Complete(ctx context.Context, responseID string, result SynthesisResult, durations map[string]float64, totalSeconds float64) error
	Fail(ctx context.Context, responseID string, errMsg string) error
}

// Config configures one orchestrator run.
type Config struct {
	SessionID    string
	QuestionText string
	Persona      string
	// AgentCounts overrides Persona's defaults when non-zero fields are set.
	AgentCounts *PhaseAgentCounts
}

// Orchestrator runs the four-phase pipeline against one session. Grounded
// on original_source/backend/app/agents/orchestrator.go's AgentOrchestrator
// and its Stage/WorkflowConfig shape.
type Orchestrator struct {
	client    agentrt.Completer
	sessions  SessionStore
	agentLogs AgentLogStore
	factors   FactorStore
	responses ResponseStore
	log       *logging.Logger
}

// New builds an Orchestrator wired to its repositories and LLM client.
func New(client agentrt.Completer, sessions SessionStore, agentLogs AgentLogStore, factors FactorStore, responses ResponseStore) *Orchestrator {
	return &Orchestrator{
		client:    client,
		sessions:  sessions,
		agentLogs: agentLogs,
		factors:   factors,
		responses: responses,
		log:       logging.New("forecast"),
	}
}

// SynthesisResult is the final output of phase 4.
type SynthesisResult struct {
	Prediction            string
	PredictionProbability float64
	Confidence            float64
	Reasoning             string
	KeyFactors            []string
}

// phaseCounts resolves the effective per-phase agent counts for a run.
func (cfg Config) phaseCounts() PhaseAgentCounts {
	persona := ResolvePersona(cfg.Persona)
	counts := persona.AgentCounts
	if cfg.AgentCounts != nil {
		if cfg.AgentCounts.Discovery > 0 {
			counts.Discovery = cfg.AgentCounts.Discovery
		}
		if cfg.AgentCounts.Validation > 0 {
			counts.Validation = cfg.AgentCounts.Validation
		}
		if cfg.AgentCounts.ResearchHistoric > 0 {
			counts.ResearchHistoric = cfg.AgentCounts.ResearchHistoric
		}
		if cfg.AgentCounts.ResearchCurrent > 0 {
			counts.ResearchCurrent = cfg.AgentCounts.ResearchCurrent
		}
		if cfg.AgentCounts.Synthesis > 0 {
			counts.Synthesis = cfg.AgentCounts.Synthesis
		}
	}
	return counts
}

// Run executes the complete workflow for cfg: discovery -> validation ->
// research -> synthesis, fail-stop across phases (a phase failure aborts
// the run) but tolerant within a phase (individual agent failures are
// logged and skipped, not fatal, except validation and synthesis which run
// a single agent each with no peer to fall back on). Persists phase
// progress through the wired repositories as it goes.
func (o *Orchestrator) Run(ctx context.Context, cfg Config) (*SynthesisResult, error) {
	counts := cfg.phaseCounts()
	workflowStart := time.Now()

	responseID, err := o.responses.Create(ctx, cfg.SessionID, cfg.Persona)
	if err != nil {
		return nil, fmt.Errorf("create forecaster response: %w", err)
	}

	fail := func(stage string, err error) (*SynthesisResult, error) {
		o.log.Errorf("session %s failed at %s: %v", cfg.SessionID, stage, err)
		_ = o.responses.Fail(ctx, responseID, err.Error())
		_ = o.sessions.UpdateStatus(ctx, cfg.SessionID, "failed", stage)
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	if err := o.sessions.UpdateStatus(ctx, cfg.SessionID, "running", string(domain.PhaseFactorDiscovery)); err != nil {
		return fail("update_status", err)
	}

	phase1Start := time.Now()
	if err := o.runDiscovery(ctx, cfg, counts.Discovery); err != nil {
		return fail("factor_discovery", err)
	}
	phase1Duration := time.Since(phase1Start).Seconds()

	if err := o.sessions.UpdateStatus(ctx, cfg.SessionID, "running", string(domain.PhaseValidation)); err != nil {
		return fail("update_status", err)
	}
	phase2Start := time.Now()
	if err := o.runValidation(ctx, cfg); err != nil {
		return fail("validation", err)
	}
	phase2Duration := time.Since(phase2Start).Seconds()

	if err := o.sessions.UpdateStatus(ctx, cfg.SessionID, "running", string(domain.PhaseResearch)); err != nil {
		return fail("update_status", err)
	}
	phase3Start := time.Now()
	if err := o.runResearch(ctx, cfg, counts.ResearchHistoric, counts.ResearchCurrent); err != nil {
		return fail("research", err)
	}
	phase3Duration := time.Since(phase3Start).Seconds()

	if err := o.sessions.UpdateStatus(ctx, cfg.SessionID, "running", string(domain.PhaseSynthesis)); err != nil {
		return fail("update_status", err)
	}
	phase4Start := time.Now()
	result, err := o.runSynthesis(ctx, cfg)
	if err != nil {
		return fail("synthesis", err)
	}
	phase4Duration := time.Since(phase4Start).Seconds()

	totalSeconds := time.Since(workflowStart).Seconds()
	durations := map[string]float64{
		"phase_1_discovery": phase1Duration,
		"phase_2_validation": phase2Duration,
		"phase_3_research":   phase3Duration,
		"phase_4_synthesis":  phase4Duration,
	}

	if err := o.responses.Complete(ctx, responseID, *result, durations, totalSeconds); err != nil {
		return fail("persist_completion", err)
	}
	probPtr := result.PredictionProbability
	confPtr := result.Confidence
	if err := o.sessions.MarkCompleted(ctx, cfg.SessionID, &probPtr, &confPtr, totalSeconds); err != nil {
		return fail("mark_completed", err)
	}

	return result, nil
}

// runDiscovery fans out n discovery agents in parallel; tolerant of
// individual agent failures (skip and continue), fail-stop only if every
// agent in the phase fails.
func (o *Orchestrator) runDiscovery(ctx context.Context, cfg Config, n int) error {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(agentNum int) {
			defer wg.Done()
			agentName := fmt.Sprintf("discovery_%d", agentNum)
			logID, _ := o.agentLogs.Create(ctx, &domain.AgentLog{
				SessionID: cfg.SessionID,
				AgentName: agentName,
				Phase:     domain.PhaseFactorDiscovery,
				Status:    domain.AgentRunning,
				StartedAt: time.Now(),
			})

			spec := agentrt.Spec{
				AgentName:      agentName,
				Phase:          domain.PhaseFactorDiscovery,
				SystemPrompt:   DiscoveryPrompt,
				Schema:         discoverySchema,
				MaxRetries:     3,
				TimeoutSeconds: 120,
				BuildMessage: func(ctx context.Context, input any) (string, error) {
					return fmt.Sprintf("Forecasting Question: %s\n\nIdentify 3-5 diverse, relevant factors that influence this outcome.", cfg.QuestionText), nil
				},
				Fallback: func(lastErr error) map[string]any {
					return map[string]any{"factors": []any{}}
				},
			}

			res := agentrt.Execute(ctx, o.client, spec, nil)
			if res.Status != agentrt.StateCompleted {
				_ = o.agentLogs.Update(ctx, logID, domain.AgentFailed, nil, 0, res.Err.Error())
				o.log.Warnf("discovery agent %d failed: %v", agentNum, res.Err)
				return
			}
			_ = o.agentLogs.Update(ctx, logID, domain.AgentCompleted, res.Payload, res.Usage.TotalTokens, "")

			factorsRaw, _ := res.Payload["factors"].([]any)
			for _, fr := range factorsRaw {
				fm, ok := fr.(map[string]any)
				if !ok {
					continue
				}
				f := &domain.Factor{
					SessionID:   cfg.SessionID,
					Name:        stringField(fm, "name"),
					Description: stringField(fm, "description"),
					Category:    stringField(fm, "category"),
				}
				if f.Name == "" {
					continue
				}
				if err := o.factors.Create(ctx, f); err != nil {
					o.log.Warnf("persist factor %q: %v", f.Name, err)
				}
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if succeeded == 0 {
		return fmt.Errorf("all %d discovery agents failed", n)
	}
	return nil
}

// runValidation runs the validator then rating-consensus agent
// sequentially, normalizing the validator's output per the tolerant
// key-skip rule below.
func (o *Orchestrator) runValidation(ctx context.Context, cfg Config) error {
	factors, err := o.factors.SessionFactors(ctx, cfg.SessionID, false)
	if err != nil {
		return fmt.Errorf("load factors: %w", err)
	}
	if len(factors) == 0 {
		return fmt.Errorf("no factors found for validation phase")
	}

	logID, _ := o.agentLogs.Create(ctx, &domain.AgentLog{
		SessionID: cfg.SessionID,
		AgentName: "validator",
		Phase:     domain.PhaseValidation,
		Status:    domain.AgentRunning,
		StartedAt: time.Now(),
	})

	spec := agentrt.Spec{
		AgentName:      "validator",
		Phase:          domain.PhaseValidation,
		SystemPrompt:   ValidatorPrompt,
		Schema:         validationSchema,
		MaxRetries:     3,
		TimeoutSeconds: 120,
		BuildMessage: func(ctx context.Context, input any) (string, error) {
			return buildValidatorMessage(cfg.QuestionText, factors), nil
		},
	}
	res := agentrt.Execute(ctx, o.client, spec, nil)
	if res.Status != agentrt.StateCompleted {
		_ = o.agentLogs.Update(ctx, logID, domain.AgentFailed, nil, 0, res.Err.Error())
		return fmt.Errorf("validator: %w", res.Err)
	}
	_ = o.agentLogs.Update(ctx, logID, domain.AgentCompleted, res.Payload, res.Usage.TotalTokens, "")

	rawValidated, _ := res.Payload["validated_factors"].([]any)
	normalized := normalizeValidatedFactors(rawValidated)

	ratingLogID, _ := o.agentLogs.Create(ctx, &domain.AgentLog{
		SessionID: cfg.SessionID,
		AgentName: "rating_consensus",
		Phase:     domain.PhaseValidation,
		Status:    domain.AgentRunning,
		StartedAt: time.Now(),
	})
	ratingSpec := agentrt.Spec{
		AgentName:      "rating_consensus",
		Phase:          domain.PhaseValidation,
		SystemPrompt:   RatingConsensusPrompt,
		Schema:         ratingConsensusSchema,
		MaxRetries:     3,
		TimeoutSeconds: 120,
		BuildMessage: func(ctx context.Context, input any) (string, error) {
			return buildRatingConsensusMessage(cfg.QuestionText, normalized), nil
		},
	}
	ratingRes := agentrt.Execute(ctx, o.client, ratingSpec, nil)
	if ratingRes.Status != agentrt.StateCompleted {
		_ = o.agentLogs.Update(ctx, ratingLogID, domain.AgentFailed, nil, 0, ratingRes.Err.Error())
		return fmt.Errorf("rating_consensus: %w", ratingRes.Err)
	}
	_ = o.agentLogs.Update(ctx, ratingLogID, domain.AgentCompleted, ratingRes.Payload, ratingRes.Usage.TotalTokens, "")

	ratedFactors, _ := ratingRes.Payload["rated_factors"].([]any)
	for _, rf := range ratedFactors {
		rm, ok := rf.(map[string]any)
		if !ok {
			continue
		}
		name := stringField(rm, "name")
		score, ok := rm["importance_score"].(float64)
		if !ok || name == "" {
			continue
		}
		for _, f := range factors {
			if strings.EqualFold(f.Name, name) {
				_ = o.factors.SetImportance(ctx, f.ID, score)
				break
			}
		}
	}

	return nil
}

// runResearch assigns the top factors to historical + current-data
// research agents via modulo distribution, same as the Python source.
func (o *Orchestrator) runResearch(ctx context.Context, cfg Config, historicN, currentN int) error {
	factors, err := o.factors.SessionFactors(ctx, cfg.SessionID, true)
	if err != nil {
		return fmt.Errorf("load factors: %w", err)
	}
	if len(factors) == 0 {
		return fmt.Errorf("no factors found for research phase")
	}
	topN := 5
	if len(factors) < topN {
		topN = len(factors)
	}
	topFactors := factors[:topN]

	if historicN <= 0 && currentN <= 0 {
		historicN, currentN = 5, 5
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	total := historicN + currentN

	run := func(agentIdx int, kind string, prompt string, schema map[string]any) {
		defer wg.Done()
		factor := topFactors[agentIdx%len(topFactors)]
		agentName := fmt.Sprintf("%s_%d", kind, agentIdx+1)
		logID, _ := o.agentLogs.Create(ctx, &domain.AgentLog{
			SessionID: cfg.SessionID,
			AgentName: agentName,
			Phase:     domain.PhaseResearch,
			Status:    domain.AgentRunning,
			StartedAt: time.Now(),
		})

		spec := agentrt.Spec{
			AgentName:      agentName,
			Phase:          domain.PhaseResearch,
			SystemPrompt:   prompt,
			Schema:         schema,
			MaxRetries:     3,
			TimeoutSeconds: 180,
			BuildMessage: func(ctx context.Context, input any) (string, error) {
				return fmt.Sprintf("Forecasting Question: %s\n\nFactor: %s\n%s", cfg.QuestionText, factor.Name, factor.Description), nil
			},
		}
		res := agentrt.Execute(ctx, o.client, spec, nil)
		if res.Status != agentrt.StateCompleted {
			_ = o.agentLogs.Update(ctx, logID, domain.AgentFailed, nil, 0, res.Err.Error())
			o.log.Warnf("research agent %s failed: %v", agentName, res.Err)
			return
		}
		_ = o.agentLogs.Update(ctx, logID, domain.AgentCompleted, res.Payload, res.Usage.TotalTokens, "")

		summary := ""
		if kind == "historical" {
			summary = stringField(res.Payload, "historical_analysis")
		} else {
			summary = stringField(res.Payload, "current_findings")
		}
		if summary != "" {
			_ = o.factors.SetResearchSummary(ctx, factor.ID, summary)
		}
		mu.Lock()
		succeeded++
		mu.Unlock()
	}

	for i := 0; i < historicN; i++ {
		wg.Add(1)
		go run(i, "historical", HistoricalResearchPrompt, historicalResearchSchema)
	}
	for i := 0; i < currentN; i++ {
		wg.Add(1)
		go run(i, "current", CurrentDataResearchPrompt, currentDataResearchSchema)
	}
	wg.Wait()

	if succeeded == 0 && total > 0 {
		return fmt.Errorf("all %d research agents failed", total)
	}
	return nil
}

// runSynthesis runs the single synthesis agent, using a best-effort binary
// option pair extracted from the question text, or Yes/No when the question
// does not name one.
func (o *Orchestrator) runSynthesis(ctx context.Context, cfg Config) (*SynthesisResult, error) {
	factors, err := o.factors.SessionFactors(ctx, cfg.SessionID, true)
	if err != nil {
		return nil, fmt.Errorf("load factors: %w", err)
	}
	if len(factors) == 0 {
		return nil, fmt.Errorf("no factors found for synthesis")
	}

	logID, _ := o.agentLogs.Create(ctx, &domain.AgentLog{
		SessionID: cfg.SessionID,
		AgentName: "synthesizer",
		Phase:     domain.PhaseSynthesis,
		Status:    domain.AgentRunning,
		StartedAt: time.Now(),
	})

	yes, no := extractBinaryOptions(cfg.QuestionText)

	spec := agentrt.Spec{
		AgentName:      "synthesizer",
		Phase:          domain.PhaseSynthesis,
		SystemPrompt:   SynthesisPrompt,
		Schema:         synthesisSchema,
		MaxRetries:     3,
		TimeoutSeconds: 180,
		BuildMessage: func(ctx context.Context, input any) (string, error) {
			return buildSynthesisMessage(cfg.QuestionText, yes, no, factors), nil
		},
		Fallback: func(lastErr error) map[string]any {
			return map[string]any{
				"prediction":             no,
				"prediction_probability": 0.5,
				"confidence":             0.1,
				"reasoning":              "synthesis failed after retries; defaulting to uncertain",
				"key_factors":            []any{},
			}
		},
	}
	res := agentrt.Execute(ctx, o.client, spec, nil)
	if res.Status != agentrt.StateCompleted {
		_ = o.agentLogs.Update(ctx, logID, domain.AgentFailed, nil, 0, res.Err.Error())
		return nil, fmt.Errorf("synthesizer: %w", res.Err)
	}
	_ = o.agentLogs.Update(ctx, logID, domain.AgentCompleted, res.Payload, res.Usage.TotalTokens, "")

	result := &SynthesisResult{
		Prediction:            stringField(res.Payload, "prediction"),
		PredictionProbability: floatField(res.Payload, "prediction_probability"),
		Confidence:            floatField(res.Payload, "confidence"),
		Reasoning:             stringField(res.Payload, "reasoning"),
	}
	if kf, ok := res.Payload["key_factors"].([]any); ok {
		for _, v := range kf {
			if s, ok := v.(string); ok {
				result.KeyFactors = append(result.KeyFactors, s)
			}
		}
	}
	return result, nil
}

// normalizeValidatedFactors reconciles the two shapes the validator may
// emit, preserving the exact key-skip behavior of the Python source: a
// factor dict already containing both "name" and "description" passes
// through untouched; otherwise every key is treated as a candidate factor
// name UNLESS it case-insensitively equals "name", "description", or
// "category", in which case it is skipped rather than emitted as a
// single-key factor.
func normalizeValidatedFactors(raw []any) []*domain.Factor {
	var out []*domain.Factor
	for _, item := range raw {
		fm, ok := item.(map[string]any)
		if !ok {
			continue
		}
		_, hasName := fm["name"]
		_, hasDesc := fm["description"]
		if hasName && hasDesc {
			out = append(out, &domain.Factor{
				Name:        stringField(fm, "name"),
				Description: stringField(fm, "description"),
				Category:    stringField(fm, "category"),
			})
			continue
		}
		for key, value := range fm {
			if isStandardFactorKey(key) {
				continue
			}
			out = append(out, &domain.Factor{
				Name:        key,
				Description: fmt.Sprintf("%v", value),
				Category:    stringField(fm, "category"),
			})
		}
	}
	return out
}

func isStandardFactorKey(key string) bool {
	switch strings.ToLower(key) {
	case "name", "description", "category":
		return true
	default:
		return false
	}
}

// extractBinaryOptions does a best-effort extraction of the binary option
// pair from a question's text, falling back to literal Yes/No when the
// question doesn't spell out an explicit "X or Y" contrast. Ported from
// synthesis.py's build_user_message: split on " or ", take the last word
// before it and the remainder after it, and only trust the split if both
// sides are short, non-empty words.
func extractBinaryOptions(question string) (yes, no string) {
	lower := strings.ToLower(strings.TrimSpace(question))
	if !strings.Contains(lower, " or ") {
		return "Yes", "No"
	}
	parts := strings.Split(lower, " or ")
	if len(parts) != 2 {
		return "Yes", "No"
	}
	fields := strings.Fields(parts[0])
	if len(fields) == 0 {
		return "Yes", "No"
	}
	opt1 := strings.Trim(fields[len(fields)-1], "?")
	opt2 := strings.Trim(parts[1], "?")
	if opt1 == "" || opt2 == "" || len(opt1) >= 50 || len(opt2) >= 50 {
		return "Yes", "No"
	}
	return capitalizeFirst(opt1), capitalizeFirst(opt2)
}

// capitalizeFirst upper-cases the first rune and lower-cases the rest,
// matching Python's str.capitalize().
func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + strings.ToLower(string(r[1:]))
}

func buildValidatorMessage(question string, factors []*domain.Factor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Forecasting Question: %s\n\nDiscovered Factors (%d total):\n", question, len(factors))
	for _, f := range factors {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", f.Name, f.Description, orUnknown(f.Category))
	}
	b.WriteString("\nReview these factors, deduplicate similar ones, and validate their relevance.\nReturn a clean list of unique, validated factors.")
	return b.String()
}

func buildRatingConsensusMessage(question string, factors []*domain.Factor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Forecasting Question: %s\n\nValidated Factors (%d total):\n", question, len(factors))
	for _, f := range factors {
		fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Description)
	}
	b.WriteString("\nScore each factor 1-10, then select the top 5 for deep research.")
	return b.String()
}

func buildSynthesisMessage(question, yes, no string, factors []*domain.Factor) string {
	sorted := make([]*domain.Factor, len(factors))
	copy(sorted, factors)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := 0.0, 0.0
		if sorted[i].ImportanceScore != nil {
			si = *sorted[i].ImportanceScore
		}
		if sorted[j].ImportanceScore != nil {
			sj = *sorted[j].ImportanceScore
		}
		return si > sj
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Forecasting Question: %s\nBinary options: %q vs %q\n\nResearched Factors:\n", question, yes, no)
	for _, f := range sorted {
		fmt.Fprintf(&b, "- %s (importance: %s): %s\n", f.Name, importanceString(f.ImportanceScore), f.ResearchSummary)
	}
	return b.String()
}

func importanceString(score *float64) string {
	if score == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.0f", *score)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func floatField(m map[string]any, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}
