// Package eval runs the forecast orchestrator against a labeled question
// set and scores the results, optionally side-by-side with a one-shot
// baseline that skips orchestration entirely. Grounded on
// _examples/original_source/backend/eval/run_eval.go's evaluate_question /
// evaluate_all / calculate_summary_stats.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/phenomenon0/forecastmarket/internal/agentrt"
	"github.com/phenomenon0/forecastmarket/internal/domain"
	"github.com/phenomenon0/forecastmarket/internal/forecast"
	"github.com/phenomenon0/forecastmarket/internal/llmclient"
	"github.com/phenomenon0/forecastmarket/internal/logging"
)

// Question is one labeled entry in an evaluation set.
type Question struct {
	ID                    string  `json:"id"`
	QuestionText          string  `json:"question_text"`
	QuestionType          string  `json:"question_type"`
	Category              string  `json:"category"`
	GroundTruth           float64 `json:"ground_truth"`
	GroundTruthPercentage float64 `json:"ground_truth_percentage"`
}

// Set is a named, labeled evaluation question set loaded from JSON.
type Set struct {
	Name      string         `json:"name"`
	Metadata  map[string]any `json:"metadata"`
	Questions []Question     `json:"questions"`
}

// SessionStore is the subset of session persistence the harness needs to
// open a session per question before handing it to the orchestrator.
type SessionStore interface {
	Create(ctx context.Context, questionText string, questionType domain.QuestionType) (*domain.Session, error)
}

// Config configures one evaluation run.
type Config struct {
	Persona       string
	AgentCounts   *forecast.PhaseAgentCounts
	MaxConcurrent int // 0 = unlimited
	RunBaseline   bool
}

// MethodResult scores one method's (orchestrated or baseline) prediction
// against a question's ground truth.
type MethodResult struct {
	Status              string
	Prediction          string
	PredictedProb       float64
	PredictedPercentage float64
	Confidence          float64
	BrierScore          float64
	CalibrationError    float64
	DirectionCorrect    bool
	DurationSeconds     float64
	TotalTokens         int
	Error               string
}

// QuestionResult is one question's complete scored evaluation.
type QuestionResult struct {
	QuestionID            string
	QuestionText          string
	GroundTruth           float64
	GroundTruthPercentage float64
	Orchestrated          *MethodResult
	Baseline              *MethodResult
	EvalDurationSeconds   float64
}

// Runner drives evaluation runs against a wired orchestrator.
type Runner struct {
	orchestrator *forecast.Orchestrator
	sessions     SessionStore
	baseline     agentrt.Completer
	log          *logging.Logger
}

// NewRunner builds a Runner. baseline may be nil if one-shot comparisons
// will never be requested.
func NewRunner(orchestrator *forecast.Orchestrator, sessions SessionStore, baseline agentrt.Completer) *Runner {
	return &Runner{
		orchestrator: orchestrator,
		sessions:     sessions,
		baseline:     baseline,
		log:          logging.New("eval"),
	}
}

// brierScore is (p - y)^2 for binary outcome y.
func brierScore(p float64, outcomeTrue bool) float64 {
	y := 0.0
	if outcomeTrue {
		y = 1.0
	}
	return (p - y) * (p - y)
}

// calibrationError is the absolute distance between predicted and ground
// truth probability.
func calibrationError(p, truth float64) float64 {
	return math.Abs(p - truth)
}

func directionCorrect(p, truth float64) bool {
	return (p >= 0.5) == (truth >= 0.5)
}

// RunQuestion evaluates a single question: runs the orchestrated forecast
// and, if cfg.RunBaseline, a one-shot baseline, scoring both against
// q.GroundTruth.
func (r *Runner) RunQuestion(ctx context.Context, q Question, cfg Config) *QuestionResult {
	start := time.Now()
	result := &QuestionResult{
		QuestionID:            q.ID,
		QuestionText:          q.QuestionText,
		GroundTruth:           q.GroundTruth,
		GroundTruthPercentage: q.GroundTruthPercentage,
	}

	result.Orchestrated = r.runOrchestrated(ctx, q, cfg)

	if cfg.RunBaseline {
		result.Baseline = r.runBaseline(ctx, q)
	}

	result.EvalDurationSeconds = time.Since(start).Seconds()
	return result
}

func (r *Runner) runOrchestrated(ctx context.Context, q Question, cfg Config) *MethodResult {
	start := time.Now()
	qType := domain.QuestionType(q.QuestionType)
	if qType == "" {
		qType = domain.QuestionBinary
	}
	session, err := r.sessions.Create(ctx, q.QuestionText, qType)
	if err != nil {
		return &MethodResult{Status: "failed", Error: fmt.Sprintf("create_session: %v", err)}
	}

	synth, err := r.orchestrator.Run(ctx, forecast.Config{
		SessionID:    session.ID,
		QuestionText: q.QuestionText,
		Persona:      cfg.Persona,
		AgentCounts:  cfg.AgentCounts,
	})
	duration := time.Since(start).Seconds()
	if err != nil {
		r.log.Errorf("orchestrated forecast failed for %s: %v", q.ID, err)
		return &MethodResult{Status: "failed", Error: err.Error(), DurationSeconds: duration}
	}

	return scoreMethod(synth.PredictionProbability, synth.Confidence, synth.Prediction, q.GroundTruth, duration, 0, "completed")
}

// baselineSystemPrompt and baselineUserMessage condense the orchestrator's
// synthesis-agent prompt into a single unassisted call, per run_eval.go's
// run_one_shot_baseline.
const baselineSystemPrompt = `You are an advanced forecasting model optimized for sharp, well-calibrated probabilistic judgments. Your performance is evaluated by Brier score. You are a superforecaster: you decompose problems, weigh evidence, test competing hypotheses, and state probabilities with conviction when justified.

Return a JSON object with:
- prediction: exactly one of the two binary options provided (character-for-character match)
- prediction_probability: float (0.0-1.0) = probability the event occurs
- confidence: float (0.0-1.0) = confidence in the accuracy of your probability estimate
- reasoning: a short synthesis of the evidence, mechanisms, and base rates behind your call
- key_factors: 3-7 short labels naming the core drivers`

func baselineUserMessage(q Question) string {
	return fmt.Sprintf(`Forecasting Question: %s
Question Type: %s

Binary Options:
- Yes
- No

Provide a calibrated probabilistic forecast using base rates, decomposition, and multiple perspectives.`, q.QuestionText, q.QuestionType)
}

var baselineSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"prediction":             map[string]any{"type": "string"},
		"prediction_probability": map[string]any{"type": "number"},
		"confidence":             map[string]any{"type": "number"},
		"reasoning":              map[string]any{"type": "string"},
		"key_factors":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"prediction", "prediction_probability", "confidence"},
}

func (r *Runner) runBaseline(ctx context.Context, q Question) *MethodResult {
	if r.baseline == nil {
		return &MethodResult{Status: "failed", Error: "baseline client not configured"}
	}
	start := time.Now()
	resp, err := r.baseline.Complete(ctx, llmclient.CompletionRequest{
		System:      baselineSystemPrompt,
		Messages:    []llmclient.Message{{Role: "user", Content: baselineUserMessage(q)}},
		Schema:      baselineSchema,
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	duration := time.Since(start).Seconds()
	if err != nil {
		r.log.Errorf("baseline forecast failed for %s: %v", q.ID, err)
		return &MethodResult{Status: "failed", Error: err.Error(), DurationSeconds: duration}
	}

	var payload struct {
		Prediction            string   `json:"prediction"`
		PredictionProbability *float64 `json:"prediction_probability"`
		Confidence            float64  `json:"confidence"`
		Reasoning             string   `json:"reasoning"`
		KeyFactors            []string `json:"key_factors"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &payload); err != nil {
		return &MethodResult{Status: "failed", Error: fmt.Sprintf("parse baseline output: %v", err), DurationSeconds: duration}
	}

	prob := 0.5
	if payload.PredictionProbability != nil {
		prob = *payload.PredictionProbability
	} else {
		prob = payload.Confidence
		if strings.EqualFold(payload.Prediction, "no") {
			prob = 1.0 - prob
		}
	}

	return scoreMethod(prob, payload.Confidence, payload.Prediction, q.GroundTruth, duration, resp.Usage.TotalTokens, "completed")
}

func scoreMethod(prob, confidence float64, prediction string, groundTruth float64, duration float64, tokens int, status string) *MethodResult {
	return &MethodResult{
		Status:              status,
		Prediction:          prediction,
		PredictedProb:       prob,
		PredictedPercentage: math.Round(prob*1000) / 10,
		Confidence:          confidence,
		BrierScore:          brierScore(prob, groundTruth >= 0.5),
		CalibrationError:    calibrationError(prob, groundTruth),
		DirectionCorrect:    directionCorrect(prob, groundTruth),
		DurationSeconds:     duration,
		TotalTokens:         tokens,
	}
}

// RunAll evaluates every question in set, optionally bounding concurrency
// to cfg.MaxConcurrent. Results are returned in the same order as
// set.Questions regardless of completion order.
func (r *Runner) RunAll(ctx context.Context, set Set, cfg Config) []*QuestionResult {
	n := len(set.Questions)
	results := make([]*QuestionResult, n)

	var sem chan struct{}
	if cfg.MaxConcurrent > 0 && cfg.MaxConcurrent < n {
		sem = make(chan struct{}, cfg.MaxConcurrent)
	}

	var wg sync.WaitGroup
	for i, q := range set.Questions {
		wg.Add(1)
		go func(i int, q Question) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			results[i] = r.RunQuestion(ctx, q, cfg)
		}(i, q)
	}
	wg.Wait()

	return results
}

// MethodSummary aggregates one method's scores across a run.
type MethodSummary struct {
	Status                string
	SuccessfulForecasts   int
	MeanBrierScore        float64
	StdBrierScore         float64
	MeanCalibrationError  float64
	MinCalibrationError   float64
	MaxCalibrationError   float64
	StdCalibrationError   float64
	DirectionAccuracy     float64
	TotalTokens           int
	MeanTokens            float64
	MeanDurationSeconds   float64
	MinDurationSeconds    float64
	MaxDurationSeconds    float64
}

// Comparison contrasts the orchestrated method against the baseline.
type Comparison struct {
	CalibrationErrorImprovement    float64
	CalibrationErrorImprovementPct float64
	BrierScoreImprovement          float64
	SpeedRatio                     float64
	TokenRatio                     float64
}

// Summary aggregates a full evaluation run.
type Summary struct {
	TotalQuestions  int
	FailedForecasts int
	Orchestrated    MethodSummary
	Baseline        MethodSummary
	Comparison      *Comparison
}

func summarizeMethod(extract func(*QuestionResult) *MethodResult, results []*QuestionResult) MethodSummary {
	var completed []*MethodResult
	for _, r := range results {
		m := extract(r)
		if m != nil && m.Status == "completed" {
			completed = append(completed, m)
		}
	}
	if len(completed) == 0 {
		return MethodSummary{Status: "no_data"}
	}

	n := float64(len(completed))
	var sumBrier, sumCalib, sumDur float64
	var totalTokens int
	var directionHits int
	minCalib, maxCalib := math.Inf(1), math.Inf(-1)
	minDur, maxDur := math.Inf(1), math.Inf(-1)

	for _, m := range completed {
		sumBrier += m.BrierScore
		sumCalib += m.CalibrationError
		sumDur += m.DurationSeconds
		totalTokens += m.TotalTokens
		if m.DirectionCorrect {
			directionHits++
		}
		if m.CalibrationError < minCalib {
			minCalib = m.CalibrationError
		}
		if m.CalibrationError > maxCalib {
			maxCalib = m.CalibrationError
		}
		if m.DurationSeconds < minDur {
			minDur = m.DurationSeconds
		}
		if m.DurationSeconds > maxDur {
			maxDur = m.DurationSeconds
		}
	}

	meanBrier := sumBrier / n
	meanCalib := sumCalib / n

	var varBrier, varCalib float64
	if len(completed) > 1 {
		for _, m := range completed {
			varBrier += (m.BrierScore - meanBrier) * (m.BrierScore - meanBrier)
			varCalib += (m.CalibrationError - meanCalib) * (m.CalibrationError - meanCalib)
		}
		varBrier /= n
		varCalib /= n
	}

	return MethodSummary{
		Status:               "ok",
		SuccessfulForecasts:  len(completed),
		MeanBrierScore:       meanBrier,
		StdBrierScore:        math.Sqrt(varBrier),
		MeanCalibrationError: meanCalib,
		MinCalibrationError:  minCalib,
		MaxCalibrationError:  maxCalib,
		StdCalibrationError:  math.Sqrt(varCalib),
		DirectionAccuracy:    float64(directionHits) / n,
		TotalTokens:          totalTokens,
		MeanTokens:           float64(totalTokens) / n,
		MeanDurationSeconds:  sumDur / n,
		MinDurationSeconds:   minDur,
		MaxDurationSeconds:   maxDur,
	}
}

// Summarize computes aggregate statistics over a completed run's results,
// per run_eval.go's calculate_summary_stats.
func Summarize(results []*QuestionResult) Summary {
	failed := 0
	for _, r := range results {
		if r.Orchestrated == nil || r.Orchestrated.Status != "completed" {
			failed++
		}
	}

	s := Summary{
		TotalQuestions:  len(results),
		FailedForecasts: failed,
		Orchestrated:    summarizeMethod(func(r *QuestionResult) *MethodResult { return r.Orchestrated }, results),
		Baseline:        summarizeMethod(func(r *QuestionResult) *MethodResult { return r.Baseline }, results),
	}

	if s.Orchestrated.Status != "no_data" && s.Baseline.Status != "no_data" {
		var pctImprovement float64
		if s.Baseline.MeanCalibrationError > 0 {
			pctImprovement = (s.Baseline.MeanCalibrationError - s.Orchestrated.MeanCalibrationError) / s.Baseline.MeanCalibrationError * 100
		}
		var speedRatio float64
		if s.Orchestrated.MeanDurationSeconds > 0 {
			speedRatio = s.Baseline.MeanDurationSeconds / s.Orchestrated.MeanDurationSeconds
		}
		var tokenRatio float64
		if s.Baseline.TotalTokens > 0 {
			tokenRatio = float64(s.Orchestrated.TotalTokens) / float64(s.Baseline.TotalTokens)
		}
		s.Comparison = &Comparison{
			CalibrationErrorImprovement:    s.Baseline.MeanCalibrationError - s.Orchestrated.MeanCalibrationError,
			CalibrationErrorImprovementPct: pctImprovement,
			BrierScoreImprovement:          s.Baseline.MeanBrierScore - s.Orchestrated.MeanBrierScore,
			SpeedRatio:                     speedRatio,
			TokenRatio:                     tokenRatio,
		}
	}

	return s
}
