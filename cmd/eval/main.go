// forecastmarket-eval runs the orchestrator against a labeled question set
// and scores its predictions, optionally side-by-side with a one-shot
// baseline. Grounded on
// _examples/original_source/backend/eval/run_eval.py's argparse flags and
// evaluate_all/calculate_summary_stats pipeline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/phenomenon0/forecastmarket/internal/config"
	"github.com/phenomenon0/forecastmarket/internal/eval"
	"github.com/phenomenon0/forecastmarket/internal/forecast"
	"github.com/phenomenon0/forecastmarket/internal/llmclient"
	"github.com/phenomenon0/forecastmarket/internal/logging"
	"github.com/phenomenon0/forecastmarket/internal/repo"
)

func main() {
	evalFile := flag.String("eval-file", "eval_set.json", "path to eval set JSON file")
	output := flag.String("output", "eval_results.json", "path to output results JSON file")
	phase1Count := flag.Int("phase-1-count", 5, "number of phase 1 (discovery) agents")
	phase2Count := flag.Int("phase-2-count", 2, "phase 2 (validation) count, recorded in the output filename only; one validator always runs")
	phase3Count := flag.Int("phase-3-count", 5, "number of phase 3 (research) agents")
	phase4Count := flag.Int("phase-4-count", 1, "phase 4 (synthesis) count, recorded in the output filename only; one synthesizer always runs")
	numQuestions := flag.Int("num-questions", 0, "number of questions to test, 0 = all")
	maxConcurrent := flag.Int("max-concurrent", 0, "maximum concurrent forecasts, 0 = unlimited")
	noBaseline := flag.Bool("no-baseline", false, "skip the one-shot baseline comparison")
	storeURI := flag.String("store-uri", "", "MongoDB connection URI (or STORE_URL env)")
	flag.Parse()

	log := logging.New("eval")

	cfg, err := config.Load()
	if err != nil {
		log.Errorf("load config: %v", err)
		os.Exit(1)
	}

	uri := *storeURI
	if uri == "" {
		uri = cfg.Store.URL
	}
	if uri == "" {
		uri = "mongodb://localhost:27017/forecastmarket"
	}

	ctx := context.Background()
	store, err := repo.Connect(ctx, uri)
	if err != nil {
		log.Errorf("connect store: %v", err)
		os.Exit(1)
	}
	defer store.Close(ctx)

	set, err := loadEvalSet(*evalFile)
	if err != nil {
		log.Errorf("load eval set: %v", err)
		os.Exit(1)
	}
	log.Infof("loaded eval set %q: %d questions", set.Name, len(set.Questions))
	if *numQuestions > 0 && *numQuestions < len(set.Questions) {
		log.Infof("limiting to first %d questions", *numQuestions)
		set.Questions = set.Questions[:*numQuestions]
	}

	llm := llmclient.New(cfg.LLM)
	orchestrator := forecast.New(llm, store.Sessions, store.AgentLogs, store.Factors, store.Responses)

	runBaseline := !*noBaseline
	var baseline *llmclient.Client
	if runBaseline {
		baseline = llm
	}
	runner := eval.NewRunner(orchestrator, store.Sessions, baseline)

	evalCfg := eval.Config{
		Persona: "balanced",
		AgentCounts: &forecast.PhaseAgentCounts{
			Discovery:        *phase1Count,
			Validation:       *phase2Count,
			ResearchHistoric: *phase3Count / 2,
			ResearchCurrent:  *phase3Count - *phase3Count/2,
			Synthesis:        *phase4Count,
		},
		MaxConcurrent: *maxConcurrent,
		RunBaseline:   runBaseline,
	}

	log.Infof("starting evaluation run: %d questions, max concurrent %d, baseline %v",
		len(set.Questions), *maxConcurrent, runBaseline)

	results := runner.RunAll(ctx, set, evalCfg)
	summary := eval.Summarize(results)

	log.Infof("evaluation complete: %d total, %d failed", summary.TotalQuestions, summary.FailedForecasts)
	if summary.Orchestrated.Status != "no_data" {
		log.Infof("orchestrated: %d successful, mean brier %.4f, direction accuracy %.1f%%",
			summary.Orchestrated.SuccessfulForecasts, summary.Orchestrated.MeanBrierScore, summary.Orchestrated.DirectionAccuracy*100)
	}
	if summary.Baseline.Status != "no_data" {
		log.Infof("baseline: %d successful, mean brier %.4f, direction accuracy %.1f%%",
			summary.Baseline.SuccessfulForecasts, summary.Baseline.MeanBrierScore, summary.Baseline.DirectionAccuracy*100)
	}

	outPath := outputFilename(*output, *numQuestions, *phase1Count, *phase2Count, *phase3Count, *phase4Count, *maxConcurrent)
	if err := writeResults(outPath, set, results, summary); err != nil {
		log.Errorf("write results: %v", err)
		os.Exit(1)
	}
	log.Infof("results saved to %s", outPath)
}

func loadEvalSet(path string) (eval.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return eval.Set{}, err
	}
	var set eval.Set
	if err := json.Unmarshal(data, &set); err != nil {
		return eval.Set{}, err
	}
	return set, nil
}

type evalOutput struct {
	Parameters map[string]any         `json:"eval_parameters"`
	Summary    eval.Summary           `json:"summary"`
	Results    []*eval.QuestionResult `json:"results"`
}

func writeResults(path string, set eval.Set, results []*eval.QuestionResult, summary eval.Summary) error {
	out := evalOutput{
		Parameters: map[string]any{
			"eval_set":       set.Name,
			"question_count": len(set.Questions),
		},
		Summary: summary,
		Results: results,
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func outputFilename(base string, numQuestions, p1, p2, p3, p4, maxConcurrent int) string {
	base = strings.TrimSuffix(base, ".json")
	parts := []string{base}
	if numQuestions > 0 {
		parts = append(parts, "n"+itoa(numQuestions))
	}
	parts = append(parts, "p1-"+itoa(p1), "p2-"+itoa(p2), "p3-"+itoa(p3), "p4-"+itoa(p4))
	if maxConcurrent > 0 {
		parts = append(parts, "max"+itoa(maxConcurrent))
	}
	name := strings.Join(parts, "_") + ".json"
	if _, err := os.Stat(name); err == nil {
		name = strings.TrimSuffix(name, ".json") + "_rerun.json"
	}
	return name
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
