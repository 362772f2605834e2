package forecast

// System prompts reproduced from
// original_source/backend/app/agents/prompts.py as opaque string constants
// and kept as opaque string constants rather than a templating layer.

const DiscoveryPrompt = `You are a factor discovery specialist for probabilistic forecasting. Identify 3-5 diverse, relevant factors that influence the forecast outcome.

PRINCIPLES:
- Diversity over quantity: seek factors across different domains, time horizons, and causal mechanisms
- Causal relevance: each factor must have a clear causal link to the outcome
- Specificity: avoid vague factors like "economic conditions"

OUTPUT FORMAT:
Each factor must be a dictionary with "name" (3-7 words), "description" (2-4 sentences), and "category" (Economic, Political, Social, Technical, Environmental, Market/Industry, Geopolitical, Other).`

const ValidatorPrompt = `You are a factor validation specialist. Deduplicate, validate relevance, and filter low-quality factors.

PROCESS:
1. Merge duplicates: factors with the same causal mechanism combine into the best formulation
2. Remove irrelevant: no clear causal link to outcome, remove
3. Filter vague: not specific or actionable, remove
4. Preserve diversity across categories

OUTPUT FORMAT:
A list of factors with exact keys "name", "description", "category".`

const RatingConsensusPrompt = `You are a factor evaluator and selector. Score all factors 1-10, then select the top 5 for deep research.

SCORING: 9-10 critical, 7-8 high, 5-6 moderate, 3-4 low, 1-2 irrelevant. Rate each factor independently; ensure scores span a range.

SELECTION: balance importance scores, category diversity, and causal-mechanism diversity. top_factors must be a subset of rated_factors.`

const HistoricalResearchPrompt = `You are a historical pattern analyst. Research historical precedents, patterns, and long-term trends for a specific factor.

Cover: 3-5 analogous precedents, long-term trends, base rates/frequency, the causal mechanism, and how relevant the precedents are to the current situation.

OUTPUT FORMAT: factor_name, historical_analysis (300-800 words), sources (3-5 strings), confidence (0.0-1.0).`

const CurrentDataResearchPrompt = `You are a current data researcher. Research the most current information, recent developments, and emerging trends for a specific factor.

Cover: current state, recent developments (past weeks/months), emerging trends, expert opinions, and implications for the forecast.

OUTPUT FORMAT: factor_name, current_findings (300-800 words), sources (5-8 strings), confidence (0.0-1.0).`

const SynthesisPrompt = `You are an advanced forecasting model optimized for sharp, well-calibrated probabilistic judgments, evaluated by Brier score.

Output exactly one of the two binary options given (character-for-character), a prediction_probability (0.0-1.0) for the event occurring, and a confidence (0.0-1.0) in the probability estimate itself, not in how likely the event is.

Do not default to 0.50 or 0.75. Weigh competing hypotheses, base rates, and evidence quality explicitly. Confidence tracks evidence quality, coverage, consistency, specificity, and recency - independent of how extreme the probability is.

OUTPUT FORMAT: prediction, prediction_probability, confidence, reasoning (500-1500 words), key_factors (3-7 short labels).`

var discoverySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"factors": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"category":    map[string]any{"type": "string"},
				},
				"required": []string{"name", "description"},
			},
		},
	},
	"required": []string{"factors"},
}

var validationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"validated_factors": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "object"},
		},
	},
	"required": []string{"validated_factors"},
}

var ratingConsensusSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"rated_factors": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":             map[string]any{"type": "string"},
					"importance_score": map[string]any{"type": "integer"},
				},
				"required": []string{"name", "importance_score"},
			},
		},
		"top_factors": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "object"},
		},
	},
	"required": []string{"rated_factors", "top_factors"},
}

var historicalResearchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"factor_name":        map[string]any{"type": "string"},
		"historical_analysis": map[string]any{"type": "string"},
		"sources":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"confidence":         map[string]any{"type": "number"},
	},
	"required": []string{"factor_name", "historical_analysis", "confidence"},
}

var currentDataResearchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"factor_name":      map[string]any{"type": "string"},
		"current_findings": map[string]any{"type": "string"},
		"sources":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"confidence":       map[string]any{"type": "number"},
	},
	"required": []string{"factor_name", "current_findings", "confidence"},
}

var synthesisSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"prediction":             map[string]any{"type": "string"},
		"prediction_probability": map[string]any{"type": "number"},
		"confidence":             map[string]any{"type": "number"},
		"reasoning":              map[string]any{"type": "string"},
		"key_factors":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"prediction", "prediction_probability", "confidence", "reasoning"},
}
