// Package forecast runs the four-phase factor-discovery-to-synthesis
// pipeline. Grounded on
// _examples/original_source/backend/app/agents/orchestrator.go (Python:
// orchestrator.py) for the phase sequence and on
// pkg/trader/orchestrator/orchestrator.go for the Stage/WorkflowConfig
// idiom the Go rendition borrows.
package forecast

// Persona is one of the small closed set of forecaster personalities a
// synthesis run can be framed around. Treated as an opaque data table, not
// a strategy hierarchy — see DESIGN.md.
type Persona struct {
	ID          string
	Name        string
	Description string
	// AgentCounts is the default agent fan-out per phase for this persona.
	AgentCounts PhaseAgentCounts
}

// PhaseAgentCounts is the per-phase fan-out width.
type PhaseAgentCounts struct {
	Discovery        int
	Validation       int
	ResearchHistoric int
	ResearchCurrent  int
	Synthesis        int
}

// Personas is the closed set of forecaster persona ids, grounded on
// original_source/backend/app/agents/prompts.py's FORECASTER_CLASSES table
// (referenced by orchestrator.py and market/trader_profiles.py) and
// traders/fundamental_agent.py's FUNDAMENTAL_TRADER_TYPES descriptions.
var Personas = map[string]Persona{
	"balanced": {
		ID:          "balanced",
		Name:        "Balanced Forecaster",
		Description: "Weighs multiple perspectives equally and tries to correct for bias rather than lean on any one signal.",
		AgentCounts: PhaseAgentCounts{Discovery: 10, Validation: 1, ResearchHistoric: 5, ResearchCurrent: 5, Synthesis: 1},
	},
	"conservative": {
		ID:          "conservative",
		Name:        "Conservative Analyst",
		Description: "Risk-averse, anchors toward the base rate and is slow to move off it without strong evidence.",
		AgentCounts: PhaseAgentCounts{Discovery: 8, Validation: 1, ResearchHistoric: 6, ResearchCurrent: 2, Synthesis: 1},
	},
	"momentum": {
		ID:          "momentum",
		Name:        "Momentum Trader",
		Description: "Follows market trends and recent price action, weighting recent developments heavily.",
		AgentCounts: PhaseAgentCounts{Discovery: 8, Validation: 1, ResearchHistoric: 2, ResearchCurrent: 6, Synthesis: 1},
	},
	"historical": {
		ID:          "historical",
		Name:        "Historical Analyst",
		Description: "Relies on base rates and historical precedent, looking for analogous past events.",
		AgentCounts: PhaseAgentCounts{Discovery: 8, Validation: 1, ResearchHistoric: 8, ResearchCurrent: 0, Synthesis: 1},
	},
	"realtime": {
		ID:          "realtime",
		Name:        "Realtime Reactor",
		Description: "Highly responsive to new information, quick to update on the latest data.",
		AgentCounts: PhaseAgentCounts{Discovery: 8, Validation: 1, ResearchHistoric: 0, ResearchCurrent: 8, Synthesis: 1},
	},
}

// DefaultPersona is used when a caller names an unknown persona id.
const DefaultPersona = "balanced"

// ResolvePersona returns the named persona, falling back to DefaultPersona
// for unknown ids rather than failing the run.
func ResolvePersona(id string) Persona {
	if p, ok := Personas[id]; ok {
		return p
	}
	return Personas[DefaultPersona]
}
