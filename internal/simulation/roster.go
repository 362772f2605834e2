// Package simulation drives the continuous 18-agent trading round loop,
// grounded on original_source/backend/app/traders/simulation.py's
// TradingSimulation.
package simulation

import "github.com/phenomenon0/forecastmarket/internal/domain"

// FundamentalPersonas are the five persona ids also used by the forecast
// orchestrator's synthesis phase — shared identity between forecast
// persona and fundamental trader, per fundamental_agent.py's
// FUNDAMENTAL_TRADER_TYPES keys matching forecast.Personas.
var FundamentalPersonas = []string{"conservative", "momentum", "historical", "balanced", "realtime"}

// NoiseSpheres is the fixed roster of nine X/Twitter spheres noise traders
// monitor, grounded on simulation.py's NOISE_TRADER_SPHERES constant.
var NoiseSpheres = []string{
	"eacc_sovereign",
	"america_first",
	"blue_establishment",
	"progressive_left",
	"optimizer_idw",
	"fintwit_market",
	"builder_engineering",
	"academic_research",
	"osint_intel",
}

// UserAccounts maps each of the four user-trader names to the X account it
// tracks, grounded on user_agent.py's USER_ACCOUNT_MAPPINGS.
var UserAccounts = map[string]string{
	"oliver": "OliveeLin",
	"owen":   "OwenZhang159710",
	"skylar": "SkylarWang15",
	"tyler":  "tyzchen",
}

// UserNames returns the four user-trader names in a fixed order.
func UserNames() []string {
	return []string{"oliver", "owen", "skylar", "tyler"}
}

// trader is one roster entry the round loop executes each tick.
type trader struct {
	key  string
	name string
	kind domain.TraderType
}

// roster returns the 18 fixed trader entries: 5 fundamental + 9 noise + 4
// user, in deterministic order.
func roster() []trader {
	var out []trader
	for _, p := range FundamentalPersonas {
		out = append(out, trader{key: "fundamental_" + p, name: p, kind: domain.TraderFundamental})
	}
	for _, s := range NoiseSpheres {
		out = append(out, trader{key: "noise_" + s, name: s, kind: domain.TraderNoise})
	}
	for _, u := range UserNames() {
		out = append(out, trader{key: "user_" + u, name: u, kind: domain.TraderUser})
	}
	return out
}
