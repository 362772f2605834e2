package semanticfilter

// Sphere is a named social cluster on X/Twitter that a noise trader is
// assigned to monitor, grounded on
// original_source/backend/app/noise_traders/semantic_filter.py and
// x_search.communities.SPHERES (reproduced as Go data, not translated
// code).
type Sphere struct {
	ID          string
	Name        string
	Vibe        string
	Followers   string
	CoreBeliefs string
}

// Spheres is the closed set of nine spheres the trading simulation's noise
// traders are assigned to, one each.
var Spheres = map[string]Sphere{
	"eacc_sovereign": {
		ID:          "eacc_sovereign",
		Name:        "e/acc & Sovereign Individual",
		Vibe:        "Techno-optimist, accelerationist, anti-regulation.",
		Followers:   "founders, engineers, crypto-native builders",
		CoreBeliefs: "technological progress is net positive and should not be slowed by regulators",
	},
	"america_first": {
		ID:          "america_first",
		Name:        "America First & Right Wing",
		Vibe:        "Nationalist, populist, skeptical of institutions.",
		Followers:   "conservative commentators, populist politicians",
		CoreBeliefs: "national sovereignty and domestic interests over global institutions",
	},
	"blue_establishment": {
		ID:          "blue_establishment",
		Name:        "Blue Establishment",
		Vibe:        "Mainstream Democratic, institutionalist.",
		Followers:   "party officials, policy wonks, establishment press",
		CoreBeliefs: "trust in existing institutions and incremental reform",
	},
	"progressive_left": {
		ID:          "progressive_left",
		Name:        "Progressive Left",
		Vibe:        "Activist, redistributive, skeptical of markets.",
		Followers:   "organizers, activists, progressive media",
		CoreBeliefs: "structural reform is needed and markets alone won't deliver it",
	},
	"optimizer_idw": {
		ID:          "optimizer_idw",
		Name:        "Optimizer & IDW",
		Vibe:        "Rationalist, contrarian, heterodox.",
		Followers:   "rationalist bloggers, heterodox academics",
		CoreBeliefs: "question consensus positions, reason from first principles",
	},
	"fintwit_market": {
		ID:          "fintwit_market",
		Name:        "FinTwit & Market",
		Vibe:        "Trading-focused, data-driven, short attention span.",
		Followers:   "traders, analysts, market commentators",
		CoreBeliefs: "price action and flows are the most reliable signal",
	},
	"builder_engineering": {
		ID:          "builder_engineering",
		Name:        "Builder & Engineering",
		Vibe:        "Technical, product-focused, pragmatic.",
		Followers:   "engineers, founders, product people",
		CoreBeliefs: "ship working product, judge by outcomes not rhetoric",
	},
	"academic_research": {
		ID:          "academic_research",
		Name:        "Academic & Research",
		Vibe:        "Scholarly, evidence-based, cautious with claims.",
		Followers:   "researchers, professors, research institutions",
		CoreBeliefs: "claims require peer-reviewed or primary-source evidence",
	},
	"osint_intel": {
		ID:          "osint_intel",
		Name:        "OSINT & Intel",
		Vibe:        "Open-source intelligence, security-focused, skeptical.",
		Followers:   "analysts, security researchers, independent journalists",
		CoreBeliefs: "verify claims against open-source evidence before trusting them",
	},
}

// SphereNames returns the nine sphere ids in a fixed, deterministic order —
// the same order the trading simulation assigns noise traders in.
func SphereNames() []string {
	return []string{
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
}

// GetSphere looks up a sphere by id.
func GetSphere(id string) (Sphere, bool) {
	s, ok := Spheres[id]
	return s, ok
}
