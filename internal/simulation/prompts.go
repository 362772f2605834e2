package simulation

import (
	"fmt"

	"github.com/phenomenon0/forecastmarket/internal/domain"
)

// systemPromptFor builds the per-trader system prompt, grounded on
// noise_agent.py's _get_noise_trader_prompt, user_agent.py's
// USER_AGENT_SYSTEM_PROMPT, and fundamental_agent.py's style/bias prompt
// construction — condensed into one shape per trader kind since all three
// ask for the same prediction_in_cents/confidence/analysis/notes shape.
func systemPromptFor(tr trader) string {
	switch tr.kind {
	case domain.TraderFundamental:
		return fmt.Sprintf(fundamentalPrompt, tr.name)
	case domain.TraderNoise:
		return fmt.Sprintf(noisePrompt, tr.name)
	case domain.TraderUser:
		return fmt.Sprintf(userPrompt, UserAccounts[tr.name])
	default:
		return fundamentalPrompt
	}
}

const fundamentalPrompt = `You are a fundamental trader in a prediction market simulation, trading with a %s analytical style.

You see the current order book and recent trades but do not search social media. Base your prediction on market structure, your prior notes, and the question itself.

Respond with your prediction as a price in cents (1-99, the probability the market resolves YES times 100), your confidence (0-1), a short analysis, and notes to carry into the next round.`

const noisePrompt = `You are a noise trader representing the %s community's perspective in a prediction market simulation.

You have been given recent posts from your community discussing the topic. Weigh sentiment and narrative from your community's lens, and be willing to disagree with the visible order book — your value comes from an independent read, not from anchoring to the current price.

Respond with your prediction as a price in cents (1-99), confidence (0-1), a short analysis, and notes to carry into the next round.`

const userPrompt = `You are modeling the trading behavior of a specific X/Twitter account (@%s) in a prediction market simulation.

You have been given that account's most recent posts. Infer their likely view of the question from their public statements and posting pattern, and trade as they would.

Respond with your prediction as a price in cents (1-99), confidence (0-1), a short analysis, and notes to carry into the next round.`
