package routing

import (
	"strings"

	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
)

// Classify returns exactly one scenario for req (spec §4.4 "Detection").
// Checks run in the order background, think, longContext, default - the
// spec lists them as independent predicates but a request matching more
// than one (e.g. a haiku model with thinking enabled) still needs a single
// answer, so background takes precedence as the cheapest, most specific
// signal, then think, then the estimate-based longContext.
func Classify(req *protocol.AnthropicRequest, cfg Config) Scenario {
	model := strings.ToLower(req.Model)
	if strings.Contains(model, "claude") && strings.Contains(model, "haiku") {
		return ScenarioBackground
	}
	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		return ScenarioThink
	}
	if cfg.LongContextEnabled && estimateTokens(req) > cfg.LongContextThreshold {
		return ScenarioLongContext
	}
	return ScenarioDefault
}

// estimateTokens is a four-characters-per-token approximation over the
// system text plus the raw JSON of every message's content, used to decide
// the longContext scenario. It differs from P-Translate's count_tokens
// estimate, which counts only flattened text and adds one.
func estimateTokens(req *protocol.AnthropicRequest) int {
	total := len(req.SystemText())
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	return total / 4
}
