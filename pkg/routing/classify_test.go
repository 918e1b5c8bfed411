package routing

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
	"github.com/stretchr/testify/assert"
)

func TestClassify_BackgroundRequiresClaudeAndHaikuCaseInsensitive(t *testing.T) {
	req := &protocol.AnthropicRequest{Model: "Claude-3-Haiku-20240307"}
	assert.Equal(t, ScenarioBackground, Classify(req, Config{}))
}

func TestClassify_HaikuAloneIsNotBackground(t *testing.T) {
	req := &protocol.AnthropicRequest{Model: "haiku-mini"}
	assert.Equal(t, ScenarioDefault, Classify(req, Config{}))
}

func TestClassify_ThinkWhenThinkingEnabled(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:    "claude-3-opus",
		Thinking: &protocol.AnthropicThinking{Type: "enabled", BudgetTokens: 1024},
	}
	assert.Equal(t, ScenarioThink, Classify(req, Config{}))
}

func TestClassify_ThinkingDisabledIsNotThink(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:    "claude-3-opus",
		Thinking: &protocol.AnthropicThinking{Type: "disabled"},
	}
	assert.Equal(t, ScenarioDefault, Classify(req, Config{}))
}

func TestClassify_LongContextOverThreshold(t *testing.T) {
	bigContent, _ := json.Marshal(strings.Repeat("word ", 100_000))
	req := &protocol.AnthropicRequest{
		Model:    "claude-3-opus",
		Messages: []protocol.AnthropicMessage{{Role: "user", Content: bigContent}},
	}
	cfg := Config{LongContextEnabled: true, LongContextThreshold: 1000}
	assert.Equal(t, ScenarioLongContext, Classify(req, cfg))
}

func TestClassify_LongContextDisabledFallsBackToDefault(t *testing.T) {
	bigContent, _ := json.Marshal(strings.Repeat("word ", 100_000))
	req := &protocol.AnthropicRequest{
		Model:    "claude-3-opus",
		Messages: []protocol.AnthropicMessage{{Role: "user", Content: bigContent}},
	}
	cfg := Config{LongContextEnabled: false, LongContextThreshold: 1000}
	assert.Equal(t, ScenarioDefault, Classify(req, cfg))
}

func TestClassify_BackgroundTakesPrecedenceOverThink(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:    "claude-3-5-haiku",
		Thinking: &protocol.AnthropicThinking{Type: "enabled"},
	}
	assert.Equal(t, ScenarioBackground, Classify(req, Config{}))
}

func TestClassify_PlainRequestIsDefault(t *testing.T) {
	req := &protocol.AnthropicRequest{Model: "claude-3-5-sonnet"}
	assert.Equal(t, ScenarioDefault, Classify(req, Config{}))
}
