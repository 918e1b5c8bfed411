package keepalive

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
	"github.com/jonnyhoo/ccproxy-core/pkg/ssechunk"
)

// cacheablePrefixParts is the subset of a request that the provider's prompt
// cache keys on: model, system prompt, and tool declarations (spec §3
// "Cacheable prefix" / §4.3 "Prefix capture"). Message history is
// deliberately excluded — it changes every turn and is never the cached
// prefix.
type cacheablePrefixParts struct {
	Model  string                 `json:"model"`
	System string                 `json:"system,omitempty"`
	Tools  []protocol.AnthropicTool `json:"tools,omitempty"`
}

// cacheablePrefixHash returns a stable, short identifier for req's cacheable
// prefix (spec §4.3: "MD5(JSON({model,system,tools})).hex[:12]").
func cacheablePrefixHash(req *protocol.AnthropicRequest) string {
	parts := cacheablePrefixParts{Model: req.Model, System: req.SystemText(), Tools: req.Tools}
	data, err := json.Marshal(parts)
	if err != nil {
		return ""
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])[:12]
}

// parseUsageEvent extracts usage counters from one Anthropic SSE event
// forwarded verbatim by P-Keepalive (spec §4.3 "Prefix capture": usage is
// read from "message_start.message.usage.{cache_read_input_tokens,
// cache_creation_input_tokens, input_tokens}" and
// "message_delta.usage.output_tokens").
func parseUsageEvent(ev ssechunk.Event) (inputTokens, outputTokens, cacheReadTokens, cacheCreationTokens int) {
	switch ev.Name {
	case "message_start":
		var payload struct {
			Message struct {
				Usage protocol.AnthropicUsage `json:"usage"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			return
		}
		return payload.Message.Usage.InputTokens, 0,
			payload.Message.Usage.CacheReadInputTokens, payload.Message.Usage.CacheCreationInputTokens
	case "message_delta":
		var payload struct {
			Usage protocol.AnthropicUsage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			return
		}
		return 0, payload.Usage.OutputTokens, 0, 0
	default:
		return
	}
}
