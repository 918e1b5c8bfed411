package translate

import (
	"encoding/json"
	"strings"

	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
)

// contextOverflowPatterns matches the upstream error bodies that indicate
// the request exceeded the model's context window (spec §4.1 "Context trim
// policy"), gathered from the OpenAI-compatible error message families the
// teacher's provider error handling already special-cases.
var contextOverflowPatterns = []string{
	"context_length_exceeded",
	"maximum context length",
	"context window",
	"prompt is too long",
	"input is too long",
	"exceeds the context window",
}

// looksLikeContextOverflow reports whether an upstream error body signals a
// context-window overflow.
func looksLikeContextOverflow(body string) bool {
	lower := strings.ToLower(body)
	for _, needle := range contextOverflowPatterns {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// Trim algorithm tunables (spec §4.1 "Trim algorithm").
const (
	trimTailMinMessages       = 10
	trimTailFraction          = 0.3
	trimToolResultMaxChars    = 200
	trimAssistantTextMaxChars = 500
	trimAssistantTextKeep     = 200
	trimPrefixFloor           = 10
	trimPrefixCap             = 6
)

// trimMessages applies the spec's trim algorithm once: the last 30% of
// messages (minimum 10) is a protected tail that is never touched. In the
// older prefix, oversize tool-result and assistant-text content is
// truncated, tool-result content is dropped entirely, tool_use blocks are
// stripped from assistant messages, and if the prefix is still longer than
// 10 messages only its last 6 survive. Finally, any tool-result block left
// pointing at a tool_use id that no longer exists anywhere in the message
// list is dropped (spec §4.1 "Trim algorithm").
func trimMessages(messages []protocol.AnthropicMessage) []protocol.AnthropicMessage {
	n := len(messages)
	tail := int(float64(n) * trimTailFraction)
	if tail < trimTailMinMessages {
		tail = trimTailMinMessages
	}
	if tail >= n {
		return messages
	}

	prefix := append([]protocol.AnthropicMessage(nil), messages[:n-tail]...)
	protectedTail := messages[n-tail:]

	prefix = shrinkOversizeContent(prefix)
	prefix = dropToolResultsAndToolCalls(prefix)
	if len(prefix) > trimPrefixFloor && len(prefix) > trimPrefixCap {
		prefix = prefix[len(prefix)-trimPrefixCap:]
	}

	out := append(prefix, protectedTail...)
	return dropOrphanedToolResults(out)
}

// shrinkOversizeContent replaces over-length tool-result content and
// truncates over-length assistant text within messages, without removing
// any block or message outright.
func shrinkOversizeContent(messages []protocol.AnthropicMessage) []protocol.AnthropicMessage {
	out := make([]protocol.AnthropicMessage, len(messages))
	for i, m := range messages {
		out[i] = m

		var asText string
		if json.Unmarshal(m.Content, &asText) == nil {
			if m.Role == "assistant" && len(asText) > trimAssistantTextMaxChars {
				out[i].Content = mustMarshalContent(truncateAssistantText(asText))
			}
			continue
		}

		var blocks []map[string]any
		if json.Unmarshal(m.Content, &blocks) != nil {
			continue
		}
		changed := false
		for j, b := range blocks {
			switch b["type"] {
			case "tool_result":
				if len(flattenBlockText(b["content"])) > trimToolResultMaxChars {
					blocks[j] = map[string]any{
						"type":        "tool_result",
						"tool_use_id": b["tool_use_id"],
						"content":     "[trimmed tool output]",
					}
					changed = true
				}
			case "text":
				if m.Role == "assistant" {
					if text, ok := b["text"].(string); ok && len(text) > trimAssistantTextMaxChars {
						blocks[j] = map[string]any{"type": "text", "text": truncateAssistantText(text)}
						changed = true
					}
				}
			}
		}
		if changed {
			out[i].Content = mustMarshalContent(blocks)
		}
	}
	return out
}

// dropToolResultsAndToolCalls drops tool-result content from user messages
// (dropping the message entirely if nothing else remains) and strips
// tool_use blocks from assistant messages, replacing emptied assistant
// content with a placeholder.
func dropToolResultsAndToolCalls(messages []protocol.AnthropicMessage) []protocol.AnthropicMessage {
	out := make([]protocol.AnthropicMessage, 0, len(messages))
	for _, m := range messages {
		var asText string
		if json.Unmarshal(m.Content, &asText) == nil {
			out = append(out, m)
			continue
		}
		var blocks []map[string]any
		if json.Unmarshal(m.Content, &blocks) != nil {
			out = append(out, m)
			continue
		}

		switch m.Role {
		case "user":
			kept := make([]map[string]any, 0, len(blocks))
			for _, b := range blocks {
				if b["type"] == "tool_result" {
					continue
				}
				kept = append(kept, b)
			}
			if len(kept) == 0 {
				continue
			}
			m.Content = mustMarshalContent(kept)
			out = append(out, m)

		case "assistant":
			kept := make([]map[string]any, 0, len(blocks))
			strippedCall := false
			for _, b := range blocks {
				if b["type"] == "tool_use" {
					strippedCall = true
					continue
				}
				kept = append(kept, b)
			}
			if strippedCall && len(kept) == 0 {
				m.Content = mustMarshalContent("[tool calls removed]")
			} else {
				m.Content = mustMarshalContent(kept)
			}
			out = append(out, m)

		default:
			out = append(out, m)
		}
	}
	return out
}

// dropOrphanedToolResults removes any tool-result block whose tool_use_id no
// longer matches a tool_use block anywhere in messages (spec §4.1: tool_use
// blocks may have been stripped from the prefix above), dropping a user
// message entirely if that was its only content.
func dropOrphanedToolResults(messages []protocol.AnthropicMessage) []protocol.AnthropicMessage {
	liveIDs := map[string]bool{}
	for _, m := range messages {
		if m.Role != "assistant" {
			continue
		}
		var blocks []map[string]any
		if json.Unmarshal(m.Content, &blocks) != nil {
			continue
		}
		for _, b := range blocks {
			if b["type"] == "tool_use" {
				if id, ok := b["id"].(string); ok {
					liveIDs[id] = true
				}
			}
		}
	}

	out := make([]protocol.AnthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role != "user" {
			out = append(out, m)
			continue
		}
		var blocks []map[string]any
		if json.Unmarshal(m.Content, &blocks) != nil {
			out = append(out, m)
			continue
		}
		kept := make([]map[string]any, 0, len(blocks))
		for _, b := range blocks {
			if b["type"] == "tool_result" {
				id, _ := b["tool_use_id"].(string)
				if !liveIDs[id] {
					continue
				}
			}
			kept = append(kept, b)
		}
		if len(kept) == 0 {
			continue
		}
		m.Content = mustMarshalContent(kept)
		out = append(out, m)
	}
	return out
}

// truncateAssistantText truncates text to its first trimAssistantTextKeep
// characters with a trailing marker (spec §4.1).
func truncateAssistantText(text string) string {
	if len(text) <= trimAssistantTextMaxChars {
		return text
	}
	cut := trimAssistantTextKeep
	if cut > len(text) {
		cut = len(text)
	}
	return text[:cut] + "\n...[trimmed]"
}

// flattenBlockText reduces a tool_result's "content" field (string, or array
// of text blocks) to plain text for length checks.
func flattenBlockText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if m["type"] == "text" {
				if text, ok := m["text"].(string); ok {
					if out != "" {
						out += "\n"
					}
					out += text
				}
			}
		}
		return out
	default:
		return ""
	}
}

func mustMarshalContent(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
