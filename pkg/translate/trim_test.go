package translate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textMessage(role, text string) protocol.AnthropicMessage {
	b, _ := json.Marshal(text)
	return protocol.AnthropicMessage{Role: role, Content: b}
}

func blockMessage(role string, blocks ...map[string]any) protocol.AnthropicMessage {
	b, _ := json.Marshal(blocks)
	return protocol.AnthropicMessage{Role: role, Content: b}
}

func makeMessages(n int) []protocol.AnthropicMessage {
	msgs := make([]protocol.AnthropicMessage, n)
	for i := range msgs {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs[i] = textMessage(role, "turn")
	}
	return msgs
}

func TestTrimMessages_ShortHistoryUntouched(t *testing.T) {
	msgs := makeMessages(8)
	assert.Equal(t, msgs, trimMessages(msgs))
}

func TestTrimMessages_ProtectsLast30PercentMinTen(t *testing.T) {
	msgs := makeMessages(40)
	trimmed := trimMessages(msgs)
	tail := msgs[28:]
	require.GreaterOrEqual(t, len(trimmed), len(tail))
	assert.Equal(t, tail, trimmed[len(trimmed)-len(tail):])
}

func TestShrinkOversizeContent_TruncatesOversizeToolResult(t *testing.T) {
	// shrinkOversizeContent is step (1) of the trim algorithm, tested in
	// isolation: step (2) unconditionally drops every tool_result block
	// from the prefix regardless of size, so a truncated-but-kept
	// tool result is only ever observable between these two steps.
	long := strings.Repeat("x", 500)
	msgs := []protocol.AnthropicMessage{blockMessage("user", map[string]any{
		"type": "tool_result", "tool_use_id": "call_1", "content": long,
	})}

	shrunk := shrinkOversizeContent(msgs)

	var blocks []map[string]any
	require.NoError(t, json.Unmarshal(shrunk[0].Content, &blocks))
	assert.Equal(t, "[trimmed tool output]", blocks[0]["content"])
}

func TestTrimMessages_TruncatesOversizeAssistantText(t *testing.T) {
	// n=20, tail=10, prefix=10: the prefix stays within the last-6 cap's
	// threshold, so the truncated message is still trimmed[0].
	long := strings.Repeat("y", 600)
	msgs := make([]protocol.AnthropicMessage, 0, 20)
	msgs = append(msgs, textMessage("assistant", long))
	msgs = append(msgs, makeMessages(19)...)

	trimmed := trimMessages(msgs)

	var text string
	require.NoError(t, json.Unmarshal(trimmed[0].Content, &text))
	assert.True(t, strings.HasSuffix(text, "\n...[trimmed]"))
	assert.Less(t, len(text), 600)
}

func TestTrimMessages_DropsToolResultMessagesAndStripsToolCalls(t *testing.T) {
	// n=14, tail=10 (30% of 14 rounds below the 10 floor), prefix=4: small
	// enough that the prefix never hits the last-6 cap, isolating the
	// drop/strip step from it.
	msgs := make([]protocol.AnthropicMessage, 0, 14)
	msgs = append(msgs,
		blockMessage("assistant", map[string]any{"type": "tool_use", "id": "call_1", "name": "calc", "input": map[string]any{}}),
		blockMessage("user", map[string]any{"type": "tool_result", "tool_use_id": "call_1", "content": "4"}),
	)
	msgs = append(msgs, makeMessages(12)...)

	trimmed := trimMessages(msgs)

	require.Len(t, trimmed, 13, "the tool-result message is dropped entirely")
	var asText string
	require.NoError(t, json.Unmarshal(trimmed[0].Content, &asText))
	assert.Equal(t, "[tool calls removed]", asText)
}

func TestTrimMessages_ShrinksPrefixToLastSixWhenStillOverTen(t *testing.T) {
	msgs := makeMessages(60)
	trimmed := trimMessages(msgs)
	protectedTail := 18
	prefixLen := len(trimmed) - protectedTail
	assert.LessOrEqual(t, prefixLen, trimPrefixCap)
}

func TestTrimMessages_DropsOrphanedToolResultAfterCallStripped(t *testing.T) {
	// n=20, tail=10, prefix=10: the tool_use lives in the prefix (and is
	// stripped there) while its matching tool_result lives in the protected
	// tail, untouched by the prefix steps - only the final orphan pass can
	// catch it.
	msgs := make([]protocol.AnthropicMessage, 0, 20)
	msgs = append(msgs, blockMessage("assistant", map[string]any{"type": "tool_use", "id": "call_1", "name": "calc", "input": map[string]any{}}))
	msgs = append(msgs, makeMessages(9)...)
	msgs = append(msgs, blockMessage("user", map[string]any{"type": "tool_result", "tool_use_id": "call_1", "content": "4"}))
	msgs = append(msgs, makeMessages(9)...)

	trimmed := trimMessages(msgs)

	require.Len(t, trimmed, 19, "the orphaned tool-result message is dropped")
	for _, m := range trimmed {
		var blocks []map[string]any
		if json.Unmarshal(m.Content, &blocks) == nil {
			for _, b := range blocks {
				if b["type"] == "tool_result" {
					assert.NotEqual(t, "call_1", b["tool_use_id"])
				}
			}
		}
	}
}

func TestLooksLikeContextOverflow(t *testing.T) {
	cases := map[string]bool{
		`{"error":{"message":"This model's maximum context length is 8192 tokens"}}`: true,
		`{"error":{"code":"context_length_exceeded"}}`:                               true,
		`{"error":{"message":"invalid api key"}}`:                                    false,
	}
	for body, want := range cases {
		assert.Equal(t, want, looksLikeContextOverflow(body), body)
	}
}

func TestLooksLikeStaleChain(t *testing.T) {
	assert.True(t, looksLikeStaleChain(`{"error":{"message":"Previous response with id resp_123 not found"}}`))
	assert.False(t, looksLikeStaleChain(`{"error":{"message":"rate limit exceeded"}}`))
}
