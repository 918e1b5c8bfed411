package keepalive

import (
	"encoding/json"
	"testing"

	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
	"github.com/jonnyhoo/ccproxy-core/pkg/ssechunk"
	"github.com/stretchr/testify/assert"
)

func TestCacheablePrefixHash_StableForIdenticalShape(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:  "claude-3",
		System: json.RawMessage(`"be terse"`),
		Tools:  []protocol.AnthropicTool{{Name: "read_file"}},
	}
	a := cacheablePrefixHash(req)
	b := cacheablePrefixHash(req)
	assert.Equal(t, a, b)
	assert.Len(t, a, 12)
}

func TestCacheablePrefixHash_ChangesWithSystemOrTools(t *testing.T) {
	base := &protocol.AnthropicRequest{Model: "claude-3", System: json.RawMessage(`"a"`)}
	changedSystem := &protocol.AnthropicRequest{Model: "claude-3", System: json.RawMessage(`"b"`)}
	changedTools := &protocol.AnthropicRequest{
		Model: "claude-3", System: json.RawMessage(`"a"`),
		Tools: []protocol.AnthropicTool{{Name: "read_file"}},
	}

	assert.NotEqual(t, cacheablePrefixHash(base), cacheablePrefixHash(changedSystem))
	assert.NotEqual(t, cacheablePrefixHash(base), cacheablePrefixHash(changedTools))
}

func TestCacheablePrefixHash_IgnoresMessages(t *testing.T) {
	a := &protocol.AnthropicRequest{
		Model: "claude-3",
		Messages: []protocol.AnthropicMessage{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	}
	b := &protocol.AnthropicRequest{
		Model: "claude-3",
		Messages: []protocol.AnthropicMessage{{Role: "user", Content: json.RawMessage(`"a completely different turn"`)}},
	}
	assert.Equal(t, cacheablePrefixHash(a), cacheablePrefixHash(b))
}

func TestParseUsageEvent_MessageStart(t *testing.T) {
	ev := ssechunk.Event{
		Name: "message_start",
		Data: `{"message":{"usage":{"input_tokens":10,"cache_read_input_tokens":20,"cache_creation_input_tokens":30}}}`,
	}
	in, out, cr, cc := parseUsageEvent(ev)
	assert.Equal(t, 10, in)
	assert.Equal(t, 0, out)
	assert.Equal(t, 20, cr)
	assert.Equal(t, 30, cc)
}

func TestParseUsageEvent_MessageDelta(t *testing.T) {
	ev := ssechunk.Event{Name: "message_delta", Data: `{"usage":{"output_tokens":42}}`}
	in, out, cr, cc := parseUsageEvent(ev)
	assert.Equal(t, 0, in)
	assert.Equal(t, 42, out)
	assert.Equal(t, 0, cr)
	assert.Equal(t, 0, cc)
}

func TestParseUsageEvent_OtherEventIsZero(t *testing.T) {
	in, out, cr, cc := parseUsageEvent(ssechunk.Event{Name: "content_block_delta", Data: `{}`})
	assert.Zero(t, in)
	assert.Zero(t, out)
	assert.Zero(t, cr)
	assert.Zero(t, cc)
}
