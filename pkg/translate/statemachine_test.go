package translate

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
	"github.com/jonnyhoo/ccproxy-core/pkg/ssechunk"
	"github.com/jonnyhoo/ccproxy-core/pkg/toolname"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, raw []byte) []ssechunk.Event {
	t.Helper()
	dec := ssechunk.NewDecoder()
	return dec.Feed(raw)
}

func TestChatStateMachine_TextThenFinish(t *testing.T) {
	var buf bytes.Buffer
	w := ssechunk.NewWriter(nopFlusher{&buf})
	sm := newChatStateMachine("gpt-4o", "msg_1", toolname.NewMap())

	text1, text2 := "Hello", " world"
	require.NoError(t, sm.HandleChunk(protocol.ChatStreamChunk{
		Choices: []protocol.ChatStreamChoice{{Delta: protocol.ChatStreamDelta{Content: &text1}}},
	}, w))
	require.NoError(t, sm.HandleChunk(protocol.ChatStreamChunk{
		Choices: []protocol.ChatStreamChoice{{Delta: protocol.ChatStreamDelta{Content: &text2}}},
	}, w))
	stop := "stop"
	require.NoError(t, sm.HandleChunk(protocol.ChatStreamChunk{
		Choices: []protocol.ChatStreamChoice{{FinishReason: &stop}},
	}, w))
	require.NoError(t, sm.Finish(w))

	events := collectEvents(t, buf.Bytes())
	var names []string
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{
		"message_start", "content_block_start", "content_block_delta",
		"content_block_delta", "content_block_stop", "message_delta", "message_stop",
	}, names)
}

func TestChatStateMachine_ToolCallRoundTripsSanitizedName(t *testing.T) {
	tm := toolname.NewMap()
	sanitized := tm.Apply("mcp__filesystem__read_file")

	var buf bytes.Buffer
	w := ssechunk.NewWriter(nopFlusher{&buf})
	sm := newChatStateMachine("gpt-4o", "msg_2", tm)

	require.NoError(t, sm.HandleChunk(protocol.ChatStreamChunk{
		Choices: []protocol.ChatStreamChoice{{Delta: protocol.ChatStreamDelta{
			ToolCalls: []protocol.ChatStreamToolCall{{
				Index: 0, ID: "call_1",
				Function: protocol.ChatToolCallFunc{Name: sanitized, Arguments: `{"path":`},
			}},
		}}},
	}, w))
	require.NoError(t, sm.HandleChunk(protocol.ChatStreamChunk{
		Choices: []protocol.ChatStreamChoice{{Delta: protocol.ChatStreamDelta{
			ToolCalls: []protocol.ChatStreamToolCall{{Index: 0, Function: protocol.ChatToolCallFunc{Arguments: `"a.txt"}`}}},
		}}},
	}, w))
	require.NoError(t, sm.Finish(w))

	resp, err := reduceAnthropicEvents(buf.Bytes(), "gpt-4o", "msg_2")
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	block := resp.Content[0]
	assert.Equal(t, "tool_use", block["type"])
	// The block must carry the original, un-sanitized tool name.
	assert.Equal(t, "mcp__filesystem__read_file", block["name"])
	input, ok := block["input"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a.txt", input["path"])
}

func TestChatStateMachine_IndexMonotonicAcrossBlocks(t *testing.T) {
	var buf bytes.Buffer
	w := ssechunk.NewWriter(nopFlusher{&buf})
	sm := newChatStateMachine("gpt-4o", "msg_3", toolname.NewMap())

	text := "thinking then answering"
	require.NoError(t, sm.HandleChunk(protocol.ChatStreamChunk{
		Choices: []protocol.ChatStreamChoice{{Delta: protocol.ChatStreamDelta{Content: &text}}},
	}, w))
	require.NoError(t, sm.HandleChunk(protocol.ChatStreamChunk{
		Choices: []protocol.ChatStreamChoice{{Delta: protocol.ChatStreamDelta{
			ToolCalls: []protocol.ChatStreamToolCall{{Index: 0, ID: "call_1", Function: protocol.ChatToolCallFunc{Name: "lookup", Arguments: "{}"}}},
		}}},
	}, w))
	require.NoError(t, sm.Finish(w))

	events := collectEvents(t, buf.Bytes())
	var startIndices []int
	for _, ev := range events {
		if ev.Name != "content_block_start" {
			continue
		}
		var payload struct {
			Index int `json:"index"`
		}
		require.NoError(t, json.Unmarshal([]byte(ev.Data), &payload))
		startIndices = append(startIndices, payload.Index)
	}
	assert.Equal(t, []int{0, 1}, startIndices)
}
