package sanitize

import (
	"encoding/json"
	"testing"

	"github.com/jonnyhoo/ccproxy-core/pkg/toolname"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteRequestBody_ToolsAndToolUse(t *testing.T) {
	m := toolname.NewMap()
	body := []byte(`{
		"model": "claude-3",
		"tools": [{"name": "mcp__filesystem__read_file", "description": "reads a file"}],
		"messages": [
			{"role": "assistant", "content": [{"type": "tool_use", "id": "1", "name": "mcp__filesystem__read_file", "input": {}}]},
			{"role": "user", "content": "plain text, untouched"}
		]
	}`)

	var renames [][2]string
	out := RewriteRequestBody(body, m, func(from, to string) { renames = append(renames, [2]string{from, to}) })

	require.Len(t, renames, 2, "both the tools[] declaration and the tool_use block must be renamed")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	tools := decoded["tools"].([]any)
	toolName := tools[0].(map[string]any)["name"].(string)
	assert.NotEqual(t, "mcp__filesystem__read_file", toolName)
	assert.True(t, toolname.IsValid(toolName))

	messages := decoded["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	usedName := content[0].(map[string]any)["name"].(string)
	assert.Equal(t, toolName, usedName, "the tools[] rename and the tool_use rename must agree for the same name")
}

func TestRewriteRequestBody_AlreadyValidNamesUntouched(t *testing.T) {
	m := toolname.NewMap()
	body := []byte(`{"tools":[{"name":"read_file"}],"messages":[]}`)
	out := RewriteRequestBody(body, m, nil)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	tools := decoded["tools"].([]any)
	assert.Equal(t, "read_file", tools[0].(map[string]any)["name"])
}

func TestRewriteRequestBody_MalformedBodyPassesThroughUnchanged(t *testing.T) {
	m := toolname.NewMap()
	malformed := []byte(`not json at all`)
	out := RewriteRequestBody(malformed, m, nil)
	assert.Equal(t, malformed, out)
}

func TestRewriteContentBlockStartEvent_ReversesKnownRename(t *testing.T) {
	m := toolname.NewMap()
	short := m.Apply("mcp__filesystem__read_file")

	data := []byte(`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"1","name":"` + short + `","input":{}}}`)
	out := RewriteContentBlockStartEvent(data, m)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	block := decoded["content_block"].(map[string]any)
	assert.Equal(t, "mcp__filesystem__read_file", block["name"])
}

func TestRewriteContentBlockStartEvent_NonToolUsePassesThrough(t *testing.T) {
	m := toolname.NewMap()
	data := []byte(`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)
	out := RewriteContentBlockStartEvent(data, m)
	assert.JSONEq(t, string(data), string(out))
}
