package sanitize

import (
	"encoding/json"

	"github.com/jonnyhoo/ccproxy-core/pkg/toolname"
)

// RewriteRequestBody sanitizes every tool name found in a /v1/messages
// request body using m, returning the rewritten body. On any parse failure
// it returns the original bytes unchanged (spec §4.2 "Failure model": the
// proxy never blocks a request it cannot understand).
func RewriteRequestBody(raw []byte, m *toolname.Map, onRename func(from, to string)) []byte {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return raw
	}

	changed := false

	if toolsRaw, ok := fields["tools"]; ok {
		var tools []json.RawMessage
		if err := json.Unmarshal(toolsRaw, &tools); err == nil {
			for i, t := range tools {
				rewritten, ok := rewriteToolName(t, m, onRename)
				if ok {
					tools[i] = rewritten
					changed = true
				}
			}
			if changed {
				if b, err := json.Marshal(tools); err == nil {
					fields["tools"] = b
				}
			}
		}
	}

	if msgsRaw, ok := fields["messages"]; ok {
		var messages []json.RawMessage
		if err := json.Unmarshal(msgsRaw, &messages); err == nil {
			msgsChanged := false
			for i, msgRaw := range messages {
				rewritten, did := rewriteMessageToolUse(msgRaw, m, onRename)
				if did {
					messages[i] = rewritten
					msgsChanged = true
				}
			}
			if msgsChanged {
				if b, err := json.Marshal(messages); err == nil {
					fields["messages"] = b
					changed = true
				}
			}
		}
	}

	if !changed {
		return raw
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return out
}

func rewriteToolName(raw json.RawMessage, m *toolname.Map, onRename func(from, to string)) (json.RawMessage, bool) {
	var decl map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decl); err != nil {
		return raw, false
	}
	var name string
	if err := json.Unmarshal(decl["name"], &name); err != nil {
		return raw, false
	}
	short := m.Apply(name)
	if short == name {
		return raw, false
	}
	if onRename != nil {
		onRename(name, short)
	}
	nameJSON, _ := json.Marshal(short)
	decl["name"] = nameJSON
	out, err := json.Marshal(decl)
	if err != nil {
		return raw, false
	}
	return out, true
}

func rewriteMessageToolUse(raw json.RawMessage, m *toolname.Map, onRename func(from, to string)) (json.RawMessage, bool) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return raw, false
	}
	contentRaw, ok := env["content"]
	if !ok {
		return raw, false
	}
	var blocks []json.RawMessage
	if err := json.Unmarshal(contentRaw, &blocks); err != nil {
		return raw, false // bare-string content has no tool_use blocks
	}

	changed := false
	for i, block := range blocks {
		var b map[string]json.RawMessage
		if err := json.Unmarshal(block, &b); err != nil {
			continue
		}
		var blockType string
		if err := json.Unmarshal(b["type"], &blockType); err != nil || blockType != "tool_use" {
			continue
		}
		var name string
		if err := json.Unmarshal(b["name"], &name); err != nil {
			continue
		}
		short := m.Apply(name)
		if short == name {
			continue
		}
		if onRename != nil {
			onRename(name, short)
		}
		nameJSON, _ := json.Marshal(short)
		b["name"] = nameJSON
		rewritten, err := json.Marshal(b)
		if err != nil {
			continue
		}
		blocks[i] = rewritten
		changed = true
	}
	if !changed {
		return raw, false
	}
	contentJSON, err := json.Marshal(blocks)
	if err != nil {
		return raw, false
	}
	env["content"] = contentJSON
	out, err := json.Marshal(env)
	if err != nil {
		return raw, false
	}
	return out, true
}

// RewriteContentBlockStartEvent reverses a tool_use content_block_start
// event's "name" field back to the original, if it was ever rewritten (spec
// §4.2: "Response SSE is intercepted... reversed through the map"). Returns
// the data unchanged if it doesn't parse or isn't a tool_use block.
func RewriteContentBlockStartEvent(data []byte, m *toolname.Map) []byte {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return data
	}
	blockRaw, ok := env["content_block"]
	if !ok {
		return data
	}
	var block map[string]json.RawMessage
	if err := json.Unmarshal(blockRaw, &block); err != nil {
		return data
	}
	var blockType string
	if err := json.Unmarshal(block["type"], &blockType); err != nil || blockType != "tool_use" {
		return data
	}
	var name string
	if err := json.Unmarshal(block["name"], &name); err != nil {
		return data
	}
	orig := m.Restore(name)
	if orig == name {
		return data
	}
	nameJSON, _ := json.Marshal(orig)
	block["name"] = nameJSON
	blockJSON, err := json.Marshal(block)
	if err != nil {
		return data
	}
	env["content_block"] = blockJSON
	out, err := json.Marshal(env)
	if err != nil {
		return data
	}
	return out
}
