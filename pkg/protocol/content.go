// Package protocol defines the wire shapes both dialects this proxy speaks
// use: the Anthropic Messages API on the client side, and OpenAI Chat
// Completions / Responses API upstream. Content blocks are modeled as a
// closed set of tagged variants rather than the teacher SDK's open
// ContentPart interface, per spec §9's design note: translation becomes a
// total function over the variant instead of an interface dispatch.
package protocol

import "encoding/json"

// BlockKind discriminates a ContentBlock's variant.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockThinking   BlockKind = "thinking"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
	// BlockOpaque covers image/document blocks, which spec §3 says are
	// ignored by translation but must still round-trip through JSON decode.
	BlockOpaque BlockKind = "opaque"
)

// ContentBlock is the closed tagged-union the spec's DESIGN NOTES calls for:
// Text | Thinking | ToolUse | ToolResult, plus an Opaque catch-all for the
// image/document variants translation never looks inside.
type ContentBlock struct {
	Kind BlockKind

	Text string // BlockText, BlockThinking

	ToolUseID   string          // BlockToolUse
	ToolName    string          // BlockToolUse
	ToolInput   json.RawMessage // BlockToolUse: accumulated/complete input object
	PartialJSON string          // BlockToolUse: raw partial_json fragment, streaming only

	ToolResultID      string // BlockToolResult: tool_use_id being answered
	ToolResultContent string // BlockToolResult: flattened text content

	RawType string // BlockOpaque: original "type" field, preserved for logging
}

// anthropicBlockWire is the on-the-wire shape of one Anthropic content block.
type anthropicBlockWire struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
}

// DecodeAnthropicBlocks parses an Anthropic "content" field, which is either
// a bare string or an array of typed blocks (spec §3).
func DecodeAnthropicBlocks(raw json.RawMessage) ([]ContentBlock, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil, nil
		}
		return []ContentBlock{{Kind: BlockText, Text: asString}}, nil
	}

	var wireBlocks []anthropicBlockWire
	if err := json.Unmarshal(raw, &wireBlocks); err != nil {
		return nil, err
	}

	blocks := make([]ContentBlock, 0, len(wireBlocks))
	for _, w := range wireBlocks {
		switch w.Type {
		case "text":
			blocks = append(blocks, ContentBlock{Kind: BlockText, Text: w.Text})
		case "thinking":
			blocks = append(blocks, ContentBlock{Kind: BlockThinking, Text: w.Text})
		case "tool_use":
			blocks = append(blocks, ContentBlock{
				Kind:      BlockToolUse,
				ToolUseID: w.ID,
				ToolName:  w.Name,
				ToolInput: w.Input,
			})
		case "tool_result":
			blocks = append(blocks, ContentBlock{
				Kind:              BlockToolResult,
				ToolResultID:      w.ToolUseID,
				ToolResultContent: flattenToolResultContent(w.Content),
			})
		default:
			blocks = append(blocks, ContentBlock{Kind: BlockOpaque, RawType: w.Type})
		}
	}
	return blocks, nil
}

// flattenToolResultContent reduces a tool_result's content (string, or array
// of text blocks) down to a single string, which is all OpenAI's "tool" role
// message content accepts.
func flattenToolResultContent(content any) string {
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
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// EncodeAnthropicBlocks renders ContentBlocks back to Anthropic wire shape,
// used when P-Translate synthesizes a non-streaming response (spec §4.1,
// invariant 5: thinking? -> text? -> tool_use*).
func EncodeAnthropicBlocks(blocks []ContentBlock) []map[string]any {
	out := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case BlockText:
			out = append(out, map[string]any{"type": "text", "text": b.Text})
		case BlockThinking:
			out = append(out, map[string]any{"type": "thinking", "thinking": b.Text})
		case BlockToolUse:
			var input any = map[string]any{}
			if len(b.ToolInput) > 0 {
				_ = json.Unmarshal(b.ToolInput, &input)
			}
			out = append(out, map[string]any{
				"type": "tool_use", "id": b.ToolUseID, "name": b.ToolName, "input": input,
			})
		}
	}
	return out
}
