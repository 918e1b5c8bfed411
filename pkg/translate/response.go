package translate

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
	"github.com/jonnyhoo/ccproxy-core/pkg/ssechunk"
	"github.com/jonnyhoo/ccproxy-core/pkg/toolname"
)

// nopFlusher satisfies ssechunk.Writer's optional Flush interface for an
// in-memory sink where flushing has no meaning.
type nopFlusher struct{ *bytes.Buffer }

func (nopFlusher) Flush() {}

// synthesizeChatResponse drains an upstream Chat Completions SSE body
// through chatStateMachine and reduces the resulting Anthropic events into a
// single non-streaming AnthropicResponse (spec §4.1: "a non-streaming client
// request still drives the same translator, just collected instead of
// forwarded").
func synthesizeChatResponse(body io.Reader, model, messageID string, tm *toolname.Map) (*protocol.AnthropicResponse, error) {
	var buf bytes.Buffer
	w := ssechunk.NewWriter(nopFlusher{&buf})
	sm := newChatStateMachine(model, messageID, tm)

	dec := ssechunk.NewDecoder()
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	for _, ev := range dec.Feed(raw) {
		if ssechunk.IsDone(ev) {
			break
		}
		var chunk protocol.ChatStreamChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			continue
		}
		if err := sm.HandleChunk(chunk, w); err != nil {
			return nil, err
		}
	}
	if err := sm.Finish(w); err != nil {
		return nil, err
	}

	return reduceAnthropicEvents(buf.Bytes(), model, messageID)
}

// synthesizeResponsesResponse is the Responses-dialect counterpart of
// synthesizeChatResponse.
func synthesizeResponsesResponse(body io.Reader, model, messageID string) (*protocol.AnthropicResponse, error) {
	var buf bytes.Buffer
	w := ssechunk.NewWriter(nopFlusher{&buf})
	sm := newResponsesStateMachine(model, messageID)

	dec := ssechunk.NewDecoder()
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	for _, ev := range dec.Feed(raw) {
		if ssechunk.IsDone(ev) {
			break
		}
		var wireEvent protocol.ResponsesStreamEvent
		if err := json.Unmarshal([]byte(ev.Data), &wireEvent); err != nil {
			continue
		}
		if err := sm.HandleEvent(wireEvent, w); err != nil {
			return nil, err
		}
	}
	if err := sm.Finish(w); err != nil {
		return nil, err
	}

	return reduceAnthropicEvents(buf.Bytes(), model, messageID)
}

// reduceAnthropicEvents replays the Anthropic SSE events P-Translate just
// emitted into a single synthesized response body.
func reduceAnthropicEvents(raw []byte, model, messageID string) (*protocol.AnthropicResponse, error) {
	resp := &protocol.AnthropicResponse{
		ID: messageID, Type: "message", Role: "assistant", Model: model,
	}

	type openBlock struct {
		kind protocol.BlockKind
		text string
		id   string
		name string
		args string
	}
	open := make(map[int]*openBlock)
	var order []int

	dec := ssechunk.NewDecoder()
	for _, ev := range dec.Feed(raw) {
		switch ev.Name {
		case "content_block_start":
			var payload struct {
				Index int `json:"index"`
				Block struct {
					Type string `json:"type"`
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"content_block"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
				continue
			}
			b := &openBlock{kind: protocol.BlockKind(payload.Block.Type), id: payload.Block.ID, name: payload.Block.Name}
			open[payload.Index] = b
			order = append(order, payload.Index)

		case "content_block_delta":
			var payload struct {
				Index int `json:"index"`
				Delta struct {
					Type        string `json:"type"`
					Text        string `json:"text"`
					Thinking    string `json:"thinking"`
					PartialJSON string `json:"partial_json"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
				continue
			}
			b, ok := open[payload.Index]
			if !ok {
				continue
			}
			switch payload.Delta.Type {
			case "text_delta":
				b.text += payload.Delta.Text
			case "thinking_delta":
				b.text += payload.Delta.Thinking
			case "input_json_delta":
				b.args += payload.Delta.PartialJSON
			}

		case "message_delta":
			var payload struct {
				Delta struct {
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
				Usage struct {
					OutputTokens int `json:"output_tokens"`
				} `json:"usage"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &payload); err == nil {
				resp.StopReason = payload.Delta.StopReason
				resp.Usage.OutputTokens = payload.Usage.OutputTokens
			}

		case "message_start":
			var payload struct {
				Message struct {
					Usage struct {
						InputTokens int `json:"input_tokens"`
					} `json:"usage"`
				} `json:"message"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &payload); err == nil {
				resp.Usage.InputTokens = payload.Message.Usage.InputTokens
			}
		}
	}

	for _, idx := range order {
		b := open[idx]
		switch b.kind {
		case protocol.BlockText:
			resp.Content = append(resp.Content, map[string]any{"type": "text", "text": b.text})
		case protocol.BlockThinking:
			resp.Content = append(resp.Content, map[string]any{"type": "thinking", "thinking": b.text})
		case protocol.BlockToolUse:
			var input any = map[string]any{}
			if b.args != "" {
				_ = json.Unmarshal([]byte(b.args), &input)
			}
			resp.Content = append(resp.Content, map[string]any{
				"type": "tool_use", "id": b.id, "name": b.name, "input": input,
			})
		}
	}

	return resp, nil
}
