package translate

import (
	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
	"github.com/jonnyhoo/ccproxy-core/pkg/ssechunk"
)

// responsesStateMachine converts a Responses API SSE stream into Anthropic
// SSE events. The Responses API already names one event per content-block
// transition, so this is closer to a rename than the Chat dialect's
// chunk-to-events fan-out (spec §4.1's "Responses API" row of the event
// table).
type responsesStateMachine struct {
	model       string
	messageID   string
	started     bool
	openIndex   int
	nextIndex   int
	blockByItem map[string]int // item id/call_id -> block index
	usage       protocol.ResponsesUsage
	stopReason  string
}

func newResponsesStateMachine(model, messageID string) *responsesStateMachine {
	return &responsesStateMachine{
		model:       model,
		messageID:   messageID,
		openIndex:   -1,
		blockByItem: make(map[string]int),
		stopReason:  "end_turn",
	}
}

func (sm *responsesStateMachine) ensureStarted(w *ssechunk.Writer) error {
	if sm.started {
		return nil
	}
	sm.started = true
	return emitEvent(w, "message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":      sm.messageID,
			"type":    "message",
			"role":    "assistant",
			"model":   sm.model,
			"content": []any{},
			"usage":   map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})
}

// HandleEvent applies one decoded Responses API stream event.
func (sm *responsesStateMachine) HandleEvent(ev protocol.ResponsesStreamEvent, w *ssechunk.Writer) error {
	if err := sm.ensureStarted(w); err != nil {
		return err
	}

	switch ev.Type {
	case "response.output_item.added":
		return sm.openItem(ev.Item, w)

	case "response.output_text.delta":
		if sm.openIndex < 0 {
			return nil
		}
		return emitEvent(w, "content_block_delta", map[string]any{
			"type": "content_block_delta", "index": sm.openIndex,
			"delta": map[string]any{"type": "text_delta", "text": ev.Delta},
		})

	case "response.reasoning_summary_text.delta":
		if sm.openIndex < 0 {
			return nil
		}
		return emitEvent(w, "content_block_delta", map[string]any{
			"type": "content_block_delta", "index": sm.openIndex,
			"delta": map[string]any{"type": "thinking_delta", "thinking": ev.Delta},
		})

	case "response.function_call_arguments.delta":
		if sm.openIndex < 0 {
			return nil
		}
		return emitEvent(w, "content_block_delta", map[string]any{
			"type": "content_block_delta", "index": sm.openIndex,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.Delta},
		})

	case "response.output_item.done":
		return sm.closeOpenBlock(w)

	case "response.completed":
		if ev.Response != nil {
			sm.usage = ev.Response.Usage
		}
		return nil

	case "error":
		sm.stopReason = "end_turn"
		return nil

	default:
		return nil // unrecognized event types are dropped, spec §4.1
	}
}

func (sm *responsesStateMachine) openItem(item *protocol.ResponsesItem, w *ssechunk.Writer) error {
	if item == nil {
		return nil
	}
	if err := sm.closeOpenBlock(w); err != nil {
		return err
	}

	idx := sm.nextIndex
	sm.nextIndex++
	sm.openIndex = idx

	switch item.Type {
	case "function_call":
		sm.blockByItem[item.CallID] = idx
		sm.stopReason = "tool_use"
		return emitEvent(w, "content_block_start", map[string]any{
			"type": "content_block_start", "index": idx,
			"content_block": map[string]any{
				"type": "tool_use", "id": item.CallID, "name": item.Name, "input": map[string]any{},
			},
		})
	default: // "message"
		return emitEvent(w, "content_block_start", map[string]any{
			"type": "content_block_start", "index": idx,
			"content_block": map[string]any{"type": "text", "text": ""},
		})
	}
}

func (sm *responsesStateMachine) closeOpenBlock(w *ssechunk.Writer) error {
	if sm.openIndex < 0 {
		return nil
	}
	idx := sm.openIndex
	sm.openIndex = -1
	return emitEvent(w, "content_block_stop", map[string]any{
		"type": "content_block_stop", "index": idx,
	})
}

// Finish closes any open block and emits message_delta + message_stop using
// the usage totals accumulated from response.completed.
func (sm *responsesStateMachine) Finish(w *ssechunk.Writer) error {
	if err := sm.ensureStarted(w); err != nil {
		return err
	}
	if err := sm.closeOpenBlock(w); err != nil {
		return err
	}
	if err := emitEvent(w, "message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": sm.stopReason, "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": sm.usage.OutputTokens},
	}); err != nil {
		return err
	}
	return emitEvent(w, "message_stop", map[string]any{"type": "message_stop"})
}
