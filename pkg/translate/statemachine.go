package translate

import (
	"encoding/json"
	"fmt"

	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
	"github.com/jonnyhoo/ccproxy-core/pkg/ssechunk"
	"github.com/jonnyhoo/ccproxy-core/pkg/toolname"
)

// blockState tracks one open Anthropic content block while an upstream
// stream is being translated.
type blockState struct {
	kind      protocol.BlockKind
	toolUseID string
	toolName  string
	argsBuf   string // accumulated tool_call arguments JSON text, streaming only
}

// chatStateMachine converts a Chat Completions SSE stream into Anthropic SSE
// events (spec §4.1's event-mapping table), one upstream chunk at a time.
// Grounded on the teacher's openAIStream.Next, generalized from "decode one
// chunk into one provider.StreamChunk" into "decode one chunk and emit zero
// or more Anthropic wire events".
type chatStateMachine struct {
	model        string
	messageID    string
	tm           *toolname.Map
	started      bool
	blocks       []blockState
	openIndex    int // index of the currently open block, -1 if none
	toolIndexMap map[int]int // upstream tool_calls[].index -> blocks index
	inputTokens  int
	outputTokens int
	stopReason   string
}

func newChatStateMachine(model, messageID string, tm *toolname.Map) *chatStateMachine {
	return &chatStateMachine{
		model:        model,
		messageID:    messageID,
		tm:           tm,
		openIndex:    -1,
		toolIndexMap: make(map[int]int),
		stopReason:   "end_turn",
	}
}

func (sm *chatStateMachine) ensureStarted(w *ssechunk.Writer) error {
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

func (sm *chatStateMachine) closeOpenBlock(w *ssechunk.Writer) error {
	if sm.openIndex < 0 {
		return nil
	}
	idx := sm.openIndex
	sm.openIndex = -1
	return emitEvent(w, "content_block_stop", map[string]any{
		"type": "content_block_stop", "index": idx,
	})
}

// HandleChunk applies one decoded Chat Completions chunk, emitting any
// Anthropic events it implies.
func (sm *chatStateMachine) HandleChunk(chunk protocol.ChatStreamChunk, w *ssechunk.Writer) error {
	if err := sm.ensureStarted(w); err != nil {
		return err
	}
	if chunk.Usage != nil {
		sm.inputTokens = chunk.Usage.PromptTokens
		sm.outputTokens = chunk.Usage.CompletionTokens
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	if delta.Content != nil && *delta.Content != "" {
		if err := sm.ensureTextBlockOpen(w); err != nil {
			return err
		}
		if err := emitEvent(w, "content_block_delta", map[string]any{
			"type": "content_block_delta", "index": sm.openIndex,
			"delta": map[string]any{"type": "text_delta", "text": *delta.Content},
		}); err != nil {
			return err
		}
	}

	if delta.ReasoningContent != nil && *delta.ReasoningContent != "" {
		if err := sm.ensureThinkingBlockOpen(w); err != nil {
			return err
		}
		if err := emitEvent(w, "content_block_delta", map[string]any{
			"type": "content_block_delta", "index": sm.openIndex,
			"delta": map[string]any{"type": "thinking_delta", "thinking": *delta.ReasoningContent},
		}); err != nil {
			return err
		}
	}

	for _, tc := range delta.ToolCalls {
		if err := sm.applyToolCallDelta(tc, w); err != nil {
			return err
		}
	}

	if choice.FinishReason != nil {
		sm.stopReason = anthropicStopReason(*choice.FinishReason)
	}

	return nil
}

func (sm *chatStateMachine) ensureTextBlockOpen(w *ssechunk.Writer) error {
	if sm.openIndex >= 0 && sm.blocks[sm.openIndex].kind == protocol.BlockText {
		return nil
	}
	if err := sm.closeOpenBlock(w); err != nil {
		return err
	}
	idx := len(sm.blocks)
	sm.blocks = append(sm.blocks, blockState{kind: protocol.BlockText})
	sm.openIndex = idx
	return emitEvent(w, "content_block_start", map[string]any{
		"type": "content_block_start", "index": idx,
		"content_block": map[string]any{"type": "text", "text": ""},
	})
}

func (sm *chatStateMachine) ensureThinkingBlockOpen(w *ssechunk.Writer) error {
	if sm.openIndex >= 0 && sm.blocks[sm.openIndex].kind == protocol.BlockThinking {
		return nil
	}
	if err := sm.closeOpenBlock(w); err != nil {
		return err
	}
	idx := len(sm.blocks)
	sm.blocks = append(sm.blocks, blockState{kind: protocol.BlockThinking})
	sm.openIndex = idx
	return emitEvent(w, "content_block_start", map[string]any{
		"type": "content_block_start", "index": idx,
		"content_block": map[string]any{"type": "thinking", "thinking": ""},
	})
}

// applyToolCallDelta handles one incremental tool_calls[] entry. A new
// upstream index always opens a new Anthropic block; a repeated index
// streams partial_json into that block's running argsBuf (spec §4.1: tool
// inputs stream as raw partial_json fragments, not structured deltas).
func (sm *chatStateMachine) applyToolCallDelta(tc protocol.ChatStreamToolCall, w *ssechunk.Writer) error {
	idx, known := sm.toolIndexMap[tc.Index]
	if !known {
		if err := sm.closeOpenBlock(w); err != nil {
			return err
		}
		idx = len(sm.blocks)
		name := sm.tm.Restore(tc.Function.Name)
		if name == "" {
			name = tc.Function.Name
		}
		sm.blocks = append(sm.blocks, blockState{
			kind:      protocol.BlockToolUse,
			toolUseID: tc.ID,
			toolName:  name,
		})
		sm.toolIndexMap[tc.Index] = idx
		sm.openIndex = idx
		if err := emitEvent(w, "content_block_start", map[string]any{
			"type": "content_block_start", "index": idx,
			"content_block": map[string]any{
				"type": "tool_use", "id": tc.ID, "name": name, "input": map[string]any{},
			},
		}); err != nil {
			return err
		}
	}

	if tc.Function.Arguments == "" {
		return nil
	}
	sm.blocks[idx].argsBuf += tc.Function.Arguments
	return emitEvent(w, "content_block_delta", map[string]any{
		"type": "content_block_delta", "index": idx,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": tc.Function.Arguments},
	})
}

// Finish closes any open block and emits message_delta + message_stop,
// completing the translated stream (spec §4.1 invariant: every opened block
// closes before message_stop).
func (sm *chatStateMachine) Finish(w *ssechunk.Writer) error {
	if err := sm.ensureStarted(w); err != nil {
		return err
	}
	if err := sm.closeOpenBlock(w); err != nil {
		return err
	}
	if err := emitEvent(w, "message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": sm.stopReason, "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": sm.outputTokens},
	}); err != nil {
		return err
	}
	return emitEvent(w, "message_stop", map[string]any{"type": "message_stop"})
}

// anthropicStopReason maps an OpenAI finish_reason to an Anthropic
// stop_reason (spec §4.1).
func anthropicStopReason(openaiReason string) string {
	switch openaiReason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

func emitEvent(w *ssechunk.Writer, name string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("translate: marshal %s event: %w", name, err)
	}
	return w.WriteEvent(name, string(body))
}
