package translate

import (
	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
	"github.com/jonnyhoo/ccproxy-core/pkg/toolname"
)

// buildChatRequest converts an AnthropicRequest into the OpenAI Chat
// Completions shape (spec §4.1 "Translation rules").
func buildChatRequest(req *protocol.AnthropicRequest, tm *toolname.Map, forceStream bool) (*protocol.ChatRequest, error) {
	out := &protocol.ChatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      forceStream,
		Stop:        req.StopSequences,
	}
	if forceStream {
		out.StreamOptions = &protocol.StreamOptions{IncludeUsage: true}
	}

	if sys := req.SystemText(); sys != "" {
		out.Messages = append(out.Messages, protocol.ChatMessage{Role: "system", Content: sys})
	}

	msgs, err := convertMessagesToChat(req.Messages)
	if err != nil {
		return nil, err
	}
	out.Messages = append(out.Messages, msgs...)

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, protocol.ChatTool{
			Type: "function",
			Function: protocol.ChatFunction{
				Name:        tm.Apply(t.Name),
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	out.ToolChoice = convertToolChoiceToOpenAI(req.ToolChoice)

	return out, nil
}

// convertMessagesToChat flattens Anthropic's per-message content blocks into
// OpenAI's flat message sequence (spec §4.1: assistant tool_use -> tool_calls;
// user tool_result -> separate role:"tool" messages appended after preceding
// user text).
func convertMessagesToChat(messages []protocol.AnthropicMessage) ([]protocol.ChatMessage, error) {
	var out []protocol.ChatMessage

	for _, msg := range messages {
		blocks, err := protocol.DecodeAnthropicBlocks(msg.Content)
		if err != nil {
			return nil, err
		}

		switch msg.Role {
		case "assistant":
			var text string
			var toolCalls []protocol.ChatToolCall
			for _, b := range blocks {
				switch b.Kind {
				case protocol.BlockText:
					if text != "" {
						text += "\n"
					}
					text += b.Text
				case protocol.BlockToolUse:
					args := "{}"
					if len(b.ToolInput) > 0 {
						args = string(b.ToolInput)
					}
					toolCalls = append(toolCalls, protocol.ChatToolCall{
						ID:   b.ToolUseID,
						Type: "function",
						Function: protocol.ChatToolCallFunc{
							Name:      b.ToolName,
							Arguments: args,
						},
					})
				}
			}
			cm := protocol.ChatMessage{Role: "assistant", ToolCalls: toolCalls}
			if len(toolCalls) > 0 && text == "" {
				cm.Content = nil // spec §8: content:null when only tool_use blocks
			} else {
				cm.Content = text
			}
			out = append(out, cm)

		case "user":
			var text string
			var toolResults []protocol.ChatMessage
			for _, b := range blocks {
				switch b.Kind {
				case protocol.BlockText:
					if text != "" {
						text += "\n"
					}
					text += b.Text
				case protocol.BlockToolResult:
					toolResults = append(toolResults, protocol.ChatMessage{
						Role:       "tool",
						ToolCallID: b.ToolResultID,
						Content:    b.ToolResultContent,
					})
				}
			}
			if text != "" || len(toolResults) == 0 {
				out = append(out, protocol.ChatMessage{Role: "user", Content: text})
			}
			out = append(out, toolResults...)

		default:
			out = append(out, protocol.ChatMessage{Role: msg.Role, Content: blocksToPlainText(blocks)})
		}
	}

	return out, nil
}

func blocksToPlainText(blocks []protocol.ContentBlock) string {
	var text string
	for _, b := range blocks {
		if b.Kind == protocol.BlockText {
			if text != "" {
				text += "\n"
			}
			text += b.Text
		}
	}
	return text
}

// convertToolChoiceToOpenAI maps an Anthropic tool_choice directive to
// OpenAI's shape (spec §4.1): auto->"auto", any->"required",
// tool(name)->{type:function,...}, none->"none", default->"auto".
func convertToolChoiceToOpenAI(choice *protocol.AnthropicToolChoice) any {
	if choice == nil {
		return nil
	}
	switch choice.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "tool":
		return map[string]any{"type": "function", "function": map[string]any{"name": choice.Name}}
	case "none":
		return "none"
	default:
		return "auto"
	}
}

// buildResponsesRequest converts an AnthropicRequest into the OpenAI
// Responses API shape (spec §4.1). When sess has an active lastResponseID,
// outgoing requests omit instructions/tools and send only messages after the
// last assistant turn (spec §3 "Session chain state").
func buildResponsesRequest(req *protocol.AnthropicRequest, sess *session, forceStream bool) (*protocol.ResponsesRequest, error) {
	out := &protocol.ResponsesRequest{
		Model:           req.Model,
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		Stream:          forceStream,
		PromptCacheKey:  sess.stableSessionID,
	}

	lastID := sess.getLastResponseID()
	chained := lastID != ""
	if chained {
		out.PreviousResponseID = lastID
	} else {
		out.Instructions = req.SystemText()
		for _, t := range req.Tools {
			out.Tools = append(out.Tools, protocol.ResponsesTool{
				Type:        "function",
				Name:        sess.toolMap.Apply(t.Name),
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
	}

	messages := req.Messages
	if chained {
		messages = messagesAfterLastAssistantTurn(messages)
	}

	items, err := convertMessagesToResponsesInput(messages, sess.toolMap)
	if err != nil {
		return nil, err
	}
	out.Input = items

	if out.Reasoning == nil {
		out.Reasoning = &protocol.ResponsesReasoning{Effort: "medium", Summary: "auto"}
	}

	return out, nil
}

// messagesAfterLastAssistantTurn returns only the messages authored after
// the last assistant message, per spec §3's chaining contract.
func messagesAfterLastAssistantTurn(messages []protocol.AnthropicMessage) []protocol.AnthropicMessage {
	lastAssistant := -1
	for i, m := range messages {
		if m.Role == "assistant" {
			lastAssistant = i
		}
	}
	if lastAssistant == -1 {
		return messages
	}
	return messages[lastAssistant+1:]
}

func convertMessagesToResponsesInput(messages []protocol.AnthropicMessage, tm *toolname.Map) ([]protocol.ResponsesItem, error) {
	var out []protocol.ResponsesItem

	for _, msg := range messages {
		blocks, err := protocol.DecodeAnthropicBlocks(msg.Content)
		if err != nil {
			return nil, err
		}

		switch msg.Role {
		case "assistant":
			var text string
			for _, b := range blocks {
				switch b.Kind {
				case protocol.BlockText:
					if text != "" {
						text += "\n"
					}
					text += b.Text
				case protocol.BlockToolUse:
					args := "{}"
					if len(b.ToolInput) > 0 {
						args = string(b.ToolInput)
					}
					out = append(out, protocol.ResponsesItem{
						Type: "function_call", CallID: b.ToolUseID, Name: tm.Apply(b.ToolName), Arguments: args,
					})
				}
			}
			if text != "" {
				out = append(out, protocol.ResponsesItem{Type: "message", Role: "assistant", Content: text})
			}

		case "user":
			var text string
			for _, b := range blocks {
				switch b.Kind {
				case protocol.BlockText:
					if text != "" {
						text += "\n"
					}
					text += b.Text
				case protocol.BlockToolResult:
					out = append(out, protocol.ResponsesItem{
						Type: "function_call_output", CallID: b.ToolResultID, Output: b.ToolResultContent,
					})
				}
			}
			if text != "" {
				out = append(out, protocol.ResponsesItem{Type: "message", Role: "user", Content: text})
			}

		default:
			out = append(out, protocol.ResponsesItem{Type: "message", Role: msg.Role, Content: blocksToPlainText(blocks)})
		}
	}

	return out, nil
}
