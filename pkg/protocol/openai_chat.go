package protocol

import "encoding/json"

// ChatMessage is one entry in an OpenAI Chat Completions request's flat
// "messages" array (spec §3: "OpenAI request (upstream contract, Chat
// Completions shape)").
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    any             `json:"content,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []ChatToolCall  `json:"tool_calls,omitempty"`
}

// ChatToolCall is an assistant message's tool_calls[] entry.
type ChatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ChatToolCallFunc `json:"function"`
}

// ChatToolCallFunc is the function payload of a ChatToolCall.
type ChatToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatTool is one entry in the request's "tools" array.
type ChatTool struct {
	Type     string       `json:"type"`
	Function ChatFunction `json:"function"`
}

// ChatFunction is the function schema of a ChatTool.
type ChatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest is the OpenAI Chat Completions request body P-Translate emits
// upstream.
type ChatRequest struct {
	Model         string        `json:"model"`
	Messages      []ChatMessage `json:"messages"`
	Tools         []ChatTool    `json:"tools,omitempty"`
	ToolChoice    any           `json:"tool_choice,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Stream        bool          `json:"stream"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
	Stop          []string      `json:"stop,omitempty"`
}

// StreamOptions enables include_usage so SSE chunks carry token counts.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatUsage is the "usage" object on a Chat Completions response/chunk.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ChatStreamChunk is one SSE "data:" payload from the Chat Completions
// streaming endpoint.
type ChatStreamChunk struct {
	Choices []ChatStreamChoice `json:"choices"`
	Usage   *ChatUsage         `json:"usage,omitempty"`
}

// ChatStreamChoice is one entry in a ChatStreamChunk's "choices" array.
type ChatStreamChoice struct {
	Index        int             `json:"index"`
	Delta        ChatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

// ChatStreamDelta is the incremental content carried by one streaming choice.
type ChatStreamDelta struct {
	Content          *string               `json:"content,omitempty"`
	ReasoningContent *string               `json:"reasoning_content,omitempty"`
	ToolCalls        []ChatStreamToolCall  `json:"tool_calls,omitempty"`
}

// ChatStreamToolCall is an incremental tool_calls[] entry in a stream delta.
type ChatStreamToolCall struct {
	Index    int              `json:"index"`
	ID       string           `json:"id,omitempty"`
	Function ChatToolCallFunc `json:"function"`
}

// ChatResponse is the non-streaming Chat Completions response shape.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage ChatUsage `json:"usage"`
}

// ChatError is the error envelope an OpenAI-compatible endpoint returns.
type ChatError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ModelsListResponse is the OpenAI-shaped GET /v1/models response.
type ModelsListResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Created int64  `json:"created"`
	} `json:"data"`
}
