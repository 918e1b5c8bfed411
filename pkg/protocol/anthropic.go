package protocol

import "encoding/json"

// AnthropicMessage is one entry in a request's "messages" array.
type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// AnthropicTool is one entry in a request's "tools" array.
type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// AnthropicToolChoice is the request's "tool_choice" directive.
type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// AnthropicThinking is the request's "thinking" directive, used by
// P-Routing's scenario classifier (spec §4.4).
type AnthropicThinking struct {
	Type         string `json:"type,omitempty"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// AnthropicRequest is the client-side contract: a parsed Anthropic Messages
// API request body (spec §3).
type AnthropicRequest struct {
	Model         string              `json:"model"`
	MaxTokens     int                 `json:"max_tokens"`
	System        json.RawMessage     `json:"system,omitempty"`
	Messages      []AnthropicMessage  `json:"messages"`
	Tools         []AnthropicTool     `json:"tools,omitempty"`
	ToolChoice    *AnthropicToolChoice `json:"tool_choice,omitempty"`
	Temperature   *float64            `json:"temperature,omitempty"`
	TopP          *float64            `json:"top_p,omitempty"`
	TopK          *int                `json:"top_k,omitempty"`
	StopSequences []string            `json:"stop_sequences,omitempty"`
	Thinking      *AnthropicThinking  `json:"thinking,omitempty"`
	Stream        bool                `json:"stream,omitempty"`
}

// SystemText concatenates the request's "system" field, which may be a bare
// string or an array of typed text blocks, joined by "\n" (spec §4.1).
func (r *AnthropicRequest) SystemText() string {
	if len(r.System) == 0 || string(r.System) == "null" {
		return ""
	}
	var asString string
	if err := json.Unmarshal(r.System, &asString); err == nil {
		return asString
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(r.System, &blocks); err != nil {
		return ""
	}
	out := ""
	for i, b := range blocks {
		if b.Type != "" && b.Type != "text" {
			continue
		}
		if i > 0 && out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// AnthropicUsage mirrors the "usage" object carried on message_start and
// message_delta events.
type AnthropicUsage struct {
	InputTokens              int `json:"input_tokens,omitempty"`
	OutputTokens             int `json:"output_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// AnthropicResponse is the synthesized non-streaming response shape.
type AnthropicResponse struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Role       string           `json:"role"`
	Model      string           `json:"model"`
	Content    []map[string]any `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      AnthropicUsage   `json:"usage"`
}

// AnthropicModelsResponse is the normalized shape for GET /v1/models (spec §4.1).
type AnthropicModelsResponse struct {
	Data    []AnthropicModel `json:"data"`
	FirstID string           `json:"first_id"`
	LastID  string           `json:"last_id"`
	HasMore bool              `json:"has_more"`
}

// AnthropicModel is one entry in AnthropicModelsResponse.Data.
type AnthropicModel struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at,omitempty"`
}
