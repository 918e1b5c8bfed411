package protocol

import "encoding/json"

// ResponsesRequest is the OpenAI Responses API request body (spec §3:
// "OpenAI Responses request (alternative upstream shape)").
type ResponsesRequest struct {
	Model              string            `json:"model"`
	Input              []ResponsesItem   `json:"input"`
	Instructions       string            `json:"instructions,omitempty"`
	Tools              []ResponsesTool   `json:"tools,omitempty"`
	ToolChoice         any               `json:"tool_choice,omitempty"`
	Reasoning          *ResponsesReasoning `json:"reasoning,omitempty"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	PromptCacheKey     string            `json:"prompt_cache_key,omitempty"`
	Temperature        *float64          `json:"temperature,omitempty"`
	TopP               *float64          `json:"top_p,omitempty"`
	Stream             bool              `json:"stream"`
	MaxOutputTokens    int               `json:"max_output_tokens,omitempty"`
}

// ResponsesReasoning configures the Responses API's reasoning summary.
type ResponsesReasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// ResponsesTool is a flattened (non-nested) function tool declaration.
type ResponsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ResponsesItem is one entry of the Responses API's "input" sequence: a
// message, a function_call, or a function_call_output (spec §3).
type ResponsesItem struct {
	Type string `json:"type,omitempty"`

	// message item
	Role    string `json:"role,omitempty"`
	Content any    `json:"content,omitempty"`

	// function_call item
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output item
	Output string `json:"output,omitempty"`
}

// ResponsesUsage is the usage object on response.completed.
type ResponsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResponsesStreamEvent is one SSE "data:" payload from the Responses API
// streaming endpoint. Fields are a superset over every event type spec §4.1
// names; unused fields are simply absent in a given event's JSON.
type ResponsesStreamEvent struct {
	Type string `json:"type"`

	// response.output_item.added / .done
	Item *ResponsesItem `json:"item,omitempty"`

	// response.function_call_arguments.delta
	Delta string `json:"delta,omitempty"`

	// response.reasoning_summary_text.delta reuses Delta; disambiguated by Type.

	// response.refusal.delta / .done reuse Delta for the refusal text.

	// response.completed
	Response *ResponsesCompletedBody `json:"response,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// ResponsesCompletedBody is the "response" object on a response.completed event.
type ResponsesCompletedBody struct {
	ID    string         `json:"id"`
	Usage ResponsesUsage `json:"usage"`
}
