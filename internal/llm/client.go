// Package llm wraps the model-serving providers behind one completion
// interface. The orchestration loop only ever sees CompletionRequest and
// CompletionResponse; which provider SDK answers is decided by the model
// name.
package llm

import (
	"context"
	"fmt"
)

// Role constants for Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls holds structured calls attached to an assistant message,
	// in the OpenAI function-call shape.
	ToolCalls []map[string]interface{} `json:"tool_calls,omitempty"`

	// ToolID and ToolName identify which call a tool-role message answers.
	ToolID   string `json:"tool_call_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
}

// ToolDefinition advertises one invocable tool to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// StreamCallback receives text deltas as the model produces them.
type StreamCallback func(chunk string)

// CompletionRequest is one model turn.
type CompletionRequest struct {
	Messages     []Message
	Tools        []ToolDefinition
	SystemPrompt string
	Temperature  float64
	MaxTokens    int

	// Stream, when set, receives text deltas during generation. The full
	// response is still returned at the end.
	Stream StreamCallback
}

// CompletionResponse is the model's answer to one turn.
type CompletionResponse struct {
	Content string
	// ToolCalls carries the provider's structured tool calls, already in
	// the OpenAI function-call shape. Empty for providers or formats that
	// embed calls in the text.
	ToolCalls  []map[string]interface{}
	StopReason string
}

// Client is a model-serving provider.
type Client interface {
	CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	GetModelName() string
}

// normalizeSchema ensures a tool parameter schema is a well-formed object
// schema. Providers reject tools whose parameters are missing or untyped.
func normalizeSchema(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		params = map[string]interface{}{}
	}
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}
	if _, ok := params["properties"]; !ok {
		params["properties"] = map[string]interface{}{}
	}
	return params
}

// nativeToolCall builds the wire shape used throughout the codebase for
// structured tool calls.
func nativeToolCall(id, name, arguments string) map[string]interface{} {
	return map[string]interface{}{
		"id":   id,
		"type": "function",
		"function": map[string]interface{}{
			"name":      name,
			"arguments": arguments,
		},
	}
}

func validateRequest(req *CompletionRequest) error {
	if req == nil {
		return fmt.Errorf("nil completion request")
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("completion request has no messages")
	}
	return nil
}
