package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/codefionn/werkzeug/internal/logger"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicClient serves Claude models through the official SDK.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient creates a client for the given model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// GetModelName returns the configured model name.
func (c *AnthropicClient) GetModelName() string {
	return c.model
}

// CompleteWithRequest runs one model turn.
func (c *AnthropicClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	params := c.buildParams(req)

	if req.Stream != nil {
		return c.completeStreaming(ctx, params, req.Stream)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion failed: %w", err)
	}
	return convertAnthropicMessage(msg), nil
}

func (c *AnthropicClient) completeStreaming(ctx context.Context, params anthropic.MessageNewParams, onDelta StreamCallback) (*CompletionResponse, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic stream accumulation failed: %w", err)
		}
		if deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if textDelta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta); ok {
				onDelta(textDelta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic streaming failed: %w", err)
	}

	return convertAnthropicMessage(&message), nil
}

func (c *AnthropicClient) buildParams(req *CompletionRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessagesToAnthropic(req.Messages),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertToolsToAnthropic(req.Tools)
	}
	return params
}

// convertMessagesToAnthropic maps the neutral history onto Anthropic's block
// structure. Tool results must live in the user message that directly
// follows the assistant turn that issued the calls, so consecutive tool
// messages collapse into one user message.
func convertMessagesToAnthropic(messages []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam

	i := 0
	for i < len(messages) {
		msg := messages[i]
		switch msg.Role {
		case RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for i < len(messages) && messages[i].Role == RoleTool {
				blocks = append(blocks, anthropic.NewToolResultBlock(messages[i].ToolID, messages[i].Content, false))
				i++
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: blocks,
			})
			continue

		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				id, name, arguments := decomposeNativeCall(tc)
				if name == "" {
					continue
				}
				var input map[string]interface{}
				if err := json.Unmarshal([]byte(arguments), &input); err != nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(id, input, name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})

		case RoleSystem:
			// System text travels in params.System; anything here is a
			// stray entry and is forwarded as user context.
			fallthrough
		default:
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
			})
		}
		i++
	}

	return out
}

func convertToolsToAnthropic(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		params := normalizeSchema(tool.Parameters)

		schema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: params["properties"],
		}
		if required := stringSlice(params["required"]); len(required) > 0 {
			schema.Required = required
		}

		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: schema,
				Type:        anthropic.ToolTypeCustom,
			},
		})
	}
	return out
}

func convertAnthropicMessage(msg *anthropic.Message) *CompletionResponse {
	resp := &CompletionResponse{
		StopReason: string(msg.StopReason),
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls,
				nativeToolCall(block.ID, block.Name, string(block.Input)))
		default:
			logger.Debug("Ignoring anthropic content block of type %s", block.Type)
		}
	}

	return resp
}

// decomposeNativeCall extracts id, name and the argument JSON string from
// the wire shape produced by nativeToolCall.
func decomposeNativeCall(tc map[string]interface{}) (id, name, arguments string) {
	id, _ = tc["id"].(string)
	fn, ok := tc["function"].(map[string]interface{})
	if !ok {
		return id, "", ""
	}
	name, _ = fn["name"].(string)
	switch args := fn["arguments"].(type) {
	case string:
		arguments = args
	case map[string]interface{}:
		if data, err := json.Marshal(args); err == nil {
			arguments = string(data)
		}
	}
	if arguments == "" {
		arguments = "{}"
	}
	return id, name, arguments
}

func stringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
