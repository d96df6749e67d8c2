package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/codefionn/werkzeug/internal/logger"
)

// GoogleClient serves Gemini models through the official GenAI SDK.
type GoogleClient struct {
	client *genai.Client
	model  string
}

// NewGoogleClient creates a client for the given model.
func NewGoogleClient(apiKey, model string) (*GoogleClient, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GoogleClient{
		client: client,
		model:  strings.TrimPrefix(model, "models/"),
	}, nil
}

// GetModelName returns the configured model name.
func (c *GoogleClient) GetModelName() string {
	return c.model
}

// CompleteWithRequest runs one model turn.
func (c *GoogleClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	contents := convertMessagesToGenAI(req.Messages)
	cfg := c.buildConfig(req)

	if req.Stream != nil {
		return c.completeStreaming(ctx, contents, cfg, req.Stream)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini completion failed: %w", err)
	}

	return convertGenAIResponse(resp), nil
}

func (c *GoogleClient) completeStreaming(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig, onDelta StreamCallback) (*CompletionResponse, error) {
	out := &CompletionResponse{}

	for chunk, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
		if err != nil {
			return nil, fmt.Errorf("gemini streaming failed: %w", err)
		}
		partial := convertGenAIResponse(chunk)
		if partial.Content != "" {
			onDelta(partial.Content)
			out.Content += partial.Content
		}
		out.ToolCalls = append(out.ToolCalls, partial.ToolCalls...)
		if partial.StopReason != "" {
			out.StopReason = partial.StopReason
		}
	}

	return out, nil
}

func (c *GoogleClient) buildConfig(req *CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	if len(req.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: normalizeSchema(tool.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		}
	}

	return cfg
}

// convertMessagesToGenAI maps the neutral history onto GenAI contents.
// Function responses are grouped the same way function calls arrived.
func convertMessagesToGenAI(messages []Message) []*genai.Content {
	var out []*genai.Content

	i := 0
	for i < len(messages) {
		msg := messages[i]
		switch msg.Role {
		case RoleTool:
			var parts []*genai.Part
			for i < len(messages) && messages[i].Role == RoleTool {
				part := genai.NewPartFromFunctionResponse(messages[i].ToolName, map[string]any{
					"output": messages[i].Content,
				})
				part.FunctionResponse.ID = messages[i].ToolID
				parts = append(parts, part)
				i++
			}
			out = append(out, genai.NewContentFromParts(parts, genai.RoleUser))
			continue

		case RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				id, name, arguments := decomposeNativeCall(tc)
				if name == "" {
					continue
				}
				var args map[string]any
				if err := json.Unmarshal([]byte(arguments), &args); err != nil {
					args = map[string]any{}
				}
				part := genai.NewPartFromFunctionCall(name, args)
				part.FunctionCall.ID = id
				parts = append(parts, part)
			}
			if len(parts) == 0 {
				parts = append(parts, genai.NewPartFromText(""))
			}
			out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))

		default:
			out = append(out, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
		i++
	}

	return out
}

func convertGenAIResponse(resp *genai.GenerateContentResponse) *CompletionResponse {
	out := &CompletionResponse{}
	if resp == nil || len(resp.Candidates) == 0 {
		return out
	}

	candidate := resp.Candidates[0]
	out.StopReason = string(candidate.FinishReason)

	if candidate.Content == nil {
		return out
	}
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				logger.Warn("Failed to encode function call arguments for %s: %v", part.FunctionCall.Name, err)
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls,
				nativeToolCall(part.FunctionCall.ID, part.FunctionCall.Name, string(args)))
		}
	}

	return out
}
