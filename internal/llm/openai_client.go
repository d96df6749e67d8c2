package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/codefionn/werkzeug/internal/logger"
)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIClient serves OpenAI models and OpenAI-compatible endpoints. Models
// from the reasoning families go through the Responses API of the official
// SDK; everything else, including local inference servers behind a custom
// base URL, uses the plain chat completions wire protocol.
type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	api        *openai.Client
}

// NewOpenAIClient creates a client for the given model. An empty baseURL
// selects the hosted OpenAI endpoint.
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	apiClient := openai.NewClient(option.WithAPIKey(apiKey))

	return &OpenAIClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		api:        &apiClient,
	}
}

// GetModelName returns the configured model name.
func (c *OpenAIClient) GetModelName() string {
	return c.model
}

// requiresResponsesAPI reports whether the model family is only served
// through the Responses API.
func requiresResponsesAPI(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"gpt-5", "gpt-4.1", "codex", "o1", "o3", "o4"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// CompleteWithRequest runs one model turn.
func (c *OpenAIClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if requiresResponsesAPI(c.model) && c.baseURL == openaiDefaultBaseURL {
		return c.completeResponses(ctx, req)
	}
	return c.completeChat(ctx, req)
}

// Responses API path.

func (c *OpenAIClient) completeResponses(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(c.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessagesToResponses(req.Messages),
		},
	}
	if req.SystemPrompt != "" {
		params.Instructions = openai.String(req.SystemPrompt)
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = convertToolsToResponses(req.Tools)
	}

	if req.Stream != nil {
		return c.streamResponses(ctx, params, req.Stream)
	}

	resp, err := c.api.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses completion failed: %w", err)
	}
	return convertResponsesOutput(resp), nil
}

func (c *OpenAIClient) streamResponses(ctx context.Context, params responses.ResponseNewParams, onDelta StreamCallback) (*CompletionResponse, error) {
	stream := c.api.Responses.NewStreaming(ctx, params)
	defer stream.Close()

	var final *responses.Response
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "response.output_text.delta":
			onDelta(event.AsResponseOutputTextDelta().Delta)
		case "response.completed":
			resp := event.AsResponseCompleted().Response
			final = &resp
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai responses streaming failed: %w", err)
	}
	if final == nil {
		return nil, fmt.Errorf("openai responses stream ended without a completed response")
	}

	return convertResponsesOutput(final), nil
}

func convertMessagesToResponses(messages []Message) responses.ResponseInputParam {
	items := responses.ResponseInputParam{}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleSystem))
		case RoleAssistant:
			if msg.Content != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range msg.ToolCalls {
				id, name, arguments := decomposeNativeCall(tc)
				if name == "" {
					continue
				}
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(arguments, id, name))
			}
		case RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(msg.ToolID, msg.Content))
		default:
			items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		}
	}

	return items
}

func convertToolsToResponses(tools []ToolDefinition) []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		variant := responses.ToolParamOfFunction(tool.Name, normalizeSchema(tool.Parameters), false)
		if variant.OfFunction != nil && tool.Description != "" {
			variant.OfFunction.Description = openai.String(tool.Description)
		}
		out = append(out, variant)
	}
	return out
}

func convertResponsesOutput(resp *responses.Response) *CompletionResponse {
	out := &CompletionResponse{
		Content:    resp.OutputText(),
		StopReason: string(resp.Status),
	}

	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		fc := item.AsFunctionCall()
		id := fc.CallID
		if id == "" {
			id = fc.ID
		}
		out.ToolCalls = append(out.ToolCalls, nativeToolCall(id, fc.Name, fc.Arguments))
	}

	return out
}

// Chat completions path, spoken directly over HTTP so it works against any
// OpenAI-compatible server.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatToolSpec `json:"function"`
}

type chatToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAIClient) completeChat(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	payload := chatRequest{
		Model:       c.model,
		Messages:    convertMessagesToChat(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream != nil,
	}
	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, chatTool{
			Type: "function",
			Function: chatToolSpec{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  normalizeSchema(tool.Parameters),
			},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat completion returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if req.Stream != nil {
		return parseChatStream(resp.Body, req.Stream)
	}
	return parseChatResponse(resp.Body)
}

func convertMessagesToChat(req *CompletionRequest) []chatMessage {
	var out []chatMessage
	if req.SystemPrompt != "" {
		out = append(out, chatMessage{Role: "system", Content: req.SystemPrompt})
	}

	for _, msg := range req.Messages {
		cm := chatMessage{Role: msg.Role, Content: msg.Content}
		if msg.Role == RoleTool {
			cm.ToolCallID = msg.ToolID
			cm.Name = msg.ToolName
		}
		for _, tc := range msg.ToolCalls {
			id, name, arguments := decomposeNativeCall(tc)
			if name == "" {
				continue
			}
			cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
				ID:       id,
				Type:     "function",
				Function: chatFunctionCall{Name: name, Arguments: arguments},
			})
		}
		out = append(out, cm)
	}

	return out
}

func parseChatResponse(body io.Reader) (*CompletionResponse, error) {
	var parsed chatResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("chat completion error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	choice := parsed.Choices[0]
	out := &CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, nativeToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return out, nil
}

// parseChatStream consumes a server-sent-events stream, forwarding text
// deltas and accumulating tool call fragments by their index.
func parseChatStream(body io.Reader, onDelta StreamCallback) (*CompletionResponse, error) {
	out := &CompletionResponse{}
	pending := make(map[int]*chatToolCall)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Debug("Skipping malformed stream chunk: %v", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			onDelta(choice.Delta.Content)
			out.Content += choice.Delta.Content
		}
		for _, frag := range choice.Delta.ToolCalls {
			tc, ok := pending[frag.Index]
			if !ok {
				tc = &chatToolCall{Type: "function"}
				pending[frag.Index] = tc
			}
			if frag.ID != "" {
				tc.ID = frag.ID
			}
			if frag.Function.Name != "" {
				tc.Function.Name += frag.Function.Name
			}
			tc.Function.Arguments += frag.Function.Arguments
		}
		if choice.FinishReason != "" {
			out.StopReason = choice.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("chat completion stream failed: %w", err)
	}

	indices := make([]int, 0, len(pending))
	for idx := range pending {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		tc := pending[idx]
		out.ToolCalls = append(out.ToolCalls, nativeToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}

	return out, nil
}
