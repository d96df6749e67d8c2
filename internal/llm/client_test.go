package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		model string
		want  Provider
	}{
		{"claude-sonnet-4-20250514", ProviderAnthropic},
		{"gemini-2.5-flash", ProviderGoogle},
		{"models/gemini-2.0-pro", ProviderGoogle},
		{"gpt-4o", ProviderOpenAI},
		{"qwen2.5-coder", ProviderOpenAI},
		{"llama-3.3-70b", ProviderOpenAI},
	}

	for _, tt := range tests {
		if got := DetectProvider(tt.model); got != tt.want {
			t.Errorf("DetectProvider(%q) = %s, want %s", tt.model, got, tt.want)
		}
	}
}

func TestDefaultToolFormat(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"hermes-3-llama-3.1", "hermes"},
		{"qwen2.5-coder", "hermes"},
		{"gemma-2-27b", "gemini"},
		{"gpt-4o", "native"},
		{"claude-sonnet-4-20250514", "native"},
	}

	for _, tt := range tests {
		if got := DefaultToolFormat(tt.model); got != tt.want {
			t.Errorf("DefaultToolFormat(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestRequiresResponsesAPI(t *testing.T) {
	assert.True(t, requiresResponsesAPI("gpt-5"))
	assert.True(t, requiresResponsesAPI("o3-mini"))
	assert.True(t, requiresResponsesAPI("gpt-4.1-nano"))
	assert.False(t, requiresResponsesAPI("gpt-4o"))
	assert.False(t, requiresResponsesAPI("qwen2.5"))
}

func TestConvertMessagesToChat(t *testing.T) {
	req := &CompletionRequest{
		SystemPrompt: "be brief",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, ToolCalls: []map[string]interface{}{
				nativeToolCall("call_1", "sql_select", `{"query": "SELECT 1"}`),
			}},
			{Role: RoleTool, ToolID: "call_1", ToolName: "sql_select", Content: "[]"},
		},
	}

	out := convertMessagesToChat(req)

	require.Len(t, out, 4)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "be brief", out[0].Content)
	require.Len(t, out[2].ToolCalls, 1)
	assert.Equal(t, "sql_select", out[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "call_1", out[3].ToolCallID)
}

func TestParseChatStream(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_9","function":{"name":"get_","arguments":"{\"a\""}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"weather","arguments":": 1}"}}]},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	}, "\n\n")

	var streamed strings.Builder
	resp, err := parseChatStream(strings.NewReader(sse), func(chunk string) {
		streamed.WriteString(chunk)
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "Hello", streamed.String())
	assert.Equal(t, "tool_calls", resp.StopReason)

	require.Len(t, resp.ToolCalls, 1)
	id, name, arguments := decomposeNativeCall(resp.ToolCalls[0])
	assert.Equal(t, "call_9", id)
	assert.Equal(t, "get_weather", name)
	assert.JSONEq(t, `{"a": 1}`, arguments)
}

func TestDecomposeNativeCallDefaultsArguments(t *testing.T) {
	id, name, arguments := decomposeNativeCall(nativeToolCall("c1", "noop", ""))
	assert.Equal(t, "c1", id)
	assert.Equal(t, "noop", name)
	assert.Equal(t, "{}", arguments)
}
