package toolcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPlainTextPassesThrough(t *testing.T) {
	for _, format := range []Format{FormatNative, FormatHermes, FormatGemini} {
		text, calls := Detect("The answer is 42.", format)
		assert.Equal(t, "The answer is 42.", text, "format %s", format)
		assert.Empty(t, calls, "format %s", format)
	}
}

func TestDetectHermes(t *testing.T) {
	raw := "Let me check.\n<tool_call>\n{\"name\": \"sql_select\", \"arguments\": {\"query\": \"SELECT 1\"}}\n</tool_call>"

	text, calls := Detect(raw, FormatHermes)

	require.Len(t, calls, 1)
	assert.Equal(t, "Let me check.", text)
	assert.Equal(t, "", calls[0].Server)
	assert.Equal(t, "sql_select", calls[0].Tool)
	assert.Equal(t, "SELECT 1", calls[0].Arguments["query"])
	assert.NotEmpty(t, calls[0].ID)
}

func TestDetectHermesMultipleCallsInOrder(t *testing.T) {
	raw := `<tool_call>{"name": "first", "arguments": {}}</tool_call>` +
		`<tool_call>{"name": "second", "arguments": {}}</tool_call>`

	text, calls := Detect(raw, FormatHermes)

	require.Len(t, calls, 2)
	assert.Empty(t, text)
	assert.Equal(t, "first", calls[0].Tool)
	assert.Equal(t, "second", calls[1].Tool)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
}

func TestDetectHermesRepairsSloppyJSON(t *testing.T) {
	raw := `<tool_call>{'name': 'tool_search', 'arguments': {'query': 'weather',}}</tool_call>`

	_, calls := Detect(raw, FormatHermes)

	require.Len(t, calls, 1)
	assert.Equal(t, "tool_search", calls[0].Tool)
	assert.Equal(t, "weather", calls[0].Arguments["query"])
}

func TestDetectHermesDropsUnparseableBlock(t *testing.T) {
	raw := `<tool_call>complete nonsense</tool_call>` +
		`<tool_call>{"name": "survivor", "arguments": {}}</tool_call>`

	_, calls := Detect(raw, FormatHermes)

	require.Len(t, calls, 1)
	assert.Equal(t, "survivor", calls[0].Tool)
}

func TestDetectHermesSplitsQualifiedName(t *testing.T) {
	raw := `<tool_call>{"name": "db::run_query", "arguments": {"sql": "SELECT 1"}}</tool_call>`

	_, calls := Detect(raw, FormatHermes)

	require.Len(t, calls, 1)
	assert.Equal(t, "db", calls[0].Server)
	assert.Equal(t, "run_query", calls[0].Tool)
	assert.Equal(t, "db::run_query", calls[0].QualifiedName())
}

func TestDetectGemini(t *testing.T) {
	raw := `{"function_call": {"name": "get_weather", "args": {"location": "Tokyo"}}}`

	text, calls := Detect(raw, FormatGemini)

	require.Len(t, calls, 1)
	assert.Empty(t, text)
	assert.Equal(t, "", calls[0].Server)
	assert.Equal(t, "get_weather", calls[0].Tool)
	assert.Equal(t, "Tokyo", calls[0].Arguments["location"])
}

func TestDetectGeminiPreservesSurroundingText(t *testing.T) {
	raw := `Checking the forecast. {"function_call": {"name": "get_weather", "args": {"location": "Berlin"}}} One moment.`

	text, calls := Detect(raw, FormatGemini)

	require.Len(t, calls, 1)
	assert.Contains(t, text, "Checking the forecast.")
	assert.Contains(t, text, "One moment.")
	assert.NotContains(t, text, "function_call")
}

func TestDetectGeminiFallsBackToHermes(t *testing.T) {
	raw := `<tool_call>{"name": "schema_search", "arguments": {"query": "users"}}</tool_call>`

	_, calls := Detect(raw, FormatGemini)

	require.Len(t, calls, 1)
	assert.Equal(t, "schema_search", calls[0].Tool)
	assert.Equal(t, "users", calls[0].Arguments["query"])
}

func TestDetectGeminiIgnoresOrdinaryObjects(t *testing.T) {
	raw := `Here is the config: {"retries": 3, "mode": "safe"}`

	text, calls := Detect(raw, FormatGemini)

	assert.Empty(t, calls)
	assert.Equal(t, raw, text)
}

func TestFromNative(t *testing.T) {
	native := []map[string]interface{}{
		{
			"id":   "call_abc",
			"type": "function",
			"function": map[string]interface{}{
				"name":      "code_execution",
				"arguments": `{"language": "python"}`,
			},
		},
		{
			"type": "function",
			"function": map[string]interface{}{
				"name": "db::run_query",
				"arguments": map[string]interface{}{
					"sql": "SELECT 1",
				},
			},
		},
	}

	calls := FromNative(native)

	require.Len(t, calls, 2)
	assert.Equal(t, "call_abc", calls[0].ID)
	assert.Equal(t, "code_execution", calls[0].Tool)
	assert.Equal(t, "python", calls[0].Arguments["language"])
	assert.Equal(t, "db", calls[1].Server)
	assert.Equal(t, "run_query", calls[1].Tool)
	assert.NotEmpty(t, calls[1].ID)
}

func TestFromNativeDropsNamelessCalls(t *testing.T) {
	native := []map[string]interface{}{
		{"type": "function", "function": map[string]interface{}{"arguments": "{}"}},
		{"type": "function", "function": map[string]interface{}{"name": "keeper"}},
	}

	calls := FromNative(native)

	require.Len(t, calls, 1)
	assert.Equal(t, "keeper", calls[0].Tool)
	assert.NotNil(t, calls[0].Arguments)
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		name       string
		wantServer string
		wantTool   string
	}{
		{"db::run_query", "db", "run_query"},
		{"sql_select", "", "sql_select"},
		{"a::b::c", "a", "b::c"},
		{"::tool", "", "tool"},
	}

	for _, tt := range tests {
		server, tool := SplitName(tt.name)
		if server != tt.wantServer || tool != tt.wantTool {
			t.Errorf("SplitName(%q) = (%q, %q), want (%q, %q)",
				tt.name, server, tool, tt.wantServer, tt.wantTool)
		}
	}
}

func TestNormalizeIDs(t *testing.T) {
	calls := NormalizeIDs([]Call{
		{Tool: "alpha"},
		{ID: "call_1", Tool: "beta"},
		{ID: "call_1", Tool: "gamma"},
	})

	seen := make(map[string]bool)
	for _, c := range calls {
		if c.ID == "" {
			t.Errorf("call %q has empty id after normalization", c.Tool)
		}
		if seen[c.ID] {
			t.Errorf("duplicate id %q after normalization", c.ID)
		}
		seen[c.ID] = true
	}
	if calls[1].ID != "call_1" {
		t.Errorf("first holder of an id should keep it, got %q", calls[1].ID)
	}
}

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{
		"":       FormatNative,
		"native": FormatNative,
		"hermes": FormatHermes,
		"gemini": FormatGemini,
	} {
		got, err := ParseFormat(input)
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %q", input)
	}

	_, err := ParseFormat("morse")
	assert.Error(t, err)
}
