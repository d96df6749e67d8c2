package toolcall

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestRepair(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "valid JSON passes through",
			input: `{"a": 1}`,
			want:  `{"a": 1}`,
		},
		{
			name:  "surrounding whitespace trimmed",
			input: "  {\"a\": 1}\n",
			want:  `{"a": 1}`,
		},
		{
			name:  "single quotes",
			input: `{'name': 'get_weather'}`,
			want:  `{"name": "get_weather"}`,
		},
		{
			name:  "trailing comma in object",
			input: `{"a": 1,}`,
			want:  `{"a": 1}`,
		},
		{
			name:  "trailing comma in array",
			input: `{"a": [1, 2,]}`,
			want:  `{"a": [1, 2]}`,
		},
		{
			name:  "truncated output closed",
			input: `{"query": "SELECT 1", "rows": [1, 2`,
			want:  `{"query": "SELECT 1", "rows": [1, 2]}`,
		},
		{
			name:  "unterminated string closed",
			input: `{"note": "cut off`,
			want:  `{"note": "cut off"}`,
		},
		{
			name:  "raw newline inside string",
			input: "{\"text\": \"line one\nline two\"}",
			want:  `{"text": "line one\nline two"}`,
		},
		{
			name:  "double quote inside single-quoted string",
			input: `{'text': 'she said "hi"'}`,
			want:  `{"text": "she said \"hi\""}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Repair(tt.input)
			if err != nil {
				t.Fatalf("Repair(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Repair(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRepairRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "   ", "complete nonsense", "{{{:::"} {
		if out, err := Repair(input); err == nil {
			t.Errorf("Repair(%q) = %q, expected an error", input, out)
		}
	}
}

// Repair must never return invalid JSON, whatever it is fed.
func TestRepairOutputAlwaysValid(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("repaired output is valid JSON", prop.ForAll(
		func(s string) bool {
			out, err := Repair(s)
			if err != nil {
				return true
			}
			return json.Valid([]byte(out))
		},
		gen.AnyString(),
	))

	properties.Property("repaired output of broken objects is valid JSON", prop.ForAll(
		func(key, value string, truncate bool) bool {
			input := `{'` + key + `': '` + value + `',`
			if !truncate {
				input += "}"
			}
			out, err := Repair(input)
			if err != nil {
				return true
			}
			return json.Valid([]byte(out))
		},
		gen.AlphaString(),
		gen.AnyString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
