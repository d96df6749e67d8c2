package toolcall

import (
	"encoding/json"
	"strings"

	"github.com/codefionn/werkzeug/internal/logger"
)

const (
	hermesOpenTag  = "<tool_call>"
	hermesCloseTag = "</tool_call>"
)

// Detect extracts tool calls from raw model text according to the given
// format. It returns the remaining assistant text with the call spans
// removed, plus the parsed calls in order of appearance. Plain text without
// any call markers passes through byte-for-byte (modulo surrounding
// whitespace trimming) with zero calls.
//
// Malformed call blocks that survive JSON repair become calls; unrepairable
// blocks are dropped with a log line and detection continues. A parse
// failure never aborts the run.
func Detect(raw string, format Format) (string, []Call) {
	switch format {
	case FormatHermes:
		text, calls := detectHermes(raw)
		return text, finalize(calls)
	case FormatGemini:
		text, calls := detectGemini(raw)
		if len(calls) == 0 {
			// Gemini-family models sometimes emit Hermes-style tags
			// instead of the function_call convention.
			text, calls = detectHermes(raw)
		}
		return text, finalize(calls)
	default:
		// Native format carries calls in structured response fields,
		// not in the text. See FromNative.
		return raw, nil
	}
}

// FromNative normalizes structured tool calls as returned by a provider SDK.
// Each entry follows the OpenAI function-call shape: {"id": ..., "type":
// "function", "function": {"name": ..., "arguments": ...}} with arguments
// either a JSON string or an object.
func FromNative(toolCalls []map[string]interface{}) []Call {
	var calls []Call
	for _, tc := range toolCalls {
		if t, ok := tc["type"].(string); ok && t != "" && t != "function" {
			continue
		}

		fn, ok := tc["function"].(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		if strings.TrimSpace(name) == "" {
			logger.Warn("Discarding native tool call without a name")
			continue
		}

		call := Call{Tool: name}
		if id, ok := tc["id"].(string); ok {
			call.ID = id
		} else if id, ok := tc["call_id"].(string); ok {
			call.ID = id
		}

		switch args := fn["arguments"].(type) {
		case string:
			call.Raw = args
			parsed, err := parseArguments(args)
			if err != nil {
				logger.Warn("Discarding tool call %q with unrepairable arguments: %v", name, err)
				continue
			}
			call.Arguments = parsed
		case map[string]interface{}:
			call.Arguments = args
		}

		calls = append(calls, call)
	}
	return finalize(calls)
}

// detectHermes scans for <tool_call>...</tool_call> blocks. Text outside the
// blocks is preserved in order.
func detectHermes(raw string) (string, []Call) {
	var calls []Call
	var text strings.Builder

	rest := raw
	for {
		start := strings.Index(rest, hermesOpenTag)
		if start < 0 {
			text.WriteString(rest)
			break
		}
		text.WriteString(rest[:start])
		rest = rest[start+len(hermesOpenTag):]

		end := strings.Index(rest, hermesCloseTag)
		if end < 0 {
			// Truncated output: the block never closed. Try the
			// remainder as a call body before giving up on it.
			if call, ok := parseCallBody(rest); ok {
				calls = append(calls, call)
			} else {
				text.WriteString(rest)
			}
			break
		}

		body := rest[:end]
		rest = rest[end+len(hermesCloseTag):]
		if call, ok := parseCallBody(body); ok {
			calls = append(calls, call)
		} else {
			logger.Warn("Discarding unparseable tool call block: %s", truncateForError(strings.TrimSpace(body), 120))
		}
	}

	return strings.TrimSpace(text.String()), calls
}

// parseCallBody parses a single tagged call body. It accepts the common key
// variants models use for the name and the argument object.
func parseCallBody(body string) (Call, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Call{}, false
	}

	repaired, err := Repair(body)
	if err != nil {
		return Call{}, false
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return Call{}, false
	}

	// Some models nest the call one level down.
	if inner, ok := obj["function_call"].(map[string]interface{}); ok {
		obj = inner
	}

	name := firstString(obj, "name", "tool", "function")
	if name == "" {
		return Call{}, false
	}

	call := Call{Tool: name, Raw: body}
	if id, ok := obj["id"].(string); ok {
		call.ID = id
	}
	call.Arguments = firstObject(obj, "arguments", "args", "parameters")
	if call.Arguments == nil {
		// Arguments sometimes arrive as a nested JSON string.
		if s := firstString(obj, "arguments", "args", "parameters"); s != "" {
			if parsed, err := parseArguments(s); err == nil {
				call.Arguments = parsed
			}
		}
	}

	return call, true
}

// detectGemini scans for balanced JSON objects carrying a "function_call"
// key. Anything that does not parse into that shape stays in the text.
func detectGemini(raw string) (string, []Call) {
	var calls []Call
	var text strings.Builder

	i := 0
	for i < len(raw) {
		if raw[i] != '{' {
			text.WriteByte(raw[i])
			i++
			continue
		}

		span := balancedObjectSpan(raw[i:])
		if call, ok := parseGeminiSpan(raw[i : i+span]); ok {
			calls = append(calls, call)
			i += span
			continue
		}

		text.WriteByte(raw[i])
		i++
	}

	return strings.TrimSpace(text.String()), calls
}

// balancedObjectSpan returns the length of the JSON object starting at s[0],
// or the remaining length when the object never closes (truncated output is
// handed to the repair pass).
func balancedObjectSpan(s string) int {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(s)
}

func parseGeminiSpan(span string) (Call, bool) {
	if !strings.Contains(span, "function_call") {
		return Call{}, false
	}

	repaired, err := Repair(span)
	if err != nil {
		return Call{}, false
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return Call{}, false
	}

	fc, ok := obj["function_call"].(map[string]interface{})
	if !ok {
		return Call{}, false
	}

	name := firstString(fc, "name")
	if name == "" {
		return Call{}, false
	}

	call := Call{Tool: name, Raw: span}
	if id, ok := fc["id"].(string); ok {
		call.ID = id
	}
	call.Arguments = firstObject(fc, "args", "arguments")

	return call, true
}

// parseArguments decodes an argument payload that arrived as a string,
// repairing it first when necessary.
func parseArguments(s string) (map[string]interface{}, error) {
	if strings.TrimSpace(s) == "" {
		return map[string]interface{}{}, nil
	}
	repaired, err := Repair(s)
	if err != nil {
		return nil, err
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func firstString(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func firstObject(obj map[string]interface{}, keys ...string) map[string]interface{} {
	for _, k := range keys {
		if m, ok := obj[k].(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}
