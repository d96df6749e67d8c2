package toolcall

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Repair attempts to turn malformed model-emitted JSON into valid JSON.
// It tolerates the common breakages seen in practice: single-quoted strings,
// trailing commas, raw control characters inside strings, and output that
// was cut off before its closing brackets. The result is always valid JSON;
// input that cannot be salvaged yields an error, never garbage.
func Repair(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", fmt.Errorf("empty JSON input")
	}
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	repaired := repairPass(trimmed)
	if json.Valid([]byte(repaired)) {
		return repaired, nil
	}

	return "", fmt.Errorf("unrepairable JSON: %s", truncateForError(trimmed, 120))
}

// repairPass is a single best-effort rewrite. It tracks string and nesting
// state so the fixes never touch legitimate content inside string values.
func repairPass(s string) string {
	out := make([]byte, 0, len(s)+8)
	var stack []byte

	inString := false
	var quote byte
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			if escaped {
				out = append(out, c)
				escaped = false
				continue
			}
			switch c {
			case '\\':
				out = append(out, c)
				escaped = true
			case quote:
				out = append(out, '"')
				inString = false
			case '"':
				// Double quote inside a single-quoted string.
				out = append(out, '\\', '"')
			case '\n':
				out = append(out, '\\', 'n')
			case '\r':
				out = append(out, '\\', 'r')
			case '\t':
				out = append(out, '\\', 't')
			default:
				if c < 0x20 {
					out = append(out, []byte(fmt.Sprintf(`\u%04x`, c))...)
				} else {
					out = append(out, c)
				}
			}
			continue
		}

		switch c {
		case '"', '\'':
			inString = true
			quote = c
			out = append(out, '"')
		case '{', '[':
			stack = append(stack, c)
			out = append(out, c)
		case '}', ']':
			out = trimTrailingComma(out)
			if len(stack) == 0 {
				// Stray closer, drop it.
				continue
			}
			out = append(out, closerFor(stack[len(stack)-1]))
			stack = stack[:len(stack)-1]
		default:
			out = append(out, c)
		}
	}

	if inString {
		if escaped {
			out = append(out, '\\')
		}
		out = append(out, '"')
	}

	out = trimTrailingComma(out)
	for len(stack) > 0 {
		out = append(out, closerFor(stack[len(stack)-1]))
		stack = stack[:len(stack)-1]
	}

	return string(out)
}

func closerFor(opener byte) byte {
	if opener == '{' {
		return '}'
	}
	return ']'
}

// trimTrailingComma removes a dangling comma before a closing bracket.
func trimTrailingComma(out []byte) []byte {
	i := len(out) - 1
	for i >= 0 && (out[i] == ' ' || out[i] == '\t' || out[i] == '\n' || out[i] == '\r') {
		i--
	}
	if i >= 0 && out[i] == ',' {
		return append(out[:i], out[i+1:]...)
	}
	return out
}

// truncateForError shortens a string for inclusion in error messages.
func truncateForError(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
