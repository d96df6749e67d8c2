// Package toolcall turns raw model output into normalized tool calls.
//
// Models disagree about how to ask for a tool: some providers return
// structured tool-call fields, others emit tagged blocks or JSON fragments
// inside free-form text. Each convention gets its own parsing strategy,
// selected once per turn from configuration, and every strategy normalizes
// into the same Call shape.
package toolcall

import (
	"fmt"
	"strings"
	"unicode"
)

// Format identifies the tool-call convention of a model family.
type Format int

const (
	// FormatNative uses the provider's structured tool-call fields.
	FormatNative Format = iota
	// FormatHermes scans for <tool_call>...</tool_call> tagged blocks.
	FormatHermes
	// FormatGemini scans for {"function_call": {...}} JSON fragments.
	FormatGemini
)

// String returns the configuration name of the format.
func (f Format) String() string {
	switch f {
	case FormatHermes:
		return "hermes"
	case FormatGemini:
		return "gemini"
	default:
		return "native"
	}
}

// ParseFormat parses a configuration string into a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "native":
		return FormatNative, nil
	case "hermes", "tagged":
		return FormatHermes, nil
	case "gemini", "function_call":
		return FormatGemini, nil
	default:
		return FormatNative, fmt.Errorf("unknown tool-call format: %q", s)
	}
}

// NameSeparator separates a host namespace from a tool name in a combined
// identifier such as "db::run_query".
const NameSeparator = "::"

// Call is one normalized tool call extracted from model output.
type Call struct {
	// ID is assigned by the model, or synthesized when the source omits it.
	ID string `json:"id"`
	// Server names the external tool host that owns the tool; empty means
	// a built-in tool in the global namespace.
	Server string `json:"server,omitempty"`
	// Tool is the bare tool name, never empty.
	Tool string `json:"tool"`
	// Arguments is always a non-nil JSON object.
	Arguments map[string]interface{} `json:"arguments"`
	// Raw is the original text span that produced this call.
	Raw string `json:"-"`
}

// QualifiedName returns "server::tool", or just the tool name for built-ins.
func (c Call) QualifiedName() string {
	if c.Server == "" {
		return c.Tool
	}
	return c.Server + NameSeparator + c.Tool
}

// SplitName separates a combined tool identifier into its host namespace and
// bare tool name. Identifiers without a separator belong to the global
// namespace.
func SplitName(name string) (server, tool string) {
	idx := strings.Index(name, NameSeparator)
	if idx < 0 {
		return "", name
	}
	return name[:idx], name[idx+len(NameSeparator):]
}

// NormalizeIDs ensures every call has a stable, batch-unique identifier.
// Some providers occasionally omit call IDs, which breaks re-association of
// tool results with their calls.
func NormalizeIDs(calls []Call) []Call {
	used := make(map[string]bool, len(calls))
	for i := range calls {
		id := strings.TrimSpace(calls[i].ID)
		if id == "" || used[id] {
			if name := sanitizeToolName(calls[i].Tool); name != "" {
				id = fmt.Sprintf("call_%s_%d", name, i+1)
			} else {
				id = fmt.Sprintf("call_%d", i+1)
			}
		}
		for used[id] {
			id = fmt.Sprintf("%s_%d", id, i+1)
		}
		used[id] = true
		calls[i].ID = id
	}
	return calls
}

// finalize applies namespace splitting, argument defaulting and ID
// normalization to a freshly parsed batch.
func finalize(calls []Call) []Call {
	for i := range calls {
		if calls[i].Server == "" {
			calls[i].Server, calls[i].Tool = SplitName(calls[i].Tool)
		}
		if calls[i].Arguments == nil {
			calls[i].Arguments = make(map[string]interface{})
		}
	}
	return NormalizeIDs(calls)
}

func sanitizeToolName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
