// Package tools holds the built-in tool registry. Tools are named, schema
// described executors; argument payloads are validated against the schema
// before an executor ever runs.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Spec describes one tool to the model.
type Spec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Executor runs a tool invocation.
type Executor interface {
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Tool is a named, schema-described executor.
type Tool interface {
	Spec() Spec
	Executor
}

// ErrorType classifies a failed tool invocation. All of these are
// recoverable: the failure is reported back to the model and the run
// continues.
type ErrorType string

const (
	ErrorUnknownTool      ErrorType = "unknown_tool"
	ErrorInvalidArguments ErrorType = "invalid_arguments"
	ErrorTimeout          ErrorType = "timeout"
	ErrorExecution        ErrorType = "execution_error"
)

// Error is a classified tool failure.
type Error struct {
	Type ErrorType
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a classification.
func NewError(errType ErrorType, err error) *Error {
	return &Error{Type: errType, Err: err}
}

// Classify returns the error type of a tool failure, deriving one for plain
// errors.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}
	var toolErr *Error
	if errors.As(err, &toolErr) {
		return toolErr.Type
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	return ErrorExecution
}

// Result is the outcome of one tool invocation, keyed by the call id it
// answers.
type Result struct {
	ID        string
	Result    string
	Error     error
	ErrorType ErrorType
}

// Registry holds the built-in tools, keyed by bare name.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. Its parameter schema is compiled eagerly so a broken
// schema fails at startup, not mid-run.
func (r *Registry) Register(tool Tool) error {
	spec := tool.Spec()
	if spec.Name == "" {
		return fmt.Errorf("tool has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}

	if spec.Parameters != nil {
		schema, err := compileSchema(spec.Name, spec.Parameters)
		if err != nil {
			return fmt.Errorf("invalid parameter schema for tool %s: %w", spec.Name, err)
		}
		r.schemas[spec.Name] = schema
	}

	r.tools[spec.Name] = tool
	return nil
}

// Has reports whether a tool with the given bare name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns the specs of all registered tools. Order is not guaranteed;
// callers sort if they need it.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, tool.Spec())
	}
	return specs
}

// Validate checks args against the tool's parameter schema.
func (r *Registry) Validate(name string, args map[string]interface{}) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()

	if schema == nil {
		return nil
	}
	if err := schema.Validate(normalizeJSONValue(args)); err != nil {
		return NewError(ErrorInvalidArguments, err)
	}
	return nil
}

// Execute validates and runs the named tool.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return "", NewError(ErrorUnknownTool, fmt.Errorf("unknown tool: %s", name))
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := r.Validate(name, args); err != nil {
		return "", err
	}

	out, err := tool.Execute(ctx, args)
	if err != nil {
		var toolErr *Error
		if errors.As(err, &toolErr) {
			return "", err
		}
		return "", NewError(Classify(err), err)
	}
	return out, nil
}

func compileSchema(name string, params map[string]interface{}) (*jsonschema.Schema, error) {
	url := fmt.Sprintf("tool://%s/schema.json", name)

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, normalizeJSONValue(params)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// normalizeJSONValue deep-converts a value into the plain JSON types the
// schema validator expects. Argument maps built in code may contain ints or
// typed slices that never went through encoding/json.
func normalizeJSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeJSONValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeJSONValue(item)
		}
		return out
	case []string:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

// GetStringParam extracts a string argument with a default.
func GetStringParam(args map[string]interface{}, key, defaultValue string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return defaultValue
}

// GetIntParam extracts an integer argument with a default. JSON numbers
// arrive as float64.
func GetIntParam(args map[string]interface{}, key string, defaultValue int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultValue
	}
}

// GetBoolParam extracts a boolean argument with a default.
func GetBoolParam(args map[string]interface{}, key string, defaultValue bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return defaultValue
}
