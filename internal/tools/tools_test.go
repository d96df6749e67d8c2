package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	spec Spec
	run  func(ctx context.Context, args map[string]interface{}) (string, error)
}

func (f *fakeTool) Spec() Spec { return f.spec }

func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	if f.run != nil {
		return f.run(ctx, args)
	}
	return "ok", nil
}

func echoTool(name string) *fakeTool {
	return &fakeTool{
		spec: Spec{
			Name:        name,
			Description: "echoes its input",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"text": map[string]interface{}{"type": "string"},
				},
				"required": []string{"text"},
			},
		},
		run: func(_ context.Context, args map[string]interface{}) (string, error) {
			return GetStringParam(args, "text", ""), nil
		},
	}
}

func TestRegistryExecute(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("echo")))

	out, err := reg.Execute(context.Background(), "echo", map[string]interface{}{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Execute(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Equal(t, ErrorUnknownTool, Classify(err))
}

func TestRegistryValidatesArguments(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("echo")))

	_, err := reg.Execute(context.Background(), "echo", map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, ErrorInvalidArguments, Classify(err))

	_, err = reg.Execute(context.Background(), "echo", map[string]interface{}{"text": 42})
	require.Error(t, err)
	assert.Equal(t, ErrorInvalidArguments, Classify(err))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("echo")))
	assert.Error(t, reg.Register(echoTool("echo")))
}

func TestRegistryHasAndList(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("echo")))

	assert.True(t, reg.Has("echo"))
	assert.False(t, reg.Has("other"))
	require.Len(t, reg.List(), 1)
	assert.Equal(t, "echo", reg.List()[0].Name)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, ErrorExecution, Classify(fmt.Errorf("boom")))
	assert.Equal(t, ErrorInvalidArguments, Classify(NewError(ErrorInvalidArguments, fmt.Errorf("bad"))))
	assert.Equal(t, ErrorType(""), Classify(nil))
}

func TestParamHelpers(t *testing.T) {
	args := map[string]interface{}{
		"s": "value",
		"n": float64(7),
		"b": true,
	}

	assert.Equal(t, "value", GetStringParam(args, "s", "fallback"))
	assert.Equal(t, "fallback", GetStringParam(args, "missing", "fallback"))
	assert.Equal(t, 7, GetIntParam(args, "n", 1))
	assert.Equal(t, 1, GetIntParam(args, "missing", 1))
	assert.True(t, GetBoolParam(args, "b", false))
	assert.False(t, GetBoolParam(args, "missing", false))
}
