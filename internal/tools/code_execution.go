package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/codefionn/werkzeug/internal/logger"
)

// CodeExecutionTool runs WebAssembly modules in an in-process sandbox. The
// module gets WASI, captured stdout/stderr, and a wall-clock limit; it never
// touches the host filesystem or network.
type CodeExecutionTool struct {
	timeout time.Duration
}

// NewCodeExecutionTool creates the tool with the given wall-clock limit per
// execution. Zero means no limit beyond the caller's context.
func NewCodeExecutionTool(timeout time.Duration) *CodeExecutionTool {
	return &CodeExecutionTool{timeout: timeout}
}

type instantiateResult struct {
	mod api.Module
	err error
}

// Spec implements Tool.
func (t *CodeExecutionTool) Spec() Spec {
	return Spec{
		Name: "code_execution",
		Description: "Execute a compiled WebAssembly (WASI) module in a sandbox. " +
			"Provide the module as base64; stdout and stderr are captured and returned.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"wasm_base64": map[string]interface{}{
					"type":        "string",
					"description": "Base64-encoded WebAssembly module with a WASI entry point",
				},
				"stdin": map[string]interface{}{
					"type":        "string",
					"description": "Text fed to the module's standard input",
				},
				"args": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Command-line arguments passed to the module",
				},
			},
			"required": []string{"wasm_base64"},
		},
	}
}

// Execute implements Executor.
func (t *CodeExecutionTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	encoded := GetStringParam(args, "wasm_base64", "")
	if encoded == "" {
		return "", NewError(ErrorInvalidArguments, fmt.Errorf("wasm_base64 is required"))
	}

	wasmBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", NewError(ErrorInvalidArguments, fmt.Errorf("wasm_base64 is not valid base64: %w", err))
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	// CloseOnContextDone makes the runtime interrupt guest code when the
	// deadline passes; without it a looping module runs forever.
	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	defer runtime.Close(context.Background())

	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return "", NewError(ErrorExecution, fmt.Errorf("failed to compile module: %w", err))
	}

	var stdout, stderr bytes.Buffer
	config := wazero.NewModuleConfig().
		WithName("sandbox").
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithStdin(strings.NewReader(GetStringParam(args, "stdin", "")))
	if moduleArgs := stringArgs(args, "args"); len(moduleArgs) > 0 {
		config = config.WithArgs(append([]string{"sandbox"}, moduleArgs...)...)
	}

	// Instantiation runs _start. It happens on its own goroutine so the
	// deadline is honored even if the runtime fails to interrupt the guest.
	done := make(chan instantiateResult, 1)
	go func() {
		mod, err := runtime.InstantiateModule(ctx, compiled, config)
		done <- instantiateResult{mod: mod, err: err}
	}()

	select {
	case res := <-done:
		if res.mod != nil {
			defer res.mod.Close(context.Background())
		}
		err = res.err
	case <-ctx.Done():
		logger.Warn("Sandbox execution killed: %v", ctx.Err())
		return "", NewError(ErrorTimeout, fmt.Errorf("execution exceeded %s", t.timeout))
	}

	exitCode := uint32(0)
	if err != nil {
		var exitErr *sys.ExitError
		switch {
		case ctx.Err() != nil:
			return "", NewError(ErrorTimeout, fmt.Errorf("execution exceeded %s", t.timeout))
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			return "", NewError(ErrorExecution, fmt.Errorf("module execution failed: %w", err))
		}
	}

	logger.Debug("Sandbox execution finished with exit code %d (%d bytes stdout)", exitCode, stdout.Len())
	return formatExecutionOutput(stdout.String(), stderr.String(), exitCode), nil
}

func formatExecutionOutput(stdout, stderr string, exitCode uint32) string {
	var b strings.Builder
	b.WriteString(stdout)
	if stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("stderr:\n")
		b.WriteString(stderr)
	}
	if exitCode != 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "exit code: %d", exitCode)
	}
	if b.Len() == 0 {
		return "(no output)"
	}
	return b.String()
}

func stringArgs(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
