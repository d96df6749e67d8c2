package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/codefionn/werkzeug/internal/config"
	"github.com/codefionn/werkzeug/internal/tools"
)

const defaultCommandTimeout = 60 * time.Second

// CommandHost invokes tools by running a subprocess per call. The request
// goes to the process stdin as one JSON object, the response is read from
// its stdout.
type CommandHost struct {
	name    string
	cfg     *config.HostCommandConfig
	timeout time.Duration
}

// NewCommandHost creates a command host from its configuration.
func NewCommandHost(name string, cfg *config.HostCommandConfig) *CommandHost {
	timeout := defaultCommandTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &CommandHost{name: name, cfg: cfg, timeout: timeout}
}

// Name implements Host.
func (h *CommandHost) Name() string {
	return h.name
}

// List implements Host. Command hosts declare their tools in configuration.
func (h *CommandHost) List() []tools.Spec {
	specs := make([]tools.Spec, 0, len(h.cfg.Tools))
	for _, tool := range h.cfg.Tools {
		specs = append(specs, tools.Spec{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return specs
}

type commandRequest struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

type commandResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Invoke implements Host.
func (h *CommandHost) Invoke(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	if len(h.cfg.Exec) == 0 {
		return "", tools.NewError(tools.ErrorExecution, fmt.Errorf("host %s has no exec command", h.name))
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	request, err := json.Marshal(commandRequest{Tool: tool, Arguments: args})
	if err != nil {
		return "", tools.NewError(tools.ErrorInvalidArguments, fmt.Errorf("failed to encode request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.cfg.Exec[0], h.cfg.Exec[1:]...)
	cmd.Dir = h.cfg.WorkingDir
	cmd.Stdin = bytes.NewReader(request)
	cmd.Env = os.Environ()
	for key, value := range h.cfg.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", tools.NewError(tools.ErrorTimeout, fmt.Errorf("host %s timed out after %s", h.name, h.timeout))
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", tools.NewError(tools.ErrorExecution, fmt.Errorf("host %s failed: %s", h.name, detail))
	}

	return parseCommandOutput(stdout.Bytes())
}

// parseCommandOutput accepts either the structured {"result", "error"}
// response shape or raw text output.
func parseCommandOutput(output []byte) (string, error) {
	trimmed := bytes.TrimSpace(output)

	var resp commandResponse
	if err := json.Unmarshal(trimmed, &resp); err == nil && (resp.Result != "" || resp.Error != "") {
		if resp.Error != "" {
			return "", tools.NewError(tools.ErrorExecution, fmt.Errorf("%s", resp.Error))
		}
		return resp.Result, nil
	}

	return string(trimmed), nil
}
