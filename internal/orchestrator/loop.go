// Package orchestrator drives the agentic tool-call loop: model turn, call
// detection, approval, dispatch, result folding, repeat until the model
// answers in plain text or a limit trips.
package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/werkzeug/internal/llm"
	"github.com/codefionn/werkzeug/internal/logger"
	"github.com/codefionn/werkzeug/internal/toolcall"
	"github.com/codefionn/werkzeug/internal/toolhost"
	"github.com/codefionn/werkzeug/internal/tools"
)

// AbortReason says why a run ended without a final answer. All of these are
// run-terminal.
type AbortReason string

const (
	AbortTurnLimit       AbortReason = "turn_limit_exceeded"
	AbortNonConvergent   AbortReason = "non_convergent"
	AbortUpstreamFailure AbortReason = "upstream_failure"
	AbortCancelled       AbortReason = "cancelled"
)

// Outcome is the final state of one run.
type Outcome struct {
	RunID       string
	Completed   bool
	FinalText   string
	AbortReason AbortReason
	AbortDetail string
	Turns       int
}

// Config carries the per-run limits and model parameters. RequireApproval
// decides per qualified tool name whether a call needs a user decision; nil
// means nothing is gated.
type Config struct {
	MaxTurns            int
	ToolTimeout         time.Duration
	ApprovalTimeout     time.Duration
	MaxConcurrent       int
	RepetitionThreshold int
	Heartbeat           time.Duration
	Format              toolcall.Format
	SystemPrompt        string
	Temperature         float64
	MaxTokens           int
	RequireApproval     func(qualifiedName string) bool
}

func (c *Config) applyDefaults() {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 32
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 2 * time.Minute
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = 5 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.RepetitionThreshold <= 0 {
		c.RepetitionThreshold = 3
	}
}

// Loop runs one conversation with the model until it converges. A Loop is
// single-use: create one per run.
type Loop struct {
	cfg        Config
	client     llm.Client
	dispatcher *Dispatcher
	gate       *ApprovalGate
	detector   *RepetitionDetector
	events     *emitter

	runID    string
	history  []llm.Message
	toolDefs []llm.ToolDefinition
	stream   llm.StreamCallback

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewLoop wires a run. The dispatcher and approval gate are built from cfg,
// so its timeouts and concurrency bound are the ones that apply. hosts may
// be nil when no external hosts exist; observer may be nil when nobody
// listens.
func NewLoop(cfg Config, client llm.Client, registry *tools.Registry, hosts *toolhost.Registry, observer Observer) *Loop {
	cfg.applyDefaults()

	var gate *ApprovalGate
	if cfg.RequireApproval != nil {
		gate = NewApprovalGate(cfg.RequireApproval, cfg.ApprovalTimeout)
	}

	return &Loop{
		cfg:        cfg,
		client:     client,
		dispatcher: NewDispatcher(registry, hosts, cfg.MaxConcurrent, cfg.ToolTimeout, cfg.Heartbeat),
		gate:       gate,
		detector:   NewRepetitionDetector(cfg.RepetitionThreshold),
		events:     newEmitter(observer),
		runID:      uuid.NewString(),
	}
}

// RunID returns the run's identifier, present on every event.
func (l *Loop) RunID() string {
	return l.runID
}

// SetTools advertises the given tool definitions to the model.
func (l *Loop) SetTools(defs []llm.ToolDefinition) {
	l.toolDefs = defs
}

// SetStreamCallback forwards model text deltas as they are generated.
func (l *Loop) SetStreamCallback(cb llm.StreamCallback) {
	l.stream = cb
}

// SetObserver replaces the event observer. Only valid before Run.
func (l *Loop) SetObserver(observer Observer) {
	l.events.observer = observer
}

// Resolve delivers an approval decision for a pending call.
func (l *Loop) Resolve(callID string, decision Decision) bool {
	if l.gate == nil {
		return false
	}
	return l.gate.Resolve(callID, decision)
}

// Stop cancels the run. The loop returns with a Cancelled outcome.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

// Run drives the loop to its outcome. It always returns an Outcome; errors
// along the way surface as abort reasons, not Go errors, because the caller
// gets exactly one verdict per run.
func (l *Loop) Run(ctx context.Context, prompt string) *Outcome {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	defer cancel()

	outcome := &Outcome{RunID: l.runID}
	defer func() {
		l.events.emit(ToolLoopFinished{RunID: l.runID, Outcome: outcome})
	}()

	l.history = append(l.history, llm.Message{Role: llm.RoleUser, Content: prompt})
	logger.Info("Run %s started (model %s, max %d turns)", l.runID, l.client.GetModelName(), l.cfg.MaxTurns)

	for turn := 1; ; turn++ {
		outcome.Turns = turn

		if ctx.Err() != nil {
			l.abort(outcome, AbortCancelled, "run cancelled")
			return outcome
		}

		resp, err := l.client.CompleteWithRequest(ctx, l.buildRequest())
		if err != nil {
			if ctx.Err() != nil {
				l.abort(outcome, AbortCancelled, "run cancelled")
			} else {
				l.abort(outcome, AbortUpstreamFailure, classifyUpstreamError(err))
			}
			return outcome
		}

		text, calls := l.detectCalls(resp)
		if len(calls) == 0 {
			outcome.Completed = true
			outcome.FinalText = text
			logger.Info("Run %s completed after %d turns", l.runID, turn)
			return outcome
		}

		logger.Debug("Run %s turn %d produced %d tool calls", l.runID, turn, len(calls))
		var awaiting []string
		if l.gate != nil {
			awaiting = l.gate.Prepare(calls)
		}
		l.events.emit(ToolCallsPending{RunID: l.runID, Calls: calls, AwaitingApproval: awaiting})
		l.history = append(l.history, assistantMessage(text, calls))

		results := l.dispatcher.ExecuteBatch(ctx, l.runID, calls, l.gate, l.events)
		if ctx.Err() != nil {
			l.abort(outcome, AbortCancelled, "run cancelled during tool execution")
			return outcome
		}

		for i, call := range calls {
			l.history = append(l.history, foldResult(call, results[i]))
		}

		stalled := false
		for _, call := range calls {
			if l.detector.Record(call) == Stalled {
				stalled = true
			}
		}
		if stalled {
			l.abort(outcome, AbortNonConvergent,
				"the model kept issuing the same tool call without making progress")
			return outcome
		}

		if turn >= l.cfg.MaxTurns {
			l.abort(outcome, AbortTurnLimit, "turn limit reached before the model produced a final answer")
			return outcome
		}
	}
}

func (l *Loop) abort(outcome *Outcome, reason AbortReason, detail string) {
	outcome.AbortReason = reason
	outcome.AbortDetail = detail
	logger.Warn("Run %s aborted after %d turns: %s (%s)", l.runID, outcome.Turns, reason, detail)
}

func (l *Loop) buildRequest() *llm.CompletionRequest {
	return &llm.CompletionRequest{
		Messages:     l.history,
		Tools:        l.toolDefs,
		SystemPrompt: l.cfg.SystemPrompt,
		Temperature:  l.cfg.Temperature,
		MaxTokens:    l.cfg.MaxTokens,
		Stream:       l.stream,
	}
}

// detectCalls applies the configured tool-call format. Structured calls
// from the provider are honored even when a text format is configured; some
// endpoints return both kinds depending on the model build.
func (l *Loop) detectCalls(resp *llm.CompletionResponse) (string, []toolcall.Call) {
	if l.cfg.Format == toolcall.FormatNative {
		return resp.Content, toolcall.FromNative(resp.ToolCalls)
	}

	text, calls := toolcall.Detect(resp.Content, l.cfg.Format)
	if len(calls) == 0 && len(resp.ToolCalls) > 0 {
		calls = toolcall.FromNative(resp.ToolCalls)
	}
	return text, calls
}

// assistantMessage folds the model turn into the history, preserving the
// call ids so later results can refer back to them.
func assistantMessage(text string, calls []toolcall.Call) llm.Message {
	msg := llm.Message{Role: llm.RoleAssistant, Content: text}
	for _, call := range calls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		msg.ToolCalls = append(msg.ToolCalls, map[string]interface{}{
			"id":   call.ID,
			"type": "function",
			"function": map[string]interface{}{
				"name":      call.QualifiedName(),
				"arguments": string(args),
			},
		})
	}
	return msg
}

// foldResult turns one tool result into a history message. Failures become
// readable error text for the model; the run continues either way.
func foldResult(call toolcall.Call, result tools.Result) llm.Message {
	content := result.Result
	if result.Error != nil {
		content = "Error (" + string(result.ErrorType) + "): " + result.Error.Error()
	}
	return llm.Message{
		Role:     llm.RoleTool,
		Content:  content,
		ToolID:   call.ID,
		ToolName: call.QualifiedName(),
	}
}

// classifyUpstreamError maps a provider failure to a readable abort detail.
func classifyUpstreamError(err error) string {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "401"), strings.Contains(lower, "unauthorized"), strings.Contains(lower, "api key"):
		return "model provider rejected the credentials: " + msg
	case strings.Contains(lower, "429"), strings.Contains(lower, "rate limit"), strings.Contains(lower, "quota"):
		return "model provider is rate limiting: " + msg
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline"):
		return "model provider timed out: " + msg
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"):
		return "model provider is unreachable: " + msg
	default:
		return "model provider request failed: " + msg
	}
}
