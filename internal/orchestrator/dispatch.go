package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/codefionn/werkzeug/internal/logger"
	"github.com/codefionn/werkzeug/internal/toolcall"
	"github.com/codefionn/werkzeug/internal/toolhost"
	"github.com/codefionn/werkzeug/internal/tools"
)

// Denial markers folded into the conversation in place of real tool output.
// The model is told whether a user said no or the approval never arrived.
const (
	deniedResultMessage      = "Operation denied by user"
	approvalTimedOutMessage  = "Operation not executed: approval request timed out"
	approvalCancelledMessage = "Operation not executed: run cancelled before approval"
)

// Dispatcher routes tool calls to their executors and runs a batch with
// bounded concurrency. Calls with a host namespace go to that host, bare
// names go to the built-in registry.
type Dispatcher struct {
	registry      *tools.Registry
	hosts         *toolhost.Registry
	maxConcurrent int64
	callTimeout   time.Duration
	heartbeat     time.Duration
}

// NewDispatcher creates a dispatcher. maxConcurrent bounds how many calls
// execute at once; callTimeout caps each single execution.
func NewDispatcher(registry *tools.Registry, hosts *toolhost.Registry, maxConcurrent int, callTimeout, heartbeat time.Duration) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		registry:      registry,
		hosts:         hosts,
		maxConcurrent: int64(maxConcurrent),
		callTimeout:   callTimeout,
		heartbeat:     heartbeat,
	}
}

// ExecuteBatch runs all calls of one model turn. Results come back indexed
// by the original call order, whatever order executions finish in. A call
// waiting for approval blocks only itself; the concurrency bound applies to
// actual executions.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, runID string, calls []toolcall.Call, gate *ApprovalGate, events *emitter) []tools.Result {
	results := make([]tools.Result, len(calls))
	sem := semaphore.NewWeighted(d.maxConcurrent)

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call toolcall.Call) {
			defer wg.Done()
			results[i] = d.executeOne(ctx, runID, call, gate, sem, events)
		}(i, call)
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) executeOne(ctx context.Context, runID string, call toolcall.Call, gate *ApprovalGate, sem *semaphore.Weighted, events *emitter) tools.Result {
	// Heartbeats cover the whole wait, including time spent blocked on an
	// approval or queued behind the concurrency bound.
	stopHeartbeat := d.startHeartbeat(ctx, runID, call.ID, events)
	defer stopHeartbeat()

	if gate != nil && gate.Requires(call) {
		if decision, cause := gate.Await(ctx, call.ID); decision == DecisionDeny {
			marker := denialMarker(cause)
			logger.Info("Call %s (%s) denied (%s)", call.ID, call.QualifiedName(), marker)
			events.emit(ToolResultEvent{RunID: runID, CallID: call.ID, Output: marker})
			return tools.Result{ID: call.ID, Result: marker}
		}
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		wrapped := tools.NewError(tools.ErrorExecution, fmt.Errorf("call %s not started: %w", call.ID, err))
		return tools.Result{ID: call.ID, Error: wrapped, ErrorType: tools.ErrorExecution}
	}
	defer sem.Release(1)

	events.emit(ToolExecuting{RunID: runID, CallID: call.ID, Tool: call.QualifiedName()})

	callCtx := ctx
	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}

	output, err := d.route(callCtx, call)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = tools.NewError(tools.ErrorTimeout, fmt.Errorf("%s exceeded %s", call.QualifiedName(), d.callTimeout))
	}

	result := tools.Result{ID: call.ID, Result: output, Error: err, ErrorType: tools.Classify(err)}
	events.emit(ToolResultEvent{RunID: runID, CallID: call.ID, Output: output, Err: err})
	return result
}

// denialMarker picks the conversation marker for a denied call.
func denialMarker(cause DenialCause) string {
	switch cause {
	case CauseTimeout:
		return approvalTimedOutMessage
	case CauseCancelled:
		return approvalCancelledMessage
	default:
		return deniedResultMessage
	}
}

// route picks the executor for a call. Unknown hosts and unknown tools
// produce UnknownTool errors, which are recoverable like any other tool
// failure.
func (d *Dispatcher) route(ctx context.Context, call toolcall.Call) (string, error) {
	if call.Server != "" {
		if d.hosts == nil {
			return "", tools.NewError(tools.ErrorUnknownTool, fmt.Errorf("no tool hosts configured"))
		}
		host, ok := d.hosts.Get(call.Server)
		if !ok {
			return "", tools.NewError(tools.ErrorUnknownTool, fmt.Errorf("unknown tool host: %s", call.Server))
		}
		return host.Invoke(ctx, call.Tool, call.Arguments)
	}
	return d.registry.Execute(ctx, call.Tool, call.Arguments)
}

// startHeartbeat emits periodic heartbeats until the returned stop function
// is called.
func (d *Dispatcher) startHeartbeat(ctx context.Context, runID, callID string, events *emitter) func() {
	if d.heartbeat <= 0 {
		return func() {}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	started := time.Now()

	go func() {
		ticker := time.NewTicker(d.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				events.emit(ToolHeartbeat{RunID: runID, CallID: callID, Elapsed: time.Since(started)})
			}
		}
	}()

	return cancel
}
