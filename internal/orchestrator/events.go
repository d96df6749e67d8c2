package orchestrator

import (
	"sync"
	"time"

	"github.com/codefionn/werkzeug/internal/toolcall"
)

// Event is a progress notification emitted during a run. Events are
// delivered in emission order through a single observer callback; the
// observer must not block for long, it runs on the emitting goroutine.
type Event interface {
	event()
}

// ToolCallsPending reports that a model turn produced tool calls which are
// now awaiting approval or execution. AwaitingApproval lists the ids of the
// calls that block on a user decision; they are already registered with the
// gate, so a decision delivered from this event always lands.
type ToolCallsPending struct {
	RunID            string
	Calls            []toolcall.Call
	AwaitingApproval []string
}

// ToolExecuting reports that a call started executing.
type ToolExecuting struct {
	RunID  string
	CallID string
	Tool   string
}

// ToolHeartbeat reports that a call is still running.
type ToolHeartbeat struct {
	RunID   string
	CallID  string
	Elapsed time.Duration
}

// ToolResultEvent reports the outcome of a single call.
type ToolResultEvent struct {
	RunID  string
	CallID string
	Output string
	Err    error
}

// ToolLoopFinished reports the final outcome of a run. It is always the last
// event of a run, whatever the outcome.
type ToolLoopFinished struct {
	RunID   string
	Outcome *Outcome
}

func (ToolCallsPending) event() {}
func (ToolExecuting) event()    {}
func (ToolHeartbeat) event()    {}
func (ToolResultEvent) event()  {}
func (ToolLoopFinished) event() {}

// Observer receives run events.
type Observer func(Event)

// emitter serializes delivery so concurrent tool goroutines cannot
// interleave their events.
type emitter struct {
	mu       sync.Mutex
	observer Observer
}

func newEmitter(observer Observer) *emitter {
	return &emitter{observer: observer}
}

func (e *emitter) emit(ev Event) {
	if e.observer == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer(ev)
}
