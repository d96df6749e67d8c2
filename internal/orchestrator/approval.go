package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/codefionn/werkzeug/internal/logger"
	"github.com/codefionn/werkzeug/internal/toolcall"
)

// Decision is the user's verdict on a pending tool call.
type Decision int

const (
	// DecisionDeny rejects the call; a denial marker is folded into the
	// conversation and the run continues.
	DecisionDeny Decision = iota
	// DecisionApprove allows this one call.
	DecisionApprove
	// DecisionApproveAll allows this call and every later call in the same
	// run, without further prompting.
	DecisionApproveAll
)

func (d Decision) String() string {
	switch d {
	case DecisionApprove:
		return "approve"
	case DecisionApproveAll:
		return "approve_all"
	default:
		return "deny"
	}
}

// DenialCause says how a denial came about. A denial folded into the
// conversation reads differently depending on whether a user said no or
// nobody answered in time.
type DenialCause int

const (
	// CauseDecision means a user explicitly decided the call.
	CauseDecision DenialCause = iota
	// CauseTimeout means the approval window elapsed without a decision.
	CauseTimeout
	// CauseCancelled means the run was cancelled while the call waited.
	CauseCancelled
)

// resolution is the recorded outcome of one call's approval.
type resolution struct {
	decision Decision
	cause    DenialCause
}

// ApprovalGate holds tool calls that need an explicit user decision before
// they may execute. Each call gets exactly one decision; a second Resolve
// for the same call is ignored. No decision within the timeout counts as a
// denial.
type ApprovalGate struct {
	mu         sync.Mutex
	required   func(qualifiedName string) bool
	timeout    time.Duration
	pending    map[string]chan Decision
	resolved   map[string]resolution
	approveAll bool
}

// NewApprovalGate creates a gate. required decides per qualified tool name
// whether a call must be approved; nil means nothing is gated.
func NewApprovalGate(required func(string) bool, timeout time.Duration) *ApprovalGate {
	return &ApprovalGate{
		required: required,
		timeout:  timeout,
		pending:  make(map[string]chan Decision),
		resolved: make(map[string]resolution),
	}
}

// Requires reports whether the call must wait for a decision.
func (g *ApprovalGate) Requires(call toolcall.Call) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.approveAll || g.required == nil {
		return false
	}
	return g.required(call.QualifiedName())
}

// Prepare registers every call of a batch that needs a decision and returns
// their ids. Registration happens before the calls are announced, so a
// decision delivered right after the announcement always finds its call.
func (g *ApprovalGate) Prepare(calls []toolcall.Call) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ids []string
	for _, call := range calls {
		if g.approveAll || g.required == nil || !g.required(call.QualifiedName()) {
			continue
		}
		if _, done := g.resolved[call.ID]; done {
			continue
		}
		if _, ok := g.pending[call.ID]; !ok {
			g.pending[call.ID] = make(chan Decision, 1)
		}
		ids = append(ids, call.ID)
	}
	return ids
}

// Await blocks until the call is decided, the timeout elapses or ctx is
// cancelled. Timeout and cancellation count as denial; the returned cause
// distinguishes them from a user's Deny.
func (g *ApprovalGate) Await(ctx context.Context, callID string) (Decision, DenialCause) {
	g.mu.Lock()
	if g.approveAll {
		g.mu.Unlock()
		return DecisionApprove, CauseDecision
	}
	if res, done := g.resolved[callID]; done {
		g.mu.Unlock()
		return effectiveDecision(res.decision), res.cause
	}
	ch, ok := g.pending[callID]
	if !ok {
		ch = make(chan Decision, 1)
		g.pending[callID] = ch
	}
	g.mu.Unlock()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case decision := <-ch:
		return effectiveDecision(decision), CauseDecision
	case <-timer.C:
		logger.Info("Approval for call %s timed out after %s, denying", callID, g.timeout)
		return g.expire(callID, CauseTimeout)
	case <-ctx.Done():
		return g.expire(callID, CauseCancelled)
	}
}

// Resolve delivers a decision for a pending call. Decisions for unknown or
// already decided calls are ignored. ApproveAll also releases every other
// call currently waiting. Returns whether the decision took effect.
func (g *ApprovalGate) Resolve(callID string, decision Decision) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, done := g.resolved[callID]; done {
		return false
	}
	ch, ok := g.pending[callID]
	if !ok {
		return false
	}

	g.resolved[callID] = resolution{decision: decision, cause: CauseDecision}
	delete(g.pending, callID)
	ch <- decision

	if decision == DecisionApproveAll {
		g.approveAll = true
		for id, other := range g.pending {
			g.resolved[id] = resolution{decision: DecisionApprove, cause: CauseDecision}
			delete(g.pending, id)
			other <- DecisionApprove
		}
	}
	return true
}

// expire records a denial for a call whose wait ended without a decision,
// unless a decision raced in first.
func (g *ApprovalGate) expire(callID string, cause DenialCause) (Decision, DenialCause) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if res, done := g.resolved[callID]; done {
		return effectiveDecision(res.decision), res.cause
	}
	g.resolved[callID] = resolution{decision: DecisionDeny, cause: cause}
	delete(g.pending, callID)
	return DecisionDeny, cause
}

// effectiveDecision collapses ApproveAll into Approve for the single call it
// was given for.
func effectiveDecision(d Decision) Decision {
	if d == DecisionApproveAll {
		return DecisionApprove
	}
	return d
}
