package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/werkzeug/internal/toolcall"
)

func gateAll(timeout time.Duration) *ApprovalGate {
	return NewApprovalGate(func(string) bool { return true }, timeout)
}

// resolveEventually retries until the call is registered as pending.
func resolveEventually(t *testing.T, gate *ApprovalGate, callID string, decision Decision) {
	t.Helper()
	require.Eventually(t, func() bool {
		return gate.Resolve(callID, decision)
	}, time.Second, time.Millisecond)
}

func TestApprovalGateDeny(t *testing.T) {
	gate := gateAll(time.Minute)

	done := make(chan Decision, 1)
	go func() {
		decision, _ := gate.Await(context.Background(), "c1")
		done <- decision
	}()
	resolveEventually(t, gate, "c1", DecisionDeny)

	assert.Equal(t, DecisionDeny, <-done)
}

func TestApprovalGateApprove(t *testing.T) {
	gate := gateAll(time.Minute)

	done := make(chan Decision, 1)
	go func() {
		decision, _ := gate.Await(context.Background(), "c1")
		done <- decision
	}()
	resolveEventually(t, gate, "c1", DecisionApprove)

	assert.Equal(t, DecisionApprove, <-done)
}

func TestApprovalGateDecisionIsOneShot(t *testing.T) {
	gate := gateAll(time.Minute)

	go gate.Await(context.Background(), "c1")
	resolveEventually(t, gate, "c1", DecisionApprove)

	// The call is decided; later decisions must not take effect.
	assert.False(t, gate.Resolve("c1", DecisionDeny))
	assert.False(t, gate.Resolve("c1", DecisionApprove))
}

func TestApprovalGateIgnoresUnknownCall(t *testing.T) {
	gate := gateAll(time.Minute)
	assert.False(t, gate.Resolve("never-registered", DecisionApprove))
}

func TestApprovalGatePrepareRegistersCalls(t *testing.T) {
	gate := gateAll(time.Minute)

	ids := gate.Prepare([]toolcall.Call{
		{ID: "c1", Tool: "sql_select"},
		{ID: "c2", Tool: "schema_search"},
	})
	assert.Equal(t, []string{"c1", "c2"}, ids)

	// A decision delivered before anyone awaits must land, not be dropped.
	require.True(t, gate.Resolve("c1", DecisionApprove))

	decision, cause := gate.Await(context.Background(), "c1")
	assert.Equal(t, DecisionApprove, decision)
	assert.Equal(t, CauseDecision, cause)
}

func TestApprovalGatePrepareSkipsUngatedCalls(t *testing.T) {
	gate := NewApprovalGate(func(name string) bool {
		return name == "sql_select"
	}, time.Minute)

	ids := gate.Prepare([]toolcall.Call{
		{ID: "c1", Tool: "sql_select"},
		{ID: "c2", Tool: "schema_search"},
	})
	assert.Equal(t, []string{"c1"}, ids)
	assert.False(t, gate.Resolve("c2", DecisionDeny))
}

func TestApprovalGateTimeoutDenies(t *testing.T) {
	gate := gateAll(20 * time.Millisecond)

	decision, cause := gate.Await(context.Background(), "c1")
	assert.Equal(t, DecisionDeny, decision)
	assert.Equal(t, CauseTimeout, cause)

	// The timeout consumed the call's one decision.
	assert.False(t, gate.Resolve("c1", DecisionApprove))
}

func TestApprovalGateCancellationDenies(t *testing.T) {
	gate := gateAll(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decision, cause := gate.Await(ctx, "c1")
	assert.Equal(t, DecisionDeny, decision)
	assert.Equal(t, CauseCancelled, cause)
}

func TestApprovalGateApproveAllCoversLaterCalls(t *testing.T) {
	gate := gateAll(time.Minute)
	call := toolcall.Call{ID: "c1", Tool: "sql_select"}

	require.True(t, gate.Requires(call))

	go gate.Await(context.Background(), "c1")
	resolveEventually(t, gate, "c1", DecisionApproveAll)

	// Later calls in the same run skip the gate entirely.
	assert.False(t, gate.Requires(toolcall.Call{ID: "c2", Tool: "sql_select"}))
	decision, _ := gate.Await(context.Background(), "c3")
	assert.Equal(t, DecisionApprove, decision)
}

func TestApprovalGateApproveAllReleasesWaitingSiblings(t *testing.T) {
	gate := gateAll(time.Minute)
	gate.Prepare([]toolcall.Call{
		{ID: "c1", Tool: "sql_select"},
		{ID: "c2", Tool: "sql_select"},
	})

	sibling := make(chan Decision, 1)
	go func() {
		decision, _ := gate.Await(context.Background(), "c2")
		sibling <- decision
	}()

	require.True(t, gate.Resolve("c1", DecisionApproveAll))

	// The sibling must not sit out its own timeout.
	select {
	case decision := <-sibling:
		assert.Equal(t, DecisionApprove, decision)
	case <-time.After(time.Second):
		t.Fatal("sibling call was not released by approve-all")
	}
}

func TestApprovalGateRequiresMatchesQualifiedName(t *testing.T) {
	gate := NewApprovalGate(func(name string) bool {
		return name == "db::run_query"
	}, time.Minute)

	assert.True(t, gate.Requires(toolcall.Call{Server: "db", Tool: "run_query"}))
	assert.False(t, gate.Requires(toolcall.Call{Tool: "run_query"}))
	assert.False(t, gate.Requires(toolcall.Call{Server: "db", Tool: "other"}))
}
