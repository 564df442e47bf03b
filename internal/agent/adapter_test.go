package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/common/logger"
	"github.com/toolgate/toolgate/internal/permission"
	"github.com/toolgate/toolgate/pkg/protocol"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

type brokerFixture struct {
	permissions *permission.Manager
	plans       *permission.PlanManager
}

func newBrokerFixture(t *testing.T, timeout time.Duration) *brokerFixture {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	log := newTestLogger(t)
	permissions := permission.NewManager(permission.ManagerConfig{
		Timeout:         timeout,
		MaxQueueSize:    100,
		CleanupInterval: time.Minute,
		CacheMaxEntries: 1000,
		CacheTTL:        time.Hour,
	}, nil, log)
	t.Cleanup(permissions.Shutdown)
	return &brokerFixture{
		permissions: permissions,
		plans:       permission.NewPlanManager(timeout, nil, log),
	}
}

// resolveNextRequest waits for a pending request in the session and applies
// the decision, playing the role of the human reviewer.
func (f *brokerFixture) resolveNextRequest(t *testing.T, sessionID string, decision protocol.Decision) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if infos := f.permissions.RequestsForSession(sessionID); len(infos) > 0 {
			require.True(t, f.permissions.Resolve(infos[0].ID, decision, nil))
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Error("no request became pending")
}

// resolveNextPlan waits for the pending plan review and applies the verdict.
func (f *brokerFixture) resolveNextPlan(t *testing.T, decision protocol.PlanDecision, mode protocol.PermissionMode) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if id := f.plans.Pending(); id != "" {
			require.True(t, f.plans.Resolve(id, decision, mode, ""))
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Error("no plan became pending")
}

func TestDefaultModePromptsUser(t *testing.T) {
	f := newBrokerFixture(t, 0)
	adapter := NewAdapter(f.permissions, f.plans, "s1", protocol.ModeDefault, newTestLogger(t))

	go f.resolveNextRequest(t, "s1", protocol.DecisionAllow)

	result, err := adapter.DecideTool(context.Background(), "Read", map[string]interface{}{"file_path": "a"})
	require.NoError(t, err)
	assert.Equal(t, permission.BehaviorAllow, result.Behavior)
}

func TestEmptyModeDefaultsToDefault(t *testing.T) {
	f := newBrokerFixture(t, 0)
	adapter := NewAdapter(f.permissions, f.plans, "s1", "", newTestLogger(t))
	assert.Equal(t, protocol.ModeDefault, adapter.Mode())
}

func TestBypassModeAllowsEverything(t *testing.T) {
	f := newBrokerFixture(t, 0)
	adapter := NewAdapter(f.permissions, f.plans, "s1", protocol.ModeBypassPermissions, newTestLogger(t))

	// No reviewer in the loop: the call must not block.
	result, err := adapter.DecideTool(context.Background(), "Bash", map[string]interface{}{"command": "rm -rf /"})
	require.NoError(t, err)
	assert.Equal(t, permission.BehaviorAllow, result.Behavior)
	assert.Equal(t, 0, f.permissions.PendingCount())
}

func TestAcceptEditsShortCircuitsFileTools(t *testing.T) {
	f := newBrokerFixture(t, 0)
	adapter := NewAdapter(f.permissions, f.plans, "s1", protocol.ModeAcceptEdits, newTestLogger(t))

	for _, tool := range []string{"Read", "Write", "Edit"} {
		result, err := adapter.DecideTool(context.Background(), tool, map[string]interface{}{"file_path": "a"})
		require.NoError(t, err)
		assert.Equal(t, permission.BehaviorAllow, result.Behavior, tool)
	}
	assert.Equal(t, 0, f.permissions.PendingCount())

	// Shell execution still prompts.
	go f.resolveNextRequest(t, "s1", protocol.DecisionDeny)
	result, err := adapter.DecideTool(context.Background(), "Bash", map[string]interface{}{"command": "ls"})
	require.NoError(t, err)
	assert.Equal(t, permission.BehaviorDeny, result.Behavior)
}

func TestPlanModeDeniesMutations(t *testing.T) {
	f := newBrokerFixture(t, 0)
	adapter := NewAdapter(f.permissions, f.plans, "s1", protocol.ModePlan, newTestLogger(t))

	for _, tool := range []string{"Write", "Edit", "Bash"} {
		result, err := adapter.DecideTool(context.Background(), tool, map[string]interface{}{})
		require.NoError(t, err)
		assert.Equal(t, permission.BehaviorDeny, result.Behavior, tool)
		assert.Contains(t, result.Message, "not allowed in plan mode")
	}
	// Denied synchronously, never queued.
	assert.Equal(t, 0, f.permissions.PendingCount())
}

func TestPlanModeAllowsResearchTools(t *testing.T) {
	f := newBrokerFixture(t, 0)
	adapter := NewAdapter(f.permissions, f.plans, "s1", protocol.ModePlan, newTestLogger(t))

	// Research tools go through the normal prompt flow.
	go f.resolveNextRequest(t, "s1", protocol.DecisionAllow)
	result, err := adapter.DecideTool(context.Background(), "Grep", map[string]interface{}{"pattern": "x"})
	require.NoError(t, err)
	assert.Equal(t, permission.BehaviorAllow, result.Behavior)
}

func TestExitPlanModeApprovalTransitionsMode(t *testing.T) {
	f := newBrokerFixture(t, 0)
	adapter := NewAdapter(f.permissions, f.plans, "s1", protocol.ModePlan, newTestLogger(t))

	go f.resolveNextPlan(t, protocol.PlanApprove, protocol.ModeAcceptEdits)

	result, err := adapter.DecideTool(context.Background(), "ExitPlanMode", map[string]interface{}{
		"plan": "1. change the thing",
	})
	require.NoError(t, err)
	assert.Equal(t, permission.BehaviorAllow, result.Behavior)
	assert.Equal(t, protocol.ModeAcceptEdits, adapter.Mode())

	// Mode transition took effect: edits no longer prompt.
	result, err = adapter.DecideTool(context.Background(), "Edit", map[string]interface{}{"file_path": "a"})
	require.NoError(t, err)
	assert.Equal(t, permission.BehaviorAllow, result.Behavior)
}

func TestExitPlanModeRejectionKeepsPlanMode(t *testing.T) {
	f := newBrokerFixture(t, 0)
	adapter := NewAdapter(f.permissions, f.plans, "s1", protocol.ModePlan, newTestLogger(t))

	go f.resolveNextPlan(t, protocol.PlanReject, "")

	_, err := adapter.DecideTool(context.Background(), "ExitPlanMode", map[string]interface{}{
		"plan": "1. change the thing",
	})
	var rejected *permission.PlanRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, protocol.ModePlan, adapter.Mode())
}

func TestExitPlanModeWithoutPlanContentPrompts(t *testing.T) {
	f := newBrokerFixture(t, 0)
	adapter := NewAdapter(f.permissions, f.plans, "s1", protocol.ModeDefault, newTestLogger(t))

	// No plan string: treated as an ordinary tool call.
	go f.resolveNextRequest(t, "s1", protocol.DecisionAllow)
	result, err := adapter.DecideTool(context.Background(), "ExitPlanMode", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, permission.BehaviorAllow, result.Behavior)
	assert.Equal(t, "", f.plans.Pending())
}

func TestDecidePlanApproveDefault(t *testing.T) {
	f := newBrokerFixture(t, 0)
	adapter := NewAdapter(f.permissions, f.plans, "s1", protocol.ModePlan, newTestLogger(t))

	go f.resolveNextPlan(t, protocol.PlanApprove, "")

	outcome, err := adapter.DecidePlan(context.Background(), "the plan")
	require.NoError(t, err)
	assert.Equal(t, protocol.ModeDefault, outcome.PermissionMode)
	assert.Equal(t, protocol.ModeDefault, adapter.Mode())
}
