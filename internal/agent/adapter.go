// Package agent presents the broker to an agent runtime. The adapter funnels
// tool-call gating and plan gating through the permission managers and
// applies the mode-specific short-circuits (bypass, accept-edits, plan).
package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/common/logger"
	"github.com/toolgate/toolgate/internal/permission"
	"github.com/toolgate/toolgate/pkg/protocol"
)

// acceptEditTools are allowed without prompting in accept-edits mode.
var acceptEditTools = map[string]bool{
	"Read":  true,
	"Write": true,
	"Edit":  true,
}

// planModeTools are allowed to run while a plan is still being drafted.
// Everything else is denied until the plan is approved.
var planModeTools = map[string]bool{
	"Read":            true,
	"Glob":            true,
	"Grep":            true,
	"Task":            true,
	"ExitPlanMode":    true,
	"TodoRead":        true,
	"TodoWrite":       true,
	"AskUserQuestion": true,
	"WebFetch":        true,
	"WebSearch":       true,
}

// Adapter gates one agent query. The effective permission mode is owned by
// the query: read by every DecideTool call, mutated only by SetPermissionMode
// and plan approval.
type Adapter struct {
	permissions *permission.Manager
	plans       *permission.PlanManager
	sessionID   string
	logger      *logger.Logger

	mu   sync.RWMutex
	mode protocol.PermissionMode
}

// NewAdapter creates an adapter for a single agent query bound to sessionID.
func NewAdapter(permissions *permission.Manager, plans *permission.PlanManager, sessionID string, mode protocol.PermissionMode, log *logger.Logger) *Adapter {
	if mode == "" {
		mode = protocol.ModeDefault
	}
	return &Adapter{
		permissions: permissions,
		plans:       plans,
		sessionID:   sessionID,
		mode:        mode,
		logger: log.WithFields(
			zap.String("component", "agent_adapter"),
			zap.String("session_id", sessionID)),
	}
}

// SetPermissionMode sets the effective mode for subsequent DecideTool calls.
func (a *Adapter) SetPermissionMode(mode protocol.PermissionMode) {
	a.mu.Lock()
	a.mode = mode
	a.mu.Unlock()
}

// Mode returns the current effective permission mode.
func (a *Adapter) Mode() protocol.PermissionMode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

// SessionID returns the chat session this query belongs to.
func (a *Adapter) SessionID() string {
	return a.sessionID
}

// DecideTool gates one proposed tool invocation. Mode short-circuits are
// evaluated first; everything else suspends on the permission manager until a
// user decides, the request times out, or ctx is cancelled.
//
// An ExitPlanMode call carrying a plan string is intercepted and routed
// through plan approval instead of the request queue.
func (a *Adapter) DecideTool(ctx context.Context, toolName string, input map[string]interface{}) (permission.Result, error) {
	mode := a.Mode()

	if mode == protocol.ModeBypassPermissions {
		return permission.AllowResult(input), nil
	}

	if mode == protocol.ModeAcceptEdits && acceptEditTools[toolName] {
		return permission.AllowResult(input), nil
	}

	if mode == protocol.ModePlan && !planModeTools[toolName] {
		a.logger.Debug("Tool denied in plan mode", zap.String("tool_name", toolName))
		return permission.DenyResult("Tool "+toolName+" is not allowed in plan mode", false), nil
	}

	if toolName == "ExitPlanMode" {
		if plan, ok := input["plan"].(string); ok && plan != "" {
			outcome, err := a.DecidePlan(ctx, plan)
			if err != nil {
				return permission.Result{}, err
			}
			a.logger.Info("Plan approved",
				zap.String("permission_mode", string(outcome.PermissionMode)))
			return permission.AllowResult(input), nil
		}
	}

	return a.permissions.AddRequest(ctx, toolName, input, a.sessionID)
}

// DecidePlan submits a plan for human review. On approval the adapter's
// effective mode transitions to the approved mode (default or acceptEdits);
// rejection and timeout leave the mode untouched so the agent stays in plan
// mode.
func (a *Adapter) DecidePlan(ctx context.Context, content string) (permission.PlanOutcome, error) {
	outcome, err := a.plans.RequestApproval(ctx, content, a.sessionID)
	if err != nil {
		return permission.PlanOutcome{}, err
	}
	a.SetPermissionMode(outcome.PermissionMode)
	return outcome, nil
}
