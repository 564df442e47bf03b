// Package permission implements the authorization broker core: the pending
// request queue, the per-session decision cache, and the plan approval slot.
package permission

import (
	"errors"
	"time"

	"github.com/toolgate/toolgate/pkg/protocol"
)

var (
	// ErrQueueFull is returned when the pending queue is at capacity.
	ErrQueueFull = errors.New("permission queue is full")

	// ErrPlanInFlight is returned when a plan approval is already pending.
	ErrPlanInFlight = errors.New("a plan approval is already in flight")

	// ErrAborted is returned when the agent cancelled the tool call before a
	// decision arrived. Distinct from a user denial.
	ErrAborted = errors.New("tool call aborted")

	// ErrShutdown is returned for requests in flight when the broker stops.
	ErrShutdown = errors.New("permission manager is shutting down")
)

// Behavior is the agent-facing verdict kind.
type Behavior string

const (
	BehaviorAllow Behavior = "allow"
	BehaviorDeny  Behavior = "deny"
)

// Result is the agent-facing outcome of a permission request. An allow always
// carries UpdatedInput, defaulting to the request's original input when the
// user did not modify it.
type Result struct {
	Behavior     Behavior               `json:"behavior"`
	UpdatedInput map[string]interface{} `json:"updatedInput,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Interrupt    bool                   `json:"interrupt,omitempty"`
}

// AllowResult builds an allow verdict carrying the effective input.
func AllowResult(input map[string]interface{}) Result {
	if input == nil {
		input = map[string]interface{}{}
	}
	return Result{Behavior: BehaviorAllow, UpdatedInput: input}
}

// DenyResult builds a deny verdict with a user-visible message.
func DenyResult(message string, interrupt bool) Result {
	return Result{Behavior: BehaviorDeny, Message: message, Interrupt: interrupt}
}

// Request is a pending tool authorization. The manager owns all instances;
// everything handed out is a copy or immutable.
type Request struct {
	ID        string
	ToolName  string
	Input     map[string]interface{}
	SessionID string
	Summary   string
	RiskLevel RiskLevel
	Category  Category
	CreatedAt time.Time
	ExpiresAt time.Time

	timer *time.Timer
	done  chan outcome
}

// outcome is the single terminal state of a request. Exactly one writer wins.
type outcome struct {
	result Result
	err    error
}

// RequestInfo is a read-only snapshot of a pending request, used by the sync
// protocol and the HTTP surface.
type RequestInfo struct {
	ID        string                 `json:"id"`
	ToolName  string                 `json:"toolName"`
	Input     map[string]interface{} `json:"input"`
	SessionID string                 `json:"sessionId,omitempty"`
	Summary   string                 `json:"summary"`
	RiskLevel RiskLevel              `json:"riskLevel"`
	Category  Category               `json:"category"`
	CreatedAt time.Time              `json:"createdAt"`
	ExpiresAt time.Time              `json:"expiresAt"`
}

// Stats is a snapshot of the manager's counters.
type Stats struct {
	Pending  int   `json:"pending"`
	Total    int64 `json:"total"`
	Approved int64 `json:"approved"`
	Denied   int64 `json:"denied"`
	TimedOut int64 `json:"timedOut"`
	Aborted  int64 `json:"aborted"`
}

// PlanRejectedError is returned when a plan review ends without approval:
// explicit rejection, timeout, or broker shutdown.
type PlanRejectedError struct {
	Reason string
}

func (e *PlanRejectedError) Error() string {
	return "plan rejected: " + e.Reason
}

// PlanOutcome is the result of an approved plan review.
type PlanOutcome struct {
	PermissionMode protocol.PermissionMode `json:"permissionMode"`
}

// PlanStats is a snapshot of the plan manager's counters.
type PlanStats struct {
	InFlight bool  `json:"inFlight"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	TimedOut int64 `json:"timedOut"`
}
