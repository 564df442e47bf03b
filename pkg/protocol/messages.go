// Package protocol provides wire message types and validation for the broker protocol.
//
// Every frame is a flat JSON object discriminated by its "type" field. The
// same types are used by the server, the mock agent client, and tests.
package protocol

import "time"

// MessageType discriminates wire messages.
type MessageType string

// Server -> client message types
const (
	TypePermissionRequest      MessageType = "permission-request"
	TypePermissionTimeout      MessageType = "permission-timeout"
	TypePermissionQueueStatus  MessageType = "permission-queue-status"
	TypePermissionCancelled    MessageType = "permission-cancelled"
	TypePermissionError        MessageType = "permission-error"
	TypePermissionSyncResponse MessageType = "permission-sync-response"
	TypePlanApprovalRequest    MessageType = "plan-approval-request"
	TypePlanApprovalTimeout    MessageType = "plan-approval-timeout"
)

// Client -> server message types
const (
	TypePermissionResponse    MessageType = "permission-response"
	TypePermissionSyncRequest MessageType = "permission-sync-request"
	TypePlanApprovalResponse  MessageType = "plan-approval-response"
)

// Decision is a user's verdict on a single tool invocation.
type Decision string

const (
	DecisionAllow        Decision = "allow"
	DecisionDeny         Decision = "deny"
	DecisionAllowSession Decision = "allow-session"
	DecisionAllowAlways  Decision = "allow-always"
)

// Valid reports whether the decision is one of the accepted wire values.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAllow, DecisionDeny, DecisionAllowSession, DecisionAllowAlways:
		return true
	}
	return false
}

// PlanDecision is a user's verdict on a proposed execution plan.
type PlanDecision string

const (
	PlanApprove PlanDecision = "approve"
	PlanReject  PlanDecision = "reject"
)

// Valid reports whether the plan decision is one of the accepted wire values.
func (d PlanDecision) Valid() bool {
	return d == PlanApprove || d == PlanReject
}

// PermissionMode is the agent's permission mode. A plan approval may only
// select default or acceptEdits; plan and bypassPermissions are configured on
// the agent side per query.
type PermissionMode string

const (
	ModeDefault           PermissionMode = "default"
	ModeAcceptEdits       PermissionMode = "acceptEdits"
	ModePlan              PermissionMode = "plan"
	ModeBypassPermissions PermissionMode = "bypassPermissions"
)

// Sequenced is implemented by outbound messages that carry the dispatcher's
// monotonic sequence number. The hub stamps the number at send time.
type Sequenced interface {
	SetSequenceNumber(n uint64)
}

// PermissionRequest asks a client to decide a pending tool invocation.
type PermissionRequest struct {
	Type           MessageType            `json:"type"`
	ID             string                 `json:"id"`
	ToolName       string                 `json:"toolName"`
	Input          map[string]interface{} `json:"input"`
	Summary        string                 `json:"summary"`
	RiskLevel      string                 `json:"riskLevel"`
	Category       string                 `json:"category"`
	Timestamp      time.Time              `json:"timestamp"`
	ExpiresAt      time.Time              `json:"expiresAt"`
	SessionID      string                 `json:"sessionId,omitempty"`
	SequenceNumber uint64                 `json:"sequenceNumber"`
}

// SetSequenceNumber implements Sequenced.
func (m *PermissionRequest) SetSequenceNumber(n uint64) { m.SequenceNumber = n }

// PermissionTimeout tells clients a request expired without a decision.
type PermissionTimeout struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId"`
	ToolName  string      `json:"toolName"`
	Timestamp time.Time   `json:"timestamp"`
}

// PermissionQueueStatus reports the broker's pending queue. Pending counts
// requests waiting in the manager; processing counts those already delivered
// to at least one connected client.
type PermissionQueueStatus struct {
	Type       MessageType `json:"type"`
	Pending    int         `json:"pending"`
	Processing int         `json:"processing"`
	Timestamp  time.Time   `json:"timestamp"`
}

// PermissionCancelled tells clients the agent withdrew a request.
type PermissionCancelled struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId"`
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
}

// PermissionError reports a rejected or malformed inbound message. It is sent
// only to the offending client.
type PermissionError struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Error     string      `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// PendingRequestInfo is one entry of a sync response.
type PendingRequestInfo struct {
	ID        string                 `json:"id"`
	ToolName  string                 `json:"toolName"`
	Input     map[string]interface{} `json:"input"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"sessionId,omitempty"`
}

// PermissionSyncResponse carries the pending requests for a session so a
// reconnecting client can rebuild its queue.
type PermissionSyncResponse struct {
	Type            MessageType          `json:"type"`
	SessionID       string               `json:"sessionId"`
	PendingRequests []PendingRequestInfo `json:"pendingRequests"`
}

// PlanApprovalRequest asks a client to review a whole execution plan.
type PlanApprovalRequest struct {
	Type           MessageType `json:"type"`
	PlanID         string      `json:"planId"`
	Content        string      `json:"content"`
	SessionID      string      `json:"sessionId,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	ExpiresAt      time.Time   `json:"expiresAt"`
	SequenceNumber uint64      `json:"sequenceNumber"`
}

// SetSequenceNumber implements Sequenced.
func (m *PlanApprovalRequest) SetSequenceNumber(n uint64) { m.SequenceNumber = n }

// PlanApprovalTimeout tells clients a plan review expired.
type PlanApprovalTimeout struct {
	Type      MessageType `json:"type"`
	PlanID    string      `json:"planId"`
	Timestamp time.Time   `json:"timestamp"`
}

// PermissionResponse is a client's decision for a pending request.
type PermissionResponse struct {
	Type         MessageType            `json:"type"`
	RequestID    string                 `json:"requestId"`
	Decision     Decision               `json:"decision"`
	UpdatedInput map[string]interface{} `json:"updatedInput,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// PermissionSyncRequest asks for the pending requests of a session.
type PermissionSyncRequest struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

// PlanApprovalResponse is a client's verdict on a plan review.
type PlanApprovalResponse struct {
	Type           MessageType    `json:"type"`
	PlanID         string         `json:"planId"`
	Decision       PlanDecision   `json:"decision"`
	PermissionMode PermissionMode `json:"permissionMode,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// NewPermissionTimeout creates a permission-timeout message.
func NewPermissionTimeout(requestID, toolName string) *PermissionTimeout {
	return &PermissionTimeout{
		Type:      TypePermissionTimeout,
		RequestID: requestID,
		ToolName:  toolName,
		Timestamp: time.Now().UTC(),
	}
}

// NewPermissionQueueStatus creates a permission-queue-status message.
func NewPermissionQueueStatus(pending, processing int) *PermissionQueueStatus {
	return &PermissionQueueStatus{
		Type:       TypePermissionQueueStatus,
		Pending:    pending,
		Processing: processing,
		Timestamp:  time.Now().UTC(),
	}
}

// NewPermissionCancelled creates a permission-cancelled message.
func NewPermissionCancelled(requestID, reason string) *PermissionCancelled {
	return &PermissionCancelled{
		Type:      TypePermissionCancelled,
		RequestID: requestID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// NewPermissionError creates a permission-error message.
func NewPermissionError(requestID, message string) *PermissionError {
	return &PermissionError{
		Type:      TypePermissionError,
		RequestID: requestID,
		Error:     message,
		Timestamp: time.Now().UTC(),
	}
}

// NewPermissionSyncResponse creates a permission-sync-response message.
func NewPermissionSyncResponse(sessionID string, pending []PendingRequestInfo) *PermissionSyncResponse {
	if pending == nil {
		pending = []PendingRequestInfo{}
	}
	return &PermissionSyncResponse{
		Type:            TypePermissionSyncResponse,
		SessionID:       sessionID,
		PendingRequests: pending,
	}
}

// NewPlanApprovalTimeout creates a plan-approval-timeout message.
func NewPlanApprovalTimeout(planID string) *PlanApprovalTimeout {
	return &PlanApprovalTimeout{
		Type:      TypePlanApprovalTimeout,
		PlanID:    planID,
		Timestamp: time.Now().UTC(),
	}
}
