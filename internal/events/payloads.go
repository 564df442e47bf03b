package events

import "time"

// Payload structs carried in event Data. Field tags match the wire casing so
// a JSON round-trip through NATS re-decodes cleanly. Each implements
// GetSessionID so subscribers can route by session.

// PermissionRequestedPayload announces a request entering the pending queue.
type PermissionRequestedPayload struct {
	RequestID string                 `json:"requestId"`
	ToolName  string                 `json:"toolName"`
	Input     map[string]interface{} `json:"input"`
	Summary   string                 `json:"summary"`
	RiskLevel string                 `json:"riskLevel"`
	Category  string                 `json:"category"`
	SessionID string                 `json:"sessionId,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	ExpiresAt time.Time              `json:"expiresAt"`
}

// GetSessionID returns the owning session, empty for unbound requests.
func (p PermissionRequestedPayload) GetSessionID() string { return p.SessionID }

// PermissionResolvedPayload announces a request leaving the queue by user
// decision.
type PermissionResolvedPayload struct {
	RequestID string `json:"requestId"`
	ToolName  string `json:"toolName"`
	Decision  string `json:"decision"`
	SessionID string `json:"sessionId,omitempty"`
}

// GetSessionID returns the owning session, empty for unbound requests.
func (p PermissionResolvedPayload) GetSessionID() string { return p.SessionID }

// PermissionTimedOutPayload announces a request expiring undecided.
type PermissionTimedOutPayload struct {
	RequestID string `json:"requestId"`
	ToolName  string `json:"toolName"`
	SessionID string `json:"sessionId,omitempty"`
}

// GetSessionID returns the owning session, empty for unbound requests.
func (p PermissionTimedOutPayload) GetSessionID() string { return p.SessionID }

// PermissionCancelledPayload announces the agent withdrawing a request.
type PermissionCancelledPayload struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason"`
	SessionID string `json:"sessionId,omitempty"`
}

// GetSessionID returns the owning session, empty for unbound requests.
func (p PermissionCancelledPayload) GetSessionID() string { return p.SessionID }

// PermissionNoClientsPayload announces a request fanned out with no connected
// client to receive it. The request keeps waiting for its normal timeout.
type PermissionNoClientsPayload struct {
	RequestID string `json:"requestId"`
	ToolName  string `json:"toolName"`
	SessionID string `json:"sessionId,omitempty"`
}

// GetSessionID returns the owning session, empty for unbound requests.
func (p PermissionNoClientsPayload) GetSessionID() string { return p.SessionID }

// ClientDisconnectedPayload is emitted once per request id a client left
// unanswered. Informational: the request itself stays pending.
type ClientDisconnectedPayload struct {
	ClientID  string `json:"clientId"`
	RequestID string `json:"requestId"`
	SessionID string `json:"sessionId,omitempty"`
}

// GetSessionID returns the client's session, empty for unbound clients.
func (p ClientDisconnectedPayload) GetSessionID() string { return p.SessionID }

// PlanRequestedPayload announces a plan entering review.
type PlanRequestedPayload struct {
	PlanID    string    `json:"planId"`
	Content   string    `json:"content"`
	SessionID string    `json:"sessionId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// GetSessionID returns the owning session, empty for unbound plans.
func (p PlanRequestedPayload) GetSessionID() string { return p.SessionID }

// PlanResolvedPayload announces a plan review ending with a user verdict.
type PlanResolvedPayload struct {
	PlanID         string `json:"planId"`
	Approved       bool   `json:"approved"`
	PermissionMode string `json:"permissionMode,omitempty"`
	Reason         string `json:"reason,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
}

// GetSessionID returns the owning session, empty for unbound plans.
func (p PlanResolvedPayload) GetSessionID() string { return p.SessionID }

// PlanTimedOutPayload announces a plan review expiring undecided.
type PlanTimedOutPayload struct {
	PlanID    string `json:"planId"`
	SessionID string `json:"sessionId,omitempty"`
}

// GetSessionID returns the owning session, empty for unbound plans.
func (p PlanTimedOutPayload) GetSessionID() string { return p.SessionID }
