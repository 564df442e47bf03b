package protocol

import (
	"encoding/json"
	"fmt"
)

// ValidationError reports an inbound frame that failed validation. RequestID
// carries whatever id could be recovered from the frame so the error reply
// can reference it.
type ValidationError struct {
	RequestID string
	Reason    string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validate checks required fields and value domains.
func (m *PermissionResponse) Validate() error {
	if m.RequestID == "" {
		return &ValidationError{Reason: "requestId is required"}
	}
	if !m.Decision.Valid() {
		return &ValidationError{RequestID: m.RequestID, Reason: fmt.Sprintf("invalid decision %q", string(m.Decision))}
	}
	return nil
}

// Validate checks required fields.
func (m *PermissionSyncRequest) Validate() error {
	if m.SessionID == "" {
		return &ValidationError{Reason: "sessionId is required"}
	}
	return nil
}

// Validate checks required fields and value domains. An empty permissionMode
// on approval means default.
func (m *PlanApprovalResponse) Validate() error {
	if m.PlanID == "" {
		return &ValidationError{Reason: "planId is required"}
	}
	if !m.Decision.Valid() {
		return &ValidationError{RequestID: m.PlanID, Reason: fmt.Sprintf("invalid decision %q", string(m.Decision))}
	}
	if m.Decision == PlanApprove {
		switch m.PermissionMode {
		case "", ModeDefault, ModeAcceptEdits:
		default:
			return &ValidationError{RequestID: m.PlanID, Reason: fmt.Sprintf("invalid permissionMode %q", string(m.PermissionMode))}
		}
	}
	return nil
}

// DecodeClientMessage parses a raw client frame into its typed inbound
// message and validates it. Unknown types and malformed frames return a
// ValidationError.
func DecodeClientMessage(data []byte) (interface{}, error) {
	var peek struct {
		Type      MessageType `json:"type"`
		RequestID string      `json:"requestId"`
		PlanID    string      `json:"planId"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return nil, &ValidationError{Reason: "invalid JSON"}
	}

	switch peek.Type {
	case TypePermissionResponse:
		var msg PermissionResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &ValidationError{RequestID: peek.RequestID, Reason: "malformed permission-response"}
		}
		if err := msg.Validate(); err != nil {
			return nil, err
		}
		return &msg, nil

	case TypePermissionSyncRequest:
		var msg PermissionSyncRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &ValidationError{Reason: "malformed permission-sync-request"}
		}
		if err := msg.Validate(); err != nil {
			return nil, err
		}
		return &msg, nil

	case TypePlanApprovalResponse:
		var msg PlanApprovalResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &ValidationError{RequestID: peek.PlanID, Reason: "malformed plan-approval-response"}
		}
		if err := msg.Validate(); err != nil {
			return nil, err
		}
		return &msg, nil

	case "":
		return nil, &ValidationError{RequestID: peek.RequestID, Reason: "missing message type"}

	default:
		return nil, &ValidationError{RequestID: peek.RequestID, Reason: fmt.Sprintf("unknown message type %q", string(peek.Type))}
	}
}
