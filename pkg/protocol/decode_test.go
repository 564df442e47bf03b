package protocol

import (
	"errors"
	"testing"
)

func mustValidationError(t *testing.T, err error) *ValidationError {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	return ve
}

func TestDecodePermissionResponse(t *testing.T) {
	raw := []byte(`{"type":"permission-response","requestId":"r-1","decision":"allow-session"}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resp, ok := msg.(*PermissionResponse)
	if !ok {
		t.Fatalf("expected *PermissionResponse, got %T", msg)
	}
	if resp.RequestID != "r-1" {
		t.Errorf("requestId = %q", resp.RequestID)
	}
	if resp.Decision != DecisionAllowSession {
		t.Errorf("decision = %q", resp.Decision)
	}
}

func TestDecodePermissionResponseWithUpdatedInput(t *testing.T) {
	raw := []byte(`{"type":"permission-response","requestId":"r-1","decision":"allow","updatedInput":{"command":"ls -l"}}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resp := msg.(*PermissionResponse)
	if resp.UpdatedInput["command"] != "ls -l" {
		t.Errorf("updatedInput = %v", resp.UpdatedInput)
	}
}

func TestDecodeSyncRequest(t *testing.T) {
	raw := []byte(`{"type":"permission-sync-request","sessionId":"s-1"}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	req, ok := msg.(*PermissionSyncRequest)
	if !ok {
		t.Fatalf("expected *PermissionSyncRequest, got %T", msg)
	}
	if req.SessionID != "s-1" {
		t.Errorf("sessionId = %q", req.SessionID)
	}
}

func TestDecodePlanApprovalResponse(t *testing.T) {
	raw := []byte(`{"type":"plan-approval-response","planId":"p-1","decision":"approve","permissionMode":"acceptEdits"}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resp, ok := msg.(*PlanApprovalResponse)
	if !ok {
		t.Fatalf("expected *PlanApprovalResponse, got %T", msg)
	}
	if resp.Decision != PlanApprove || resp.PermissionMode != ModeAcceptEdits {
		t.Errorf("decision = %q, mode = %q", resp.Decision, resp.PermissionMode)
	}
}

func TestDecodeRejectsInvalidFrames(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		requestID string
	}{
		{"invalid json", `{not json`, ""},
		{"missing type", `{"requestId":"r-1"}`, "r-1"},
		{"unknown type", `{"type":"permission-unknown","requestId":"r-2"}`, "r-2"},
		{"response without requestId", `{"type":"permission-response","decision":"allow"}`, ""},
		{"response with bad decision", `{"type":"permission-response","requestId":"r-3","decision":"maybe"}`, "r-3"},
		{"sync without sessionId", `{"type":"permission-sync-request"}`, ""},
		{"plan response without planId", `{"type":"plan-approval-response","decision":"approve"}`, ""},
		{"plan response with bad decision", `{"type":"plan-approval-response","planId":"p-2","decision":"later"}`, "p-2"},
		{"plan approve with plan mode", `{"type":"plan-approval-response","planId":"p-3","decision":"approve","permissionMode":"plan"}`, "p-3"},
		{"plan approve with bypass mode", `{"type":"plan-approval-response","planId":"p-4","decision":"approve","permissionMode":"bypassPermissions"}`, "p-4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tt.raw))
			ve := mustValidationError(t, err)
			if ve.RequestID != tt.requestID {
				t.Errorf("requestID = %q, want %q", ve.RequestID, tt.requestID)
			}
			if ve.Reason == "" {
				t.Error("reason must not be empty")
			}
		})
	}
}

func TestDecodePlanApproveEmptyModeIsValid(t *testing.T) {
	raw := []byte(`{"type":"plan-approval-response","planId":"p-1","decision":"approve"}`)
	if _, err := DecodeClientMessage(raw); err != nil {
		t.Fatalf("empty permissionMode on approval must be accepted: %v", err)
	}
}

func TestDecodePlanRejectIgnoresMode(t *testing.T) {
	// Rejection never applies a mode, so an odd value is not an error.
	raw := []byte(`{"type":"plan-approval-response","planId":"p-1","decision":"reject","permissionMode":"plan","reason":"too broad"}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.(*PlanApprovalResponse).Reason != "too broad" {
		t.Error("reason not carried through")
	}
}
