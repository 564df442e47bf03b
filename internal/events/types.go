// Package events provides event types and utilities for the toolgate event system.
package events

// Event types for permission requests
const (
	PermissionRequested = "permission.requested"  // Request entered the pending queue
	PermissionResolved  = "permission.resolved"   // Request resolved by a user decision
	PermissionTimedOut  = "permission.timed_out"  // Request expired without a decision
	PermissionCancelled = "permission.cancelled"  // Agent cancelled the tool call
	PermissionNoClients = "permission.no_clients" // Request fanned out with nobody connected
)

// Event types for plan approvals
const (
	PlanRequested = "plan.requested"
	PlanResolved  = "plan.resolved"
	PlanTimedOut  = "plan.timed_out"
)

// Event types for client lifecycle
const (
	ClientDisconnected = "client.disconnected" // Client dropped with requests still pending
)

// Requests without a session publish on the bare base subject; session-bound
// requests publish on base.<sessionId>. Subscribers that want both listen on
// the base subject and the wildcard.

// BuildPermissionRequestedSubject creates a permission request subject for a specific session
func BuildPermissionRequestedSubject(sessionID string) string {
	if sessionID == "" {
		return PermissionRequested
	}
	return PermissionRequested + "." + sessionID
}

// BuildPermissionRequestedWildcardSubject creates a wildcard subscription for all session-bound permission requests
func BuildPermissionRequestedWildcardSubject() string {
	return PermissionRequested + ".*"
}

// BuildPermissionResolvedSubject creates a permission resolved subject for a specific session
func BuildPermissionResolvedSubject(sessionID string) string {
	if sessionID == "" {
		return PermissionResolved
	}
	return PermissionResolved + "." + sessionID
}

// BuildPermissionResolvedWildcardSubject creates a wildcard subscription for all session-bound resolutions
func BuildPermissionResolvedWildcardSubject() string {
	return PermissionResolved + ".*"
}

// BuildPermissionTimedOutSubject creates a permission timeout subject for a specific session
func BuildPermissionTimedOutSubject(sessionID string) string {
	if sessionID == "" {
		return PermissionTimedOut
	}
	return PermissionTimedOut + "." + sessionID
}

// BuildPermissionTimedOutWildcardSubject creates a wildcard subscription for all session-bound timeouts
func BuildPermissionTimedOutWildcardSubject() string {
	return PermissionTimedOut + ".*"
}

// BuildPermissionCancelledSubject creates a permission cancelled subject for a specific session
func BuildPermissionCancelledSubject(sessionID string) string {
	if sessionID == "" {
		return PermissionCancelled
	}
	return PermissionCancelled + "." + sessionID
}

// BuildPermissionCancelledWildcardSubject creates a wildcard subscription for all session-bound cancellations
func BuildPermissionCancelledWildcardSubject() string {
	return PermissionCancelled + ".*"
}

// BuildPermissionNoClientsSubject creates a no-clients subject for a specific session
func BuildPermissionNoClientsSubject(sessionID string) string {
	if sessionID == "" {
		return PermissionNoClients
	}
	return PermissionNoClients + "." + sessionID
}

// BuildClientDisconnectedSubject creates a client-disconnected subject for a specific session
func BuildClientDisconnectedSubject(sessionID string) string {
	if sessionID == "" {
		return ClientDisconnected
	}
	return ClientDisconnected + "." + sessionID
}

// BuildPlanRequestedSubject creates a plan approval subject for a specific session
func BuildPlanRequestedSubject(sessionID string) string {
	if sessionID == "" {
		return PlanRequested
	}
	return PlanRequested + "." + sessionID
}

// BuildPlanRequestedWildcardSubject creates a wildcard subscription for all session-bound plan approvals
func BuildPlanRequestedWildcardSubject() string {
	return PlanRequested + ".*"
}

// BuildPlanResolvedSubject creates a plan resolved subject for a specific session
func BuildPlanResolvedSubject(sessionID string) string {
	if sessionID == "" {
		return PlanResolved
	}
	return PlanResolved + "." + sessionID
}

// BuildPlanResolvedWildcardSubject creates a wildcard subscription for all session-bound plan resolutions
func BuildPlanResolvedWildcardSubject() string {
	return PlanResolved + ".*"
}

// BuildPlanTimedOutSubject creates a plan timeout subject for a specific session
func BuildPlanTimedOutSubject(sessionID string) string {
	if sessionID == "" {
		return PlanTimedOut
	}
	return PlanTimedOut + "." + sessionID
}

// BuildPlanTimedOutWildcardSubject creates a wildcard subscription for all session-bound plan timeouts
func BuildPlanTimedOutWildcardSubject() string {
	return PlanTimedOut + ".*"
}
