package permission

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/common/logger"
	"github.com/toolgate/toolgate/internal/events"
	"github.com/toolgate/toolgate/internal/events/bus"
	"github.com/toolgate/toolgate/pkg/protocol"
)

// planRequest is the single pending plan review.
type planRequest struct {
	id        string
	content   string
	sessionID string
	createdAt time.Time
	expiresAt time.Time
	timer     *time.Timer
	done      chan planResult
}

type planResult struct {
	outcome PlanOutcome
	err     error
}

// PlanManager brokers plan approvals. Unlike the request queue it holds a
// single slot: plans are strategic, and concurrent reviews would destabilize
// the effective permission mode. A second request while one is pending fails
// with ErrPlanInFlight.
type PlanManager struct {
	timeout time.Duration
	bus     bus.EventBus
	logger  *logger.Logger

	mu      sync.Mutex
	current *planRequest
	closed  bool

	approved int64
	rejected int64
	timedOut int64
}

// NewPlanManager creates a plan approval manager. Plan reviews share the
// permission timeout budget.
func NewPlanManager(timeout time.Duration, eventBus bus.EventBus, log *logger.Logger) *PlanManager {
	return &PlanManager{
		timeout: timeout,
		bus:     eventBus,
		logger:  log.WithFields(zap.String("component", "plan_manager")),
	}
}

// RequestApproval submits a plan for review and blocks until the user
// decides, the review times out, ctx is cancelled, or the broker shuts down.
func (m *PlanManager) RequestApproval(ctx context.Context, content, sessionID string) (PlanOutcome, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return PlanOutcome{}, ErrShutdown
	}
	if m.current != nil {
		m.mu.Unlock()
		return PlanOutcome{}, ErrPlanInFlight
	}

	now := time.Now()
	plan := &planRequest{
		id:        uuid.New().String(),
		content:   content,
		sessionID: sessionID,
		createdAt: now,
		expiresAt: now.Add(m.timeout),
		done:      make(chan planResult, 1),
	}
	m.current = plan
	plan.timer = time.AfterFunc(m.timeout, func() { m.timeoutPlan(plan.id) })
	m.mu.Unlock()

	m.logger.Info("Plan submitted for approval",
		zap.String("plan_id", plan.id),
		zap.String("session_id", sessionID),
		zap.Int("content_len", len(content)))
	m.publish(events.BuildPlanRequestedSubject(sessionID), events.PlanRequested,
		events.PlanRequestedPayload{
			PlanID:    plan.id,
			Content:   plan.content,
			SessionID: plan.sessionID,
			CreatedAt: plan.createdAt,
			ExpiresAt: plan.expiresAt,
		})

	select {
	case res := <-plan.done:
		return res.outcome, res.err
	case <-ctx.Done():
		if m.clear(plan.id) == nil {
			res := <-plan.done
			return res.outcome, res.err
		}
		m.logger.Info("Plan review cancelled by agent", zap.String("plan_id", plan.id))
		return PlanOutcome{}, ErrAborted
	}
}

// Resolve applies a user verdict to the pending plan. Returns false when no
// plan is pending or the id does not match. An empty permissionMode on
// approval selects default.
func (m *PlanManager) Resolve(planID string, decision protocol.PlanDecision, mode protocol.PermissionMode, reason string) bool {
	if decision == protocol.PlanApprove {
		switch mode {
		case "":
			mode = protocol.ModeDefault
		case protocol.ModeDefault, protocol.ModeAcceptEdits:
		default:
			m.logger.Warn("Invalid permission mode for plan approval",
				zap.String("plan_id", planID),
				zap.String("mode", string(mode)))
			return false
		}
	}

	plan := m.clear(planID)
	if plan == nil {
		return false
	}

	var payload events.PlanResolvedPayload
	switch decision {
	case protocol.PlanApprove:
		m.bumpCounter(&m.approved)
		plan.done <- planResult{outcome: PlanOutcome{PermissionMode: mode}}
		payload = events.PlanResolvedPayload{
			PlanID:         plan.id,
			Approved:       true,
			PermissionMode: string(mode),
			SessionID:      plan.sessionID,
		}
	case protocol.PlanReject:
		if reason == "" {
			reason = "rejected by user"
		}
		m.bumpCounter(&m.rejected)
		plan.done <- planResult{err: &PlanRejectedError{Reason: reason}}
		payload = events.PlanResolvedPayload{
			PlanID:    plan.id,
			Approved:  false,
			Reason:    reason,
			SessionID: plan.sessionID,
		}
	default:
		// Wire validation rejects other values; treat as rejection if one
		// slips through.
		m.bumpCounter(&m.rejected)
		plan.done <- planResult{err: &PlanRejectedError{Reason: "invalid decision"}}
		payload = events.PlanResolvedPayload{PlanID: plan.id, Approved: false, Reason: "invalid decision", SessionID: plan.sessionID}
	}

	m.logger.Info("Plan review resolved",
		zap.String("plan_id", plan.id),
		zap.String("decision", string(decision)))
	m.publish(events.BuildPlanResolvedSubject(plan.sessionID), events.PlanResolved, payload)
	return true
}

// timeoutPlan rejects a review that expired undecided.
func (m *PlanManager) timeoutPlan(planID string) {
	plan := m.clear(planID)
	if plan == nil {
		return
	}
	m.bumpCounter(&m.timedOut)

	plan.done <- planResult{err: &PlanRejectedError{Reason: "timed out"}}

	m.logger.Warn("Plan review timed out", zap.String("plan_id", plan.id))
	m.publish(events.BuildPlanTimedOutSubject(plan.sessionID), events.PlanTimedOut,
		events.PlanTimedOutPayload{PlanID: plan.id, SessionID: plan.sessionID})
}

// Cancel rejects the pending review, if any, and stops accepting new ones.
// Used during shutdown.
func (m *PlanManager) Cancel() {
	m.mu.Lock()
	m.closed = true
	plan := m.current
	m.current = nil
	if plan != nil && plan.timer != nil {
		plan.timer.Stop()
	}
	m.mu.Unlock()

	if plan != nil {
		plan.done <- planResult{err: &PlanRejectedError{Reason: "cancelled"}}
		m.logger.Info("Plan review cancelled on shutdown", zap.String("plan_id", plan.id))
	}
}

// Pending returns the id of the in-flight plan, empty when the slot is free.
func (m *PlanManager) Pending() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.id
}

// Stats returns a snapshot of the plan manager's counters.
func (m *PlanManager) Stats() PlanStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return PlanStats{
		InFlight: m.current != nil,
		Approved: m.approved,
		Rejected: m.rejected,
		TimedOut: m.timedOut,
	}
}

// clear atomically empties the slot when it holds planID, disarming the
// timer. Exactly one caller gets a non-nil plan.
func (m *PlanManager) clear(planID string) *planRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.id != planID {
		return nil
	}
	plan := m.current
	m.current = nil
	if plan.timer != nil {
		plan.timer.Stop()
	}
	return plan
}

func (m *PlanManager) bumpCounter(counter *int64) {
	m.mu.Lock()
	*counter++
	m.mu.Unlock()
}

func (m *PlanManager) publish(subject, eventType string, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(context.Background(), subject, bus.NewEvent(eventType, eventSource, payload)); err != nil {
		m.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
