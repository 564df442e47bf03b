package permission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/common/logger"
	"github.com/toolgate/toolgate/internal/events"
	"github.com/toolgate/toolgate/internal/events/bus"
	"github.com/toolgate/toolgate/internal/telemetry"
	"github.com/toolgate/toolgate/pkg/protocol"
)

const eventSource = "permission-manager"

// ManagerConfig holds the manager's tunables.
type ManagerConfig struct {
	// Timeout is how long a request may sit pending before it is denied.
	Timeout time.Duration

	// MaxQueueSize bounds the number of simultaneously pending requests.
	MaxQueueSize int

	// CleanupInterval is how often the sweep for stuck requests runs.
	CleanupInterval time.Duration

	// CacheMaxEntries bounds the per-session decision cache.
	CacheMaxEntries int

	// CacheTTL is how long a cached decision stays valid.
	CacheTTL time.Duration
}

// DefaultManagerConfig returns the production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Timeout:         30 * time.Second,
		MaxQueueSize:    100,
		CleanupInterval: 60 * time.Second,
		CacheMaxEntries: 1000,
		CacheTTL:        time.Hour,
	}
}

// Manager is the broker's pending request queue. AddRequest blocks the agent
// until its request reaches a terminal state; Resolve, the timeout timer,
// agent cancellation, DropSession and Shutdown race to provide that state,
// serialized by removal from the pending map. Whichever removes first wins;
// the rest are no-ops.
type Manager struct {
	cfg    ManagerConfig
	bus    bus.EventBus
	logger *logger.Logger
	tracer trace.Tracer

	mu        sync.Mutex
	pending   map[string]*Request
	bySession map[string]map[string]*Request
	cache     *SessionCache
	closed    bool

	total    int64
	approved int64
	denied   int64
	timedOut int64
	aborted  int64

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewManager creates a permission manager and starts its cleanup sweep.
func NewManager(cfg ManagerConfig, eventBus bus.EventBus, log *logger.Logger) *Manager {
	m := &Manager{
		cfg:         cfg,
		bus:         eventBus,
		logger:      log.WithFields(zap.String("component", "permission_manager")),
		tracer:      telemetry.Tracer("permission"),
		pending:     make(map[string]*Request),
		bySession:   make(map[string]map[string]*Request),
		cache:       NewSessionCache(cfg.CacheMaxEntries, cfg.CacheTTL),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// AddRequest registers a pending tool authorization and blocks until it is
// resolved, times out, is cancelled via ctx, or the manager shuts down.
// Cached allow-for-session decisions short-circuit without queueing or events.
func (m *Manager) AddRequest(ctx context.Context, toolName string, input map[string]interface{}, sessionID string) (Result, error) {
	ctx, span := m.tracer.Start(ctx, "permission.AddRequest",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("session.id", sessionID),
		))
	defer span.End()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Result{}, ErrShutdown
	}
	if len(m.pending) >= m.cfg.MaxQueueSize {
		m.mu.Unlock()
		m.logger.Warn("Permission queue full",
			zap.String("tool_name", toolName),
			zap.Int("max_queue_size", m.cfg.MaxQueueSize))
		return Result{}, ErrQueueFull
	}
	if sessionID != "" {
		if _, ok := m.cache.Lookup(sessionID, toolName, input); ok {
			m.total++
			m.approved++
			m.mu.Unlock()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			m.logger.Debug("Cache hit, allowing without prompt",
				zap.String("tool_name", toolName),
				zap.String("session_id", sessionID))
			return AllowResult(input), nil
		}
	}

	cls := Classify(toolName, input)
	now := time.Now()
	req := &Request{
		ID:        uuid.New().String(),
		ToolName:  toolName,
		Input:     input,
		SessionID: sessionID,
		Summary:   cls.Summary,
		RiskLevel: cls.RiskLevel,
		Category:  cls.Category,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.Timeout),
		done:      make(chan outcome, 1),
	}
	m.pending[req.ID] = req
	if sessionID != "" {
		session, ok := m.bySession[sessionID]
		if !ok {
			session = make(map[string]*Request)
			m.bySession[sessionID] = session
		}
		session[req.ID] = req
	}
	m.total++
	req.timer = time.AfterFunc(m.cfg.Timeout, func() { m.timeoutRequest(req.ID) })
	m.mu.Unlock()

	span.SetAttributes(attribute.String("request.id", req.ID))
	m.logger.Info("Permission request queued",
		zap.String("request_id", req.ID),
		zap.String("tool_name", toolName),
		zap.String("session_id", sessionID),
		zap.String("risk_level", string(req.RiskLevel)))

	m.publish(events.BuildPermissionRequestedSubject(sessionID), events.PermissionRequested,
		events.PermissionRequestedPayload{
			RequestID: req.ID,
			ToolName:  req.ToolName,
			Input:     req.Input,
			Summary:   req.Summary,
			RiskLevel: string(req.RiskLevel),
			Category:  string(req.Category),
			SessionID: req.SessionID,
			CreatedAt: req.CreatedAt,
			ExpiresAt: req.ExpiresAt,
		})

	select {
	case out := <-req.done:
		return out.result, out.err
	case <-ctx.Done():
		if m.take(req.ID) == nil {
			// A terminal outcome won the race; it is already buffered.
			out := <-req.done
			return out.result, out.err
		}
		m.mu.Lock()
		m.aborted++
		m.mu.Unlock()
		m.logger.Info("Permission request aborted by agent",
			zap.String("request_id", req.ID),
			zap.String("tool_name", toolName))
		m.publish(events.BuildPermissionCancelledSubject(sessionID), events.PermissionCancelled,
			events.PermissionCancelledPayload{
				RequestID: req.ID,
				Reason:    "cancelled by agent",
				SessionID: sessionID,
			})
		return Result{}, ErrAborted
	}
}

// Resolve applies a user decision to a pending request. Returns false when
// the request is unknown or already resolved; repeated calls are no-ops.
func (m *Manager) Resolve(requestID string, decision protocol.Decision, updatedInput map[string]interface{}) bool {
	if !decision.Valid() {
		m.logger.Warn("Invalid decision ignored",
			zap.String("request_id", requestID),
			zap.String("decision", string(decision)))
		return false
	}

	req := m.take(requestID)
	if req == nil {
		return false
	}

	var res Result
	switch decision {
	case protocol.DecisionDeny:
		m.bumpCounter(&m.denied)
		res = DenyResult("Permission denied by user", false)
	default:
		if decision == protocol.DecisionAllowSession || decision == protocol.DecisionAllowAlways {
			// allow-always has no persistence backend yet; session scope is
			// the closest safe interpretation until one exists.
			if req.SessionID != "" {
				m.cache.Store(req.SessionID, req.ToolName, req.Input, decision)
			}
		}
		m.bumpCounter(&m.approved)
		effective := updatedInput
		if effective == nil {
			effective = req.Input
		}
		res = AllowResult(effective)
	}

	req.done <- outcome{result: res}

	m.logger.Info("Permission request resolved",
		zap.String("request_id", requestID),
		zap.String("tool_name", req.ToolName),
		zap.String("decision", string(decision)))
	m.publish(events.BuildPermissionResolvedSubject(req.SessionID), events.PermissionResolved,
		events.PermissionResolvedPayload{
			RequestID: req.ID,
			ToolName:  req.ToolName,
			Decision:  string(decision),
			SessionID: req.SessionID,
		})
	return true
}

// timeoutRequest denies a request that expired undecided.
func (m *Manager) timeoutRequest(requestID string) {
	req := m.take(requestID)
	if req == nil {
		return
	}
	m.bumpCounter(&m.timedOut)

	req.done <- outcome{result: DenyResult("Request timed out", false)}

	m.logger.Warn("Permission request timed out",
		zap.String("request_id", requestID),
		zap.String("tool_name", req.ToolName))
	m.publish(events.BuildPermissionTimedOutSubject(req.SessionID), events.PermissionTimedOut,
		events.PermissionTimedOutPayload{
			RequestID: req.ID,
			ToolName:  req.ToolName,
			SessionID: req.SessionID,
		})
}

// DropSession aborts every pending request of a session and forgets its
// cached decisions. Used when the owning chat session goes away.
func (m *Manager) DropSession(sessionID string) {
	if sessionID == "" {
		return
	}

	m.mu.Lock()
	session := m.bySession[sessionID]
	delete(m.bySession, sessionID)
	dropped := make([]*Request, 0, len(session))
	for id, req := range session {
		delete(m.pending, id)
		if req.timer != nil {
			req.timer.Stop()
		}
		dropped = append(dropped, req)
	}
	m.aborted += int64(len(dropped))
	m.mu.Unlock()

	for _, req := range dropped {
		req.done <- outcome{err: ErrAborted}
		m.publish(events.BuildPermissionCancelledSubject(sessionID), events.PermissionCancelled,
			events.PermissionCancelledPayload{
				RequestID: req.ID,
				Reason:    "session closed",
				SessionID: sessionID,
			})
	}
	m.cache.DropSession(sessionID)

	if len(dropped) > 0 {
		m.logger.Info("Dropped session with pending requests",
			zap.String("session_id", sessionID),
			zap.Int("dropped", len(dropped)))
	}
}

// RequestsForSession returns snapshots of the session's pending requests,
// oldest first. Used by the sync protocol after a client reconnect.
func (m *Manager) RequestsForSession(sessionID string) []RequestInfo {
	m.mu.Lock()
	session := m.bySession[sessionID]
	infos := make([]RequestInfo, 0, len(session))
	for _, req := range session {
		infos = append(infos, RequestInfo{
			ID:        req.ID,
			ToolName:  req.ToolName,
			Input:     req.Input,
			SessionID: req.SessionID,
			Summary:   req.Summary,
			RiskLevel: req.RiskLevel,
			Category:  req.Category,
			CreatedAt: req.CreatedAt,
			ExpiresAt: req.ExpiresAt,
		})
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Get returns a snapshot of a single pending request. Used by the gateway's
// session-ownership check before resolving.
func (m *Manager) Get(requestID string) (RequestInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.pending[requestID]
	if !ok {
		return RequestInfo{}, false
	}
	return RequestInfo{
		ID:        req.ID,
		ToolName:  req.ToolName,
		Input:     req.Input,
		SessionID: req.SessionID,
		Summary:   req.Summary,
		RiskLevel: req.RiskLevel,
		Category:  req.Category,
		CreatedAt: req.CreatedAt,
		ExpiresAt: req.ExpiresAt,
	}, true
}

// PendingCount returns the number of requests currently waiting.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Pending:  len(m.pending),
		Total:    m.total,
		Approved: m.approved,
		Denied:   m.denied,
		TimedOut: m.timedOut,
		Aborted:  m.aborted,
	}
}

// Cache exposes the per-session decision cache.
func (m *Manager) Cache() *SessionCache {
	return m.cache
}

// Shutdown force-resolves every pending request with ErrShutdown and stops
// the cleanup sweep. The manager accepts no further requests.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	remaining := make([]*Request, 0, len(m.pending))
	for id, req := range m.pending {
		delete(m.pending, id)
		if req.timer != nil {
			req.timer.Stop()
		}
		remaining = append(remaining, req)
	}
	m.bySession = make(map[string]map[string]*Request)
	m.mu.Unlock()

	close(m.stopCleanup)
	<-m.cleanupDone

	for _, req := range remaining {
		req.done <- outcome{err: ErrShutdown}
	}
	if len(remaining) > 0 {
		m.logger.Info("Aborted pending requests on shutdown",
			zap.Int("count", len(remaining)))
	}
}

// take atomically removes a request from the pending state and disarms its
// timer. This is the serialization point: exactly one caller gets a non-nil
// request and the right to deliver its terminal outcome.
func (m *Manager) take(requestID string) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.pending[requestID]
	if !ok {
		return nil
	}
	delete(m.pending, requestID)
	if req.SessionID != "" {
		if session, ok := m.bySession[req.SessionID]; ok {
			delete(session, requestID)
			if len(session) == 0 {
				delete(m.bySession, req.SessionID)
			}
		}
	}
	if req.timer != nil {
		req.timer.Stop()
	}
	return req
}

func (m *Manager) bumpCounter(counter *int64) {
	m.mu.Lock()
	*counter++
	m.mu.Unlock()
}

func (m *Manager) publish(subject, eventType string, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(context.Background(), subject, bus.NewEvent(eventType, eventSource, payload)); err != nil {
		m.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// cleanupLoop force-times-out requests stuck past twice the timeout budget.
// Defensive: the per-request timer should always fire first.
func (m *Manager) cleanupLoop() {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * m.cfg.Timeout)

			m.mu.Lock()
			var stuck []string
			for id, req := range m.pending {
				if req.CreatedAt.Before(cutoff) {
					stuck = append(stuck, id)
				}
			}
			m.mu.Unlock()

			for _, id := range stuck {
				m.logger.Warn("Force-timing-out stuck request", zap.String("request_id", id))
				m.timeoutRequest(id)
			}
		}
	}
}
