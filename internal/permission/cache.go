package permission

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/toolgate/toolgate/pkg/protocol"
)

// keySeparator joins cache key fields. NUL cannot occur in a legitimate tool
// name or path component, so keys built from distinct fields never collide.
// A printable separator would let "Read" + "/a:b" collide with a crafted
// tool/path pair.
const keySeparator = "\x00"

// cacheKey builds the decision fingerprint for a tool invocation. The second
// return is false for invocations that must never be cached.
func cacheKey(toolName string, input map[string]interface{}) (string, bool) {
	switch toolName {
	case "Bash", "KillShell":
		// Shell execution is never memoized: the same command string can
		// have wildly different effects between runs.
		return "", false
	case "Read", "Write", "Edit", "MultiEdit", "NotebookEdit":
		if p := stringField(input, "file_path"); p != "" {
			return toolName + keySeparator + p, true
		}
	case "WebFetch":
		if u := stringField(input, "url"); u != "" {
			return toolName + keySeparator + u, true
		}
	}
	// encoding/json renders map keys in sorted order, which makes the
	// marshaled form canonical for lookup purposes.
	raw, err := json.Marshal(input)
	if err != nil {
		return "", false
	}
	return toolName + keySeparator + string(raw), true
}

type cacheEntry struct {
	decision protocol.Decision
	storedAt time.Time
	seq      uint64
}

// orderRef records one insertion for eviction ordering. A ref is stale when
// its seq no longer matches the live entry (the key expired and was
// re-inserted); stale refs are skipped during eviction.
type orderRef struct {
	key string
	seq uint64
}

type sessionEntries struct {
	entries map[string]*cacheEntry
	order   []orderRef
	nextSeq uint64
}

// SessionCache remembers allow-for-session decisions per chat session. Scope
// is strictly per session: decisions never leak across sessions. Entries
// expire after the TTL and each session is bounded to maxEntries with
// oldest-insertion eviction.
type SessionCache struct {
	mu         sync.Mutex
	sessions   map[string]*sessionEntries
	maxEntries int
	ttl        time.Duration
}

// NewSessionCache creates a cache bounded to maxEntries per session with the
// given TTL.
func NewSessionCache(maxEntries int, ttl time.Duration) *SessionCache {
	return &SessionCache{
		sessions:   make(map[string]*sessionEntries),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Lookup returns the cached decision for this session and invocation, if one
// exists and has not expired. Expired entries are deleted on read.
func (c *SessionCache) Lookup(sessionID, toolName string, input map[string]interface{}) (protocol.Decision, bool) {
	if sessionID == "" {
		return "", false
	}
	key, cacheable := cacheKey(toolName, input)
	if !cacheable {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok := c.sessions[sessionID]
	if !ok {
		return "", false
	}
	entry, ok := session.entries[key]
	if !ok {
		return "", false
	}
	if time.Since(entry.storedAt) > c.ttl {
		delete(session.entries, key)
		return "", false
	}
	return entry.decision, true
}

// Store records a decision for this session and invocation. Non-cacheable
// invocations (shell execution) are silently dropped. Re-storing an existing
// key refreshes the decision and TTL but keeps its insertion position.
func (c *SessionCache) Store(sessionID, toolName string, input map[string]interface{}, decision protocol.Decision) {
	if sessionID == "" {
		return
	}
	key, cacheable := cacheKey(toolName, input)
	if !cacheable {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok := c.sessions[sessionID]
	if !ok {
		session = &sessionEntries{entries: make(map[string]*cacheEntry)}
		c.sessions[sessionID] = session
	}

	if existing, ok := session.entries[key]; ok {
		existing.decision = decision
		existing.storedAt = time.Now()
		return
	}

	session.nextSeq++
	session.entries[key] = &cacheEntry{decision: decision, storedAt: time.Now(), seq: session.nextSeq}
	session.order = append(session.order, orderRef{key: key, seq: session.nextSeq})

	for len(session.entries) > c.maxEntries && len(session.order) > 0 {
		oldest := session.order[0]
		session.order = session.order[1:]
		if entry, ok := session.entries[oldest.key]; ok && entry.seq == oldest.seq {
			delete(session.entries, oldest.key)
		}
	}
}

// DropSession forgets every cached decision for a session.
func (c *SessionCache) DropSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

// Len returns the number of live entries for a session.
func (c *SessionCache) Len(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if session, ok := c.sessions[sessionID]; ok {
		return len(session.entries)
	}
	return 0
}
