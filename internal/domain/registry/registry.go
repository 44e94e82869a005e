// Package registry implements spec §4.D: the process-wide mapping from
// charge-point-id to its single live Session. Grounded on the teacher's
// websocket.Manager.connections map[string]*ConnectionWrapper guarded by
// a sync.RWMutex, generalized to fix the eviction race the teacher's
// plain map access has no protection against — the "later, richer
// variant" spec.md's Design Notes call for when choosing among the
// source's divergent copies.
package registry

import (
	"sync"

	"github.com/charging-platform/csms/internal/domain/session"
	"github.com/charging-platform/csms/internal/logger"
)

// EventType distinguishes the two lifecycle events the registry
// publishes, mirrored into domain events / metrics by callers.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// Event is published on bind and on session close.
type Event struct {
	Type          EventType
	ChargePointID string
	Reason        session.CloseReason
}

// Registry is the only process-wide shared mutable map (spec §5 Shared-
// resource policy): a single mutex guards it, writes are rare relative
// to reads.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	listeners []func(Event)
	logger   *logger.Logger
}

func New(log *logger.Logger) *Registry {
	if log == nil {
		log, _ = logger.New(logger.DefaultConfig())
	}
	return &Registry{
		sessions: make(map[string]*session.Session),
		logger:   log,
	}
}

// Subscribe registers a listener invoked synchronously for every bind/
// unbind event. Not safe to call concurrently with Bind/Unbind.
func (r *Registry) Subscribe(fn func(Event)) {
	r.listeners = append(r.listeners, fn)
}

// Get returns the live session for a charge-point-id, or nil if none is
// bound.
func (r *Registry) Get(chargePointID string) *session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[chargePointID]
}

// Bind installs a new session for chargePointID, evicting and closing
// any previous session first so its pending calls are drained before the
// new mapping is visible (spec §4.D "evict previous" policy). The new
// session's own OnClose hook is wired here so a later close always calls
// Unbind with the still-current pointer, solving the eviction race.
func (r *Registry) Bind(chargePointID string, s *session.Session) {
	r.mu.RLock()
	previous := r.sessions[chargePointID]
	r.mu.RUnlock()

	if previous != nil {
		r.logger.Infof("evicting previous session for %s", chargePointID)
		previous.Close(session.CloseReasonEvicted)
	}

	r.mu.Lock()
	r.sessions[chargePointID] = s
	r.mu.Unlock()

	s.OnClose(func(closed *session.Session, reason session.CloseReason) {
		r.unbind(chargePointID, closed)
		r.publish(Event{Type: EventDisconnected, ChargePointID: chargePointID, Reason: reason})
	})

	r.publish(Event{Type: EventConnected, ChargePointID: chargePointID})
}

// unbind removes the mapping only if it still points at the given
// session, so a session evicted before it fully closed cannot clobber
// the session that replaced it.
func (r *Registry) unbind(chargePointID string, s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[chargePointID]; ok && current == s {
		delete(r.sessions, chargePointID)
	}
}

func (r *Registry) publish(ev Event) {
	for _, fn := range r.listeners {
		fn(ev)
	}
}

// Enumerate returns a consistent snapshot of charge-point-id → session.
func (r *Registry) Enumerate() map[string]*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*session.Session, len(r.sessions))
	for k, v := range r.sessions {
		out[k] = v
	}
	return out
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes entries whose underlying session is already closed —
// the periodic-or-on-demand cleanup spec §4.D allows, bounded to run at
// most once per call so it never adds unbounded latency to an operator
// request path.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if s.IsClosed() {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Shutdown closes every live session, cancelling all their waiters with
// ConnectionLost, as part of graceful process teardown.
func (r *Registry) Shutdown() {
	for _, s := range r.Enumerate() {
		s.Close(session.CloseReasonShutdown)
	}
}
