// Package session implements the SSE session model: session creation, the
// dual-endpoint handshake, keep-alive, idle cleanup, and fan-out of
// server-initiated notifications to every open stream.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// KeepAliveInterval is how often an idle SSE stream receives a comment line
// to keep intermediate proxies and the TCP connection from timing out.
const KeepAliveInterval = 30 * time.Second

// DefaultIdleTimeout is how long a session may go without activity before
// the Manager closes it.
const DefaultIdleTimeout = 10 * time.Minute

// Event is one server-sent event: a name and its JSON payload.
type Event struct {
	Name string
	Data []byte
}

// Session is one client's SSE connection plus its correlation id for the
// paired POST /message endpoint.
type Session struct {
	ID string

	createdAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	closed       bool

	events  chan Event
	closeCh chan struct{}
}

func newSession() *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		createdAt:    now,
		lastActivity: now,
		events:       make(chan Event, 32),
		closeCh:      make(chan struct{}),
	}
}

// touch records activity, resetting the idle-timeout clock.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// Send enqueues an event for delivery on this session's stream. It never
// blocks: a full queue drops the event, and the result reports whether the
// event was queued.
func (s *Session) Send(event Event) bool {
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

// Close marks the session closed and unblocks its SSE loop. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.closeCh)
}

// Manager owns the table of live sessions: creation, lookup, fan-out, and
// the idle-timeout sweep.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration

	sweepStop chan struct{}
}

// NewManager constructs a Manager and starts its idle-timeout sweep.
func NewManager(idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	m := &Manager{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		sweepStop:   make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Create registers and returns a new session.
func (m *Manager) Create() *Session {
	s := newSession()
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove deregisters a session. Safe to call more than once.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Broadcast fans an event out to every open session, used for
// server-initiated notifications like tools/list_changed.
func (m *Manager) Broadcast(event Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		s.Send(event)
	}
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepIdle()
		case <-m.sweepStop:
			return
		}
	}
}

func (m *Manager) sweepIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.idleSince() > m.idleTimeout {
			s.Close()
			delete(m.sessions, id)
		}
	}
}

// Stop ends the idle-timeout sweep.
func (m *Manager) Stop() {
	close(m.sweepStop)
}
