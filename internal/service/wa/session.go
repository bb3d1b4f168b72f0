package wa

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/barberclick/whatsapp-gateway/internal/model/session"
)

// Session is the runtime holder for one managed connection: current state,
// the live Connection handle, and the context that bounds every background
// task scheduled for this id. The manager owns all mutation; handlers only
// read snapshots.
type Session struct {
	id string

	ctx    context.Context
	cancel context.CancelFunc

	// ready is closed once the initial dial attempt has finished, so
	// concurrent creators share a single connection construction.
	ready   chan struct{}
	dialErr error

	// reconnecting serializes connection construction: it is held during
	// the initial dial and by every replacement attempt afterwards.
	reconnecting atomic.Bool

	mu          sync.RWMutex
	state       session.State
	conn        Connection
	subscribers map[chan session.State]struct{}
}

func newSession(parent context.Context, id string) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:          id,
		ctx:         ctx,
		cancel:      cancel,
		ready:       make(chan struct{}),
		state:       session.State{Status: session.StatusConnecting},
		subscribers: make(map[chan session.State]struct{}),
	}
	s.reconnecting.Store(true)
	return s
}

// ID returns the caller-chosen session id.
func (s *Session) ID() string { return s.id }

// State returns a copy of the current session state.
func (s *Session) State() session.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the diagnostic view of the session.
func (s *Session) Snapshot() session.Snapshot {
	st := s.State()
	return session.Snapshot{
		SessionID:   s.id,
		Status:      st.Status,
		HasQR:       st.QR != "",
		PhoneNumber: st.PhoneNumber,
	}
}

// apply runs the state machine for one event and returns the intents the
// caller must execute. Events arriving after removal are dropped so a dead
// session can never schedule new work.
func (s *Session) apply(ev session.Event) []session.Intent {
	if s.ctx.Err() != nil {
		return nil
	}
	s.mu.Lock()
	next, intents := session.Transition(s.state, ev)
	changed := next != s.state
	s.state = next
	if changed {
		s.notifyLocked()
	}
	s.mu.Unlock()
	return intents
}

func (s *Session) currentConn() Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// installConn attaches a fresh connection, closing the one it replaces. A
// connection that finished dialing after the session was torn down is
// discarded immediately.
func (s *Session) installConn(conn Connection) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	old := s.conn
	s.conn = conn
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// isReady reports whether the initial dial has completed.
func (s *Session) isReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Subscribe registers a state observer. The channel receives a state copy
// after every transition and is closed when the session is torn down. Slow
// consumers miss intermediate states rather than block event handling.
func (s *Session) Subscribe() chan session.State {
	ch := make(chan session.State, 8)
	s.mu.Lock()
	if s.subscribers == nil {
		close(ch)
	} else {
		s.subscribers[ch] = struct{}{}
	}
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes an observer channel.
func (s *Session) Unsubscribe(ch chan session.State) {
	s.mu.Lock()
	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.mu.Unlock()
}

func (s *Session) notifyLocked() {
	for ch := range s.subscribers {
		select {
		case ch <- s.state:
		default:
		}
	}
}

// teardown cancels session-scoped work, discards the connection handle and
// closes all observers. Called exactly once, with the session already out
// of the registry.
func (s *Session) teardown() {
	s.cancel()
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	subs := s.subscribers
	s.subscribers = nil
	s.mu.Unlock()
	for ch := range subs {
		close(ch)
	}
	if conn != nil {
		conn.Close()
	}
}
