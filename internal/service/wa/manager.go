package wa

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/barberclick/whatsapp-gateway/internal/model/session"
	"github.com/barberclick/whatsapp-gateway/internal/store"
	"github.com/barberclick/whatsapp-gateway/pkg/utils"
)

// Config carries the manager's timing policy. Zero values fall back to the
// production defaults; tests shrink them to millisecond scale.
type Config struct {
	// QRTimeout bounds how long an init call waits for a pairing code.
	QRTimeout time.Duration
	// QRPollInterval is the QR waiter's poll period.
	QRPollInterval time.Duration
	// ReconnectDelay is the fixed wait before a replacement connection
	// attempt after a transient close.
	ReconnectDelay time.Duration
	// KeepAliveInterval is the liveness supervisor's period.
	KeepAliveInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QRTimeout <= 0 {
		c.QRTimeout = 60 * time.Second
	}
	if c.QRPollInterval <= 0 {
		c.QRPollInterval = 200 * time.Millisecond
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 15 * time.Second
	}
	return c
}

// Manager owns the session registry and every lifecycle policy around it:
// connection construction, close classification follow-up, delayed
// reconnects, the keep-alive supervisor, outbound sends and inbound bot
// routing. It is constructed once at startup and injected where needed.
type Manager struct {
	dialer   Dialer
	creds    *store.CredentialStore
	bot      ReplyDecider
	cfg      Config
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager wires a manager. bot may be nil when no decision service is
// configured; inbound messages are then logged and dropped.
func NewManager(dialer Dialer, creds *store.CredentialStore, bot ReplyDecider, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dialer:   dialer,
		creds:    creds,
		bot:      bot,
		cfg:      cfg.withDefaults(),
		registry: NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Close tears down every session and stops all background work. Sessions
// are detached first so no scheduler tick can touch them mid-teardown.
func (m *Manager) Close() {
	m.cancel()
	for _, s := range m.registry.List() {
		if removed, ok := m.registry.Remove(s.ID()); ok {
			removed.teardown()
		}
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int { return m.registry.Len() }

// Get returns the session for id, if any.
func (m *Manager) Get(id string) (*Session, bool) { return m.registry.Get(id) }

// Sessions returns a snapshot of all live sessions.
func (m *Manager) Sessions() []*Session { return m.registry.List() }

// GetOrCreate returns the session for id, dialing a fresh connection when
// none exists. Concurrent calls for the same id share one dial: the first
// caller reserves the registry slot and constructs the connection, the
// rest wait on the same outcome. The returned bool reports whether this
// call created the session.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Session, bool, error) {
	if !store.ValidID(id) {
		return nil, false, fmt.Errorf("%w: %q", store.ErrInvalidSessionID, id)
	}

	s, created := m.registry.Reserve(id, func() *Session { return newSession(m.ctx, id) })
	if !created {
		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		if s.dialErr != nil {
			return nil, false, s.dialErr
		}
		return s, false, nil
	}

	log.Printf("[%s] creating session", id)
	conn, err := m.dialer.Dial(s.ctx, id, &sessionHandler{m: m, s: s})
	if err != nil {
		s.dialErr = fmt.Errorf("initialize session %q: %w", id, err)
		m.registry.removeIf(id, s)
		s.reconnecting.Store(false)
		close(s.ready)
		s.teardown()
		return nil, false, s.dialErr
	}
	s.installConn(conn)
	s.reconnecting.Store(false)
	close(s.ready)
	log.Printf("[%s] session created", id)
	return s, true, nil
}

// WaitForQR polls the session until a pairing code or a connected status
// appears, bounded by the configured QR timeout. The state machine is
// unaffected by whether anyone is waiting.
func (m *Manager) WaitForQR(ctx context.Context, s *Session) (session.State, error) {
	deadline := time.NewTimer(m.cfg.QRTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.QRPollInterval)
	defer ticker.Stop()

	for {
		st := s.State()
		if st.QR != "" || st.Status == session.StatusConnected {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-deadline.C:
			return st, fmt.Errorf("%w after %s (status %s)", ErrQRTimeout, m.cfg.QRTimeout, st.Status)
		case <-ticker.C:
		}
	}
}

// Send delivers text to a phone number through the session's connection.
// The target is reduced to digits, then verified against the network
// directory; verification failure is non-fatal and falls back to the
// derived address.
func (m *Manager) Send(ctx context.Context, id, phone, text string) (SendResult, error) {
	s, ok := m.registry.Get(id)
	if !ok {
		return SendResult{}, fmt.Errorf("%w: no session %q", ErrNotConnected, id)
	}
	st := s.State()
	if st.Status != session.StatusConnected {
		return SendResult{}, fmt.Errorf("%w: current status %s", ErrNotConnected, st.Status)
	}
	conn := s.currentConn()
	if conn == nil {
		return SendResult{}, fmt.Errorf("%w: no live connection", ErrNotConnected)
	}

	target := digitsOnly(phone)
	if target == "" {
		return SendResult{}, fmt.Errorf("%w: no digits in phone %q", ErrSendFailed, phone)
	}
	if resolved, err := conn.ResolveTarget(ctx, target); err != nil {
		log.Printf("[%s] target lookup for %s failed, using derived address: %v", id, target, err)
	} else {
		target = resolved
	}

	res, err := conn.SendText(ctx, target, text)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	log.Printf("[%s] message %s sent to %s", id, res.MessageID, target)
	return res, nil
}

// Disconnect is the explicit logout path: the session leaves the registry
// first so no scheduler touches it again, then the network session is
// invalidated and the credential material destroyed. Returns false when no
// session was live for id.
func (m *Manager) Disconnect(ctx context.Context, id string) (bool, error) {
	s, ok := m.registry.Remove(id)
	if !ok {
		return false, nil
	}
	log.Printf("[%s] explicit disconnect, removing credentials", id)
	if conn := s.currentConn(); conn != nil {
		if err := conn.Logout(ctx); err != nil {
			log.Printf("[%s] logout: %v", id, err)
		}
	}
	s.teardown()
	if err := m.creds.Delete(id); err != nil {
		return true, err
	}
	return true, nil
}

// RestoreAll re-opens every session with saved credentials so a process
// restart reconnects without a fresh QR handshake.
func (m *Manager) RestoreAll(ctx context.Context) {
	ids, err := m.creds.List()
	if err != nil {
		log.Printf("[restore] listing saved sessions: %v", err)
		return
	}
	for _, id := range ids {
		if _, _, err := m.GetOrCreate(ctx, id); err != nil {
			log.Printf("[restore] session %s: %v", id, err)
		} else {
			log.Printf("[restore] session %s restored", id)
		}
	}
}

// execute carries out the intents returned by a state transition.
func (m *Manager) execute(s *Session, intents []session.Intent) {
	for _, intent := range intents {
		switch intent {
		case session.IntentScheduleReconnect:
			m.scheduleReconnect(s)
		case session.IntentDeleteCredentials:
			if err := m.creds.Delete(s.ID()); err != nil {
				log.Printf("[%s] deleting credentials: %v", s.ID(), err)
			}
		case session.IntentRemoveSession:
			if m.registry.removeIf(s.ID(), s) {
				s.teardown()
			}
		}
	}
}

// scheduleReconnect arms the fixed-delay retry for a transient close. The
// timer callback re-checks registry membership and the session context so
// an explicit disconnect in the meantime cancels the attempt.
func (m *Manager) scheduleReconnect(s *Session) {
	log.Printf("[%s] reconnecting in %s", s.ID(), m.cfg.ReconnectDelay)
	time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.redial(s)
	})
}

// redial replaces the session's connection in place. Retries are unbounded
// by design (the keep-alive supervisor re-arms them), but at most one
// attempt runs at a time per session.
func (m *Manager) redial(s *Session) {
	if s.ctx.Err() != nil {
		return
	}
	if cur, ok := m.registry.Get(s.ID()); !ok || cur != s {
		return
	}
	if !s.isReady() {
		return
	}
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer s.reconnecting.Store(false)

	s.apply(session.RetryEvent{})
	log.Printf("[%s] dialing replacement connection", s.ID())
	conn, err := m.dialer.Dial(s.ctx, s.ID(), &sessionHandler{m: m, s: s})
	if err != nil {
		// Left in connecting; the next keep-alive tick retries.
		log.Printf("[%s] reconnect failed: %v", s.ID(), err)
		return
	}
	s.installConn(conn)
}

// sessionHandler adapts connection events for one session onto the state
// machine and executes the resulting intents.
type sessionHandler struct {
	m *Manager
	s *Session
}

func (h *sessionHandler) HandleQR(code string) {
	img, err := utils.QRDataURL(code)
	if err != nil {
		log.Printf("[%s] rendering QR code: %v", h.s.ID(), err)
		return
	}
	log.Printf("[%s] QR code ready", h.s.ID())
	h.m.execute(h.s, h.s.apply(session.QREvent{QR: img}))
}

func (h *sessionHandler) HandleOpen(phoneNumber string) {
	log.Printf("[%s] connected as %s", h.s.ID(), phoneNumber)
	h.m.execute(h.s, h.s.apply(session.OpenEvent{PhoneNumber: phoneNumber}))
}

func (h *sessionHandler) HandleClose(loggedOut bool, err error) {
	log.Printf("[%s] connection closed (loggedOut=%t): %v", h.s.ID(), loggedOut, err)
	h.m.execute(h.s, h.s.apply(session.CloseEvent{LoggedOut: loggedOut, Err: err}))
}

func (h *sessionHandler) HandleMessage(msg InboundMessage) {
	if msg.FromMe {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	log.Printf("[%s] message from %s (%d chars)", h.s.ID(), msg.From, len(text))
	if h.m.bot == nil {
		return
	}
	reply, ok := h.m.bot.Decide(h.s.ctx, h.s.ID(), msg.From, msg.Text)
	if !ok {
		return
	}
	conn := h.s.currentConn()
	if conn == nil {
		return
	}
	if _, err := conn.SendText(h.s.ctx, msg.From, reply); err != nil {
		log.Printf("[%s] sending bot reply to %s: %v", h.s.ID(), msg.From, err)
		return
	}
	log.Printf("[%s] bot reply sent to %s", h.s.ID(), msg.From)
}

func digitsOnly(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
