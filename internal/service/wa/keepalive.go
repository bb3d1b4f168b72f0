package wa

import (
	"context"
	"log"
	"time"

	"github.com/barberclick/whatsapp-gateway/internal/model/session"
)

// StartKeepAlive launches the liveness supervisor: a fixed-period sweep
// over a registry snapshot that probes connected sessions and re-arms
// reconnection for everything else. It is the backstop for close events
// the network never delivers. Stops when the manager closes.
func (m *Manager) StartKeepAlive() {
	go func() {
		ticker := time.NewTicker(m.cfg.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.keepAliveTick(m.ctx)
			}
		}
	}()
}

// keepAliveTick runs one supervision pass. A probe failure is handled
// exactly like a transient close; a session not in connected state gets an
// immediate reconnection attempt, serialized per session so repeated ticks
// cannot pile up parallel dials.
func (m *Manager) keepAliveTick(ctx context.Context) {
	for _, s := range m.registry.List() {
		st := s.State()
		if st.Status == session.StatusConnected {
			conn := s.currentConn()
			if conn == nil {
				continue
			}
			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(probeCtx)
			cancel()
			if err != nil {
				log.Printf("[%s] keep-alive probe failed: %v", s.ID(), err)
				m.execute(s, s.apply(session.CloseEvent{Err: err}))
				continue
			}
			log.Printf("[%s] keep-alive ok, phone %s", s.ID(), st.PhoneNumber)
			continue
		}
		log.Printf("[%s] not connected (status %s), attempting reconnect", s.ID(), st.Status)
		// Async so one slow dial cannot stall supervision of the other
		// sessions; the per-session guard keeps attempts from piling up.
		go m.redial(s)
	}
}
