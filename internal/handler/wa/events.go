package wa

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/barberclick/whatsapp-gateway/internal/model/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type stateEvent struct {
	Status      session.Status `json:"status"`
	QR          *string        `json:"qr"`
	PhoneNumber *string        `json:"phoneNumber"`
}

// handleEvents streams session state transitions over a websocket so a
// frontend can show pairing progress without polling /whatsapp/status. The
// stream closes when the session is removed or the client disconnects.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s, ok := h.manager.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[events] upgrade for session=%s: %v", id, err)
		return
	}
	defer conn.Close()

	updates := s.Subscribe()
	defer s.Unsubscribe(updates)

	// Drain reads so client close frames are noticed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeState(conn, s.State()); err != nil {
		return
	}
	for {
		select {
		case st, open := <-updates:
			if !open {
				return
			}
			if err := writeState(conn, st); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeState(conn *websocket.Conn, st session.State) error {
	return conn.WriteJSON(stateEvent{
		Status:      st.Status,
		QR:          optional(st.QR),
		PhoneNumber: optional(st.PhoneNumber),
	})
}
