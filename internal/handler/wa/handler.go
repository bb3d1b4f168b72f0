package wa

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/barberclick/whatsapp-gateway/internal/model/session"
	waService "github.com/barberclick/whatsapp-gateway/internal/service/wa"
	"github.com/barberclick/whatsapp-gateway/pkg/utils"
)

// Handler exposes the gateway's session lifecycle over HTTP.
type Handler struct {
	manager *waService.Manager
}

// New creates the WhatsApp HTTP handler.
func New(manager *waService.Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes wires the gateway endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/whatsapp/init", h.handleInit)
	r.Post("/whatsapp/status", h.handleStatus)
	r.Post("/whatsapp/disconnect", h.handleDisconnect)
	r.Post("/whatsapp/send", h.handleSend)
	r.Get("/whatsapp/events/{sessionID}", h.handleEvents)
	r.Get("/health", h.handleHealth)
	r.Get("/debug", h.handleDebug)
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

// sessionID decodes the request body and applies the historical "default"
// fallback for callers that manage a single account.
func sessionID(r *http.Request) (string, error) {
	var payload sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if payload.SessionID == "" {
		return "default", nil
	}
	return payload.SessionID, nil
}

type stateResponse struct {
	Success     bool           `json:"success"`
	Message     string         `json:"message,omitempty"`
	Status      session.Status `json:"status"`
	QR          *string        `json:"qr"`
	PhoneNumber *string        `json:"phoneNumber"`
}

func stateBody(st session.State, message string) stateResponse {
	return stateResponse{
		Success:     true,
		Message:     message,
		Status:      st.Status,
		QR:          optional(st.QR),
		PhoneNumber: optional(st.PhoneNumber),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// handleInit creates or looks up a session. For a brand-new session it
// blocks until a QR code or a connected state appears, bounded by the
// configured timeout; existing sessions answer immediately with their
// current state.
func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, created, err := h.manager.GetOrCreate(r.Context(), id)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	st := s.State()
	if !created {
		utils.RespondJSON(w, http.StatusOK, stateBody(st, existingMessage(st)))
		return
	}
	if st.Status == session.StatusConnected {
		// Saved credentials let the session skip the QR handshake.
		utils.RespondJSON(w, http.StatusOK, stateBody(st, "reconnected automatically"))
		return
	}

	st, err = h.manager.WaitForQR(r.Context(), s)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, stateBody(st, "QR code generated"))
}

func existingMessage(st session.State) string {
	switch {
	case st.QR != "":
		return "QR code available"
	case st.Status == session.StatusConnected:
		return "already connected"
	default:
		return "awaiting connection"
	}
}

// handleStatus is the non-blocking state read. An unknown session reports
// disconnected rather than an error.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	st := session.State{Status: session.StatusDisconnected}
	if s, ok := h.manager.Get(id); ok {
		st = s.State()
	}
	utils.RespondJSON(w, http.StatusOK, stateBody(st, ""))
}

// handleDisconnect is the explicit logout: credentials are destroyed and
// the session leaves the registry.
func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	removed, err := h.manager.Disconnect(r.Context(), id)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	message := "disconnected"
	if !removed {
		message = "session not found"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": message,
	})
}

// handleSend proxies an outbound text message through the session.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Phone     string `json:"phone"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		payload.SessionID = "default"
	}
	if payload.Phone == "" || payload.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "phone and message are required")
		return
	}

	res, err := h.manager.Send(r.Context(), payload.SessionID, payload.Phone, payload.Message)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, waService.ErrNotConnected) {
			status = http.StatusBadRequest
		}
		utils.RespondError(w, status, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "message sent",
		"messageId": res.MessageID,
		"timestamp": res.Timestamp.Unix(),
	})
}

// handleHealth is the service's own liveness probe.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"activeSessions": h.manager.Count(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// handleDebug dumps every session's state for diagnostics.
func (h *Handler) handleDebug(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.Sessions()
	states := make([]session.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		states = append(states, s.Snapshot())
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"totalSessions": len(states),
		"sessions":      states,
	})
}
