package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	waService "github.com/barberclick/whatsapp-gateway/internal/service/wa"
	"github.com/barberclick/whatsapp-gateway/internal/store"
)

type fakeConn struct{}

func (fakeConn) SendText(context.Context, string, string) (waService.SendResult, error) {
	return waService.SendResult{MessageID: "3EB0", Timestamp: time.Unix(1700000000, 0)}, nil
}
func (fakeConn) ResolveTarget(_ context.Context, phone string) (string, error) { return phone, nil }
func (fakeConn) Ping(context.Context) error                                    { return nil }
func (fakeConn) Logout(context.Context) error                                  { return nil }
func (fakeConn) Close()                                                        {}

// fakeDialer hands out inert connections and optionally replays a script of
// events after each dial.
type fakeDialer struct {
	mu       sync.Mutex
	handlers []waService.EventHandler
	script   func(h waService.EventHandler)
}

func (d *fakeDialer) Dial(_ context.Context, _ string, h waService.EventHandler) (waService.Connection, error) {
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	script := d.script
	d.mu.Unlock()
	if script != nil {
		go script(h)
	}
	return fakeConn{}, nil
}

func (d *fakeDialer) handler(i int) waService.EventHandler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[i]
}

func setupGateway(t *testing.T, dialer waService.Dialer, cfg waService.Config) (*chi.Mux, *waService.Manager) {
	t.Helper()
	creds, err := store.NewCredentialStore(t.TempDir())
	if err != nil {
		t.Fatalf("credential store: %v", err)
	}
	manager := waService.NewManager(dialer, creds, nil, cfg)
	t.Cleanup(manager.Close)

	r := chi.NewRouter()
	New(manager).RegisterRoutes(r)
	return r, manager
}

func postJSON(t *testing.T, r http.Handler, path string, body map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var decoded map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response %q: %v", resp.Body.String(), err)
	}
	return resp, decoded
}

func TestInitWaitsForQRThenStatusReflectsOpen(t *testing.T) {
	dialer := &fakeDialer{script: func(h waService.EventHandler) {
		time.Sleep(50 * time.Millisecond)
		h.HandleQR("T1")
	}}
	r, _ := setupGateway(t, dialer, waService.Config{
		QRTimeout:      2 * time.Second,
		QRPollInterval: 10 * time.Millisecond,
	})

	resp, body := postJSON(t, r, "/whatsapp/init", map[string]string{"sessionId": "a"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if body["success"] != true {
		t.Fatalf("expected success, got %v", body)
	}
	if body["status"] != "qr_ready" {
		t.Fatalf("expected qr_ready, got %v", body["status"])
	}
	qr, _ := body["qr"].(string)
	if !strings.HasPrefix(qr, "data:image/png;base64,") {
		t.Fatalf("expected QR derived from the pairing token, got %v", body["qr"])
	}

	dialer.handler(0).HandleOpen("5551234")

	resp, body = postJSON(t, r, "/whatsapp/status", map[string]string{"sessionId": "a"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body["status"] != "connected" {
		t.Fatalf("expected connected, got %v", body["status"])
	}
	if body["phoneNumber"] != "5551234" {
		t.Fatalf("expected phone number, got %v", body["phoneNumber"])
	}
	if body["qr"] != nil {
		t.Fatalf("qr must be null once connected, got %v", body["qr"])
	}
}

func TestInitExistingSessionAnswersImmediately(t *testing.T) {
	dialer := &fakeDialer{}
	r, manager := setupGateway(t, dialer, waService.Config{QRTimeout: 5 * time.Second})

	if _, _, err := manager.GetOrCreate(context.Background(), "a"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	dialer.handler(0).HandleOpen("5551234")

	start := time.Now()
	resp, body := postJSON(t, r, "/whatsapp/init", map[string]string{"sessionId": "a"})
	if resp.Code != http.StatusOK || body["status"] != "connected" {
		t.Fatalf("expected connected snapshot, got %d %v", resp.Code, body)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("existing session must not block on the QR waiter")
	}
}

func TestInitTimesOutWithoutQR(t *testing.T) {
	r, _ := setupGateway(t, &fakeDialer{}, waService.Config{
		QRTimeout:      100 * time.Millisecond,
		QRPollInterval: 10 * time.Millisecond,
	})

	resp, body := postJSON(t, r, "/whatsapp/init", map[string]string{"sessionId": "a"})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if body["success"] != false {
		t.Fatalf("expected uniform error shape, got %v", body)
	}
	errMsg, _ := body["error"].(string)
	if !strings.Contains(errMsg, "QR") {
		t.Fatalf("expected QR timeout message, got %q", errMsg)
	}
}

func TestSendWhileConnectingRejected(t *testing.T) {
	dialer := &fakeDialer{}
	r, manager := setupGateway(t, dialer, waService.Config{})

	if _, _, err := manager.GetOrCreate(context.Background(), "a"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	resp, body := postJSON(t, r, "/whatsapp/send", map[string]string{
		"sessionId": "a",
		"phone":     "5550000",
		"message":   "hi",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 while connecting, got %d", resp.Code)
	}
	if body["success"] != false {
		t.Fatalf("expected failure body, got %v", body)
	}
}

func TestSendConnectedSession(t *testing.T) {
	dialer := &fakeDialer{}
	r, manager := setupGateway(t, dialer, waService.Config{})

	manager.GetOrCreate(context.Background(), "a")
	dialer.handler(0).HandleOpen("5551234")

	resp, body := postJSON(t, r, "/whatsapp/send", map[string]string{
		"sessionId": "a",
		"phone":     "5550000",
		"message":   "hi",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if body["messageId"] != "3EB0" {
		t.Fatalf("expected message id in response, got %v", body)
	}
}

func TestSendValidation(t *testing.T) {
	r, _ := setupGateway(t, &fakeDialer{}, waService.Config{})

	resp, _ := postJSON(t, r, "/whatsapp/send", map[string]string{"sessionId": "a"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", resp.Code)
	}
}

func TestStatusUnknownSession(t *testing.T) {
	r, _ := setupGateway(t, &fakeDialer{}, waService.Config{})

	resp, body := postJSON(t, r, "/whatsapp/status", map[string]string{"sessionId": "ghost"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body["status"] != "disconnected" || body["qr"] != nil {
		t.Fatalf("unknown session must read as disconnected, got %v", body)
	}
}

func TestDisconnectUnknownSession(t *testing.T) {
	r, _ := setupGateway(t, &fakeDialer{}, waService.Config{})

	resp, body := postJSON(t, r, "/whatsapp/disconnect", map[string]string{"sessionId": "ghost"})
	if resp.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("disconnecting an unknown session is not an error, got %d %v", resp.Code, body)
	}
	if body["message"] != "session not found" {
		t.Fatalf("unexpected message %v", body["message"])
	}
}

func TestDisconnectRemovesSession(t *testing.T) {
	dialer := &fakeDialer{}
	r, manager := setupGateway(t, dialer, waService.Config{})

	manager.GetOrCreate(context.Background(), "a")

	resp, body := postJSON(t, r, "/whatsapp/disconnect", map[string]string{"sessionId": "a"})
	if resp.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("expected success, got %d %v", resp.Code, body)
	}
	if manager.Count() != 0 {
		t.Fatalf("session must leave the registry on disconnect")
	}
}

func TestHealthReportsActiveSessions(t *testing.T) {
	dialer := &fakeDialer{}
	r, manager := setupGateway(t, dialer, waService.Config{})
	manager.GetOrCreate(context.Background(), "a")
	manager.GetOrCreate(context.Background(), "b")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var body map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected ok, got %v", body["status"])
	}
	if body["activeSessions"] != float64(2) {
		t.Fatalf("expected 2 active sessions, got %v", body["activeSessions"])
	}
}

func TestDebugListsSessionStates(t *testing.T) {
	dialer := &fakeDialer{}
	r, manager := setupGateway(t, dialer, waService.Config{})
	manager.GetOrCreate(context.Background(), "a")
	dialer.handler(0).HandleOpen("5551234")

	req := httptest.NewRequest(http.MethodGet, "/debug", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var body struct {
		TotalSessions int `json:"totalSessions"`
		Sessions      []struct {
			SessionID   string `json:"sessionId"`
			Status      string `json:"status"`
			HasQR       bool   `json:"hasQR"`
			PhoneNumber string `json:"phoneNumber"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TotalSessions != 1 || len(body.Sessions) != 1 {
		t.Fatalf("expected one session, got %+v", body)
	}
	got := body.Sessions[0]
	if got.SessionID != "a" || got.Status != "connected" || got.HasQR || got.PhoneNumber != "5551234" {
		t.Fatalf("unexpected session dump %+v", got)
	}
}

func TestInitDefaultsSessionID(t *testing.T) {
	dialer := &fakeDialer{script: func(h waService.EventHandler) {
		h.HandleQR("T1")
	}}
	r, manager := setupGateway(t, dialer, waService.Config{
		QRTimeout:      time.Second,
		QRPollInterval: 10 * time.Millisecond,
	})

	resp, _ := postJSON(t, r, "/whatsapp/init", map[string]string{})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if _, ok := manager.Get("default"); !ok {
		t.Fatalf("missing sessionId must fall back to \"default\"")
	}
}
