package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDecideForwardsMessageAndReturnsReply(t *testing.T) {
	var got decideRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret-token" {
			t.Errorf("missing bearer credential, got %q", auth)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("missing request id")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "reply": "menu 1"})
	}))
	defer srv.Close()

	svc := New(srv.URL, "secret-token")
	reply, ok := svc.Decide(context.Background(), "a", "5550000@s.whatsapp.net", "oi")

	if !ok || reply != "menu 1" {
		t.Fatalf("expected reply, got ok=%t reply=%q", ok, reply)
	}
	if got.SessionID != "a" || got.Message != "oi" || got.From != "5550000@s.whatsapp.net" {
		t.Fatalf("unexpected forwarded payload %+v", got)
	}
}

func TestDecideNoMatchingRule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false})
	}))
	defer srv.Close()

	svc := New(srv.URL, "token")
	if _, ok := svc.Decide(context.Background(), "a", "from", "hello"); ok {
		t.Fatalf("no reply expected when no rule matches")
	}
}

func TestDecideServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := New(srv.URL, "token")
	if _, ok := svc.Decide(context.Background(), "a", "from", "hello"); ok {
		t.Fatalf("server errors must be swallowed, not replied to")
	}
}

func TestDecideUnreachableService(t *testing.T) {
	svc := New("http://127.0.0.1:1", "token")
	if _, ok := svc.Decide(context.Background(), "a", "from", "hello"); ok {
		t.Fatalf("unreachable service must yield no reply")
	}
}
