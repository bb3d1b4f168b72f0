// Package bot forwards inbound messages to the external decision service
// and reports back any reply it wants sent. The service is a black box: it
// owns trigger keywords, menus and conversation rules; this client only
// carries the request over HTTP.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Service calls the decision endpoint with a bearer credential. Failures
// are logged and swallowed: inbound routing has no HTTP caller to report
// to, so a broken decision service must never disturb the session.
type Service struct {
	client *http.Client
	url    string
	token  string
}

// New builds the client. url and token come from configuration; the token
// is never written to logs.
func New(url, token string) *Service {
	return &Service{
		client: &http.Client{Timeout: 15 * time.Second},
		url:    url,
		token:  token,
	}
}

type decideRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	From      string `json:"from"`
}

type decideResponse struct {
	Success bool   `json:"success"`
	Reply   string `json:"reply"`
}

// Decide forwards one inbound message. The bool reports whether a reply
// should be sent back to the originating address.
func (s *Service) Decide(ctx context.Context, sessionID, from, text string) (string, bool) {
	payload, err := json.Marshal(decideRequest{SessionID: sessionID, Message: text, From: from})
	if err != nil {
		log.Printf("[bot] marshal request: %v", err)
		return "", false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		log.Printf("[bot] build request: %v", err)
		return "", false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[bot] decision service unreachable: %v", err)
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Printf("[bot] decision service returned %d: %s", resp.StatusCode, body)
		return "", false
	}

	var decision decideResponse
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		log.Printf("[bot] decode response: %v", err)
		return "", false
	}
	if !decision.Success || decision.Reply == "" {
		log.Printf("[bot] no matching rule for session=%s", sessionID)
		return "", false
	}
	return decision.Reply, true
}

// String hides the bearer token from accidental formatting.
func (s *Service) String() string {
	return fmt.Sprintf("bot.Service{url: %s}", s.url)
}
