package meow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/barberclick/whatsapp-gateway/internal/service/wa"
)

// Connection adapts one whatsmeow client to the wa.Connection contract. It
// owns the credential database handle for the session's container.
type Connection struct {
	client  *whatsmeow.Client
	db      *sql.DB
	handler wa.EventHandler
}

// handleEvent translates whatsmeow events into the handler callbacks.
// whatsmeow dispatches events for one client sequentially, which gives the
// manager its per-session ordering guarantee.
func (c *Connection) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		phone := ""
		if id := c.client.Store.ID; id != nil {
			phone = id.User
		}
		c.handler.HandleOpen(phone)

	case *events.LoggedOut:
		// The only close classified as permanent.
		c.handler.HandleClose(true, fmt.Errorf("logged out by network (reason %v)", evt.Reason))

	case *events.Disconnected:
		c.handler.HandleClose(false, errors.New("connection closed by network"))

	case *events.StreamError:
		c.handler.HandleClose(false, fmt.Errorf("stream error: %s", evt.Code))

	case *events.Message:
		c.handler.HandleMessage(wa.InboundMessage{
			From:   evt.Info.Chat.String(),
			Text:   extractText(evt.Message),
			FromMe: evt.Info.IsFromMe,
		})
	}
}

// pumpQR forwards pairing codes from the QR channel. The channel closes by
// itself once pairing succeeds or the connection dies.
func (c *Connection) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			c.handler.HandleQR(item.Code)
		case "timeout":
			c.handler.HandleClose(false, errors.New("QR pairing timed out"))
		}
	}
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	return msg.GetExtendedTextMessage().GetText()
}

// SendText delivers a plain text message. Target may be a full JID or a
// digits-only phone number.
func (c *Connection) SendText(ctx context.Context, target, text string) (wa.SendResult, error) {
	jid, err := parseTarget(target)
	if err != nil {
		return wa.SendResult{}, err
	}
	resp, err := c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return wa.SendResult{}, err
	}
	return wa.SendResult{MessageID: string(resp.ID), Timestamp: resp.Timestamp}, nil
}

// ResolveTarget checks the directory for a phone number and returns the
// canonical JID when registered, or the default derivation otherwise.
func (c *Connection) ResolveTarget(ctx context.Context, phone string) (string, error) {
	results, err := c.client.IsOnWhatsApp(ctx, []string{"+" + phone})
	if err != nil {
		return "", err
	}
	if len(results) > 0 && results[0].IsIn {
		return results[0].JID.String(), nil
	}
	return types.NewJID(phone, types.DefaultUserServer).String(), nil
}

// Ping sends a presence update as the liveness probe, bounded by ctx.
func (c *Connection) Ping(ctx context.Context) error {
	return runBounded(ctx, func() error {
		return c.client.SendPresence(ctx, types.PresenceAvailable)
	})
}

// runBounded runs fn but returns as soon as ctx expires, leaving fn to
// finish in the background.
func runBounded(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Logout invalidates the pairing on the network side.
func (c *Connection) Logout(ctx context.Context) error {
	return c.client.Logout(ctx)
}

// Close drops the socket without unpairing and releases the credential
// database handle.
func (c *Connection) Close() {
	c.client.Disconnect()
	if c.db != nil {
		c.db.Close()
	}
}

func parseTarget(target string) (types.JID, error) {
	if strings.ContainsRune(target, '@') {
		return types.ParseJID(target)
	}
	return types.NewJID(target, types.DefaultUserServer), nil
}
