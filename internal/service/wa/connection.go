package wa

import (
	"context"
	"time"
)

// EventHandler receives asynchronous connection events. Implementations are
// owned by the manager; a driver must deliver events for one connection
// sequentially and in emission order.
type EventHandler interface {
	// HandleQR delivers a raw pairing token for an unauthenticated device.
	HandleQR(code string)
	// HandleOpen reports a fully authenticated connection.
	HandleOpen(phoneNumber string)
	// HandleClose reports connection termination. loggedOut must be true
	// only for the network's explicit-logout status code.
	HandleClose(loggedOut bool, err error)
	// HandleMessage delivers an inbound message.
	HandleMessage(msg InboundMessage)
}

// InboundMessage is a received message, reduced to what the bot router
// needs.
type InboundMessage struct {
	From   string
	Text   string
	FromMe bool
}

// SendResult reports a delivered outbound message.
type SendResult struct {
	MessageID string
	Timestamp time.Time
}

// Connection is one live, exclusively owned handle to the messaging
// network. The wire protocol, handshake and framing are the driver's
// concern; the manager only drives lifecycle and sends.
type Connection interface {
	// SendText delivers text to target. Target is either a full network
	// address or a digits-only phone number.
	SendText(ctx context.Context, target, text string) (SendResult, error)
	// ResolveTarget looks the phone number up in the network directory and
	// returns its canonical address. Errors are non-fatal to callers, who
	// fall back to the default address derivation.
	ResolveTarget(ctx context.Context, phone string) (string, error)
	// Ping sends a lightweight liveness probe.
	Ping(ctx context.Context) error
	// Logout invalidates the session on the network side.
	Logout(ctx context.Context) error
	// Close tears the connection down without logging out.
	Close()
}

// Dialer opens connections. Dial must reuse any credential material saved
// for sessionID so reconnects skip the QR handshake.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, handler EventHandler) (Connection, error)
}

// ReplyDecider is the external service that decides bot replies for inbound
// messages. The returned bool reports whether a reply should be sent.
type ReplyDecider interface {
	Decide(ctx context.Context, sessionID, from, text string) (string, bool)
}
