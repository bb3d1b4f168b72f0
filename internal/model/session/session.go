package session

// Status describes where a session's connection currently is in its lifecycle.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusQRReady      Status = "qr_ready"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// State is the observable view of a session. QR holds the rendered pairing
// image only while Status is StatusQRReady; PhoneNumber is set once the
// account has authenticated at least once on the current process.
type State struct {
	Status      Status `json:"status"`
	QR          string `json:"qr,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Snapshot pairs a session id with its state for diagnostic listings.
type Snapshot struct {
	SessionID   string `json:"sessionId"`
	Status      Status `json:"status"`
	HasQR       bool   `json:"hasQR"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}
