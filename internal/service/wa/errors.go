package wa

import "errors"

var (
	// ErrNotConnected rejects sends while the session is in any status
	// other than connected.
	ErrNotConnected = errors.New("session not connected")
	// ErrQRTimeout reports that no pairing code appeared within the wait
	// bound.
	ErrQRTimeout = errors.New("timed out waiting for QR code")
	// ErrSendFailed wraps delivery failures from the underlying connection.
	ErrSendFailed = errors.New("message send failed")
)
