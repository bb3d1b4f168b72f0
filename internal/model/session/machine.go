package session

// Event is a connection lifecycle notification driving the state machine.
type Event interface{ isEvent() }

// QREvent carries a freshly rendered pairing image for an unauthenticated
// connection.
type QREvent struct {
	QR string
}

// OpenEvent reports a successfully authenticated connection.
type OpenEvent struct {
	PhoneNumber string
}

// CloseEvent reports connection termination. LoggedOut is the single
// classification point for close handling: it is true only when the network
// reported an explicit logout. Treating a permanent failure as transient
// loops reconnection forever; treating a transient failure as a logout
// destroys credentials that were still valid. The driver therefore sets
// LoggedOut solely from the network's logged-out status code and nothing
// else.
type CloseEvent struct {
	LoggedOut bool
	Err       error
}

// RetryEvent marks the start of a replacement connection attempt for the
// same session id.
type RetryEvent struct{}

func (QREvent) isEvent()    {}
func (OpenEvent) isEvent()  {}
func (CloseEvent) isEvent() {}
func (RetryEvent) isEvent() {}

// Intent is a side effect the caller must carry out after a transition.
// Transitions never perform side effects themselves.
type Intent int

const (
	// IntentScheduleReconnect asks for a delayed replacement connection.
	IntentScheduleReconnect Intent = iota
	// IntentDeleteCredentials asks for the session's durable credential
	// material to be destroyed.
	IntentDeleteCredentials
	// IntentRemoveSession asks for the session to leave the registry.
	IntentRemoveSession
)

// Transition maps (state, event) to (next state, intents). It is a pure
// function so close classification and QR bookkeeping stay testable without
// a live connection.
//
// Edges:
//
//	connecting            --qr-->    qr_ready
//	connecting|qr_ready   --open-->  connected
//	any live              --close--> connecting (transient) | disconnected (logout)
//	disconnected          --retry--> connecting
func Transition(s State, ev Event) (State, []Intent) {
	switch e := ev.(type) {
	case QREvent:
		if s.Status != StatusConnecting && s.Status != StatusQRReady {
			return s, nil
		}
		s.Status = StatusQRReady
		s.QR = e.QR
		return s, nil

	case OpenEvent:
		if s.Status == StatusDisconnected {
			return s, nil
		}
		s.Status = StatusConnected
		s.QR = ""
		s.PhoneNumber = e.PhoneNumber
		return s, nil

	case CloseEvent:
		if s.Status == StatusDisconnected {
			return s, nil
		}
		s.QR = ""
		if e.LoggedOut {
			s.Status = StatusDisconnected
			return s, []Intent{IntentDeleteCredentials, IntentRemoveSession}
		}
		s.Status = StatusConnecting
		return s, []Intent{IntentScheduleReconnect}

	case RetryEvent:
		s.Status = StatusConnecting
		s.QR = ""
		return s, nil
	}
	return s, nil
}
