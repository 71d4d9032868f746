package provider

import (
	"time"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
)

// Event is the tagged union delivered to a Handler. The concrete types are
// PairingCode, ConnectionOpened, ConnectionClosed, CredentialsUpdated,
// MessageBatch and StatusBatch.
type Event interface {
	isEvent()
}

// PairingCode carries a fresh code to be scanned by the phone.
type PairingCode struct {
	Code string
}

// ConnectionOpened is emitted once the connection is authenticated.
type ConnectionOpened struct{}

// CloseReason says why a connection ended.
type CloseReason int

const (
	CloseLoggedOut CloseReason = iota + 1
	CloseConnectionLost
	CloseReplaced
	ClosePairingTimeout
	ClosePairingFailed
	CloseConnectFailure
	CloseBanned
)

func (r CloseReason) String() string {
	switch r {
	case CloseLoggedOut:
		return "logged_out"
	case CloseConnectionLost:
		return "connection_lost"
	case CloseReplaced:
		return "replaced"
	case ClosePairingTimeout:
		return "pairing_timeout"
	case ClosePairingFailed:
		return "pairing_failed"
	case CloseConnectFailure:
		return "connect_failure"
	case CloseBanned:
		return "banned"
	}
	return "unknown"
}

// Recoverable reports whether a reconnect should be attempted.
func (r CloseReason) Recoverable() bool {
	return r != CloseLoggedOut
}

// ConnectionClosed is emitted when the connection ends for any reason.
type ConnectionClosed struct {
	Reason CloseReason
	Err    error
}

// Identity is the account bound to the connection after pairing.
type Identity struct {
	ID   string
	Name string
}

// Valid reports whether the identity names an account.
func (i Identity) Valid() bool {
	return i.ID != ""
}

// CredentialsUpdated is emitted when the account identity is learned or changes.
type CredentialsUpdated struct {
	Identity Identity
}

// InboundMessage is a raw message as received from the network.
type InboundMessage struct {
	ID        string
	Chat      string
	Sender    string
	FromMe    bool
	Timestamp time.Time
	PushName  string
	Message   *waE2E.Message
}

// MessageBatch groups messages received together.
type MessageBatch struct {
	Messages []InboundMessage
}

// Status is the provider side delivery status. The zero value is unset.
type Status int

const (
	StatusError Status = iota + 1
	StatusPending
	StatusServerAck
	StatusDeliveryAck
	StatusRead
	StatusPlayed
)

// StatusUpdate reports a delivery status change for an outbound message.
type StatusUpdate struct {
	MessageID string
	Chat      string
	Sender    string
	Status    Status
	Timestamp time.Time
}

// StatusBatch groups status updates received together.
type StatusBatch struct {
	Updates []StatusUpdate
}

func (PairingCode) isEvent()        {}
func (ConnectionOpened) isEvent()   {}
func (ConnectionClosed) isEvent()   {}
func (CredentialsUpdated) isEvent() {}
func (MessageBatch) isEvent()       {}
func (StatusBatch) isEvent()        {}
