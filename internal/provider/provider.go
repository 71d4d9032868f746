// Package provider defines the contract between the session lifecycle and a
// messaging network connection.
package provider

import (
	"context"
	"errors"
	"strings"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
)

// ErrHandlerRegistered is returned when an event handler is already attached.
var ErrHandlerRegistered = errors.New("provider: event handler already registered")

// ErrNotConnected is returned by operations that need an open connection.
var ErrNotConnected = errors.New("provider: not connected")

// Handler receives events in the order the connection produced them.
type Handler func(Event)

// Connection is one tenant's link to the messaging network.
type Connection interface {
	// Connect opens (or re-opens) the connection using the device state under sessionDir.
	Connect(ctx context.Context, sessionDir string) error
	// SendText sends a plain text message and returns the provider message id.
	SendText(ctx context.Context, jid, text string) (string, error)
	// SetTyping toggles the composing presence in a chat.
	SetTyping(ctx context.Context, jid string, composing bool) error
	DownloadAudio(ctx context.Context, audio *waE2E.AudioMessage) ([]byte, error)
	Logout(ctx context.Context) error
	// Release frees every resource held by the connection. It is safe to call more than once.
	Release()
	// SetEventHandler installs the single event handler slot.
	SetEventHandler(h Handler) error
}

// Factory builds a new connection for a tenant.
type Factory func(tenantID string) Connection

const (
	UserServer   = "s.whatsapp.net"
	LegacyServer = "c.us"
	GroupServer  = "g.us"
)

// NormalizeJID turns user supplied chat ids into provider addresses:
// bare numbers get the user server and the legacy c.us suffix is rewritten.
func NormalizeJID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return id
	}
	user, server, found := strings.Cut(id, "@")
	if !found {
		return id + "@" + UserServer
	}
	if server == LegacyServer {
		return user + "@" + UserServer
	}
	return id
}

// UserPart strips the server from an address.
func UserPart(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	return user
}
