// Package providertest provides a scriptable in-memory provider.Connection.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/talkincode/whatshttp/internal/provider"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
)

// SentMessage records one SendText call.
type SentMessage struct {
	JID  string
	Text string
}

// Conn is a fake connection. Events are injected with Emit.
type Conn struct {
	TenantID string

	// ConnectErr is returned by every Connect call while set.
	ConnectErr error
	// OnConnect runs after a successful Connect, with the connection unlocked.
	OnConnect func(c *Conn)
	AudioData []byte

	mu      sync.Mutex
	handler provider.Handler
	sent    []SentMessage
	typing  []bool
	seq     int

	connects atomic.Int32
	logouts  atomic.Int32
	releases atomic.Int32
}

var _ provider.Connection = (*Conn)(nil)

func (c *Conn) Connect(ctx context.Context, sessionDir string) error {
	c.connects.Add(1)
	c.mu.Lock()
	err := c.ConnectErr
	hook := c.OnConnect
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(c)
	}
	return nil
}

// SetConnectErr changes the Connect result.
func (c *Conn) SetConnectErr(err error) {
	c.mu.Lock()
	c.ConnectErr = err
	c.mu.Unlock()
}

func (c *Conn) SendText(ctx context.Context, jid, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.sent = append(c.sent, SentMessage{JID: jid, Text: text})
	return fmt.Sprintf("FAKE%04d", c.seq), nil
}

func (c *Conn) SetTyping(ctx context.Context, jid string, composing bool) error {
	c.mu.Lock()
	c.typing = append(c.typing, composing)
	c.mu.Unlock()
	return nil
}

func (c *Conn) DownloadAudio(ctx context.Context, audio *waE2E.AudioMessage) ([]byte, error) {
	return c.AudioData, nil
}

func (c *Conn) Logout(ctx context.Context) error {
	c.logouts.Add(1)
	return nil
}

func (c *Conn) Release() {
	c.releases.Add(1)
}

func (c *Conn) SetEventHandler(h provider.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		return provider.ErrHandlerRegistered
	}
	c.handler = h
	return nil
}

// Emit delivers ev synchronously to the registered handler.
func (c *Conn) Emit(ev provider.Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (c *Conn) Connects() int { return int(c.connects.Load()) }
func (c *Conn) Logouts() int  { return int(c.logouts.Load()) }
func (c *Conn) Releases() int { return int(c.releases.Load()) }

// Sent returns a copy of the sent messages.
func (c *Conn) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMessage(nil), c.sent...)
}

// Typing returns the recorded presence toggles.
func (c *Conn) Typing() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.typing...)
}

// Factory hands out fake connections and remembers them.
type Factory struct {
	// Configure runs on every new connection before it is returned.
	Configure func(c *Conn)

	mu    sync.Mutex
	conns []*Conn
}

// New implements provider.Factory.
func (f *Factory) New(tenantID string) provider.Connection {
	c := &Conn{TenantID: tenantID}
	if f.Configure != nil {
		f.Configure(c)
	}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c
}

// Created returns how many connections were built.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// Last returns the most recent connection for tenantID, or nil.
func (f *Factory) Last(tenantID string) *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.conns) - 1; i >= 0; i-- {
		if f.conns[i].TenantID == tenantID {
			return f.conns[i]
		}
	}
	return nil
}
