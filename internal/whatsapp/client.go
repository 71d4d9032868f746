// Package whatsapp implements provider.Connection on top of whatsmeow.
package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/talkincode/whatshttp/internal/provider"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

var errReleased = errors.New("whatsapp: connection released")

// Client is one tenant's whatsmeow connection. Device state lives in
// <sessionDir>/<tenant id>/store.db.
type Client struct {
	tenantID string
	debug    bool

	mu        sync.Mutex
	container *sqlstore.Container
	cli       *whatsmeow.Client
	handlerID uint32
	handler   provider.Handler
	cancelQR  context.CancelFunc
	released  bool
}

var _ provider.Connection = (*Client)(nil)

// NewFactory returns a provider.Factory building whatsmeow connections.
func NewFactory(debug bool) provider.Factory {
	return func(tenantID string) provider.Connection {
		return &Client{tenantID: tenantID, debug: debug}
	}
}

func (c *Client) SetEventHandler(h provider.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		return provider.ErrHandlerRegistered
	}
	c.handler = h
	return nil
}

func (c *Client) emit(cli *whatsmeow.Client, ev provider.Event) {
	c.mu.Lock()
	h := c.handler
	current := c.cli == cli && !c.released
	c.mu.Unlock()
	if h != nil && current {
		h(ev)
	}
}

func (c *Client) openStore(ctx context.Context, sessionDir string) (*sqlstore.Container, error) {
	if c.container != nil {
		return c.container, nil
	}
	dir := filepath.Join(sessionDir, c.tenantID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create session dir %s", dir)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(dir, "store.db"))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, newLogger("Database", c.debug))
	if err != nil {
		return nil, errors.Wrap(err, "open device store")
	}
	c.container = container
	return container, nil
}

// dropClient detaches the current whatsmeow client and closes container when
// given. Called with c.mu held. Event handlers reach this from inside
// whatsmeow's dispatch, which holds the handler lock, so the detach runs in
// the background.
func (c *Client) dropClient(container *sqlstore.Container) {
	if c.cancelQR != nil {
		c.cancelQR()
		c.cancelQR = nil
	}
	cli, id := c.cli, c.handlerID
	c.cli = nil
	if cli == nil && container == nil {
		return
	}
	go func() {
		if cli != nil {
			cli.RemoveEventHandler(id)
			cli.Disconnect()
		}
		if container != nil {
			if err := container.Close(); err != nil {
				zap.L().Warn("whatsapp: close device store failed", zap.String("client_id", c.tenantID), zap.Error(err))
			}
		}
	}()
}

// attach builds a whatsmeow client for the stored device and registers the
// event handler. Called with c.mu held.
func (c *Client) attach(ctx context.Context, sessionDir string) (*whatsmeow.Client, <-chan whatsmeow.QRChannelItem, error) {
	container, err := c.openStore(ctx, sessionDir)
	if err != nil {
		return nil, nil, err
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load device")
	}

	cli := whatsmeow.NewClient(device, newLogger("Client/"+c.tenantID, c.debug))
	cli.EnableAutoReconnect = false
	c.handlerID = cli.AddEventHandler(func(evt interface{}) { c.onEvent(cli, evt) })
	c.cli = cli

	if cli.Store.ID != nil {
		return cli, nil, nil
	}
	qrCtx, cancel := context.WithCancel(ctx)
	qrChan, err := cli.GetQRChannel(qrCtx)
	if err != nil {
		cancel()
		c.dropClient(nil)
		return nil, nil, errors.Wrap(err, "open qr channel")
	}
	c.cancelQR = cancel
	return cli, qrChan, nil
}

// Connect opens the device store and connects. Calling it again replaces the
// previous socket with a fresh one on the same device.
func (c *Client) Connect(ctx context.Context, sessionDir string) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return errReleased
	}
	c.dropClient(nil)
	cli, qrChan, err := c.attach(ctx, sessionDir)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if qrChan != nil {
		go c.watchQR(cli, qrChan)
	}
	zap.L().Info("whatsapp: connecting",
		zap.String("client_id", c.tenantID),
		zap.Bool("paired", cli.Store.ID != nil))
	if err := cli.Connect(); err != nil {
		return errors.Wrap(err, "connect")
	}
	return nil
}

func (c *Client) watchQR(cli *whatsmeow.Client, ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			zap.L().Debug("whatsapp: pairing code issued", zap.String("client_id", c.tenantID), zap.Duration("timeout", item.Timeout))
			c.emit(cli, provider.PairingCode{Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			zap.L().Info("whatsapp: pairing succeeded", zap.String("client_id", c.tenantID))
		case whatsmeow.QRChannelTimeout.Event:
			c.emit(cli, provider.ConnectionClosed{Reason: provider.ClosePairingTimeout})
		default:
			err := item.Error
			if err == nil {
				err = errors.Errorf("pairing event %s", item.Event)
			}
			c.emit(cli, provider.ConnectionClosed{Reason: provider.ClosePairingFailed, Err: err})
		}
	}
}

func (c *Client) current() (*whatsmeow.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil {
		return nil, provider.ErrNotConnected
	}
	return c.cli, nil
}

func (c *Client) SendText(ctx context.Context, jid, text string) (string, error) {
	cli, err := c.current()
	if err != nil {
		return "", err
	}
	to, err := types.ParseJID(provider.NormalizeJID(jid))
	if err != nil {
		return "", errors.Wrapf(err, "invalid jid %s", jid)
	}
	resp, err := cli.SendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", errors.Wrap(err, "send message")
	}
	// the server accepted the message; report it like a receipt
	c.emit(cli, provider.StatusBatch{Updates: []provider.StatusUpdate{{
		MessageID: resp.ID,
		Chat:      to.String(),
		Status:    provider.StatusServerAck,
		Timestamp: resp.Timestamp,
	}}})
	return resp.ID, nil
}

func (c *Client) SetTyping(ctx context.Context, jid string, composing bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cli, err := c.current()
	if err != nil {
		return err
	}
	to, err := types.ParseJID(provider.NormalizeJID(jid))
	if err != nil {
		return errors.Wrapf(err, "invalid jid %s", jid)
	}
	state := types.ChatPresencePaused
	if composing {
		state = types.ChatPresenceComposing
	}
	return cli.SendChatPresence(to, state, types.ChatPresenceMediaText)
}

func (c *Client) DownloadAudio(ctx context.Context, audio *waE2E.AudioMessage) ([]byte, error) {
	cli, err := c.current()
	if err != nil {
		return nil, err
	}
	data, err := cli.Download(ctx, audio)
	return data, errors.Wrap(err, "download audio")
}

// Logout unlinks the device from the phone and wipes the local device store.
func (c *Client) Logout(ctx context.Context) error {
	cli, err := c.current()
	if err != nil {
		return err
	}
	if cli.Store.ID == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return errors.Wrap(cli.Logout(ctx), "logout")
}

func (c *Client) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	c.dropClient(c.container)
	c.container = nil
	zap.L().Info("whatsapp: connection released", zap.String("client_id", c.tenantID))
}
