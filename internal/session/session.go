package session

import (
	"context"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/talkincode/whatshttp/internal/normalize"
	"github.com/talkincode/whatshttp/internal/provider"
	"github.com/talkincode/whatshttp/internal/store"
	"github.com/talkincode/whatshttp/internal/webhook"
	"go.uber.org/zap"
)

const reconnectPause = time.Second

type stateChange struct {
	from, to State
}

// Session is one tenant's live connection and its lifecycle state.
type Session struct {
	id  string
	reg *Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	pairingCode string
	name        string
	phoneID     string
	webhookURL  string
	conn        provider.Connection
	pending     []stateChange

	// creators counts callers allowed to create; guarded by reg.mu
	creators int

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func newSession(id string, reg *Registry) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:     id,
		reg:    reg,
		ctx:    ctx,
		cancel: cancel,
		state:  StateCreating,
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PairingCode returns the outstanding pairing code, empty once paired.
func (s *Session) PairingCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairingCode
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) WebhookURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webhookURL
}

// SetWebhook stores a new callback URL for the tenant.
func (s *Session) SetWebhook(ctx context.Context, url string) error {
	if err := s.reg.store.Update(ctx, s.id, store.Fields{WebhookURL: store.String(url)}); err != nil {
		return err
	}
	s.mu.Lock()
	s.webhookURL = url
	s.mu.Unlock()
	return nil
}

// SendText paces a typing indicator and sends text to jid. The session must be Ready.
func (s *Session) SendText(ctx context.Context, jid, text string) (string, error) {
	s.mu.Lock()
	state, conn := s.state, s.conn
	s.mu.Unlock()
	if state != StateReady || conn == nil {
		return "", ErrNotReady
	}

	jid = provider.NormalizeJID(jid)
	if err := conn.SetTyping(ctx, jid, true); err != nil {
		zap.L().Debug("session: typing presence failed", zap.String("client_id", s.id), zap.Error(err))
	}
	if s.reg.typingDelay {
		if err := s.reg.sleep(ctx, TypingDelay(text)); err != nil {
			return "", err
		}
	}
	id, err := conn.SendText(ctx, jid, text)
	if terr := conn.SetTyping(ctx, jid, false); terr != nil {
		zap.L().Debug("session: typing presence failed", zap.String("client_id", s.id), zap.Error(terr))
	}
	if err != nil {
		zap.L().Warn("session: send failed", zap.String("client_id", s.id), zap.String("jid", jid), zap.Error(err))
		return "", err
	}
	zap.L().Info("session: message sent", zap.String("client_id", s.id), zap.String("jid", jid), zap.String("message_id", id))
	return id, nil
}

// TypingDelay is the pause before sending text: log2(len+10) seconds.
func TypingDelay(text string) time.Duration {
	n := utf8.RuneCountInString(text)
	return time.Duration(math.Log2(float64(n+10)) * float64(time.Second))
}

func (s *Session) target() webhook.Target {
	return webhook.Target{TenantID: s.id, DisplayName: s.name, WebhookURL: s.webhookURL}
}

// transition must be called with s.mu held. The change is published after unlock.
func (s *Session) transition(to State) bool {
	from := s.state
	if !CanTransition(from, to) {
		zap.L().Warn("session: illegal transition ignored",
			zap.String("client_id", s.id),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		return false
	}
	s.state = to
	s.pending = append(s.pending, stateChange{from: from, to: to})
	zap.L().Info("session: state changed",
		zap.String("client_id", s.id),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	return true
}

// terminate ends the session from any live state on an explicit stop.
// Must be called with s.mu held.
func (s *Session) terminate() {
	from := s.state
	s.state = StateTerminated
	s.pending = append(s.pending, stateChange{from: from, to: StateTerminated})
	zap.L().Info("session: terminated", zap.String("client_id", s.id), zap.Stringer("from", from))
}

// unlock releases s.mu and publishes the queued state changes.
func (s *Session) unlock() {
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, c := range pending {
		s.reg.bus.Publish(TopicState, s.id, c.from, c.to)
	}
}

// resolve wakes the callers waiting on creation. Only the first call counts.
func (s *Session) resolve(err error) {
	s.doneOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *Session) persist(f store.Fields) {
	if err := s.reg.store.Update(s.ctx, s.id, f); err != nil {
		zap.L().Error("session: persist failed", zap.String("client_id", s.id), zap.Error(err))
	}
}

// handle is the connection's event handler.
func (s *Session) handle(ev provider.Event) {
	switch e := ev.(type) {
	case provider.PairingCode:
		s.onPairingCode(e)
	case provider.ConnectionOpened:
		s.onOpened()
	case provider.CredentialsUpdated:
		s.onCredentials(e)
	case provider.ConnectionClosed:
		s.onClosed(e)
	case provider.MessageBatch:
		s.onMessages(e)
	case provider.StatusBatch:
		s.onStatuses(e)
	default:
		zap.L().Warn("session: unknown provider event", zap.String("client_id", s.id))
	}
}

func (s *Session) onPairingCode(e provider.PairingCode) {
	s.mu.Lock()
	if s.state != StateCreating && s.state != StateAwaitingPairing {
		s.unlock()
		return
	}
	s.persist(store.Fields{PairingCode: store.String(e.Code), Ready: store.Bool(false)})
	s.pairingCode = e.Code
	s.transition(StateAwaitingPairing)
	s.unlock()
	s.resolve(nil)
}

func (s *Session) onOpened() {
	s.mu.Lock()
	if s.state != StateCreating && s.state != StateAwaitingPairing {
		s.unlock()
		return
	}
	s.persist(store.Fields{Ready: store.Bool(true), PairingCode: store.String("")})
	s.pairingCode = ""
	s.transition(StateReady)
	s.unlock()
	s.resolve(nil)
}

func (s *Session) onCredentials(e provider.CredentialsUpdated) {
	if !e.Identity.Valid() {
		return
	}
	s.mu.Lock()
	if s.state == StateTerminated {
		s.unlock()
		return
	}
	s.persist(store.Fields{
		Name:        store.String(e.Identity.Name),
		PhoneID:     store.String(e.Identity.ID),
		Ready:       store.Bool(true),
		PairingCode: store.String(""),
	})
	s.name = e.Identity.Name
	s.phoneID = e.Identity.ID
	s.pairingCode = ""
	resolved := false
	if s.state == StateCreating || s.state == StateAwaitingPairing {
		resolved = s.transition(StateReady)
	}
	s.unlock()
	if resolved {
		s.resolve(nil)
	}
}

func (s *Session) onClosed(e provider.ConnectionClosed) {
	s.mu.Lock()
	log := zap.L().With(zap.String("client_id", s.id), zap.Stringer("reason", e.Reason), zap.Error(e.Err))
	switch s.state {
	case StateCreating:
		if e.Reason.Recoverable() {
			log.Warn("session: closed while creating, reconnecting")
			s.unlock()
			go s.reconnect()
			return
		}
		log.Warn("session: logged out while creating")
		s.transition(StateDisconnected)
		s.teardown()
		return
	case StateAwaitingPairing, StateReady:
		s.transition(StateDisconnected)
		s.persist(store.Fields{Ready: store.Bool(false)})
		if !e.Reason.Recoverable() {
			log.Warn("session: logged out")
			s.teardown()
			return
		}
		log.Warn("session: disconnected, reconnecting")
		s.transition(StateCreating)
		s.unlock()
		go s.reconnect()
	default:
		s.unlock()
	}
}

// teardown ends a logged out session from Disconnected. Called with s.mu
// held; it unlocks.
func (s *Session) teardown() {
	t := s.target()
	conn := s.conn
	s.transition(StateTerminated)
	s.cancel()
	s.unlock()

	s.reg.remove(s.id, s)
	if err := s.reg.store.Delete(context.Background(), s.id); err != nil {
		zap.L().Error("session: delete record failed", zap.String("client_id", s.id), zap.Error(err))
	}
	s.reg.notifier.SubmitDisconnected(t)
	if conn != nil {
		conn.Release()
	}
	s.resolve(nil)
}

func (s *Session) reconnect() {
	for {
		if s.ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		conn, state := s.conn, s.state
		s.mu.Unlock()
		if state == StateTerminated || conn == nil {
			return
		}
		err := conn.Connect(s.ctx, s.reg.sessionDir)
		if err == nil {
			return
		}
		zap.L().Warn("session: reconnect failed", zap.String("client_id", s.id), zap.Error(err))
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(reconnectPause):
		}
	}
}

func (s *Session) onMessages(e provider.MessageBatch) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.unlock()
		return
	}
	t, conn := s.target(), s.conn
	s.unlock()
	msgs := normalize.Messages(e.Messages, conn)
	zap.L().Debug("session: messages received", zap.String("client_id", s.id), zap.Int("count", len(msgs)))
	s.reg.notifier.Submit(t, msgs, nil)
}

func (s *Session) onStatuses(e provider.StatusBatch) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.unlock()
		return
	}
	t := s.target()
	s.unlock()
	acks := normalize.Acks(e.Updates)
	if len(acks) == 0 {
		return
	}
	s.reg.notifier.Submit(t, nil, acks)
}

// stop ends the session without touching the persisted record.
// With logout the device is unlinked first.
func (s *Session) stop(ctx context.Context, logout bool) {
	s.mu.Lock()
	conn := s.conn
	if s.state != StateTerminated {
		s.terminate()
	}
	s.cancel()
	s.unlock()
	s.resolve(nil)

	if conn == nil {
		return
	}
	if logout {
		if err := conn.Logout(ctx); err != nil {
			zap.L().Warn("session: logout failed", zap.String("client_id", s.id), zap.Error(err))
		}
	}
	conn.Release()
}
