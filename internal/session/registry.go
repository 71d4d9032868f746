// Package session keeps one live provider connection per tenant and drives
// each through its lifecycle.
package session

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"github.com/talkincode/whatshttp/internal/domain"
	"github.com/talkincode/whatshttp/internal/provider"
	"github.com/talkincode/whatshttp/internal/store"
	"github.com/talkincode/whatshttp/internal/webhook"
	"go.uber.org/zap"
)

var (
	ErrNotFound          = errors.New("session: client not found")
	ErrNotReady          = errors.New("session: client not ready")
	ErrConnectionFailure = errors.New("session: connection failure")
	ErrInvalidClientID   = errors.New("session: invalid client id")

	// errSwept is resolved on a claim held by the orphan sweep; waiters retry.
	errSwept = errors.New("session: record swept")
)

// createError reports a failed creation. It matches ErrConnectionFailure and
// unwraps to the cause.
type createError struct {
	cause error
}

func (e *createError) Error() string {
	return ErrConnectionFailure.Error() + ": " + e.cause.Error()
}

func (e *createError) Unwrap() error { return e.cause }

func (e *createError) Is(target error) bool { return target == ErrConnectionFailure }

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@-]{0,127}$`)

// ValidClientID reports whether id can name a tenant. Ids are also used as
// directory names under the session directory.
func ValidClientID(id string) bool {
	return clientIDPattern.MatchString(id) && !strings.Contains(id, "..")
}

// TopicState is published on every state change with (id string, from, to State).
const TopicState = "session:state"

// Notifier delivers tenant events. webhook.Dispatcher implements it.
type Notifier interface {
	Submit(t webhook.Target, msgs []domain.Message, acks []domain.Ack)
	SubmitDisconnected(t webhook.Target)
}

// Options tune a Registry.
type Options struct {
	SessionDir    string
	TypingDelay   bool
	ReloadWorkers int
	Bus           EventBus.Bus
}

// Registry maps tenant ids to live sessions. At most one live session exists per id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store         store.Store
	factory       provider.Factory
	notifier      Notifier
	bus           EventBus.Bus
	sessionDir    string
	typingDelay   bool
	reloadWorkers int
	sleep         func(ctx context.Context, d time.Duration) error
}

func NewRegistry(st store.Store, factory provider.Factory, notifier Notifier, opts Options) *Registry {
	bus := opts.Bus
	if bus == nil {
		bus = EventBus.New()
	}
	workers := opts.ReloadWorkers
	if workers <= 0 {
		workers = 8
	}
	return &Registry{
		sessions:      make(map[string]*Session),
		store:         st,
		factory:       factory,
		notifier:      notifier,
		bus:           bus,
		sessionDir:    opts.SessionDir,
		typingDelay:   opts.TypingDelay,
		reloadWorkers: workers,
		sleep:         sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Bus exposes the state change bus for observers.
func (r *Registry) Bus() EventBus.Bus {
	return r.bus
}

// Get returns the live session for id, if any.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetOrCreate returns the live session for id, starting one when needed.
// Without allowCreate only tenants with a ready record are started, and a
// session that is not Ready yields ErrNotFound.
func (r *Registry) GetOrCreate(ctx context.Context, id string, allowCreate bool) (*Session, error) {
	if !ValidClientID(id) {
		return nil, ErrInvalidClientID
	}
	for {
		s, err := r.getOrCreate(ctx, id, allowCreate)
		if errors.Is(err, errSwept) {
			continue
		}
		return s, err
	}
}

// join returns the live session for id. Callers allowed to create are
// counted so a failed resume does not stop a session they are waiting on.
func (r *Registry) join(id string, allowCreate bool) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok && allowCreate {
		s.creators++
	}
	return s, ok
}

func (r *Registry) getOrCreate(ctx context.Context, id string, allowCreate bool) (*Session, error) {
	if s, ok := r.join(id, allowCreate); ok {
		return r.await(ctx, s, allowCreate)
	}

	if !allowCreate {
		rec, err := r.store.Find(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if !rec.Ready {
			return nil, ErrNotFound
		}
	}

	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		if allowCreate {
			s.creators++
		}
		r.mu.Unlock()
		return r.await(ctx, s, allowCreate)
	}
	s := newSession(id, r)
	if allowCreate {
		s.creators++
	}
	r.sessions[id] = s
	r.mu.Unlock()

	if err := r.start(ctx, s); err != nil {
		return nil, err
	}
	got, err := r.await(ctx, s, allowCreate)
	if errors.Is(err, ErrNotFound) && !allowCreate && s.State() != StateTerminated && r.abandon(id, s) {
		// the stored credentials no longer open a session
		zap.L().Warn("session: ready client failed to resume", zap.String("client_id", id), zap.Stringer("state", s.State()))
		s.persist(store.Fields{Ready: store.Bool(false)})
		s.stop(context.Background(), false)
	}
	return got, err
}

// abandon drops a resumed session nobody is allowed to keep. It reports false
// when a creating caller joined in the meantime.
func (r *Registry) abandon(id string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.creators > 0 || r.sessions[id] != s {
		return false
	}
	delete(r.sessions, id)
	return true
}

func (r *Registry) await(ctx context.Context, s *Session, allowCreate bool) (*Session, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	st := s.State()
	if st == StateTerminated {
		return nil, ErrNotFound
	}
	if !allowCreate && st != StateReady {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *Registry) start(ctx context.Context, s *Session) error {
	rec, created, err := r.store.FindOrCreate(ctx, s.id)
	if err != nil {
		return r.rollback(ctx, s, false, err)
	}

	conn := r.factory(s.id)
	s.mu.Lock()
	if s.state == StateTerminated {
		// deleted while the record was loading
		s.unlock()
		conn.Release()
		if created {
			if err := r.store.Delete(context.WithoutCancel(ctx), s.id); err != nil {
				zap.L().Error("session: delete record failed", zap.String("client_id", s.id), zap.Error(err))
			}
		}
		s.resolve(nil)
		return ErrNotFound
	}
	s.name = rec.Name
	s.phoneID = rec.PhoneID
	s.webhookURL = rec.WebHook
	s.conn = conn
	s.unlock()

	if err := conn.SetEventHandler(s.handle); err != nil {
		return r.rollback(ctx, s, created, err)
	}
	zap.L().Info("session: connecting", zap.String("client_id", s.id), zap.Bool("new_client", created))
	if err := conn.Connect(s.ctx, r.sessionDir); err != nil {
		if s.State() == StateTerminated {
			s.resolve(nil)
			return ErrNotFound
		}
		return r.rollback(ctx, s, created, err)
	}
	return nil
}

// rollback undoes a failed creation so a later attempt starts clean.
func (r *Registry) rollback(ctx context.Context, s *Session, created bool, cause error) error {
	zap.L().Error("session: create failed", zap.String("client_id", s.id), zap.Error(cause))

	// the registry entry stays claimed until the record is consistent again
	rctx := context.WithoutCancel(ctx)
	if created {
		if err := r.store.Delete(rctx, s.id); err != nil {
			zap.L().Error("session: rollback delete failed", zap.String("client_id", s.id), zap.Error(err))
		}
	} else if err := r.store.Update(rctx, s.id, store.Fields{Ready: store.Bool(false)}); err != nil && !errors.Is(err, store.ErrNotFound) {
		zap.L().Error("session: rollback update failed", zap.String("client_id", s.id), zap.Error(err))
	}

	err := &createError{cause: cause}
	r.remove(s.id, s)
	s.resolve(err)
	s.stop(rctx, false)
	return err
}

// remove drops the entry for id when it still points at s.
func (r *Registry) remove(id string, s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[id]; ok && cur == s {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
}

// Delete logs the tenant out, releases its connection and deletes the record.
// Deleting an unknown tenant is not an error.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.stop(ctx, true)
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	zap.L().Info("session: client deleted", zap.String("client_id", id), zap.Bool("was_live", ok))
	return nil
}

// Info is a point in time view of a live session.
type Info struct {
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
	State    State  `json:"state"`
}

// Snapshot lists the live sessions ordered by id.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(list))
	for _, s := range list {
		s.mu.Lock()
		out = append(out, Info{ClientID: s.id, Name: s.name, State: s.state})
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// Shutdown releases every live connection. Records are kept so ready tenants
// resume on the next start.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		list = append(list, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range list {
		s.stop(ctx, false)
	}
	zap.L().Info("session: registry shut down", zap.Int("sessions", len(list)))
}
