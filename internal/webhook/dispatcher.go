// Package webhook relays normalized session events to tenant callback URLs.
package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/guonaihong/gout"
	jsoniter "github.com/json-iterator/go"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/talkincode/whatshttp/config"
	"github.com/talkincode/whatshttp/internal/domain"
	"github.com/talkincode/whatshttp/internal/normalize"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Target identifies where a tenant's events go.
type Target struct {
	TenantID    string
	DisplayName string
	WebhookURL  string
}

// Dispatcher posts payloads to tenant webhooks. Delivery is at most once:
// failures are logged and never retried.
type Dispatcher struct {
	client  *http.Client
	timeout time.Duration
	pool    *ants.Pool
	mirror  Mirror
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the client used for webhook calls.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithMirror publishes a copy of every delivered payload.
func WithMirror(m Mirror) Option {
	return func(d *Dispatcher) { d.mirror = m }
}

// NewDispatcher creates a dispatcher with a shared delivery worker pool.
func NewDispatcher(cfg config.WebhookConfig, opts ...Option) (*Dispatcher, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 64
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p interface{}) {
		zap.S().Errorf("webhook: delivery panic: %v", p)
	}))
	if err != nil {
		return nil, errors.Wrap(err, "create webhook pool")
	}
	d := &Dispatcher{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		pool:    pool,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Deliver sends one payload with the deliverable messages and all acks.
// It returns true when there was nothing to send or the endpoint answered 2xx.
func (d *Dispatcher) Deliver(ctx context.Context, t Target, msgs []domain.Message, acks []domain.Ack) bool {
	msgs = normalize.FilterDeliverable(msgs)
	if len(msgs) == 0 && len(acks) == 0 {
		return true
	}
	if t.WebhookURL == "" {
		zap.L().Info("webhook: no url configured, dropping batch",
			zap.String("client_id", t.TenantID),
			zap.Int("messages", len(msgs)),
			zap.Int("statuses", len(acks)))
		return true
	}
	return d.post(ctx, t, FieldMessages, BuildMessagesPayload(t, msgs, acks))
}

// NotifyDisconnected sends the disconnection notice.
func (d *Dispatcher) NotifyDisconnected(ctx context.Context, t Target) bool {
	if t.WebhookURL == "" {
		zap.L().Info("webhook: no url configured, dropping disconnect notice", zap.String("client_id", t.TenantID))
		return true
	}
	return d.post(ctx, t, FieldDisconnected, BuildDisconnectedPayload(t))
}

func (d *Dispatcher) post(ctx context.Context, t Target, field string, payload *Payload) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		zap.L().Error("webhook: encode payload failed", zap.String("client_id", t.TenantID), zap.Error(err))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var code int
	err = gout.New(d.client).
		POST(t.WebhookURL).
		WithContext(ctx).
		SetHeader(gout.H{"Content-Type": "application/json"}).
		SetBody(body).
		Code(&code).
		Do()

	if d.mirror != nil {
		if merr := d.mirror.Publish(ctx, field+"."+t.TenantID, body); merr != nil {
			zap.L().Warn("webhook: mirror publish failed", zap.String("client_id", t.TenantID), zap.Error(merr))
		}
	}

	if err != nil {
		zap.L().Warn("webhook: delivery failed",
			zap.String("client_id", t.TenantID),
			zap.String("url", t.WebhookURL),
			zap.Error(err))
		return false
	}
	if code < 200 || code > 299 {
		zap.L().Warn("webhook: endpoint rejected payload",
			zap.String("client_id", t.TenantID),
			zap.String("url", t.WebhookURL),
			zap.Int("status", code))
		return false
	}
	zap.L().Debug("webhook: delivered", zap.String("client_id", t.TenantID), zap.String("field", field))
	return true
}

// Submit queues a batch delivery on the worker pool.
func (d *Dispatcher) Submit(t Target, msgs []domain.Message, acks []domain.Ack) {
	d.submit(t, func(ctx context.Context) { d.Deliver(ctx, t, msgs, acks) })
}

// SubmitDisconnected queues a disconnection notice on the worker pool.
func (d *Dispatcher) SubmitDisconnected(t Target) {
	d.submit(t, func(ctx context.Context) { d.NotifyDisconnected(ctx, t) })
}

func (d *Dispatcher) submit(t Target, fn func(ctx context.Context)) {
	if err := d.pool.Submit(func() { fn(context.Background()) }); err != nil {
		zap.L().Warn("webhook: pool rejected delivery", zap.String("client_id", t.TenantID), zap.Error(err))
	}
}

// Running reports the number of deliveries in flight.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Close waits for queued deliveries up to timeout and releases resources.
func (d *Dispatcher) Close(timeout time.Duration) {
	if err := d.pool.ReleaseTimeout(timeout); err != nil {
		zap.L().Warn("webhook: pool release timed out", zap.Error(err))
	}
	if d.mirror != nil {
		_ = d.mirror.Close()
	}
}
