// Package store persists tenant session records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/talkincode/whatshttp/internal/domain"
)

// ErrNotFound is returned when no record exists for a client id.
var ErrNotFound = errors.New("store: record not found")

// Fields is a partial update. Nil fields are left untouched.
type Fields struct {
	Ready       *bool
	Name        *string
	PairingCode *string
	PhoneID     *string
	WebhookURL  *string
}

// Store is the persistence contract used by the session registry.
type Store interface {
	// FindOrCreate returns the record for id, creating it when missing.
	// created reports whether this call inserted it.
	FindOrCreate(ctx context.Context, id string) (rec *domain.WhatsappClient, created bool, err error)
	Find(ctx context.Context, id string) (*domain.WhatsappClient, error)
	Update(ctx context.Context, id string, f Fields) error
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
	ListReady(ctx context.Context) ([]domain.WhatsappClient, error)
	List(ctx context.Context) ([]domain.WhatsappClient, error)
}

func Bool(v bool) *bool       { return &v }
func String(v string) *string { return &v }

// apply copies the set fields onto rec.
func (f Fields) apply(rec *domain.WhatsappClient) {
	if f.Ready != nil {
		rec.Ready = *f.Ready
	}
	if f.Name != nil {
		rec.Name = *f.Name
	}
	if f.PairingCode != nil {
		rec.QrCode = *f.PairingCode
	}
	if f.PhoneID != nil {
		rec.PhoneID = *f.PhoneID
	}
	if f.WebhookURL != nil {
		rec.WebHook = *f.WebhookURL
	}
	rec.UpdatedAt = time.Now()
}

// columns renders the set fields as a gorm update map.
func (f Fields) columns() map[string]interface{} {
	cols := map[string]interface{}{"updated_at": time.Now()}
	if f.Ready != nil {
		cols["ready"] = *f.Ready
	}
	if f.Name != nil {
		cols["name"] = *f.Name
	}
	if f.PairingCode != nil {
		cols["qr_code"] = *f.PairingCode
	}
	if f.PhoneID != nil {
		cols["phone_id"] = *f.PhoneID
	}
	if f.WebhookURL != nil {
		cols["web_hook"] = *f.WebhookURL
	}
	return cols
}
