package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/talkincode/whatshttp/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps records in a SQL database through gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FindOrCreate(ctx context.Context, id string) (*domain.WhatsappClient, bool, error) {
	rec := &domain.WhatsappClient{ClientID: id}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return nil, false, errors.Wrapf(res.Error, "create client %s", id)
	}
	if res.RowsAffected == 1 {
		return rec, true, nil
	}
	found, err := s.Find(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return found, false, nil
}

func (s *GormStore) Find(ctx context.Context, id string) (*domain.WhatsappClient, error) {
	var rec domain.WhatsappClient
	err := s.db.WithContext(ctx).Where("client_id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find client %s", id)
	}
	return &rec, nil
}

func (s *GormStore) Update(ctx context.Context, id string, f Fields) error {
	res := s.db.WithContext(ctx).Model(&domain.WhatsappClient{}).
		Where("client_id = ?", id).
		Updates(f.columns())
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update client %s", id)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Where("client_id = ?", id).Delete(&domain.WhatsappClient{}).Error
	return errors.Wrapf(err, "delete client %s", id)
}

func (s *GormStore) ListReady(ctx context.Context) ([]domain.WhatsappClient, error) {
	var recs []domain.WhatsappClient
	err := s.db.WithContext(ctx).Where("ready = ?", true).Order("client_id").Find(&recs).Error
	return recs, errors.Wrap(err, "list ready clients")
}

func (s *GormStore) List(ctx context.Context) ([]domain.WhatsappClient, error) {
	var recs []domain.WhatsappClient
	err := s.db.WithContext(ctx).Order("client_id").Find(&recs).Error
	return recs, errors.Wrap(err, "list clients")
}
