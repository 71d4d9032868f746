package store

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/talkincode/whatshttp/internal/domain"
	bolt "go.etcd.io/bbolt"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var clientBucket = []byte("whatsapp_client")

// BoltStore keeps records in an embedded bbolt file, one JSON value per client.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database file.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(clientBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create bucket")
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getRecord(b *bolt.Bucket, id string) (*domain.WhatsappClient, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var rec domain.WhatsappClient
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "decode client %s", id)
	}
	return &rec, nil
}

func putRecord(b *bolt.Bucket, rec *domain.WhatsappClient) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "encode client %s", rec.ClientID)
	}
	return b.Put([]byte(rec.ClientID), data)
}

func (s *BoltStore) FindOrCreate(ctx context.Context, id string) (*domain.WhatsappClient, bool, error) {
	var (
		rec     *domain.WhatsappClient
		created bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(clientBucket)
		found, err := getRecord(b, id)
		if err == nil {
			rec = found
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		now := time.Now()
		rec = &domain.WhatsappClient{ClientID: id, CreatedAt: now, UpdatedAt: now}
		created = true
		return putRecord(b, rec)
	})
	if err != nil {
		return nil, false, err
	}
	return rec, created, nil
}

func (s *BoltStore) Find(ctx context.Context, id string) (*domain.WhatsappClient, error) {
	var rec *domain.WhatsappClient
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getRecord(tx.Bucket(clientBucket), id)
		return err
	})
	return rec, err
}

func (s *BoltStore) Update(ctx context.Context, id string, f Fields) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(clientBucket)
		rec, err := getRecord(b, id)
		if err != nil {
			return err
		}
		f.apply(rec)
		return putRecord(b, rec)
	})
}

func (s *BoltStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(clientBucket).Delete([]byte(id))
	})
}

func (s *BoltStore) list(keep func(*domain.WhatsappClient) bool) ([]domain.WhatsappClient, error) {
	var recs []domain.WhatsappClient
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(clientBucket).ForEach(func(k, v []byte) error {
			var rec domain.WhatsappClient
			if err := json.Unmarshal(v, &rec); err != nil {
				return errors.Wrapf(err, "decode client %s", k)
			}
			if keep(&rec) {
				recs = append(recs, rec)
			}
			return nil
		})
	})
	return recs, err
}

func (s *BoltStore) ListReady(ctx context.Context) ([]domain.WhatsappClient, error) {
	return s.list(func(rec *domain.WhatsappClient) bool { return rec.Ready })
}

func (s *BoltStore) List(ctx context.Context) ([]domain.WhatsappClient, error) {
	return s.list(func(*domain.WhatsappClient) bool { return true })
}
