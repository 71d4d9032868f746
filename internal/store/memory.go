package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/talkincode/whatshttp/internal/domain"
)

// MemoryStore keeps records in process memory. Records do not survive a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]domain.WhatsappClient
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]domain.WhatsappClient)}
}

func (s *MemoryStore) FindOrCreate(ctx context.Context, id string) (*domain.WhatsappClient, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[id]; ok {
		return &rec, false, nil
	}
	now := time.Now()
	rec := domain.WhatsappClient{ClientID: id, CreatedAt: now, UpdatedAt: now}
	s.recs[id] = rec
	return &rec, true, nil
}

func (s *MemoryStore) Find(ctx context.Context, id string) (*domain.WhatsappClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, f Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	f.apply(&rec)
	s.recs[id] = rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.recs, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) list(keep func(domain.WhatsappClient) bool) []domain.WhatsappClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]domain.WhatsappClient, 0, len(s.recs))
	for _, rec := range s.recs {
		if keep(rec) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ClientID < recs[j].ClientID })
	return recs
}

func (s *MemoryStore) ListReady(ctx context.Context) ([]domain.WhatsappClient, error) {
	return s.list(func(rec domain.WhatsappClient) bool { return rec.Ready }), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]domain.WhatsappClient, error) {
	return s.list(func(domain.WhatsappClient) bool { return true }), nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*BoltStore)(nil)
	_ Store = (*GormStore)(nil)
)
