package session

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/whatshttp/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReloadReadyTenants starts a session for every record marked ready.
// Failures are logged per tenant; the count of started sessions is returned.
func (r *Registry) ReloadReadyTenants(ctx context.Context) (int, error) {
	recs, err := r.store.ListReady(ctx)
	if err != nil {
		return 0, err
	}

	var started atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.reloadWorkers)
	for _, rec := range recs {
		id := rec.ClientID
		g.Go(func() error {
			if _, err := r.GetOrCreate(gctx, id, true); err != nil {
				zap.L().Warn("session: reload failed", zap.String("client_id", id), zap.Error(err))
				return nil
			}
			started.Add(1)
			return nil
		})
	}
	err = g.Wait()
	zap.L().Info("session: ready clients reloaded", zap.Int("total", len(recs)), zap.Int32("started", started.Load()))
	return int(started.Load()), err
}

// SweepOrphans deletes records that are not ready, have no live session and
// were last touched more than ttl ago. Their device directories are removed too.
func (r *Registry) SweepOrphans(ctx context.Context, ttl time.Duration) (int, error) {
	recs, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, rec := range recs {
		if rec.Ready || rec.UpdatedAt.After(cutoff) {
			continue
		}
		ok, err := r.sweep(ctx, rec.ClientID, cutoff)
		if err != nil {
			zap.L().Warn("session: orphan delete failed", zap.String("client_id", rec.ClientID), zap.Error(err))
			continue
		}
		if ok {
			removed++
		}
	}
	if removed > 0 {
		zap.L().Info("session: orphan records removed", zap.Int("count", removed))
	}
	return removed, nil
}

// sweep deletes one orphan while holding its registry slot, so a concurrent
// GetOrCreate waits for the delete and then starts from a clean record.
func (r *Registry) sweep(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	r.mu.Lock()
	if _, live := r.sessions[id]; live {
		r.mu.Unlock()
		return false, nil
	}
	claim := newSession(id, r)
	r.sessions[id] = claim
	r.mu.Unlock()

	defer func() {
		r.remove(id, claim)
		claim.cancel()
		claim.resolve(errSwept)
	}()

	rec, err := r.store.Find(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.Ready || rec.UpdatedAt.After(cutoff) {
		return false, nil
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return false, err
	}
	if r.sessionDir != "" {
		_ = os.RemoveAll(filepath.Join(r.sessionDir, id))
	}
	return true, nil
}
