package app

import (
	"context"

	"github.com/talkincode/whatshttp/internal/domain"
	"github.com/talkincode/whatshttp/internal/store"
	"go.uber.org/zap"
)

// checkPairingCodes clears the codes stored by a previous process. A code is
// only valid for the connection that produced it.
func (a *Application) checkPairingCodes() {
	ctx := context.Background()
	recs, err := a.store.List(ctx)
	if err != nil {
		zap.L().Error("failed to list clients", zap.Error(err))
		return
	}
	cleared := 0
	for _, rec := range recs {
		if rec.QrCode == "" {
			continue
		}
		if err := a.store.Update(ctx, rec.ClientID, store.Fields{PairingCode: store.String("")}); err != nil {
			zap.L().Error("failed to clear pairing code", zap.String("client_id", rec.ClientID), zap.Error(err))
			continue
		}
		cleared++
	}
	if cleared > 0 {
		zap.L().Info("cleared stale pairing codes", zap.Int("count", cleared))
	}
}

// DropAll drops the SQL tables.
func (a *Application) DropAll() {
	if a.gormDB == nil {
		return
	}
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

// InitDb recreates the SQL tables.
func (a *Application) InitDb() {
	if a.gormDB == nil {
		zap.S().Warnf("initdb: database type %s has no tables", a.appConfig.Database.Type)
		return
	}
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
	err := a.gormDB.Migrator().AutoMigrate(domain.Tables...)
	if err != nil {
		zap.S().Error(err)
	}
}
