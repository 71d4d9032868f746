package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/talkincode/whatshttp/config"
	"github.com/talkincode/whatshttp/internal/session"
	"github.com/talkincode/whatshttp/internal/store"
	"github.com/talkincode/whatshttp/internal/webhook"
	"gorm.io/gorm"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// StoreProvider provides the tenant record store
type StoreProvider interface {
	Store() store.Store
}

// RegistryProvider provides the live session registry and the webhook relay
type RegistryProvider interface {
	Registry() *session.Registry
	Dispatcher() *webhook.Dispatcher
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// AppContext combines all provider interfaces for full application context
// Handlers should depend on specific providers or this combined interface
type AppContext interface {
	DBProvider
	ConfigProvider
	StoreProvider
	RegistryProvider
	SchedulerProvider

	MigrateDB(track bool) error
	InitDb()
	DropAll()
	ReloadClients(ctx context.Context)
}
