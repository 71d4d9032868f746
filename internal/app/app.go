package app

import (
	"context"
	"os"
	"path"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/talkincode/whatshttp/config"
	"github.com/talkincode/whatshttp/internal/domain"
	"github.com/talkincode/whatshttp/internal/provider"
	"github.com/talkincode/whatshttp/internal/session"
	"github.com/talkincode/whatshttp/internal/store"
	"github.com/talkincode/whatshttp/internal/webhook"
	"github.com/talkincode/whatshttp/internal/whatsapp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

const (
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 5 * time.Second
)

type Application struct {
	appConfig  *config.AppConfig
	gormDB     *gorm.DB
	boltStore  *store.BoltStore
	store      store.Store
	factory    provider.Factory
	dispatcher *webhook.Dispatcher
	registry   *session.Registry
	sched      *cron.Cron
}

// Ensure Application implements all interfaces
var (
	_ DBProvider        = (*Application)(nil)
	_ ConfigProvider    = (*Application)(nil)
	_ StoreProvider     = (*Application)(nil)
	_ RegistryProvider  = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ AppContext        = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

// DB returns the SQL handle. It is nil for the bolt and memory stores.
func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

func (a *Application) Store() store.Store {
	return a.store
}

func (a *Application) Registry() *session.Registry {
	return a.registry
}

func (a *Application) Dispatcher() *webhook.Dispatcher {
	return a.dispatcher
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

// OverrideFactory replaces the provider connection factory (used in tests).
// It must be called before Init.
func (a *Application) OverrideFactory(f provider.Factory) {
	a.factory = f
}

func (a *Application) Init(cfg *config.AppConfig) error {
	a.appConfig = cfg
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	initLogger(cfg.Logger)

	if err := cfg.InitDirs(); err != nil {
		return err
	}

	if err := a.openStore(cfg); err != nil {
		return err
	}
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	// clear pairing codes left over from the previous run
	a.checkPairingCodes()

	var opts []webhook.Option
	if cfg.Webhook.AmqpURL != "" {
		mirror, err := webhook.NewAmqpMirror(cfg.Webhook.AmqpURL, cfg.Webhook.AmqpExchange)
		if err != nil {
			// the mirror is optional, webhooks still go out without it
			zap.L().Error("app: amqp mirror disabled", zap.Error(err))
		} else {
			opts = append(opts, webhook.WithMirror(mirror))
		}
	}
	a.dispatcher, err = webhook.NewDispatcher(cfg.Webhook, opts...)
	if err != nil {
		return err
	}

	if a.factory == nil {
		a.factory = whatsapp.NewFactory(cfg.Whatsapp.Debug)
	}
	a.registry = session.NewRegistry(a.store, a.factory, a.dispatcher, session.Options{
		SessionDir:    cfg.GetSessionDir(),
		TypingDelay:   cfg.Whatsapp.TypingDelay,
		ReloadWorkers: cfg.Whatsapp.ReloadWorkers,
	})
	if err := a.registry.Bus().Subscribe(session.TopicState, onStateChange); err != nil {
		zap.L().Error("app: subscribe state changes", zap.Error(err))
	}

	a.initJob()
	return nil
}

func initLogger(cfg config.LogConfig) {
	var zapConfig zap.Config
	if cfg.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stdout"}

	var logger *zap.Logger
	if cfg.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller())
	} else {
		var err error
		logger, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			panic(err)
		}
	}

	zap.ReplaceGlobals(logger)
}

// openStore selects the tenant record backend by database.type.
func (a *Application) openStore(cfg *config.AppConfig) error {
	switch cfg.Database.Type {
	case "", "postgres", "sqlite":
		if cfg.Database.Type == "" {
			cfg.Database.Type = "sqlite"
		}
		db, err := getDatabase(cfg.Database, cfg.GetDataDir())
		if err != nil {
			return err
		}
		a.gormDB = db
		if err := a.MigrateDB(cfg.Database.Debug); err != nil {
			return err
		}
		a.store = store.NewGormStore(db)
	case "bolt":
		bs, err := store.OpenBoltStore(path.Join(cfg.GetDataDir(), "whatshttp.bolt"))
		if err != nil {
			return err
		}
		a.boltStore = bs
		a.store = bs
	case "memory":
		a.store = store.NewMemoryStore()
	default:
		return errors.Errorf("unsupported database type %q", cfg.Database.Type)
	}
	return nil
}

func (a *Application) MigrateDB(track bool) (err error) {
	if a.gormDB == nil {
		return nil
	}
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			if err2, ok := err1.(error); ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	db := a.gormDB
	if track {
		db = db.Debug()
	}
	if err := db.Migrator().AutoMigrate(domain.Tables...); err != nil {
		return errors.Wrap(err, "migrate tables")
	}
	return nil
}

// ReloadClients resumes every tenant whose record is marked ready.
func (a *Application) ReloadClients(ctx context.Context) {
	n, err := a.registry.ReloadReadyTenants(ctx)
	if err != nil {
		zap.L().Error("app: reload clients", zap.Error(err))
		return
	}
	zap.L().Info("app: clients reloaded", zap.Int("started", n))
}

func onStateChange(id string, from, to session.State) {
	if to == session.StateTerminated {
		zap.L().Info("app: client terminated", zap.String("client_id", id), zap.Stringer("from", from))
	}
}

// Release releases application resources. Live connections are closed
// without logging out so ready tenants resume on the next start.
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}

	if a.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		a.registry.Shutdown(ctx)
		cancel()
	}

	if a.dispatcher != nil {
		a.dispatcher.Close(drainTimeout)
	}

	if a.boltStore != nil {
		if err := a.boltStore.Close(); err != nil {
			zap.L().Error("app: close bolt store", zap.Error(err))
		}
	}

	if a.gormDB != nil {
		if sqlDB, err := a.gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	_ = zap.L().Sync()
}
