package app

import (
	"context"
	"testing"

	"github.com/talkincode/whatshttp/config"
	"github.com/talkincode/whatshttp/internal/provider"
	"github.com/talkincode/whatshttp/internal/provider/providertest"
	"github.com/talkincode/whatshttp/internal/store"
)

func testConfig(t *testing.T, dbType string) *config.AppConfig {
	t.Helper()
	cfg := config.DefaultAppConfig()
	cfg.System.Workdir = t.TempDir()
	cfg.Database.Type = dbType
	cfg.Whatsapp.TypingDelay = false
	return cfg
}

func newTestApp(t *testing.T, cfg *config.AppConfig) *Application {
	t.Helper()
	a := NewApplication(cfg)
	a.OverrideFactory((&providertest.Factory{}).New)
	if err := a.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return a
}

func TestInitStoreSelection(t *testing.T) {
	for _, dbType := range []string{"sqlite", "bolt", "memory"} {
		t.Run(dbType, func(t *testing.T) {
			a := newTestApp(t, testConfig(t, dbType))
			defer a.Release()

			if a.Store() == nil || a.Registry() == nil || a.Dispatcher() == nil {
				t.Fatal("Init left components unset")
			}
			if (a.DB() != nil) != (dbType == "sqlite") {
				t.Errorf("DB() set = %v for %s", a.DB() != nil, dbType)
			}
			if a.Scheduler() == nil || len(a.Scheduler().Entries()) != 2 {
				t.Errorf("expected 2 scheduled jobs")
			}
		})
	}
}

func TestInitUnsupportedDatabase(t *testing.T) {
	cfg := testConfig(t, "mongodb")
	a := NewApplication(cfg)
	if err := a.Init(cfg); err == nil {
		a.Release()
		t.Fatal("expected error for unsupported database type")
	}
}

func TestInitClearsStalePairingCodes(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	ctx := context.Background()

	first := newTestApp(t, cfg)
	if _, _, err := first.Store().FindOrCreate(ctx, "tenant-a"); err != nil {
		t.Fatal(err)
	}
	if err := first.Store().Update(ctx, "tenant-a", store.Fields{PairingCode: store.String("2@abc")}); err != nil {
		t.Fatal(err)
	}
	first.Release()

	second := newTestApp(t, cfg)
	defer second.Release()
	rec, err := second.Store().Find(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if rec.QrCode != "" {
		t.Errorf("QrCode = %q, want empty after restart", rec.QrCode)
	}
}

func TestReloadClients(t *testing.T) {
	cfg := testConfig(t, "memory")
	ctx := context.Background()
	factory := &providertest.Factory{
		Configure: func(c *providertest.Conn) {
			c.OnConnect = func(c *providertest.Conn) { c.Emit(provider.ConnectionOpened{}) }
		},
	}
	a := NewApplication(cfg)
	a.OverrideFactory(factory.New)
	if err := a.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer a.Release()

	if _, _, err := a.Store().FindOrCreate(ctx, "tenant-r"); err != nil {
		t.Fatal(err)
	}
	if err := a.Store().Update(ctx, "tenant-r", store.Fields{Ready: store.Bool(true)}); err != nil {
		t.Fatal(err)
	}

	a.ReloadClients(ctx)

	if _, ok := a.Registry().Get("tenant-r"); !ok {
		t.Fatal("ready client was not reloaded")
	}
	if got := factory.Created(); got != 1 {
		t.Errorf("connections created = %d, want 1", got)
	}
}
