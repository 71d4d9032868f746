package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talkincode/whatshttp/internal/domain"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	bs, err := OpenBoltStore(filepath.Join(dir, "clients.bolt"))
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	t.Cleanup(func() { _ = bs.Close() })

	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "clients.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	if err := db.AutoMigrate(domain.Tables...); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   bs,
		"gorm":   NewGormStore(db),
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := s.Find(ctx, "acme"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Find missing = %v, want ErrNotFound", err)
			}

			rec, created, err := s.FindOrCreate(ctx, "acme")
			if err != nil || !created {
				t.Fatalf("FindOrCreate = (%v, %v), want created", created, err)
			}
			if rec.ClientID != "acme" || rec.Ready {
				t.Errorf("new record = %+v", rec)
			}
			if _, created, _ = s.FindOrCreate(ctx, "acme"); created {
				t.Error("second FindOrCreate reported created")
			}

			err = s.Update(ctx, "acme", Fields{
				Ready:       Bool(true),
				Name:        String("Acme"),
				PairingCode: String(""),
				PhoneID:     String("5511@s.whatsapp.net"),
				WebhookURL:  String("http://hook"),
			})
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			rec, err = s.Find(ctx, "acme")
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			if !rec.Ready || rec.Name != "Acme" || rec.PhoneID != "5511@s.whatsapp.net" || rec.WebHook != "http://hook" {
				t.Errorf("updated record = %+v", rec)
			}

			// partial update keeps other fields
			if err := s.Update(ctx, "acme", Fields{PairingCode: String("2@abc")}); err != nil {
				t.Fatalf("Update code: %v", err)
			}
			rec, _ = s.Find(ctx, "acme")
			if rec.QrCode != "2@abc" || rec.Name != "Acme" || !rec.Ready {
				t.Errorf("after partial update = %+v", rec)
			}

			if err := s.Update(ctx, "ghost", Fields{Ready: Bool(true)}); !errors.Is(err, ErrNotFound) {
				t.Errorf("Update missing = %v, want ErrNotFound", err)
			}

			if _, _, err := s.FindOrCreate(ctx, "beta"); err != nil {
				t.Fatal(err)
			}
			all, err := s.List(ctx)
			if err != nil || len(all) != 2 {
				t.Fatalf("List = (%d, %v), want 2", len(all), err)
			}
			ready, err := s.ListReady(ctx)
			if err != nil || len(ready) != 1 || ready[0].ClientID != "acme" {
				t.Fatalf("ListReady = (%+v, %v)", ready, err)
			}

			if err := s.Delete(ctx, "acme"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete(ctx, "acme"); err != nil {
				t.Errorf("second Delete: %v", err)
			}
			if _, err := s.Find(ctx, "acme"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Find after delete = %v", err)
			}
		})
	}
}
