package adminapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/talkincode/whatshttp/config"
	"github.com/talkincode/whatshttp/internal/app"
	"github.com/talkincode/whatshttp/internal/provider"
	"github.com/talkincode/whatshttp/internal/provider/providertest"
	"github.com/talkincode/whatshttp/internal/session"
	"github.com/talkincode/whatshttp/internal/store"
	"github.com/talkincode/whatshttp/internal/webserver"
)

func emitPairing(c *providertest.Conn) {
	c.OnConnect = func(c *providertest.Conn) { c.Emit(provider.PairingCode{Code: "2@pairing-code"}) }
}

func emitOpened(c *providertest.Conn) {
	c.OnConnect = func(c *providertest.Conn) { c.Emit(provider.ConnectionOpened{}) }
}

type harness struct {
	t       *testing.T
	app     *app.Application
	factory *providertest.Factory
}

func newHarness(t *testing.T, configure func(*providertest.Conn)) *harness {
	t.Helper()
	cfg := config.DefaultAppConfig()
	cfg.System.Workdir = t.TempDir()
	cfg.Database.Type = "memory"
	cfg.Whatsapp.TypingDelay = false

	factory := &providertest.Factory{Configure: configure}
	a := app.NewApplication(cfg)
	a.OverrideFactory(factory.New)
	if err := a.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(a.Release)

	webserver.Init(cfg, a)
	Init()
	return &harness{t: t, app: a, factory: factory}
}

func (h *harness) do(method, target, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	webserver.Echo().ServeHTTP(rec, req)
	return rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPairingCodePage(t *testing.T) {
	h := newHarness(t, emitPairing)

	rec := h.do(http.MethodGet, "/api/auth/qrCode?clientId=tenant-1&webHook=http://hooks.local/wa", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `<img src="data:image/png;base64,`) {
		t.Errorf("body = %q, want an inline png", rec.Body.String())
	}

	stored, err := h.app.Store().Find(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if stored.WebHook != "http://hooks.local/wa" {
		t.Errorf("WebHook = %q", stored.WebHook)
	}
	if stored.QrCode != "2@pairing-code" {
		t.Errorf("QrCode = %q", stored.QrCode)
	}
}

func TestPairingCodeAlreadyReady(t *testing.T) {
	h := newHarness(t, emitOpened)

	rec := h.do(http.MethodGet, "/api/auth/qrCode?clientId=tenant-2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "Client ready from cache, you dont need a qrcode" {
		t.Errorf("body = %q", got)
	}
}

func TestPairingCodeGeneratesClientID(t *testing.T) {
	h := newHarness(t, emitPairing)

	rec := h.do(http.MethodGet, "/api/auth/qrCode", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	recs, err := h.app.Store().List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if !session.ValidClientID(recs[0].ClientID) {
		t.Errorf("generated id %q is not a valid client id", recs[0].ClientID)
	}
}

func TestPairingCodeInvalidClientID(t *testing.T) {
	h := newHarness(t, emitPairing)

	rec := h.do(http.MethodGet, "/api/auth/qrCode?clientId=../etc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if h.factory.Created() != 0 {
		t.Errorf("connections created = %d, want 0", h.factory.Created())
	}
}

func TestGetClient(t *testing.T) {
	h := newHarness(t, emitOpened)

	rec := h.do(http.MethodGet, "/api/auth?clientId=missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown client status = %d, want 404", rec.Code)
	}

	h.do(http.MethodGet, "/api/auth/qrCode?clientId=tenant-3", "")
	rec = h.do(http.MethodGet, "/api/auth?clientId=tenant-3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]interface{}
	if err := jsoniter.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["clientId"] != "tenant-3" || got["ready"] != true {
		t.Errorf("client = %v", got)
	}
	if v, ok := got["qr"]; !ok || v != nil {
		t.Errorf("qr = %v, want null", v)
	}
	if v, ok := got["webHook"]; !ok || v != nil {
		t.Errorf("webHook = %v, want null", v)
	}
}

func TestDeleteClient(t *testing.T) {
	h := newHarness(t, emitOpened)
	h.do(http.MethodGet, "/api/auth/qrCode?clientId=tenant-4", "")

	rec := h.do(http.MethodDelete, "/api/auth?clientId=tenant-4", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if conn := h.factory.Last("tenant-4"); conn.Logouts() != 1 {
		t.Errorf("Logouts = %d, want 1", conn.Logouts())
	}
	if _, ok := h.app.Registry().Get("tenant-4"); ok {
		t.Error("session still registered")
	}
	if _, err := h.app.Store().Find(context.Background(), "tenant-4"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Find err = %v, want ErrNotFound", err)
	}

	// deleting again is fine
	if rec := h.do(http.MethodDelete, "/api/auth?clientId=tenant-4", ""); rec.Code != http.StatusOK {
		t.Errorf("second delete status = %d", rec.Code)
	}
}

func TestPostChatMessage(t *testing.T) {
	h := newHarness(t, emitOpened)
	h.do(http.MethodGet, "/api/auth/qrCode?clientId=tenant-5", "")

	rec := h.do(http.MethodPost, "/api/message/chat/5511999990000?clientId=tenant-5", `{"message":"hello"}`)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
	rec = h.do(http.MethodPost, "/api/message/chat/team?clientId=tenant-5&group=true", `{"message":"hi all"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("group status = %d", rec.Code)
	}

	conn := h.factory.Last("tenant-5")
	waitFor(t, "both sends", func() bool { return len(conn.Sent()) == 2 })
	want := map[string]string{
		"5511999990000@s.whatsapp.net": "hello",
		"team@g.us":                    "hi all",
	}
	for _, m := range conn.Sent() {
		if want[m.JID] != m.Text {
			t.Errorf("sent %q to %q", m.Text, m.JID)
		}
	}
}

func TestPostChatMessageErrors(t *testing.T) {
	h := newHarness(t, emitPairing)

	rec := h.do(http.MethodPost, "/api/message/chat/123?clientId=nobody", `{"message":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown client status = %d, want 404", rec.Code)
	}

	// pairing has started but the client is not ready
	h.do(http.MethodGet, "/api/auth/qrCode?clientId=tenant-6", "")
	rec = h.do(http.MethodPost, "/api/message/chat/123?clientId=tenant-6", `{"message":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("not ready status = %d, want 400", rec.Code)
	}
}

func TestNormalizeChatID(t *testing.T) {
	tests := []struct {
		in    string
		group bool
		want  string
	}{
		{"123", false, "123@c.us"},
		{"123", true, "123@g.us"},
		{"123@c.us", true, "123@c.us"},
		{"abc@g.us", false, "abc@g.us"},
	}
	for _, tt := range tests {
		if got := normalizeChatID(tt.in, tt.group); got != tt.want {
			t.Errorf("normalizeChatID(%q, %v) = %q, want %q", tt.in, tt.group, got, tt.want)
		}
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, emitOpened)
	h.do(http.MethodGet, "/api/auth/qrCode?clientId=tenant-b", "")
	h.do(http.MethodGet, "/api/auth/qrCode?clientId=tenant-a", "")

	rec := h.do(http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Sessions []struct {
			ClientID string `json:"clientId"`
			State    string `json:"state"`
		} `json:"sessions"`
	}
	if err := jsoniter.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(got.Sessions))
	}
	if got.Sessions[0].ClientID != "tenant-a" || got.Sessions[0].State != "ready" {
		t.Errorf("sessions[0] = %+v", got.Sessions[0])
	}
}
