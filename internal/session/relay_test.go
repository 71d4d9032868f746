package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/talkincode/whatshttp/config"
	"github.com/talkincode/whatshttp/internal/provider"
	"github.com/talkincode/whatshttp/internal/provider/providertest"
	"github.com/talkincode/whatshttp/internal/store"
	"github.com/talkincode/whatshttp/internal/webhook"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

func TestInboundTextReachesWebhook(t *testing.T) {
	bodies := make(chan []byte, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- b
	}))
	defer srv.Close()

	d, err := webhook.NewDispatcher(config.WebhookConfig{Timeout: 2 * time.Second, Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close(time.Second)

	st := store.NewMemoryStore()
	factory := &providertest.Factory{Configure: emitOpened}
	reg := NewRegistry(st, factory.New, d, Options{SessionDir: t.TempDir()})
	defer reg.Shutdown(context.Background())

	ctx := context.Background()
	s, err := reg.GetOrCreate(ctx, "acme", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetWebhook(ctx, srv.URL); err != nil {
		t.Fatal(err)
	}

	factory.Last("acme").Emit(provider.MessageBatch{Messages: []provider.InboundMessage{{
		ID:        "M1",
		Chat:      "5511@s.whatsapp.net",
		Timestamp: time.Now(),
		Message:   &waE2E.Message{Conversation: proto.String("hi")},
	}}})

	var body []byte
	select {
	case body = <-bodies:
	case <-time.After(3 * time.Second):
		t.Fatal("webhook not called")
	}

	var payload struct {
		Entry []struct {
			Changes []struct {
				Value webhook.MessagesValue `json:"value"`
			} `json:"changes"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatal(err)
	}
	v := payload.Entry[0].Changes[0].Value
	if len(v.Messages) != 1 || v.Messages[0].Text.Body != "hi" {
		t.Errorf("messages = %+v", v.Messages)
	}
	if len(v.Statuses) != 0 {
		t.Errorf("statuses = %+v, want empty", v.Statuses)
	}

	select {
	case extra := <-bodies:
		t.Errorf("unexpected second POST: %s", extra)
	case <-time.After(100 * time.Millisecond):
	}
}
