package normalize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/talkincode/whatshttp/internal/domain"
	"github.com/talkincode/whatshttp/internal/provider"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

type stubDownloader struct {
	data  []byte
	err   error
	calls int
}

func (s *stubDownloader) DownloadAudio(ctx context.Context, audio *waE2E.AudioMessage) ([]byte, error) {
	s.calls++
	return s.data, s.err
}

func inbound(msg *waE2E.Message) provider.InboundMessage {
	return provider.InboundMessage{
		ID:        "ABC",
		Chat:      "5511@s.whatsapp.net",
		Sender:    "5511@s.whatsapp.net",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600)),
		Message:   msg,
	}
}

func TestMessageKinds(t *testing.T) {
	cases := []struct {
		name string
		msg  *waE2E.Message
		kind domain.MessageKind
		body string
	}{
		{"conversation", &waE2E.Message{Conversation: proto.String("hi")}, domain.KindText, "hi"},
		{"extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("link")}}, domain.KindText, "link"},
		{"extended empty", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{}}, domain.KindError, ""},
		{"extended empty with conversation", &waE2E.Message{
			Conversation:        proto.String("plain"),
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("")},
		}, domain.KindText, "plain"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{Mimetype: proto.String("audio/ogg")}}, domain.KindAudio, ""},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}, domain.KindOther, "look"},
		{"group", &waE2E.Message{SenderKeyDistributionMessage: &waE2E.SenderKeyDistributionMessage{GroupID: proto.String("g")}}, domain.KindGroupNotification, ""},
		{"empty", &waE2E.Message{}, domain.KindError, ""},
		{"nil", nil, domain.KindError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Message(inbound(tc.msg), nil)
			if got.Kind != tc.kind {
				t.Errorf("Kind = %q, want %q", got.Kind, tc.kind)
			}
			if got.Body != tc.body {
				t.Errorf("Body = %q, want %q", got.Body, tc.body)
			}
			if got.Timestamp.Location() != time.UTC {
				t.Errorf("Timestamp location = %v, want UTC", got.Timestamp.Location())
			}
		})
	}
}

func TestMessageQuoteAndForward(t *testing.T) {
	msg := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text: proto.String("reply"),
		ContextInfo: &waE2E.ContextInfo{
			StanzaID:    proto.String("Q1"),
			Participant: proto.String("5522@s.whatsapp.net"),
			IsForwarded: proto.Bool(true),
		},
	}}
	got := Message(inbound(msg), nil)
	if got.QuotedMessageID != "Q1" || got.QuotedFrom != "5522@s.whatsapp.net" {
		t.Errorf("quote = (%q, %q), want (Q1, 5522@s.whatsapp.net)", got.QuotedMessageID, got.QuotedFrom)
	}
	if !got.IsForwarded {
		t.Error("IsForwarded = false, want true")
	}

	// a quote without a participant cannot be resolved
	msg.ExtendedTextMessage.ContextInfo.Participant = nil
	got = Message(inbound(msg), nil)
	if got.HasQuote() {
		t.Errorf("unresolvable quote kept: %q", got.QuotedMessageID)
	}
}

func TestMessageFromMeUsesSender(t *testing.T) {
	in := inbound(&waE2E.Message{Conversation: proto.String("x")})
	in.FromMe = true
	in.Chat = "5599@s.whatsapp.net"
	in.Sender = "5511@s.whatsapp.net"
	if got := Message(in, nil); got.From != "5511@s.whatsapp.net" {
		t.Errorf("From = %q, want own address", got.From)
	}
}

func TestDecodeAudio(t *testing.T) {
	dl := &stubDownloader{data: []byte("ogg")}
	audio := &waE2E.Message{AudioMessage: &waE2E.AudioMessage{Mimetype: proto.String("audio/ogg"), FileLength: proto.Uint64(3)}}
	m := Message(inbound(audio), dl)
	if dl.calls != 0 {
		t.Fatalf("audio downloaded eagerly")
	}
	media, err := m.DecodeAudio(context.Background())
	if err != nil {
		t.Fatalf("DecodeAudio: %v", err)
	}
	if media.Data != "b2dn" || media.Mimetype != "audio/ogg" || media.FileSize != 3 {
		t.Errorf("media = %+v", media)
	}

	text := Message(inbound(&waE2E.Message{Conversation: proto.String("hi")}), dl)
	media, err = text.DecodeAudio(context.Background())
	if err != nil || !media.IsEmpty() {
		t.Errorf("DecodeAudio on text = (%+v, %v), want empty, nil", media, err)
	}

	dl.err = errors.New("boom")
	if _, err := m.DecodeAudio(context.Background()); err == nil {
		t.Error("expected download error")
	}
}

func TestAckCollapse(t *testing.T) {
	cases := []struct {
		in   provider.Status
		want domain.AckStatus
	}{
		{provider.StatusError, domain.AckError},
		{provider.StatusPending, domain.AckPending},
		{provider.StatusServerAck, domain.AckDelivered},
		{provider.StatusDeliveryAck, domain.AckSent},
		{provider.StatusRead, domain.AckRead},
		{provider.StatusPlayed, domain.AckRead},
	}
	for _, tc := range cases {
		got, ok := AckStatus(tc.in)
		if !ok || got != tc.want {
			t.Errorf("AckStatus(%d) = (%q, %v), want %q", tc.in, got, ok, tc.want)
		}
	}
	if _, ok := AckStatus(0); ok {
		t.Error("unset status should not map")
	}
}

func TestAcksDropsUnset(t *testing.T) {
	now := time.Now()
	acks := Acks([]provider.StatusUpdate{
		{MessageID: "A", Chat: "5511@s.whatsapp.net", Status: provider.StatusRead, Timestamp: now},
		{MessageID: "B", Chat: "5511@s.whatsapp.net", Timestamp: now},
		{Chat: "5511@s.whatsapp.net", Status: provider.StatusRead, Timestamp: now},
	})
	if len(acks) != 1 {
		t.Fatalf("len(acks) = %d, want 1", len(acks))
	}
	if acks[0].RecipientID != "5511@s.whatsapp.net" || acks[0].Status != domain.AckRead {
		t.Errorf("ack = %+v", acks[0])
	}
}

func TestFilterDeliverable(t *testing.T) {
	msgs := []domain.Message{
		{ID: "1", From: "a", Kind: domain.KindText},
		{ID: "2", From: "a", Kind: domain.KindError},
		{ID: "3", From: "a", Kind: domain.KindGroupNotification},
		{ID: "4", From: "", Kind: domain.KindText},
		{ID: "5", From: "a", Kind: domain.KindAudio},
	}
	got := FilterDeliverable(msgs)
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("FilterDeliverable = %+v, want only id 1", got)
	}
}
