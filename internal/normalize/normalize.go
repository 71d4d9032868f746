// Package normalize maps raw provider payloads onto the canonical domain types.
package normalize

import (
	"context"
	"encoding/base64"

	"github.com/pkg/errors"
	"github.com/talkincode/whatshttp/internal/domain"
	"github.com/talkincode/whatshttp/internal/provider"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
)

// AudioDownloader fetches encrypted audio payloads. provider.Connection satisfies it.
type AudioDownloader interface {
	DownloadAudio(ctx context.Context, audio *waE2E.AudioMessage) ([]byte, error)
}

// Message converts an inbound provider message. A payload with no text, audio
// or image content becomes a KindError placeholder.
func Message(in provider.InboundMessage, dl AudioDownloader) domain.Message {
	out := domain.Message{
		ID:        in.ID,
		From:      in.Chat,
		FromMe:    in.FromMe,
		Timestamp: in.Timestamp.UTC(),
	}
	if in.FromMe && in.Sender != "" {
		out.From = in.Sender
	}

	msg := in.Message
	if msg == nil {
		out.Kind = domain.KindError
		return out
	}

	ext := msg.GetExtendedTextMessage()
	audio := msg.GetAudioMessage()
	image := msg.GetImageMessage()

	switch {
	case ext.GetText() != "":
		out.Body = ext.GetText()
		out.Kind = domain.KindText
		applyContext(&out, ext.GetContextInfo())
	case msg.Conversation != nil:
		out.Body = msg.GetConversation()
		out.Kind = domain.KindText
	case audio != nil:
		out.Kind = domain.KindAudio
		applyContext(&out, audio.GetContextInfo())
		out.SetMediaResolver(audioResolver(audio, dl))
	case image != nil:
		out.Body = image.GetCaption()
		out.Kind = domain.KindOther
		applyContext(&out, image.GetContextInfo())
	case msg.GetSenderKeyDistributionMessage() != nil:
		out.Kind = domain.KindGroupNotification
	default:
		out.Kind = domain.KindError
	}
	return out
}

func applyContext(out *domain.Message, ci *waE2E.ContextInfo) {
	if ci == nil {
		return
	}
	out.IsForwarded = ci.GetIsForwarded()
	// quotes without both parts cannot be resolved and are dropped
	if id, from := ci.GetStanzaID(), ci.GetParticipant(); id != "" && from != "" {
		out.QuotedMessageID = id
		out.QuotedFrom = from
	}
}

func audioResolver(audio *waE2E.AudioMessage, dl AudioDownloader) domain.MediaResolver {
	return func(ctx context.Context) (domain.Media, error) {
		if dl == nil {
			return domain.Media{}, nil
		}
		data, err := dl.DownloadAudio(ctx, audio)
		if err != nil {
			return domain.Media{}, errors.Wrap(err, "download audio")
		}
		return domain.Media{
			Data:     base64.StdEncoding.EncodeToString(data),
			Mimetype: audio.GetMimetype(),
			FileSize: audio.GetFileLength(),
		}, nil
	}
}

// Messages converts a batch, keeping order.
func Messages(batch []provider.InboundMessage, dl AudioDownloader) []domain.Message {
	out := make([]domain.Message, 0, len(batch))
	for _, in := range batch {
		out = append(out, Message(in, dl))
	}
	return out
}

// Deliverable reports whether a message belongs in a webhook batch.
// Only plain text with a known sender is relayed.
func Deliverable(m domain.Message) bool {
	return m.Kind == domain.KindText && m.From != ""
}

// FilterDeliverable keeps the deliverable messages of a batch.
func FilterDeliverable(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if Deliverable(m) {
			out = append(out, m)
		}
	}
	return out
}

var statusMap = map[provider.Status]domain.AckStatus{
	provider.StatusError:       domain.AckError,
	provider.StatusPending:     domain.AckPending,
	provider.StatusServerAck:   domain.AckDelivered,
	provider.StatusDeliveryAck: domain.AckSent,
	provider.StatusRead:        domain.AckRead,
	provider.StatusPlayed:      domain.AckRead,
}

// AckStatus collapses a provider status. ok is false for unset or unknown values.
func AckStatus(s provider.Status) (domain.AckStatus, bool) {
	st, ok := statusMap[s]
	return st, ok
}

// Ack converts a status update. ok is false when the status is unset.
func Ack(u provider.StatusUpdate) (domain.Ack, bool) {
	st, ok := AckStatus(u.Status)
	if !ok || u.MessageID == "" {
		return domain.Ack{}, false
	}
	recipient := u.Chat
	if recipient == "" {
		recipient = u.Sender
	}
	return domain.Ack{
		MessageID:   u.MessageID,
		Status:      st,
		RecipientID: recipient,
		ObservedAt:  u.Timestamp.UTC(),
	}, true
}

// Acks converts a batch, dropping unset statuses.
func Acks(batch []provider.StatusUpdate) []domain.Ack {
	out := make([]domain.Ack, 0, len(batch))
	for _, u := range batch {
		if a, ok := Ack(u); ok {
			out = append(out, a)
		}
	}
	return out
}
