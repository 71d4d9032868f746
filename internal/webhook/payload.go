package webhook

import (
	"strconv"

	"github.com/talkincode/whatshttp/internal/domain"
	"github.com/talkincode/whatshttp/internal/provider"
)

const (
	ObjectMessagingAccount = "messaging_account"
	MessagingProduct       = "whatsapp"
	FieldMessages          = "messages"
	FieldDisconnected      = "disconnected"
)

// Payload is the envelope posted to tenant webhooks.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Value any    `json:"value"`
	Field string `json:"field"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// MessagesValue carries message and status batches. Both lists are always present.
type MessagesValue struct {
	MessagingProduct string          `json:"messaging_product"`
	Metadata         Metadata        `json:"metadata"`
	Messages         []MessageObject `json:"messages"`
	Statuses         []StatusObject  `json:"statuses"`
}

// DisconnectedValue is the value of a disconnection notice.
type DisconnectedValue struct {
	MessagingProduct string   `json:"messaging_product"`
	Metadata         Metadata `json:"metadata"`
}

type TextObject struct {
	Body string `json:"body"`
}

type ContextObject struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

type MessageObject struct {
	From      string         `json:"from"`
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Text      TextObject     `json:"text"`
	Context   *ContextObject `json:"context,omitempty"`
}

type StatusObject struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

func metadataOf(t Target) Metadata {
	return Metadata{DisplayPhoneNumber: t.DisplayName, PhoneNumberID: t.TenantID}
}

func envelope(t Target, field string, value any) *Payload {
	return &Payload{
		Object: ObjectMessagingAccount,
		Entry: []Entry{{
			ID:      t.TenantID,
			Changes: []Change{{Value: value, Field: field}},
		}},
	}
}

// BuildMessagesPayload renders a message/status batch.
func BuildMessagesPayload(t Target, msgs []domain.Message, acks []domain.Ack) *Payload {
	value := MessagesValue{
		MessagingProduct: MessagingProduct,
		Metadata:         metadataOf(t),
		Messages:         make([]MessageObject, 0, len(msgs)),
		Statuses:         make([]StatusObject, 0, len(acks)),
	}
	for _, m := range msgs {
		value.Messages = append(value.Messages, formatMessage(m))
	}
	for _, a := range acks {
		value.Statuses = append(value.Statuses, formatStatus(a))
	}
	return envelope(t, FieldMessages, value)
}

// BuildDisconnectedPayload renders the disconnection notice.
func BuildDisconnectedPayload(t Target) *Payload {
	return envelope(t, FieldDisconnected, DisconnectedValue{
		MessagingProduct: MessagingProduct,
		Metadata:         metadataOf(t),
	})
}

func formatMessage(m domain.Message) MessageObject {
	obj := MessageObject{
		From:      provider.UserPart(m.From),
		ID:        m.ID,
		Timestamp: strconv.FormatInt(m.Timestamp.Unix(), 10),
		Type:      "text",
		Text:      TextObject{Body: m.Body},
	}
	if m.HasQuote() {
		obj.Context = &ContextObject{
			From: provider.UserPart(m.QuotedFrom),
			ID:   m.QuotedMessageID,
		}
	}
	return obj
}

// status timestamps are milliseconds, message timestamps are seconds
func formatStatus(a domain.Ack) StatusObject {
	return StatusObject{
		ID:          a.MessageID,
		Status:      string(a.Status),
		Timestamp:   strconv.FormatInt(a.ObservedAt.UnixMilli(), 10),
		RecipientID: a.RecipientID,
	}
}
