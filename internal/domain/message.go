package domain

import (
	"context"
	"time"
)

// MessageKind classifies a normalized inbound message.
type MessageKind string

const (
	KindText              MessageKind = "chat"
	KindAudio             MessageKind = "audio"
	KindGroupNotification MessageKind = "group_notification"
	KindOther             MessageKind = "other"
	// KindError marks a message the normalizer could not interpret. It is never delivered.
	KindError MessageKind = "error"
)

// Media is a decoded attachment, base64 encoded.
type Media struct {
	Data     string `json:"data"`
	Mimetype string `json:"mimetype"`
	FileSize uint64 `json:"filesize"`
	Filename string `json:"filename,omitempty"`
}

// IsEmpty reports whether the media carries no payload.
func (m Media) IsEmpty() bool {
	return m.Data == ""
}

// MediaResolver downloads and decodes an attachment on demand.
type MediaResolver func(ctx context.Context) (Media, error)

// Message is the provider independent form of an inbound message.
type Message struct {
	ID              string      `json:"id"`
	From            string      `json:"from"`
	FromMe          bool        `json:"fromMe"`
	Body            string      `json:"body"`
	Kind            MessageKind `json:"type"`
	Timestamp       time.Time   `json:"timestamp"`
	QuotedMessageID string      `json:"quotedMessageId,omitempty"`
	QuotedFrom      string      `json:"quotedFrom,omitempty"`
	IsForwarded     bool        `json:"isForwarded"`

	media MediaResolver
}

// SetMediaResolver attaches the lazy audio payload to the message.
func (m *Message) SetMediaResolver(r MediaResolver) {
	m.media = r
}

// HasQuote reports whether the message references a resolvable quoted message.
func (m *Message) HasQuote() bool {
	return m.QuotedMessageID != ""
}

// DecodeAudio resolves the audio payload. Non-audio messages yield an empty
// Media and no error.
func (m *Message) DecodeAudio(ctx context.Context) (Media, error) {
	if m.Kind != KindAudio || m.media == nil {
		return Media{}, nil
	}
	return m.media(ctx)
}
