package domain

import "time"

// AckStatus is the canonical delivery status reported to tenants.
type AckStatus string

const (
	AckError     AckStatus = "error"
	AckPending   AckStatus = "pending"
	AckDelivered AckStatus = "delivered"
	AckSent      AckStatus = "sent"
	AckRead      AckStatus = "read"
)

// Ack is a normalized delivery status update for an outbound message.
type Ack struct {
	MessageID   string    `json:"id"`
	Status      AckStatus `json:"status"`
	RecipientID string    `json:"recipient_id"`
	ObservedAt  time.Time `json:"timestamp"`
}
