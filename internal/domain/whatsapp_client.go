package domain

import "time"

// WhatsappClient is the persisted record of one tenant session.
type WhatsappClient struct {
	ClientID  string    `json:"clientId" gorm:"primaryKey;size:128"`
	Name      string    `json:"name"`
	QrCode    string    `json:"qr" gorm:"type:text"`
	PhoneID   string    `json:"phoneId" gorm:"index"`
	Ready     bool      `json:"ready" gorm:"index"`
	WebHook   string    `json:"webHook"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WhatsappClient) TableName() string {
	return "whatsapp_client"
}
