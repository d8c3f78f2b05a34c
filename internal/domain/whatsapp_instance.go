package domain

import "time"

// Instance status values mirrored from the session state machine.
const (
	InstanceConnecting   = "connecting"
	InstanceOpen         = "open"
	InstanceClosing      = "closing"
	InstanceReconnecting = "reconnecting"
	InstanceTerminated   = "terminated"
)

// WhatsAppInstance records a session key and its webhook target so the
// session can be replayed with the same settings after a restart.
type WhatsAppInstance struct {
	ID           int64     `json:"id,string" gorm:"primaryKey"`
	Key          string    `json:"key" gorm:"uniqueIndex;size:128"`
	WebhookURL   string    `json:"webhook_url"`
	AllowWebhook bool      `json:"allow_webhook"`
	Jid          string    `json:"jid"`    // populated once paired
	Status       string    `json:"status" gorm:"index"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (WhatsAppInstance) TableName() string {
	return "whatsapp_instance"
}

// WhatsAppDocument is a keyed blob in a named collection, backing the
// database flavour of the session document store.
type WhatsAppDocument struct {
	Collection string    `json:"collection" gorm:"primaryKey;size:64"`
	Key        string    `json:"key" gorm:"primaryKey;size:128"`
	Body       []byte    `json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (WhatsAppDocument) TableName() string {
	return "whatsapp_document"
}
