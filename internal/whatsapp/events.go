package whatsapp

import "encoding/json"

// Connection states reported by ConnectionUpdate.
const (
	ConnConnecting = "connecting"
	ConnOpen       = "open"
	ConnClose      = "close"
)

// ReasonLoggedOut is the only close reason that ends a session.
const ReasonLoggedOut = "logged out"

// Events emitted by a Conn. Handlers receive pointers to these structs.

type ConnectionUpdate struct {
	Connection string
	// Reason is set on close.
	Reason string
	// QR carries a fresh pairing challenge.
	QR string
}

// CredsUpdate carries the opaque credential blob to persist.
type CredsUpdate struct {
	Creds []byte
}

type ChatsSet struct {
	Chats []Chat
}

type ChatsUpsert struct {
	Chats []Chat
}

type ChatPatch struct {
	ID    string
	Name  string
	Attrs map[string]interface{}
}

type ChatsUpdate struct {
	Patches []ChatPatch
}

type ChatsDelete struct {
	IDs []string
}

// Message upsert types.
const (
	UpsertNotify  = "notify"
	UpsertAppend  = "append"
	UpsertPrepend = "prepend"
)

type InboundMessage struct {
	Key       MessageKey
	PushName  string
	Timestamp int64
	// Kind names the content field, e.g. conversation or imageMessage.
	Kind string
	Text string
	// Content is the JSON rendering of the message content.
	Content json.RawMessage
	// Raw is the protocol native message, kept for media download.
	Raw interface{}
}

type MessagesUpsert struct {
	Type     string
	Messages []*InboundMessage
}

type MessageStatus struct {
	Key    MessageKey `json:"key"`
	Status string     `json:"status"`
}

type MessagesUpdate struct {
	Updates []MessageStatus
}

type PresenceUpdate struct {
	ID        string            `json:"id"`
	Presences map[string]string `json:"presences"`
}

type CallOffer struct {
	ID              string
	From            string
	Platform        string
	PlatformVersion string
	Timestamp       int64
}

type CallTerminate struct {
	ID        string
	From      string
	Reason    string
	Timestamp int64
}

type GroupsUpsert struct {
	Groups []GroupMetadata
}

type GroupUpdate struct {
	ID      string `json:"id"`
	Subject string `json:"subject,omitempty"`
}

type GroupsUpdate struct {
	Updates []GroupUpdate
}

type GroupParticipantsUpdate struct {
	ID           string            `json:"id"`
	Participants []string          `json:"participants"`
	Action       ParticipantAction `json:"action"`
}
