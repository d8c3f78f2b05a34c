package whatsapp

import (
	"context"
)

// Dialer opens protocol connections. creds is the blob previously reported
// through a CredsUpdate event, or nil to start a fresh pairing.
type Dialer interface {
	Dial(ctx context.Context, key string, creds []byte) (Conn, error)
}

// Conn is one protocol connection attempt. Events are delivered to every
// subscribed handler until the returned unsubscribe func is called.
type Conn interface {
	Subscribe(handler func(evt interface{})) (unsubscribe func())
	Connect(ctx context.Context) error
	// Close drops the transport without logging out.
	Close()
	Logout(ctx context.Context) error
	// User is nil until the connection is paired.
	User() *Contact

	OnWhatsApp(ctx context.Context, id string) (bool, error)
	SendMessage(ctx context.Context, to string, msg *OutboundMessage) (*SentMessage, error)
	SendPresence(ctx context.Context, to string, presence Presence) error
	ProfilePictureURL(ctx context.Context, id string) (string, error)
	FetchStatus(ctx context.Context, id string) (string, error)
	UpdateBlockStatus(ctx context.Context, id string, block bool) error
	UpdateProfilePicture(ctx context.Context, id string, img []byte) error
	DownloadMedia(ctx context.Context, msg *InboundMessage) ([]byte, error)

	GroupCreate(ctx context.Context, subject string, participants []string) (*GroupMetadata, error)
	GroupParticipantsUpdate(ctx context.Context, group string, participants []string, action ParticipantAction) ([]ParticipantResult, error)
	GroupLeave(ctx context.Context, group string) error
	GroupInviteCode(ctx context.Context, group string) (string, error)
	GroupUpdateSubject(ctx context.Context, group, subject string) error
	GroupUpdateDescription(ctx context.Context, group, description string) error
	GroupSettingUpdate(ctx context.Context, group string, setting GroupSetting) error
	GroupFetchAllParticipating(ctx context.Context) ([]GroupMetadata, error)
}

type Contact struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Presence string

const (
	PresenceUnavailable Presence = "unavailable"
	PresenceAvailable   Presence = "available"
	PresenceComposing   Presence = "composing"
	PresenceRecording   Presence = "recording"
	PresencePaused      Presence = "paused"
)

// ParsePresence accepts only the presence values a caller may set.
func ParsePresence(s string) (Presence, error) {
	switch p := Presence(s); p {
	case PresenceUnavailable, PresenceAvailable, PresenceComposing, PresenceRecording, PresencePaused:
		return p, nil
	}
	return "", ErrInvalidPresence
}

type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

type ParticipantResult struct {
	JID    string `json:"jid"`
	Status string `json:"status"`
}

type GroupSetting string

const (
	GroupAnnouncement    GroupSetting = "announcement"
	GroupNotAnnouncement GroupSetting = "not_announcement"
	GroupLocked          GroupSetting = "locked"
	GroupUnlocked        GroupSetting = "unlocked"
)

// Participant roles as stored in the chat snapshot.
const (
	RoleNone       = ""
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

type Participant struct {
	ID    string `json:"id"`
	Admin string `json:"admin"`
}

type GroupMetadata struct {
	ID           string        `json:"id"`
	Subject      string        `json:"subject"`
	SubjectOwner string        `json:"subjectOwner,omitempty"`
	Creation     int64         `json:"creation,omitempty"`
	Desc         string        `json:"desc,omitempty"`
	Participants []Participant `json:"participants"`
}

type MessageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// ParseMediaKind maps a request "type" field onto a media kind.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch k := MediaKind(s); k {
	case MediaImage, MediaVideo, MediaAudio, MediaDocument:
		return k, true
	}
	return "", false
}

type Media struct {
	Kind     MediaKind
	Data     []byte
	Mimetype string
	Caption  string
	FileName string
	PTT      bool
}

type LinkPreview struct {
	Text        string
	URL         string
	Title       string
	Description string
	Thumbnail   []byte
}

type Button struct {
	ID   string `json:"buttonId"`
	Text string `json:"displayText"`
}

type Buttons struct {
	Text       string
	Footer     string
	HeaderType int
	Buttons    []Button
}

// TemplateButton is a hydrated template button; exactly one of the action
// fields is set.
type TemplateButton struct {
	Index      int
	QuickReply *QuickReplyButton
	URL        *URLButton
	Call       *CallButton
}

type QuickReplyButton struct {
	DisplayText string `json:"displayText"`
	ID          string `json:"id,omitempty"`
}

type URLButton struct {
	DisplayText string `json:"displayText"`
	URL         string `json:"url"`
}

type CallButton struct {
	DisplayText string `json:"displayText"`
	PhoneNumber string `json:"phoneNumber"`
}

type Template struct {
	Text    string
	Footer  string
	Buttons []TemplateButton
	// Media, when set, is shown as the template header.
	Media *Media
}

type ListRow struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	RowID       string `json:"rowId"`
}

type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

type List struct {
	Title      string
	Text       string
	ButtonText string
	Footer     string
	Sections   []ListSection
}

type ContactCard struct {
	DisplayName string
	VCard       string
}

type Location struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

type Reaction struct {
	Key  MessageKey
	Text string
}

// OutboundMessage carries exactly one kind of content.
type OutboundMessage struct {
	Text     string
	Link     *LinkPreview
	Media    *Media
	Buttons  *Buttons
	Template *Template
	List     *List
	Contact  *ContactCard
	Location *Location
	Reaction *Reaction
}

type SentMessage struct {
	Key       MessageKey `json:"key"`
	Timestamp int64      `json:"messageTimestamp"`
}
