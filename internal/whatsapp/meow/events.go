package meow

import (
	"fmt"

	"github.com/talkincode/wagateway/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Close reasons reported for whatsmeow disconnect events.
const (
	reasonConnectionLost = "connection lost"
	reasonStreamReplaced = "stream replaced"
	reasonKeepAlive      = "keepalive timeout"
	reasonQRTimeout      = "qr timeout"
)

// translate maps one whatsmeow event onto gateway events. Events without a
// gateway counterpart yield nothing.
func translate(evt interface{}) []interface{} {
	switch e := evt.(type) {
	case *events.Connected:
		return one(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnOpen})
	case *events.Disconnected:
		return one(closed(reasonConnectionLost))
	case *events.KeepAliveTimeout:
		return one(closed(reasonKeepAlive))
	case *events.StreamReplaced:
		return one(closed(reasonStreamReplaced))
	case *events.LoggedOut:
		return one(closed(whatsapp.ReasonLoggedOut))
	case *events.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			return one(closed(whatsapp.ReasonLoggedOut))
		}
		return one(closed(fmt.Sprintf("connect failure %d: %s", int(e.Reason), e.Message)))
	case *events.TemporaryBan:
		return one(closed("temporary ban: " + e.String()))
	case *events.Message:
		return one(&whatsapp.MessagesUpsert{Type: whatsapp.UpsertNotify, Messages: []*whatsapp.InboundMessage{inbound(e)}})
	case *events.Receipt:
		return one(receipt(e))
	case *events.Presence:
		state := "available"
		if e.Unavailable {
			state = "unavailable"
		}
		id := e.From.String()
		return one(&whatsapp.PresenceUpdate{ID: id, Presences: map[string]string{id: state}})
	case *events.ChatPresence:
		state := string(e.State)
		if e.State == waTypes.ChatPresenceComposing && e.Media == waTypes.ChatPresenceMediaAudio {
			state = string(whatsapp.PresenceRecording)
		}
		return one(&whatsapp.PresenceUpdate{
			ID:        e.Chat.String(),
			Presences: map[string]string{e.Sender.String(): state},
		})
	case *events.CallOffer:
		return one(&whatsapp.CallOffer{
			ID:              e.CallID,
			From:            e.From.String(),
			Platform:        e.RemotePlatform,
			PlatformVersion: e.RemoteVersion,
			Timestamp:       e.Timestamp.Unix(),
		})
	case *events.CallTerminate:
		return one(&whatsapp.CallTerminate{
			ID:        e.CallID,
			From:      e.From.String(),
			Reason:    e.Reason,
			Timestamp: e.Timestamp.Unix(),
		})
	case *events.JoinedGroup:
		return one(&whatsapp.GroupsUpsert{Groups: []whatsapp.GroupMetadata{groupMetadata(&e.GroupInfo)}})
	case *events.GroupInfo:
		return groupChanges(e)
	case *events.HistorySync:
		return historyChats(e.Data)
	}
	return nil
}

func one(evt interface{}) []interface{} {
	return []interface{}{evt}
}

func closed(reason string) *whatsapp.ConnectionUpdate {
	return &whatsapp.ConnectionUpdate{Connection: whatsapp.ConnClose, Reason: reason}
}

func inbound(e *events.Message) *whatsapp.InboundMessage {
	key := whatsapp.MessageKey{
		RemoteJID: e.Info.Chat.String(),
		FromMe:    e.Info.IsFromMe,
		ID:        e.Info.ID,
	}
	if e.Info.IsGroup {
		key.Participant = e.Info.Sender.String()
	}
	m := &whatsapp.InboundMessage{
		Key:       key,
		PushName:  e.Info.PushName,
		Timestamp: e.Info.Timestamp.Unix(),
		Raw:       e.Message,
	}
	if e.Message == nil {
		return m
	}
	m.Kind = contentKind(e.Message)
	m.Text = e.Message.GetConversation()
	if m.Text == "" {
		m.Text = e.Message.GetExtendedTextMessage().GetText()
	}
	if body, err := protojson.Marshal(e.Message); err == nil {
		m.Content = body
	}
	return m
}

// contentKind names the populated content field with the lowest field
// number, ignoring the envelope fields that ride along real content.
func contentKind(msg *waE2E.Message) string {
	var (
		kind     string
		number   protoreflect.FieldNumber
		fallback string
	)
	msg.ProtoReflect().Range(func(fd protoreflect.FieldDescriptor, _ protoreflect.Value) bool {
		name := fd.JSONName()
		switch name {
		case "messageContextInfo":
			return true
		case "senderKeyDistributionMessage":
			fallback = name
			return true
		}
		if kind == "" || fd.Number() < number {
			kind, number = name, fd.Number()
		}
		return true
	})
	if kind == "" {
		return fallback
	}
	return kind
}

func receipt(e *events.Receipt) *whatsapp.MessagesUpdate {
	status := string(e.Type)
	if e.Type == waTypes.ReceiptTypeDelivered {
		status = "delivered"
	}
	updates := make([]whatsapp.MessageStatus, 0, len(e.MessageIDs))
	for _, id := range e.MessageIDs {
		updates = append(updates, whatsapp.MessageStatus{
			Key:    whatsapp.MessageKey{RemoteJID: e.Chat.String(), FromMe: e.IsFromMe, ID: id},
			Status: status,
		})
	}
	return &whatsapp.MessagesUpdate{Updates: updates}
}

func groupMetadata(info *waTypes.GroupInfo) whatsapp.GroupMetadata {
	meta := whatsapp.GroupMetadata{
		ID:           info.JID.String(),
		Subject:      info.GroupName.Name,
		Desc:         info.GroupTopic.Topic,
		Participants: make([]whatsapp.Participant, 0, len(info.Participants)),
	}
	if !info.OwnerJID.IsEmpty() {
		meta.SubjectOwner = info.OwnerJID.String()
	}
	if !info.GroupCreated.IsZero() {
		meta.Creation = info.GroupCreated.Unix()
	}
	for _, p := range info.Participants {
		role := whatsapp.RoleNone
		switch {
		case p.IsSuperAdmin:
			role = whatsapp.RoleSuperAdmin
		case p.IsAdmin:
			role = whatsapp.RoleAdmin
		}
		meta.Participants = append(meta.Participants, whatsapp.Participant{ID: p.JID.String(), Admin: role})
	}
	return meta
}

func jids(list []waTypes.JID) []string {
	out := make([]string, len(list))
	for i, j := range list {
		out[i] = j.String()
	}
	return out
}

// groupChanges splits a group notification into subject and participant
// changes.
func groupChanges(e *events.GroupInfo) []interface{} {
	id := e.JID.String()
	var out []interface{}
	if e.Name != nil {
		out = append(out, &whatsapp.GroupsUpdate{Updates: []whatsapp.GroupUpdate{{ID: id, Subject: e.Name.Name}}})
	}
	for _, change := range []struct {
		action whatsapp.ParticipantAction
		list   []waTypes.JID
	}{
		{whatsapp.ParticipantAdd, e.Join},
		{whatsapp.ParticipantRemove, e.Leave},
		{whatsapp.ParticipantPromote, e.Promote},
		{whatsapp.ParticipantDemote, e.Demote},
	} {
		if len(change.list) == 0 {
			continue
		}
		out = append(out, &whatsapp.GroupParticipantsUpdate{ID: id, Action: change.action, Participants: jids(change.list)})
	}
	return out
}

// historyChats turns the first bootstrap chunk into a full chat set and any
// later chunk into upserts.
func historyChats(data *waHistorySync.HistorySync) []interface{} {
	convs := data.GetConversations()
	if len(convs) == 0 {
		return nil
	}
	chats := make([]whatsapp.Chat, 0, len(convs))
	for _, c := range convs {
		chats = append(chats, whatsapp.Chat{ID: c.GetID(), Name: c.GetName()})
	}
	if data.GetSyncType() == waHistorySync.HistorySync_INITIAL_BOOTSTRAP && data.GetChunkOrder() <= 1 {
		return one(&whatsapp.ChatsSet{Chats: chats})
	}
	return one(&whatsapp.ChatsUpsert{Chats: chats})
}
