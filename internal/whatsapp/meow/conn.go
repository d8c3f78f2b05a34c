package meow

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

const inviteLinkPrefix = "https://chat.whatsapp.com/"

// Conn wraps one whatsmeow client. Translated events fan out to every
// subscriber; the pairing QR channel feeds the same handlers.
type Conn struct {
	key    string
	client *whatsmeow.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	handlers map[int]func(interface{})
	nextID   int
}

func newConn(key string, client *whatsmeow.Client) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		key:      key,
		client:   client,
		ctx:      ctx,
		cancel:   cancel,
		handlers: map[int]func(interface{}){},
	}
	client.AddEventHandler(c.onEvent)
	return c
}

func (c *Conn) onEvent(evt interface{}) {
	if ps, ok := evt.(*events.PairSuccess); ok {
		c.emitCreds(ps.ID, ps.Platform)
		return
	}
	if _, ok := evt.(*events.PushNameSetting); ok && c.client.Store.ID != nil {
		c.emitCreds(*c.client.Store.ID, c.client.Store.Platform)
		return
	}
	for _, out := range translate(evt) {
		c.emit(out)
	}
}

func (c *Conn) emitCreds(jid waTypes.JID, platform string) {
	blob, err := encodeCreds(credentials{JID: jid.String(), PushName: c.client.Store.PushName, Platform: platform})
	if err != nil {
		zap.L().Error("meow: encode creds failed", zap.String("key", c.key), zap.Error(err))
		return
	}
	c.emit(&whatsapp.CredsUpdate{Creds: blob})
}

func (c *Conn) emit(evt interface{}) {
	c.mu.RLock()
	hs := make([]func(interface{}), 0, len(c.handlers))
	for i := 0; i < c.nextID; i++ {
		if h, ok := c.handlers[i]; ok {
			hs = append(hs, h)
		}
	}
	c.mu.RUnlock()
	for _, h := range hs {
		h(evt)
	}
}

func (c *Conn) Subscribe(handler func(evt interface{})) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// Connect starts the websocket. Unpaired devices get a QR channel whose
// codes are reported as connection updates.
func (c *Conn) Connect(context.Context) error {
	if c.client.Store.ID == nil {
		qr, err := c.client.GetQRChannel(c.ctx)
		if err != nil {
			return errors.Wrap(err, "meow: qr channel")
		}
		go c.watchQR(qr)
	}
	if err := c.client.Connect(); err != nil {
		return errors.Wrap(err, "meow: connect")
	}
	return nil
}

func (c *Conn) watchQR(qr <-chan whatsmeow.QRChannelItem) {
	for item := range qr {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.emit(&whatsapp.ConnectionUpdate{QR: item.Code})
		case "success":
		case "timeout":
			c.emit(closed(reasonQRTimeout))
		default:
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			c.emit(closed(reason))
		}
	}
}

func (c *Conn) Close() {
	c.cancel()
	c.client.Disconnect()
}

func (c *Conn) Logout(ctx context.Context) error {
	defer c.cancel()
	return c.client.Logout(ctx)
}

func (c *Conn) User() *whatsapp.Contact {
	id := c.client.Store.ID
	if id == nil {
		return nil
	}
	return &whatsapp.Contact{ID: id.ToNonAD().String(), Name: c.client.Store.PushName}
}

func parseJID(id string) (waTypes.JID, error) {
	jid, err := waTypes.ParseJID(id)
	if err != nil {
		return jid, errors.Wrapf(whatsapp.ErrInvalidJID, "%s: %v", id, err)
	}
	return jid, nil
}

func (c *Conn) OnWhatsApp(ctx context.Context, id string) (bool, error) {
	jid, err := parseJID(id)
	if err != nil {
		return false, err
	}
	res, err := c.client.IsOnWhatsApp(ctx, []string{"+" + jid.User})
	if err != nil {
		return false, err
	}
	return len(res) > 0 && res[0].IsIn, nil
}

func (c *Conn) SendMessage(ctx context.Context, to string, msg *whatsapp.OutboundMessage) (*whatsapp.SentMessage, error) {
	jid, err := parseJID(to)
	if err != nil {
		return nil, err
	}
	pm, err := c.build(ctx, jid, msg)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.SendMessage(ctx, jid, pm)
	if err != nil {
		return nil, err
	}
	return &whatsapp.SentMessage{
		Key:       whatsapp.MessageKey{RemoteJID: jid.String(), FromMe: true, ID: resp.ID},
		Timestamp: resp.Timestamp.Unix(),
	}, nil
}

func (c *Conn) SendPresence(ctx context.Context, to string, presence whatsapp.Presence) error {
	switch presence {
	case whatsapp.PresenceAvailable:
		return c.client.SendPresence(ctx, waTypes.PresenceAvailable)
	case whatsapp.PresenceUnavailable:
		return c.client.SendPresence(ctx, waTypes.PresenceUnavailable)
	}
	jid, err := parseJID(to)
	if err != nil {
		return err
	}
	switch presence {
	case whatsapp.PresenceComposing:
		return c.client.SendChatPresence(ctx, jid, waTypes.ChatPresenceComposing, waTypes.ChatPresenceMediaText)
	case whatsapp.PresenceRecording:
		return c.client.SendChatPresence(ctx, jid, waTypes.ChatPresenceComposing, waTypes.ChatPresenceMediaAudio)
	case whatsapp.PresencePaused:
		return c.client.SendChatPresence(ctx, jid, waTypes.ChatPresencePaused, waTypes.ChatPresenceMediaText)
	}
	return whatsapp.ErrInvalidPresence
}

func (c *Conn) ProfilePictureURL(ctx context.Context, id string) (string, error) {
	jid, err := parseJID(id)
	if err != nil {
		return "", err
	}
	info, err := c.client.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{})
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", nil
	}
	return info.URL, nil
}

func (c *Conn) FetchStatus(ctx context.Context, id string) (string, error) {
	jid, err := parseJID(id)
	if err != nil {
		return "", err
	}
	infos, err := c.client.GetUserInfo(ctx, []waTypes.JID{jid})
	if err != nil {
		return "", err
	}
	return infos[jid].Status, nil
}

func (c *Conn) UpdateBlockStatus(ctx context.Context, id string, block bool) error {
	jid, err := parseJID(id)
	if err != nil {
		return err
	}
	action := events.BlocklistChangeActionUnblock
	if block {
		action = events.BlocklistChangeActionBlock
	}
	_, err = c.client.UpdateBlocklist(ctx, jid, action)
	return err
}

// UpdateProfilePicture sets a group picture, or the account picture when id
// is the paired account.
func (c *Conn) UpdateProfilePicture(ctx context.Context, id string, img []byte) error {
	jid, err := parseJID(id)
	if err != nil {
		return err
	}
	if own := c.client.Store.ID; own != nil && own.ToNonAD() == jid.ToNonAD() {
		jid = waTypes.EmptyJID
	}
	_, err = c.client.SetGroupPhoto(ctx, jid, img)
	return err
}

func (c *Conn) DownloadMedia(ctx context.Context, msg *whatsapp.InboundMessage) ([]byte, error) {
	pm, ok := msg.Raw.(*waE2E.Message)
	if !ok || pm == nil {
		return nil, errors.New("meow: message carries no media")
	}
	var dm whatsmeow.DownloadableMessage
	switch {
	case pm.GetImageMessage() != nil:
		dm = pm.GetImageMessage()
	case pm.GetVideoMessage() != nil:
		dm = pm.GetVideoMessage()
	case pm.GetAudioMessage() != nil:
		dm = pm.GetAudioMessage()
	case pm.GetDocumentMessage() != nil:
		dm = pm.GetDocumentMessage()
	case pm.GetStickerMessage() != nil:
		dm = pm.GetStickerMessage()
	default:
		return nil, errors.New("meow: message carries no media")
	}
	return c.client.Download(ctx, dm)
}

func (c *Conn) GroupCreate(ctx context.Context, subject string, participants []string) (*whatsapp.GroupMetadata, error) {
	members := make([]waTypes.JID, 0, len(participants))
	for _, p := range participants {
		jid, err := parseJID(p)
		if err != nil {
			return nil, err
		}
		members = append(members, jid)
	}
	info, err := c.client.CreateGroup(ctx, whatsmeow.ReqCreateGroup{Name: subject, Participants: members})
	if err != nil {
		return nil, err
	}
	meta := groupMetadata(info)
	return &meta, nil
}

var participantChanges = map[whatsapp.ParticipantAction]whatsmeow.ParticipantChange{
	whatsapp.ParticipantAdd:     whatsmeow.ParticipantChangeAdd,
	whatsapp.ParticipantRemove:  whatsmeow.ParticipantChangeRemove,
	whatsapp.ParticipantPromote: whatsmeow.ParticipantChangePromote,
	whatsapp.ParticipantDemote:  whatsmeow.ParticipantChangeDemote,
}

func (c *Conn) GroupParticipantsUpdate(ctx context.Context, group string, participants []string, action whatsapp.ParticipantAction) ([]whatsapp.ParticipantResult, error) {
	change, ok := participantChanges[action]
	if !ok {
		return nil, whatsapp.ErrInvalidAction
	}
	gid, err := parseJID(group)
	if err != nil {
		return nil, err
	}
	members := make([]waTypes.JID, 0, len(participants))
	for _, p := range participants {
		jid, err := parseJID(p)
		if err != nil {
			return nil, err
		}
		members = append(members, jid)
	}
	res, err := c.client.UpdateGroupParticipants(ctx, gid, members, change)
	if err != nil {
		return nil, err
	}
	out := make([]whatsapp.ParticipantResult, 0, len(res))
	for _, p := range res {
		status := "200"
		if p.Error != 0 {
			status = strconv.Itoa(p.Error)
		}
		out = append(out, whatsapp.ParticipantResult{JID: p.JID.String(), Status: status})
	}
	return out, nil
}

func (c *Conn) GroupLeave(ctx context.Context, group string) error {
	gid, err := parseJID(group)
	if err != nil {
		return err
	}
	return c.client.LeaveGroup(ctx, gid)
}

func (c *Conn) GroupInviteCode(ctx context.Context, group string) (string, error) {
	gid, err := parseJID(group)
	if err != nil {
		return "", err
	}
	link, err := c.client.GetGroupInviteLink(ctx, gid, false)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(link, inviteLinkPrefix), nil
}

func (c *Conn) GroupUpdateSubject(ctx context.Context, group, subject string) error {
	gid, err := parseJID(group)
	if err != nil {
		return err
	}
	return c.client.SetGroupName(ctx, gid, subject)
}

func (c *Conn) GroupUpdateDescription(ctx context.Context, group, description string) error {
	gid, err := parseJID(group)
	if err != nil {
		return err
	}
	return c.client.SetGroupTopic(ctx, gid, "", "", description)
}

func (c *Conn) GroupSettingUpdate(ctx context.Context, group string, setting whatsapp.GroupSetting) error {
	gid, err := parseJID(group)
	if err != nil {
		return err
	}
	switch setting {
	case whatsapp.GroupAnnouncement:
		return c.client.SetGroupAnnounce(ctx, gid, true)
	case whatsapp.GroupNotAnnouncement:
		return c.client.SetGroupAnnounce(ctx, gid, false)
	case whatsapp.GroupLocked:
		return c.client.SetGroupLocked(ctx, gid, true)
	case whatsapp.GroupUnlocked:
		return c.client.SetGroupLocked(ctx, gid, false)
	}
	return whatsapp.ErrInvalidAction
}

func (c *Conn) GroupFetchAllParticipating(ctx context.Context) ([]whatsapp.GroupMetadata, error) {
	groups, err := c.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]whatsapp.GroupMetadata, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupMetadata(g))
	}
	return out, nil
}

var _ whatsapp.Conn = (*Conn)(nil)
