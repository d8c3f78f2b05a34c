package whatsapp

import (
	"context"
	"encoding/base64"
	"path"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Result is the structured negative answer of operations whose protocol
// failures are expected, e.g. group admin calls without admin rights.
type Result struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

func failure(msg string) *Result {
	return &Result{Error: true, Message: msg}
}

func (s *Session) connection() (Conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil || !s.online {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// verify normalizes id and checks that it resolves to a real account.
// Group ids are accepted as is.
func (s *Session) verify(ctx context.Context, conn Conn, id string) (string, error) {
	jid, err := NormalizeJID(id)
	if err != nil {
		return "", err
	}
	if IsGroupJID(jid) {
		return jid, nil
	}
	exists, err := conn.OnWhatsApp(ctx, jid)
	if err != nil {
		return "", errors.Wrapf(err, "check %s", jid)
	}
	if !exists {
		return "", ErrRecipientNotFound
	}
	return jid, nil
}

func (s *Session) send(ctx context.Context, to string, presence Presence, delay time.Duration, msg *OutboundMessage) (*SentMessage, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	jid, err := s.verify(ctx, conn, to)
	if err != nil {
		return nil, err
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if presence != "" {
		if err := conn.SendPresence(ctx, jid, presence); err != nil {
			zap.L().Debug("whatsapp: presence update failed", zap.String("key", s.key), zap.String("to", jid), zap.Error(err))
		}
		if !sleepCtx(ctx, delay) {
			return nil, ctx.Err()
		}
	}
	sent, err := conn.SendMessage(ctx, jid, msg)
	if err != nil {
		return nil, errors.Wrapf(err, "send to %s", jid)
	}
	return sent, nil
}

func (s *Session) SendText(ctx context.Context, to, text string, delay time.Duration) (*SentMessage, error) {
	return s.send(ctx, to, PresenceComposing, delay, &OutboundMessage{Text: text})
}

// SendMedia sends an image, video, audio or document. Audio goes out as a
// voice note with a recording presence.
func (s *Session) SendMedia(ctx context.Context, to string, media *Media, delay time.Duration) (*SentMessage, error) {
	presence := PresenceComposing
	if media.Kind == MediaAudio {
		presence = PresenceRecording
		media.PTT = true
	}
	return s.send(ctx, to, presence, delay, &OutboundMessage{Media: media})
}

// SendMediaURL fetches the referenced file and sends it as media of kind.
func (s *Session) SendMediaURL(ctx context.Context, to string, kind MediaKind, url, mimetype, caption, fileName string, delay time.Duration) (*SentMessage, error) {
	data, detected, err := s.svc.media.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if mimetype == "" {
		mimetype = detected
	}
	if fileName == "" {
		fileName = "file"
	}
	media := &Media{Kind: kind, Data: data, Mimetype: mimetype, Caption: caption, FileName: fileName}
	return s.send(ctx, to, PresenceComposing, delay, &OutboundMessage{Media: media})
}

// SendMediaFile sends the file at ref, a URL or a local path. The file name
// defaults to the last element of ref.
func (s *Session) SendMediaFile(ctx context.Context, to string, kind MediaKind, ref, mimetype, caption, fileName string, delay time.Duration) (*SentMessage, error) {
	data, detected, err := s.svc.media.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	if mimetype == "" {
		mimetype = detected
	}
	if fileName == "" {
		fileName = path.Base(ref)
	}
	media := &Media{Kind: kind, Data: data, Mimetype: mimetype, Caption: caption, FileName: fileName}
	return s.SendMedia(ctx, to, media, delay)
}

func (s *Session) SendLink(ctx context.Context, to string, link *LinkPreview, delay time.Duration) (*SentMessage, error) {
	return s.send(ctx, to, PresenceComposing, delay, &OutboundMessage{Link: link})
}

func (s *Session) SendButtons(ctx context.Context, to string, buttons *Buttons, delay time.Duration) (*SentMessage, error) {
	if buttons.HeaderType == 0 {
		buttons.HeaderType = 1
	}
	return s.send(ctx, to, PresenceComposing, delay, &OutboundMessage{Buttons: buttons})
}

// SendTemplate sends template buttons, with a media header when t.Media is set.
func (s *Session) SendTemplate(ctx context.Context, to string, t *Template, delay time.Duration) (*SentMessage, error) {
	return s.send(ctx, to, PresenceComposing, delay, &OutboundMessage{Template: t})
}

func (s *Session) SendList(ctx context.Context, to string, list *List, delay time.Duration) (*SentMessage, error) {
	return s.send(ctx, to, PresenceComposing, delay, &OutboundMessage{List: list})
}

func (s *Session) SendContact(ctx context.Context, to string, c ContactSpec, delay time.Duration) (*SentMessage, error) {
	card := &ContactCard{DisplayName: c.FullName, VCard: GenerateVCard(c)}
	return s.send(ctx, to, PresenceComposing, delay, &OutboundMessage{Contact: card})
}

func (s *Session) SendLocation(ctx context.Context, to string, loc *Location, delay time.Duration) (*SentMessage, error) {
	return s.send(ctx, to, PresenceComposing, delay, &OutboundMessage{Location: loc})
}

// SendReaction reacts to a received message with emoji.
func (s *Session) SendReaction(ctx context.Context, to, messageID, participant, emoji string) (*SentMessage, error) {
	key := MessageKey{RemoteJID: to, ID: messageID, Participant: participant}
	if jid, err := NormalizeJID(to); err == nil {
		key.RemoteJID = jid
	}
	return s.send(ctx, to, "", 0, &OutboundMessage{Reaction: &Reaction{Key: key, Text: emoji}})
}

// SendPix sends a base64 PNG, typically a payment QR code.
func (s *Session) SendPix(ctx context.Context, to, b64, caption string) (*SentMessage, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, errors.Wrap(err, "decode pix image")
	}
	media := &Media{Kind: MediaImage, Data: data, Mimetype: "image/png", Caption: caption}
	return s.send(ctx, to, "", 0, &OutboundMessage{Media: media})
}

// SetStatus updates the chat presence shown to recipient to.
func (s *Session) SetStatus(ctx context.Context, status, to string) error {
	presence, err := ParsePresence(status)
	if err != nil {
		return err
	}
	conn, err := s.connection()
	if err != nil {
		return err
	}
	jid, err := s.verify(ctx, conn, to)
	if err != nil {
		return err
	}
	return conn.SendPresence(ctx, jid, presence)
}

func (s *Session) OnWhatsApp(ctx context.Context, id string) (bool, error) {
	conn, err := s.connection()
	if err != nil {
		return false, err
	}
	jid, err := NormalizeJID(id)
	if err != nil {
		return false, err
	}
	return conn.OnWhatsApp(ctx, jid)
}

func (s *Session) ProfilePictureURL(ctx context.Context, of string) (string, error) {
	conn, err := s.connection()
	if err != nil {
		return "", err
	}
	jid, err := s.verify(ctx, conn, of)
	if err != nil {
		return "", err
	}
	return conn.ProfilePictureURL(ctx, jid)
}

func (s *Session) FetchStatus(ctx context.Context, of string) (string, error) {
	conn, err := s.connection()
	if err != nil {
		return "", err
	}
	jid, err := s.verify(ctx, conn, of)
	if err != nil {
		return "", err
	}
	return conn.FetchStatus(ctx, jid)
}

// BlockUser accepts "block" or "unblock".
func (s *Session) BlockUser(ctx context.Context, to, action string) error {
	var block bool
	switch action {
	case "block":
		block = true
	case "unblock":
	default:
		return ErrInvalidAction
	}
	conn, err := s.connection()
	if err != nil {
		return err
	}
	jid, err := s.verify(ctx, conn, to)
	if err != nil {
		return err
	}
	return conn.UpdateBlockStatus(ctx, jid, block)
}

// UpdateProfilePicture sets the picture of the account or of a group from
// url. A nil result means success.
func (s *Session) UpdateProfilePicture(ctx context.Context, id, url string) (*Result, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	jid, err := NormalizeJID(id)
	if err != nil {
		return nil, err
	}
	img, _, err := s.svc.media.Fetch(ctx, url)
	if err != nil {
		zap.L().Warn("whatsapp: fetch profile picture failed", zap.String("key", s.key), zap.Error(err))
		return failure("Unable to update profile picture"), nil
	}
	if err := conn.UpdateProfilePicture(ctx, jid, img); err != nil {
		zap.L().Warn("whatsapp: update profile picture failed", zap.String("key", s.key), zap.Error(err))
		return failure("Unable to update profile picture"), nil
	}
	return nil, nil
}
