package meow

import (
	"context"

	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	waTypes "go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

var mediaTypes = map[whatsapp.MediaKind]whatsmeow.MediaType{
	whatsapp.MediaImage:    whatsmeow.MediaImage,
	whatsapp.MediaVideo:    whatsmeow.MediaVideo,
	whatsapp.MediaAudio:    whatsmeow.MediaAudio,
	whatsapp.MediaDocument: whatsmeow.MediaDocument,
}

// build turns an outbound message into its protocol form, uploading media
// first when there is any.
func (c *Conn) build(ctx context.Context, to waTypes.JID, msg *whatsapp.OutboundMessage) (*waE2E.Message, error) {
	switch {
	case msg.Media != nil:
		return c.mediaMessage(ctx, msg.Media)
	case msg.Template != nil:
		return c.templateMessage(ctx, msg.Template)
	case msg.Reaction != nil:
		return c.reactionMessage(to, msg.Reaction)
	}
	return buildPlain(msg)
}

// buildPlain covers the content kinds that need neither uploads nor a
// client.
func buildPlain(msg *whatsapp.OutboundMessage) (*waE2E.Message, error) {
	switch {
	case msg.Link != nil:
		l := msg.Link
		return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:          proto.String(l.Text),
			MatchedText:   proto.String(l.URL),
			Title:         proto.String(l.Title),
			Description:   proto.String(l.Description),
			JPEGThumbnail: l.Thumbnail,
		}}, nil
	case msg.Buttons != nil:
		return buttonsMessage(msg.Buttons), nil
	case msg.List != nil:
		return listMessage(msg.List), nil
	case msg.Contact != nil:
		return &waE2E.Message{ContactMessage: &waE2E.ContactMessage{
			DisplayName: proto.String(msg.Contact.DisplayName),
			Vcard:       proto.String(msg.Contact.VCard),
		}}, nil
	case msg.Location != nil:
		loc := msg.Location
		return &waE2E.Message{LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude:  proto.Float64(loc.Latitude),
			DegreesLongitude: proto.Float64(loc.Longitude),
			Name:             proto.String(loc.Name),
			Address:          proto.String(loc.Address),
		}}, nil
	case msg.Text != "":
		return &waE2E.Message{Conversation: proto.String(msg.Text)}, nil
	}
	return nil, errors.New("meow: empty message")
}

func buttonsMessage(b *whatsapp.Buttons) *waE2E.Message {
	buttons := make([]*waE2E.ButtonsMessage_Button, 0, len(b.Buttons))
	for _, btn := range b.Buttons {
		buttons = append(buttons, &waE2E.ButtonsMessage_Button{
			ButtonID:   proto.String(btn.ID),
			ButtonText: &waE2E.ButtonsMessage_Button_ButtonText{DisplayText: proto.String(btn.Text)},
			Type:       waE2E.ButtonsMessage_Button_RESPONSE.Enum(),
		})
	}
	return &waE2E.Message{ButtonsMessage: &waE2E.ButtonsMessage{
		ContentText: proto.String(b.Text),
		FooterText:  proto.String(b.Footer),
		HeaderType:  waE2E.ButtonsMessage_HeaderType(b.HeaderType).Enum(),
		Buttons:     buttons,
	}}
}

func listMessage(l *whatsapp.List) *waE2E.Message {
	sections := make([]*waE2E.ListMessage_Section, 0, len(l.Sections))
	for _, s := range l.Sections {
		rows := make([]*waE2E.ListMessage_Row, 0, len(s.Rows))
		for _, r := range s.Rows {
			rows = append(rows, &waE2E.ListMessage_Row{
				Title:       proto.String(r.Title),
				Description: proto.String(r.Description),
				RowID:       proto.String(r.RowID),
			})
		}
		sections = append(sections, &waE2E.ListMessage_Section{Title: proto.String(s.Title), Rows: rows})
	}
	return &waE2E.Message{ListMessage: &waE2E.ListMessage{
		Title:       proto.String(l.Title),
		Description: proto.String(l.Text),
		ButtonText:  proto.String(l.ButtonText),
		FooterText:  proto.String(l.Footer),
		ListType:    waE2E.ListMessage_SINGLE_SELECT.Enum(),
		Sections:    sections,
	}}
}

func hydratedButtons(buttons []whatsapp.TemplateButton) []*waE2E.HydratedTemplateButton {
	out := make([]*waE2E.HydratedTemplateButton, 0, len(buttons))
	for _, b := range buttons {
		hb := &waE2E.HydratedTemplateButton{Index: proto.Uint32(uint32(b.Index))}
		switch {
		case b.QuickReply != nil:
			hb.HydratedButton = &waE2E.HydratedTemplateButton_QuickReplyButton{
				QuickReplyButton: &waE2E.HydratedTemplateButton_HydratedQuickReplyButton{
					DisplayText: proto.String(b.QuickReply.DisplayText),
					ID:          proto.String(b.QuickReply.ID),
				},
			}
		case b.URL != nil:
			hb.HydratedButton = &waE2E.HydratedTemplateButton_UrlButton{
				UrlButton: &waE2E.HydratedTemplateButton_HydratedURLButton{
					DisplayText: proto.String(b.URL.DisplayText),
					URL:         proto.String(b.URL.URL),
				},
			}
		case b.Call != nil:
			hb.HydratedButton = &waE2E.HydratedTemplateButton_CallButton{
				CallButton: &waE2E.HydratedTemplateButton_HydratedCallButton{
					DisplayText: proto.String(b.Call.DisplayText),
					PhoneNumber: proto.String(b.Call.PhoneNumber),
				},
			}
		default:
			continue
		}
		out = append(out, hb)
	}
	return out
}

func (c *Conn) templateMessage(ctx context.Context, t *whatsapp.Template) (*waE2E.Message, error) {
	hydrated := &waE2E.TemplateMessage_HydratedFourRowTemplate{
		HydratedContentText: proto.String(t.Text),
		HydratedFooterText:  proto.String(t.Footer),
		HydratedButtons:     hydratedButtons(t.Buttons),
	}
	if t.Media != nil {
		header, err := c.mediaMessage(ctx, t.Media)
		if err != nil {
			return nil, err
		}
		switch {
		case header.GetImageMessage() != nil:
			hydrated.Title = &waE2E.TemplateMessage_HydratedFourRowTemplate_ImageMessage{ImageMessage: header.GetImageMessage()}
		case header.GetVideoMessage() != nil:
			hydrated.Title = &waE2E.TemplateMessage_HydratedFourRowTemplate_VideoMessage{VideoMessage: header.GetVideoMessage()}
		case header.GetDocumentMessage() != nil:
			hydrated.Title = &waE2E.TemplateMessage_HydratedFourRowTemplate_DocumentMessage{DocumentMessage: header.GetDocumentMessage()}
		}
	}
	return &waE2E.Message{TemplateMessage: &waE2E.TemplateMessage{HydratedTemplate: hydrated}}, nil
}

func (c *Conn) mediaMessage(ctx context.Context, m *whatsapp.Media) (*waE2E.Message, error) {
	mediaType, ok := mediaTypes[m.Kind]
	if !ok {
		return nil, errors.Errorf("meow: unsupported media kind %q", m.Kind)
	}
	up, err := c.client.Upload(ctx, m.Data, mediaType)
	if err != nil {
		return nil, errors.Wrap(err, "meow: upload media")
	}
	return mediaFromUpload(m, up), nil
}

func mediaFromUpload(m *whatsapp.Media, up whatsmeow.UploadResponse) *waE2E.Message {
	switch m.Kind {
	case whatsapp.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(m.Mimetype),
			Caption:       proto.String(m.Caption),
		}}
	case whatsapp.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(m.Mimetype),
			Caption:       proto.String(m.Caption),
		}}
	case whatsapp.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(m.Mimetype),
			PTT:           proto.Bool(m.PTT),
		}}
	}
	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
		Mimetype:      proto.String(m.Mimetype),
		Caption:       proto.String(m.Caption),
		FileName:      proto.String(m.FileName),
		Title:         proto.String(m.FileName),
	}}
}

func (c *Conn) reactionMessage(chat waTypes.JID, r *whatsapp.Reaction) (*waE2E.Message, error) {
	sender := chat
	if r.Key.Participant != "" {
		p, err := parseJID(r.Key.Participant)
		if err != nil {
			return nil, err
		}
		sender = p
	}
	if r.Key.FromMe && c.client.Store.ID != nil {
		sender = c.client.Store.ID.ToNonAD()
	}
	return c.client.BuildReaction(chat, sender, r.Key.ID, r.Text), nil
}
