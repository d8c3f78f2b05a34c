package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
	"github.com/talkincode/wagateway/internal/webserver"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"go.uber.org/zap"
)

func registerMessageRoutes() {
	webserver.ApiPOST("/message/text", sendText, keyVerify, loginVerify)
	webserver.ApiPOST("/message/image", sendMedia(whatsapp.MediaImage), keyVerify, loginVerify)
	webserver.ApiPOST("/message/video", sendMedia(whatsapp.MediaVideo), keyVerify, loginVerify)
	webserver.ApiPOST("/message/audio", sendMedia(whatsapp.MediaAudio), keyVerify, loginVerify)
	webserver.ApiPOST("/message/doc", sendDoc, keyVerify, loginVerify)
	webserver.ApiPOST("/message/mediaurl", sendMediaURL, keyVerify, loginVerify)
	webserver.ApiPOST("/message/link", sendLink, keyVerify, loginVerify)
	webserver.ApiPOST("/message/button", sendButtons, keyVerify, loginVerify)
	webserver.ApiPOST("/message/templatebutton", sendTemplateButtons, keyVerify, loginVerify)
	webserver.ApiPOST("/message/mediabutton", sendMediaButtons, keyVerify, loginVerify)
	webserver.ApiPOST("/message/list", sendList, keyVerify, loginVerify)
	webserver.ApiPOST("/message/contact", sendContact, keyVerify, loginVerify)
	webserver.ApiPOST("/message/location", sendLocation, keyVerify, loginVerify)
	webserver.ApiPOST("/message/reaction", sendReaction, keyVerify, loginVerify)
	webserver.ApiPOST("/message/pix", sendPix, keyVerify, loginVerify)
	webserver.ApiPOST("/message/setstatus", setStatus, keyVerify, loginVerify)
}

// target is embedded by every message payload. MsDelay accepts numbers and
// numeric strings.
type target struct {
	ID      string      `json:"id"`
	MsDelay interface{} `json:"msdelay"`
}

type mediaPayload struct {
	target
	Path     string `json:"path"`
	File     string `json:"file"`
	Caption  string `json:"caption"`
	Mimetype string `json:"mimetype"`
	Filename string `json:"filename"`
}

func sent(c echo.Context, msg *whatsapp.SentMessage, err error) error {
	if err != nil {
		return failErr(c, err)
	}
	return created(c, msg)
}

func sendText(c echo.Context) error {
	var p struct {
		target
		Message string `json:"message"`
	}
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	msg, err := session(c).SendText(c.Request().Context(), p.ID, p.Message, msDelay(p.MsDelay))
	return sent(c, msg, err)
}

// sendMedia sends the file found at path+file, a URL or a server local path.
func sendMedia(kind whatsapp.MediaKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		var p mediaPayload
		if err := c.Bind(&p); err != nil {
			return badRequest(c, err)
		}
		caption := p.Caption
		if kind == whatsapp.MediaAudio {
			caption = ""
		}
		msg, err := session(c).SendMediaFile(c.Request().Context(), p.ID, kind, p.Path+p.File, p.Mimetype, caption, p.File, msDelay(p.MsDelay))
		return sent(c, msg, err)
	}
}

func sendDoc(c echo.Context) error {
	var p mediaPayload
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	name := p.Filename
	if name == "" {
		name = p.File
	}
	msg, err := session(c).SendMediaFile(c.Request().Context(), p.ID, whatsapp.MediaDocument, p.Path+p.File, p.Mimetype, "", name, msDelay(p.MsDelay))
	return sent(c, msg, err)
}

func sendMediaURL(c echo.Context) error {
	var p struct {
		target
		URL      string `json:"url"`
		Type     string `json:"type"`
		Mimetype string `json:"mimetype"`
		Caption  string `json:"caption"`
		Filename string `json:"filename"`
	}
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	kind, valid := whatsapp.ParseMediaKind(p.Type)
	if !valid {
		return fail(c, http.StatusBadRequest, "INVALID_TYPE", "type must be one of image, video, audio, document", nil)
	}
	msg, err := session(c).SendMediaURL(c.Request().Context(), p.ID, kind, p.URL, p.Mimetype, p.Caption, p.Filename, msDelay(p.MsDelay))
	return sent(c, msg, err)
}

func sendLink(c echo.Context) error {
	var p struct {
		target
		TextBefore  string `json:"textbefore"`
		URL         string `json:"url"`
		TextAfter   string `json:"textafter"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Path        string `json:"path"`
		File        string `json:"file"`
	}
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	link := &whatsapp.LinkPreview{
		Text:        p.TextBefore + " " + p.URL + " " + p.TextAfter,
		URL:         p.URL,
		Title:       p.Title,
		Description: p.Description,
	}
	if ref := p.Path + p.File; ref != "" {
		thumb, _, err := sessions.FetchMedia(c.Request().Context(), ref)
		if err != nil {
			return failErr(c, err)
		}
		link.Thumbnail = thumb
	}
	msg, err := session(c).SendLink(c.Request().Context(), p.ID, link, msDelay(p.MsDelay))
	return sent(c, msg, err)
}

type simpleButton struct {
	ButtonID   string `json:"buttonId"`
	ButtonText struct {
		DisplayText string `json:"displayText"`
	} `json:"buttonText"`
}

func sendButtons(c echo.Context) error {
	var p struct {
		target
		BtnData struct {
			Text       string         `json:"text"`
			Footer     string         `json:"footer"`
			HeaderType interface{}    `json:"headerType"`
			Buttons    []simpleButton `json:"buttons"`
		} `json:"btndata"`
	}
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	buttons := &whatsapp.Buttons{
		Text:       p.BtnData.Text,
		Footer:     p.BtnData.Footer,
		HeaderType: cast.ToInt(p.BtnData.HeaderType),
	}
	for _, b := range p.BtnData.Buttons {
		buttons.Buttons = append(buttons.Buttons, whatsapp.Button{ID: b.ButtonID, Text: b.ButtonText.DisplayText})
	}
	msg, err := session(c).SendButtons(c.Request().Context(), p.ID, buttons, msDelay(p.MsDelay))
	return sent(c, msg, err)
}

func sendTemplateButtons(c echo.Context) error {
	var p struct {
		target
		BtnData struct {
			Text       string                `json:"text"`
			FooterText string                `json:"footerText"`
			Buttons    []whatsapp.ButtonSpec `json:"buttons"`
		} `json:"btndata"`
	}
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	t := &whatsapp.Template{
		Text:    p.BtnData.Text,
		Footer:  p.BtnData.FooterText,
		Buttons: whatsapp.ProcessButtons(p.BtnData.Buttons),
	}
	msg, err := session(c).SendTemplate(c.Request().Context(), p.ID, t, msDelay(p.MsDelay))
	return sent(c, msg, err)
}

// sendMediaButtons sends template buttons under an image, video or document
// header read from path+image.
func sendMediaButtons(c echo.Context) error {
	var p struct {
		target
		BtnData struct {
			MediaType  string                `json:"mediaType"`
			Path       string                `json:"path"`
			Image      string                `json:"image"`
			MimeType   string                `json:"mimeType"`
			Text       string                `json:"text"`
			FooterText string                `json:"footerText"`
			Buttons    []whatsapp.ButtonSpec `json:"buttons"`
		} `json:"btndata"`
	}
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	data := p.BtnData
	kind, valid := whatsapp.ParseMediaKind(data.MediaType)
	if !valid || kind == whatsapp.MediaAudio {
		return fail(c, http.StatusBadRequest, "INVALID_TYPE", "mediaType must be one of image, video, document", nil)
	}
	body, detected, err := sessions.FetchMedia(c.Request().Context(), data.Path+data.Image)
	if err != nil {
		return failErr(c, err)
	}
	mimetype := data.MimeType
	if mimetype == "" {
		mimetype = detected
	}
	t := &whatsapp.Template{
		Text:    data.Text,
		Footer:  data.FooterText,
		Buttons: whatsapp.ProcessButtons(data.Buttons),
		Media: &whatsapp.Media{
			Kind:     kind,
			Data:     body,
			Mimetype: mimetype,
			Caption:  data.Text,
			FileName: data.Image,
		},
	}
	msg, err := session(c).SendTemplate(c.Request().Context(), p.ID, t, msDelay(p.MsDelay))
	return sent(c, msg, err)
}

func sendList(c echo.Context) error {
	var p struct {
		target
		MsgData struct {
			Title       string                 `json:"title"`
			Text        string                 `json:"text"`
			ButtonText  string                 `json:"buttonText"`
			Description string                 `json:"description"`
			Sections    []whatsapp.ListSection `json:"sections"`
		} `json:"msgdata"`
	}
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	list := &whatsapp.List{
		Title:      p.MsgData.Title,
		Text:       p.MsgData.Text,
		ButtonText: p.MsgData.ButtonText,
		Footer:     p.MsgData.Description,
		Sections:   p.MsgData.Sections,
	}
	msg, err := session(c).SendList(c.Request().Context(), p.ID, list, msDelay(p.MsDelay))
	return sent(c, msg, err)
}

func sendContact(c echo.Context) error {
	var p struct {
		target
		VCard whatsapp.ContactSpec `json:"vcard"`
	}
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	msg, err := session(c).SendContact(c.Request().Context(), p.ID, p.VCard, msDelay(p.MsDelay))
	return sent(c, msg, err)
}

func sendLocation(c echo.Context) error {
	var p struct {
		target
		LocData struct {
			Latitude  interface{} `json:"latitude"`
			Longitude interface{} `json:"longitude"`
			Name      string      `json:"name"`
			Address   string      `json:"address"`
		} `json:"locdata"`
	}
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	loc := &whatsapp.Location{
		Latitude:  cast.ToFloat64(p.LocData.Latitude),
		Longitude: cast.ToFloat64(p.LocData.Longitude),
		Name:      p.LocData.Name,
		Address:   p.LocData.Address,
	}
	msg, err := session(c).SendLocation(c.Request().Context(), p.ID, loc, msDelay(p.MsDelay))
	return sent(c, msg, err)
}

func sendReaction(c echo.Context) error {
	var p struct {
		ID       string `json:"id"`
		ReacData struct {
			ID          string `json:"id"`
			Participant string `json:"participant"`
			Emoticon    string `json:"emoticon"`
		} `json:"reacdata"`
	}
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	r := p.ReacData
	msg, err := session(c).SendReaction(c.Request().Context(), p.ID, r.ID, r.Participant, r.Emoticon)
	return sent(c, msg, err)
}

func sendPix(c echo.Context) error {
	var p struct {
		ID         string `json:"id"`
		Base64Code string `json:"base64code"`
		Caption    string `json:"caption"`
	}
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	code := p.Base64Code
	if i := strings.Index(code, ";base64,"); i >= 0 {
		code = code[i+len(";base64,"):]
	}
	msg, err := session(c).SendPix(c.Request().Context(), p.ID, code, p.Caption)
	return sent(c, msg, err)
}

func setStatus(c echo.Context) error {
	var p struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	if err := session(c).SetStatus(c.Request().Context(), p.Status, p.ID); err != nil {
		return failErr(c, err)
	}
	zap.L().Debug("adminapi: presence set", zap.String("key", session(c).Key()), zap.String("status", p.Status))
	return created(c, map[string]string{"status": p.Status, "id": p.ID})
}
