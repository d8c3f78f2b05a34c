package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/store"
	"github.com/talkincode/wagateway/internal/webhook"
	"github.com/talkincode/wagateway/internal/webserver"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"github.com/talkincode/wagateway/internal/whatsapp/whatsapptest"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	peer    = "5511988887777@s.whatsapp.net"
)

type apiHarness struct {
	svc     *whatsapp.Service
	dialer  *whatsapptest.Dialer
	handler http.Handler
}

func newAPI(t *testing.T, mutate func(cfg *config.AppConfig)) *apiHarness {
	t.Helper()
	cfg := *config.DefaultAppConfig
	cfg.Web.Token = "secret"
	cfg.Web.AppURL = "http://gateway.test/"
	cfg.Webhook.Enabled = false
	cfg.Webhook.Workers = 2
	if mutate != nil {
		mutate(&cfg)
	}
	dispatcher, err := webhook.NewDispatcher(&cfg)
	require.NoError(t, err)
	dialer := whatsapptest.NewDialer()
	svc := whatsapp.NewService(whatsapp.Options{
		Config:     &cfg,
		Dialer:     dialer,
		Docs:       store.NewMemoryStore(),
		Dispatcher: dispatcher,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	webserver.Init(&cfg)
	Init(&cfg, svc)
	return &apiHarness{svc: svc, dialer: dialer, handler: webserver.Handler()}
}

func (h *apiHarness) do(t *testing.T, method, target, body string, header ...string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	out := map[string]interface{}{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

// open creates key and drives it to an open connection.
func (h *apiHarness) open(t *testing.T, key string) *whatsapptest.Conn {
	t.Helper()
	code, _ := h.do(t, http.MethodPost, "/instance/init?key="+key, "")
	require.Equal(t, http.StatusOK, code)
	conn, err := h.dialer.Next(waitFor)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conn.Subscribers() == 1 }, waitFor, tick)
	conn.SetUser(&whatsapp.Contact{ID: "5511999990000@s.whatsapp.net", Name: "me"})
	conn.Emit(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnOpen})
	sess, err := h.svc.Get(key)
	require.NoError(t, err)
	require.Eventually(t, sess.Online, waitFor, tick)
	return conn
}

func TestInitInstance(t *testing.T) {
	h := newAPI(t, nil)

	code, body := h.do(t, http.MethodPost, "/instance/init?key=k1&webhook=true&webhookUrl=http://hooks.test/in", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["error"])
	assert.Equal(t, "k1", body["key"])
	assert.Equal(t, "http://gateway.test/instance/qr?key=k1", body["qrcode"].(map[string]interface{})["url"])
	assert.Equal(t, true, body["webhook"].(map[string]interface{})["enabled"])

	code, body = h.do(t, http.MethodPost, "/instance/init?key=k1", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, true, body["error"])

	code, body = h.do(t, http.MethodPost, "/instance/init", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["key"], 36)
}

func TestKeyVerify(t *testing.T) {
	h := newAPI(t, nil)

	code, body := h.do(t, http.MethodGet, "/instance/info", "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "invalid key supplied", body["message"])

	code, _ = h.do(t, http.MethodGet, "/instance/info?key=missing", "")
	assert.Equal(t, http.StatusForbidden, code)
}

func TestLoginVerify(t *testing.T) {
	h := newAPI(t, nil)
	code, _ := h.do(t, http.MethodPost, "/instance/init?key=k1", "")
	require.Equal(t, http.StatusOK, code)

	code, body := h.do(t, http.MethodPost, "/message/text?key=k1", `{"id":"`+peer+`","message":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "phone isn't connected", body["message"])
}

func TestInstanceInfoAndList(t *testing.T) {
	h := newAPI(t, nil)
	h.open(t, "k1")
	code, _ := h.do(t, http.MethodPost, "/instance/init?key=k2", "")
	require.Equal(t, http.StatusOK, code)

	code, body := h.do(t, http.MethodGet, "/instance/info?key=k1", "")
	require.Equal(t, http.StatusOK, code)
	data := body["instance_data"].(map[string]interface{})
	assert.Equal(t, "k1", data["instance_key"])
	assert.Equal(t, true, data["phone_connected"])
	assert.Equal(t, "5511999990000@s.whatsapp.net", data["user"].(map[string]interface{})["id"])

	code, body = h.do(t, http.MethodGet, "/instance/list", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["data"], 2)

	code, body = h.do(t, http.MethodGet, "/instance/list?active=true", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{"k1"}, body["data"])
}

func TestQRBase64(t *testing.T) {
	h := newAPI(t, nil)
	code, _ := h.do(t, http.MethodPost, "/instance/init?key=k1", "")
	require.Equal(t, http.StatusOK, code)
	conn, err := h.dialer.Next(waitFor)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conn.Subscribers() == 1 }, waitFor, tick)
	conn.Emit(&whatsapp.ConnectionUpdate{QR: "2@pairing-challenge"})

	require.Eventually(t, func() bool {
		_, body := h.do(t, http.MethodGet, "/instance/qrbase64?key=k1", "")
		qr, _ := body["qrcode"].(string)
		return strings.HasPrefix(qr, "data:image/png;base64,")
	}, waitFor, tick)

	req := httptest.NewRequest(http.MethodGet, "/instance/qr?key=k1", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<img src="data:image/png;base64,`)
}

func TestLogoutAndDelete(t *testing.T) {
	h := newAPI(t, nil)
	conn := h.open(t, "k1")

	code, body := h.do(t, http.MethodDelete, "/instance/logout?key=k1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "logout successfull", body["message"])
	assert.True(t, conn.LoggedOut())

	code, _ = h.do(t, http.MethodPost, "/instance/restart?key=k1", "")
	assert.Equal(t, http.StatusGone, code)

	code, body = h.do(t, http.MethodDelete, "/instance/delete?key=k1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Instance deleted successfully", body["message"])
	_, err := h.svc.Get("k1")
	assert.ErrorIs(t, err, whatsapp.ErrSessionNotFound)
}

func TestSendText(t *testing.T) {
	h := newAPI(t, nil)
	conn := h.open(t, "k1")

	code, body := h.do(t, http.MethodPost, "/message/text?key=k1", `{"id":"`+peer+`","msdelay":"10","message":"hello"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, false, body["error"])
	key := body["data"].(map[string]interface{})["key"].(map[string]interface{})
	assert.Equal(t, peer, key["remoteJid"])

	sent := conn.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "hello", sent[0].Msg.Text)
	assert.Equal(t, whatsapp.PresenceComposing, conn.Presences()[0].Presence)
}

func TestSendTextUnknownRecipient(t *testing.T) {
	h := newAPI(t, nil)
	conn := h.open(t, "k1")
	conn.SetAccounts()

	code, body := h.do(t, http.MethodPost, "/message/text?key=k1", `{"id":"`+peer+`","message":"hello"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "RECIPIENT_NOT_FOUND", body["code"])
	assert.Empty(t, conn.Sent())
}

func TestSendPayloadShapes(t *testing.T) {
	h := newAPI(t, nil)
	conn := h.open(t, "k1")

	code, _ := h.do(t, http.MethodPost, "/message/button?key=k1",
		`{"id":"`+peer+`","btndata":{"text":"pick","buttons":[{"buttonId":"b1","buttonText":{"displayText":"one"},"type":1}]}}`)
	require.Equal(t, http.StatusCreated, code)
	code, _ = h.do(t, http.MethodPost, "/message/list?key=k1",
		`{"id":"`+peer+`","msgdata":{"title":"t","text":"body","buttonText":"open","description":"foot","sections":[{"title":"s","rows":[{"title":"r","rowId":"r1"}]}]}}`)
	require.Equal(t, http.StatusCreated, code)
	code, _ = h.do(t, http.MethodPost, "/message/location?key=k1",
		`{"id":"`+peer+`","locdata":{"latitude":"-23.5","longitude":-46.6,"name":"SP"}}`)
	require.Equal(t, http.StatusCreated, code)
	code, _ = h.do(t, http.MethodPost, "/message/templatebutton?key=k1",
		`{"id":"`+peer+`","btndata":{"text":"t","footerText":"f","buttons":[{"type":"urlButton","title":"site","payload":"https://example.test","index":1}]}}`)
	require.Equal(t, http.StatusCreated, code)
	code, _ = h.do(t, http.MethodPost, "/message/contact?key=k1",
		`{"id":"`+peer+`","vcard":{"fullName":"Ana","organization":"Acme","phoneNumber":"5511911112222"}}`)
	require.Equal(t, http.StatusCreated, code)

	sent := conn.Sent()
	require.Len(t, sent, 5)
	btn := sent[0].Msg.Buttons
	assert.Equal(t, "one", btn.Buttons[0].Text)
	assert.Equal(t, 1, btn.HeaderType)
	list := sent[1].Msg.List
	assert.Equal(t, "foot", list.Footer)
	assert.Equal(t, "r1", list.Sections[0].Rows[0].RowID)
	assert.Equal(t, -23.5, sent[2].Msg.Location.Latitude)
	assert.Equal(t, -46.6, sent[2].Msg.Location.Longitude)
	assert.Equal(t, "https://example.test", sent[3].Msg.Template.Buttons[0].URL.URL)
	assert.Equal(t, "Ana", sent[4].Msg.Contact.DisplayName)
}

func TestSendReactionAndPix(t *testing.T) {
	h := newAPI(t, nil)
	conn := h.open(t, "k1")

	code, _ := h.do(t, http.MethodPost, "/message/reaction?key=k1",
		`{"id":"`+peer+`","reacdata":{"id":"3A1234567890ABCDEF12","emoticon":"👍"}}`)
	require.Equal(t, http.StatusCreated, code)
	code, _ = h.do(t, http.MethodPost, "/message/pix?key=k1",
		`{"id":"`+peer+`","base64code":"data:image/png;base64,iVBORw0KGgo=","caption":"pay"}`)
	require.Equal(t, http.StatusCreated, code)

	sent := conn.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "3A1234567890ABCDEF12", sent[0].Msg.Reaction.Key.ID)
	assert.Equal(t, "image/png", sent[1].Msg.Media.Mimetype)
	assert.Empty(t, conn.Presences())
}

func TestSendMediaValidation(t *testing.T) {
	h := newAPI(t, nil)
	h.open(t, "k1")

	code, body := h.do(t, http.MethodPost, "/message/mediaurl?key=k1", `{"id":"`+peer+`","url":"http://x.test/a","type":"sticker"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_TYPE", body["code"])

	code, _ = h.do(t, http.MethodPost, "/message/text?key=k1", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSetStatus(t *testing.T) {
	h := newAPI(t, nil)
	conn := h.open(t, "k1")

	code, body := h.do(t, http.MethodPost, "/message/setstatus?key=k1", `{"id":"`+peer+`","status":"sleeping"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "status parameter must be one of unavailable, available, composing, recording, paused", body["message"])

	code, _ = h.do(t, http.MethodPost, "/message/setstatus?key=k1", `{"id":"`+peer+`","status":"paused"}`)
	require.Equal(t, http.StatusCreated, code)
	presences := conn.Presences()
	assert.Equal(t, whatsapp.PresencePaused, presences[len(presences)-1].Presence)
}

func TestGroupRoutes(t *testing.T) {
	h := newAPI(t, nil)
	conn := h.open(t, "k1")

	code, body := h.do(t, http.MethodPost, "/group/create?key=k1", `{"name":"team","users":["`+peer+`"]}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "team", body["data"].(map[string]interface{})["subject"])

	code, _ = h.do(t, http.MethodPost, "/group/makeadmin?key=k1", `{"id":"120363000000000001@g.us","users":["`+peer+`"]}`)
	require.Equal(t, http.StatusCreated, code)
	calls := conn.ParticipantCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, whatsapp.ParticipantPromote, calls[0].Action)

	code, _ = h.do(t, http.MethodPost, "/group/participantsupdate?key=k1", `{"id":"120363000000000001@g.us","users":["`+peer+`"],"action":"open"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	conn.Fail("GroupUpdateSubject", errors.New("not-authorized"))
	code, body = h.do(t, http.MethodPost, "/group/updatesubject?key=k1", `{"id":"120363000000000001@g.us","subject":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "unable to update subject check if you are admin in group", body["message"])

	code, body = h.do(t, http.MethodGet, "/group/getgroupbyid?key=k1&id=120363999999999999@g.us", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "GROUP_NOT_FOUND", body["code"])

	code, body = h.do(t, http.MethodGet, "/group/getallgroups?key=k1", "")
	require.Equal(t, http.StatusCreated, code)
	assert.NotNil(t, body["data"])
}

func TestMiscRoutes(t *testing.T) {
	h := newAPI(t, nil)
	conn := h.open(t, "k1")

	code, body := h.do(t, http.MethodGet, "/misc/onwhatsapp?key=k1&id="+peer, "")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, body["data"])

	code, body = h.do(t, http.MethodGet, "/misc/blockUser?key=k1&id="+peer+"&block_status=block", "")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Contact Blocked", body["data"])
	assert.True(t, conn.Blocked(peer))

	code, _ = h.do(t, http.MethodGet, "/misc/blockUser?key=k1&id="+peer+"&block_status=mute", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(t, http.MethodPost, "/misc/updateProfilePicture?key=k1", `{"id":"`+peer+`","url":"/nonexistent/picture.png"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Unable to update profile picture", body["message"])
}

func TestProtectedRoutes(t *testing.T) {
	h := newAPI(t, func(cfg *config.AppConfig) { cfg.Web.ProtectRoutes = true })

	code, body := h.do(t, http.MethodGet, "/instance/list", "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "invalid bearer token supplied", body["message"])

	code, _ = h.do(t, http.MethodGet, "/instance/list", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = h.do(t, http.MethodGet, "/instance/list", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, code)
}

func TestSystemStatus(t *testing.T) {
	h := newAPI(t, nil)
	h.open(t, "k1")

	code, body := h.do(t, http.MethodGet, "/system/status", "")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["total"])
	assert.Equal(t, float64(1), data["sessions"].(map[string]interface{})["open"])
	assert.Contains(t, data, "process")
}

func TestMsDelay(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, msDelay("250"))
	assert.Equal(t, 100*time.Millisecond, msDelay(float64(100)))
	assert.Equal(t, time.Duration(0), msDelay(-5))
	assert.Equal(t, time.Duration(0), msDelay(nil))
	assert.Equal(t, time.Duration(0), msDelay("soon"))
}
