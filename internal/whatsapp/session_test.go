package whatsapp_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/store"
	"github.com/talkincode/wagateway/internal/webhook"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"github.com/talkincode/wagateway/internal/whatsapp/whatsapptest"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	selfJID = "5511999990000@s.whatsapp.net"
)

type envelope struct {
	Type        string                 `json:"type"`
	Body        map[string]interface{} `json:"body"`
	InstanceKey string                 `json:"instance_key"`
	BearerToken string                 `json:"bearer_token"`
	APIURL      string                 `json:"api_url"`
}

type hookRecorder struct {
	srv *httptest.Server
	mu  sync.Mutex
	got []envelope
}

func newHookRecorder(t *testing.T) *hookRecorder {
	t.Helper()
	r := &hookRecorder{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		var env envelope
		if err := json.Unmarshal(body, &env); err == nil {
			r.mu.Lock()
			r.got = append(r.got, env)
			r.mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *hookRecorder) URL() string { return r.srv.URL + "/hook" }

func (r *hookRecorder) Envelopes() []envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]envelope(nil), r.got...)
}

func (r *hookRecorder) OfType(eventType string) []envelope {
	var out []envelope
	for _, env := range r.Envelopes() {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

type harness struct {
	cfg        *config.AppConfig
	svc        *whatsapp.Service
	dialer     *whatsapptest.Dialer
	docs       *store.MemoryStore
	dispatcher *webhook.Dispatcher
	hooks      *hookRecorder
}

func testConfig() *config.AppConfig {
	cfg := *config.DefaultAppConfig
	cfg.Web.Token = "secret"
	cfg.Web.AppURL = "http://gateway.test"
	cfg.Instance.MaxRetryQR = 2
	cfg.Instance.SendRate = 0
	cfg.Instance.Reconnect = config.ReconnectConfig{
		InitialInterval:  5 * time.Millisecond,
		MaxInterval:      20 * time.Millisecond,
		Multiplier:       1.5,
		Randomization:    0.1,
		StableAfter:      20 * time.Millisecond,
		BreakerThreshold: 3,
		BreakerTimeout:   50 * time.Millisecond,
	}
	cfg.Webhook.Enabled = false
	cfg.Webhook.URL = ""
	cfg.Webhook.Base64 = false
	cfg.Webhook.Workers = 4
	cfg.Webhook.Timeout = 2 * time.Second
	return &cfg
}

func newHarness(t *testing.T, mutate func(cfg *config.AppConfig)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	dispatcher, err := webhook.NewDispatcher(cfg)
	require.NoError(t, err)
	h := &harness{
		cfg:        cfg,
		dialer:     whatsapptest.NewDialer(),
		docs:       store.NewMemoryStore(),
		dispatcher: dispatcher,
		hooks:      newHookRecorder(t),
	}
	h.svc = whatsapp.NewService(whatsapp.Options{
		Config:     cfg,
		Dialer:     h.dialer,
		Docs:       h.docs,
		Dispatcher: dispatcher,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.svc.Shutdown(ctx)
	})
	return h
}

// dial creates a session and waits until its first connection subscribed.
func (h *harness) dial(t *testing.T, key, webhookURL string, allow bool) (*whatsapp.Session, *whatsapptest.Conn) {
	t.Helper()
	sess, err := h.svc.Create(context.Background(), key, webhookURL, allow)
	require.NoError(t, err)
	conn := h.next(t)
	return sess, conn
}

func (h *harness) next(t *testing.T) *whatsapptest.Conn {
	t.Helper()
	conn, err := h.dialer.Next(waitFor)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conn.Subscribers() == 1 }, waitFor, tick)
	return conn
}

func (h *harness) open(t *testing.T, key, webhookURL string, allow bool) (*whatsapp.Session, *whatsapptest.Conn) {
	t.Helper()
	sess, conn := h.dial(t, key, webhookURL, allow)
	conn.SetUser(&whatsapp.Contact{ID: selfJID, Name: "me"})
	conn.Emit(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnOpen})
	require.Eventually(t, func() bool { return sess.State() == whatsapp.StateOpen }, waitFor, tick)
	return sess, conn
}

func TestSessionOpen(t *testing.T) {
	h := newHarness(t, nil)
	sess, _ := h.open(t, "k1", h.hooks.URL(), true)

	_, err := h.docs.Get(context.Background(), store.CollectionChats, "k1")
	require.NoError(t, err, "open creates the chat snapshot")

	info := sess.Info()
	assert.True(t, info.PhoneConnected)
	assert.Equal(t, "k1", info.InstanceKey)
	assert.Equal(t, selfJID, info.User.ID)
	assert.Equal(t, "", sess.QR())

	h.dispatcher.Wait()
	opens := h.hooks.OfType(webhook.EventConnection)
	require.Len(t, opens, 1)
	assert.Equal(t, "open", opens[0].Body["data"])
	assert.Equal(t, "k1", opens[0].InstanceKey)
	assert.Equal(t, "secret", opens[0].BearerToken)
	assert.Equal(t, "http://gateway.test", opens[0].APIURL)
}

func TestSessionConnectingIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.dial(t, "k1", "", false)
	conn.Emit(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnConnecting})
	conn.Emit(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnOpen})
	require.Eventually(t, func() bool { return sess.State() == whatsapp.StateOpen }, waitFor, tick)
}

func TestSessionCredsPersistedSynchronously(t *testing.T) {
	h := newHarness(t, nil)
	_, conn := h.dial(t, "k1", "", false)

	conn.Emit(&whatsapp.CredsUpdate{Creds: []byte("blob-1")})
	body, err := h.docs.Get(context.Background(), store.CollectionCreds, "k1")
	require.NoError(t, err)
	assert.Equal(t, "blob-1", string(body))
}

func TestSessionTransientCloseReconnects(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", h.hooks.URL(), true)
	conn.Emit(&whatsapp.CredsUpdate{Creds: []byte("blob-1")})

	conn.Emit(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnClose, Reason: "connection lost"})

	next := h.next(t)
	assert.Equal(t, "blob-1", string(next.Creds), "reconnect reuses stored creds")
	assert.True(t, conn.Closed())
	assert.Equal(t, 0, conn.Subscribers())
	assert.NotEqual(t, whatsapp.StateTerminated, sess.State())

	ctx := context.Background()
	_, err := h.docs.Get(ctx, store.CollectionCreds, "k1")
	require.NoError(t, err)
	_, err = h.docs.Get(ctx, store.CollectionChats, "k1")
	require.NoError(t, err)

	// events of the old connection are dropped
	conn.Emit(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnOpen})
	next.Emit(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnOpen})
	require.Eventually(t, func() bool { return sess.State() == whatsapp.StateOpen }, waitFor, tick)

	h.dispatcher.Wait()
	var closes []envelope
	for _, env := range h.hooks.OfType(webhook.EventConnection) {
		if env.Body["data"] == "close" {
			closes = append(closes, env)
		}
	}
	require.Len(t, closes, 1)
	assert.Equal(t, "connection lost", closes[0].Body["reason"])
}

func TestSessionDialFailureRetries(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.SetDialErr(errors.New("network down"))
	sess, err := h.svc.Create(context.Background(), "k1", "", false)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, h.dialer.Conns())
	assert.NotEqual(t, whatsapp.StateTerminated, sess.State())

	h.dialer.SetDialErr(nil)
	conn := h.next(t)
	conn.Emit(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnOpen})
	require.Eventually(t, func() bool { return sess.State() == whatsapp.StateOpen }, waitFor, tick)
}

func TestSessionRestartIsNotAReconnectFailure(t *testing.T) {
	h := newHarness(t, func(cfg *config.AppConfig) {
		cfg.Instance.Reconnect.BreakerThreshold = 2
		cfg.Instance.Reconnect.BreakerTimeout = time.Minute
	})
	sess, conn := h.open(t, "k1", "", false)

	for i := 0; i < 3; i++ {
		conn.Emit(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnClose, Reason: "connection lost"})
		h.next(t) // reconnect attempt still pending
		require.NoError(t, sess.Restart())
		conn = h.next(t)
	}

	// the breaker is still closed, so a drop reconnects right away
	conn.Emit(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnClose, Reason: "connection lost"})
	next := h.next(t)
	next.Emit(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnOpen})
	require.Eventually(t, func() bool { return sess.State() == whatsapp.StateOpen }, waitFor, tick)
}

func TestSessionLoggedOutTerminates(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", h.hooks.URL(), true)
	conn.Emit(&whatsapp.CredsUpdate{Creds: []byte("blob-1")})

	conn.Emit(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnClose, Reason: whatsapp.ReasonLoggedOut})
	require.Eventually(t, func() bool { return sess.State() == whatsapp.StateTerminated }, waitFor, tick)

	ctx := context.Background()
	_, err := h.docs.Get(ctx, store.CollectionCreds, "k1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.docs.Get(ctx, store.CollectionChats, "k1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, conn.Subscribers())
	assert.False(t, sess.Online())

	_, err = h.dialer.Next(50 * time.Millisecond)
	assert.Error(t, err, "no reconnect after logout")

	// late events cannot bring state back
	conn.Emit(&whatsapp.CredsUpdate{Creds: []byte("blob-2")})
	_, err = h.docs.Get(ctx, store.CollectionCreds, "k1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, sess.Restart(), whatsapp.ErrSessionTerminated)
}

func TestSessionQRBudget(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.dial(t, "k1", "", false)

	conn.Emit(&whatsapp.ConnectionUpdate{QR: "2@first"})
	require.Eventually(t, func() bool { return strings.HasPrefix(sess.QR(), "data:image/png;base64,") }, waitFor, tick)
	assert.False(t, conn.Closed())

	conn.Emit(&whatsapp.ConnectionUpdate{QR: "2@second"})
	require.Eventually(t, func() bool { return sess.QR() == " " }, waitFor, tick)
	assert.True(t, conn.Closed())
	assert.Equal(t, 0, conn.Subscribers())
	assert.Equal(t, whatsapp.StateClosing, sess.State())

	conn.Emit(&whatsapp.ConnectionUpdate{QR: "2@third"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, " ", sess.QR())
	_, err := h.dialer.Next(50 * time.Millisecond)
	assert.Error(t, err, "an expired pairing is not retried")

	require.NoError(t, sess.Restart())
	next := h.next(t)
	next.Emit(&whatsapp.ConnectionUpdate{QR: "2@fresh"})
	require.Eventually(t, func() bool { return strings.HasPrefix(sess.QR(), "data:") }, waitFor, tick)
	assert.False(t, next.Closed(), "restart resets the budget")
}

func TestSessionWebhookNeedsTarget(t *testing.T) {
	h := newHarness(t, nil)
	_, conn := h.open(t, "quiet", "", true)
	_, conn2 := h.open(t, "off", h.hooks.URL(), false)

	for _, c := range []*whatsapptest.Conn{conn, conn2} {
		c.Emit(textUpsert("3A1234567890ABCDEF12", "hello"))
		c.Emit(&whatsapp.PresenceUpdate{ID: "x@s.whatsapp.net"})
		c.Emit(&whatsapp.ConnectionUpdate{Connection: whatsapp.ConnClose, Reason: "lost"})
	}
	time.Sleep(30 * time.Millisecond)
	h.dispatcher.Wait()
	assert.Empty(t, h.hooks.Envelopes())
}

func TestSessionGlobalWebhook(t *testing.T) {
	rec := newHookRecorder(t)
	h := newHarness(t, func(cfg *config.AppConfig) {
		cfg.Webhook.Enabled = true
		cfg.Webhook.URL = rec.URL()
	})
	h.open(t, "k1", "", false)
	h.dispatcher.Wait()
	require.Len(t, rec.OfType(webhook.EventConnection), 1)
}

func textUpsert(id, text string) *whatsapp.MessagesUpsert {
	return &whatsapp.MessagesUpsert{
		Type: whatsapp.UpsertNotify,
		Messages: []*whatsapp.InboundMessage{{
			Key:       whatsapp.MessageKey{RemoteJID: "5511988887777@s.whatsapp.net", ID: id},
			PushName:  "Ana",
			Timestamp: 1700000000,
			Kind:      "conversation",
			Text:      text,
			Content:   json.RawMessage(`{"conversation":"` + text + `"}`),
		}},
	}
}

func TestSessionForwardsInboundText(t *testing.T) {
	h := newHarness(t, nil)
	_, conn := h.open(t, "k1", h.hooks.URL(), true)

	conn.Emit(textUpsert("3A1234567890ABCDEF12", "hello"))
	conn.Emit(&whatsapp.MessagesUpsert{Type: whatsapp.UpsertAppend, Messages: textUpsert("3A1234567890ABCDEF13", "old").Messages})
	conn.Emit(&whatsapp.MessagesUpsert{Type: whatsapp.UpsertNotify, Messages: []*whatsapp.InboundMessage{{
		Key:  whatsapp.MessageKey{ID: "3A1234567890ABCDEF14"},
		Kind: "protocolMessage",
	}, {
		Key:  whatsapp.MessageKey{ID: "3A1234567890ABCDEF15"},
		Kind: "senderKeyDistributionMessage",
	}}})

	require.Eventually(t, func() bool {
		h.dispatcher.Wait()
		return len(h.hooks.OfType(webhook.EventMessage)) >= 1
	}, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	h.dispatcher.Wait()

	msgs := h.hooks.OfType(webhook.EventMessage)
	require.Len(t, msgs, 1)
	body := msgs[0].Body
	assert.Equal(t, "ios", body["userDevice"])
	assert.Equal(t, "conversation", body["messageType"])
	assert.Equal(t, "hello", body["text"])
	assert.Equal(t, "Ana", body["pushName"])
	assert.NotContains(t, body, "msgContent")
	key := body["key"].(map[string]interface{})
	assert.Equal(t, "3A1234567890ABCDEF12", key["id"])
}

func TestSessionInlinesMedia(t *testing.T) {
	h := newHarness(t, func(cfg *config.AppConfig) { cfg.Webhook.Base64 = true })
	_, conn := h.open(t, "k1", h.hooks.URL(), true)
	conn.SetMedia([]byte("png-bytes"))

	conn.Emit(&whatsapp.MessagesUpsert{Type: whatsapp.UpsertNotify, Messages: []*whatsapp.InboundMessage{{
		Key:     whatsapp.MessageKey{ID: "3EB0C767D26A1D5E7F8B01"},
		Kind:    "imageMessage",
		Content: json.RawMessage(`{"imageMessage":{}}`),
	}, {
		Key:     whatsapp.MessageKey{ID: "3EB0C767D26A1D5E7F8B02"},
		Kind:    "locationMessage",
		Content: json.RawMessage(`{"locationMessage":{}}`),
	}}})

	require.Eventually(t, func() bool {
		h.dispatcher.Wait()
		return len(h.hooks.OfType(webhook.EventMessage)) == 2
	}, waitFor, tick)

	byKind := map[string]map[string]interface{}{}
	for _, env := range h.hooks.OfType(webhook.EventMessage) {
		byKind[env.Body["messageType"].(string)] = env.Body
	}
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), byKind["imageMessage"]["msgContent"])
	assert.Equal(t, "", byKind["locationMessage"]["msgContent"])
	assert.Equal(t, "web", byKind["imageMessage"]["userDevice"])
}

func TestSessionReconcilesGroups(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", h.hooks.URL(), true)
	ctx := context.Background()
	group := "120363000000000001@g.us"
	owner := "5511911110000@s.whatsapp.net"

	conn.SetGroups([]whatsapp.GroupMetadata{{
		ID: group, SubjectOwner: owner, Creation: 42,
		Participants: []whatsapp.Participant{{ID: owner, Admin: whatsapp.RoleSuperAdmin}},
	}})
	conn.Emit(&whatsapp.ChatsSet{Chats: []whatsapp.Chat{{ID: group, Name: "team"}, {ID: "5511922220000@s.whatsapp.net"}}})
	require.Eventually(t, func() bool {
		c, err := sess.Chats().Find(ctx, group)
		return err == nil && c != nil && c.Creation == 42
	}, waitFor, tick)

	conn.Emit(&whatsapp.GroupsUpdate{Updates: []whatsapp.GroupUpdate{{ID: group, Subject: "renamed"}}})
	conn.Emit(&whatsapp.GroupParticipantsUpdate{ID: group, Action: whatsapp.ParticipantRemove, Participants: []string{owner}})
	require.Eventually(t, func() bool {
		c, err := sess.Chats().Find(ctx, group)
		return err == nil && c == nil
	}, waitFor, tick)

	h.dispatcher.Wait()
	assert.Len(t, h.hooks.OfType(webhook.EventChatsSet), 1)
	assert.Len(t, h.hooks.OfType(webhook.EventGroupUpdated), 1)
	assert.Len(t, h.hooks.OfType(webhook.EventGroupParticipantsUpdated), 1)
}

func TestSessionCallWebhooks(t *testing.T) {
	h := newHarness(t, nil)
	_, conn := h.open(t, "k1", h.hooks.URL(), true)

	conn.Emit(&whatsapp.CallOffer{ID: "call-1", From: "5511988887777@s.whatsapp.net", Platform: "android", PlatformVersion: "2.24", Timestamp: 1700000000})
	conn.Emit(&whatsapp.CallTerminate{ID: "call-1", From: "5511988887777@s.whatsapp.net", Reason: "timeout", Timestamp: 1700000010})

	require.Eventually(t, func() bool {
		h.dispatcher.Wait()
		return len(h.hooks.OfType(webhook.EventCallTerminate)) == 1
	}, waitFor, tick)
	offer := h.hooks.OfType(webhook.EventCallOffer)
	require.Len(t, offer, 1)
	user := offer[0].Body["user"].(map[string]interface{})
	assert.Equal(t, "android", user["platform"])
	assert.Equal(t, "2.24", user["platform_version"])
	assert.Equal(t, "timeout", h.hooks.OfType(webhook.EventCallTerminate)[0].Body["reason"])
}
