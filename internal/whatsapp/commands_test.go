package whatsapp_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/whatsapp"
)

const peer = "5511988887777@s.whatsapp.net"

func TestSendRequiresOpenConnection(t *testing.T) {
	h := newHarness(t, nil)
	sess, _ := h.dial(t, "k1", "", false)

	_, err := sess.SendText(context.Background(), peer, "hi", 0)
	assert.ErrorIs(t, err, whatsapp.ErrNotConnected)
	_, err = sess.CreateGroup(context.Background(), "team", []string{peer})
	assert.ErrorIs(t, err, whatsapp.ErrNotConnected)
}

func TestSendTextPresenceThenMessage(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)

	start := time.Now()
	sent, err := sess.SendText(context.Background(), "5511988887777", "hello", 30*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.True(t, sent.Key.FromMe)

	presences := conn.Presences()
	require.Len(t, presences, 1)
	assert.Equal(t, peer, presences[0].To)
	assert.Equal(t, whatsapp.PresenceComposing, presences[0].Presence)

	msgs := conn.Sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, peer, msgs[0].To)
	assert.Equal(t, "hello", msgs[0].Msg.Text)
}

func TestSendPresenceFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)
	conn.Fail("SendPresence", errors.New("boom"))

	_, err := sess.SendText(context.Background(), peer, "hello", 0)
	require.NoError(t, err)
	assert.Len(t, conn.Sent(), 1)
}

func TestSendUnknownRecipient(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)
	conn.SetAccounts("5511911112222@s.whatsapp.net")

	_, err := sess.SendText(context.Background(), peer, "hello", 0)
	assert.ErrorIs(t, err, whatsapp.ErrRecipientNotFound)
	assert.Empty(t, conn.Sent())
	assert.Empty(t, conn.Presences(), "no presence before the recipient check")
}

func TestSendToGroupSkipsLookup(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)
	conn.SetAccounts()

	_, err := sess.SendText(context.Background(), "120363000000000001-1700000000", "hi all", 0)
	require.NoError(t, err)
	require.Len(t, conn.Sent(), 1)
	assert.Equal(t, "120363000000000001-1700000000@g.us", conn.Sent()[0].To)
}

func TestSendCancelledDuringDelay(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sess.SendText(ctx, peer, "late", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, conn.Sent())
}

func TestSendMediaAudioIsVoiceNote(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)

	_, err := sess.SendMedia(context.Background(), peer, &whatsapp.Media{Kind: whatsapp.MediaAudio, Data: []byte("ogg"), Mimetype: "audio/ogg"}, 0)
	require.NoError(t, err)
	assert.Equal(t, whatsapp.PresenceRecording, conn.Presences()[0].Presence)
	assert.True(t, conn.Sent()[0].Msg.Media.PTT)
}

func TestSendMediaURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)

	_, err := sess.SendMediaURL(context.Background(), peer, whatsapp.MediaDocument, srv.URL+"/doc.pdf", "", "", "", 0)
	require.NoError(t, err)
	media := conn.Sent()[0].Msg.Media
	assert.Equal(t, "application/pdf", media.Mimetype)
	assert.Equal(t, "file", media.FileName)
	assert.Equal(t, []byte("%PDF-1.4"), media.Data)
}

func TestSendMediaFileFromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.ogg"), []byte("OggS voice"), 0o600))

	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)

	_, err := sess.SendMediaFile(context.Background(), peer, whatsapp.MediaAudio, filepath.Join(dir, "note.ogg"), "audio/ogg; codecs=opus", "", "", 0)
	require.NoError(t, err)
	media := conn.Sent()[0].Msg.Media
	assert.True(t, media.PTT)
	assert.Equal(t, "note.ogg", media.FileName)
	assert.Equal(t, "audio/ogg; codecs=opus", media.Mimetype)
	assert.Equal(t, whatsapp.PresenceRecording, conn.Presences()[0].Presence)

	_, err = sess.SendMediaFile(context.Background(), peer, whatsapp.MediaImage, filepath.Join(dir, "missing.png"), "", "", "", 0)
	assert.Error(t, err)
}

func TestSendContactBuildsVCard(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)

	_, err := sess.SendContact(context.Background(), peer, whatsapp.ContactSpec{FullName: "Ana", Organization: "Acme", PhoneNumber: "5511911112222"}, 0)
	require.NoError(t, err)
	card := conn.Sent()[0].Msg.Contact
	assert.Equal(t, "Ana", card.DisplayName)
	assert.Contains(t, card.VCard, "waid=5511911112222:5511911112222")
}

func TestSendButtonsDefaultsHeader(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)

	_, err := sess.SendButtons(context.Background(), peer, &whatsapp.Buttons{Text: "pick", Buttons: []whatsapp.Button{{ID: "1", Text: "one"}}}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, conn.Sent()[0].Msg.Buttons.HeaderType)
}

func TestSendReactionAndPixSkipPresence(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)
	ctx := context.Background()

	_, err := sess.SendReaction(ctx, "5511988887777", "3EB0AAAA", "", "👍")
	require.NoError(t, err)
	_, err = sess.SendPix(ctx, peer, base64.StdEncoding.EncodeToString([]byte("png")), "pay me")
	require.NoError(t, err)
	_, err = sess.SendPix(ctx, peer, "%%%", "")
	assert.Error(t, err)

	assert.Empty(t, conn.Presences())
	sent := conn.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, peer, sent[0].Msg.Reaction.Key.RemoteJID)
	assert.Equal(t, "👍", sent[0].Msg.Reaction.Text)
	assert.Equal(t, "image/png", sent[1].Msg.Media.Mimetype)
}

func TestSetStatus(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)
	ctx := context.Background()

	assert.ErrorIs(t, sess.SetStatus(ctx, "dancing", peer), whatsapp.ErrInvalidPresence)
	require.NoError(t, sess.SetStatus(ctx, "available", peer))
	assert.Equal(t, whatsapp.PresenceAvailable, conn.Presences()[0].Presence)
}

func TestContactQueries(t *testing.T) {
	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)
	ctx := context.Background()

	ok, err := sess.OnWhatsApp(ctx, "5511988887777")
	require.NoError(t, err)
	assert.True(t, ok)

	url, err := sess.ProfilePictureURL(ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, "https://pps.example.test/"+peer+".jpg", url)

	status, err := sess.FetchStatus(ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, "available", status)

	require.NoError(t, sess.BlockUser(ctx, peer, "block"))
	assert.True(t, conn.Blocked(peer))
	require.NoError(t, sess.BlockUser(ctx, peer, "unblock"))
	assert.False(t, conn.Blocked(peer))
	assert.ErrorIs(t, sess.BlockUser(ctx, peer, "mute"), whatsapp.ErrInvalidAction)
}

func TestUpdateProfilePicture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me.jpg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	h := newHarness(t, nil)
	sess, conn := h.open(t, "k1", "", false)
	ctx := context.Background()

	res, err := sess.UpdateProfilePicture(ctx, selfJID, srv.URL+"/me.jpg")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, "jpeg", string(conn.ProfilePicture(selfJID)))

	// bare numbers are normalized like every other recipient
	res, err = sess.UpdateProfilePicture(ctx, "447700900123", srv.URL+"/me.jpg")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, "jpeg", string(conn.ProfilePicture("447700900123@s.whatsapp.net")))
	assert.Nil(t, conn.ProfilePicture("447700900123"))

	_, err = sess.UpdateProfilePicture(ctx, "5511", srv.URL+"/me.jpg")
	assert.ErrorIs(t, err, whatsapp.ErrInvalidJID)

	res, err = sess.UpdateProfilePicture(ctx, selfJID, srv.URL+"/missing.jpg")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Error)
	assert.Equal(t, "Unable to update profile picture", res.Message)

	conn.Fail("UpdateProfilePicture", errors.New("not allowed"))
	res, err = sess.UpdateProfilePicture(ctx, selfJID, srv.URL+"/me.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Unable to update profile picture", res.Message)
}

func TestSendRateLimited(t *testing.T) {
	h := newHarness(t, func(cfg *config.AppConfig) {
		cfg.Instance.SendRate = 20
		cfg.Instance.SendBurst = 1
	})
	sess, conn := h.open(t, "k1", "", false)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := sess.SendReaction(ctx, peer, "id", "", "x")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Len(t, conn.Sent(), 3)
}
