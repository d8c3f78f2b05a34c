// Package whatsapptest provides an in-memory protocol connection for tests.
package whatsapptest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/talkincode/wagateway/internal/whatsapp"
)

// Dialer hands out fake connections and remembers every one of them.
type Dialer struct {
	// DialErr, when set, fails every Dial.
	DialErr error
	// Configure runs on each new connection before it is returned.
	Configure func(c *Conn)

	mu     sync.Mutex
	conns  []*Conn
	dialed chan *Conn
}

func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Conn, 64)}
}

func (d *Dialer) Dial(_ context.Context, key string, creds []byte) (whatsapp.Conn, error) {
	d.mu.Lock()
	err := d.DialErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c := NewConn(key, creds)
	if d.Configure != nil {
		d.Configure(c)
	}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	select {
	case d.dialed <- c:
	default:
	}
	return c, nil
}

// SetDialErr changes the dial outcome for later attempts.
func (d *Dialer) SetDialErr(err error) {
	d.mu.Lock()
	d.DialErr = err
	d.mu.Unlock()
}

// Next waits for the next dialed connection.
func (d *Dialer) Next(timeout time.Duration) (*Conn, error) {
	select {
	case c := <-d.dialed:
		return c, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no connection dialed within %s", timeout)
	}
}

// Conns returns every connection dialed so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

type SentMessage struct {
	To  string
	Msg *whatsapp.OutboundMessage
}

type PresenceUpdate struct {
	To       string
	Presence whatsapp.Presence
}

type ParticipantCall struct {
	Group        string
	Participants []string
	Action       whatsapp.ParticipantAction
}

// Conn is a scriptable whatsapp.Conn. Events are injected with Emit and
// reach handlers synchronously.
type Conn struct {
	Key   string
	Creds []byte

	mu        sync.Mutex
	handlers  map[int]func(interface{})
	nextID    int
	connected bool
	closed    bool
	loggedOut bool
	user      *whatsapp.Contact
	accounts  map[string]bool
	failures  map[string]error
	groups    []whatsapp.GroupMetadata
	media     []byte
	sent      []SentMessage
	presences []PresenceUpdate
	calls     []ParticipantCall
	blocked   map[string]bool
	pictures  map[string][]byte
	seq       int
}

func NewConn(key string, creds []byte) *Conn {
	return &Conn{
		Key:      key,
		Creds:    creds,
		handlers: map[int]func(interface{}){},
		failures: map[string]error{},
		blocked:  map[string]bool{},
		pictures: map[string][]byte{},
	}
}

// Emit delivers evt to every current subscriber.
func (c *Conn) Emit(evt interface{}) {
	c.mu.Lock()
	hs := make([]func(interface{}), 0, len(c.handlers))
	for i := 0; i < c.nextID; i++ {
		if h, ok := c.handlers[i]; ok {
			hs = append(hs, h)
		}
	}
	c.mu.Unlock()
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

// Subscribers returns the number of live subscriptions.
func (c *Conn) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// SetUser sets the paired account.
func (c *Conn) SetUser(u *whatsapp.Contact) {
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
}

// SetAccounts limits OnWhatsApp to ids; nil accepts every id.
func (c *Conn) SetAccounts(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts = map[string]bool{}
	for _, id := range ids {
		c.accounts[id] = true
	}
}

// Fail makes the named method return err.
func (c *Conn) Fail(method string, err error) {
	c.mu.Lock()
	c.failures[method] = err
	c.mu.Unlock()
}

func (c *Conn) SetGroups(groups []whatsapp.GroupMetadata) {
	c.mu.Lock()
	c.groups = groups
	c.mu.Unlock()
}

func (c *Conn) SetMedia(data []byte) {
	c.mu.Lock()
	c.media = data
	c.mu.Unlock()
}

func (c *Conn) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMessage(nil), c.sent...)
}

func (c *Conn) Presences() []PresenceUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PresenceUpdate(nil), c.presences...)
}

func (c *Conn) ParticipantCalls() []ParticipantCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ParticipantCall(nil), c.calls...)
}

func (c *Conn) Blocked(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked[id]
}

// ProfilePicture returns the last picture set for id.
func (c *Conn) ProfilePicture(id string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pictures[id]
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *Conn) failure(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[method]
}

func (c *Conn) Connect(context.Context) error {
	if err := c.failure("Connect"); err != nil {
		return err
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	c.mu.Unlock()
}

func (c *Conn) Logout(context.Context) error {
	if err := c.failure("Logout"); err != nil {
		return err
	}
	c.mu.Lock()
	c.loggedOut = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) User() *whatsapp.Contact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Conn) OnWhatsApp(_ context.Context, id string) (bool, error) {
	if err := c.failure("OnWhatsApp"); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accounts == nil {
		return true, nil
	}
	return c.accounts[id], nil
}

func (c *Conn) SendMessage(_ context.Context, to string, msg *whatsapp.OutboundMessage) (*whatsapp.SentMessage, error) {
	if err := c.failure("SendMessage"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.sent = append(c.sent, SentMessage{To: to, Msg: msg})
	return &whatsapp.SentMessage{
		Key:       whatsapp.MessageKey{RemoteJID: to, FromMe: true, ID: fmt.Sprintf("3EB0%016d", c.seq)},
		Timestamp: time.Now().Unix(),
	}, nil
}

func (c *Conn) SendPresence(_ context.Context, to string, presence whatsapp.Presence) error {
	if err := c.failure("SendPresence"); err != nil {
		return err
	}
	c.mu.Lock()
	c.presences = append(c.presences, PresenceUpdate{To: to, Presence: presence})
	c.mu.Unlock()
	return nil
}

func (c *Conn) ProfilePictureURL(_ context.Context, id string) (string, error) {
	if err := c.failure("ProfilePictureURL"); err != nil {
		return "", err
	}
	return "https://pps.example.test/" + id + ".jpg", nil
}

func (c *Conn) FetchStatus(_ context.Context, id string) (string, error) {
	if err := c.failure("FetchStatus"); err != nil {
		return "", err
	}
	return "available", nil
}

func (c *Conn) UpdateBlockStatus(_ context.Context, id string, block bool) error {
	if err := c.failure("UpdateBlockStatus"); err != nil {
		return err
	}
	c.mu.Lock()
	c.blocked[id] = block
	c.mu.Unlock()
	return nil
}

func (c *Conn) UpdateProfilePicture(_ context.Context, id string, img []byte) error {
	if err := c.failure("UpdateProfilePicture"); err != nil {
		return err
	}
	c.mu.Lock()
	c.pictures[id] = img
	c.mu.Unlock()
	return nil
}

func (c *Conn) DownloadMedia(context.Context, *whatsapp.InboundMessage) ([]byte, error) {
	if err := c.failure("DownloadMedia"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media, nil
}

func (c *Conn) GroupCreate(_ context.Context, subject string, participants []string) (*whatsapp.GroupMetadata, error) {
	if err := c.failure("GroupCreate"); err != nil {
		return nil, err
	}
	meta := &whatsapp.GroupMetadata{ID: "120363000000009999@g.us", Subject: subject, Creation: time.Now().Unix()}
	for _, p := range participants {
		meta.Participants = append(meta.Participants, whatsapp.Participant{ID: p})
	}
	return meta, nil
}

func (c *Conn) GroupParticipantsUpdate(_ context.Context, group string, participants []string, action whatsapp.ParticipantAction) ([]whatsapp.ParticipantResult, error) {
	if err := c.failure("GroupParticipantsUpdate"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.calls = append(c.calls, ParticipantCall{Group: group, Participants: participants, Action: action})
	c.mu.Unlock()
	out := make([]whatsapp.ParticipantResult, 0, len(participants))
	for _, p := range participants {
		out = append(out, whatsapp.ParticipantResult{JID: p, Status: "200"})
	}
	return out, nil
}

func (c *Conn) GroupLeave(context.Context, string) error {
	return c.failure("GroupLeave")
}

func (c *Conn) GroupInviteCode(_ context.Context, group string) (string, error) {
	if err := c.failure("GroupInviteCode"); err != nil {
		return "", err
	}
	return "Inv1teC0de", nil
}

func (c *Conn) GroupUpdateSubject(context.Context, string, string) error {
	return c.failure("GroupUpdateSubject")
}

func (c *Conn) GroupUpdateDescription(context.Context, string, string) error {
	return c.failure("GroupUpdateDescription")
}

func (c *Conn) GroupSettingUpdate(context.Context, string, whatsapp.GroupSetting) error {
	return c.failure("GroupSettingUpdate")
}

func (c *Conn) GroupFetchAllParticipating(context.Context) ([]whatsapp.GroupMetadata, error) {
	if err := c.failure("GroupFetchAllParticipating"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]whatsapp.GroupMetadata(nil), c.groups...), nil
}

var _ whatsapp.Conn = (*Conn)(nil)
var _ whatsapp.Dialer = (*Dialer)(nil)
