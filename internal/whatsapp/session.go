package whatsapp

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"github.com/talkincode/wagateway/internal/store"
	"github.com/talkincode/wagateway/internal/webhook"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// TopicStateChanged carries a StateChange for every session transition.
const TopicStateChanged = "whatsapp:state"

type StateChange struct {
	Key   string
	State State
	JID   string
}

const eventQueueSize = 256

type sessionEvent struct {
	gen uint64
	evt interface{}
}

// Session owns one account connection. Protocol events are queued and
// handled by a single goroutine; outbound commands run on the caller.
type Session struct {
	key   string
	svc   *Service
	chats *ChatStateStore

	state  atomic.Int32
	gen    atomic.Uint64
	events chan sessionEvent

	ctx    context.Context
	cancel context.CancelFunc

	limiter *rate.Limiter
	breaker *gobreaker.TwoStepCircuitBreaker

	// openMu serializes connection attempts.
	openMu sync.Mutex
	// credsMu orders credential writes against terminal cleanup.
	credsMu sync.Mutex

	mu           sync.RWMutex
	webhook      string
	allowWebhook bool
	qr           string
	qrRetry      int
	conn         Conn
	unsubscribe  func()
	online       bool
	user         *Contact
	bo           *backoff.ExponentialBackOff
	attemptDone  func(success bool)
	stable       *time.Timer
}

func newSession(svc *Service, key, webhookURL string, allowWebhook bool) *Session {
	rc := svc.cfg.Instance.Reconnect
	bo := backoff.NewExponentialBackOff()
	if rc.InitialInterval > 0 {
		bo.InitialInterval = rc.InitialInterval
	}
	if rc.MaxInterval > 0 {
		bo.MaxInterval = rc.MaxInterval
	}
	if rc.Multiplier > 0 {
		bo.Multiplier = rc.Multiplier
	}
	if rc.Randomization > 0 {
		bo.RandomizationFactor = rc.Randomization
	}
	bo.MaxElapsedTime = 0
	bo.Reset()

	threshold := rc.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}
	breaker := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     rc.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("whatsapp: reconnect breaker state changed",
				zap.String("key", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	var limiter *rate.Limiter
	if svc.cfg.Instance.SendRate > 0 {
		burst := svc.cfg.Instance.SendBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(svc.cfg.Instance.SendRate), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		key:          key,
		svc:          svc,
		chats:        NewChatStateStore(key, svc.docs),
		events:       make(chan sessionEvent, eventQueueSize),
		ctx:          ctx,
		cancel:       cancel,
		limiter:      limiter,
		breaker:      breaker,
		webhook:      webhookURL,
		allowWebhook: allowWebhook,
		bo:           bo,
	}
}

func (s *Session) Key() string { return s.key }

func (s *Session) State() State { return State(s.state.Load()) }

// Online reports whether the connection is open.
func (s *Session) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// QRExpired replaces the pairing code once the QR budget is spent.
const QRExpired = " "

// QR returns the last rendered pairing code, QRExpired once the budget is
// spent.
func (s *Session) QR() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qr
}

// Chats exposes the reconciled snapshot.
func (s *Session) Chats() *ChatStateStore { return s.chats }

type InstanceInfo struct {
	InstanceKey    string   `json:"instance_key"`
	PhoneConnected bool     `json:"phone_connected"`
	WebhookURL     string   `json:"webhookUrl"`
	User           *Contact `json:"user"`
}

func (s *Session) Info() InstanceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := InstanceInfo{
		InstanceKey:    s.key,
		PhoneConnected: s.online,
		WebhookURL:     s.webhook,
		User:           &Contact{},
	}
	if s.online && s.user != nil {
		u := *s.user
		info.User = &u
	}
	return info
}

func (s *Session) setState(st State) bool {
	for {
		cur := s.state.Load()
		if State(cur) == StateTerminated {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			if State(cur) != st {
				s.publish(st)
			}
			return true
		}
	}
}

func (s *Session) publish(st State) {
	jid := ""
	s.mu.RLock()
	if s.user != nil {
		jid = s.user.ID
	}
	s.mu.RUnlock()
	s.svc.bus.Publish(TopicStateChanged, StateChange{Key: s.key, State: st, JID: jid})
}

func (s *Session) start() {
	go s.loop()
	go s.open()
}

// open starts a new connection attempt. Events of earlier attempts are
// discarded from here on.
func (s *Session) open() {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	s.detach()
	gen := s.gen.Add(1)
	if !s.setState(StateConnecting) {
		return
	}

	creds, err := s.svc.docs.Get(s.ctx, store.CollectionCreds, s.key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.fail(gen, errors.Wrap(err, "load creds"))
		return
	}
	conn, err := s.svc.dialer.Dial(s.ctx, s.key, creds)
	if err != nil {
		s.fail(gen, errors.Wrap(err, "dial"))
		return
	}
	unsub := conn.Subscribe(s.handler(gen))

	s.mu.Lock()
	s.conn = conn
	s.unsubscribe = unsub
	s.mu.Unlock()

	if err := conn.Connect(s.ctx); err != nil {
		s.fail(gen, errors.Wrap(err, "connect"))
	}
}

// fail turns a failed attempt into a close so the state machine handles it.
func (s *Session) fail(gen uint64, err error) {
	zap.L().Warn("whatsapp: connection attempt failed", zap.String("key", s.key), zap.Error(err))
	s.enqueue(sessionEvent{gen: gen, evt: &ConnectionUpdate{Connection: ConnClose, Reason: err.Error()}})
}

func (s *Session) handler(gen uint64) func(evt interface{}) {
	return func(evt interface{}) {
		if s.gen.Load() != gen {
			return
		}
		if cu, ok := evt.(*CredsUpdate); ok {
			s.saveCreds(gen, cu.Creds)
			return
		}
		s.enqueue(sessionEvent{gen: gen, evt: evt})
	}
}

func (s *Session) enqueue(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) saveCreds(gen uint64, blob []byte) {
	s.credsMu.Lock()
	defer s.credsMu.Unlock()
	if s.gen.Load() != gen || s.State() == StateTerminated {
		return
	}
	if err := s.svc.docs.Put(s.ctx, store.CollectionCreds, s.key, blob); err != nil {
		zap.L().Error("whatsapp: persist creds failed", zap.String("key", s.key), zap.Error(err))
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			if ev.gen != s.gen.Load() {
				continue
			}
			s.handle(ev.evt)
		}
	}
}

func (s *Session) handle(evt interface{}) {
	ctx := s.ctx
	switch e := evt.(type) {
	case *ConnectionUpdate:
		s.onConnectionUpdate(e)
	case *ChatsSet:
		_ = s.chats.Set(ctx, e.Chats)
		s.dispatch(webhook.EventChatsSet, map[string]interface{}{"data": e.Chats})
		go s.refreshGroups(s.gen.Load())
	case *ChatsUpsert:
		_ = s.chats.Upsert(ctx, e.Chats)
	case *ChatsUpdate:
		_ = s.chats.Update(ctx, e.Patches)
	case *ChatsDelete:
		_ = s.chats.Delete(ctx, e.IDs)
	case *MessagesUpsert:
		s.onMessages(e)
	case *MessagesUpdate:
		s.dispatch(webhook.EventMessagesUpdate, map[string]interface{}{"data": e.Updates})
	case *PresenceUpdate:
		s.dispatch(webhook.EventPresence, e)
	case *CallOffer:
		s.dispatch(webhook.EventCallOffer, map[string]interface{}{
			"id":        e.ID,
			"timestamp": e.Timestamp,
			"user": map[string]interface{}{
				"id":               e.From,
				"platform":         e.Platform,
				"platform_version": e.PlatformVersion,
			},
		})
	case *CallTerminate:
		s.dispatch(webhook.EventCallTerminate, map[string]interface{}{
			"id":        e.ID,
			"user":      map[string]interface{}{"id": e.From},
			"timestamp": e.Timestamp,
			"reason":    e.Reason,
		})
	case *GroupsUpsert:
		_ = s.chats.GroupCreated(ctx, e.Groups)
		s.dispatch(webhook.EventGroupCreated, map[string]interface{}{"data": e.Groups})
	case *GroupsUpdate:
		_ = s.chats.SubjectUpdated(ctx, e.Updates)
		s.dispatch(webhook.EventGroupUpdated, map[string]interface{}{"data": e.Updates})
	case *GroupParticipantsUpdate:
		_ = s.chats.ParticipantsUpdated(ctx, e)
		s.dispatch(webhook.EventGroupParticipantsUpdated, map[string]interface{}{"data": e})
	default:
		zap.L().Debug("whatsapp: unhandled event", zap.String("key", s.key), zap.Any("event", evt))
	}
}

// refreshGroups re-derives group metadata after a bulk chat set.
func (s *Session) refreshGroups(gen uint64) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil || s.gen.Load() != gen {
		return
	}
	groups, err := conn.GroupFetchAllParticipating(s.ctx)
	if err != nil {
		zap.L().Warn("whatsapp: fetch participating groups failed", zap.String("key", s.key), zap.Error(err))
		return
	}
	if s.gen.Load() != gen {
		return
	}
	_ = s.chats.MergeGroups(s.ctx, groups)
}

func (s *Session) onConnectionUpdate(e *ConnectionUpdate) {
	switch e.Connection {
	case ConnOpen:
		s.onOpen()
	case ConnClose:
		s.onClose(e.Reason)
		return
	}
	if e.QR != "" {
		s.onQR(e.QR)
	}
}

func (s *Session) onOpen() {
	s.mu.Lock()
	if s.conn != nil {
		s.user = s.conn.User()
	}
	s.mu.Unlock()
	if !s.setState(StateOpen) {
		return
	}
	if err := s.chats.Ensure(s.ctx); err != nil {
		zap.L().Warn("whatsapp: ensure chat snapshot failed", zap.String("key", s.key), zap.Error(err))
	}

	gen := s.gen.Load()
	s.mu.Lock()
	s.online = true
	s.qr = ""
	s.qrRetry = 0
	if s.stable != nil {
		s.stable.Stop()
	}
	s.stable = time.AfterFunc(s.svc.cfg.Instance.Reconnect.StableAfter, func() {
		if s.gen.Load() != gen || s.State() != StateOpen {
			return
		}
		s.settle(true)
		s.mu.Lock()
		s.bo.Reset()
		s.mu.Unlock()
	})
	s.mu.Unlock()

	zap.L().Info("whatsapp: connection open", zap.String("key", s.key))
	s.dispatch(webhook.EventConnection, map[string]interface{}{"data": ConnOpen})
}

func (s *Session) onClose(reason string) {
	if !s.setState(StateClosing) {
		return
	}
	s.mu.Lock()
	s.online = false
	if s.stable != nil {
		s.stable.Stop()
	}
	s.mu.Unlock()
	s.settle(false)

	zap.L().Info("whatsapp: connection closed", zap.String("key", s.key), zap.String("reason", reason))
	s.dispatch(webhook.EventConnection, map[string]interface{}{"data": ConnClose, "reason": reason})

	if reason == ReasonLoggedOut {
		s.terminate()
		return
	}
	if s.setState(StateReconnecting) {
		go s.reconnect(s.gen.Load())
	}
}

func (s *Session) onQR(code string) {
	url, err := s.svc.renderer.Render(code)
	if err != nil {
		zap.L().Warn("whatsapp: render qr failed", zap.String("key", s.key), zap.Error(err))
	}
	s.mu.Lock()
	s.qr = url
	s.qrRetry++
	spent := s.qrRetry >= s.svc.cfg.Instance.MaxRetryQR
	s.mu.Unlock()
	if !spent {
		return
	}

	s.gen.Add(1)
	s.detach()
	s.mu.Lock()
	s.qr = QRExpired
	s.mu.Unlock()
	s.settle(false)
	s.setState(StateClosing)
	zap.L().Info("whatsapp: qr budget spent, connection terminated", zap.String("key", s.key))
}

// settle reports the outcome of the pending reconnect attempt to the breaker.
func (s *Session) settle(success bool) {
	s.mu.Lock()
	done := s.attemptDone
	s.attemptDone = nil
	s.mu.Unlock()
	if done != nil {
		done(success)
	}
}

// reconnect waits out the backoff and breaker before opening again.
func (s *Session) reconnect(gen uint64) {
	for {
		s.mu.Lock()
		wait := s.bo.NextBackOff()
		s.mu.Unlock()
		if !sleepCtx(s.ctx, wait) || s.gen.Load() != gen {
			return
		}
		done, err := s.breaker.Allow()
		if err != nil {
			zap.L().Warn("whatsapp: reconnect paused by breaker", zap.String("key", s.key), zap.Error(err))
			if !sleepCtx(s.ctx, s.svc.cfg.Instance.Reconnect.BreakerTimeout) {
				return
			}
			continue
		}
		if s.gen.Load() != gen {
			done(false)
			return
		}
		s.mu.Lock()
		s.attemptDone = done
		s.mu.Unlock()
		zap.L().Info("whatsapp: reconnecting", zap.String("key", s.key))
		s.open()
		return
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// detach unsubscribes and drops the current connection.
func (s *Session) detach() {
	s.mu.Lock()
	conn, unsub := s.conn, s.unsubscribe
	s.conn, s.unsubscribe = nil, nil
	s.online = false
	if s.stable != nil {
		s.stable.Stop()
	}
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if conn != nil {
		conn.Close()
	}
}

// terminate wipes credentials and the chat snapshot. The session stays inert.
func (s *Session) terminate() {
	s.credsMu.Lock()
	if !s.setState(StateTerminated) {
		s.credsMu.Unlock()
		return
	}
	s.gen.Add(1)
	s.detach()
	if err := s.svc.docs.Delete(s.ctx, store.CollectionCreds, s.key); err != nil {
		zap.L().Error("whatsapp: delete creds failed", zap.String("key", s.key), zap.Error(err))
	}
	s.credsMu.Unlock()

	if err := s.chats.Drop(s.ctx); err != nil {
		zap.L().Error("whatsapp: drop chat snapshot failed", zap.String("key", s.key), zap.Error(err))
	}
	s.mu.Lock()
	s.qr = ""
	s.user = nil
	s.mu.Unlock()
	s.settle(false)
	s.cancel()
	zap.L().Info("whatsapp: session terminated", zap.String("key", s.key))
}

// Restart drops the current attempt and opens a fresh one with a new QR budget.
func (s *Session) Restart() error {
	if s.State() == StateTerminated {
		return ErrSessionTerminated
	}
	s.mu.Lock()
	s.qr = ""
	s.qrRetry = 0
	s.bo.Reset()
	s.mu.Unlock()
	// a requested restart is not a failed reconnect
	s.settle(true)
	go s.open()
	return nil
}

// Logout signs the account out and closes the session as logged out, which
// runs terminal cleanup. The protocol's own close event is dropped so the
// close is reported once.
func (s *Session) Logout(ctx context.Context) error {
	if s.State() == StateTerminated {
		return nil
	}
	s.gen.Add(1)
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	var err error
	if conn != nil {
		err = conn.Logout(ctx)
		if err != nil {
			zap.L().Warn("whatsapp: protocol logout failed", zap.String("key", s.key), zap.Error(err))
		}
	}
	s.onClose(ReasonLoggedOut)
	s.terminate()
	return errors.Wrap(err, "logout")
}

// Close drops the connection without touching stored state.
func (s *Session) Close(ctx context.Context) error {
	defer s.cancel()
	s.gen.Add(1)
	s.setState(StateClosing)
	done := make(chan struct{})
	go func() {
		s.detach()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// target resolves the webhook URL, empty when delivery is off.
func (s *Session) target() string {
	d := s.svc.dispatcher
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !d.ForceEnabled() && !s.allowWebhook {
		return ""
	}
	if s.webhook != "" {
		return s.webhook
	}
	return d.DefaultTarget()
}

func (s *Session) dispatch(eventType string, body interface{}) {
	s.svc.dispatcher.Dispatch(s.target(), s.key, eventType, body)
}

var internalKinds = map[string]bool{
	"protocolMessage":              true,
	"senderKeyDistributionMessage": true,
}

var inlineKinds = map[string]bool{
	"imageMessage": true,
	"videoMessage": true,
	"audioMessage": true,
}

func (s *Session) onMessages(e *MessagesUpsert) {
	if e.Type != UpsertNotify || len(e.Messages) == 0 {
		return
	}
	target := s.target()
	if target == "" || !s.svc.dispatcher.Enabled(webhook.EventMessage) {
		return
	}
	device := DeviceFromMessageID(e.Messages[0].Key.ID)
	for _, m := range e.Messages {
		if m == nil || m.Kind == "" || internalKinds[m.Kind] {
			continue
		}
		body := map[string]interface{}{
			"key":              m.Key,
			"userDevice":       device,
			"message":          m.Content,
			"messageType":      m.Kind,
			"pushName":         m.PushName,
			"messageTimestamp": m.Timestamp,
		}
		if m.Kind == "conversation" || m.Kind == "extendedTextMessage" {
			body["text"] = m.Text
		}
		if !s.svc.dispatcher.InlineMedia() {
			s.svc.dispatcher.Dispatch(target, s.key, webhook.EventMessage, body)
			continue
		}
		if !inlineKinds[m.Kind] {
			body["msgContent"] = ""
			s.svc.dispatcher.Dispatch(target, s.key, webhook.EventMessage, body)
			continue
		}
		s.inlineMedia(target, m, body)
	}
}

// inlineMedia downloads off the event goroutine and dispatches when done.
func (s *Session) inlineMedia(target string, m *InboundMessage, body map[string]interface{}) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	ok := s.svc.dispatcher.Go(func() {
		body["msgContent"] = ""
		if conn != nil {
			data, err := conn.DownloadMedia(s.ctx, m)
			if err != nil {
				zap.L().Warn("whatsapp: media download failed", zap.String("key", s.key), zap.String("id", m.Key.ID), zap.Error(err))
			} else {
				body["msgContent"] = base64.StdEncoding.EncodeToString(data)
			}
		}
		s.svc.dispatcher.Dispatch(target, s.key, webhook.EventMessage, body)
	})
	if !ok {
		zap.L().Warn("whatsapp: media enrichment dropped", zap.String("key", s.key), zap.String("id", m.Key.ID))
	}
}
