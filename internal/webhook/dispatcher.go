package webhook

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/config"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event categories; each one is toggled independently in config.
const (
	EventConnection               = "connection"
	EventPresence                 = "presence"
	EventChatsSet                 = "chats.set"
	EventMessage                  = "message"
	EventMessagesUpdate           = "messages.update"
	EventCallOffer                = "call_offer"
	EventCallTerminate            = "call_terminate"
	EventGroupCreated             = "group_created"
	EventGroupUpdated             = "group_updated"
	EventGroupParticipantsUpdated = "group_participants_updated"
)

// Envelope is the JSON document POSTed to a webhook target.
type Envelope struct {
	Type        string      `json:"type"`
	Body        interface{} `json:"body"`
	InstanceKey string      `json:"instance_key"`
	BearerToken string      `json:"bearer_token"`
	APIURL      string      `json:"api_url"`
}

// Dispatcher delivers envelopes at most once. Delivery runs on a bounded
// goroutine pool so a slow target never stalls the caller.
type Dispatcher struct {
	cfg    config.WebhookConfig
	token  string
	appURL string
	client *http.Client
	pool   *ants.Pool
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(cfg *config.AppConfig) (*Dispatcher, error) {
	workers := cfg.Webhook.Workers
	if workers <= 0 {
		workers = 64
	}
	timeout := cfg.Webhook.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true), ants.WithPanicHandler(func(p interface{}) {
		zap.L().Error("webhook: task panic", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, errors.Wrap(err, "webhook: create pool")
	}
	return &Dispatcher{
		cfg:    cfg.Webhook,
		token:  cfg.Web.Token,
		appURL: cfg.Web.AppURL,
		client: &http.Client{Timeout: timeout},
		pool:   pool,
	}, nil
}

// Enabled reports whether the category is switched on.
func (d *Dispatcher) Enabled(eventType string) bool {
	switch eventType {
	case EventConnection:
		return d.cfg.Connection
	case EventPresence:
		return d.cfg.Presence
	case EventChatsSet:
		return d.cfg.Chats
	case EventMessage:
		return d.cfg.Message
	case EventMessagesUpdate:
		return d.cfg.MessageUpdate
	case EventCallOffer:
		return d.cfg.CallOffer
	case EventCallTerminate:
		return d.cfg.CallTerminate
	case EventGroupCreated:
		return d.cfg.GroupCreated
	case EventGroupUpdated:
		return d.cfg.GroupUpdated
	case EventGroupParticipantsUpdated:
		return d.cfg.GroupParticipants
	}
	return false
}

// ForceEnabled reports whether webhooks are on for every session regardless
// of the per-session flag.
func (d *Dispatcher) ForceEnabled() bool {
	return d.cfg.Enabled
}

// DefaultTarget is used by sessions created without their own URL.
func (d *Dispatcher) DefaultTarget() string {
	return d.cfg.URL
}

// InlineMedia reports whether media messages are base64 inlined.
func (d *Dispatcher) InlineMedia() bool {
	return d.cfg.Base64
}

// Dispatch queues one POST of the envelope to target. It returns immediately;
// failures are logged and dropped.
func (d *Dispatcher) Dispatch(target, key, eventType string, body interface{}) {
	if target == "" || !d.Enabled(eventType) {
		return
	}
	payload, err := json.Marshal(Envelope{
		Type:        eventType,
		Body:        body,
		InstanceKey: key,
		BearerToken: d.token,
		APIURL:      d.appURL,
	})
	if err != nil {
		zap.L().Warn("webhook: marshal envelope failed", zap.Error(err), zap.String("key", key), zap.String("type", eventType))
		return
	}
	d.Go(func() {
		d.post(target, key, eventType, payload)
	})
}

func (d *Dispatcher) post(target, key, eventType string, payload []byte) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		zap.L().Debug("webhook: build request failed", zap.Error(err), zap.String("key", key))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		zap.L().Debug("webhook: delivery failed", zap.Error(err), zap.String("key", key), zap.String("type", eventType))
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		zap.L().Debug("webhook: target rejected event",
			zap.Int("status", resp.StatusCode), zap.String("key", key), zap.String("type", eventType))
	}
}

// Go runs task on the delivery pool. It returns false when the pool is
// saturated or released and the task was dropped.
func (d *Dispatcher) Go(task func()) bool {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return false
	}
	d.wg.Add(1)
	d.mu.RUnlock()
	err := d.pool.Submit(func() {
		defer d.wg.Done()
		task()
	})
	if err != nil {
		d.wg.Done()
		zap.L().Debug("webhook: task dropped", zap.Error(err))
		return false
	}
	return true
}

// Wait blocks until every queued task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Running returns the number of busy workers.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Release stops accepting tasks, waits for queued ones and frees the pool.
func (d *Dispatcher) Release() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
	d.pool.Release()
}
