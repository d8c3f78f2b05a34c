package whatsapp

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/app"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/store"
	"github.com/talkincode/wagateway/internal/webhook"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options wires a Service. Repo may be nil, in which case instance rows are
// not kept and Restore starts sessions without their webhook settings.
type Options struct {
	Config     *config.AppConfig
	Dialer     Dialer
	Docs       store.DocumentStore
	Dispatcher *webhook.Dispatcher
	Repo       InstanceRepository
	Renderer   QRRenderer
	Media      MediaFetcher
}

// Service is the registry of live sessions.
type Service struct {
	cfg        *config.AppConfig
	dialer     Dialer
	docs       store.DocumentStore
	dispatcher *webhook.Dispatcher
	repo       InstanceRepository
	renderer   QRRenderer
	media      MediaFetcher
	bus        EventBus.Bus

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewService(opts Options) *Service {
	if opts.Renderer == nil {
		opts.Renderer = DataURLRenderer{}
	}
	if opts.Media.Client == nil {
		opts.Media.Client = &http.Client{Timeout: 60 * time.Second}
	}
	svc := &Service{
		cfg:        opts.Config,
		dialer:     opts.Dialer,
		docs:       opts.Docs,
		dispatcher: opts.Dispatcher,
		repo:       opts.Repo,
		renderer:   opts.Renderer,
		media:      opts.Media,
		bus:        EventBus.New(),
		sessions:   make(map[string]*Session),
	}
	if svc.repo != nil {
		if err := svc.bus.SubscribeAsync(TopicStateChanged, svc.recordState, true); err != nil {
			zap.L().Error("whatsapp: subscribe state topic failed", zap.Error(err))
		}
	}
	return svc
}

// New builds the service on top of the application: the shared database
// backs the instance rows, the application scheduler runs the housekeeping
// jobs. A nil renderer produces PNG data URLs.
func New(a app.AppContext, dialer Dialer, renderer QRRenderer) (*Service, error) {
	cfg := a.Config()
	dispatcher, err := webhook.NewDispatcher(cfg)
	if err != nil {
		return nil, err
	}
	repo, err := NewGormInstanceRepository(a.DB(), 1)
	if err != nil {
		dispatcher.Release()
		return nil, err
	}
	svc := NewService(Options{
		Config:     cfg,
		Dialer:     dialer,
		Docs:       a.Docs(),
		Dispatcher: dispatcher,
		Repo:       repo,
		Renderer:   renderer,
	})
	if err := svc.registerJobs(a); err != nil {
		dispatcher.Release()
		return nil, err
	}
	return svc, nil
}

func (s *Service) registerJobs(a app.SchedulerProvider) error {
	sched := a.Scheduler()
	if sched == nil {
		return nil
	}
	if _, err := sched.AddFunc("@every 30s", s.logStats); err != nil {
		return errors.Wrap(err, "whatsapp: schedule stats job")
	}
	if _, err := sched.AddFunc("@daily", func() {
		defer func() {
			if err := recover(); err != nil {
				zap.S().Error(err)
			}
		}()
		s.purge(context.Background())
	}); err != nil {
		return errors.Wrap(err, "whatsapp: schedule purge job")
	}
	return nil
}

// Stats counts sessions per state.
func (s *Service) Stats() map[string]int {
	stats := map[string]int{}
	for _, sess := range s.All() {
		stats[sess.State().String()]++
	}
	return stats
}

// FetchMedia loads a media reference the way send operations do.
func (s *Service) FetchMedia(ctx context.Context, ref string) ([]byte, string, error) {
	return s.media.Fetch(ctx, ref)
}

func (s *Service) logStats() {
	stats := s.Stats()
	zap.L().Info("whatsapp: sessions",
		zap.Int("open", stats[StateOpen.String()]),
		zap.Int("connecting", stats[StateConnecting.String()]),
		zap.Int("reconnecting", stats[StateReconnecting.String()]),
		zap.Int("closing", stats[StateClosing.String()]),
		zap.Int("terminated", stats[StateTerminated.String()]),
		zap.Int("webhook_workers", s.dispatcher.Running()))
}

func (s *Service) purge(ctx context.Context) {
	days := s.cfg.Instance.PurgeAfterDays
	if s.repo == nil || days <= 0 {
		return
	}
	n, err := s.repo.PurgeTerminated(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		zap.L().Error("whatsapp: purge instances failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("whatsapp: purged terminated instances", zap.Int64("count", n))
	}
}

func (s *Service) recordState(change StateChange) {
	if err := s.repo.UpdateStatus(context.Background(), change.Key, change.State.String(), change.JID); err != nil {
		zap.L().Warn("whatsapp: record instance state failed", zap.String("key", change.Key), zap.Error(err))
	}
}

// Create registers and starts a session. It returns before the connection
// is open. An empty key gets a random one.
func (s *Service) Create(ctx context.Context, key, webhookURL string, allowWebhook bool) (*Session, error) {
	if key == "" {
		key = uuid.NewString()
	}
	s.mu.Lock()
	if cur, ok := s.sessions[key]; ok && cur.State() != StateTerminated {
		s.mu.Unlock()
		return nil, ErrDuplicateSession
	}
	sess := newSession(s, key, webhookURL, allowWebhook)
	s.sessions[key] = sess
	s.mu.Unlock()

	if s.repo != nil {
		err := s.repo.Save(ctx, &domain.WhatsAppInstance{
			Key:          key,
			WebhookURL:   webhookURL,
			AllowWebhook: allowWebhook,
			Status:       domain.InstanceConnecting,
		})
		if err != nil {
			s.remove(key, sess)
			sess.cancel()
			return nil, errors.Wrap(err, "whatsapp: save instance")
		}
	}
	sess.start()
	zap.L().Info("whatsapp: session created", zap.String("key", key))
	return sess, nil
}

func (s *Service) remove(key string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[key] == sess {
		delete(s.sessions, key)
	}
}

func (s *Service) Get(key string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// All returns the sessions ordered by key.
func (s *Service) All() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func (s *Service) Keys() []string {
	all := s.All()
	keys := make([]string, len(all))
	for i, sess := range all {
		keys[i] = sess.key
	}
	return keys
}

// Restore starts one session per stored credential set and returns the
// restored keys.
func (s *Service) Restore(ctx context.Context) ([]string, error) {
	keys, err := s.docs.Keys(ctx, store.CollectionCreds)
	if err != nil {
		return nil, errors.Wrap(err, "whatsapp: list stored sessions")
	}
	var (
		mu       sync.Mutex
		restored []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			webhookURL, allow := "", false
			if s.repo != nil {
				inst, err := s.repo.GetByKey(gctx, key)
				if err != nil {
					return errors.Wrapf(err, "whatsapp: load instance %s", key)
				}
				if inst != nil {
					webhookURL, allow = inst.WebhookURL, inst.AllowWebhook
				}
			}
			if _, err := s.Create(gctx, key, webhookURL, allow); err != nil {
				if errors.Is(err, ErrDuplicateSession) {
					return nil
				}
				return err
			}
			mu.Lock()
			restored = append(restored, key)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	sort.Strings(restored)
	zap.L().Info("whatsapp: sessions restored", zap.Int("count", len(restored)))
	return restored, err
}

// Logout signs the session out; the entry stays as terminated.
func (s *Service) Logout(ctx context.Context, key string) error {
	sess, err := s.Get(key)
	if err != nil {
		return err
	}
	return sess.Logout(ctx)
}

// Delete logs the session out when possible and forgets it.
func (s *Service) Delete(ctx context.Context, key string) error {
	sess, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := sess.Logout(ctx); err != nil {
		zap.L().Warn("whatsapp: logout before delete failed", zap.String("key", key), zap.Error(err))
	}
	s.remove(key, sess)
	if s.repo != nil {
		s.bus.WaitAsync()
		if err := s.repo.Delete(ctx, key); err != nil {
			return errors.Wrap(err, "whatsapp: delete instance")
		}
	}
	zap.L().Info("whatsapp: session deleted", zap.String("key", key))
	return nil
}

// Shutdown closes every live connection, keeping credentials for Restore.
func (s *Service) Shutdown(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range s.All() {
		sess := sess
		if sess.State() == StateTerminated {
			continue
		}
		g.Go(func() error {
			return sess.Close(gctx)
		})
	}
	err := g.Wait()
	s.bus.WaitAsync()
	if s.dispatcher != nil {
		s.dispatcher.Release()
	}
	return err
}
