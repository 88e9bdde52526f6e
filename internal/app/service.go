// Package service assembles the bridge from configuration: ingress, dedupe,
// queue, scoring worker, archive, token broker and reduction notifier.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/okian/swapbridge/internal/adapters/http/api"
	"github.com/okian/swapbridge/internal/adapters/http/swagger"
	"github.com/okian/swapbridge/internal/adapters/mq/queue"
	"github.com/okian/swapbridge/internal/adapters/mq/worker"
	"github.com/okian/swapbridge/internal/adapters/reduction"
	"github.com/okian/swapbridge/internal/adapters/repository"
	"github.com/okian/swapbridge/internal/address"
	"github.com/okian/swapbridge/internal/auth"
	"github.com/okian/swapbridge/internal/config"
	"github.com/okian/swapbridge/internal/domain/dedupe"
	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/internal/domain/scoring"
	"github.com/okian/swapbridge/pkg/logger"
	"github.com/okian/swapbridge/pkg/metrics"
)

var (
	// ErrNotStarted is returned by operations that need a running service.
	ErrNotStarted = errors.New("service not started")
	// ErrStopped is returned by Start after Stop; a service runs once.
	ErrStopped = errors.New("service stopped")
)

// Service owns every component of one bridge process.
type Service struct {
	mu sync.RWMutex

	cfg   *config.Config
	addrs address.Addresses

	// Core components
	deduper  dedupe.Deduper
	queue    *queue.InMemoryQueue
	engine   scoring.Engine
	archive  *repository.SQLiteStore
	bridge   *worker.Bridge
	gate     *auth.Gate
	broker   *auth.Broker
	notifier *reduction.Notifier
	server   *api.Server

	// Outbound plumbing
	httpClient *http.Client
	prompter   auth.Prompter

	started bool
	stopped bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHTTPClient sets the client used for token exchange and notifications.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithPrompter sets the prompter used for interactive login.
func WithPrompter(p auth.Prompter) Option {
	return func(s *Service) {
		s.prompter = p
	}
}

// WithEngine replaces the SWAP engine built from configuration.
func WithEngine(e scoring.Engine) Option {
	return func(s *Service) {
		if e != nil {
			s.engine = e
		}
	}
}

// New builds the service from cfg. Nothing runs and nothing is opened until
// Start; Login and Register work before Start.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.prompter == nil && cfg.AuthInteractive {
		s.prompter = auth.NewTerminalPrompter()
	}

	s.addrs = address.Resolve(cfg.AddressParams())
	s.deduper = dedupe.NewWindowDeduper()
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(cfg.QueueSize))
	if s.engine == nil {
		s.engine = scoring.NewSWAP(
			scoring.WithPrior(cfg.ScoringPrior),
			scoring.WithRetirement(cfg.RetireLow, cfg.RetireHigh),
		)
	}
	s.gate = auth.NewGate(cfg.InboundCredential(), auth.WithRealm(cfg.AuthRealm))

	brokerOpts := []auth.BrokerOption{
		auth.WithCredential(cfg.OutboundCredential()),
		auth.WithBrokerLogger(s.logger.Named("auth")),
	}
	if s.prompter != nil {
		brokerOpts = append(brokerOpts, auth.WithPrompter(s.prompter))
	}
	s.broker = auth.NewBroker(
		auth.NewOAuthExchanger(cfg.AuthEndpoint, cfg.AuthClientID, s.httpClient),
		brokerOpts...,
	)

	s.notifier = reduction.NewNotifier(s.addrs, cfg.Project, cfg.ReducerName, s.broker,
		reduction.WithHTTPClient(s.httpClient),
		reduction.WithTimeout(cfg.NotifyTimeout()),
		reduction.WithRetries(cfg.NotifyRetries, cfg.NotifyBackoff()),
		reduction.WithField(cfg.ReductionField),
		reduction.WithLogger(s.logger.Named("notifier")),
	)
	return s
}

// Start opens the archive, replays it, starts the scoring worker and, when
// configured, registers the bridge with the reduction service. The worker
// outlives ctx and runs until Stop, so in-flight requests drain first.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting bridge service...",
		logger.String("project", s.cfg.Project),
		logger.String("extractor", address.Redact(s.addrs.Extractor)),
		logger.String("reduction", s.addrs.Reduction),
	)

	bridgeOpts := []worker.Option{
		worker.WithLogger(s.logger.Named("worker")),
		// replayed ids fill the window so redeliveries after a restart are dropped
		worker.WithReplayHook(func(ev model.ClassificationEvent) {
			s.deduper.SeenAndRecord(ctx, ev.ID)
		}),
	}
	if s.cfg.ArchivePath != "" {
		store, err := repository.Open(ctx, s.cfg.ArchivePath, repository.WithLogger(s.logger.Named("archive")))
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		s.archive = store
		bridgeOpts = append(bridgeOpts, worker.WithArchive(store))
	}

	s.bridge = worker.NewBridge(s.queue, s.engine, bridgeOpts...)
	if err := s.bridge.Start(context.WithoutCancel(ctx)); err != nil {
		s.closeArchive(ctx)
		return fmt.Errorf("start worker: %w", err)
	}

	var notify queue.Callback
	if s.cfg.NotifyEnabled {
		notify = s.notifier.Notify
	}
	s.server = api.NewServer(s.deduper, s.bridge, s.gate,
		api.WithNotifier(notify),
		api.WithStatus(s.status),
		api.WithHandler("/openapi.yaml", swagger.Handler()),
		api.WithLogger(s.logger.Named("api")),
	)

	if s.cfg.RegisterOnStart {
		if err := s.register(ctx); err != nil {
			s.logger.Error(ctx, "registration failed; continuing without it", logger.Error(err))
		}
	}

	s.started = true
	metrics.UpdateQueueCapacity(s.queue.Capacity())
	s.logger.Info(ctx, "bridge service started",
		logger.Int("queueSize", s.queue.Capacity()),
		logger.Bool("notify", s.cfg.NotifyEnabled),
		logger.Bool("archive", s.archive != nil),
		logger.Int64("replayed", s.bridge.Processed()),
	)
	return nil
}

// Stop stops the worker after its current item and closes the archive.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(ctx, "stopping bridge service...")

	if err := s.bridge.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker did not stop cleanly", logger.Error(err))
	}
	_ = s.queue.Close()
	s.closeArchive(ctx)

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "bridge service stopped")
}

func (s *Service) closeArchive(ctx context.Context) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Close(); err != nil {
		s.logger.Warn(ctx, "closing archive", logger.Error(err))
	}
	s.archive = nil
}

// Handler returns the HTTP routes. It is only valid after Start.
func (s *Service) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.server == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, ErrNotStarted.Error(), http.StatusServiceUnavailable)
		})
	}
	return s.server.Routes()
}

// Login replaces the outbound bearer token. With interactive set the
// operator is prompted when no credentials are configured.
func (s *Service) Login(ctx context.Context, interactive bool) error {
	if _, err := s.broker.Login(ctx, interactive); err != nil {
		return err
	}
	s.logger.Info(ctx, "logged in to reduction service")
	return nil
}

// Register tells the reduction service where to deliver classifications and
// which reducer this bridge feeds.
func (s *Service) Register(ctx context.Context) error {
	return s.register(ctx)
}

func (s *Service) register(ctx context.Context) error {
	if s.cfg.WorkflowID <= 0 {
		return fmt.Errorf("%w: workflow_id must be positive to register", config.ErrInvalidConfig)
	}
	if err := s.notifier.Register(ctx); err != nil {
		return err
	}
	s.logger.Info(ctx, "registered with reduction service",
		logger.String("root", s.addrs.Root),
		logger.String("project", s.cfg.Project),
	)
	return nil
}

// Addresses returns the resolved remote and extractor addresses.
func (s *Service) Addresses() address.Addresses {
	return s.addrs
}

// Scores returns the latest published snapshot.
func (s *Service) Scores() model.ScoreSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bridge == nil {
		return s.engine.Snapshot()
	}
	return s.bridge.Scores()
}

// Status renders the status line served on / and /status.
func (s *Service) Status(ctx context.Context) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bridge == nil {
		return fmt.Sprintf("%s bridge: state=stopped", s.cfg.Project)
	}
	return s.status(ctx)
}

func (s *Service) status(ctx context.Context) string {
	return fmt.Sprintf("%s bridge: state=%s processed=%d queued=%d subjects=%d",
		s.cfg.Project,
		s.bridge.State(),
		s.bridge.Processed(),
		s.bridge.Queued(ctx),
		len(s.bridge.Scores().Subjects),
	)
}

// GetStats returns service statistics for monitoring and refreshes the
// gauges derived from them.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":    s.started,
		"project":    s.cfg.Project,
		"queueSize":  s.queue.Capacity(),
		"dedupeSize": s.deduper.Size(),
	}

	if s.started {
		queued := s.bridge.Queued(ctx)
		subjects := len(s.bridge.Scores().Subjects)

		stats["state"] = s.bridge.State().String()
		stats["processed"] = s.bridge.Processed()
		stats["queueLength"] = queued
		stats["subjects"] = subjects

		metrics.UpdateQueueSize(queued)
		metrics.UpdateSubjectsTracked(subjects)
	}

	return stats
}
