package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/BearBump/BostaSync/config"
	"github.com/BearBump/BostaSync/internal/broker/kafka"
	"github.com/BearBump/BostaSync/internal/cache/rediscache"
	"github.com/BearBump/BostaSync/internal/integrations/bosta"
	"github.com/BearBump/BostaSync/internal/services/syncer"
	"github.com/BearBump/BostaSync/internal/storage/checkpoint"
	"github.com/BearBump/BostaSync/internal/storage/pgorders"
	"github.com/BearBump/BostaSync/internal/transform"
)

const (
	defaultOrdersSyncedTopic   = "orders.synced"
	defaultTrackCompletedTopic = "sync.track.completed"
)

// orderStore is what the worker needs from the relational store.
type orderStore interface {
	syncer.Store
	Ping(ctx context.Context) error
	GetPendingOrderState(ctx context.Context, trackingNumber string) (*pgorders.PendingOrderState, error)
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (store orderStore, closeFn func(), err error)
	newCheckpoint  func(cfg *config.Config) syncer.Checkpoint
	newAPI         func(cfg *config.Config) (api syncer.API, closeFn func(), err error)
	newPublisher   func(cfg *config.Config) (pub syncer.Publisher, closeFn func())
	newRateLimiter func(cfg *config.Config) syncer.RateLimiter
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (orderStore, func(), error) {
			st, err := pgorders.New(cfg.Database.DSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newCheckpoint: func(cfg *config.Config) syncer.Checkpoint {
			return checkpoint.NewFileStore(cfg.Sync.CheckpointPath)
		},
		newAPI: func(cfg *config.Config) (syncer.API, func(), error) {
			return newBostaClient(cfg)
		},
		newPublisher: func(cfg *config.Config) (syncer.Publisher, func()) {
			if !cfg.Kafka.Enabled() {
				slog.Info("kafka not configured, sync events are not published")
				return nil, func() {}
			}
			ordersTopic := cfg.Kafka.OrdersSyncedTopic
			if ordersTopic == "" {
				ordersTopic = defaultOrdersSyncedTopic
			}
			completedTopic := cfg.Kafka.TrackCompletedTopic
			if completedTopic == "" {
				completedTopic = defaultTrackCompletedTopic
			}
			producer := kafka.NewProducer([]string{cfg.Kafka.Addr()})
			return kafka.NewEventPublisher(producer, ordersTopic, completedTopic), func() { _ = producer.Close() }
		},
		newRateLimiter: func(cfg *config.Config) syncer.RateLimiter {
			if !cfg.Redis.Enabled() || cfg.Redis.DetailRateLimit <= 0 {
				return nil
			}
			window := time.Duration(cfg.Redis.DetailRateLimitSeconds) * time.Second
			if window <= 0 {
				window = time.Second
			}
			return rediscache.NewRateLimiter(cfg.Redis.Addr(), "bosta:rl:detail", int64(cfg.Redis.DetailRateLimit), window)
		},
	}
}

// newBostaClient собирает провайдер токена и клиент API.
// С Redis токен общий для всех воркеров, иначе лежит в файле.
func newBostaClient(cfg *config.Config) (*bosta.Client, func(), error) {
	baseURL := cfg.Bosta.BaseURL
	if baseURL == "" {
		baseURL = bosta.DefaultBaseURL
	}
	ttl := time.Duration(cfg.Bosta.TokenTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = bosta.DefaultTokenTTL
	}
	cooldown := time.Duration(cfg.Bosta.LoginCooldownSeconds) * time.Second
	timeout := time.Duration(cfg.Bosta.TimeoutSeconds) * time.Second

	creds := bosta.Credentials{Email: cfg.Bosta.Email, Password: cfg.Bosta.Password, APIKey: cfg.Bosta.APIKey}
	if creds.Email == "" && creds.APIKey == "" {
		return nil, nil, errors.Wrap(bosta.ErrNoCredentials, "bosta client")
	}

	var store bosta.TokenStore = bosta.NewFileTokenStore(cfg.Bosta.TokenCachePath)
	closeFn := func() {}
	if cfg.Redis.Enabled() {
		rc := rediscache.New(cfg.Redis.Addr())
		store = bosta.NewCacheTokenStore(rc, cfg.Redis.TokenKey, ttl)
		closeFn = func() { _ = rc.Close() }
	}

	provider := bosta.NewProvider(baseURL, creds, store).WithPolicy(ttl, cooldown)
	client := bosta.New(baseURL, provider, timeout).WithRetryPolicy(bosta.RetryPolicy{
		MaxAttempts: cfg.Bosta.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Bosta.BaseDelayMs) * time.Millisecond,
		Factor:      cfg.Bosta.BackoffFactor,
	})
	return client, closeFn, nil
}

type syncSettings struct {
	pageSize   int
	workers    int
	interval   time.Duration
	retryDelay time.Duration
	drainGrace time.Duration
	loc        *time.Location
}

func settingsFrom(cfg *config.Config) (syncSettings, error) {
	s := syncSettings{
		pageSize:   cfg.Sync.PageSize,
		workers:    cfg.Sync.Workers,
		interval:   time.Duration(cfg.Sync.IntervalMinutes) * time.Minute,
		retryDelay: time.Duration(cfg.Sync.RetryDelaySeconds) * time.Second,
		drainGrace: time.Duration(cfg.Sync.DrainGraceSeconds) * time.Second,
		loc:        transform.Cairo(),
	}
	if s.pageSize <= 0 {
		s.pageSize = 50
	}
	if s.workers <= 0 {
		s.workers = 20
	}
	if s.interval <= 0 {
		s.interval = 30 * time.Minute
	}
	if s.retryDelay <= 0 {
		s.retryDelay = time.Minute
	}
	if s.drainGrace <= 0 {
		s.drainGrace = 30 * time.Second
	}
	if cfg.Sync.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Sync.Timezone)
		if err != nil {
			return s, errors.Wrap(err, "sync timezone")
		}
		s.loc = loc
	}
	return s, nil
}

// RunSyncWorker wires the sync engine and its admin server and blocks until
// ctx is cancelled or one of them fails.
func RunSyncWorker(ctx context.Context, cfg *config.Config, f workerFactories, swaggerPath string) error {
	settings, err := settingsFrom(cfg)
	if err != nil {
		return err
	}

	store, closeStore, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	api, closeAPI, err := f.newAPI(cfg)
	if err != nil {
		return err
	}
	if closeAPI != nil {
		defer closeAPI()
	}

	pub, closePub := f.newPublisher(cfg)
	if closePub != nil {
		defer closePub()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cp := f.newCheckpoint(cfg)
	s := syncer.New(api, store, cp, transform.New(settings.loc)).
		WithSettings(settings.pageSize, settings.workers, settings.interval, settings.retryDelay, settings.drainGrace).
		WithMetrics(syncer.NewMetrics(reg))
	if pub != nil {
		s.WithPublisher(pub)
	}
	if rl := f.newRateLimiter(cfg); rl != nil {
		s.WithRateLimiter(rl)
	}

	slog.Info("sync worker starting",
		"page_size", settings.pageSize, "workers", settings.workers,
		"interval", settings.interval.String(), "timezone", settings.loc.String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runWorkerHTTPServer(gctx, workerHTTPOpts{
			httpAddr:    cfg.Sync.HTTPAddr,
			swaggerPath: swaggerPath,
			syncer:      s,
			store:       store,
			checkpoint:  cp,
			registry:    reg,
			cfg:         cfg,
		})
	})
	g.Go(func() error {
		return s.Run(gctx)
	})
	return g.Wait()
}
