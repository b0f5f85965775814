package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finsync/core/auth"
	"finsync/core/cache"
	"finsync/core/config"
	"finsync/core/database"
	"finsync/core/logger"
	"finsync/core/notify"
	"finsync/core/reconcile"
	"finsync/core/remote"
	"finsync/core/snapshot"
	"finsync/core/storage"
	"finsync/feature/aggregation"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *cache.Store
	policy   *reconcile.Policy
	locks    *reconcile.Locker
	bus      *reconcile.Bus
	notifier reconcile.Notifier
	registry *prometheus.Registry
	guard    *auth.Guard
	engines  *aggregation.Engines
	service  *aggregation.Service

	redis *redis.Client
}

// bootstrap loads the configuration and opens the cache. The remote client and the refresh
// service are only built when withRemote is set, so offline commands work without a base URL.
func bootstrap(ctx context.Context, withRemote bool) (*app, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	l, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      l,
		store:    cache.New(db),
		locks:    reconcile.NewLocker(),
		bus:      reconcile.NewBus(256),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := aggregation.Register(a.store); err != nil {
		return nil, err
	}
	if err := a.store.Migrate(ctx); err != nil {
		return nil, err
	}
	if a.policy, err = aggregation.NewPolicy(); err != nil {
		return nil, err
	}
	if err := a.store.VerifyEdges(a.policy); err != nil {
		return nil, err
	}

	a.notifier = a.bus
	if cfg.Notify.Enabled() {
		pub, client, err := notify.Connect(cfg.Notify, l)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.notifier = notify.Multi{a.bus, pub}
		l.Info("Publishing changes to Redis", zap.String("channel", cfg.Notify.Channel))
	}

	creds := cache.NewCredentialStore(db)
	if err := creds.Migrate(ctx); err != nil {
		return nil, err
	}
	a.guard = auth.NewGuardFromConfig(cfg.Auth, auth.NewOAuthRefresher(cfg.Auth, nil),
		auth.WithPersister(creds),
		auth.WithLogger(l.Named("auth")),
	)
	restored, err := a.guard.Restore(ctx)
	if err != nil {
		return nil, err
	}
	l.Debug("Credentials restored", zap.Bool("found", restored))

	a.engines, err = aggregation.NewEngines(reconcile.Deps{
		Store:    a.store,
		Policy:   a.policy,
		Locks:    a.locks,
		Notifier: a.notifier,
		Metrics:  reconcile.NewMetrics(cfg.Server.MetricsNamespace, a.registry),
		Logger:   l.Named("reconcile"),
	})
	if err != nil {
		return nil, err
	}

	if !withRemote {
		return a, nil
	}

	client, err := remote.NewClient(cfg.Remote, a.guard, nil, l.Named("remote"))
	if err != nil {
		return nil, err
	}
	enricher := aggregation.NewEnricher(client, a.store, a.engines, l.Named("enrich"))
	a.service = aggregation.NewService(client, a.engines, a.store, enricher, l.Named("aggregation"), aggregation.Options{
		PageSize:    cfg.Remote.Size(),
		PageTimeout: cfg.Remote.PageTimeout(),
	})
	return a, nil
}

// archiver opens the snapshot bucket.
func (a *app) archiver(ctx context.Context) (*snapshot.Archiver, error) {
	client, err := storage.NewClient(a.cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := storage.EnsureBucket(ctx, client, a.cfg.Storage.Bucket, a.cfg.Storage.Region); err != nil {
		return nil, err
	}
	return snapshot.NewArchiver(client, a.cfg.Storage.Bucket, a.store, a.locks, a.notifier, a.log.Named("snapshot")), nil
}

func (a *app) close() {
	if a.service != nil {
		a.service.Wait()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if sqlDB, err := a.store.DB().DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.log.Sync()
}

// clearCollections empties the given collections and every collection that cascades from them
// in one unit.
func (a *app) clearCollections(ctx context.Context, entities []reconcile.EntityType) ([]reconcile.EntityType, error) {
	seen := make(map[reconcile.EntityType]bool)
	var all []reconcile.EntityType
	for _, e := range entities {
		for _, t := range append([]reconcile.EntityType{e}, a.policy.Reachable(e)...) {
			if !seen[t] {
				seen[t] = true
				all = append(all, t)
			}
		}
	}
	known := make(map[reconcile.EntityType]bool)
	for _, e := range a.store.Entities() {
		known[e] = true
	}
	for _, e := range all {
		if !known[e] {
			return nil, fmt.Errorf("%w: %s", reconcile.ErrUnknownEntity, e)
		}
	}

	unlock := a.locks.Lock(all...)
	defer unlock()

	err := a.store.Atomic(ctx, func(tx reconcile.Tx) error {
		for _, e := range all {
			if err := tx.Clear(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, e := range all {
		errs = append(errs, a.notifier.Notify(ctx, reconcile.Change{Entity: e, Scope: reconcile.ScopeAll(e).String(), At: time.Now().UTC()}))
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("Failed to publish cleared collections", zap.Error(err))
	}
	return all, nil
}
