package main

import (
	"context"
	"fmt"
	"io"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/cache"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/calendar"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/directory"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/mq/publisher"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/mq/queue"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/mq/worker"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/repository"
	service "github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/app"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/config"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/batch"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/pipeline"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/scheduler"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/resilience"
)

// store is everything the service graph needs from persistence.
type store interface {
	service.MeetingStore
	batch.RunStore
	pipeline.ProcessedChecker
}

// closeFunc adapts a func() to io.Closer.
type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}

// graph is the assembled service plus the parts commands reach directly.
type graph struct {
	service   *service.Service
	scheduler *scheduler.Scheduler
	store     store
}

// buildOptions toggles the optional parts of the graph.
type buildOptions struct {
	schedule bool
	roster   service.Directory
}

// resources tracks what has been opened so a failed build can release it.
type resources struct {
	closers    []io.Closer
	background []service.Background
}

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i].Close()
	}
}

// build assembles the service from cfg. Empty backing-service URLs fall back
// to in-process implementations.
func build(ctx context.Context, cfg *config.Config, bo buildOptions) (*graph, error) {
	res := &resources{}

	st, err := openStore(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	fc, err := openCache(ctx, cfg, res)
	if err != nil {
		res.close()
		return nil, err
	}
	pub, err := openPublisher(ctx, cfg, res)
	if err != nil {
		res.close()
		return nil, err
	}

	client := calendar.NewClient(cfg.CalendarAPIURL,
		calendar.WithTimeout(cfg.CalendarTimeout()),
		calendar.WithTokenSource(calendar.StaticToken(cfg.CalendarAPIToken)),
	)
	breakers := resilience.NewRegistry(
		resilience.WithFailureThreshold(cfg.BreakerFailureThreshold),
		resilience.WithCooldown(cfg.BreakerCooldown()),
	)
	fetcher := calendar.NewFetcher(client, breakers.Get("calendar"),
		calendar.WithRetryPolicy(resilience.Policy{
			MaxAttempts:  cfg.RetryMaxAttempts,
			InitialDelay: cfg.RetryInitialDelay(),
			Multiplier:   cfg.RetryMultiplier,
			MaxDelay:     cfg.RetryMaxDelay(),
		}),
		calendar.WithCache(fc),
		calendar.WithWindows(cfg.ScheduledWindow(), cfg.CompletedLookback()),
	)

	enricher := pipeline.NewEnricher(
		pipeline.WithInviteeFetcher(client),
		pipeline.WithConferenceFetcher(client),
		pipeline.WithProcessedChecker(st, cfg.SkipProcessedCompleted),
		pipeline.WithMatchTolerance(cfg.ConferenceMatchTolerance()),
		pipeline.WithWindows(cfg.ScheduledWindow(), cfg.CompletedLookback()),
	)

	tracker, err := batch.NewTracker(st, cfg.NodeID)
	if err != nil {
		res.close()
		return nil, err
	}

	coordinator := batch.NewCoordinator(fetcher,
		batch.WithStarter(tracker),
		batch.WithPipeline(model.KindScheduled, enricher.ForKind(model.KindScheduled)),
		batch.WithPipeline(model.KindCompleted, enricher.ForKind(model.KindCompleted)),
		batch.WithPool(model.KindScheduled, worker.NewPool(cfg.ScheduledPoolSize, worker.WithName("scheduled"))),
		batch.WithPool(model.KindCompleted, worker.NewPool(cfg.CompletedPoolSize, worker.WithName("completed"))),
	)

	var roster service.Directory = directory.NewClient(cfg.DirectoryAPIURL)
	if bo.roster != nil {
		roster = bo.roster
	}

	g := &graph{store: st}
	runner := &boundRunner{}
	if bo.schedule {
		g.scheduler, err = scheduler.New(runner, map[model.Kind]string{
			model.KindScheduled: cfg.ScheduledCron,
			model.KindCompleted: cfg.CompletedCron,
		})
		if err != nil {
			res.close()
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		res.background = append(res.background, g.scheduler)
	}

	opts := []service.Option{
		service.WithBatchSize(cfg.BatchSize),
		service.WithChunkSize(cfg.PersistChunkSize),
	}
	for _, b := range res.background {
		opts = append(opts, service.WithBackground(b))
	}
	for _, c := range res.closers {
		opts = append(opts, service.WithCloser(c))
	}

	g.service = service.New(roster, coordinator, tracker, st, pub, opts...)
	runner.target = g.service
	return g, nil
}

// boundRunner lets the scheduler be built before the service that owns it.
type boundRunner struct {
	target scheduler.Runner
}

func (r *boundRunner) Run(ctx context.Context, kind model.Kind) ([]model.EnrichedMeeting, *model.BatchRun, error) {
	return r.target.Run(ctx, kind)
}

func openStore(ctx context.Context, cfg *config.Config, res *resources) (store, error) {
	if cfg.DatabaseURL == "" {
		logger.Get().Warn(ctx, "database_url not set; meetings are kept in memory")
		return repository.NewMemory(), nil
	}
	pg, err := repository.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	res.closers = append(res.closers, closeFunc(pg.Close))
	if err := pg.Migrate(ctx); err != nil {
		return nil, err
	}
	return pg, nil
}

func openCache(ctx context.Context, cfg *config.Config, res *resources) (calendar.Cache, error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemory(cache.WithTTL(cfg.CacheTTL())), nil
	}
	r, err := cache.DialRedis(ctx, cfg.RedisAddr, cache.WithTTL(cfg.CacheTTL()))
	if err != nil {
		return nil, err
	}
	res.closers = append(res.closers, r)
	return r, nil
}

// openPublisher dials JetStream when configured. Otherwise events go to an
// in-memory queue drained by a consumer that logs them.
func openPublisher(ctx context.Context, cfg *config.Config, res *resources) (service.Publisher, error) {
	log := logger.Named("publisher")
	if cfg.NATSURL != "" {
		n, err := publisher.DialNATS(ctx, cfg.NATSURL, cfg.NATSSubject,
			publisher.WithStream(cfg.NATSStream), publisher.WithLogger(log))
		if err != nil {
			return nil, err
		}
		res.closers = append(res.closers, n)
		return n, nil
	}

	q := queue.NewInMemoryQueue(queue.WithCapacity(cfg.PublishQueueSize))
	consumer := worker.NewConsumer(q, logEvent(log), worker.WithName("events"), worker.WithLogger(log))
	res.closers = append(res.closers, q)
	res.background = append(res.background, consumer)
	return publisher.NewQueue(q, publisher.WithLogger(log)), nil
}

func logEvent(log logger.Logger) worker.Handler {
	return func(ctx context.Context, e queue.Event) error {
		log.Info(ctx, "meeting event",
			logger.Int64("batch_id", e.BatchID),
			logger.Int("meetings", len(e.Meetings)),
			logger.Int64("event_timestamp", e.EventTimestamp))
		return nil
	}
}
