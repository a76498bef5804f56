package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/DispatchBox/config"
	dispatchapi "github.com/BearBump/DispatchBox/internal/api/dispatch_api"
	"github.com/BearBump/DispatchBox/internal/broker/kafka"
	"github.com/BearBump/DispatchBox/internal/cache"
	"github.com/BearBump/DispatchBox/internal/cache/rediscache"
	"github.com/BearBump/DispatchBox/internal/clock"
	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/BearBump/DispatchBox/internal/integrations/notify"
	"github.com/BearBump/DispatchBox/internal/integrations/notify/fake"
	"github.com/BearBump/DispatchBox/internal/integrations/notify/pushv1"
	"github.com/BearBump/DispatchBox/internal/integrations/notify/smshttp"
	"github.com/BearBump/DispatchBox/internal/metrics"
	"github.com/BearBump/DispatchBox/internal/services/coordinator"
	"github.com/BearBump/DispatchBox/internal/services/eventsink"
	"github.com/BearBump/DispatchBox/internal/services/lifecycle"
	"github.com/BearBump/DispatchBox/internal/services/loads"
	"github.com/BearBump/DispatchBox/internal/services/outbox"
	"github.com/BearBump/DispatchBox/internal/services/registry"
	"github.com/BearBump/DispatchBox/internal/services/statusfeed"
	"github.com/BearBump/DispatchBox/internal/storage"
	"github.com/BearBump/DispatchBox/internal/storage/memstore"
	"github.com/BearBump/DispatchBox/internal/storage/pgdispatch"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type closableConsumer interface {
	kafkaConsumer
	Close() error
}

type closableProducer interface {
	eventsink.Producer
	Close() error
}

// dispatchFactories — точки подмены внешних систем (тесты подставляют memstore, miniredis, фейки).
type dispatchFactories struct {
	newStore    func(cfg *config.Config) (st storage.Store, closeFn func(), err error)
	newRedis    func(cfg *config.Config) *rediscache.RedisCache
	newProducer func(cfg *config.Config) closableProducer
	newConsumer func(cfg *config.Config, topic, group string) closableConsumer
	newSMS      func(cfg *config.Config) notify.SMSSender
	newPush     func(cfg *config.Config) notify.AlertSender
}

func defaultDispatchFactories() dispatchFactories {
	return dispatchFactories{
		newStore: func(cfg *config.Config) (storage.Store, func(), error) {
			if cfg.DispatchBox.Store != "postgres" {
				return memstore.New(), nil, nil
			}
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := openPostgresWithRetry(connString, 60*time.Second)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newRedis: func(cfg *config.Config) *rediscache.RedisCache {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
		newProducer: func(cfg *config.Config) closableProducer {
			if cfg.Kafka.Host == "" {
				return nil
			}
			return kafka.NewProducer([]string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)})
		},
		newConsumer: func(cfg *config.Config, topic, group string) closableConsumer {
			if cfg.Kafka.Host == "" {
				return nil
			}
			return kafka.NewConsumer([]string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}, topic, group)
		},
		// Без base_url используем локальный fake: наружу ничего не уходит.
		newSMS: func(cfg *config.Config) notify.SMSSender {
			if cfg.DispatchBox.SMSProviderBaseURL == "" {
				return fake.New()
			}
			return smshttp.New(cfg.DispatchBox.SMSProviderBaseURL, cfg.DispatchBox.SMSProviderAPIKey, cfg.DispatchBox.SMSProviderSender)
		},
		newPush: func(cfg *config.Config) notify.AlertSender {
			if cfg.DispatchBox.PushProviderBaseURL == "" {
				return fake.New()
			}
			return pushv1.New(cfg.DispatchBox.PushProviderBaseURL, cfg.DispatchBox.PushProviderAPIKey)
		},
	}
}

type dispatchApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    dispatchAPIOpts
	deps    appDeps
	closers []func()
}

func mustBootstrapDispatchAPI() *dispatchApp {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app, err := buildDispatchApp(ctx, cfg, swaggerPath, clock.New(), defaultDispatchFactories())
	if err != nil {
		cancel()
		panic(err)
	}
	app.ctx, app.cancel = ctx, cancel
	return app
}

// buildDispatchApp собирает граф: шина -> менеджер -> реестр -> координатор, затем подписчики шины.
func buildDispatchApp(ctx context.Context, cfg *config.Config, swaggerPath string, clk clock.Clock, f dispatchFactories) (*dispatchApp, error) {
	dc := cfg.DispatchBox

	httpAddr := dc.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := dc.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "dispatch-api"
	}
	eventsTopic := cfg.Kafka.DispatchEventsTopicName
	if eventsTopic == "" {
		eventsTopic = "dispatch.events"
	}
	statusTopic := cfg.Kafka.DriverStatusTopicName
	if statusTopic == "" {
		statusTopic = "driver.status"
	}
	cacheTTL := time.Duration(dc.SnapshotCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	acceptTimeout := time.Duration(dc.AcceptanceTimeoutMinutes) * time.Minute
	if acceptTimeout <= 0 {
		acceptTimeout = 30 * time.Minute
	}
	warnLead := time.Duration(dc.DeadlineWarningMinutes) * time.Minute
	if dc.DeadlineWarningMinutes == 0 {
		warnLead = 5 * time.Minute
	}
	if warnLead < 0 {
		warnLead = 0
	}
	pollInterval := time.Duration(dc.OutboxPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	rlPerMin := int64(dc.OutboxRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 10
	}

	app := &dispatchApp{}
	fail := func(err error) (*dispatchApp, error) {
		app.Close()
		return nil, err
	}

	st, closeStore, err := f.newStore(cfg)
	if err != nil {
		return fail(errors.Wrap(err, "open store"))
	}
	if closeStore != nil {
		app.closers = append(app.closers, closeStore)
	}

	bus := events.NewBus()

	// Redis опционален: без него нет кэша снимков и rate limit уведомлений.
	var (
		snapshotCache cache.BytesCache
		rl            outbox.RateLimiter
		pingRedis     func(ctx context.Context) error
	)
	if rc := f.newRedis(cfg); rc != nil {
		snapshotCache = rc
		rl = rediscache.NewRateLimiterWithClient(rc.Client())
		pingRedis = rc.Ping
		app.closers = append(app.closers, func() { _ = rc.Close() })
	}

	ob := outbox.New(f.newSMS(cfg), f.newPush(cfg), rl, clk).
		WithSettings(pollInterval, dc.OutboxBatchSize, dc.OutboxConcurrency, dc.OutboxMaxAttempts, rlPerMin).
		WithPlanner(outbox.PlannerConfig{
			Backoff1: time.Duration(dc.OutboxBackoff1Seconds) * time.Second,
			Backoff2: time.Duration(dc.OutboxBackoff2Seconds) * time.Second,
			Backoff3: time.Duration(dc.OutboxBackoff3Seconds) * time.Second,
			Backoff4: time.Duration(dc.OutboxBackoff4Seconds) * time.Second,
		}, nil)

	reg := registry.New(st, clk, bus)
	mgr := lifecycle.New(st, clk, ob, reg, bus).WithConfig(lifecycle.Config{
		DefaultAcceptanceTimeout: acceptTimeout,
		MaxSMSAttempts:           dc.SMSMaxAttempts,
	})
	coord := coordinator.New(mgr, reg, st, clk, ob, bus).WithSettings(coordinator.Settings{
		DeadlineWarning: warnLead,
		MaxAlerts:       dc.MaxAlerts,
	})
	mgr.SetHooks(coord)

	loadsSvc := loads.New(st, snapshotCache, cacheTTL)
	bus.Subscribe(loadsSvc.Invalidate)

	collector := metrics.NewCollector()
	bus.Subscribe(collector.Handle)

	hub := dispatchapi.NewHub()
	bus.Subscribe(hub.Handle)

	workers := map[string]runner{"outbox": ob}

	var sink *eventsink.Sink
	if p := f.newProducer(cfg); p != nil {
		sink = eventsink.New(p, eventsTopic, cfg.Kafka.EventSinkBuffer)
		bus.Subscribe(sink.Handle)
		workers["event-sink"] = sink
		app.closers = append(app.closers, func() { _ = p.Close() })
	}

	var (
		consumer      kafkaConsumer
		statusHandler func(key, value []byte) error
	)
	if c := f.newConsumer(cfg, statusTopic, consumerGroup); c != nil {
		consumer = c
		statusHandler = statusfeed.Handler(ctx, coord)
		app.closers = append(app.closers, func() { _ = c.Close() })
	}

	if _, err := mgr.Recover(ctx); err != nil {
		return fail(errors.Wrap(err, "recover timers"))
	}

	app.opts = dispatchAPIOpts{
		httpAddr:      httpAddr,
		swaggerPath:   swaggerPath,
		statusTopic:   statusTopic,
		consumerGroup: consumerGroup,
	}
	app.deps = appDeps{
		api:     dispatchapi.New(coord, loadsSvc, reg).WithHub(hub),
		metrics: collector.Handler(),
		stats: func() map[string]any {
			out := map[string]any{
				"outbox":     ob.Stats(),
				"liveTimers": mgr.LiveTimers(),
				"wsClients":  hub.Clients(),
				"wsDropped":  hub.Dropped(),
			}
			if sink != nil {
				out["eventSink"] = sink.Stats()
			}
			return out
		},
		ready: func(ctx context.Context) error {
			if p, ok := st.(interface{ Ping(context.Context) error }); ok {
				if err := p.Ping(ctx); err != nil {
					return err
				}
			}
			if pingRedis != nil {
				return pingRedis(ctx)
			}
			return nil
		},
		// без секретов провайдеров
		config: map[string]any{
			"store":                    storeKind(dc.Store),
			"acceptanceTimeoutSeconds": int(acceptTimeout / time.Second),
			"deadlineWarningSeconds":   int(warnLead / time.Second),
			"smsMaxAttempts":           mgr.Config().MaxSMSAttempts,
			"snapshotCacheEnabled":     snapshotCache != nil,
			"eventSinkEnabled":         sink != nil,
			"driverStatusConsumer":     consumer != nil,
			"outboxRateLimitPerMinute": rlPerMin,
		},
		workers:       workers,
		consumer:      consumer,
		statusHandler: statusHandler,
		onShutdown:    hub.Close,
	}
	return app, nil
}

func storeKind(s string) string {
	if s == "postgres" {
		return s
	}
	return "memory"
}

func openPostgresWithRetry(connString string, wait time.Duration) (*pgdispatch.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgdispatch.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
}

func (a *dispatchApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *dispatchApp) Run() error {
	return runDispatchAPI(a.ctx, a.opts, a.deps)
}
