package di

import (
	"context"
	"fmt"
	"time"

	"MarketPulse/internal/broadcast"
	"MarketPulse/internal/calendar"
	"MarketPulse/internal/dispatch"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/handler/api"
	mid "MarketPulse/internal/middleware"
	"MarketPulse/internal/pipeline"
	internalrepo "MarketPulse/internal/repository"
	icache "MarketPulse/internal/service/cache"
	"MarketPulse/internal/service/finnhub"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/internal/service/sina"
	"MarketPulse/internal/source"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/cache"
	pkgch "MarketPulse/pkg/clickhouse"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
	"MarketPulse/pkg/queue"
	"MarketPulse/pkg/server"
)

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the application logger. Errors are also aggregated
// onto Kafka when a collect topic is configured.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.CollectTopic != "" && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval: cfg.Log.CollectInterval,
			Topic:        cfg.Log.CollectTopic,
			Publisher:    producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisCache connects to Redis, or returns nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideClickHouseClient creates a ClickHouse client with the kline schema,
// or nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithPool(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxOpenConns/2, 5*time.Minute),
		pkgch.WithCreateDatabase(true),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.KlineSchema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideVendorClient is the HTTP client for calendar and quote downloads.
func ProvideVendorClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(cfg.Calendar.FetchTimeout))
}

// ProvideRegistry builds the market registry, falling back to the built-in
// markets when none are configured.
func ProvideRegistry(cfg *config.Config) (*calendar.Registry, error) {
	specs := make([]calendar.MarketSpec, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		specs = append(specs, calendar.MarketSpec{ID: m.ID, Timezone: m.Timezone, FeedKey: m.FeedKey})
	}
	aliases := cfg.Aliases
	if len(specs) == 0 {
		specs = calendar.DefaultMarketSpecs()
		if aliases == nil {
			aliases = calendar.DefaultAliases()
		}
	}
	return calendar.NewRegistry(specs, aliases)
}

// ProvideCalendarCache creates the rule cache. Good rule sets are persisted
// to Redis when it is available.
func ProvideCalendarCache(cfg *config.Config, registry *calendar.Registry, client *xhttp.Client, rc *cache.RedisCache, l *applogger.Logger) *calendar.Cache {
	feed := sina.NewCalendarFeed(client, cfg.Calendar.BaseURL, cfg.Calendar.OpenText)
	opts := []calendar.CacheOption{
		calendar.WithTTL(cfg.Calendar.TTL),
		calendar.WithRetryBackoff(cfg.Calendar.RetryBackoff),
		calendar.WithFetchTimeout(cfg.Calendar.FetchTimeout),
		calendar.WithCacheLogger(l),
	}
	if rc != nil {
		opts = append(opts, calendar.WithSnapshotStore(cache.NewLayeredCache(rc), cfg.Calendar.SnapshotTTL))
	}
	return calendar.NewCache(feed, registry, opts...)
}

// ProvideCalendarOptions are shared by the resolver, opening search and schedule.
func ProvideCalendarOptions(cfg *config.Config, l *applogger.Logger) []calendar.Option {
	opts := []calendar.Option{
		calendar.WithLogger(l),
		calendar.WithWeekdayOffset(cfg.Calendar.WeekdayOffset),
		calendar.WithHorizonDays(cfg.Calendar.HorizonDays),
	}
	if len(cfg.Calendar.ClosedKeywords) > 0 {
		opts = append(opts, calendar.WithClosedMatcher(calendar.NewClosedMatcher(cfg.Calendar.ClosedKeywords)))
	}
	return opts
}

func ProvideResolver(rules *calendar.Cache, registry *calendar.Registry, opts []calendar.Option) *calendar.Resolver {
	return calendar.NewResolver(rules, registry, opts...)
}

func ProvideOpeningSearch(rules *calendar.Cache, registry *calendar.Registry, opts []calendar.Option) *calendar.OpeningSearch {
	return calendar.NewOpeningSearch(rules, registry, opts...)
}

func ProvideSchedule(rules *calendar.Cache, registry *calendar.Registry, opts []calendar.Option) *calendar.Schedule {
	return calendar.NewSchedule(rules, registry, opts...)
}

// ProvideBroadcaster creates the fan-out broadcaster.
func ProvideBroadcaster(cfg *config.Config, l *applogger.Logger, m repository.Metrics) *broadcast.Broadcaster {
	return broadcast.New(broadcast.Config{
		QueueCapacity:     cfg.Broadcast.QueueCapacity,
		ConsumeTimeout:    cfg.Broadcast.ConsumeTimeout,
		ReapInterval:      cfg.Broadcast.ReapInterval,
		InactivityTimeout: cfg.Broadcast.InactivityTimeout,
	}, broadcast.WithLogger(l), broadcast.WithMetrics(m))
}

// ProvideRetryQueue creates the Redis queue for webhook retries. It is nil
// unless both Redis and the notify stage are enabled.
func ProvideRetryQueue(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil || !cfg.Stages.Notify.Enabled {
		return nil
	}
	delays := notifyDelays(cfg)
	return queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:       2,
		RetryLimit:    len(delays),
		RetrySchedule: delays,
	}, rc.Client(),
		queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"),
	)
}

func notifyDelays(cfg *config.Config) []time.Duration {
	if len(cfg.Stages.Notify.RetryDelays) > 0 {
		return cfg.Stages.Notify.RetryDelays
	}
	return pipeline.DefaultRetryDelays
}

// ProvideKlineStage records realtime ticks as one-minute bars, or returns nil
// unless the store stage and ClickHouse are both enabled.
func ProvideKlineStage(cfg *config.Config, ch *pkgch.Client, m repository.Metrics, l *applogger.Logger) (*pipeline.KlineStage, error) {
	if !cfg.Stages.Store.Enabled || ch == nil {
		return nil, nil
	}
	display, err := time.LoadLocation(calendar.DisplayZone)
	if err != nil {
		return nil, fmt.Errorf("display zone: %w", err)
	}
	return pipeline.NewKlineStage(internalrepo.NewCHKlineStore(ch, display, l), pipeline.KlineConfig{
		BatchSize:     cfg.Stages.Store.BatchSize,
		FlushInterval: cfg.Stages.Store.FlushInterval,
	}, m, l), nil
}

// ProvideStages builds the enabled dispatch stages. The broadcaster always runs.
func ProvideStages(
	cfg *config.Config,
	l *applogger.Logger,
	producer *pkgkafka.Producer,
	b *broadcast.Broadcaster,
	q *queue.RedisQueue,
	ks *pipeline.KlineStage,
) ([]repository.Stage, error) {
	stages := []repository.Stage{b}

	if cfg.Stages.Console.Enabled {
		stages = append(stages, pipeline.NewConsoleStage(l, cfg.Stages.Console.Format))
	}

	if cfg.Stages.Notify.Enabled {
		loc, err := time.LoadLocation(cfg.Stages.Notify.Timezone)
		if err != nil {
			return nil, fmt.Errorf("notify timezone: %w", err)
		}
		ns := pipeline.NewNotifyStage(pipeline.NotifyConfig{
			URL:         cfg.Stages.Notify.URL,
			Secret:      cfg.Stages.Notify.Secret,
			Location:    loc,
			RetryDelays: notifyDelays(cfg),
		}, xhttp.NewClient(xhttp.WithTimeout(cfg.Stages.Notify.Timeout)), l)
		if q != nil {
			q.RegisterJob(ns.Job())
			ns.UseQueue(q)
		}
		stages = append(stages, ns)
	}

	if cfg.Stages.Publish.Enabled && producer != nil {
		pub := internalrepo.NewKafkaEventPublisher(producer, cfg.Stages.Publish.Topic)
		stages = append(stages, pipeline.NewPublishStage(pub))
	}

	if ks != nil {
		stages = append(stages, ks)
	}
	return stages, nil
}

// ProvideObserver puts the per-symbol throttle in front of the dispatcher.
func ProvideObserver(cfg *config.Config, stages []repository.Stage, m repository.Metrics, l *applogger.Logger) repository.Observer {
	d := dispatch.New(stages, dispatch.WithLogger(l), dispatch.WithMetrics(m))
	return mid.NewEventGuard(d, m,
		mid.WithMaxRPS(cfg.Source.MaxRPS),
		mid.WithGuardLogger(l),
	)
}

// ProvideQuoteSources builds every enabled quote source.
func ProvideQuoteSources(
	cfg *config.Config,
	client *xhttp.Client,
	ch *pkgch.Client,
	resolver *calendar.Resolver,
	m repository.Metrics,
	l *applogger.Logger,
) ([]repository.QuoteSource, error) {
	display, err := time.LoadLocation(calendar.DisplayZone)
	if err != nil {
		return nil, fmt.Errorf("display zone: %w", err)
	}

	var sources []repository.QuoteSource
	if cfg.Source.WenCai.Enabled {
		var klines repository.KlineStore
		if ch != nil {
			klines = internalrepo.NewCHKlineStore(ch, display, l)
		}
		quotes := sina.NewQuoteClient(client, cfg.Source.WenCai.BaseURL, display, l)
		sources = append(sources, source.NewWenCaiSource(source.WenCaiConfig{
			RealtimeInterval: cfg.Source.WenCai.RealtimeInterval,
			KlineInterval:    cfg.Source.WenCai.KlineInterval,
			KlineLookback:    cfg.Source.WenCai.KlineLookback,
			Codes:            cfg.Source.WenCai.Codes,
		}, quotes, klines, resolver, l))
	}

	if cfg.Finnhub.Enabled {
		stream := finnhub.New(finnhub.Config{
			APIKey:         cfg.Finnhub.APIKey,
			URL:            cfg.Finnhub.WebSocketURL,
			Symbols:        cfg.Finnhub.Symbols,
			ReconnectDelay: cfg.Finnhub.ReconnectDelay,
			PingInterval:   cfg.Finnhub.PingInterval,
		}, l)
		markets := make([]string, 0, len(cfg.Finnhub.Symbols))
		for _, market := range cfg.Finnhub.Symbols {
			markets = append(markets, market)
		}
		sources = append(sources, source.NewStreamSource(finnhub.SourceID, markets, stream, m, l))
	}
	return sources, nil
}

func ProvideQuoteCollector(sources []repository.QuoteSource, observer repository.Observer, l *applogger.Logger) *usecase.QuoteCollector {
	return usecase.NewQuoteCollector(sources, observer, l)
}

func ProvideMarketService(
	cfg *config.Config,
	sources []repository.QuoteSource,
	rules *calendar.Cache,
	resolver *calendar.Resolver,
	opening *calendar.OpeningSearch,
	schedule *calendar.Schedule,
	l *applogger.Logger,
) *usecase.MarketService {
	return usecase.NewMarketService(usecase.MarketServiceDeps{
		Sources:     sources,
		Cache:       rules,
		Resolver:    resolver,
		Opening:     opening,
		Schedule:    schedule,
		Responses:   icache.NewTTLCache(),
		ResponseTTL: cfg.Server.ResponseCacheTTL,
		Logger:      l,
	})
}

func ProvideLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

func ProvideStreamHandler(cfg *config.Config, l *applogger.Logger, b *broadcast.Broadcaster, rl *ratelimit.Limiter) *api.StreamHandler {
	return api.NewStreamHandler(l, b, rl, api.StreamLimits{
		Burst:        cfg.Server.StreamBurst,
		RefillPerSec: cfg.Server.StreamRefill,
	})
}

func ProvideSourcesHandler(l *applogger.Logger, svc *usecase.MarketService, stream *api.StreamHandler) *api.SourcesHandler {
	return api.NewSourcesHandler(l, svc, stream)
}

// ProvideHTTPServer creates the Echo server with the source routes.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, h *api.SourcesHandler) *xhttp.Server {
	return xhttp.NewServer(h,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS, cfg.Server.CORSOrigins...),
		xhttp.WithLogger(l),
		xhttp.WithStreamRoutes(api.StreamRoute),
	)
}

// ProvideKafkaConsumer creates a Kafka consumer, or nil when consumption is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartOffset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaEventsHandler feeds inbound events into the same observer as the sources.
func ProvideKafkaEventsHandler(cfg *config.Config, observer repository.Observer, m repository.Metrics) *usecase.KafkaEventsHandler {
	return usecase.NewKafkaEventsHandler(cfg.Kafka.Consumer.Topic, observer, m)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	collector *usecase.QuoteCollector,
	b *broadcast.Broadcaster,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaEventsHandler,
	q *queue.RedisQueue,
	rl *ratelimit.Limiter,
	producer *pkgkafka.Producer,
	rc *cache.RedisCache,
	ch *pkgch.Client,
	ks *pipeline.KlineStage,
) *server.App {
	opts := []server.Option{server.WithLimiter(rl)}
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.NewLoggingHook(l)))
		opts = append(opts, server.WithKafkaConsumer(consumer, kh))
	}
	if q != nil {
		opts = append(opts, server.WithRetryQueue(q))
	}
	// flush aggregated logs while the producer is still open
	opts = append(opts, server.WithClosers(server.Closer{Name: "log collector", Close: func() error {
		l.RemoveCollector()
		return nil
	}}))
	if producer != nil {
		opts = append(opts, server.WithClosers(server.Closer{Name: "kafka producer", Close: producer.Close}))
	}
	if ks != nil {
		opts = append(opts, server.WithClosers(server.Closer{Name: "kline recorder", Close: ks.Close}))
	}
	if ch != nil {
		opts = append(opts, server.WithClosers(server.Closer{Name: "clickhouse", Close: ch.Close}))
	}
	if rc != nil {
		opts = append(opts, server.WithClosers(server.Closer{Name: "redis", Close: rc.Close}))
	}
	return server.New(cfg, l, srv, collector, b, opts...)
}
