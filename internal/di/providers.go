package di

import (
	"context"
	"fmt"
	"time"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
	"Chronos/internal/handler/api"
	mid "Chronos/internal/middleware"
	internalrepo "Chronos/internal/repository"
	icache "Chronos/internal/service/cache"
	"Chronos/internal/service/funding"
	"Chronos/internal/service/ratelimit"
	"Chronos/internal/services/fusion"
	"Chronos/internal/services/microstructure"
	"Chronos/internal/services/regime"
	"Chronos/internal/services/risk"
	"Chronos/internal/services/volatility"
	"Chronos/internal/usecase"
	"Chronos/pkg/cache"
	pkgch "Chronos/pkg/clickhouse"
	"Chronos/pkg/clock"
	"Chronos/pkg/config"
	xhttp "Chronos/pkg/http"
	pkgkafka "Chronos/pkg/kafka"
	"Chronos/pkg/logger"
	"Chronos/pkg/metrics"
	"Chronos/pkg/server"
)

// ProvideLogger builds the process logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("symbol", cfg.Instrument.Symbol)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

func ProvideClock() clock.Clock {
	return clock.System{}
}

// ProvideClickHouseClient connects and applies the trades and candle schema.
// It returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config, log *logger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	opts := pkgch.SchemaOptions{Database: client.Database()}
	if cfg.ClickHouse.KafkaIngest {
		opts.KafkaBrokers = cfg.Kafka.Brokers
		opts.TradesTopic = cfg.Kafka.Topics.Trades
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ClickHouse.SchemaTimeout)
	defer cancel()
	if err := client.Exec(ctx, pkgch.Schema(opts)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	log.Info("clickhouse ready",
		logger.String("database", cfg.ClickHouse.Database),
		logger.Bool("kafka_ingest", cfg.ClickHouse.KafkaIngest))

	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Warn("clickhouse close", logger.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideKafkaProducer creates the shared producer for intents, decisions and logs.
func ProvideKafkaProducer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Producer, func(), error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	cleanup := func() {
		if err := producer.Close(); err != nil {
			log.Warn("kafka producer close", logger.Error(err))
		}
	}
	return producer, cleanup, nil
}

// ProvideKafkaConsumer creates the market and fill consumer. Handlers are
// registered by the app before Start.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.AutoOffsetReset),
		pkgkafka.WithConsumerMaxWait(cfg.Kafka.Consumer.MaxWait),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.NewLoggingHook(log)))
	return consumer, nil
}

// ProvideCache returns a Redis-backed layered cache, or a process-local
// memory cache when Redis is disabled.
func ProvideCache(cfg *config.Config, log *logger.Logger) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Redis.MemoryCapacity))
		return mc, func() { _ = mc.Close() }, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.KeyPrefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	lc := cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(cfg.Redis.MemoryCapacity),
		cache.WithLayeredMemoryTTL(cfg.Redis.StatusTTL/2),
	)
	cleanup := func() {
		if err := lc.Close(); err != nil {
			log.Warn("redis close", logger.Error(err))
		}
	}
	return lc, cleanup, nil
}

func ProvideReturnHistory(cfg *config.Config) *usecase.ReturnHistory {
	return usecase.NewReturnHistory(cfg.Loop.ReturnHistory)
}

func ProvideMicrostructure(cfg *config.Config) (*microstructure.Analyzer, error) {
	return microstructure.NewAnalyzer(microstructure.Config{
		Symbol:           cfg.Instrument.Symbol,
		DepthLevels:      cfg.Microstructure.DepthLevels,
		OFIWindow:        cfg.Microstructure.OFIWindow,
		VPINBucketVolume: cfg.Microstructure.VPINBucketVolume,
		VPINBuckets:      cfg.Microstructure.VPINBuckets,
		AmihudInterval:   cfg.Microstructure.AmihudInterval,
		AmihudWindow:     cfg.Microstructure.AmihudWindow,
		AmihudScale:      cfg.Microstructure.AmihudScale,
	})
}

func ProvideVolatility(cfg *config.Config, clk clock.Clock, log *logger.Logger) (*volatility.Model, error) {
	m, err := volatility.NewModel(volatility.Config{
		StopMultiplier:  cfg.Volatility.StopMultiplier,
		RealizedWindow:  cfg.Volatility.RealizedWindow,
		MinReturns:      cfg.Volatility.MinReturns,
		MinRefitSamples: cfg.Volatility.MinRefitSamples,
		MaxEvaluations:  cfg.Volatility.MaxEvaluations,
	}, clk)
	if err != nil {
		return nil, err
	}
	m.SetLogger(log)
	return m, nil
}

func ProvideRegime(cfg *config.Config, clk clock.Clock, log *logger.Logger) *regime.Detector {
	d := regime.NewDetector(regime.Config{
		MinRefitSamples: cfg.Regime.MinRefitSamples,
		MaxIterations:   cfg.Regime.MaxIterations,
		Tolerance:       cfg.Regime.Tolerance,
	}, clk)
	d.SetLogger(log)
	return d
}

func ProvideRisk(cfg *config.Config, clk clock.Clock, log *logger.Logger) (*risk.Manager, error) {
	boundary, err := cfg.DayBoundary()
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Risk.Timezone)
	if err != nil {
		return nil, fmt.Errorf("risk timezone: %w", err)
	}
	m, err := risk.NewManager(risk.Config{
		Symbol:               cfg.Instrument.Symbol,
		Equity:               cfg.Risk.Equity,
		LotStep:              cfg.Instrument.LotStep,
		MaxPositionFraction:  cfg.Risk.MaxPositionFraction,
		MinCashReserve:       cfg.Risk.MinCashReserve,
		KellyDivisor:         cfg.Risk.KellyDivisor,
		KellyMinTrades:       cfg.Risk.KellyMinTrades,
		KellyHistory:         cfg.Risk.KellyHistory,
		BootstrapFraction:    cfg.Risk.BootstrapFraction,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		Cooldown:             cfg.Risk.Cooldown,
		DailyCVaRLimit:       cfg.Risk.DailyCVaRLimit,
		DayBoundary:          boundary,
		Location:             loc,
		PartialExitFraction:  cfg.Risk.PartialExitFraction,
		RegimeMultipliers: [models.RegimeCount]float64{
			models.RegimeBull:     cfg.Risk.RegimeMultipliers.Bull,
			models.RegimeSideways: cfg.Risk.RegimeMultipliers.Sideways,
			models.RegimeBear:     cfg.Risk.RegimeMultipliers.Bear,
		},
	}, clk)
	if err != nil {
		return nil, err
	}
	m.SetLogger(log)
	return m, nil
}

func ProvideFusion(cfg *config.Config) *fusion.Fusion {
	return fusion.New(fusion.Config{
		VPINGate:        cfg.Fusion.VPINGate,
		SentimentMaxAge: cfg.Sentiment.MaxAge,
		FundingMaxAge:   cfg.Funding.MaxAge,
	})
}

func ProvideMomentum(cfg *config.Config) (*fusion.Momentum, error) {
	return fusion.NewMomentum(cfg.Fusion.MomentumWindows, cfg.Fusion.MomentumWeights, cfg.Fusion.MomentumScale)
}

// ProvideOrderGateway picks the paper gateway or the Kafka execution bridge.
func ProvideOrderGateway(cfg *config.Config, producer *pkgkafka.Producer) domrepo.OrderGateway {
	if cfg.Gateway.Mode == "kafka" {
		return internalrepo.NewKafkaOrderGateway(producer, cfg.Kafka.Topics.Intents)
	}
	return internalrepo.NewPaperGateway(cfg.Gateway.SlippageBps)
}

func ProvideOrderSubmitter(cfg *config.Config, gw domrepo.OrderGateway, m domrepo.Metrics, log *logger.Logger) *usecase.OrderSubmitter {
	return usecase.NewOrderSubmitter(gw, usecase.SubmitterConfig{
		MaxAttempts: cfg.Gateway.MaxAttempts,
		BackoffMin:  cfg.Gateway.BackoffMin,
		BackoffMax:  cfg.Gateway.BackoffMax,
		Timeout:     cfg.Gateway.SubmitTimeout,
	}, m, log)
}

// ProvideDecisionRecorder returns nil when the journal is disabled.
func ProvideDecisionRecorder(cfg *config.Config, ch *pkgch.Client, producer *pkgkafka.Producer, m domrepo.Metrics, log *logger.Logger) (*usecase.DecisionRecorder, error) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}
	var (
		journal domrepo.DecisionJournal
		pub     domrepo.DecisionPublisher
	)
	if cfg.Journal.Backend != usecase.JournalKafka {
		if ch == nil {
			return nil, fmt.Errorf("decision journal: clickhouse disabled")
		}
		j := internalrepo.NewCHDecisionJournal(ch.DB(), ch.Table("decisions"))
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ClickHouse.SchemaTimeout)
		defer cancel()
		if err := j.Init(ctx); err != nil {
			return nil, err
		}
		journal = j
	}
	if cfg.Journal.Backend != usecase.JournalClickHouse {
		pub = internalrepo.NewKafkaDecisionPublisher(producer, cfg.Kafka.Topics.Decisions)
	}
	return usecase.NewDecisionRecorder(journal, pub, m, log,
		cfg.Journal.Backend, cfg.Journal.BatchSize, cfg.Journal.FlushInterval, cfg.Journal.Buffer)
}

func ProvideDecisionLoop(
	cfg *config.Config,
	micro *microstructure.Analyzer,
	vol *volatility.Model,
	reg *regime.Detector,
	momentum *fusion.Momentum,
	fu *fusion.Fusion,
	rm *risk.Manager,
	sub *usecase.OrderSubmitter,
	history *usecase.ReturnHistory,
	rec *usecase.DecisionRecorder,
	m domrepo.Metrics,
	clk clock.Clock,
	log *logger.Logger,
) (*usecase.DecisionLoop, error) {
	var journal usecase.DecisionSink
	if rec != nil {
		journal = rec
	}
	return usecase.NewDecisionLoop(usecase.LoopConfig{
		Symbol:                cfg.Instrument.Symbol,
		QueueSize:             cfg.Loop.QueueSize,
		BarInterval:           cfg.Loop.BarInterval,
		TickInterval:          cfg.Loop.TickInterval,
		ForceCloseOnEmergency: cfg.Risk.ForceCloseOnEmergency,
	}, usecase.LoopDeps{
		Micro:     micro,
		Vol:       vol,
		Regime:    reg,
		Momentum:  momentum,
		Fusion:    fu,
		Risk:      rm,
		Submitter: sub,
		History:   history,
		Journal:   journal,
		Metrics:   m,
		Clock:     clk,
		Log:       log,
	})
}

func ProvideRefitScheduler(cfg *config.Config, history *usecase.ReturnHistory, loop *usecase.DecisionLoop, vol *volatility.Model, reg *regime.Detector, m domrepo.Metrics, log *logger.Logger) (*usecase.RefitScheduler, error) {
	return usecase.NewRefitScheduler(history, loop, m, log,
		usecase.RefitTask{
			Name:     "garch",
			Model:    vol,
			Interval: cfg.Volatility.RefitInterval,
			Timeout:  cfg.Volatility.RefitTimeout,
			Window:   cfg.Volatility.RefitWindow,
		},
		usecase.RefitTask{
			Name:     "hmm",
			Model:    reg,
			Interval: cfg.Regime.RefitInterval,
			Timeout:  cfg.Regime.RefitTimeout,
			Window:   cfg.Regime.RefitWindow,
		},
	)
}

// ProvideWarmStarter returns nil unless warm start is enabled.
func ProvideWarmStarter(cfg *config.Config, ch *pkgch.Client, history *usecase.ReturnHistory, loop *usecase.DecisionLoop, refits *usecase.RefitScheduler, vol *volatility.Model, reg *regime.Detector, log *logger.Logger) *usecase.WarmStarter {
	if !cfg.WarmStart.Enabled || ch == nil {
		return nil
	}
	store := internalrepo.NewCHHistoryStore(ch)
	store.SetLogger(log)
	return usecase.NewWarmStarter(store, usecase.WarmStartConfig{
		Symbol:    cfg.Instrument.Symbol,
		Candles:   cfg.WarmStart.Candles,
		Timeframe: domrepo.NormalizeTimeframe(cfg.WarmStart.Timeframe),
		Timeout:   cfg.WarmStart.Timeout,
	}, history, loop, refits, log, vol, reg)
}

func ProvideMarketPipeline(cfg *config.Config, loop *usecase.DecisionLoop, m domrepo.Metrics) *mid.MarketPipeline {
	return mid.NewMarketPipeline(loop, m, cfg.Instrument.Symbol,
		mid.WithMaxRPS(cfg.Loop.MaxRPS),
		mid.WithSubmitTimeout(cfg.Gateway.SubmitTimeout),
	)
}

// ProvideKafkaHandlers returns the consumer handlers. Fills are only
// consumed when an external execution service reports them.
func ProvideKafkaHandlers(cfg *config.Config, pipe *mid.MarketPipeline, loop *usecase.DecisionLoop, m domrepo.Metrics, log *logger.Logger) []pkgkafka.MessageHandler {
	hs := []pkgkafka.MessageHandler{
		usecase.NewBookHandler(cfg.Kafka.Topics.Book, pipe, m, log),
		usecase.NewTradeHandler(cfg.Kafka.Topics.Trades, pipe, m, log),
	}
	if cfg.Gateway.Mode == "kafka" {
		hs = append(hs, usecase.NewFillHandler(cfg.Kafka.Topics.Fills, cfg.Instrument.Symbol, loop, cfg.Gateway.SubmitTimeout, m, log))
	}
	return hs
}

// ProvideFundingPoller returns nil when the funding feed is disabled.
func ProvideFundingPoller(cfg *config.Config, loop *usecase.DecisionLoop, m domrepo.Metrics, log *logger.Logger) (*usecase.FundingPoller, error) {
	if !cfg.Funding.Enabled {
		return nil, nil
	}
	client, err := funding.NewClient(cfg.Funding.BaseURL, cfg.Funding.Symbol, cfg.Funding.Timeout,
		funding.WithAttempts(cfg.Funding.Attempts))
	if err != nil {
		return nil, err
	}
	return usecase.NewFundingPoller(client, loop, cfg.Funding.Interval, cfg.Funding.Timeout*time.Duration(cfg.Funding.Attempts+1), m, log), nil
}

// ProvideStatusStore shares snapshots across processes. Without Redis the
// loop answers for itself and there is nothing to share.
func ProvideStatusStore(cfg *config.Config, c cache.Service) domrepo.StatusStore {
	if !cfg.Redis.Enabled {
		return nil
	}
	return internalrepo.NewCacheStatusStore(c, cfg.Redis.StatusTTL)
}

func ProvideStatusPublisher(cfg *config.Config, loop *usecase.DecisionLoop, store domrepo.StatusStore, m domrepo.Metrics, log *logger.Logger) *usecase.StatusPublisher {
	if store == nil {
		return nil
	}
	return usecase.NewStatusPublisher(loop, store, cfg.Server.StatusPush, m, log)
}

func ProvideStatusQuery(cfg *config.Config, loop *usecase.DecisionLoop, store domrepo.StatusStore) *usecase.StatusQuery {
	return usecase.NewStatusQuery(loop, cfg.Instrument.Symbol, store)
}

// ProvideInstanceGuard returns nil without Redis; a process-local lock
// cannot exclude other processes.
func ProvideInstanceGuard(cfg *config.Config, c cache.Service) *internalrepo.InstanceGuard {
	if !cfg.Redis.Enabled {
		return nil
	}
	return internalrepo.NewInstanceGuard(c, cfg.Instrument.Symbol, cfg.Redis.LockTTL)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// ProvideHTTPHandlers builds the control and status surfaces.
func ProvideHTTPHandlers(cfg *config.Config, loop *usecase.DecisionLoop, query *usecase.StatusQuery, c cache.Service, ch *pkgch.Client, clk clock.Clock, log *logger.Logger) []xhttp.Handler {
	control := api.NewControlHandler(log, loop, ratelimit.New(cfg.Sentiment.RateLimit, cfg.Sentiment.Burst), clk)
	control.SetTimeout(cfg.Server.ControlTimeout)

	status := api.NewStatusHandler(log, query, cfg.Server.StatusPush)
	status.SetCache(icache.NewTTLCache(cfg.Redis.MemoryCapacity), cfg.Server.SignalsCacheTTL)
	if ch != nil {
		status.AddHealthCheck("clickhouse", ch.Ping)
	}
	if p, ok := c.(pinger); ok {
		status.AddHealthCheck("redis", p.Ping)
	}
	return []xhttp.Handler{control, status}
}

func ProvideHTTPServer(cfg *config.Config, handlers []xhttp.Handler, log *logger.Logger) *xhttp.Server {
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	return xhttp.NewServer(handlers,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetricsPath(path),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithLogger(log),
	)
}

// ProvideApp assembles the runnable application.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	loop *usecase.DecisionLoop,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	producer *pkgkafka.Producer,
	httpServer *xhttp.Server,
	guard *internalrepo.InstanceGuard,
	warm *usecase.WarmStarter,
	refits *usecase.RefitScheduler,
	fundingPoller *usecase.FundingPoller,
	recorder *usecase.DecisionRecorder,
	statusPub *usecase.StatusPublisher,
) *server.App {
	deps := server.Deps{
		Log:             log,
		Loop:            loop,
		Consumer:        consumer,
		MessageHandlers: handlers,
		HTTP:            httpServer,
		Refits:          refits,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	// typed nils must not reach the interface-typed fields
	if guard != nil {
		deps.Guard = guard
	}
	if warm != nil {
		deps.WarmStart = warm
	}
	if fundingPoller != nil {
		deps.Workers = append(deps.Workers, server.Worker{Name: "funding", Run: fundingPoller.Run})
	}
	if recorder != nil {
		deps.Workers = append(deps.Workers, server.Worker{Name: "journal", Run: recorder.Run})
	}
	if statusPub != nil {
		deps.Workers = append(deps.Workers, server.Worker{Name: "status", Run: statusPub.Run})
	}
	if cfg.Log.Collect {
		deps.LogCollection = &logger.CollectionConfig{
			Topic:     cfg.Kafka.Topics.Logs,
			Publisher: internalrepo.NewKafkaLogPublisher(producer),
		}
	}
	return server.New(deps)
}
