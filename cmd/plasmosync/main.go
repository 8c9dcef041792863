package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/howkawgew/PlasmoSyncBot/config"
	"github.com/howkawgew/PlasmoSyncBot/internal/repositories/guildsettings"
	"github.com/howkawgew/PlasmoSyncBot/internal/repositories/syncrecord"
	"github.com/howkawgew/PlasmoSyncBot/pkg/database"
	"github.com/howkawgew/PlasmoSyncBot/pkg/dispatcher"
	"github.com/howkawgew/PlasmoSyncBot/pkg/engine"
	"github.com/howkawgew/PlasmoSyncBot/pkg/events"
	"github.com/howkawgew/PlasmoSyncBot/pkg/httpclient"
	"github.com/howkawgew/PlasmoSyncBot/pkg/ingress"
	"github.com/howkawgew/PlasmoSyncBot/pkg/kafka"
	"github.com/howkawgew/PlasmoSyncBot/pkg/middleware"
	"github.com/howkawgew/PlasmoSyncBot/pkg/platform/guild"
	"github.com/howkawgew/PlasmoSyncBot/pkg/platform/plasmo"
	"github.com/howkawgew/PlasmoSyncBot/pkg/queue"
	"github.com/howkawgew/PlasmoSyncBot/pkg/reconciler"
	"github.com/howkawgew/PlasmoSyncBot/pkg/redis"
	dlqroutes "github.com/howkawgew/PlasmoSyncBot/pkg/routes/dlq"
	entityroutes "github.com/howkawgew/PlasmoSyncBot/pkg/routes/entity"
	guildroutes "github.com/howkawgew/PlasmoSyncBot/pkg/routes/guild"
	"github.com/howkawgew/PlasmoSyncBot/pkg/routes/health"
	sweeproutes "github.com/howkawgew/PlasmoSyncBot/pkg/routes/sweep"
	"github.com/howkawgew/PlasmoSyncBot/pkg/scheduler"
	"github.com/howkawgew/PlasmoSyncBot/pkg/startup"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing/exporters"
)

func main() {
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg)
	ctx := context.Background()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func buildLogger(cfg *config.Config) ectologger.Logger {
	var zapCfg zap.Config
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(logLevel(cfg.LogLevel))

	zapLogger, err := zapCfg.Build()
	if err != nil {
		zapLogger = zap.NewNop()
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

// logLevel maps the LOG_LEVEL setting to a zap level, falling back to info on
// anything unrecognized.
func logLevel(name string) zapcore.Level {
	level, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	// Tracing
	var exporter sdktrace.SpanExporter = &exporters.ConsoleExporter{}
	if cfg.OTLPEnabled {
		otlpExporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = otlpExporter
	}
	shutdownTracing := tracing.Init(cfg.AppName, exporter)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// Database
	db, err := database.Connect(ctx, database.Config{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		UserName:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// Migrations
	driver, err := migratepg.WithInstance(db.Unsafe().DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis
	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	streams := redis.NewStreams(redisClient)
	dlq := redis.NewDeadLetterQueue(redisClient, redis.DefaultDLQStream, logger)
	pending := redis.NewPendingLink(redisClient, redis.DefaultPendingLinkKey, redis.DefaultPendingLinkMax, logger)

	// Repositories
	recordsRepo := syncrecord.NewRepository(db, logger)
	settingsRepo := guildsettings.NewRepository(db, logger)

	// Platform adapters
	donorClient := plasmo.NewClient(plasmo.Config{
		BaseURL: cfg.DonorBaseURL,
		Token:   cfg.DonorToken,
	}, httpclient.NewClient(httpclient.DefaultConfig(), logger), logger)
	guildClient := guild.NewClient(guild.Config{
		BaseURL: cfg.GuildBaseURL,
		Token:   cfg.GuildToken,
	}, httpclient.NewClient(httpclient.DefaultConfig(), logger), logger)

	// Dispatch
	budgets := []dispatcher.Budget{
		{
			System:      engine.SystemGuild,
			Requests:    int64(cfg.GuildRateRequests),
			Window:      cfg.GuildRateWindow,
			MaxInFlight: cfg.GuildMaxInFlight,
		},
		{
			System:      engine.SystemDonor,
			Requests:    int64(cfg.DonorRateRequests),
			Window:      cfg.DonorRateWindow,
			MaxInFlight: cfg.DonorMaxInFlight,
		},
	}
	disp := dispatcher.New(dispatcher.Config{
		MaxAttempts: cfg.DispatchMaxAttempts,
		BaseBackoff: cfg.DispatchBaseBackoff,
		MaxBackoff:  cfg.DispatchMaxBackoff,
		MaxWait:     cfg.DispatchMaxWait,
	}, budgets, redisClient, guildClient, logger)

	// Outcome events
	brokers := strings.Split(cfg.KafkaBrokers, ",")
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: brokers,
		Topic:   cfg.KafkaOutcomeTopic,
	}, logger)
	defer producer.Close()
	emitter := events.NewEmitter(producer, logger)

	// Engine and work loops
	eng := engine.New(recordsRepo, settingsRepo, donorClient, guildClient, reconciler.New(), disp, redisClient, emitter, logger)

	processorCfg := queue.DefaultProcessorConfig()
	processorCfg.Stream = cfg.RedisStreamsJobQueue
	processorCfg.ConsumerGroup = cfg.RedisStreamsConsumerGroup
	if cfg.RedisStreamsConsumerName != "" {
		processorCfg.ConsumerName = cfg.RedisStreamsConsumerName
	}
	processorCfg.WorkerCount = cfg.QueueWorkerCount
	processor := queue.NewProcessor(streams, dlq, eng, processorCfg, logger)

	publisher := queue.NewPublisher(streams, cfg.RedisStreamsJobQueue, logger)

	ingressCfg := ingress.DefaultConfig()
	ingressCfg.Brokers = brokers
	ingressCfg.Topic = cfg.KafkaIngressTopic
	ingressCfg.ConsumerGroup = cfg.KafkaIngressConsumerGroup
	ingressCfg.JobStream = cfg.RedisStreamsJobQueue
	ingressCfg.PendingTTL = cfg.PendingLinkTTL
	ing := ingress.New(ingressCfg, donorClient, recordsRepo, streams, pending, logger)

	sched := scheduler.New(scheduler.Config{
		Interval:  cfg.SweepInterval,
		PageSize:  cfg.SweepPageSize,
		JobStream: cfg.RedisStreamsJobQueue,
	}, recordsRepo, settingsRepo, streams, redisClient, logger)

	// Dependency injection for the route handlers
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	if err := registerDependencies(container, logger, recordsRepo, settingsRepo, eng, ing, sched, publisher, dlq, streams); err != nil {
		return err
	}

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	checker := health.NewChecker(db, redisClient, processor, version())
	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	entityroutes.Register(api.Group("/entities"))
	guildroutes.Register(api.Group("/guilds"))
	sweeproutes.Register(api.Group("/sweeps"))
	dlqroutes.Register(api.Group("/dlq"))

	// Background loops start in dependency order and stop in reverse. A
	// rejected platform credential fails boot instead of starting a process
	// that defers every entity.
	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&startup.Func{
		Name: "platform_auth",
		StartFn: func(ctx context.Context) error {
			if err := donorClient.Ping(ctx); err != nil {
				return fmt.Errorf("donor platform auth check failed: %w", err)
			}
			if err := guildClient.Ping(ctx); err != nil {
				return fmt.Errorf("guild platform auth check failed: %w", err)
			}
			return nil
		},
	})
	boot.AddDependency(&startup.Func{
		Name:    "processor",
		Deps:    []string{"platform_auth"},
		StartFn: processor.Start,
		StopFn:  processor.Stop,
	})
	boot.AddDependency(&startup.Func{
		Name:    "ingress",
		Deps:    []string{"processor"},
		StartFn: ing.Start,
		StopFn: func(ctx context.Context) error {
			return ing.Stop()
		},
	})
	if cfg.SweepEnabled {
		boot.AddDependency(&startup.Func{
			Name:    "scheduler",
			Deps:    []string{"processor"},
			StartFn: sched.Start,
			StopFn:  sched.Stop,
		})
	} else {
		logger.Warn("Periodic sweep is disabled; convergence relies on change notifications only")
	}

	if err := boot.Start(ctx); err != nil {
		return err
	}
	checker.SetReady(true)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		server := &http.Server{
			Addr:              addr,
			ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
			WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
			IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
			ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		}
		if err := e.StartServer(server); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server stopped")
		}
	}()

	logger.Infof("%s is running on port %d", cfg.AppName, cfg.Port)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown failed")
	}
	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Background loops shutdown failed")
	}

	return nil
}

func registerDependencies(
	container ectocontainer.DIContainer,
	logger ectologger.Logger,
	recordsRepo *syncrecord.Repository,
	settingsRepo *guildsettings.Repository,
	eng *engine.Engine,
	ing *ingress.Ingress,
	sched *scheduler.Scheduler,
	publisher *queue.Publisher,
	dlq *redis.DeadLetterQueue,
	streams *redis.Streams,
) error {
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return fmt.Errorf("failed to register logger: %w", err)
	}
	if err := ectoinject.RegisterInstance[*syncrecord.Repository](container, recordsRepo); err != nil {
		return fmt.Errorf("failed to register sync record repository: %w", err)
	}
	if err := ectoinject.RegisterInstance[*guildsettings.Repository](container, settingsRepo); err != nil {
		return fmt.Errorf("failed to register guild settings repository: %w", err)
	}
	if err := ectoinject.RegisterInstance[*engine.Engine](container, eng); err != nil {
		return fmt.Errorf("failed to register engine: %w", err)
	}
	if err := ectoinject.RegisterInstance[*ingress.Ingress](container, ing); err != nil {
		return fmt.Errorf("failed to register ingress: %w", err)
	}
	if err := ectoinject.RegisterInstance[*scheduler.Scheduler](container, sched); err != nil {
		return fmt.Errorf("failed to register scheduler: %w", err)
	}
	if err := ectoinject.RegisterInstance[*queue.Publisher](container, publisher); err != nil {
		return fmt.Errorf("failed to register publisher: %w", err)
	}
	if err := ectoinject.RegisterInstance[*redis.DeadLetterQueue](container, dlq); err != nil {
		return fmt.Errorf("failed to register dead letter queue: %w", err)
	}
	if err := ectoinject.RegisterInstance[*redis.Streams](container, streams); err != nil {
		return fmt.Errorf("failed to register streams: %w", err)
	}
	return nil
}

func version() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}
	return "dev"
}
