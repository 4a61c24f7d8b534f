package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/thistle/config"
	"github.com/Ramsey-B/thistle/internal/repositories/alertledger"
	"github.com/Ramsey-B/thistle/internal/repositories/duplicategroup"
	"github.com/Ramsey-B/thistle/internal/repositories/fingerprintindex"
	"github.com/Ramsey-B/thistle/internal/repositories/profile"
	"github.com/Ramsey-B/thistle/internal/repositories/record"
	"github.com/Ramsey-B/thistle/pkg/criteria"
	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/graph"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/matching"
	"github.com/Ramsey-B/thistle/pkg/merging"
	"github.com/Ramsey-B/thistle/pkg/processor"
	"github.com/Ramsey-B/thistle/pkg/ratelimit"
	"github.com/Ramsey-B/thistle/pkg/redis"
	"github.com/Ramsey-B/thistle/pkg/relevance"
	"github.com/Ramsey-B/thistle/pkg/routes/health"
	"github.com/Ramsey-B/thistle/pkg/startup"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, flush, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithContext(ctx).WithError(err).Error("Worker stopped with error")
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (ectologger.Logger, func(), error) {
	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := zcfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return zapadapter.NewZapEctoLogger(zl, nil), func() { _ = zl.Sync() }, nil
}

// worker holds everything the startup graph builds
type worker struct {
	db       database.DB
	redis    *redis.Client
	graph    *graph.Client
	producer *kafka.Producer
	consumer *kafka.Consumer
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	tp := tracing.NewProvider(cfg.AppName)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	checker := health.NewChecker(version)
	w := &worker{}
	s := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	s.AddDependency(&startup.Dependency{
		Name: "database",
		OnStart: func(ctx context.Context) error {
			db, err := database.Open(ctx, cfg.Database(), logger)
			if err != nil {
				return err
			}
			migration := cfg.Migration()
			if err := database.NewMigrationService(logger, &migration).MigratePostgres(db.SQL(), cfg.DatabaseName); err != nil {
				_ = db.Close()
				return err
			}
			w.db = db
			checker.AddProbe("database", db.PingContext)
			return nil
		},
		OnStop: func(context.Context) error { return w.db.Close() },
	})

	s.AddDependency(&startup.Dependency{
		Name: "redis",
		OnStart: func(ctx context.Context) error {
			if !cfg.SharedRateLimits {
				return nil
			}
			client, err := redis.NewClient(ctx, cfg.Redis(), logger)
			if err != nil {
				return err
			}
			w.redis = client
			checker.AddProbe("redis", client.Ping)
			return nil
		},
		OnStop: func(context.Context) error {
			if w.redis == nil {
				return nil
			}
			return w.redis.Close()
		},
	})

	s.AddDependency(&startup.Dependency{
		Name: "graph",
		OnStart: func(ctx context.Context) error {
			if !cfg.GraphEnabled {
				return nil
			}
			client, err := graph.NewClient(cfg.Graph(), logger)
			if err != nil {
				return err
			}
			if err := client.VerifyConnectivity(ctx); err != nil {
				_ = client.Close(ctx)
				return err
			}
			w.graph = client
			checker.AddProbe("graph", client.VerifyConnectivity)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if w.graph == nil {
				return nil
			}
			return w.graph.Close(ctx)
		},
	})

	s.AddDependency(&startup.Dependency{
		Name:     "kafka",
		Requires: []string{"database", "redis", "graph"},
		OnStart: func(ctx context.Context) error {
			w.producer = kafka.NewProducer(cfg.Producer(), logger)
			pipeline := newPipeline(cfg, w, logger)
			w.consumer = kafka.NewConsumer(cfg.Consumer(), logger, func(ctx context.Context, batch kafka.Batch) error {
				_, err := pipeline.Process(ctx, batch.Records, batch.Rejected)
				return err
			})
			return w.consumer.Start(ctx)
		},
		OnStop: func(context.Context) error {
			var errs []error
			if w.consumer != nil {
				errs = append(errs, w.consumer.Stop())
			}
			if w.producer != nil {
				errs = append(errs, w.producer.Close())
			}
			return errors.Join(errs...)
		},
	})

	if err := s.Start(ctx); err != nil {
		return err
	}
	checker.SetReady(true)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	checker.RegisterRoutes(e)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithContext(gctx).WithField("port", cfg.Port).Info("Health server listening")
		if err := e.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		checker.SetReady(false)

		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return errors.Join(e.Shutdown(stopCtx), s.Stop(stopCtx))
	})

	return g.Wait()
}

// newPipeline wires the ingestion and alert pipeline onto the started dependencies
func newPipeline(cfg *config.Config, w *worker, logger ectologger.Logger) *processor.Pipeline {
	records := record.NewRepository(w.db, logger)
	profiles := profile.NewRepository(w.db, logger)

	opts := []processor.IngestorOption{
		processor.WithCanonicalPublisher(w.producer),
		processor.WithTransactor(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return database.WithTx(ctx, w.db, fn)
		}),
	}
	if w.graph != nil {
		opts = append(opts, processor.WithGroupWriter(graph.NewDuplicateWriter(w.graph, logger)))
	}

	ingestor := processor.NewIngestor(
		processor.IngestorConfig{
			MaxCategoryCodes: cfg.MaxCategoryCodes,
			Lookback:         cfg.CanonicalLookback,
			LookbackLimit:    cfg.LookbackLimit,
		},
		records,
		fingerprintindex.NewRepository(w.db, logger),
		duplicategroup.NewRepository(w.db, logger),
		matching.NewGrouper(cfg.Grouper(), logger),
		merging.NewSelector(logger),
		logger,
		opts...,
	)

	rankerConfig := relevance.DefaultRankerConfig()
	rankerConfig.DefaultBidders = cfg.DefaultBidders
	for country, bidders := range cfg.AverageBidders {
		rankerConfig.AverageBidders[country] = bidders
	}

	factory := ratelimit.LocalFactory(cfg.AlertLimit, cfg.AlertWindow)
	if w.redis != nil {
		factory = ratelimit.NewManager(w.redis, logger).SharedFactory(cfg.AlertLimit, cfg.AlertWindow)
	}

	alerter := processor.NewAlerter(
		profiles,
		criteria.NewFilter(logger, time.Now),
		relevance.NewRanker(rankerConfig, logger),
		alertledger.NewRepository(w.db, logger),
		processor.NewRateLimitedSink(w.producer, ratelimit.NewRegistry(factory)),
		logger,
	)

	return processor.NewPipeline(ingestor, alerter, logger)
}
