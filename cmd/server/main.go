package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"officehub/internal/events"
	"officehub/internal/events/outbox"
	"officehub/internal/events/redisbus"
	httpapi "officehub/internal/http"
	jwttoken "officehub/internal/jwt_token"
	officehandler "officehub/internal/office/handler"
	officemetrics "officehub/internal/office/metrics"
	"officehub/internal/office/service"
	"officehub/internal/office/store"
	"officehub/internal/platform/config"
	"officehub/internal/platform/httpserver"
	"officehub/internal/platform/kafka"
	"officehub/internal/platform/logger"
	"officehub/internal/platform/metrics"
	"officehub/internal/platform/postgres"
	redisclient "officehub/internal/platform/redis"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("officehub stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	eventMetrics := events.NewMetrics()
	bus := events.NewBus(events.WithLogger(log), events.WithMetrics(eventMetrics))
	bus.SubscribeAll(events.AuditLogger(log))
	recorder := events.NewRecorder(
		events.WithMaxWait(cfg.Events.MaxWait),
		events.WithRecorderMetrics(eventMetrics),
	).Attach(bus)

	g, gctx := errgroup.WithContext(ctx)
	checks := map[string]httpapi.HealthCheck{}
	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(officemetrics.New()),
	}

	var officeStore service.Store = store.NewInMemory()
	var db *sql.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.Open(ctx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		officeStore = store.NewPostgres(db)
		svcOpts = append(svcOpts, service.WithTx(store.NewPostgresTx(db)))
		checks["postgres"] = db.PingContext
	}

	var emitter events.Emitter = bus
	switch cfg.Events.Transport {
	case config.TransportMemory:
		if db != nil {
			emitter = relay(g, gctx, db, events.NewLocalPublisher(bus), cfg, log)
		}

	case config.TransportRedis:
		client, err := redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		checks["redis"] = client.Health

		publisher := redisbus.NewPublisher(client, cfg.Redis.Channel)
		emitter = relay(g, gctx, db, publisher, cfg, log)
		subscriber := redisbus.NewSubscriber(client, cfg.Redis.Channel, bus, log)
		g.Go(func() error { return subscriber.Run(gctx) })

	case config.TransportKafka:
		if err := kafka.EnsureTopic(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions, 1); err != nil {
			return err
		}
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer producer.Close()
		checks["kafka"] = producer.Health

		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ConsumerGroup, events.Forward(bus), log)
		if err != nil {
			return err
		}
		defer consumer.Close()

		emitter = relay(g, gctx, db, producer, cfg, log)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	svc := service.New(officeStore, emitter, svcOpts...)

	deps := httpapi.Deps{
		Office:  officehandler.New(svc, recorder, log),
		Metrics: metrics.New(),
		Health:  checks,
		Logger:  log,
	}
	if cfg.JWTSigningKey != "" {
		deps.Auth = jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer)
	} else {
		log.Warn("JWT_SIGNING_KEY not set, API runs without authentication")
	}

	srv := httpserver.New(cfg.Addr, httpapi.NewRouter(deps))
	g.Go(func() error {
		log.Info("starting officehub", "addr", cfg.Addr, "transport", cfg.Events.Transport, "postgres", db != nil)
		return httpserver.Run(gctx, srv, 10*time.Second)
	})

	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if drainErr := bus.Drain(drainCtx); drainErr != nil {
		log.Warn("event listeners did not finish", "error", drainErr)
	}
	return err
}

// relay returns the emitter the service writes to when events leave the
// process. With Postgres the outbox keeps publication transactional and a
// worker forwards committed rows; without it events are published directly.
func relay(g *errgroup.Group, ctx context.Context, db *sql.DB, publisher events.Publisher, cfg config.Server, log *slog.Logger) events.Emitter {
	if db == nil {
		return events.NewPublishingEmitter(publisher)
	}
	worker := outbox.NewWorker(db, publisher,
		outbox.WithLogger(log),
		outbox.WithMetrics(outbox.NewMetrics()),
		outbox.WithPollInterval(cfg.Events.OutboxPollInterval),
		outbox.WithBatchSize(cfg.Events.OutboxBatchSize),
	)
	g.Go(func() error { return worker.Run(ctx) })
	return outbox.NewStore(db)
}
