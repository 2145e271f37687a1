package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	deliveryapi "github.com/uplifthq/uplift/internal/api/handlers/delivery"
	rosterapi "github.com/uplifthq/uplift/internal/api/handlers/roster"
	scheduleapi "github.com/uplifthq/uplift/internal/api/handlers/schedule"
	"github.com/uplifthq/uplift/internal/api/router"
	"github.com/uplifthq/uplift/internal/api/server"
	"github.com/uplifthq/uplift/internal/config"
	"github.com/uplifthq/uplift/internal/rabbitmq/queue"
	historyrepo "github.com/uplifthq/uplift/internal/repository/history"
	jobrepo "github.com/uplifthq/uplift/internal/repository/job"
	rosterrepo "github.com/uplifthq/uplift/internal/repository/roster"
	schedulerepo "github.com/uplifthq/uplift/internal/repository/schedule"
	userrepo "github.com/uplifthq/uplift/internal/repository/user"
	"github.com/uplifthq/uplift/internal/rotation"
	deliverysvc "github.com/uplifthq/uplift/internal/service/delivery"
	schedulersvc "github.com/uplifthq/uplift/internal/service/scheduler"
	"github.com/uplifthq/uplift/internal/worker"
	"github.com/uplifthq/uplift/pkg/generator"
	"github.com/uplifthq/uplift/pkg/mailer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()
	val := validator.New()

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to open channel")
	}

	q, err := queue.NewDeliveryQueue(ch)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create delivery queue")
	}

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.Database)
	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	schedules := schedulerepo.NewRepository(db)
	jobs := jobrepo.NewRepository(db)
	rosters := rosterrepo.NewRepository(db)
	history := historyrepo.NewRepository(db)
	users := userrepo.NewRepository(db)

	mailClient := mailer.NewClient(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.Username,
		cfg.Email.Password,
		cfg.Email.From,
		cfg.Email.Timeout,
	)
	genClient := generator.NewClient(cfg.Generator.BaseURL, cfg.Generator.Timeout)

	schedulerService := schedulersvc.NewService(schedules, jobs, rosters, q, rotation.New(), cfg.Delivery.MaxAttempts)
	deliveryService := deliverysvc.NewService(
		jobs, history, users,
		genClient, mailClient, rdb,
		cfg.Delivery.Lease, cfg.Delivery.Backoff,
	)

	pool := worker.NewPool(q, deliveryService)
	go pool.Run(ctx, cfg.Retry, cfg.Workers.Count)
	go schedulerService.Run(ctx, cfg.Retry, cfg.Scheduler.TickInterval)

	scheduleHandler := scheduleapi.NewHandler(schedules, val)
	rosterHandler := rosterapi.NewHandler(rosters, val)
	deliveryHandler := deliveryapi.NewHandler(deliveryService, schedulerService, cfg)

	r := router.New(scheduleHandler, rosterHandler, deliveryHandler)
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	if err := ch.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ channel")
	}
	if err := conn.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
	}
}
