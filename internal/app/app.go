package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SlavaLB/it-school/internal/broker/rabbitmq"
	"github.com/SlavaLB/it-school/internal/clock"
	"github.com/SlavaLB/it-school/internal/config"
	"github.com/SlavaLB/it-school/internal/dispatcher"
	"github.com/SlavaLB/it-school/internal/domain"
	"github.com/SlavaLB/it-school/internal/executor"
	"github.com/SlavaLB/it-school/internal/handler"
	"github.com/SlavaLB/it-school/internal/repository/postgres"
	"github.com/SlavaLB/it-school/internal/repository/redis"
	"github.com/SlavaLB/it-school/internal/scheduler"
	"github.com/SlavaLB/it-school/internal/sink"
	"github.com/SlavaLB/it-school/internal/sink/ws"

	"github.com/wb-go/wbf/dbpg"
	wbfredis "github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"
)

const ShutdownTimeout = 5 * time.Second

type App struct {
	cfg     *config.Config
	db      *dbpg.DB
	rd      *wbfredis.Client
	broker  *rabbitmq.Broker
	hub     *ws.Hub
	server  *http.Server
	worker  *rabbitmq.Worker
	sweeper *executor.Sweeper
}

// NewApp wires the whole service: every component is constructed once and
// handed its dependencies explicitly, no package-level state.
func NewApp(cfg *config.Config) *App {
	retries := cfg.DefaultRetryStrategy()

	clk, err := clock.New(cfg.Reminder.Timezone)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to init clock")
	}

	dbOpts := &dbpg.Options{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	}
	db, err := dbpg.New(cfg.DBDSN(), cfg.DB.Slaves, dbOpts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	rd := wbfredis.New(cfg.RedisAddr(), cfg.Redis.Pass, cfg.Redis.DB)
	cache := redis.NewTaskCache(rd, retries)
	repo := postgres.NewTaskRepository(db, cache, retries, time.Duration(cfg.CacheTTLHours)*time.Hour)

	br := rabbitmq.NewRabbitMQ(cfg, retries)

	hub := ws.NewHub()
	announcer, err := sink.NewAnnouncer(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to init Telegram announcer")
	}
	fanout := sink.NewFanout(hub, announcer)

	exec := executor.New(repo, br.Publisher(), clk, retries, cfg.Worker.VisibilityTimeout)
	sched := scheduler.New(exec, clk, cfg.Reminder.Offset, cfg.Reminder.GraceDelay)
	disp := dispatcher.New(fanout, clk, cfg.Reminder.Channel)
	exec.Register(domain.TypeScheduleReminder, sched.HandleSchedule)
	exec.Register(domain.TypeSendReminder, disp.HandleSend)

	worker := rabbitmq.NewWorker(br, exec.Process)
	sweeper := executor.NewSweeper(exec, cfg.Worker.SweepInterval)

	h := handler.NewHandler(sched, exec, clk)
	mux := handler.SetupRouter(h, hub.HandleWS(cfg.Reminder.Channel))
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.LoggingMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		cfg:     cfg,
		db:      db,
		rd:      rd,
		broker:  br,
		hub:     hub,
		server:  srv,
		worker:  worker,
		sweeper: sweeper,
	}
}

func (a *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.worker.Start(ctx)
	go a.sweeper.Start(ctx)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Logger.Info().Msg("Shutting down...")
	cancel()
	a.worker.Stop()
	a.sweeper.Stop()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancelShutdown()
	if err := a.server.Shutdown(ctxShutdown); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Shutdown failed")
	}
	a.hub.Close()
	a.broker.Close()
	a.db.Master.Close()
	a.rd.Close()
	zlog.Logger.Info().Msg("Exited")
}
