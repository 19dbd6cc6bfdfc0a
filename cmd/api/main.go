package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-alarm/internal/bootstrap"
	"stock-alarm/internal/infrastructure/config"
	"stock-alarm/internal/infrastructure/db"
	"stock-alarm/internal/infrastructure/logger"
	"stock-alarm/internal/infrastructure/scheduler"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	schedule := flag.Bool("schedule", false, "run the daily evaluation schedule inside the API process")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		boot := logger.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config failed")
	}
	logger.Init(cfg.App.LogLevel, cfg.App.LogPretty)
	log := logger.WithComponent("api")
	log.Info().Str("addr", cfg.HTTP.Addr).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.Connect(connectCtx, cfg.DB)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("database connection failed, falling back to in-memory store")
		pool = nil
	} else if pool == nil {
		log.Info().Msg("no DB_DSN provided; running with in-memory store only")
	} else {
		defer pool.Close()
		log.Info().Msg("database connected successfully")
	}

	app := bootstrap.New(cfg, pool, logger.Logger)
	defer app.Close()

	if *schedule {
		sched, err := scheduler.New(cfg.Scheduler.Spec, cfg.Scheduler.TimeZone, app.Runner, logger.WithComponent("scheduler"))
		if err != nil {
			log.Fatal().Err(err).Msg("invalid schedule")
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	if err := serve(ctx, newHTTPServer(cfg, app, logger.WithComponent("http")), log); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
