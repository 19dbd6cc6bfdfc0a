package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-alarm/internal/application/alert"
	"stock-alarm/internal/bootstrap"
	authinfra "stock-alarm/internal/infrastructure/auth"
	"stock-alarm/internal/infrastructure/config"
	"stock-alarm/internal/infrastructure/db"
	"stock-alarm/internal/infrastructure/logger"
	"stock-alarm/internal/infrastructure/scheduler"

	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	schedule := flag.Bool("schedule", false, "keep running and evaluate on the configured cron schedule")
	issueToken := flag.String("issue-token", "", "print a service token for the given subject and exit")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.App.LogLevel, cfg.App.LogPretty)
	log := logger.WithComponent("check-alerts")

	if *issueToken != "" {
		os.Exit(printToken(cfg, *issueToken))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.Connect(connectCtx, cfg.DB)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(1)
	}
	if pool == nil {
		log.Warn().Msg("no DB_DSN provided; evaluating the empty in-memory store")
	} else {
		defer pool.Close()
		missing, err := db.MissingTables(ctx, pool)
		if err == nil && len(missing) > 0 {
			err = fmt.Errorf("schema not migrated, missing tables %v", missing)
		}
		if err != nil {
			log.Error().Err(err).Msg("database schema check failed")
			os.Exit(1)
		}
	}

	app := bootstrap.New(cfg, pool, logger.Logger)
	defer app.Close()

	if *schedule {
		if err := runScheduled(ctx, cfg, app.Runner, log); err != nil {
			log.Error().Err(err).Msg("scheduler failed")
			os.Exit(1)
		}
		return
	}

	if code := runOnce(ctx, app.Runner, log); code != 0 {
		os.Exit(code)
	}
}

// runOnce 執行一次批次；只有批次層級失敗才回傳非零結束碼。
func runOnce(ctx context.Context, runner scheduler.PassRunner, log zerolog.Logger) int {
	_, err := runner.RunOnce(ctx)
	if alert.IsBatchFailure(err) {
		log.Error().Err(err).Msg("evaluation pass failed")
		return 1
	}
	if err != nil {
		log.Warn().Err(err).Msg("evaluation pass skipped")
	}
	return 0
}

func runScheduled(ctx context.Context, cfg config.Config, runner scheduler.PassRunner, log zerolog.Logger) error {
	sched, err := scheduler.New(cfg.Scheduler.Spec, cfg.Scheduler.TimeZone, runner, logger.WithComponent("scheduler"))
	if err != nil {
		return err
	}
	sched.Start()
	log.Info().Str("spec", cfg.Scheduler.Spec).Time("next_run", sched.NextRun()).Msg("waiting for scheduled passes")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, waiting for running pass")
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	sched.Stop(stopCtx)
	return nil
}

func printToken(cfg config.Config, subject string) int {
	token, exp, err := authinfra.NewServiceTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL).Issue(subject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		return 1
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", exp.Format(time.RFC3339))
	return 0
}
