package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock-alarm/internal/application/alert"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// PassRunner 排程觸發的批次。
type PassRunner interface {
	RunOnce(ctx context.Context) (alert.Summary, error)
}

// Scheduler 依 cron 規則觸發評估批次。
type Scheduler struct {
	cron   *cron.Cron
	runner PassRunner
	log    zerolog.Logger
	spec   string
	loc    *time.Location
	ctx    context.Context
	cancel context.CancelFunc
}

// New 建立排程器；spec 為五欄位 cron，timeZone 為 IANA 名稱。
func New(spec, timeZone string, runner PassRunner, log zerolog.Logger) (*Scheduler, error) {
	loc := time.UTC
	if timeZone != "" {
		l, err := time.LoadLocation(timeZone)
		if err != nil {
			return nil, fmt.Errorf("load time zone %q: %w", timeZone, err)
		}
		loc = l
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, runner: runner, log: log, spec: spec, loc: loc, ctx: ctx, cancel: cancel}
	if _, err := c.AddFunc(spec, s.runJob); err != nil {
		cancel()
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start 啟動排程（非阻塞）。
func (s *Scheduler) Start() {
	s.log.Info().Str("schedule", s.spec).Time("next_run", s.NextRun()).Msg("scheduler started")
	s.cron.Start()
}

// Stop 停止排程並取消執行中的批次，等待其結束或 ctx 到期。
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out while a pass was running")
	}
}

// NextRun 下一次觸發時間。
func (s *Scheduler) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(time.Now().In(s.loc))
}

func (s *Scheduler) runJob() {
	_, err := s.runner.RunOnce(s.ctx)
	switch {
	case err == nil:
	case errors.Is(err, alert.ErrPassInProgress):
		s.log.Info().Msg("scheduled pass skipped, another pass is running")
	default:
		s.log.Error().Err(err).Msg("scheduled pass failed")
	}
	s.log.Info().Time("next_run", s.NextRun()).Msg("scheduled pass done")
}
