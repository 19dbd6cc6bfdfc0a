package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PassEngine 執行單次評估批次。
type PassEngine interface {
	RunPass(ctx context.Context) (Summary, error)
}

// PassLocker 防止批次重疊；ok=false 表示已有批次執行中。
type PassLocker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// PassObserver 接收批次結果（例如 metrics）。
type PassObserver interface {
	ObservePass(summary Summary, elapsed time.Duration, err error)
}

// PassReporter 將批次結果推送給維運人員。
type PassReporter interface {
	ReportPass(ctx context.Context, summary Summary, elapsed time.Duration, err error) error
}

// Runner 排程觸發的入口：取得批次鎖、執行、記錄結果。
type Runner struct {
	engine   PassEngine
	locker   PassLocker
	observer PassObserver
	reporter PassReporter
	log      zerolog.Logger
	now      func() time.Time
}

// NewRunner 建立 Runner；locker 為 nil 時使用行程內鎖，observer/reporter 可為 nil。
func NewRunner(engine PassEngine, locker PassLocker, observer PassObserver, reporter PassReporter, log zerolog.Logger) *Runner {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Runner{
		engine:   engine,
		locker:   locker,
		observer: observer,
		reporter: reporter,
		log:      log,
		now:      time.Now,
	}
}

// RunOnce 執行一次評估批次。
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	release, ok, err := r.locker.TryLock(ctx)
	if err != nil {
		// 鎖服務異常時仍執行；單一監控的列鎖保證重疊時不重複寄送。
		r.log.Warn().Err(err).Msg("pass lock unavailable, running without overlap guard")
		release = func() {}
	} else if !ok {
		r.log.Warn().Msg("evaluation pass already running, skipping")
		if r.observer != nil {
			r.observer.ObservePass(Summary{}, 0, ErrPassInProgress)
		}
		return Summary{}, ErrPassInProgress
	}
	defer release()

	start := r.now()
	r.log.Info().Msg("evaluation pass started")
	summary, err := r.engine.RunPass(ctx)
	elapsed := r.now().Sub(start)

	if r.observer != nil {
		r.observer.ObservePass(summary, elapsed, err)
	}

	event := r.log.Info()
	if err != nil {
		event = r.log.Error().Err(err)
	}
	event.
		Int("listed", summary.Listed).
		Int("evaluated", summary.Evaluated).
		Int("fired", summary.Fired).
		Int("notified", summary.Notified).
		Int("failed_lookup", summary.FailedLookup).
		Int("failed_notify", summary.FailedNotify).
		Int("invalid", summary.Invalid).
		Int("store_errors", summary.StoreErrors).
		Dur("elapsed", elapsed).
		Msg("evaluation pass finished")

	if r.reporter != nil {
		if rerr := r.reporter.ReportPass(ctx, summary, elapsed, err); rerr != nil {
			r.log.Warn().Err(rerr).Msg("report pass summary failed")
		}
	}
	return summary, err
}

// LocalLocker 行程內的批次鎖。
type LocalLocker struct {
	mu sync.Mutex
}

// NewLocalLocker 建立行程內鎖。
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

func (l *LocalLocker) TryLock(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// IsInterrupted 判斷批次是否因取消而中斷。
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// IsBatchFailure 判斷錯誤是否應回報給排程器為失敗。
// 批次重疊與中途取消都不算失敗：已完成的監控已提交，下次批次會接續處理。
func IsBatchFailure(err error) bool {
	return err != nil && !errors.Is(err, ErrPassInProgress) && !errors.Is(err, ErrInterrupted)
}
