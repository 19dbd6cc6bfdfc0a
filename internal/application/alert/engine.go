package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stock-alarm/internal/domain/market"
	"stock-alarm/internal/domain/watch"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Options 引擎參數；零值會套用預設。
type Options struct {
	Concurrency       int
	LookupTimeout     time.Duration
	CommentaryTimeout time.Duration
	NotifyTimeout     time.Duration
	StoreTimeout      time.Duration
	BaseURL           string
	Brand             string
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.LookupTimeout <= 0 {
		o.LookupTimeout = 5 * time.Second
	}
	if o.CommentaryTimeout <= 0 {
		o.CommentaryTimeout = 5 * time.Second
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 30 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 10 * time.Second
	}
	return o
}

// lockHold 單一監控交易的上限：涵蓋鎖內的指數查詢、評論、寄送與寫入。
func (o Options) lockHold() time.Duration {
	return o.StoreTimeout + o.LookupTimeout + o.CommentaryTimeout + o.NotifyTimeout
}

// Engine 執行單次評估批次：查價、判斷門檻、寄送通知並寫入紀錄。
type Engine struct {
	store      WatchStore
	prices     PriceLookup
	summarizer MarketSummarizer
	commentary Commentator
	notifier   Notifier
	opts       Options
	log        zerolog.Logger
	now        func() time.Time
	newID      func() string
}

// NewEngine 建立評估引擎。summarizer 與 commentary 可為 nil。
func NewEngine(store WatchStore, prices PriceLookup, summarizer MarketSummarizer, commentary Commentator, notifier Notifier, opts Options, log zerolog.Logger) *Engine {
	return &Engine{
		store:      store,
		prices:     prices,
		summarizer: summarizer,
		commentary: commentary,
		notifier:   notifier,
		opts:       opts.withDefaults(),
		log:        log,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// pass 單次批次的共用狀態，不跨批次保留。
type pass struct {
	tally tally

	quoteGroup singleflight.Group
	quoteMu    sync.Mutex
	quotes     map[string]quoteResult

	marketOnce sync.Once
	market     market.Summary
}

type quoteResult struct {
	quote market.Quote
	err   error
}

// RunPass 對所有 active 監控執行一次評估。只有在無法列出監控時回傳錯誤（此時統計為零）。
func (e *Engine) RunPass(ctx context.Context) (Summary, error) {
	items, err := e.store.ListActiveWatches(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: list active watches: %w", ErrStoreUnavailable, err)
	}

	p := &pass{quotes: make(map[string]quoteResult)}
	p.tally.add(func(s *Summary) { s.Listed = len(items) })

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			e.processWatch(ctx, p, item)
			return nil
		})
	}
	_ = g.Wait()

	summary := p.tally.snapshot()
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return summary, nil
}

func (e *Engine) processWatch(ctx context.Context, p *pass, item ActiveWatch) {
	w := item.Watch
	log := e.log.With().Str("watch_id", w.ID).Str("ticker", w.Ticker).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("watch processing panicked")
			p.tally.add(func(s *Summary) { s.Invalid++ })
		}
	}()

	if err := w.Validate(); err != nil {
		log.Error().Err(err).Msg("skipping watch with invalid data")
		p.tally.add(func(s *Summary) { s.Invalid++ })
		return
	}

	quote, err := e.lookup(ctx, p, w.Ticker)
	if err != nil {
		reason := "unavailable"
		if errors.Is(err, market.ErrTickerNotFound) {
			reason = "not_found"
		}
		log.Warn().Err(err).Str("reason", reason).Msg("price lookup failed")
		p.tally.add(func(s *Summary) { s.FailedLookup++ })
		return
	}
	p.tally.add(func(s *Summary) { s.Evaluated++ })

	outcome := watch.EvaluateConditions(w, quote, w.Conditions())
	if !outcome.Fired() || ctx.Err() != nil {
		return
	}
	p.tally.add(func(s *Summary) { s.Fired++ })
	log.Info().
		Float64("observed_price", quote.Price).
		Float64("change_rate", watch.ChangeRate(w.BasePrice, quote.Price)).
		Str("kind", string(outcome.Kind())).
		Msg("condition fired")

	e.notifyAndCommit(ctx, p, item, quote, outcome, log)
}

// notifyAndCommit 在單一監控的鎖內重新確認狀態、寄送通知並寫入紀錄；
// 只有寄送成功才轉為 triggered，且與紀錄同一交易提交。
// 交易與寫入使用 txCtx，不隨批次取消；只有指數、評論與寄送會觀察 ctx。
func (e *Engine) notifyAndCommit(ctx context.Context, p *pass, item ActiveWatch, quote market.Quote, outcome watch.Outcome, log zerolog.Logger) {
	txCtx, cancelTx := context.WithTimeout(context.WithoutCancel(ctx), e.opts.lockHold())
	defer cancelTx()

	tx, current, err := e.store.LockWatch(txCtx, item.Watch.ID)
	if errors.Is(err, ErrAlreadyTransitioned) {
		log.Info().Msg("watch no longer active, skipping")
		p.tally.add(func(s *Summary) { s.Superseded++ })
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("lock watch failed")
		p.tally.add(func(s *Summary) { s.StoreErrors++ })
		return
	}
	defer tx.Rollback()

	kind := outcome.Kind()
	rate := watch.ChangeRate(current.BasePrice, quote.Price)
	name := current.DisplayName
	if name == "" {
		name = current.Ticker
	}

	mkt := e.marketSummary(ctx, p)
	comment, ok := e.generateCommentary(ctx, CommentaryContext{
		Ticker:     current.Ticker,
		Name:       name,
		ChangeRate: rate,
		Kind:       kind,
		Market:     mkt,
	}, log)
	if !ok {
		p.tally.add(func(s *Summary) { s.CommentaryFallbacks++ })
		comment = FallbackCommentary(name, rate, kind)
	}

	msg, err := renderMessage(item.Owner.Email, messageData{
		Brand:         e.opts.Brand,
		Name:          name,
		Ticker:        current.Ticker,
		BasePrice:     current.BasePrice,
		ObservedPrice: quote.Price,
		ChangeRate:    rate,
		Direction:     Direction(kind),
		Commentary:    comment,
		Market:        mkt,
		SettingsURL:   item.Owner.SettingsURL(e.opts.BaseURL),
	})
	var delivery Delivery
	if err != nil {
		delivery = NotAttempted(err.Error())
	} else {
		delivery = e.send(ctx, msg)
	}

	now := e.now()
	rec := watch.EvaluationRecord{
		ID:            e.newID(),
		WatchID:       current.ID,
		UserID:        current.UserID,
		Ticker:        current.Ticker,
		BasePrice:     current.BasePrice,
		ObservedPrice: quote.Price,
		ChangeRate:    rate,
		ThresholdKind: kind,
		Notified:      delivery.OK(),
		EvaluatedAt:   now,
	}

	if delivery.OK() {
		res, err := tx.TryTransitionAndLog(txCtx, current.ID, watch.StatusTriggered, now, rec)
		if err != nil {
			log.Error().Err(err).Msg("transition and log failed after delivery")
			p.tally.add(func(s *Summary) { s.StoreErrors++ })
			return
		}
		if res == AlreadyTransitioned {
			log.Warn().Msg("watch transitioned concurrently, rolling back")
			p.tally.add(func(s *Summary) { s.Superseded++ })
			return
		}
	} else {
		log.Warn().
			Str("delivery", string(delivery.Status)).
			Str("reason", delivery.Reason).
			Msg("notification not delivered, watch stays active")
		if err := tx.AppendLog(txCtx, rec); err != nil {
			log.Error().Err(err).Msg("append log failed")
			p.tally.add(func(s *Summary) { s.StoreErrors++ })
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Bool("notified", rec.Notified).Msg("commit failed")
		p.tally.add(func(s *Summary) { s.StoreErrors++ })
		return
	}

	if delivery.OK() {
		p.tally.add(func(s *Summary) { s.Notified++ })
	} else {
		p.tally.add(func(s *Summary) { s.FailedNotify++ })
	}
}

// lookup 同一批次內相同代號只查一次，失敗結果也沿用。
func (e *Engine) lookup(ctx context.Context, p *pass, ticker string) (market.Quote, error) {
	p.quoteMu.Lock()
	if r, ok := p.quotes[ticker]; ok {
		p.quoteMu.Unlock()
		return r.quote, r.err
	}
	p.quoteMu.Unlock()

	v, _, _ := p.quoteGroup.Do(ticker, func() (interface{}, error) {
		p.quoteMu.Lock()
		if r, ok := p.quotes[ticker]; ok {
			p.quoteMu.Unlock()
			return r, nil
		}
		p.quoteMu.Unlock()

		lctx, cancel := context.WithTimeout(ctx, e.opts.LookupTimeout)
		defer cancel()
		q, err := e.prices.GetQuote(lctx, ticker)
		if err != nil && !errors.Is(err, market.ErrTickerNotFound) && !errors.Is(err, market.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", market.ErrUnavailable, err)
		}
		r := quoteResult{quote: q, err: err}
		p.quoteMu.Lock()
		p.quotes[ticker] = r
		p.quoteMu.Unlock()
		return r, nil
	})
	r := v.(quoteResult)
	return r.quote, r.err
}

func (e *Engine) marketSummary(ctx context.Context, p *pass) market.Summary {
	p.marketOnce.Do(func() {
		if e.summarizer == nil {
			return
		}
		mctx, cancel := context.WithTimeout(ctx, e.opts.LookupTimeout)
		defer cancel()
		s, err := e.summarizer.GetMarketSummary(mctx)
		if err != nil {
			e.log.Warn().Err(err).Msg("market summary unavailable, using zero values")
			return
		}
		p.market = s
	})
	return p.market
}

func (e *Engine) generateCommentary(ctx context.Context, in CommentaryContext, log zerolog.Logger) (string, bool) {
	if e.commentary == nil {
		return "", false
	}
	cctx, cancel := context.WithTimeout(ctx, e.opts.CommentaryTimeout)
	defer cancel()
	text, err := e.commentary.Generate(cctx, in)
	if err != nil {
		log.Warn().Err(err).Msg("commentary unavailable, using fallback")
		return "", false
	}
	if text == "" {
		return "", false
	}
	return text, true
}

func (e *Engine) send(ctx context.Context, msg Message) Delivery {
	if e.notifier == nil {
		return NotAttempted("no notifier configured")
	}
	if msg.To == "" {
		return NotAttempted("recipient missing")
	}
	sctx, cancel := context.WithTimeout(ctx, e.opts.NotifyTimeout)
	defer cancel()
	return e.notifier.Send(sctx, msg)
}
