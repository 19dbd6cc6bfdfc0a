package naver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"stock-alarm/internal/domain/market"

	"golang.org/x/sync/errgroup"
)

// QuoteAdapter 實作 alert.PriceLookup 與 alert.MarketSummarizer。
type QuoteAdapter struct {
	client *Client
}

func NewQuoteAdapter(client *Client) *QuoteAdapter {
	return &QuoteAdapter{client: client}
}

// GetQuote 查詢最新價；404 對應 ErrTickerNotFound，其餘失敗為 ErrUnavailable。
func (a *QuoteAdapter) GetQuote(ctx context.Context, ticker string) (market.Quote, error) {
	if !market.ValidTicker(ticker) {
		return market.Quote{}, market.ErrTickerNotFound
	}
	res, err := a.client.GetStockBasic(ctx, ticker)
	if errors.Is(err, errNotFound) {
		return market.Quote{}, market.ErrTickerNotFound
	}
	if err != nil {
		return market.Quote{}, fmt.Errorf("%w: %v", market.ErrUnavailable, err)
	}
	if p := res.ClosePrice.value; !res.ClosePrice.set || math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return market.Quote{}, fmt.Errorf("%w: no close price for %s", market.ErrUnavailable, ticker)
	}

	q := market.Quote{
		Ticker: ticker,
		Name:   res.StockName,
		Market: res.StockExchangeName,
		Price:  res.ClosePrice.value,
	}
	if res.CompareToPreviousClosePrice.set {
		q.PrevClose = res.ClosePrice.value - res.CompareToPreviousClosePrice.value
	}
	return q, nil
}

// GetMarketSummary 並行查詢 KOSPI 與 KOSDAQ。
func (a *QuoteAdapter) GetMarketSummary(ctx context.Context) (market.Summary, error) {
	var summary market.Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := a.index(gctx, "KOSPI")
		summary.KOSPI = s
		return err
	})
	g.Go(func() error {
		s, err := a.index(gctx, "KOSDAQ")
		summary.KOSDAQ = s
		return err
	})
	if err := g.Wait(); err != nil {
		return market.Summary{}, fmt.Errorf("%w: %v", market.ErrUnavailable, err)
	}
	return summary, nil
}

func (a *QuoteAdapter) index(ctx context.Context, code string) (market.IndexSnapshot, error) {
	res, err := a.client.GetIndexBasic(ctx, code)
	if err != nil {
		return market.IndexSnapshot{}, fmt.Errorf("index %s: %w", code, err)
	}
	return market.IndexSnapshot{
		Close:      res.ClosePrice.value,
		Change:     res.CompareToPreviousClosePrice.value,
		ChangeRate: res.FluctuationsRatio.value,
	}, nil
}
