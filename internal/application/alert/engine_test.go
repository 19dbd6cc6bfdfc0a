package alert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"stock-alarm/internal/domain/market"
	"stock-alarm/internal/domain/user"
	"stock-alarm/internal/domain/watch"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	mu      sync.Mutex
	watches map[string]watch.Watch
	owners  map[string]user.User
	records []watch.EvaluationRecord
	listErr error
	lockErr error
}

func newFakeStore(items ...ActiveWatch) *fakeStore {
	s := &fakeStore{watches: map[string]watch.Watch{}, owners: map[string]user.User{}}
	for _, it := range items {
		s.watches[it.Watch.ID] = it.Watch
		s.owners[it.Owner.ID] = it.Owner
	}
	return s
}

func (s *fakeStore) ListActiveWatches(context.Context) ([]ActiveWatch, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ActiveWatch{}
	for _, w := range s.watches {
		if w.Status == watch.StatusActive {
			out = append(out, ActiveWatch{Watch: w, Owner: s.owners[w.UserID]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Watch.ID < out[j].Watch.ID })
	return out, nil
}

func (s *fakeStore) LockWatch(_ context.Context, id string) (WatchTx, watch.Watch, error) {
	if s.lockErr != nil {
		return nil, watch.Watch{}, s.lockErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[id]
	if !ok || w.Status != watch.StatusActive {
		return nil, watch.Watch{}, ErrAlreadyTransitioned
	}
	return &fakeTx{store: s}, w, nil
}

func (s *fakeStore) status(id string) watch.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watches[id].Status
}

type fakeTx struct {
	store      *fakeStore
	records    []watch.EvaluationRecord
	transition *watch.Watch
	done       bool
}

func (t *fakeTx) TryTransitionAndLog(ctx context.Context, id string, status watch.Status, at time.Time, entry watch.EvaluationRecord) (TransitionResult, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.store.mu.Lock()
	w := t.store.watches[id]
	t.store.mu.Unlock()
	if w.Status != watch.StatusActive {
		return AlreadyTransitioned, nil
	}
	w.Status = status
	w.TriggeredAt = &at
	t.transition = &w
	t.records = append(t.records, entry)
	return Committed, nil
}

func (t *fakeTx) AppendLog(ctx context.Context, entry watch.EvaluationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.records = append(t.records, entry)
	return nil
}

func (t *fakeTx) Commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.transition != nil {
		t.store.watches[t.transition.ID] = *t.transition
	}
	t.store.records = append(t.store.records, t.records...)
	t.done = true
	return nil
}

func (t *fakeTx) Rollback() error {
	t.done = true
	return nil
}

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
	errs   map[string]error
	calls  map[string]int
}

func (f *fakePrices) GetQuote(_ context.Context, ticker string) (market.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[ticker]++
	if err := f.errs[ticker]; err != nil {
		return market.Quote{}, err
	}
	p, ok := f.prices[ticker]
	if !ok {
		return market.Quote{}, market.ErrTickerNotFound
	}
	return market.Quote{Ticker: ticker, Price: p}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Message
	fail bool
}

func (f *fakeNotifier) Send(_ context.Context, msg Message) Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return DeliveryFailed("smtp auth failed")
	}
	f.sent = append(f.sent, msg)
	return Delivered()
}

// cancelOnSend 模擬寄送期間收到終止訊號。
type cancelOnSend struct {
	cancel context.CancelFunc
	result Delivery
	sent   int
}

func (c *cancelOnSend) Send(context.Context, Message) Delivery {
	c.sent++
	c.cancel()
	return c.result
}

type fakeCommentator struct {
	text  string
	err   error
	block bool
}

func (f fakeCommentator) Generate(ctx context.Context, _ CommentaryContext) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

type fakeSummarizer struct {
	summary market.Summary
	err     error
}

func (f fakeSummarizer) GetMarketSummary(context.Context) (market.Summary, error) {
	return f.summary, f.err
}

func ptr(v float64) *float64 { return &v }

func activeWatch(id, ticker string, base float64, upper, lower *float64) ActiveWatch {
	return ActiveWatch{
		Watch: watch.Watch{
			ID:             id,
			UserID:         "u-1",
			Ticker:         ticker,
			DisplayName:    "Name " + ticker,
			BasePrice:      base,
			ThresholdUpper: upper,
			ThresholdLower: lower,
			Status:         watch.StatusActive,
		},
		Owner: user.User{ID: "u-1", Email: "owner@example.com", AccessToken: "tok-1"},
	}
}

func newTestEngine(store WatchStore, prices PriceLookup, commentary Commentator, notifier Notifier) *Engine {
	e := NewEngine(store, prices, fakeSummarizer{}, commentary, notifier, Options{
		BaseURL:           "https://stockalarm.example",
		CommentaryTimeout: 20 * time.Millisecond,
	}, zerolog.Nop())
	e.now = func() time.Time { return time.Date(2025, 3, 4, 11, 30, 0, 0, time.UTC) }
	seq := 0
	var mu sync.Mutex
	e.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("rec-%d", seq)
	}
	return e
}

func TestEngine_UpperThresholdTriggers(t *testing.T) {
	store := newFakeStore(activeWatch("w-1", "005930", 100, ptr(10), nil))
	notifier := &fakeNotifier{}
	engine := newTestEngine(store, &fakePrices{prices: map[string]float64{"005930": 112}}, fakeCommentator{text: "Solid session."}, notifier)

	summary, err := engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Summary{Listed: 1, Evaluated: 1, Fired: 1, Notified: 1}
	if summary != want {
		t.Fatalf("summary = %+v, want %+v", summary, want)
	}
	if store.status("w-1") != watch.StatusTriggered {
		t.Fatalf("expected triggered, got %s", store.status("w-1"))
	}
	if len(store.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(store.records))
	}
	rec := store.records[0]
	if math.Abs(rec.ChangeRate-12.0) > 1e-9 || rec.ThresholdKind != watch.KindUpper || !rec.Notified {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ObservedPrice != 112 || rec.BasePrice != 100 || rec.UserID != "u-1" {
		t.Fatalf("unexpected record prices: %+v", rec)
	}
	if store.watches["w-1"].TriggeredAt == nil {
		t.Fatal("expected triggered_at to be set")
	}

	msg := notifier.sent[0]
	if msg.To != "owner@example.com" {
		t.Errorf("unexpected recipient %s", msg.To)
	}
	if !strings.Contains(msg.Subject, "+12.00%") {
		t.Errorf("subject missing change rate: %s", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Solid session.") || !strings.Contains(msg.Body, "https://stockalarm.example/settings/tok-1") {
		t.Errorf("body missing commentary or settings url:\n%s", msg.Body)
	}
}

func TestEngine_NoFireLeavesNoTrace(t *testing.T) {
	store := newFakeStore(activeWatch("w-1", "005930", 100, nil, ptr(-10)))
	notifier := &fakeNotifier{}
	engine := newTestEngine(store, &fakePrices{prices: map[string]float64{"005930": 95}}, nil, notifier)

	summary, err := engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Evaluated != 1 || summary.Fired != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if store.status("w-1") != watch.StatusActive || len(store.records) != 0 || len(notifier.sent) != 0 {
		t.Fatal("no-fire must not change state or write records")
	}
}

func TestEngine_DeliveryFailureRetriesNextPass(t *testing.T) {
	store := newFakeStore(activeWatch("w-1", "005930", 100, ptr(10), nil))
	prices := &fakePrices{prices: map[string]float64{"005930": 112}}
	notifier := &fakeNotifier{fail: true}
	engine := newTestEngine(store, prices, nil, notifier)

	summary, err := engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.FailedNotify != 1 || summary.Notified != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if store.status("w-1") != watch.StatusActive {
		t.Fatal("watch must stay active after failed delivery")
	}
	if len(store.records) != 1 || store.records[0].Notified {
		t.Fatalf("expected one record with notified=false, got %+v", store.records)
	}

	notifier.fail = false
	summary, err = engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Fired != 1 || summary.Notified != 1 {
		t.Fatalf("retry pass summary %+v", summary)
	}
	if store.status("w-1") != watch.StatusTriggered {
		t.Fatal("retry should trigger the watch")
	}
	if len(store.records) != 2 || !store.records[1].Notified {
		t.Fatalf("expected second record with notified=true, got %+v", store.records)
	}
}

func TestEngine_TriggeredWatchIsNotReevaluated(t *testing.T) {
	item := activeWatch("w-1", "005930", 100, ptr(10), nil)
	item.Watch.Status = watch.StatusTriggered
	store := newFakeStore(item)
	prices := &fakePrices{prices: map[string]float64{"005930": 200}}
	notifier := &fakeNotifier{}
	engine := newTestEngine(store, prices, nil, notifier)

	summary, err := engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != (Summary{}) {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
	if prices.calls["005930"] != 0 || len(notifier.sent) != 0 {
		t.Fatal("triggered watch must not be looked up or notified")
	}
}

func TestEngine_SecondPassIsNoop(t *testing.T) {
	store := newFakeStore(
		activeWatch("w-1", "005930", 100, ptr(10), nil),
		activeWatch("w-2", "000660", 100, nil, ptr(-5)),
	)
	prices := &fakePrices{prices: map[string]float64{"005930": 115, "000660": 90}}
	notifier := &fakeNotifier{}
	engine := newTestEngine(store, prices, nil, notifier)

	if _, err := engine.RunPass(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Listed != 0 || second.Notified != 0 {
		t.Fatalf("second pass should be a no-op, got %+v", second)
	}
	if len(notifier.sent) != 2 || len(store.records) != 2 {
		t.Fatalf("expected exactly one notification per watch, got %d sends, %d records", len(notifier.sent), len(store.records))
	}
}

func TestEngine_LookupFailureIsIsolated(t *testing.T) {
	store := newFakeStore(
		activeWatch("w-1", "111111", 100, ptr(10), nil),
		activeWatch("w-2", "222222", 100, ptr(10), nil),
		activeWatch("w-3", "333333", 100, ptr(10), nil),
	)
	prices := &fakePrices{
		prices: map[string]float64{"222222": 120},
		errs:   map[string]error{"111111": market.ErrUnavailable, "333333": errors.New("connection reset")},
	}
	notifier := &fakeNotifier{}
	engine := newTestEngine(store, prices, nil, notifier)

	summary, err := engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.FailedLookup != 2 || summary.Notified != 1 || summary.Evaluated != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if store.status("w-2") != watch.StatusTriggered {
		t.Fatal("healthy ticker should still trigger")
	}
	if store.status("w-1") != watch.StatusActive || store.status("w-3") != watch.StatusActive {
		t.Fatal("failed lookups must not change status")
	}
	if len(store.records) != 1 {
		t.Fatalf("failed lookups must not write records, got %d", len(store.records))
	}
}

func TestEngine_CommentaryDegradation(t *testing.T) {
	tests := []struct {
		name       string
		commentary Commentator
	}{
		{"error", fakeCommentator{err: errors.New("rate limited")}},
		{"timeout", fakeCommentator{block: true}},
		{"empty", fakeCommentator{}},
		{"missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(activeWatch("w-1", "005930", 100, nil, ptr(-10)))
			notifier := &fakeNotifier{}
			engine := newTestEngine(store, &fakePrices{prices: map[string]float64{"005930": 85}}, tt.commentary, notifier)

			summary, err := engine.RunPass(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if summary.Notified != 1 || summary.CommentaryFallbacks != 1 {
				t.Fatalf("unexpected summary %+v", summary)
			}
			if !store.records[0].Notified || store.records[0].ThresholdKind != watch.KindLower {
				t.Fatalf("unexpected record %+v", store.records[0])
			}
			want := FallbackCommentary("Name 005930", -15, watch.KindLower)
			if !strings.Contains(notifier.sent[0].Body, want) {
				t.Fatalf("body should contain fallback %q:\n%s", want, notifier.sent[0].Body)
			}
		})
	}
}

func TestEngine_StoreUnreachableAbortsPass(t *testing.T) {
	store := newFakeStore(activeWatch("w-1", "005930", 100, ptr(10), nil))
	store.listErr = errors.New("connection refused")
	notifier := &fakeNotifier{}
	engine := newTestEngine(store, &fakePrices{prices: map[string]float64{"005930": 112}}, nil, notifier)

	summary, err := engine.RunPass(context.Background())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if summary != (Summary{}) {
		t.Fatalf("expected zero summary, got %+v", summary)
	}
	if len(notifier.sent) != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestEngine_InvalidWatchSkipped(t *testing.T) {
	bad := activeWatch("w-1", "005930", 100, nil, nil)
	zero := activeWatch("w-2", "000660", 0, ptr(10), nil)
	good := activeWatch("w-3", "035720", 100, ptr(10), nil)
	store := newFakeStore(bad, zero, good)
	prices := &fakePrices{prices: map[string]float64{"005930": 200, "000660": 200, "035720": 200}}
	engine := newTestEngine(store, prices, nil, &fakeNotifier{})

	summary, err := engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Invalid != 2 || summary.Notified != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if prices.calls["005930"] != 0 || prices.calls["000660"] != 0 {
		t.Fatal("invalid watches must not be looked up")
	}
}

func TestEngine_AlreadyTransitionedIsSkipped(t *testing.T) {
	store := newFakeStore(activeWatch("w-1", "005930", 100, ptr(10), nil))
	store.lockErr = ErrAlreadyTransitioned
	notifier := &fakeNotifier{}
	engine := newTestEngine(store, &fakePrices{prices: map[string]float64{"005930": 112}}, nil, notifier)

	summary, err := engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Superseded != 1 || len(notifier.sent) != 0 || len(store.records) != 0 {
		t.Fatalf("expected skip without effects, got %+v", summary)
	}
}

func TestEngine_LookupOncePerTicker(t *testing.T) {
	store := newFakeStore(
		activeWatch("w-1", "005930", 100, ptr(50), nil),
		activeWatch("w-2", "005930", 100, nil, ptr(-50)),
		activeWatch("w-3", "005930", 90, ptr(50), nil),
	)
	prices := &fakePrices{prices: map[string]float64{"005930": 101}}
	engine := newTestEngine(store, prices, nil, &fakeNotifier{})

	summary, err := engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Evaluated != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if prices.calls["005930"] != 1 {
		t.Fatalf("expected a single lookup, got %d", prices.calls["005930"])
	}
}

func TestEngine_MissingRecipientIsNotAttempted(t *testing.T) {
	item := activeWatch("w-1", "005930", 100, ptr(10), nil)
	item.Owner.Email = ""
	store := newFakeStore(item)
	notifier := &fakeNotifier{}
	engine := newTestEngine(store, &fakePrices{prices: map[string]float64{"005930": 112}}, nil, notifier)

	summary, err := engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.FailedNotify != 1 || len(notifier.sent) != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if store.status("w-1") != watch.StatusActive || store.records[0].Notified {
		t.Fatal("undelivered notification must keep the watch active")
	}
}

func TestEngine_CancelledContext(t *testing.T) {
	store := newFakeStore(activeWatch("w-1", "005930", 100, ptr(10), nil))
	engine := newTestEngine(store, &fakePrices{prices: map[string]float64{"005930": 112}}, nil, &fakeNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.RunPass(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.status("w-1") != watch.StatusActive {
		t.Fatal("cancelled pass must not transition watches")
	}
}

func TestEngine_CancelDuringSendStillCommits(t *testing.T) {
	cases := []struct {
		name       string
		result     Delivery
		wantStatus watch.Status
		notified   bool
	}{
		{"delivered", Delivered(), watch.StatusTriggered, true},
		{"failed", DeliveryFailed("context canceled"), watch.StatusActive, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			store := newFakeStore(activeWatch("w-1", "005930", 100, ptr(10), nil))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			notifier := &cancelOnSend{cancel: cancel, result: c.result}
			engine := newTestEngine(store, &fakePrices{prices: map[string]float64{"005930": 112}}, nil, notifier)

			summary, err := engine.RunPass(ctx)
			if !errors.Is(err, ErrInterrupted) {
				t.Fatalf("expected ErrInterrupted, got %v", err)
			}
			if notifier.sent != 1 || summary.StoreErrors != 0 {
				t.Fatalf("unexpected summary %+v (sent=%d)", summary, notifier.sent)
			}
			if got := store.status("w-1"); got != c.wantStatus {
				t.Fatalf("expected status %s, got %s", c.wantStatus, got)
			}
			if len(store.records) != 1 || store.records[0].Notified != c.notified {
				t.Fatalf("expected one record with notified=%v, got %+v", c.notified, store.records)
			}
		})
	}
}
