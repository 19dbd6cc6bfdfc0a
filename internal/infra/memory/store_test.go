package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stock-alarm/internal/application/alert"
	"stock-alarm/internal/domain/market"
	"stock-alarm/internal/domain/user"
	"stock-alarm/internal/domain/watch"

	"github.com/rs/zerolog"
)

func ptr(v float64) *float64 { return &v }

func seedUser(t *testing.T, s *Store, email, token string) user.User {
	t.Helper()
	u, created, err := s.CreateOrGetUser(context.Background(), user.User{ID: "u-" + token, Email: email, AccessToken: token})
	if err != nil || !created {
		t.Fatalf("seed user: created=%v err=%v", created, err)
	}
	return u
}

func seedWatch(t *testing.T, s *Store, id, userID string, base float64, upper, lower *float64) {
	t.Helper()
	err := s.CreateWatch(context.Background(), watch.Watch{
		ID: id, UserID: userID, Ticker: "005930", DisplayName: "Samsung", BasePrice: base,
		ThresholdUpper: upper, ThresholdLower: lower, Status: watch.StatusActive, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed watch: %v", err)
	}
}

func record(id, watchID, userID string) watch.EvaluationRecord {
	return watch.EvaluationRecord{
		ID: id, WatchID: watchID, UserID: userID, Ticker: "005930", BasePrice: 100, ObservedPrice: 112,
		ChangeRate: 12, ThresholdKind: watch.KindUpper, Notified: true, EvaluatedAt: time.Now(),
	}
}

func TestStore_Users(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	t.Run("CreateAndReuse", func(t *testing.T) {
		u := seedUser(t, s, "a@example.com", "tok-a")
		again, created, err := s.CreateOrGetUser(ctx, user.User{ID: "other", Email: "a@example.com", AccessToken: "tok-new"})
		if err != nil {
			t.Fatal(err)
		}
		if created || again.ID != u.ID || again.AccessToken != "tok-a" {
			t.Fatalf("re-registration must reuse the existing user and token, got %+v created=%v", again, created)
		}
	})

	t.Run("FindByToken", func(t *testing.T) {
		u, err := s.FindUserByToken(ctx, "tok-a")
		if err != nil || u.Email != "a@example.com" {
			t.Fatalf("FindUserByToken failed: %+v %v", u, err)
		}
		if _, err := s.FindUserByToken(ctx, "missing"); !errors.Is(err, user.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_ListActiveAndDisable(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com", "tok-a")
	other := seedUser(t, s, "b@example.com", "tok-b")
	seedWatch(t, s, "w-1", u.ID, 100, ptr(10), nil)
	seedWatch(t, s, "w-2", u.ID, 100, nil, ptr(-10))

	if err := s.DisableWatch(ctx, other.ID, "w-1"); !errors.Is(err, watch.ErrNotFound) {
		t.Fatalf("non-owner must not disable, got %v", err)
	}
	if err := s.DisableWatch(ctx, u.ID, "w-1"); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	if err := s.DisableWatch(ctx, u.ID, "w-1"); !errors.Is(err, watch.ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}

	active, err := s.ListActiveWatches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Watch.ID != "w-2" || active[0].Owner.Email != "a@example.com" {
		t.Fatalf("unexpected active list %+v", active)
	}
}

func TestStore_LockWatch(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com", "tok-a")
	seedWatch(t, s, "w-1", u.ID, 100, ptr(10), nil)

	t.Run("RollbackDiscardsWrites", func(t *testing.T) {
		tx, _, err := s.LockWatch(ctx, "w-1")
		if err != nil {
			t.Fatal(err)
		}
		if err := tx.AppendLog(ctx, record("r-0", "w-1", u.ID)); err != nil {
			t.Fatal(err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatal(err)
		}
		if len(s.Records()) != 0 {
			t.Fatal("rolled back record must not be visible")
		}
	})

	t.Run("SecondLockWaits", func(t *testing.T) {
		tx, _, err := s.LockWatch(ctx, "w-1")
		if err != nil {
			t.Fatal(err)
		}
		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		if _, _, err := s.LockWatch(waitCtx, "w-1"); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected the second lock to block, got %v", err)
		}
		tx.Rollback()
	})

	t.Run("TransitionCommitsAtomically", func(t *testing.T) {
		tx, w, err := s.LockWatch(ctx, "w-1")
		if err != nil {
			t.Fatal(err)
		}
		res, err := tx.TryTransitionAndLog(ctx, w.ID, watch.StatusTriggered, time.Now(), record("r-1", "w-1", u.ID))
		if err != nil || res != alert.Committed {
			t.Fatalf("transition: %v %v", res, err)
		}
		if got, _ := s.GetWatch(ctx, "w-1"); got.Status != watch.StatusActive {
			t.Fatal("uncommitted transition must not be visible")
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
		got, _ := s.GetWatch(ctx, "w-1")
		if got.Status != watch.StatusTriggered || got.TriggeredAt == nil || len(s.Records()) != 1 {
			t.Fatalf("unexpected state after commit: %+v records=%d", got, len(s.Records()))
		}
	})

	t.Run("AlreadyTransitioned", func(t *testing.T) {
		if _, _, err := s.LockWatch(ctx, "w-1"); !errors.Is(err, alert.ErrAlreadyTransitioned) {
			t.Fatalf("expected ErrAlreadyTransitioned, got %v", err)
		}
		res, err := s.TryTransitionAndLog(ctx, "w-1", watch.StatusTriggered, time.Now(), record("r-2", "w-1", u.ID))
		if err != nil || res != alert.AlreadyTransitioned {
			t.Fatalf("expected already_transitioned, got %v %v", res, err)
		}
	})
}

func TestStore_DeleteUserCascades(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com", "tok-a")
	seedWatch(t, s, "w-1", u.ID, 100, ptr(10), nil)
	if err := s.AppendLog(ctx, record("r-1", "w-1", u.ID)); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetWatch(ctx, "w-1"); !errors.Is(err, watch.ErrNotFound) {
		t.Fatal("watch should be deleted with its owner")
	}
	if len(s.Records()) != 0 {
		t.Fatal("records should be deleted with their owner")
	}
}

type staticPrices map[string]float64

func (p staticPrices) GetQuote(_ context.Context, ticker string) (market.Quote, error) {
	v, ok := p[ticker]
	if !ok {
		return market.Quote{}, market.ErrTickerNotFound
	}
	return market.Quote{Ticker: ticker, Price: v}, nil
}

type countingNotifier struct {
	mu   sync.Mutex
	sent int
}

func (n *countingNotifier) Send(context.Context, alert.Message) alert.Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent++
	return alert.Delivered()
}

// 兩個批次同時執行時，每個監控仍只寄送一次。
func TestStore_ConcurrentPassesSendOnce(t *testing.T) {
	s := NewStore()
	u := seedUser(t, s, "a@example.com", "tok-a")
	for _, id := range []string{"w-1", "w-2", "w-3", "w-4"} {
		seedWatch(t, s, id, u.ID, 100, ptr(10), nil)
	}
	notifier := &countingNotifier{}
	engine := alert.NewEngine(s, staticPrices{"005930": 120}, nil, nil, notifier, alert.Options{Concurrency: 4}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.RunPass(context.Background()); err != nil {
				t.Errorf("pass failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if notifier.sent != 4 {
		t.Fatalf("expected 4 notifications, got %d", notifier.sent)
	}
	if len(s.Records()) != 4 {
		t.Fatalf("expected 4 records, got %d", len(s.Records()))
	}
}
