package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stock-alarm/internal/application/alert"
	"stock-alarm/internal/domain/user"
	"stock-alarm/internal/domain/watch"
)

// Store 記憶體版 Watch Store，供測試與未設定資料庫時使用。
// 單一監控的互斥以 watchLocks 實作，跨監控不互相阻塞。
type Store struct {
	mu         sync.RWMutex
	users      map[string]user.User // id -> user
	byEmail    map[string]string    // email -> id
	byToken    map[string]string    // token -> id
	watches    map[string]watch.Watch
	records    []watch.EvaluationRecord
	watchLocks map[string]chan struct{}
	idSeq      int64
}

// NewStore 建立新的記憶體 Store 實例。
func NewStore() *Store {
	return &Store{
		users:      make(map[string]user.User),
		byEmail:    make(map[string]string),
		byToken:    make(map[string]string),
		watches:    make(map[string]watch.Watch),
		watchLocks: make(map[string]chan struct{}),
	}
}

// ID generator (simple incremental).
func (s *Store) nextID() string {
	s.idSeq++
	return fmt.Sprintf("id-%d", s.idSeq)
}

// CreateOrGetUser 以 email 為鍵建立使用者；已存在時回傳原資料。
func (s *Store) CreateOrGetUser(ctx context.Context, candidate user.User) (user.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byEmail[candidate.Email]; ok {
		return s.users[id], false, nil
	}
	if candidate.ID == "" {
		candidate.ID = s.nextID()
	}
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = time.Now()
	}
	if err := candidate.Validate(); err != nil {
		return user.User{}, false, err
	}
	if _, dup := s.byToken[candidate.AccessToken]; dup {
		return user.User{}, false, fmt.Errorf("access token collision")
	}
	s.users[candidate.ID] = candidate
	s.byEmail[candidate.Email] = candidate.ID
	s.byToken[candidate.AccessToken] = candidate.ID
	return candidate, true, nil
}

// FindUserByToken 依 access token 查詢使用者。
func (s *Store) FindUserByToken(ctx context.Context, token string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return s.users[id], nil
}

// DeleteUser 刪除使用者並連帶刪除其監控與紀錄。
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	delete(s.users, userID)
	delete(s.byEmail, u.Email)
	delete(s.byToken, u.AccessToken)
	for id, w := range s.watches {
		if w.UserID == userID {
			delete(s.watches, id)
			delete(s.watchLocks, id)
		}
	}
	kept := s.records[:0]
	for _, r := range s.records {
		if r.UserID != userID {
			kept = append(kept, r)
		}
	}
	s.records = kept
	return nil
}

// CreateWatch 新增監控。
func (s *Store) CreateWatch(ctx context.Context, w watch.Watch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[w.UserID]; !ok {
		return user.ErrNotFound
	}
	if w.ID == "" {
		w.ID = s.nextID()
	}
	if _, exists := s.watches[w.ID]; exists {
		return fmt.Errorf("watch %s already exists", w.ID)
	}
	s.watches[w.ID] = w
	return nil
}

// GetWatch 依 ID 查詢監控。
func (s *Store) GetWatch(ctx context.Context, id string) (watch.Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.watches[id]
	if !ok {
		return watch.Watch{}, watch.ErrNotFound
	}
	return w, nil
}

// ListWatchesByUser 使用者的監控，依建立時間排序。
func (s *Store) ListWatchesByUser(ctx context.Context, userID string) ([]watch.Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []watch.Watch{}
	for _, w := range s.watches {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DisableWatch 將 active 監控設為 inactive；與引擎共用同一把監控鎖。
func (s *Store) DisableWatch(ctx context.Context, userID, watchID string) error {
	release, err := s.acquire(ctx, watchID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[watchID]
	if !ok || w.UserID != userID {
		return watch.ErrNotFound
	}
	if w.Status != watch.StatusActive {
		return watch.ErrNotActive
	}
	w.Status = watch.StatusInactive
	s.watches[watchID] = w
	return nil
}

// ListRecordsByUser 使用者的觸發紀錄，新到舊。
func (s *Store) ListRecordsByUser(ctx context.Context, userID string, limit int) ([]watch.EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []watch.EvaluationRecord{}
	for _, r := range s.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EvaluatedAt.After(out[j].EvaluatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Records 回傳所有紀錄的副本。
func (s *Store) Records() []watch.EvaluationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]watch.EvaluationRecord(nil), s.records...)
}

// ListActiveWatches 列出 active 監控與其擁有者。
func (s *Store) ListActiveWatches(ctx context.Context) ([]alert.ActiveWatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []alert.ActiveWatch{}
	for _, w := range s.watches {
		if w.Status != watch.StatusActive {
			continue
		}
		out = append(out, alert.ActiveWatch{Watch: w, Owner: s.users[w.UserID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Watch.ID < out[j].Watch.ID })
	return out, nil
}

// LockWatch 取得監控鎖並確認仍為 active。
func (s *Store) LockWatch(ctx context.Context, watchID string) (alert.WatchTx, watch.Watch, error) {
	release, err := s.acquire(ctx, watchID)
	if err != nil {
		return nil, watch.Watch{}, err
	}
	s.mu.RLock()
	w, ok := s.watches[watchID]
	s.mu.RUnlock()
	if !ok {
		release()
		return nil, watch.Watch{}, watch.ErrNotFound
	}
	if w.Status != watch.StatusActive {
		release()
		return nil, watch.Watch{}, alert.ErrAlreadyTransitioned
	}
	return &watchTx{store: s, release: release}, w, nil
}

// TryTransitionAndLog 單次交易版本，不需先取得鎖。
func (s *Store) TryTransitionAndLog(ctx context.Context, watchID string, status watch.Status, triggeredAt time.Time, entry watch.EvaluationRecord) (alert.TransitionResult, error) {
	tx, _, err := s.LockWatch(ctx, watchID)
	if err == alert.ErrAlreadyTransitioned {
		return alert.AlreadyTransitioned, nil
	}
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	res, err := tx.TryTransitionAndLog(ctx, watchID, status, triggeredAt, entry)
	if err != nil || res != alert.Committed {
		return res, err
	}
	return res, tx.Commit()
}

// AppendLog 直接新增一筆紀錄。
func (s *Store) AppendLog(ctx context.Context, entry watch.EvaluationRecord) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, entry)
	return nil
}

func (s *Store) acquire(ctx context.Context, watchID string) (func(), error) {
	s.mu.Lock()
	sem, ok := s.watchLocks[watchID]
	if !ok {
		sem = make(chan struct{}, 1)
		s.watchLocks[watchID] = sem
	}
	s.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-sem }) }, nil
}

// watchTx 暫存寫入，Commit 時一次套用。
type watchTx struct {
	store      *Store
	release    func()
	records    []watch.EvaluationRecord
	transition *watch.Watch
	done       bool
}

func (t *watchTx) TryTransitionAndLog(ctx context.Context, watchID string, status watch.Status, triggeredAt time.Time, entry watch.EvaluationRecord) (alert.TransitionResult, error) {
	if t.done {
		return "", fmt.Errorf("transaction already closed")
	}
	if err := entry.Validate(); err != nil {
		return "", err
	}
	t.store.mu.RLock()
	w, ok := t.store.watches[watchID]
	t.store.mu.RUnlock()
	if !ok {
		return "", watch.ErrNotFound
	}
	if w.Status != watch.StatusActive {
		return alert.AlreadyTransitioned, nil
	}
	at := triggeredAt
	w.Status = status
	w.TriggeredAt = &at
	t.transition = &w
	t.records = append(t.records, entry)
	return alert.Committed, nil
}

func (t *watchTx) AppendLog(ctx context.Context, entry watch.EvaluationRecord) error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	t.records = append(t.records, entry)
	return nil
}

func (t *watchTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	t.done = true
	defer t.release()
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.transition != nil {
		t.store.watches[t.transition.ID] = *t.transition
	}
	t.store.records = append(t.store.records, t.records...)
	return nil
}

func (t *watchTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.release()
	return nil
}
