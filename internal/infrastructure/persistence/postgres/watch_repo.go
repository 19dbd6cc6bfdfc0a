package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stock-alarm/internal/application/alert"
	"stock-alarm/internal/domain/user"
	"stock-alarm/internal/domain/watch"
)

// WatchRepo 提供監控與觸發紀錄的存取；單一監控的互斥以 SELECT ... FOR UPDATE 實作。
type WatchRepo struct {
	db *sql.DB
}

// NewWatchRepo 建立 WatchRepo。
func NewWatchRepo(db *sql.DB) *WatchRepo {
	return &WatchRepo{db: db}
}

const watchColumns = `w.id, w.user_id, w.ticker, w.display_name, w.base_price, w.threshold_upper, w.threshold_lower, w.status, w.triggered_at, w.created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWatch(row rowScanner, extra ...interface{}) (watch.Watch, error) {
	var (
		w           watch.Watch
		status      string
		upper       sql.NullFloat64
		lower       sql.NullFloat64
		triggeredAt sql.NullTime
	)
	dest := []interface{}{&w.ID, &w.UserID, &w.Ticker, &w.DisplayName, &w.BasePrice, &upper, &lower, &status, &triggeredAt, &w.CreatedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return watch.Watch{}, err
	}
	w.Status = watch.Status(status)
	if upper.Valid {
		v := upper.Float64
		w.ThresholdUpper = &v
	}
	if lower.Valid {
		v := lower.Float64
		w.ThresholdLower = &v
	}
	if triggeredAt.Valid {
		t := triggeredAt.Time
		w.TriggeredAt = &t
	}
	return w, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// ListActiveWatches 列出 active 監控與其擁有者。
func (r *WatchRepo) ListActiveWatches(ctx context.Context) ([]alert.ActiveWatch, error) {
	q := `
SELECT ` + watchColumns + `, u.id, u.email, u.access_token, u.created_at
FROM watches w
JOIN users u ON u.id = w.user_id
WHERE w.status = 'active'
ORDER BY w.created_at, w.id;
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []alert.ActiveWatch{}
	for rows.Next() {
		var owner user.User
		w, err := scanWatch(rows, &owner.ID, &owner.Email, &owner.AccessToken, &owner.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, alert.ActiveWatch{Watch: w, Owner: owner})
	}
	return out, rows.Err()
}

// LockWatch 開啟交易並鎖定單一監控列；非 active 時回傳 alert.ErrAlreadyTransitioned。
func (r *WatchRepo) LockWatch(ctx context.Context, watchID string) (alert.WatchTx, watch.Watch, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, watch.Watch{}, err
	}
	q := `
SELECT ` + watchColumns + `
FROM watches w
WHERE w.id = $1
FOR UPDATE;
`
	w, err := scanWatch(tx.QueryRowContext(ctx, q, watchID))
	if err != nil {
		tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, watch.Watch{}, watch.ErrNotFound
		}
		return nil, watch.Watch{}, err
	}
	if w.Status != watch.StatusActive {
		tx.Rollback()
		return nil, watch.Watch{}, alert.ErrAlreadyTransitioned
	}
	return &watchTx{tx: tx}, w, nil
}

// TryTransitionAndLog 單次交易版本，供維運工具使用。
func (r *WatchRepo) TryTransitionAndLog(ctx context.Context, watchID string, status watch.Status, triggeredAt time.Time, entry watch.EvaluationRecord) (alert.TransitionResult, error) {
	tx, _, err := r.LockWatch(ctx, watchID)
	if errors.Is(err, alert.ErrAlreadyTransitioned) {
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
func (r *WatchRepo) AppendLog(ctx context.Context, entry watch.EvaluationRecord) error {
	return insertRecord(ctx, r.db, entry)
}

// CreateWatch 新增監控。
func (r *WatchRepo) CreateWatch(ctx context.Context, w watch.Watch) error {
	const q = `
INSERT INTO watches (id, user_id, ticker, display_name, base_price, threshold_upper, threshold_lower, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err := r.db.ExecContext(ctx, q,
		w.ID,
		w.UserID,
		w.Ticker,
		w.DisplayName,
		w.BasePrice,
		nullFloat(w.ThresholdUpper),
		nullFloat(w.ThresholdLower),
		string(w.Status),
		w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert watch: %w", err)
	}
	return nil
}

// ListWatchesByUser 使用者的監控，依建立時間排序。
func (r *WatchRepo) ListWatchesByUser(ctx context.Context, userID string) ([]watch.Watch, error) {
	q := `
SELECT ` + watchColumns + `
FROM watches w
WHERE w.user_id = $1
ORDER BY w.created_at, w.id;
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []watch.Watch{}
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DisableWatch 將 active 監控設為 inactive；UPDATE 會等待引擎持有的列鎖。
func (r *WatchRepo) DisableWatch(ctx context.Context, userID, watchID string) error {
	const q = `
UPDATE watches SET status = 'inactive'
WHERE id = $1 AND user_id = $2 AND status = 'active';
`
	res, err := r.db.ExecContext(ctx, q, watchID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	const check = `SELECT status FROM watches WHERE id = $1 AND user_id = $2;`
	var status string
	if err := r.db.QueryRowContext(ctx, check, watchID, userID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return watch.ErrNotFound
		}
		return err
	}
	return watch.ErrNotActive
}

// ListRecordsByUser 使用者的觸發紀錄，新到舊。
func (r *WatchRepo) ListRecordsByUser(ctx context.Context, userID string, limit int) ([]watch.EvaluationRecord, error) {
	const q = `
SELECT id, watch_id, user_id, ticker, base_price, observed_price, change_rate, threshold_kind, notified, evaluated_at
FROM evaluation_records
WHERE user_id = $1
ORDER BY evaluated_at DESC
LIMIT $2;
`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []watch.EvaluationRecord{}
	for rows.Next() {
		var rec watch.EvaluationRecord
		var kind string
		if err := rows.Scan(&rec.ID, &rec.WatchID, &rec.UserID, &rec.Ticker, &rec.BasePrice, &rec.ObservedPrice, &rec.ChangeRate, &kind, &rec.Notified, &rec.EvaluatedAt); err != nil {
			return nil, err
		}
		rec.ThresholdKind = watch.ThresholdKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertRecord(ctx context.Context, db execer, rec watch.EvaluationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	const q = `
INSERT INTO evaluation_records (id, watch_id, user_id, ticker, base_price, observed_price, change_rate, threshold_kind, notified, evaluated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err := db.ExecContext(ctx, q,
		rec.ID,
		rec.WatchID,
		rec.UserID,
		rec.Ticker,
		rec.BasePrice,
		rec.ObservedPrice,
		rec.ChangeRate,
		string(rec.ThresholdKind),
		rec.Notified,
		rec.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert evaluation record: %w", err)
	}
	return nil
}

// watchTx 持有 FOR UPDATE 列鎖的交易。
type watchTx struct {
	tx *sql.Tx
}

func (t *watchTx) TryTransitionAndLog(ctx context.Context, watchID string, status watch.Status, triggeredAt time.Time, entry watch.EvaluationRecord) (alert.TransitionResult, error) {
	if err := entry.Validate(); err != nil {
		return "", err
	}
	const q = `
UPDATE watches SET status = $2, triggered_at = $3
WHERE id = $1 AND status = 'active';
`
	res, err := t.tx.ExecContext(ctx, q, watchID, string(status), triggeredAt)
	if err != nil {
		return "", fmt.Errorf("transition watch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return alert.AlreadyTransitioned, nil
	}
	if err := insertRecord(ctx, t.tx, entry); err != nil {
		return "", err
	}
	return alert.Committed, nil
}

func (t *watchTx) AppendLog(ctx context.Context, entry watch.EvaluationRecord) error {
	return insertRecord(ctx, t.tx, entry)
}

func (t *watchTx) Commit() error {
	return t.tx.Commit()
}

func (t *watchTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

var (
	_ alert.WatchStore = (*WatchRepo)(nil)
	_ alert.WatchTx    = (*watchTx)(nil)
)
