package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stock-alarm/internal/infrastructure/config"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Connect 建立 PostgreSQL 連線池；若未設定 DSN 則回傳 nil（改用記憶體 Store）。
func Connect(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, nil
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	if err := Ping(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Ping 檢查連線；ctx 沒有期限時套用 5 秒逾時。
func Ping(ctx context.Context, db *sql.DB) error {
	pingCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return db.PingContext(pingCtx)
}

// RequiredTables migration 建立、引擎與 API 依賴的資料表。
var RequiredTables = []string{"users", "watches", "evaluation_records"}

// MissingTables 回傳尚未建立的資料表；空 slice 代表 migration 已套用。
func MissingTables(ctx context.Context, db *sql.DB) ([]string, error) {
	missing := []string{}
	for _, name := range RequiredTables {
		var exists bool
		if err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+name).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check table %s: %w", name, err)
		}
		if !exists {
			missing = append(missing, name)
		}
	}
	return missing, nil
}
