package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stock-alarm/internal/domain/user"
)

// UserRepo 提供使用者的存取。
type UserRepo struct {
	db *sql.DB
}

// NewUserRepo 建立 UserRepo。
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

// CreateOrGetUser 以 email 為唯一鍵；已存在時回傳原資料（含原 token），created=false。
func (r *UserRepo) CreateOrGetUser(ctx context.Context, candidate user.User) (user.User, bool, error) {
	if err := candidate.Validate(); err != nil {
		return user.User{}, false, err
	}
	const insert = `
INSERT INTO users (id, email, access_token, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (email) DO NOTHING
RETURNING id, email, access_token, created_at;
`
	var u user.User
	err := r.db.QueryRowContext(ctx, insert, candidate.ID, candidate.Email, candidate.AccessToken, candidate.CreatedAt).
		Scan(&u.ID, &u.Email, &u.AccessToken, &u.CreatedAt)
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return user.User{}, false, fmt.Errorf("insert user: %w", err)
	}

	const q = `
SELECT id, email, access_token, created_at
FROM users
WHERE email = $1;
`
	if err := r.db.QueryRowContext(ctx, q, candidate.Email).Scan(&u.ID, &u.Email, &u.AccessToken, &u.CreatedAt); err != nil {
		return user.User{}, false, fmt.Errorf("load existing user: %w", err)
	}
	return u, false, nil
}

// FindUserByToken 依 access token 查詢使用者。
func (r *UserRepo) FindUserByToken(ctx context.Context, token string) (user.User, error) {
	const q = `
SELECT id, email, access_token, created_at
FROM users
WHERE access_token = $1;
`
	var u user.User
	if err := r.db.QueryRowContext(ctx, q, token).Scan(&u.ID, &u.Email, &u.AccessToken, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

// DeleteUser 刪除使用者；監控與紀錄由外鍵連帶刪除。
func (r *UserRepo) DeleteUser(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1;`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrNotFound
	}
	return nil
}
