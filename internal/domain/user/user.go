package user

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// User 以 email 註冊的使用者；AccessToken 用於設定頁網址，建立後不再變更。
type User struct {
	ID          string
	Email       string
	AccessToken string
	CreatedAt   time.Time
}

// NormalizeEmail 去除空白並轉小寫。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail 檢查 email 格式。
func ValidateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.New("invalid email format")
	}
	return nil
}

// Validate 基本欄位檢查。
func (u User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	if u.AccessToken == "" {
		return errors.New("access token is required")
	}
	return nil
}

// SettingsURL 組出使用者設定頁網址。
func (u User) SettingsURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/settings/" + u.AccessToken
}

// ErrNotFound 查無使用者。
var ErrNotFound = errors.New("user not found")
