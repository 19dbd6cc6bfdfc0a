package authinfra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleService 排程器與維運工具使用的角色。
const RoleService = "service"

var (
	// ErrInvalidToken token 無法驗證（簽章錯誤、過期或格式錯誤）。
	ErrInvalidToken = errors.New("invalid token")
	// ErrForbidden token 有效但角色不符。
	ErrForbidden = errors.New("insufficient role")
)

// Claims 定義服務 token 的 payload。
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ServiceTokens 簽發/驗證管理端觸發批次用的 JWT。
type ServiceTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewServiceTokens 建立簽發器；ttl <= 0 時預設 24 小時。
func NewServiceTokens(secret string, ttl time.Duration) *ServiceTokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ServiceTokens{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue 產生 HS256 簽章的服務 token。
func (s *ServiceTokens) Issue(subject string) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, fmt.Errorf("subject required")
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Role: RoleService,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse 驗證並解析 token。
func (s *ServiceTokens) Parse(token string) (Claims, error) {
	var claims Claims
	tkn, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tkn.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// Authorize 解析 token 並要求 service 角色。
func (s *ServiceTokens) Authorize(token string) (Claims, error) {
	claims, err := s.Parse(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.Role != RoleService {
		return Claims{}, ErrForbidden
	}
	return claims, nil
}
