package lock

import (
	"context"
	"fmt"
	"time"

	"stock-alarm/internal/application/alert"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultKey = "stockalarm:pass-lock"

// 只刪除自己持有的鎖。
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// redisClient 鎖所需的指令子集，方便測試替換。
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
}

// RedisLocker 以 SET NX PX 實作跨行程的批次鎖。
type RedisLocker struct {
	client redisClient
	key    string
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedisClient 建立 go-redis 連線。
func NewRedisClient(addr string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{Addr: addr})
}

// NewRedisLocker ttl 應大於單次批次的最長執行時間。
func NewRedisLocker(client redisClient, ttl time.Duration, log zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{client: client, key: defaultKey, ttl: ttl, log: log}
}

// TryLock 實作 alert.PassLocker。
func (l *RedisLocker) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire pass lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// 呼叫端 ctx 可能已取消，釋放使用獨立期限。
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(rctx, releaseScript, []string{l.key}, token).Err(); err != nil {
			l.log.Warn().Err(err).Msg("release pass lock failed, it will expire")
		}
	}
	return release, true, nil
}

var _ alert.PassLocker = (*RedisLocker)(nil)
