package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/contactbook/internal/metrics"
	"github.com/hitoshi/contactbook/internal/model"
	"github.com/redis/go-redis/v9"
)

// WindowCounter は固定ウィンドウ内のリクエスト数を数える。
// 戻り値はインクリメント後の件数とウィンドウ終了までの残り時間。
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisWindowCounter はRedisのINCRとEXPIREでWindowCounterを実装する。
type RedisWindowCounter struct {
	client redis.UniversalClient
}

// NewRedisWindowCounter はRedisWindowCounterを生成する。
func NewRedisWindowCounter(client redis.UniversalClient) *RedisWindowCounter {
	return &RedisWindowCounter{client: client}
}

// Incr はキーをインクリメントし、初回のみウィンドウ長の有効期限を設定する。
func (c *RedisWindowCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("redis window incr: %w", err)
	}
	return incr.Val(), ttl.Val(), nil
}

// FixedWindowLimiter はユーザー単位の固定ウィンドウ制限を行う。
// カウンタはRedisに置くため、複数プロセス間で共有される。
type FixedWindowLimiter struct {
	counter   WindowCounter
	name      string
	limit     int64
	window    time.Duration
	collector metrics.MetricsCollector
}

// NewFixedWindowLimiter はwindowあたりlimit回までを許可するリミッターを生成する。
// nameはRedisキーの接頭辞とメトリクスのラベルに使用する。
func NewFixedWindowLimiter(counter WindowCounter, name string, limit int, window time.Duration, collector metrics.MetricsCollector) *FixedWindowLimiter {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &FixedWindowLimiter{
		counter:   counter,
		name:      name,
		limit:     int64(limit),
		window:    window,
		collector: collector,
	}
}

// Middleware はレート制限ミドルウェアを返す。認証ミドルウェアの後に配置する。
// Redisに到達できない場合は制限せずに通す。
func (l *FixedWindowLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := IdentityFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			key := "ratelimit:" + l.name + ":" + strconv.FormatInt(identity.ID, 10)
			count, ttl, err := l.counter.Incr(r.Context(), key, l.window)
			if err != nil {
				slog.Warn("rate limit store unavailable, allowing request",
					slog.String("limit_type", l.name),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			if count > l.limit {
				l.collector.RecordRateLimited(l.name)
				writeRateLimitResponse(w, windowRetryAfter(ttl, l.window))
				slog.Warn("rate limit exceeded",
					slog.Int64("user_id", identity.ID),
					slog.String("limit_type", l.name),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// windowRetryAfter はウィンドウ終了までの秒数を返す。TTLが取得できない場合はウィンドウ長。
func windowRetryAfter(ttl, window time.Duration) int {
	if ttl <= 0 {
		ttl = window
	}
	return max(int((ttl+time.Second-1)/time.Second), 1)
}

var _ WindowCounter = (*RedisWindowCounter)(nil)
