package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig は起動時の接続リトライ設定。
// リトライは起動時の接続確立にのみ使い、リクエスト処理中のDBエラーは再試行しない。
type RetryConfig struct {
	Attempts int           // 最大試行回数（1以下なら1回のみ）
	Initial  time.Duration // 初回待機時間
	Max      time.Duration // 待機時間の上限
}

// DefaultRetryConfig は既定のリトライ設定を返す。
// 0.5秒から2倍ずつ増加し、最大8秒。
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 5,
		Initial:  500 * time.Millisecond,
		Max:      8 * time.Second,
	}
}

// Backoff はfailures回連続で失敗した後の待機時間を返す。
func (c RetryConfig) Backoff(failures int) time.Duration {
	delay := c.Initial
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay > c.Max {
			return c.Max
		}
	}
	return delay
}

// ConnectWithRetry はConnectを指数バックオフで再試行する。
func ConnectWithRetry(ctx context.Context, databaseURL string, cfg RetryConfig, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := Connect(ctx, databaseURL)
		if err == nil {
			return db, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		delay := cfg.Backoff(attempt)
		logger.Warn("database not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("database connect canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("database unreachable after %d attempts: %w", attempts, lastErr)
}
