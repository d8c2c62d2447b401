// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はジョブの既定実行間隔。
const DefaultInterval = time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SessionCleanupJob はexpires_atを過ぎたセッション行を削除する。
// 削除対象がなくてもエラーにならないため、何度実行しても安全。
type SessionCleanupJob struct {
	db     Executor
	logger *slog.Logger
	now    func() time.Time
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。
func NewSessionCleanupJob(db Executor, logger *slog.Logger) *SessionCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCleanupJob{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Run は期限切れセッションを1回削除し、削除件数を返す。
// 基準時刻はDBのnow()ではなくアプリケーション側の現在時刻を渡す。
func (j *SessionCleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	query := `DELETE FROM sessions WHERE expires_at < $1`
	result, err := j.db.ExecContext(ctx, query, j.now().UTC())
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("期限切れセッションの削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("session cleanup rows affected unavailable",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deleted, nil
}

// Start は起動直後に1回、その後interval毎にRunを実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("session cleanup scheduler started",
		slog.Duration("interval", interval),
	)

	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session cleanup scheduler stopped")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

// runLogged はRunを実行する。失敗はRun自身がログに出力する。
func (j *SessionCleanupJob) runLogged(ctx context.Context) {
	_, _ = j.Run(ctx)
}
