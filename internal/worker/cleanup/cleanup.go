// Package cleanup は期限切れブラウザセッションの定期削除ジョブを提供する。
// 削除は冪等で、対象がなくてもエラーにならない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Purger は期限切れセッションの削除を抽象化するインターフェース。
// repository.SessionRepository の各実装が満たす。
type Purger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Recorder は削除件数の記録先。
type Recorder interface {
	RecordSessionsPurged(count int64)
}

// PurgeJob は期限切れセッションの削除ジョブ。
type PurgeJob struct {
	purger   Purger
	logger   *slog.Logger
	recorder Recorder
}

// NewPurgeJob は新しいPurgeJobを生成する。recorderはnilでもよい。
func NewPurgeJob(purger Purger, logger *slog.Logger, recorder Recorder) *PurgeJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PurgeJob{purger: purger, logger: logger, recorder: recorder}
}

// Run は期限切れセッションを1回削除する。
func (j *PurgeJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.purger.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッション削除の実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsPurged(deletedCount)
	}

	duration := time.Since(start)
	j.logger.Info("期限切れセッションの削除が完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *PurgeJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	// 失敗はRun内でログ出力済みのため次の周期で再試行する
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
