package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout はバックエンド疎通確認のタイムアウト。
const healthCheckTimeout = 3 * time.Second

// HealthChecker はセッションストアの疎通を確認する。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc は関数をHealthCheckerとして扱うアダプタ。
type HealthCheckFunc func(ctx context.Context) error

// Ping はf(ctx)を呼ぶ。
func (f HealthCheckFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// NewHealthHandler はヘルスチェックのハンドラーを返す。
// checkerがnilの場合は常に正常を返す。
// GET /health
func NewHealthHandler(checker HealthChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()

			if err := checker.Ping(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
