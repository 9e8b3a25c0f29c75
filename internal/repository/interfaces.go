// Package repository はブラウザセッションの永続化を提供する。
// ユーザー、報告、決済などのデータはリモートAPIが保持するため、
// このサービスが永続化するのはセッションとそのクレデンシャルのみ。
package repository

import (
	"context"

	"github.com/cleanquest/cleanquest-web/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
// バックエンド（メモリ、PostgreSQL、Redis）の違いに関わらず読み取り経路はこれ1つ。
type SessionRepository interface {
	// Save はセッションを作成または上書きする。
	Save(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
