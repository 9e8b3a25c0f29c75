package session

import (
	"context"
	"fmt"
	"time"
)

// Context は1つのブラウザセッションに対するセッションコンテキスト。
// リクエスト開始時にセッションミドルウェアが生成し、context.Context経由で
// ハンドラーやリゾルバーに注入する。
type Context struct {
	id    string
	store *Store
	isNew bool
}

// NewContext はidに束縛されたContextを生成する。テストやミドルウェア以外での生成に使用する。
func NewContext(store *Store, id string) *Context {
	return &Context{id: id, store: store}
}

// ID はセッションIDを返す。
func (c *Context) ID() string {
	if c == nil {
		return ""
	}
	return c.id
}

// IsNew はこのリクエストで新規に払い出されたセッションかどうかを返す。
func (c *Context) IsNew() bool {
	return c != nil && c.isNew
}

// SetCredential はクレデンシャルを保存する。
func (c *Context) SetCredential(ctx context.Context, token string, ttl time.Duration) error {
	return c.store.SetCredential(ctx, c.id, token, ttl)
}

// Credential は有効なクレデンシャルを返す。nilのContextは常に「無し」。
func (c *Context) Credential(ctx context.Context) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.store.GetCredential(ctx, c.id)
}

// ClearCredential はクレデンシャルを削除する。
func (c *Context) ClearCredential(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.store.ClearCredential(ctx, c.id)
}

// MaxAge はブラウザセッションの有効期間を返す。
func (c *Context) MaxAge() time.Duration {
	return c.store.MaxAge()
}

// Renew は新しいセッションIDに切り替えたContextを返す。既存のセッションは削除する。
// サインインでクレデンシャルを保存する前に呼び、サインイン前のIDを引き継がない。
func (c *Context) Renew(ctx context.Context) (*Context, error) {
	id, err := NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	if !c.isNew {
		if err := c.store.ClearCredential(ctx, c.id); err != nil {
			return nil, err
		}
	}
	return &Context{id: id, store: c.store, isNew: true}, nil
}

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var sessionContextKey = contextKey("session")

// WithContext はctxにセッションコンテキストを注入する。
func WithContext(ctx context.Context, sc *Context) context.Context {
	return context.WithValue(ctx, sessionContextKey, sc)
}

// FromContext はctxからセッションコンテキストを取り出す。無い場合はnilを返す。
func FromContext(ctx context.Context) *Context {
	sc, _ := ctx.Value(sessionContextKey).(*Context)
	return sc
}
