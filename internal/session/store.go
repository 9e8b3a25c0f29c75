// Package session はブラウザセッションとリモートAPIのベアラークレデンシャルを管理する。
//
// クレデンシャルの保存先はサーバー側のセッションストア1か所のみで、
// ブラウザにはHttpOnly CookieでセッションIDだけを渡す。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleanquest/cleanquest-web/internal/model"
	"github.com/cleanquest/cleanquest-web/internal/repository"
)

// Config はセッションストアの設定。
type Config struct {
	MaxAge time.Duration // ブラウザセッション自体の有効期間
}

// Store はセッションごとに1つのクレデンシャルを保持するセッションストア。
// クレデンシャルの読み取りは常に同期的で、失敗しても「無し」として扱う。
type Store struct {
	repo   repository.SessionRepository
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(repo repository.SessionRepository, config Config, logger *slog.Logger) *Store {
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// MaxAge はブラウザセッションの有効期間を返す。
func (s *Store) MaxAge() time.Duration {
	return s.config.MaxAge
}

// Open は既存のセッションを読み込む。idが空、存在しない、期限切れのいずれかの場合は
// 新しいセッションIDを払い出してクレデンシャル無しの状態で返す。
// 新しいセッションは最初にクレデンシャルが保存されるまで永続化しない。
func (s *Store) Open(ctx context.Context, id string) (*Context, error) {
	if id != "" {
		sess, err := s.repo.FindByID(ctx, id)
		if err != nil {
			s.logger.Error("failed to load session", slog.String("error", err.Error()))
		}
		if err == nil && sess != nil {
			return &Context{id: id, store: s, isNew: false}, nil
		}
	}

	newID, err := NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	return &Context{id: newID, store: s, isNew: true}, nil
}

// SetCredential はクレデンシャルをttlの有効期限付きで保存する。
// 既存の値は常に上書きする（last-write-wins）。
func (s *Store) SetCredential(ctx context.Context, id, token string, ttl time.Duration) error {
	if id == "" {
		return fmt.Errorf("session ID is required")
	}
	if token == "" {
		return s.ClearCredential(ctx, id)
	}

	now := s.now()
	sess := &model.Session{
		ID:                  id,
		Credential:          token,
		CredentialExpiresAt: now.Add(ttl),
		ExpiresAt:           now.Add(s.config.MaxAge),
		CreatedAt:           now,
	}

	if existing, err := s.repo.FindByID(ctx, id); err == nil && existing != nil {
		sess.CreatedAt = existing.CreatedAt
	}

	if err := s.repo.Save(ctx, sess); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// GetCredential は有効期限内のクレデンシャルを返す。
// 無い、期限切れ、ストアの読み取り失敗の場合はokがfalseになる。
func (s *Store) GetCredential(ctx context.Context, id string) (string, bool) {
	if id == "" {
		return "", false
	}

	sess, err := s.repo.FindByID(ctx, id)
	if err != nil {
		s.logger.Warn("credential lookup failed, treating as absent",
			slog.String("error", err.Error()),
		)
		return "", false
	}
	if !sess.HasCredential(s.now()) {
		return "", false
	}
	return sess.Credential, true
}

// ClearCredential はセッションのクレデンシャルを削除する（ログアウト）。
func (s *Store) ClearCredential(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.repo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

// NewSessionID は暗号的に安全なセッションIDを生成する。
func NewSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
