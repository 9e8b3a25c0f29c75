package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cleanquest/cleanquest-web/internal/model"
	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix はセッションキーの接頭辞。
const redisKeyPrefix = "cleanquest:session:"

// redisSession はRedisに保存するセッションのJSON表現。
type redisSession struct {
	ID                  string    `json:"id"`
	Credential          string    `json:"credential"`
	CredentialExpiresAt time.Time `json:"credential_expires_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	CreatedAt           time.Time `json:"created_at"`
}

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// キーのTTLをセッションの有効期限に合わせるため、期限切れのセッションはRedis側で消える。
type RedisSessionRepo struct {
	rc  *redis.Client
	now func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(rc *redis.Client) *RedisSessionRepo {
	return &RedisSessionRepo{rc: rc, now: time.Now}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Save はセッションを保存する。キーのTTLはExpiresAtまでの残り時間。
func (r *RedisSessionRepo) Save(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.DeleteByID(ctx, session.ID)
	}

	data, err := json.Marshal(redisSession{
		ID:                  session.ID,
		Credential:          session.Credential,
		CredentialExpiresAt: session.CredentialExpiresAt,
		ExpiresAt:           session.ExpiresAt,
		CreatedAt:           session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.rc.Set(ctx, redisKey(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しない場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	raw, err := r.rc.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var rs redisSession
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if !r.now().Before(rs.ExpiresAt) {
		return nil, nil
	}

	return &model.Session{
		ID:                  rs.ID,
		Credential:          rs.Credential,
		CredentialExpiresAt: rs.CredentialExpiresAt,
		ExpiresAt:           rs.ExpiresAt,
		CreatedAt:           rs.CreatedAt,
	}, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.rc.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired はRedisのキーTTLに任せるため常に0を返す。
func (r *RedisSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
