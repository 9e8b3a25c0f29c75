// Package identity はセッションのクレデンシャルから現在のユーザーを解決する。
package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cleanquest/cleanquest-web/internal/model"
	"github.com/cleanquest/cleanquest-web/internal/session"
	"golang.org/x/sync/singleflight"
)

// ProfileFetcher は識別エンドポイントを呼び出す。apiclient.Clientが実装する。
type ProfileFetcher interface {
	CurrentUser(ctx context.Context, credential string) (*model.UserProfile, error)
}

// Recorder は解決結果の記録先。metrics.Collectorが実装する。
// resultは cache_hit, fetched, coalesced, absent, failed のいずれか。
type Recorder interface {
	RecordResolve(result string)
}

type noopRecorder struct{}

func (noopRecorder) RecordResolve(string) {}

// Config はResolverの設定。
type Config struct {
	CacheTTL     time.Duration // プロフィールキャッシュの有効期間
	FetchTimeout time.Duration // 共有リクエストのタイムアウト
}

type cacheEntry struct {
	profile   model.UserProfile
	expiresAt time.Time
}

// maxCacheEntries を超えたら期限切れのエントリを掃除する。
const maxCacheEntries = 10000

// Resolver は現在のユーザーを解決する。
// 同じクレデンシャルに対する同時の解決は1つのリクエストにまとめる。
type Resolver struct {
	fetcher  ProfileFetcher
	logger   *slog.Logger
	config   Config
	recorder Recorder
	now      func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewResolver はResolverを生成する。
func NewResolver(fetcher ProfileFetcher, logger *slog.Logger, config Config) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Minute
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 10 * time.Second
	}
	return &Resolver{
		fetcher:  fetcher,
		logger:   logger,
		config:   config,
		recorder: noopRecorder{},
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// WithRecorder は解決結果の記録先を設定する。
func (r *Resolver) WithRecorder(rec Recorder) *Resolver {
	if rec != nil {
		r.recorder = rec
	}
	return r
}

// Resolve はセッションの現在のユーザーを返す。nilは「ユーザー無し」を表す。
//
// クレデンシャルが無ければネットワークに出ない。解決に失敗した場合はnilを返し、
// 失敗が未認証（期限切れ・失効）であれば保存済みのクレデンシャルも削除する。
// ctxが先に終了した場合はnilを返し、セッションには一切触れない。
func (r *Resolver) Resolve(ctx context.Context, sc *session.Context) *model.UserProfile {
	p, _ := r.ResolveState(ctx, sc)
	return p
}

// ResolveState はResolveと同じ解決を行い、解決後のライフサイクル状態も返す。
// ctxが解決の完了前に終了した場合はStateResolvingを返す。
func (r *Resolver) ResolveState(ctx context.Context, sc *session.Context) (*model.UserProfile, State) {
	token, ok := sc.Credential(ctx)
	if !ok {
		r.recorder.RecordResolve("absent")
		return nil, StateLoggedOut
	}

	if p, ok := r.cached(token); ok {
		r.recorder.RecordResolve("cache_hit")
		return p, StateLoggedIn
	}

	ch := r.group.DoChan(token, func() (interface{}, error) {
		return r.fetch(ctx, token)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, StateResolving
	case res = <-ch:
	}

	if res.Err != nil {
		r.recorder.RecordResolve("failed")
		if ctx.Err() != nil {
			return nil, StateResolving
		}
		if model.KindOf(res.Err) == model.KindUnauthenticated {
			if err := sc.ClearCredential(ctx); err != nil {
				r.logger.Error("failed to clear expired credential",
					slog.String("error", err.Error()),
				)
			}
			r.logger.Info("credential rejected by identity endpoint, signed out",
				slog.String("session_id", shortID(sc.ID())),
			)
		} else {
			r.logger.Warn("current user resolution failed",
				slog.String("error", res.Err.Error()),
			)
		}
		return nil, StateLoggedOut
	}

	if res.Shared {
		r.recorder.RecordResolve("coalesced")
	} else {
		r.recorder.RecordResolve("fetched")
	}

	p := *res.Val.(*model.UserProfile)
	return &p, StateLoggedIn
}

// fetch は共有リクエストの本体。直前に終わった解決がキャッシュを埋めていればそれを使う。
func (r *Resolver) fetch(ctx context.Context, token string) (*model.UserProfile, error) {
	if p, ok := r.cached(token); ok {
		return p, nil
	}

	// 共有リクエストは個々の呼び出し元のキャンセルから切り離す
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.FetchTimeout)
	defer cancel()

	profile, err := r.fetcher.CurrentUser(fctx, token)
	if err != nil {
		r.Invalidate(token)
		return nil, err
	}
	r.Update(token, profile)
	return profile, nil
}

// Invalidate はクレデンシャルに対応するキャッシュを破棄する。
func (r *Resolver) Invalidate(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, token)
}

// Update はクレデンシャルに対応するキャッシュを置き換える。
// プロフィール編集後の楽観的更新に使用する。
func (r *Resolver) Update(token string, profile *model.UserProfile) {
	if token == "" || profile == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if len(r.cache) >= maxCacheEntries {
		for k, e := range r.cache {
			if !now.Before(e.expiresAt) {
				delete(r.cache, k)
			}
		}
	}
	r.cache[token] = cacheEntry{profile: *profile, expiresAt: now.Add(r.config.CacheTTL)}
}

func (r *Resolver) cached(token string) (*model.UserProfile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.cache[token]
	if !ok {
		return nil, false
	}
	if !r.now().Before(e.expiresAt) {
		delete(r.cache, token)
		return nil, false
	}
	p := e.profile
	return &p, true
}

// shortID はログ用にセッションIDの先頭のみを返す。
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
