// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cleanquest/cleanquest-web/internal/session"
)

// SessionCookieName はブラウザセッションIDを保持するHttpOnly Cookieの名前。
const SessionCookieName = "cq_session"

// SessionOpener はリクエストのセッションを開く。session.Storeが実装する。
type SessionOpener interface {
	Open(ctx context.Context, id string) (*session.Context, error)
	MaxAge() time.Duration
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Secure bool
	Domain string
}

// NewSessionMiddleware はCookieのセッションIDからセッションコンテキストを開き、
// リクエストコンテキストに注入するミドルウェアを返す。
// 未サインインの閲覧も許可するため、セッションが無くても拒否しない。
// 新しく払い出したセッションIDはCookieで返す。
func NewSessionMiddleware(opener SessionOpener, config CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if cookie, err := r.Cookie(SessionCookieName); err == nil {
				id = cookie.Value
			}

			sc, err := opener.Open(r.Context(), id)
			if err != nil {
				slog.Error("failed to open session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			if info := logInfoFromContext(r.Context()); info != nil {
				info.sessionID = shortSessionID(sc.ID())
			}

			if sc.IsNew() {
				SetSessionCookie(w, config, sc.ID(), opener.MaxAge())
			}

			next.ServeHTTP(w, r.WithContext(session.WithContext(r.Context(), sc)))
		})
	}
}

// SetSessionCookie はセッションCookieを設定する。
func SetSessionCookie(w http.ResponseWriter, config CookieConfig, id string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// OAuthStateCookieName はGoogleサインイン開始時に発行するCookieの名前。
// コールバックはこのCookieを持つブラウザからのものだけを受け付ける。
const OAuthStateCookieName = "cq_oauth_state"

const oauthStatePath = "/auth/google"

// SetOAuthStateCookie はGoogleサインイン用のCookieを設定する。
func SetOAuthStateCookie(w http.ResponseWriter, config CookieConfig, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookieName,
		Value:    value,
		Path:     oauthStatePath,
		Domain:   config.Domain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearOAuthStateCookie はGoogleサインイン用のCookieを削除する。
func ClearOAuthStateCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookieName,
		Value:    "",
		Path:     oauthStatePath,
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// shortSessionID はログ用にセッションIDの先頭8文字を返す。
func shortSessionID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
