package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cleanquest/cleanquest-web/internal/apiclient"
	"github.com/cleanquest/cleanquest-web/internal/form"
	"github.com/cleanquest/cleanquest-web/internal/middleware"
	"github.com/cleanquest/cleanquest-web/internal/model"
	"github.com/cleanquest/cleanquest-web/internal/session"
)

// AuthAPI は認証系のリモートAPI呼び出しを定義する。
type AuthAPI interface {
	SignUp(ctx context.Context, in apiclient.SignUpInput) error
	SignIn(ctx context.Context, in apiclient.SignInInput) (*apiclient.SignInResult, error)
	GoogleLoginURL() string
}

var _ AuthAPI = (*apiclient.Client)(nil)

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string                  // フロントエンドのベースURL
	CredentialTTL time.Duration           // トークンから期限が読めない場合のクレデンシャル保存期間
	Cookie        middleware.CookieConfig // セッションCookieの属性
}

// AuthHandler は認証関連のHTTPハンドラーを提供する。
type AuthHandler struct {
	api      AuthAPI
	resolver CurrentUserResolver
	config   AuthHandlerConfig
	now      func() time.Time
}

// oauthStateMaxAge はGoogleサインインを開始してからコールバックまでの猶予。
const oauthStateMaxAge = 10 * time.Minute

// NewAuthHandler はAuthHandlerの新しいインスタンスを生成する。
func NewAuthHandler(api AuthAPI, resolver CurrentUserResolver, config AuthHandlerConfig) *AuthHandler {
	if config.CredentialTTL <= 0 {
		config.CredentialTTL = session.DefaultCredentialTTL
	}
	return &AuthHandler{
		api:      api,
		resolver: resolver,
		config:   config,
		now:      time.Now,
	}
}

// signInResponse はサインイン成功時のレスポンス。
type signInResponse struct {
	State    string `json:"state"`
	Role     string `json:"role,omitempty"`
	Redirect string `json:"redirect"`
}

// SignUp はアカウントを作成する。成功時はサインイン画面へ誘導する。
// POST /auth/sign-up
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var f form.SignUpForm
	if err := decodeJSON(w, r, &f); err != nil {
		middleware.WriteActionError(w, err)
		return
	}
	f.Normalize()
	if verr := form.Validate(&f); verr != nil {
		middleware.WriteActionError(w, verr)
		return
	}

	err := h.api.SignUp(r.Context(), apiclient.SignUpInput{
		FullName:    f.FullName,
		Email:       f.Email,
		Password:    f.Password,
		AccountType: model.AccountType(f.AccountType),
	})
	if err != nil {
		middleware.WriteActionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"redirect": "/login"})
}

// SignIn はサインインし、返されたクレデンシャルをセッションに保存する。
// 管理者はダッシュボードへ誘導する。
// POST /auth/sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var f form.SignInForm
	if err := decodeJSON(w, r, &f); err != nil {
		middleware.WriteActionError(w, err)
		return
	}
	f.Normalize()
	if verr := form.Validate(&f); verr != nil {
		middleware.WriteActionError(w, verr)
		return
	}

	res, err := h.api.SignIn(r.Context(), apiclient.SignInInput{
		Email:       f.Email,
		Password:    f.Password,
		AccountType: model.AccountType(f.AccountType),
	})
	if err != nil {
		if model.KindOf(err) == model.KindUnauthenticated {
			middleware.WriteActionError(w, &model.ActionError{
				Kind:   model.KindUnauthenticated,
				Reason: "The email or password is incorrect.",
				Err:    err,
			})
			return
		}
		middleware.WriteActionError(w, err)
		return
	}

	if requestGone(r) {
		return
	}

	sc, ok := h.storeCredential(w, r, res.Token)
	if !ok {
		return
	}

	role := res.Role
	if role == "" {
		if profile, _ := h.resolver.ResolveState(r.Context(), sc); profile != nil {
			role = profile.Role
		}
	}

	redirect := "/"
	if role == model.RoleAdmin {
		redirect = "/dashboard"
	}

	slog.Info("user signed in",
		slog.String("role", string(role)),
	)

	writeJSON(w, http.StatusOK, signInResponse{
		State:    "logged_in",
		Role:     string(role),
		Redirect: redirect,
	})
}

// GoogleLogin はリモートAPIのGoogleサインインへリダイレクトする。
// コールバックで照合するCookieを発行してからリダイレクトする。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := session.NewSessionID()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.SetOAuthStateCookie(w, h.config.Cookie, state, oauthStateMaxAge)
	http.Redirect(w, r, h.api.GoogleLoginURL(), http.StatusTemporaryRedirect)
}

// GoogleCallback はリモートAPIから?token=付きで戻ってきたリクエストを処理する。
// GoogleLoginで発行したCookieが無いブラウザからのトークンは保存しない。
// クレデンシャルを保存してフロントエンドへリダイレクトする。
// GET /auth/google/callback
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimRight(h.config.BaseURL, "/")

	if c, err := r.Cookie(middleware.OAuthStateCookieName); err != nil || c.Value == "" {
		slog.Warn("oauth callback without sign-in state")
		http.Redirect(w, r, base+"/login?error=oauth_failed", http.StatusFound)
		return
	}
	middleware.ClearOAuthStateCookie(w, h.config.Cookie)

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		slog.Warn("oauth callback without token")
		http.Redirect(w, r, base+"/login?error=oauth_failed", http.StatusFound)
		return
	}

	if _, ok := h.storeCredential(w, r, token); !ok {
		return
	}

	http.Redirect(w, r, base+"/", http.StatusFound)
}

// Logout はクレデンシャルとキャッシュ済みプロフィールを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sc, token := credentialOf(r)
	if token != "" {
		h.resolver.Invalidate(token)
	}

	if err := sc.ClearCredential(r.Context()); err != nil {
		slog.Error("failed to clear credential on logout",
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.ClearSessionCookie(w, h.config.Cookie)
	writeJSON(w, http.StatusOK, map[string]string{"state": "logged_out"})
}

// storeCredential はセッションIDを切り替えてからクレデンシャルを保存する。
// 失敗した場合はレスポンスを書き込んでfalseを返す。
// 期限切れのトークンは既存のセッションに触れずに拒否する。
func (h *AuthHandler) storeCredential(w http.ResponseWriter, r *http.Request, token string) (*session.Context, bool) {
	sc := session.FromContext(r.Context())
	if sc == nil {
		slog.Error("session context missing")
		middleware.WriteInternalServerError(w)
		return nil, false
	}

	ttl := session.CredentialTTL(token, h.config.CredentialTTL, h.now())
	if ttl <= 0 {
		middleware.WriteActionError(w, model.NewUnauthenticatedError())
		return nil, false
	}

	renewed, err := sc.Renew(r.Context())
	if err != nil {
		slog.Error("failed to renew session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return nil, false
	}

	if err := renewed.SetCredential(r.Context(), token, ttl); err != nil {
		slog.Error("failed to store credential", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return nil, false
	}

	middleware.SetSessionCookie(w, h.config.Cookie, renewed.ID(), renewed.MaxAge())
	return renewed, true
}
