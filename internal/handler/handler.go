// Package handler はBFFのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/cleanquest/cleanquest-web/internal/apiclient"
	"github.com/cleanquest/cleanquest-web/internal/capability"
	"github.com/cleanquest/cleanquest-web/internal/identity"
	"github.com/cleanquest/cleanquest-web/internal/middleware"
	"github.com/cleanquest/cleanquest-web/internal/model"
	"github.com/cleanquest/cleanquest-web/internal/session"
)

// maxJSONBodySize はJSONリクエストボディの上限サイズ。
const maxJSONBodySize = 1 << 20

// maxMultipartMemory はマルチパートフォームをメモリに保持する上限。
const maxMultipartMemory = 32 << 20

// CurrentUserResolver は現在のユーザーを解決するインターフェース。
// identity.Resolverが実装する。
type CurrentUserResolver interface {
	ResolveState(ctx context.Context, sc *session.Context) (*model.UserProfile, identity.State)
	Invalidate(token string)
	Update(token string, profile *model.UserProfile)
}

var _ CurrentUserResolver = (*identity.Resolver)(nil)

// TextSanitizer はユーザー入力とリモートのテキストからマークアップを除去する。
type TextSanitizer interface {
	Sanitize(text string) string
}

// RedirectValidator はリモートAPIが返したリダイレクト先を検証する。
type RedirectValidator interface {
	ValidateRedirect(rawURL string) error
}

// URLValidator はユーザーが指定した画像URLを検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// ImageUploader は画像ホストへのアップロードを行う。imagehost.Clientが実装する。
type ImageUploader interface {
	Enabled() bool
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
	UploadFromURL(ctx context.Context, remoteURL string) (string, error)
}

// userView はブラウザに返すユーザー情報。
type userView struct {
	ID          string `json:"id"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	AccountType string `json:"account_type,omitempty"`
}

func newUserView(p *model.UserProfile, sanitizer TextSanitizer) *userView {
	if p == nil {
		return nil
	}
	return &userView{
		ID:          p.ID,
		FullName:    sanitizer.Sanitize(p.FullName),
		Email:       p.Email,
		Role:        string(p.Role),
		AvatarURL:   p.AvatarURL,
		AccountType: string(p.AccountType),
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。失敗時はバリデーションエラーを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &model.ActionError{
			Kind:   model.KindValidation,
			Reason: "The request body is not valid JSON.",
			Err:    err,
		}
	}
	return nil
}

// readUpload はマルチパートフォームのファイルを読み込む。
// フィールドが無ければnilを返す。
func readUpload(r *http.Request, field string) (*model.Upload, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, &model.ActionError{
			Kind:   model.KindValidation,
			Reason: "The uploaded file could not be read.",
			Fields: map[string]string{field: "The uploaded file could not be read."},
			Err:    err,
		}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, &model.ActionError{
			Kind:   model.KindValidation,
			Reason: "The uploaded file could not be read.",
			Fields: map[string]string{field: "The uploaded file could not be read."},
			Err:    err,
		}
	}

	return &model.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// parseMultipart はマルチパートフォームをパースする。
func parseMultipart(r *http.Request) error {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return &model.ActionError{
			Kind:   model.KindValidation,
			Reason: "The form could not be read.",
			Err:    err,
		}
	}
	return nil
}

// credentialOf はリクエストのセッションとクレデンシャルを返す。
func credentialOf(r *http.Request) (*session.Context, string) {
	sc := session.FromContext(r.Context())
	token, _ := sc.Credential(r.Context())
	return sc, token
}

// requestGone はリクエストのクライアントが既に離脱しているかどうかを返す。
// 離脱後はセッションを変更しない。
func requestGone(r *http.Request) bool {
	if err := r.Context().Err(); err != nil {
		slog.Info("request canceled before completion, session left unchanged",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		return true
	}
	return false
}

// formatTime はタイムスタンプをRFC3339で返す。ゼロ値は空文字になる。
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// outcomeBody は成功時のOutcomeをレスポンスボディにする。
func outcomeBody(outcome apiclient.Outcome) map[string]string {
	return map[string]string{"outcome": outcome.String()}
}

// authorizeAction は現在のユーザーを解決し、操作の可否を判定する。
// 拒否した場合はレスポンスを書き込んでfalseを返す。
func authorizeAction(w http.ResponseWriter, r *http.Request, resolver CurrentUserResolver, action capability.Action) (*model.UserProfile, string, bool) {
	sc := session.FromContext(r.Context())
	profile, _ := resolver.ResolveState(r.Context(), sc)
	if err := capability.Authorize(profile, action, ""); err != nil {
		middleware.WriteActionError(w, err)
		return nil, "", false
	}

	token, ok := sc.Credential(r.Context())
	if !ok {
		middleware.WriteActionError(w, model.NewUnauthenticatedError())
		return nil, "", false
	}
	return profile, token, true
}

// isMultipart はリクエストがマルチパートフォームかどうかを返す。
func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}
