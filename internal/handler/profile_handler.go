package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cleanquest/cleanquest-web/internal/apiclient"
	"github.com/cleanquest/cleanquest-web/internal/capability"
	"github.com/cleanquest/cleanquest-web/internal/form"
	"github.com/cleanquest/cleanquest-web/internal/middleware"
	"github.com/cleanquest/cleanquest-web/internal/model"
	"github.com/cleanquest/cleanquest-web/internal/session"
)

// ProfileAPI はプロフィール更新のリモートAPI呼び出しを定義する。
type ProfileAPI interface {
	UpdateProfile(ctx context.Context, credential string, in apiclient.ProfileUpdate) (*model.UserProfile, error)
}

var _ ProfileAPI = (*apiclient.Client)(nil)

// ProfileHandler はプロフィール関連のHTTPハンドラーを提供する。
type ProfileHandler struct {
	api       ProfileAPI
	resolver  CurrentUserResolver
	sanitizer TextSanitizer
}

// NewProfileHandler はProfileHandlerの新しいインスタンスを生成する。
func NewProfileHandler(api ProfileAPI, resolver CurrentUserResolver, sanitizer TextSanitizer) *ProfileHandler {
	return &ProfileHandler{api: api, resolver: resolver, sanitizer: sanitizer}
}

// Get は現在のユーザーのプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	profile, _ := h.resolver.ResolveState(r.Context(), session.FromContext(r.Context()))
	if profile == nil {
		middleware.WriteActionError(w, model.NewUnauthenticatedError())
		return
	}
	writeJSON(w, http.StatusOK, newUserView(profile, h.sanitizer))
}

// Update はプロフィールを更新する。成功時はキャッシュ済みのプロフィールを
// 次の解決を待たずに置き換える。
// PUT /api/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	profile, token, ok := authorizeAction(w, r, h.resolver, capability.ActionEditProfile)
	if !ok {
		return
	}

	if err := parseMultipart(r); err != nil {
		middleware.WriteActionError(w, err)
		return
	}
	avatar, err := readUpload(r, "avatar")
	if err != nil {
		middleware.WriteActionError(w, err)
		return
	}

	f := form.ProfileForm{
		FullName: r.FormValue("full_name"),
		Email:    r.FormValue("email"),
		Avatar:   avatar,
	}
	f.Normalize()
	f.FullName = h.sanitizer.Sanitize(f.FullName)
	if verr := form.Validate(&f); verr != nil {
		middleware.WriteActionError(w, verr)
		return
	}

	updated, err := h.api.UpdateProfile(r.Context(), token, apiclient.ProfileUpdate{
		FullName: f.FullName,
		Email:    f.Email,
		Avatar:   f.Avatar,
	})
	if err != nil {
		middleware.WriteActionError(w, err)
		return
	}

	if updated == nil {
		next := *profile
		next.FullName = f.FullName
		next.Email = f.Email
		updated = &next
	}
	if updated.ID == "" {
		updated.ID = profile.ID
	}
	if updated.Role == "" {
		updated.Role = profile.Role
	}

	if !requestGone(r) {
		h.resolver.Update(token, updated)
	}

	slog.Info("profile updated", slog.String("user_id", updated.ID))
	writeJSON(w, http.StatusOK, newUserView(updated, h.sanitizer))
}
