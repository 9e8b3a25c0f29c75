package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/cleanquest/cleanquest-web/internal/apiclient"
	"github.com/cleanquest/cleanquest-web/internal/capability"
	"github.com/cleanquest/cleanquest-web/internal/form"
	"github.com/cleanquest/cleanquest-web/internal/middleware"
	"github.com/cleanquest/cleanquest-web/internal/model"
)

// AdminAPI は管理画面のリモートAPI呼び出しを定義する。
type AdminAPI interface {
	ListUsers(ctx context.Context, credential string) ([]model.UserProfile, error)
	DeleteUser(ctx context.Context, credential, id string) (apiclient.Outcome, error)
	UpdateUser(ctx context.Context, credential, id string, in apiclient.UserUpdate) error
	ListPayments(ctx context.Context, credential string) ([]model.Payment, error)
	DashboardStats(ctx context.Context, credential string) (*model.DashboardStats, error)
}

var _ AdminAPI = (*apiclient.Client)(nil)

// statsView は管理画面の集計値。
type statsView struct {
	Users    int `json:"users"`
	Reports  int `json:"reports"`
	Cleanups int `json:"cleanups"`
}

// paymentView は管理画面に表示する決済記録。
type paymentView struct {
	ID          string `json:"id"`
	DonorName   string `json:"donor_name"`
	DonorEmail  string `json:"donor_email"`
	ReportOwner string `json:"report_owner"`
	ReportTitle string `json:"report_title"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// dashboardResponse は GET /api/dashboard のレスポンス。
type dashboardResponse struct {
	Stats    statsView     `json:"stats"`
	Users    []*userView   `json:"users"`
	Payments []paymentView `json:"payments"`
}

// AdminHandler は管理者向けのHTTPハンドラーを提供する。
type AdminHandler struct {
	api       AdminAPI
	resolver  CurrentUserResolver
	sanitizer TextSanitizer
}

// NewAdminHandler はAdminHandlerの新しいインスタンスを生成する。
func NewAdminHandler(api AdminAPI, resolver CurrentUserResolver, sanitizer TextSanitizer) *AdminHandler {
	return &AdminHandler{api: api, resolver: resolver, sanitizer: sanitizer}
}

// Dashboard は集計値、ユーザー一覧、決済一覧をまとめて返す。
// GET /api/dashboard
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	_, token, ok := authorizeAction(w, r, h.resolver, capability.ActionViewDashboard)
	if !ok {
		return
	}

	var (
		stats    *model.DashboardStats
		users    []model.UserProfile
		payments []model.Payment
	)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		stats, err = h.api.DashboardStats(ctx, token)
		return err
	})
	g.Go(func() error {
		var err error
		users, err = h.api.ListUsers(ctx, token)
		return err
	})
	g.Go(func() error {
		var err error
		payments, err = h.api.ListPayments(ctx, token)
		return err
	})
	if err := g.Wait(); err != nil {
		middleware.WriteActionError(w, err)
		return
	}

	resp := dashboardResponse{
		Users:    make([]*userView, 0, len(users)),
		Payments: make([]paymentView, 0, len(payments)),
	}
	if stats != nil {
		resp.Stats = statsView{Users: stats.Users, Reports: stats.Reports, Cleanups: stats.Cleanups}
	}
	for i := range users {
		resp.Users = append(resp.Users, newUserView(&users[i], h.sanitizer))
	}
	for _, p := range payments {
		resp.Payments = append(resp.Payments, paymentView{
			ID:          p.ID,
			DonorName:   h.sanitizer.Sanitize(p.DonorName),
			DonorEmail:  p.DonorEmail,
			ReportOwner: h.sanitizer.Sanitize(p.ReportOwner),
			ReportTitle: h.sanitizer.Sanitize(p.ReportTitle),
			AmountCents: p.AmountCents,
			Amount:      apiclient.FormatAmount(p.AmountCents),
			Status:      p.Status,
			CreatedAt:   formatTime(p.CreatedAt),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeleteUser はユーザーを削除する。自分自身は削除できない。
// DELETE /api/admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	profile, token, ok := authorizeAction(w, r, h.resolver, capability.ActionManageUsers)
	if !ok {
		return
	}
	if id == profile.ID {
		middleware.WriteActionError(w, model.NewValidationError(map[string]string{
			"id": "You cannot delete your own account here.",
		}))
		return
	}

	outcome, err := h.api.DeleteUser(r.Context(), token, id)
	if err != nil {
		middleware.WriteActionError(w, err)
		return
	}

	slog.Info("user deleted by admin",
		slog.String("admin_id", profile.ID),
		slog.String("user_id", id),
	)
	writeJSON(w, http.StatusOK, outcomeBody(outcome))
}

// UpdateUser はユーザーの氏名、メールアドレス、ロールを更新する。
// PUT /api/admin/users/{id}
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	profile, token, ok := authorizeAction(w, r, h.resolver, capability.ActionManageUsers)
	if !ok {
		return
	}

	var f form.UserUpdateForm
	if err := decodeJSON(w, r, &f); err != nil {
		middleware.WriteActionError(w, err)
		return
	}
	f.Normalize()
	f.FullName = h.sanitizer.Sanitize(f.FullName)
	if verr := form.Validate(&f); verr != nil {
		middleware.WriteActionError(w, verr)
		return
	}

	err := h.api.UpdateUser(r.Context(), token, id, apiclient.UserUpdate{
		FullName: f.FullName,
		Email:    f.Email,
		Role:     model.Role(f.Role),
	})
	if err != nil {
		middleware.WriteActionError(w, err)
		return
	}

	// 自分自身のロールを変えた場合は次の解決で取り直す。
	// 他のユーザーのキャッシュはクレデンシャル単位のため、有効期間が切れるまで残る。
	if id == profile.ID {
		h.resolver.Invalidate(token)
	}

	slog.Info("user updated by admin",
		slog.String("admin_id", profile.ID),
		slog.String("user_id", id),
		slog.String("role", f.Role),
	)
	writeJSON(w, http.StatusOK, outcomeBody(apiclient.OutcomeData))
}
