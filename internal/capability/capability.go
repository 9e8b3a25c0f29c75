// Package capability はプロフィールから画面に出す操作を決める純粋関数を提供する。
//
// ここでの判定はUI上の案内に過ぎず、最終的な認可はリモートAPIが行う。
// ハンドラーは同じ関数でネットワークに出る前に拒否する。
package capability

import "github.com/cleanquest/cleanquest-web/internal/model"

// Set はプロフィールから導出した機能フラグの集合。
type Set struct {
	Authenticated    bool `json:"authenticated"`
	ViewAdminLinks   bool `json:"view_admin_links"`
	ManageUsers      bool `json:"manage_users"`
	ViewPayments     bool `json:"view_payments"`
	EditProfile      bool `json:"edit_profile"`
	Donate           bool `json:"donate"`
	CreateReport     bool `json:"create_report"`
	AttachAfterPhoto bool `json:"attach_after_photo"`

	userID string
	admin  bool
}

// For はプロフィールから機能フラグを計算する。nilなら全フラグが偽になる。
func For(profile *model.UserProfile) Set {
	if profile == nil {
		return Set{}
	}
	admin := profile.IsAdmin()
	return Set{
		Authenticated:    true,
		ViewAdminLinks:   admin,
		ManageUsers:      admin,
		ViewPayments:     admin,
		EditProfile:      true,
		Donate:           true,
		CreateReport:     true,
		AttachAfterPhoto: true,
		userID:           profile.ID,
		admin:            admin,
	}
}

// CanDelete は報告の削除操作を表示するかどうかを返す。
// 管理者、または報告の作成者本人のみ真になる。
func (s Set) CanDelete(authorID string) bool {
	if !s.Authenticated {
		return false
	}
	if s.admin {
		return true
	}
	return s.userID != "" && s.userID == authorID
}

// Action は認可対象の操作。
type Action string

const (
	ActionCreateReport     Action = "create_report"
	ActionDeleteReport     Action = "delete_report"
	ActionAttachAfterPhoto Action = "attach_after_photo"
	ActionEditProfile      Action = "edit_profile"
	ActionDonate           Action = "donate"
	ActionManageUsers      Action = "manage_users"
	ActionViewDashboard    Action = "view_dashboard"
)

// Authorize はプロフィールが操作を行えるかどうかを判定する。
// authorIDはActionDeleteReportの場合のみ使う。
func Authorize(profile *model.UserProfile, action Action, authorID string) error {
	if profile == nil {
		return model.NewUnauthenticatedError()
	}

	s := For(profile)
	allowed := false
	switch action {
	case ActionCreateReport:
		allowed = s.CreateReport
	case ActionDeleteReport:
		allowed = s.CanDelete(authorID)
	case ActionAttachAfterPhoto:
		allowed = s.AttachAfterPhoto
	case ActionEditProfile:
		allowed = s.EditProfile
	case ActionDonate:
		allowed = s.Donate
	case ActionManageUsers:
		allowed = s.ManageUsers
	case ActionViewDashboard:
		allowed = s.ViewAdminLinks && s.ViewPayments
	}

	if !allowed {
		return model.NewForbiddenError("")
	}
	return nil
}
