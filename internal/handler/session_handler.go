package handler

import (
	"net/http"

	"github.com/cleanquest/cleanquest-web/internal/capability"
	"github.com/cleanquest/cleanquest-web/internal/identity"
	"github.com/cleanquest/cleanquest-web/internal/session"
)

// navLink はヘッダーに表示するナビゲーションリンク。
type navLink struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

// sessionResponse は GET /api/session のレスポンス。
type sessionResponse struct {
	State        identity.State `json:"state"`
	User         *userView      `json:"user,omitempty"`
	Capabilities capability.Set `json:"capabilities"`
	Navigation   []navLink      `json:"navigation"`
}

// SessionHandler はセッション状態（ヘッダー表示）のエンドポイントを提供する。
type SessionHandler struct {
	resolver  CurrentUserResolver
	sanitizer TextSanitizer
}

// NewSessionHandler はSessionHandlerの新しいインスタンスを生成する。
func NewSessionHandler(resolver CurrentUserResolver, sanitizer TextSanitizer) *SessionHandler {
	return &SessionHandler{resolver: resolver, sanitizer: sanitizer}
}

// Get は現在のセッション状態、ユーザー、機能フラグを返す。
// GET /api/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	profile, state := h.resolver.ResolveState(r.Context(), session.FromContext(r.Context()))
	caps := capability.For(profile)

	writeJSON(w, http.StatusOK, sessionResponse{
		State:        state,
		User:         newUserView(profile, h.sanitizer),
		Capabilities: caps,
		Navigation:   navigationFor(caps),
	})
}

// navigationFor は機能フラグからヘッダーのリンクを決める。
func navigationFor(caps capability.Set) []navLink {
	if !caps.Authenticated {
		return []navLink{
			{Label: "Login", Path: "/login"},
			{Label: "Register", Path: "/register"},
		}
	}

	links := []navLink{{Label: "Profile", Path: "/profile"}}
	if caps.ViewAdminLinks {
		links = append(links, navLink{Label: "Dashboard", Path: "/dashboard"})
	}
	return append(links, navLink{Label: "Logout", Path: "/auth/logout"})
}
