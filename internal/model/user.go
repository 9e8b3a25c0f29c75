// Package model はドメインモデルを定義する。
// すべての永続データはリモートAPIが保持しており、ここで扱うのはその射影のみ。
package model

import "time"

// Role はユーザーの権限ロールを表す。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
)

// Valid はロールが既知の値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// AccountType はサインアップ/サインイン時に送るアカウント種別。
type AccountType string

const (
	AccountVolunteer AccountType = "volunteer"
	AccountDonator   AccountType = "donator"
)

// UserProfile は認証済みユーザーのプロフィールを表す。
// クレデンシャルを識別エンドポイントで解決した結果であり、正本ではない。
type UserProfile struct {
	ID          string
	FullName    string
	Email       string
	Role        Role
	AvatarURL   string
	AccountType AccountType
}

// IsAdmin はプロフィールが管理者ロールかどうかを返す。
func (p *UserProfile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Session はブラウザセッションを表す。
// ブラウザにはセッションIDのみをHttpOnly Cookieで渡し、
// リモートAPIのベアラークレデンシャルはサーバー側で保持する。
type Session struct {
	ID                  string
	Credential          string
	CredentialExpiresAt time.Time
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

// HasCredential はnow時点で有効なクレデンシャルを保持しているかどうかを返す。
func (s *Session) HasCredential(now time.Time) bool {
	return s != nil && s.Credential != "" && now.Before(s.CredentialExpiresAt)
}
