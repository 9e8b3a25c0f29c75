package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, remote, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // バリデーションエラーのフィールド別メッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ErrorKind はアクション失敗の分類を表す。
type ErrorKind string

const (
	// KindUnauthenticated はクレデンシャルが無い、または期限切れ。
	KindUnauthenticated ErrorKind = "unauthenticated"
	// KindForbidden はロール/所有者チェックに失敗した。
	KindForbidden ErrorKind = "forbidden"
	// KindValidation はリクエスト送信前の入力チェックに失敗した。
	KindValidation ErrorKind = "validation"
	// KindRemoteFailure はリモートAPIの4xx/5xxまたはネットワーク障害。
	KindRemoteFailure ErrorKind = "remote_failure"
)

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated = "UNAUTHENTICATED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeValidation      = "VALIDATION_FAILED"
	ErrCodeRemoteFailure   = "REMOTE_FAILURE"
	ErrCodeRemoteRejected  = "REMOTE_REJECTED"
)

// GenericRemoteReason は5xxやネットワーク障害時にユーザーへ見せる理由。
const GenericRemoteReason = "The service is temporarily unavailable."

// ActionError はアクションディスパッチャーやフォーム検証が返す失敗。
type ActionError struct {
	Kind       ErrorKind
	Reason     string            // ユーザーに表示できる理由
	StatusCode int               // リモートAPIのHTTPステータス（送信前の失敗は0）
	Fields     map[string]string // バリデーション失敗のフィールド別メッセージ
	Err        error             // 原因（ログ用）
}

// Error はerrorインターフェースを実装する。
func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap は原因エラーを返す。
func (e *ActionError) Unwrap() error {
	return e.Err
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *ActionError {
	return &ActionError{Kind: KindUnauthenticated, Reason: "You need to sign in first."}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(reason string) *ActionError {
	if reason == "" {
		reason = "You are not allowed to do this."
	}
	return &ActionError{Kind: KindForbidden, Reason: reason}
}

// NewValidationError はフィールド別メッセージ付きのバリデーションエラーを生成する。
func NewValidationError(fields map[string]string) *ActionError {
	return &ActionError{Kind: KindValidation, Reason: "Some fields are missing or invalid.", Fields: fields}
}

// KindOf はerrからErrorKindを取り出す。ActionErrorでない場合は空文字を返す。
func KindOf(err error) ErrorKind {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// ToAPIError はActionErrorを統一エラーフォーマットに変換する。
func (e *ActionError) ToAPIError() *APIError {
	switch e.Kind {
	case KindUnauthenticated:
		return &APIError{
			Code:     ErrCodeUnauthenticated,
			Message:  e.Reason,
			Category: "auth",
			Action:   "Please sign in and try again.",
		}
	case KindForbidden:
		return &APIError{
			Code:     ErrCodeForbidden,
			Message:  e.Reason,
			Category: "auth",
			Action:   "Ask an administrator if you need access.",
		}
	case KindValidation:
		return &APIError{
			Code:     ErrCodeValidation,
			Message:  e.Reason,
			Category: "validation",
			Action:   "Check the highlighted fields and submit again.",
			Fields:   e.Fields,
		}
	default:
		if e.StatusCode >= 400 && e.StatusCode < 500 {
			return &APIError{
				Code:     ErrCodeRemoteRejected,
				Message:  e.Reason,
				Category: "remote",
				Action:   "Check your input and try again.",
			}
		}
		return &APIError{
			Code:     ErrCodeRemoteFailure,
			Message:  e.Reason,
			Category: "remote",
			Action:   "Please wait a moment and try again.",
		}
	}
}
