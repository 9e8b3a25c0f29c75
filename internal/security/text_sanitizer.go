package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は利用者が入力したテキストからマークアップを除去する。
// 報告の説明文・場所、およびリモートAPIから受け取ったテキストに使用する。
type TextSanitizerService interface {
	// Sanitize はタグをすべて取り除いたプレーンテキストを返す。
	// 戻り値はエスケープされていないため、HTMLに埋め込む場合は呼び出し側でエスケープする。
	Sanitize(text string) string
}

// textSanitizer はbluemondayのStrictPolicyで全タグを除去する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

var _ TextSanitizerService = (*textSanitizer)(nil)

// NewTextSanitizer はTextSanitizerServiceを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はマークアップを除去し、前後の空白を取り除く。
func (s *textSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	stripped := s.policy.Sanitize(text)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
