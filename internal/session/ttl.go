package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultCredentialTTL はfallbackが未設定の場合に使うクレデンシャル保存期間。
const DefaultCredentialTTL = 24 * time.Hour

// CredentialTTL はクレデンシャルの保存期間を決める。
// トークンがexpクレームを持つJWTであれば残り時間を使い、fallbackで上限を切る。
// fallbackが0以下ならDefaultCredentialTTLを使う。
// 署名は検証しない。有効性の判断はあくまでリモートAPIが行う。
func CredentialTTL(token string, fallback time.Duration, now time.Time) time.Duration {
	if fallback <= 0 {
		fallback = DefaultCredentialTTL
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fallback
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}

	remaining := exp.Time.Sub(now)
	if remaining <= 0 {
		return 0
	}
	if remaining > fallback {
		return fallback
	}
	return remaining
}
