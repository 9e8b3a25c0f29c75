package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// セッションストアの種類
const (
	SessionStoreMemory   = "memory"
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Remote API
	APIBaseURL         string
	APICurrentUserPath string
	APITimeout         time.Duration
	BreakerMaxFailures int
	BreakerOpenTimeout time.Duration

	// Session
	SessionStore         string
	DatabaseURL          string
	RedisURL             string
	SessionMaxAge        time.Duration
	CredentialTTL        time.Duration
	SessionPurgeInterval time.Duration

	// Identity
	ProfileCacheTTL time.Duration

	// Image host
	ImageUploadURL    string
	ImageUploadPreset string

	// Checkout
	CheckoutRedirectHosts []string

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitReport  int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.APIBaseURL = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "API_BASE_URL")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.SessionStore = strings.ToLower(getEnvString("SESSION_STORE", SessionStoreMemory))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	switch cfg.SessionStore {
	case SessionStoreMemory:
	case SessionStorePostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case SessionStoreRedis:
		if cfg.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported SESSION_STORE %q (want memory, postgres or redis)", cfg.SessionStore)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.APICurrentUserPath = getEnvString("API_CURRENT_USER_PATH", "/auth/current-user")
	cfg.APITimeout = getEnvDuration("API_TIMEOUT", 10*time.Second)
	cfg.BreakerMaxFailures = getEnvInt("BREAKER_MAX_FAILURES", 5)
	cfg.BreakerOpenTimeout = getEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second)
	cfg.SessionMaxAge = getEnvDuration("SESSION_MAX_AGE", 24*time.Hour)
	cfg.CredentialTTL = getEnvDuration("CREDENTIAL_TTL", 24*time.Hour)
	cfg.SessionPurgeInterval = getEnvDuration("SESSION_PURGE_INTERVAL", time.Hour)
	cfg.ProfileCacheTTL = getEnvDuration("PROFILE_CACHE_TTL", time.Minute)
	cfg.ImageUploadURL = getEnvString("IMAGE_UPLOAD_URL", "")
	cfg.ImageUploadPreset = getEnvString("IMAGE_UPLOAD_PRESET", "")
	cfg.CheckoutRedirectHosts = getEnvList("CHECKOUT_REDIRECT_HOSTS", []string{"checkout.stripe.com"})
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitReport = getEnvInt("RATE_LIMIT_REPORT", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", strings.HasPrefix(cfg.BaseURL, "https://"))
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
