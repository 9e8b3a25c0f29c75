// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService は外部URLを扱う際のSSRF防止機能のインターフェースを定義する。
// 画像ホストへのURL指定アップロードと、チェックアウトのリダイレクト先の検証で使用する。
type SSRFGuardService interface {
	// NewSafeClient はプライベートIP、ループバック、リンクローカル、メタデータIPへの
	// 接続をDialerレベルで拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	ValidateURL(rawURL string) error

	// ValidateRedirect はブラウザをリダイレクトさせる前にURLを検証する。
	// httpsのみ許可し、許可ホストが設定されている場合はそのホスト（とサブドメイン）に限る。
	ValidateRedirect(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks はパッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"100.64.0.0/10",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct {
	redirectHosts []string
}

var _ SSRFGuardService = (*ssrfGuard)(nil)

// NewSSRFGuard はSSRFGuardServiceを生成する。
// redirectHostsはチェックアウトのリダイレクト先として許可するホスト。空ならホストを制限しない。
func NewSSRFGuard(redirectHosts ...string) *ssrfGuard {
	hosts := make([]string, 0, len(redirectHosts))
	for _, h := range redirectHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &ssrfGuard{redirectHosts: hosts}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// DNS再バインディングにも対応する。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はURLの安全性を事前に検証する。
// DNS再バインディングはNewSafeClient側のDialer検証で防ぐ。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	parsed, err := parseAbsolute(rawURL)
	if err != nil {
		return err
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}
	return checkHost(parsed.Hostname())
}

// ValidateRedirect はチェックアウトのリダイレクト先URLを検証する。
func (g *ssrfGuard) ValidateRedirect(rawURL string) error {
	parsed, err := parseAbsolute(rawURL)
	if err != nil {
		return err
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("redirect must use https: %s", parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("redirect must not contain credentials")
	}

	host := strings.ToLower(parsed.Hostname())
	if err := checkHost(host); err != nil {
		return err
	}
	if len(g.redirectHosts) == 0 {
		return nil
	}
	for _, allowed := range g.redirectHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("redirect host not allowed: %s", host)
}

func parseAbsolute(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("empty URL")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("empty host in URL: %s", rawURL)
	}
	return parsed, nil
}

func checkHost(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}
	if isBlockedHostname(host) {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	return lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".internal")
}
