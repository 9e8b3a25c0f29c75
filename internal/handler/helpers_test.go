package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cleanquest/cleanquest-web/internal/identity"
	"github.com/cleanquest/cleanquest-web/internal/model"
	"github.com/cleanquest/cleanquest-web/internal/repository"
	"github.com/cleanquest/cleanquest-web/internal/security"
	"github.com/cleanquest/cleanquest-web/internal/session"
)

// --- モック定義 ---

// mockResolver はCurrentUserResolverのモック。
// resolveStateFnが未設定ならprofileの有無で状態を返す。
type mockResolver struct {
	mu             sync.Mutex
	profile        *model.UserProfile
	resolveStateFn func(ctx context.Context, sc *session.Context) (*model.UserProfile, identity.State)
	invalidated    []string
	updated        map[string]*model.UserProfile
}

func (m *mockResolver) ResolveState(ctx context.Context, sc *session.Context) (*model.UserProfile, identity.State) {
	if m.resolveStateFn != nil {
		return m.resolveStateFn(ctx, sc)
	}
	if m.profile == nil {
		return nil, identity.StateLoggedOut
	}
	p := *m.profile
	return &p, identity.StateLoggedIn
}

func (m *mockResolver) Invalidate(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, token)
}

func (m *mockResolver) Update(token string, profile *model.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updated == nil {
		m.updated = make(map[string]*model.UserProfile)
	}
	m.updated[token] = profile
}

type mockURLValidator struct {
	validateURLFn      func(rawURL string) error
	validateRedirectFn func(rawURL string) error
}

func (m *mockURLValidator) ValidateURL(rawURL string) error {
	if m.validateURLFn != nil {
		return m.validateURLFn(rawURL)
	}
	return nil
}

func (m *mockURLValidator) ValidateRedirect(rawURL string) error {
	if m.validateRedirectFn != nil {
		return m.validateRedirectFn(rawURL)
	}
	return nil
}

// --- ヘルパー ---

var (
	testUser  = &model.UserProfile{ID: "u-1", FullName: "Jane Doe", Email: "jane@example.com", Role: model.RoleUser}
	testAdmin = &model.UserProfile{ID: "a-1", FullName: "Admin", Email: "admin@example.com", Role: model.RoleAdmin}
)

func newTestSessionStore() *session.Store {
	return session.NewStore(repository.NewMemorySessionRepo(), session.Config{MaxAge: 24 * time.Hour}, nil)
}

// signedInSession はクレデンシャル保存済みのセッションを返す。
func signedInSession(t *testing.T, store *session.Store, token string) *session.Context {
	t.Helper()
	ctx := context.Background()
	if err := store.SetCredential(ctx, "sid-"+token, token, time.Hour); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	sc, err := store.Open(ctx, "sid-"+token)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sc
}

// anonymousSession はクレデンシャル無しの新しいセッションを返す。
func anonymousSession(t *testing.T, store *session.Store) *session.Context {
	t.Helper()
	sc, err := store.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sc
}

func withSession(r *http.Request, sc *session.Context) *http.Request {
	return r.WithContext(session.WithContext(r.Context(), sc))
}

func newSanitizer() TextSanitizer {
	return security.NewTextSanitizer()
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartRequest はフィールドとファイルを持つマルチパートリクエストを作る。
func multipartRequest(t *testing.T, method, target string, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for field, data := range files {
		part, err := mw.CreateFormFile(field, field+".png")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write(data)
	}
	mw.Close()

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// pngBytes はPNGとして判定される最小限のバイト列。
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func decodeBody(t *testing.T, body io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
