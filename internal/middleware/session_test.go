package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cleanquest/cleanquest-web/internal/repository"
	"github.com/cleanquest/cleanquest-web/internal/session"
)

// --- モック定義 ---

type mockSessionOpener struct {
	openFn func(ctx context.Context, id string) (*session.Context, error)
}

func (m *mockSessionOpener) Open(ctx context.Context, id string) (*session.Context, error) {
	return m.openFn(ctx, id)
}

func (m *mockSessionOpener) MaxAge() time.Duration { return time.Hour }

func newTestStore() *session.Store {
	return session.NewStore(repository.NewMemorySessionRepo(), session.Config{MaxAge: time.Hour}, nil)
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestSessionMiddleware_NewVisitor_IssuesHttpOnlyCookie(t *testing.T) {
	store := newTestStore()
	mw := NewSessionMiddleware(store, CookieConfig{Secure: true})

	var captured *session.Context
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = session.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	if captured == nil || captured.ID() == "" {
		t.Fatal("セッションコンテキストが注入されていない")
	}
	if _, ok := captured.Credential(context.Background()); ok {
		t.Error("新規セッションにクレデンシャルがある")
	}

	c := findCookie(w.Result(), SessionCookieName)
	if c == nil {
		t.Fatal("セッションCookieが設定されていない")
	}
	if c.Value != captured.ID() {
		t.Errorf("cookie = %q, want %q", c.Value, captured.ID())
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie attributes = HttpOnly:%v Secure:%v SameSite:%v", c.HttpOnly, c.Secure, c.SameSite)
	}
	if c.MaxAge != 3600 {
		t.Errorf("MaxAge = %d, want 3600", c.MaxAge)
	}
}

func TestSessionMiddleware_ExistingSession_ReusesIDWithoutCookie(t *testing.T) {
	store := newTestStore()
	sc, _ := store.Open(context.Background(), "")
	if err := sc.SetCredential(context.Background(), "tok", time.Hour); err != nil {
		t.Fatalf("SetCredential がエラーを返した: %v", err)
	}

	mw := NewSessionMiddleware(store, CookieConfig{})
	var credential string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, _ = session.FromContext(r.Context()).Credential(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sc.ID()})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if credential != "tok" {
		t.Errorf("credential = %q, want tok", credential)
	}
	if findCookie(w.Result(), SessionCookieName) != nil {
		t.Error("既存セッションでCookieが再発行された")
	}
}

func TestSessionMiddleware_UnknownCookie_IssuesFreshSession(t *testing.T) {
	mw := NewSessionMiddleware(newTestStore(), CookieConfig{})
	var id string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = session.FromContext(r.Context()).ID()
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "forged-or-expired"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if id == "" || id == "forged-or-expired" {
		t.Errorf("id = %q, want fresh ID", id)
	}
	if c := findCookie(w.Result(), SessionCookieName); c == nil || c.Value != id {
		t.Error("新しいセッションCookieが設定されていない")
	}
}

func TestSessionMiddleware_OpenFailure_Returns500(t *testing.T) {
	opener := &mockSessionOpener{openFn: func(ctx context.Context, id string) (*session.Context, error) {
		return nil, errors.New("entropy exhausted")
	}}
	handler := NewSessionMiddleware(opener, CookieConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestClearSessionCookie(t *testing.T) {
	w := httptest.NewRecorder()
	ClearSessionCookie(w, CookieConfig{})

	c := findCookie(w.Result(), SessionCookieName)
	if c == nil || c.MaxAge >= 0 || c.Value != "" {
		t.Errorf("cookie = %+v, want expired", c)
	}
}
