package session

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/cleanquest/cleanquest-web/internal/model"
	"github.com/cleanquest/cleanquest-web/internal/repository"
)

// --- モック定義 ---

type failingRepo struct{}

func (failingRepo) Save(ctx context.Context, s *model.Session) error { return errors.New("down") }
func (failingRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, errors.New("down")
}
func (failingRepo) DeleteByID(ctx context.Context, id string) error { return errors.New("down") }
func (failingRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, errors.New("down")
}

// fakeClock はテスト用の手動で進める時計。
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(clock *fakeClock) *Store {
	repo := repository.NewMemorySessionRepo()
	s := NewStore(repo, Config{MaxAge: 24 * time.Hour}, nil)
	s.now = clock.Now
	return s
}

// --- テスト ---

func TestStore_GetCredential_NoSession_ReturnsAbsent(t *testing.T) {
	s := newTestStore(&fakeClock{t: time.Now()})

	if tok, ok := s.GetCredential(context.Background(), "unknown"); ok || tok != "" {
		t.Errorf("GetCredential = (%q, %v), want absent", tok, ok)
	}
	if _, ok := s.GetCredential(context.Background(), ""); ok {
		t.Error("empty session ID should yield absent")
	}
}

func TestStore_SetThenGet_ReturnsToken(t *testing.T) {
	s := newTestStore(&fakeClock{t: time.Now()})
	ctx := context.Background()

	if err := s.SetCredential(ctx, "sid", "token-1", time.Hour); err != nil {
		t.Fatalf("SetCredential returned error: %v", err)
	}

	tok, ok := s.GetCredential(ctx, "sid")
	if !ok || tok != "token-1" {
		t.Errorf("GetCredential = (%q, %v), want (token-1, true)", tok, ok)
	}
}

func TestStore_SetOverwritesPreviousToken(t *testing.T) {
	s := newTestStore(&fakeClock{t: time.Now()})
	ctx := context.Background()

	s.SetCredential(ctx, "sid", "first", time.Hour)
	s.SetCredential(ctx, "sid", "second", time.Hour)

	tok, _ := s.GetCredential(ctx, "sid")
	if tok != "second" {
		t.Errorf("GetCredential = %q, want %q", tok, "second")
	}
}

func TestStore_ExpiredCredential_ReturnsAbsent(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestStore(clock)
	ctx := context.Background()

	s.SetCredential(ctx, "sid", "short", time.Minute)
	clock.Advance(2 * time.Minute)

	if _, ok := s.GetCredential(ctx, "sid"); ok {
		t.Error("expired credential should yield absent")
	}
}

func TestStore_ClearCredential(t *testing.T) {
	s := newTestStore(&fakeClock{t: time.Now()})
	ctx := context.Background()

	s.SetCredential(ctx, "sid", "token", time.Hour)
	if err := s.ClearCredential(ctx, "sid"); err != nil {
		t.Fatalf("ClearCredential returned error: %v", err)
	}

	if _, ok := s.GetCredential(ctx, "sid"); ok {
		t.Error("cleared credential should yield absent")
	}
}

func TestStore_RepositoryFailure_YieldsAbsent(t *testing.T) {
	s := NewStore(failingRepo{}, Config{}, nil)

	if _, ok := s.GetCredential(context.Background(), "sid"); ok {
		t.Error("repository failure should yield absent, not a credential")
	}
}

// TestStore_RandomSequence_ReflectsMostRecentValue は任意のset/clear列に対して
// GetCredentialが直近の有効な値だけを返すことを検証する。
func TestStore_RandomSequence_ReflectsMostRecentValue(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestStore(clock)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var wantToken string
	var wantExpiry time.Time

	tokens := []string{"a", "b", "c", "d"}
	for i := 0; i < 500; i++ {
		switch rng.Intn(3) {
		case 0:
			tok := tokens[rng.Intn(len(tokens))]
			ttl := time.Duration(1+rng.Intn(10)) * time.Minute
			if err := s.SetCredential(ctx, "sid", tok, ttl); err != nil {
				t.Fatalf("SetCredential returned error: %v", err)
			}
			wantToken, wantExpiry = tok, clock.Now().Add(ttl)
		case 1:
			if err := s.ClearCredential(ctx, "sid"); err != nil {
				t.Fatalf("ClearCredential returned error: %v", err)
			}
			wantToken = ""
		case 2:
			clock.Advance(time.Duration(rng.Intn(5)) * time.Minute)
		}

		got, ok := s.GetCredential(ctx, "sid")
		wantOK := wantToken != "" && clock.Now().Before(wantExpiry)
		if ok != wantOK || (ok && got != wantToken) {
			t.Fatalf("step %d: GetCredential = (%q, %v), want (%q, %v)", i, got, ok, wantToken, wantOK)
		}
	}
}

func TestStore_Open_UnknownID_IssuesNewSession(t *testing.T) {
	s := newTestStore(&fakeClock{t: time.Now()})

	sc, err := s.Open(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if !sc.IsNew() {
		t.Error("expected a new session")
	}
	if sc.ID() == "" || sc.ID() == "does-not-exist" {
		t.Errorf("unexpected session ID %q", sc.ID())
	}
}

func TestStore_Open_ExistingID_ReusesSession(t *testing.T) {
	s := newTestStore(&fakeClock{t: time.Now()})
	ctx := context.Background()
	s.SetCredential(ctx, "existing", "tok", time.Hour)

	sc, err := s.Open(ctx, "existing")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if sc.IsNew() || sc.ID() != "existing" {
		t.Errorf("Open = (%q, new=%v), want (existing, false)", sc.ID(), sc.IsNew())
	}
	if tok, ok := sc.Credential(ctx); !ok || tok != "tok" {
		t.Errorf("Credential = (%q, %v), want (tok, true)", tok, ok)
	}
}

func TestContext_NilIsLoggedOut(t *testing.T) {
	var sc *Context
	if _, ok := sc.Credential(context.Background()); ok {
		t.Error("nil context should have no credential")
	}
	if err := sc.ClearCredential(context.Background()); err != nil {
		t.Errorf("ClearCredential on nil context returned %v", err)
	}
}

func TestWithContext_RoundTrip(t *testing.T) {
	s := newTestStore(&fakeClock{t: time.Now()})
	sc := NewContext(s, "sid")

	ctx := WithContext(context.Background(), sc)
	if got := FromContext(ctx); got != sc {
		t.Errorf("FromContext = %v, want %v", got, sc)
	}
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext on empty ctx = %v, want nil", got)
	}
}

func TestNewSessionID_IsRandomHex(t *testing.T) {
	a, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID returned error: %v", err)
	}
	b, _ := NewSessionID()
	if len(a) != 64 {
		t.Errorf("len = %d, want 64", len(a))
	}
	if a == b {
		t.Error("two session IDs should differ")
	}
}

func TestContext_Renew_IssuesNewIDAndDropsOldSession(t *testing.T) {
	s := newTestStore(&fakeClock{t: time.Now()})
	ctx := context.Background()
	s.SetCredential(ctx, "old", "tok", time.Hour)

	old, _ := s.Open(ctx, "old")
	renewed, err := old.Renew(ctx)
	if err != nil {
		t.Fatalf("Renew returned error: %v", err)
	}
	if renewed.ID() == "old" || !renewed.IsNew() {
		t.Errorf("Renew = (%q, new=%v), want a fresh session", renewed.ID(), renewed.IsNew())
	}
	if _, ok := s.GetCredential(ctx, "old"); ok {
		t.Error("old session should be removed")
	}
	if renewed.MaxAge() != 24*time.Hour {
		t.Errorf("MaxAge = %v, want 24h", renewed.MaxAge())
	}
}
