package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cleanquest/cleanquest-web/internal/identity"
	"github.com/cleanquest/cleanquest-web/internal/model"
	"github.com/cleanquest/cleanquest-web/internal/session"
)

func getSession(t *testing.T, resolver CurrentUserResolver) sessionResponse {
	t.Helper()
	h := NewSessionHandler(resolver, newSanitizer())

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	w := httptest.NewRecorder()
	h.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body sessionResponse
	decodeBody(t, w.Body, &body)
	return body
}

func TestSessionHandler_LoggedOut(t *testing.T) {
	body := getSession(t, &mockResolver{})

	if body.State != identity.StateLoggedOut {
		t.Errorf("state = %q, want logged_out", body.State)
	}
	if body.User != nil {
		t.Errorf("user = %+v, want nil", body.User)
	}
	if body.Capabilities.Authenticated || body.Capabilities.ViewAdminLinks {
		t.Errorf("capabilities = %+v, want all false", body.Capabilities)
	}
	if len(body.Navigation) != 2 || body.Navigation[0].Label != "Login" || body.Navigation[1].Label != "Register" {
		t.Errorf("navigation = %+v, want Login/Register", body.Navigation)
	}
}

func TestSessionHandler_RegularUser(t *testing.T) {
	body := getSession(t, &mockResolver{profile: testUser})

	if body.State != identity.StateLoggedIn {
		t.Errorf("state = %q, want logged_in", body.State)
	}
	if body.User == nil || body.User.ID != "u-1" || body.User.Role != "user" {
		t.Errorf("user = %+v", body.User)
	}
	if body.Capabilities.ViewAdminLinks || body.Capabilities.ManageUsers {
		t.Error("regular user should not see admin affordances")
	}
	for _, l := range body.Navigation {
		if l.Label == "Dashboard" {
			t.Error("regular user should not see the Dashboard link")
		}
	}
}

func TestSessionHandler_Admin(t *testing.T) {
	body := getSession(t, &mockResolver{profile: testAdmin})

	if !body.Capabilities.ViewAdminLinks || !body.Capabilities.ViewPayments {
		t.Errorf("capabilities = %+v, want admin affordances", body.Capabilities)
	}
	want := []string{"Profile", "Dashboard", "Logout"}
	if len(body.Navigation) != len(want) {
		t.Fatalf("navigation = %+v, want %v", body.Navigation, want)
	}
	for i, l := range body.Navigation {
		if l.Label != want[i] {
			t.Errorf("navigation[%d] = %q, want %q", i, l.Label, want[i])
		}
	}
}

func TestSessionHandler_Resolving(t *testing.T) {
	body := getSession(t, &mockResolver{
		resolveStateFn: func(ctx context.Context, sc *session.Context) (*model.UserProfile, identity.State) {
			return nil, identity.StateResolving
		},
	})

	if body.State != identity.StateResolving {
		t.Errorf("state = %q, want resolving", body.State)
	}
	if body.Capabilities.Authenticated {
		t.Error("no affordances should be shown while resolving")
	}
}

func TestSessionHandler_SanitizesName(t *testing.T) {
	body := getSession(t, &mockResolver{
		profile: &model.UserProfile{ID: "u-2", FullName: "<script>x</script>Bob", Role: model.RoleUser},
	})

	if body.User == nil || body.User.FullName != "Bob" {
		t.Errorf("full_name = %+v, want sanitized Bob", body.User)
	}
}
