package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cleanquest/cleanquest-web/internal/apiclient"
	"github.com/cleanquest/cleanquest-web/internal/model"
)

type mockAdminAPI struct {
	calls atomic.Int32

	listUsersFn      func(ctx context.Context, credential string) ([]model.UserProfile, error)
	deleteUserFn     func(ctx context.Context, credential, id string) (apiclient.Outcome, error)
	updateUserFn     func(ctx context.Context, credential, id string, in apiclient.UserUpdate) error
	listPaymentsFn   func(ctx context.Context, credential string) ([]model.Payment, error)
	dashboardStatsFn func(ctx context.Context, credential string) (*model.DashboardStats, error)
}

func (m *mockAdminAPI) ListUsers(ctx context.Context, credential string) ([]model.UserProfile, error) {
	m.calls.Add(1)
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx, credential)
	}
	return nil, nil
}

func (m *mockAdminAPI) DeleteUser(ctx context.Context, credential, id string) (apiclient.Outcome, error) {
	m.calls.Add(1)
	if m.deleteUserFn != nil {
		return m.deleteUserFn(ctx, credential, id)
	}
	return apiclient.OutcomeNoData, nil
}

func (m *mockAdminAPI) UpdateUser(ctx context.Context, credential, id string, in apiclient.UserUpdate) error {
	m.calls.Add(1)
	if m.updateUserFn != nil {
		return m.updateUserFn(ctx, credential, id, in)
	}
	return nil
}

func (m *mockAdminAPI) ListPayments(ctx context.Context, credential string) ([]model.Payment, error) {
	m.calls.Add(1)
	if m.listPaymentsFn != nil {
		return m.listPaymentsFn(ctx, credential)
	}
	return nil, nil
}

func (m *mockAdminAPI) DashboardStats(ctx context.Context, credential string) (*model.DashboardStats, error) {
	m.calls.Add(1)
	if m.dashboardStatsFn != nil {
		return m.dashboardStatsFn(ctx, credential)
	}
	return nil, nil
}

func TestAdminHandler_Dashboard_Admin(t *testing.T) {
	store := newTestSessionStore()
	api := &mockAdminAPI{
		dashboardStatsFn: func(ctx context.Context, credential string) (*model.DashboardStats, error) {
			return &model.DashboardStats{Users: 3, Reports: 7, Cleanups: 2}, nil
		},
		listUsersFn: func(ctx context.Context, credential string) ([]model.UserProfile, error) {
			return []model.UserProfile{*testUser, *testAdmin}, nil
		},
		listPaymentsFn: func(ctx context.Context, credential string) ([]model.Payment, error) {
			return []model.Payment{{ID: "p-1", DonorName: "Jane", AmountCents: 2500, Status: "paid"}}, nil
		},
	}
	h := NewAdminHandler(api, &mockResolver{profile: testAdmin}, newSanitizer())

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), signedInSession(t, store, "tok-dash"))
	w := httptest.NewRecorder()
	h.Dashboard(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body dashboardResponse
	decodeBody(t, w.Body, &body)
	if body.Stats.Reports != 7 || body.Stats.Cleanups != 2 {
		t.Errorf("stats = %+v", body.Stats)
	}
	if len(body.Users) != 2 {
		t.Errorf("users = %d, want 2", len(body.Users))
	}
	if len(body.Payments) != 1 || body.Payments[0].Amount != "$25.00" {
		t.Errorf("payments = %+v, want one payment of $25.00", body.Payments)
	}
}

func TestAdminHandler_Dashboard_RegularUser_ForbiddenWithoutNetwork(t *testing.T) {
	store := newTestSessionStore()
	api := &mockAdminAPI{}
	h := NewAdminHandler(api, &mockResolver{profile: testUser}, newSanitizer())

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), signedInSession(t, store, "tok-user"))
	w := httptest.NewRecorder()
	h.Dashboard(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if api.calls.Load() != 0 {
		t.Errorf("remote calls = %d, want 0", api.calls.Load())
	}
}

func TestAdminHandler_Dashboard_PartialFailure(t *testing.T) {
	store := newTestSessionStore()
	api := &mockAdminAPI{
		listPaymentsFn: func(ctx context.Context, credential string) ([]model.Payment, error) {
			return nil, &model.ActionError{Kind: model.KindRemoteFailure, Reason: model.GenericRemoteReason, StatusCode: 500}
		},
	}
	h := NewAdminHandler(api, &mockResolver{profile: testAdmin}, newSanitizer())

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), signedInSession(t, store, "tok-partial"))
	w := httptest.NewRecorder()
	h.Dashboard(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

func TestAdminHandler_DeleteUser(t *testing.T) {
	store := newTestSessionStore()
	var gotID string
	api := &mockAdminAPI{
		deleteUserFn: func(ctx context.Context, credential, id string) (apiclient.Outcome, error) {
			gotID = id
			return apiclient.OutcomeNoData, nil
		},
	}
	h := NewAdminHandler(api, &mockResolver{profile: testAdmin}, newSanitizer())

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/admin/users/u-1", nil), "id", "u-1")
	req = withSession(req, signedInSession(t, store, "tok-deluser"))
	w := httptest.NewRecorder()
	h.DeleteUser(w, req)

	if w.Code != http.StatusOK || gotID != "u-1" {
		t.Errorf("status = %d, id = %q", w.Code, gotID)
	}
}

func TestAdminHandler_DeleteUser_Self_Rejected(t *testing.T) {
	store := newTestSessionStore()
	api := &mockAdminAPI{}
	h := NewAdminHandler(api, &mockResolver{profile: testAdmin}, newSanitizer())

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/admin/users/a-1", nil), "id", "a-1")
	req = withSession(req, signedInSession(t, store, "tok-self"))
	w := httptest.NewRecorder()
	h.DeleteUser(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if api.calls.Load() != 0 {
		t.Error("remote API should not be called")
	}
}

func TestAdminHandler_DeleteUser_NonAdmin_Forbidden(t *testing.T) {
	store := newTestSessionStore()
	api := &mockAdminAPI{}
	h := NewAdminHandler(api, &mockResolver{profile: testUser}, newSanitizer())

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/admin/users/u-2", nil), "id", "u-2")
	req = withSession(req, signedInSession(t, store, "tok-nonadmin"))
	w := httptest.NewRecorder()
	h.DeleteUser(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if api.calls.Load() != 0 {
		t.Error("remote API should not be called")
	}
}

func TestAdminHandler_UpdateUser(t *testing.T) {
	store := newTestSessionStore()
	var got apiclient.UserUpdate
	api := &mockAdminAPI{
		updateUserFn: func(ctx context.Context, credential, id string, in apiclient.UserUpdate) error {
			got = in
			return nil
		},
	}
	resolver := &mockResolver{profile: testAdmin}
	h := NewAdminHandler(api, resolver, newSanitizer())

	req := jsonRequest(t, http.MethodPut, "/api/admin/users/u-1", map[string]string{
		"full_name": "Jane",
		"email":     "jane@example.com",
		"role":      "Admin",
	})
	req = withURLParam(req, "id", "u-1")
	req = withSession(req, signedInSession(t, store, "tok-upd"))
	w := httptest.NewRecorder()
	h.UpdateUser(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	if got.Role != model.RoleAdmin {
		t.Errorf("role = %q, want admin", got.Role)
	}
	if len(resolver.invalidated) != 0 {
		t.Error("updating another user should not invalidate the admin's cache")
	}
}

func TestAdminHandler_UpdateUser_Self_InvalidatesCache(t *testing.T) {
	store := newTestSessionStore()
	resolver := &mockResolver{profile: testAdmin}
	h := NewAdminHandler(&mockAdminAPI{}, resolver, newSanitizer())

	req := jsonRequest(t, http.MethodPut, "/api/admin/users/a-1", map[string]string{
		"full_name": "Admin",
		"email":     "admin@example.com",
		"role":      "user",
	})
	req = withURLParam(req, "id", "a-1")
	req = withSession(req, signedInSession(t, store, "tok-selfupd"))
	w := httptest.NewRecorder()
	h.UpdateUser(w, req)

	if len(resolver.invalidated) != 1 || resolver.invalidated[0] != "tok-selfupd" {
		t.Errorf("invalidated = %v, want [tok-selfupd]", resolver.invalidated)
	}
}

func TestAdminHandler_UpdateUser_InvalidRole(t *testing.T) {
	store := newTestSessionStore()
	api := &mockAdminAPI{}
	h := NewAdminHandler(api, &mockResolver{profile: testAdmin}, newSanitizer())

	req := jsonRequest(t, http.MethodPut, "/api/admin/users/u-1", map[string]string{
		"full_name": "Jane",
		"email":     "jane@example.com",
		"role":      "superuser",
	})
	req = withURLParam(req, "id", "u-1")
	req = withSession(req, signedInSession(t, store, "tok-role"))
	w := httptest.NewRecorder()
	h.UpdateUser(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if api.calls.Load() != 0 {
		t.Error("remote API should not be called")
	}
}
