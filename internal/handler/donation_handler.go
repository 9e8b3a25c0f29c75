package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cleanquest/cleanquest-web/internal/apiclient"
	"github.com/cleanquest/cleanquest-web/internal/capability"
	"github.com/cleanquest/cleanquest-web/internal/form"
	"github.com/cleanquest/cleanquest-web/internal/middleware"
	"github.com/cleanquest/cleanquest-web/internal/model"
)

// DonationAPI は寄付決済のリモートAPI呼び出しを定義する。
type DonationAPI interface {
	Checkout(ctx context.Context, credential string, in apiclient.CheckoutRequest) (string, error)
}

var _ DonationAPI = (*apiclient.Client)(nil)

// donationProductName は決済画面に表示する商品名。
const donationProductName = "CleanQuest Donation"

// checkoutRequest は POST /api/donations/checkout のリクエスト。
// amountはプリセットの数値でも自由入力の文字列でも受け付ける。
type checkoutRequest struct {
	Amount   json.RawMessage `json:"amount"`
	ReportID string          `json:"report_id"`
}

// DonationHandler は寄付のHTTPハンドラーを提供する。
type DonationHandler struct {
	api       DonationAPI
	resolver  CurrentUserResolver
	redirects RedirectValidator
}

// NewDonationHandler はDonationHandlerの新しいインスタンスを生成する。
func NewDonationHandler(api DonationAPI, resolver CurrentUserResolver, redirects RedirectValidator) *DonationHandler {
	return &DonationHandler{api: api, resolver: resolver, redirects: redirects}
}

// Checkout は決済チェックアウトを作成し、検証済みのリダイレクト先を返す。
// POST /api/donations/checkout
func (h *DonationHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	profile, token, ok := authorizeAction(w, r, h.resolver, capability.ActionDonate)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteActionError(w, err)
		return
	}

	f := form.DonationForm{
		Amount:   parseRawAmount(req.Amount),
		ReportID: strings.TrimSpace(req.ReportID),
	}
	if verr := form.Validate(&f); verr != nil {
		middleware.WriteActionError(w, verr)
		return
	}

	description := "Support community cleanups"
	if f.ReportID != "" {
		description = "Donation for report " + f.ReportID
	}

	redirectURL, err := h.api.Checkout(r.Context(), token, apiclient.CheckoutRequest{
		ProductName: donationProductName,
		AmountCents: f.Cents(),
		Description: description,
		ReportID:    f.ReportID,
	})
	if err != nil {
		middleware.WriteActionError(w, err)
		return
	}

	if err := h.redirects.ValidateRedirect(redirectURL); err != nil {
		slog.Error("checkout redirect rejected",
			slog.String("error", err.Error()),
		)
		middleware.WriteActionError(w, &model.ActionError{
			Kind:   model.KindRemoteFailure,
			Reason: model.GenericRemoteReason,
			Err:    err,
		})
		return
	}

	slog.Info("checkout created",
		slog.String("user_id", profile.ID),
		slog.Int64("amount_cents", f.Cents()),
	)
	writeJSON(w, http.StatusOK, map[string]string{"redirect_url": redirectURL})
}

// parseRawAmount はJSONの数値または文字列から金額を取り出す。
func parseRawAmount(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
	} else {
		s = string(raw)
	}
	return form.ParseAmount(s)
}
