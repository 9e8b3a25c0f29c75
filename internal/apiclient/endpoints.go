package apiclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cleanquest/cleanquest-web/internal/model"
)

// SignUpInput はサインアップの入力。
type SignUpInput struct {
	FullName    string            `json:"fullName"`
	Email       string            `json:"email"`
	Password    string            `json:"password"`
	AccountType model.AccountType `json:"accountType,omitempty"`
}

// SignInInput はサインインの入力。
type SignInInput struct {
	Email       string            `json:"email"`
	Password    string            `json:"password"`
	AccountType model.AccountType `json:"accountType,omitempty"`
}

// SignInResult はサインインの結果。RoleはAPIが返した場合のみ設定される。
type SignInResult struct {
	Token string
	Role  model.Role
}

// NewReport は報告作成の入力。
type NewReport struct {
	Description string
	Location    string
	Image       model.Upload
}

// AfterPhoto は清掃後写真の添付入力。ImageかImageURLのどちらかを指定する。
type AfterPhoto struct {
	Image    *model.Upload
	ImageURL string
}

// ProfileUpdate はプロフィール更新の入力。Avatarは任意。
type ProfileUpdate struct {
	FullName string
	Email    string
	Avatar   *model.Upload
}

// UserUpdate は管理者によるユーザー更新の入力。
type UserUpdate struct {
	FullName string     `json:"fullname"`
	Email    string     `json:"email"`
	Role     model.Role `json:"role"`
}

// CheckoutRequest は決済チェックアウトの入力。
type CheckoutRequest struct {
	ProductName string `json:"productName"`
	AmountCents int64  `json:"amount"`
	Description string `json:"description"`
	ReportID    string `json:"postId,omitempty"`
}

// SignUp はアカウントを作成する。
func (c *Client) SignUp(ctx context.Context, in SignUpInput) error {
	_, err := c.Do(ctx, "", Operation{
		Name:   "sign_up",
		Method: http.MethodPost,
		Path:   "/auth/sign-up",
		Auth:   AuthNone,
		JSON:   in,
	}, nil)
	return err
}

// SignIn はメールアドレスとパスワードでサインインし、クレデンシャルを返す。
func (c *Client) SignIn(ctx context.Context, in SignInInput) (*SignInResult, error) {
	var body []byte
	outcome, err := c.Do(ctx, "", Operation{
		Name:   "sign_in",
		Method: http.MethodPost,
		Path:   "/auth/sign-in",
		Auth:   AuthNone,
		JSON:   in,
	}, &body)
	if err != nil {
		return nil, err
	}

	token, role := "", model.Role("")
	if outcome == OutcomeData {
		token, role = decodeSignIn(body)
	}
	if token == "" {
		return nil, &model.ActionError{
			Kind:   model.KindRemoteFailure,
			Reason: model.GenericRemoteReason,
			Err:    fmt.Errorf("sign-in response did not contain a token"),
		}
	}
	return &SignInResult{Token: token, Role: role}, nil
}

// GoogleLoginURL はGoogleサインインを開始するリモートAPIのURLを返す。
// 完了後、リモートAPIは?token=付きでコールバックURLへリダイレクトする。
func (c *Client) GoogleLoginURL() string {
	return c.baseURL + "/auth/google"
}

// CurrentUser はクレデンシャルの持ち主のプロフィールを取得する。
func (c *Client) CurrentUser(ctx context.Context, credential string) (*model.UserProfile, error) {
	var body []byte
	outcome, err := c.Do(ctx, credential, Operation{
		Name:   "current_user",
		Method: http.MethodGet,
		Path:   c.config.CurrentUserPath,
		Auth:   AuthRequired,
	}, &body)
	if err != nil {
		return nil, err
	}
	if outcome != OutcomeData {
		return nil, decodeFailure("current_user", fmt.Errorf("empty response"))
	}

	profile, err := decodeUser(body)
	if err != nil {
		return nil, decodeFailure("current_user", err)
	}
	if profile.ID == "" && profile.Email == "" {
		return nil, decodeFailure("current_user", fmt.Errorf("profile has no identity"))
	}
	return profile, nil
}

// ListReports は報告のフィードを取得する。未サインインでも閲覧できる。
func (c *Client) ListReports(ctx context.Context, credential string) ([]model.Report, error) {
	var body []byte
	outcome, err := c.Do(ctx, credential, Operation{
		Name:   "list_reports",
		Method: http.MethodGet,
		Path:   "/posts",
		Auth:   AuthOptional,
	}, &body)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeNoData {
		return []model.Report{}, nil
	}

	reports, err := decodeReports(body)
	if err != nil {
		return nil, decodeFailure("list_reports", err)
	}
	return reports, nil
}

// CreateReport は画像付きの報告を作成する。
// APIが作成した報告を返さない場合はnilを返す。
func (c *Client) CreateReport(ctx context.Context, credential string, in NewReport) (*model.Report, error) {
	var body []byte
	outcome, err := c.Do(ctx, credential, Operation{
		Name:   "create_report",
		Method: http.MethodPost,
		Path:   "/posts",
		Auth:   AuthRequired,
		FormFields: map[string]string{
			"description": in.Description,
			"Location":    in.Location,
		},
		FormFiles: []FormFile{{Field: "image", Upload: in.Image}},
	}, &body)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeNoData {
		return nil, nil
	}

	report, err := decodeReport(body)
	if err != nil {
		// 作成自体は成功しているため結果をnilとして扱う
		c.logger.Warn("failed to decode created report", slog.String("error", err.Error()))
		return nil, nil
	}
	return report, nil
}

// DeleteReport は報告を削除する。既に削除済み（404）の場合もデータ無し成功になる。
func (c *Client) DeleteReport(ctx context.Context, credential, id string) (Outcome, error) {
	return c.Do(ctx, credential, Operation{
		Name:             "delete_report",
		Method:           http.MethodDelete,
		Path:             "/posts/" + escapePath(id),
		Auth:             AuthRequired,
		NotFoundIsNoData: true,
	}, nil)
}

// AttachAfterPhoto は報告に清掃後の写真を添付する。
func (c *Client) AttachAfterPhoto(ctx context.Context, credential, id string, in AfterPhoto) (*model.Report, error) {
	op := Operation{
		Name:   "attach_after_photo",
		Method: http.MethodPut,
		Path:   "/posts/" + escapePath(id) + "/after-photo",
		Auth:   AuthRequired,
	}
	if in.Image != nil {
		op.FormFiles = []FormFile{{Field: "image", Upload: *in.Image}}
	} else {
		op.JSON = map[string]string{"imageUrl": in.ImageURL}
	}

	var body []byte
	outcome, err := c.Do(ctx, credential, op, &body)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeNoData {
		return nil, nil
	}

	report, err := decodeReport(body)
	if err != nil {
		c.logger.Warn("failed to decode updated report", slog.String("error", err.Error()))
		return nil, nil
	}
	return report, nil
}

// UpdateProfile は現在のユーザーのプロフィールを更新する。
// APIが更新後のプロフィールを返さない場合はnilを返す。
func (c *Client) UpdateProfile(ctx context.Context, credential string, in ProfileUpdate) (*model.UserProfile, error) {
	op := Operation{
		Name:   "update_profile",
		Method: http.MethodPut,
		Path:   "/users",
		Auth:   AuthRequired,
		FormFields: map[string]string{
			"fullName": in.FullName,
			"email":    in.Email,
		},
	}
	if in.Avatar != nil {
		op.FormFiles = []FormFile{{Field: "avatar", Upload: *in.Avatar}}
	}

	var body []byte
	outcome, err := c.Do(ctx, credential, op, &body)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeNoData {
		return nil, nil
	}

	profile, err := decodeUser(body)
	if err != nil || profile.ID == "" {
		return nil, nil
	}
	return profile, nil
}

// ListUsers は全ユーザーを取得する（管理者用）。
func (c *Client) ListUsers(ctx context.Context, credential string) ([]model.UserProfile, error) {
	var body []byte
	outcome, err := c.Do(ctx, credential, Operation{
		Name:   "list_users",
		Method: http.MethodGet,
		Path:   "/admin/users",
		Auth:   AuthRequired,
	}, &body)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeNoData {
		return []model.UserProfile{}, nil
	}

	users, err := decodeUsers(body)
	if err != nil {
		return nil, decodeFailure("list_users", err)
	}
	return users, nil
}

// DeleteUser はユーザーを削除する（管理者用）。
func (c *Client) DeleteUser(ctx context.Context, credential, id string) (Outcome, error) {
	return c.Do(ctx, credential, Operation{
		Name:   "delete_user",
		Method: http.MethodDelete,
		Path:   "/admin/users/" + escapePath(id),
		Auth:   AuthRequired,
	}, nil)
}

// UpdateUser はユーザーの氏名・メールアドレス・ロールを更新する（管理者用）。
func (c *Client) UpdateUser(ctx context.Context, credential, id string, in UserUpdate) error {
	_, err := c.Do(ctx, credential, Operation{
		Name:   "update_user",
		Method: http.MethodPut,
		Path:   "/api/users/" + escapePath(id),
		Auth:   AuthRequired,
		JSON:   in,
	}, nil)
	return err
}

// ListPayments は寄付の決済記録を取得する（管理者用、読み取り専用）。
func (c *Client) ListPayments(ctx context.Context, credential string) ([]model.Payment, error) {
	var body []byte
	outcome, err := c.Do(ctx, credential, Operation{
		Name:   "list_payments",
		Method: http.MethodGet,
		Path:   "/admin/payments",
		Auth:   AuthRequired,
	}, &body)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeNoData {
		return []model.Payment{}, nil
	}

	payments, err := decodePayments(body)
	if err != nil {
		return nil, decodeFailure("list_payments", err)
	}
	return payments, nil
}

// DashboardStats は管理画面の集計値を取得する。
func (c *Client) DashboardStats(ctx context.Context, credential string) (*model.DashboardStats, error) {
	var w wireStats
	_, err := c.Do(ctx, credential, Operation{
		Name:   "dashboard_stats",
		Method: http.MethodGet,
		Path:   "/dashboard/stats",
		Auth:   AuthRequired,
	}, &w)
	if err != nil {
		return nil, err
	}
	stats := w.toModel()
	return &stats, nil
}

// Checkout は決済チェックアウトセッションを作成し、リダイレクト先URLを返す。
func (c *Client) Checkout(ctx context.Context, credential string, in CheckoutRequest) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	outcome, err := c.Do(ctx, credential, Operation{
		Name:   "checkout",
		Method: http.MethodPost,
		Path:   "/stripe/checkout",
		Auth:   AuthRequired,
		JSON:   in,
	}, &out)
	if err != nil {
		return "", err
	}
	if outcome != OutcomeData || out.URL == "" {
		return "", decodeFailure("checkout", fmt.Errorf("response did not contain a redirect URL"))
	}
	return out.URL, nil
}

// decodeFailure はレスポンス形式の不一致をremote_failureとして返す。
func decodeFailure(operation string, err error) *model.ActionError {
	return &model.ActionError{
		Kind:   model.KindRemoteFailure,
		Reason: model.GenericRemoteReason,
		Err:    fmt.Errorf("unexpected %s response: %w", operation, err),
	}
}

// FormatAmount はセント単位の金額を表示用のドル表記に変換する。
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + "$" + strconv.FormatInt(cents/100, 10) + "." + fmt.Sprintf("%02d", cents%100)
}
