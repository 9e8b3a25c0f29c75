package apiclient

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/cleanquest/cleanquest-web/internal/model"
)

// リモートAPIはリビジョンごとにフィールド名の揺れがあるため、
// 既知の別名をすべて受け付けてモデルに正規化する。

type wireUser struct {
	ID          string `json:"_id"`
	AltID       string `json:"id"`
	FullName    string `json:"fullName"`
	FullNameAlt string `json:"fullname"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	Avatar      string `json:"avatar"`
	AvatarURL   string `json:"avatarUrl"`
	AccountType string `json:"accountType"`
}

func (w *wireUser) toModel() model.UserProfile {
	role := model.Role(strings.ToLower(w.Role))
	if !role.Valid() {
		role = model.RoleUser
	}
	return model.UserProfile{
		ID:          firstNonEmpty(w.ID, w.AltID),
		FullName:    firstNonEmpty(w.FullName, w.FullNameAlt),
		Email:       w.Email,
		Role:        role,
		AvatarURL:   firstNonEmpty(w.AvatarURL, w.Avatar),
		AccountType: model.AccountType(w.AccountType),
	}
}

// decodeUser はプロフィールを単体または{"user": {...}}の形式からデコードする。
func decodeUser(body []byte) (*model.UserProfile, error) {
	var envelope struct {
		User *wireUser `json:"user"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.User != nil {
		p := envelope.User.toModel()
		return &p, nil
	}

	var w wireUser
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, err
	}
	p := w.toModel()
	return &p, nil
}

// decodeUsers はユーザー一覧を配列または{"users": [...]}の形式からデコードする。
func decodeUsers(body []byte) ([]model.UserProfile, error) {
	var list []wireUser
	if isJSONArray(body) {
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
	} else {
		var envelope struct {
			Users []wireUser `json:"users"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		list = envelope.Users
	}

	users := make([]model.UserProfile, 0, len(list))
	for i := range list {
		users = append(users, list[i].toModel())
	}
	return users, nil
}

// wireRef はIDの文字列、または展開済みオブジェクトのどちらかで返る参照。
type wireRef struct {
	ID       string
	FullName string
	Email    string
	Title    string
	Owner    string
}

func (r *wireRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		r.ID = id
		return nil
	}

	var obj struct {
		wireUser
		Title       string   `json:"title"`
		Description string   `json:"description"`
		User        *wireRef `json:"user"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	u := obj.wireUser.toModel()
	r.ID = u.ID
	r.FullName = u.FullName
	r.Email = u.Email
	r.Title = firstNonEmpty(obj.Title, obj.Description)
	if obj.User != nil {
		r.Owner = obj.User.FullName
	}
	return nil
}

type wireReport struct {
	ID          string   `json:"_id"`
	AltID       string   `json:"id"`
	User        *wireRef `json:"user"`
	AuthorID    string   `json:"authorId"`
	Description string   `json:"description"`
	Location    string   `json:"Location"`
	LocationAlt string   `json:"location"`
	ImageURL    string   `json:"imageUrl"`
	BeforeImage string   `json:"beforeImage"`
	AfterImages []string `json:"afterImages"`
	Donations   int      `json:"donations"`
	CreatedAt   string   `json:"createdAt"`
}

func (w *wireReport) toModel() model.Report {
	r := model.Report{
		ID:          firstNonEmpty(w.ID, w.AltID),
		AuthorID:    w.AuthorID,
		Description: w.Description,
		Location:    firstNonEmpty(w.Location, w.LocationAlt),
		BeforeImage: firstNonEmpty(w.BeforeImage, w.ImageURL),
		AfterImages: w.AfterImages,
		Donations:   w.Donations,
		CreatedAt:   parseTime(w.CreatedAt),
	}
	if w.User != nil {
		if r.AuthorID == "" {
			r.AuthorID = w.User.ID
		}
		r.AuthorName = w.User.FullName
	}
	return r
}

func decodeReport(body []byte) (*model.Report, error) {
	var envelope struct {
		Post   *wireReport `json:"post"`
		Report *wireReport `json:"report"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Post != nil {
			r := envelope.Post.toModel()
			return &r, nil
		}
		if envelope.Report != nil {
			r := envelope.Report.toModel()
			return &r, nil
		}
	}

	var w wireReport
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, err
	}
	r := w.toModel()
	return &r, nil
}

func decodeReports(body []byte) ([]model.Report, error) {
	var list []wireReport
	if isJSONArray(body) {
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
	} else {
		var envelope struct {
			Posts   []wireReport `json:"posts"`
			Reports []wireReport `json:"reports"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		list = envelope.Posts
		if len(list) == 0 {
			list = envelope.Reports
		}
	}

	reports := make([]model.Report, 0, len(list))
	for i := range list {
		reports = append(reports, list[i].toModel())
	}
	return reports, nil
}

type wirePayment struct {
	ID        string   `json:"_id"`
	AltID     string   `json:"id"`
	User      *wireRef `json:"user"`
	Report    *wireRef `json:"report"`
	Amount    int64    `json:"amount"`
	Status    string   `json:"status"`
	CreatedAt string   `json:"createdAt"`
}

func (w *wirePayment) toModel() model.Payment {
	p := model.Payment{
		ID:          firstNonEmpty(w.ID, w.AltID),
		AmountCents: w.Amount,
		Status:      w.Status,
		CreatedAt:   parseTime(w.CreatedAt),
	}
	if w.User != nil {
		p.DonorName = w.User.FullName
		p.DonorEmail = w.User.Email
	}
	if w.Report != nil {
		p.ReportTitle = w.Report.Title
		p.ReportOwner = w.Report.Owner
	}
	return p
}

func decodePayments(body []byte) ([]model.Payment, error) {
	var list []wirePayment
	if isJSONArray(body) {
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
	} else {
		var envelope struct {
			Payments []wirePayment `json:"payments"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		list = envelope.Payments
	}

	payments := make([]model.Payment, 0, len(list))
	for i := range list {
		payments = append(payments, list[i].toModel())
	}
	return payments, nil
}

type wireStats struct {
	Users    int `json:"users"`
	Reports  int `json:"reports"`
	Posts    int `json:"posts"`
	Cleanups int `json:"cleanups"`
}

func (w *wireStats) toModel() model.DashboardStats {
	reports := w.Reports
	if reports == 0 {
		reports = w.Posts
	}
	return model.DashboardStats{Users: w.Users, Reports: reports, Cleanups: w.Cleanups}
}

// decodeSignIn はサインインのレスポンスからトークンとロールを取り出す。
// JSON文字列、{"token", "role"}、プレーンテキストのいずれにも対応する。
func decodeSignIn(body []byte) (token string, role model.Role) {
	trimmed := bytes.TrimSpace(body)

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, ""
	}

	var obj struct {
		Token       string    `json:"token"`
		AccessToken string    `json:"accessToken"`
		Role        string    `json:"role"`
		User        *wireUser `json:"user"`
	}
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		role = model.Role(strings.ToLower(obj.Role))
		if role == "" && obj.User != nil {
			role = model.Role(strings.ToLower(obj.User.Role))
		}
		return firstNonEmpty(obj.Token, obj.AccessToken), role
	}

	if len(trimmed) > 0 && trimmed[0] != '{' && trimmed[0] != '<' {
		return string(trimmed), ""
	}
	return "", ""
}

func isJSONArray(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
