package form

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/cleanquest/cleanquest-web/internal/model"
)

// MaxDescriptionLength は報告の説明文の上限文字数。
const MaxDescriptionLength = 500

// MaxImageSize はアップロード画像の上限サイズ。
const MaxImageSize = 10 << 20

// DonationPresets は寄付金額のプリセット（ドル）。
var DonationPresets = []int{5, 10, 25, 50}

// SignUpForm はサインアップフォーム。
type SignUpForm struct {
	FullName    string `json:"full_name" validate:"required,max=100"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6,max=128"`
	AccountType string `json:"account_type" validate:"omitempty,oneof=volunteer donator"`
}

// Normalize は前後の空白を取り除く。パスワードはそのまま保持する。
func (f *SignUpForm) Normalize() {
	f.FullName = strings.TrimSpace(f.FullName)
	f.Email = strings.TrimSpace(f.Email)
	f.AccountType = strings.ToLower(strings.TrimSpace(f.AccountType))
}

// SignInForm はサインインフォーム。
type SignInForm struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	AccountType string `json:"account_type" validate:"omitempty,oneof=volunteer donator"`
}

func (f *SignInForm) Normalize() {
	f.Email = strings.TrimSpace(f.Email)
	f.AccountType = strings.ToLower(strings.TrimSpace(f.AccountType))
}

// ReportForm は報告作成フォーム。すべての項目が必須。
type ReportForm struct {
	Description string        `json:"description" validate:"required,max=500"`
	Location    string        `json:"location" validate:"required,max=200"`
	Image       *model.Upload `json:"image" validate:"required"`
}

func (f *ReportForm) Normalize() {
	f.Description = strings.TrimSpace(f.Description)
	f.Location = strings.TrimSpace(f.Location)
}

func (f *ReportForm) extraChecks() map[string]string {
	if msg := checkImage(f.Image); msg != "" {
		return map[string]string{"image": msg}
	}
	return nil
}

// AfterPhotoForm は清掃後写真の添付フォーム。ImageかImageURLのどちらかが必要。
type AfterPhotoForm struct {
	Image    *model.Upload `json:"image" validate:"required_without=ImageURL"`
	ImageURL string        `json:"image_url" validate:"omitempty,url"`
}

func (f *AfterPhotoForm) Normalize() {
	f.ImageURL = strings.TrimSpace(f.ImageURL)
}

func (f *AfterPhotoForm) extraChecks() map[string]string {
	if f.Image == nil {
		return nil
	}
	if msg := checkImage(f.Image); msg != "" {
		return map[string]string{"image": msg}
	}
	return nil
}

// ProfileForm はプロフィール編集フォーム。アバターは任意。
type ProfileForm struct {
	FullName string        `json:"full_name" validate:"required,max=100"`
	Email    string        `json:"email" validate:"required,email"`
	Avatar   *model.Upload `json:"avatar"`
}

func (f *ProfileForm) Normalize() {
	f.FullName = strings.TrimSpace(f.FullName)
	f.Email = strings.TrimSpace(f.Email)
}

func (f *ProfileForm) extraChecks() map[string]string {
	if f.Avatar == nil {
		return nil
	}
	if msg := checkImage(f.Avatar); msg != "" {
		return map[string]string{"avatar": msg}
	}
	return nil
}

// UserUpdateForm は管理者によるユーザー編集フォーム。
type UserUpdateForm struct {
	FullName string `json:"full_name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Role     string `json:"role" validate:"required,oneof=user admin"`
}

func (f *UserUpdateForm) Normalize() {
	f.FullName = strings.TrimSpace(f.FullName)
	f.Email = strings.TrimSpace(f.Email)
	f.Role = strings.ToLower(strings.TrimSpace(f.Role))
}

// DonationForm は寄付フォーム。金額はドル単位。
type DonationForm struct {
	Amount   float64 `json:"amount" validate:"gt=0,lte=100000"`
	ReportID string  `json:"report_id" validate:"omitempty,max=64"`
}

// Cents は金額をセント単位に変換する。
func (f *DonationForm) Cents() int64 {
	return ToCents(f.Amount)
}

// ToCents はドル金額をセント単位に丸める。
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// ParseAmount はプリセットまたは自由入力の金額文字列をパースする。
// "$"と桁区切りのカンマは無視する。パースできない場合は0を返し、検証で弾かれる。
func ParseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// checkImage は画像ファイルの中身を確認する。問題が無ければ空文字を返す。
func checkImage(u *model.Upload) string {
	if u == nil {
		return ""
	}
	if len(u.Data) == 0 {
		return "The image file is empty."
	}
	if len(u.Data) > MaxImageSize {
		return "The image must be 10 MB or smaller."
	}
	ct := u.ContentType
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(u.Data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return "The file must be an image."
	}
	return ""
}
