// Package form はリクエスト送信前の入力検証を提供する。
// 検証に失敗した場合はネットワークに出ずにvalidationエラーを返す。
package form

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/cleanquest/cleanquest-web/internal/model"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// messages はバリデーションタグごとのユーザー向けメッセージ。
var messages = map[string]string{
	"required":         "This field is required.",
	"required_without": "This field is required.",
	"email":            "Enter a valid email address.",
	"min":              "Must be at least %s characters long.",
	"max":              "Must be no longer than %s characters.",
	"gt":               "Must be greater than %s.",
	"lte":              "Must be %s or less.",
	"oneof":            "Must be one of: %s.",
	"url":              "Enter a valid URL.",
}

func message(e validator.FieldError) string {
	msg, ok := messages[e.Tag()]
	if !ok {
		return "This field is invalid."
	}
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, e.Param())
	}
	return msg
}

// extraChecker は構造体タグで表現できない検証を持つフォームが実装する。
type extraChecker interface {
	extraChecks() map[string]string
}

// Validate はフォームを検証する。問題が無ければnilを返す。
// 戻り値のFieldsはJSONフィールド名をキーとしたメッセージ。
func Validate(f any) *model.ActionError {
	fields := make(map[string]string)

	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &model.ActionError{Kind: model.KindValidation, Reason: "The form could not be checked.", Err: err}
		}
		for _, e := range verrs {
			if _, exists := fields[e.Field()]; !exists {
				fields[e.Field()] = message(e)
			}
		}
	}

	if ec, ok := f.(extraChecker); ok {
		for k, v := range ec.extraChecks() {
			if _, exists := fields[k]; !exists {
				fields[k] = v
			}
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return model.NewValidationError(fields)
}
