// Package apiclient はCleanQuestリモートAPIのクライアント（アクションディスパッチャー）を提供する。
//
// すべての呼び出しは現在のベアラークレデンシャルを付与し、結果を
// 「データ付き成功」「データ無し成功」「理由付き失敗」のいずれかに写像する。
// 自動リトライは行わない。失敗はユーザーに見せて手動で再試行してもらう。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/cleanquest/cleanquest-web/internal/model"
	"github.com/sony/gobreaker"
)

// maxResponseSize はレスポンスボディの読み取り上限。
const maxResponseSize = 5 << 20

// AuthMode は操作がクレデンシャルを必要とするかどうかを表す。
type AuthMode int

const (
	// AuthNone はクレデンシャルを付与しない。
	AuthNone AuthMode = iota
	// AuthOptional はクレデンシャルがあれば付与する。
	AuthOptional
	// AuthRequired はクレデンシャルが無ければネットワークに出ずに失敗する。
	AuthRequired
)

// Outcome は成功時の結果種別。
type Outcome int

const (
	// OutcomeFailed は失敗（errorが非nil）。
	OutcomeFailed Outcome = iota
	// OutcomeData はレスポンスボディを伴う成功。
	OutcomeData
	// OutcomeNoData はボディを伴わない成功（削除済みの報告の再削除など）。
	OutcomeNoData
)

// String はメトリクスラベル用の文字列を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeData:
		return "data"
	case OutcomeNoData:
		return "no_data"
	default:
		return "failed"
	}
}

// FormFile はmultipartで送るファイルフィールド。
type FormFile struct {
	Field  string
	Upload model.Upload
}

// Operation はリモートAPIに対する1回の呼び出しを表す。
type Operation struct {
	Name   string // ログとメトリクス用の操作名
	Method string
	Path   string
	Auth   AuthMode

	JSON       any               // JSONボディ（nilなら送らない）
	FormFields map[string]string // multipartのテキストフィールド
	FormFiles  []FormFile        // multipartのファイルフィールド

	// NotFoundIsNoData が真の場合、404をデータ無し成功として扱う。
	NotFoundIsNoData bool
}

func (op Operation) isMultipart() bool {
	return len(op.FormFields) > 0 || len(op.FormFiles) > 0
}

// Recorder はディスパッチ結果の記録先。metrics.Collectorが実装する。
type Recorder interface {
	RecordDispatch(operation, result string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordDispatch(string, string, time.Duration) {}

// Config はClientの設定。
type Config struct {
	BaseURL         string
	CurrentUserPath string // 識別エンドポイントのパス（リビジョンにより異なる）

	BreakerMaxFailures uint32        // 連続失敗でブレーカーを開く回数。0で既定値
	BreakerOpenTimeout time.Duration // ブレーカーが開いている時間。0で既定値
}

// Client はCleanQuestリモートAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	config     Config
	breaker    *gobreaker.CircuitBreaker
	recorder   Recorder
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, config Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.CurrentUserPath == "" {
		config.CurrentUserPath = "/auth/current-user"
	}
	if config.BreakerMaxFailures == 0 {
		config.BreakerMaxFailures = 5
	}
	if config.BreakerOpenTimeout == 0 {
		config.BreakerOpenTimeout = 30 * time.Second
	}

	maxFailures := config.BreakerMaxFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cleanquest-api",
		MaxRequests: 1,
		Timeout:     config.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// 呼び出し側の中断はリモートの障害として数えない
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		config:     config,
		breaker:    breaker,
		recorder:   noopRecorder{},
	}
}

// WithRecorder はディスパッチ結果の記録先を設定する。
func (c *Client) WithRecorder(r Recorder) *Client {
	if r != nil {
		c.recorder = r
	}
	return c
}

// rawResponse はブレーカー内で読み取ったレスポンス。
type rawResponse struct {
	status int
	body   []byte
}

// serverError は5xxレスポンスをブレーカーに失敗として伝えるためのエラー。
type serverError struct {
	status int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("remote API returned status %d", e.status)
}

// Do は操作を1回実行する。
// outには2xxレスポンスのボディをデコードする。*[]byteを渡すと生のボディをそのまま返す。
func (c *Client) Do(ctx context.Context, credential string, op Operation, out any) (Outcome, error) {
	start := time.Now()
	outcome, err := c.do(ctx, credential, op, out)

	result := outcome.String()
	if err != nil {
		if kind := model.KindOf(err); kind != "" {
			result = string(kind)
		}
	}
	c.recorder.RecordDispatch(op.Name, result, time.Since(start))

	return outcome, err
}

func (c *Client) do(ctx context.Context, credential string, op Operation, out any) (Outcome, error) {
	if op.Auth == AuthRequired && credential == "" {
		return OutcomeFailed, model.NewUnauthenticatedError()
	}

	req, err := c.newRequest(ctx, credential, op)
	if err != nil {
		return OutcomeFailed, &model.ActionError{
			Kind:   model.KindRemoteFailure,
			Reason: model.GenericRemoteReason,
			Err:    fmt.Errorf("failed to build %s request: %w", op.Name, err),
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		raw := &rawResponse{status: resp.StatusCode, body: body}
		if resp.StatusCode >= 500 {
			return raw, &serverError{status: resp.StatusCode}
		}
		return raw, nil
	})

	if err != nil {
		status := 0
		var se *serverError
		if errors.As(err, &se) {
			status = se.status
		}
		c.logger.Warn("remote API call failed",
			slog.String("operation", op.Name),
			slog.Int("http_status", status),
			slog.String("error", err.Error()),
		)
		return OutcomeFailed, &model.ActionError{
			Kind:       model.KindRemoteFailure,
			Reason:     model.GenericRemoteReason,
			StatusCode: status,
			Err:        err,
		}
	}

	raw := result.(*rawResponse)
	return c.interpret(op, raw, out)
}

// interpret は5xx以外のレスポンスを結果に写像する。
func (c *Client) interpret(op Operation, raw *rawResponse, out any) (Outcome, error) {
	switch {
	case raw.status == http.StatusNotFound && op.NotFoundIsNoData:
		return OutcomeNoData, nil

	case raw.status >= 200 && raw.status < 300:
		if raw.status == http.StatusNoContent || len(bytes.TrimSpace(raw.body)) == 0 {
			return OutcomeNoData, nil
		}
		if out == nil {
			return OutcomeData, nil
		}
		if b, ok := out.(*[]byte); ok {
			*b = raw.body
			return OutcomeData, nil
		}
		if err := json.Unmarshal(raw.body, out); err != nil {
			c.logger.Error("failed to decode remote API response",
				slog.String("operation", op.Name),
				slog.String("error", err.Error()),
			)
			return OutcomeFailed, &model.ActionError{
				Kind:       model.KindRemoteFailure,
				Reason:     model.GenericRemoteReason,
				StatusCode: raw.status,
				Err:        fmt.Errorf("failed to decode %s response: %w", op.Name, err),
			}
		}
		return OutcomeData, nil

	case raw.status == http.StatusUnauthorized:
		return OutcomeFailed, &model.ActionError{
			Kind:       model.KindUnauthenticated,
			Reason:     serverMessage(raw.body, "Your session has expired. Please sign in again."),
			StatusCode: raw.status,
		}

	case raw.status == http.StatusForbidden:
		return OutcomeFailed, &model.ActionError{
			Kind:       model.KindForbidden,
			Reason:     serverMessage(raw.body, "You are not allowed to do this."),
			StatusCode: raw.status,
		}

	default:
		c.logger.Info("remote API rejected request",
			slog.String("operation", op.Name),
			slog.Int("http_status", raw.status),
		)
		return OutcomeFailed, &model.ActionError{
			Kind:       model.KindRemoteFailure,
			Reason:     serverMessage(raw.body, http.StatusText(raw.status)),
			StatusCode: raw.status,
		}
	}
}

// newRequest はHTTPリクエストを組み立てる。
func (c *Client) newRequest(ctx context.Context, credential string, op Operation) (*http.Request, error) {
	var body io.Reader
	contentType := ""

	switch {
	case op.isMultipart():
		buf, ct, err := encodeMultipart(op.FormFields, op.FormFiles)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case op.JSON != nil:
		data, err := json.Marshal(op.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body, contentType = bytes.NewReader(data), "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, c.baseURL+op.Path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if credential != "" && op.Auth != AuthNone {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	return req, nil
}

// encodeMultipart はmultipart/form-dataのボディを生成する。
func encodeMultipart(fields map[string]string, files []FormFile) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(f.Field), escapeQuotes(f.Upload.Filename)))
		ct := f.Upload.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file %s: %w", f.Field, err)
		}
		if _, err := part.Write(f.Upload.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write form file %s: %w", f.Field, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf, mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// serverMessage はエラーレスポンスからサーバーのメッセージを取り出す。
// {"message": ...}、{"error": ...}、JSON文字列、プレーンテキストに対応する。
func serverMessage(body []byte, fallback string) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return fallback
	}

	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
		return fallback
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil && s != "" {
		return s
	}

	if trimmed[0] == '<' || len(trimmed) > 200 {
		return fallback
	}
	return string(trimmed)
}

// escapePath はパスパラメータをエスケープする。
func escapePath(id string) string {
	return url.PathEscape(id)
}
