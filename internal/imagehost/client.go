// Package imagehost はサードパーティの画像ホストへの署名無しアップロードを提供する。
// 清掃後の写真はここでアップロードし、返されたURLのみをリモートAPIに送る。
package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
)

// maxResponseSize はアップロードAPIのレスポンス読み取り上限。
const maxResponseSize = 1 << 20

// URLValidator はURL指定アップロードの前にURLを検証する。security.SSRFGuardServiceが実装する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Config は画像ホストの設定。
type Config struct {
	UploadURL    string // 例: https://api.cloudinary.com/v1_1/<cloud>/image/upload
	UploadPreset string
}

// Client は画像ホストのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	validator  URLValidator
	config     Config
}

// NewClient はClientを生成する。本番ではhttpClientにSSRF防止付きクライアントを渡す。
func NewClient(httpClient *http.Client, validator URLValidator, logger *slog.Logger, config Config) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		validator:  validator,
		config:     config,
	}
}

// Enabled はアップロード先が設定されているかどうかを返す。
func (c *Client) Enabled() bool {
	return c != nil && c.config.UploadURL != "" && c.config.UploadPreset != ""
}

// Upload は画像ファイルをアップロードし、公開URL（secure_url）を返す。
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	return c.post(ctx, func(mw *multipart.Writer) error {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, r)
		return err
	})
}

// UploadFromURL は公開URL上の画像を画像ホストに取り込ませる。
// URLは送信前にSSRFガードで検証する。
func (c *Client) UploadFromURL(ctx context.Context, remoteURL string) (string, error) {
	if c.validator != nil {
		if err := c.validator.ValidateURL(remoteURL); err != nil {
			return "", fmt.Errorf("image URL rejected: %w", err)
		}
	}
	return c.post(ctx, func(mw *multipart.Writer) error {
		return mw.WriteField("file", remoteURL)
	})
}

func (c *Client) post(ctx context.Context, writeFile func(*multipart.Writer) error) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("image host is not configured")
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if err := writeFile(mw); err != nil {
		return "", fmt.Errorf("failed to write upload body: %w", err)
	}
	if err := mw.WriteField("upload_preset", c.config.UploadPreset); err != nil {
		return "", fmt.Errorf("failed to write upload preset: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.UploadURL, body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("image upload failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Warn("image host rejected upload",
			slog.Int("http_status", resp.StatusCode),
		)
		return "", fmt.Errorf("image host returned status %d", resp.StatusCode)
	}

	var out struct {
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}

	u := out.SecureURL
	if u == "" {
		u = out.URL
	}
	if !strings.HasPrefix(u, "https://") {
		return "", fmt.Errorf("image host did not return a secure URL")
	}
	return u, nil
}
