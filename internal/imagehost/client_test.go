package imagehost

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type mockValidator struct {
	validateURLFn func(rawURL string) error
}

func (m *mockValidator) ValidateURL(rawURL string) error {
	return m.validateURLFn(rawURL)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, v URLValidator) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.Client(), v, nil, Config{UploadURL: server.URL + "/upload", UploadPreset: "cleanquest"})
}

func TestClient_Upload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipartのパースに失敗: %v", err)
			return
		}
		if got := r.FormValue("upload_preset"); got != "cleanquest" {
			t.Errorf("upload_preset = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("fileフィールドが無い: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "after.jpg" || string(data) != "JPEG" {
			t.Errorf("file = %q %q", hdr.Filename, data)
		}
		w.Write([]byte(`{"secure_url":"https://res.example.com/after.jpg","url":"http://res.example.com/after.jpg"}`))
	}, nil)

	got, err := c.Upload(context.Background(), "after.jpg", strings.NewReader("JPEG"))
	if err != nil {
		t.Fatalf("Upload がエラーを返した: %v", err)
	}
	if got != "https://res.example.com/after.jpg" {
		t.Errorf("url = %q", got)
	}
}

func TestClient_Upload_RejectsInsecureURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url":"http://res.example.com/a.jpg"}`))
	}, nil)

	if _, err := c.Upload(context.Background(), "a.jpg", strings.NewReader("x")); err == nil {
		t.Error("httpのURLが受け入れられた")
	}
}

func TestClient_Upload_ErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Upload preset not found"}}`))
	}, nil)

	if _, err := c.Upload(context.Background(), "a.jpg", strings.NewReader("x")); err == nil {
		t.Error("400がエラーにならなかった")
	}
}

func TestClient_UploadFromURL_Validated(t *testing.T) {
	var calls int
	v := &mockValidator{validateURLFn: func(rawURL string) error {
		if strings.Contains(rawURL, "169.254") {
			return errors.New("blocked")
		}
		return nil
	}}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.FormValue("file"); got != "https://images.example.org/a.png" {
			t.Errorf("file = %q", got)
		}
		w.Write([]byte(`{"secure_url":"https://res.example.com/a.png"}`))
	}, v)

	if _, err := c.UploadFromURL(context.Background(), "http://169.254.169.254/latest/meta-data/"); err == nil {
		t.Error("メタデータIPが受け入れられた")
	}
	if calls != 0 {
		t.Errorf("拒否したURLで画像ホストが呼ばれた: %d", calls)
	}

	got, err := c.UploadFromURL(context.Background(), "https://images.example.org/a.png")
	if err != nil {
		t.Fatalf("UploadFromURL がエラーを返した: %v", err)
	}
	if got != "https://res.example.com/a.png" {
		t.Errorf("url = %q", got)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(http.DefaultClient, nil, nil, Config{})
	if c.Enabled() {
		t.Error("未設定のクライアントが有効になっている")
	}
	if _, err := c.Upload(context.Background(), "a.jpg", strings.NewReader("x")); err == nil {
		t.Error("未設定でアップロードが成功した")
	}
}
