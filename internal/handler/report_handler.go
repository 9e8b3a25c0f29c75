package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/cleanquest/cleanquest-web/internal/apiclient"
	"github.com/cleanquest/cleanquest-web/internal/capability"
	"github.com/cleanquest/cleanquest-web/internal/form"
	"github.com/cleanquest/cleanquest-web/internal/middleware"
	"github.com/cleanquest/cleanquest-web/internal/model"
)

// ReportAPI は報告に関するリモートAPI呼び出しを定義する。
type ReportAPI interface {
	ListReports(ctx context.Context, credential string) ([]model.Report, error)
	CreateReport(ctx context.Context, credential string, in apiclient.NewReport) (*model.Report, error)
	DeleteReport(ctx context.Context, credential, id string) (apiclient.Outcome, error)
	AttachAfterPhoto(ctx context.Context, credential, id string, in apiclient.AfterPhoto) (*model.Report, error)
}

var _ ReportAPI = (*apiclient.Client)(nil)

// maxIndexedReports は作成者インデックスに保持する報告数の上限。
const maxIndexedReports = 10000

// authorIndex は報告IDから作成者IDを引くためのインデックス。
// 一覧取得や作成のたびに更新し、削除の事前チェックに使う。
type authorIndex struct {
	mu      sync.RWMutex
	authors map[string]string
}

func newAuthorIndex() *authorIndex {
	return &authorIndex{authors: make(map[string]string)}
}

func (i *authorIndex) remember(reports ...model.Report) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.authors)+len(reports) > maxIndexedReports {
		i.authors = make(map[string]string, len(reports))
	}
	for _, r := range reports {
		if r.ID != "" {
			i.authors[r.ID] = r.AuthorID
		}
	}
}

func (i *authorIndex) lookup(id string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	author, ok := i.authors[id]
	return author, ok
}

func (i *authorIndex) forget(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.authors, id)
}

// reportView はブラウザに返す報告。
type reportView struct {
	ID          string   `json:"id"`
	AuthorID    string   `json:"author_id"`
	AuthorName  string   `json:"author_name"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	BeforeImage string   `json:"before_image"`
	AfterImages []string `json:"after_images"`
	Donations   int      `json:"donations"`
	CreatedAt   string   `json:"created_at,omitempty"`
	Cleaned     bool     `json:"cleaned"`
	CanDelete   bool     `json:"can_delete"`
}

// reportListResponse は GET /api/reports のレスポンス。
type reportListResponse struct {
	Reports         []reportView   `json:"reports"`
	Capabilities    capability.Set `json:"capabilities"`
	DonationPresets []int          `json:"donation_presets"`
}

// ReportHandler は報告のフィードと報告操作のHTTPハンドラーを提供する。
type ReportHandler struct {
	api       ReportAPI
	resolver  CurrentUserResolver
	images    ImageUploader
	urls      URLValidator
	sanitizer TextSanitizer
	authors   *authorIndex
}

// NewReportHandler はReportHandlerの新しいインスタンスを生成する。
func NewReportHandler(
	api ReportAPI,
	resolver CurrentUserResolver,
	images ImageUploader,
	urls URLValidator,
	sanitizer TextSanitizer,
) *ReportHandler {
	return &ReportHandler{
		api:       api,
		resolver:  resolver,
		images:    images,
		urls:      urls,
		sanitizer: sanitizer,
		authors:   newAuthorIndex(),
	}
}

// List は報告のフィードを返す。未サインインでも閲覧できる。
// GET /api/reports
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	sc, token := credentialOf(r)
	profile, _ := h.resolver.ResolveState(r.Context(), sc)
	if profile == nil {
		// 解決に失敗した場合はクレデンシャルが削除されている可能性がある
		token, _ = sc.Credential(r.Context())
	}

	reports, err := h.api.ListReports(r.Context(), token)
	if err != nil {
		middleware.WriteActionError(w, err)
		return
	}
	h.authors.remember(reports...)

	caps := capability.For(profile)
	views := make([]reportView, 0, len(reports))
	for i := range reports {
		views = append(views, h.view(&reports[i], caps))
	}

	writeJSON(w, http.StatusOK, reportListResponse{
		Reports:         views,
		Capabilities:    caps,
		DonationPresets: form.DonationPresets,
	})
}

// Create は画像付きの報告を作成する。
// POST /api/reports
func (h *ReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	profile, token, ok := authorizeAction(w, r, h.resolver, capability.ActionCreateReport)
	if !ok {
		return
	}

	if err := parseMultipart(r); err != nil {
		middleware.WriteActionError(w, err)
		return
	}
	image, err := readUpload(r, "image")
	if err != nil {
		middleware.WriteActionError(w, err)
		return
	}

	f := form.ReportForm{
		Description: r.FormValue("description"),
		Location:    r.FormValue("location"),
		Image:       image,
	}
	f.Normalize()
	f.Description = h.sanitizer.Sanitize(f.Description)
	f.Location = h.sanitizer.Sanitize(f.Location)
	if verr := form.Validate(&f); verr != nil {
		middleware.WriteActionError(w, verr)
		return
	}

	report, err := h.api.CreateReport(r.Context(), token, apiclient.NewReport{
		Description: f.Description,
		Location:    f.Location,
		Image:       *f.Image,
	})
	if err != nil {
		middleware.WriteActionError(w, err)
		return
	}
	if report == nil {
		writeJSON(w, http.StatusCreated, outcomeBody(apiclient.OutcomeNoData))
		return
	}

	if report.AuthorID == "" {
		report.AuthorID = profile.ID
	}
	h.authors.remember(*report)

	slog.Info("report created",
		slog.String("report_id", report.ID),
		slog.String("user_id", profile.ID),
	)
	writeJSON(w, http.StatusCreated, h.view(report, capability.For(profile)))
}

// Delete は報告を削除する。管理者または作成者本人のみ実行できる。
// 権限が無いことが分かっている場合はリモートAPIを呼ばずに拒否する。
// DELETE /api/reports/{id}
func (h *ReportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sc, token := credentialOf(r)
	profile, _ := h.resolver.ResolveState(r.Context(), sc)
	if profile == nil {
		middleware.WriteActionError(w, model.NewUnauthenticatedError())
		return
	}

	authorID := ""
	if !profile.IsAdmin() {
		var known bool
		authorID, known = h.authors.lookup(id)
		if !known {
			reports, err := h.api.ListReports(r.Context(), token)
			if err != nil {
				middleware.WriteActionError(w, err)
				return
			}
			h.authors.remember(reports...)
			if authorID, known = h.authors.lookup(id); !known {
				writeJSON(w, http.StatusOK, outcomeBody(apiclient.OutcomeNoData))
				return
			}
		}
	}

	if err := capability.Authorize(profile, capability.ActionDeleteReport, authorID); err != nil {
		slog.Warn("report deletion denied",
			slog.String("report_id", id),
			slog.String("user_id", profile.ID),
		)
		middleware.WriteActionError(w, err)
		return
	}

	outcome, err := h.api.DeleteReport(r.Context(), token, id)
	if err != nil {
		middleware.WriteActionError(w, err)
		return
	}
	h.authors.forget(id)

	writeJSON(w, http.StatusOK, outcomeBody(outcome))
}

// afterPhotoRequest はJSONで清掃後写真のURLを指定する場合のリクエスト。
type afterPhotoRequest struct {
	ImageURL string `json:"image_url"`
}

// AttachAfterPhoto は報告に清掃後の写真を添付する。
// 画像ホストが設定されていれば先にアップロードし、得たURLをリモートAPIに渡す。
// PUT /api/reports/{id}/after-photo
func (h *ReportHandler) AttachAfterPhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	profile, token, ok := authorizeAction(w, r, h.resolver, capability.ActionAttachAfterPhoto)
	if !ok {
		return
	}

	var f form.AfterPhotoForm
	if isMultipart(r) {
		if err := parseMultipart(r); err != nil {
			middleware.WriteActionError(w, err)
			return
		}
		image, err := readUpload(r, "image")
		if err != nil {
			middleware.WriteActionError(w, err)
			return
		}
		f.Image = image
		f.ImageURL = r.FormValue("image_url")
	} else {
		var req afterPhotoRequest
		if err := decodeJSON(w, r, &req); err != nil {
			middleware.WriteActionError(w, err)
			return
		}
		f.ImageURL = req.ImageURL
	}
	f.Normalize()
	if verr := form.Validate(&f); verr != nil {
		middleware.WriteActionError(w, verr)
		return
	}

	if f.Image == nil {
		if err := h.urls.ValidateURL(f.ImageURL); err != nil {
			middleware.WriteActionError(w, &model.ActionError{
				Kind:   model.KindValidation,
				Reason: "The image URL is not allowed.",
				Fields: map[string]string{"image_url": "The image URL is not allowed."},
				Err:    err,
			})
			return
		}
	}

	in, err := h.prepareAfterPhoto(r.Context(), &f)
	if err != nil {
		middleware.WriteActionError(w, err)
		return
	}

	report, err := h.api.AttachAfterPhoto(r.Context(), token, id, in)
	if err != nil {
		middleware.WriteActionError(w, err)
		return
	}
	if report == nil {
		writeJSON(w, http.StatusOK, outcomeBody(apiclient.OutcomeNoData))
		return
	}
	h.authors.remember(*report)

	slog.Info("after photo attached",
		slog.String("report_id", id),
		slog.String("user_id", profile.ID),
	)
	writeJSON(w, http.StatusOK, h.view(report, capability.For(profile)))
}

// prepareAfterPhoto は画像ホストが使える場合に画像をアップロードし、URL指定に変換する。
func (h *ReportHandler) prepareAfterPhoto(ctx context.Context, f *form.AfterPhotoForm) (apiclient.AfterPhoto, error) {
	if h.images == nil || !h.images.Enabled() {
		return apiclient.AfterPhoto{Image: f.Image, ImageURL: f.ImageURL}, nil
	}

	var (
		hosted string
		err    error
	)
	if f.Image != nil {
		hosted, err = h.images.Upload(ctx, f.Image.Filename, bytes.NewReader(f.Image.Data))
	} else {
		hosted, err = h.images.UploadFromURL(ctx, f.ImageURL)
	}
	if err != nil {
		return apiclient.AfterPhoto{}, &model.ActionError{
			Kind:   model.KindRemoteFailure,
			Reason: "The image could not be uploaded. Please try again.",
			Err:    err,
		}
	}
	return apiclient.AfterPhoto{ImageURL: hosted}, nil
}

func (h *ReportHandler) view(rep *model.Report, caps capability.Set) reportView {
	after := rep.AfterImages
	if after == nil {
		after = []string{}
	}
	return reportView{
		ID:          rep.ID,
		AuthorID:    rep.AuthorID,
		AuthorName:  h.sanitizer.Sanitize(rep.AuthorName),
		Description: h.sanitizer.Sanitize(rep.Description),
		Location:    h.sanitizer.Sanitize(rep.Location),
		BeforeImage: rep.BeforeImage,
		AfterImages: after,
		Donations:   rep.Donations,
		CreatedAt:   formatTime(rep.CreatedAt),
		Cleaned:     rep.IsCleaned(),
		CanDelete:   caps.CanDelete(rep.AuthorID),
	}
}
