package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/feedbackdesk/internal/feedback"
	"github.com/hitoshi/feedbackdesk/internal/model"
)

// FeedbackServiceInterface はフィードバックハンドラーが必要とするサービスインターフェース。
type FeedbackServiceInterface interface {
	ManagerDashboard(ctx context.Context, p model.Principal) (*feedback.ManagerDashboard, error)
	EmployeeFeedback(ctx context.Context, p model.Principal) ([]feedback.Thread, error)
	ListForEmployee(ctx context.Context, p model.Principal, employeeID int64) (*feedback.EmployeeView, error)
	DirectReports(ctx context.Context, p model.Principal) ([]model.DirectReport, error)
	Create(ctx context.Context, p model.Principal, in feedback.Input) (*model.Feedback, error)
	GetForEdit(ctx context.Context, p model.Principal, feedbackID int64) (*model.Feedback, error)
	Update(ctx context.Context, p model.Principal, feedbackID int64, in feedback.Input) (*model.Feedback, error)
	Acknowledge(ctx context.Context, p model.Principal, feedbackID int64) (bool, error)
	AddComment(ctx context.Context, p model.Principal, feedbackID int64, text, next string) (*feedback.CommentResult, error)
	Export(ctx context.Context, p model.Principal, feedbackID int64) (*feedback.Export, error)
}

// FeedbackHandler はダッシュボードとフィードバック操作のHTTPハンドラー。
type FeedbackHandler struct {
	service FeedbackServiceInterface
}

// NewFeedbackHandler はFeedbackHandlerを生成する。
func NewFeedbackHandler(service FeedbackServiceInterface) *FeedbackHandler {
	return &FeedbackHandler{service: service}
}

// feedbackRequest はフィードバック作成・更新リクエストのボディ。更新時はemployee_idを無視する。
type feedbackRequest struct {
	EmployeeID   *int64 `json:"employee_id"`
	Strengths    string `json:"strengths"`
	Improvements string `json:"improvements"`
	Sentiment    string `json:"sentiment"`
	Tags         string `json:"tags"`
}

type commentRequest struct {
	Text string `json:"text"`
	Next string `json:"next"`
}

type feedbackResponse struct {
	ID           int64      `json:"id"`
	ManagerID    int64      `json:"manager_id"`
	ManagerName  string     `json:"manager_name,omitempty"`
	EmployeeID   int64      `json:"employee_id"`
	Strengths    string     `json:"strengths"`
	Improvements string     `json:"improvements"`
	Sentiment    string     `json:"sentiment"`
	Tags         []string   `json:"tags"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	DisplayTime  time.Time  `json:"display_time"`
}

type commentResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type threadResponse struct {
	feedbackResponse
	Comments       []commentResponse `json:"comments"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at"`
}

type directReportResponse struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	FeedbackCount    int        `json:"feedback_count"`
	LastFeedbackDate *time.Time `json:"last_feedback_date"`
}

type managerDashboardResponse struct {
	Role          string                 `json:"role"`
	Reports       []directReportResponse `json:"reports"`
	TotalFeedback int                    `json:"total_feedback"`
	Sentiments    map[string]int         `json:"sentiments"`
}

type employeeDashboardResponse struct {
	Role     string           `json:"role"`
	Feedback []threadResponse `json:"feedback"`
}

// Dashboard はロールに応じたダッシュボードを返す。
// GET /api/dashboard
func (h *FeedbackHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	if p.Role == model.RoleManager {
		dash, err := h.service.ManagerDashboard(r.Context(), p)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, managerDashboardResponse{
			Role:          string(model.RoleManager),
			Reports:       toDirectReportResponses(dash.Reports),
			TotalFeedback: dash.TotalFeedback,
			Sentiments: map[string]int{
				string(model.SentimentPositive): dash.Sentiments.Positive,
				string(model.SentimentNeutral):  dash.Sentiments.Neutral,
				string(model.SentimentNegative): dash.Sentiments.Negative,
			},
		})
		return
	}

	threads, err := h.service.EmployeeFeedback(r.Context(), p)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, employeeDashboardResponse{
		Role:     string(model.RoleEmployee),
		Feedback: toThreadResponses(threads),
	})
}

// ListOwn は従業員宛てのフィードバックをコメントと確認日時付きで返す。
// GET /api/feedback
func (h *FeedbackHandler) ListOwn(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	threads, err := h.service.EmployeeFeedback(r.Context(), p)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toThreadResponses(threads))
}

// ListForEmployee はマネージャーが部下に書いたフィードバックを返す。
// GET /api/employees/{id}/feedback
func (h *FeedbackHandler) ListForEmployee(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	employeeID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	view, err := h.service.ListForEmployee(r.Context(), p, employeeID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"employee": managerResponse{ID: view.Employee.ID, Name: view.Employee.Name},
		"feedback": toThreadResponses(view.Threads),
	})
}

// DirectReports はフィードバック作成フォーム用の部下一覧を返す。
// GET /api/feedback/reports
func (h *FeedbackHandler) DirectReports(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	reports, err := h.service.DirectReports(r.Context(), p)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDirectReportResponses(reports))
}

// Create はフィードバックを作成する。
// POST /api/feedback
func (h *FeedbackHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fb, err := h.service.Create(r.Context(), p, req.input())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFeedbackResponse(fb))
}

// Get は編集用にフィードバックを返す。作成したマネージャーのみ取得できる。
// GET /api/feedback/{id}
func (h *FeedbackHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	fb, err := h.service.GetForEdit(r.Context(), p, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeedbackResponse(fb))
}

// Update はフィードバックを更新する。
// PUT /api/feedback/{id}
func (h *FeedbackHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := req.input()
	in.EmployeeID = nil
	fb, err := h.service.Update(r.Context(), p, id, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeedbackResponse(fb))
}

// Acknowledge はフィードバックを確認済みにする。2回目以降も成功を返す。
// POST /api/feedback/{id}/acknowledge
func (h *FeedbackHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	created, err := h.service.Acknowledge(r.Context(), p, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"acknowledged": true,
		"created":      created,
	})
}

// AddComment はフィードバックにコメントを追加する。
// POST /api/feedback/{id}/comments
func (h *FeedbackHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Next == "" {
		req.Next = r.URL.Query().Get("next")
	}

	result, err := h.service.AddComment(r.Context(), p, id, req.Text, req.Next)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"comment":  toCommentResponse(*result.Comment),
		"redirect": result.Redirect,
	})
}

// Export はフィードバックをPDFとしてダウンロードさせる。
// GET /api/feedback/{id}/export
func (h *FeedbackHandler) Export(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	export, err := h.service.Export(r.Context(), p, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", export.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Content)))
	w.WriteHeader(http.StatusOK)
	w.Write(export.Content)
}

func (req feedbackRequest) input() feedback.Input {
	return feedback.Input{
		EmployeeID:   req.EmployeeID,
		Strengths:    req.Strengths,
		Improvements: req.Improvements,
		Sentiment:    model.Sentiment(req.Sentiment),
		Tags:         req.Tags,
	}
}

func toFeedbackResponse(fb *model.Feedback) feedbackResponse {
	return feedbackResponse{
		ID:           fb.ID,
		ManagerID:    fb.ManagerID,
		ManagerName:  fb.ManagerName,
		EmployeeID:   fb.EmployeeID,
		Strengths:    fb.Strengths,
		Improvements: fb.Improvements,
		Sentiment:    string(fb.Sentiment),
		Tags:         fb.TagList(),
		CreatedAt:    fb.CreatedAt,
		UpdatedAt:    fb.UpdatedAt,
		DisplayTime:  fb.DisplayTime(),
	}
}

func toCommentResponse(c model.Comment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		UserID:    c.UserID,
		UserName:  c.UserName,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}
}

func toThreadResponses(threads []feedback.Thread) []threadResponse {
	resp := make([]threadResponse, 0, len(threads))
	for _, t := range threads {
		comments := make([]commentResponse, 0, len(t.Comments))
		for _, c := range t.Comments {
			comments = append(comments, toCommentResponse(c))
		}
		resp = append(resp, threadResponse{
			feedbackResponse: toFeedbackResponse(t.Feedback),
			Comments:         comments,
			AcknowledgedAt:   t.AcknowledgedAt,
		})
	}
	return resp
}

func toDirectReportResponses(reports []model.DirectReport) []directReportResponse {
	resp := make([]directReportResponse, 0, len(reports))
	for _, r := range reports {
		resp = append(resp, directReportResponse{
			ID:               r.ID,
			Name:             r.Name,
			FeedbackCount:    r.FeedbackCount,
			LastFeedbackDate: r.LastFeedbackDate,
		})
	}
	return resp
}
