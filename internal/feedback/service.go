package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/feedbackdesk/internal/metrics"
	"github.com/hitoshi/feedbackdesk/internal/model"
	"github.com/hitoshi/feedbackdesk/internal/notify"
	"github.com/hitoshi/feedbackdesk/internal/render"
	"github.com/hitoshi/feedbackdesk/internal/repository"
	"github.com/hitoshi/feedbackdesk/internal/security"
)

// Notifier は通知を送信キューに登録するインターフェース。
type Notifier interface {
	Enqueue(ctx context.Context, n *model.Notification)
}

// Renderer はHTMLドキュメントをPDFに変換するインターフェース。
type Renderer interface {
	Render(ctx context.Context, html []byte, opts render.Options) ([]byte, error)
}

// Thread はフィードバックとそのコメント、確認日時をまとめた表示単位。
type Thread struct {
	Feedback       *model.Feedback
	Comments       []model.Comment
	AcknowledgedAt *time.Time
}

// ManagerDashboard はマネージャーのダッシュボード表示内容。
type ManagerDashboard struct {
	Reports       []model.DirectReport
	TotalFeedback int
	Sentiments    model.SentimentCounts
}

// EmployeeView はマネージャーが部下のフィードバックを閲覧する際の表示内容。
type EmployeeView struct {
	Employee *model.User
	Threads  []Thread
}

// Input はフィードバックの作成・更新の入力値。更新時はEmployeeIDを使わない。
type Input struct {
	EmployeeID   *int64
	Strengths    string
	Improvements string
	Sentiment    model.Sentiment
	Tags         string
}

// CommentResult は追加したコメントとリダイレクト先。
type CommentResult struct {
	Comment  *model.Comment
	Redirect string
}

// Export はエクスポートしたドキュメント。
type Export struct {
	Filename string
	Content  []byte
}

// Service はフィードバックのサービス層。
// すべての操作はGuardの認可チェックを通過した後にのみデータへアクセスする。
type Service struct {
	guard    *Guard
	users    repository.UserRepository
	feedback repository.FeedbackRepository
	comments repository.CommentRepository
	acks     repository.AcknowledgementRepository
	notifier Notifier
	composer *notify.Composer
	builder  *render.Builder
	renderer Renderer
	metrics  metrics.MetricsCollector
}

// Deps はServiceの依存関係。
type Deps struct {
	Users    repository.UserRepository
	Feedback repository.FeedbackRepository
	Comments repository.CommentRepository
	Acks     repository.AcknowledgementRepository
	Notifier Notifier
	Composer *notify.Composer
	Builder  *render.Builder
	Renderer Renderer
	Metrics  metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(deps Deps) *Service {
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Service{
		guard:    NewGuard(deps.Users, deps.Feedback, mc),
		users:    deps.Users,
		feedback: deps.Feedback,
		comments: deps.Comments,
		acks:     deps.Acks,
		notifier: deps.Notifier,
		composer: deps.Composer,
		builder:  deps.Builder,
		renderer: deps.Renderer,
		metrics:  mc,
	}
}

// ManagerDashboard は部下一覧とフィードバックの集計を返す。
func (s *Service) ManagerDashboard(ctx context.Context, p model.Principal) (*ManagerDashboard, error) {
	manager, err := s.guard.RequireRole(ctx, p, model.RoleManager, OpDashboard)
	if err != nil {
		return nil, err
	}

	reports, err := s.users.ListDirectReports(ctx, manager.ID)
	if err != nil {
		return nil, fmt.Errorf("部下一覧の取得に失敗しました: %w", err)
	}
	counts, err := s.feedback.CountSentimentsByManager(ctx, manager.ID)
	if err != nil {
		return nil, fmt.Errorf("評価別件数の取得に失敗しました: %w", err)
	}

	return &ManagerDashboard{
		Reports:       reports,
		TotalFeedback: counts.Total(),
		Sentiments:    counts,
	}, nil
}

// EmployeeFeedback は従業員宛てのフィードバックをコメントと確認日時付きで新しい順に返す。
func (s *Service) EmployeeFeedback(ctx context.Context, p model.Principal) ([]Thread, error) {
	employee, err := s.guard.RequireRole(ctx, p, model.RoleEmployee, OpViewOwnFeedback)
	if err != nil {
		return nil, err
	}

	items, err := s.feedback.ListByEmployee(ctx, employee.ID)
	if err != nil {
		return nil, fmt.Errorf("フィードバック一覧の取得に失敗しました: %w", err)
	}
	return s.threads(ctx, items)
}

// ListForEmployee はマネージャーが部下に書いたフィードバックを返す。
// 部下ではない従業員を指定した場合は権限エラーを返し、データは返さない。
func (s *Service) ListForEmployee(ctx context.Context, p model.Principal, employeeID int64) (*EmployeeView, error) {
	manager, employee, err := s.guard.AuthorizeEmployeeView(ctx, p, employeeID)
	if err != nil {
		return nil, err
	}

	items, err := s.feedback.ListByManagerAndEmployee(ctx, manager.ID, employee.ID)
	if err != nil {
		return nil, fmt.Errorf("フィードバック一覧の取得に失敗しました: %w", err)
	}
	threads, err := s.threads(ctx, items)
	if err != nil {
		return nil, err
	}
	return &EmployeeView{Employee: employee, Threads: threads}, nil
}

// DirectReports はフィードバック作成フォーム用の部下一覧を返す。
func (s *Service) DirectReports(ctx context.Context, p model.Principal) ([]model.DirectReport, error) {
	manager, err := s.guard.RequireRole(ctx, p, model.RoleManager, OpListReports)
	if err != nil {
		return nil, err
	}
	reports, err := s.users.ListDirectReports(ctx, manager.ID)
	if err != nil {
		return nil, fmt.Errorf("部下一覧の取得に失敗しました: %w", err)
	}
	return reports, nil
}

// Create はフィードバックを作成し、従業員に通知する。
// 認可チェックと入力値検証はすべて保存前に行う。
func (s *Service) Create(ctx context.Context, p model.Principal, in Input) (*model.Feedback, error) {
	manager, employee, err := s.guard.AuthorizeCreate(ctx, p, in.EmployeeID)
	if err != nil {
		return nil, err
	}
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	fb := &model.Feedback{
		ManagerID:    manager.ID,
		EmployeeID:   employee.ID,
		Strengths:    in.Strengths,
		Improvements: in.Improvements,
		Sentiment:    in.Sentiment,
		Tags:         in.Tags,
		ManagerName:  manager.Name,
	}
	if err := s.feedback.Create(ctx, fb); err != nil {
		return nil, fmt.Errorf("フィードバックの作成に失敗しました: %w", err)
	}

	s.notifier.Enqueue(ctx, s.composer.FeedbackCreated(employee, manager.Name))
	slog.Info("feedback created",
		slog.Int64("feedback_id", fb.ID),
		slog.Int64("manager_id", manager.ID),
		slog.Int64("employee_id", employee.ID),
	)
	return fb, nil
}

// GetForEdit は編集フォーム用にフィードバックを返す。作成したマネージャーのみ取得できる。
func (s *Service) GetForEdit(ctx context.Context, p model.Principal, feedbackID int64) (*model.Feedback, error) {
	_, fb, err := s.guard.AuthorizeUpdate(ctx, p, feedbackID)
	if err != nil {
		return nil, err
	}
	return fb, nil
}

// Update はフィードバックを更新し、従業員に通知する。
// 更新時にもmanager_idの一致を条件にし、チェック後に所有者が変わった場合は権限エラーにする。
func (s *Service) Update(ctx context.Context, p model.Principal, feedbackID int64, in Input) (*model.Feedback, error) {
	manager, fb, err := s.guard.AuthorizeUpdate(ctx, p, feedbackID)
	if err != nil {
		return nil, err
	}
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	fb.Strengths = in.Strengths
	fb.Improvements = in.Improvements
	fb.Sentiment = in.Sentiment
	fb.Tags = in.Tags

	updated, err := s.feedback.Update(ctx, fb)
	if err != nil {
		return nil, fmt.Errorf("フィードバックの更新に失敗しました: %w", err)
	}
	if !updated {
		return nil, s.guard.deny(OpUpdateFeedback, p, "owner_changed")
	}

	employee, err := s.users.FindByID(ctx, fb.EmployeeID)
	if err != nil {
		slog.Warn("failed to load employee for notification",
			slog.Int64("feedback_id", fb.ID),
			slog.String("error", err.Error()),
		)
	} else if employee != nil {
		s.notifier.Enqueue(ctx, s.composer.FeedbackUpdated(employee, manager.Name))
	}

	slog.Info("feedback updated", slog.Int64("feedback_id", fb.ID), slog.Int64("manager_id", manager.ID))
	return fb, nil
}

// Acknowledge は従業員がフィードバックを確認したことを記録する。
// 同じフィードバックへの2回目以降の確認は何もせず成功として扱い、通知も送らない。
// 新しく記録した場合はtrueを返す。
func (s *Service) Acknowledge(ctx context.Context, p model.Principal, feedbackID int64) (bool, error) {
	employee, fb, err := s.guard.AuthorizeAcknowledge(ctx, p, feedbackID)
	if err != nil {
		return false, err
	}

	created, err := s.acks.Create(ctx, fb.ID, employee.ID)
	if err != nil {
		return false, fmt.Errorf("確認の記録に失敗しました: %w", err)
	}
	if !created {
		return false, nil
	}

	manager, err := s.users.FindByID(ctx, fb.ManagerID)
	if err != nil {
		slog.Warn("failed to load manager for notification",
			slog.Int64("feedback_id", fb.ID),
			slog.String("error", err.Error()),
		)
	} else if manager != nil {
		s.notifier.Enqueue(ctx, s.composer.Acknowledged(manager, employee.Name, fb.ID))
	}

	slog.Info("feedback acknowledged", slog.Int64("feedback_id", fb.ID), slog.Int64("employee_id", employee.ID))
	return true, nil
}

// AddComment はフィードバックにコメントを追加し、もう一方の当事者に通知する。
// マネージャーは部下のフィードバック一覧へ、従業員はnext（安全な相対パスのみ）かダッシュボードへ戻す。
// 空のコメントは保存前に拒否し、同じリダイレクト先を返す。
func (s *Service) AddComment(ctx context.Context, p model.Principal, feedbackID int64, text, next string) (*CommentResult, error) {
	actor, fb, err := s.guard.AuthorizeParticipant(ctx, p, feedbackID, OpComment)
	if err != nil {
		return nil, err
	}

	redirect := commentRedirect(actor, fb, next)
	text = strings.TrimSpace(text)
	if text == "" {
		e := model.NewValidationError("コメントを入力してください。", "コメントを入力して再度お試しください。")
		e.Redirect = redirect
		return nil, e
	}

	c := &model.Comment{
		FeedbackID: fb.ID,
		UserID:     actor.ID,
		UserName:   actor.Name,
		Text:       text,
	}
	if err := s.comments.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("コメントの追加に失敗しました: %w", err)
	}

	recipientID := fb.ManagerID
	if actor.Role == model.RoleManager {
		recipientID = fb.EmployeeID
	}
	recipient, err := s.users.FindByID(ctx, recipientID)
	if err != nil {
		slog.Warn("failed to load comment recipient for notification",
			slog.Int64("feedback_id", fb.ID),
			slog.String("error", err.Error()),
		)
	} else if recipient != nil {
		s.notifier.Enqueue(ctx, s.composer.Comment(recipient, actor, fb.ID, text))
	}

	slog.Info("comment added", slog.Int64("feedback_id", fb.ID), slog.Int64("user_id", actor.ID))
	return &CommentResult{Comment: c, Redirect: redirect}, nil
}

func commentRedirect(actor *model.User, fb *model.Feedback, next string) string {
	if actor.Role == model.RoleManager {
		return fmt.Sprintf("/employees/%d/feedback", fb.EmployeeID)
	}
	return security.SafeRedirectPath(next, model.PathDashboard)
}

// Export はフィードバックをPDFに変換して返す。フィードバックのマネージャーと従業員のみ実行できる。
func (s *Service) Export(ctx context.Context, p model.Principal, feedbackID int64) (*Export, error) {
	_, fb, err := s.guard.AuthorizeParticipant(ctx, p, feedbackID, OpExport)
	if err != nil {
		return nil, err
	}

	threads, err := s.threads(ctx, []*model.Feedback{fb})
	if err != nil {
		return nil, err
	}
	employee, err := s.users.FindByID(ctx, fb.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("従業員の取得に失敗しました: %w", err)
	}
	employeeName := ""
	if employee != nil {
		employeeName = employee.Name
	}

	html, err := s.builder.Build(render.Document{
		FeedbackID:     fb.ID,
		ManagerName:    fb.ManagerName,
		EmployeeName:   employeeName,
		Sentiment:      fb.Sentiment,
		Tags:           fb.TagList(),
		Strengths:      fb.Strengths,
		Improvements:   fb.Improvements,
		CreatedAt:      fb.CreatedAt,
		UpdatedAt:      editedAt(fb),
		AcknowledgedAt: threads[0].AcknowledgedAt,
		Comments:       threads[0].Comments,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pdf, err := s.renderer.Render(ctx, html, render.Options{})
	s.metrics.RecordExportLatency(time.Since(start))
	if err != nil {
		slog.Error("failed to render feedback document",
			slog.Int64("feedback_id", fb.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewExportFailedError()
	}

	return &Export{
		Filename: fmt.Sprintf("feedback_%d.pdf", fb.ID),
		Content:  pdf,
	}, nil
}

// editedAt は編集済みの場合のみ更新日時を返す。
func editedAt(fb *model.Feedback) *time.Time {
	if fb.UpdatedAt == nil || fb.UpdatedAt.Equal(fb.CreatedAt) {
		return nil
	}
	return fb.UpdatedAt
}

// threads はフィードバック一覧にコメントと確認日時を付与する。
// コメントと確認記録はフィードバックIDの配列でまとめて取得する。
func (s *Service) threads(ctx context.Context, items []*model.Feedback) ([]Thread, error) {
	threads := make([]Thread, 0, len(items))
	if len(items) == 0 {
		return threads, nil
	}

	ids := make([]int64, len(items))
	for i, fb := range items {
		ids[i] = fb.ID
	}

	comments, err := s.comments.ListByFeedbackIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	acks, err := s.acks.ListByFeedbackIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("確認記録の取得に失敗しました: %w", err)
	}

	for _, fb := range items {
		t := Thread{Feedback: fb, Comments: comments[fb.ID]}
		if t.Comments == nil {
			t.Comments = []model.Comment{}
		}
		if at, ok := acks[fb.ID]; ok {
			t.AcknowledgedAt = &at
		}
		threads = append(threads, t)
	}
	return threads, nil
}

// validateInput は評価値を検証し、本文の前後の空白とタグを正規化する。
func validateInput(in *Input) error {
	in.Sentiment = model.Sentiment(strings.ToLower(strings.TrimSpace(string(in.Sentiment))))
	if !in.Sentiment.Valid() {
		return model.NewValidationError(
			"評価が不正です。",
			"positive、neutral、negative のいずれかを選択してください。",
		)
	}
	in.Strengths = strings.TrimSpace(in.Strengths)
	in.Improvements = strings.TrimSpace(in.Improvements)
	if in.Strengths == "" && in.Improvements == "" {
		return model.NewValidationError(
			"良かった点または改善点を入力してください。",
			"フィードバックの内容を入力して再度お試しください。",
		)
	}
	in.Tags = model.NormalizeTags(in.Tags)
	return nil
}
