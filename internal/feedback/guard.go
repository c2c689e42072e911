// Package feedback はフィードバックのドメインロジックと、操作ごとの認可チェックを提供する。
package feedback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/feedbackdesk/internal/metrics"
	"github.com/hitoshi/feedbackdesk/internal/model"
	"github.com/hitoshi/feedbackdesk/internal/repository"
)

// 認可チェックの対象操作。ログとメトリクスのラベルに使う。
const (
	OpDashboard       = "dashboard"
	OpViewOwnFeedback = "view_own_feedback"
	OpViewEmployee    = "view_employee_feedback"
	OpListReports     = "list_direct_reports"
	OpCreateFeedback  = "create_feedback"
	OpUpdateFeedback  = "update_feedback"
	OpAcknowledge     = "acknowledge"
	OpComment         = "comment"
	OpExport          = "export"
)

// Guard はフィードバック操作の認可を判定する。
//
// セッションのロールは信用せず、操作のたびに実行者をユーザーストアから再取得する。
// 対象が存在しない場合も権限エラーと同じエラーを返し、存在有無を区別させない。
// チェックに失敗した場合、以降のデータアクセスは行わない。
type Guard struct {
	users    repository.UserRepository
	feedback repository.FeedbackRepository
	metrics  metrics.MetricsCollector
}

// NewGuard はGuardを生成する。
func NewGuard(users repository.UserRepository, feedback repository.FeedbackRepository, mc metrics.MetricsCollector) *Guard {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Guard{users: users, feedback: feedback, metrics: mc}
}

// Actor は実行者をユーザーストアから取得する。
// ユーザーが削除されている場合は未認証、セッションのロールと一致しない場合はログインし直しを求める。
func (g *Guard) Actor(ctx context.Context, p model.Principal, op string) (*model.User, error) {
	user, err := g.users.FindByID(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		g.record(op, p, "actor_not_found")
		return nil, model.NewUnauthorizedError()
	}
	if user.Role != p.Role {
		g.record(op, p, "stale_role")
		return nil, model.NewStaleRoleError()
	}
	return user, nil
}

// RequireRole は実行者が指定ロールであることを確認する。
func (g *Guard) RequireRole(ctx context.Context, p model.Principal, role model.Role, op string) (*model.User, error) {
	actor, err := g.Actor(ctx, p, op)
	if err != nil {
		return nil, err
	}
	if actor.Role != role {
		return nil, g.deny(op, p, "role")
	}
	return actor, nil
}

// AuthorizeEmployeeView はマネージャーが部下のフィードバックを閲覧できるかを判定する。
func (g *Guard) AuthorizeEmployeeView(ctx context.Context, p model.Principal, employeeID int64) (manager, employee *model.User, err error) {
	manager, err = g.RequireRole(ctx, p, model.RoleManager, OpViewEmployee)
	if err != nil {
		return nil, nil, err
	}
	employee, err = g.users.FindByID(ctx, employeeID)
	if err != nil {
		return nil, nil, fmt.Errorf("従業員の取得に失敗しました: %w", err)
	}
	if employee == nil || !employee.IsManagedBy(manager.ID) {
		return nil, nil, g.deny(OpViewEmployee, p, "not_direct_report")
	}
	return manager, employee, nil
}

// AuthorizeCreate はマネージャーが指定従業員にフィードバックを作成できるかを判定する。
// 部下がいない、または従業員が未指定の場合はNO_DIRECT_REPORTS、
// 部下ではない従業員の場合はINVALID_EMPLOYEEを返す。
func (g *Guard) AuthorizeCreate(ctx context.Context, p model.Principal, employeeID *int64) (manager, employee *model.User, err error) {
	manager, err = g.RequireRole(ctx, p, model.RoleManager, OpCreateFeedback)
	if err != nil {
		return nil, nil, err
	}

	reports, err := g.users.CountDirectReports(ctx, manager.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("部下数の取得に失敗しました: %w", err)
	}
	if reports == 0 || employeeID == nil {
		return nil, nil, model.NewNoDirectReportsError()
	}

	employee, err = g.users.FindByID(ctx, *employeeID)
	if err != nil {
		return nil, nil, fmt.Errorf("従業員の取得に失敗しました: %w", err)
	}
	if employee == nil || !employee.IsManagedBy(manager.ID) {
		g.record(OpCreateFeedback, p, "invalid_employee")
		return nil, nil, model.NewInvalidEmployeeError()
	}
	return manager, employee, nil
}

// AuthorizeUpdate はマネージャーが自分の書いたフィードバックを編集できるかを判定する。
func (g *Guard) AuthorizeUpdate(ctx context.Context, p model.Principal, feedbackID int64) (*model.User, *model.Feedback, error) {
	manager, err := g.RequireRole(ctx, p, model.RoleManager, OpUpdateFeedback)
	if err != nil {
		return nil, nil, err
	}
	fb, err := g.findFeedback(ctx, feedbackID)
	if err != nil {
		return nil, nil, err
	}
	if fb == nil || fb.ManagerID != manager.ID {
		return nil, nil, g.deny(OpUpdateFeedback, p, "not_owner")
	}
	return manager, fb, nil
}

// AuthorizeAcknowledge は従業員が自分宛てのフィードバックを確認できるかを判定する。
func (g *Guard) AuthorizeAcknowledge(ctx context.Context, p model.Principal, feedbackID int64) (*model.User, *model.Feedback, error) {
	employee, err := g.RequireRole(ctx, p, model.RoleEmployee, OpAcknowledge)
	if err != nil {
		return nil, nil, err
	}
	fb, err := g.findFeedback(ctx, feedbackID)
	if err != nil {
		return nil, nil, err
	}
	if fb == nil || fb.EmployeeID != employee.ID {
		return nil, nil, g.deny(OpAcknowledge, p, "not_recipient")
	}
	return employee, fb, nil
}

// AuthorizeParticipant は実行者がフィードバックのマネージャーまたは従業員であるかを判定する。
// コメントとエクスポートで使う。
func (g *Guard) AuthorizeParticipant(ctx context.Context, p model.Principal, feedbackID int64, op string) (*model.User, *model.Feedback, error) {
	actor, err := g.Actor(ctx, p, op)
	if err != nil {
		return nil, nil, err
	}
	fb, err := g.findFeedback(ctx, feedbackID)
	if err != nil {
		return nil, nil, err
	}
	if fb == nil || !isParticipant(actor, fb) {
		return nil, nil, g.deny(op, p, "not_participant")
	}
	return actor, fb, nil
}

func isParticipant(actor *model.User, fb *model.Feedback) bool {
	switch actor.Role {
	case model.RoleManager:
		return fb.ManagerID == actor.ID
	case model.RoleEmployee:
		return fb.EmployeeID == actor.ID
	default:
		return false
	}
}

func (g *Guard) findFeedback(ctx context.Context, id int64) (*model.Feedback, error) {
	fb, err := g.feedback.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("フィードバックの取得に失敗しました: %w", err)
	}
	return fb, nil
}

// deny は拒否を記録してNOT_AUTHORIZEDを返す。
func (g *Guard) deny(op string, p model.Principal, reason string) error {
	g.record(op, p, reason)
	return model.NewNotAuthorizedError()
}

func (g *Guard) record(op string, p model.Principal, reason string) {
	g.metrics.RecordAuthzDenied(op)
	slog.Warn("authorization denied",
		slog.String("operation", op),
		slog.Int64("user_id", p.UserID),
		slog.String("role", string(p.Role)),
		slog.String("reason", reason),
	)
}
