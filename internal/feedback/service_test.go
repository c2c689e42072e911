package feedback

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/hitoshi/feedbackdesk/internal/model"
	"github.com/hitoshi/feedbackdesk/internal/notify"
	"github.com/hitoshi/feedbackdesk/internal/render"
	"github.com/hitoshi/feedbackdesk/internal/security"
)

// テスト用の組織構成:
//
//	Mina(1, manager) ─┬─ Alice(2, employee)
//	                  └─ Bob(3, employee)
//	Ken(4, manager)   ─── Carol(5, employee)
//	Sato(6, manager)  （部下なし）
type fixture struct {
	svc      *Service
	store    *memoryStore
	notifier *recordingNotifier
	renderer *fakeRenderer
}

func int64Ptr(v int64) *int64 { return &v }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemoryStore()
	store.addUser(&model.User{ID: 1, Name: "Mina", Email: "mina@gmail.com", Role: model.RoleManager})
	store.addUser(&model.User{ID: 2, Name: "Alice", Email: "alice@gmail.com", Role: model.RoleEmployee, ManagerID: int64Ptr(1)})
	store.addUser(&model.User{ID: 3, Name: "Bob", Email: "bob@gmail.com", Role: model.RoleEmployee, ManagerID: int64Ptr(1)})
	store.addUser(&model.User{ID: 4, Name: "Ken", Email: "ken@gmail.com", Role: model.RoleManager})
	store.addUser(&model.User{ID: 5, Name: "Carol", Email: "carol@gmail.com", Role: model.RoleEmployee, ManagerID: int64Ptr(4)})
	store.addUser(&model.User{ID: 6, Name: "Sato", Email: "sato@gmail.com", Role: model.RoleManager})

	builder, err := render.NewBuilder(security.NewTextSanitizer(), nil)
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}

	notifier := &recordingNotifier{}
	renderer := &fakeRenderer{}
	svc := NewService(Deps{
		Users:    store,
		Feedback: feedbackRepo{store},
		Comments: commentRepo{store},
		Acks:     ackRepo{store},
		Notifier: notifier,
		Composer: notify.NewComposer("http://localhost:8080"),
		Builder:  builder,
		Renderer: renderer,
	})
	return &fixture{svc: svc, store: store, notifier: notifier, renderer: renderer}
}

func principal(id int64, role model.Role) model.Principal {
	return model.Principal{UserID: id, Role: role, SessionID: "test-session"}
}

var (
	mina  = principal(1, model.RoleManager)
	alice = principal(2, model.RoleEmployee)
	bob   = principal(3, model.RoleEmployee)
	ken   = principal(4, model.RoleManager)
	carol = principal(5, model.RoleEmployee)
	sato  = principal(6, model.RoleManager)
)

// seedFeedback はMinaからAliceへのフィードバックを作成する。
func (f *fixture) seedFeedback(t *testing.T) *model.Feedback {
	t.Helper()
	fb, err := f.svc.Create(context.Background(), mina, Input{
		EmployeeID:   int64Ptr(2),
		Strengths:    "レビューが丁寧",
		Improvements: "見積もりの精度",
		Sentiment:    model.SentimentPositive,
		Tags:         "review, estimation",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return fb
}

func assertCode(t *testing.T, err error, wantCode string) *model.APIError {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != wantCode {
		t.Errorf("Code = %q, want %q", apiErr.Code, wantCode)
	}
	return apiErr
}

// --- 閲覧 ---

func TestListForEmployee_DirectReport(t *testing.T) {
	f := newFixture(t)
	fb := f.seedFeedback(t)

	view, err := f.svc.ListForEmployee(context.Background(), mina, 2)
	if err != nil {
		t.Fatalf("ListForEmployee() error = %v", err)
	}
	if view.Employee.Name != "Alice" {
		t.Errorf("Employee.Name = %q, want %q", view.Employee.Name, "Alice")
	}
	if len(view.Threads) != 1 || view.Threads[0].Feedback.ID != fb.ID {
		t.Fatalf("threads = %+v, want feedback %d", view.Threads, fb.ID)
	}
	if view.Threads[0].Comments == nil {
		t.Error("Comments should be an empty slice, not nil")
	}
}

func TestListForEmployee_NonReportIsDenied(t *testing.T) {
	f := newFixture(t)
	f.seedFeedback(t)
	listsBefore := f.store.listCalls

	view, err := f.svc.ListForEmployee(context.Background(), ken, 2)

	if view != nil {
		t.Errorf("view = %+v, want nil", view)
	}
	apiErr := assertCode(t, err, model.ErrCodeNotAuthorized)
	if apiErr.Redirect != model.PathDashboard {
		t.Errorf("Redirect = %q, want %q", apiErr.Redirect, model.PathDashboard)
	}
	if f.store.listCalls != listsBefore {
		t.Error("feedback rows should not be read after a failed check")
	}
}

func TestListForEmployee_NotFoundLooksLikeDenied(t *testing.T) {
	f := newFixture(t)

	_, missingErr := f.svc.ListForEmployee(context.Background(), mina, 999)
	_, deniedErr := f.svc.ListForEmployee(context.Background(), mina, 5)

	a := assertCode(t, missingErr, model.ErrCodeNotAuthorized)
	b := assertCode(t, deniedErr, model.ErrCodeNotAuthorized)
	if *a != *b {
		t.Errorf("missing and denied errors differ: %+v vs %+v", a, b)
	}
}

func TestListForEmployee_EmployeeRoleIsDenied(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListForEmployee(context.Background(), alice, 3)
	assertCode(t, err, model.ErrCodeNotAuthorized)
}

func TestGuard_StaleRoleRequiresRelogin(t *testing.T) {
	f := newFixture(t)

	// セッション上はマネージャーだが、ユーザーストアでは従業員
	stale := principal(2, model.RoleManager)
	_, err := f.svc.ListForEmployee(context.Background(), stale, 3)

	apiErr := assertCode(t, err, model.ErrCodeNotAuthorized)
	if apiErr.Redirect != model.PathLogin {
		t.Errorf("Redirect = %q, want %q", apiErr.Redirect, model.PathLogin)
	}
}

func TestGuard_DeletedActorIsUnauthenticated(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.DirectReports(context.Background(), principal(99, model.RoleManager))
	assertCode(t, err, model.ErrCodeUnauthorized)
}

// --- 作成 ---

func TestCreate_VisibleToEmployee(t *testing.T) {
	f := newFixture(t)

	fb, err := f.svc.Create(context.Background(), mina, Input{
		EmployeeID: int64Ptr(2),
		Strengths:  "  リリース対応  ",
		Sentiment:  " Positive ",
		Tags:       " release, ,Release,oncall ",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if fb.Strengths != "リリース対応" || fb.Tags != "release,oncall" || fb.Sentiment != model.SentimentPositive {
		t.Errorf("feedback = %+v, want normalized input", fb)
	}

	threads, err := f.svc.EmployeeFeedback(context.Background(), alice)
	if err != nil {
		t.Fatalf("EmployeeFeedback() error = %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("threads = %d, want 1", len(threads))
	}
	got := threads[0].Feedback
	if got.ID != fb.ID || got.Sentiment != model.SentimentPositive || got.ManagerName != "Mina" {
		t.Errorf("employee sees %+v, want feedback %d from Mina (positive)", got, fb.ID)
	}

	if kinds := f.notifier.kinds(); len(kinds) != 1 || kinds[0] != model.NotificationFeedbackCreated {
		t.Errorf("notifications = %v, want [feedback_created]", kinds)
	}
	if f.notifier.sent[0].Recipient != "alice@gmail.com" {
		t.Errorf("recipient = %q, want alice@gmail.com", f.notifier.sent[0].Recipient)
	}
}

func TestCreate_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		actor    model.Principal
		input    Input
		wantCode string
	}{
		{
			name:     "部下ではない従業員",
			actor:    mina,
			input:    Input{EmployeeID: int64Ptr(5), Strengths: "x", Sentiment: model.SentimentNeutral},
			wantCode: model.ErrCodeInvalidEmployee,
		},
		{
			name:     "存在しない従業員",
			actor:    mina,
			input:    Input{EmployeeID: int64Ptr(999), Strengths: "x", Sentiment: model.SentimentNeutral},
			wantCode: model.ErrCodeInvalidEmployee,
		},
		{
			name:     "マネージャーを指定",
			actor:    mina,
			input:    Input{EmployeeID: int64Ptr(4), Strengths: "x", Sentiment: model.SentimentNeutral},
			wantCode: model.ErrCodeInvalidEmployee,
		},
		{
			name:     "部下がいない",
			actor:    sato,
			input:    Input{EmployeeID: int64Ptr(2), Strengths: "x", Sentiment: model.SentimentNeutral},
			wantCode: model.ErrCodeNoDirectReports,
		},
		{
			name:     "従業員が未選択",
			actor:    mina,
			input:    Input{Strengths: "x", Sentiment: model.SentimentNeutral},
			wantCode: model.ErrCodeNoDirectReports,
		},
		{
			name:     "従業員ロール",
			actor:    alice,
			input:    Input{EmployeeID: int64Ptr(3), Strengths: "x", Sentiment: model.SentimentNeutral},
			wantCode: model.ErrCodeNotAuthorized,
		},
		{
			name:     "不正な評価",
			actor:    mina,
			input:    Input{EmployeeID: int64Ptr(2), Strengths: "x", Sentiment: "great"},
			wantCode: model.ErrCodeValidation,
		},
		{
			name:     "本文が空",
			actor:    mina,
			input:    Input{EmployeeID: int64Ptr(2), Strengths: " ", Sentiment: model.SentimentNeutral},
			wantCode: model.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			fb, err := f.svc.Create(context.Background(), tt.actor, tt.input)
			if fb != nil {
				t.Errorf("feedback = %+v, want nil", fb)
			}
			assertCode(t, err, tt.wantCode)
			if f.store.feedbackCreates != 0 {
				t.Errorf("feedback inserts = %d, want 0", f.store.feedbackCreates)
			}
			if len(f.notifier.kinds()) != 0 {
				t.Errorf("notifications = %v, want none", f.notifier.kinds())
			}
		})
	}
}

// --- 更新 ---

func TestUpdate_ByOwner(t *testing.T) {
	f := newFixture(t)
	fb := f.seedFeedback(t)

	updated, err := f.svc.Update(context.Background(), mina, fb.ID, Input{
		Strengths: "設計レビュー",
		Sentiment: model.SentimentNeutral,
		Tags:      "design",
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.UpdatedAt == nil {
		t.Fatal("UpdatedAt should be set")
	}
	if !updated.DisplayTime().Equal(*updated.UpdatedAt) {
		t.Errorf("DisplayTime() = %v, want UpdatedAt %v", updated.DisplayTime(), *updated.UpdatedAt)
	}

	kinds := f.notifier.kinds()
	if kinds[len(kinds)-1] != model.NotificationFeedbackUpdated {
		t.Errorf("last notification = %q, want feedback_updated", kinds[len(kinds)-1])
	}
}

func TestUpdate_OtherManagerIsDenied(t *testing.T) {
	f := newFixture(t)
	fb := f.seedFeedback(t)

	_, err := f.svc.GetForEdit(context.Background(), ken, fb.ID)
	assertCode(t, err, model.ErrCodeNotAuthorized)

	_, err = f.svc.Update(context.Background(), ken, fb.ID, Input{Strengths: "x", Sentiment: model.SentimentNegative})
	assertCode(t, err, model.ErrCodeNotAuthorized)

	stored, _ := feedbackRepo{f.store}.FindByID(context.Background(), fb.ID)
	if stored.Sentiment != model.SentimentPositive || stored.UpdatedAt != nil {
		t.Errorf("feedback should be unchanged: %+v", stored)
	}
}

func TestUpdate_OwnerChangedBeforeWrite(t *testing.T) {
	f := newFixture(t)
	fb := f.seedFeedback(t)
	f.store.updateOwnerOverride = int64Ptr(4)

	_, err := f.svc.Update(context.Background(), mina, fb.ID, Input{Strengths: "x", Sentiment: model.SentimentNeutral})
	assertCode(t, err, model.ErrCodeNotAuthorized)
}

func TestGetForEdit_Owner(t *testing.T) {
	f := newFixture(t)
	fb := f.seedFeedback(t)

	got, err := f.svc.GetForEdit(context.Background(), mina, fb.ID)
	if err != nil {
		t.Fatalf("GetForEdit() error = %v", err)
	}
	if got.ID != fb.ID || got.ManagerName != "Mina" {
		t.Errorf("GetForEdit() = %+v", got)
	}
}

// --- 確認 ---

func TestAcknowledge_Idempotent(t *testing.T) {
	f := newFixture(t)
	fb := f.seedFeedback(t)
	ctx := context.Background()

	first, err := f.svc.Acknowledge(ctx, alice, fb.ID)
	if err != nil {
		t.Fatalf("first Acknowledge() error = %v", err)
	}
	second, err := f.svc.Acknowledge(ctx, alice, fb.ID)
	if err != nil {
		t.Fatalf("second Acknowledge() error = %v", err)
	}

	if !first || second {
		t.Errorf("created = (%v, %v), want (true, false)", first, second)
	}
	if n := f.store.ackCount(fb.ID, 2); n != 1 {
		t.Errorf("acknowledgement rows = %d, want 1", n)
	}

	var acks int
	for _, k := range f.notifier.kinds() {
		if k == model.NotificationAcknowledged {
			acks++
		}
	}
	if acks != 1 {
		t.Errorf("acknowledged notifications = %d, want 1", acks)
	}

	threads, err := f.svc.EmployeeFeedback(ctx, alice)
	if err != nil {
		t.Fatalf("EmployeeFeedback() error = %v", err)
	}
	if threads[0].AcknowledgedAt == nil {
		t.Error("AcknowledgedAt should be set")
	}
}

func TestAcknowledge_Denied(t *testing.T) {
	tests := []struct {
		name  string
		actor model.Principal
	}{
		{name: "別の従業員", actor: bob},
		{name: "他チームの従業員", actor: carol},
		{name: "マネージャー", actor: mina},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			fb := f.seedFeedback(t)

			_, err := f.svc.Acknowledge(context.Background(), tt.actor, fb.ID)
			assertCode(t, err, model.ErrCodeNotAuthorized)
			if n := f.store.ackCount(fb.ID, tt.actor.UserID); n != 0 {
				t.Errorf("acknowledgement rows = %d, want 0", n)
			}
		})
	}
}

func TestAcknowledge_StoreErrorIsWrapped(t *testing.T) {
	f := newFixture(t)
	fb := f.seedFeedback(t)
	dbErr := errors.New("connection reset")
	f.store.failAcks = dbErr

	_, err := f.svc.Acknowledge(context.Background(), alice, fb.ID)
	if !errors.Is(err, dbErr) {
		t.Errorf("error = %v, want wrapped %v", err, dbErr)
	}
}

// --- コメント ---

func TestAddComment_NotifiesOtherParty(t *testing.T) {
	f := newFixture(t)
	fb := f.seedFeedback(t)
	ctx := context.Background()

	res, err := f.svc.AddComment(ctx, alice, fb.ID, " ありがとうございます ", "/dashboard#feedback")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if res.Comment.Text != "ありがとうございます" || res.Comment.UserName != "Alice" {
		t.Errorf("comment = %+v", res.Comment)
	}
	if res.Redirect != "/dashboard#feedback" {
		t.Errorf("Redirect = %q, want %q", res.Redirect, "/dashboard#feedback")
	}
	last := f.notifier.sent[len(f.notifier.sent)-1]
	if last.Kind != model.NotificationComment || last.Recipient != "mina@gmail.com" {
		t.Errorf("notification = %+v, want comment to mina", last)
	}

	res, err = f.svc.AddComment(ctx, mina, fb.ID, "引き続きよろしく", "")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if res.Redirect != "/employees/2/feedback" {
		t.Errorf("Redirect = %q, want %q", res.Redirect, "/employees/2/feedback")
	}
	last = f.notifier.sent[len(f.notifier.sent)-1]
	if last.Recipient != "alice@gmail.com" || !strings.Contains(last.Subject, "マネージャー") {
		t.Errorf("notification = %+v, want comment from manager to alice", last)
	}

	threads, err := f.svc.EmployeeFeedback(ctx, alice)
	if err != nil {
		t.Fatalf("EmployeeFeedback() error = %v", err)
	}
	if len(threads[0].Comments) != 2 {
		t.Errorf("comments = %d, want 2", len(threads[0].Comments))
	}
}

func TestAddComment_EmptyTextRedirectsByRole(t *testing.T) {
	tests := []struct {
		name         string
		actor        model.Principal
		next         string
		wantRedirect string
	}{
		{name: "マネージャー", actor: mina, wantRedirect: "/employees/2/feedback"},
		{name: "従業員（next指定）", actor: alice, next: "/dashboard#f", wantRedirect: "/dashboard#f"},
		{name: "従業員（外部URL）", actor: alice, next: "https://evil.example", wantRedirect: model.PathDashboard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			fb := f.seedFeedback(t)

			_, err := f.svc.AddComment(context.Background(), tt.actor, fb.ID, "   ", tt.next)
			apiErr := assertCode(t, err, model.ErrCodeValidation)
			if apiErr.Redirect != tt.wantRedirect {
				t.Errorf("Redirect = %q, want %q", apiErr.Redirect, tt.wantRedirect)
			}
			if len(f.store.comments) != 0 {
				t.Errorf("comments = %d, want 0", len(f.store.comments))
			}
		})
	}
}

func TestAddComment_OutsiderIsDenied(t *testing.T) {
	f := newFixture(t)
	fb := f.seedFeedback(t)

	for _, actor := range []model.Principal{bob, ken, carol} {
		_, err := f.svc.AddComment(context.Background(), actor, fb.ID, "こんにちは", "")
		assertCode(t, err, model.ErrCodeNotAuthorized)
	}
	if len(f.store.comments) != 0 {
		t.Errorf("comments = %d, want 0", len(f.store.comments))
	}
}

// --- ダッシュボード ---

func TestManagerDashboard(t *testing.T) {
	f := newFixture(t)
	f.seedFeedback(t)
	if _, err := f.svc.Create(context.Background(), mina, Input{
		EmployeeID: int64Ptr(3), Improvements: "報告の頻度", Sentiment: model.SentimentNegative,
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dash, err := f.svc.ManagerDashboard(context.Background(), mina)
	if err != nil {
		t.Fatalf("ManagerDashboard() error = %v", err)
	}
	if dash.TotalFeedback != 2 {
		t.Errorf("TotalFeedback = %d, want 2", dash.TotalFeedback)
	}
	want := model.SentimentCounts{Positive: 1, Negative: 1}
	if dash.Sentiments != want {
		t.Errorf("Sentiments = %+v, want %+v", dash.Sentiments, want)
	}
	if len(dash.Reports) != 2 {
		t.Fatalf("Reports = %d, want 2", len(dash.Reports))
	}
	for _, r := range dash.Reports {
		if r.FeedbackCount != 1 || r.LastFeedbackDate == nil {
			t.Errorf("report %+v, want 1 feedback with date", r)
		}
	}
}

func TestEmployeeFeedback_ManagerRoleIsDenied(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.EmployeeFeedback(context.Background(), mina)
	assertCode(t, err, model.ErrCodeNotAuthorized)
}

// --- エクスポート ---

func TestExport_Participants(t *testing.T) {
	f := newFixture(t)
	fb := f.seedFeedback(t)
	if _, err := f.svc.AddComment(context.Background(), alice, fb.ID, "確認しました", ""); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}

	for _, actor := range []model.Principal{mina, alice} {
		export, err := f.svc.Export(context.Background(), actor, fb.ID)
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		if export.Filename != "feedback_"+strconv.FormatInt(fb.ID, 10)+".pdf" {
			t.Errorf("Filename = %q", export.Filename)
		}
		if string(export.Content) != "%PDF-fake" {
			t.Errorf("Content = %q", export.Content)
		}
	}

	html := string(f.renderer.html)
	for _, want := range []string{"Mina", "Alice", "レビューが丁寧", "確認しました", "review"} {
		if !strings.Contains(html, want) {
			t.Errorf("document should contain %q", want)
		}
	}
}

func TestExport_OutsiderIsDenied(t *testing.T) {
	f := newFixture(t)
	fb := f.seedFeedback(t)

	for _, actor := range []model.Principal{bob, ken, carol} {
		_, err := f.svc.Export(context.Background(), actor, fb.ID)
		assertCode(t, err, model.ErrCodeNotAuthorized)
	}
	if f.renderer.html != nil {
		t.Error("renderer should not be called for unauthorized export")
	}
}

func TestExport_RendererFailure(t *testing.T) {
	f := newFixture(t)
	fb := f.seedFeedback(t)
	f.renderer.err = errors.New("renderer unavailable")

	_, err := f.svc.Export(context.Background(), mina, fb.ID)
	assertCode(t, err, model.ErrCodeExportFailed)
}
