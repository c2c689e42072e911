package feedback

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/feedbackdesk/internal/model"
	"github.com/hitoshi/feedbackdesk/internal/render"
	"github.com/hitoshi/feedbackdesk/internal/repository"
)

// memoryStore はユーザー、フィードバック、コメント、確認記録をメモリ上に保持するテスト用ストア。
// 4つのリポジトリインターフェースを1つの構造体で実装する。
type memoryStore struct {
	mu sync.Mutex

	users    map[int64]*model.User
	feedback map[int64]*model.Feedback
	comments []model.Comment
	acks     map[[2]int64]time.Time

	nextID int64
	now    time.Time

	// 呼び出し回数の記録
	feedbackCreates int
	listCalls       int

	// updateOwnerOverride が設定されている場合、Updateはmanager_idをこの値と比較する
	updateOwnerOverride *int64
	failAcks            error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:    make(map[int64]*model.User),
		feedback: make(map[int64]*model.Feedback),
		acks:     make(map[[2]int64]time.Time),
		nextID:   100,
		now:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (s *memoryStore) tick() time.Time {
	s.now = s.now.Add(time.Minute)
	return s.now
}

func (s *memoryStore) addUser(u *model.User) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return u
}

// --- UserRepository ---

func (s *memoryStore) FindByID(_ context.Context, id int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *memoryStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) Create(_ context.Context, _ *model.User) error {
	return errors.New("not implemented")
}

func (s *memoryStore) ListManagers(_ context.Context) ([]*model.User, error) {
	return nil, nil
}

func (s *memoryStore) ListDirectReports(_ context.Context, managerID int64) ([]model.DirectReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reports := []model.DirectReport{}
	for _, u := range s.users {
		if !u.IsManagedBy(managerID) {
			continue
		}
		r := model.DirectReport{ID: u.ID, Name: u.Name}
		for _, fb := range s.feedback {
			if fb.ManagerID == managerID && fb.EmployeeID == u.ID {
				r.FeedbackCount++
				at := fb.CreatedAt
				if r.LastFeedbackDate == nil || at.After(*r.LastFeedbackDate) {
					r.LastFeedbackDate = &at
				}
			}
		}
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Name < reports[j].Name })
	return reports, nil
}

func (s *memoryStore) CountDirectReports(_ context.Context, managerID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.users {
		if u.IsManagedBy(managerID) {
			n++
		}
	}
	return n, nil
}

// feedbackRepo はFeedbackRepositoryとしてmemoryStoreを公開する。
// UserRepositoryとメソッド名が衝突するため別の型にする。
type feedbackRepo struct{ *memoryStore }

func (r feedbackRepo) Create(_ context.Context, fb *model.Feedback) error {
	s := r.memoryStore
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedbackCreates++
	s.nextID++
	fb.ID = s.nextID
	fb.CreatedAt = s.tick()
	cp := *fb
	s.feedback[fb.ID] = &cp
	return nil
}

func (r feedbackRepo) FindByID(_ context.Context, id int64) (*model.Feedback, error) {
	s := r.memoryStore
	s.mu.Lock()
	defer s.mu.Unlock()
	fb, ok := s.feedback[id]
	if !ok {
		return nil, nil
	}
	return s.withManagerName(fb), nil
}

func (r feedbackRepo) Update(_ context.Context, fb *model.Feedback) (bool, error) {
	s := r.memoryStore
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.feedback[fb.ID]
	if !ok {
		return false, nil
	}
	owner := stored.ManagerID
	if s.updateOwnerOverride != nil {
		owner = *s.updateOwnerOverride
	}
	if owner != fb.ManagerID {
		return false, nil
	}
	at := s.tick()
	stored.Strengths = fb.Strengths
	stored.Improvements = fb.Improvements
	stored.Sentiment = fb.Sentiment
	stored.Tags = fb.Tags
	stored.UpdatedAt = &at
	fb.UpdatedAt = &at
	return true, nil
}

func (r feedbackRepo) ListByEmployee(_ context.Context, employeeID int64) ([]*model.Feedback, error) {
	return r.list(func(fb *model.Feedback) bool { return fb.EmployeeID == employeeID }), nil
}

func (r feedbackRepo) ListByManagerAndEmployee(_ context.Context, managerID, employeeID int64) ([]*model.Feedback, error) {
	return r.list(func(fb *model.Feedback) bool {
		return fb.ManagerID == managerID && fb.EmployeeID == employeeID
	}), nil
}

func (r feedbackRepo) CountSentimentsByManager(_ context.Context, managerID int64) (model.SentimentCounts, error) {
	s := r.memoryStore
	s.mu.Lock()
	defer s.mu.Unlock()
	var c model.SentimentCounts
	for _, fb := range s.feedback {
		if fb.ManagerID != managerID {
			continue
		}
		switch fb.Sentiment {
		case model.SentimentPositive:
			c.Positive++
		case model.SentimentNeutral:
			c.Neutral++
		case model.SentimentNegative:
			c.Negative++
		}
	}
	return c, nil
}

func (r feedbackRepo) list(match func(*model.Feedback) bool) []*model.Feedback {
	s := r.memoryStore
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	var out []*model.Feedback
	for _, fb := range s.feedback {
		if match(fb) {
			out = append(out, s.withManagerName(fb))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *memoryStore) withManagerName(fb *model.Feedback) *model.Feedback {
	cp := *fb
	if m, ok := s.users[fb.ManagerID]; ok {
		cp.ManagerName = m.Name
	}
	return &cp
}

// commentRepo はCommentRepositoryとしてmemoryStoreを公開する。
type commentRepo struct{ *memoryStore }

func (r commentRepo) Create(_ context.Context, c *model.Comment) error {
	s := r.memoryStore
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c.ID = s.nextID
	c.CreatedAt = s.tick()
	s.comments = append(s.comments, *c)
	return nil
}

func (r commentRepo) ListByFeedbackIDs(_ context.Context, ids []int64) (map[int64][]model.Comment, error) {
	s := r.memoryStore
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[int64][]model.Comment)
	for _, c := range s.comments {
		if want[c.FeedbackID] {
			out[c.FeedbackID] = append(out[c.FeedbackID], c)
		}
	}
	return out, nil
}

// ackRepo はAcknowledgementRepositoryとしてmemoryStoreを公開する。
type ackRepo struct{ *memoryStore }

func (r ackRepo) Create(_ context.Context, feedbackID, employeeID int64) (bool, error) {
	s := r.memoryStore
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAcks != nil {
		return false, s.failAcks
	}
	key := [2]int64{feedbackID, employeeID}
	if _, ok := s.acks[key]; ok {
		return false, nil
	}
	s.acks[key] = s.tick()
	return true, nil
}

func (r ackRepo) ListByFeedbackIDs(_ context.Context, ids []int64) (map[int64]time.Time, error) {
	s := r.memoryStore
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]time.Time)
	for _, id := range ids {
		for key, at := range s.acks {
			if key[0] == id {
				out[id] = at
			}
		}
	}
	return out, nil
}

func (s *memoryStore) ackCount(feedbackID, employeeID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.acks[[2]int64{feedbackID, employeeID}]; ok {
		return 1
	}
	return 0
}

// --- 通知・レンダラー ---

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*model.Notification
}

func (n *recordingNotifier) Enqueue(_ context.Context, msg *model.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) kinds() []model.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.NotificationKind, len(n.sent))
	for i, msg := range n.sent {
		out[i] = msg.Kind
	}
	return out
}

type fakeRenderer struct {
	html []byte
	err  error
}

func (r *fakeRenderer) Render(_ context.Context, html []byte, _ render.Options) ([]byte, error) {
	r.html = html
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-fake"), nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*memoryStore)(nil)
var _ repository.FeedbackRepository = feedbackRepo{}
var _ repository.CommentRepository = commentRepo{}
var _ repository.AcknowledgementRepository = ackRepo{}
var _ Renderer = (*fakeRenderer)(nil)
