package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"backoffice/api/internal/authpw"
	"backoffice/api/internal/blob"
	"backoffice/api/internal/config"
	"backoffice/api/internal/email"
	"backoffice/api/internal/escalation"
	"backoffice/api/internal/search"
	"backoffice/api/internal/store"
)

// fakeStore keeps users and sessions in memory so real tokens can be issued
// and checked. Everything else goes through the function fields.
type fakeStore struct {
	mu      sync.Mutex
	users   map[string]store.User
	refresh map[string]string
	revoked map[string]bool
	resets  map[string]string

	pingFn func(context.Context) error

	insertArticleFn   func(context.Context, store.Article) (store.Article, error)
	updateArticleFn   func(context.Context, store.Article) (store.Article, error)
	getArticleFn      func(context.Context, string) (store.Article, error)
	getArticleSlugFn  func(context.Context, string) (store.Article, error)
	slugExistsFn      func(context.Context, string, string) (bool, error)
	deleteArticleFn   func(context.Context, string) error
	listArticlesFn    func(context.Context, store.ArticleFilter) ([]store.Article, int, error)
	listCategoriesFn  func(context.Context) ([]string, error)
	insertAppFn       func(context.Context, store.JobApplication) (store.JobApplication, error)
	getAppFn          func(context.Context, string) (store.JobApplication, error)
	updateAppStatusFn func(context.Context, string, string) (store.JobApplication, error)
	deleteAppFn       func(context.Context, string) (store.JobApplication, error)
	listAppsFn        func(context.Context, store.ApplicationFilter) ([]store.JobApplication, int, error)
	insertComplaintFn func(context.Context, store.Complaint) (store.Complaint, error)
	getComplaintFn    func(context.Context, string) (store.Complaint, error)
	listComplaintsFn  func(context.Context, store.ComplaintFilter) ([]store.Complaint, int, error)
	transitionFn      func(context.Context, string, string, string) (store.Complaint, error)
	assignFn          func(context.Context, string, string) (store.Complaint, error)
	insertNoteFn      func(context.Context, store.ComplaintNote) (store.ComplaintNote, error)
	listNotesFn       func(context.Context, string) ([]store.ComplaintNote, error)
	insertSubFn       func(context.Context, store.Submission, store.Decision) (store.Submission, error)
	getSubFn          func(context.Context, string) (store.Submission, error)
	listSubsFn        func(context.Context, store.SubmissionFilter) ([]store.Submission, int, error)
	recordDecisionFn  func(context.Context, store.Decision, *store.SubmissionChanges) (store.Submission, error)
	listDecisionsFn   func(context.Context, string) ([]store.Decision, error)
	pendingCountsFn   func(context.Context) (map[string]int, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]store.User),
		refresh: make(map[string]string),
		revoked: make(map[string]bool),
		resets:  make(map[string]string),
	}
}

func (f *fakeStore) addUser(user store.User) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.DisplayName == "" {
		user.DisplayName = user.ID
	}
	if user.Email == "" {
		user.Email = user.ID + "@example.com"
	}
	f.users[user.ID] = user
	return user
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, address string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == address {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return store.ErrConflict
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) ListUsers(context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.User, 0, len(f.users))
	for _, user := range f.users {
		out = append(out, user)
	}
	return out, nil
}

func (f *fakeStore) UpdateUserRole(_ context.Context, id, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.Role = role
	f.users[id] = user
	return nil
}

func (f *fakeStore) DeactivateUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	user.DeactivatedAt = &now
	f.users[id] = user
	return nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok || user.DeactivatedAt != nil {
		return store.ErrNotFound
	}
	user.PasswordHash = hash
	f.users[id] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", store.ErrNotFound
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, hash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[hash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, hash string) (store.User, error) {
	f.mu.Lock()
	userID, ok := f.refresh[hash]
	f.mu.Unlock()
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return f.GetUserByID(ctx, userID)
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, hash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) InsertArticle(ctx context.Context, item store.Article) (store.Article, error) {
	if f.insertArticleFn != nil {
		return f.insertArticleFn(ctx, item)
	}
	return item, nil
}

func (f *fakeStore) UpdateArticle(ctx context.Context, item store.Article) (store.Article, error) {
	if f.updateArticleFn != nil {
		return f.updateArticleFn(ctx, item)
	}
	return item, nil
}

func (f *fakeStore) GetArticle(ctx context.Context, id string) (store.Article, error) {
	if f.getArticleFn != nil {
		return f.getArticleFn(ctx, id)
	}
	return store.Article{}, store.ErrNotFound
}

func (f *fakeStore) GetArticleBySlug(ctx context.Context, slug string) (store.Article, error) {
	if f.getArticleSlugFn != nil {
		return f.getArticleSlugFn(ctx, slug)
	}
	return store.Article{}, store.ErrNotFound
}

func (f *fakeStore) SlugExists(ctx context.Context, slug, excludeID string) (bool, error) {
	if f.slugExistsFn != nil {
		return f.slugExistsFn(ctx, slug, excludeID)
	}
	return false, nil
}

func (f *fakeStore) DeleteArticle(ctx context.Context, id string) error {
	if f.deleteArticleFn != nil {
		return f.deleteArticleFn(ctx, id)
	}
	return nil
}

func (f *fakeStore) ListArticles(ctx context.Context, filter store.ArticleFilter) ([]store.Article, int, error) {
	if f.listArticlesFn != nil {
		return f.listArticlesFn(ctx, filter)
	}
	return nil, 0, nil
}

func (f *fakeStore) ListArticleCategories(ctx context.Context) ([]string, error) {
	if f.listCategoriesFn != nil {
		return f.listCategoriesFn(ctx)
	}
	return []string{}, nil
}

func (f *fakeStore) InsertApplication(ctx context.Context, item store.JobApplication) (store.JobApplication, error) {
	if f.insertAppFn != nil {
		return f.insertAppFn(ctx, item)
	}
	item.Status = "new"
	return item, nil
}

func (f *fakeStore) GetApplication(ctx context.Context, id string) (store.JobApplication, error) {
	if f.getAppFn != nil {
		return f.getAppFn(ctx, id)
	}
	return store.JobApplication{}, store.ErrNotFound
}

func (f *fakeStore) UpdateApplicationStatus(ctx context.Context, id, status string) (store.JobApplication, error) {
	if f.updateAppStatusFn != nil {
		return f.updateAppStatusFn(ctx, id, status)
	}
	return store.JobApplication{ID: id, Status: status}, nil
}

func (f *fakeStore) DeleteApplication(ctx context.Context, id string) (store.JobApplication, error) {
	if f.deleteAppFn != nil {
		return f.deleteAppFn(ctx, id)
	}
	return store.JobApplication{}, store.ErrNotFound
}

func (f *fakeStore) ListApplications(ctx context.Context, filter store.ApplicationFilter) ([]store.JobApplication, int, error) {
	if f.listAppsFn != nil {
		return f.listAppsFn(ctx, filter)
	}
	return nil, 0, nil
}

func (f *fakeStore) InsertComplaint(ctx context.Context, item store.Complaint) (store.Complaint, error) {
	if f.insertComplaintFn != nil {
		return f.insertComplaintFn(ctx, item)
	}
	item.Status = ComplaintSent
	return item, nil
}

func (f *fakeStore) GetComplaint(ctx context.Context, id string) (store.Complaint, error) {
	if f.getComplaintFn != nil {
		return f.getComplaintFn(ctx, id)
	}
	return store.Complaint{}, store.ErrNotFound
}

func (f *fakeStore) ListComplaints(ctx context.Context, filter store.ComplaintFilter) ([]store.Complaint, int, error) {
	if f.listComplaintsFn != nil {
		return f.listComplaintsFn(ctx, filter)
	}
	return nil, 0, nil
}

func (f *fakeStore) TransitionComplaint(ctx context.Context, id, from, to string) (store.Complaint, error) {
	if f.transitionFn != nil {
		return f.transitionFn(ctx, id, from, to)
	}
	return store.Complaint{ID: id, Status: to}, nil
}

func (f *fakeStore) AssignComplaint(ctx context.Context, id, handler string) (store.Complaint, error) {
	if f.assignFn != nil {
		return f.assignFn(ctx, id, handler)
	}
	return store.Complaint{ID: id, AssignedTo: handler}, nil
}

func (f *fakeStore) InsertComplaintNote(ctx context.Context, note store.ComplaintNote) (store.ComplaintNote, error) {
	if f.insertNoteFn != nil {
		return f.insertNoteFn(ctx, note)
	}
	return note, nil
}

func (f *fakeStore) ListComplaintNotes(ctx context.Context, id string) ([]store.ComplaintNote, error) {
	if f.listNotesFn != nil {
		return f.listNotesFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeStore) InsertSubmission(ctx context.Context, item store.Submission, opening store.Decision) (store.Submission, error) {
	if f.insertSubFn != nil {
		return f.insertSubFn(ctx, item, opening)
	}
	item.Revision = 1
	return item, nil
}

func (f *fakeStore) GetSubmission(ctx context.Context, id string) (store.Submission, error) {
	if f.getSubFn != nil {
		return f.getSubFn(ctx, id)
	}
	return store.Submission{}, store.ErrNotFound
}

func (f *fakeStore) ListSubmissions(ctx context.Context, filter store.SubmissionFilter) ([]store.Submission, int, error) {
	if f.listSubsFn != nil {
		return f.listSubsFn(ctx, filter)
	}
	return nil, 0, nil
}

func (f *fakeStore) RecordDecision(ctx context.Context, decision store.Decision, changes *store.SubmissionChanges) (store.Submission, error) {
	if f.recordDecisionFn != nil {
		return f.recordDecisionFn(ctx, decision, changes)
	}
	return store.Submission{ID: decision.SubmissionID, Status: decision.ToStatus}, nil
}

func (f *fakeStore) ListDecisions(ctx context.Context, id string) ([]store.Decision, error) {
	if f.listDecisionsFn != nil {
		return f.listDecisionsFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeStore) PendingCounts(ctx context.Context) (map[string]int, error) {
	if f.pendingCountsFn != nil {
		return f.pendingCountsFn(ctx)
	}
	return map[string]int{}, nil
}

type recordingMailer struct {
	mu         sync.Mutex
	sent       []email.Message
	err        error
	configured bool
}

func (m *recordingMailer) Send(_ context.Context, msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(msg.To) == 0 {
		return email.ErrNoRecipients
	}
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *recordingMailer) IsConfigured() bool { return m.configured }

// byTemplate returns the messages sent with template.
func (m *recordingMailer) byTemplate(template string) []email.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []email.Message
	for _, msg := range m.sent {
		if msg.Template == template {
			out = append(out, msg)
		}
	}
	return out
}

type fakeRunner struct {
	runFn     func(context.Context, string) (escalation.RunReport, error)
	previewFn func(context.Context) ([]escalation.Action, int, error)
}

func (r *fakeRunner) Run(ctx context.Context, trigger string) (escalation.RunReport, error) {
	if r.runFn != nil {
		return r.runFn(ctx, trigger)
	}
	return escalation.RunReport{Trigger: trigger}, nil
}

func (r *fakeRunner) Preview(ctx context.Context) ([]escalation.Action, int, error) {
	if r.previewFn != nil {
		return r.previewFn(ctx)
	}
	return nil, 0, nil
}

func testConfig() config.Config {
	return config.Config{
		Env:          "test",
		JWTSecret:    "test-secret",
		AccessTTL:    time.Hour,
		RefreshTTL:   24 * time.Hour,
		AdminBaseURL: "https://admin.example.com",
		Storage:      config.StorageConfig{MaxUploadBytes: 1 << 20},
		Notifications: config.NotificationsConfig{
			Finance:        []string{"finance@example.com"},
			Cofounders:     []string{"cofounders@example.com"},
			Founders:       []string{"founders@example.com"},
			ComplaintsTeam: []string{"care@example.com"},
			Management:     []string{"management@example.com"},
			HR:             []string{"hr@example.com"},
		},
	}
}

func newTestService(fs *fakeStore) (*Service, *recordingMailer) {
	mail := &recordingMailer{}
	return &Service{
		cfg:      testConfig(),
		store:    fs,
		sessions: fs,
		auth:     authpw.NewService(fs, nil),
		mail:     mail,
		blobs:    blob.NewMemoryStore("https://files.example.com"),
		search:   search.NewService(nil, nil, nil),
		logger:   zap.NewNop(),
		now:      time.Now,
	}, mail
}

// tokenFor registers a user with role and returns a bearer token for them.
func tokenFor(t *testing.T, svc *Service, fs *fakeStore, id, role string) string {
	t.Helper()
	user := fs.addUser(store.User{ID: id, Role: role, DisplayName: id})
	session, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session.Token
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(hash)
}

// do sends a JSON request through the full router.
func do(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

// recordingSearch captures queries and index updates instead of talking to
// an engine.
type recordingSearch struct {
	mu           sync.Mutex
	queries      []search.Query
	applications []search.ApplicationRecord
	users        []search.UserRecord
	deleted      []string
}

func (r *recordingSearch) Search(_ context.Context, q search.Query) search.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
	return search.Response{Results: []search.Result{}, Query: q.Text, Engine: "none"}
}

func (r *recordingSearch) IndexArticle(search.ArticleRecord)     {}
func (r *recordingSearch) DeleteArticle(string)                  {}
func (r *recordingSearch) IndexComplaint(search.ComplaintRecord) {}

func (r *recordingSearch) IndexApplication(record search.ApplicationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applications = append(r.applications, record)
}

func (r *recordingSearch) DeleteApplication(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
}

func (r *recordingSearch) IndexUser(record search.UserRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, record)
}

func (r *recordingSearch) lastQuery() search.Query {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queries) == 0 {
		return search.Query{}
	}
	return r.queries[len(r.queries)-1]
}
