package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"backoffice/api/internal/authpw"
	"backoffice/api/internal/blob"
	"backoffice/api/internal/config"
	"backoffice/api/internal/email"
	"backoffice/api/internal/escalation"
	"backoffice/api/internal/export"
	"backoffice/api/internal/metrics"
	"backoffice/api/internal/rbac"
	"backoffice/api/internal/revisions"
	"backoffice/api/internal/search"
	"backoffice/api/internal/store"
	"backoffice/api/internal/tracing"
)

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error
	ListUsers(context.Context) ([]store.User, error)
	UpdateUserRole(context.Context, string, string) error
	DeactivateUser(context.Context, string) error
	UpdateUserPassword(context.Context, string, string) error
	CreatePasswordReset(context.Context, string, string, time.Time) error
	GetPasswordReset(context.Context, string) (string, error)
	MarkPasswordResetUsed(context.Context, string) error

	InsertArticle(context.Context, store.Article) (store.Article, error)
	UpdateArticle(context.Context, store.Article) (store.Article, error)
	GetArticle(context.Context, string) (store.Article, error)
	GetArticleBySlug(context.Context, string) (store.Article, error)
	SlugExists(context.Context, string, string) (bool, error)
	DeleteArticle(context.Context, string) error
	ListArticles(context.Context, store.ArticleFilter) ([]store.Article, int, error)
	ListArticleCategories(context.Context) ([]string, error)

	InsertApplication(context.Context, store.JobApplication) (store.JobApplication, error)
	GetApplication(context.Context, string) (store.JobApplication, error)
	UpdateApplicationStatus(context.Context, string, string) (store.JobApplication, error)
	DeleteApplication(context.Context, string) (store.JobApplication, error)
	ListApplications(context.Context, store.ApplicationFilter) ([]store.JobApplication, int, error)

	InsertComplaint(context.Context, store.Complaint) (store.Complaint, error)
	GetComplaint(context.Context, string) (store.Complaint, error)
	ListComplaints(context.Context, store.ComplaintFilter) ([]store.Complaint, int, error)
	TransitionComplaint(context.Context, string, string, string) (store.Complaint, error)
	AssignComplaint(context.Context, string, string) (store.Complaint, error)
	InsertComplaintNote(context.Context, store.ComplaintNote) (store.ComplaintNote, error)
	ListComplaintNotes(context.Context, string) ([]store.ComplaintNote, error)

	InsertSubmission(context.Context, store.Submission, store.Decision) (store.Submission, error)
	GetSubmission(context.Context, string) (store.Submission, error)
	ListSubmissions(context.Context, store.SubmissionFilter) ([]store.Submission, int, error)
	RecordDecision(context.Context, store.Decision, *store.SubmissionChanges) (store.Submission, error)
	ListDecisions(context.Context, string) ([]store.Decision, error)
	PendingCounts(context.Context) (map[string]int, error)
}

// sessionStore keeps refresh sessions and revoked access tokens. Postgres
// and Redis both implement it.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type userSessionSaver interface {
	SaveUserSession(context.Context, string, store.User, time.Time) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type mailer interface {
	Send(ctx context.Context, msg email.Message) error
	IsConfigured() bool
}

// BlobStore holds uploaded files. MinIO in production, memory in tests and
// local runs without object storage.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	PresignedURL(ctx context.Context, key, name string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

type revisionLog interface {
	Commit(articleID string, snapshot revisions.Snapshot, author, message string) (revisions.Revision, bool, error)
	History(articleID string, limit int) ([]revisions.Revision, error)
	Get(articleID, hash string) (revisions.Snapshot, revisions.Revision, error)
	Remove(articleID string) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexArticle(record search.ArticleRecord)
	DeleteArticle(id string)
	IndexComplaint(record search.ComplaintRecord)
	IndexApplication(record search.ApplicationRecord)
	DeleteApplication(id string)
	IndexUser(record search.UserRecord)
}

type approvalExporter interface {
	ApprovalPDF(ctx context.Context, submissionID string) (*export.Result, error)
}

type escalationRunner interface {
	Run(ctx context.Context, trigger string) (escalation.RunReport, error)
	Preview(ctx context.Context) ([]escalation.Action, int, error)
}

// Deps are the collaborators built by cmd/api. Sessions, Search, Exporter
// and Escalation may be nil.
type Deps struct {
	Store      *store.PostgresStore
	Sessions   sessionStore
	Auth       *authpw.Service
	Email      *email.Service
	Blobs      BlobStore
	Revisions  *revisions.Service
	Search     *search.Service
	Exporter   *export.Service
	Escalation *escalation.Runner
	Metrics    *metrics.Metrics
	Tracer     *tracing.Provider
	Logger     *zap.Logger
}

type Service struct {
	cfg        config.Config
	store      dataStore
	sessions   sessionStore
	auth       *authpw.Service
	mail       mailer
	blobs      BlobStore
	revisions  revisionLog
	search     searchIndex
	exporter   approvalExporter
	escalation escalationRunner
	metrics    *metrics.Metrics
	tracer     *tracing.Provider
	logger     *zap.Logger
	now        func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Store,
		auth:     deps.Auth,
		blobs:    deps.Blobs,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		logger:   logger.Named("app"),
		now:      time.Now,
	}
	if deps.Email != nil {
		s.mail = deps.Email
	}
	if deps.Sessions != nil {
		s.sessions = deps.Sessions
	}
	if s.auth == nil {
		s.auth = authpw.NewService(deps.Store, logger)
	}
	if deps.Revisions != nil {
		s.revisions = deps.Revisions
	}
	if deps.Search != nil {
		s.search = deps.Search
	} else {
		s.search = search.NewService(nil, nil, logger)
	}
	if deps.Exporter != nil {
		s.exporter = deps.Exporter
	}
	if deps.Escalation != nil {
		s.escalation = deps.Escalation
	}
	return s
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) require(session Session, action rbac.Action) error {
	if !s.Can(session.Role, action) {
		return forbidden()
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Ready checks every backing service. Redis and object storage are only
// checked when configured.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{}
	check := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			return
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	check("database", s.store.Ping)
	if s.sessions != nil && !sameStore(s.sessions, s.store) {
		if p, ok := s.sessions.(pinger); ok {
			check("redis", p.Ping)
		}
	}
	if s.blobs != nil {
		check("storage", s.blobs.Ping)
	}
	return ready, checks
}

func sameStore(a sessionStore, b dataStore) bool {
	other, ok := b.(sessionStore)
	return ok && other == a
}

// link builds an admin console URL.
// localFiles reports whether uploads live in process memory. The API then
// serves them itself under /files.
func (s *Service) localFiles() bool {
	_, ok := s.blobs.(*blob.MemoryStore)
	return ok && s.cfg.Env != "production"
}

func (s *Service) link(parts ...string) string {
	out := s.cfg.AdminBaseURL
	for _, part := range parts {
		out += "/" + part
	}
	return out
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}
