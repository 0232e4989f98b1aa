package store

import "time"

type User struct {
	ID              string
	Email           string
	DisplayName     string
	PasswordHash    string
	Role            string
	IsEmailVerified bool
	DeactivatedAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Article struct {
	ID            string
	Slug          string
	Title         string
	Excerpt       string
	Body          string
	CoverImageKey string
	Category      string
	Status        string
	AuthorName    string
	PublishedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ArticleFilter struct {
	Status   string
	Category string
	Limit    int
	Offset   int
}

type JobApplication struct {
	ID            string
	FullName      string
	Email         string
	Phone         string
	Position      string
	CoverLetter   string
	CVObjectKey   string
	CVFileName    string
	CVContentType string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ApplicationFilter struct {
	Status   string
	Position string
	Limit    int
	Offset   int
}

// Complaint rows carry one nullable timestamp per escalation tier; a set
// timestamp means the tier has already fired (or been superseded).
type Complaint struct {
	ID              string
	Reference       string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	OrderReference  string
	Category        string
	Subject         string
	Message         string
	AttachmentKey   string
	Status          string
	AssignedTo      string
	EscalationLevel int
	ReminderSentAt  *time.Time
	Escalated3dAt   *time.Time
	Escalated6dAt   *time.Time
	ResolvedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ComplaintFilter struct {
	Status          string
	EscalationLevel *int
	Query           string
	Limit           int
	Offset          int
}

type ComplaintNote struct {
	ID          string
	ComplaintID string
	AuthorName  string
	Body        string
	// FromStatus and ToStatus are set on the notes a status change leaves.
	FromStatus string
	ToStatus   string
	CreatedAt  time.Time
}

type Submission struct {
	ID               string
	Title            string
	Description      string
	AmountCents      int64
	Currency         string
	Category         string
	AttachmentKeys   []string
	Status           string
	SubmittedBy      string
	SubmittedByName  string
	SubmittedByEmail string
	Revision         int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type SubmissionFilter struct {
	Status      string
	SubmittedBy string
	Limit       int
	Offset      int
}

type Decision struct {
	ID           int64
	SubmissionID string
	Stage        string
	Decision     string
	FromStatus   string
	ToStatus     string
	ActorID      string
	ActorName    string
	ActorRole    string
	Comment      string
	SignatureKey string
	DecidedAt    time.Time
}

// SubmissionChanges are the editable fields on resubmission; nil means keep.
type SubmissionChanges struct {
	Title          *string
	Description    *string
	AmountCents    *int64
	Currency       *string
	Category       *string
	AttachmentKeys []string
}
