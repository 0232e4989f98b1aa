// Package search indexes news articles, complaints, job applications and
// staff accounts. Meilisearch serves
// queries when it is reachable; Postgres full-text search covers the rest.
package search

import (
	"context"
	"slices"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultArticle     ResultType = "article"
	ResultComplaint   ResultType = "complaint"
	ResultApplication ResultType = "application"
	ResultUser        ResultType = "user"
)

// AllTypes lists every searchable entity type.
var AllTypes = []ResultType{ResultArticle, ResultComplaint, ResultApplication, ResultUser}

const (
	defaultLimit = 20
	maxLimit     = 50
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	// Key is the slug for articles, the reference for complaints, the
	// position for applications and the email for users.
	Key    string `json:"key"`
	Status string `json:"status"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	// Types limits results to the listed types. Empty means no limit.
	Types []ResultType
	// PublishedOnly restricts articles to published ones and drops every
	// other type. Public callers always set it.
	PublishedOnly bool
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexArticles(articles []ArticleRecord) error
	IndexComplaints(complaints []ComplaintRecord) error
	IndexApplications(applications []ApplicationRecord) error
	IndexUsers(users []UserRecord) error
	DeleteArticle(id string) error
	DeleteApplication(id string) error
}

// ArticleRecord is the data we index for a news article.
type ArticleRecord struct {
	ID       string `json:"id"`
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Excerpt  string `json:"excerpt"`
	Body     string `json:"body"`
	Category string `json:"category"`
	Status   string `json:"status"`
	// PublishedAt is a unix timestamp so Meilisearch can sort on it.
	PublishedAt int64 `json:"publishedAt"`
}

// ComplaintRecord is the data we index for a complaint.
type ComplaintRecord struct {
	ID           string `json:"id"`
	Reference    string `json:"reference"`
	CustomerName string `json:"customerName"`
	Subject      string `json:"subject"`
	Message      string `json:"message"`
	Category     string `json:"category"`
	Status       string `json:"status"`
}

// ApplicationRecord is the data we index for a job application.
type ApplicationRecord struct {
	ID          string `json:"id"`
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	Position    string `json:"position"`
	CoverLetter string `json:"coverLetter"`
	Status      string `json:"status"`
}

// UserRecord is the data we index for a staff account. Status is "active"
// or "deactivated".
type UserRecord struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Status      string `json:"status"`
}

// UserStatus reports the indexed status for an account.
func UserStatus(deactivated bool) string {
	if deactivated {
		return "deactivated"
	}
	return "active"
}

func (q Query) wants(t ResultType) bool {
	if q.PublishedOnly && t != ResultArticle {
		return false
	}
	if len(q.Types) > 0 && !slices.Contains(q.Types, t) {
		return false
	}
	return q.FilterType == "" || q.FilterType == t
}

// limit caps the page size so callers cannot ask for an unbounded page.
func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return defaultLimit
	case q.Limit > maxLimit:
		return maxLimit
	default:
		return q.Limit
	}
}
