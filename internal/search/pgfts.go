package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const tsQuery = "websearch_to_tsquery('simple', $1)"

// Search runs a UNION ALL over the generated search_vector columns, ranked
// with ts_rank and snippeted with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	subQueries := buildSubQueries(q)
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, title, snippet, key, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, q.limit(), max(q.Offset, 0)), q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Key, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func buildSubQueries(q Query) []string {
	subQueries := make([]string, 0, len(AllTypes))
	if q.wants(ResultArticle) {
		where := "a.search_vector @@ " + tsQuery
		if q.PublishedOnly {
			where += " AND a.status = 'published'"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'article'::text AS type, a.id, a.title,
				ts_headline('simple', coalesce(a.excerpt, '') || ' ' || coalesce(a.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				a.slug AS key, a.status,
				ts_rank(a.search_vector, %s) AS rank
			FROM news_articles a
			WHERE %s`, tsQuery, tsQuery, where))
	}
	if q.wants(ResultComplaint) {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'complaint'::text AS type, c.id, coalesce(nullif(c.subject, ''), c.reference) AS title,
				ts_headline('simple', coalesce(c.message, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.reference AS key, c.status,
				ts_rank(c.search_vector, %s) AS rank
			FROM complaints c
			WHERE c.search_vector @@ %s`, tsQuery, tsQuery, tsQuery))
	}
	if q.wants(ResultApplication) {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'application'::text AS type, j.id, j.full_name AS title,
				ts_headline('simple', coalesce(j.cover_letter, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				j.position AS key, j.status,
				ts_rank(j.search_vector, %s) AS rank
			FROM job_applications j
			WHERE j.search_vector @@ %s`, tsQuery, tsQuery, tsQuery))
	}
	if q.wants(ResultUser) {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'user'::text AS type, u.id::text, u.display_name AS title,
				u.role AS snippet,
				u.email AS key,
				CASE WHEN u.deactivated_at IS NULL THEN 'active' ELSE 'deactivated' END AS status,
				ts_rank(u.search_vector, %s) AS rank
			FROM users u
			WHERE u.search_vector @@ %s`, tsQuery, tsQuery))
	}
	return subQueries
}

// Records is every searchable row, loaded for a full reindex.
type Records struct {
	Articles     []ArticleRecord
	Complaints   []ComplaintRecord
	Applications []ApplicationRecord
	Users        []UserRecord
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) (Records, error) {
	var out Records
	err := p.load(ctx, "articles", `
		SELECT id, slug, title, excerpt, body, category, status, published_at
		FROM news_articles
	`, func(rows *sql.Rows) error {
		var a ArticleRecord
		var publishedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.Slug, &a.Title, &a.Excerpt, &a.Body, &a.Category, &a.Status, &publishedAt); err != nil {
			return err
		}
		if publishedAt.Valid {
			a.PublishedAt = publishedAt.Time.Unix()
		}
		out.Articles = append(out.Articles, a)
		return nil
	})
	if err != nil {
		return Records{}, err
	}

	err = p.load(ctx, "complaints", `
		SELECT id, reference, customer_name, subject, message, category, status
		FROM complaints
	`, func(rows *sql.Rows) error {
		var c ComplaintRecord
		if err := rows.Scan(&c.ID, &c.Reference, &c.CustomerName, &c.Subject, &c.Message, &c.Category, &c.Status); err != nil {
			return err
		}
		out.Complaints = append(out.Complaints, c)
		return nil
	})
	if err != nil {
		return Records{}, err
	}

	err = p.load(ctx, "applications", `
		SELECT id, full_name, email, position, cover_letter, status
		FROM job_applications
	`, func(rows *sql.Rows) error {
		var j ApplicationRecord
		if err := rows.Scan(&j.ID, &j.FullName, &j.Email, &j.Position, &j.CoverLetter, &j.Status); err != nil {
			return err
		}
		out.Applications = append(out.Applications, j)
		return nil
	})
	if err != nil {
		return Records{}, err
	}

	err = p.load(ctx, "users", `
		SELECT id::text, email, display_name, role, deactivated_at IS NOT NULL
		FROM users
	`, func(rows *sql.Rows) error {
		var u UserRecord
		var deactivated bool
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &deactivated); err != nil {
			return err
		}
		u.Status = UserStatus(deactivated)
		out.Users = append(out.Users, u)
		return nil
	})
	if err != nil {
		return Records{}, err
	}
	return out, nil
}

func (p *PgFTS) load(ctx context.Context, what, query string, scan func(*sql.Rows) error) error {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("load %s: %w", what, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan %s: %w", what, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", what, err)
	}
	return nil
}

// ArticlePublishedAt converts a nullable publication time for indexing.
func ArticlePublishedAt(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}
