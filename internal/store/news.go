package store

import (
	"context"
	"fmt"
	"strings"
)

const articleColumns = `id, slug, title, excerpt, body, cover_image_key, category, status, author_name,
	published_at, created_at, updated_at`

func scanArticle(row interface{ Scan(...any) error }) (Article, error) {
	var item Article
	err := row.Scan(
		&item.ID, &item.Slug, &item.Title, &item.Excerpt, &item.Body, &item.CoverImageKey, &item.Category,
		&item.Status, &item.AuthorName, &item.PublishedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertArticle(ctx context.Context, item Article) (Article, error) {
	created, err := scanArticle(s.db.QueryRowContext(ctx, `
		INSERT INTO news_articles (id, slug, title, excerpt, body, cover_image_key, category, status, author_name, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+articleColumns,
		item.ID, item.Slug, item.Title, item.Excerpt, item.Body, item.CoverImageKey, item.Category,
		item.Status, item.AuthorName, item.PublishedAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return Article{}, ErrConflict
		}
		return Article{}, fmt.Errorf("insert article: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateArticle(ctx context.Context, item Article) (Article, error) {
	updated, err := scanArticle(s.db.QueryRowContext(ctx, `
		UPDATE news_articles
		SET slug=$2, title=$3, excerpt=$4, body=$5, cover_image_key=$6, category=$7, status=$8,
			published_at=$9, updated_at=NOW()
		WHERE id=$1
		RETURNING `+articleColumns,
		item.ID, item.Slug, item.Title, item.Excerpt, item.Body, item.CoverImageKey, item.Category,
		item.Status, item.PublishedAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return Article{}, ErrConflict
		}
		return Article{}, notFound(err)
	}
	return updated, nil
}

func (s *PostgresStore) GetArticle(ctx context.Context, id string) (Article, error) {
	item, err := scanArticle(s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM news_articles WHERE id=$1`, id))
	if err != nil {
		return Article{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) GetArticleBySlug(ctx context.Context, slug string) (Article, error) {
	item, err := scanArticle(s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM news_articles WHERE slug=$1`, slug))
	if err != nil {
		return Article{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) SlugExists(ctx context.Context, slug, excludeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM news_articles WHERE slug=$1 AND id<>$2)`, slug, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) DeleteArticle(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM news_articles WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	return requireAffected(result)
}

// ListArticles returns articles newest first. Published listings order by
// publication time, everything else by last edit.
func (s *PostgresStore) ListArticles(ctx context.Context, filter ArticleFilter) ([]Article, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category=$%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM news_articles `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count articles: %w", err)
	}

	order := "updated_at DESC"
	if filter.Status == "published" {
		order = "published_at DESC NULLS LAST, created_at DESC"
	}
	args = append(args, clampLimit(filter.Limit, 20, 100), max(filter.Offset, 0))
	query := fmt.Sprintf(`SELECT %s FROM news_articles %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		articleColumns, clause, order, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		item, err := scanArticle(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan article: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate articles: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) ListArticleCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT category FROM news_articles WHERE status='published' ORDER BY category
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, category)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return items, nil
}
