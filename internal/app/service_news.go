package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"backoffice/api/internal/rbac"
	"backoffice/api/internal/revisions"
	"backoffice/api/internal/search"
	"backoffice/api/internal/store"
	"backoffice/api/internal/util"
)

const (
	ArticleDraft     = "draft"
	ArticlePublished = "published"

	coverURLTTL = time.Hour
)

type ArticleInput struct {
	Title         string `json:"title" validate:"required,max=200"`
	Slug          string `json:"slug" validate:"omitempty,max=200"`
	Excerpt       string `json:"excerpt" validate:"max=500"`
	Body          string `json:"body" validate:"required"`
	CoverImageKey string `json:"coverImageKey" validate:"omitempty,startswith=images/"`
	Category      string `json:"category" validate:"required,max=60"`
	Status        string `json:"status" validate:"omitempty,oneof=draft published"`
}

type ArticleListInput struct {
	Status   string
	Category string
	Limit    int
	Offset   int
}

func (s *Service) CreateArticle(ctx context.Context, session Session, input ArticleInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionNewsWrite); err != nil {
		return nil, err
	}
	input = trimArticle(input)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	id := util.NewID("art")
	slug, err := s.uniqueSlug(ctx, firstNonBlank(input.Slug, input.Title), id)
	if err != nil {
		return nil, err
	}
	item := store.Article{
		ID:            id,
		Slug:          slug,
		Title:         input.Title,
		Excerpt:       input.Excerpt,
		Body:          input.Body,
		CoverImageKey: input.CoverImageKey,
		Category:      input.Category,
		Status:        firstNonBlank(input.Status, ArticleDraft),
		AuthorName:    session.UserName,
	}
	if item.Status == ArticlePublished {
		now := s.clock()
		item.PublishedAt = &now
	}

	created, err := s.store.InsertArticle(ctx, item)
	if err != nil {
		return nil, err
	}
	s.afterArticleSave(created, session, "Create article")
	return s.articleView(ctx, created), nil
}

func (s *Service) UpdateArticle(ctx context.Context, session Session, articleID string, input ArticleInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionNewsWrite); err != nil {
		return nil, err
	}
	input = trimArticle(input)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	current, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}

	slug := current.Slug
	if input.Slug != "" && input.Slug != current.Slug {
		if slug, err = s.uniqueSlug(ctx, input.Slug, current.ID); err != nil {
			return nil, err
		}
	}
	current.Slug = slug
	current.Title = input.Title
	current.Excerpt = input.Excerpt
	current.Body = input.Body
	current.CoverImageKey = input.CoverImageKey
	current.Category = input.Category
	if input.Status != "" {
		s.applyArticleStatus(&current, input.Status)
	}

	updated, err := s.store.UpdateArticle(ctx, current)
	if err != nil {
		return nil, err
	}
	s.afterArticleSave(updated, session, "Update article")
	return s.articleView(ctx, updated), nil
}

func (s *Service) PublishArticle(ctx context.Context, session Session, articleID string) (map[string]any, error) {
	return s.setArticleStatus(ctx, session, articleID, ArticlePublished)
}

func (s *Service) UnpublishArticle(ctx context.Context, session Session, articleID string) (map[string]any, error) {
	return s.setArticleStatus(ctx, session, articleID, ArticleDraft)
}

func (s *Service) setArticleStatus(ctx context.Context, session Session, articleID, status string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionNewsWrite); err != nil {
		return nil, err
	}
	current, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return s.articleView(ctx, current), nil
	}
	s.applyArticleStatus(&current, status)
	updated, err := s.store.UpdateArticle(ctx, current)
	if err != nil {
		return nil, err
	}
	message := "Publish article"
	if status == ArticleDraft {
		message = "Unpublish article"
	}
	s.afterArticleSave(updated, session, message)
	return s.articleView(ctx, updated), nil
}

// applyArticleStatus keeps the first publication time across unpublish and
// republish.
func (s *Service) applyArticleStatus(item *store.Article, status string) {
	item.Status = status
	if status == ArticlePublished && item.PublishedAt == nil {
		now := s.clock()
		item.PublishedAt = &now
	}
}

func (s *Service) DeleteArticle(ctx context.Context, session Session, articleID string) error {
	if err := s.require(session, rbac.ActionNewsWrite); err != nil {
		return err
	}
	if err := s.store.DeleteArticle(ctx, articleID); err != nil {
		return err
	}
	s.search.DeleteArticle(articleID)
	if s.revisions != nil {
		if err := s.revisions.Remove(articleID); err != nil {
			s.logger.Warn("remove article history", zap.String("article", articleID), zap.Error(err))
		}
	}
	s.logger.Info("article deleted", zap.String("article", articleID), zap.String("by", session.UserID))
	return nil
}

func (s *Service) GetArticle(ctx context.Context, session Session, articleID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionNewsWrite); err != nil {
		return nil, err
	}
	item, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	return s.articleView(ctx, item), nil
}

func (s *Service) ListArticles(ctx context.Context, session Session, input ArticleListInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionNewsWrite); err != nil {
		return nil, err
	}
	if input.Status != "" && input.Status != ArticleDraft && input.Status != ArticlePublished {
		return nil, validationFailed("status must be draft or published", nil)
	}
	items, total, err := s.store.ListArticles(ctx, store.ArticleFilter{
		Status:   input.Status,
		Category: input.Category,
		Limit:    input.Limit,
		Offset:   input.Offset,
	})
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, s.articleView(ctx, item))
	}
	return map[string]any{"items": views, "total": total}, nil
}

func (s *Service) ArticleRevisions(ctx context.Context, session Session, articleID string, limit int) ([]revisions.Revision, error) {
	if err := s.require(session, rbac.ActionNewsWrite); err != nil {
		return nil, err
	}
	if _, err := s.store.GetArticle(ctx, articleID); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return []revisions.Revision{}, nil
	}
	items, err := s.revisions.History(articleID, limit)
	if errors.Is(err, revisions.ErrNoHistory) {
		return []revisions.Revision{}, nil
	}
	return items, err
}

func (s *Service) ArticleRevision(ctx context.Context, session Session, articleID, hash string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionNewsWrite); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return nil, store.ErrNotFound
	}
	snapshot, revision, err := s.revisions.Get(articleID, hash)
	if err != nil {
		if errors.Is(err, revisions.ErrNoHistory) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return map[string]any{"revision": revision, "snapshot": snapshot}, nil
}

// RestoreArticleRevision copies an old revision's content back onto the
// article. Publication status is left as it is.
func (s *Service) RestoreArticleRevision(ctx context.Context, session Session, articleID, hash string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionNewsWrite); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return nil, store.ErrNotFound
	}
	current, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	snapshot, revision, err := s.revisions.Get(articleID, hash)
	if err != nil {
		if errors.Is(err, revisions.ErrNoHistory) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if snapshot.Slug != current.Slug {
		if current.Slug, err = s.uniqueSlug(ctx, snapshot.Slug, current.ID); err != nil {
			return nil, err
		}
	}
	current.Title = snapshot.Title
	current.Excerpt = snapshot.Excerpt
	current.Body = snapshot.Body
	current.Category = snapshot.Category
	current.CoverImageKey = snapshot.CoverImageKey

	updated, err := s.store.UpdateArticle(ctx, current)
	if err != nil {
		return nil, err
	}
	s.afterArticleSave(updated, session, "Restore revision "+shortHash(revision.Hash))
	return s.articleView(ctx, updated), nil
}

func (s *Service) ListPublishedArticles(ctx context.Context, category string, limit, offset int) (map[string]any, error) {
	items, total, err := s.store.ListArticles(ctx, store.ArticleFilter{
		Status:   ArticlePublished,
		Category: strings.TrimSpace(category),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, s.publicArticleView(ctx, item, false))
	}
	return map[string]any{"items": views, "total": total}, nil
}

// PublishedArticle hides drafts behind a 404 so unpublished slugs are not
// discoverable.
func (s *Service) PublishedArticle(ctx context.Context, slug string) (map[string]any, error) {
	item, err := s.store.GetArticleBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		return nil, err
	}
	if item.Status != ArticlePublished {
		return nil, store.ErrNotFound
	}
	return s.publicArticleView(ctx, item, true), nil
}

func (s *Service) ArticleCategories(ctx context.Context) ([]string, error) {
	return s.store.ListArticleCategories(ctx)
}

func (s *Service) SearchPublished(ctx context.Context, text string, limit, offset int) search.Response {
	return s.search.Search(ctx, search.Query{
		Text:          strings.TrimSpace(text),
		FilterType:    search.ResultArticle,
		PublishedOnly: true,
		Limit:         limit,
		Offset:        offset,
	})
}

// adminSearchScopes maps each searchable type to the action that unlocks it.
var adminSearchScopes = []struct {
	typ    search.ResultType
	action rbac.Action
}{
	{search.ResultArticle, rbac.ActionNewsWrite},
	{search.ResultComplaint, rbac.ActionComplaintsManage},
	{search.ResultApplication, rbac.ActionApplicationsManage},
	{search.ResultUser, rbac.ActionUsersManage},
}

// SearchAdmin searches the entity types the caller may manage.
func (s *Service) SearchAdmin(ctx context.Context, session Session, text, kind string, limit, offset int) (search.Response, error) {
	allowed := make([]search.ResultType, 0, len(adminSearchScopes))
	for _, scope := range adminSearchScopes {
		if s.Can(session.Role, scope.action) {
			allowed = append(allowed, scope.typ)
		}
	}
	if len(allowed) == 0 {
		return search.Response{}, forbidden()
	}
	filter := search.ResultType(strings.TrimSpace(kind))
	if filter != "" && !slices.Contains(search.AllTypes, filter) {
		return search.Response{}, validationFailed("type must be article, complaint, application or user", nil)
	}
	if filter != "" && !slices.Contains(allowed, filter) {
		return search.Response{}, forbidden()
	}

	return s.search.Search(ctx, search.Query{
		Text:       strings.TrimSpace(text),
		FilterType: filter,
		Types:      allowed,
		Limit:      limit,
		Offset:     offset,
	}), nil
}

// afterArticleSave records the revision and refreshes the search index.
// Neither is allowed to fail the save.
func (s *Service) afterArticleSave(item store.Article, session Session, message string) {
	if s.revisions != nil {
		_, _, err := s.revisions.Commit(item.ID, revisions.Snapshot{
			Title:         item.Title,
			Slug:          item.Slug,
			Excerpt:       item.Excerpt,
			Body:          item.Body,
			Category:      item.Category,
			CoverImageKey: item.CoverImageKey,
			Status:        item.Status,
		}, firstNonBlank(session.UserName, session.Email), message)
		if err != nil {
			s.logger.Warn("commit article revision", zap.String("article", item.ID), zap.Error(err))
		}
	}
	s.search.IndexArticle(search.ArticleRecord{
		ID:          item.ID,
		Slug:        item.Slug,
		Title:       item.Title,
		Excerpt:     item.Excerpt,
		Body:        item.Body,
		Category:    item.Category,
		Status:      item.Status,
		PublishedAt: search.ArticlePublishedAt(item.PublishedAt),
	})
	s.logger.Info("article saved",
		zap.String("article", item.ID),
		zap.String("status", item.Status),
		zap.String("by", session.UserID),
	)
}

// uniqueSlug derives a slug from value and appends -2, -3, ... until no other
// article uses it.
func (s *Service) uniqueSlug(ctx context.Context, value, articleID string) (string, error) {
	base := slugify(value)
	if base == "" {
		base = "article"
	}
	candidate := base
	for n := 2; n < 50; n++ {
		taken, err := s.store.SlugExists(ctx, candidate, articleID)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return base + "-" + util.NewID("")[:8], nil
}

// slugify lowercases, strips accents and joins words with dashes.
func slugify(value string) string {
	var b strings.Builder
	dash := false
	for _, r := range norm.NFKD.String(strings.ToLower(value)) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > 120 {
		slug = strings.TrimSuffix(slug[:120], "-")
	}
	return slug
}

func trimArticle(input ArticleInput) ArticleInput {
	input.Title = strings.TrimSpace(input.Title)
	input.Slug = strings.TrimSpace(input.Slug)
	input.Excerpt = strings.TrimSpace(input.Excerpt)
	input.Category = strings.TrimSpace(input.Category)
	input.CoverImageKey = strings.TrimSpace(input.CoverImageKey)
	input.Status = strings.TrimSpace(input.Status)
	return input
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

func (s *Service) coverURL(ctx context.Context, key string) string {
	if key == "" || s.blobs == nil {
		return ""
	}
	url, err := s.blobs.PresignedURL(ctx, key, "", coverURLTTL)
	if err != nil {
		s.logger.Warn("presign cover image", zap.String("key", key), zap.Error(err))
		return ""
	}
	return url
}

func (s *Service) articleView(ctx context.Context, item store.Article) map[string]any {
	return map[string]any{
		"id":            item.ID,
		"slug":          item.Slug,
		"title":         item.Title,
		"excerpt":       item.Excerpt,
		"body":          item.Body,
		"coverImageKey": item.CoverImageKey,
		"coverImageUrl": s.coverURL(ctx, item.CoverImageKey),
		"category":      item.Category,
		"status":        item.Status,
		"authorName":    item.AuthorName,
		"publishedAt":   item.PublishedAt,
		"createdAt":     item.CreatedAt,
		"updatedAt":     item.UpdatedAt,
	}
}

func (s *Service) publicArticleView(ctx context.Context, item store.Article, withBody bool) map[string]any {
	view := map[string]any{
		"slug":          item.Slug,
		"title":         item.Title,
		"excerpt":       item.Excerpt,
		"coverImageUrl": s.coverURL(ctx, item.CoverImageKey),
		"category":      item.Category,
		"authorName":    item.AuthorName,
		"publishedAt":   item.PublishedAt,
	}
	if withBody {
		view["body"] = item.Body
	}
	return view
}
