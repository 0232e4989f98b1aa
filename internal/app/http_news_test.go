package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/api/internal/revisions"
	"backoffice/api/internal/search"
	"backoffice/api/internal/store"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Hello, World!":                  "hello-world",
		"  Spaces   everywhere  ":        "spaces-everywhere",
		"Crème brûlée à la française":    "creme-brulee-a-la-francaise",
		"Q3 2026: results & outlook":     "q3-2026-results-outlook",
		"---":                            "",
		"日本語":                            "",
		"Ünïcödé mixed with ASCII 123 ✓": "unicode-mixed-with-ascii-123",
	}
	for input, want := range cases {
		if got := slugify(input); got != want {
			t.Fatalf("slugify(%q) = %q, want %q", input, got, want)
		}
	}
}

// articleTable is an in-memory article store keyed by ID.
type articleTable struct {
	mu    sync.Mutex
	items map[string]store.Article
}

func installArticles(fs *fakeStore) *articleTable {
	table := &articleTable{items: make(map[string]store.Article)}
	save := func(_ context.Context, item store.Article) (store.Article, error) {
		table.mu.Lock()
		defer table.mu.Unlock()
		table.items[item.ID] = item
		return item, nil
	}
	fs.insertArticleFn = save
	fs.updateArticleFn = save
	fs.getArticleFn = func(_ context.Context, id string) (store.Article, error) {
		table.mu.Lock()
		defer table.mu.Unlock()
		item, ok := table.items[id]
		if !ok {
			return store.Article{}, store.ErrNotFound
		}
		return item, nil
	}
	fs.getArticleSlugFn = func(_ context.Context, slug string) (store.Article, error) {
		table.mu.Lock()
		defer table.mu.Unlock()
		for _, item := range table.items {
			if item.Slug == slug {
				return item, nil
			}
		}
		return store.Article{}, store.ErrNotFound
	}
	fs.slugExistsFn = func(_ context.Context, slug, excludeID string) (bool, error) {
		table.mu.Lock()
		defer table.mu.Unlock()
		for _, item := range table.items {
			if item.Slug == slug && item.ID != excludeID {
				return true, nil
			}
		}
		return false, nil
	}
	return table
}

func articleBody(title string) map[string]string {
	return map[string]string{
		"title":    title,
		"excerpt":  "Short summary",
		"body":     "<p>Full story</p>",
		"category": "company",
	}
}

func TestCreateArticleDerivesUniqueSlug(t *testing.T) {
	fs := newFakeStore()
	installArticles(fs)
	svc, _ := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()
	editor := tokenFor(t, svc, fs, "usr_editor", "editor")

	rr := do(t, handler, http.MethodPost, "/api/admin/news", editor, articleBody("Spring Launch"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	first := decodeJSON(t, rr)
	assert.Equal(t, "spring-launch", first["slug"])
	assert.Equal(t, "draft", first["status"])
	assert.Nil(t, first["publishedAt"])

	rr = do(t, handler, http.MethodPost, "/api/admin/news", editor, articleBody("Spring launch!"))
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "spring-launch-2", decodeJSON(t, rr)["slug"])

	support := tokenFor(t, svc, fs, "usr_support", "support")
	rr = do(t, handler, http.MethodPost, "/api/admin/news", support, articleBody("Not mine"))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	body := articleBody("Cover")
	body["coverImageKey"] = "cvs/2026/03/x/cv.pdf"
	rr = do(t, handler, http.MethodPost, "/api/admin/news", editor, body)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestPublishLifecycle(t *testing.T) {
	fs := newFakeStore()
	table := installArticles(fs)
	svc, _ := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()
	editor := tokenFor(t, svc, fs, "usr_editor", "editor")

	rr := do(t, handler, http.MethodPost, "/api/admin/news", editor, articleBody("Quarterly update"))
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeJSON(t, rr)["id"].(string)

	assert.Equal(t, http.StatusNotFound, do(t, handler, http.MethodGet, "/api/public/news/quarterly-update", "", nil).Code)

	rr = do(t, handler, http.MethodPost, "/api/admin/news/"+id+"/publish", editor, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	publishedAt := table.items[id].PublishedAt
	require.NotNil(t, publishedAt)

	rr = do(t, handler, http.MethodGet, "/api/public/news/quarterly-update", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	public := decodeJSON(t, rr)
	assert.Equal(t, "<p>Full story</p>", public["body"])
	_, hasID := public["id"]
	assert.False(t, hasID)

	rr = do(t, handler, http.MethodPost, "/api/admin/news/"+id+"/unpublish", editor, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, http.StatusNotFound, do(t, handler, http.MethodGet, "/api/public/news/quarterly-update", "", nil).Code)

	rr = do(t, handler, http.MethodPost, "/api/admin/news/"+id+"/publish", editor, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, *publishedAt, *table.items[id].PublishedAt, "first publication time is kept")
}

func TestArticleRevisionsAndRestore(t *testing.T) {
	fs := newFakeStore()
	table := installArticles(fs)
	svc, _ := newTestService(fs)
	svc.revisions = revisions.New(t.TempDir())
	handler := NewHTTPServer(svc, "*").Handler()
	editor := tokenFor(t, svc, fs, "usr_editor", "editor")

	rr := do(t, handler, http.MethodPost, "/api/admin/news", editor, articleBody("Original title"))
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeJSON(t, rr)["id"].(string)

	edited := articleBody("Edited title")
	edited["body"] = "<p>Rewritten</p>"
	rr = do(t, handler, http.MethodPut, "/api/admin/news/"+id, editor, edited)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "original-title", table.items[id].Slug, "slug is only changed on request")

	rr = do(t, handler, http.MethodGet, "/api/admin/news/"+id+"/revisions", editor, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	history := revisionItems(t, rr)
	require.Len(t, history, 2)
	oldest := history[len(history)-1]["hash"].(string)

	rr = do(t, handler, http.MethodPost, "/api/admin/news/"+id+"/revisions/"+oldest+"/restore", editor, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Original title", table.items[id].Title)
	assert.Equal(t, "<p>Full story</p>", table.items[id].Body)

	rr = do(t, handler, http.MethodGet, "/api/admin/news/"+id+"/revisions", editor, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	history = revisionItems(t, rr)
	require.Len(t, history, 3)
	assert.Contains(t, history[0]["message"], "Restore revision "+shortHash(oldest))
}

func revisionItems(t *testing.T, rr *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var payload struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	return payload.Items
}

func TestAdminSearchScopesByRole(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newTestService(fs)
	idx := &recordingSearch{}
	svc.search = idx
	handler := NewHTTPServer(svc, "*").Handler()

	hr := tokenFor(t, svc, fs, "usr_hr", "hr")
	assert.Equal(t, http.StatusOK, do(t, handler, http.MethodGet, "/api/admin/search?q=katherine", hr, nil).Code)
	assert.Equal(t, []search.ResultType{search.ResultApplication}, idx.lastQuery().Types)
	assert.Equal(t, http.StatusForbidden, do(t, handler, http.MethodGet, "/api/admin/search?q=late&type=complaint", hr, nil).Code)

	editor := tokenFor(t, svc, fs, "usr_editor", "editor")
	assert.Equal(t, http.StatusForbidden, do(t, handler, http.MethodGet, "/api/admin/search?q=late&type=complaint", editor, nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, handler, http.MethodGet, "/api/admin/search?q=ops&type=user", editor, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, handler, http.MethodGet, "/api/admin/search?q=launch", editor, nil).Code)
	assert.Equal(t, []search.ResultType{search.ResultArticle}, idx.lastQuery().Types)

	finance := tokenFor(t, svc, fs, "usr_finance", "finance")
	assert.Equal(t, http.StatusForbidden, do(t, handler, http.MethodGet, "/api/admin/search?q=x", finance, nil).Code)

	admin := tokenFor(t, svc, fs, "usr_admin", "admin")
	assert.Equal(t, http.StatusOK, do(t, handler, http.MethodGet, "/api/admin/search?q=ops&type=user", admin, nil).Code)
	last := idx.lastQuery()
	assert.Equal(t, search.ResultUser, last.FilterType)
	assert.ElementsMatch(t, search.AllTypes, last.Types)
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, handler, http.MethodGet, "/api/admin/search?q=x&type=invoice", admin, nil).Code)
}
