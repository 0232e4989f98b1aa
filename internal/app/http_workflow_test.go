package app

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/api/internal/email"
	"backoffice/api/internal/store"
)

// submissionTable backs the workflow fakes with a map and enforces the
// same conditional status update the Postgres store does.
type submissionTable struct {
	mu        sync.Mutex
	items     map[string]store.Submission
	decisions []store.Decision
}

func installSubmissions(fs *fakeStore) *submissionTable {
	table := &submissionTable{items: make(map[string]store.Submission)}
	fs.insertSubFn = func(_ context.Context, item store.Submission, opening store.Decision) (store.Submission, error) {
		table.mu.Lock()
		defer table.mu.Unlock()
		item.Revision = 1
		table.items[item.ID] = item
		opening.SubmissionID = item.ID
		table.decisions = append(table.decisions, opening)
		return item, nil
	}
	fs.getSubFn = func(_ context.Context, id string) (store.Submission, error) {
		table.mu.Lock()
		defer table.mu.Unlock()
		item, ok := table.items[id]
		if !ok {
			return store.Submission{}, store.ErrNotFound
		}
		return item, nil
	}
	fs.recordDecisionFn = func(_ context.Context, decision store.Decision, changes *store.SubmissionChanges) (store.Submission, error) {
		table.mu.Lock()
		defer table.mu.Unlock()
		item, ok := table.items[decision.SubmissionID]
		if !ok {
			return store.Submission{}, store.ErrNotFound
		}
		if item.Status != decision.FromStatus {
			return store.Submission{}, store.ErrStaleStatus
		}
		item.Status = decision.ToStatus
		if changes != nil {
			if changes.Title != nil {
				item.Title = *changes.Title
			}
			if changes.AmountCents != nil {
				item.AmountCents = *changes.AmountCents
			}
			item.Revision++
		}
		table.items[item.ID] = item
		table.decisions = append(table.decisions, decision)
		return item, nil
	}
	fs.listDecisionsFn = func(_ context.Context, id string) ([]store.Decision, error) {
		table.mu.Lock()
		defer table.mu.Unlock()
		var out []store.Decision
		for _, decision := range table.decisions {
			if decision.SubmissionID == id {
				out = append(out, decision)
			}
		}
		return out, nil
	}
	return table
}

func (t *submissionTable) put(item store.Submission) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[item.ID] = item
}

func signatureDataURL() string {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

func submitOne(t *testing.T, handler http.Handler, token string) string {
	t.Helper()
	rr := do(t, handler, http.MethodPost, "/api/admin/workflow", token, map[string]any{
		"title":       "Trade show booth",
		"description": "Booth rental for the spring fair",
		"amountCents": 1250000,
		"currency":    "eur",
		"category":    "marketing",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id, _ := decodeJSON(t, rr)["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestApprovalChainEndToEnd(t *testing.T) {
	fs := newFakeStore()
	table := installSubmissions(fs)
	svc, mail := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	editor := tokenFor(t, svc, fs, "usr_editor", "editor")
	finance := tokenFor(t, svc, fs, "usr_fin", "finance")
	cofounder := tokenFor(t, svc, fs, "usr_co", "cofounder")
	founder := tokenFor(t, svc, fs, "usr_founder", "founder")

	id := submitOne(t, handler, editor)
	assert.Equal(t, "pending_finance", table.items[id].Status)
	assert.Equal(t, "EUR", table.items[id].Currency)
	reviews := mail.byTemplate(email.TemplateWorkflowReview)
	require.Len(t, reviews, 1)
	assert.Equal(t, []string{"finance@example.com"}, reviews[0].To)

	rr := do(t, handler, http.MethodPost, "/api/admin/workflow/"+id+"/decisions", cofounder, map[string]any{"decision": "approve"})
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "NOT_STAGE_OWNER", decodeJSON(t, rr)["code"])

	rr = do(t, handler, http.MethodPost, "/api/admin/workflow/"+id+"/decisions", finance, map[string]any{"stage": "finance", "decision": "approve"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "pending_cofounder", table.items[id].Status)

	rr = do(t, handler, http.MethodPost, "/api/admin/workflow/"+id+"/decisions", cofounder, map[string]any{"decision": "approve"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "pending_founder", table.items[id].Status)

	rr = do(t, handler, http.MethodPost, "/api/admin/workflow/"+id+"/decisions", founder, map[string]any{"decision": "approve"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "SIGNATURE_REQUIRED", decodeJSON(t, rr)["code"])

	rr = do(t, handler, http.MethodPost, "/api/admin/workflow/"+id+"/decisions", founder, map[string]any{
		"decision":  "approve",
		"signature": signatureDataURL(),
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "approved", table.items[id].Status)

	last := table.decisions[len(table.decisions)-1]
	require.NotEmpty(t, last.SignatureKey)
	_, contentType, err := svc.blobs.Get(context.Background(), last.SignatureKey)
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)

	assert.Len(t, mail.byTemplate(email.TemplateWorkflowDecision), 3)

	rr = do(t, handler, http.MethodGet, "/api/admin/workflow/"+id, editor, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	detail := decodeJSON(t, rr)
	assert.Len(t, detail["decisions"], 4)
	permissions := detail["permissions"].(map[string]any)
	assert.Equal(t, true, permissions["canExport"])
	assert.Equal(t, false, permissions["canDecide"])
}

func TestConcurrentDecisionLosesAndDropsSignature(t *testing.T) {
	fs := newFakeStore()
	table := installSubmissions(fs)
	svc, _ := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()
	founder := tokenFor(t, svc, fs, "usr_founder", "founder")

	table.put(store.Submission{ID: "wf_1", Title: "Laptop", Status: "pending_founder", SubmittedBy: "usr_editor"})
	record := fs.recordDecisionFn
	var storedKey string
	fs.recordDecisionFn = func(ctx context.Context, decision store.Decision, changes *store.SubmissionChanges) (store.Submission, error) {
		storedKey = decision.SignatureKey
		// Another founder got there first.
		table.put(store.Submission{ID: "wf_1", Title: "Laptop", Status: "approved", SubmittedBy: "usr_editor"})
		return record(ctx, decision, changes)
	}

	rr := do(t, handler, http.MethodPost, "/api/admin/workflow/wf_1/decisions", founder, map[string]any{
		"decision":  "approve",
		"signature": signatureDataURL(),
	})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "STALE_STATUS", decodeJSON(t, rr)["code"])

	require.NotEmpty(t, storedKey)
	_, _, err := svc.blobs.Get(context.Background(), storedKey)
	assert.Error(t, err, "signature of the losing decision must be removed")
}

func TestRequestChangesAndResubmit(t *testing.T) {
	fs := newFakeStore()
	table := installSubmissions(fs)
	svc, mail := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	editor := tokenFor(t, svc, fs, "usr_editor", "editor")
	other := tokenFor(t, svc, fs, "usr_other", "editor")
	finance := tokenFor(t, svc, fs, "usr_fin", "finance")

	id := submitOne(t, handler, editor)

	rr := do(t, handler, http.MethodPost, "/api/admin/workflow/"+id+"/decisions", finance, map[string]any{"decision": "request_changes"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "COMMENT_REQUIRED", decodeJSON(t, rr)["code"])

	rr = do(t, handler, http.MethodPost, "/api/admin/workflow/"+id+"/decisions", finance, map[string]any{
		"decision": "request_changes",
		"comment":  "Attach the quote",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "changes_requested", table.items[id].Status)

	rr = do(t, handler, http.MethodPost, "/api/admin/workflow/"+id+"/resubmit", other, map[string]any{"comment": "mine now"})
	require.Equal(t, http.StatusNotFound, rr.Code, "other submitters must not see the submission")

	rr = do(t, handler, http.MethodPost, "/api/admin/workflow/"+id+"/resubmit", finance, map[string]any{"comment": "on their behalf"})
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "NOT_SUBMITTER", decodeJSON(t, rr)["code"])

	rr = do(t, handler, http.MethodPost, "/api/admin/workflow/"+id+"/resubmit", editor, map[string]any{
		"title":   "Trade show booth (with quote)",
		"comment": "Quote attached",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "pending_finance", table.items[id].Status)
	assert.Equal(t, 2, table.items[id].Revision)

	reviews := mail.byTemplate(email.TemplateWorkflowReview)
	require.Len(t, reviews, 2)
	data := reviews[1].Data.(email.WorkflowReviewData)
	assert.True(t, data.Resubmitted)
}

func TestSubmissionVisibility(t *testing.T) {
	fs := newFakeStore()
	table := installSubmissions(fs)
	svc, _ := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	table.put(store.Submission{ID: "wf_9", Title: "Catering", Status: "pending_finance", SubmittedBy: "usr_owner"})
	owner := tokenFor(t, svc, fs, "usr_owner", "support")
	stranger := tokenFor(t, svc, fs, "usr_stranger", "hr")
	finance := tokenFor(t, svc, fs, "usr_fin", "finance")

	assert.Equal(t, http.StatusOK, do(t, handler, http.MethodGet, "/api/admin/workflow/wf_9", owner, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, handler, http.MethodGet, "/api/admin/workflow/wf_9", finance, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, handler, http.MethodGet, "/api/admin/workflow/wf_9", stranger, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, handler, http.MethodGet, "/api/admin/workflow/wf_9/history", stranger, nil).Code)

	var seen store.SubmissionFilter
	fs.listSubsFn = func(_ context.Context, filter store.SubmissionFilter) ([]store.Submission, int, error) {
		seen = filter
		return nil, 0, nil
	}
	rr := do(t, handler, http.MethodGet, "/api/admin/workflow", stranger, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "usr_stranger", seen.SubmittedBy, "non-reviewers only list their own submissions")

	rr = do(t, handler, http.MethodGet, "/api/admin/workflow?status=pending_finance", finance, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, seen.SubmittedBy)
	assert.Equal(t, "pending_finance", seen.Status)

	rr = do(t, handler, http.MethodGet, "/api/admin/workflow?status=limbo", finance, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestPendingCountsAwaitingYou(t *testing.T) {
	fs := newFakeStore()
	fs.pendingCountsFn = func(context.Context) (map[string]int, error) {
		return map[string]int{"pending_finance": 3, "pending_cofounder": 2, "pending_founder": 1}, nil
	}
	svc, _ := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	cofounder := tokenFor(t, svc, fs, "usr_co", "cofounder")
	rr := do(t, handler, http.MethodGet, "/api/admin/workflow/pending-counts", cofounder, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	payload := decodeJSON(t, rr)
	assert.EqualValues(t, 2, payload["awaitingYou"])

	admin := tokenFor(t, svc, fs, "usr_admin", "admin")
	rr = do(t, handler, http.MethodGet, "/api/admin/workflow/pending-counts", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 6, decodeJSON(t, rr)["awaitingYou"])

	editor := tokenFor(t, svc, fs, "usr_editor", "editor")
	assert.Equal(t, http.StatusForbidden, do(t, handler, http.MethodGet, "/api/admin/workflow/pending-counts", editor, nil).Code)
}

func TestExportWithoutRenderer(t *testing.T) {
	fs := newFakeStore()
	table := installSubmissions(fs)
	svc, _ := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()
	table.put(store.Submission{ID: "wf_2", Status: "approved", SubmittedBy: "usr_fin"})
	finance := tokenFor(t, svc, fs, "usr_fin", "finance")

	rr := do(t, handler, http.MethodGet, "/api/admin/workflow/wf_2/export.pdf", finance, nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "PDF_UNAVAILABLE", decodeJSON(t, rr)["code"])
}
