package app

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backoffice/api/internal/email"
	"backoffice/api/internal/store"
)

func applicationRequest(t *testing.T, fields map[string]string, fileName string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileName != "" {
		part, err := form.CreateFormFile("cv", fileName)
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		_, _ = part.Write(content)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/public/careers/applications", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	return req
}

func applicantFields() map[string]string {
	return map[string]string{
		"fullName":    "Katherine Johnson",
		"email":       "katherine@example.com",
		"position":    "Data Analyst",
		"coverLetter": "I like numbers.",
	}
}

func TestApplyStoresCVAndNotifies(t *testing.T) {
	fs := newFakeStore()
	var inserted store.JobApplication
	fs.insertAppFn = func(_ context.Context, item store.JobApplication) (store.JobApplication, error) {
		inserted = item
		item.Status = "new"
		return item, nil
	}
	svc, mail := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, applicationRequest(t, applicantFields(), "My CV (final).pdf", []byte("%PDF-1.7\nresume")))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if inserted.CVFileName != "My-CV-final.pdf" {
		t.Fatalf("unexpected stored file name %q", inserted.CVFileName)
	}
	data, contentType, err := svc.blobs.Get(context.Background(), inserted.CVObjectKey)
	if err != nil {
		t.Fatalf("cv not stored: %v", err)
	}
	if contentType != "application/pdf" || !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("unexpected stored cv %q %q", contentType, data)
	}
	if got := mail.byTemplate(email.TemplateApplicationReceived); len(got) != 1 || got[0].To[0] != "katherine@example.com" {
		t.Fatalf("expected confirmation to applicant, got %+v", got)
	}
	if got := mail.byTemplate(email.TemplateApplicationNew); len(got) != 1 || got[0].To[0] != "hr@example.com" {
		t.Fatalf("expected HR notification, got %+v", got)
	}
}

func TestApplyRejectsBadUploads(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	handler := NewHTTPServer(svc, "*").Handler()

	cases := []struct {
		name     string
		fileName string
		content  []byte
		status   int
	}{
		{name: "missing cv", status: http.StatusUnprocessableEntity},
		{name: "executable renamed to pdf", fileName: "cv.pdf", content: []byte("MZ\x90\x00"), status: http.StatusUnsupportedMediaType},
		{name: "pdf with docx extension", fileName: "cv.docx", content: []byte("%PDF-1.4"), status: http.StatusUnsupportedMediaType},
		{name: "too large", fileName: "cv.pdf", content: append([]byte("%PDF-"), make([]byte, MaxCVBytes)...), status: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, applicationRequest(t, applicantFields(), tc.fileName, tc.content))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestApplyRemovesCVWhenInsertFails(t *testing.T) {
	fs := newFakeStore()
	var key string
	fs.insertAppFn = func(_ context.Context, item store.JobApplication) (store.JobApplication, error) {
		key = item.CVObjectKey
		return store.JobApplication{}, errors.New("database unavailable")
	}
	svc, mail := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, applicationRequest(t, applicantFields(), "cv.pdf", []byte("%PDF-1.7")))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if _, _, err := svc.blobs.Get(context.Background(), key); err == nil {
		t.Fatalf("expected orphaned cv %q to be removed", key)
	}
	if len(mail.sent) != 0 {
		t.Fatalf("expected no emails, got %d", len(mail.sent))
	}
}

func TestApplicationStatusAndDelete(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()
	_ = svc.blobs.Put(context.Background(), "cvs/2026/03/app_1/cv.pdf", "application/pdf", []byte("%PDF-"))
	fs.deleteAppFn = func(_ context.Context, id string) (store.JobApplication, error) {
		return store.JobApplication{ID: id, CVObjectKey: "cvs/2026/03/app_1/cv.pdf"}, nil
	}

	editor := tokenFor(t, svc, fs, "usr_editor", "editor")
	if rr := do(t, handler, http.MethodPut, "/api/admin/applications/app_1/status", editor, map[string]string{"status": "hired"}); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for editor, got %d", rr.Code)
	}

	hr := tokenFor(t, svc, fs, "usr_hr", "hr")
	if rr := do(t, handler, http.MethodPut, "/api/admin/applications/app_1/status", hr, map[string]string{"status": "promoted"}); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown status, got %d", rr.Code)
	}
	if rr := do(t, handler, http.MethodPut, "/api/admin/applications/app_1/status", hr, map[string]string{"status": "shortlisted"}); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if rr := do(t, handler, http.MethodDelete, "/api/admin/applications/app_1", hr, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, _, err := svc.blobs.Get(context.Background(), "cvs/2026/03/app_1/cv.pdf"); err == nil {
		t.Fatalf("expected cv to be deleted with the application")
	}
}

func TestApplicationChangesReachSearchIndex(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newTestService(fs)
	idx := &recordingSearch{}
	svc.search = idx
	handler := NewHTTPServer(svc, "*").Handler()
	fs.deleteAppFn = func(_ context.Context, id string) (store.JobApplication, error) {
		return store.JobApplication{ID: id}, nil
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, applicationRequest(t, applicantFields(), "cv.pdf", []byte("%PDF-1.7\nresume")))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(idx.applications) != 1 || idx.applications[0].FullName != "Katherine Johnson" || idx.applications[0].Status != "new" {
		t.Fatalf("expected new application to be indexed, got %+v", idx.applications)
	}

	hr := tokenFor(t, svc, fs, "usr_hr", "hr")
	if rr := do(t, handler, http.MethodPut, "/api/admin/applications/app_1/status", hr, map[string]string{"status": "shortlisted"}); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(idx.applications) != 2 || idx.applications[1].ID != "app_1" || idx.applications[1].Status != "shortlisted" {
		t.Fatalf("expected status change to be indexed, got %+v", idx.applications)
	}

	if rr := do(t, handler, http.MethodDelete, "/api/admin/applications/app_1", hr, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != "app_1" {
		t.Fatalf("expected app_1 to leave the index, got %v", idx.deleted)
	}
}

func TestLocalFilesServeMemoryUploads(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newTestService(fs)
	_ = svc.blobs.Put(context.Background(), "cvs/2026/03/app_1/cv.pdf", "application/pdf", []byte("%PDF-1.7"))
	handler := NewHTTPServer(svc, "*").Handler()

	url, err := svc.blobs.PresignedURL(context.Background(), "cvs/2026/03/app_1/cv.pdf", "cv.pdf", time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if url != "https://files.example.com/cvs/2026/03/app_1/cv.pdf" {
		t.Fatalf("unexpected url %q", url)
	}

	rr := do(t, handler, http.MethodGet, "/files/cvs/2026/03/app_1/cv.pdf", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "application/pdf" || rr.Body.String() != "%PDF-1.7" {
		t.Fatalf("unexpected file response %q %q", rr.Header().Get("Content-Type"), rr.Body.String())
	}
	if rr := do(t, handler, http.MethodGet, "/files/cvs/missing.pdf", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing object, got %d", rr.Code)
	}

	svc.cfg.Env = "production"
	production := NewHTTPServer(svc, "*").Handler()
	if rr := do(t, production, http.MethodGet, "/files/cvs/2026/03/app_1/cv.pdf", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected no file route in production, got %d", rr.Code)
	}
}
