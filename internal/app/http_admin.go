package app

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) adminRoutes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.handleListUsers)
		r.Post("/", s.handleCreateUser)
		r.Put("/{id}/role", s.handleUpdateUserRole)
		r.Delete("/{id}", s.handleDeactivateUser)
	})

	r.Route("/news", func(r chi.Router) {
		r.Get("/", s.handleListArticles)
		r.Post("/", s.handleCreateArticle)
		r.Get("/{id}", s.handleGetArticle)
		r.Put("/{id}", s.handleUpdateArticle)
		r.Delete("/{id}", s.handleDeleteArticle)
		r.Post("/{id}/publish", s.handlePublishArticle)
		r.Post("/{id}/unpublish", s.handleUnpublishArticle)
		r.Get("/{id}/revisions", s.handleArticleRevisions)
		r.Get("/{id}/revisions/{hash}", s.handleArticleRevision)
		r.Post("/{id}/revisions/{hash}/restore", s.handleRestoreRevision)
	})

	r.Route("/applications", func(r chi.Router) {
		r.Get("/", s.handleListApplications)
		r.Get("/{id}", s.handleGetApplication)
		r.Put("/{id}/status", s.handleApplicationStatus)
		r.Delete("/{id}", s.handleDeleteApplication)
	})

	r.Route("/complaints", func(r chi.Router) {
		r.Get("/", s.handleListComplaints)
		r.Get("/{id}", s.handleGetComplaint)
		r.Put("/{id}/status", s.handleComplaintStatus)
		r.Post("/{id}/notes", s.handleComplaintNote)
		r.Put("/{id}/assignee", s.handleAssignComplaint)
	})

	r.Route("/workflow", func(r chi.Router) {
		r.Get("/", s.handleListSubmissions)
		r.Post("/", s.handleSubmit)
		r.Get("/pending-counts", s.handlePendingCounts)
		r.Get("/{id}", s.handleGetSubmission)
		r.Get("/{id}/history", s.handleSubmissionHistory)
		r.Post("/{id}/decisions", s.handleDecide)
		r.Post("/{id}/resubmit", s.handleResubmit)
		r.Get("/{id}/export.pdf", s.handleExportPDF)
	})

	r.Get("/search", s.handleAdminSearch)
	r.Post("/uploads/{kind}", s.handleUpload)
	r.Post("/escalation/run", s.handleRunEscalation)
	r.Get("/escalation/preview", s.handlePreviewEscalation)
}

// respond writes result with status, or the mapped error.
func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, result any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, result)
}

// decode reads a JSON body into target and writes a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListUsers(r.Context(), sessionFrom(r))
	s.respond(w, r, http.StatusOK, map[string]any{"items": items}, err)
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var input CreateUserInput
	if !decode(w, r, &input) {
		return
	}
	result, err := s.service.CreateUser(r.Context(), sessionFrom(r), input)
	s.respond(w, r, http.StatusCreated, result, err)
}

func (s *HTTPServer) handleUpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if !decode(w, r, &body) {
		return
	}
	result, err := s.service.UpdateUserRole(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body.Role)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeactivateUser(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)
}

func (s *HTTPServer) handleListArticles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := s.service.ListArticles(r.Context(), sessionFrom(r), ArticleListInput{
		Status:   query.Get("status"),
		Category: query.Get("category"),
		Limit:    queryInt(r, "limit"),
		Offset:   queryInt(r, "offset"),
	})
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleCreateArticle(w http.ResponseWriter, r *http.Request) {
	var input ArticleInput
	if !decode(w, r, &input) {
		return
	}
	result, err := s.service.CreateArticle(r.Context(), sessionFrom(r), input)
	s.respond(w, r, http.StatusCreated, result, err)
}

func (s *HTTPServer) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GetArticle(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleUpdateArticle(w http.ResponseWriter, r *http.Request) {
	var input ArticleInput
	if !decode(w, r, &input) {
		return
	}
	result, err := s.service.UpdateArticle(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), input)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteArticle(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)
}

func (s *HTTPServer) handlePublishArticle(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.PublishArticle(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleUnpublishArticle(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.UnpublishArticle(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleArticleRevisions(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ArticleRevisions(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), queryInt(r, "limit"))
	s.respond(w, r, http.StatusOK, map[string]any{"items": items}, err)
}

func (s *HTTPServer) handleArticleRevision(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ArticleRevision(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), chi.URLParam(r, "hash"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleRestoreRevision(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RestoreArticleRevision(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), chi.URLParam(r, "hash"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleListApplications(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := s.service.ListApplications(r.Context(), sessionFrom(r), ApplicationListInput{
		Status:   query.Get("status"),
		Position: query.Get("position"),
		Limit:    queryInt(r, "limit"),
		Offset:   queryInt(r, "offset"),
	})
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GetApplication(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleApplicationStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &body) {
		return
	}
	result, err := s.service.UpdateApplicationStatus(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body.Status)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteApplication(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)
}

func (s *HTTPServer) handleListComplaints(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := s.service.ListComplaints(r.Context(), sessionFrom(r), ComplaintListInput{
		Status: query.Get("status"),
		Level:  query.Get("level"),
		Query:  query.Get("q"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleGetComplaint(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GetComplaint(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleComplaintStatus(w http.ResponseWriter, r *http.Request) {
	var input ComplaintStatusInput
	if !decode(w, r, &input) {
		return
	}
	result, err := s.service.UpdateComplaintStatus(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), input)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleComplaintNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if !decode(w, r, &body) {
		return
	}
	result, err := s.service.AddComplaintNote(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body.Body)
	s.respond(w, r, http.StatusCreated, result, err)
}

func (s *HTTPServer) handleAssignComplaint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if !decode(w, r, &body) {
		return
	}
	result, err := s.service.AssignComplaint(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body.UserID)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	mine, _ := strconv.ParseBool(r.URL.Query().Get("mine"))
	result, err := s.service.ListSubmissions(r.Context(), sessionFrom(r), SubmissionFilterInput{
		Status: r.URL.Query().Get("status"),
		Mine:   mine,
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var input SubmissionInput
	if !decode(w, r, &input) {
		return
	}
	result, err := s.service.SubmitForApproval(r.Context(), sessionFrom(r), input)
	s.respond(w, r, http.StatusCreated, result, err)
}

func (s *HTTPServer) handlePendingCounts(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.PendingCounts(r.Context(), sessionFrom(r))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GetSubmission(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleSubmissionHistory(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.SubmissionHistory(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, map[string]any{"items": items}, err)
}

func (s *HTTPServer) handleDecide(w http.ResponseWriter, r *http.Request) {
	var input DecisionInput
	if !decode(w, r, &input) {
		return
	}
	result, err := s.service.Decide(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), input)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleResubmit(w http.ResponseWriter, r *http.Request) {
	var input ResubmitInput
	if !decode(w, r, &input) {
		return
	}
	result, err := s.service.Resubmit(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), input)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportApproval(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleAdminSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := s.service.SearchAdmin(r.Context(), sessionFrom(r), query.Get("q"), query.Get("type"), queryInt(r, "limit"), queryInt(r, "offset"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r, s.service.cfg.Storage.MaxUploadBytes); err != nil {
		s.fail(w, r, err)
		return
	}
	file, err := formFile(r, "file")
	if err != nil {
		if errors.Is(err, errMissingFile) {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "A file is required", map[string]string{"file": "required"})
			return
		}
		s.fail(w, r, err)
		return
	}
	result, err := s.service.UploadFile(r.Context(), sessionFrom(r), chi.URLParam(r, "kind"), file)
	s.respond(w, r, http.StatusCreated, result, err)
}

func (s *HTTPServer) handleRunEscalation(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.RunEscalationAs(r.Context(), sessionFrom(r))
	s.respond(w, r, http.StatusOK, report, err)
}

func (s *HTTPServer) handlePreviewEscalation(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.PreviewEscalation(r.Context(), sessionFrom(r))
	s.respond(w, r, http.StatusOK, result, err)
}
