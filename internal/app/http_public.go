package app

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *HTTPServer) authRoutes(r chi.Router) {
	r.Post("/login", s.handleLogin)
	r.Post("/refresh", s.handleRefresh)
	r.Post("/logout", s.handleLogout)
	r.Method(http.MethodPost, "/password/forgot", s.limited(s.handleForgotPassword))
	r.Post("/password/reset", s.handleResetPassword)
	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/me", s.handleMe)
		r.Post("/password/change", s.handleChangePassword)
	})
}

func (s *HTTPServer) publicRoutes(r chi.Router) {
	r.Get("/news", s.handlePublicNews)
	r.Get("/news/categories", s.handlePublicCategories)
	r.Get("/news/{slug}", s.handlePublicArticle)
	r.Get("/search", s.handlePublicSearch)
	r.Method(http.MethodPost, "/careers/applications", s.limited(s.handleApply))
	r.Method(http.MethodPost, "/complaints", s.limited(s.handleSubmitComplaint))
	r.Method(http.MethodPost, "/complaints/lookup", s.limited(s.handleLookupComplaint))
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"email":        session.Email,
		"role":         session.Role,
	}
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		status, code, message, details := mapError(err)
		if status == http.StatusUnauthorized {
			message = "Refresh token invalid"
		}
		if status >= http.StatusInternalServerError {
			s.fail(w, r, err)
			return
		}
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

// handleLogout always succeeds; an expired access token still lets the
// refresh token be revoked.
func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.Logout(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":   session.UserID,
		"userName": session.UserName,
		"email":    session.Email,
		"role":     session.Role,
	})
}

// handleForgotPassword answers the same way whether or not the account
// exists.
func (s *HTTPServer) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Email) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Email is required", nil)
		return
	}
	token, err := s.service.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		s.logger.Error("password reset request failed", zap.String("request_id", requestID(r)), zap.Error(err))
	}
	payload := map[string]any{"ok": true}
	if token != "" {
		payload["devToken"] = token
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.ResetPassword(r.Context(), body.Token, body.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.ChangePassword(r.Context(), sessionFrom(r), body.CurrentPassword, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handlePublicNews(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ListPublishedArticles(r.Context(), r.URL.Query().Get("category"), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handlePublicCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.ArticleCategories(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": categories})
}

func (s *HTTPServer) handlePublicArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.service.PublishedArticle(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}

func (s *HTTPServer) handlePublicSearch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.SearchPublished(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit"), queryInt(r, "offset")))
}

func (s *HTTPServer) handleApply(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r, MaxCVBytes); err != nil {
		s.fail(w, r, err)
		return
	}
	cv, err := formFile(r, "cv")
	if err != nil && !errors.Is(err, errMissingFile) {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.Apply(r.Context(), ApplicationInput{
		FullName:    r.FormValue("fullName"),
		Email:       r.FormValue("email"),
		Phone:       r.FormValue("phone"),
		Position:    r.FormValue("position"),
		CoverLetter: r.FormValue("coverLetter"),
	}, cv)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleSubmitComplaint accepts JSON, or a multipart form when an attachment
// comes along.
func (s *HTTPServer) handleSubmitComplaint(w http.ResponseWriter, r *http.Request) {
	var input ComplaintInput
	var attachment *Upload
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := parseMultipart(w, r, s.service.cfg.Storage.MaxUploadBytes); err != nil {
			s.fail(w, r, err)
			return
		}
		input = ComplaintInput{
			CustomerName:   r.FormValue("customerName"),
			CustomerEmail:  r.FormValue("customerEmail"),
			CustomerPhone:  r.FormValue("customerPhone"),
			OrderReference: r.FormValue("orderReference"),
			Category:       r.FormValue("category"),
			Subject:        r.FormValue("subject"),
			Message:        r.FormValue("message"),
		}
		file, err := formFile(r, "attachment")
		switch {
		case err == nil:
			attachment = &file
		case !errors.Is(err, errMissingFile):
			s.fail(w, r, err)
			return
		}
	} else if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	result, err := s.service.SubmitComplaint(r.Context(), input, attachment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleLookupComplaint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reference string `json:"reference"`
		Email     string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.LookupComplaint(r.Context(), body.Reference, body.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCronComplaints is the external cron entry point. It is disabled
// until a shared secret is configured.
func (s *HTTPServer) handleCronComplaints(w http.ResponseWriter, r *http.Request) {
	secret := s.service.cfg.Escalation.CronSecret
	if secret == "" {
		writeError(w, http.StatusServiceUnavailable, "CRON_DISABLED", "Cron secret is not configured", nil)
		return
	}
	given := strings.TrimSpace(r.Header.Get("X-Cron-Secret"))
	if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	report, err := s.service.RunEscalation(r.Context(), "cron")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleLocalFile serves objects from the in-memory blob store used in
// development.
func (s *HTTPServer) handleLocalFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.blobs.Get(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
