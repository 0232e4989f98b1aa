package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"backoffice/api/internal/auth"
	"backoffice/api/internal/authpw"
	"backoffice/api/internal/blob"
	"backoffice/api/internal/escalation"
	"backoffice/api/internal/export"
	"backoffice/api/internal/store"
	"backoffice/api/internal/workflow"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func validationFailed(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

var (
	errStorageUnavailable    = domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
	errEscalationUnavailable = domainError(http.StatusServiceUnavailable, "ESCALATION_UNAVAILABLE", "Escalation is not configured", nil)
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// knownErrors maps package sentinels to HTTP responses. Order matters only
// where one sentinel wraps another.
var knownErrors = []errorMapping{
	{store.ErrStaleStatus, http.StatusConflict, "STALE_STATUS", "The record changed while you were editing it; reload and try again"},
	{store.ErrConflict, http.StatusConflict, "CONFLICT", "Conflict"},

	{workflow.ErrNotStageOwner, http.StatusForbidden, "NOT_STAGE_OWNER", "Your role does not review this stage"},
	{workflow.ErrNotSubmitter, http.StatusForbidden, "NOT_SUBMITTER", "Only the submitter may resubmit"},
	{workflow.ErrTerminal, http.StatusConflict, "INVALID_TRANSITION", "Submission is closed"},
	{workflow.ErrNotAwaitingReview, http.StatusConflict, "INVALID_TRANSITION", "Submission is not awaiting review"},
	{workflow.ErrStageMismatch, http.StatusConflict, "INVALID_TRANSITION", "Submission is not at the requested stage"},
	{workflow.ErrNotResubmittable, http.StatusConflict, "INVALID_TRANSITION", "Only submissions with requested changes may be resubmitted"},
	{workflow.ErrSignatureRequired, http.StatusUnprocessableEntity, "SIGNATURE_REQUIRED", "Founder approval requires a signature"},
	{workflow.ErrCommentRequired, http.StatusUnprocessableEntity, "COMMENT_REQUIRED", "A comment is required"},
	{workflow.ErrInvalidDecision, http.StatusUnprocessableEntity, "INVALID_DECISION", "Decision must be approve, reject or request_changes"},
	{workflow.ErrUnknownStatus, http.StatusUnprocessableEntity, "INVALID_STATUS", "Unknown status"},

	{blob.ErrFileTooLarge, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File too large"},
	{blob.ErrInvalidSignature, http.StatusUnprocessableEntity, "INVALID_SIGNATURE", "Signature must be a PNG image"},
	{blob.ErrUnsupportedFile, http.StatusUnsupportedMediaType, "UNSUPPORTED_FILE", "Unsupported file type"},
	{blob.ErrObjectNotFound, http.StatusNotFound, "NOT_FOUND", "Not found"},

	{export.ErrNotApproved, http.StatusConflict, "NOT_APPROVED", "Only approved submissions can be exported"},
	{export.ErrPDFDependencyMissing, http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available on this server"},

	{authpw.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"},
	{authpw.ErrEmailTaken, http.StatusConflict, "EMAIL_EXISTS", "Email already registered"},
	{authpw.ErrMissingFields, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Email, display name and role are required"},
	{authpw.ErrUnknownRole, http.StatusUnprocessableEntity, "INVALID_ROLE", "Unknown role"},
	{authpw.ErrWeakPassword, http.StatusUnprocessableEntity, "WEAK_PASSWORD", authpw.ErrWeakPassword.Error()},
	{authpw.ErrInvalidToken, http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token"},

	{escalation.ErrRunInProgress, http.StatusConflict, "RUN_IN_PROGRESS", "An escalation run is already in progress"},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", fieldErrors(invalid)
	}
	for _, known := range knownErrors {
		if errors.Is(err, known.target) {
			return known.status, known.code, known.message, nil
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// fieldErrors flattens validator output to {"field": "rule"}.
func fieldErrors(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, fieldErr := range errs {
		rule := fieldErr.Tag()
		if fieldErr.Param() != "" {
			rule += "=" + fieldErr.Param()
		}
		out[fieldErr.Field()] = rule
	}
	return out
}

// validate checks struct tags on request inputs. Field names in errors use
// the json tag.
var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}()
