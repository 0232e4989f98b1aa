package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"backoffice/api/internal/blob"
	"backoffice/api/internal/email"
	"backoffice/api/internal/rbac"
	"backoffice/api/internal/search"
	"backoffice/api/internal/store"
	"backoffice/api/internal/util"
)

const (
	MaxCVBytes = 5 << 20

	cvURLTTL = 15 * time.Minute
)

var applicationStatuses = map[string]struct{}{
	"new":         {},
	"reviewing":   {},
	"shortlisted": {},
	"rejected":    {},
	"hired":       {},
}

type ApplicationInput struct {
	FullName    string `json:"fullName" validate:"required,max=120"`
	Email       string `json:"email" validate:"required,email"`
	Phone       string `json:"phone" validate:"max=40"`
	Position    string `json:"position" validate:"required,max=120"`
	CoverLetter string `json:"coverLetter" validate:"max=10000"`
}

// Upload is a file received in a multipart form.
type Upload struct {
	Name string
	Data []byte
}

type ApplicationListInput struct {
	Status   string
	Position string
	Limit    int
	Offset   int
}

// Apply stores the CV first so a failed insert never leaves a row pointing
// at a missing object; the orphaned object is removed instead.
func (s *Service) Apply(ctx context.Context, input ApplicationInput, cv Upload) (map[string]any, error) {
	input.FullName = strings.TrimSpace(input.FullName)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Phone = strings.TrimSpace(input.Phone)
	input.Position = strings.TrimSpace(input.Position)
	input.CoverLetter = strings.TrimSpace(input.CoverLetter)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	if len(cv.Data) == 0 {
		return nil, validationFailed("A CV is required", map[string]string{"cv": "required"})
	}
	if len(cv.Data) > MaxCVBytes {
		return nil, fmt.Errorf("%w: CV exceeds %d bytes", blob.ErrFileTooLarge, MaxCVBytes)
	}
	contentType, err := blob.DetectDocument(cv.Name, cv.Data)
	if err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, errStorageUnavailable
	}

	id := util.NewID("app")
	key := blob.ObjectKey("cvs", id, cv.Name, s.clock())
	if err := s.blobs.Put(ctx, key, contentType, cv.Data); err != nil {
		return nil, fmt.Errorf("store cv: %w", err)
	}

	created, err := s.store.InsertApplication(ctx, store.JobApplication{
		ID:            id,
		FullName:      input.FullName,
		Email:         input.Email,
		Phone:         input.Phone,
		Position:      input.Position,
		CoverLetter:   input.CoverLetter,
		CVObjectKey:   key,
		CVFileName:    blob.SafeName(cv.Name),
		CVContentType: contentType,
	})
	if err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Warn("remove orphaned cv", zap.String("key", key), zap.Error(delErr))
		}
		return nil, err
	}
	s.logger.Info("application received", zap.String("application", created.ID), zap.String("position", created.Position))
	s.indexApplication(created)

	data := email.ApplicationData{
		FullName: created.FullName,
		Email:    created.Email,
		Position: created.Position,
		Link:     s.link("applications", created.ID),
	}
	s.notify(ctx, email.Message{To: []string{created.Email}, Template: email.TemplateApplicationReceived, Data: data})
	s.notify(ctx, email.Message{To: s.cfg.Notifications.HR, Template: email.TemplateApplicationNew, Data: data})

	return map[string]any{"id": created.ID, "status": created.Status, "createdAt": created.CreatedAt}, nil
}

func (s *Service) ListApplications(ctx context.Context, session Session, input ApplicationListInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionApplicationsManage); err != nil {
		return nil, err
	}
	if input.Status != "" {
		if _, ok := applicationStatuses[input.Status]; !ok {
			return nil, validationFailed("Unknown application status", nil)
		}
	}
	items, total, err := s.store.ListApplications(ctx, store.ApplicationFilter{
		Status:   input.Status,
		Position: strings.TrimSpace(input.Position),
		Limit:    input.Limit,
		Offset:   input.Offset,
	})
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, applicationView(item))
	}
	return map[string]any{"items": views, "total": total}, nil
}

func (s *Service) GetApplication(ctx context.Context, session Session, applicationID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionApplicationsManage); err != nil {
		return nil, err
	}
	item, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	view := applicationView(item)
	view["coverLetter"] = item.CoverLetter
	if item.CVObjectKey != "" && s.blobs != nil {
		url, err := s.blobs.PresignedURL(ctx, item.CVObjectKey, item.CVFileName, cvURLTTL)
		if err != nil {
			s.logger.Warn("presign cv", zap.String("application", item.ID), zap.Error(err))
		} else {
			view["cvUrl"] = url
		}
	}
	return view, nil
}

func (s *Service) UpdateApplicationStatus(ctx context.Context, session Session, applicationID, status string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionApplicationsManage); err != nil {
		return nil, err
	}
	status = strings.TrimSpace(status)
	if _, ok := applicationStatuses[status]; !ok {
		return nil, validationFailed("Status must be new, reviewing, shortlisted, rejected or hired", map[string]string{"status": "oneof"})
	}
	item, err := s.store.UpdateApplicationStatus(ctx, applicationID, status)
	if err != nil {
		return nil, err
	}
	s.logger.Info("application status changed", zap.String("application", item.ID), zap.String("status", status), zap.String("by", session.UserID))
	s.indexApplication(item)
	return applicationView(item), nil
}

func (s *Service) DeleteApplication(ctx context.Context, session Session, applicationID string) error {
	if err := s.require(session, rbac.ActionApplicationsManage); err != nil {
		return err
	}
	item, err := s.store.DeleteApplication(ctx, applicationID)
	if err != nil {
		return err
	}
	if item.CVObjectKey != "" && s.blobs != nil {
		if err := s.blobs.Delete(ctx, item.CVObjectKey); err != nil {
			s.logger.Warn("delete cv", zap.String("key", item.CVObjectKey), zap.Error(err))
		}
	}
	s.search.DeleteApplication(item.ID)
	s.logger.Info("application deleted", zap.String("application", item.ID), zap.String("by", session.UserID))
	return nil
}

func (s *Service) indexApplication(item store.JobApplication) {
	s.search.IndexApplication(search.ApplicationRecord{
		ID:          item.ID,
		FullName:    item.FullName,
		Email:       item.Email,
		Position:    item.Position,
		CoverLetter: item.CoverLetter,
		Status:      item.Status,
	})
}

func applicationView(item store.JobApplication) map[string]any {
	return map[string]any{
		"id":         item.ID,
		"fullName":   item.FullName,
		"email":      item.Email,
		"phone":      item.Phone,
		"position":   item.Position,
		"cvFileName": item.CVFileName,
		"status":     item.Status,
		"createdAt":  item.CreatedAt,
		"updatedAt":  item.UpdatedAt,
	}
}
