package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"backoffice/api/internal/blob"
	"backoffice/api/internal/rbac"
	"backoffice/api/internal/util"
)

const uploadURLTTL = 15 * time.Minute

// Upload kinds accepted by the admin upload endpoint.
const (
	UploadImages      = "images"
	UploadAttachments = "attachments"
)

// UploadFile stores an admin upload. Images are cover pictures for news and
// accept PNG or JPEG only; attachments back workflow submissions.
func (s *Service) UploadFile(ctx context.Context, session Session, kind string, file Upload) (map[string]any, error) {
	switch kind {
	case UploadImages:
		if err := s.require(session, rbac.ActionNewsWrite); err != nil {
			return nil, err
		}
	case UploadAttachments:
		if err := s.require(session, rbac.ActionWorkflowSubmit); err != nil {
			return nil, err
		}
	default:
		return nil, validationFailed("Upload kind must be images or attachments", map[string]string{"kind": "oneof"})
	}

	key, err := s.storeUpload(ctx, kind, util.NewID("up"), file)
	if err != nil {
		return nil, err
	}
	view := map[string]any{"key": key, "name": blob.SafeName(file.Name), "size": len(file.Data)}
	if url, err := s.blobs.PresignedURL(ctx, key, file.Name, uploadURLTTL); err == nil {
		view["url"] = url
	}
	s.logger.Info("file uploaded", zap.String("key", key), zap.Int("bytes", len(file.Data)), zap.String("by", session.UserID))
	return view, nil
}

// storeUpload sniffs, size-checks and stores one file under kind/yyyy/mm/id.
func (s *Service) storeUpload(ctx context.Context, kind, id string, file Upload) (string, error) {
	if len(file.Data) == 0 {
		return "", validationFailed("File is empty", map[string]string{"file": "required"})
	}
	if limit := s.cfg.Storage.MaxUploadBytes; limit > 0 && int64(len(file.Data)) > limit {
		return "", fmt.Errorf("%w: %d bytes allowed", blob.ErrFileTooLarge, limit)
	}
	contentType, err := blob.DetectAttachment(file.Name, file.Data)
	if err != nil {
		return "", err
	}
	if kind == UploadImages && contentType != blob.ContentTypePNG && contentType != blob.ContentTypeJPEG {
		return "", fmt.Errorf("%w: images must be PNG or JPEG", blob.ErrUnsupportedFile)
	}
	if s.blobs == nil {
		return "", errStorageUnavailable
	}
	key := blob.ObjectKey(kind, id, file.Name, s.clock())
	if err := s.blobs.Put(ctx, key, contentType, file.Data); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return key, nil
}
