package export

import (
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"backoffice/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetSubmission(ctx context.Context, id string) (store.Submission, error)
	ListDecisions(ctx context.Context, submissionID string) ([]store.Decision, error)
}

// BlobReader loads signature images.
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
}

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

// Service provides approval export functionality
type Service struct {
	store  DataStore
	blobs  BlobReader
	render renderFunc
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store DataStore, blobs BlobReader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		blobs:  blobs,
		render: exportPDF,
		logger: logger.Named("export"),
		now:    time.Now,
	}
}

// ApprovalPDF renders the signed approval record for an approved submission.
func (s *Service) ApprovalPDF(ctx context.Context, submissionID string) (*Result, error) {
	html, submission, err := s.ApprovalHTML(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	result, err := s.render(ctx, html, submission.Title+" "+submission.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval exported", zap.String("submission", submission.ID), zap.Int("bytes", len(result.Data)))
	return result, nil
}

// ApprovalHTML builds the HTML that ApprovalPDF prints.
func (s *Service) ApprovalHTML(ctx context.Context, submissionID string) (string, store.Submission, error) {
	submission, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return "", store.Submission{}, fmt.Errorf("get submission: %w", err)
	}
	if submission.Status != "approved" {
		return "", store.Submission{}, ErrNotApproved
	}

	decisions, err := s.store.ListDecisions(ctx, submissionID)
	if err != nil {
		return "", store.Submission{}, fmt.Errorf("list decisions: %w", err)
	}

	data := TemplateData{
		ID:          submission.ID,
		Title:       submission.Title,
		Description: submission.Description,
		Amount:      FormatAmount(submission.AmountCents, submission.Currency),
		Category:    submission.Category,
		Status:      submission.Status,
		Revision:    submission.Revision,
		SubmittedBy: submission.SubmittedByName,
		SubmittedAt: submission.CreatedAt,
		GeneratedAt: s.now(),
		Decisions:   make([]TemplateDecision, 0, len(decisions)),
	}
	for _, d := range decisions {
		item := TemplateDecision{
			Stage:     d.Stage,
			Decision:  d.Decision,
			Actor:     d.ActorName,
			Role:      d.ActorRole,
			Comment:   d.Comment,
			DecidedAt: d.DecidedAt,
		}
		if d.SignatureKey != "" && s.blobs != nil {
			image, contentType, err := s.blobs.Get(ctx, d.SignatureKey)
			if err != nil {
				return "", store.Submission{}, fmt.Errorf("load signature %s: %w", d.SignatureKey, err)
			}
			if contentType == "" {
				contentType = "image/png"
			}
			item.Signature = template.URL("data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image))
		}
		data.Decisions = append(data.Decisions, item)
	}

	html, err := RenderApprovalHTML(data)
	if err != nil {
		return "", store.Submission{}, fmt.Errorf("render template: %w", err)
	}
	return html, submission, nil
}

// FormatAmount prints minor units with thousands separators, e.g.
// "12,500.00 USD".
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := strconv.FormatInt(cents/100, 10)
	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}
	return strings.TrimSpace(fmt.Sprintf("%s%s.%02d %s", sign, grouped.String(), cents%100, currency))
}
