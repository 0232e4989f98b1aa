package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"backoffice/api/internal/blob"
	"backoffice/api/internal/export"
	"backoffice/api/internal/rbac"
	"backoffice/api/internal/store"
	"backoffice/api/internal/tracing"
	"backoffice/api/internal/util"
	"backoffice/api/internal/workflow"
)

const signatureURLTTL = 15 * time.Minute

type SubmissionInput struct {
	Title          string   `json:"title" validate:"required,max=200"`
	Description    string   `json:"description" validate:"max=10000"`
	AmountCents    int64    `json:"amountCents" validate:"gte=0"`
	Currency       string   `json:"currency" validate:"required,len=3,alpha"`
	Category       string   `json:"category" validate:"required,max=60"`
	AttachmentKeys []string `json:"attachmentKeys" validate:"max=10,dive,required,startswith=attachments/"`
}

type DecisionInput struct {
	Stage    string `json:"stage"`
	Decision string `json:"decision" validate:"required"`
	Comment  string `json:"comment" validate:"max=4000"`
	// Signature is a PNG data URL captured from the signing pad.
	Signature string `json:"signature"`
}

// ResubmitInput carries the edits made after changes were requested. Nil
// fields keep their current value.
type ResubmitInput struct {
	Title          *string  `json:"title" validate:"omitempty,min=1,max=200"`
	Description    *string  `json:"description" validate:"omitempty,max=10000"`
	AmountCents    *int64   `json:"amountCents" validate:"omitempty,gte=0"`
	Currency       *string  `json:"currency" validate:"omitempty,len=3,alpha"`
	Category       *string  `json:"category" validate:"omitempty,min=1,max=60"`
	AttachmentKeys []string `json:"attachmentKeys" validate:"omitempty,max=10,dive,required,startswith=attachments/"`
	Comment        string   `json:"comment" validate:"max=4000"`
}

type SubmissionFilterInput struct {
	Status string
	Mine   bool
	Limit  int
	Offset int
}

func actorOf(session Session) workflow.Actor {
	return workflow.Actor{ID: session.UserID, Name: session.UserName, Role: session.Role}
}

func (s *Service) SubmitForApproval(ctx context.Context, session Session, input SubmissionInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWorkflowSubmit); err != nil {
		return nil, err
	}
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	input.Title = strings.TrimSpace(input.Title)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.StartSpan(ctx, "workflow.submit")
	defer span.End()

	transition := workflow.Submit()
	created, err := s.store.InsertSubmission(ctx, store.Submission{
		ID:               util.NewID("wf"),
		Title:            input.Title,
		Description:      strings.TrimSpace(input.Description),
		AmountCents:      input.AmountCents,
		Currency:         input.Currency,
		Category:         strings.TrimSpace(input.Category),
		AttachmentKeys:   input.AttachmentKeys,
		Status:           string(transition.To),
		SubmittedBy:      session.UserID,
		SubmittedByName:  session.UserName,
		SubmittedByEmail: session.Email,
	}, store.Decision{
		Stage:      string(transition.Stage),
		Decision:   string(transition.Decision),
		FromStatus: string(transition.From),
		ToStatus:   string(transition.To),
		ActorID:    session.UserID,
		ActorName:  session.UserName,
		ActorRole:  session.Role,
	})
	if err != nil {
		tracing.SetError(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("submission.id", created.ID))
	s.metrics.WorkflowTransition(string(transition.Stage), string(transition.Decision), string(transition.To))
	s.logger.Info("submission created", zap.String("submission", created.ID), zap.String("by", session.UserID))

	s.notifyReviewers(ctx, created, false)
	return submissionView(created), nil
}

// Decide applies a reviewer decision. The status update is conditional on
// the status the decision was validated against, so of two concurrent
// reviewers only one wins; the other gets store.ErrStaleStatus.
func (s *Service) Decide(ctx context.Context, session Session, submissionID string, input DecisionInput) (map[string]any, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	decision, err := workflow.ParseDecision(input.Decision)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.StartSpan(ctx, "workflow.decide",
		attribute.String("submission.id", submissionID),
		attribute.String("decision", string(decision)),
	)
	defer span.End()

	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	var signature []byte
	if strings.TrimSpace(input.Signature) != "" {
		signature, err = blob.DecodeSignature(input.Signature)
		if err != nil {
			return nil, err
		}
	}

	transition, err := workflow.Decide(workflow.DecideInput{
		Current:      workflow.Status(sub.Status),
		Stage:        workflow.Stage(strings.TrimSpace(input.Stage)),
		Decision:     decision,
		Actor:        actorOf(session),
		Comment:      input.Comment,
		HasSignature: signature != nil,
	})
	if err != nil {
		return nil, err
	}

	signatureKey := ""
	if signature != nil {
		if s.blobs == nil {
			return nil, errStorageUnavailable
		}
		signatureKey = blob.ObjectKey("signatures", sub.ID, fmt.Sprintf("%s-%d.png", transition.Stage, s.now().UnixNano()), s.clock())
		if err := s.blobs.Put(ctx, signatureKey, blob.ContentTypePNG, signature); err != nil {
			tracing.SetError(ctx, err)
			return nil, fmt.Errorf("store signature: %w", err)
		}
	}

	record := store.Decision{
		SubmissionID: sub.ID,
		Stage:        string(transition.Stage),
		Decision:     string(transition.Decision),
		FromStatus:   string(transition.From),
		ToStatus:     string(transition.To),
		ActorID:      session.UserID,
		ActorName:    session.UserName,
		ActorRole:    session.Role,
		Comment:      strings.TrimSpace(input.Comment),
		SignatureKey: signatureKey,
	}
	updated, err := s.store.RecordDecision(ctx, record, nil)
	if err != nil {
		if signatureKey != "" {
			if delErr := s.blobs.Delete(context.WithoutCancel(ctx), signatureKey); delErr != nil {
				s.logger.Warn("remove orphaned signature", zap.String("key", signatureKey), zap.Error(delErr))
			}
		}
		if !errors.Is(err, store.ErrStaleStatus) {
			tracing.SetError(ctx, err)
		}
		return nil, err
	}

	s.metrics.WorkflowTransition(record.Stage, record.Decision, record.ToStatus)
	s.logger.Info("submission decided",
		zap.String("submission", sub.ID),
		zap.String("stage", record.Stage),
		zap.String("decision", record.Decision),
		zap.String("to", record.ToStatus),
		zap.String("by", session.UserID),
	)

	s.notifySubmitter(ctx, updated, record)
	if decision == workflow.DecisionApprove {
		s.notifyReviewers(ctx, updated, false)
	}
	return submissionView(updated), nil
}

func (s *Service) Resubmit(ctx context.Context, session Session, submissionID string, input ResubmitInput) (map[string]any, error) {
	if input.Currency != nil {
		upper := strings.ToUpper(strings.TrimSpace(*input.Currency))
		input.Currency = &upper
	}
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.StartSpan(ctx, "workflow.resubmit", attribute.String("submission.id", submissionID))
	defer span.End()

	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if !s.canSee(session, sub) {
		return nil, store.ErrNotFound
	}
	transition, err := workflow.Resubmit(workflow.Status(sub.Status), actorOf(session), sub.SubmittedBy)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.RecordDecision(ctx, store.Decision{
		SubmissionID: sub.ID,
		Stage:        string(transition.Stage),
		Decision:     string(transition.Decision),
		FromStatus:   string(transition.From),
		ToStatus:     string(transition.To),
		ActorID:      session.UserID,
		ActorName:    session.UserName,
		ActorRole:    session.Role,
		Comment:      strings.TrimSpace(input.Comment),
	}, &store.SubmissionChanges{
		Title:          input.Title,
		Description:    input.Description,
		AmountCents:    input.AmountCents,
		Currency:       input.Currency,
		Category:       input.Category,
		AttachmentKeys: input.AttachmentKeys,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.WorkflowTransition(string(transition.Stage), string(transition.Decision), string(transition.To))
	s.logger.Info("submission resubmitted", zap.String("submission", sub.ID), zap.Int("revision", updated.Revision))
	s.notifyReviewers(ctx, updated, true)
	return submissionView(updated), nil
}

// canSee reports whether session may read sub. Reviewers see everything,
// everyone else only their own submissions.
func (s *Service) canSee(session Session, sub store.Submission) bool {
	return s.Can(session.Role, rbac.ActionWorkflowView) || sub.SubmittedBy == session.UserID
}

func (s *Service) GetSubmission(ctx context.Context, session Session, submissionID string) (map[string]any, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if !s.canSee(session, sub) {
		return nil, store.ErrNotFound
	}
	history, err := s.decisionViews(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	status := workflow.Status(sub.Status)
	payload := submissionView(sub)
	payload["decisions"] = history
	payload["permissions"] = map[string]any{
		"canDecide":         workflow.CanDecide(session.Role, status),
		"canResubmit":       status == workflow.StatusChangesRequested && sub.SubmittedBy == session.UserID,
		"signatureRequired": status == workflow.StatusPendingFounder,
		"canExport":         status == workflow.StatusApproved,
	}
	return payload, nil
}

func (s *Service) ListSubmissions(ctx context.Context, session Session, filter SubmissionFilterInput) (map[string]any, error) {
	query := store.SubmissionFilter{Limit: filter.Limit, Offset: filter.Offset}
	if filter.Status != "" {
		status, err := workflow.ParseStatus(filter.Status)
		if err != nil {
			return nil, err
		}
		query.Status = string(status)
	}
	if filter.Mine || !s.Can(session.Role, rbac.ActionWorkflowView) {
		query.SubmittedBy = session.UserID
	}

	items, total, err := s.store.ListSubmissions(ctx, query)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, submissionView(item))
	}
	return map[string]any{"items": views, "total": total}, nil
}

func (s *Service) SubmissionHistory(ctx context.Context, session Session, submissionID string) ([]map[string]any, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if !s.canSee(session, sub) {
		return nil, store.ErrNotFound
	}
	return s.decisionViews(ctx, sub.ID)
}

// PendingCounts reports how many submissions wait at each stage and how many
// of those the caller can act on.
func (s *Service) PendingCounts(ctx context.Context, session Session) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWorkflowView); err != nil {
		return nil, err
	}
	counts, err := s.store.PendingCounts(ctx)
	if err != nil {
		return nil, err
	}
	awaiting := 0
	byStage := make(map[string]int, 3)
	for _, stage := range workflow.Stages() {
		status := workflow.Status("pending_" + string(stage))
		byStage[string(stage)] = counts[string(status)]
		if workflow.CanDecide(session.Role, status) {
			awaiting += counts[string(status)]
		}
	}
	return map[string]any{
		"byStatus":    counts,
		"byStage":     byStage,
		"awaitingYou": awaiting,
	}, nil
}

func (s *Service) ExportApproval(ctx context.Context, session Session, submissionID string) (*export.Result, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if !s.canSee(session, sub) {
		return nil, store.ErrNotFound
	}
	if s.exporter == nil {
		return nil, export.ErrPDFDependencyMissing
	}
	return s.exporter.ApprovalPDF(ctx, sub.ID)
}

func (s *Service) decisionViews(ctx context.Context, submissionID string) ([]map[string]any, error) {
	decisions, err := s.store.ListDecisions(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(decisions))
	for _, decision := range decisions {
		view := map[string]any{
			"id":         decision.ID,
			"stage":      decision.Stage,
			"decision":   decision.Decision,
			"fromStatus": decision.FromStatus,
			"toStatus":   decision.ToStatus,
			"actorId":    decision.ActorID,
			"actorName":  decision.ActorName,
			"actorRole":  decision.ActorRole,
			"comment":    decision.Comment,
			"signed":     decision.SignatureKey != "",
			"decidedAt":  decision.DecidedAt,
		}
		if decision.SignatureKey != "" && s.blobs != nil {
			url, err := s.blobs.PresignedURL(ctx, decision.SignatureKey, "signature.png", signatureURLTTL)
			if err != nil {
				s.logger.Warn("presign signature", zap.String("key", decision.SignatureKey), zap.Error(err))
			} else {
				view["signatureUrl"] = url
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func submissionView(sub store.Submission) map[string]any {
	stage, _ := workflow.StageOf(workflow.Status(sub.Status))
	return map[string]any{
		"id":               sub.ID,
		"title":            sub.Title,
		"description":      sub.Description,
		"amountCents":      sub.AmountCents,
		"currency":         sub.Currency,
		"amount":           export.FormatAmount(sub.AmountCents, sub.Currency),
		"category":         sub.Category,
		"attachmentKeys":   sub.AttachmentKeys,
		"status":           sub.Status,
		"stage":            string(stage),
		"submittedBy":      sub.SubmittedBy,
		"submittedByName":  sub.SubmittedByName,
		"submittedByEmail": sub.SubmittedByEmail,
		"revision":         sub.Revision,
		"createdAt":        sub.CreatedAt,
		"updatedAt":        sub.UpdatedAt,
	}
}
