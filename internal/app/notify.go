package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"backoffice/api/internal/config"
	"backoffice/api/internal/email"
	"backoffice/api/internal/escalation"
	"backoffice/api/internal/export"
	"backoffice/api/internal/store"
	"backoffice/api/internal/workflow"
)

// notify sends best effort: a failed email is logged and never fails the
// request that caused it.
func (s *Service) notify(ctx context.Context, msg email.Message) {
	if s.mail == nil {
		return
	}
	if err := s.mail.Send(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Warn("notification not delivered", zap.String("template", msg.Template), zap.Error(err))
	}
}

// stageRecipients returns who reviews a submission waiting at status.
func stageRecipients(n config.NotificationsConfig, status workflow.Status) []string {
	switch status {
	case workflow.StatusPendingFinance:
		return n.Finance
	case workflow.StatusPendingCofounder:
		return n.Cofounders
	case workflow.StatusPendingFounder:
		return n.Founders
	default:
		return nil
	}
}

func (s *Service) notifyReviewers(ctx context.Context, sub store.Submission, resubmitted bool) {
	status := workflow.Status(sub.Status)
	stage, ok := workflow.StageOf(status)
	if !ok {
		return
	}
	s.notify(ctx, email.Message{
		To:       stageRecipients(s.cfg.Notifications, status),
		Template: email.TemplateWorkflowReview,
		Data: email.WorkflowReviewData{
			SubmissionID: sub.ID,
			Title:        sub.Title,
			Amount:       export.FormatAmount(sub.AmountCents, sub.Currency),
			Submitter:    sub.SubmittedByName,
			Stage:        string(stage),
			Resubmitted:  resubmitted,
			Link:         s.link("workflow", sub.ID),
		},
	})
}

func (s *Service) notifySubmitter(ctx context.Context, sub store.Submission, decision store.Decision) {
	s.notify(ctx, email.Message{
		To:       []string{sub.SubmittedByEmail},
		Template: email.TemplateWorkflowDecision,
		Data: email.WorkflowDecisionData{
			SubmissionID: sub.ID,
			Title:        sub.Title,
			Decision:     decision.Decision,
			Actor:        decision.ActorName,
			Stage:        decision.Stage,
			Comment:      decision.Comment,
			Link:         s.link("workflow", sub.ID),
		},
	})
}

// EscalationNotifier emails the audience of an escalation tier.
type EscalationNotifier struct {
	mail       mailer
	recipients config.NotificationsConfig
	adminURL   string
}

func NewEscalationNotifier(mail *email.Service, cfg config.Config) *EscalationNotifier {
	return &EscalationNotifier{mail: mail, recipients: cfg.Notifications, adminURL: cfg.AdminBaseURL}
}

// NotifyEscalation returns an error when the tier has nobody to tell, so the
// claim is released and retried once recipients are configured.
func (n *EscalationNotifier) NotifyEscalation(ctx context.Context, action escalation.Action) error {
	to := append(audienceRecipients(n.recipients, action.Tier.Audience), action.Tier.Recipients...)
	complaint := action.Complaint
	return n.mail.Send(ctx, email.Message{
		To:       to,
		Template: email.TemplateComplaintEscalation,
		Data: email.EscalationData{
			Reference:    complaint.Reference,
			CustomerName: complaint.CustomerName,
			Subject:      firstNonBlank(complaint.Subject, complaint.Category),
			Status:       complaint.Status,
			Tier:         string(action.Tier.Name),
			Level:        action.Tier.Level,
			Age:          humanAge(action.Age),
			AssignedTo:   complaint.AssignedTo,
			Link:         n.adminURL + "/complaints/" + complaint.ID,
		},
	})
}

func audienceRecipients(n config.NotificationsConfig, audience escalation.Audience) []string {
	var list []string
	switch audience {
	case escalation.AudienceComplaintsTeam:
		list = n.ComplaintsTeam
	case escalation.AudienceManagement:
		list = n.Management
	case escalation.AudienceFounders:
		list = n.Founders
	}
	return append([]string(nil), list...)
}

// humanAge renders an age as days and hours, e.g. "2 days 4 hours".
func humanAge(age time.Duration) string {
	if age < time.Hour {
		return "less than an hour"
	}
	days := int(age / (24 * time.Hour))
	hours := int(age%(24*time.Hour)) / int(time.Hour)
	parts := make([]string, 0, 2)
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
