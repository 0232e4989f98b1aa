package app

import (
	"context"

	"backoffice/api/internal/escalation"
	"backoffice/api/internal/rbac"
)

// RunEscalation performs one escalation pass. Cron callers are already
// authenticated by the shared secret and pass a zero Session.
func (s *Service) RunEscalation(ctx context.Context, trigger string) (escalation.RunReport, error) {
	if s.escalation == nil {
		return escalation.RunReport{}, errEscalationUnavailable
	}
	return s.escalation.Run(ctx, trigger)
}

func (s *Service) RunEscalationAs(ctx context.Context, session Session) (escalation.RunReport, error) {
	if err := s.require(session, rbac.ActionEscalationRun); err != nil {
		return escalation.RunReport{}, err
	}
	return s.RunEscalation(ctx, "manual:"+session.UserID)
}

// PreviewEscalation lists what the next run would do without sending.
func (s *Service) PreviewEscalation(ctx context.Context, session Session) (map[string]any, error) {
	if err := s.require(session, rbac.ActionEscalationRun); err != nil {
		return nil, err
	}
	if s.escalation == nil {
		return nil, errEscalationUnavailable
	}
	actions, scanned, err := s.escalation.Preview(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(actions))
	for _, action := range actions {
		items = append(items, map[string]any{
			"complaintId": action.ComplaintID,
			"reference":   action.Reference,
			"tier":        action.Tier.Name,
			"audience":    action.Tier.Audience,
			"level":       action.Tier.Level,
			"supersede":   action.Supersede,
			"age":         humanAge(action.Age),
			"status":      action.Complaint.Status,
		})
	}
	return map[string]any{"scanned": scanned, "actions": items}, nil
}
