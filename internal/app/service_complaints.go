package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"backoffice/api/internal/email"
	"backoffice/api/internal/rbac"
	"backoffice/api/internal/search"
	"backoffice/api/internal/store"
	"backoffice/api/internal/util"
)

const (
	ComplaintSent       = "sent"
	ComplaintInProgress = "in_progress"
	ComplaintResolved   = "resolved"
	ComplaintClosed     = "closed"

	referenceAttempts = 3
	attachmentURLTTL  = 15 * time.Minute
)

// complaintTransitions lists the statuses a complaint may move to from each
// status. Resolved complaints may be reopened.
var complaintTransitions = map[string][]string{
	ComplaintSent:       {ComplaintInProgress, ComplaintResolved, ComplaintClosed},
	ComplaintInProgress: {ComplaintResolved, ComplaintClosed},
	ComplaintResolved:   {ComplaintClosed, ComplaintInProgress},
}

type ComplaintInput struct {
	CustomerName   string `json:"customerName" validate:"required,max=120"`
	CustomerEmail  string `json:"customerEmail" validate:"required,email"`
	CustomerPhone  string `json:"customerPhone" validate:"max=40"`
	OrderReference string `json:"orderReference" validate:"max=60"`
	Category       string `json:"category" validate:"required,max=60"`
	Subject        string `json:"subject" validate:"max=200"`
	Message        string `json:"message" validate:"required,max=10000"`
}

type ComplaintListInput struct {
	Status string
	Level  string
	Query  string
	Limit  int
	Offset int
}

type ComplaintStatusInput struct {
	Status string `json:"status" validate:"required,oneof=sent in_progress resolved closed"`
	Note   string `json:"note" validate:"max=4000"`
}

func canTransitionComplaint(from, to string) bool {
	for _, next := range complaintTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SubmitComplaint records a customer complaint. References are random, so a
// collision is retried with a fresh one.
func (s *Service) SubmitComplaint(ctx context.Context, input ComplaintInput, attachment *Upload) (map[string]any, error) {
	input.CustomerName = strings.TrimSpace(input.CustomerName)
	input.CustomerEmail = strings.ToLower(strings.TrimSpace(input.CustomerEmail))
	input.CustomerPhone = strings.TrimSpace(input.CustomerPhone)
	input.OrderReference = strings.TrimSpace(input.OrderReference)
	input.Category = strings.TrimSpace(input.Category)
	input.Subject = strings.TrimSpace(input.Subject)
	input.Message = strings.TrimSpace(input.Message)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	id := util.NewID("cmp")
	attachmentKey := ""
	if attachment != nil && len(attachment.Data) > 0 {
		key, err := s.storeUpload(ctx, "complaints", id, *attachment)
		if err != nil {
			return nil, err
		}
		attachmentKey = key
	}

	item := store.Complaint{
		ID:             id,
		CustomerName:   input.CustomerName,
		CustomerEmail:  input.CustomerEmail,
		CustomerPhone:  input.CustomerPhone,
		OrderReference: input.OrderReference,
		Category:       input.Category,
		Subject:        input.Subject,
		Message:        input.Message,
		AttachmentKey:  attachmentKey,
	}
	var created store.Complaint
	var err error
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		item.Reference = util.NewReference("CMP", s.clock())
		created, err = s.store.InsertComplaint(ctx, item)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
	}
	if err != nil {
		if attachmentKey != "" {
			if delErr := s.blobs.Delete(context.WithoutCancel(ctx), attachmentKey); delErr != nil {
				s.logger.Warn("remove orphaned attachment", zap.String("key", attachmentKey), zap.Error(delErr))
			}
		}
		return nil, err
	}

	s.logger.Info("complaint received", zap.String("complaint", created.ID), zap.String("reference", created.Reference))
	s.indexComplaint(created)

	data := complaintEmailData(created, s.link("complaints", created.ID))
	s.notify(ctx, email.Message{To: []string{created.CustomerEmail}, Template: email.TemplateComplaintReceived, Data: data})
	s.notify(ctx, email.Message{To: s.cfg.Notifications.ComplaintsTeam, Template: email.TemplateComplaintNew, Data: data})

	return map[string]any{
		"id":        created.ID,
		"reference": created.Reference,
		"status":    created.Status,
		"createdAt": created.CreatedAt,
	}, nil
}

// LookupComplaint lets a customer check progress with the reference and the
// email the complaint was filed with. A mismatch looks like a missing
// reference.
func (s *Service) LookupComplaint(ctx context.Context, reference, emailAddress string) (map[string]any, error) {
	reference = strings.ToUpper(strings.TrimSpace(reference))
	emailAddress = strings.ToLower(strings.TrimSpace(emailAddress))
	if reference == "" || emailAddress == "" {
		return nil, validationFailed("Reference and email are required", nil)
	}
	item, err := s.store.GetComplaint(ctx, reference)
	if err != nil {
		return nil, err
	}
	if item.Reference != reference || !strings.EqualFold(item.CustomerEmail, emailAddress) {
		return nil, store.ErrNotFound
	}
	notes, err := s.store.ListComplaintNotes(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"reference":  item.Reference,
		"status":     item.Status,
		"createdAt":  item.CreatedAt,
		"updatedAt":  item.UpdatedAt,
		"resolvedAt": item.ResolvedAt,
		"timeline":   complaintTimeline(item, notes),
	}, nil
}

// TimelineEvent is one step of a complaint as the customer sees it. Staff
// note bodies never appear here.
type TimelineEvent struct {
	Event  string    `json:"event"`
	From   string    `json:"from,omitempty"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

const (
	TimelineReceived      = "received"
	TimelineStatusChanged = "status_changed"
	TimelineResolved      = "resolved"
)

// complaintTimeline orders the received event and every recorded status
// change. A resolution with no recorded change still shows up, from
// resolved_at.
func complaintTimeline(item store.Complaint, notes []store.ComplaintNote) []TimelineEvent {
	events := []TimelineEvent{{Event: TimelineReceived, Status: ComplaintSent, At: item.CreatedAt}}
	resolutionSeen := false
	for _, note := range notes {
		if note.ToStatus == "" {
			continue
		}
		events = append(events, TimelineEvent{
			Event:  TimelineStatusChanged,
			From:   note.FromStatus,
			Status: note.ToStatus,
			At:     note.CreatedAt,
		})
		if note.ToStatus == ComplaintResolved {
			resolutionSeen = true
		}
	}
	if item.ResolvedAt != nil && !resolutionSeen {
		events = append(events, TimelineEvent{Event: TimelineResolved, Status: ComplaintResolved, At: *item.ResolvedAt})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })
	return events
}

func (s *Service) ListComplaints(ctx context.Context, session Session, input ComplaintListInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionComplaintsManage); err != nil {
		return nil, err
	}
	filter := store.ComplaintFilter{Query: input.Query, Limit: input.Limit, Offset: input.Offset}
	if input.Status != "" {
		if _, ok := complaintTransitions[input.Status]; !ok && input.Status != ComplaintClosed {
			return nil, validationFailed("Unknown complaint status", nil)
		}
		filter.Status = input.Status
	}
	if input.Level != "" {
		level, err := strconv.Atoi(input.Level)
		if err != nil || level < 0 || level > 2 {
			return nil, validationFailed("Escalation level must be 0, 1 or 2", nil)
		}
		filter.EscalationLevel = &level
	}

	items, total, err := s.store.ListComplaints(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, complaintView(item))
	}
	return map[string]any{"items": views, "total": total}, nil
}

func (s *Service) GetComplaint(ctx context.Context, session Session, complaintID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionComplaintsManage); err != nil {
		return nil, err
	}
	item, err := s.store.GetComplaint(ctx, complaintID)
	if err != nil {
		return nil, err
	}
	notes, err := s.store.ListComplaintNotes(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	view := complaintView(item)
	view["message"] = item.Message
	view["notes"] = noteViews(notes)
	view["allowedStatuses"] = append([]string{}, complaintTransitions[item.Status]...)
	if item.AttachmentKey != "" && s.blobs != nil {
		url, err := s.blobs.PresignedURL(ctx, item.AttachmentKey, "", attachmentURLTTL)
		if err != nil {
			s.logger.Warn("presign attachment", zap.String("complaint", item.ID), zap.Error(err))
		} else {
			view["attachmentUrl"] = url
		}
	}
	return view, nil
}

// UpdateComplaintStatus moves a complaint along its lifecycle. Every change
// leaves a note behind, and the customer hears about resolution.
func (s *Service) UpdateComplaintStatus(ctx context.Context, session Session, complaintID string, input ComplaintStatusInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionComplaintsManage); err != nil {
		return nil, err
	}
	input.Status = strings.TrimSpace(input.Status)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	current, err := s.store.GetComplaint(ctx, complaintID)
	if err != nil {
		return nil, err
	}
	if !canTransitionComplaint(current.Status, input.Status) {
		return nil, domainError(http.StatusConflict, "INVALID_TRANSITION",
			fmt.Sprintf("Cannot move a complaint from %s to %s", current.Status, input.Status),
			map[string]any{"allowed": complaintTransitions[current.Status]})
	}

	updated, err := s.store.TransitionComplaint(ctx, current.ID, current.Status, input.Status)
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf("Status changed from %s to %s.", current.Status, updated.Status)
	if note := strings.TrimSpace(input.Note); note != "" {
		body += "\n\n" + note
	}
	if _, err := s.store.InsertComplaintNote(ctx, store.ComplaintNote{
		ID:          util.NewID("note"),
		ComplaintID: updated.ID,
		AuthorName:  session.UserName,
		Body:        body,
		FromStatus:  current.Status,
		ToStatus:    updated.Status,
	}); err != nil {
		s.logger.Warn("record status note", zap.String("complaint", updated.ID), zap.Error(err))
	}

	s.logger.Info("complaint status changed",
		zap.String("complaint", updated.ID),
		zap.String("from", current.Status),
		zap.String("to", updated.Status),
		zap.String("by", session.UserID),
	)
	s.indexComplaint(updated)
	if updated.Status == ComplaintResolved {
		s.notify(ctx, email.Message{
			To:       []string{updated.CustomerEmail},
			Template: email.TemplateComplaintResolved,
			Data:     complaintEmailData(updated, ""),
		})
	}
	return complaintView(updated), nil
}

func (s *Service) AddComplaintNote(ctx context.Context, session Session, complaintID, body string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionComplaintsManage); err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" || len(body) > 4000 {
		return nil, validationFailed("Note must be between 1 and 4000 characters", map[string]string{"body": "required"})
	}
	item, err := s.store.GetComplaint(ctx, complaintID)
	if err != nil {
		return nil, err
	}
	note, err := s.store.InsertComplaintNote(ctx, store.ComplaintNote{
		ID:          util.NewID("note"),
		ComplaintID: item.ID,
		AuthorName:  session.UserName,
		Body:        body,
	})
	if err != nil {
		return nil, err
	}
	return noteView(note), nil
}

// AssignComplaint hands the complaint to a staff member. An empty user ID
// clears the assignment.
func (s *Service) AssignComplaint(ctx context.Context, session Session, complaintID, userID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionComplaintsManage); err != nil {
		return nil, err
	}
	handler := ""
	if userID = strings.TrimSpace(userID); userID != "" {
		user, err := s.store.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, validationFailed("Unknown user", map[string]string{"userId": "exists"})
			}
			return nil, err
		}
		if user.DeactivatedAt != nil {
			return nil, validationFailed("User is deactivated", map[string]string{"userId": "active"})
		}
		handler = user.DisplayName
	}
	updated, err := s.store.AssignComplaint(ctx, complaintID, handler)
	if err != nil {
		return nil, err
	}
	s.logger.Info("complaint assigned", zap.String("complaint", updated.ID), zap.String("handler", handler), zap.String("by", session.UserID))
	return complaintView(updated), nil
}

func (s *Service) indexComplaint(item store.Complaint) {
	s.search.IndexComplaint(search.ComplaintRecord{
		ID:           item.ID,
		Reference:    item.Reference,
		CustomerName: item.CustomerName,
		Subject:      item.Subject,
		Message:      item.Message,
		Category:     item.Category,
		Status:       item.Status,
	})
}

func complaintEmailData(item store.Complaint, link string) email.ComplaintData {
	return email.ComplaintData{
		Reference:    item.Reference,
		CustomerName: item.CustomerName,
		Email:        item.CustomerEmail,
		Category:     item.Category,
		Subject:      item.Subject,
		Message:      item.Message,
		Link:         link,
	}
}

func complaintView(item store.Complaint) map[string]any {
	return map[string]any{
		"id":              item.ID,
		"reference":       item.Reference,
		"customerName":    item.CustomerName,
		"customerEmail":   item.CustomerEmail,
		"customerPhone":   item.CustomerPhone,
		"orderReference":  item.OrderReference,
		"category":        item.Category,
		"subject":         item.Subject,
		"status":          item.Status,
		"assignedTo":      item.AssignedTo,
		"escalationLevel": item.EscalationLevel,
		"reminderSentAt":  item.ReminderSentAt,
		"escalated3dAt":   item.Escalated3dAt,
		"escalated6dAt":   item.Escalated6dAt,
		"hasAttachment":   item.AttachmentKey != "",
		"resolvedAt":      item.ResolvedAt,
		"createdAt":       item.CreatedAt,
		"updatedAt":       item.UpdatedAt,
	}
}

func noteView(note store.ComplaintNote) map[string]any {
	return map[string]any{
		"id":         note.ID,
		"authorName": note.AuthorName,
		"body":       note.Body,
		"fromStatus": note.FromStatus,
		"toStatus":   note.ToStatus,
		"createdAt":  note.CreatedAt,
	}
}

func noteViews(notes []store.ComplaintNote) []map[string]any {
	out := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		out = append(out, noteView(note))
	}
	return out
}
