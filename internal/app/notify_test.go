package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"

	"backoffice/api/internal/email"
	"backoffice/api/internal/escalation"
	"backoffice/api/internal/store"
	"backoffice/api/internal/workflow"
)

func TestHumanAge(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want string
	}{
		{30 * time.Minute, "less than an hour"},
		{time.Hour, "1 hour"},
		{49 * time.Hour, "2 days 1 hour"},
		{72 * time.Hour, "3 days"},
		{6*24*time.Hour + 5*time.Hour, "6 days 5 hours"},
	}
	for _, tc := range cases {
		if got := humanAge(tc.age); got != tc.want {
			t.Fatalf("humanAge(%s) = %q, want %q", tc.age, got, tc.want)
		}
	}
}

func TestEscalationNotifierAudience(t *testing.T) {
	mail := &recordingMailer{}
	cfg := testConfig()
	notifier := &EscalationNotifier{mail: mail, recipients: cfg.Notifications, adminURL: cfg.AdminBaseURL}

	action := escalation.Action{
		Tier: escalation.Tier{
			Name:       "founders",
			Audience:   escalation.AudienceFounders,
			Level:      2,
			Recipients: []string{"board@example.com"},
		},
		Age: 6*24*time.Hour + 2*time.Hour,
		Complaint: store.Complaint{
			ID:           "cmp_1",
			Reference:    "CMP-20260301-ABC123",
			CustomerName: "Grace",
			Category:     "billing",
			Status:       ComplaintInProgress,
		},
	}
	if err := notifier.NotifyEscalation(context.Background(), action); err != nil {
		t.Fatalf("notify: %v", err)
	}
	sent := mail.byTemplate(email.TemplateComplaintEscalation)
	if len(sent) != 1 {
		t.Fatalf("expected one escalation email, got %d", len(sent))
	}
	if fmt.Sprint(sent[0].To) != "[founders@example.com board@example.com]" {
		t.Fatalf("unexpected recipients %v", sent[0].To)
	}
	data := sent[0].Data.(email.EscalationData)
	if data.Subject != "billing" || data.Age != "6 days 2 hours" || data.Link != "https://admin.example.com/complaints/cmp_1" {
		t.Fatalf("unexpected email data %+v", data)
	}

	notifier.recipients.Founders = nil
	action.Tier.Recipients = nil
	if err := notifier.NotifyEscalation(context.Background(), action); !errors.Is(err, email.ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients without an audience, got %v", err)
	}
}

func TestNotifyFailureDoesNotFailRequest(t *testing.T) {
	fs := newFakeStore()
	installSubmissions(fs)
	svc, mail := newTestService(fs)
	mail.err = errors.New("smtp down")
	handler := NewHTTPServer(svc, "*").Handler()
	editor := tokenFor(t, svc, fs, "usr_editor", "editor")

	submitOne(t, handler, editor)
	if len(mail.byTemplate(email.TemplateWorkflowReview)) != 1 {
		t.Fatalf("expected the send to be attempted")
	}
}

func TestStageRecipients(t *testing.T) {
	n := testConfig().Notifications
	if got := stageRecipients(n, workflow.StatusPendingCofounder); len(got) != 1 || got[0] != "cofounders@example.com" {
		t.Fatalf("unexpected cofounder recipients %v", got)
	}
	if got := stageRecipients(n, workflow.StatusApproved); got != nil {
		t.Fatalf("expected nobody for approved, got %v", got)
	}
}

func TestMapError(t *testing.T) {
	type sample struct {
		Email string `json:"email" validate:"required,email"`
	}
	invalid := validate.Struct(sample{Email: "nope"})

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"domain", domainError(http.StatusTeapot, "TEAPOT", "short and stout", nil), http.StatusTeapot, "TEAPOT"},
		{"not found", fmt.Errorf("load: %w", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"stale", store.ErrStaleStatus, http.StatusConflict, "STALE_STATUS"},
		{"stage owner", workflow.ErrNotStageOwner, http.StatusForbidden, "NOT_STAGE_OWNER"},
		{"validation", invalid, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code, _, _ := mapError(tc.err)
			if status != tc.status || code != tc.code {
				t.Fatalf("mapError(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
			}
		})
	}

	_, _, _, details := mapError(invalid)
	if fields, ok := details.(map[string]string); !ok || fields["email"] != "email" {
		t.Fatalf("expected json field names in details, got %#v", details)
	}
	var verrs validator.ValidationErrors
	if !errors.As(invalid, &verrs) {
		t.Fatalf("expected validator errors")
	}
}
