package email

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

const (
	TemplateWorkflowReview      = "workflow_review"
	TemplateWorkflowDecision    = "workflow_decision"
	TemplateComplaintReceived   = "complaint_received"
	TemplateComplaintNew        = "complaint_new"
	TemplateComplaintResolved   = "complaint_resolved"
	TemplateComplaintEscalation = "complaint_escalation"
	TemplateApplicationReceived = "application_received"
	TemplateApplicationNew      = "application_new"
	TemplatePasswordReset       = "password_reset"
	TemplateAccountInvite       = "account_invite"
)

// WorkflowReviewData asks the next stage's approvers to act.
type WorkflowReviewData struct {
	SubmissionID string
	Title        string
	Amount       string
	Submitter    string
	Stage        string
	Resubmitted  bool
	Link         string
}

// WorkflowDecisionData tells the submitter what happened.
type WorkflowDecisionData struct {
	SubmissionID string
	Title        string
	Decision     string
	Actor        string
	Stage        string
	Comment      string
	Link         string
}

type ComplaintData struct {
	Reference    string
	CustomerName string
	Email        string
	Category     string
	Subject      string
	Message      string
	Link         string
}

type EscalationData struct {
	Reference    string
	CustomerName string
	Subject      string
	Status       string
	Tier         string
	Level        int
	Age          string
	AssignedTo   string
	Link         string
}

type ApplicationData struct {
	FullName string
	Email    string
	Position string
	Link     string
}

type PasswordResetData struct {
	UserName string
	ResetURL string
}

type InviteData struct {
	UserName string
	Role     string
	SetupURL string
}

type templateData struct {
	App  string
	Data any
}

//go:embed templates/*.html
var templateFS embed.FS

var subjects = map[string]string{
	TemplateWorkflowReview:      `{{if .Data.Resubmitted}}Resubmitted{{else}}Approval needed{{end}}: {{.Data.Title}}`,
	TemplateWorkflowDecision:    `{{.Data.Title}} was {{decision .Data.Decision}}`,
	TemplateComplaintReceived:   `We received your complaint {{.Data.Reference}}`,
	TemplateComplaintNew:        `New complaint {{.Data.Reference}}: {{.Data.Subject}}`,
	TemplateComplaintResolved:   `Your complaint {{.Data.Reference}} has been resolved`,
	TemplateComplaintEscalation: `{{if eq .Data.Level 0}}Reminder{{else}}Escalation level {{.Data.Level}}{{end}}: complaint {{.Data.Reference}} open for {{.Data.Age}}`,
	TemplateApplicationReceived: `Thank you for applying for {{.Data.Position}}`,
	TemplateApplicationNew:      `New application: {{.Data.FullName}} for {{.Data.Position}}`,
	TemplatePasswordReset:       `Reset your {{.App}} password`,
	TemplateAccountInvite:       `Your {{.App}} account is ready`,
}

var funcs = map[string]any{
	"decision": decisionWord,
}

var (
	subjectTemplates = map[string]*texttemplate.Template{}
	bodyTemplates    = map[string]*htmltemplate.Template{}
)

func init() {
	for name, subject := range subjects {
		subjectTemplates[name] = texttemplate.Must(texttemplate.New(name).Funcs(funcs).Parse(subject))
		bodyTemplates[name] = htmltemplate.Must(htmltemplate.New("layout.html").Funcs(funcs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"))
	}
}

// Templates lists every registered template name.
func Templates() []string {
	names := make([]string, 0, len(subjects))
	for name := range subjects {
		names = append(names, name)
	}
	return names
}

func render(name string, data templateData) (string, string, error) {
	subjectTmpl, ok := subjectTemplates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", name)
	}
	var subject bytes.Buffer
	if err := subjectTmpl.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", name, err)
	}
	var body bytes.Buffer
	if err := bodyTemplates[name].Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", name, err)
	}
	return strings.Join(strings.Fields(subject.String()), " "), body.String(), nil
}

func decisionWord(decision string) string {
	switch decision {
	case "approve":
		return "approved"
	case "reject":
		return "rejected"
	case "request_changes":
		return "sent back for changes"
	default:
		return decision
	}
}
