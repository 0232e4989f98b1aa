package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var approvalTemplate = template.Must(template.New("approval.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.UTC().Format(layout)
	},
	"statusLabel":   label,
	"decisionLabel": decisionLabel,
}).ParseFS(templateFS, "templates/approval.html"))

// TemplateData holds data for the approval template.
type TemplateData struct {
	ID          string
	Title       string
	Description string
	Amount      string
	Category    string
	Status      string
	Revision    int
	SubmittedBy string
	SubmittedAt time.Time
	GeneratedAt time.Time
	Decisions   []TemplateDecision
}

type TemplateDecision struct {
	Stage     string
	Decision  string
	Actor     string
	Role      string
	Comment   string
	DecidedAt time.Time
	// Signature is a data: URI; template.URL keeps html/template from
	// rewriting it.
	Signature template.URL
}

// RenderApprovalHTML renders the approval template with provided data
func RenderApprovalHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := approvalTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func label(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func decisionLabel(decision string) string {
	switch decision {
	case "submit":
		return "submitted"
	case "approve":
		return "approved"
	case "reject":
		return "rejected"
	case "request_changes":
		return "requested changes"
	case "resubmit":
		return "resubmitted"
	default:
		return decision
	}
}
