// Package email sends notification emails via SMTP. Without SMTP settings
// messages are logged and dropped.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"backoffice/api/internal/metrics"
	"backoffice/api/internal/util"
)

var ErrNoRecipients = errors.New("email has no recipients")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// AppName is shown in templates and subjects.
	AppName string
}

// Message is one templated email.
type Message struct {
	To       []string
	Template string
	Data     any
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config  Config
	server  string
	auth    smtp.Auth
	send    sendFunc
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a new email service. logger and m may be nil.
func NewService(config Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.AppName == "" {
		config.AppName = "Back Office"
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config:  config,
		server:  config.Host + ":" + config.Port,
		auth:    auth,
		send:    smtp.SendMail,
		logger:  logger.Named("email"),
		metrics: m,
		now:     time.Now,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Send renders msg and delivers it. Unconfigured services log the message and
// return nil.
func (s *Service) Send(ctx context.Context, msg Message) error {
	to := dedupe(msg.To)
	if len(to) == 0 {
		s.metrics.EmailDelivery(msg.Template, "skipped")
		s.logger.Warn("email has no recipients", zap.String("template", msg.Template))
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, body, err := render(msg.Template, templateData{App: s.config.AppName, Data: msg.Data})
	if err != nil {
		s.metrics.EmailDelivery(msg.Template, "error")
		return err
	}

	if !s.IsConfigured() {
		s.metrics.EmailDelivery(msg.Template, "dropped")
		s.logger.Info("smtp not configured, email dropped",
			zap.String("template", msg.Template),
			zap.Strings("to", to),
			zap.String("subject", subject),
		)
		return nil
	}

	if err := s.send(s.server, s.auth, s.config.From, to, s.compose(to, subject, body)); err != nil {
		s.metrics.EmailDelivery(msg.Template, "error")
		s.logger.Error("email delivery failed", zap.String("template", msg.Template), zap.Strings("to", to), zap.Error(err))
		return fmt.Errorf("send %s email: %w", msg.Template, err)
	}
	s.metrics.EmailDelivery(msg.Template, "sent")
	s.logger.Debug("email sent", zap.String("template", msg.Template), zap.Strings("to", to))
	return nil
}

func (s *Service) compose(to []string, subject, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
	}
	boundary := util.NewID("part")

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

func dedupe(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, address := range addresses {
		address = strings.TrimSpace(address)
		key := strings.ToLower(address)
		if address == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, address)
	}
	return out
}
