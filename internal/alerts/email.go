package alerts

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/registry-monitor/internal/model"
)

// EmailConfig holds the SMTP settings shared by all paths
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailBackend mails notifications to the recipients configured for a path
type EmailBackend struct {
	logger   *zap.Logger
	config   EmailConfig
	sendMail sendMailFunc
}

// NewEmailBackend creates an email backend
func NewEmailBackend(config EmailConfig, logger *zap.Logger) *EmailBackend {
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 25
	}
	if config.From == "" {
		config.From = "registry-monitor@localhost"
	}

	return &EmailBackend{
		logger:   logger.Named("email"),
		config:   config,
		sendMail: smtp.SendMail,
	}
}

// Name implements Backend
func (e *EmailBackend) Name() string { return "email" }

// Send implements Backend
func (e *EmailBackend) Send(ctx context.Context, n model.Notification, params model.Params) error {
	recipients := splitRecipients(params["email"])
	if len(recipients) == 0 {
		e.logger.Error("No email recipients configured", zap.String("path", n.Path))
		return fmt.Errorf("%w: email", ErrMissingParam)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	subject := n.Message
	if subject == "" {
		subject = fmt.Sprintf("%s is %s", n.Path, n.State)
	}

	body := n.Message
	if custom := params["body"]; custom != "" {
		body = custom
	}

	var auth smtp.Auth
	if e.config.Username != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	}

	addr := e.config.Host + ":" + strconv.Itoa(e.config.Port)
	msg := buildMessage(e.config.From, recipients, subject, body, time.Now())

	if err := e.sendMail(addr, auth, e.config.From, recipients, msg); err != nil {
		e.logger.Error("Message send failed",
			zap.Strings("recipients", recipients),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info("Message sent successfully", zap.Strings("recipients", recipients))
	return nil
}

func splitRecipients(raw string) []string {
	var out []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func buildMessage(from string, to []string, subject, body string, now time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// sanitizeHeader keeps a reason containing newlines from injecting headers
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
