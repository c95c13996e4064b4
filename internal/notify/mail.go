package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"coursewatch/internal/domain"
)

// MailConfig holds the SMTP settings for outbound alerts.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// MailNotifier sends alert emails over SMTP. Send failures are logged with
// a correlation id and otherwise swallowed.
type MailNotifier struct {
	cfg    MailConfig
	logger *slog.Logger
}

func NewMailNotifier(cfg MailConfig, logger *slog.Logger) *MailNotifier {
	return &MailNotifier{cfg: cfg, logger: logger}
}

func (n *MailNotifier) Notify(ctx context.Context, action domain.AlertAction, sectionID, courseLabel string) {
	if action == domain.ActionNone {
		return
	}

	subject := subjectFor(action, sectionID)
	body := fmt.Sprintf("Go to Enroll!\n\nCourse Info: %s\n\n(This email is sent automatically by coursewatch)", courseLabel)

	if err := n.send(ctx, subject, body); err != nil {
		n.logger.Error("alert mail failed",
			"correlation_id", uuid.NewString(),
			"action", action.String(),
			"section_id", sectionID,
			"error", err,
		)
		return
	}
	n.logger.Info("alert mail sent",
		"action", action.String(),
		"section_id", sectionID,
		"course", courseLabel,
	)
}

func subjectFor(action domain.AlertAction, sectionID string) string {
	if action == domain.ActionAlertWaitlisted {
		return fmt.Sprintf("ALERT: Section %s HAS WAITLIST SEATS!", sectionID)
	}
	return fmt.Sprintf("ALERT: Section %s IS OPEN!", sectionID)
}

func (n *MailNotifier) send(ctx context.Context, subject, body string) error {
	client, err := mail.NewClient(n.cfg.Host,
		mail.WithPort(n.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.Username),
		mail.WithPassword(n.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("notify: smtp client: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(n.cfg.From); err != nil {
		return fmt.Errorf("notify: from address: %w", err)
	}
	if err := msg.To(n.cfg.To); err != nil {
		return fmt.Errorf("notify: to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	return nil
}
