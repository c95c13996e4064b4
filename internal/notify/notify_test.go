package notify

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"coursewatch/internal/domain"
)

func TestSubjectFor(t *testing.T) {
	if got := subjectFor(domain.ActionAlertOpen, "60035"); !strings.Contains(got, "60035") || !strings.Contains(got, "OPEN") {
		t.Errorf("unexpected open subject %q", got)
	}
	if got := subjectFor(domain.ActionAlertWaitlisted, "60035"); !strings.Contains(got, "WAITLIST") {
		t.Errorf("unexpected waitlist subject %q", got)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	n.Notify(context.Background(), domain.ActionNone, "60035", "COMP SCI 577")
	if buf.Len() != 0 {
		t.Errorf("ActionNone must not log, got %q", buf.String())
	}

	n.Notify(context.Background(), domain.ActionAlertOpen, "60035", "COMP SCI 577")
	out := buf.String()
	if !strings.Contains(out, "60035") || !strings.Contains(out, "alert-open") {
		t.Errorf("expected alert log line, got %q", out)
	}
}

func TestMailNotifierSwallowsSendFailure(t *testing.T) {
	var buf bytes.Buffer
	n := NewMailNotifier(MailConfig{
		Host: "127.0.0.1",
		Port: 1, // nothing listens here
		From: "watch@example.com",
		To:   "student@example.com",
	}, slog.New(slog.NewTextHandler(&buf, nil)))

	// must not panic or propagate; the failure shows up in the log
	n.Notify(context.Background(), domain.ActionAlertOpen, "60035", "COMP SCI 577")
	if !strings.Contains(buf.String(), "alert mail failed") {
		t.Errorf("expected failure log, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "correlation_id") {
		t.Errorf("expected correlation id in failure log, got %q", buf.String())
	}
}
