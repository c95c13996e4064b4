package notify

import (
	"context"
	"log/slog"

	"coursewatch/internal/domain"
)

// Notifier delivers a decided alert to the end user. Implementations are
// fire-and-forget: they log their own failures and never propagate them
// back into reconciliation.
type Notifier interface {
	Notify(ctx context.Context, action domain.AlertAction, sectionID, courseLabel string)
}

// LogNotifier writes alerts to the log only. It is the fallback when no
// mail transport is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, action domain.AlertAction, sectionID, courseLabel string) {
	if action == domain.ActionNone {
		return
	}
	n.Logger.Info("alert",
		"action", action.String(),
		"section_id", sectionID,
		"course", courseLabel,
	)
}
