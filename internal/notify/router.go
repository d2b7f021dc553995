package notify

import (
	"context"
	"log/slog"

	"listing_watcher/internal/domain"
)

// Router picks the sender registered for the target's integration.
type Router struct {
	senders map[domain.Integration]DirectSender
	logger  *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		senders: make(map[domain.Integration]DirectSender),
		logger:  logger.With("component", "notify_router"),
	}
}

func (r *Router) Register(integration domain.Integration, sender DirectSender) {
	r.senders[integration] = sender
}

func (r *Router) SendDirect(ctx context.Context, target domain.NotificationTarget, message string, opts SendOptions) bool {
	sender, ok := r.senders[target.Integration]
	if !ok {
		r.logger.Warn("no sender for integration", "integration", target.Integration)
		return false
	}
	return sender.SendDirect(ctx, target, message, opts)
}

// LogSender writes messages to the log. It stands in for a terminal integration.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "log_sender")}
}

func (s *LogSender) SendDirect(_ context.Context, target domain.NotificationTarget, message string, _ SendOptions) bool {
	s.logger.Info("notification", "channel_id", target.ChannelID, "message", message)
	return true
}
