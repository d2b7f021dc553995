// Package bot turns inbound chat messages into watch management commands.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"listing_watcher/internal/domain"
	"listing_watcher/internal/notify"
)

type WatchManager interface {
	AddWatch(ctx context.Context, url string) (*domain.Watch, error)
	ListWatches(ctx context.Context) ([]domain.Watch, error)
	RemoveWatch(ctx context.Context, id int64) error
	SetNotificationTarget(ctx context.Context, id int64, target domain.NotificationTarget) error
	SetWebhook(ctx context.Context, id int64, url string) error
	ClearWebhook(ctx context.Context, id int64) error
	SetPriceAlert(ctx context.Context, watchID, listingID int64, enabled bool) error
	Listings(ctx context.Context, watchID int64, includeInactive bool) ([]domain.Listing, error)
	GetWatch(ctx context.Context, id int64) (*domain.Watch, error)
}

type JobSubmitter interface {
	Submit(jobType domain.JobType, watchID int64) (*domain.Job, error)
}

const helpText = `Commands:
/add <url> - watch a search page
/list - list watches
/remove <id> - stop watching
/notifyhere <id> - send notifications for a watch to this chat
/webhook <id> <url> - set a webhook
/clearwebhook <id> - remove the webhook
/rescrape <id> - check a watch now
/pricealert <watch_id> <listing_id> on|off - toggle price alerts
/listings <id> - show active listings
/help - this message`

const maxListingsShown = 20

type Handler struct {
	watches WatchManager
	jobs    JobSubmitter
	replies notify.DirectSender
	logger  *slog.Logger
}

func NewHandler(watches WatchManager, jobs JobSubmitter, replies notify.DirectSender, logger *slog.Logger) *Handler {
	return &Handler{
		watches: watches,
		jobs:    jobs,
		replies: replies,
		logger:  logger.With("component", "bot"),
	}
}

// Run handles messages until ctx is cancelled or in is closed.
func (h *Handler) Run(ctx context.Context, in <-chan domain.InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			h.Handle(ctx, msg)
		}
	}
}

func (h *Handler) Handle(ctx context.Context, msg domain.InboundMessage) {
	args := strings.Fields(msg.Text)
	if len(args) == 0 {
		return
	}

	command := strings.ToLower(args[0])
	if idx := strings.Index(command, "@"); idx > 0 {
		command = command[:idx]
	}
	if !strings.HasPrefix(command, "/") {
		return
	}
	args = args[1:]

	h.logger.Info("command received",
		"command", command,
		"channel_id", msg.ChannelID,
		"integration", msg.Integration,
	)

	var (
		reply string
		err   error
	)
	switch command {
	case "/start", "/help":
		reply = helpText
	case "/add":
		reply, err = h.add(ctx, args)
	case "/list":
		reply, err = h.list(ctx)
	case "/remove":
		reply, err = h.remove(ctx, args)
	case "/notifyhere":
		reply, err = h.notifyHere(ctx, msg, args)
	case "/webhook":
		reply, err = h.setWebhook(ctx, args)
	case "/clearwebhook":
		reply, err = h.clearWebhook(ctx, args)
	case "/rescrape":
		reply, err = h.rescrape(ctx, args)
	case "/pricealert":
		reply, err = h.priceAlert(ctx, args)
	case "/listings":
		reply, err = h.listings(ctx, args)
	default:
		reply = "Unknown command. Use /help to see the available commands."
	}

	if err != nil {
		h.logger.Warn("command failed", "command", command, "error", err)
		reply = "❌ " + describe(err)
	}
	h.reply(ctx, msg, reply)
}

func (h *Handler) reply(ctx context.Context, msg domain.InboundMessage, text string) {
	target := domain.NotificationTarget{ChannelID: msg.ChannelID, Integration: msg.Integration}
	if !h.replies.SendDirect(ctx, target, text, notify.SendOptions{NoPreview: true}) {
		h.logger.Warn("reply not delivered", "channel_id", msg.ChannelID, "integration", msg.Integration)
	}
}

func (h *Handler) add(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /add <url>", nil
	}
	watch, err := h.watches.AddWatch(ctx, args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Watch #%d added: %s", watch.ID, watch.URL), nil
}

func (h *Handler) list(ctx context.Context) (string, error) {
	watches, err := h.watches.ListWatches(ctx)
	if err != nil {
		return "", err
	}
	if len(watches) == 0 {
		return "No watches yet. Use /add <url>.", nil
	}

	var b strings.Builder
	b.WriteString("Watches:")
	for _, w := range watches {
		fmt.Fprintf(&b, "\n#%d %s", w.ID, w.URL)
		if w.NotifyOn != nil {
			fmt.Fprintf(&b, " [%s]", w.NotifyOn.Integration)
		}
		if w.HasWebhook() {
			b.WriteString(" [webhook]")
		}
	}
	return b.String(), nil
}

func (h *Handler) remove(ctx context.Context, args []string) (string, error) {
	id, err := singleID(args, "/remove <id>")
	if err != nil {
		return "", err
	}
	if err := h.watches.RemoveWatch(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("🗑 Watch #%d removed", id), nil
}

func (h *Handler) notifyHere(ctx context.Context, msg domain.InboundMessage, args []string) (string, error) {
	id, err := singleID(args, "/notifyhere <id>")
	if err != nil {
		return "", err
	}
	target := domain.NotificationTarget{ChannelID: msg.ChannelID, Integration: msg.Integration}
	if err := h.watches.SetNotificationTarget(ctx, id, target); err != nil {
		return "", err
	}
	return fmt.Sprintf("🔔 Notifications for watch #%d will be sent here", id), nil
}

func (h *Handler) setWebhook(ctx context.Context, args []string) (string, error) {
	if len(args) != 2 {
		return "Usage: /webhook <id> <url>", nil
	}
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	if err := h.watches.SetWebhook(ctx, id, args[1]); err != nil {
		return "", err
	}
	return fmt.Sprintf("🔗 Webhook set for watch #%d", id), nil
}

func (h *Handler) clearWebhook(ctx context.Context, args []string) (string, error) {
	id, err := singleID(args, "/clearwebhook <id>")
	if err != nil {
		return "", err
	}
	if err := h.watches.ClearWebhook(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Webhook removed from watch #%d", id), nil
}

func (h *Handler) rescrape(ctx context.Context, args []string) (string, error) {
	id, err := singleID(args, "/rescrape <id>")
	if err != nil {
		return "", err
	}
	if _, err := h.watches.GetWatch(ctx, id); err != nil {
		return "", err
	}
	job, err := h.jobs.Submit(domain.JobTypeRescrape, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🔄 Rescrape of watch #%d queued (job %s)", id, job.ID), nil
}

func (h *Handler) priceAlert(ctx context.Context, args []string) (string, error) {
	const usage = "/pricealert <watch_id> <listing_id> on|off"
	if len(args) != 3 {
		return "Usage: " + usage, nil
	}
	watchID, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	listingID, err := parseID(args[1])
	if err != nil {
		return "", err
	}

	var enabled bool
	switch strings.ToLower(args[2]) {
	case "on":
		enabled = true
	case "off":
	default:
		return "", domain.NewBadInput("usage: "+usage, map[string]any{"state": args[2]})
	}

	if err := h.watches.SetPriceAlert(ctx, watchID, listingID, enabled); err != nil {
		return "", err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return fmt.Sprintf("Price alert %s for listing %d", state, listingID), nil
}

func (h *Handler) listings(ctx context.Context, args []string) (string, error) {
	id, err := singleID(args, "/listings <id>")
	if err != nil {
		return "", err
	}
	listings, err := h.watches.Listings(ctx, id, false)
	if err != nil {
		return "", err
	}
	if len(listings) == 0 {
		return fmt.Sprintf("Watch #%d has no active listings", id), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Watch #%d: %d active listings", id, len(listings))
	for i, l := range listings {
		if i == maxListingsShown {
			fmt.Fprintf(&b, "\n… and %d more", len(listings)-maxListingsShown)
			break
		}
		fmt.Fprintf(&b, "\n%d %s (%s)", l.ID, l.Title, notify.FormatPrice(l.Price))
		if l.PriceAlert {
			b.WriteString(" 🔔")
		}
	}
	return b.String(), nil
}

func singleID(args []string, usage string) (int64, error) {
	if len(args) != 1 {
		return 0, domain.NewBadInput("usage: "+usage, nil)
	}
	return parseID(args[0])
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewBadInput("invalid id "+strconv.Quote(raw), map[string]any{"id": raw})
	}
	return id, nil
}

func describe(err error) string {
	switch domain.TextCode(err) {
	case domain.TextCodeNotFound:
		return "Not found: " + domain.Message(err)
	case domain.TextCodeQueueFull:
		return "Too many pending jobs, try again later"
	}
	return domain.Message(err)
}
