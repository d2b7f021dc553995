// Package telegram sends direct notifications through the Telegram Bot API and turns
// incoming chat messages into domain.InboundMessage events.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"listing_watcher/internal/domain"
	"listing_watcher/internal/notify"
)

const (
	chunkSize     = 4000
	updateTimeout = 60
	inboundBuffer = 32
	// requestTimeout has to outlast the long poll of getUpdates.
	requestTimeout = 90 * time.Second
)

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Client struct {
	api     botAPI
	allowed map[int64]struct{}
	logger  *slog.Logger
}

func New(token string, allowedChats []int64, logger *slog.Logger) (*Client, error) {
	if token == "" {
		return nil, domain.NewValidation("telegram token is empty", nil)
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: requestTimeout})
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	api.Debug = false
	logger.Info("telegram bot authorized", "username", api.Self.UserName)

	return newClient(api, allowedChats, logger), nil
}

func newClient(api botAPI, allowedChats []int64, logger *slog.Logger) *Client {
	allowed := make(map[int64]struct{}, len(allowedChats))
	for _, id := range allowedChats {
		allowed[id] = struct{}{}
	}
	return &Client{
		api:     api,
		allowed: allowed,
		logger:  logger.With("component", "telegram"),
	}
}

// SendDirect writes message to the chat named by target.ChannelID in chunks Telegram accepts.
func (c *Client) SendDirect(ctx context.Context, target domain.NotificationTarget, message string, opts notify.SendOptions) bool {
	chatID, err := strconv.ParseInt(target.ChannelID, 10, 64)
	if err != nil {
		c.logger.Warn("invalid telegram chat id", "channel_id", target.ChannelID)
		return false
	}

	for _, chunk := range SplitChunks(Escape(message), chunkSize) {
		if ctx.Err() != nil {
			return false
		}
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.DisableWebPagePreview = opts.NoPreview

		if _, err := c.api.Send(msg); err != nil {
			c.logger.Error("failed to send telegram message", "chat_id", chatID, "error", err)
			return false
		}
	}
	return true
}

// Listen polls for updates until ctx is done. Messages from chats outside the allow list
// are answered and dropped. The returned channel closes when polling stops.
func (c *Client) Listen(ctx context.Context) <-chan domain.InboundMessage {
	out := make(chan domain.InboundMessage, inboundBuffer)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout
	updates := c.api.GetUpdatesChan(u)

	go func() {
		defer close(out)
		defer c.api.StopReceivingUpdates()

		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				msg, ok := c.toInbound(update)
				if !ok {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func (c *Client) toInbound(update tgbotapi.Update) (domain.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.Chat == nil || strings.TrimSpace(m.Text) == "" {
		return domain.InboundMessage{}, false
	}

	if !c.isAllowed(m.Chat.ID) {
		c.logger.Warn("message from unauthorized chat", "chat_id", m.Chat.ID)
		reply := tgbotapi.NewMessage(m.Chat.ID, "You are not authorized to use this bot.")
		if _, err := c.api.Send(reply); err != nil {
			c.logger.Debug("failed to answer unauthorized chat", "error", err)
		}
		return domain.InboundMessage{}, false
	}

	userID := "unknown"
	if m.From != nil {
		userID = strconv.FormatInt(m.From.ID, 10)
	}

	return domain.InboundMessage{
		Integration: domain.IntegrationTelegram,
		ChannelID:   strconv.FormatInt(m.Chat.ID, 10),
		UserID:      userID,
		Text:        m.Text,
		ReceivedAt:  time.Unix(int64(m.Date), 0),
	}, true
}

func (c *Client) isAllowed(chatID int64) bool {
	if len(c.allowed) == 0 {
		return true
	}
	_, ok := c.allowed[chatID]
	return ok
}

var codeSpan = regexp.MustCompile("(?s)(```.*?```|`[^`\n]*`)")

const escapable = "_*~`"

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "~", `\~`, "`", "\\`")

// Escape backslash-escapes Markdown control characters outside code spans.
func Escape(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range codeSpan.FindAllStringIndex(text, -1) {
		b.WriteString(markdownEscaper.Replace(text[last:loc[0]]))
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(markdownEscaper.Replace(text[last:]))
	return b.String()
}

// SplitChunks cuts text into pieces of at most size runes. A chunk never ends
// between a backslash and the control character it escapes.
func SplitChunks(text string, size int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if end < len(runes) && end-start > 1 && runes[end-1] == '\\' && strings.ContainsRune(escapable, runes[end]) {
			end--
		}
		chunks = append(chunks, string(runes[start:end]))
		start = end
	}
	return chunks
}
