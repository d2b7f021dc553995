package domain

import "time"

type Integration string

const (
	IntegrationTelegram Integration = "telegram"
	IntegrationLog      Integration = "log"
)

func (i Integration) Valid() bool {
	switch i {
	case IntegrationTelegram, IntegrationLog:
		return true
	}
	return false
}

// NotificationTarget is a direct-message destination. It is independent of the webhook URL.
type NotificationTarget struct {
	ChannelID   string      `json:"channel_id"`
	Integration Integration `json:"integration"`
}

type Watch struct {
	ID          int64               `json:"id"`
	URL         string              `json:"url"`
	LastChecked int64               `json:"last_checked"` // epoch seconds, 0 = never checked
	NotifyOn    *NotificationTarget `json:"notify_on,omitempty"`
	Webhook     *string             `json:"webhook,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

func (w Watch) IsDue(interval time.Duration, now time.Time) bool {
	return now.Unix()-w.LastChecked >= int64(interval/time.Second)
}

func (w Watch) HasWebhook() bool {
	return w.Webhook != nil && *w.Webhook != ""
}
