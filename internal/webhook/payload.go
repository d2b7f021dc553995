package webhook

import (
	"time"
)

type Kind string

const (
	KindDiscord Kind = "discord"
	KindSlack   Kind = "slack"
	KindGeneric Kind = "generic"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDiscord, KindSlack, KindGeneric:
		return true
	}
	return false
}

// Kinds lists the supported payload shapes.
func Kinds() []Kind {
	return []Kind{KindDiscord, KindSlack, KindGeneric}
}

const (
	DefaultUsername = "listing-watcher"
	DefaultSource   = "listing-watcher"
)

// Options controls the payload shape and the request headers of one delivery.
type Options struct {
	Kind        Kind
	Username    string
	AvatarURL   string
	TTS         bool
	Embeds      []map[string]any
	Attachments []map[string]any
	Source      string
	Extra       map[string]any
	Headers     map[string]string
}

// BuildPayload renders message for the given kind. Unknown kinds use the generic shape.
func BuildPayload(message string, opts Options, now time.Time) map[string]any {
	switch opts.Kind {
	case KindDiscord:
		return discordPayload(message, opts)
	case KindSlack:
		return slackPayload(message, opts)
	default:
		return genericPayload(message, opts, now)
	}
}

func discordPayload(message string, opts Options) map[string]any {
	p := map[string]any{
		"content":  message,
		"username": usernameOrDefault(opts.Username),
		"tts":      opts.TTS,
	}
	if opts.AvatarURL != "" {
		p["avatar_url"] = opts.AvatarURL
	}
	if len(opts.Embeds) > 0 {
		p["embeds"] = opts.Embeds
	}
	return p
}

func slackPayload(message string, opts Options) map[string]any {
	p := map[string]any{
		"text":     message,
		"username": usernameOrDefault(opts.Username),
	}
	if opts.AvatarURL != "" {
		p["icon_url"] = opts.AvatarURL
	}
	if len(opts.Attachments) > 0 {
		p["attachments"] = opts.Attachments
	}
	return p
}

// genericPayload lets extra fields through but never over the core keys.
func genericPayload(message string, opts Options, now time.Time) map[string]any {
	p := make(map[string]any, len(opts.Extra)+3)
	for k, v := range opts.Extra {
		p[k] = v
	}

	source := opts.Source
	if source == "" {
		source = DefaultSource
	}
	p["message"] = message
	p["timestamp"] = now.UTC().Format(time.RFC3339)
	p["source"] = source
	return p
}

func usernameOrDefault(name string) string {
	if name == "" {
		return DefaultUsername
	}
	return name
}
