// Package notify formats watch events and fans them out to the direct-message target and
// the webhook of a watch.
package notify

import (
	"context"
	"log/slog"
	"maps"

	"listing_watcher/internal/domain"
	"listing_watcher/internal/webhook"
)

const unknownPrice = "unknown"

type SendOptions struct {
	NoPreview bool
}

type DirectSender interface {
	SendDirect(ctx context.Context, target domain.NotificationTarget, message string, opts SendOptions) bool
}

type WebhookDeliverer interface {
	Deliver(ctx context.Context, endpoint, message string, opts webhook.Options) bool
}

type Dispatcher struct {
	direct  DirectSender
	hooks   WebhookDeliverer
	options webhook.Options
	logger  *slog.Logger
}

// NewDispatcher accepts nil senders; a watch target without a sender counts as a failed delivery.
func NewDispatcher(direct DirectSender, hooks WebhookDeliverer, options webhook.Options, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		direct:  direct,
		hooks:   hooks,
		options: options,
		logger:  logger.With("component", "notify"),
	}
}

// NotifyNew sends one new_listing message per listing to every configured target of the watch.
func (d *Dispatcher) NotifyNew(ctx context.Context, watch domain.Watch, listings []domain.Listing) []bool {
	var results []bool
	for _, l := range listings {
		msg := FormatMessage(EventNewListing, map[string]any{
			"title":       l.Title,
			"price":       l.Price,
			"city":        l.City,
			"seller_name": l.SellerName,
			"url":         l.URL,
		})
		results = append(results, d.fanOut(ctx, watch, EventNewListing, l.ID, msg)...)
	}
	return results
}

// NotifyPriceChange is NotifyNew for price changes, skipping listings without price alerts.
func (d *Dispatcher) NotifyPriceChange(ctx context.Context, watch domain.Watch, listings []domain.Listing) []bool {
	var results []bool
	for _, l := range listings {
		if !l.PriceAlert {
			continue
		}

		var oldPrice any = unknownPrice
		if prev, ok := l.PreviousPrice(); ok {
			oldPrice = prev
		}

		msg := FormatMessage(EventPriceChange, map[string]any{
			"title":     l.Title,
			"old_price": oldPrice,
			"new_price": l.Price,
			"city":      l.City,
			"url":       l.URL,
		})
		results = append(results, d.fanOut(ctx, watch, EventPriceChange, l.ID, msg)...)
	}
	return results
}

func (d *Dispatcher) fanOut(ctx context.Context, watch domain.Watch, kind EventKind, listingID int64, msg string) []bool {
	var results []bool

	if watch.NotifyOn != nil {
		ok := false
		if d.direct != nil {
			ok = d.direct.SendDirect(ctx, *watch.NotifyOn, msg, SendOptions{NoPreview: true})
		}
		if !ok {
			d.logger.Warn("direct notification failed",
				"watch_id", watch.ID,
				"listing_id", listingID,
				"integration", watch.NotifyOn.Integration,
			)
		}
		results = append(results, ok)
	}

	if watch.HasWebhook() {
		ok := false
		if d.hooks != nil {
			ok = d.hooks.Deliver(ctx, *watch.Webhook, msg, d.webhookOptions(watch, kind, listingID))
		}
		if !ok {
			d.logger.Warn("webhook notification failed",
				"watch_id", watch.ID,
				"listing_id", listingID,
			)
		}
		results = append(results, ok)
	}

	return results
}

func (d *Dispatcher) webhookOptions(watch domain.Watch, kind EventKind, listingID int64) webhook.Options {
	opts := d.options
	opts.Extra = maps.Clone(d.options.Extra)
	if opts.Extra == nil {
		opts.Extra = map[string]any{}
	}
	opts.Extra["event"] = string(kind)
	opts.Extra["watch_id"] = watch.ID
	if listingID != 0 {
		opts.Extra["listing_id"] = listingID
	}
	return opts
}
