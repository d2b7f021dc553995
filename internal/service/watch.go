package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"listing_watcher/internal/domain"
)

// AddWatch registers a new search URL. The URL must be absolute http(s).
func (s *WatchService) AddWatch(ctx context.Context, rawURL string) (*domain.Watch, error) {
	normalized, err := validateURL(rawURL, "url")
	if err != nil {
		return nil, err
	}

	if s.config.RespectRobots && !s.scraper.CheckAllowed(ctx, normalized) {
		return nil, domain.NewFetchDisallowed(normalized)
	}

	watch, err := s.watches.Create(ctx, normalized)
	if err != nil {
		return nil, err
	}

	s.logger.Info("watch added", "watch_id", watch.ID, "url", watch.URL)
	return watch, nil
}

func (s *WatchService) GetWatch(ctx context.Context, id int64) (*domain.Watch, error) {
	return s.watches.Get(ctx, id)
}

func (s *WatchService) ListWatches(ctx context.Context) ([]domain.Watch, error) {
	return s.watches.List(ctx)
}

// RemoveWatch deletes the watch and all of its listings.
func (s *WatchService) RemoveWatch(ctx context.Context, id int64) error {
	if err := s.watches.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("watch removed", "watch_id", id)
	return nil
}

func (s *WatchService) SetNotificationTarget(ctx context.Context, id int64, target domain.NotificationTarget) error {
	if !target.Integration.Valid() {
		return domain.NewBadInput("unknown integration", map[string]any{"integration": target.Integration})
	}
	if strings.TrimSpace(target.ChannelID) == "" {
		return domain.NewBadInput("channel id is required", nil)
	}

	return s.updateWatch(ctx, id, func(w *domain.Watch) {
		w.NotifyOn = &target
	})
}

func (s *WatchService) ClearNotificationTarget(ctx context.Context, id int64) error {
	return s.updateWatch(ctx, id, func(w *domain.Watch) {
		w.NotifyOn = nil
	})
}

func (s *WatchService) SetWebhook(ctx context.Context, id int64, rawURL string) error {
	normalized, err := validateURL(rawURL, "webhook")
	if err != nil {
		return err
	}
	return s.updateWatch(ctx, id, func(w *domain.Watch) {
		w.Webhook = &normalized
	})
}

func (s *WatchService) ClearWebhook(ctx context.Context, id int64) error {
	return s.updateWatch(ctx, id, func(w *domain.Watch) {
		w.Webhook = nil
	})
}

// ForceRecheck makes the watch due on the next scheduler pass.
func (s *WatchService) ForceRecheck(ctx context.Context, id int64) error {
	return s.watches.ResetChecked(ctx, id)
}

func (s *WatchService) SetPriceAlert(ctx context.Context, watchID, listingID int64, enabled bool) error {
	return s.listings.SetPriceAlert(ctx, watchID, listingID, enabled)
}

func (s *WatchService) Listings(ctx context.Context, watchID int64, includeInactive bool) ([]domain.Listing, error) {
	if _, err := s.watches.Get(ctx, watchID); err != nil {
		return nil, err
	}
	return s.listings.ListByWatch(ctx, watchID, includeInactive)
}

// DueWatches returns the watches whose last check is at least interval old.
func (s *WatchService) DueWatches(ctx context.Context, interval time.Duration) ([]domain.Watch, error) {
	return s.watches.DueForCheck(ctx, interval, s.now())
}

func (s *WatchService) updateWatch(ctx context.Context, id int64, mutate func(w *domain.Watch)) error {
	watch, err := s.watches.Get(ctx, id)
	if err != nil {
		return err
	}
	mutate(watch)
	return s.watches.Update(ctx, watch)
}

func validateURL(raw, field string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", domain.NewBadInput("invalid "+field+": absolute http(s) URL required", map[string]any{field: raw})
	}
	return u.String(), nil
}
