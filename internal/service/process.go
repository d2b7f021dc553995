package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"listing_watcher/internal/config"
	"listing_watcher/internal/diff"
	"listing_watcher/internal/domain"
)

type WatchService struct {
	scraper   Scraper
	watches   WatchStore
	listings  ListingStore
	txManager TransactionManager
	notifier  Notifier
	publisher Publisher
	logger    *slog.Logger
	config    config.ScraperConfig
	now       func() time.Time

	// watch id -> chan struct{} with one slot, held for the whole cycle of that watch.
	inFlight sync.Map
}

// NewWatchService wires the processing cycle. publisher may be nil.
func NewWatchService(
	scraper Scraper,
	watches WatchStore,
	listings ListingStore,
	txManager TransactionManager,
	notifier Notifier,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.ScraperConfig,
) *WatchService {
	return &WatchService{
		scraper:   scraper,
		watches:   watches,
		listings:  listings,
		txManager: txManager,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger.With("component", "watch_service"),
		config:    cfg,
		now:       time.Now,
	}
}

// Process runs one fetch, diff, persist, notify cycle for watch. Notification and publish
// failures are counted in the stats; everything else fails the attempt. Cycles of the same
// watch never overlap: a second caller waits for the first to finish.
func (s *WatchService) Process(ctx context.Context, watch domain.Watch) (*domain.CheckStats, error) {
	unlock, err := s.lockWatch(ctx, watch.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	startTime := s.now()
	logger := s.logger.With("watch_id", watch.ID)

	if s.config.RespectRobots && !s.scraper.CheckAllowed(ctx, watch.URL) {
		return nil, domain.NewFetchDisallowed(watch.URL)
	}

	records, err := s.scraper.Fetch(ctx, watch.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch listings: %w", err)
	}
	logger.Debug("fetched listings", "count", len(records))

	existing, err := s.listings.ActiveByWatch(ctx, watch.ID)
	if err != nil {
		return nil, fmt.Errorf("load active listings: %w", err)
	}

	result := diff.Compute(watch.ID, existing, records)

	stats := &domain.CheckStats{
		WatchID:      watch.ID,
		Fetched:      len(records),
		New:          len(result.New),
		PriceChanged: len(result.PriceChanged),
		Inactive:     len(result.Inactive),
	}

	if !result.Empty() {
		if err := s.persist(ctx, watch.ID, records, &result); err != nil {
			return nil, fmt.Errorf("persist listings: %w", err)
		}
	}

	s.publish(ctx, logger, result, stats)
	s.notify(ctx, watch, result, stats)

	if err := s.watches.MarkChecked(ctx, watch.ID, s.now()); err != nil {
		return nil, fmt.Errorf("mark checked: %w", err)
	}

	stats.Duration = s.now().Sub(startTime)

	logger.Info("watch processed",
		"fetched", stats.Fetched,
		"new", stats.New,
		"price_changed", stats.PriceChanged,
		"inactive", stats.Inactive,
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"published", stats.Published,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)

	return stats, nil
}

func (s *WatchService) lockWatch(ctx context.Context, id int64) (func(), error) {
	v, _ := s.inFlight.LoadOrStore(id, make(chan struct{}, 1))
	slot := v.(chan struct{})

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProcessByID loads the watch and processes it immediately.
func (s *WatchService) ProcessByID(ctx context.Context, id int64) (*domain.CheckStats, error) {
	watch, err := s.watches.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Process(ctx, *watch)
}

// persist writes the diff in one transaction. A new id that is stored as inactive is
// revived in place so its history and alert flag survive.
func (s *WatchService) persist(ctx context.Context, watchID int64, records []domain.RawRecord, result *diff.Result) error {
	byID := make(map[int64]domain.RawRecord, len(records))
	for _, r := range records {
		if _, ok := byID[r.ID]; !ok {
			byID[r.ID] = r
		}
	}

	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for i := range result.New {
			listing := &result.New[i]

			stored, err := s.listings.Get(txCtx, watchID, listing.ID)
			switch {
			case err == nil:
				*listing = diff.Revive(*stored, byID[listing.ID])
			case !domain.IsNotFound(err):
				return fmt.Errorf("lookup listing %d: %w", listing.ID, err)
			}

			if err := s.listings.Upsert(txCtx, listing); err != nil {
				return err
			}
		}

		for i := range result.PriceChanged {
			if err := s.listings.Upsert(txCtx, &result.PriceChanged[i]); err != nil {
				return err
			}
		}

		if len(result.Inactive) > 0 {
			ids := make([]int64, len(result.Inactive))
			for i, l := range result.Inactive {
				ids[i] = l.ID
			}
			if err := s.listings.MarkInactive(txCtx, watchID, ids); err != nil {
				return fmt.Errorf("mark inactive: %w", err)
			}
		}

		return nil
	})
}

func (s *WatchService) publish(ctx context.Context, logger *slog.Logger, result diff.Result, stats *domain.CheckStats) {
	if s.publisher == nil {
		return
	}

	send := func(action domain.ListingAction, listings []domain.Listing) {
		for _, l := range listings {
			if err := s.publisher.Publish(ctx, domain.ListingEvent{Action: action, Listing: l}); err != nil {
				logger.Warn("failed to publish listing event",
					"listing_id", l.ID,
					"action", action,
					"error", err,
				)
				stats.Errors++
				continue
			}
			stats.Published++
		}
	}

	send(domain.ListingActionNew, result.New)
	send(domain.ListingActionPriceChanged, result.PriceChanged)
	send(domain.ListingActionInactive, result.Inactive)
}

func (s *WatchService) notify(ctx context.Context, watch domain.Watch, result diff.Result, stats *domain.CheckStats) {
	var outcomes []bool
	if len(result.New) > 0 {
		outcomes = append(outcomes, s.notifier.NotifyNew(ctx, watch, result.New)...)
	}
	if len(result.PriceChanged) > 0 {
		outcomes = append(outcomes, s.notifier.NotifyPriceChange(ctx, watch, result.PriceChanged)...)
	}

	for _, ok := range outcomes {
		if ok {
			stats.Delivered++
		} else {
			stats.Failed++
		}
	}
}
