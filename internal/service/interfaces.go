package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"listing_watcher/internal/domain"
)

type WatchStore interface {
	Create(ctx context.Context, url string) (*domain.Watch, error)
	Get(ctx context.Context, id int64) (*domain.Watch, error)
	List(ctx context.Context) ([]domain.Watch, error)
	Update(ctx context.Context, watch *domain.Watch) error
	Delete(ctx context.Context, id int64) error
	MarkChecked(ctx context.Context, id int64, at time.Time) error
	ResetChecked(ctx context.Context, id int64) error
	DueForCheck(ctx context.Context, interval time.Duration, now time.Time) ([]domain.Watch, error)
}

type ListingStore interface {
	ActiveByWatch(ctx context.Context, watchID int64) ([]domain.Listing, error)
	ListByWatch(ctx context.Context, watchID int64, includeInactive bool) ([]domain.Listing, error)
	Get(ctx context.Context, watchID, id int64) (*domain.Listing, error)
	Upsert(ctx context.Context, listing *domain.Listing) error
	MarkInactive(ctx context.Context, watchID int64, ids []int64) error
	SetPriceAlert(ctx context.Context, watchID, id int64, enabled bool) error
}

type Scraper interface {
	Fetch(ctx context.Context, url string) ([]domain.RawRecord, error)
	CheckAllowed(ctx context.Context, baseURL string) bool
}

type Notifier interface {
	NotifyNew(ctx context.Context, watch domain.Watch, listings []domain.Listing) []bool
	NotifyPriceChange(ctx context.Context, watch domain.Watch, listings []domain.Listing) []bool
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, event domain.ListingEvent) error
}
