package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"listing_watcher/internal/domain"
	"listing_watcher/internal/storage"
)

const listingColumns = `watch_id, id, title, url, price, city, date, pinned,
	seller_name, seller_url, seller_rates, image, active, prev_prices, price_alert, updated_at`

type listingRow struct {
	WatchID     int64         `db:"watch_id"`
	ID          int64         `db:"id"`
	Title       string        `db:"title"`
	URL         string        `db:"url"`
	Price       sql.NullInt64 `db:"price"`
	City        string        `db:"city"`
	Date        string        `db:"date"`
	Pinned      bool          `db:"pinned"`
	SellerName  string        `db:"seller_name"`
	SellerURL   string        `db:"seller_url"`
	SellerRates string        `db:"seller_rates"`
	Image       string        `db:"image"`
	Active      bool          `db:"active"`
	PrevPrices  pq.Int64Array `db:"prev_prices"`
	PriceAlert  bool          `db:"price_alert"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

func (r listingRow) toDomain() domain.Listing {
	prev := make([]int64, len(r.PrevPrices))
	copy(prev, r.PrevPrices)
	return domain.Listing{
		ID:          r.ID,
		WatchID:     r.WatchID,
		Title:       r.Title,
		URL:         r.URL,
		Price:       storage.Int64Ptr(r.Price),
		City:        r.City,
		Date:        r.Date,
		Pinned:      r.Pinned,
		SellerName:  r.SellerName,
		SellerURL:   r.SellerURL,
		SellerRates: r.SellerRates,
		Image:       r.Image,
		Active:      r.Active,
		PrevPrices:  prev,
		PriceAlert:  r.PriceAlert,
		UpdatedAt:   r.UpdatedAt,
	}
}

type ListingStore struct {
	db *sqlx.DB
}

func NewListingStore(db *sqlx.DB) *ListingStore {
	return &ListingStore{db: db}
}

func (s *ListingStore) ActiveByWatch(ctx context.Context, watchID int64) ([]domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE watch_id = $1 AND active ORDER BY id`
	return s.selectListings(ctx, query, watchID)
}

func (s *ListingStore) ListByWatch(ctx context.Context, watchID int64, includeInactive bool) ([]domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE watch_id = $1 AND (active OR $2) ORDER BY id`
	return s.selectListings(ctx, query, watchID, includeInactive)
}

func (s *ListingStore) Get(ctx context.Context, watchID, id int64) (*domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE watch_id = $1 AND id = $2`

	var row listingRow
	err := sqlx.GetContext(ctx, storage.GetExecutor(ctx, s.db), &row, query, watchID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound("listing", id)
	}
	if err != nil {
		return nil, err
	}
	l := row.toDomain()
	return &l, nil
}

// Upsert writes every column of the listing, inserting it when absent.
func (s *ListingStore) Upsert(ctx context.Context, l *domain.Listing) error {
	query := `
		INSERT INTO listings (
			watch_id, id, title, url, price, city, date, pinned,
			seller_name, seller_url, seller_rates, image, active, prev_prices, price_alert, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		ON CONFLICT (watch_id, id) DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			price = EXCLUDED.price,
			city = EXCLUDED.city,
			date = EXCLUDED.date,
			pinned = EXCLUDED.pinned,
			seller_name = EXCLUDED.seller_name,
			seller_url = EXCLUDED.seller_url,
			seller_rates = EXCLUDED.seller_rates,
			image = EXCLUDED.image,
			active = EXCLUDED.active,
			prev_prices = EXCLUDED.prev_prices,
			price_alert = EXCLUDED.price_alert,
			updated_at = NOW()`

	prev := l.PrevPrices
	if prev == nil {
		prev = []int64{}
	}

	_, err := storage.GetExecutor(ctx, s.db).ExecContext(ctx, query,
		l.WatchID,
		l.ID,
		l.Title,
		l.URL,
		storage.NullInt64(l.Price),
		l.City,
		l.Date,
		l.Pinned,
		l.SellerName,
		l.SellerURL,
		l.SellerRates,
		l.Image,
		l.Active,
		pq.Array(prev),
		l.PriceAlert,
	)
	if err != nil {
		return fmt.Errorf("upsert listing %d/%d: %w", l.WatchID, l.ID, err)
	}
	return nil
}

func (s *ListingStore) MarkInactive(ctx context.Context, watchID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE listings SET active = FALSE, updated_at = NOW() WHERE watch_id = $1 AND id = ANY($2)`
	_, err := storage.GetExecutor(ctx, s.db).ExecContext(ctx, query, watchID, pq.Array(ids))
	return err
}

func (s *ListingStore) SetPriceAlert(ctx context.Context, watchID, id int64, enabled bool) error {
	query := `UPDATE listings SET price_alert = $3, updated_at = NOW() WHERE watch_id = $1 AND id = $2`
	res, err := storage.GetExecutor(ctx, s.db).ExecContext(ctx, query, watchID, id, enabled)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewNotFound("listing", id)
	}
	return nil
}

func (s *ListingStore) selectListings(ctx context.Context, query string, args ...any) ([]domain.Listing, error) {
	var rows []listingRow
	if err := sqlx.SelectContext(ctx, storage.GetExecutor(ctx, s.db), &rows, query, args...); err != nil {
		return nil, err
	}

	listings := make([]domain.Listing, 0, len(rows))
	for _, r := range rows {
		listings = append(listings, r.toDomain())
	}
	return listings, nil
}
