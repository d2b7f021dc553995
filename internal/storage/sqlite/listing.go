package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"listing_watcher/internal/domain"
	"listing_watcher/internal/storage"
)

const listingColumns = `watch_id, id, title, url, price, city, date, pinned,
	seller_name, seller_url, seller_rates, image, active, prev_prices, price_alert, updated_at`

// priceHistory stores prev_prices as a JSON array in a TEXT column.
type priceHistory []int64

func (p priceHistory) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int64(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *priceHistory) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = priceHistory{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("prev_prices: unsupported type %T", src)
	}
	var out []int64
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("prev_prices: %w", err)
	}
	if out == nil {
		out = []int64{}
	}
	*p = out
	return nil
}

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
	PrevPrices  priceHistory  `db:"prev_prices"`
	PriceAlert  bool          `db:"price_alert"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

func (r listingRow) toDomain() domain.Listing {
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
		PrevPrices:  append([]int64{}, r.PrevPrices...),
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
	query := `SELECT ` + listingColumns + ` FROM listings WHERE watch_id = ? AND active ORDER BY id`
	return s.selectListings(ctx, query, watchID)
}

func (s *ListingStore) ListByWatch(ctx context.Context, watchID int64, includeInactive bool) ([]domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE watch_id = ? AND (active OR ?) ORDER BY id`
	return s.selectListings(ctx, query, watchID, includeInactive)
}

func (s *ListingStore) Get(ctx context.Context, watchID, id int64) (*domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE watch_id = ? AND id = ?`

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

func (s *ListingStore) Upsert(ctx context.Context, l *domain.Listing) error {
	query := `
		INSERT INTO listings (
			watch_id, id, title, url, price, city, date, pinned,
			seller_name, seller_url, seller_rates, image, active, prev_prices, price_alert, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (watch_id, id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			price = excluded.price,
			city = excluded.city,
			date = excluded.date,
			pinned = excluded.pinned,
			seller_name = excluded.seller_name,
			seller_url = excluded.seller_url,
			seller_rates = excluded.seller_rates,
			image = excluded.image,
			active = excluded.active,
			prev_prices = excluded.prev_prices,
			price_alert = excluded.price_alert,
			updated_at = CURRENT_TIMESTAMP`

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
		priceHistory(l.PrevPrices),
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
	query, args, err := sqlx.In(
		`UPDATE listings SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE watch_id = ? AND id IN (?)`,
		watchID, ids,
	)
	if err != nil {
		return fmt.Errorf("build mark inactive query: %w", err)
	}
	_, err = storage.GetExecutor(ctx, s.db).ExecContext(ctx, query, args...)
	return err
}

func (s *ListingStore) SetPriceAlert(ctx context.Context, watchID, id int64, enabled bool) error {
	query := `UPDATE listings SET price_alert = ?, updated_at = CURRENT_TIMESTAMP WHERE watch_id = ? AND id = ?`
	res, err := storage.GetExecutor(ctx, s.db).ExecContext(ctx, query, enabled, watchID, id)
	return expectRow(res, err, "listing", id)
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
