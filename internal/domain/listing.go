package domain

import "time"

// RawRecord is one listing as returned by a scraper, before it is bound to a watch.
type RawRecord struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Price       *int64 `json:"price"` // nil = price on request
	City        string `json:"city"`
	Date        string `json:"date"`
	Pinned      bool   `json:"pinned"`
	SellerName  string `json:"seller_name"`
	SellerURL   string `json:"seller_url"`
	SellerRates string `json:"seller_rates"`
	Image       string `json:"image"`
}

type Listing struct {
	ID          int64     `json:"id"`
	WatchID     int64     `json:"watch_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Price       *int64    `json:"price"`
	City        string    `json:"city"`
	Date        string    `json:"date"`
	Pinned      bool      `json:"pinned"`
	SellerName  string    `json:"seller_name"`
	SellerURL   string    `json:"seller_url"`
	SellerRates string    `json:"seller_rates"`
	Image       string    `json:"image"`
	Active      bool      `json:"active"`
	PrevPrices  []int64   `json:"prev_prices"` // oldest first
	PriceAlert  bool      `json:"price_alert"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewListing binds a freshly scraped record to a watch.
func NewListing(watchID int64, r RawRecord) Listing {
	return Listing{
		ID:          r.ID,
		WatchID:     watchID,
		Title:       r.Title,
		URL:         r.URL,
		Price:       copyPrice(r.Price),
		City:        r.City,
		Date:        r.Date,
		Pinned:      r.Pinned,
		SellerName:  r.SellerName,
		SellerURL:   r.SellerURL,
		SellerRates: r.SellerRates,
		Image:       r.Image,
		Active:      true,
		PrevPrices:  []int64{},
	}
}

// PreviousPrice returns the most recent price before the current one.
func (l Listing) PreviousPrice() (int64, bool) {
	if len(l.PrevPrices) == 0 {
		return 0, false
	}
	return l.PrevPrices[len(l.PrevPrices)-1], true
}

// Clone returns a deep copy so callers can mutate it freely.
func (l Listing) Clone() Listing {
	c := l
	c.Price = copyPrice(l.Price)
	c.PrevPrices = append([]int64{}, l.PrevPrices...)
	return c
}

func PricesEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyPrice(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
