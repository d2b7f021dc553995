package domain

import "time"

// CheckStats holds statistics about one processed watch.
type CheckStats struct {
	WatchID      int64         `json:"watch_id"`
	Fetched      int           `json:"fetched"`
	New          int           `json:"new"`
	PriceChanged int           `json:"price_changed"`
	Inactive     int           `json:"inactive"`
	Delivered    int           `json:"delivered"`
	Failed       int           `json:"failed"`
	Published    int           `json:"published"`
	Errors       int           `json:"errors"`
	Duration     time.Duration `json:"duration"`
}
