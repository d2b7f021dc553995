// Package diff classifies a freshly fetched record set against the active listings of a watch.
package diff

import (
	"listing_watcher/internal/domain"
)

// Result of comparing a fetch against the active set. Inputs are never mutated; every
// listing in the result is an independent copy.
type Result struct {
	New          []domain.Listing
	PriceChanged []domain.Listing
	Inactive     []domain.Listing
	Unchanged    []int64
}

func (r Result) Empty() bool {
	return len(r.New) == 0 && len(r.PriceChanged) == 0 && len(r.Inactive) == 0
}

// Compute classifies each fetched record as new, price-changed or unchanged, and each
// active listing missing from the fetch as inactive. New and changed follow fetch order,
// inactive follows the order of existing. Repeated ids in fetched count once.
func Compute(watchID int64, existing []domain.Listing, fetched []domain.RawRecord) Result {
	byID := make(map[int64]domain.Listing, len(existing))
	for _, l := range existing {
		byID[l.ID] = l
	}

	var res Result
	seen := make(map[int64]struct{}, len(fetched))

	for _, rec := range fetched {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}

		current, ok := byID[rec.ID]
		if !ok {
			res.New = append(res.New, domain.NewListing(watchID, rec))
			continue
		}

		if domain.PricesEqual(current.Price, rec.Price) {
			res.Unchanged = append(res.Unchanged, rec.ID)
			continue
		}

		res.PriceChanged = append(res.PriceChanged, applyPrice(current, rec.Price))
	}

	for _, l := range existing {
		if _, ok := seen[l.ID]; ok {
			continue
		}
		gone := l.Clone()
		gone.Active = false
		res.Inactive = append(res.Inactive, gone)
	}

	return res
}

// Revive merges a record into a stored listing that had gone inactive. History and the
// price-alert flag survive; the stored price joins the history when it differs.
func Revive(stored domain.Listing, rec domain.RawRecord) domain.Listing {
	revived := domain.NewListing(stored.WatchID, rec)
	revived.PriceAlert = stored.PriceAlert
	revived.PrevPrices = append([]int64{}, stored.PrevPrices...)

	if !domain.PricesEqual(stored.Price, rec.Price) && stored.Price != nil {
		revived.PrevPrices = append(revived.PrevPrices, *stored.Price)
	}
	return revived
}

func applyPrice(current domain.Listing, price *int64) domain.Listing {
	updated := current.Clone()
	if current.Price != nil {
		updated.PrevPrices = append(updated.PrevPrices, *current.Price)
	}
	if price != nil {
		v := *price
		updated.Price = &v
	} else {
		updated.Price = nil
	}
	updated.Active = true
	return updated
}
