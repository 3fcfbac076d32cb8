package pricing

import (
	"time"
)

// FindBestPrice returns the cheapest eligible observation of itemName within
// the recency window, or nil when none qualifies.
//
// Ties on price go to the higher confidence, then the most recent observation,
// then store name and item name in ascending order, so the result does not
// depend on input order.
func FindBestPrice(itemName string, observations []PriceObservation, recencyDays int, now time.Time) *PriceObservation {
	return cheapest(Eligible(itemName, observations, recencyDays, now))
}

// BestOf is FindBestPrice for observations already grouped by item. Their
// item names are not compared.
func BestOf(observations []PriceObservation, recencyDays int, now time.Time) *PriceObservation {
	return cheapest(Recent(observations, recencyDays, now))
}

func cheapest(observations []PriceObservation) *PriceObservation {
	var best *PriceObservation
	for _, o := range observations {
		if best == nil || better(o, *best) {
			candidate := o
			best = &candidate
		}
	}
	return best
}

// better reports whether a should be preferred over b
func better(a, b PriceObservation) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	if a.StoreName != b.StoreName {
		return a.StoreName < b.StoreName
	}
	return a.ItemName < b.ItemName
}
