package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is a single recorded price for an item at a store
type PriceObservation struct {
	ItemName   string          `json:"item_name"`
	Price      decimal.Decimal `json:"price"`
	StoreName  string          `json:"store_name"`
	ObservedAt time.Time       `json:"observed_at"`
	Confidence float64         `json:"confidence"`
}

// NormalizeItemName produces the key used to match items across stores and time:
// lowercased, trimmed, internal whitespace collapsed to single spaces.
func NormalizeItemName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// WindowStart returns the oldest instant still inside a recency window ending at now
func WindowStart(now time.Time, recencyDays int) time.Time {
	return now.Add(-time.Duration(recencyDays) * 24 * time.Hour)
}

// WithinWindow reports whether the observation is recent enough. The window
// boundary itself counts as inside; observations dated after now are kept.
func (o PriceObservation) WithinWindow(now time.Time, recencyDays int) bool {
	return !o.ObservedAt.Before(WindowStart(now, recencyDays))
}

// Matches reports whether the observation applies to the normalized item key.
// Observations without an item name are assumed to belong to the queried item.
func (o PriceObservation) Matches(key string) bool {
	return o.ItemName == "" || NormalizeItemName(o.ItemName) == key
}

// Eligible returns the observations that match the item, fall inside the
// window and carry a non-negative price. The input slice is not modified.
func Eligible(itemName string, observations []PriceObservation, recencyDays int, now time.Time) []PriceObservation {
	key := NormalizeItemName(itemName)
	matching := make([]PriceObservation, 0, len(observations))
	for _, o := range observations {
		if o.Matches(key) {
			matching = append(matching, o)
		}
	}
	return Recent(matching, recencyDays, now)
}

// Recent returns the observations inside the window with a non-negative price.
// Item names are not checked; use it when the caller has already grouped the
// observations by item.
func Recent(observations []PriceObservation, recencyDays int, now time.Time) []PriceObservation {
	recent := make([]PriceObservation, 0, len(observations))
	for _, o := range observations {
		if o.Price.IsNegative() {
			continue
		}
		if !o.WithinWindow(now, recencyDays) {
			continue
		}
		recent = append(recent, o)
	}
	return recent
}
