package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// History returns the eligible observations of itemName, oldest first
func History(itemName string, observations []PriceObservation, recencyDays int, now time.Time) []PriceObservation {
	history := Eligible(itemName, observations, recencyDays, now)
	sort.SliceStable(history, func(i, j int) bool {
		if !history[i].ObservedAt.Equal(history[j].ObservedAt) {
			return history[i].ObservedAt.Before(history[j].ObservedAt)
		}
		return history[i].StoreName < history[j].StoreName
	})
	return history
}

// StoreComparison summarizes what one store has charged for an item
type StoreComparison struct {
	StoreName        string          `json:"store_name"`
	BestPrice        decimal.Decimal `json:"best_price"`
	HighestPrice     decimal.Decimal `json:"highest_price"`
	AveragePrice     decimal.Decimal `json:"average_price"`
	ObservationCount int             `json:"observation_count"`
	LastObservedAt   time.Time       `json:"last_observed_at"`
}

// CompareStores groups the eligible observations of itemName by store,
// cheapest average first.
func CompareStores(itemName string, observations []PriceObservation, recencyDays int, now time.Time) []StoreComparison {
	byStore := make(map[string]*StoreComparison)
	sums := make(map[string]decimal.Decimal)

	for _, o := range Eligible(itemName, observations, recencyDays, now) {
		c, ok := byStore[o.StoreName]
		if !ok {
			c = &StoreComparison{
				StoreName:    o.StoreName,
				BestPrice:    o.Price,
				HighestPrice: o.Price,
			}
			byStore[o.StoreName] = c
			sums[o.StoreName] = decimal.Zero
		}

		if o.Price.LessThan(c.BestPrice) {
			c.BestPrice = o.Price
		}
		if o.Price.GreaterThan(c.HighestPrice) {
			c.HighestPrice = o.Price
		}
		if o.ObservedAt.After(c.LastObservedAt) {
			c.LastObservedAt = o.ObservedAt
		}
		c.ObservationCount++
		sums[o.StoreName] = sums[o.StoreName].Add(o.Price)
	}

	comparisons := make([]StoreComparison, 0, len(byStore))
	for name, c := range byStore {
		c.AveragePrice = sums[name].Div(decimal.NewFromInt(int64(c.ObservationCount))).Round(2)
		comparisons = append(comparisons, *c)
	}

	sort.Slice(comparisons, func(i, j int) bool {
		if c := comparisons[i].AveragePrice.Cmp(comparisons[j].AveragePrice); c != 0 {
			return c < 0
		}
		return comparisons[i].StoreName < comparisons[j].StoreName
	})

	return comparisons
}
