package savings

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/grocery-tracker/internal/parsing"
	"github.com/zombor/grocery-tracker/internal/pricing"
)

// DefaultRecencyDays is the price history window used when none is configured
const DefaultRecencyDays = 30

// SavingsOpportunity is a cheaper known price for an item on the receipt
type SavingsOpportunity struct {
	ItemName                   string          `json:"item_name"`
	CurrentPrice               decimal.Decimal `json:"current_price"`
	BestPrice                  decimal.Decimal `json:"best_price"`
	SavingsAmount              decimal.Decimal `json:"savings_amount"`
	StoreName                  string          `json:"store_name"`
	Confidence                 float64         `json:"confidence"`
	SupportingObservationCount int             `json:"supporting_observation_count"`
}

// BasketAnalysis is the savings report for a whole receipt
type BasketAnalysis struct {
	TotalSavings      decimal.Decimal      `json:"total_savings"`
	Opportunities     []SavingsOpportunity `json:"opportunities"`
	RecommendedStore  *string              `json:"recommended_store"`
	CashbackAvailable decimal.Decimal      `json:"cashback_available"`
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type systemTime struct{}

func (systemTime) Now() time.Time {
	return time.Now()
}

// Analyzer compares receipt items against price history
type Analyzer struct {
	recencyDays int
	timeSource  TimeSource
}

// NewAnalyzer creates an analyzer that considers observations from the last recencyDays days
func NewAnalyzer(recencyDays int) *Analyzer {
	return NewAnalyzerWithTimeSource(recencyDays, systemTime{})
}

// NewAnalyzerWithTimeSource creates an analyzer with an injectable clock (useful for testing)
func NewAnalyzerWithTimeSource(recencyDays int, timeSource TimeSource) *Analyzer {
	if recencyDays <= 0 {
		recencyDays = DefaultRecencyDays
	}
	return &Analyzer{recencyDays: recencyDays, timeSource: timeSource}
}

// RecencyDays returns the configured history window
func (a *Analyzer) RecencyDays() int {
	return a.recencyDays
}

// AnalyzeBasket finds every item on the receipt that was seen cheaper elsewhere.
//
// observationsByItem is keyed by item name; keys are matched after
// normalization and each entry is trusted as the history of that item, even
// when an observation was recorded under another spelling. cashbackAvailable
// is reported back unchanged.
func (a *Analyzer) AnalyzeBasket(receipt parsing.ParsedReceipt, observationsByItem map[string][]pricing.PriceObservation, cashbackAvailable decimal.Decimal) BasketAnalysis {
	now := a.timeSource.Now()
	index := indexObservations(observationsByItem)

	byItem := make(map[string]SavingsOpportunity)
	for _, item := range receipt.Items {
		if item.Price.IsNegative() {
			continue
		}

		key := pricing.NormalizeItemName(item.Name)
		observations := index[key]

		best := pricing.BestOf(observations, a.recencyDays, now)
		if best == nil || !best.Price.LessThan(item.Price) {
			continue
		}

		opportunity := SavingsOpportunity{
			ItemName:                   item.Name,
			CurrentPrice:               item.Price,
			BestPrice:                  best.Price,
			SavingsAmount:              item.Price.Sub(best.Price),
			StoreName:                  best.StoreName,
			Confidence:                 best.Confidence,
			SupportingObservationCount: len(pricing.Recent(observations, a.recencyDays, now)),
		}

		// the same item can appear on several lines; keep the biggest saving
		if existing, ok := byItem[key]; ok && !outranks(opportunity, existing) {
			continue
		}
		byItem[key] = opportunity
	}

	opportunities := make([]SavingsOpportunity, 0, len(byItem))
	for _, o := range byItem {
		opportunities = append(opportunities, o)
	}
	sort.Slice(opportunities, func(i, j int) bool {
		return outranks(opportunities[i], opportunities[j])
	})

	total := decimal.Zero
	for _, o := range opportunities {
		total = total.Add(o.SavingsAmount)
	}

	return BasketAnalysis{
		TotalSavings:      total,
		Opportunities:     opportunities,
		RecommendedStore:  recommendStore(opportunities),
		CashbackAvailable: cashbackAvailable,
	}
}

// outranks orders opportunities by savings descending, then item name ascending
func outranks(a, b SavingsOpportunity) bool {
	if c := a.SavingsAmount.Cmp(b.SavingsAmount); c != 0 {
		return c > 0
	}
	return a.ItemName < b.ItemName
}

// indexObservations merges map entries whose keys normalize to the same item
func indexObservations(observationsByItem map[string][]pricing.PriceObservation) map[string][]pricing.PriceObservation {
	index := make(map[string][]pricing.PriceObservation, len(observationsByItem))
	for name, observations := range observationsByItem {
		key := pricing.NormalizeItemName(name)
		index[key] = append(index[key], observations...)
	}
	return index
}

type storeTally struct {
	name    string
	count   int
	savings decimal.Decimal
}

// recommendStore picks the store behind the most opportunities, breaking ties
// by savings contributed and then by name.
func recommendStore(opportunities []SavingsOpportunity) *string {
	if len(opportunities) == 0 {
		return nil
	}

	tallies := make(map[string]*storeTally)
	for _, o := range opportunities {
		t, ok := tallies[o.StoreName]
		if !ok {
			t = &storeTally{name: o.StoreName, savings: decimal.Zero}
			tallies[o.StoreName] = t
		}
		t.count++
		t.savings = t.savings.Add(o.SavingsAmount)
	}

	var best *storeTally
	for _, t := range tallies {
		if best == nil || t.beats(best) {
			best = t
		}
	}

	name := best.name
	return &name
}

func (t *storeTally) beats(other *storeTally) bool {
	if t.count != other.count {
		return t.count > other.count
	}
	if c := t.savings.Cmp(other.savings); c != 0 {
		return c > 0
	}
	return t.name < other.name
}
