package grocery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/grocery-tracker/internal/parsing"
	"github.com/zombor/grocery-tracker/internal/pricing"
)

var hundred = decimal.NewFromInt(100)

// ErrInvalidOffer is returned for cashback offers that could never apply
var ErrInvalidOffer = errors.New("invalid cashback offer")

// Rewards reports how much cashback a basket can earn
type Rewards interface {
	CashbackFor(ctx context.Context, storeName *string, items []parsing.LineItem, at time.Time) (decimal.Decimal, error)
}

// OfferRewards computes cashback from the stored offers
type OfferRewards struct {
	db DB
}

// NewOfferRewards creates a Rewards backed by the offers in db
func NewOfferRewards(db DB) *OfferRewards {
	return &OfferRewards{db: db}
}

// CashbackFor returns the cashback available for items bought at storeName
func (r *OfferRewards) CashbackFor(ctx context.Context, storeName *string, items []parsing.LineItem, at time.Time) (decimal.Decimal, error) {
	if storeName == nil {
		return decimal.Zero, nil
	}
	offers, err := r.db.ListCashbackOffers()
	if err != nil {
		return decimal.Zero, fmt.Errorf("listing cashback offers: %w", err)
	}
	return BestCashback(offers, *storeName, items, at), nil
}

// BestCashback sums, per item, the most valuable offer that applies to it.
// Offers stack across items but never on the same item, and an item never
// earns more than its price.
func BestCashback(offers []*CashbackOffer, storeName string, items []parsing.LineItem, at time.Time) decimal.Decimal {
	applicable := make([]*CashbackOffer, 0, len(offers))
	for _, offer := range offers {
		if offer.appliesAt(storeName, at) {
			applicable = append(applicable, offer)
		}
	}

	total := decimal.Zero
	for _, item := range items {
		if !item.Price.IsPositive() {
			continue
		}
		best := decimal.Zero
		key := pricing.NormalizeItemName(item.Name)
		for _, offer := range applicable {
			if !offer.coversItem(key) {
				continue
			}
			if value := offer.valueFor(item.Price); value.GreaterThan(best) {
				best = value
			}
		}
		total = total.Add(best)
	}
	return total
}

// appliesAt reports whether the offer is live at the store at the given time
func (o *CashbackOffer) appliesAt(storeName string, at time.Time) bool {
	if !o.Active || !strings.EqualFold(strings.TrimSpace(o.StoreName), strings.TrimSpace(storeName)) {
		return false
	}
	if o.ValidFrom != nil && at.Before(*o.ValidFrom) {
		return false
	}
	if o.ValidUntil != nil && at.After(*o.ValidUntil) {
		return false
	}
	return true
}

func (o *CashbackOffer) coversItem(itemKey string) bool {
	if o.ItemName == "" {
		return true
	}
	return strings.Contains(itemKey, pricing.NormalizeItemName(o.ItemName))
}

// valueFor is the larger of the fixed and percentage discounts, capped at the price
func (o *CashbackOffer) valueFor(price decimal.Decimal) decimal.Decimal {
	value := decimal.Zero
	if o.DiscountAmount != nil && o.DiscountAmount.GreaterThan(value) {
		value = *o.DiscountAmount
	}
	if o.DiscountPercentage != nil {
		if pct := price.Mul(*o.DiscountPercentage).Div(hundred).Round(2); pct.GreaterThan(value) {
			value = pct
		}
	}
	if value.GreaterThan(price) {
		return price
	}
	return value
}

// Validate checks that the offer can ever pay out
func (o *CashbackOffer) Validate() error {
	if strings.TrimSpace(o.StoreName) == "" {
		return fmt.Errorf("%w: store name is required", ErrInvalidOffer)
	}
	if o.DiscountAmount == nil && o.DiscountPercentage == nil {
		return fmt.Errorf("%w: a discount amount or percentage is required", ErrInvalidOffer)
	}
	if o.DiscountAmount != nil && !o.DiscountAmount.IsPositive() {
		return fmt.Errorf("%w: discount amount must be positive", ErrInvalidOffer)
	}
	if o.DiscountPercentage != nil && (!o.DiscountPercentage.IsPositive() || o.DiscountPercentage.GreaterThan(hundred)) {
		return fmt.Errorf("%w: discount percentage must be between 0 and 100", ErrInvalidOffer)
	}
	if o.ValidFrom != nil && o.ValidUntil != nil && o.ValidUntil.Before(*o.ValidFrom) {
		return fmt.Errorf("%w: offer ends before it starts", ErrInvalidOffer)
	}
	return nil
}
