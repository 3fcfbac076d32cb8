package grocery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/grocery-tracker/internal/observability/metrics"
	"github.com/zombor/grocery-tracker/internal/observability/tracing"
	"github.com/zombor/grocery-tracker/internal/pricing"
)

// ErrInvalidObservation is returned for manual price observations that fail validation
var ErrInvalidObservation = errors.New("invalid price observation")

// ObservationInput is a price seen outside a receipt, e.g. on a shelf tag or catalogue
type ObservationInput struct {
	ItemName   string          `json:"item_name"`
	Price      decimal.Decimal `json:"price"`
	StoreName  string          `json:"store_name"`
	ObservedAt *time.Time      `json:"observed_at,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
}

// RecordObservation stores a manually entered price
func (s *Service) RecordObservation(ctx context.Context, input ObservationInput) (*PricePoint, error) {
	_, span := tracing.StartSpan(ctx, "grocery.RecordObservation")
	defer span.End()

	itemName := strings.TrimSpace(input.ItemName)
	if pricing.NormalizeItemName(itemName) == "" {
		return nil, fmt.Errorf("%w: item name is required", ErrInvalidObservation)
	}
	if input.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidObservation)
	}

	storeName := strings.TrimSpace(input.StoreName)
	if resolved := s.parser.Catalog().Resolve(storeName); resolved != nil {
		storeName = *resolved
	}
	if storeName == "" {
		return nil, fmt.Errorf("%w: store name is required", ErrInvalidObservation)
	}

	confidence := 1.0
	if input.Confidence != nil {
		confidence = *input.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidObservation)
	}

	now := s.timeSource.Now()
	observedAt := now
	if input.ObservedAt != nil {
		observedAt = *input.ObservedAt
	}

	point := &PricePoint{
		ID:     s.idGenerator.Generate(),
		Source: PointSourceManual,
		PriceObservation: pricing.PriceObservation{
			ItemName:   itemName,
			Price:      input.Price,
			StoreName:  storeName,
			ObservedAt: observedAt,
			Confidence: confidence,
		},
		CreatedAt: now,
	}

	if err := s.db.SavePricePoints([]*PricePoint{point}); err != nil {
		return nil, fmt.Errorf("saving price point: %w", err)
	}
	metrics.AddObservations(PointSourceManual, 1)

	return point, nil
}

func (s *Service) observations(itemName string) ([]pricing.PriceObservation, error) {
	points, err := s.db.ListPricePoints(itemName)
	if err != nil {
		return nil, fmt.Errorf("listing price points: %w", err)
	}
	observations := make([]pricing.PriceObservation, len(points))
	for i, point := range points {
		observations[i] = point.PriceObservation
	}
	return observations, nil
}

func (s *Service) window(days int) int {
	if days <= 0 {
		return s.analyzer.RecencyDays()
	}
	return days
}

// PriceHistory returns an item's recorded prices within the window, oldest first.
// A non-positive days uses the configured recency window.
func (s *Service) PriceHistory(itemName string, days int) ([]pricing.PriceObservation, error) {
	observations, err := s.observations(itemName)
	if err != nil {
		return nil, err
	}
	return pricing.History(itemName, observations, s.window(days), s.timeSource.Now()), nil
}

// CompareStores summarizes an item's recent prices per store
func (s *Service) CompareStores(itemName string, days int) ([]pricing.StoreComparison, error) {
	observations, err := s.observations(itemName)
	if err != nil {
		return nil, err
	}
	return pricing.CompareStores(itemName, observations, s.window(days), s.timeSource.Now()), nil
}

// BestPrice returns the best recent price for an item, or nil without history
func (s *Service) BestPrice(itemName string, days int) (*pricing.PriceObservation, error) {
	observations, err := s.observations(itemName)
	if err != nil {
		return nil, err
	}
	return pricing.FindBestPrice(itemName, observations, s.window(days), s.timeSource.Now()), nil
}

// ListItems returns every item name with recorded prices
func (s *Service) ListItems() ([]string, error) {
	names, err := s.db.ListItemNames()
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return names, nil
}

// SaveCashbackOffer validates and stores a cashback offer
func (s *Service) SaveCashbackOffer(offer *CashbackOffer) (*CashbackOffer, error) {
	if err := offer.Validate(); err != nil {
		return nil, err
	}
	if resolved := s.parser.Catalog().Resolve(offer.StoreName); resolved != nil {
		offer.StoreName = *resolved
	}

	offer.ID = s.idGenerator.Generate()
	offer.CreatedAt = s.timeSource.Now()

	if err := s.db.SaveCashbackOffer(offer); err != nil {
		return nil, fmt.Errorf("saving cashback offer: %w", err)
	}
	return offer, nil
}

// ListCashbackOffers returns all cashback offers
func (s *Service) ListCashbackOffers() ([]*CashbackOffer, error) {
	offers, err := s.db.ListCashbackOffers()
	if err != nil {
		return nil, fmt.Errorf("listing cashback offers: %w", err)
	}
	return offers, nil
}
