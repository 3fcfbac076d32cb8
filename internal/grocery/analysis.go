package grocery

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/grocery-tracker/internal/observability/metrics"
	"github.com/zombor/grocery-tracker/internal/observability/tracing"
	"github.com/zombor/grocery-tracker/internal/pricing"
)

// historyFetchLimit bounds concurrent price history reads per analysis
const historyFetchLimit = 8

// AnalyzeReceipt compares every item on a receipt with its recent price history
// and reports where it could have been bought for less
func (s *Service) AnalyzeReceipt(ctx context.Context, id string) (result *ReceiptAnalysis, err error) {
	ctx, span := tracing.StartSpan(ctx, "grocery.AnalyzeReceipt")
	defer span.End()
	span.SetAttributes(attribute.String("receipt_id", id))

	start := time.Now()
	defer func() {
		if result != nil {
			metrics.ObserveAnalysis(metrics.ResultSuccess, time.Since(start),
				result.Analysis.TotalSavings.InexactFloat64(), len(result.Analysis.Opportunities))
			return
		}
		metrics.ObserveAnalysis(metrics.Result(err), time.Since(start), 0, 0)
	}()

	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	observations, err := s.historyFor(ctx, receipt)
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	cashback, err := s.rewards.CashbackFor(ctx, receipt.StoreName, receipt.Items, now)
	if err != nil {
		return nil, fmt.Errorf("computing cashback: %w", err)
	}

	analysis := s.analyzer.AnalyzeBasket(receipt.ParsedReceipt, observations, cashback)
	span.SetAttributes(attribute.Int("opportunities", len(analysis.Opportunities)))

	return &ReceiptAnalysis{
		ReceiptID:   receipt.ID,
		StoreName:   receipt.StoreName,
		AnalyzedAt:  now,
		RecencyDays: s.analyzer.RecencyDays(),
		Analysis:    analysis,
	}, nil
}

// historyFor loads the price history of every item on the receipt in parallel.
// Points recorded from the receipt itself are left out so an item is never
// compared with its own price.
func (s *Service) historyFor(ctx context.Context, receipt *Receipt) (map[string][]pricing.PriceObservation, error) {
	keys := make([]string, 0, len(receipt.Items))
	seen := make(map[string]bool, len(receipt.Items))
	for _, item := range receipt.Items {
		key := pricing.NormalizeItemName(item.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}

	results := make([][]pricing.PriceObservation, len(keys))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(historyFetchLimit)
	for i, key := range keys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			points, err := s.db.ListPricePoints(key)
			if err != nil {
				return fmt.Errorf("listing price points for %q: %w", key, err)
			}

			observations := make([]pricing.PriceObservation, 0, len(points))
			for _, point := range points {
				if point.ReceiptID == receipt.ID {
					continue
				}
				observations = append(observations, point.PriceObservation)
			}
			results[i] = observations
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byItem := make(map[string][]pricing.PriceObservation, len(keys))
	for i, key := range keys {
		byItem[key] = results[i]
	}
	return byItem, nil
}
