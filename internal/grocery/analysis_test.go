package grocery

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/grocery-tracker/internal/parsing"
	"github.com/zombor/grocery-tracker/internal/pricing"
	"github.com/zombor/grocery-tracker/internal/savings"
)

func storedPoint(id, receiptID, item, price, store string, observedAt time.Time) *PricePoint {
	return &PricePoint{
		ID:        id,
		ReceiptID: receiptID,
		Source:    PointSourceReceipt,
		PriceObservation: pricing.PriceObservation{
			ItemName:   item,
			Price:      decimal.RequireFromString(price),
			StoreName:  store,
			ObservedAt: observedAt,
			Confidence: 1.0,
		},
	}
}

var _ = Describe("AnalyzeReceipt", func() {
	var (
		db      *mockDB
		rewards *mockRewards
		timeSrc *mockTimeSource
		service *Service
		now     time.Time
		store   string
		result  *ReceiptAnalysis
		err     error
	)

	BeforeEach(func() {
		db = newMockDB()
		rewards = &mockRewards{cashback: decimal.RequireFromString("1.25")}
		now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		timeSrc = &mockTimeSource{now: now}
		service = NewServiceWithDeps(
			db,
			&mockExtractor{},
			newMockStorage(),
			parsing.NewParser(parsing.DefaultCatalog()),
			savings.NewAnalyzerWithTimeSource(30, timeSrc),
			rewards,
			&mockIDGenerator{id: "unused"},
			timeSrc,
		)

		store = "Moore Wilson's"
		total := decimal.RequireFromString("13.49")
		db.receipts["r1"] = &Receipt{
			ID: "r1",
			ParsedReceipt: parsing.ParsedReceipt{
				StoreName: &store,
				Items: []parsing.LineItem{
					{Name: "Organic Bananas", Price: decimal.RequireFromString("4.50"), Quantity: 1},
					{Name: "Free Range Eggs", Price: decimal.RequireFromString("8.99"), Quantity: 1},
				},
				Total: &total,
			},
		}
		db.points = []*PricePoint{
			storedPoint("own-1", "r1", "Organic Bananas", "4.50", "Moore Wilson's", now.AddDate(0, 0, -1)),
			storedPoint("p1", "r0", "organic  bananas", "3.80", "Countdown", now.AddDate(0, 0, -5)),
			storedPoint("p2", "", "Organic Bananas", "2.00", "Pak'nSave", now.AddDate(0, 0, -60)),
			storedPoint("p3", "r2", "Free Range Eggs", "9.50", "Pak'nSave", now.AddDate(0, 0, -2)),
		}
	})

	JustBeforeEach(func() {
		result, err = service.AnalyzeReceipt(context.Background(), "r1")
	})

	It("should not return an error", func() {
		Expect(err).NotTo(HaveOccurred())
	})

	It("should tie the analysis to the receipt", func() {
		Expect(result.ReceiptID).To(Equal("r1"))
		Expect(*result.StoreName).To(Equal("Moore Wilson's"))
		Expect(result.AnalyzedAt).To(Equal(now))
		Expect(result.RecencyDays).To(Equal(30))
	})

	It("should find the cheaper recent price only", func() {
		Expect(result.Analysis.Opportunities).To(HaveLen(1))
		opportunity := result.Analysis.Opportunities[0]
		Expect(opportunity.ItemName).To(Equal("Organic Bananas"))
		Expect(opportunity.BestPrice.StringFixed(2)).To(Equal("3.80"))
		Expect(opportunity.SavingsAmount.StringFixed(2)).To(Equal("0.70"))
		Expect(opportunity.StoreName).To(Equal("Countdown"))
	})

	It("should not compare items with the receipt's own prices", func() {
		Expect(result.Analysis.Opportunities[0].SupportingObservationCount).To(Equal(1))
	})

	It("should total the savings and recommend a store", func() {
		Expect(result.Analysis.TotalSavings.StringFixed(2)).To(Equal("0.70"))
		Expect(result.Analysis.RecommendedStore).NotTo(BeNil())
		Expect(*result.Analysis.RecommendedStore).To(Equal("Countdown"))
	})

	It("should report cashback for the receipt's store", func() {
		Expect(result.Analysis.CashbackAvailable.StringFixed(2)).To(Equal("1.25"))
		Expect(rewards.store).NotTo(BeNil())
		Expect(*rewards.store).To(Equal("Moore Wilson's"))
	})

	When("there is no price history", func() {
		BeforeEach(func() {
			db.points = nil
		})

		It("should return an empty analysis", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Analysis.Opportunities).To(BeEmpty())
			Expect(result.Analysis.TotalSavings.IsZero()).To(BeTrue())
			Expect(result.Analysis.RecommendedStore).To(BeNil())
		})
	})

	When("the receipt does not exist", func() {
		BeforeEach(func() {
			delete(db.receipts, "r1")
		})

		It("returns ErrReceiptNotFound", func() {
			Expect(err).To(MatchError(ErrReceiptNotFound))
			Expect(result).To(BeNil())
		})
	})

	When("loading price history fails", func() {
		BeforeEach(func() {
			db.listPointsErr = errors.New("bolt error")
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("bolt error")))
		})
	})

	When("computing cashback fails", func() {
		BeforeEach(func() {
			rewards.err = errors.New("offers unavailable")
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(rewards.err))
		})
	})
})
