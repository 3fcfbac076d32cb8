package pricing

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("History", func() {
	It("should return eligible observations oldest first", func() {
		now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		observations := []PriceObservation{
			observation("Eggs", "8.99", "Countdown", now.AddDate(0, 0, -1), 1),
			observation("Eggs", "9.49", "New World", now.AddDate(0, 0, -40), 1),
			observation("Eggs", "8.49", "Pak'nSave", now.AddDate(0, 0, -7), 1),
		}

		history := History("eggs", observations, 30, now)

		Expect(history).To(HaveLen(2))
		Expect(history[0].StoreName).To(Equal("Pak'nSave"))
		Expect(history[1].StoreName).To(Equal("Countdown"))
	})
})

var _ = Describe("CompareStores", func() {
	var (
		now         time.Time
		comparisons []StoreComparison
	)

	BeforeEach(func() {
		now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		observations := []PriceObservation{
			observation("Bread", "3.00", "New World", now.AddDate(0, 0, -1), 1),
			observation("Bread", "4.00", "New World", now.AddDate(0, 0, -2), 1),
			observation("Bread", "3.20", "Countdown", now.AddDate(0, 0, -3), 1),
			observation("Bread", "1.00", "Four Square", now.AddDate(0, 0, -90), 1),
		}
		comparisons = CompareStores("Bread", observations, 30, now)
	})

	It("should group by store and drop stale stores", func() {
		Expect(comparisons).To(HaveLen(2))
	})

	It("should order by average price", func() {
		Expect(comparisons[0].StoreName).To(Equal("Countdown"))
		Expect(comparisons[1].StoreName).To(Equal("New World"))
	})

	It("should summarize each store", func() {
		nw := comparisons[1]
		Expect(nw.ObservationCount).To(Equal(2))
		Expect(nw.BestPrice.StringFixed(2)).To(Equal("3.00"))
		Expect(nw.HighestPrice.StringFixed(2)).To(Equal("4.00"))
		Expect(nw.AveragePrice.StringFixed(2)).To(Equal("3.50"))
		Expect(nw.LastObservedAt).To(Equal(now.AddDate(0, 0, -1)))
	})
})
