package grocery

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/grocery-tracker/internal/parsing"
	"github.com/zombor/grocery-tracker/internal/pricing"
	"github.com/zombor/grocery-tracker/internal/savings"
)

// Receipt sources
const (
	SourceUpload = "upload" // file upload, text extracted server-side
	SourceText   = "text"   // text submitted by a client that ran OCR itself
)

// Price point sources
const (
	PointSourceReceipt = "receipt"
	PointSourceManual  = "manual"
)

// Receipt is a parsed receipt and the document it came from
type Receipt struct {
	ID string `json:"id"`
	parsing.ParsedReceipt
	RawText      string                `json:"raw_text"`
	Warnings     []string              `json:"warnings"`
	WarningCodes []parsing.WarningCode `json:"warning_codes"`
	Source       string                `json:"source"`
	Filename     string                `json:"filename,omitempty"`
	ContentType  string                `json:"content_type,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// PricePoint is a stored price observation and where it came from
type PricePoint struct {
	ID        string `json:"id"`
	ReceiptID string `json:"receipt_id,omitempty"`
	Source    string `json:"source"`
	pricing.PriceObservation
	CreatedAt time.Time `json:"created_at"`
}

// CashbackOffer is a store reward. An empty ItemName applies to every item at the store.
// An offer carries a fixed DiscountAmount, a DiscountPercentage of the item price, or both.
type CashbackOffer struct {
	ID                 string           `json:"id"`
	StoreName          string           `json:"store_name"`
	ItemName           string           `json:"item_name,omitempty"`
	DiscountAmount     *decimal.Decimal `json:"discount_amount,omitempty"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage,omitempty"`
	ValidFrom          *time.Time       `json:"valid_from,omitempty"`
	ValidUntil         *time.Time       `json:"valid_until,omitempty"`
	Active             bool             `json:"active"`
	CreatedAt          time.Time        `json:"created_at"`
}

// ReceiptAnalysis is a basket analysis tied to the receipt it was computed for
type ReceiptAnalysis struct {
	ReceiptID   string                 `json:"receipt_id"`
	StoreName   *string                `json:"store_name"`
	AnalyzedAt  time.Time              `json:"analyzed_at"`
	RecencyDays int                    `json:"recency_days"`
	Analysis    savings.BasketAnalysis `json:"analysis"`
}
