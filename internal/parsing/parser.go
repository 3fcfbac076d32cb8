package parsing

import (
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is a purchased item as printed on the receipt
type LineItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// ParsedReceipt is the structured form of a receipt's text
type ParsedReceipt struct {
	StoreName     *string          `json:"store_name"`
	Items         []LineItem       `json:"items"`
	Total         *decimal.Decimal `json:"total"`
	Subtotal      *decimal.Decimal `json:"subtotal,omitempty"`
	ReceiptNumber string           `json:"receipt_number,omitempty"`
	PurchasedAt   *time.Time       `json:"purchased_at,omitempty"`
}

// ItemsTotal sums the printed item prices
func (r ParsedReceipt) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range r.Items {
		sum = sum.Add(item.Price)
	}
	return sum
}

// Parser turns receipt text into a ParsedReceipt
type Parser struct {
	catalog StoreCatalog
}

// NewParser creates a parser that identifies stores from the given catalog
func NewParser(catalog StoreCatalog) *Parser {
	return &Parser{catalog: catalog}
}

// Catalog returns the parser's store catalog
func (p *Parser) Catalog() StoreCatalog {
	return p.catalog
}

// Parse extracts the store, line items and total from receipt text.
// It never fails: missing pieces are left nil or empty.
func (p *Parser) Parse(text string) ParsedReceipt {
	return p.ParseWithHint(text, "")
}

// ParseWithHint parses text, preferring storeHint over the store named in the text
// when the hint resolves to a known store.
func (p *Parser) ParseWithHint(text, storeHint string) ParsedReceipt {
	receipt := ParsedReceipt{Items: []LineItem{}}

	receipt.StoreName = p.catalog.Resolve(storeHint)
	if receipt.StoreName == nil {
		receipt.StoreName = p.catalog.Identify(text)
	}

	for _, line := range p.Classify(text) {
		switch line.Kind {
		case TotalLine:
			amount, _ := firstAmount(line.Text)
			receipt.Total = &amount
			if containsFold(line.Text, "subtotal") {
				subtotal := amount
				receipt.Subtotal = &subtotal
			}
		case ItemLine:
			if item, ok := parseItemLine(line.Text); ok {
				receipt.Items = append(receipt.Items, item)
			}
		}

		if receipt.ReceiptNumber == "" {
			receipt.ReceiptNumber = extractReceiptNumber(line.Text)
		}
		if receipt.PurchasedAt == nil {
			receipt.PurchasedAt = extractDate(line.Text)
		}
	}

	return receipt
}

var (
	receiptNumberPattern = regexp.MustCompile(`(?i)\b(?:receipt|txn|invoice|trans)\s*(?:no\.?|number)?\s*[#:]?\s*(\d+)`)
	dayFirstDatePattern  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4}|\d{2})\b`)
	isoDatePattern       = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
)

func extractReceiptNumber(line string) string {
	m := receiptNumberPattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return m[1]
}

// extractDate finds a DD/MM/YYYY, DD/MM/YY or YYYY-MM-DD date on the line
func extractDate(line string) *time.Time {
	if m := isoDatePattern.FindStringSubmatch(line); m != nil {
		if t, ok := makeDate(m[1], m[2], m[3]); ok {
			return &t
		}
	}
	if m := dayFirstDatePattern.FindStringSubmatch(line); m != nil {
		year := m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		if t, ok := makeDate(year, m[2], m[1]); ok {
			return &t
		}
	}
	return nil
}

func makeDate(year, month, day string) (time.Time, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return time.Time{}, false
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return time.Time{}, false
	}

	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow, so 31/02 comes back as March
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}
