package parsing

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// LineKind is the role a receipt line plays
type LineKind int

const (
	Noise LineKind = iota
	StoreHeader
	TotalLine
	ItemLine
)

func (k LineKind) String() string {
	switch k {
	case StoreHeader:
		return "store_header"
	case TotalLine:
		return "total"
	case ItemLine:
		return "item"
	default:
		return "noise"
	}
}

// MarshalText lets line kinds render by name in JSON
func (k LineKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Line is a single non-empty, trimmed receipt line and its classification
type Line struct {
	Kind LineKind `json:"kind"`
	Text string   `json:"text"`
}

var (
	amountPattern         = regexp.MustCompile(`\$(\d+\.\d{2})`)
	trailingAmountPattern = regexp.MustCompile(`\$(\d+\.\d{2})$`)
)

// minItemNameLength is the shortest item name (in characters) kept after trimming
const minItemNameLength = 3

// SplitLines breaks receipt text into trimmed, non-empty lines
func SplitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Classify splits text into lines and tags each one. Checks run in the
// order total, item, store header; anything else is noise.
func (p *Parser) Classify(text string) []Line {
	lines := SplitLines(text)
	classified := make([]Line, 0, len(lines))
	for _, line := range lines {
		classified = append(classified, Line{Kind: p.classifyLine(line), Text: line})
	}
	return classified
}

func (p *Parser) classifyLine(line string) LineKind {
	if isTotalLine(line) {
		return TotalLine
	}
	if _, ok := parseItemLine(line); ok {
		return ItemLine
	}
	if p.catalog.matches(line) {
		return StoreHeader
	}
	return Noise
}

func isTotalLine(line string) bool {
	if !containsFold(line, "total") {
		return false
	}
	_, ok := firstAmount(line)
	return ok
}

// parseItemLine extracts a line item from text ending in a currency amount
func parseItemLine(line string) (LineItem, bool) {
	if containsFold(line, "total") || containsFold(line, "receipt") {
		return LineItem{}, false
	}

	loc := trailingAmountPattern.FindStringSubmatchIndex(line)
	if loc == nil {
		return LineItem{}, false
	}

	name := strings.TrimSpace(line[:loc[0]])
	if len([]rune(name)) < minItemNameLength {
		return LineItem{}, false
	}

	price, err := decimal.NewFromString(line[loc[2]:loc[3]])
	if err != nil {
		return LineItem{}, false
	}

	return LineItem{Name: name, Price: price, Quantity: 1}, true
}

// firstAmount returns the first well-formed currency amount on the line.
// An amount followed directly by another digit is not well-formed.
func firstAmount(line string) (decimal.Decimal, bool) {
	for _, m := range amountPattern.FindAllStringSubmatchIndex(line, -1) {
		if m[1] < len(line) && isDigit(line[m[1]]) {
			continue
		}
		amount, err := decimal.NewFromString(line[m[2]:m[3]])
		if err != nil {
			continue
		}
		return amount, true
	}
	return decimal.Decimal{}, false
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
