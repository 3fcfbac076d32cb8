package parsing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// totalTolerance is how far the item sum may drift from the printed total
var totalTolerance = decimal.RequireFromString("0.01")

// WarningCode identifies a kind of validation warning independently of its message
type WarningCode string

const (
	WarningNoItems       WarningCode = "no_items"
	WarningUnknownStore  WarningCode = "unknown_store"
	WarningMissingTotal  WarningCode = "missing_total"
	WarningTotalMismatch WarningCode = "total_mismatch"
)

// Validation reports problems found in a parsed receipt. Codes[i] is the
// code for Warnings[i].
type Validation struct {
	Valid    bool          `json:"valid"`
	Warnings []string      `json:"warnings"`
	Codes    []WarningCode `json:"codes"`
}

func (v *Validation) warn(code WarningCode, message string) {
	v.Warnings = append(v.Warnings, message)
	v.Codes = append(v.Codes, code)
}

// Validate checks a parsed receipt for missing pieces and totals that don't add up.
// A receipt without items is invalid; everything else is a warning.
func Validate(receipt ParsedReceipt) Validation {
	v := Validation{Valid: true, Warnings: []string{}, Codes: []WarningCode{}}

	if len(receipt.Items) == 0 {
		v.Valid = false
		v.warn(WarningNoItems, "no line items found")
	}
	if receipt.StoreName == nil {
		v.warn(WarningUnknownStore, "store not recognized")
	}
	if receipt.Total == nil {
		v.warn(WarningMissingTotal, "no total found")
		return v
	}

	if len(receipt.Items) > 0 {
		itemsTotal := receipt.ItemsTotal()
		if itemsTotal.Sub(*receipt.Total).Abs().GreaterThan(totalTolerance) {
			v.warn(WarningTotalMismatch, fmt.Sprintf("items sum to %s but total is %s",
				itemsTotal.StringFixed(2), receipt.Total.StringFixed(2)))
		}
	}

	return v
}
