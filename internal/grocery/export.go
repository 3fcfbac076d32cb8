package grocery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/grocery-tracker/internal/observability/metrics"
	"github.com/zombor/grocery-tracker/internal/observability/tracing"
	"github.com/zombor/grocery-tracker/internal/pricing"
	"github.com/zombor/grocery-tracker/internal/savings"
)

// Export formats
const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

// ErrUnsupportedFormat is returned for export formats other than xlsx and pdf
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Export is a rendered analysis document
type Export struct {
	Data        []byte
	ContentType string
	Filename    string
}

// ExportAnalysis analyzes a receipt and renders the result as a spreadsheet or PDF
func (s *Service) ExportAnalysis(ctx context.Context, id, format string) (export *Export, err error) {
	ctx, span := tracing.StartSpan(ctx, "grocery.ExportAnalysis")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.ObserveExport(format, metrics.Result(err), time.Since(start))
	}()

	var (
		contentType string
		build       func(*Receipt, *ReceiptAnalysis) ([]byte, error)
	)
	switch format {
	case FormatXLSX:
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		build = BuildAnalysisXLSX
	case FormatPDF:
		contentType = "application/pdf"
		build = BuildAnalysisPDF
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	analysis, err := s.AnalyzeReceipt(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := build(receipt, analysis)
	if err != nil {
		return nil, fmt.Errorf("building %s export: %w", format, err)
	}

	return &Export{
		Data:        data,
		ContentType: contentType,
		Filename:    fmt.Sprintf("savings-%s.%s", id, format),
	}, nil
}

func storeLabel(name *string) string {
	if name == nil {
		return "Unknown store"
	}
	return *name
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// opportunityIndex maps normalized item names to their savings opportunity
func opportunityIndex(analysis savings.BasketAnalysis) map[string]savings.SavingsOpportunity {
	index := make(map[string]savings.SavingsOpportunity, len(analysis.Opportunities))
	for _, o := range analysis.Opportunities {
		index[pricing.NormalizeItemName(o.ItemName)] = o
	}
	return index
}

// BuildAnalysisPDF renders a one-page savings report for a receipt
func BuildAnalysisPDF(receipt *Receipt, result *ReceiptAnalysis) ([]byte, error) {
	analysis := result.Analysis

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Grocery Savings Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Store: %s", storeLabel(receipt.StoreName))))
	pdf.Ln(5)
	if receipt.PurchasedAt != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Purchased: %s", receipt.PurchasedAt.Format("2006-01-02")))
		pdf.Ln(5)
	}
	if receipt.Total != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Receipt total: %s", money(*receipt.Total)))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Items total: %s", money(receipt.ItemsTotal())))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Analyzed: %s (last %d days of prices)", result.AnalyzedAt.Format(time.RFC3339), result.RecencyDays))
	pdf.Ln(8)

	pdf.Cell(0, 6, fmt.Sprintf("Potential savings: %s", money(analysis.TotalSavings)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Cashback available: %s", money(analysis.CashbackAvailable)))
	pdf.Ln(5)
	if analysis.RecommendedStore != nil {
		pdf.Cell(0, 6, tr(fmt.Sprintf("Recommended store: %s", *analysis.RecommendedStore)))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	if len(analysis.Opportunities) == 0 {
		pdf.Cell(0, 6, "No cheaper prices found for this basket.")
		pdf.Ln(5)
	} else {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(70, 6, "Item", "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, "Paid", "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, "Best", "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, "Saving", "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, "Store", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, o := range analysis.Opportunities {
			pdf.CellFormat(70, 6, tr(o.ItemName), "1", 0, "L", false, 0, "")
			pdf.CellFormat(25, 6, money(o.CurrentPrice), "1", 0, "R", false, 0, "")
			pdf.CellFormat(25, 6, money(o.BestPrice), "1", 0, "R", false, 0, "")
			pdf.CellFormat(25, 6, money(o.SavingsAmount), "1", 0, "R", false, 0, "")
			pdf.CellFormat(45, 6, tr(o.StoreName), "1", 0, "L", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAnalysisXLSX renders the receipt, its items and the savings found as a workbook
func BuildAnalysisXLSX(receipt *Receipt, result *ReceiptAnalysis) ([]byte, error) {
	analysis := result.Analysis

	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	itemsSheet := "items"
	savingsSheet := "savings"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(savingsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Grocery Savings Report")
	_ = f.SetCellValue(summarySheet, "A3", "Receipt")
	_ = f.SetCellValue(summarySheet, "B3", receipt.ID)
	_ = f.SetCellValue(summarySheet, "A4", "Store")
	_ = f.SetCellValue(summarySheet, "B4", storeLabel(receipt.StoreName))
	_ = f.SetCellValue(summarySheet, "A5", "Receipt total")
	if receipt.Total != nil {
		_ = f.SetCellValue(summarySheet, "B5", receipt.Total.InexactFloat64())
	}
	_ = f.SetCellValue(summarySheet, "A6", "Items total")
	_ = f.SetCellValue(summarySheet, "B6", receipt.ItemsTotal().InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A7", "Potential savings")
	_ = f.SetCellValue(summarySheet, "B7", analysis.TotalSavings.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A8", "Cashback available")
	_ = f.SetCellValue(summarySheet, "B8", analysis.CashbackAvailable.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A9", "Recommended store")
	if analysis.RecommendedStore != nil {
		_ = f.SetCellValue(summarySheet, "B9", *analysis.RecommendedStore)
	}
	_ = f.SetCellValue(summarySheet, "A10", "Price window (days)")
	_ = f.SetCellValue(summarySheet, "B10", result.RecencyDays)
	_ = f.SetCellValue(summarySheet, "A11", "Analyzed")
	_ = f.SetCellValue(summarySheet, "B11", result.AnalyzedAt.Format(time.RFC3339))

	byItem := opportunityIndex(analysis)
	_ = f.SetCellValue(itemsSheet, "A1", "Item")
	_ = f.SetCellValue(itemsSheet, "B1", "Quantity")
	_ = f.SetCellValue(itemsSheet, "C1", "Price")
	_ = f.SetCellValue(itemsSheet, "D1", "Best known price")
	_ = f.SetCellValue(itemsSheet, "E1", "Best store")
	for i, item := range receipt.Items {
		row := i + 2
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("A%d", row), item.Name)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("B%d", row), item.Quantity)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("C%d", row), item.Price.InexactFloat64())
		if o, ok := byItem[pricing.NormalizeItemName(item.Name)]; ok {
			_ = f.SetCellValue(itemsSheet, fmt.Sprintf("D%d", row), o.BestPrice.InexactFloat64())
			_ = f.SetCellValue(itemsSheet, fmt.Sprintf("E%d", row), o.StoreName)
		}
	}

	_ = f.SetCellValue(savingsSheet, "A1", "Item")
	_ = f.SetCellValue(savingsSheet, "B1", "Paid")
	_ = f.SetCellValue(savingsSheet, "C1", "Best price")
	_ = f.SetCellValue(savingsSheet, "D1", "Saving")
	_ = f.SetCellValue(savingsSheet, "E1", "Store")
	_ = f.SetCellValue(savingsSheet, "F1", "Confidence")
	_ = f.SetCellValue(savingsSheet, "G1", "Observations")
	for i, o := range analysis.Opportunities {
		row := i + 2
		_ = f.SetCellValue(savingsSheet, fmt.Sprintf("A%d", row), o.ItemName)
		_ = f.SetCellValue(savingsSheet, fmt.Sprintf("B%d", row), o.CurrentPrice.InexactFloat64())
		_ = f.SetCellValue(savingsSheet, fmt.Sprintf("C%d", row), o.BestPrice.InexactFloat64())
		_ = f.SetCellValue(savingsSheet, fmt.Sprintf("D%d", row), o.SavingsAmount.InexactFloat64())
		_ = f.SetCellValue(savingsSheet, fmt.Sprintf("E%d", row), o.StoreName)
		_ = f.SetCellValue(savingsSheet, fmt.Sprintf("F%d", row), o.Confidence)
		_ = f.SetCellValue(savingsSheet, fmt.Sprintf("G%d", row), o.SupportingObservationCount)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
