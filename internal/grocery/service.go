package grocery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zombor/grocery-tracker/internal/observability/metrics"
	"github.com/zombor/grocery-tracker/internal/observability/tracing"
	"github.com/zombor/grocery-tracker/internal/parsing"
	"github.com/zombor/grocery-tracker/internal/pricing"
	"github.com/zombor/grocery-tracker/internal/savings"
	"github.com/zombor/grocery-tracker/internal/scanning"
)

var (
	// ErrReceiptNotFound is returned when no receipt has the requested ID
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrEmptyReceipt is returned when a receipt has no text to parse
	ErrEmptyReceipt = errors.New("receipt text is empty")
	// ErrNoFile is returned when a receipt was submitted as text and has no document
	ErrNoFile = errors.New("receipt has no stored file")
)

// IDGenerator generates unique IDs for receipts, price points and offers
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt, price history and cashback operations
type Service struct {
	db          DB
	extractor   scanning.TextExtractor
	storage     Storage
	parser      *parsing.Parser
	analyzer    *savings.Analyzer
	rewards     Rewards
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator, time source and offer-backed rewards
func NewService(db DB, extractor scanning.TextExtractor, storage Storage, parser *parsing.Parser, recencyDays int) *Service {
	timeSrc := &defaultTimeSource{}
	return NewServiceWithDeps(
		db,
		extractor,
		storage,
		parser,
		savings.NewAnalyzerWithTimeSource(recencyDays, timeSrc),
		NewOfferRewards(db),
		&defaultIDGenerator{},
		timeSrc,
	)
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor scanning.TextExtractor, storage Storage, parser *parsing.Parser, analyzer *savings.Analyzer, rewards Rewards, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		parser:      parser,
		analyzer:    analyzer,
		rewards:     rewards,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters from phone-generated filenames and bounds their length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	const maxLen = 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// ProcessReceipt stores an uploaded receipt document, extracts and parses its
// text, and records its prices
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType, storeHint string) (receipt *Receipt, err error) {
	ctx, span := tracing.StartSpan(ctx, "grocery.ProcessReceipt")
	defer span.End()
	span.SetAttributes(attribute.String("content_type", contentType), attribute.Int("size", len(data)))

	start := time.Now()
	defer func() {
		items := 0
		if receipt != nil {
			items = len(receipt.Items)
		}
		metrics.ObserveReceiptProcessed(SourceUpload, metrics.Result(err), time.Since(start), items)
	}()

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	extractStart := time.Now()
	text, err := s.extractor.ExtractText(ctx, data, contentType)
	metrics.ObserveTextExtract(contentType, metrics.Result(err), time.Since(extractStart))
	if err != nil {
		slog.Error("Failed to extract receipt text",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.removeFile(savedPath)
		return nil, fmt.Errorf("extracting receipt text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		s.removeFile(savedPath)
		return nil, ErrEmptyReceipt
	}

	receipt = s.buildReceipt(id, text, storeHint, SourceUpload, now)
	receipt.Filename = savedPath
	receipt.ContentType = contentType

	if err := s.db.SaveReceipt(receipt); err != nil {
		s.removeFile(savedPath)
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	s.recordReceiptPrices(receipt)

	return receipt, nil
}

// CreateReceiptFromText parses receipt text that was transcribed elsewhere
func (s *Service) CreateReceiptFromText(ctx context.Context, text, storeHint string) (receipt *Receipt, err error) {
	_, span := tracing.StartSpan(ctx, "grocery.CreateReceiptFromText")
	defer span.End()

	start := time.Now()
	defer func() {
		items := 0
		if receipt != nil {
			items = len(receipt.Items)
		}
		metrics.ObserveReceiptProcessed(SourceText, metrics.Result(err), time.Since(start), items)
	}()

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyReceipt
	}

	receipt = s.buildReceipt(s.idGenerator.Generate(), text, storeHint, SourceText, s.timeSource.Now())
	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	s.recordReceiptPrices(receipt)

	return receipt, nil
}

func (s *Service) buildReceipt(id, text, storeHint, source string, now time.Time) *Receipt {
	parsed := s.parser.ParseWithHint(text, storeHint)
	validation := parsing.Validate(parsed)
	for _, code := range validation.Codes {
		metrics.IncReceiptWarning(string(code))
	}

	return &Receipt{
		ID:            id,
		ParsedReceipt: parsed,
		RawText:       text,
		Warnings:      validation.Warnings,
		WarningCodes:  validation.Codes,
		Source:        source,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// recordReceiptPrices turns each item on a receipt from a known store into a price point
func (s *Service) recordReceiptPrices(receipt *Receipt) {
	if receipt.StoreName == nil {
		slog.Debug("Skipping price history for receipt without a store", "receipt_id", receipt.ID)
		return
	}

	observedAt := receipt.CreatedAt
	if receipt.PurchasedAt != nil {
		observedAt = *receipt.PurchasedAt
	}

	points := make([]*PricePoint, 0, len(receipt.Items))
	for _, item := range receipt.Items {
		if item.Price.IsNegative() {
			continue
		}
		points = append(points, &PricePoint{
			ID:        s.idGenerator.Generate(),
			ReceiptID: receipt.ID,
			Source:    PointSourceReceipt,
			PriceObservation: pricing.PriceObservation{
				ItemName:   item.Name,
				Price:      item.Price,
				StoreName:  *receipt.StoreName,
				ObservedAt: observedAt,
				Confidence: 1.0,
			},
			CreatedAt: receipt.CreatedAt,
		})
	}

	if err := s.db.SavePricePoints(points); err != nil {
		slog.Warn("Failed to record price points", "receipt_id", receipt.ID, "error", err)
		return
	}
	metrics.AddObservations(PointSourceReceipt, len(points))
}

func (s *Service) removeFile(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts, newest first
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		if !receipts[i].CreatedAt.Equal(receipts[j].CreatedAt) {
			return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
		}
		return receipts[i].ID < receipts[j].ID
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt, its file and the prices recorded from it
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if receipt.Filename != "" {
		// Log error but continue with database deletion
		s.removeFile(receipt.Filename)
	}

	if _, err := s.db.DeletePricePointsForReceipt(id); err != nil {
		return fmt.Errorf("deleting price points: %w", err)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the original document for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.Filename == "" {
		return nil, "", ErrNoFile
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}
