package scanning

import (
	"context"
	"errors"
)

// ErrNoRecognizer is returned when an image needs OCR but no provider is configured
var ErrNoRecognizer = errors.New("no OCR provider configured")

// ErrUnsupportedContent is returned for uploads that cannot contain receipt text
var ErrUnsupportedContent = errors.New("unsupported content type")

// TextExtractor turns an uploaded receipt document into raw receipt text
type TextExtractor interface {
	// ExtractText reads the receipt text out of a photo, PDF, e-mail, HTML page or plain text
	ExtractText(ctx context.Context, data []byte, contentType string) (string, error)
	// Close releases provider resources
	Close() error
}

// Recognizer reads the printed text in a PNG image, one receipt line per output line
type Recognizer interface {
	RecognizeText(ctx context.Context, pngData []byte) (string, error)
	Close() error
}
