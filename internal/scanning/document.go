package scanning

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	"github.com/ledongthuc/pdf"
)

// Extractor routes each upload to the cheapest way of getting its text:
// text and e-receipts are read directly, PDFs use their text layer when they
// have one, and everything else goes through OCR.
type Extractor struct {
	recognizer Recognizer
	enhance    bool
}

// NewExtractor creates an Extractor. recognizer may be nil, in which case
// images and scanned PDFs are rejected with ErrNoRecognizer.
func NewExtractor(recognizer Recognizer, enhance bool) *Extractor {
	return &Extractor{
		recognizer: recognizer,
		enhance:    enhance,
	}
}

// ExtractText returns the receipt text contained in data
func (e *Extractor) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty document", ErrUnsupportedContent)
	}

	mimeType := mediaType(data, contentType)
	slog.Debug("Extracting receipt text", "content_type", mimeType, "size", len(data))

	switch {
	case mimeType == "text/plain":
		return normalizeLines(string(data)), nil
	case mimeType == "text/html":
		return htmlText(data)
	case mimeType == "message/rfc822":
		return emailText(data)
	case mimeType == "application/pdf":
		text, err := pdfText(data)
		if err != nil {
			slog.Warn("Failed to read PDF text layer, falling back to OCR", "error", err)
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
		pages, err := renderPDFPages(data)
		if err != nil {
			return "", err
		}
		return e.recognizePages(ctx, pages)
	case strings.HasPrefix(mimeType, "image/"):
		img, err := decodeImage(data, mimeType)
		if err != nil {
			return "", err
		}
		return e.recognizePages(ctx, []image.Image{img})
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedContent, mimeType)
	}
}

// Close closes the underlying OCR provider
func (e *Extractor) Close() error {
	if e.recognizer == nil {
		return nil
	}
	return e.recognizer.Close()
}

func (e *Extractor) recognizePages(ctx context.Context, pages []image.Image) (string, error) {
	if e.recognizer == nil {
		return "", ErrNoRecognizer
	}

	var texts []string
	for i, page := range pages {
		if e.enhance {
			page = enhanceForOCR(page)
		}
		pngData, err := encodePNG(page)
		if err != nil {
			return "", err
		}

		text, err := e.recognizer.RecognizeText(ctx, pngData)
		if err != nil {
			return "", fmt.Errorf("recognizing page %d: %w", i+1, err)
		}
		if text = normalizeLines(text); text != "" {
			texts = append(texts, text)
		}
	}

	return strings.Join(texts, "\n"), nil
}

// mediaType normalizes the declared content type, sniffing the data when the
// declaration is missing or generic
func mediaType(data []byte, contentType string) string {
	mimeType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mimeType == "" || mimeType == "application/octet-stream" {
		mimeType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	mimeType = strings.ToLower(mimeType)

	// HEIC photos sniff as octet-stream
	if mimeType == "application/octet-stream" && isHEICFormat(data) {
		return "image/heic"
	}
	return mimeType
}

// htmlText flattens an HTML e-receipt into lines, one per table row or block element
func htmlText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}

	doc.Find("head,script,style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := []string{}
		row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			if text := strings.Join(strings.Fields(cell.Text()), " "); text != "" {
				cells = append(cells, text)
			}
		})
		row.SetText(strings.Join(cells, " ") + "\n")
	})
	doc.Find("p,div,li,h1,h2,h3,h4,h5,h6,pre").Each(func(_ int, block *goquery.Selection) {
		block.AppendHtml("\n")
	})

	return normalizeLines(doc.Text()), nil
}

// emailText reads a forwarded e-receipt. The HTML body keeps table rows on
// one line, so it wins over the plain text rendering when both exist.
func emailText(data []byte) (string, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("reading email: %w", err)
	}

	if strings.TrimSpace(env.HTML) != "" {
		return htmlText([]byte(env.HTML))
	}
	return normalizeLines(env.Text), nil
}

// pdfText reads the text layer of a digital PDF, page by page
func pdfText(data []byte) (text string, err error) {
	// ledongthuc/pdf panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("reading PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if pageText = normalizeLines(pageText); pageText != "" {
			pages = append(pages, pageText)
		}
	}

	return strings.Join(pages, "\n"), nil
}
