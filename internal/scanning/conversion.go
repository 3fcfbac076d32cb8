package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// maxOCRDimension bounds the longest side of images sent to OCR providers
const maxOCRDimension = 2400

// renderPDFPages rasterizes every page of a scanned PDF
func renderPDFPages(pdfData []byte) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	pages := make([]image.Image, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		pages = append(pages, img)
	}

	return pages, nil
}

// decodeImage decodes JPEG, PNG, GIF and HEIC/HEIF photos
func decodeImage(imageData []byte, mimeType string) (image.Image, error) {
	// Go's standard image package doesn't support HEIC, which iPhones default to
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
			return nil, fmt.Errorf("%w: supported images are JPEG, PNG, GIF, HEIC and HEIF: %v", ErrUnsupportedContent, err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// enhanceForOCR makes receipt photos easier to read: grayscale, more contrast,
// sharper edges, and no larger than maxOCRDimension on either side.
func enhanceForOCR(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() > maxOCRDimension || bounds.Dy() > maxOCRDimension {
		img = imaging.Fit(img, maxOCRDimension, maxOCRDimension, imaging.Lanczos)
	}

	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, 30)
	out = imaging.Sharpen(out, 1.5)
	return out
}

// encodePNG encodes an image as PNG, the only format handed to OCR providers
func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// isHEICMimeType matches the declared HEIC/HEIF content types
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
