package scanning

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
)

// Azure implements the Recognizer interface using Azure Computer Vision OCR
type Azure struct {
	client computervision.BaseClient
}

// NewAzure creates a new Azure Recognizer instance
func NewAzure(endpoint, apiKey string) (*Azure, error) {
	if endpoint == "" || apiKey == "" {
		return nil, fmt.Errorf("azure endpoint and api key are required")
	}

	client := computervision.New(endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(apiKey)

	return &Azure{client: client}, nil
}

// RecognizeText runs printed-text OCR and reassembles the receipt lines
func (a *Azure) RecognizeText(ctx context.Context, pngData []byte) (string, error) {
	result, err := a.client.RecognizePrintedTextInStream(
		ctx,
		true,
		io.NopCloser(bytes.NewReader(pngData)),
		computervision.OcrLanguages(computervision.En),
	)
	if err != nil {
		return "", fmt.Errorf("recognizing printed text: %w", err)
	}

	return strings.Join(assembleRows(ocrLines(result)), "\n"), nil
}

// Close is a no-op; the autorest client holds no resources
func (a *Azure) Close() error {
	return nil
}

// ocrLine is one recognized line and its bounding box in pixels
type ocrLine struct {
	text          string
	x, y          int
	width, height int
}

// ocrLines flattens the region/line/word tree of an OCR result
func ocrLines(result computervision.OcrResult) []ocrLine {
	if result.Regions == nil {
		return nil
	}

	var lines []ocrLine
	for _, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}

			var words []string
			for _, word := range *line.Words {
				if word.Text != nil {
					words = append(words, *word.Text)
				}
			}
			if len(words) == 0 {
				continue
			}

			l := ocrLine{text: strings.Join(words, " ")}
			if line.BoundingBox != nil {
				l.x, l.y, l.width, l.height = parseBoundingBox(*line.BoundingBox)
			}
			lines = append(lines, l)
		}
	}
	return lines
}

// parseBoundingBox reads Azure's "x,y,width,height" box format
func parseBoundingBox(box string) (x, y, width, height int) {
	parts := strings.Split(box, ",")
	vals := make([]int, 4)
	for i := 0; i < len(parts) && i < 4; i++ {
		vals[i], _ = strconv.Atoi(strings.TrimSpace(parts[i]))
	}
	return vals[0], vals[1], vals[2], vals[3]
}

// assembleRows rebuilds printed receipt rows. Azure reports the description
// and price columns as separate regions, so lines whose vertical centres lie
// within half a line height of each other are joined left to right.
func assembleRows(lines []ocrLine) []string {
	sorted := make([]ocrLine, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool {
		return centre(sorted[i]) < centre(sorted[j])
	})

	var rows [][]ocrLine
	for _, line := range sorted {
		if n := len(rows); n > 0 && sameRow(rows[n-1][0], line) {
			rows[n-1] = append(rows[n-1], line)
			continue
		}
		rows = append(rows, []ocrLine{line})
	}

	out := make([]string, 0, len(rows))
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].x < row[j].x })
		texts := make([]string, len(row))
		for i, l := range row {
			texts[i] = l.text
		}
		out = append(out, strings.Join(texts, " "))
	}
	return out
}

func centre(l ocrLine) int {
	return l.y + l.height/2
}

func sameRow(a, b ocrLine) bool {
	tolerance := a.height / 2
	if b.height/2 > tolerance {
		tolerance = b.height / 2
	}
	diff := centre(a) - centre(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
